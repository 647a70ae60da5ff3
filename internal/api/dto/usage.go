package dto

import (
	"time"

	"github.com/agentmesh/billing/internal/domain/usage"
	ierr "github.com/agentmesh/billing/internal/errors"
	"github.com/agentmesh/billing/internal/validator"
	"github.com/shopspring/decimal"
)

// MaxTrendDays bounds the daily usage trend window
const MaxTrendDays = 366

// RecordUsageRequest is one completed agent execution to be metered
type RecordUsageRequest struct {
	AgentID       string          `json:"agent_id" validate:"required"`
	ExecutionID   string          `json:"execution_id" validate:"required"`
	TokensUsed    int64           `json:"tokens_used" validate:"min=0"`
	Cost          decimal.Decimal `json:"cost"`
	ChargedAmount decimal.Decimal `json:"charged_amount"`
	LatencyMs     int64           `json:"latency_ms" validate:"min=0"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

func (r *RecordUsageRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if r.Cost.IsNegative() || r.ChargedAmount.IsNegative() {
		return ierr.NewError("cost and charged_amount cannot be negative").
			WithHint("Usage amounts must be zero or positive").
			WithReportableDetails(map[string]any{
				"cost":           r.Cost.String(),
				"charged_amount": r.ChargedAmount.String(),
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// UsageEventResponse is the stored event. Duplicate is set when the
// execution had already been recorded and nothing was written.
type UsageEventResponse struct {
	*usage.UsageEvent
	Duplicate bool `json:"duplicate"`
}

// UsageSummaryRequest selects the [start, end) window of a summary
type UsageSummaryRequest struct {
	Start time.Time `form:"start" time_format:"2006-01-02T15:04:05Z07:00" validate:"required"`
	End   time.Time `form:"end" time_format:"2006-01-02T15:04:05Z07:00" validate:"required"`
}

func (r *UsageSummaryRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if !r.End.After(r.Start) {
		return ierr.NewError("end must be after start").
			WithHint("Usage summary window is empty").
			Mark(ierr.ErrValidation)
	}
	return nil
}

type UsageSummaryResponse struct {
	TenantID    string    `json:"tenant_id"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	*usage.Summary
}

type UsageTrendResponse struct {
	TenantID string              `json:"tenant_id"`
	Days     int                 `json:"days"`
	Items    []*usage.DailyUsage `json:"items"`
}
