package usage

import (
	"time"

	ierr "github.com/agentmesh/billing/internal/errors"
	"github.com/agentmesh/billing/internal/types"
	"github.com/shopspring/decimal"
)

// UsageEvent is one billable agent execution. Rows are immutable once written.
type UsageEvent struct {
	ID                string          `db:"id" json:"id"`
	AgentID           string          `db:"agent_id" json:"agent_id"`
	ExecutionID       string          `db:"execution_id" json:"execution_id"`
	TokensUsed        int64           `db:"tokens_used" json:"tokens_used"`
	Cost              decimal.Decimal `db:"cost" json:"cost"`
	ChargedAmount     decimal.Decimal `db:"charged_amount" json:"charged_amount"`
	LatencyMs         int64           `db:"latency_ms" json:"latency_ms"`
	OccurredAt        time.Time       `db:"occurred_at" json:"occurred_at"`
	BillingCycleMonth time.Time       `db:"billing_cycle_month" json:"billing_cycle_month"`
	types.BaseModel
}

// Validate checks the event before it is written
func (e *UsageEvent) Validate() error {
	if e.ExecutionID == "" {
		return ierr.NewError("execution_id is required").
			WithHint("Every usage event must carry its execution id").
			Mark(ierr.ErrValidation)
	}
	if e.AgentID == "" {
		return ierr.NewError("agent_id is required").
			WithHint("Every usage event must be attributed to an agent").
			Mark(ierr.ErrValidation)
	}
	if e.TokensUsed < 0 || e.LatencyMs < 0 {
		return ierr.NewError("negative usage").
			WithHint("Tokens and latency cannot be negative").
			WithReportableDetails(map[string]any{
				"tokens_used": e.TokensUsed,
				"latency_ms":  e.LatencyMs,
			}).
			Mark(ierr.ErrValidation)
	}
	if e.Cost.IsNegative() || e.ChargedAmount.IsNegative() {
		return ierr.NewError("negative amount").
			WithHint("Cost and charged amount cannot be negative").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// Summary aggregates the ledger over a time window
type Summary struct {
	Executions   int64           `db:"executions" json:"executions"`
	TotalTokens  int64           `db:"total_tokens" json:"total_tokens"`
	TotalCost    decimal.Decimal `db:"total_cost" json:"total_cost"`
	TotalCharged decimal.Decimal `db:"total_charged" json:"total_charged"`
	AvgLatencyMs float64         `db:"avg_latency_ms" json:"avg_latency_ms"`
}

// DailyUsage is one point of the daily trend
type DailyUsage struct {
	Day          time.Time       `db:"day" json:"day"`
	Executions   int64           `db:"executions" json:"executions"`
	TotalCost    decimal.Decimal `db:"total_cost" json:"total_cost"`
	TotalCharged decimal.Decimal `db:"total_charged" json:"total_charged"`
}
