package service

import (
	"context"
	"time"

	"github.com/agentmesh/billing/internal/api/dto"
	"github.com/agentmesh/billing/internal/domain/usage"
	ierr "github.com/agentmesh/billing/internal/errors"
	"github.com/agentmesh/billing/internal/metrics"
	"github.com/agentmesh/billing/internal/types"
)

// UsageService is the append-only usage ledger
type UsageService interface {
	// RecordUsage writes one execution for the tenant in ctx. Replaying an
	// execution id returns the stored event without counting it again.
	RecordUsage(ctx context.Context, req dto.RecordUsageRequest) (*dto.UsageEventResponse, error)
	Summary(ctx context.Context, tenantID string, periodStart, periodEnd time.Time) (*dto.UsageSummaryResponse, error)
	DailyTrend(ctx context.Context, tenantID string, days int) (*dto.UsageTrendResponse, error)
}

type usageService struct {
	ServiceParams
}

func NewUsageService(params ServiceParams) UsageService {
	return &usageService{
		ServiceParams: params,
	}
}

func (s *usageService) RecordUsage(ctx context.Context, req dto.RecordUsageRequest) (*dto.UsageEventResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tenantID := types.GetTenantID(ctx)
	if tenantID == "" {
		return nil, ierr.NewError("tenant is required").
			WithHint("Usage must be recorded for a tenant").
			Mark(ierr.ErrValidation)
	}

	now := s.now()
	occurredAt := req.OccurredAt.UTC()
	if req.OccurredAt.IsZero() {
		occurredAt = now
	}

	event := &usage.UsageEvent{
		ID:                types.GenerateUUIDWithPrefix(types.UUID_PREFIX_USAGE_EVENT),
		AgentID:           req.AgentID,
		ExecutionID:       req.ExecutionID,
		TokensUsed:        req.TokensUsed,
		Cost:              req.Cost,
		ChargedAmount:     req.ChargedAmount,
		LatencyMs:         req.LatencyMs,
		OccurredAt:        occurredAt,
		BillingCycleMonth: types.FirstOfMonth(occurredAt),
		BaseModel:         types.GetDefaultBaseModel(ctx, now),
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}

	var inserted bool
	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		var err error
		inserted, err = s.UsageRepo.InsertIfAbsent(ctx, event)
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}

		rows, err := s.SubRepo.IncrementExecutionsUsed(ctx, tenantID)
		if err != nil {
			return err
		}
		if rows == 0 {
			s.Logger.Debugw("usage recorded without a metered subscription",
				"tenant_id", tenantID,
				"execution_id", req.ExecutionID,
			)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !inserted {
		existing, err := s.UsageRepo.GetByExecutionID(ctx, req.ExecutionID)
		if err != nil {
			return nil, err
		}
		s.Metrics.IncUsageEvent(metrics.ResultDuplicate)
		s.Logger.Debugw("duplicate execution ignored",
			"tenant_id", tenantID,
			"execution_id", req.ExecutionID,
		)
		return &dto.UsageEventResponse{UsageEvent: existing, Duplicate: true}, nil
	}

	s.Metrics.IncUsageEvent(metrics.ResultRecorded)
	return &dto.UsageEventResponse{UsageEvent: event}, nil
}

func (s *usageService) Summary(ctx context.Context, tenantID string, periodStart, periodEnd time.Time) (*dto.UsageSummaryResponse, error) {
	if !periodEnd.After(periodStart) {
		return nil, ierr.NewError("period end must be after period start").
			WithHint("Usage summary window is empty").
			WithReportableDetails(map[string]any{
				"period_start": periodStart,
				"period_end":   periodEnd,
			}).
			Mark(ierr.ErrValidation)
	}

	summary, err := s.UsageRepo.Summarize(ctx, tenantID, periodStart.UTC(), periodEnd.UTC())
	if err != nil {
		return nil, err
	}

	return &dto.UsageSummaryResponse{
		TenantID:    tenantID,
		PeriodStart: periodStart.UTC(),
		PeriodEnd:   periodEnd.UTC(),
		Summary:     summary,
	}, nil
}

// DailyTrend returns one point per day with usage, covering today and the
// days-1 days before it
func (s *usageService) DailyTrend(ctx context.Context, tenantID string, days int) (*dto.UsageTrendResponse, error) {
	if days < 1 || days > dto.MaxTrendDays {
		return nil, ierr.NewErrorf("days must be between 1 and %d", dto.MaxTrendDays).
			WithHintf("Trend window must be between 1 and %d days", dto.MaxTrendDays).
			WithReportableDetails(map[string]any{"days": days}).
			Mark(ierr.ErrValidation)
	}

	since := types.StartOfDay(s.now()).AddDate(0, 0, -(days - 1))
	items, err := s.UsageRepo.DailyTrend(ctx, tenantID, since)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*usage.DailyUsage{}
	}

	return &dto.UsageTrendResponse{
		TenantID: tenantID,
		Days:     days,
		Items:    items,
	}, nil
}
