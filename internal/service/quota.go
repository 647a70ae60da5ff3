package service

import (
	"context"

	"github.com/agentmesh/billing/internal/api/dto"
	"github.com/agentmesh/billing/internal/domain/subscription"
	ierr "github.com/agentmesh/billing/internal/errors"
)

// QuotaService derives consumed against included executions of a subscription
type QuotaService interface {
	Remaining(sub *subscription.Subscription) int64
	HasExceededQuota(sub *subscription.Subscription) bool
	OverageExecutions(sub *subscription.Subscription) int64

	// CheckQuota answers whether the tenant may run one more execution
	CheckQuota(ctx context.Context, tenantID string) (*dto.QuotaCheckResponse, error)

	// EnforceQuota fails with ErrQuotaExceeded when CheckQuota would refuse
	EnforceQuota(ctx context.Context, tenantID string) error
}

type quotaService struct {
	ServiceParams
}

func NewQuotaService(params ServiceParams) QuotaService {
	return &quotaService{
		ServiceParams: params,
	}
}

func (s *quotaService) Remaining(sub *subscription.Subscription) int64 {
	return max(0, sub.ExecutionQuota-sub.ExecutionsUsed)
}

func (s *quotaService) HasExceededQuota(sub *subscription.Subscription) bool {
	return sub.ExecutionsUsed > sub.ExecutionQuota
}

func (s *quotaService) OverageExecutions(sub *subscription.Subscription) int64 {
	return max(0, sub.ExecutionsUsed-sub.ExecutionQuota)
}

func (s *quotaService) CheckQuota(ctx context.Context, tenantID string) (*dto.QuotaCheckResponse, error) {
	sub, err := s.SubRepo.GetLive(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	resp := &dto.QuotaCheckResponse{
		Allowed:   true,
		Remaining: s.Remaining(sub),
		Used:      sub.ExecutionsUsed,
		Quota:     sub.ExecutionQuota,
	}
	if sub.ExecutionsUsed < sub.ExecutionQuota {
		return resp, nil
	}

	p, err := NewPlanService(s.ServiceParams).GetPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}

	if p.OverageAllowed() {
		resp.Reason = dto.QuotaReasonOverage
		return resp, nil
	}

	resp.Allowed = false
	resp.Reason = dto.QuotaReasonExceeded
	return resp, nil
}

func (s *quotaService) EnforceQuota(ctx context.Context, tenantID string) error {
	check, err := s.CheckQuota(ctx, tenantID)
	if err != nil {
		return err
	}
	if check.Allowed {
		return nil
	}

	return ierr.NewError("execution quota exceeded").
		WithHint("Execution quota exhausted, upgrade the plan to continue").
		WithReportableDetails(map[string]any{
			"reason": "upgrade_required",
			"used":   check.Used,
			"quota":  check.Quota,
		}).
		Mark(ierr.ErrQuotaExceeded)
}
