package service

import (
	"context"

	"github.com/agentmesh/billing/internal/api/dto"
	"github.com/agentmesh/billing/internal/cache"
	"github.com/agentmesh/billing/internal/domain/plan"
	"github.com/agentmesh/billing/internal/types"
	"github.com/samber/lo"
)

type PlanService interface {
	GetPlan(ctx context.Context, id string) (*plan.Plan, error)
	ListPlans(ctx context.Context) (*dto.ListPlansResponse, error)
}

type planService struct {
	ServiceParams
}

func NewPlanService(params ServiceParams) PlanService {
	return &planService{
		ServiceParams: params,
	}
}

// GetPlan reads a plan through the cache. Plans are immutable so entries
// only expire by TTL.
func (s *planService) GetPlan(ctx context.Context, id string) (*plan.Plan, error) {
	key := cache.GenerateKey(cache.PrefixPlan, id)
	if s.Cache != nil {
		if cached, found := s.Cache.Get(ctx, key); found {
			if p, ok := cached.(*plan.Plan); ok {
				return p, nil
			}
		}
	}

	p, err := s.PlanRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.Cache != nil {
		s.Cache.Set(ctx, key, p, s.Config.Cache.PlanTTL)
	}
	return p, nil
}

func (s *planService) ListPlans(ctx context.Context) (*dto.ListPlansResponse, error) {
	plans, err := s.PlanRepo.List(ctx)
	if err != nil {
		return nil, err
	}

	items := lo.Map(plans, func(p *plan.Plan, _ int) *dto.PlanResponse {
		return dto.NewPlanResponse(p)
	})
	resp := types.NewListResponse(items, len(items), len(items), 0)
	return &resp, nil
}
