package testutil

import (
	"context"

	"github.com/agentmesh/billing/internal/domain/plan"
	"github.com/agentmesh/billing/internal/types"
	"github.com/samber/lo"
)

// InMemoryPlanStore implements plan.Repository
type InMemoryPlanStore struct {
	*InMemoryStore[*plan.Plan]
}

func NewInMemoryPlanStore() *InMemoryPlanStore {
	return &InMemoryPlanStore{
		InMemoryStore: NewInMemoryStoreWithClone(copyPlan),
	}
}

func copyPlan(p *plan.Plan) *plan.Plan {
	if p == nil {
		return nil
	}
	c := *p
	c.AgentLimits = lo.Assign(map[string]int{}, p.AgentLimits)
	return &c
}

func (s *InMemoryPlanStore) Create(ctx context.Context, p *plan.Plan) error {
	if err := s.InMemoryStore.Create(ctx, p.ID, p); err != nil {
		return uniqueViolation("plans_pkey", "plan")
	}
	return nil
}

func (s *InMemoryPlanStore) Get(ctx context.Context, id string) (*plan.Plan, error) {
	p, err := s.InMemoryStore.Get(ctx, id)
	if err != nil || p.Status != types.StatusPublished {
		return nil, notFound("plan", id)
	}
	return p, nil
}

func (s *InMemoryPlanStore) List(ctx context.Context) ([]*plan.Plan, error) {
	return s.InMemoryStore.List(ctx, nil,
		func(_ context.Context, p *plan.Plan, _ interface{}) bool {
			return p.Status == types.StatusPublished
		},
		func(a, b *plan.Plan) bool {
			if !a.FinalPrice.Equal(b.FinalPrice) {
				return a.FinalPrice.LessThan(b.FinalPrice)
			}
			return a.ID < b.ID
		},
	)
}
