package dto

import (
	"github.com/agentmesh/billing/internal/domain/plan"
	"github.com/agentmesh/billing/internal/types"
)

type PlanResponse struct {
	*plan.Plan
	MonthlyEquivalentPrice string `json:"monthly_equivalent_price"`
}

func NewPlanResponse(p *plan.Plan) *PlanResponse {
	return &PlanResponse{
		Plan:                   p,
		MonthlyEquivalentPrice: p.MonthlyEquivalentPrice().StringFixed(2),
	}
}

type ListPlansResponse = types.ListResponse[*PlanResponse]
