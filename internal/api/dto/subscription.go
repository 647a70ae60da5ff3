package dto

import (
	"github.com/agentmesh/billing/internal/domain/invoice"
	"github.com/agentmesh/billing/internal/domain/subscription"
	"github.com/agentmesh/billing/internal/types"
	"github.com/agentmesh/billing/internal/validator"
)

type CreateSubscriptionRequest struct {
	PlanID string `json:"plan_id" validate:"required"`

	// BillingCycle defaults to the plan's cycle
	BillingCycle types.BillingCycle `json:"billing_cycle,omitempty" validate:"omitempty,billing_cycle"`
}

func (r *CreateSubscriptionRequest) Validate() error {
	return validator.ValidateRequest(r)
}

type CancelSubscriptionRequest struct {
	// Immediate cancels now; otherwise the subscription runs to the end of the period
	Immediate bool `json:"immediate"`
}

type SubscriptionResponse struct {
	*subscription.Subscription

	// Invoice is set when the operation produced one
	Invoice *invoice.Invoice `json:"invoice,omitempty"`
}

type ListSubscriptionsResponse = types.ListResponse[*SubscriptionResponse]
