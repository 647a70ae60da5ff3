package types

import (
	"time"

	ierr "github.com/agentmesh/billing/internal/errors"
	"github.com/samber/lo"
)

// SubscriptionStatus is the lifecycle status of a tenant's base subscription
type SubscriptionStatus string

const (
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// LiveSubscriptionStatuses are the statuses of which a tenant may hold at most one row
var LiveSubscriptionStatuses = []SubscriptionStatus{
	SubscriptionStatusTrialing,
	SubscriptionStatusActive,
}

// MeteredSubscriptionStatuses are the statuses for which usage is still counted
var MeteredSubscriptionStatuses = []SubscriptionStatus{
	SubscriptionStatusTrialing,
	SubscriptionStatusActive,
	SubscriptionStatusPastDue,
}

func (s SubscriptionStatus) String() string {
	return string(s)
}

// IsLive reports whether the status counts against the one-per-tenant rule
func (s SubscriptionStatus) IsLive() bool {
	return lo.Contains(LiveSubscriptionStatuses, s)
}

func (s SubscriptionStatus) Validate() error {
	allowed := []SubscriptionStatus{
		SubscriptionStatusTrialing,
		SubscriptionStatusActive,
		SubscriptionStatusPastDue,
		SubscriptionStatusCanceled,
	}
	if !lo.Contains(allowed, s) {
		return ierr.NewError("invalid subscription status").
			WithHint("Invalid subscription status").
			WithReportableDetails(map[string]any{
				"status":         s,
				"allowed_status": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// BillingCycle is the recurring period length governing renewal cadence
type BillingCycle string

const (
	BillingCycleMonthly    BillingCycle = "monthly"
	BillingCycleSemiAnnual BillingCycle = "semi_annual"
	BillingCycleAnnual     BillingCycle = "annual"
)

func (c BillingCycle) String() string {
	return string(c)
}

// Months returns the cycle length in months, or 0 for an unknown cycle
func (c BillingCycle) Months() int {
	switch c {
	case BillingCycleMonthly:
		return 1
	case BillingCycleSemiAnnual:
		return 6
	case BillingCycleAnnual:
		return 12
	default:
		return 0
	}
}

func (c BillingCycle) Validate() error {
	if c.Months() == 0 {
		return ierr.NewError("invalid billing cycle").
			WithHint("Billing cycle must be monthly, semi_annual or annual").
			WithReportableDetails(map[string]any{
				"billing_cycle": c,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// AgentSubscriptionStatus is the status of a per-agent add-on subscription
type AgentSubscriptionStatus string

const (
	AgentSubscriptionStatusActive   AgentSubscriptionStatus = "active"
	AgentSubscriptionStatusCanceled AgentSubscriptionStatus = "canceled"
)

// SubscriptionFilter represents filters for subscription queries
type SubscriptionFilter struct {
	*QueryFilter

	TenantID            string               `json:"tenant_id,omitempty" form:"tenant_id"`
	PlanID              string               `json:"plan_id,omitempty" form:"plan_id"`
	SubscriptionStatus  []SubscriptionStatus `json:"subscription_status,omitempty" form:"subscription_status"`
	AutoRenew           *bool                `json:"auto_renew,omitempty" form:"auto_renew"`
	CancellationPending *bool                `json:"cancellation_pending,omitempty" form:"cancellation_pending"`

	// Due-date bounds are inclusive: a row is due when its date <= the bound
	TrialEndedBy  *time.Time `json:"trial_ended_by,omitempty" form:"trial_ended_by"`
	NextBillingBy *time.Time `json:"next_billing_by,omitempty" form:"next_billing_by"`
	PeriodEndedBy *time.Time `json:"period_ended_by,omitempty" form:"period_ended_by"`

	// AfterID enables keyset paging in id order for batch jobs
	AfterID string `json:"-" form:"-"`
}

// NewSubscriptionFilter creates a new subscription filter with default options
func NewSubscriptionFilter() *SubscriptionFilter {
	return &SubscriptionFilter{
		QueryFilter: NewDefaultQueryFilter(),
	}
}

// NewNoLimitSubscriptionFilter creates a new subscription filter without pagination
func NewNoLimitSubscriptionFilter() *SubscriptionFilter {
	return &SubscriptionFilter{
		QueryFilter: NewNoLimitQueryFilter(),
	}
}

// Validate validates the subscription filter
func (f SubscriptionFilter) Validate() error {
	if f.QueryFilter != nil {
		if err := f.QueryFilter.Validate(); err != nil {
			return err
		}
	}
	for _, s := range f.SubscriptionStatus {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// GetLimit implements BaseFilter interface
func (f *SubscriptionFilter) GetLimit() int {
	if f.QueryFilter == nil {
		return NewDefaultQueryFilter().GetLimit()
	}
	return f.QueryFilter.GetLimit()
}

// GetOffset implements BaseFilter interface
func (f *SubscriptionFilter) GetOffset() int {
	if f.QueryFilter == nil {
		return NewDefaultQueryFilter().GetOffset()
	}
	return f.QueryFilter.GetOffset()
}

// IsUnlimited returns true if this is an unlimited query
func (f *SubscriptionFilter) IsUnlimited() bool {
	if f.QueryFilter == nil {
		return NewDefaultQueryFilter().IsUnlimited()
	}
	return f.QueryFilter.IsUnlimited()
}
