package subscription

import (
	"time"

	ierr "github.com/agentmesh/billing/internal/errors"
	"github.com/agentmesh/billing/internal/types"
	"github.com/shopspring/decimal"
)

// Subscription is a tenant's base plan subscription. Rows are never deleted;
// a canceled subscription stays for history.
type Subscription struct {
	ID                 string                   `db:"id" json:"id"`
	PlanID             string                   `db:"plan_id" json:"plan_id"`
	SubscriptionStatus types.SubscriptionStatus `db:"subscription_status" json:"subscription_status"`
	BillingCycle       types.BillingCycle       `db:"billing_cycle" json:"billing_cycle"`
	Currency           string                   `db:"currency" json:"currency"`
	CurrentPeriodStart time.Time                `db:"current_period_start" json:"current_period_start"`
	CurrentPeriodEnd   time.Time                `db:"current_period_end" json:"current_period_end"`
	NextBillingDate    time.Time                `db:"next_billing_date" json:"next_billing_date"`
	ExecutionQuota     int64                    `db:"execution_quota" json:"execution_quota"`
	ExecutionsUsed     int64                    `db:"executions_used" json:"executions_used"`
	TrialEndsAt        *time.Time               `db:"trial_ends_at" json:"trial_ends_at,omitempty"`
	CancelledAt        *time.Time               `db:"cancelled_at" json:"cancelled_at,omitempty"`
	AutoRenew          bool                     `db:"auto_renew" json:"auto_renew"`

	// Version is bumped on every update and checked by the repository
	Version int `db:"version" json:"version"`

	types.BaseModel
}

// IsLive reports whether the subscription counts against the one-live-per-tenant rule
func (s *Subscription) IsLive() bool {
	return s.SubscriptionStatus.IsLive()
}

// IsCancellationPending is true for a deferred cancel that has not taken effect yet
func (s *Subscription) IsCancellationPending() bool {
	return s.CancelledAt != nil && s.SubscriptionStatus != types.SubscriptionStatusCanceled
}

// IsUnconvertedTrial is true when the current period is still the trial's.
// Trial expiry restarts the period at the expiry time, so a converted
// subscription has its period start at or after TrialEndsAt.
func (s *Subscription) IsUnconvertedTrial() bool {
	return s.TrialEndsAt != nil && s.TrialEndsAt.After(s.CurrentPeriodStart)
}

// TransitionTo moves the subscription to the target status if the table allows it
func (s *Subscription) TransitionTo(to types.SubscriptionStatus) error {
	if !CanTransition(s.SubscriptionStatus, to) {
		return ierr.NewErrorf("cannot move subscription from %s to %s", s.SubscriptionStatus, to).
			WithHintf("Subscription cannot be moved from %s to %s", s.SubscriptionStatus, to).
			WithReportableDetails(map[string]any{
				"subscription_id": s.ID,
				"from":            s.SubscriptionStatus,
				"to":              to,
			}).
			Mark(ierr.ErrInvalidOperation)
	}
	s.SubscriptionStatus = to
	return nil
}

func (s *Subscription) Validate() error {
	if s.PlanID == "" {
		return ierr.NewError("plan_id is required").
			WithHint("Subscription must reference a plan").
			Mark(ierr.ErrValidation)
	}
	if err := s.SubscriptionStatus.Validate(); err != nil {
		return err
	}
	if err := s.BillingCycle.Validate(); err != nil {
		return err
	}
	if !s.CurrentPeriodEnd.After(s.CurrentPeriodStart) {
		return ierr.NewError("period end must be after period start").
			WithHint("Invalid subscription period").
			WithReportableDetails(map[string]any{
				"current_period_start": s.CurrentPeriodStart,
				"current_period_end":   s.CurrentPeriodEnd,
			}).
			Mark(ierr.ErrValidation)
	}
	if s.ExecutionQuota < 0 || s.ExecutionsUsed < 0 {
		return ierr.NewError("execution counters cannot be negative").
			WithHint("Invalid execution counters").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// AgentSubscription is a per-agent add-on billed monthly next to the base plan
type AgentSubscription struct {
	ID                      string                        `db:"id" json:"id"`
	AgentID                 string                        `db:"agent_id" json:"agent_id"`
	MonthlyPrice            decimal.Decimal               `db:"monthly_price" json:"monthly_price"`
	AgentSubscriptionStatus types.AgentSubscriptionStatus `db:"agent_subscription_status" json:"agent_subscription_status"`
	CurrentPeriodStart      time.Time                     `db:"current_period_start" json:"current_period_start"`
	CurrentPeriodEnd        time.Time                     `db:"current_period_end" json:"current_period_end"`
	NextBillingDate         time.Time                     `db:"next_billing_date" json:"next_billing_date"`
	AutoRenew               bool                          `db:"auto_renew" json:"auto_renew"`
	types.BaseModel
}
