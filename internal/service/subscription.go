package service

import (
	"context"

	"github.com/agentmesh/billing/internal/api/dto"
	"github.com/agentmesh/billing/internal/domain/invoice"
	"github.com/agentmesh/billing/internal/domain/plan"
	"github.com/agentmesh/billing/internal/domain/subscription"
	ierr "github.com/agentmesh/billing/internal/errors"
	"github.com/agentmesh/billing/internal/types"
	"github.com/samber/lo"
)

// SubscriptionService drives the subscription lifecycle. Every transition
// locks the row and runs in one transaction.
//
// The scheduler transitions (ProcessTrialExpiry, Renew, FinalizeCancellation)
// return a nil response when the subscription is no longer due.
type SubscriptionService interface {
	CreateSubscription(ctx context.Context, req dto.CreateSubscriptionRequest) (*dto.SubscriptionResponse, error)
	GetSubscription(ctx context.Context, id string) (*dto.SubscriptionResponse, error)
	GetActiveSubscription(ctx context.Context, tenantID string) (*dto.SubscriptionResponse, error)

	ProcessTrialExpiry(ctx context.Context, subscriptionID string) (*dto.SubscriptionResponse, error)
	Renew(ctx context.Context, subscriptionID string) (*dto.SubscriptionResponse, error)
	FinalizeCancellation(ctx context.Context, subscriptionID string) (*dto.SubscriptionResponse, error)

	// MarkPastDue moves an active subscription to past_due when the failed
	// invoice bills its current period
	MarkPastDue(ctx context.Context, inv *invoice.Invoice) error
	// RestoreActive moves a past_due subscription back to active after a payment
	RestoreActive(ctx context.Context, inv *invoice.Invoice) error

	CancelSubscription(ctx context.Context, id string, req dto.CancelSubscriptionRequest) (*dto.SubscriptionResponse, error)
	ReactivateSubscription(ctx context.Context, id string) (*dto.SubscriptionResponse, error)
}

type subscriptionService struct {
	ServiceParams
}

func NewSubscriptionService(params ServiceParams) SubscriptionService {
	return &subscriptionService{
		ServiceParams: params,
	}
}

func (s *subscriptionService) CreateSubscription(ctx context.Context, req dto.CreateSubscriptionRequest) (*dto.SubscriptionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tenantID := types.GetTenantID(ctx)
	if tenantID == "" {
		return nil, ierr.NewError("tenant is required").
			WithHint("Subscriptions are created for a tenant").
			Mark(ierr.ErrValidation)
	}

	p, err := NewPlanService(s.ServiceParams).GetPlan(ctx, req.PlanID)
	if err != nil {
		if ierr.IsNotFound(err) {
			return nil, ierr.WithError(err).
				WithHint("Unknown plan").
				WithReportableDetails(map[string]any{"plan_id": req.PlanID}).
				Mark(ierr.ErrValidation)
		}
		return nil, err
	}

	cycle := p.BillingCycle
	if req.BillingCycle != "" && req.BillingCycle != p.BillingCycle {
		return nil, ierr.NewErrorf("plan %s is billed %s", p.ID, p.BillingCycle).
			WithHintf("Plan is only offered with a %s billing cycle", p.BillingCycle).
			WithReportableDetails(map[string]any{
				"plan_id":       p.ID,
				"billing_cycle": req.BillingCycle,
			}).
			Mark(ierr.ErrValidation)
	}

	now := s.now()
	periodEnd, err := types.NextBillingDate(now, cycle)
	if err != nil {
		return nil, err
	}

	sub := &subscription.Subscription{
		ID:                 types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
		PlanID:             p.ID,
		SubscriptionStatus: types.SubscriptionStatusActive,
		BillingCycle:       cycle,
		Currency:           p.Currency,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   periodEnd,
		NextBillingDate:    periodEnd,
		ExecutionQuota:     p.IncludedExecutions,
		AutoRenew:          true,
		Version:            1,
		BaseModel:          types.GetDefaultBaseModel(ctx, now),
	}
	if p.TrialDays > 0 {
		sub.SubscriptionStatus = types.SubscriptionStatusTrialing
		sub.TrialEndsAt = lo.ToPtr(now.AddDate(0, 0, p.TrialDays))
	}
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	resp := &dto.SubscriptionResponse{Subscription: sub}
	err = s.DB.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.SubRepo.GetLive(ctx, tenantID); err == nil {
			return liveSubscriptionExists(tenantID)
		} else if !ierr.IsNotFound(err) {
			return err
		}

		if err := s.SubRepo.Create(ctx, sub); err != nil {
			if ierr.IsAlreadyExists(err) {
				return liveSubscriptionExists(tenantID)
			}
			return err
		}

		if sub.SubscriptionStatus == types.SubscriptionStatusActive && !p.IsFree() {
			inv, err := NewInvoiceService(s.ServiceParams).Compose(ctx, ComposeParams{
				Subscription: sub,
				PeriodStart:  sub.CurrentPeriodStart,
				PeriodEnd:    sub.CurrentPeriodEnd,
			})
			if err != nil {
				return err
			}
			resp.Invoice = inv
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Infow("created subscription",
		"tenant_id", tenantID,
		"subscription_id", sub.ID,
		"plan_id", p.ID,
		"subscription_status", sub.SubscriptionStatus,
	)
	return resp, nil
}

func (s *subscriptionService) GetSubscription(ctx context.Context, id string) (*dto.SubscriptionResponse, error) {
	sub, err := s.SubRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &dto.SubscriptionResponse{Subscription: sub}, nil
}

func (s *subscriptionService) GetActiveSubscription(ctx context.Context, tenantID string) (*dto.SubscriptionResponse, error) {
	sub, err := s.SubRepo.GetLive(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return &dto.SubscriptionResponse{Subscription: sub}, nil
}

// ProcessTrialExpiry activates a trial that has ended. A paid plan gets its
// first invoice, due after the configured days; a free plan is activated as is.
func (s *subscriptionService) ProcessTrialExpiry(ctx context.Context, subscriptionID string) (*dto.SubscriptionResponse, error) {
	var resp *dto.SubscriptionResponse
	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		sub, err := s.SubRepo.GetForUpdate(ctx, subscriptionID)
		if err != nil {
			return err
		}

		now := s.now()
		if sub.SubscriptionStatus != types.SubscriptionStatusTrialing ||
			sub.TrialEndsAt == nil || sub.TrialEndsAt.After(now) {
			return nil
		}

		p, err := s.planFor(ctx, sub)
		if err != nil {
			return err
		}

		periodEnd, err := types.NextBillingDate(now, sub.BillingCycle)
		if err != nil {
			return err
		}
		if err := sub.TransitionTo(types.SubscriptionStatusActive); err != nil {
			return err
		}
		sub.CurrentPeriodStart = now
		sub.CurrentPeriodEnd = periodEnd
		sub.NextBillingDate = periodEnd
		sub.ExecutionsUsed = 0

		result := &dto.SubscriptionResponse{Subscription: sub}
		if !p.IsFree() {
			inv, err := NewInvoiceService(s.ServiceParams).Compose(ctx, ComposeParams{
				Subscription:  sub,
				PeriodStart:   sub.CurrentPeriodStart,
				PeriodEnd:     sub.CurrentPeriodEnd,
				InvoiceStatus: types.InvoiceStatusPending,
				DueDate:       now.AddDate(0, 0, s.Config.Billing.InvoiceDueDays),
			})
			if err != nil {
				return err
			}
			result.Invoice = inv
		}

		if err := s.update(ctx, sub); err != nil {
			return err
		}
		resp = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	if resp != nil {
		s.Logger.Infow("trial ended, subscription activated",
			"tenant_id", resp.TenantID,
			"subscription_id", resp.ID,
			"invoiced", resp.Invoice != nil,
		)
	}
	return resp, nil
}

// Renew advances an active subscription into its next period. The renewal
// invoice bills the new period in advance together with the overage of the
// period that ended. The execution counter restarts at zero in the same
// transaction.
func (s *subscriptionService) Renew(ctx context.Context, subscriptionID string) (*dto.SubscriptionResponse, error) {
	var resp *dto.SubscriptionResponse
	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		sub, err := s.SubRepo.GetForUpdate(ctx, subscriptionID)
		if err != nil {
			return err
		}

		now := s.now()
		if sub.SubscriptionStatus != types.SubscriptionStatusActive ||
			!sub.AutoRenew || sub.NextBillingDate.After(now) {
			return nil
		}

		nextEnd, err := types.NextBillingDate(sub.CurrentPeriodEnd, sub.BillingCycle)
		if err != nil {
			return err
		}

		inv, err := NewInvoiceService(s.ServiceParams).Compose(ctx, ComposeParams{
			Subscription:     sub,
			PeriodStart:      sub.CurrentPeriodEnd,
			PeriodEnd:        nextEnd,
			UsagePeriodStart: sub.CurrentPeriodStart,
			UsagePeriodEnd:   sub.CurrentPeriodEnd,
			InvoiceStatus:    types.InvoiceStatusPending,
			DueDate:          now.AddDate(0, 0, s.Config.Billing.InvoiceDueDays),
		})
		if err != nil {
			return err
		}

		if err := sub.TransitionTo(types.SubscriptionStatusActive); err != nil {
			return err
		}
		sub.CurrentPeriodStart = sub.CurrentPeriodEnd
		sub.CurrentPeriodEnd = nextEnd
		sub.NextBillingDate = nextEnd
		sub.ExecutionsUsed = 0

		if err := s.update(ctx, sub); err != nil {
			return err
		}
		resp = &dto.SubscriptionResponse{Subscription: sub, Invoice: inv}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if resp != nil {
		s.Logger.Infow("renewed subscription",
			"tenant_id", resp.TenantID,
			"subscription_id", resp.ID,
			"invoice_id", resp.Invoice.ID,
			"current_period_start", resp.CurrentPeriodStart,
			"current_period_end", resp.CurrentPeriodEnd,
		)
	}
	return resp, nil
}

// FinalizeCancellation ends a deferred cancel once its period is over
func (s *subscriptionService) FinalizeCancellation(ctx context.Context, subscriptionID string) (*dto.SubscriptionResponse, error) {
	var resp *dto.SubscriptionResponse
	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		sub, err := s.SubRepo.GetForUpdate(ctx, subscriptionID)
		if err != nil {
			return err
		}

		if !sub.IsCancellationPending() || sub.CurrentPeriodEnd.After(s.now()) {
			return nil
		}

		if err := sub.TransitionTo(types.SubscriptionStatusCanceled); err != nil {
			return err
		}
		sub.AutoRenew = false
		if err := s.update(ctx, sub); err != nil {
			return err
		}
		resp = &dto.SubscriptionResponse{Subscription: sub}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if resp != nil {
		s.Logger.Infow("subscription cancellation took effect",
			"tenant_id", resp.TenantID,
			"subscription_id", resp.ID,
		)
	}
	return resp, nil
}

func (s *subscriptionService) MarkPastDue(ctx context.Context, inv *invoice.Invoice) error {
	sub, err := s.SubRepo.GetForUpdate(ctx, inv.SubscriptionID)
	if err != nil {
		return err
	}

	if sub.SubscriptionStatus != types.SubscriptionStatusActive ||
		!inv.CoversPeriod(sub.CurrentPeriodStart, sub.CurrentPeriodEnd) {
		return nil
	}

	if err := sub.TransitionTo(types.SubscriptionStatusPastDue); err != nil {
		return err
	}
	if err := s.update(ctx, sub); err != nil {
		return err
	}

	s.Logger.Infow("subscription is past due",
		"tenant_id", sub.TenantID,
		"subscription_id", sub.ID,
		"invoice_id", inv.ID,
	)
	return nil
}

func (s *subscriptionService) RestoreActive(ctx context.Context, inv *invoice.Invoice) error {
	sub, err := s.SubRepo.GetForUpdate(ctx, inv.SubscriptionID)
	if err != nil {
		return err
	}
	if sub.SubscriptionStatus != types.SubscriptionStatusPastDue {
		return nil
	}

	// a tenant who moved to another plan while past due keeps the newer one
	if live, err := s.SubRepo.GetLive(ctx, sub.TenantID); err == nil && live.ID != sub.ID {
		return nil
	} else if err != nil && !ierr.IsNotFound(err) {
		return err
	}

	if err := sub.TransitionTo(types.SubscriptionStatusActive); err != nil {
		return err
	}
	if err := s.update(ctx, sub); err != nil {
		return err
	}

	s.Logger.Infow("past due subscription restored",
		"tenant_id", sub.TenantID,
		"subscription_id", sub.ID,
		"invoice_id", inv.ID,
	)
	return nil
}

func (s *subscriptionService) CancelSubscription(ctx context.Context, id string, req dto.CancelSubscriptionRequest) (*dto.SubscriptionResponse, error) {
	var resp *dto.SubscriptionResponse
	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		sub, err := s.SubRepo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}

		if sub.SubscriptionStatus == types.SubscriptionStatusCanceled {
			return ierr.NewErrorf("subscription %s is already canceled", sub.ID).
				WithHint("Subscription is already canceled").
				Mark(ierr.ErrInvalidOperation)
		}

		now := s.now()
		sub.CancelledAt = lo.ToPtr(now)
		sub.AutoRenew = false

		// trials and past due subscriptions have no paid period to run out
		immediate := req.Immediate || sub.SubscriptionStatus != types.SubscriptionStatusActive
		if immediate {
			if err := sub.TransitionTo(types.SubscriptionStatusCanceled); err != nil {
				return err
			}
		}

		if err := s.update(ctx, sub); err != nil {
			return err
		}
		resp = &dto.SubscriptionResponse{Subscription: sub}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Infow("canceled subscription",
		"tenant_id", resp.TenantID,
		"subscription_id", resp.ID,
		"immediate", resp.SubscriptionStatus == types.SubscriptionStatusCanceled,
	)
	return resp, nil
}

// ReactivateSubscription undoes a cancel while the paid period is still running
func (s *subscriptionService) ReactivateSubscription(ctx context.Context, id string) (*dto.SubscriptionResponse, error) {
	var resp *dto.SubscriptionResponse
	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		sub, err := s.SubRepo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}

		now := s.now()
		if sub.CancelledAt == nil || !now.Before(sub.CurrentPeriodEnd) {
			return ierr.NewErrorf("subscription %s cannot be reactivated", sub.ID).
				WithHint("Only a cancelled subscription whose period has not ended can be reactivated").
				WithReportableDetails(map[string]any{
					"subscription_id":     sub.ID,
					"subscription_status": sub.SubscriptionStatus,
					"current_period_end":  sub.CurrentPeriodEnd,
				}).
				Mark(ierr.ErrInvalidOperation)
		}

		switch sub.SubscriptionStatus {
		case types.SubscriptionStatusActive:
			// deferred cancel that has not taken effect
		case types.SubscriptionStatusCanceled:
			if live, err := s.SubRepo.GetLive(ctx, sub.TenantID); err == nil && live.ID != sub.ID {
				return liveSubscriptionExists(sub.TenantID)
			} else if err != nil && !ierr.IsNotFound(err) {
				return err
			}
			// a trial cancelled before it converted has never been invoiced;
			// it resumes as a trial and the scheduler bills it at expiry
			target := types.SubscriptionStatusActive
			if sub.IsUnconvertedTrial() {
				target = types.SubscriptionStatusTrialing
			}
			if err := sub.TransitionTo(target); err != nil {
				return err
			}
		default:
			return ierr.NewErrorf("subscription %s is %s", sub.ID, sub.SubscriptionStatus).
				WithHintf("A %s subscription cannot be reactivated", sub.SubscriptionStatus).
				Mark(ierr.ErrInvalidOperation)
		}

		sub.CancelledAt = nil
		sub.AutoRenew = true
		if err := s.update(ctx, sub); err != nil {
			if ierr.IsAlreadyExists(err) {
				return liveSubscriptionExists(sub.TenantID)
			}
			return err
		}
		resp = &dto.SubscriptionResponse{Subscription: sub}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Infow("reactivated subscription",
		"tenant_id", resp.TenantID,
		"subscription_id", resp.ID,
	)
	return resp, nil
}

func (s *subscriptionService) planFor(ctx context.Context, sub *subscription.Subscription) (*plan.Plan, error) {
	p, err := NewPlanService(s.ServiceParams).GetPlan(ctx, sub.PlanID)
	if err != nil {
		if ierr.IsNotFound(err) {
			return nil, ierr.WithError(err).
				WithHintf("Subscription references unknown plan %s", sub.PlanID).
				Mark(ierr.ErrValidation)
		}
		return nil, err
	}
	return p, nil
}

func (s *subscriptionService) update(ctx context.Context, sub *subscription.Subscription) error {
	sub.UpdatedAt = s.now()
	sub.UpdatedBy = types.GetUserID(ctx)
	return s.SubRepo.Update(ctx, sub)
}

func liveSubscriptionExists(tenantID string) error {
	return ierr.NewError("tenant already has a live subscription").
		WithHint("Cancel the current subscription before starting a new one").
		WithReportableDetails(map[string]any{"tenant_id": tenantID}).
		Mark(ierr.ErrAlreadyExists)
}
