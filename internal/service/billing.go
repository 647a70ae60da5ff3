package service

import (
	"context"
	"sync"

	"github.com/agentmesh/billing/internal/api/dto"
	"github.com/agentmesh/billing/internal/domain/subscription"
	ierr "github.com/agentmesh/billing/internal/errors"
	"github.com/agentmesh/billing/internal/metrics"
	"github.com/agentmesh/billing/internal/types"
	"github.com/samber/lo"
	"github.com/sourcegraph/conc/pool"
)

// BillingService is the periodic billing cycle. It is safe to run on
// overlapping schedules: every subscription is re-read under a row lock and
// an invoice is composed at most once per period.
type BillingService interface {
	RunBillingCycle(ctx context.Context) (*dto.BillingCycleResponse, error)
}

type billingService struct {
	ServiceParams
}

func NewBillingService(params ServiceParams) BillingService {
	return &billingService{
		ServiceParams: params,
	}
}

// transitionFunc runs one scheduler transition; a nil response means not due
type transitionFunc func(ctx context.Context, subscriptionID string) (*dto.SubscriptionResponse, error)

type billingPhase struct {
	name    string
	filter  *types.SubscriptionFilter
	run     transitionFunc
	summary *dto.BillingPhaseResult
}

func (s *billingService) RunBillingCycle(ctx context.Context) (*dto.BillingCycleResponse, error) {
	startedAt := s.now()
	span, ctx := s.Sentry.StartTransaction(ctx, "billing.run_cycle")
	if span != nil {
		defer span.Finish()
	}

	subService := NewSubscriptionService(s.ServiceParams)
	resp := &dto.BillingCycleResponse{StartedAt: startedAt}

	phases := []billingPhase{
		{
			name: metrics.PhaseTrials,
			filter: s.batchFilter(func(f *types.SubscriptionFilter) {
				f.SubscriptionStatus = []types.SubscriptionStatus{types.SubscriptionStatusTrialing}
				f.TrialEndedBy = lo.ToPtr(startedAt)
			}),
			run:     subService.ProcessTrialExpiry,
			summary: &resp.Trials,
		},
		{
			name: metrics.PhaseRenewals,
			filter: s.batchFilter(func(f *types.SubscriptionFilter) {
				f.SubscriptionStatus = []types.SubscriptionStatus{types.SubscriptionStatusActive}
				f.AutoRenew = lo.ToPtr(true)
				f.NextBillingBy = lo.ToPtr(startedAt)
			}),
			run:     subService.Renew,
			summary: &resp.Renewals,
		},
		{
			name: metrics.PhaseCancellations,
			filter: s.batchFilter(func(f *types.SubscriptionFilter) {
				f.SubscriptionStatus = []types.SubscriptionStatus{types.SubscriptionStatusActive}
				f.CancellationPending = lo.ToPtr(true)
				f.PeriodEndedBy = lo.ToPtr(startedAt)
			}),
			run:     subService.FinalizeCancellation,
			summary: &resp.Cancellations,
		},
	}

	s.Logger.Infow("starting billing cycle", "started_at", startedAt)

	for _, phase := range phases {
		if err := s.runPhase(ctx, phase); err != nil {
			s.Logger.Errorw("billing cycle aborted",
				"phase", phase.name,
				"error", err,
			)
			s.Sentry.CaptureException(err)
			return nil, err
		}
	}

	resp.CompletedAt = s.now()
	s.Metrics.ObserveBillingCycle(s.Clock.Since(startedAt))

	s.Logger.Infow("completed billing cycle",
		"duration", resp.CompletedAt.Sub(startedAt),
		"trials", resp.Trials,
		"renewals", resp.Renewals,
		"cancellations", resp.Cancellations,
	)
	return resp, nil
}

func (s *billingService) batchFilter(apply func(f *types.SubscriptionFilter)) *types.SubscriptionFilter {
	f := types.NewSubscriptionFilter()
	f.QueryFilter.Limit = lo.ToPtr(max(s.Config.Billing.BatchSize, 1))
	f.QueryFilter.Sort = lo.ToPtr("id")
	f.QueryFilter.Order = lo.ToPtr(types.OrderAsc)
	apply(f)
	return f
}

// runPhase walks the due subscriptions in id order, one batch at a time.
// Only a failure to list aborts the phase.
func (s *billingService) runPhase(ctx context.Context, phase billingPhase) error {
	var mu sync.Mutex
	filter := phase.filter

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		subs, err := s.SubRepo.List(ctx, filter)
		if err != nil {
			return err
		}
		if len(subs) == 0 {
			return nil
		}

		p := pool.New().WithMaxGoroutines(max(s.Config.Billing.Concurrency, 1))
		for _, sub := range subs {
			p.Go(func() {
				result := s.processSubscription(ctx, phase, sub)

				mu.Lock()
				defer mu.Unlock()
				phase.summary.Processed++
				switch result {
				case metrics.ResultSuccess:
					phase.summary.Succeeded++
				case metrics.ResultSkipped:
					phase.summary.Skipped++
				default:
					phase.summary.Failed++
				}
			})
		}
		p.Wait()

		if len(subs) < filter.GetLimit() {
			return nil
		}
		filter.AfterID = subs[len(subs)-1].ID
	}
}

// processSubscription runs one transition in the subscription's own tenant
// context and transaction and classifies the outcome
func (s *billingService) processSubscription(ctx context.Context, phase billingPhase, sub *subscription.Subscription) string {
	ctx = types.SetTenantID(ctx, sub.TenantID)
	ctx = types.SetUserID(ctx, types.SystemUserID)

	start := s.Clock.Now()
	resp, err := phase.run(ctx, sub.ID)

	result := metrics.ResultSuccess
	switch {
	case err == nil && resp == nil:
		result = metrics.ResultSkipped
	case err == nil:
	case ierr.IsAlreadyExists(err):
		result = metrics.ResultSkipped
		s.Logger.Infow("subscription already processed for period",
			"phase", phase.name,
			"tenant_id", sub.TenantID,
			"subscription_id", sub.ID,
		)
	default:
		result = metrics.ResultFailed
		s.Logger.Errorw("failed to process subscription",
			"phase", phase.name,
			"tenant_id", sub.TenantID,
			"subscription_id", sub.ID,
			"plan_id", sub.PlanID,
			"subscription_status", sub.SubscriptionStatus,
			"error", err,
		)
		s.Sentry.CaptureBillingFailure(ctx, err, map[string]string{
			"phase":           phase.name,
			"subscription_id": sub.ID,
		})
	}

	s.Metrics.IncBillingCycle(phase.name, result)
	s.Logger.Debugw("processed subscription",
		"phase", phase.name,
		"tenant_id", sub.TenantID,
		"subscription_id", sub.ID,
		"result", result,
		"elapsed", s.Clock.Since(start),
	)
	return result
}
