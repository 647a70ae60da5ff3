package postgres

import (
	"context"

	"github.com/agentmesh/billing/internal/domain/subscription"
	ierr "github.com/agentmesh/billing/internal/errors"
	"github.com/agentmesh/billing/internal/logger"
	"github.com/agentmesh/billing/internal/postgres"
	"github.com/agentmesh/billing/internal/types"
	"github.com/lib/pq"
)

type subscriptionRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

func NewSubscriptionRepository(client postgres.IClient, logger *logger.Logger) subscription.Repository {
	return &subscriptionRepository{client: client, logger: logger}
}

const subscriptionColumns = `
	id, tenant_id, plan_id, subscription_status, billing_cycle, currency,
	current_period_start, current_period_end, next_billing_date,
	execution_quota, executions_used, trial_ends_at, cancelled_at, auto_renew, version,
	status, created_at, updated_at, created_by, updated_by`

var subscriptionSortColumns = map[string]bool{
	"created_at":        true,
	"updated_at":        true,
	"next_billing_date": true,
	"id":                true,
}

func liveStatuses() interface{} {
	return pq.Array([]string{
		string(types.SubscriptionStatusTrialing),
		string(types.SubscriptionStatusActive),
	})
}

func meteredStatuses() interface{} {
	arr := make([]string, len(types.MeteredSubscriptionStatuses))
	for i, s := range types.MeteredSubscriptionStatuses {
		arr[i] = string(s)
	}
	return pq.Array(arr)
}

func (r *subscriptionRepository) Create(ctx context.Context, s *subscription.Subscription) error {
	r.logger.Debugw("creating subscription",
		"subscription_id", s.ID,
		"tenant_id", s.TenantID,
		"plan_id", s.PlanID,
	)

	query := `
	INSERT INTO subscriptions (` + subscriptionColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	_, err := r.client.Querier(ctx).ExecContext(ctx, query,
		s.ID,
		s.TenantID,
		s.PlanID,
		s.SubscriptionStatus,
		s.BillingCycle,
		s.Currency,
		s.CurrentPeriodStart,
		s.CurrentPeriodEnd,
		s.NextBillingDate,
		s.ExecutionQuota,
		s.ExecutionsUsed,
		s.TrialEndsAt,
		s.CancelledAt,
		s.AutoRenew,
		s.Version,
		s.Status,
		s.CreatedAt,
		s.UpdatedAt,
		s.CreatedBy,
		s.UpdatedBy,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err, "subscriptions_tenant_live_idx") {
			return ierr.WithError(err).
				WithHint("Tenant already has a live subscription").
				WithReportableDetails(map[string]any{"tenant_id": s.TenantID}).
				Mark(ierr.ErrAlreadyExists)
		}
		return postgres.WrapError(err, "subscription")
	}
	return nil
}

func (r *subscriptionRepository) Get(ctx context.Context, id string) (*subscription.Subscription, error) {
	return r.get(ctx, id, "")
}

func (r *subscriptionRepository) GetForUpdate(ctx context.Context, id string) (*subscription.Subscription, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *subscriptionRepository) get(ctx context.Context, id, lock string) (*subscription.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
	FROM subscriptions
	WHERE id = $1 AND tenant_id = $2` + lock

	var s subscription.Subscription
	if err := r.client.Querier(ctx).GetContext(ctx, &s, query, id, types.GetTenantID(ctx)); err != nil {
		return nil, postgres.WrapError(err, "subscription")
	}
	return &s, nil
}

func (r *subscriptionRepository) GetLive(ctx context.Context, tenantID string) (*subscription.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
	FROM subscriptions
	WHERE tenant_id = $1 AND subscription_status = ANY($2)
	LIMIT 1`

	var s subscription.Subscription
	if err := r.client.Querier(ctx).GetContext(ctx, &s, query, tenantID, liveStatuses()); err != nil {
		return nil, postgres.WrapError(err, "subscription")
	}
	return &s, nil
}

func (r *subscriptionRepository) Update(ctx context.Context, s *subscription.Subscription) error {
	query := `
	UPDATE subscriptions SET
		subscription_status = $1,
		current_period_start = $2,
		current_period_end = $3,
		next_billing_date = $4,
		execution_quota = $5,
		executions_used = $6,
		trial_ends_at = $7,
		cancelled_at = $8,
		auto_renew = $9,
		updated_at = $10,
		updated_by = $11,
		version = version + 1
	WHERE id = $12 AND tenant_id = $13 AND version = $14`

	res, err := r.client.Querier(ctx).ExecContext(ctx, query,
		s.SubscriptionStatus,
		s.CurrentPeriodStart,
		s.CurrentPeriodEnd,
		s.NextBillingDate,
		s.ExecutionQuota,
		s.ExecutionsUsed,
		s.TrialEndsAt,
		s.CancelledAt,
		s.AutoRenew,
		s.UpdatedAt,
		s.UpdatedBy,
		s.ID,
		s.TenantID,
		s.Version,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err, "subscriptions_tenant_live_idx") {
			return ierr.WithError(err).
				WithHint("Tenant already has a live subscription").
				WithReportableDetails(map[string]any{"tenant_id": s.TenantID}).
				Mark(ierr.ErrAlreadyExists)
		}
		return postgres.WrapError(err, "subscription")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return postgres.WrapError(err, "subscription")
	}
	if n == 0 {
		return ierr.NewError("subscription was modified concurrently").
			WithHint("Subscription changed, please retry").
			WithReportableDetails(map[string]any{
				"subscription_id": s.ID,
				"version":         s.Version,
			}).
			Mark(ierr.ErrVersionConflict)
	}

	s.Version++
	return nil
}

func (r *subscriptionRepository) IncrementExecutionsUsed(ctx context.Context, tenantID string) (int64, error) {
	// a past_due row can outlive the tenant's next subscription; the live row wins
	query := `
	UPDATE subscriptions
	SET executions_used = executions_used + 1, updated_at = CURRENT_TIMESTAMP
	WHERE tenant_id = $1 AND id = (
		SELECT id FROM subscriptions
		WHERE tenant_id = $1 AND subscription_status = ANY($2)
		ORDER BY subscription_status = ANY($3) DESC, current_period_start DESC, id DESC
		LIMIT 1
	)`

	res, err := r.client.Querier(ctx).ExecContext(ctx, query, tenantID, meteredStatuses(), liveStatuses())
	if err != nil {
		return 0, postgres.WrapError(err, "subscription")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, postgres.WrapError(err, "subscription")
	}
	return n, nil
}

func (r *subscriptionRepository) filter(f *types.SubscriptionFilter) *whereBuilder {
	w := &whereBuilder{}
	if f.QueryFilter != nil {
		w.add("status = $%d", f.GetStatus())
	}
	if f.TenantID != "" {
		w.add("tenant_id = $%d", f.TenantID)
	}
	if f.PlanID != "" {
		w.add("plan_id = $%d", f.PlanID)
	}
	addAny(w, "subscription_status", f.SubscriptionStatus)
	if f.AutoRenew != nil {
		w.add("auto_renew = $%d", *f.AutoRenew)
	}
	if f.CancellationPending != nil {
		if *f.CancellationPending {
			w.raw("cancelled_at IS NOT NULL")
		} else {
			w.raw("cancelled_at IS NULL")
		}
	}
	if f.TrialEndedBy != nil {
		w.add("trial_ends_at <= $%d", *f.TrialEndedBy)
	}
	if f.NextBillingBy != nil {
		w.add("next_billing_date <= $%d", *f.NextBillingBy)
	}
	if f.PeriodEndedBy != nil {
		w.add("current_period_end <= $%d", *f.PeriodEndedBy)
	}
	if f.AfterID != "" {
		w.add("id > $%d", f.AfterID)
	}
	return w
}

func (r *subscriptionRepository) List(ctx context.Context, f *types.SubscriptionFilter) ([]*subscription.Subscription, error) {
	if f == nil {
		f = types.NewSubscriptionFilter()
	}
	w := r.filter(f)

	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions` + w.String()
	query += w.page(f, subscriptionSortColumns, "id")

	var subs []*subscription.Subscription
	if err := r.client.Querier(ctx).SelectContext(ctx, &subs, query, w.args...); err != nil {
		return nil, postgres.WrapError(err, "subscription")
	}
	return subs, nil
}

func (r *subscriptionRepository) Count(ctx context.Context, f *types.SubscriptionFilter) (int, error) {
	if f == nil {
		f = types.NewSubscriptionFilter()
	}
	w := r.filter(f)

	var n int
	if err := r.client.Querier(ctx).GetContext(ctx, &n, `SELECT COUNT(*) FROM subscriptions`+w.String(), w.args...); err != nil {
		return 0, postgres.WrapError(err, "subscription")
	}
	return n, nil
}
