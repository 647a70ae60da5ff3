package postgres

import (
	"context"
	"time"

	"github.com/agentmesh/billing/internal/domain/subscription"
	"github.com/agentmesh/billing/internal/logger"
	"github.com/agentmesh/billing/internal/postgres"
	"github.com/agentmesh/billing/internal/types"
)

type agentSubscriptionRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

func NewAgentSubscriptionRepository(client postgres.IClient, logger *logger.Logger) subscription.AgentSubscriptionRepository {
	return &agentSubscriptionRepository{client: client, logger: logger}
}

const agentSubscriptionColumns = `
	id, tenant_id, agent_id, monthly_price, agent_subscription_status,
	current_period_start, current_period_end, next_billing_date, auto_renew,
	status, created_at, updated_at, created_by, updated_by`

func (r *agentSubscriptionRepository) Create(ctx context.Context, s *subscription.AgentSubscription) error {
	query := `
	INSERT INTO agent_subscriptions (` + agentSubscriptionColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.client.Querier(ctx).ExecContext(ctx, query,
		s.ID,
		s.TenantID,
		s.AgentID,
		s.MonthlyPrice,
		s.AgentSubscriptionStatus,
		s.CurrentPeriodStart,
		s.CurrentPeriodEnd,
		s.NextBillingDate,
		s.AutoRenew,
		s.Status,
		s.CreatedAt,
		s.UpdatedAt,
		s.CreatedBy,
		s.UpdatedBy,
	)
	if err != nil {
		return postgres.WrapError(err, "agent subscription")
	}
	return nil
}

// ListActive returns active add-ons that had started by at
func (r *agentSubscriptionRepository) ListActive(ctx context.Context, tenantID string, at time.Time) ([]*subscription.AgentSubscription, error) {
	query := `SELECT ` + agentSubscriptionColumns + `
	FROM agent_subscriptions
	WHERE tenant_id = $1
		AND agent_subscription_status = $2
		AND status = $3
		AND current_period_start <= $4
	ORDER BY created_at ASC, id ASC`

	var subs []*subscription.AgentSubscription
	err := r.client.Querier(ctx).SelectContext(ctx, &subs, query,
		tenantID,
		types.AgentSubscriptionStatusActive,
		types.StatusPublished,
		at,
	)
	if err != nil {
		return nil, postgres.WrapError(err, "agent subscription")
	}
	return subs, nil
}
