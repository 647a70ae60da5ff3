package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/agentmesh/billing/internal/domain/usage"
	"github.com/agentmesh/billing/internal/logger"
	"github.com/agentmesh/billing/internal/postgres"
	"github.com/agentmesh/billing/internal/types"
)

type usageRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

func NewUsageRepository(client postgres.IClient, logger *logger.Logger) usage.Repository {
	return &usageRepository{client: client, logger: logger}
}

const usageColumns = `
	id, tenant_id, agent_id, execution_id, tokens_used, cost, charged_amount,
	latency_ms, occurred_at, billing_cycle_month,
	status, created_at, updated_at, created_by, updated_by`

func (r *usageRepository) InsertIfAbsent(ctx context.Context, e *usage.UsageEvent) (bool, error) {
	query := `
	INSERT INTO usage_events (` + usageColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	ON CONFLICT ON CONSTRAINT usage_events_tenant_execution_key DO NOTHING
	RETURNING id`

	var id string
	err := r.client.Querier(ctx).QueryRowContext(ctx, query,
		e.ID,
		e.TenantID,
		e.AgentID,
		e.ExecutionID,
		e.TokensUsed,
		e.Cost,
		e.ChargedAmount,
		e.LatencyMs,
		e.OccurredAt,
		e.BillingCycleMonth,
		e.Status,
		e.CreatedAt,
		e.UpdatedAt,
		e.CreatedBy,
		e.UpdatedBy,
	).Scan(&id)

	// no row back means the conflict clause swallowed a duplicate
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, postgres.WrapError(err, "usage event")
	}
	return true, nil
}

func (r *usageRepository) GetByExecutionID(ctx context.Context, executionID string) (*usage.UsageEvent, error) {
	query := `SELECT ` + usageColumns + `
	FROM usage_events
	WHERE tenant_id = $1 AND execution_id = $2`

	var e usage.UsageEvent
	if err := r.client.Querier(ctx).GetContext(ctx, &e, query, types.GetTenantID(ctx), executionID); err != nil {
		return nil, postgres.WrapError(err, "usage event")
	}
	return &e, nil
}

func (r *usageRepository) Summarize(ctx context.Context, tenantID string, start, end time.Time) (*usage.Summary, error) {
	query := `
	SELECT
		COUNT(*) AS executions,
		COALESCE(SUM(tokens_used), 0) AS total_tokens,
		COALESCE(SUM(cost), 0) AS total_cost,
		COALESCE(SUM(charged_amount), 0) AS total_charged,
		COALESCE(AVG(latency_ms), 0)::float8 AS avg_latency_ms
	FROM usage_events
	WHERE tenant_id = $1 AND occurred_at >= $2 AND occurred_at < $3`

	var s usage.Summary
	if err := r.client.Querier(ctx).GetContext(ctx, &s, query, tenantID, start, end); err != nil {
		return nil, postgres.WrapError(err, "usage summary")
	}
	return &s, nil
}

func (r *usageRepository) DailyTrend(ctx context.Context, tenantID string, since time.Time) ([]*usage.DailyUsage, error) {
	query := `
	SELECT
		date_trunc('day', occurred_at AT TIME ZONE 'UTC') AS day,
		COUNT(*) AS executions,
		COALESCE(SUM(cost), 0) AS total_cost,
		COALESCE(SUM(charged_amount), 0) AS total_charged
	FROM usage_events
	WHERE tenant_id = $1 AND occurred_at >= $2
	GROUP BY 1
	ORDER BY 1 ASC`

	var out []*usage.DailyUsage
	if err := r.client.Querier(ctx).SelectContext(ctx, &out, query, tenantID, since); err != nil {
		return nil, postgres.WrapError(err, "usage trend")
	}
	return out, nil
}
