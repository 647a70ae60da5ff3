package postgres

import (
	"context"

	"github.com/agentmesh/billing/internal/domain/plan"
	"github.com/agentmesh/billing/internal/logger"
	"github.com/agentmesh/billing/internal/postgres"
	"github.com/agentmesh/billing/internal/types"
)

type planRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

func NewPlanRepository(client postgres.IClient, logger *logger.Logger) plan.Repository {
	return &planRepository{client: client, logger: logger}
}

const planColumns = `
	id, tenant_id, name, billing_cycle, base_price, final_price, currency,
	included_executions, overage_price_per_execution, max_agent_slots,
	agent_limits, trial_days,
	status, created_at, updated_at, created_by, updated_by`

func (r *planRepository) Create(ctx context.Context, p *plan.Plan) error {
	query := `
	INSERT INTO subscription_plans (` + planColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err := r.client.Querier(ctx).ExecContext(ctx, query,
		p.ID,
		p.TenantID,
		p.Name,
		p.BillingCycle,
		p.BasePrice,
		p.FinalPrice,
		p.Currency,
		p.IncludedExecutions,
		p.OveragePricePerExecution,
		p.MaxAgentSlots,
		p.AgentLimits,
		p.TrialDays,
		p.Status,
		p.CreatedAt,
		p.UpdatedAt,
		p.CreatedBy,
		p.UpdatedBy,
	)
	if err != nil {
		return postgres.WrapError(err, "plan")
	}
	return nil
}

// Get reads a catalog plan. Plans are shared across tenants so there is no tenant predicate.
func (r *planRepository) Get(ctx context.Context, id string) (*plan.Plan, error) {
	query := `SELECT ` + planColumns + `
	FROM subscription_plans
	WHERE id = $1 AND status = $2`

	var p plan.Plan
	if err := r.client.Querier(ctx).GetContext(ctx, &p, query, id, types.StatusPublished); err != nil {
		return nil, postgres.WrapError(err, "plan")
	}
	return &p, nil
}

func (r *planRepository) List(ctx context.Context) ([]*plan.Plan, error) {
	query := `SELECT ` + planColumns + `
	FROM subscription_plans
	WHERE status = $1
	ORDER BY final_price ASC, id ASC`

	var plans []*plan.Plan
	if err := r.client.Querier(ctx).SelectContext(ctx, &plans, query, types.StatusPublished); err != nil {
		return nil, postgres.WrapError(err, "plan")
	}
	return plans, nil
}
