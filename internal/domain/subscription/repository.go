package subscription

import (
	"context"
	"time"

	"github.com/agentmesh/billing/internal/types"
)

type Repository interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)

	// GetForUpdate reads the row with SELECT ... FOR UPDATE. Must run inside a transaction.
	GetForUpdate(ctx context.Context, id string) (*Subscription, error)

	// GetLive returns the tenant's trialing or active subscription
	GetLive(ctx context.Context, tenantID string) (*Subscription, error)

	// Update writes the row if its version still matches and bumps the version.
	// A stale version yields ErrVersionConflict.
	Update(ctx context.Context, sub *Subscription) error

	// IncrementExecutionsUsed adds one execution to the tenant's metered
	// subscription with a single UPDATE. The live subscription is preferred
	// over a past_due one. Returns the number of rows touched, at most one.
	IncrementExecutionsUsed(ctx context.Context, tenantID string) (int64, error)

	List(ctx context.Context, filter *types.SubscriptionFilter) ([]*Subscription, error)
	Count(ctx context.Context, filter *types.SubscriptionFilter) (int, error)
}

// AgentSubscriptionRepository stores per-agent add-ons
type AgentSubscriptionRepository interface {
	Create(ctx context.Context, sub *AgentSubscription) error
	ListActive(ctx context.Context, tenantID string, at time.Time) ([]*AgentSubscription, error)
}
