package usage

import (
	"context"
	"time"
)

// Repository is the append-only usage ledger
type Repository interface {
	// InsertIfAbsent writes the event unless (tenant_id, execution_id) already exists.
	// It reports whether a row was inserted.
	InsertIfAbsent(ctx context.Context, event *UsageEvent) (bool, error)

	// GetByExecutionID returns the stored event for the tenant in ctx
	GetByExecutionID(ctx context.Context, executionID string) (*UsageEvent, error)

	// Summarize aggregates events with occurred_at in [start, end)
	Summarize(ctx context.Context, tenantID string, start, end time.Time) (*Summary, error)

	// DailyTrend groups events since the given day by UTC day, oldest first
	DailyTrend(ctx context.Context, tenantID string, since time.Time) ([]*DailyUsage, error)
}
