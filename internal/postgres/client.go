package postgres

import (
	"context"

	sentryService "github.com/agentmesh/billing/internal/sentry"
	"go.uber.org/fx"
)

// IClient defines the interface for postgres client operations.
// Services depend on this so that tests can run them without a database.
type IClient interface {
	// WithTx wraps the given function in a transaction
	WithTx(ctx context.Context, fn func(context.Context) error) error

	// Querier returns the current transaction if in a transaction, or the pool
	Querier(ctx context.Context) Querier
}

var _ IClient = (*DB)(nil)

// Module provides an fx.Option to integrate the sqlx client with the application
func Module() fx.Option {
	return fx.Options(
		fx.Provide(
			NewDB,
			NewClient,
		),
	)
}

// NewClient exposes the DB as an IClient wrapped with Sentry spans
func NewClient(db *DB, sentry *sentryService.Service) IClient {
	return NewSentryClient(db, sentry, db.logger)
}
