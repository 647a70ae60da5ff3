package testutil

import (
	"context"
	"sync/atomic"

	"github.com/agentmesh/billing/internal/logger"
	"github.com/agentmesh/billing/internal/postgres"
)

var _ postgres.IClient = (*MockPostgresClient)(nil) // Ensure MockPostgresClient implements IClient

// MockPostgresClient runs transactional code against the in-memory stores.
// There is no rollback: tests asserting atomicity check the returned error.
type MockPostgresClient struct {
	logger *logger.Logger
	txs    atomic.Int64
}

// NewMockPostgresClient creates a new mock postgres client
func NewMockPostgresClient(logger *logger.Logger) *MockPostgresClient {
	return &MockPostgresClient{
		logger: logger,
	}
}

// WithTx executes the given function directly. With no transaction in the
// context, postgres.AfterCommit hooks registered by fn run immediately.
func (c *MockPostgresClient) WithTx(ctx context.Context, fn func(context.Context) error) error {
	c.txs.Add(1)
	return fn(ctx)
}

// Querier is never used by the in-memory repositories
func (c *MockPostgresClient) Querier(ctx context.Context) postgres.Querier {
	return nil
}

// TxCount returns how many transactions were opened
func (c *MockPostgresClient) TxCount() int {
	return int(c.txs.Load())
}
