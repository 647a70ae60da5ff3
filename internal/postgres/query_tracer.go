package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/agentmesh/billing/internal/logger"
	"github.com/jmoiron/sqlx"
)

// slowQueryThreshold promotes a completed query log line to warn
const slowQueryThreshold = 500 * time.Millisecond

// TracedQuerier logs every statement it forwards with its duration and the
// enclosing transaction id, if any. Argument values are never logged.
type TracedQuerier struct {
	Querier
	logger *logger.Logger
	txID   string
}

func NewTracedQuerier(q Querier, logger *logger.Logger, txID string) *TracedQuerier {
	return &TracedQuerier{
		Querier: q,
		logger:  logger,
		txID:    txID,
	}
}

func (tq *TracedQuerier) trace(query string, nargs int, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	fields := []interface{}{
		"duration_ms", elapsed.Milliseconds(),
		"query", query,
		"args", nargs,
	}
	if tq.txID != "" {
		fields = append(fields, "tx_id", tq.txID)
	}

	switch {
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		tq.logger.Errorw("database query failed", append(fields, "error", err.Error())...)
	case elapsed >= slowQueryThreshold:
		tq.logger.Warnw("slow database query", fields...)
	default:
		tq.logger.Debugw("database query completed", fields...)
	}
	return err
}

func (tq *TracedQuerier) ExecContext(ctx context.Context, query string, args ...interface{}) (res sql.Result, err error) {
	err = tq.trace(query, len(args), func() error {
		res, err = tq.Querier.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

func (tq *TracedQuerier) NamedExecContext(ctx context.Context, query string, arg interface{}) (res sql.Result, err error) {
	err = tq.trace(query, 1, func() error {
		res, err = tq.Querier.NamedExecContext(ctx, query, arg)
		return err
	})
	return res, err
}

func (tq *TracedQuerier) QueryContext(ctx context.Context, query string, args ...interface{}) (rows *sql.Rows, err error) {
	err = tq.trace(query, len(args), func() error {
		rows, err = tq.Querier.QueryContext(ctx, query, args...)
		return err
	})
	return rows, err
}

func (tq *TracedQuerier) QueryxContext(ctx context.Context, query string, args ...interface{}) (rows *sqlx.Rows, err error) {
	err = tq.trace(query, len(args), func() error {
		rows, err = tq.Querier.QueryxContext(ctx, query, args...)
		return err
	})
	return rows, err
}

func (tq *TracedQuerier) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return tq.trace(query, len(args), func() error {
		return tq.Querier.GetContext(ctx, dest, query, args...)
	})
}

func (tq *TracedQuerier) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return tq.trace(query, len(args), func() error {
		return tq.Querier.SelectContext(ctx, dest, query, args...)
	})
}
