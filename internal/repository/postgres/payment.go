package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/agentmesh/billing/internal/domain/payment"
	"github.com/agentmesh/billing/internal/logger"
	"github.com/agentmesh/billing/internal/postgres"
	"github.com/agentmesh/billing/internal/types"
)

type paymentRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

func NewPaymentRepository(client postgres.IClient, logger *logger.Logger) payment.Repository {
	return &paymentRepository{client: client, logger: logger}
}

const paymentColumns = `
	id, tenant_id, invoice_id, gateway_transaction_id, transaction_status, amount, currency,
	paid_at, failed_at, refunded_at, raw_gateway_response,
	status, created_at, updated_at, created_by, updated_by`

func (r *paymentRepository) CreateIfAbsent(ctx context.Context, p *payment.PaymentTransaction) (bool, error) {
	query := `
	INSERT INTO payment_transactions (` + paymentColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	ON CONFLICT ON CONSTRAINT payment_transactions_gateway_txn_key DO NOTHING
	RETURNING id`

	var id string
	err := r.client.Querier(ctx).QueryRowContext(ctx, query,
		p.ID,
		p.TenantID,
		p.InvoiceID,
		p.GatewayTransactionID,
		p.TransactionStatus,
		p.Amount,
		p.Currency,
		p.PaidAt,
		p.FailedAt,
		p.RefundedAt,
		p.RawGatewayResponse,
		p.Status,
		p.CreatedAt,
		p.UpdatedAt,
		p.CreatedBy,
		p.UpdatedBy,
	).Scan(&id)

	if errors.Is(err, sql.ErrNoRows) {
		r.logger.Debugw("payment transaction already recorded",
			"gateway_transaction_id", p.GatewayTransactionID,
		)
		return false, nil
	}
	if err != nil {
		return false, postgres.WrapError(err, "payment transaction")
	}
	return true, nil
}

func (r *paymentRepository) Get(ctx context.Context, id string) (*payment.PaymentTransaction, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_transactions WHERE id = $1 AND tenant_id = $2`

	var p payment.PaymentTransaction
	if err := r.client.Querier(ctx).GetContext(ctx, &p, query, id, types.GetTenantID(ctx)); err != nil {
		return nil, postgres.WrapError(err, "payment transaction")
	}
	return &p, nil
}

func (r *paymentRepository) GetByGatewayTransactionID(ctx context.Context, gatewayTransactionID string) (*payment.PaymentTransaction, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_transactions WHERE gateway_transaction_id = $1`

	var p payment.PaymentTransaction
	if err := r.client.Querier(ctx).GetContext(ctx, &p, query, gatewayTransactionID); err != nil {
		return nil, postgres.WrapError(err, "payment transaction")
	}
	return &p, nil
}

func (r *paymentRepository) Update(ctx context.Context, p *payment.PaymentTransaction) error {
	query := `
	UPDATE payment_transactions SET
		transaction_status = $1,
		paid_at = $2,
		failed_at = $3,
		refunded_at = $4,
		raw_gateway_response = $5,
		updated_at = $6,
		updated_by = $7
	WHERE id = $8`

	_, err := r.client.Querier(ctx).ExecContext(ctx, query,
		p.TransactionStatus,
		p.PaidAt,
		p.FailedAt,
		p.RefundedAt,
		p.RawGatewayResponse,
		p.UpdatedAt,
		p.UpdatedBy,
		p.ID,
	)
	if err != nil {
		return postgres.WrapError(err, "payment transaction")
	}
	return nil
}

func (r *paymentRepository) ListByInvoice(ctx context.Context, invoiceID string) ([]*payment.PaymentTransaction, error) {
	query := `SELECT ` + paymentColumns + `
	FROM payment_transactions
	WHERE invoice_id = $1 AND tenant_id = $2
	ORDER BY created_at ASC, id ASC`

	var txns []*payment.PaymentTransaction
	if err := r.client.Querier(ctx).SelectContext(ctx, &txns, query, invoiceID, types.GetTenantID(ctx)); err != nil {
		return nil, postgres.WrapError(err, "payment transaction")
	}
	return txns, nil
}
