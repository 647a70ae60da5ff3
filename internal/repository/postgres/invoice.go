package postgres

import (
	"context"
	"time"

	"github.com/agentmesh/billing/internal/domain/invoice"
	ierr "github.com/agentmesh/billing/internal/errors"
	"github.com/agentmesh/billing/internal/logger"
	"github.com/agentmesh/billing/internal/postgres"
	"github.com/agentmesh/billing/internal/types"
	"github.com/lib/pq"
)

type invoiceRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

func NewInvoiceRepository(client postgres.IClient, logger *logger.Logger) invoice.Repository {
	return &invoiceRepository{client: client, logger: logger}
}

const invoiceColumns = `
	id, tenant_id, subscription_id, invoice_number, invoice_status, currency,
	billing_period_start, billing_period_end, due_date,
	base_amount, addon_amount, overage_amount, discount_amount, tax_amount, total_amount,
	paid_at, payment_transaction_id, payment_link_status, payment_link_url,
	idempotency_key, metadata, version,
	status, created_at, updated_at, created_by, updated_by`

const lineItemColumns = `
	id, tenant_id, invoice_id, item_type, description, quantity, unit_price, total_price, metadata,
	status, created_at, updated_at, created_by, updated_by`

var invoiceSortColumns = map[string]bool{
	"created_at":           true,
	"updated_at":           true,
	"due_date":             true,
	"billing_period_start": true,
	"total_amount":         true,
}

func (r *invoiceRepository) Create(ctx context.Context, inv *invoice.Invoice) error {
	r.logger.Debugw("creating invoice",
		"invoice_id", inv.ID,
		"invoice_number", inv.InvoiceNumber,
		"subscription_id", inv.SubscriptionID,
	)

	return r.client.WithTx(ctx, func(ctx context.Context) error {
		query := `
		INSERT INTO invoices (` + invoiceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27)`

		_, err := r.client.Querier(ctx).ExecContext(ctx, query,
			inv.ID,
			inv.TenantID,
			inv.SubscriptionID,
			inv.InvoiceNumber,
			inv.InvoiceStatus,
			inv.Currency,
			inv.BillingPeriodStart,
			inv.BillingPeriodEnd,
			inv.DueDate,
			inv.BaseAmount,
			inv.AddonAmount,
			inv.OverageAmount,
			inv.DiscountAmount,
			inv.TaxAmount,
			inv.TotalAmount,
			inv.PaidAt,
			inv.PaymentTransactionID,
			inv.PaymentLinkStatus,
			inv.PaymentLinkURL,
			inv.IdempotencyKey,
			inv.Metadata,
			inv.Version,
			inv.Status,
			inv.CreatedAt,
			inv.UpdatedAt,
			inv.CreatedBy,
			inv.UpdatedBy,
		)
		if err != nil {
			return postgres.WrapError(err, "invoice")
		}

		return r.insertLineItems(ctx, inv.LineItems)
	})
}

func (r *invoiceRepository) insertLineItems(ctx context.Context, items []*invoice.LineItem) error {
	query := `
	INSERT INTO invoice_line_items (` + lineItemColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	for _, li := range items {
		_, err := r.client.Querier(ctx).ExecContext(ctx, query,
			li.ID,
			li.TenantID,
			li.InvoiceID,
			li.ItemType,
			li.Description,
			li.Quantity,
			li.UnitPrice,
			li.TotalPrice,
			li.Metadata,
			li.Status,
			li.CreatedAt,
			li.UpdatedAt,
			li.CreatedBy,
			li.UpdatedBy,
		)
		if err != nil {
			return postgres.WrapError(err, "invoice line item")
		}
	}
	return nil
}

func (r *invoiceRepository) Get(ctx context.Context, id string) (*invoice.Invoice, error) {
	return r.getOne(ctx, "id = $1 AND tenant_id = $2", "", id, types.GetTenantID(ctx))
}

func (r *invoiceRepository) GetForUpdate(ctx context.Context, id string) (*invoice.Invoice, error) {
	return r.getOne(ctx, "id = $1 AND tenant_id = $2", " FOR UPDATE", id, types.GetTenantID(ctx))
}

// GetByNumber is not tenant scoped: gateway callbacks only know the invoice number
func (r *invoiceRepository) GetByNumber(ctx context.Context, invoiceNumber string) (*invoice.Invoice, error) {
	return r.getOne(ctx, "invoice_number = $1", "", invoiceNumber)
}

func (r *invoiceRepository) getOne(ctx context.Context, where, lock string, args ...interface{}) (*invoice.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE ` + where + lock

	var inv invoice.Invoice
	if err := r.client.Querier(ctx).GetContext(ctx, &inv, query, args...); err != nil {
		return nil, postgres.WrapError(err, "invoice")
	}

	items, err := r.listLineItems(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	inv.LineItems = items
	return &inv, nil
}

func (r *invoiceRepository) listLineItems(ctx context.Context, invoiceID string) ([]*invoice.LineItem, error) {
	query := `SELECT ` + lineItemColumns + `
	FROM invoice_line_items
	WHERE invoice_id = $1 AND status = $2
	ORDER BY created_at ASC, id ASC`

	var items []*invoice.LineItem
	if err := r.client.Querier(ctx).SelectContext(ctx, &items, query, invoiceID, types.StatusPublished); err != nil {
		return nil, postgres.WrapError(err, "invoice line item")
	}
	return items, nil
}

func (r *invoiceRepository) ExistsForPeriod(ctx context.Context, subscriptionID string, start, end time.Time) (bool, error) {
	query := `
	SELECT EXISTS (
		SELECT 1 FROM invoices
		WHERE tenant_id = $1 AND subscription_id = $2
			AND billing_period_start = $3 AND billing_period_end = $4
	)`

	var exists bool
	err := r.client.Querier(ctx).GetContext(ctx, &exists, query,
		types.GetTenantID(ctx), subscriptionID, start, end)
	if err != nil {
		return false, postgres.WrapError(err, "invoice")
	}
	return exists, nil
}

func (r *invoiceRepository) GetNextInvoiceNumber(ctx context.Context, at time.Time) (string, error) {
	day := invoice.SequenceDay(at)

	query := `
	INSERT INTO invoice_sequences (day, last_value)
	VALUES ($1, 1)
	ON CONFLICT (day) DO UPDATE
	SET last_value = invoice_sequences.last_value + 1, updated_at = CURRENT_TIMESTAMP
	RETURNING last_value`

	var seq int64
	if err := r.client.Querier(ctx).GetContext(ctx, &seq, query, day); err != nil {
		return "", postgres.WrapError(err, "invoice sequence")
	}
	return invoice.FormatInvoiceNumber(day, seq), nil
}

func (r *invoiceRepository) Update(ctx context.Context, inv *invoice.Invoice) error {
	query := `
	UPDATE invoices SET
		invoice_status = $1,
		due_date = $2,
		base_amount = $3,
		addon_amount = $4,
		overage_amount = $5,
		discount_amount = $6,
		tax_amount = $7,
		total_amount = $8,
		paid_at = $9,
		payment_transaction_id = $10,
		payment_link_status = $11,
		payment_link_url = $12,
		metadata = $13,
		updated_at = $14,
		updated_by = $15,
		version = version + 1
	WHERE id = $16 AND tenant_id = $17 AND version = $18`

	res, err := r.client.Querier(ctx).ExecContext(ctx, query,
		inv.InvoiceStatus,
		inv.DueDate,
		inv.BaseAmount,
		inv.AddonAmount,
		inv.OverageAmount,
		inv.DiscountAmount,
		inv.TaxAmount,
		inv.TotalAmount,
		inv.PaidAt,
		inv.PaymentTransactionID,
		inv.PaymentLinkStatus,
		inv.PaymentLinkURL,
		inv.Metadata,
		inv.UpdatedAt,
		inv.UpdatedBy,
		inv.ID,
		inv.TenantID,
		inv.Version,
	)
	if err != nil {
		return postgres.WrapError(err, "invoice")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return postgres.WrapError(err, "invoice")
	}
	if n == 0 {
		return ierr.NewError("invoice was modified concurrently").
			WithHint("Invoice changed, please retry").
			WithReportableDetails(map[string]any{
				"invoice_id": inv.ID,
				"version":    inv.Version,
			}).
			Mark(ierr.ErrVersionConflict)
	}

	inv.Version++
	return nil
}

func (r *invoiceRepository) AddLineItems(ctx context.Context, invoiceID string, items []*invoice.LineItem) error {
	for _, li := range items {
		li.InvoiceID = invoiceID
	}
	return r.client.WithTx(ctx, func(ctx context.Context) error {
		return r.insertLineItems(ctx, items)
	})
}

func (r *invoiceRepository) filter(ctx context.Context, f *types.InvoiceFilter) *whereBuilder {
	w := &whereBuilder{}
	w.add("tenant_id = $%d", types.GetTenantID(ctx))
	if f.QueryFilter != nil {
		w.add("status = $%d", f.GetStatus())
	}
	if len(f.InvoiceIDs) > 0 {
		addAny(w, "id", f.InvoiceIDs)
	}
	if f.SubscriptionID != "" {
		w.add("subscription_id = $%d", f.SubscriptionID)
	}
	addAny(w, "invoice_status", f.InvoiceStatus)
	addAny(w, "payment_link_status", f.PaymentLinkStatus)
	if f.PeriodStart != nil {
		w.add("billing_period_start >= $%d", *f.PeriodStart)
	}
	if f.PeriodEnd != nil {
		w.add("billing_period_end <= $%d", *f.PeriodEnd)
	}
	if f.TimeRangeFilter != nil {
		if f.StartTime != nil {
			w.add("created_at >= $%d", *f.StartTime)
		}
		if f.EndTime != nil {
			w.add("created_at < $%d", *f.EndTime)
		}
	}
	return w
}

// List returns invoice headers; line items are loaded by Get
func (r *invoiceRepository) List(ctx context.Context, f *types.InvoiceFilter) ([]*invoice.Invoice, error) {
	if f == nil {
		f = types.NewInvoiceFilter()
	}
	w := r.filter(ctx, f)
	query := `SELECT ` + invoiceColumns + ` FROM invoices` + w.String() + w.page(f, invoiceSortColumns, "id")

	var invoices []*invoice.Invoice
	if err := r.client.Querier(ctx).SelectContext(ctx, &invoices, query, w.args...); err != nil {
		return nil, postgres.WrapError(err, "invoice")
	}
	return invoices, nil
}

// ListPaymentLinkRetries scans all tenants for payable invoices whose link generation failed
func (r *invoiceRepository) ListPaymentLinkRetries(ctx context.Context, limit int) ([]*invoice.Invoice, error) {
	query := `SELECT ` + invoiceColumns + `
	FROM invoices
	WHERE payment_link_status = $1 AND invoice_status = ANY($2) AND status = $3
	ORDER BY updated_at ASC, id ASC
	LIMIT $4`

	var invoices []*invoice.Invoice
	err := r.client.Querier(ctx).SelectContext(ctx, &invoices, query,
		types.PaymentLinkStatusFailed,
		pq.Array([]string{string(types.InvoiceStatusPending), string(types.InvoiceStatusFailed)}),
		types.StatusPublished,
		limit,
	)
	if err != nil {
		return nil, postgres.WrapError(err, "invoice")
	}
	return invoices, nil
}

func (r *invoiceRepository) Count(ctx context.Context, f *types.InvoiceFilter) (int, error) {
	if f == nil {
		f = types.NewInvoiceFilter()
	}
	w := r.filter(ctx, f)

	var n int
	if err := r.client.Querier(ctx).GetContext(ctx, &n, `SELECT COUNT(*) FROM invoices`+w.String(), w.args...); err != nil {
		return 0, postgres.WrapError(err, "invoice")
	}
	return n, nil
}
