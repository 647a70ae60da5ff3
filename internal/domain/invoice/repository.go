package invoice

import (
	"context"
	"time"

	"github.com/agentmesh/billing/internal/types"
)

// Repository defines the interface for invoice persistence operations
type Repository interface {
	// Create inserts the invoice together with its line items
	Create(ctx context.Context, inv *Invoice) error

	// Get retrieves an invoice with its line items
	Get(ctx context.Context, id string) (*Invoice, error)

	// GetForUpdate locks the invoice row. Must run inside a transaction.
	GetForUpdate(ctx context.Context, id string) (*Invoice, error)

	GetByNumber(ctx context.Context, invoiceNumber string) (*Invoice, error)

	// ExistsForPeriod reports whether the subscription already has an invoice for the period
	ExistsForPeriod(ctx context.Context, subscriptionID string, start, end time.Time) (bool, error)

	// GetNextInvoiceNumber advances the daily counter for at and formats the number
	GetNextInvoiceNumber(ctx context.Context, at time.Time) (string, error)

	// Update writes the invoice header; version mismatch yields ErrVersionConflict
	Update(ctx context.Context, inv *Invoice) error

	// AddLineItems appends line items to an existing invoice
	AddLineItems(ctx context.Context, invoiceID string, items []*LineItem) error

	// ListPaymentLinkRetries returns payable invoices of any tenant whose link generation failed
	ListPaymentLinkRetries(ctx context.Context, limit int) ([]*Invoice, error)

	List(ctx context.Context, filter *types.InvoiceFilter) ([]*Invoice, error)
	Count(ctx context.Context, filter *types.InvoiceFilter) (int, error)
}
