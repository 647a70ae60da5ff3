package payment

import "context"

type Repository interface {
	// CreateIfAbsent inserts with ON CONFLICT (gateway_transaction_id) DO NOTHING
	// and reports whether this call created the row
	CreateIfAbsent(ctx context.Context, txn *PaymentTransaction) (bool, error)

	Get(ctx context.Context, id string) (*PaymentTransaction, error)
	GetByGatewayTransactionID(ctx context.Context, gatewayTransactionID string) (*PaymentTransaction, error)
	Update(ctx context.Context, txn *PaymentTransaction) error
	ListByInvoice(ctx context.Context, invoiceID string) ([]*PaymentTransaction, error)
}
