package payment

import (
	"time"

	ierr "github.com/agentmesh/billing/internal/errors"
	"github.com/agentmesh/billing/internal/types"
	"github.com/shopspring/decimal"
)

// PaymentTransaction is one gateway transaction applied to an invoice.
// GatewayTransactionID is unique and makes webhook redelivery idempotent.
type PaymentTransaction struct {
	ID                   string                  `db:"id" json:"id"`
	InvoiceID            string                  `db:"invoice_id" json:"invoice_id"`
	GatewayTransactionID string                  `db:"gateway_transaction_id" json:"gateway_transaction_id"`
	TransactionStatus    types.TransactionStatus `db:"transaction_status" json:"transaction_status"`
	Amount               decimal.Decimal         `db:"amount" json:"amount"`
	Currency             string                  `db:"currency" json:"currency"`
	PaidAt               *time.Time              `db:"paid_at" json:"paid_at,omitempty"`
	FailedAt             *time.Time              `db:"failed_at" json:"failed_at,omitempty"`
	RefundedAt           *time.Time              `db:"refunded_at" json:"refunded_at,omitempty"`
	RawGatewayResponse   types.RawJSON           `db:"raw_gateway_response" json:"raw_gateway_response,omitempty"`
	types.BaseModel
}

// ApplyStatus moves the transaction to status and stamps the matching timestamp
func (p *PaymentTransaction) ApplyStatus(status types.TransactionStatus, at time.Time) {
	p.TransactionStatus = status
	switch status {
	case types.TransactionStatusCompleted:
		p.PaidAt = &at
	case types.TransactionStatusFailed:
		p.FailedAt = &at
	case types.TransactionStatusRefunded:
		p.RefundedAt = &at
	}
}

func (p *PaymentTransaction) Validate() error {
	if p.GatewayTransactionID == "" {
		return ierr.NewError("gateway_transaction_id is required").
			WithHint("Payment transaction must carry the gateway id").
			Mark(ierr.ErrValidation)
	}
	if p.InvoiceID == "" {
		return ierr.NewError("invoice_id is required").
			WithHint("Payment transaction must reference an invoice").
			Mark(ierr.ErrValidation)
	}
	if p.Amount.IsNegative() {
		return ierr.NewError("amount cannot be negative").
			WithHint("Payment amount cannot be negative").
			Mark(ierr.ErrValidation)
	}
	return p.TransactionStatus.Validate()
}
