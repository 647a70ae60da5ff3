package invoice

import (
	"time"

	ierr "github.com/agentmesh/billing/internal/errors"
	"github.com/agentmesh/billing/internal/types"
	"github.com/shopspring/decimal"
)

// Invoice is the billing document for one subscription period
type Invoice struct {
	ID                   string                  `db:"id" json:"id"`
	SubscriptionID       string                  `db:"subscription_id" json:"subscription_id"`
	InvoiceNumber        string                  `db:"invoice_number" json:"invoice_number"`
	InvoiceStatus        types.InvoiceStatus     `db:"invoice_status" json:"invoice_status"`
	Currency             string                  `db:"currency" json:"currency"`
	BillingPeriodStart   time.Time               `db:"billing_period_start" json:"billing_period_start"`
	BillingPeriodEnd     time.Time               `db:"billing_period_end" json:"billing_period_end"`
	DueDate              time.Time               `db:"due_date" json:"due_date"`
	BaseAmount           decimal.Decimal         `db:"base_amount" json:"base_amount"`
	AddonAmount          decimal.Decimal         `db:"addon_amount" json:"addon_amount"`
	OverageAmount        decimal.Decimal         `db:"overage_amount" json:"overage_amount"`
	DiscountAmount       decimal.Decimal         `db:"discount_amount" json:"discount_amount"`
	TaxAmount            decimal.Decimal         `db:"tax_amount" json:"tax_amount"`
	TotalAmount          decimal.Decimal         `db:"total_amount" json:"total_amount"`
	PaidAt               *time.Time              `db:"paid_at" json:"paid_at,omitempty"`
	PaymentTransactionID *string                 `db:"payment_transaction_id" json:"payment_transaction_id,omitempty"`
	PaymentLinkStatus    types.PaymentLinkStatus `db:"payment_link_status" json:"payment_link_status"`
	PaymentLinkURL       *string                 `db:"payment_link_url" json:"payment_link_url,omitempty"`
	IdempotencyKey       string                  `db:"idempotency_key" json:"idempotency_key"`
	Metadata             types.Metadata          `db:"metadata" json:"metadata,omitempty"`
	Version              int                     `db:"version" json:"version"`

	LineItems []*LineItem `db:"-" json:"line_items,omitempty"`

	types.BaseModel
}

// RecalculateTotal rebuilds the denormalized amounts and total_amount from the
// line items. It is the only writer of TotalAmount.
func (inv *Invoice) RecalculateTotal() error {
	base, addon, overage := decimal.Zero, decimal.Zero, decimal.Zero
	discount, tax := decimal.Zero, decimal.Zero

	for _, item := range inv.LineItems {
		switch item.ItemType {
		case types.InvoiceLineItemTypeBasePlan:
			base = base.Add(item.TotalPrice)
		case types.InvoiceLineItemTypeAgentAddon:
			addon = addon.Add(item.TotalPrice)
		case types.InvoiceLineItemTypeUsageOverage:
			overage = overage.Add(item.TotalPrice)
		case types.InvoiceLineItemTypeDiscount:
			discount = discount.Add(item.TotalPrice)
		case types.InvoiceLineItemTypeTax:
			tax = tax.Add(item.TotalPrice)
		default:
			return ierr.NewErrorf("unknown line item type %q", item.ItemType).
				WithHint("Invoice contains an unsupported line item").
				WithReportableDetails(map[string]any{
					"invoice_id": inv.ID,
					"item_type":  item.ItemType,
				}).
				Mark(ierr.ErrInvariantViolation)
		}
	}

	inv.BaseAmount = base
	inv.AddonAmount = addon
	inv.OverageAmount = overage
	inv.DiscountAmount = discount
	inv.TaxAmount = tax
	inv.TotalAmount = base.Add(addon).Add(overage).Add(discount).Add(tax)

	return inv.CheckTotal()
}

// LineItemsTotal sums total_price over all line items
func (inv *Invoice) LineItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range inv.LineItems {
		total = total.Add(item.TotalPrice)
	}
	return total
}

// CheckTotal verifies total_amount equals the sum of the line items
func (inv *Invoice) CheckTotal() error {
	sum := inv.LineItemsTotal()
	if !inv.TotalAmount.Equal(sum) {
		return ierr.NewError("invoice total does not match line items").
			WithHint("Invoice total is inconsistent").
			WithReportableDetails(map[string]any{
				"invoice_id":   inv.ID,
				"total_amount": inv.TotalAmount.String(),
				"line_items":   sum.String(),
			}).
			Mark(ierr.ErrInvariantViolation)
	}
	return nil
}

// IsPayable reports whether the invoice should get a payment link
func (inv *Invoice) IsPayable() bool {
	return inv.InvoiceStatus.IsPayable() && inv.TotalAmount.IsPositive()
}

// CoversPeriod reports whether the invoice bills exactly the given period
func (inv *Invoice) CoversPeriod(start, end time.Time) bool {
	return inv.BillingPeriodStart.Equal(start) && inv.BillingPeriodEnd.Equal(end)
}

func (inv *Invoice) Validate() error {
	if inv.SubscriptionID == "" {
		return ierr.NewError("subscription_id is required").
			WithHint("Invoice must reference a subscription").
			Mark(ierr.ErrValidation)
	}
	if err := inv.InvoiceStatus.Validate(); err != nil {
		return err
	}
	if !inv.BillingPeriodEnd.After(inv.BillingPeriodStart) {
		return ierr.NewError("billing period end must be after start").
			WithHint("Invalid billing period").
			Mark(ierr.ErrValidation)
	}
	for _, item := range inv.LineItems {
		if err := item.Validate(); err != nil {
			return err
		}
	}
	return nil
}
