package invoice

import (
	ierr "github.com/agentmesh/billing/internal/errors"
	"github.com/agentmesh/billing/internal/types"
	"github.com/shopspring/decimal"
)

// LineItem is the shared envelope of every invoice line. The variant specific
// fields live in Metadata and are read back through Detail.
type LineItem struct {
	ID          string                    `db:"id" json:"id"`
	InvoiceID   string                    `db:"invoice_id" json:"invoice_id"`
	ItemType    types.InvoiceLineItemType `db:"item_type" json:"item_type"`
	Description string                    `db:"description" json:"description"`
	Quantity    decimal.Decimal           `db:"quantity" json:"quantity"`
	UnitPrice   decimal.Decimal           `db:"unit_price" json:"unit_price"`
	TotalPrice  decimal.Decimal           `db:"total_price" json:"total_price"`
	Metadata    types.RawJSON             `db:"metadata" json:"metadata,omitempty"`
	types.BaseModel
}

// Detail decodes the variant payload selected by ItemType
func (li *LineItem) Detail() (Detail, error) {
	return DecodeDetail(li.ItemType, li.Metadata)
}

func (li *LineItem) Validate() error {
	if err := li.ItemType.Validate(); err != nil {
		return err
	}
	if li.Quantity.IsNegative() {
		return ierr.NewError("quantity cannot be negative").
			WithHint("Line item quantity cannot be negative").
			Mark(ierr.ErrValidation)
	}

	switch li.ItemType {
	case types.InvoiceLineItemTypeDiscount:
		if li.TotalPrice.IsPositive() {
			return ierr.NewError("discount must carry a negative total").
				WithHint("Discount amounts are recorded as negative totals").
				WithReportableDetails(map[string]any{"total_price": li.TotalPrice.String()}).
				Mark(ierr.ErrValidation)
		}
	default:
		if li.TotalPrice.IsNegative() {
			return ierr.NewError("line item total cannot be negative").
				WithHint("Only discounts may carry a negative total").
				WithReportableDetails(map[string]any{
					"item_type":   li.ItemType,
					"total_price": li.TotalPrice.String(),
				}).
				Mark(ierr.ErrValidation)
		}
	}
	return nil
}
