package dto

import (
	"github.com/agentmesh/billing/internal/domain/invoice"
	ierr "github.com/agentmesh/billing/internal/errors"
	"github.com/agentmesh/billing/internal/types"
	"github.com/agentmesh/billing/internal/validator"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// AddLineItemRequest appends a manual adjustment to an editable invoice
type AddLineItemRequest struct {
	ItemType    types.InvoiceLineItemType `json:"item_type" validate:"required,oneof=discount tax"`
	Description string                    `json:"description" validate:"required,max=255"`
	Amount      decimal.Decimal           `json:"amount"`
	Reason      string                    `json:"reason,omitempty"`
	Code        string                    `json:"code,omitempty"`
	TaxName     string                    `json:"tax_name,omitempty"`
	Rate        decimal.Decimal           `json:"rate,omitempty"`
}

func (r *AddLineItemRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if r.Amount.IsZero() {
		return ierr.NewError("amount is required").
			WithHint("Adjustment amount cannot be zero").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// Detail returns the line item variant payload for the request
func (r *AddLineItemRequest) Detail() invoice.Detail {
	if r.ItemType == types.InvoiceLineItemTypeDiscount {
		return invoice.DiscountDetail{Reason: r.Reason, Code: r.Code}
	}
	return invoice.TaxDetail{TaxName: r.TaxName, Rate: r.Rate}
}

// TotalPrice returns the signed total: discounts are always negative
func (r *AddLineItemRequest) TotalPrice() decimal.Decimal {
	if r.ItemType == types.InvoiceLineItemTypeDiscount {
		return r.Amount.Abs().Neg()
	}
	return r.Amount
}

type InvoiceResponse struct {
	*invoice.Invoice
}

func NewInvoiceResponse(inv *invoice.Invoice) *InvoiceResponse {
	return &InvoiceResponse{Invoice: inv}
}

type ListInvoicesResponse = types.ListResponse[*InvoiceResponse]

func NewListInvoicesResponse(items []*invoice.Invoice, total, limit, offset int) *ListInvoicesResponse {
	resp := types.NewListResponse(lo.Map(items, func(inv *invoice.Invoice, _ int) *InvoiceResponse {
		return NewInvoiceResponse(inv)
	}), total, limit, offset)
	return &resp
}
