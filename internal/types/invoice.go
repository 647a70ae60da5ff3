package types

import (
	"time"

	ierr "github.com/agentmesh/billing/internal/errors"
	"github.com/samber/lo"
)

// InvoiceStatus represents the current state of an invoice in its lifecycle
type InvoiceStatus string

const (
	// InvoiceStatusDraft indicates the invoice can still be modified
	InvoiceStatusDraft InvoiceStatus = "draft"
	// InvoiceStatusPending indicates the invoice is issued and awaiting payment
	InvoiceStatusPending InvoiceStatus = "pending"
	InvoiceStatusPaid    InvoiceStatus = "paid"
	// InvoiceStatusFailed indicates the last payment attempt failed; the invoice stays payable
	InvoiceStatusFailed    InvoiceStatus = "failed"
	InvoiceStatusRefunded  InvoiceStatus = "refunded"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
	InvoiceStatusVoid      InvoiceStatus = "void"
)

func (s InvoiceStatus) String() string {
	return string(s)
}

func (s InvoiceStatus) Validate() error {
	allowed := []InvoiceStatus{
		InvoiceStatusDraft,
		InvoiceStatusPending,
		InvoiceStatusPaid,
		InvoiceStatusFailed,
		InvoiceStatusRefunded,
		InvoiceStatusCancelled,
		InvoiceStatusVoid,
	}
	if !lo.Contains(allowed, s) {
		return ierr.NewError("invalid invoice status").
			WithHint("Please provide a valid invoice status").
			WithReportableDetails(map[string]any{
				"allowed": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// IsPayable reports whether a gateway payment can still settle the invoice
func (s InvoiceStatus) IsPayable() bool {
	return s == InvoiceStatusPending || s == InvoiceStatusFailed
}

// IsEditable reports whether line items may still be appended
func (s InvoiceStatus) IsEditable() bool {
	return s == InvoiceStatusDraft || s == InvoiceStatusPending
}

// InvoiceLineItemType discriminates the line item variants
type InvoiceLineItemType string

const (
	InvoiceLineItemTypeBasePlan     InvoiceLineItemType = "base_plan"
	InvoiceLineItemTypeAgentAddon   InvoiceLineItemType = "agent_addon"
	InvoiceLineItemTypeUsageOverage InvoiceLineItemType = "usage_overage"
	InvoiceLineItemTypeDiscount     InvoiceLineItemType = "discount"
	InvoiceLineItemTypeTax          InvoiceLineItemType = "tax"
)

func (t InvoiceLineItemType) Validate() error {
	allowed := []InvoiceLineItemType{
		InvoiceLineItemTypeBasePlan,
		InvoiceLineItemTypeAgentAddon,
		InvoiceLineItemTypeUsageOverage,
		InvoiceLineItemTypeDiscount,
		InvoiceLineItemTypeTax,
	}
	if !lo.Contains(allowed, t) {
		return ierr.NewError("invalid line item type").
			WithHint("Please provide a valid line item type").
			WithReportableDetails(map[string]any{
				"item_type": t,
				"allowed":   allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// PaymentLinkStatus tracks the out-of-band gateway payment link generation
type PaymentLinkStatus string

const (
	PaymentLinkStatusNotRequested PaymentLinkStatus = "not_requested"
	PaymentLinkStatusPending      PaymentLinkStatus = "pending"
	PaymentLinkStatusGenerated    PaymentLinkStatus = "generated"
	PaymentLinkStatusFailed       PaymentLinkStatus = "failed"
)

// InvoiceFilter represents the filter options for listing invoices
type InvoiceFilter struct {
	*QueryFilter
	*TimeRangeFilter

	InvoiceIDs        []string            `json:"invoice_ids,omitempty" form:"invoice_ids"`
	SubscriptionID    string              `json:"subscription_id,omitempty" form:"subscription_id"`
	InvoiceStatus     []InvoiceStatus     `json:"invoice_status,omitempty" form:"invoice_status"`
	PaymentLinkStatus []PaymentLinkStatus `json:"payment_link_status,omitempty" form:"payment_link_status"`
	PeriodStart       *time.Time          `json:"period_start,omitempty" form:"period_start"`
	PeriodEnd         *time.Time          `json:"period_end,omitempty" form:"period_end"`
}

// NewInvoiceFilter creates a new invoice filter with default options
func NewInvoiceFilter() *InvoiceFilter {
	return &InvoiceFilter{
		QueryFilter: NewDefaultQueryFilter(),
	}
}

// NewNoLimitInvoiceFilter creates a new invoice filter without pagination
func NewNoLimitInvoiceFilter() *InvoiceFilter {
	return &InvoiceFilter{
		QueryFilter: NewNoLimitQueryFilter(),
	}
}

// Validate validates the invoice filter
func (f InvoiceFilter) Validate() error {
	if f.QueryFilter != nil {
		if err := f.QueryFilter.Validate(); err != nil {
			return err
		}
	}
	if f.TimeRangeFilter != nil {
		if err := f.TimeRangeFilter.Validate(); err != nil {
			return err
		}
	}
	for _, s := range f.InvoiceStatus {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// GetLimit implements BaseFilter interface
func (f *InvoiceFilter) GetLimit() int {
	if f.QueryFilter == nil {
		return NewDefaultQueryFilter().GetLimit()
	}
	return f.QueryFilter.GetLimit()
}

// GetOffset implements BaseFilter interface
func (f *InvoiceFilter) GetOffset() int {
	if f.QueryFilter == nil {
		return NewDefaultQueryFilter().GetOffset()
	}
	return f.QueryFilter.GetOffset()
}

// IsUnlimited returns true if this is an unlimited query
func (f *InvoiceFilter) IsUnlimited() bool {
	if f.QueryFilter == nil {
		return NewDefaultQueryFilter().IsUnlimited()
	}
	return f.QueryFilter.IsUnlimited()
}
