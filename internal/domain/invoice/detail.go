package invoice

import (
	"time"

	ierr "github.com/agentmesh/billing/internal/errors"
	"github.com/agentmesh/billing/internal/types"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Detail is the variant payload of a line item, discriminated by item_type
type Detail interface {
	ItemType() types.InvoiceLineItemType
}

// BasePlanDetail describes the plan charge for the period
type BasePlanDetail struct {
	PlanID            string             `json:"plan_id"`
	PlanName          string             `json:"plan_name"`
	BillingCycle      types.BillingCycle `json:"billing_cycle"`
	MonthlyEquivalent decimal.Decimal    `json:"monthly_equivalent"`
}

func (BasePlanDetail) ItemType() types.InvoiceLineItemType {
	return types.InvoiceLineItemTypeBasePlan
}

type AgentAddonDetail struct {
	AgentSubscriptionID string `json:"agent_subscription_id"`
	AgentID             string `json:"agent_id"`
}

func (AgentAddonDetail) ItemType() types.InvoiceLineItemType {
	return types.InvoiceLineItemTypeAgentAddon
}

// UsageOverageDetail records how the overage quantity was derived
type UsageOverageDetail struct {
	ExecutionQuota int64     `json:"execution_quota"`
	ExecutionsUsed int64     `json:"executions_used"`
	PeriodStart    time.Time `json:"period_start"`
	PeriodEnd      time.Time `json:"period_end"`
}

func (UsageOverageDetail) ItemType() types.InvoiceLineItemType {
	return types.InvoiceLineItemTypeUsageOverage
}

type DiscountDetail struct {
	Reason string `json:"reason,omitempty"`
	Code   string `json:"code,omitempty"`
}

func (DiscountDetail) ItemType() types.InvoiceLineItemType {
	return types.InvoiceLineItemTypeDiscount
}

type TaxDetail struct {
	TaxName string          `json:"tax_name,omitempty"`
	Rate    decimal.Decimal `json:"rate"`
}

func (TaxDetail) ItemType() types.InvoiceLineItemType {
	return types.InvoiceLineItemTypeTax
}

// EncodeDetail serializes a variant for the metadata column
func EncodeDetail(d Detail) (types.RawJSON, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to encode line item detail").
			Mark(ierr.ErrSystem)
	}
	return types.RawJSON(b), nil
}

// DecodeDetail reads a metadata payload back into the variant for itemType
func DecodeDetail(itemType types.InvoiceLineItemType, raw []byte) (Detail, error) {
	var d Detail
	switch itemType {
	case types.InvoiceLineItemTypeBasePlan:
		d = &BasePlanDetail{}
	case types.InvoiceLineItemTypeAgentAddon:
		d = &AgentAddonDetail{}
	case types.InvoiceLineItemTypeUsageOverage:
		d = &UsageOverageDetail{}
	case types.InvoiceLineItemTypeDiscount:
		d = &DiscountDetail{}
	case types.InvoiceLineItemTypeTax:
		d = &TaxDetail{}
	default:
		return nil, ierr.NewErrorf("unknown line item type %q", itemType).
			WithHint("Unsupported line item type").
			Mark(ierr.ErrValidation)
	}

	if len(raw) == 0 {
		return d, nil
	}
	if err := json.Unmarshal(raw, d); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Line item metadata does not match its type").
			WithReportableDetails(map[string]any{"item_type": itemType}).
			Mark(ierr.ErrValidation)
	}
	return d, nil
}
