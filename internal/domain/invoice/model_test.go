package invoice

import (
	"testing"

	ierr "github.com/agentmesh/billing/internal/errors"
	"github.com/agentmesh/billing/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func line(t types.InvoiceLineItemType, total string) *LineItem {
	d := decimal.RequireFromString(total)
	return &LineItem{ItemType: t, Quantity: decimal.NewFromInt(1), UnitPrice: d, TotalPrice: d}
}

func TestRecalculateTotal(t *testing.T) {
	inv := &Invoice{
		ID: "inv_1",
		LineItems: []*LineItem{
			line(types.InvoiceLineItemTypeBasePlan, "49.00"),
			line(types.InvoiceLineItemTypeAgentAddon, "5.00"),
			line(types.InvoiceLineItemTypeAgentAddon, "5.00"),
			line(types.InvoiceLineItemTypeUsageOverage, "2.00"),
			line(types.InvoiceLineItemTypeDiscount, "-10.00"),
			line(types.InvoiceLineItemTypeTax, "7.14"),
		},
	}

	require.NoError(t, inv.RecalculateTotal())

	assert.Equal(t, "49", inv.BaseAmount.String())
	assert.Equal(t, "10", inv.AddonAmount.String())
	assert.Equal(t, "2", inv.OverageAmount.String())
	assert.Equal(t, "-10", inv.DiscountAmount.String())
	assert.Equal(t, "7.14", inv.TotalAmount.Sub(decimal.NewFromInt(51)).String())
	assert.True(t, inv.TotalAmount.Equal(inv.LineItemsTotal()))
}

func TestRecalculateTotalIsStableAfterAppend(t *testing.T) {
	inv := &Invoice{LineItems: []*LineItem{line(types.InvoiceLineItemTypeBasePlan, "20")}}
	require.NoError(t, inv.RecalculateTotal())
	require.NoError(t, inv.RecalculateTotal())
	assert.Equal(t, "20", inv.TotalAmount.String())

	inv.LineItems = append(inv.LineItems, line(types.InvoiceLineItemTypeTax, "2.8"))
	require.NoError(t, inv.RecalculateTotal())
	assert.Equal(t, "22.8", inv.TotalAmount.String())
}

func TestCheckTotalDetectsDrift(t *testing.T) {
	inv := &Invoice{LineItems: []*LineItem{line(types.InvoiceLineItemTypeBasePlan, "20")}}
	require.NoError(t, inv.RecalculateTotal())

	inv.TotalAmount = decimal.NewFromInt(25)
	assert.True(t, ierr.IsInvariantViolation(inv.CheckTotal()))
}

func TestLineItemValidateSign(t *testing.T) {
	assert.NoError(t, line(types.InvoiceLineItemTypeDiscount, "-1").Validate())
	assert.True(t, ierr.IsValidation(line(types.InvoiceLineItemTypeDiscount, "1").Validate()))
	assert.True(t, ierr.IsValidation(line(types.InvoiceLineItemTypeTax, "-1").Validate()))
}

func TestDecodeDetail(t *testing.T) {
	raw, err := EncodeDetail(UsageOverageDetail{ExecutionQuota: 1000, ExecutionsUsed: 1200})
	require.NoError(t, err)

	li := &LineItem{ItemType: types.InvoiceLineItemTypeUsageOverage, Metadata: raw}
	d, err := li.Detail()
	require.NoError(t, err)

	overage, ok := d.(*UsageOverageDetail)
	require.True(t, ok)
	assert.Equal(t, int64(1200), overage.ExecutionsUsed)

	_, err = DecodeDetail("bogus", nil)
	assert.True(t, ierr.IsValidation(err))
}

func TestFormatInvoiceNumber(t *testing.T) {
	assert.Equal(t, "INV-20240131-00042", FormatInvoiceNumber("20240131", 42))
}
