package service

import (
	"testing"

	"github.com/agentmesh/billing/internal/api/dto"
	"github.com/agentmesh/billing/internal/domain/invoice"
	"github.com/agentmesh/billing/internal/domain/plan"
	"github.com/agentmesh/billing/internal/domain/subscription"
	ierr "github.com/agentmesh/billing/internal/errors"
	"github.com/agentmesh/billing/internal/testutil"
	"github.com/agentmesh/billing/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type InvoiceServiceSuite struct {
	testutil.BaseServiceTestSuite
	service  InvoiceService
	params   ServiceParams
	testData struct {
		plan *plan.Plan
		sub  *subscription.Subscription
		inv  *invoice.Invoice
	}
}

func TestInvoiceService(t *testing.T) {
	suite.Run(t, new(InvoiceServiceSuite))
}

func (s *InvoiceServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.params = newTestServiceParams(&s.BaseServiceTestSuite)
	s.service = NewInvoiceService(s.params)

	s.testData.plan = s.CreatePlan(testutil.PlanFixture{
		Name:               "Team",
		FinalPrice:         "100.00",
		IncludedExecutions: 1000,
		OveragePrice:       "0.01",
	})
	resp, err := NewSubscriptionService(s.params).CreateSubscription(s.GetContext(), dto.CreateSubscriptionRequest{PlanID: s.testData.plan.ID})
	s.Require().NoError(err)
	s.Require().NotNil(resp.Invoice)
	s.testData.sub = resp.Subscription
	s.testData.inv = resp.Invoice
}

func (s *InvoiceServiceSuite) TestComposedTotalMatchesLineItems() {
	inv, err := s.service.GetInvoice(s.GetContext(), s.testData.inv.ID)
	s.Require().NoError(err)

	s.True(inv.TotalAmount.Equal(inv.LineItemsTotal()))
	s.True(inv.BaseAmount.Equal(decimal.RequireFromString("100.00")))
	s.NoError(inv.CheckTotal())
	s.Equal(testutil.TestTenantID, inv.TenantID)
	s.NotEmpty(inv.IdempotencyKey)
	s.Equal(s.testData.plan.ID, inv.Metadata["plan_id"])
}

func (s *InvoiceServiceSuite) TestComposeSamePeriodTwice() {
	_, err := s.service.Compose(s.GetContext(), ComposeParams{
		Subscription: s.testData.sub,
		PeriodStart:  s.testData.sub.CurrentPeriodStart,
		PeriodEnd:    s.testData.sub.CurrentPeriodEnd,
	})
	s.Error(err)
	s.True(ierr.IsAlreadyExists(err))
}

func (s *InvoiceServiceSuite) TestComposeInvalidPeriod() {
	_, err := s.service.Compose(s.GetContext(), ComposeParams{
		Subscription: s.testData.sub,
		PeriodStart:  s.testData.sub.CurrentPeriodEnd,
		PeriodEnd:    s.testData.sub.CurrentPeriodStart,
	})
	s.Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *InvoiceServiceSuite) TestComposeIncludesAgentAddons() {
	for _, agentID := range []string{"agent_a", "agent_b"} {
		s.Require().NoError(s.GetStores().AgentSubscriptionRepo.Create(s.GetContext(), &subscription.AgentSubscription{
			ID:                      types.GenerateUUIDWithPrefix(types.UUID_PREFIX_AGENT_SUBSCRIPTION),
			AgentID:                 agentID,
			MonthlyPrice:            decimal.RequireFromString("15.00"),
			AgentSubscriptionStatus: types.AgentSubscriptionStatusActive,
			CurrentPeriodStart:      s.GetNow(),
			CurrentPeriodEnd:        s.GetNow().AddDate(0, 1, 0),
			NextBillingDate:         s.GetNow().AddDate(0, 1, 0),
			AutoRenew:               true,
			BaseModel:               types.GetDefaultBaseModel(s.GetContext(), s.GetNow()),
		}))
	}

	start := s.testData.sub.CurrentPeriodEnd
	inv, err := s.service.Compose(s.GetContext(), ComposeParams{
		Subscription: s.testData.sub,
		PeriodStart:  start,
		PeriodEnd:    start.AddDate(0, 1, 0),
	})
	s.Require().NoError(err)

	addons := lo.Filter(inv.LineItems, func(li *invoice.LineItem, _ int) bool {
		return li.ItemType == types.InvoiceLineItemTypeAgentAddon
	})
	s.Len(addons, 2)
	s.True(inv.AddonAmount.Equal(decimal.RequireFromString("30.00")))
	s.True(inv.TotalAmount.Equal(decimal.RequireFromString("130.00")))
}

func (s *InvoiceServiceSuite) TestComposeRetriesInvoiceNumberCollision() {
	// a row holding the next number, as a concurrent writer would leave it
	taken := invoice.FormatInvoiceNumber(invoice.SequenceDay(s.GetNow()), 2)
	s.Require().NoError(s.GetStores().InvoiceRepo.Create(s.GetContext(), &invoice.Invoice{
		ID:                 types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE),
		SubscriptionID:     "subs_elsewhere",
		InvoiceNumber:      taken,
		InvoiceStatus:      types.InvoiceStatusPaid,
		BillingPeriodStart: s.GetNow(),
		BillingPeriodEnd:   s.GetNow().AddDate(0, 1, 0),
		BaseModel:          types.GetDefaultBaseModel(s.GetContext(), s.GetNow()),
	}))

	start := s.testData.sub.CurrentPeriodEnd
	inv, err := s.service.Compose(s.GetContext(), ComposeParams{
		Subscription: s.testData.sub,
		PeriodStart:  start,
		PeriodEnd:    start.AddDate(0, 1, 0),
	})
	s.Require().NoError(err)
	s.NotEqual(taken, inv.InvoiceNumber)
	s.Regexp(invoiceNumberPattern, inv.InvoiceNumber)
}

func (s *InvoiceServiceSuite) TestAddLineItem() {
	testCases := []struct {
		name        string
		request     dto.AddLineItemRequest
		wantTotal   string
		expectedErr func(error) bool
	}{
		{
			name: "discount_is_negative",
			request: dto.AddLineItemRequest{
				ItemType:    types.InvoiceLineItemTypeDiscount,
				Description: "Launch discount",
				Amount:      decimal.RequireFromString("10.00"),
				Code:        "LAUNCH",
			},
			wantTotal: "90.00",
		},
		{
			name: "tax_adds",
			request: dto.AddLineItemRequest{
				ItemType:    types.InvoiceLineItemTypeTax,
				Description: "VAT",
				Amount:      decimal.RequireFromString("14.00"),
				TaxName:     "VAT",
				Rate:        decimal.RequireFromString("0.14"),
			},
			wantTotal: "114.00",
		},
		{
			name: "discount_cannot_exceed_total",
			request: dto.AddLineItemRequest{
				ItemType:    types.InvoiceLineItemTypeDiscount,
				Description: "Too much",
				Amount:      decimal.RequireFromString("150.00"),
			},
			expectedErr: ierr.IsValidation,
		},
		{
			name: "base_plan_lines_are_not_manual",
			request: dto.AddLineItemRequest{
				ItemType:    types.InvoiceLineItemTypeBasePlan,
				Description: "Extra",
				Amount:      decimal.RequireFromString("1.00"),
			},
			expectedErr: ierr.IsValidation,
		},
		{
			name: "zero_amount",
			request: dto.AddLineItemRequest{
				ItemType:    types.InvoiceLineItemTypeTax,
				Description: "Nothing",
			},
			expectedErr: ierr.IsValidation,
		},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			s.SetupTest()

			resp, err := s.service.AddLineItem(s.GetContext(), s.testData.inv.ID, tc.request)
			if tc.expectedErr != nil {
				s.Error(err)
				s.True(tc.expectedErr(err), "unexpected error: %v", err)

				stored, err := s.service.GetInvoice(s.GetContext(), s.testData.inv.ID)
				s.Require().NoError(err)
				s.True(stored.TotalAmount.Equal(s.testData.inv.TotalAmount))
				return
			}

			s.Require().NoError(err)
			s.True(resp.TotalAmount.Equal(decimal.RequireFromString(tc.wantTotal)), "total %s", resp.TotalAmount)
			s.True(resp.TotalAmount.Equal(resp.LineItemsTotal()))

			stored, err := s.service.GetInvoice(s.GetContext(), s.testData.inv.ID)
			s.Require().NoError(err)
			s.True(stored.TotalAmount.Equal(resp.TotalAmount))
			s.Len(stored.LineItems, len(s.testData.inv.LineItems)+1)
			s.Equal(types.PaymentLinkStatusPending, stored.PaymentLinkStatus)
			s.Nil(stored.PaymentLinkURL)
		})
	}
}

func (s *InvoiceServiceSuite) TestAddLineItemToPaidInvoice() {
	inv, err := s.GetStores().InvoiceRepo.Get(s.GetContext(), s.testData.inv.ID)
	s.Require().NoError(err)
	inv.InvoiceStatus = types.InvoiceStatusPaid
	inv.PaidAt = lo.ToPtr(s.GetNow())
	s.Require().NoError(s.GetStores().InvoiceRepo.Update(s.GetContext(), inv))

	_, err = s.service.AddLineItem(s.GetContext(), inv.ID, dto.AddLineItemRequest{
		ItemType:    types.InvoiceLineItemTypeTax,
		Description: "Late tax",
		Amount:      decimal.RequireFromString("1.00"),
	})
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))
}

func (s *InvoiceServiceSuite) TestRecalculateInvoiceIsStable() {
	before := len(s.GetPubSub().GetMessages(TopicPaymentLink))

	resp, err := s.service.RecalculateInvoice(s.GetContext(), s.testData.inv.ID)
	s.Require().NoError(err)
	s.True(resp.TotalAmount.Equal(s.testData.inv.TotalAmount))

	// an unchanged total does not request a new link
	s.Len(s.GetPubSub().GetMessages(TopicPaymentLink), before)
}

func (s *InvoiceServiceSuite) TestListInvoices() {
	filter := types.NewInvoiceFilter()
	filter.InvoiceStatus = []types.InvoiceStatus{types.InvoiceStatusPending}

	resp, err := s.service.ListInvoices(s.GetContext(), filter)
	s.Require().NoError(err)
	s.Len(resp.Items, 1)
	s.Equal(1, resp.Pagination.Total)

	other, err := s.service.ListInvoices(testutil.ContextForTenant("tenant_other"), types.NewInvoiceFilter())
	s.Require().NoError(err)
	s.Empty(other.Items)
}

func (s *InvoiceServiceSuite) TestGetByNumber() {
	inv, err := s.service.GetByNumber(s.GetContext(), s.testData.inv.InvoiceNumber)
	s.Require().NoError(err)
	s.Equal(s.testData.inv.ID, inv.ID)

	_, err = s.service.GetByNumber(s.GetContext(), "INV-19700101-00001")
	s.True(ierr.IsNotFound(err))
}
