package service

import (
	"regexp"
	"testing"
	"time"

	"github.com/agentmesh/billing/internal/api/dto"
	"github.com/agentmesh/billing/internal/domain/plan"
	ierr "github.com/agentmesh/billing/internal/errors"
	"github.com/agentmesh/billing/internal/testutil"
	"github.com/agentmesh/billing/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

var invoiceNumberPattern = regexp.MustCompile(`^INV-\d{8}-\d{5}$`)

type SubscriptionServiceSuite struct {
	testutil.BaseServiceTestSuite
	service  SubscriptionService
	testData struct {
		paid      *plan.Plan
		trialPaid *plan.Plan
		freeTrial *plan.Plan
		annual    *plan.Plan
	}
}

func TestSubscriptionService(t *testing.T) {
	suite.Run(t, new(SubscriptionServiceSuite))
}

func (s *SubscriptionServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewSubscriptionService(newTestServiceParams(&s.BaseServiceTestSuite))

	s.testData.paid = s.CreatePlan(testutil.PlanFixture{
		Name:               "Pro",
		FinalPrice:         "49.00",
		IncludedExecutions: 1000,
		OveragePrice:       "0.01",
	})
	s.testData.trialPaid = s.CreatePlan(testutil.PlanFixture{
		Name:               "Pro Trial",
		FinalPrice:         "49.00",
		IncludedExecutions: 1000,
		TrialDays:          14,
	})
	s.testData.freeTrial = s.CreatePlan(testutil.PlanFixture{
		Name:               "Free",
		FinalPrice:         "0",
		IncludedExecutions: 100,
		TrialDays:          14,
	})
	s.testData.annual = s.CreatePlan(testutil.PlanFixture{
		Name:               "Pro Annual",
		BillingCycle:       types.BillingCycleAnnual,
		FinalPrice:         "490.00",
		IncludedExecutions: 12000,
	})
}

func (s *SubscriptionServiceSuite) subscribe(p *plan.Plan) *dto.SubscriptionResponse {
	resp, err := s.service.CreateSubscription(s.GetContext(), dto.CreateSubscriptionRequest{PlanID: p.ID})
	s.Require().NoError(err)
	return resp
}

func (s *SubscriptionServiceSuite) listInvoices(subscriptionID string) []*dto.InvoiceResponse {
	filter := types.NewInvoiceFilter()
	filter.SubscriptionID = subscriptionID
	resp, err := NewInvoiceService(newTestServiceParams(&s.BaseServiceTestSuite)).ListInvoices(s.GetContext(), filter)
	s.Require().NoError(err)
	return resp.Items
}

func (s *SubscriptionServiceSuite) TestCreateSubscription() {
	testCases := []struct {
		name          string
		request       func() dto.CreateSubscriptionRequest
		wantStatus    types.SubscriptionStatus
		wantInvoice   bool
		expectedError func(error) bool
	}{
		{
			name:        "paid_plan_starts_active_and_invoiced",
			request:     func() dto.CreateSubscriptionRequest { return dto.CreateSubscriptionRequest{PlanID: s.testData.paid.ID} },
			wantStatus:  types.SubscriptionStatusActive,
			wantInvoice: true,
		},
		{
			name:       "trial_plan_starts_trialing",
			request:    func() dto.CreateSubscriptionRequest { return dto.CreateSubscriptionRequest{PlanID: s.testData.trialPaid.ID} },
			wantStatus: types.SubscriptionStatusTrialing,
		},
		{
			name:          "unknown_plan",
			request:       func() dto.CreateSubscriptionRequest { return dto.CreateSubscriptionRequest{PlanID: "plan_missing"} },
			expectedError: ierr.IsValidation,
		},
		{
			name: "cycle_must_match_plan",
			request: func() dto.CreateSubscriptionRequest {
				return dto.CreateSubscriptionRequest{PlanID: s.testData.paid.ID, BillingCycle: types.BillingCycleAnnual}
			},
			expectedError: ierr.IsValidation,
		},
		{
			name:          "missing_plan_id",
			request:       func() dto.CreateSubscriptionRequest { return dto.CreateSubscriptionRequest{} },
			expectedError: ierr.IsValidation,
		},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			s.ClearStores()
			s.Require().NoError(s.GetStores().PlanRepo.Create(s.GetContext(), s.testData.paid))
			s.Require().NoError(s.GetStores().PlanRepo.Create(s.GetContext(), s.testData.trialPaid))

			resp, err := s.service.CreateSubscription(s.GetContext(), tc.request())
			if tc.expectedError != nil {
				s.Error(err)
				s.True(tc.expectedError(err), "unexpected error: %v", err)
				return
			}

			s.NoError(err)
			s.Equal(tc.wantStatus, resp.SubscriptionStatus)
			s.Equal(testutil.TestTenantID, resp.TenantID)
			s.Equal(int64(0), resp.ExecutionsUsed)
			s.True(resp.CurrentPeriodEnd.After(resp.CurrentPeriodStart))
			s.Equal(tc.wantInvoice, resp.Invoice != nil)
		})
	}
}

func (s *SubscriptionServiceSuite) TestOneLiveSubscriptionPerTenant() {
	s.subscribe(s.testData.paid)

	_, err := s.service.CreateSubscription(s.GetContext(), dto.CreateSubscriptionRequest{PlanID: s.testData.trialPaid.ID})
	s.Error(err)
	s.True(ierr.IsAlreadyExists(err))

	// another tenant is unaffected
	other := testutil.ContextForTenant("tenant_other")
	resp, err := s.service.CreateSubscription(other, dto.CreateSubscriptionRequest{PlanID: s.testData.paid.ID})
	s.NoError(err)
	s.Equal("tenant_other", resp.TenantID)
}

func (s *SubscriptionServiceSuite) TestCanceledSubscriptionFreesTheTenant() {
	first := s.subscribe(s.testData.paid)

	_, err := s.service.CancelSubscription(s.GetContext(), first.ID, dto.CancelSubscriptionRequest{Immediate: true})
	s.Require().NoError(err)

	second := s.subscribe(s.testData.annual)
	s.Equal(types.SubscriptionStatusActive, second.SubscriptionStatus)
	s.Equal(types.BillingCycleAnnual, second.BillingCycle)
}

func (s *SubscriptionServiceSuite) TestPaidTrialExpiryCreatesOneInvoice() {
	sub := s.subscribe(s.testData.trialPaid)
	s.Nil(sub.Invoice)

	s.GetClock().Advance(14 * 24 * time.Hour)

	resp, err := s.service.ProcessTrialExpiry(s.GetContext(), sub.ID)
	s.Require().NoError(err)
	s.Require().NotNil(resp)
	s.Equal(types.SubscriptionStatusActive, resp.SubscriptionStatus)
	s.True(s.GetNow().Equal(resp.CurrentPeriodStart))

	invoices := s.listInvoices(sub.ID)
	s.Require().Len(invoices, 1)

	// list results carry headers only
	inv, err := NewInvoiceService(newTestServiceParams(&s.BaseServiceTestSuite)).GetInvoice(s.GetContext(), invoices[0].ID)
	s.Require().NoError(err)
	s.Equal(types.InvoiceStatusPending, inv.InvoiceStatus)
	s.True(s.GetNow().AddDate(0, 0, 7).Equal(inv.DueDate))
	s.Regexp(invoiceNumberPattern, inv.InvoiceNumber)
	s.Require().Len(inv.LineItems, 1)
	s.Equal(types.InvoiceLineItemTypeBasePlan, inv.LineItems[0].ItemType)
	s.True(inv.LineItems[0].TotalPrice.Equal(s.testData.trialPaid.FinalPrice))
	s.True(inv.TotalAmount.Equal(s.testData.trialPaid.FinalPrice))
	s.Equal(types.PaymentLinkStatusPending, inv.PaymentLinkStatus)

	// the link is requested once the invoice is stored
	s.Len(s.GetPubSub().GetMessages(TopicPaymentLink), 1)

	// a second expiry pass is a no-op
	again, err := s.service.ProcessTrialExpiry(s.GetContext(), sub.ID)
	s.NoError(err)
	s.Nil(again)
	s.Len(s.listInvoices(sub.ID), 1)
}

func (s *SubscriptionServiceSuite) TestFreeTrialExpiryActivatesWithoutInvoice() {
	sub := s.subscribe(s.testData.freeTrial)
	s.Equal(types.SubscriptionStatusTrialing, sub.SubscriptionStatus)

	s.GetClock().Advance(14 * 24 * time.Hour)

	resp, err := s.service.ProcessTrialExpiry(s.GetContext(), sub.ID)
	s.Require().NoError(err)
	s.Require().NotNil(resp)
	s.Equal(types.SubscriptionStatusActive, resp.SubscriptionStatus)
	s.Nil(resp.Invoice)
	s.Empty(s.listInvoices(sub.ID))
}

func (s *SubscriptionServiceSuite) TestTrialNotYetOver() {
	sub := s.subscribe(s.testData.trialPaid)
	s.GetClock().Advance(13 * 24 * time.Hour)

	resp, err := s.service.ProcessTrialExpiry(s.GetContext(), sub.ID)
	s.NoError(err)
	s.Nil(resp)

	current, err := s.service.GetSubscription(s.GetContext(), sub.ID)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusTrialing, current.SubscriptionStatus)
}

func (s *SubscriptionServiceSuite) TestRenewBillsOverageOfEndingPeriod() {
	sub := s.subscribe(s.testData.paid)
	for range 1200 {
		_, err := s.GetStores().SubscriptionRepo.IncrementExecutionsUsed(s.GetContext(), testutil.TestTenantID)
		s.Require().NoError(err)
	}

	endingStart, endingEnd := sub.CurrentPeriodStart, sub.CurrentPeriodEnd
	s.GetClock().Advance(endingEnd.Sub(s.GetNow()))

	resp, err := s.service.Renew(s.GetContext(), sub.ID)
	s.Require().NoError(err)
	s.Require().NotNil(resp)

	s.Equal(int64(0), resp.ExecutionsUsed)
	s.True(endingEnd.Equal(resp.CurrentPeriodStart))
	s.True(resp.CurrentPeriodEnd.Equal(resp.NextBillingDate))

	inv := resp.Invoice
	s.Require().NotNil(inv)
	s.True(inv.CoversPeriod(endingEnd, resp.CurrentPeriodEnd))

	var overageFound bool
	for _, item := range inv.LineItems {
		if item.ItemType != types.InvoiceLineItemTypeUsageOverage {
			continue
		}
		overageFound = true
		s.True(item.Quantity.Equal(decimal.NewFromInt(200)))
		s.True(item.UnitPrice.Equal(decimal.RequireFromString("0.01")))
		s.True(item.TotalPrice.Equal(decimal.RequireFromString("2.00")))

		detail, err := item.Detail()
		s.Require().NoError(err)
		s.NotNil(detail)
	}
	s.True(overageFound)
	s.True(inv.OverageAmount.Equal(decimal.RequireFromString("2.00")))
	s.True(inv.TotalAmount.Equal(decimal.RequireFromString("51.00")))
	s.True(inv.TotalAmount.Equal(inv.LineItemsTotal()))

	// the ending period was invoiced at creation, the new one by the renewal
	invoices := s.listInvoices(sub.ID)
	s.Len(invoices, 2)
	s.True(sub.Invoice.CoversPeriod(endingStart, endingEnd))
}

func (s *SubscriptionServiceSuite) TestRenewWithoutOverageAllowedSkipsOverageLine() {
	noOverage := s.CreatePlan(testutil.PlanFixture{
		Name:               "Capped",
		FinalPrice:         "20.00",
		IncludedExecutions: 10,
	})
	sub := s.subscribe(noOverage)
	for range 15 {
		_, err := s.GetStores().SubscriptionRepo.IncrementExecutionsUsed(s.GetContext(), testutil.TestTenantID)
		s.Require().NoError(err)
	}
	s.GetClock().Advance(sub.CurrentPeriodEnd.Sub(s.GetNow()))

	resp, err := s.service.Renew(s.GetContext(), sub.ID)
	s.Require().NoError(err)
	s.Require().NotNil(resp)
	s.Len(resp.Invoice.LineItems, 1)
	s.True(resp.Invoice.TotalAmount.Equal(decimal.RequireFromString("20.00")))
}

func (s *SubscriptionServiceSuite) TestRenewNotDue() {
	sub := s.subscribe(s.testData.paid)
	s.GetClock().Advance(24 * time.Hour)

	resp, err := s.service.Renew(s.GetContext(), sub.ID)
	s.NoError(err)
	s.Nil(resp)
}

func (s *SubscriptionServiceSuite) TestDeferredCancellation() {
	sub := s.subscribe(s.testData.paid)

	resp, err := s.service.CancelSubscription(s.GetContext(), sub.ID, dto.CancelSubscriptionRequest{})
	s.Require().NoError(err)
	s.Equal(types.SubscriptionStatusActive, resp.SubscriptionStatus)
	s.NotNil(resp.CancelledAt)
	s.False(resp.AutoRenew)

	// not renewed once the period is over
	s.GetClock().Advance(sub.CurrentPeriodEnd.Sub(s.GetNow()))
	renewed, err := s.service.Renew(s.GetContext(), sub.ID)
	s.NoError(err)
	s.Nil(renewed)

	final, err := s.service.FinalizeCancellation(s.GetContext(), sub.ID)
	s.Require().NoError(err)
	s.Require().NotNil(final)
	s.Equal(types.SubscriptionStatusCanceled, final.SubscriptionStatus)
}

func (s *SubscriptionServiceSuite) TestCancelTwice() {
	sub := s.subscribe(s.testData.paid)

	_, err := s.service.CancelSubscription(s.GetContext(), sub.ID, dto.CancelSubscriptionRequest{Immediate: true})
	s.Require().NoError(err)

	_, err = s.service.CancelSubscription(s.GetContext(), sub.ID, dto.CancelSubscriptionRequest{Immediate: true})
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))
}

func (s *SubscriptionServiceSuite) TestReactivateSubscription() {
	s.Run("pending_cancellation_is_withdrawn", func() {
		s.ClearStores()
		s.Require().NoError(s.GetStores().PlanRepo.Create(s.GetContext(), s.testData.paid))

		sub := s.subscribe(s.testData.paid)
		_, err := s.service.CancelSubscription(s.GetContext(), sub.ID, dto.CancelSubscriptionRequest{})
		s.Require().NoError(err)

		resp, err := s.service.ReactivateSubscription(s.GetContext(), sub.ID)
		s.Require().NoError(err)
		s.Equal(types.SubscriptionStatusActive, resp.SubscriptionStatus)
		s.Nil(resp.CancelledAt)
		s.True(resp.AutoRenew)
	})

	s.Run("canceled_within_period", func() {
		s.ClearStores()
		s.Require().NoError(s.GetStores().PlanRepo.Create(s.GetContext(), s.testData.paid))

		sub := s.subscribe(s.testData.paid)
		_, err := s.service.CancelSubscription(s.GetContext(), sub.ID, dto.CancelSubscriptionRequest{Immediate: true})
		s.Require().NoError(err)

		resp, err := s.service.ReactivateSubscription(s.GetContext(), sub.ID)
		s.Require().NoError(err)
		s.Equal(types.SubscriptionStatusActive, resp.SubscriptionStatus)
	})

	s.Run("period_already_over", func() {
		s.ClearStores()
		s.Require().NoError(s.GetStores().PlanRepo.Create(s.GetContext(), s.testData.paid))

		sub := s.subscribe(s.testData.paid)
		_, err := s.service.CancelSubscription(s.GetContext(), sub.ID, dto.CancelSubscriptionRequest{Immediate: true})
		s.Require().NoError(err)

		s.GetClock().Advance(sub.CurrentPeriodEnd.Sub(s.GetNow()) + time.Hour)
		_, err = s.service.ReactivateSubscription(s.GetContext(), sub.ID)
		s.Error(err)
		s.True(ierr.IsInvalidOperation(err))
	})

	s.Run("another_live_subscription", func() {
		s.ClearStores()
		s.Require().NoError(s.GetStores().PlanRepo.Create(s.GetContext(), s.testData.paid))
		s.Require().NoError(s.GetStores().PlanRepo.Create(s.GetContext(), s.testData.annual))

		sub := s.subscribe(s.testData.paid)
		_, err := s.service.CancelSubscription(s.GetContext(), sub.ID, dto.CancelSubscriptionRequest{Immediate: true})
		s.Require().NoError(err)
		s.subscribe(s.testData.annual)

		_, err = s.service.ReactivateSubscription(s.GetContext(), sub.ID)
		s.Error(err)
		s.True(ierr.IsAlreadyExists(err))
	})
}

func (s *SubscriptionServiceSuite) TestReactivatedTrialIsInvoicedAtExpiry() {
	day := 24 * time.Hour
	testCases := []struct {
		name           string
		reactivateWait time.Duration
	}{
		{name: "reactivated_before_trial_end", reactivateWait: day},
		{name: "reactivated_after_trial_end", reactivateWait: 20 * day},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			s.ClearStores()
			s.Require().NoError(s.GetStores().PlanRepo.Create(s.GetContext(), s.testData.trialPaid))
			billing := NewBillingService(newTestServiceParams(&s.BaseServiceTestSuite))

			sub := s.subscribe(s.testData.trialPaid)
			s.GetClock().Advance(day)
			_, err := s.service.CancelSubscription(s.GetContext(), sub.ID, dto.CancelSubscriptionRequest{})
			s.Require().NoError(err)

			s.GetClock().Advance(tc.reactivateWait)
			resp, err := s.service.ReactivateSubscription(s.GetContext(), sub.ID)
			s.Require().NoError(err)
			s.Equal(types.SubscriptionStatusTrialing, resp.SubscriptionStatus)
			s.Empty(s.listInvoices(sub.ID))

			s.GetClock().Advance(20 * day)
			run, err := billing.RunBillingCycle(s.GetContext())
			s.Require().NoError(err)
			s.Equal(1, run.Trials.Succeeded)

			got, err := s.service.GetSubscription(s.GetContext(), sub.ID)
			s.Require().NoError(err)
			s.Equal(types.SubscriptionStatusActive, got.SubscriptionStatus)

			invoices := s.listInvoices(sub.ID)
			s.Require().Len(invoices, 1)
			s.True(invoices[0].TotalAmount.Equal(decimal.RequireFromString("49.00")))
		})
	}
}

func (s *SubscriptionServiceSuite) TestGetSubscriptionIsTenantScoped() {
	sub := s.subscribe(s.testData.paid)

	_, err := s.service.GetSubscription(testutil.ContextForTenant("tenant_other"), sub.ID)
	s.Error(err)
	s.True(ierr.IsNotFound(err))
}
