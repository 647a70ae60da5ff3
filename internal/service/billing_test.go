package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/agentmesh/billing/internal/api/dto"
	"github.com/agentmesh/billing/internal/domain/plan"
	"github.com/agentmesh/billing/internal/testutil"
	"github.com/agentmesh/billing/internal/types"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/suite"
)

type BillingServiceSuite struct {
	testutil.BaseServiceTestSuite
	service  BillingService
	params   ServiceParams
	testData struct {
		monthly *plan.Plan
		trial   *plan.Plan
		free    *plan.Plan
	}
}

func TestBillingService(t *testing.T) {
	suite.Run(t, new(BillingServiceSuite))
}

func (s *BillingServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.params = newTestServiceParams(&s.BaseServiceTestSuite)
	s.service = NewBillingService(s.params)

	s.testData.monthly = s.CreatePlan(testutil.PlanFixture{
		Name:               "Monthly",
		FinalPrice:         "30.00",
		IncludedExecutions: 1000,
		OveragePrice:       "0.01",
	})
	s.testData.trial = s.CreatePlan(testutil.PlanFixture{
		Name:               "Trial",
		FinalPrice:         "30.00",
		IncludedExecutions: 1000,
		TrialDays:          7,
	})
	s.testData.free = s.CreatePlan(testutil.PlanFixture{
		Name:               "Free",
		FinalPrice:         "0",
		IncludedExecutions: 100,
		TrialDays:          7,
	})
}

func (s *BillingServiceSuite) subscribe(tenantID string, p *plan.Plan) *dto.SubscriptionResponse {
	resp, err := NewSubscriptionService(s.params).CreateSubscription(testutil.ContextForTenant(tenantID), dto.CreateSubscriptionRequest{PlanID: p.ID})
	s.Require().NoError(err)
	return resp
}

func (s *BillingServiceSuite) invoiceCount(tenantID, subscriptionID string) int {
	filter := types.NewInvoiceFilter()
	filter.SubscriptionID = subscriptionID
	n, err := s.GetStores().InvoiceRepo.Count(testutil.ContextForTenant(tenantID), filter)
	s.Require().NoError(err)
	return n
}

func (s *BillingServiceSuite) TestRunBillingCycle() {
	trialing := s.subscribe("tenant_trial", s.testData.trial)
	free := s.subscribe("tenant_free", s.testData.free)
	renewing := s.subscribe("tenant_renew", s.testData.monthly)
	canceling := s.subscribe("tenant_cancel", s.testData.monthly)

	_, err := NewSubscriptionService(s.params).CancelSubscription(testutil.ContextForTenant("tenant_cancel"), canceling.ID, dto.CancelSubscriptionRequest{})
	s.Require().NoError(err)

	// past every trial and the first monthly period
	s.GetClock().Advance(renewing.CurrentPeriodEnd.Sub(s.GetNow()))

	resp, err := s.service.RunBillingCycle(s.GetContext())
	s.Require().NoError(err)

	s.Equal(2, resp.Trials.Succeeded)
	s.Equal(1, resp.Renewals.Succeeded)
	s.Equal(1, resp.Cancellations.Succeeded)
	s.Zero(resp.Trials.Failed + resp.Renewals.Failed + resp.Cancellations.Failed)

	subs := s.GetStores().SubscriptionRepo
	got, err := subs.Get(testutil.ContextForTenant("tenant_trial"), trialing.ID)
	s.Require().NoError(err)
	s.Equal(types.SubscriptionStatusActive, got.SubscriptionStatus)
	s.Equal(1, s.invoiceCount("tenant_trial", trialing.ID))

	got, err = subs.Get(testutil.ContextForTenant("tenant_free"), free.ID)
	s.Require().NoError(err)
	s.Equal(types.SubscriptionStatusActive, got.SubscriptionStatus)
	s.Zero(s.invoiceCount("tenant_free", free.ID))

	got, err = subs.Get(testutil.ContextForTenant("tenant_renew"), renewing.ID)
	s.Require().NoError(err)
	s.True(renewing.CurrentPeriodEnd.Equal(got.CurrentPeriodStart))
	s.Equal(2, s.invoiceCount("tenant_renew", renewing.ID))

	got, err = subs.Get(testutil.ContextForTenant("tenant_cancel"), canceling.ID)
	s.Require().NoError(err)
	s.Equal(types.SubscriptionStatusCanceled, got.SubscriptionStatus)
	s.Equal(1, s.invoiceCount("tenant_cancel", canceling.ID))
}

func (s *BillingServiceSuite) TestRunBillingCycleTwiceInvoicesOnce() {
	sub := s.subscribe("tenant_e", s.testData.monthly)
	s.GetClock().Advance(sub.CurrentPeriodEnd.Sub(s.GetNow()))

	first, err := s.service.RunBillingCycle(s.GetContext())
	s.Require().NoError(err)
	s.Equal(1, first.Renewals.Succeeded)

	second, err := s.service.RunBillingCycle(s.GetContext())
	s.Require().NoError(err)
	s.Zero(second.Renewals.Succeeded)
	s.Zero(second.Renewals.Failed)

	// one creation invoice plus one renewal invoice
	s.Equal(2, s.invoiceCount("tenant_e", sub.ID))
}

func (s *BillingServiceSuite) TestOverlappingRunsInvoiceOnce() {
	sub := s.subscribe("tenant_overlap", s.testData.monthly)
	s.GetClock().Advance(sub.CurrentPeriodEnd.Sub(s.GetNow()))

	var wg conc.WaitGroup
	for range 4 {
		wg.Go(func() {
			_, err := s.service.RunBillingCycle(s.GetContext())
			s.NoError(err)
		})
	}
	wg.Wait()

	s.Equal(2, s.invoiceCount("tenant_overlap", sub.ID))
}

func (s *BillingServiceSuite) TestBatchesCoverEverySubscription() {
	cfg := s.GetConfig()
	batchSize := cfg.Billing.BatchSize
	cfg.Billing.BatchSize = 3
	defer func() { cfg.Billing.BatchSize = batchSize }()

	const tenants = 10
	for i := range tenants {
		s.subscribe(fmt.Sprintf("tenant_%02d", i), s.testData.trial)
	}
	s.GetClock().Advance(8 * 24 * time.Hour)

	resp, err := s.service.RunBillingCycle(s.GetContext())
	s.Require().NoError(err)
	s.Equal(tenants, resp.Trials.Processed)
	s.Equal(tenants, resp.Trials.Succeeded)
}

func (s *BillingServiceSuite) TestNothingDue() {
	s.subscribe("tenant_idle", s.testData.monthly)

	resp, err := s.service.RunBillingCycle(s.GetContext())
	s.Require().NoError(err)
	s.Zero(resp.Trials.Processed)
	s.Zero(resp.Renewals.Processed)
	s.Zero(resp.Cancellations.Processed)
	s.False(resp.CompletedAt.Before(resp.StartedAt))
}
