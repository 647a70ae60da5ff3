package service

import (
	"strings"
	"testing"

	"github.com/agentmesh/billing/internal/api/dto"
	"github.com/agentmesh/billing/internal/domain/subscription"
	ierr "github.com/agentmesh/billing/internal/errors"
	"github.com/agentmesh/billing/internal/testutil"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/suite"
)

type QuotaServiceSuite struct {
	testutil.BaseServiceTestSuite
	service QuotaService
	params  ServiceParams
}

func TestQuotaService(t *testing.T) {
	suite.Run(t, new(QuotaServiceSuite))
}

func (s *QuotaServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.params = newTestServiceParams(&s.BaseServiceTestSuite)
	s.service = NewQuotaService(s.params)
}

func (s *QuotaServiceSuite) subscribeWithUsage(overagePrice string, used int) {
	p := s.CreatePlan(testutil.PlanFixture{
		FinalPrice:         "10.00",
		IncludedExecutions: 1000,
		OveragePrice:       overagePrice,
	})
	_, err := NewSubscriptionService(s.params).CreateSubscription(s.GetContext(), dto.CreateSubscriptionRequest{PlanID: p.ID})
	s.Require().NoError(err)

	for range used {
		_, err := s.GetStores().SubscriptionRepo.IncrementExecutionsUsed(s.GetContext(), testutil.TestTenantID)
		s.Require().NoError(err)
	}
}

func (s *QuotaServiceSuite) TestDerivedValues() {
	testCases := []struct {
		name      string
		used      int64
		remaining int64
		exceeded  bool
		overage   int64
	}{
		{name: "under_quota", used: 400, remaining: 600},
		{name: "at_quota", used: 1000, remaining: 0},
		{name: "one_past_quota", used: 1001, remaining: 0, exceeded: true, overage: 1},
		{name: "well_past_quota", used: 1200, remaining: 0, exceeded: true, overage: 200},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			sub := &subscription.Subscription{ExecutionQuota: 1000, ExecutionsUsed: tc.used}
			s.Equal(tc.remaining, s.service.Remaining(sub))
			s.Equal(tc.exceeded, s.service.HasExceededQuota(sub))
			s.Equal(tc.overage, s.service.OverageExecutions(sub))
		})
	}
}

func (s *QuotaServiceSuite) TestCheckQuotaUnderQuota() {
	s.subscribeWithUsage("0.01", 999)

	resp, err := s.service.CheckQuota(s.GetContext(), testutil.TestTenantID)
	s.Require().NoError(err)
	s.True(resp.Allowed)
	s.Empty(resp.Reason)
	s.Equal(int64(1), resp.Remaining)
}

func (s *QuotaServiceSuite) TestCheckQuotaOverageAllowed() {
	s.subscribeWithUsage("0.01", 1000)

	resp, err := s.service.CheckQuota(s.GetContext(), testutil.TestTenantID)
	s.Require().NoError(err)
	s.True(resp.Allowed)
	s.Equal(dto.QuotaReasonOverage, resp.Reason)
	s.NoError(s.service.EnforceQuota(s.GetContext(), testutil.TestTenantID))
}

func (s *QuotaServiceSuite) TestCheckQuotaExhausted() {
	s.subscribeWithUsage("", 1000)

	resp, err := s.service.CheckQuota(s.GetContext(), testutil.TestTenantID)
	s.Require().NoError(err)
	s.False(resp.Allowed)
	s.Equal(dto.QuotaReasonExceeded, resp.Reason)

	err = s.service.EnforceQuota(s.GetContext(), testutil.TestTenantID)
	s.Error(err)
	s.True(ierr.IsQuotaExceeded(err))

	var details []string
	for _, payload := range errors.GetAllSafeDetails(err) {
		details = append(details, payload.SafeDetails...)
	}
	s.Contains(strings.Join(details, " "), "upgrade_required")
}

func (s *QuotaServiceSuite) TestCheckQuotaWithoutSubscription() {
	_, err := s.service.CheckQuota(s.GetContext(), testutil.TestTenantID)
	s.Error(err)
	s.True(ierr.IsNotFound(err))
}
