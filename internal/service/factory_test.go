package service

import (
	"github.com/agentmesh/billing/internal/testutil"
)

// newTestServiceParams wires services to the suite's in-memory stores and fakes
func newTestServiceParams(s *testutil.BaseServiceTestSuite) ServiceParams {
	stores := s.GetStores()
	return NewServiceParams(
		s.GetLogger(),
		s.GetConfig(),
		s.GetDB(),
		s.GetClock(),
		stores.UsageRepo,
		stores.PlanRepo,
		stores.SubscriptionRepo,
		stores.AgentSubscriptionRepo,
		stores.InvoiceRepo,
		stores.PaymentRepo,
		s.GetSentry(),
		s.GetMetrics(),
		s.GetPubSub(),
		s.GetPaymob(),
		s.GetCache(),
	)
}
