package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agentmesh/billing/internal/api/cron"
	"github.com/agentmesh/billing/internal/api/dto"
	v1 "github.com/agentmesh/billing/internal/api/v1"
	ierr "github.com/agentmesh/billing/internal/errors"
	"github.com/agentmesh/billing/internal/pyroscope"
	"github.com/agentmesh/billing/internal/service"
	"github.com/agentmesh/billing/internal/testutil"
	"github.com/agentmesh/billing/internal/types"
	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type RouterSuite struct {
	testutil.BaseServiceTestSuite
	router *gin.Engine
}

func TestRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()

	stores := s.GetStores()
	params := service.NewServiceParams(
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

	log := s.GetLogger()
	paymentLinks := service.NewPaymentLinkService(params)
	handlers := Handlers{
		Health:       v1.NewHealthHandler(nil, log),
		Usage:        v1.NewUsageHandler(service.NewUsageService(params), log),
		Quota:        v1.NewQuotaHandler(service.NewQuotaService(params), log),
		Plan:         v1.NewPlanHandler(service.NewPlanService(params), log),
		Subscription: v1.NewSubscriptionHandler(service.NewSubscriptionService(params), log),
		Invoice:      v1.NewInvoiceHandler(service.NewInvoiceService(params), paymentLinks, log),
		Webhook:      v1.NewWebhookHandler(service.NewPaymentReconciliationService(params), log),
		CronBilling:  cron.NewBillingHandler(service.NewBillingService(params), paymentLinks, log),
	}

	s.router = NewRouter(handlers, s.GetConfig(), log, s.GetMetrics(), pyroscope.NewPyroscopeService(s.GetConfig(), log))
}

func (s *RouterSuite) do(method, path, tenantID string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tenantID != "" {
		req.Header.Set(types.HeaderTenantID, tenantID)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *RouterSuite) decodeError(w *httptest.ResponseRecorder) ierr.ErrorResponse {
	var resp ierr.ErrorResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.False(resp.Success)
	return resp
}

func (s *RouterSuite) subscribe() *dto.SubscriptionResponse {
	p := s.CreatePlan(testutil.PlanFixture{
		FinalPrice:         "20.00",
		IncludedExecutions: 1,
	})

	w := s.do(http.MethodPost, "/v1/subscriptions", testutil.TestTenantID, dto.CreateSubscriptionRequest{PlanID: p.ID})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	var resp dto.SubscriptionResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	return &resp
}

func (s *RouterSuite) TestHealthAndMetrics() {
	w := s.do(http.MethodGet, "/health", "", nil)
	s.Equal(http.StatusOK, w.Code)
	s.NotEmpty(w.Header().Get(types.HeaderRequestID))

	w = s.do(http.MethodGet, "/metrics", "", nil)
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), "billing_")
}

func (s *RouterSuite) TestTenantHeaderRequired() {
	w := s.do(http.MethodGet, "/v1/quota/check", "", nil)
	s.Equal(http.StatusForbidden, w.Code)
	s.Equal(ierr.ErrCodePermissionDenied, s.decodeError(w).Error.Code)
}

func (s *RouterSuite) TestRecordUsage() {
	s.subscribe()
	req := dto.RecordUsageRequest{
		AgentID:       "agent_1",
		ExecutionID:   "exec_http",
		TokensUsed:    100,
		Cost:          decimal.RequireFromString("0.01"),
		ChargedAmount: decimal.RequireFromString("0.02"),
	}

	w := s.do(http.MethodPost, "/v1/usage", testutil.TestTenantID, req)
	s.Equal(http.StatusCreated, w.Code, w.Body.String())

	// replay
	w = s.do(http.MethodPost, "/v1/usage", testutil.TestTenantID, req)
	s.Equal(http.StatusOK, w.Code)

	var resp dto.UsageEventResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.True(resp.Duplicate)
}

func (s *RouterSuite) TestRecordUsageValidation() {
	w := s.do(http.MethodPost, "/v1/usage", testutil.TestTenantID, dto.RecordUsageRequest{AgentID: "agent_1"})
	s.Equal(http.StatusBadRequest, w.Code)

	resp := s.decodeError(w)
	s.Equal(ierr.ErrCodeValidation, resp.Error.Code)
	s.NotEmpty(resp.Error.Display)
}

func (s *RouterSuite) TestQuotaCheck() {
	w := s.do(http.MethodGet, "/v1/quota/check", testutil.TestTenantID, nil)
	s.Equal(http.StatusNotFound, w.Code)

	s.subscribe()
	w = s.do(http.MethodGet, "/v1/quota/check", testutil.TestTenantID, nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var resp dto.QuotaCheckResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.True(resp.Allowed)
	s.Equal(int64(1), resp.Remaining)
}

func (s *RouterSuite) TestEnforceQuota() {
	s.subscribe()

	w := s.do(http.MethodPost, "/v1/quota/enforce", testutil.TestTenantID, nil)
	s.Equal(http.StatusNoContent, w.Code)

	w = s.do(http.MethodPost, "/v1/usage", testutil.TestTenantID, dto.RecordUsageRequest{
		AgentID:     "agent_1",
		ExecutionID: "exec_quota",
		TokensUsed:  10,
	})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	// included quota is one execution and the plan has no overage price
	w = s.do(http.MethodPost, "/v1/quota/enforce", testutil.TestTenantID, nil)
	s.Equal(http.StatusPaymentRequired, w.Code)
	s.Equal(ierr.ErrCodeQuotaExceeded, s.decodeError(w).Error.Code)
}

func (s *RouterSuite) TestSubscriptionLifecycle() {
	sub := s.subscribe()
	s.Require().NotNil(sub.Invoice)

	w := s.do(http.MethodGet, "/v1/subscriptions/active", testutil.TestTenantID, nil)
	s.Equal(http.StatusOK, w.Code)

	// other tenants cannot see it
	w = s.do(http.MethodGet, "/v1/subscriptions/"+sub.ID, "tenant_other", nil)
	s.Equal(http.StatusNotFound, w.Code)

	// cancel without a body defers to the period end
	w = s.do(http.MethodPost, "/v1/subscriptions/"+sub.ID+"/cancel", testutil.TestTenantID, nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/v1/subscriptions/"+sub.ID+"/reactivate", testutil.TestTenantID, nil)
	s.Equal(http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodGet, "/v1/invoices/"+sub.Invoice.ID, testutil.TestTenantID, nil)
	s.Equal(http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/v1/invoices?limit=10", testutil.TestTenantID, nil)
	s.Equal(http.StatusOK, w.Code)
}

func (s *RouterSuite) TestWebhookRejectsBadSignature() {
	w := s.do(http.MethodPost, "/v1/webhooks/paymob?hmac=deadbeef", "", map[string]any{
		"type": "TRANSACTION",
		"obj": map[string]any{
			"id":           1,
			"amount_cents": 2000,
			"success":      true,
			"order":        map[string]any{"id": 7, "merchant_order_id": "INV-20240115-00001"},
		},
	})
	s.Equal(http.StatusBadRequest, w.Code)
	s.Equal(ierr.ErrCodeInvalidSignature, s.decodeError(w).Error.Code)
}

func (s *RouterSuite) TestCronBillingRun() {
	w := s.do(http.MethodPost, "/v1/cron/billing/run", "", nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var resp dto.BillingCycleResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Zero(resp.Renewals.Processed)

	w = s.do(http.MethodPost, "/v1/cron/payment-links/retry", "", nil)
	s.Equal(http.StatusOK, w.Code)
}
