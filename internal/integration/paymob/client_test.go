package paymob

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentmesh/billing/internal/config"
	ierr "github.com/agentmesh/billing/internal/errors"
	"github.com/agentmesh/billing/internal/httpclient"
	"github.com/agentmesh/billing/internal/logger"
	"github.com/agentmesh/billing/internal/metrics"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/suite"
)

type ClientSuite struct {
	suite.Suite
	server *httptest.Server
	mux    *http.ServeMux
	cfg    config.PaymobConfig
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) SetupTest() {
	s.mux = http.NewServeMux()
	s.server = httptest.NewServer(s.mux)
	s.cfg = config.PaymobConfig{
		BaseURL:           s.server.URL,
		APIKey:            "api-key",
		IntegrationID:     4321,
		IframeID:          987,
		HMACSecret:        "secret",
		Currency:          "EGP",
		Timeout:           2 * time.Second,
		PaymentKeyExpiry:  3600,
		BreakerFailures:   2,
		BreakerCooldown:   time.Minute,
		RequestsPerSecond: 1000,
	}
}

func (s *ClientSuite) TearDownTest() {
	s.server.Close()
}

func (s *ClientSuite) newClient() Client {
	hc := httpclient.NewDefaultClient(httpclient.ClientConfig{Timeout: 2 * time.Second}, logger.NewNopLogger())
	return NewClientWithHTTP(s.cfg, hc, logger.NewNopLogger(), metrics.New())
}

func (s *ClientSuite) TestCreatePaymentLink() {
	s.mux.HandleFunc(pathAuthTokens, func(w http.ResponseWriter, r *http.Request) {
		var req authRequest
		body, _ := io.ReadAll(r.Body)
		s.Require().NoError(json.Unmarshal(body, &req))
		s.Equal("api-key", req.APIKey)
		_, _ = w.Write([]byte(`{"token":"auth-token"}`))
	})
	s.mux.HandleFunc(pathOrders, func(w http.ResponseWriter, r *http.Request) {
		var req orderPayload
		body, _ := io.ReadAll(r.Body)
		s.Require().NoError(json.Unmarshal(body, &req))
		s.Equal("auth-token", req.AuthToken)
		s.Equal(int64(4900), req.AmountCents)
		s.Equal("INV-20240115-00001_PLAB12", req.MerchantOrderID)
		s.False(req.DeliveryNeeded)
		_, _ = w.Write([]byte(`{"id":555}`))
	})
	s.mux.HandleFunc(pathPaymentKeys, func(w http.ResponseWriter, r *http.Request) {
		var req paymentKeyPayload
		body, _ := io.ReadAll(r.Body)
		s.Require().NoError(json.Unmarshal(body, &req))
		s.Equal(int64(555), req.OrderID)
		s.Equal(4321, req.IntegrationID)
		s.Equal("EGP", req.Currency)
		s.Equal(DefaultBillingValue, req.BillingData.Email)
		_, _ = w.Write([]byte(`{"token":"pay token"}`))
	})

	link, err := s.newClient().CreatePaymentLink(context.Background(), PaymentLinkRequest{
		InvoiceNumber: "INV-20240115-00001",
		Reference:     "PLAB12",
		Amount:        decimal.RequireFromString("49.00"),
	})
	s.Require().NoError(err)
	s.Equal(int64(555), link.OrderID)
	s.Equal(s.server.URL+"/api/acceptance/iframes/987?payment_token=pay+token", link.URL)
}

func (s *ClientSuite) TestGatewayErrorsAreMarked() {
	s.mux.HandleFunc(pathAuthTokens, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := s.newClient().Authenticate(context.Background())
	s.Require().Error(err)
	s.True(ierr.IsGateway(err))

	httpErr, ok := httpclient.IsHTTPError(err)
	s.Require().True(ok)
	s.Equal(http.StatusUnauthorized, httpErr.StatusCode)
}

func (s *ClientSuite) TestBreakerOpensAfterConsecutiveFailures() {
	var hits int32
	s.mux.HandleFunc(pathAuthTokens, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	})

	c := s.newClient()
	for i := 0; i < 2; i++ {
		_, err := c.Authenticate(context.Background())
		s.True(ierr.IsGateway(err))
	}

	_, err := c.Authenticate(context.Background())
	s.True(ierr.IsGateway(err))
	s.True(errors.Is(err, gobreaker.ErrOpenState))
	s.Equal(int32(2), atomic.LoadInt32(&hits))
}

func (s *ClientSuite) TestClientErrorsDoNotTripBreaker() {
	var hits int32
	s.mux.HandleFunc(pathAuthTokens, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	})

	c := s.newClient()
	for i := 0; i < 4; i++ {
		_, err := c.Authenticate(context.Background())
		s.False(errors.Is(err, gobreaker.ErrOpenState))
	}
	s.Equal(int32(4), atomic.LoadInt32(&hits))
}

func (s *ClientSuite) TestParseCallback() {
	raw := []byte(`{"type":"TRANSACTION","obj":{"id":192837,"success":true,"amount_cents":4900,
		"order":{"id":555,"merchant_order_id":"INV-20240115-00001_PLAB12"},"currency":"EGP"}}`)

	cb, err := ParseCallback(raw)
	s.Require().NoError(err)
	s.Equal("192837", cb.Obj.TransactionID())
	s.Equal("INV-20240115-00001", cb.Obj.Order.InvoiceNumber())
	s.True(decimal.RequireFromString("49").Equal(cb.Obj.Amount()))

	_, err = ParseCallback([]byte(`{"obj":`))
	s.True(ierr.IsValidation(err))

	_, err = ParseCallback([]byte(`{"type":"TRANSACTION","obj":{"id":1}}`))
	s.True(ierr.IsValidation(err))
}

func TestAmountConversion(t *testing.T) {
	if got := AmountToCents(decimal.RequireFromString("2.005")); got != 201 {
		t.Fatalf("expected 201 cents, got %d", got)
	}
	if got := CentsToAmount(4950).String(); !strings.HasPrefix(got, "49.5") {
		t.Fatalf("unexpected amount %s", got)
	}
}
