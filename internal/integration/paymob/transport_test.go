package paymob_test

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/agentmesh/billing/internal/config"
	ierr "github.com/agentmesh/billing/internal/errors"
	"github.com/agentmesh/billing/internal/integration/paymob"
	"github.com/agentmesh/billing/internal/logger"
	"github.com/agentmesh/billing/internal/metrics"
	"github.com/agentmesh/billing/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBaseURL = "https://gateway.test"

func newMockedClient(t *testing.T) (paymob.Client, *testutil.MockHTTPClient) {
	t.Helper()
	hc := testutil.NewMockHTTPClient()
	cfg := config.PaymobConfig{
		BaseURL:          testBaseURL,
		APIKey:           "api-key",
		IntegrationID:    1,
		IframeID:         2,
		Currency:         "EGP",
		Timeout:          time.Second,
		BreakerFailures:  3,
		BreakerCooldown:  time.Minute,
		PaymentKeyExpiry: 3600,
	}
	return paymob.NewClientWithHTTP(cfg, hc, logger.NewNopLogger(), metrics.New()), hc
}

func TestCreatePaymentLinkSendsThreeRequestsInOrder(t *testing.T) {
	client, hc := newMockedClient(t)
	hc.RegisterJSONResponse("/api/auth/tokens", `{"token":"tok"}`)
	hc.RegisterJSONResponse("/api/ecommerce/orders", `{"id":42}`)
	hc.RegisterJSONResponse("/api/acceptance/payment_keys", `{"token":"key"}`)

	link, err := client.CreatePaymentLink(context.Background(), paymob.PaymentLinkRequest{
		InvoiceNumber: "INV-20240301-00007",
		Reference:     "PLX1",
		Amount:        decimal.RequireFromString("12.50"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), link.OrderID)
	assert.True(t, strings.HasPrefix(link.URL, testBaseURL+"/api/acceptance/iframes/2"))

	reqs := hc.Requests()
	require.Len(t, reqs, 3)
	for i, suffix := range []string{"/api/auth/tokens", "/api/ecommerce/orders", "/api/acceptance/payment_keys"} {
		assert.Equal(t, http.MethodPost, reqs[i].Method)
		assert.Equal(t, testBaseURL+suffix, reqs[i].URL)
	}
	assert.Contains(t, string(reqs[1].Body), `"auth_token":"tok"`)
	assert.Contains(t, string(reqs[1].Body), `"amount_cents":1250`)
	assert.Contains(t, string(reqs[2].Body), `"order_id":42`)
}

func TestCancelledContextIsNotSent(t *testing.T) {
	client, hc := newMockedClient(t)
	hc.RegisterJSONResponse("/api/auth/tokens", `{"token":"tok"}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Authenticate(ctx)
	require.Error(t, err)
	assert.True(t, ierr.IsGateway(err))
	assert.Empty(t, hc.Requests())
}

func TestMalformedGatewayResponse(t *testing.T) {
	client, hc := newMockedClient(t)
	hc.RegisterJSONResponse("/api/auth/tokens", `not json`)

	_, err := client.Authenticate(context.Background())
	require.Error(t, err)
	assert.True(t, ierr.IsGateway(err))
}
