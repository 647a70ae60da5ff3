package paymob

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/agentmesh/billing/internal/config"
	ierr "github.com/agentmesh/billing/internal/errors"
	"github.com/agentmesh/billing/internal/httpclient"
	"github.com/agentmesh/billing/internal/logger"
	"github.com/agentmesh/billing/internal/metrics"
	jsoniter "github.com/json-iterator/go"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

var json = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	UseNumber:              true,
}.Froze()

// Client is the payment gateway boundary used by billing
type Client interface {
	Authenticate(ctx context.Context) (string, error)
	RegisterOrder(ctx context.Context, token string, req OrderRequest) (int64, error)
	GetPaymentKey(ctx context.Context, token string, req PaymentKeyRequest) (string, error)

	// CreatePaymentLink runs authenticate, register order and payment key and returns the hosted URL
	CreatePaymentLink(ctx context.Context, req PaymentLinkRequest) (*PaymentLink, error)

	// VerifySignature checks the hmac query parameter of a transaction callback
	VerifySignature(cb *TransactionCallback, hmac string) bool
}

type client struct {
	cfg        config.PaymobConfig
	httpClient httpclient.Client
	breaker    *gobreaker.CircuitBreaker
	limiter    *rate.Limiter
	logger     *logger.Logger
}

// NewClient builds the gateway client from configuration
func NewClient(cfg *config.Configuration, logger *logger.Logger, m *metrics.Metrics) Client {
	hc := httpclient.NewDefaultClient(httpclient.ClientConfig{
		Timeout:    cfg.Paymob.Timeout,
		MaxRetries: cfg.Paymob.MaxRetries,
	}, logger)
	return NewClientWithHTTP(cfg.Paymob, hc, logger, m)
}

// NewClientWithHTTP lets tests inject the transport
func NewClientWithHTTP(cfg config.PaymobConfig, hc httpclient.Client, logger *logger.Logger, m *metrics.Metrics) Client {
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "paymob",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnw("payment gateway breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
			if m != nil {
				m.SetBreakerState(int(to))
			}
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// a rejected request says nothing about gateway health
			if httpErr, ok := httpclient.IsHTTPError(err); ok {
				return httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 &&
					httpErr.StatusCode != http.StatusTooManyRequests
			}
			return false
		},
	})

	return &client{
		cfg:        cfg,
		httpClient: hc,
		breaker:    breaker,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
	}
}

func (c *client) Authenticate(ctx context.Context) (string, error) {
	var resp authResponse
	if err := c.post(ctx, pathAuthTokens, authRequest{APIKey: c.cfg.APIKey}, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", ierr.NewError("gateway returned an empty auth token").
			WithHint("Payment gateway authentication failed").
			Mark(ierr.ErrGateway)
	}
	return resp.Token, nil
}

func (c *client) RegisterOrder(ctx context.Context, token string, req OrderRequest) (int64, error) {
	var resp orderResponse
	payload := orderPayload{AuthToken: token, DeliveryNeeded: false, OrderRequest: req}
	if err := c.post(ctx, pathOrders, payload, &resp); err != nil {
		return 0, err
	}
	if resp.ID == 0 {
		return 0, ierr.NewError("gateway returned no order id").
			WithHint("Payment gateway did not register the order").
			WithReportableDetails(map[string]any{"merchant_order_id": req.MerchantOrderID}).
			Mark(ierr.ErrGateway)
	}
	return resp.ID, nil
}

func (c *client) GetPaymentKey(ctx context.Context, token string, req PaymentKeyRequest) (string, error) {
	var resp paymentKeyResponse
	payload := paymentKeyPayload{
		AuthToken:     token,
		AmountCents:   req.AmountCents,
		Expiration:    c.cfg.PaymentKeyExpiry,
		OrderID:       req.OrderID,
		BillingData:   req.Billing,
		Currency:      req.Currency,
		IntegrationID: c.cfg.IntegrationID,
	}
	if err := c.post(ctx, pathPaymentKeys, payload, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", ierr.NewError("gateway returned an empty payment key").
			WithHint("Payment gateway did not issue a payment key").
			Mark(ierr.ErrGateway)
	}
	return resp.Token, nil
}

func (c *client) CreatePaymentLink(ctx context.Context, req PaymentLinkRequest) (*PaymentLink, error) {
	currency := req.Currency
	if currency == "" {
		currency = c.cfg.Currency
	}
	amountCents := AmountToCents(req.Amount)
	billing := DefaultBillingData()
	if req.Billing != nil {
		billing = *req.Billing
	}

	token, err := c.Authenticate(ctx)
	if err != nil {
		return nil, err
	}

	orderID, err := c.RegisterOrder(ctx, token, OrderRequest{
		AmountCents:     amountCents,
		Currency:        currency,
		MerchantOrderID: MerchantOrderID(req.InvoiceNumber, req.Reference),
		Items:           req.Items,
	})
	if err != nil {
		return nil, err
	}

	paymentToken, err := c.GetPaymentKey(ctx, token, PaymentKeyRequest{
		OrderID:     orderID,
		AmountCents: amountCents,
		Currency:    currency,
		Billing:     billing,
	})
	if err != nil {
		return nil, err
	}

	link := &PaymentLink{
		OrderID:      orderID,
		PaymentToken: paymentToken,
		URL: strings.TrimRight(c.cfg.BaseURL, "/") +
			fmt.Sprintf(pathIframe, c.cfg.IframeID, url.QueryEscape(paymentToken)),
	}

	c.logger.Infow("created payment link",
		"invoice_number", req.InvoiceNumber,
		"order_id", orderID,
		"amount_cents", amountCents,
	)
	return link, nil
}

func (c *client) VerifySignature(cb *TransactionCallback, hmac string) bool {
	if cb == nil {
		return false
	}
	return VerifyHMAC(c.cfg.HMACSecret, &cb.Obj, hmac)
}

// post sends one JSON request through the limiter and the breaker
func (c *client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to encode gateway request").
			Mark(ierr.ErrSystem)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return ierr.WithError(err).
			WithHint("Payment gateway request was not sent in time").
			WithReportableDetails(map[string]any{"path": path}).
			Mark(ierr.ErrGateway)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.httpClient.Send(ctx, &httpclient.Request{
			Method: http.MethodPost,
			URL:    strings.TrimRight(c.cfg.BaseURL, "/") + path,
			Headers: map[string]string{
				"Accept": "application/json",
			},
			Body: payload,
		})
	})
	if err != nil {
		c.logger.Errorw("payment gateway request failed",
			"path", path,
			"breaker_state", c.breaker.State().String(),
			"error", err,
		)
		return ierr.WithError(err).
			WithHint("Payment gateway is unavailable").
			WithReportableDetails(map[string]any{"path": path}).
			Mark(ierr.ErrGateway)
	}

	resp := result.(*httpclient.Response)
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return ierr.WithError(err).
			WithHint("Payment gateway returned an unexpected response").
			WithReportableDetails(map[string]any{"path": path}).
			Mark(ierr.ErrGateway)
	}
	return nil
}

// ParseCallback decodes a transaction callback body
func ParseCallback(raw []byte) (*TransactionCallback, error) {
	var cb TransactionCallback
	if err := json.Unmarshal(raw, &cb); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Malformed payment callback").
			Mark(ierr.ErrValidation)
	}
	if cb.Obj.ID == 0 || cb.Obj.Order.InvoiceNumber() == "" {
		return nil, ierr.NewError("payment callback is missing transaction or order reference").
			WithHint("Malformed payment callback").
			Mark(ierr.ErrValidation)
	}
	return &cb, nil
}
