package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentmesh/billing/internal/integration/paymob"
)

var _ paymob.Client = (*MockPaymobClient)(nil)

// MockPaymobClient stands in for the gateway. Signatures are checked with
// the real scheme so webhook tests sign payloads with CalculateHMAC.
type MockPaymobClient struct {
	mu         sync.Mutex
	hmacSecret string
	err        error
	delay      time.Duration
	requests   []paymob.PaymentLinkRequest
	nextOrder  int64
}

func NewMockPaymobClient(hmacSecret string) *MockPaymobClient {
	return &MockPaymobClient{
		hmacSecret: hmacSecret,
		nextOrder:  1000,
	}
}

// FailWith makes every following link request return err; nil restores success
func (m *MockPaymobClient) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Delay makes link requests block for d or until the context is done
func (m *MockPaymobClient) Delay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// LinkRequests returns the link requests received so far
func (m *MockPaymobClient) LinkRequests() []paymob.PaymentLinkRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]paymob.PaymentLinkRequest(nil), m.requests...)
}

func (m *MockPaymobClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = nil
	m.delay = 0
	m.requests = nil
}

func (m *MockPaymobClient) Authenticate(ctx context.Context) (string, error) {
	return "mock-auth-token", nil
}

func (m *MockPaymobClient) RegisterOrder(ctx context.Context, token string, req paymob.OrderRequest) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextOrder++
	return m.nextOrder, nil
}

func (m *MockPaymobClient) GetPaymentKey(ctx context.Context, token string, req paymob.PaymentKeyRequest) (string, error) {
	return fmt.Sprintf("mock-key-%d", req.OrderID), nil
}

func (m *MockPaymobClient) CreatePaymentLink(ctx context.Context, req paymob.PaymentLinkRequest) (*paymob.PaymentLink, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	err, delay := m.err, m.delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	orderID, _ := m.RegisterOrder(ctx, "", paymob.OrderRequest{})
	key, _ := m.GetPaymentKey(ctx, "", paymob.PaymentKeyRequest{OrderID: orderID})
	return &paymob.PaymentLink{
		OrderID:      orderID,
		PaymentToken: key,
		URL:          fmt.Sprintf("https://accept.test/api/acceptance/iframes/1?payment_token=%s", key),
	}, nil
}

func (m *MockPaymobClient) VerifySignature(cb *paymob.TransactionCallback, hmac string) bool {
	if cb == nil {
		return false
	}
	return paymob.VerifyHMAC(m.hmacSecret, &cb.Obj, hmac)
}
