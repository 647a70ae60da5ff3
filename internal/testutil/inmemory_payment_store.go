package testutil

import (
	"context"

	"github.com/agentmesh/billing/internal/domain/payment"
	"github.com/agentmesh/billing/internal/types"
	"github.com/samber/lo"
)

// InMemoryPaymentStore implements payment.Repository
type InMemoryPaymentStore struct {
	*InMemoryStore[*payment.PaymentTransaction]
}

func NewInMemoryPaymentStore() *InMemoryPaymentStore {
	return &InMemoryPaymentStore{
		InMemoryStore: NewInMemoryStoreWithClone(copyPayment),
	}
}

func copyPayment(p *payment.PaymentTransaction) *payment.PaymentTransaction {
	if p == nil {
		return nil
	}
	c := *p
	if p.PaidAt != nil {
		c.PaidAt = lo.ToPtr(*p.PaidAt)
	}
	if p.FailedAt != nil {
		c.FailedAt = lo.ToPtr(*p.FailedAt)
	}
	if p.RefundedAt != nil {
		c.RefundedAt = lo.ToPtr(*p.RefundedAt)
	}
	return &c
}

func (s *InMemoryPaymentStore) CreateIfAbsent(ctx context.Context, txn *payment.PaymentTransaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.items {
		if existing.GatewayTransactionID == txn.GatewayTransactionID {
			return false, nil
		}
	}
	if _, exists := s.items[txn.ID]; exists {
		return false, uniqueViolation("payment_transactions_pkey", "payment transaction")
	}
	s.items[txn.ID] = copyPayment(txn)
	return true, nil
}

func (s *InMemoryPaymentStore) Get(ctx context.Context, id string) (*payment.PaymentTransaction, error) {
	p, err := s.InMemoryStore.Get(ctx, id)
	if err != nil || p.TenantID != types.GetTenantID(ctx) {
		return nil, notFound("payment transaction", id)
	}
	return p, nil
}

func (s *InMemoryPaymentStore) GetByGatewayTransactionID(ctx context.Context, gatewayTransactionID string) (*payment.PaymentTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.items {
		if p.GatewayTransactionID == gatewayTransactionID {
			return copyPayment(p), nil
		}
	}
	return nil, notFound("payment transaction", gatewayTransactionID)
}

func (s *InMemoryPaymentStore) Update(ctx context.Context, txn *payment.PaymentTransaction) error {
	return s.InMemoryStore.Update(ctx, txn.ID, txn)
}

func (s *InMemoryPaymentStore) ListByInvoice(ctx context.Context, invoiceID string) ([]*payment.PaymentTransaction, error) {
	tenantID := types.GetTenantID(ctx)
	return s.InMemoryStore.List(ctx, nil,
		func(_ context.Context, p *payment.PaymentTransaction, _ interface{}) bool {
			return p.InvoiceID == invoiceID && p.TenantID == tenantID
		},
		func(a, b *payment.PaymentTransaction) bool {
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.ID < b.ID
		},
	)
}
