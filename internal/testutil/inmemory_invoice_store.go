package testutil

import (
	"context"
	"time"

	"github.com/agentmesh/billing/internal/domain/invoice"
	"github.com/agentmesh/billing/internal/types"
	"github.com/samber/lo"
)

// InMemoryInvoiceStore implements invoice.Repository with the same unique
// constraints as the invoices table and a shared daily number sequence
type InMemoryInvoiceStore struct {
	*InMemoryStore[*invoice.Invoice]
	sequences map[string]int64
}

func NewInMemoryInvoiceStore() *InMemoryInvoiceStore {
	return &InMemoryInvoiceStore{
		InMemoryStore: NewInMemoryStoreWithClone(copyInvoice),
		sequences:     make(map[string]int64),
	}
}

func copyInvoice(inv *invoice.Invoice) *invoice.Invoice {
	if inv == nil {
		return nil
	}
	c := *inv
	if inv.PaidAt != nil {
		c.PaidAt = lo.ToPtr(*inv.PaidAt)
	}
	if inv.PaymentTransactionID != nil {
		c.PaymentTransactionID = lo.ToPtr(*inv.PaymentTransactionID)
	}
	if inv.PaymentLinkURL != nil {
		c.PaymentLinkURL = lo.ToPtr(*inv.PaymentLinkURL)
	}
	if inv.Metadata != nil {
		c.Metadata = lo.Assign(types.Metadata{}, inv.Metadata)
	}
	c.LineItems = lo.Map(inv.LineItems, func(li *invoice.LineItem, _ int) *invoice.LineItem {
		item := *li
		return &item
	})
	return &c
}

func (s *InMemoryInvoiceStore) Create(ctx context.Context, inv *invoice.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[inv.ID]; exists {
		return uniqueViolation("invoices_pkey", "invoice")
	}
	for _, existing := range s.items {
		if existing.InvoiceNumber == inv.InvoiceNumber {
			return uniqueViolation("invoices_invoice_number_key", "invoice")
		}
		if inv.IdempotencyKey != "" && existing.IdempotencyKey == inv.IdempotencyKey {
			return uniqueViolation("invoices_idempotency_key", "invoice")
		}
		if existing.TenantID == inv.TenantID &&
			existing.SubscriptionID == inv.SubscriptionID &&
			existing.CoversPeriod(inv.BillingPeriodStart, inv.BillingPeriodEnd) {
			return uniqueViolation("invoices_subscription_period_key", "invoice")
		}
	}

	for _, li := range inv.LineItems {
		li.InvoiceID = inv.ID
	}
	s.items[inv.ID] = copyInvoice(inv)
	return nil
}

func (s *InMemoryInvoiceStore) Get(ctx context.Context, id string) (*invoice.Invoice, error) {
	inv, err := s.InMemoryStore.Get(ctx, id)
	if err != nil || inv.TenantID != types.GetTenantID(ctx) {
		return nil, notFound("invoice", id)
	}
	return inv, nil
}

func (s *InMemoryInvoiceStore) GetForUpdate(ctx context.Context, id string) (*invoice.Invoice, error) {
	return s.Get(ctx, id)
}

func (s *InMemoryInvoiceStore) GetByNumber(ctx context.Context, invoiceNumber string) (*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, inv := range s.items {
		if inv.InvoiceNumber == invoiceNumber {
			return copyInvoice(inv), nil
		}
	}
	return nil, notFound("invoice", invoiceNumber)
}

func (s *InMemoryInvoiceStore) ExistsForPeriod(ctx context.Context, subscriptionID string, start, end time.Time) (bool, error) {
	tenantID := types.GetTenantID(ctx)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, inv := range s.items {
		if inv.TenantID == tenantID && inv.SubscriptionID == subscriptionID && inv.CoversPeriod(start, end) {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryInvoiceStore) GetNextInvoiceNumber(ctx context.Context, at time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := invoice.SequenceDay(at)
	s.sequences[day]++
	return invoice.FormatInvoiceNumber(day, s.sequences[day]), nil
}

// Update writes the header only; line items are kept as stored
func (s *InMemoryInvoiceStore) Update(ctx context.Context, inv *invoice.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.items[inv.ID]
	if !ok || existing.TenantID != inv.TenantID || existing.Version != inv.Version {
		return versionConflict("invoice", inv.ID, inv.Version)
	}

	inv.Version++
	updated := copyInvoice(inv)
	updated.LineItems = existing.LineItems
	s.items[inv.ID] = updated
	return nil
}

func (s *InMemoryInvoiceStore) AddLineItems(ctx context.Context, invoiceID string, items []*invoice.LineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.items[invoiceID]
	if !ok {
		return notFound("invoice", invoiceID)
	}
	for _, li := range items {
		li.InvoiceID = invoiceID
		item := *li
		existing.LineItems = append(existing.LineItems, &item)
	}
	return nil
}

func (s *InMemoryInvoiceStore) ListPaymentLinkRetries(ctx context.Context, limit int) ([]*invoice.Invoice, error) {
	result, err := s.InMemoryStore.List(ctx, nil,
		func(_ context.Context, inv *invoice.Invoice, _ interface{}) bool {
			return inv.PaymentLinkStatus == types.PaymentLinkStatusFailed &&
				inv.InvoiceStatus.IsPayable() &&
				inv.Status == types.StatusPublished
		},
		func(a, b *invoice.Invoice) bool {
			if !a.UpdatedAt.Equal(b.UpdatedAt) {
				return a.UpdatedAt.Before(b.UpdatedAt)
			}
			return a.ID < b.ID
		},
	)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func invoiceFilterFn(ctx context.Context, inv *invoice.Invoice, filter interface{}) bool {
	if inv.TenantID != types.GetTenantID(ctx) {
		return false
	}
	f, ok := filter.(*types.InvoiceFilter)
	if !ok || f == nil {
		return true
	}
	if f.QueryFilter != nil && !publishedOnly(inv.Status, f.GetStatus()) {
		return false
	}
	if len(f.InvoiceIDs) > 0 && !lo.Contains(f.InvoiceIDs, inv.ID) {
		return false
	}
	if f.SubscriptionID != "" && inv.SubscriptionID != f.SubscriptionID {
		return false
	}
	if len(f.InvoiceStatus) > 0 && !lo.Contains(f.InvoiceStatus, inv.InvoiceStatus) {
		return false
	}
	if len(f.PaymentLinkStatus) > 0 && !lo.Contains(f.PaymentLinkStatus, inv.PaymentLinkStatus) {
		return false
	}
	if f.PeriodStart != nil && inv.BillingPeriodStart.Before(*f.PeriodStart) {
		return false
	}
	if f.PeriodEnd != nil && inv.BillingPeriodEnd.After(*f.PeriodEnd) {
		return false
	}
	if f.TimeRangeFilter != nil {
		if f.StartTime != nil && inv.CreatedAt.Before(*f.StartTime) {
			return false
		}
		if f.EndTime != nil && !inv.CreatedAt.Before(*f.EndTime) {
			return false
		}
	}
	return true
}

// List returns invoice headers without line items, like the sqlx repository
func (s *InMemoryInvoiceStore) List(ctx context.Context, f *types.InvoiceFilter) ([]*invoice.Invoice, error) {
	if f == nil {
		f = types.NewInvoiceFilter()
	}
	result, err := s.InMemoryStore.List(ctx, f, invoiceFilterFn, func(a, b *invoice.Invoice) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	if err != nil {
		return nil, err
	}
	for _, inv := range result {
		inv.LineItems = nil
	}
	return result, nil
}

func (s *InMemoryInvoiceStore) Count(ctx context.Context, f *types.InvoiceFilter) (int, error) {
	if f == nil {
		f = types.NewInvoiceFilter()
	}
	return s.InMemoryStore.Count(ctx, f, invoiceFilterFn)
}

// Clear also resets the number sequence
func (s *InMemoryInvoiceStore) Clear() {
	s.InMemoryStore.Clear()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequences = make(map[string]int64)
}
