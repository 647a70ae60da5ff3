package testutil

import (
	"context"
	"time"

	"github.com/agentmesh/billing/internal/domain/subscription"
	"github.com/agentmesh/billing/internal/types"
	"github.com/samber/lo"
)

// InMemorySubscriptionStore implements subscription.Repository, including the
// partial unique index on live subscriptions and the version check
type InMemorySubscriptionStore struct {
	*InMemoryStore[*subscription.Subscription]
}

func NewInMemorySubscriptionStore() *InMemorySubscriptionStore {
	return &InMemorySubscriptionStore{
		InMemoryStore: NewInMemoryStoreWithClone(copySubscription),
	}
}

func copySubscription(sub *subscription.Subscription) *subscription.Subscription {
	if sub == nil {
		return nil
	}
	c := *sub
	if sub.TrialEndsAt != nil {
		c.TrialEndsAt = lo.ToPtr(*sub.TrialEndsAt)
	}
	if sub.CancelledAt != nil {
		c.CancelledAt = lo.ToPtr(*sub.CancelledAt)
	}
	return &c
}

// hasOtherLive must be called with the lock held
func (s *InMemorySubscriptionStore) hasOtherLive(tenantID, id string) bool {
	for _, existing := range s.items {
		if existing.TenantID == tenantID && existing.ID != id && existing.IsLive() {
			return true
		}
	}
	return false
}

func (s *InMemorySubscriptionStore) Create(ctx context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[sub.ID]; exists {
		return uniqueViolation("subscriptions_pkey", "subscription")
	}
	if sub.IsLive() && s.hasOtherLive(sub.TenantID, sub.ID) {
		return uniqueViolation("subscriptions_tenant_live_idx", "subscription")
	}
	s.items[sub.ID] = copySubscription(sub)
	return nil
}

func (s *InMemorySubscriptionStore) Get(ctx context.Context, id string) (*subscription.Subscription, error) {
	sub, err := s.InMemoryStore.Get(ctx, id)
	if err != nil || sub.TenantID != types.GetTenantID(ctx) {
		return nil, notFound("subscription", id)
	}
	return sub, nil
}

func (s *InMemorySubscriptionStore) GetForUpdate(ctx context.Context, id string) (*subscription.Subscription, error) {
	return s.Get(ctx, id)
}

func (s *InMemorySubscriptionStore) newest(tenantID string, statuses []types.SubscriptionStatus) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	found := s.newestLocked(tenantID, statuses)
	if found == nil {
		return nil, notFound("subscription", tenantID)
	}
	return copySubscription(found), nil
}

func (s *InMemorySubscriptionStore) newestLocked(tenantID string, statuses []types.SubscriptionStatus) *subscription.Subscription {
	var found *subscription.Subscription
	for _, sub := range s.items {
		if sub.TenantID != tenantID || !lo.Contains(statuses, sub.SubscriptionStatus) {
			continue
		}
		if found == nil || sub.CreatedAt.After(found.CreatedAt) {
			found = sub
		}
	}
	return found
}

func (s *InMemorySubscriptionStore) GetLive(ctx context.Context, tenantID string) (*subscription.Subscription, error) {
	return s.newest(tenantID, types.LiveSubscriptionStatuses)
}

func (s *InMemorySubscriptionStore) Update(ctx context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.items[sub.ID]
	if !ok || existing.TenantID != sub.TenantID || existing.Version != sub.Version {
		return versionConflict("subscription", sub.ID, sub.Version)
	}
	if sub.IsLive() && s.hasOtherLive(sub.TenantID, sub.ID) {
		return uniqueViolation("subscriptions_tenant_live_idx", "subscription")
	}

	sub.Version++
	s.items[sub.ID] = copySubscription(sub)
	return nil
}

func (s *InMemorySubscriptionStore) IncrementExecutionsUsed(ctx context.Context, tenantID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := s.newestLocked(tenantID, types.LiveSubscriptionStatuses)
	if sub == nil {
		sub = s.newestLocked(tenantID, types.MeteredSubscriptionStatuses)
	}
	if sub == nil {
		return 0, nil
	}
	sub.ExecutionsUsed++
	return 1, nil
}

func subscriptionFilterFn(_ context.Context, sub *subscription.Subscription, filter interface{}) bool {
	f, ok := filter.(*types.SubscriptionFilter)
	if !ok || f == nil {
		return true
	}
	if f.QueryFilter != nil && !publishedOnly(sub.Status, f.GetStatus()) {
		return false
	}
	if f.TenantID != "" && sub.TenantID != f.TenantID {
		return false
	}
	if f.PlanID != "" && sub.PlanID != f.PlanID {
		return false
	}
	if len(f.SubscriptionStatus) > 0 && !lo.Contains(f.SubscriptionStatus, sub.SubscriptionStatus) {
		return false
	}
	if f.AutoRenew != nil && sub.AutoRenew != *f.AutoRenew {
		return false
	}
	if f.CancellationPending != nil && (sub.CancelledAt != nil) != *f.CancellationPending {
		return false
	}
	if f.TrialEndedBy != nil && (sub.TrialEndsAt == nil || sub.TrialEndsAt.After(*f.TrialEndedBy)) {
		return false
	}
	if f.NextBillingBy != nil && sub.NextBillingDate.After(*f.NextBillingBy) {
		return false
	}
	if f.PeriodEndedBy != nil && sub.CurrentPeriodEnd.After(*f.PeriodEndedBy) {
		return false
	}
	if f.AfterID != "" && sub.ID <= f.AfterID {
		return false
	}
	return true
}

func subscriptionSortFn(f *types.SubscriptionFilter) SortFunc[*subscription.Subscription] {
	if f != nil && f.QueryFilter != nil && f.GetSort() == "id" {
		asc := f.GetOrder() == types.OrderAsc
		return func(a, b *subscription.Subscription) bool {
			if asc {
				return a.ID < b.ID
			}
			return a.ID > b.ID
		}
	}
	return func(a, b *subscription.Subscription) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	}
}

func (s *InMemorySubscriptionStore) List(ctx context.Context, f *types.SubscriptionFilter) ([]*subscription.Subscription, error) {
	if f == nil {
		f = types.NewSubscriptionFilter()
	}
	return s.InMemoryStore.List(ctx, f, subscriptionFilterFn, subscriptionSortFn(f))
}

func (s *InMemorySubscriptionStore) Count(ctx context.Context, f *types.SubscriptionFilter) (int, error) {
	if f == nil {
		f = types.NewSubscriptionFilter()
	}
	return s.InMemoryStore.Count(ctx, f, subscriptionFilterFn)
}

// InMemoryAgentSubscriptionStore implements subscription.AgentSubscriptionRepository
type InMemoryAgentSubscriptionStore struct {
	*InMemoryStore[*subscription.AgentSubscription]
}

func NewInMemoryAgentSubscriptionStore() *InMemoryAgentSubscriptionStore {
	return &InMemoryAgentSubscriptionStore{
		InMemoryStore: NewInMemoryStoreWithClone(func(a *subscription.AgentSubscription) *subscription.AgentSubscription {
			c := *a
			return &c
		}),
	}
}

func (s *InMemoryAgentSubscriptionStore) Create(ctx context.Context, sub *subscription.AgentSubscription) error {
	if err := s.InMemoryStore.Create(ctx, sub.ID, sub); err != nil {
		return uniqueViolation("agent_subscriptions_pkey", "agent subscription")
	}
	return nil
}

func (s *InMemoryAgentSubscriptionStore) ListActive(ctx context.Context, tenantID string, at time.Time) ([]*subscription.AgentSubscription, error) {
	return s.InMemoryStore.List(ctx, nil,
		func(_ context.Context, a *subscription.AgentSubscription, _ interface{}) bool {
			return a.TenantID == tenantID &&
				a.AgentSubscriptionStatus == types.AgentSubscriptionStatusActive &&
				a.Status == types.StatusPublished &&
				!a.CurrentPeriodStart.After(at)
		},
		func(a, b *subscription.AgentSubscription) bool {
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.ID < b.ID
		},
	)
}
