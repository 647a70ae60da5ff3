package testutil

import (
	"context"
	"sort"
	"time"

	"github.com/agentmesh/billing/internal/domain/usage"
	"github.com/agentmesh/billing/internal/types"
	"github.com/shopspring/decimal"
)

// InMemoryUsageStore implements usage.Repository
type InMemoryUsageStore struct {
	*InMemoryStore[*usage.UsageEvent]
}

func NewInMemoryUsageStore() *InMemoryUsageStore {
	return &InMemoryUsageStore{
		InMemoryStore: NewInMemoryStoreWithClone(copyUsageEvent),
	}
}

func copyUsageEvent(e *usage.UsageEvent) *usage.UsageEvent {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

func usageKey(tenantID, executionID string) string {
	return tenantID + "/" + executionID
}

func (s *InMemoryUsageStore) InsertIfAbsent(ctx context.Context, event *usage.UsageEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := usageKey(event.TenantID, event.ExecutionID)
	if _, exists := s.items[key]; exists {
		return false, nil
	}
	s.items[key] = copyUsageEvent(event)
	return true, nil
}

func (s *InMemoryUsageStore) GetByExecutionID(ctx context.Context, executionID string) (*usage.UsageEvent, error) {
	return s.Get(ctx, usageKey(types.GetTenantID(ctx), executionID))
}

func (s *InMemoryUsageStore) Summarize(ctx context.Context, tenantID string, start, end time.Time) (*usage.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := &usage.Summary{
		TotalCost:    decimal.Zero,
		TotalCharged: decimal.Zero,
	}
	var latency int64
	for _, e := range s.items {
		if e.TenantID != tenantID || e.OccurredAt.Before(start) || !e.OccurredAt.Before(end) {
			continue
		}
		summary.Executions++
		summary.TotalTokens += e.TokensUsed
		summary.TotalCost = summary.TotalCost.Add(e.Cost)
		summary.TotalCharged = summary.TotalCharged.Add(e.ChargedAmount)
		latency += e.LatencyMs
	}
	if summary.Executions > 0 {
		summary.AvgLatencyMs = float64(latency) / float64(summary.Executions)
	}
	return summary, nil
}

func (s *InMemoryUsageStore) DailyTrend(ctx context.Context, tenantID string, since time.Time) ([]*usage.DailyUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	days := make(map[time.Time]*usage.DailyUsage)
	for _, e := range s.items {
		if e.TenantID != tenantID || e.OccurredAt.Before(since) {
			continue
		}
		at := e.OccurredAt.UTC()
		day := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
		d, ok := days[day]
		if !ok {
			d = &usage.DailyUsage{Day: day, TotalCost: decimal.Zero, TotalCharged: decimal.Zero}
			days[day] = d
		}
		d.Executions++
		d.TotalCost = d.TotalCost.Add(e.Cost)
		d.TotalCharged = d.TotalCharged.Add(e.ChargedAmount)
	}

	result := make([]*usage.DailyUsage, 0, len(days))
	for _, d := range days {
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Day.Before(result[j].Day)
	})
	return result, nil
}
