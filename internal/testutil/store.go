package testutil

import (
	"context"
	"sort"
	"sync"

	ierr "github.com/agentmesh/billing/internal/errors"
	"github.com/agentmesh/billing/internal/postgres"
	"github.com/agentmesh/billing/internal/types"
	"github.com/lib/pq"
)

// FilterFunc is a generic filter function type
type FilterFunc[T any] func(ctx context.Context, item T, filter interface{}) bool

// SortFunc is a generic sort function type
type SortFunc[T any] func(i, j T) bool

// InMemoryStore implements a generic in-memory store.
// When clone is set, items are copied on the way in and out so callers
// never alias stored rows, the way a database round trip would not.
type InMemoryStore[T any] struct {
	mu    sync.RWMutex
	items map[string]T
	clone func(T) T
}

// NewInMemoryStore creates a new InMemoryStore
func NewInMemoryStore[T any]() *InMemoryStore[T] {
	return &InMemoryStore[T]{
		items: make(map[string]T),
	}
}

// NewInMemoryStoreWithClone creates a store that copies items with clone
func NewInMemoryStoreWithClone[T any](clone func(T) T) *InMemoryStore[T] {
	s := NewInMemoryStore[T]()
	s.clone = clone
	return s
}

func (s *InMemoryStore[T]) copy(item T) T {
	if s.clone == nil {
		return item
	}
	return s.clone(item)
}

// Create adds a new item to the store
func (s *InMemoryStore[T]) Create(ctx context.Context, id string, item T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[id]; exists {
		return ierr.NewError("item already exists").
			WithReportableDetails(map[string]any{"id": id}).
			Mark(ierr.ErrAlreadyExists)
	}

	s.items[id] = s.copy(item)
	return nil
}

// Get retrieves an item by ID
func (s *InMemoryStore[T]) Get(ctx context.Context, id string) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if item, exists := s.items[id]; exists {
		return s.copy(item), nil
	}

	var zero T
	return zero, notFound("item", id)
}

// List retrieves items based on filter
func (s *InMemoryStore[T]) List(ctx context.Context, filter interface{}, filterFn FilterFunc[T], sortFn SortFunc[T]) ([]T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]T, 0)
	for _, item := range s.items {
		if filterFn == nil || filterFn(ctx, item, filter) {
			result = append(result, s.copy(item))
		}
	}

	if sortFn != nil {
		sort.Slice(result, func(i, j int) bool {
			return sortFn(result[i], result[j])
		})
	}

	return paginate(result, filter), nil
}

// Count returns the total number of items matching the filter
func (s *InMemoryStore[T]) Count(ctx context.Context, filter interface{}, filterFn FilterFunc[T]) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, item := range s.items {
		if filterFn == nil || filterFn(ctx, item, filter) {
			count++
		}
	}

	return count, nil
}

// Update updates an existing item
func (s *InMemoryStore[T]) Update(ctx context.Context, id string, item T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[id]; !exists {
		return notFound("item", id)
	}

	s.items[id] = s.copy(item)
	return nil
}

// Delete removes an item from the store
func (s *InMemoryStore[T]) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[id]; !exists {
		return notFound("item", id)
	}

	delete(s.items, id)
	return nil
}

// Clear removes all items from the store
func (s *InMemoryStore[T]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]T)
}

// Len returns the number of stored items
func (s *InMemoryStore[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// paginate applies limit and offset when filter implements them
func paginate[T any](result []T, filter interface{}) []T {
	f, ok := filter.(interface {
		IsUnlimited() bool
		GetLimit() int
		GetOffset() int
	})
	if !ok || f.IsUnlimited() {
		return result
	}

	start := f.GetOffset()
	if start >= len(result) {
		return []T{}
	}
	end := start + f.GetLimit()
	if end > len(result) {
		end = len(result)
	}
	return result[start:end]
}

// notFound mirrors the repositories' mapping of sql.ErrNoRows
func notFound(entity, id string) error {
	return ierr.NewErrorf("%s not found", entity).
		WithHintf("%s not found", entity).
		WithReportableDetails(map[string]any{"id": id}).
		Mark(ierr.ErrNotFound)
}

// uniqueViolation produces the same error the sqlx repositories return for
// a unique constraint, so callers matching on constraint names behave alike
func uniqueViolation(constraint, entity string) error {
	return postgres.WrapError(&pq.Error{
		Code:       "23505",
		Constraint: constraint,
		Message:    "duplicate key value violates unique constraint",
	}, entity)
}

func versionConflict(entity, id string, version int) error {
	return ierr.NewErrorf("%s was modified concurrently", entity).
		WithHintf("%s changed, please retry", entity).
		WithReportableDetails(map[string]any{
			"id":      id,
			"version": version,
		}).
		Mark(ierr.ErrVersionConflict)
}

// publishedOnly matches the record status filter of the repositories
func publishedOnly(status types.Status, want string) bool {
	return want == "" || string(status) == want
}
