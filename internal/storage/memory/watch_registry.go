package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"dealwatch/internal/domain"
	"dealwatch/internal/storage"
)

// WatchRegistry is an in-memory implementation of storage.WatchRegistry.
type WatchRegistry struct {
	mu   sync.RWMutex
	data map[string]*domain.WatchedEntity // keyed by entity_id
}

// NewWatchRegistry creates a new in-memory watch registry.
func NewWatchRegistry() *WatchRegistry {
	return &WatchRegistry{
		data: make(map[string]*domain.WatchedEntity),
	}
}

// Add starts watching an entity. No-op if already watched.
func (r *WatchRegistry) Add(_ context.Context, entityID, name string, at time.Time) error {
	if entityID == "" {
		return storage.ErrInvalidInput
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.data[entityID]; exists {
		return nil
	}
	r.data[entityID] = &domain.WatchedEntity{
		EntityID:  entityID,
		Name:      name,
		AddedAt:   at,
		PollState: domain.PollStateIdle,
	}
	return nil
}

// Remove stops watching an entity. No-op if not watched.
func (r *WatchRegistry) Remove(_ context.Context, entityID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.data, entityID)
	return nil
}

// Get returns one watched entity. Returns ErrNotFound if not watched.
func (r *WatchRegistry) Get(_ context.Context, entityID string) (*domain.WatchedEntity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, exists := r.data[entityID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return w.Clone(), nil
}

// List returns all watched entities ordered by entity_id ASC.
func (r *WatchRegistry) List(_ context.Context) ([]*domain.WatchedEntity, error) {
	r.mu.RLock()
	result := make([]*domain.WatchedEntity, 0, len(r.data))
	for _, w := range r.data {
		result = append(result, w.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].EntityID < result[j].EntityID
	})
	return result, nil
}

// MarkPolling moves an entity to POLLING.
func (r *WatchRegistry) MarkPolling(_ context.Context, entityID string) error {
	return r.update(entityID, domain.PollStatePolling, func(w *domain.WatchedEntity) {
		w.PollState = domain.PollStatePolling
	})
}

// MarkIdle records a successful poll.
func (r *WatchRegistry) MarkIdle(_ context.Context, entityID string, at time.Time) error {
	return r.update(entityID, domain.PollStateIdle, func(w *domain.WatchedEntity) {
		storage.ApplyIdle(w, at)
	})
}

// MarkFailed records a failed poll.
func (r *WatchRegistry) MarkFailed(_ context.Context, entityID string, at time.Time, failure domain.PollFailure) error {
	return r.update(entityID, domain.PollStateFailed, func(w *domain.WatchedEntity) {
		storage.ApplyFailed(w, at, failure)
	})
}

// RecoverInterrupted moves entities stuck in POLLING to a transient failure.
func (r *WatchRegistry) RecoverInterrupted(_ context.Context, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, w := range r.data {
		if w.PollState == domain.PollStatePolling {
			storage.ApplyFailed(w, at, storage.InterruptedFailure(at))
			n++
		}
	}
	return n, nil
}

func (r *WatchRegistry) update(entityID string, to domain.PollState, apply func(*domain.WatchedEntity)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, exists := r.data[entityID]
	if !exists {
		return storage.ErrNotFound
	}
	if err := storage.CheckTransition(w, to); err != nil {
		return err
	}
	apply(w)
	return nil
}

// Verify interface compliance at compile time.
var _ storage.WatchRegistry = (*WatchRegistry)(nil)
