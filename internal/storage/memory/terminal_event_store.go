package memory

import (
	"context"
	"sort"
	"sync"

	"dealwatch/internal/domain"
	"dealwatch/internal/storage"
)

// TerminalEventStore is an in-memory implementation of storage.TerminalEventStore.
type TerminalEventStore struct {
	mu   sync.RWMutex
	data map[string]*domain.TerminalEvent // keyed by event id
}

// NewTerminalEventStore creates a new in-memory terminal event store.
func NewTerminalEventStore() *TerminalEventStore {
	return &TerminalEventStore{
		data: make(map[string]*domain.TerminalEvent),
	}
}

// RecordTerminalEvent appends an event. Returns ErrDuplicateKey if the ID exists.
func (s *TerminalEventStore) RecordTerminalEvent(_ context.Context, e *domain.TerminalEvent) error {
	if e == nil || e.ID == "" || e.EntityID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[e.ID]; exists {
		return storage.ErrDuplicateKey
	}
	eventCopy := *e
	s.data[e.ID] = &eventCopy
	return nil
}

// ListTerminalEvents returns events ordered by detected_at ASC.
func (s *TerminalEventStore) ListTerminalEvents(_ context.Context, entityID string) ([]*domain.TerminalEvent, error) {
	s.mu.RLock()
	var result []*domain.TerminalEvent
	for _, e := range s.data {
		if entityID == "" || e.EntityID == entityID {
			eventCopy := *e
			result = append(result, &eventCopy)
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].DetectedAt.Equal(result[j].DetectedAt) {
			return result[i].DetectedAt.Before(result[j].DetectedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.TerminalEventStore = (*TerminalEventStore)(nil)
