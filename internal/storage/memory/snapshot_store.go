package memory

import (
	"context"
	"sync"

	"dealwatch/internal/domain"
	"dealwatch/internal/storage"
)

// SnapshotStore is an in-memory implementation of storage.SnapshotStore and
// storage.ChangeLog. Snapshots and changes share one lock so a commit is atomic.
type SnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string][]*domain.Snapshot // keyed by entity_id, index == version
	changes   []*domain.ChangeRecord        // append order
}

// NewSnapshotStore creates a new in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		snapshots: make(map[string][]*domain.Snapshot),
	}
}

// GetLatestSnapshot returns the current snapshot. Returns ErrNotFound if none.
func (s *SnapshotStore) GetLatestSnapshot(_ context.Context, entityID string) (*domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.snapshots[entityID]
	if len(versions) == 0 {
		return nil, storage.ErrNotFound
	}
	return versions[len(versions)-1].Clone(), nil
}

// GetSnapshot returns a specific version. Returns ErrNotFound if not exists.
func (s *SnapshotStore) GetSnapshot(_ context.Context, entityID string, version int64) (*domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.snapshots[entityID]
	if version < 0 || version >= int64(len(versions)) {
		return nil, storage.ErrNotFound
	}
	return versions[version].Clone(), nil
}

// ListSnapshots returns every version of an entity ordered by version ASC.
func (s *SnapshotStore) ListSnapshots(_ context.Context, entityID string) ([]*domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.snapshots[entityID]
	result := make([]*domain.Snapshot, 0, len(versions))
	for _, snap := range versions {
		result = append(result, snap.Clone())
	}
	return result, nil
}

// CommitCycle writes the next snapshot and its changes under one lock.
func (s *SnapshotStore) CommitCycle(_ context.Context, req *storage.CommitRequest) (*domain.Snapshot, error) {
	if err := storage.ValidateCommit(req); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.snapshots[req.EntityID]
	current := int64(len(versions)) - 1
	if current != req.ExpectedVersion {
		return nil, storage.ErrConflict
	}
	if current >= 0 {
		if err := storage.CheckCapturedAt(versions[current].CapturedAt, req.CapturedAt); err != nil {
			return nil, err
		}
	}

	snap := &domain.Snapshot{
		EntityID:   req.EntityID,
		Version:    current + 1,
		CapturedAt: req.CapturedAt,
		Payload:    req.Payload.Clone(),
	}
	s.snapshots[req.EntityID] = append(versions, snap)
	s.changes = append(s.changes, storage.StampChanges(req.EntityID, snap.Version, req.CapturedAt, req.Changes)...)

	return snap.Clone(), nil
}

// ListChanges returns matching change records in log order.
func (s *SnapshotStore) ListChanges(_ context.Context, filter storage.ChangeFilter) ([]*domain.ChangeRecord, error) {
	s.mu.RLock()
	var result []*domain.ChangeRecord
	for _, c := range s.changes {
		if filter.Matches(c) {
			result = append(result, c.Clone())
		}
	}
	s.mu.RUnlock()

	storage.SortChanges(result)
	return storage.TailLimit(result, filter.Limit), nil
}

// Verify interface compliance at compile time.
var (
	_ storage.SnapshotStore = (*SnapshotStore)(nil)
	_ storage.ChangeLog     = (*SnapshotStore)(nil)
)
