package storage

import (
	"context"
	"time"

	"dealwatch/internal/domain"
)

// CommitRequest is one poll cycle's result for one entity.
type CommitRequest struct {
	EntityID        string
	ExpectedVersion int64 // version the caller diffed against, domain.NoVersion if none
	CapturedAt      time.Time
	Payload         domain.Payload
	Changes         []*domain.ChangeRecord // ordered by Sequence; ID and version assigned on commit
}

// SnapshotStore provides access to snapshots and the change log they produce.
type SnapshotStore interface {
	// GetLatestSnapshot returns the current snapshot. Returns ErrNotFound if
	// the entity has never been successfully polled.
	GetLatestSnapshot(ctx context.Context, entityID string) (*domain.Snapshot, error)

	// GetSnapshot returns a specific version. Returns ErrNotFound if not exists.
	GetSnapshot(ctx context.Context, entityID string, version int64) (*domain.Snapshot, error)

	// ListSnapshots returns every version of an entity, ordered by version ASC.
	ListSnapshots(ctx context.Context, entityID string) ([]*domain.Snapshot, error)

	// CommitCycle atomically writes the snapshot at ExpectedVersion+1 and appends
	// all changes tagged with that version. Returns ErrConflict if the current
	// version is not ExpectedVersion, ErrInvalidInput if CapturedAt would move
	// backwards. Nothing is written on error.
	CommitCycle(ctx context.Context, req *CommitRequest) (*domain.Snapshot, error)
}

// ChangeFilter narrows ListChanges. Zero values disable a criterion.
type ChangeFilter struct {
	EntityID string
	Since    time.Time // detected_at >= Since
	Kind     domain.ChangeKind
	Limit    int // keep only the most recent Limit records
}

// ChangeLog provides read-only access to detected changes.
type ChangeLog interface {
	// ListChanges returns matching records ordered by
	// (detected_at, entity_id, snapshot_version, sequence) ASC.
	ListChanges(ctx context.Context, filter ChangeFilter) ([]*domain.ChangeRecord, error)
}

// TerminalEventStore provides access to permanent-failure events.
type TerminalEventStore interface {
	// RecordTerminalEvent appends an event. Returns ErrDuplicateKey if the ID exists.
	RecordTerminalEvent(ctx context.Context, e *domain.TerminalEvent) error

	// ListTerminalEvents returns events for an entity ordered by detected_at ASC.
	// An empty entityID returns all events.
	ListTerminalEvents(ctx context.Context, entityID string) ([]*domain.TerminalEvent, error)
}

// WatchRegistry provides access to the set of watched entities and their poll state.
type WatchRegistry interface {
	// Add starts watching an entity in IDLE state. No-op if already watched.
	Add(ctx context.Context, entityID, name string, at time.Time) error

	// Remove stops watching an entity. No-op if not watched.
	Remove(ctx context.Context, entityID string) error

	// Get returns one watched entity. Returns ErrNotFound if not watched.
	Get(ctx context.Context, entityID string) (*domain.WatchedEntity, error)

	// List returns all watched entities ordered by entity_id ASC.
	List(ctx context.Context) ([]*domain.WatchedEntity, error)

	// MarkPolling moves IDLE or (non-permanent) FAILED to POLLING.
	MarkPolling(ctx context.Context, entityID string) error

	// MarkIdle moves POLLING to IDLE, records the poll time and clears the failure.
	MarkIdle(ctx context.Context, entityID string, at time.Time) error

	// MarkFailed moves POLLING to FAILED and records the failure.
	MarkFailed(ctx context.Context, entityID string, at time.Time, failure domain.PollFailure) error

	// RecoverInterrupted moves entities left in POLLING (by a crash) to a
	// transient FAILED state. Returns the number of entities recovered.
	RecoverInterrupted(ctx context.Context, at time.Time) (int, error)
}

// Stores holds one backend's implementation of every contract.
type Stores struct {
	Snapshots SnapshotStore
	Changes   ChangeLog
	Events    TerminalEventStore
	Registry  WatchRegistry

	// Closer releases the backend's connections. Nil for in-memory stores.
	Closer func()
}

// Close releases the backend's connections.
func (s *Stores) Close() {
	if s.Closer != nil {
		s.Closer()
	}
}
