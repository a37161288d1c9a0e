// Package jsonview renders domain records as the JSON documents served by the
// API, the live feed and the CLIs.
package jsonview

import (
	"time"

	"dealwatch/internal/domain"
)

// Change is the JSON form of a change record.
type Change struct {
	ID              string              `json:"id"`
	EntityID        string              `json:"entity_id"`
	DetectedAt      time.Time           `json:"detected_at"`
	SnapshotVersion int64               `json:"snapshot_version"`
	Sequence        int                 `json:"sequence"`
	Kind            domain.ChangeKind   `json:"kind"`
	Summary         string              `json:"summary"`
	Detail          domain.ChangeDetail `json:"detail"`
}

// Snapshot is the JSON form of a snapshot.
type Snapshot struct {
	EntityID   string         `json:"entity_id"`
	Version    int64          `json:"version"`
	CapturedAt time.Time      `json:"captured_at"`
	Payload    domain.Payload `json:"payload"`
}

// Failure is the JSON form of the last poll failure.
type Failure struct {
	Kind   domain.FailureKind `json:"kind"`
	Reason string             `json:"reason"`
	At     time.Time          `json:"at"`
}

// Watch is the JSON form of a watched entity.
type Watch struct {
	EntityID            string           `json:"entity_id"`
	Name                string           `json:"name,omitempty"`
	AddedAt             time.Time        `json:"added_at"`
	LastPolledAt        *time.Time       `json:"last_polled_at"`
	PollState           domain.PollState `json:"poll_state"`
	Permanent           bool             `json:"permanently_failed"`
	LastFailure         *Failure         `json:"last_failure,omitempty"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
}

// TerminalEvent is the JSON form of a terminal event.
type TerminalEvent struct {
	ID         string             `json:"id"`
	EntityID   string             `json:"entity_id"`
	DetectedAt time.Time          `json:"detected_at"`
	Kind       domain.FailureKind `json:"kind"`
	Reason     string             `json:"reason"`
}

// FromChange converts a change record.
func FromChange(c *domain.ChangeRecord) Change {
	return Change{
		ID:              c.ID,
		EntityID:        c.EntityID,
		DetectedAt:      c.DetectedAt.UTC(),
		SnapshotVersion: c.SnapshotVersion,
		Sequence:        c.Sequence,
		Kind:            c.Kind,
		Summary:         c.Summary(),
		Detail:          c.Detail,
	}
}

// FromChanges converts a slice of change records. Never returns nil.
func FromChanges(cs []*domain.ChangeRecord) []Change {
	out := make([]Change, 0, len(cs))
	for _, c := range cs {
		out = append(out, FromChange(c))
	}
	return out
}

// FromSnapshot converts a snapshot.
func FromSnapshot(s *domain.Snapshot) Snapshot {
	return Snapshot{
		EntityID:   s.EntityID,
		Version:    s.Version,
		CapturedAt: s.CapturedAt.UTC(),
		Payload:    s.Payload,
	}
}

// FromSnapshots converts a slice of snapshots. Never returns nil.
func FromSnapshots(ss []*domain.Snapshot) []Snapshot {
	out := make([]Snapshot, 0, len(ss))
	for _, s := range ss {
		out = append(out, FromSnapshot(s))
	}
	return out
}

// FromWatch converts a watched entity.
func FromWatch(w *domain.WatchedEntity) Watch {
	v := Watch{
		EntityID:            w.EntityID,
		Name:                w.Name,
		AddedAt:             w.AddedAt.UTC(),
		LastPolledAt:        w.LastPolledAt,
		PollState:           w.PollState,
		Permanent:           w.IsPermanentlyFailed(),
		ConsecutiveFailures: w.ConsecutiveFailures,
	}
	if w.LastFailure != nil {
		v.LastFailure = &Failure{
			Kind:   w.LastFailure.Kind,
			Reason: w.LastFailure.Reason,
			At:     w.LastFailure.At.UTC(),
		}
	}
	return v
}

// FromWatches converts a slice of watched entities. Never returns nil.
func FromWatches(ws []*domain.WatchedEntity) []Watch {
	out := make([]Watch, 0, len(ws))
	for _, w := range ws {
		out = append(out, FromWatch(w))
	}
	return out
}

// FromTerminalEvents converts terminal events. Never returns nil.
func FromTerminalEvents(es []*domain.TerminalEvent) []TerminalEvent {
	out := make([]TerminalEvent, 0, len(es))
	for _, e := range es {
		out = append(out, TerminalEvent{
			ID:         e.ID,
			EntityID:   e.EntityID,
			DetectedAt: e.DetectedAt.UTC(),
			Kind:       e.Kind,
			Reason:     e.Reason,
		})
	}
	return out
}
