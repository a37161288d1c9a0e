package domain

import "time"

// TerminalEvent records a permanent fetch failure for a watched entity.
// Corresponds to terminal_events table. Append-only; written once per
// permanent failure, never mixed into the change log.
type TerminalEvent struct {
	ID         string // deterministic from (entity_id, detected_at)
	EntityID   string
	DetectedAt time.Time
	Kind       FailureKind
	Reason     string
}
