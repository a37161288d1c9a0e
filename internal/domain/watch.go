package domain

import "time"

// PollState is the per-entity state driven by the poll scheduler.
type PollState string

const (
	PollStateIdle    PollState = "IDLE"
	PollStatePolling PollState = "POLLING"
	PollStateFailed  PollState = "FAILED"
)

// String returns the string representation of PollState.
func (s PollState) String() string {
	return string(s)
}

// IsValid checks if the state is a known value.
func (s PollState) IsValid() bool {
	return s == PollStateIdle || s == PollStatePolling || s == PollStateFailed
}

// CanTransition reports whether the state machine allows from -> to.
//
//	IDLE -> POLLING -> {IDLE, FAILED}
//	FAILED -> POLLING
func CanTransition(from, to PollState) bool {
	switch from {
	case PollStateIdle:
		return to == PollStatePolling
	case PollStatePolling:
		return to == PollStateIdle || to == PollStateFailed
	case PollStateFailed:
		return to == PollStatePolling
	}
	return false
}

// FailureKind classifies why a poll failed.
type FailureKind string

const (
	FailureTransient   FailureKind = "TRANSIENT"
	FailureRateLimited FailureKind = "RATE_LIMITED"
	FailurePermanent   FailureKind = "PERMANENT"
)

// String returns the string representation of FailureKind.
func (k FailureKind) String() string {
	return string(k)
}

// IsValid checks if the kind is a known value.
func (k FailureKind) IsValid() bool {
	return k == FailureTransient || k == FailureRateLimited || k == FailurePermanent
}

// PollFailure is the last failure observed for a watched entity.
type PollFailure struct {
	Kind   FailureKind
	Reason string
	At     time.Time
}

// WatchedEntity is a company under periodic observation.
// Corresponds to watched_entities table.
type WatchedEntity struct {
	EntityID            string       // upstream company identifier, PRIMARY KEY
	Name                string       // display name (informational)
	AddedAt             time.Time    // when the watch was added
	LastPolledAt        *time.Time   // last time a poll finished (nullable)
	PollState           PollState    // IDLE | POLLING | FAILED
	LastFailure         *PollFailure // last failure, cleared on success (nullable)
	ConsecutiveFailures int          // failures since the last successful poll
}

// IsPermanentlyFailed reports whether the entity is parked until an operator
// removes and re-adds it.
func (w *WatchedEntity) IsPermanentlyFailed() bool {
	return w.PollState == PollStateFailed &&
		w.LastFailure != nil &&
		w.LastFailure.Kind == FailurePermanent
}

// Clone returns a deep copy.
func (w *WatchedEntity) Clone() *WatchedEntity {
	c := *w
	if w.LastPolledAt != nil {
		t := *w.LastPolledAt
		c.LastPolledAt = &t
	}
	if w.LastFailure != nil {
		f := *w.LastFailure
		c.LastFailure = &f
	}
	return &c
}
