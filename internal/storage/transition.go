package storage

import (
	"fmt"
	"time"

	"dealwatch/internal/domain"
)

// CheckTransition validates moving w to the given state.
func CheckTransition(w *domain.WatchedEntity, to domain.PollState) error {
	if !domain.CanTransition(w.PollState, to) {
		return fmt.Errorf("%w: %s -> %s for %s", ErrInvalidTransition, w.PollState, to, w.EntityID)
	}
	if to == domain.PollStatePolling && w.IsPermanentlyFailed() {
		return fmt.Errorf("%w: %s failed permanently, remove and re-add it", ErrInvalidTransition, w.EntityID)
	}
	return nil
}

// ApplyIdle records a successful poll on w.
func ApplyIdle(w *domain.WatchedEntity, at time.Time) {
	w.PollState = domain.PollStateIdle
	w.LastPolledAt = &at
	w.LastFailure = nil
	w.ConsecutiveFailures = 0
}

// ApplyFailed records a failed poll on w.
func ApplyFailed(w *domain.WatchedEntity, at time.Time, failure domain.PollFailure) {
	if failure.At.IsZero() {
		failure.At = at
	}
	w.PollState = domain.PollStateFailed
	w.LastPolledAt = &at
	w.LastFailure = &failure
	w.ConsecutiveFailures++
}

// InterruptedFailure is recorded for entities found in POLLING at startup.
func InterruptedFailure(at time.Time) domain.PollFailure {
	return domain.PollFailure{
		Kind:   domain.FailureTransient,
		Reason: "poll interrupted before completion",
		At:     at,
	}
}
