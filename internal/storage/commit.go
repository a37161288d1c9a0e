package storage

import (
	"fmt"
	"time"

	"dealwatch/internal/domain"
	"dealwatch/internal/idhash"
)

// ValidateCommit checks a commit request before anything is written.
func ValidateCommit(req *CommitRequest) error {
	if req == nil || req.EntityID == "" {
		return ErrInvalidInput
	}
	if req.ExpectedVersion < domain.NoVersion {
		return fmt.Errorf("%w: expected version %d", ErrInvalidInput, req.ExpectedVersion)
	}
	if req.CapturedAt.IsZero() {
		return fmt.Errorf("%w: captured_at is required", ErrInvalidInput)
	}
	if err := req.Payload.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	for i, c := range req.Changes {
		if c == nil || !c.Kind.IsValid() {
			return fmt.Errorf("%w: change %d has no valid kind", ErrInvalidInput, i)
		}
		if c.EntityID != "" && c.EntityID != req.EntityID {
			return fmt.Errorf("%w: change %d belongs to %s", ErrInvalidInput, i, c.EntityID)
		}
		if c.Sequence != i {
			return fmt.Errorf("%w: change %d has sequence %d", ErrInvalidInput, i, c.Sequence)
		}
	}
	return nil
}

// CheckCapturedAt rejects a snapshot that would move captured_at backwards.
func CheckCapturedAt(current, next time.Time) error {
	if next.Before(current) {
		return fmt.Errorf("%w: captured_at %s is before current snapshot %s",
			ErrInvalidInput, next.Format(time.RFC3339Nano), current.Format(time.RFC3339Nano))
	}
	return nil
}

// StampChanges returns copies of changes tagged with the committed version
// and their deterministic IDs. DetectedAt defaults to capturedAt.
func StampChanges(entityID string, version int64, capturedAt time.Time, changes []*domain.ChangeRecord) []*domain.ChangeRecord {
	out := make([]*domain.ChangeRecord, len(changes))
	for i, c := range changes {
		s := c.Clone()
		s.EntityID = entityID
		s.SnapshotVersion = version
		s.ID = idhash.ComputeChangeID(entityID, version, s.Sequence)
		if s.DetectedAt.IsZero() {
			s.DetectedAt = capturedAt
		}
		out[i] = s
	}
	return out
}
