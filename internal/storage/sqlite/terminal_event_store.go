package sqlite

import (
	"context"
	"fmt"

	"dealwatch/internal/domain"
	"dealwatch/internal/storage"
)

// TerminalEventStore implements storage.TerminalEventStore using SQLite.
type TerminalEventStore struct {
	db *DB
}

// NewTerminalEventStore creates a new TerminalEventStore.
func NewTerminalEventStore(db *DB) *TerminalEventStore {
	return &TerminalEventStore{db: db}
}

// Compile-time interface check.
var _ storage.TerminalEventStore = (*TerminalEventStore)(nil)

// RecordTerminalEvent appends an event. Returns ErrDuplicateKey if the ID exists.
func (s *TerminalEventStore) RecordTerminalEvent(ctx context.Context, e *domain.TerminalEvent) error {
	if e == nil || e.ID == "" || e.EntityID == "" {
		return storage.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO terminal_events (event_id, entity_id, detected_at, kind, reason)
		VALUES (?, ?, ?, ?, ?)
	`, e.ID, e.EntityID, toMicros(e.DetectedAt), string(e.Kind), e.Reason)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert terminal event: %w", err)
	}
	return nil
}

// ListTerminalEvents returns events ordered by detected_at ASC.
func (s *TerminalEventStore) ListTerminalEvents(ctx context.Context, entityID string) ([]*domain.TerminalEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, entity_id, detected_at, kind, reason
		FROM terminal_events
		WHERE ?1 = '' OR entity_id = ?1
		ORDER BY detected_at ASC, event_id ASC
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("list terminal events: %w", err)
	}
	defer rows.Close()

	var result []*domain.TerminalEvent
	for rows.Next() {
		var (
			e          domain.TerminalEvent
			detectedAt int64
			kind       string
		)
		if err := rows.Scan(&e.ID, &e.EntityID, &detectedAt, &kind, &e.Reason); err != nil {
			return nil, fmt.Errorf("scan terminal event: %w", err)
		}
		e.DetectedAt = fromMicros(detectedAt)
		e.Kind = domain.FailureKind(kind)
		result = append(result, &e)
	}
	return result, rows.Err()
}
