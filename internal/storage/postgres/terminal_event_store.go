package postgres

import (
	"context"
	"fmt"

	"dealwatch/internal/domain"
	"dealwatch/internal/storage"
)

// TerminalEventStore implements storage.TerminalEventStore using PostgreSQL.
type TerminalEventStore struct {
	pool *Pool
}

// NewTerminalEventStore creates a new TerminalEventStore.
func NewTerminalEventStore(pool *Pool) *TerminalEventStore {
	return &TerminalEventStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TerminalEventStore = (*TerminalEventStore)(nil)

// RecordTerminalEvent appends an event. Returns ErrDuplicateKey if the ID exists.
func (s *TerminalEventStore) RecordTerminalEvent(ctx context.Context, e *domain.TerminalEvent) error {
	if e == nil || e.ID == "" || e.EntityID == "" {
		return storage.ErrInvalidInput
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO terminal_events (event_id, entity_id, detected_at, kind, reason)
		VALUES ($1, $2, $3, $4, $5)
	`, e.ID, e.EntityID, e.DetectedAt, string(e.Kind), e.Reason)
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
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, entity_id, detected_at, kind, reason
		FROM terminal_events
		WHERE $1 = '' OR entity_id = $1
		ORDER BY detected_at ASC, event_id ASC
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("list terminal events: %w", err)
	}
	defer rows.Close()

	var result []*domain.TerminalEvent
	for rows.Next() {
		var (
			e    domain.TerminalEvent
			kind string
		)
		if err := rows.Scan(&e.ID, &e.EntityID, &e.DetectedAt, &kind, &e.Reason); err != nil {
			return nil, fmt.Errorf("scan terminal event: %w", err)
		}
		e.Kind = domain.FailureKind(kind)
		e.DetectedAt = e.DetectedAt.UTC()
		result = append(result, &e)
	}
	return result, rows.Err()
}
