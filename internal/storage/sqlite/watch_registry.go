package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"dealwatch/internal/domain"
	"dealwatch/internal/storage"
)

// WatchRegistry implements storage.WatchRegistry using SQLite.
type WatchRegistry struct {
	db *DB
}

// NewWatchRegistry creates a new WatchRegistry.
func NewWatchRegistry(db *DB) *WatchRegistry {
	return &WatchRegistry{db: db}
}

// Compile-time interface check.
var _ storage.WatchRegistry = (*WatchRegistry)(nil)

const watchedEntityColumns = `
	entity_id, name, added_at, last_polled_at, poll_state,
	last_failure_kind, last_failure_reason, last_failure_at, consecutive_failures`

// Add starts watching an entity. No-op if already watched.
func (r *WatchRegistry) Add(ctx context.Context, entityID, name string, at time.Time) error {
	if entityID == "" {
		return storage.ErrInvalidInput
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO watched_entities (entity_id, name, added_at, poll_state)
		VALUES (?, ?, ?, 'IDLE')
		ON CONFLICT (entity_id) DO NOTHING
	`, entityID, name, toMicros(at))
	if err != nil {
		return fmt.Errorf("add watched entity: %w", err)
	}
	return nil
}

// Remove stops watching an entity. No-op if not watched.
func (r *WatchRegistry) Remove(ctx context.Context, entityID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM watched_entities WHERE entity_id = ?`, entityID); err != nil {
		return fmt.Errorf("remove watched entity: %w", err)
	}
	return nil
}

// Get returns one watched entity. Returns ErrNotFound if not watched.
func (r *WatchRegistry) Get(ctx context.Context, entityID string) (*domain.WatchedEntity, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+watchedEntityColumns+`
		FROM watched_entities WHERE entity_id = ?`, entityID)

	w, err := scanWatchedEntity(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get watched entity: %w", err)
	}
	return w, nil
}

// List returns all watched entities ordered by entity_id ASC.
func (r *WatchRegistry) List(ctx context.Context) ([]*domain.WatchedEntity, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+watchedEntityColumns+`
		FROM watched_entities ORDER BY entity_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list watched entities: %w", err)
	}
	defer rows.Close()

	var result []*domain.WatchedEntity
	for rows.Next() {
		w, err := scanWatchedEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan watched entity: %w", err)
		}
		result = append(result, w)
	}
	return result, rows.Err()
}

// MarkPolling moves an entity to POLLING.
func (r *WatchRegistry) MarkPolling(ctx context.Context, entityID string) error {
	return r.transition(ctx, entityID, domain.PollStatePolling, func(w *domain.WatchedEntity) {
		w.PollState = domain.PollStatePolling
	})
}

// MarkIdle records a successful poll.
func (r *WatchRegistry) MarkIdle(ctx context.Context, entityID string, at time.Time) error {
	return r.transition(ctx, entityID, domain.PollStateIdle, func(w *domain.WatchedEntity) {
		storage.ApplyIdle(w, at)
	})
}

// MarkFailed records a failed poll.
func (r *WatchRegistry) MarkFailed(ctx context.Context, entityID string, at time.Time, failure domain.PollFailure) error {
	return r.transition(ctx, entityID, domain.PollStateFailed, func(w *domain.WatchedEntity) {
		storage.ApplyFailed(w, at, failure)
	})
}

// RecoverInterrupted moves entities stuck in POLLING to a transient failure.
func (r *WatchRegistry) RecoverInterrupted(ctx context.Context, at time.Time) (int, error) {
	f := storage.InterruptedFailure(at)
	res, err := r.db.ExecContext(ctx, `
		UPDATE watched_entities
		SET poll_state = 'FAILED',
		    last_polled_at = ?1,
		    last_failure_kind = ?2,
		    last_failure_reason = ?3,
		    last_failure_at = ?1,
		    consecutive_failures = consecutive_failures + 1
		WHERE poll_state = 'POLLING'
	`, toMicros(at), string(f.Kind), f.Reason)
	if err != nil {
		return 0, fmt.Errorf("recover interrupted polls: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

func (r *WatchRegistry) transition(ctx context.Context, entityID string, to domain.PollState, apply func(*domain.WatchedEntity)) error {
	return r.db.runTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+watchedEntityColumns+`
			FROM watched_entities WHERE entity_id = ?`, entityID)
		w, err := scanWatchedEntity(row)
		if err != nil {
			if isNotFoundError(err) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("read watched entity: %w", err)
		}
		if err := storage.CheckTransition(w, to); err != nil {
			return err
		}
		apply(w)

		var kind, reason sql.NullString
		var failedAt sql.NullInt64
		if f := w.LastFailure; f != nil {
			kind = sql.NullString{String: string(f.Kind), Valid: true}
			reason = sql.NullString{String: f.Reason, Valid: true}
			failedAt = nullMicros(&f.At)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE watched_entities
			SET poll_state = ?, last_polled_at = ?,
			    last_failure_kind = ?, last_failure_reason = ?, last_failure_at = ?,
			    consecutive_failures = ?
			WHERE entity_id = ?
		`, string(w.PollState), nullMicros(w.LastPolledAt),
			kind, reason, failedAt, w.ConsecutiveFailures, entityID)
		if err != nil {
			return fmt.Errorf("update poll state: %w", err)
		}
		return nil
	})
}

func scanWatchedEntity(row rowScanner) (*domain.WatchedEntity, error) {
	var (
		w            domain.WatchedEntity
		addedAt      int64
		lastPolledAt sql.NullInt64
		state        string
		failKind     sql.NullString
		failReason   sql.NullString
		failAt       sql.NullInt64
	)
	err := row.Scan(
		&w.EntityID, &w.Name, &addedAt, &lastPolledAt, &state,
		&failKind, &failReason, &failAt, &w.ConsecutiveFailures,
	)
	if err != nil {
		return nil, err
	}

	w.AddedAt = fromMicros(addedAt)
	w.PollState = domain.PollState(state)
	if lastPolledAt.Valid {
		t := fromMicros(lastPolledAt.Int64)
		w.LastPolledAt = &t
	}
	if failKind.Valid {
		f := domain.PollFailure{Kind: domain.FailureKind(failKind.String), Reason: failReason.String}
		if failAt.Valid {
			f.At = fromMicros(failAt.Int64)
		}
		w.LastFailure = &f
	}
	return &w, nil
}
