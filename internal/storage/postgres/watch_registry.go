package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"dealwatch/internal/domain"
	"dealwatch/internal/storage"
)

// WatchRegistry implements storage.WatchRegistry using PostgreSQL.
type WatchRegistry struct {
	pool *Pool
}

// NewWatchRegistry creates a new WatchRegistry.
func NewWatchRegistry(pool *Pool) *WatchRegistry {
	return &WatchRegistry{pool: pool}
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
	_, err := r.pool.Exec(ctx, `
		INSERT INTO watched_entities (entity_id, name, added_at, poll_state)
		VALUES ($1, $2, $3, 'IDLE')
		ON CONFLICT (entity_id) DO NOTHING
	`, entityID, name, at)
	if err != nil {
		return fmt.Errorf("add watched entity: %w", err)
	}
	return nil
}

// Remove stops watching an entity. No-op if not watched.
func (r *WatchRegistry) Remove(ctx context.Context, entityID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM watched_entities WHERE entity_id = $1`, entityID); err != nil {
		return fmt.Errorf("remove watched entity: %w", err)
	}
	return nil
}

// Get returns one watched entity. Returns ErrNotFound if not watched.
func (r *WatchRegistry) Get(ctx context.Context, entityID string) (*domain.WatchedEntity, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+watchedEntityColumns+`
		FROM watched_entities WHERE entity_id = $1`, entityID)

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
	rows, err := r.pool.Query(ctx, `SELECT `+watchedEntityColumns+`
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
	tag, err := r.pool.Exec(ctx, `
		UPDATE watched_entities
		SET poll_state = 'FAILED',
		    last_polled_at = $1,
		    last_failure_kind = $2,
		    last_failure_reason = $3,
		    last_failure_at = $1,
		    consecutive_failures = consecutive_failures + 1
		WHERE poll_state = 'POLLING'
	`, at, string(f.Kind), f.Reason)
	if err != nil {
		return 0, fmt.Errorf("recover interrupted polls: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// transition locks the row, validates the state change and writes the result.
func (r *WatchRegistry) transition(ctx context.Context, entityID string, to domain.PollState, apply func(*domain.WatchedEntity)) error {
	return r.pool.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+watchedEntityColumns+`
			FROM watched_entities WHERE entity_id = $1 FOR UPDATE`, entityID)
		w, err := scanWatchedEntity(row)
		if err != nil {
			if isNotFoundError(err) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("lock watched entity: %w", err)
		}
		if err := storage.CheckTransition(w, to); err != nil {
			return err
		}
		apply(w)

		var (
			kind, reason *string
			failedAt     *time.Time
		)
		if f := w.LastFailure; f != nil {
			k := string(f.Kind)
			kind, reason, failedAt = &k, &f.Reason, &f.At
		}
		_, err = tx.Exec(ctx, `
			UPDATE watched_entities
			SET poll_state = $2,
			    last_polled_at = $3,
			    last_failure_kind = $4,
			    last_failure_reason = $5,
			    last_failure_at = $6,
			    consecutive_failures = $7
			WHERE entity_id = $1
		`, entityID, string(w.PollState), w.LastPolledAt, kind, reason, failedAt, w.ConsecutiveFailures)
		if err != nil {
			return fmt.Errorf("update poll state: %w", err)
		}
		return nil
	})
}

func scanWatchedEntity(row pgx.Row) (*domain.WatchedEntity, error) {
	var (
		w            domain.WatchedEntity
		state        string
		failKind     *string
		failReason   *string
		failAt       *time.Time
		lastPolledAt *time.Time
	)
	err := row.Scan(
		&w.EntityID, &w.Name, &w.AddedAt, &lastPolledAt, &state,
		&failKind, &failReason, &failAt, &w.ConsecutiveFailures,
	)
	if err != nil {
		return nil, err
	}

	w.AddedAt = w.AddedAt.UTC()
	w.PollState = domain.PollState(state)
	if lastPolledAt != nil {
		t := lastPolledAt.UTC()
		w.LastPolledAt = &t
	}
	if failKind != nil {
		f := domain.PollFailure{Kind: domain.FailureKind(*failKind)}
		if failReason != nil {
			f.Reason = *failReason
		}
		if failAt != nil {
			f.At = failAt.UTC()
		}
		w.LastFailure = &f
	}
	return &w, nil
}
