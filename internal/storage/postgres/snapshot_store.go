package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"dealwatch/internal/domain"
	"dealwatch/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore and storage.ChangeLog using
// PostgreSQL. The (entity_id, version) primary key arbitrates racing commits.
type SnapshotStore struct {
	pool *Pool
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(pool *Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Compile-time interface check.
var (
	_ storage.SnapshotStore = (*SnapshotStore)(nil)
	_ storage.ChangeLog     = (*SnapshotStore)(nil)
)

// GetLatestSnapshot returns the current snapshot. Returns ErrNotFound if none.
func (s *SnapshotStore) GetLatestSnapshot(ctx context.Context, entityID string) (*domain.Snapshot, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT entity_id, version, captured_at, payload
		FROM snapshots
		WHERE entity_id = $1
		ORDER BY version DESC
		LIMIT 1
	`, entityID)

	snap, err := scanSnapshot(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get latest snapshot: %w", err)
	}
	return snap, nil
}

// GetSnapshot returns a specific version. Returns ErrNotFound if not exists.
func (s *SnapshotStore) GetSnapshot(ctx context.Context, entityID string, version int64) (*domain.Snapshot, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT entity_id, version, captured_at, payload
		FROM snapshots
		WHERE entity_id = $1 AND version = $2
	`, entityID, version)

	snap, err := scanSnapshot(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return snap, nil
}

// ListSnapshots returns every version of an entity ordered by version ASC.
func (s *SnapshotStore) ListSnapshots(ctx context.Context, entityID string) ([]*domain.Snapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT entity_id, version, captured_at, payload
		FROM snapshots
		WHERE entity_id = $1
		ORDER BY version ASC
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var result []*domain.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		result = append(result, snap)
	}
	return result, rows.Err()
}

// CommitCycle writes the next snapshot and its changes in one transaction.
func (s *SnapshotStore) CommitCycle(ctx context.Context, req *storage.CommitRequest) (*domain.Snapshot, error) {
	if err := storage.ValidateCommit(req); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	snap := &domain.Snapshot{
		EntityID:   req.EntityID,
		Version:    req.ExpectedVersion + 1,
		CapturedAt: req.CapturedAt,
		Payload:    req.Payload.Clone(),
	}
	changes := storage.StampChanges(req.EntityID, snap.Version, req.CapturedAt, req.Changes)

	err = s.pool.withTx(ctx, func(tx pgx.Tx) error {
		var (
			current    = domain.NoVersion
			capturedAt time.Time
		)
		err := tx.QueryRow(ctx, `
			SELECT version, captured_at
			FROM snapshots
			WHERE entity_id = $1
			ORDER BY version DESC
			LIMIT 1
		`, req.EntityID).Scan(&current, &capturedAt)
		if err != nil && !isNotFoundError(err) {
			return fmt.Errorf("read current version: %w", err)
		}
		if current != req.ExpectedVersion {
			return storage.ErrConflict
		}
		if current >= 0 {
			if err := storage.CheckCapturedAt(capturedAt, req.CapturedAt); err != nil {
				return err
			}
		}

		// A concurrent writer that read the same version blocks here on the
		// primary key and fails with a unique violation once we commit.
		_, err = tx.Exec(ctx, `
			INSERT INTO snapshots (entity_id, version, captured_at, payload)
			VALUES ($1, $2, $3, $4)
		`, snap.EntityID, snap.Version, snap.CapturedAt, payload)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrConflict
			}
			return fmt.Errorf("insert snapshot: %w", err)
		}

		return insertChanges(ctx, tx, changes)
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// insertChanges appends stamped records using a single batch round-trip.
func insertChanges(ctx context.Context, tx pgx.Tx, changes []*domain.ChangeRecord) error {
	if len(changes) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range changes {
		detail, err := json.Marshal(c.Detail)
		if err != nil {
			return fmt.Errorf("encode change detail: %w", err)
		}
		batch.Queue(`
			INSERT INTO change_records (
				change_id, entity_id, snapshot_version, sequence, detected_at, kind, detail
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, c.ID, c.EntityID, c.SnapshotVersion, c.Sequence, c.DetectedAt, string(c.Kind), detail)
	}

	br := tx.SendBatch(ctx, batch)
	for range changes {
		if _, err := br.Exec(); err != nil {
			br.Close()
			if isDuplicateKeyError(err) {
				return storage.ErrConflict
			}
			return fmt.Errorf("insert change record: %w", err)
		}
	}
	return br.Close()
}

// ListChanges returns matching change records in log order.
func (s *SnapshotStore) ListChanges(ctx context.Context, filter storage.ChangeFilter) ([]*domain.ChangeRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.EntityID != "" {
		args = append(args, filter.EntityID)
		where = append(where, fmt.Sprintf("entity_id = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		where = append(where, fmt.Sprintf("detected_at >= $%d", len(args)))
	}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}

	query := `
		SELECT change_id, entity_id, snapshot_version, sequence, detected_at, kind, detail
		FROM change_records`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query = fmt.Sprintf(`
		SELECT * FROM (%s
			ORDER BY detected_at DESC, entity_id DESC, snapshot_version DESC, sequence DESC
			LIMIT $%d
		) recent
		ORDER BY detected_at, entity_id, snapshot_version, sequence`, query, len(args))
	} else {
		query += "\n\t\tORDER BY detected_at, entity_id, snapshot_version, sequence"
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	defer rows.Close()

	var result []*domain.ChangeRecord
	for rows.Next() {
		c, err := scanChangeRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan change record: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func scanSnapshot(row pgx.Row) (*domain.Snapshot, error) {
	var (
		snap    domain.Snapshot
		payload []byte
	)
	if err := row.Scan(&snap.EntityID, &snap.Version, &snap.CapturedAt, &payload); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &snap.Payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	snap.CapturedAt = snap.CapturedAt.UTC()
	return &snap, nil
}

func scanChangeRecord(row pgx.Row) (*domain.ChangeRecord, error) {
	var (
		c      domain.ChangeRecord
		kind   string
		detail []byte
	)
	if err := row.Scan(&c.ID, &c.EntityID, &c.SnapshotVersion, &c.Sequence, &c.DetectedAt, &kind, &detail); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(detail, &c.Detail); err != nil {
		return nil, fmt.Errorf("decode change detail: %w", err)
	}
	c.Kind = domain.ChangeKind(kind)
	c.DetectedAt = c.DetectedAt.UTC()
	return &c, nil
}
