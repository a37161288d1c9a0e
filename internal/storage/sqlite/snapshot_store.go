package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"dealwatch/internal/domain"
	"dealwatch/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore and storage.ChangeLog using SQLite.
type SnapshotStore struct {
	db *DB
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(db *DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Compile-time interface check.
var (
	_ storage.SnapshotStore = (*SnapshotStore)(nil)
	_ storage.ChangeLog     = (*SnapshotStore)(nil)
)

// GetLatestSnapshot returns the current snapshot. Returns ErrNotFound if none.
func (s *SnapshotStore) GetLatestSnapshot(ctx context.Context, entityID string) (*domain.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT entity_id, version, captured_at, payload
		FROM snapshots
		WHERE entity_id = ?
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
	row := s.db.QueryRowContext(ctx, `
		SELECT entity_id, version, captured_at, payload
		FROM snapshots
		WHERE entity_id = ? AND version = ?
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
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, version, captured_at, payload
		FROM snapshots
		WHERE entity_id = ?
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

	err = s.db.runTx(ctx, func(tx *sql.Tx) error {
		var (
			current    = domain.NoVersion
			capturedAt int64
		)
		err := tx.QueryRowContext(ctx, `
			SELECT version, captured_at
			FROM snapshots
			WHERE entity_id = ?
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
			if err := storage.CheckCapturedAt(fromMicros(capturedAt), req.CapturedAt); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO snapshots (entity_id, version, captured_at, payload)
			VALUES (?, ?, ?, ?)
		`, snap.EntityID, snap.Version, toMicros(snap.CapturedAt), string(payload))
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrConflict
			}
			return fmt.Errorf("insert snapshot: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO change_records (
				change_id, entity_id, snapshot_version, sequence, detected_at, kind, detail
			) VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare change insert: %w", err)
		}
		defer stmt.Close()

		for _, c := range changes {
			detail, err := json.Marshal(c.Detail)
			if err != nil {
				return fmt.Errorf("encode change detail: %w", err)
			}
			_, err = stmt.ExecContext(ctx,
				c.ID, c.EntityID, c.SnapshotVersion, c.Sequence,
				toMicros(c.DetectedAt), string(c.Kind), string(detail),
			)
			if err != nil {
				if isDuplicateKeyError(err) {
					return storage.ErrConflict
				}
				return fmt.Errorf("insert change record: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// ListChanges returns matching change records in log order.
func (s *SnapshotStore) ListChanges(ctx context.Context, filter storage.ChangeFilter) ([]*domain.ChangeRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.EntityID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	if !filter.Since.IsZero() {
		where = append(where, "detected_at >= ?")
		args = append(args, toMicros(filter.Since))
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}

	query := `
		SELECT change_id, entity_id, snapshot_version, sequence, detected_at, kind, detail
		FROM change_records`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	if filter.Limit > 0 {
		query = `SELECT * FROM (` + query + `
			ORDER BY detected_at DESC, entity_id DESC, snapshot_version DESC, sequence DESC
			LIMIT ?
		) ORDER BY detected_at, entity_id, snapshot_version, sequence`
		args = append(args, filter.Limit)
	} else {
		query += "\n\t\tORDER BY detected_at, entity_id, snapshot_version, sequence"
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	defer rows.Close()

	var result []*domain.ChangeRecord
	for rows.Next() {
		var (
			c          domain.ChangeRecord
			detectedAt int64
			kind       string
			detail     string
		)
		if err := rows.Scan(&c.ID, &c.EntityID, &c.SnapshotVersion, &c.Sequence, &detectedAt, &kind, &detail); err != nil {
			return nil, fmt.Errorf("scan change record: %w", err)
		}
		if err := json.Unmarshal([]byte(detail), &c.Detail); err != nil {
			return nil, fmt.Errorf("decode change detail: %w", err)
		}
		c.DetectedAt = fromMicros(detectedAt)
		c.Kind = domain.ChangeKind(kind)
		result = append(result, &c)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*domain.Snapshot, error) {
	var (
		snap       domain.Snapshot
		capturedAt int64
		payload    string
	)
	if err := row.Scan(&snap.EntityID, &snap.Version, &capturedAt, &payload); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payload), &snap.Payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	snap.CapturedAt = fromMicros(capturedAt)
	return &snap, nil
}
