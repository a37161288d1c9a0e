package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"dealwatch/internal/domain"
)

// ChangeRecordStore mirrors committed change records into ClickHouse for
// reporting. The transactional store stays the source of truth; replays of
// the same record collapse in the ReplacingMergeTree.
type ChangeRecordStore struct {
	conn *Conn
}

// NewChangeRecordStore creates a new ChangeRecordStore.
func NewChangeRecordStore(conn *Conn) *ChangeRecordStore {
	return &ChangeRecordStore{conn: conn}
}

// InsertBulk appends records in one batch.
func (s *ChangeRecordStore) InsertBulk(ctx context.Context, records []*domain.ChangeRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO change_records (
			change_id, entity_id, snapshot_version, sequence,
			detected_at, kind, summary, detail
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, c := range records {
		detail, err := json.Marshal(c.Detail)
		if err != nil {
			return fmt.Errorf("encode change detail %s: %w", c.ID, err)
		}
		err = batch.Append(
			c.ID, c.EntityID, c.SnapshotVersion, int32(c.Sequence),
			c.DetectedAt.UTC(), string(c.Kind), c.Summary(), string(detail),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// Publish implements the poller's change sink.
func (s *ChangeRecordStore) Publish(ctx context.Context, records []*domain.ChangeRecord) error {
	return s.InsertBulk(ctx, records)
}

// GetByEntityID returns an entity's mirrored records ordered by
// (snapshot_version, sequence) ASC.
func (s *ChangeRecordStore) GetByEntityID(ctx context.Context, entityID string) ([]*domain.ChangeRecord, error) {
	query := `
		SELECT change_id, entity_id, snapshot_version, sequence, detected_at, kind, detail
		FROM change_records FINAL
		WHERE entity_id = ?
		ORDER BY snapshot_version ASC, sequence ASC
	`

	rows, err := s.conn.Query(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("query by entity id: %w", err)
	}
	defer rows.Close()

	var result []*domain.ChangeRecord
	for rows.Next() {
		var (
			c        domain.ChangeRecord
			sequence int32
			kind     string
			detail   string
		)
		if err := rows.Scan(&c.ID, &c.EntityID, &c.SnapshotVersion, &sequence, &c.DetectedAt, &kind, &detail); err != nil {
			return nil, fmt.Errorf("scan change record: %w", err)
		}
		if err := json.Unmarshal([]byte(detail), &c.Detail); err != nil {
			return nil, fmt.Errorf("decode change detail %s: %w", c.ID, err)
		}
		c.Sequence = int(sequence)
		c.Kind = domain.ChangeKind(kind)
		c.DetectedAt = c.DetectedAt.UTC()
		result = append(result, &c)
	}
	return result, rows.Err()
}

// KindCount is the number of changes of one kind.
type KindCount struct {
	Kind  domain.ChangeKind
	Count uint64
}

// CountByKind aggregates changes detected at or after since, ordered by kind.
func (s *ChangeRecordStore) CountByKind(ctx context.Context, since time.Time) ([]KindCount, error) {
	query := `
		SELECT kind, count() AS n
		FROM change_records FINAL
		WHERE detected_at >= ?
		GROUP BY kind
		ORDER BY kind ASC
	`

	rows, err := s.conn.Query(ctx, query, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("count by kind: %w", err)
	}
	defer rows.Close()

	var result []KindCount
	for rows.Next() {
		var (
			kind string
			n    uint64
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan kind count: %w", err)
		}
		result = append(result, KindCount{Kind: domain.ChangeKind(kind), Count: n})
	}
	return result, rows.Err()
}
