package storage

import (
	"sort"

	"dealwatch/internal/domain"
)

// ChangeLess orders change records by (detected_at, entity_id, snapshot_version, sequence).
func ChangeLess(a, b *domain.ChangeRecord) bool {
	if !a.DetectedAt.Equal(b.DetectedAt) {
		return a.DetectedAt.Before(b.DetectedAt)
	}
	if a.EntityID != b.EntityID {
		return a.EntityID < b.EntityID
	}
	if a.SnapshotVersion != b.SnapshotVersion {
		return a.SnapshotVersion < b.SnapshotVersion
	}
	return a.Sequence < b.Sequence
}

// SortChanges sorts records in place using ChangeLess.
func SortChanges(records []*domain.ChangeRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return ChangeLess(records[i], records[j])
	})
}

// Matches reports whether a record satisfies the filter, ignoring Limit.
func (f ChangeFilter) Matches(c *domain.ChangeRecord) bool {
	if f.EntityID != "" && c.EntityID != f.EntityID {
		return false
	}
	if !f.Since.IsZero() && c.DetectedAt.Before(f.Since) {
		return false
	}
	if f.Kind != "" && c.Kind != f.Kind {
		return false
	}
	return true
}

// TailLimit keeps the last limit records of an ordered slice.
func TailLimit(records []*domain.ChangeRecord, limit int) []*domain.ChangeRecord {
	if limit <= 0 || len(records) <= limit {
		return records
	}
	return records[len(records)-limit:]
}
