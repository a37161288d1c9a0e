package domain

import "time"

// NoVersion is the expected version when an entity has no snapshot yet.
// The first snapshot is written at version 0.
const NoVersion int64 = -1

// Snapshot is an immutable, versioned capture of a company at one poll.
// Corresponds to snapshots table; PRIMARY KEY (entity_id, version).
type Snapshot struct {
	EntityID   string
	Version    int64     // strictly increasing per entity, no gaps, starts at 0
	CapturedAt time.Time // non-decreasing per entity
	Payload    Payload
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	c.Payload = s.Payload.Clone()
	return &c
}
