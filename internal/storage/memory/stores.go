package memory

import "dealwatch/internal/storage"

// NewStores returns a fresh in-memory backend.
func NewStores() *storage.Stores {
	snapshots := NewSnapshotStore()
	return &storage.Stores{
		Snapshots: snapshots,
		Changes:   snapshots,
		Events:    NewTerminalEventStore(),
		Registry:  NewWatchRegistry(),
	}
}
