package sqlite

import "dealwatch/internal/storage"

// NewStores wires every contract to db. Closing the stores closes db.
func NewStores(db *DB) *storage.Stores {
	snapshots := NewSnapshotStore(db)
	return &storage.Stores{
		Snapshots: snapshots,
		Changes:   snapshots,
		Events:    NewTerminalEventStore(db),
		Registry:  NewWatchRegistry(db),
		Closer:    db.Close,
	}
}
