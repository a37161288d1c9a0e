package postgres

import "dealwatch/internal/storage"

// NewStores wires every contract to pool. Closing the stores closes the pool.
func NewStores(pool *Pool) *storage.Stores {
	snapshots := NewSnapshotStore(pool)
	return &storage.Stores{
		Snapshots: snapshots,
		Changes:   snapshots,
		Events:    NewTerminalEventStore(pool),
		Registry:  NewWatchRegistry(pool),
		Closer:    pool.Close,
	}
}
