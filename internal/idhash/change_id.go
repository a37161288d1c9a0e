package idhash

import (
	"crypto/sha256"
	"fmt"

	"github.com/mr-tron/base58"
)

// ComputeChangeID computes a deterministic change record ID using SHA256.
// Formula: SHA256(entity_id|snapshot_version|sequence)
// Returns base58-encoded hash (43-44 characters).
//
// The same detected change always maps to the same ID, so a replayed commit
// collides on the primary key instead of recording the change twice.
func ComputeChangeID(entityID string, snapshotVersion int64, sequence int) string {
	data := fmt.Sprintf("%s|%d|%d", entityID, snapshotVersion, sequence)

	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:])
}

// ComputeTerminalEventID computes a deterministic terminal event ID.
// Formula: SHA256(entity_id|terminal|detected_at_unix_micro)
func ComputeTerminalEventID(entityID string, detectedAtMicro int64) string {
	data := fmt.Sprintf("%s|terminal|%d", entityID, detectedAtMicro)

	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:])
}
