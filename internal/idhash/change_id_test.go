package idhash

import (
	"testing"

	"github.com/mr-tron/base58"
)

func TestComputeChangeID(t *testing.T) {
	tests := []struct {
		name     string
		entityID string
		version  int64
		sequence int
	}{
		{name: "first snapshot", entityID: "C-1", version: 0, sequence: 0},
		{name: "later version", entityID: "C-1", version: 42, sequence: 3},
		{name: "other entity", entityID: "PB-998877", version: 7, sequence: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeChangeID(tt.entityID, tt.version, tt.sequence)

			raw, err := base58.Decode(got)
			if err != nil {
				t.Fatalf("ComputeChangeID() is not base58: %v", err)
			}
			if len(raw) != 32 {
				t.Errorf("decoded length = %d, want 32", len(raw))
			}

			// Same inputs must produce same output
			if again := ComputeChangeID(tt.entityID, tt.version, tt.sequence); again != got {
				t.Errorf("ComputeChangeID() not deterministic: %s vs %s", got, again)
			}
		})
	}
}

func TestComputeChangeID_Distinct(t *testing.T) {
	seen := make(map[string]string)
	inputs := []struct {
		entityID string
		version  int64
		sequence int
	}{
		{"C-1", 1, 0},
		{"C-1", 1, 1},
		{"C-1", 2, 0},
		{"C-2", 1, 0},
		{"C-11", 1, 0},
	}

	for _, in := range inputs {
		id := ComputeChangeID(in.entityID, in.version, in.sequence)
		key := in.entityID + "/" + string(rune('0'+in.version)) + "/" + string(rune('0'+in.sequence))
		if prev, dup := seen[id]; dup {
			t.Fatalf("collision between %s and %s", prev, key)
		}
		seen[id] = key
	}
}

func TestComputeTerminalEventID(t *testing.T) {
	a := ComputeTerminalEventID("C-1", 1700000000000000)
	b := ComputeTerminalEventID("C-1", 1700000000000001)

	if a == b {
		t.Error("different timestamps must produce different IDs")
	}
	if a != ComputeTerminalEventID("C-1", 1700000000000000) {
		t.Error("ComputeTerminalEventID() not deterministic")
	}
	if a == ComputeChangeID("C-1", 0, 0) {
		t.Error("terminal event ID must not collide with change ID space")
	}
}
