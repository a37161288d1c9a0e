// Package watchlist reads and writes YAML lists of watched companies.
//
//	companies:
//	  - id: 12345-67
//	    name: Stripe
//	  - id: 89012-34
package watchlist

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"dealwatch/internal/storage"
)

// Entry is one company in a watch list.
type Entry struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name,omitempty"`
}

// File is a parsed watch list.
type File struct {
	Companies []Entry `yaml:"companies"`
}

// Stats reports what Import did.
type Stats struct {
	Added    int
	Existing int
}

// Load parses a watch list. Entries are trimmed; duplicates and empty IDs
// are rejected.
func Load(r io.Reader) (*File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse watch list: %w", err)
	}

	seen := make(map[string]struct{}, len(f.Companies))
	for i := range f.Companies {
		e := &f.Companies[i]
		e.ID = strings.TrimSpace(e.ID)
		e.Name = strings.TrimSpace(e.Name)
		if e.ID == "" {
			return nil, fmt.Errorf("watch list entry %d: id is required", i)
		}
		if _, dup := seen[e.ID]; dup {
			return nil, fmt.Errorf("watch list entry %d: duplicate id %q", i, e.ID)
		}
		seen[e.ID] = struct{}{}
	}
	return &f, nil
}

// Import adds every entry to the registry. Entries already watched are
// left untouched.
func Import(ctx context.Context, reg storage.WatchRegistry, f *File, at time.Time) (Stats, error) {
	var stats Stats
	existing, err := reg.List(ctx)
	if err != nil {
		return stats, fmt.Errorf("list watched: %w", err)
	}
	watched := make(map[string]struct{}, len(existing))
	for _, w := range existing {
		watched[w.EntityID] = struct{}{}
	}

	for _, e := range f.Companies {
		if _, ok := watched[e.ID]; ok {
			stats.Existing++
			continue
		}
		if err := reg.Add(ctx, e.ID, e.Name, at); err != nil {
			return stats, fmt.Errorf("add %s: %w", e.ID, err)
		}
		stats.Added++
	}
	return stats, nil
}

// Export writes the registry as a watch list.
func Export(ctx context.Context, reg storage.WatchRegistry, w io.Writer) error {
	watched, err := reg.List(ctx)
	if err != nil {
		return fmt.Errorf("list watched: %w", err)
	}
	f := File{Companies: make([]Entry, 0, len(watched))}
	for _, we := range watched {
		f.Companies = append(f.Companies, Entry{ID: we.EntityID, Name: we.Name})
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&f); err != nil {
		return fmt.Errorf("encode watch list: %w", err)
	}
	return enc.Close()
}
