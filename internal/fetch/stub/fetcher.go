// Package stub provides a scripted fetch.Fetcher for tests.
package stub

import (
	"context"
	"errors"
	"sync"

	"dealwatch/internal/domain"
	"dealwatch/internal/fetch"
)

// ErrNotScripted is returned as a permanent failure for unknown entities.
var ErrNotScripted = errors.New("no scripted response")

// Response is one scripted fetch outcome.
type Response struct {
	Payload *domain.Payload
	Err     error
}

// Fetcher implements fetch.Fetcher from per-entity scripts. Each call pops
// the next response; the last one repeats once the script is exhausted.
type Fetcher struct {
	mu      sync.Mutex
	scripts map[string][]Response
	calls   map[string]int

	// Hook, when set, runs before every fetch. Tests use it to block or
	// observe concurrency.
	Hook func(ctx context.Context, entityID string) error
}

// NewFetcher creates an empty stub fetcher.
func NewFetcher() *Fetcher {
	return &Fetcher{
		scripts: make(map[string][]Response),
		calls:   make(map[string]int),
	}
}

// SetPayload scripts a single payload that is returned on every call.
func (f *Fetcher) SetPayload(entityID string, p *domain.Payload) {
	f.Script(entityID, Response{Payload: p})
}

// SetError scripts a single error that is returned on every call.
func (f *Fetcher) SetError(entityID string, err error) {
	f.Script(entityID, Response{Err: err})
}

// Script replaces the scripted responses for an entity.
func (f *Fetcher) Script(entityID string, responses ...Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[entityID] = responses
}

// Calls returns how often entityID was fetched.
func (f *Fetcher) Calls(entityID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[entityID]
}

// Fetch returns the next scripted response for entityID.
func (f *Fetcher) Fetch(ctx context.Context, entityID string) (*domain.Payload, error) {
	if f.Hook != nil {
		if err := f.Hook(ctx, entityID); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[entityID]++
	script := f.scripts[entityID]
	if len(script) == 0 {
		return nil, fetch.Permanent(ErrNotScripted)
	}
	r := script[0]
	if len(script) > 1 {
		f.scripts[entityID] = script[1:]
	}
	if r.Err != nil {
		return nil, r.Err
	}
	if r.Payload == nil {
		return nil, nil
	}
	p := r.Payload.Clone()
	return &p, nil
}

// Compile-time interface check.
var _ fetch.Fetcher = (*Fetcher)(nil)
