// Package fetch defines the capability that retrieves the current state of a
// watched company and the HTTP adapter that implements it.
package fetch

import (
	"context"

	"dealwatch/internal/domain"
)

// Fetcher retrieves the current payload of an entity. Failures are reported
// as *Error so callers can tell transient from permanent conditions.
type Fetcher interface {
	Fetch(ctx context.Context, entityID string) (*domain.Payload, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, entityID string) (*domain.Payload, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, entityID string) (*domain.Payload, error) {
	return f(ctx, entityID)
}
