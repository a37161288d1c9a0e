package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dealwatch/internal/domain"
)

// Kind classifies a fetch failure.
type Kind int

const (
	// KindTransient failures are retried on the next cycle.
	KindTransient Kind = iota
	// KindRateLimited failures are retried on the next cycle.
	KindRateLimited
	// KindPermanent failures park the entity until it is re-added.
	KindPermanent
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindPermanent:
		return "permanent"
	default:
		return "transient"
	}
}

// FailureKind maps k onto the persisted failure classification.
func (k Kind) FailureKind() domain.FailureKind {
	switch k {
	case KindRateLimited:
		return domain.FailureRateLimited
	case KindPermanent:
		return domain.FailurePermanent
	default:
		return domain.FailureTransient
	}
}

// Error is a classified fetch failure.
type Error struct {
	Kind       Kind
	StatusCode int           // HTTP status, 0 when no response was received
	RetryAfter time.Duration // server hint for rate limits, 0 if absent
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient wraps err as a transient failure.
func Transient(err error) *Error {
	return &Error{Kind: KindTransient, Err: err}
}

// Permanent wraps err as a permanent failure.
func Permanent(err error) *Error {
	return &Error{Kind: KindPermanent, Err: err}
}

// RateLimited wraps err as a rate-limit failure.
func RateLimited(err error, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Err: err, RetryAfter: retryAfter}
}

// KindOf classifies any error returned by a Fetcher. Unclassified errors,
// including context deadlines, count as transient.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindTransient
}

// IsPermanent reports whether err is a permanent fetch failure.
func IsPermanent(err error) bool {
	return err != nil && KindOf(err) == KindPermanent
}

// IsTimeout reports whether err came from a deadline rather than the upstream.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
