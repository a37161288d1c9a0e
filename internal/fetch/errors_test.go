package fetch

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"dealwatch/internal/domain"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")

	if KindOf(fmt.Errorf("wrapped: %w", Permanent(base))) != KindPermanent {
		t.Error("wrapped permanent not detected")
	}
	if KindOf(RateLimited(base, 0)) != KindRateLimited {
		t.Error("rate limit not detected")
	}
	if KindOf(base) != KindTransient {
		t.Error("unclassified errors must be transient")
	}
	if KindOf(context.DeadlineExceeded) != KindTransient {
		t.Error("deadline must be transient")
	}
	if !IsPermanent(Permanent(base)) || IsPermanent(nil) {
		t.Error("IsPermanent mismatch")
	}
	if !errors.Is(Transient(base), base) {
		t.Error("Error must unwrap to its cause")
	}
}

func TestKind_FailureKind(t *testing.T) {
	cases := map[Kind]domain.FailureKind{
		KindTransient:   domain.FailureTransient,
		KindRateLimited: domain.FailureRateLimited,
		KindPermanent:   domain.FailurePermanent,
	}
	for k, want := range cases {
		if got := k.FailureKind(); got != want {
			t.Errorf("%s: expected %s, got %s", k, want, got)
		}
	}
}

func TestNormalize(t *testing.T) {
	if got := normalize("Went Public", businessStatuses); got != "public" {
		t.Errorf("expected public, got %q", got)
	}
	if got := normalize("", businessStatuses); got != "" {
		t.Errorf("missing status must stay empty, got %q", got)
	}
	if got := normalize("In Stealth", businessStatuses); got != "in_stealth" {
		t.Errorf("unknown labels are slugged, got %q", got)
	}
}

func TestToPayload_RejectsFractionalEmployees(t *testing.T) {
	v := 10.5
	_, err := toPayload(&companyRecord{Employees: &v}, nil, nil)
	if !errors.Is(err, domain.ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload, got %v", err)
	}
}
