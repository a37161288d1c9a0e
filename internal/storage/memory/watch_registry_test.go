package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"dealwatch/internal/domain"
	"dealwatch/internal/storage"
)

func TestWatchRegistry_AddIdempotent(t *testing.T) {
	reg := NewWatchRegistry()
	ctx := context.Background()

	if err := reg.Add(ctx, "c1", "Acme", t0); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := reg.Add(ctx, "c1", "Other", t0.Add(time.Hour)); err != nil {
		t.Fatalf("second Add failed: %v", err)
	}

	w, err := reg.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if w.Name != "Acme" || !w.AddedAt.Equal(t0) {
		t.Errorf("second Add must not overwrite: got %s at %v", w.Name, w.AddedAt)
	}
	if w.PollState != domain.PollStateIdle {
		t.Errorf("PollState mismatch: got %s, want IDLE", w.PollState)
	}

	list, _ := reg.List(ctx)
	if len(list) != 1 {
		t.Errorf("Expected 1 entity, got %d", len(list))
	}
}

func TestWatchRegistry_RemoveIsNoOpWhenAbsent(t *testing.T) {
	reg := NewWatchRegistry()
	ctx := context.Background()

	if err := reg.Remove(ctx, "missing"); err != nil {
		t.Fatalf("Remove of absent entity failed: %v", err)
	}
	_ = reg.Add(ctx, "c1", "", t0)
	_ = reg.Remove(ctx, "c1")
	if _, err := reg.Get(ctx, "c1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after Remove, got %v", err)
	}
}

func TestWatchRegistry_StateMachine(t *testing.T) {
	reg := NewWatchRegistry()
	ctx := context.Background()
	_ = reg.Add(ctx, "c1", "", t0)

	if err := reg.MarkIdle(ctx, "c1", t0); !errors.Is(err, storage.ErrInvalidTransition) {
		t.Errorf("IDLE -> IDLE should fail, got %v", err)
	}
	if err := reg.MarkPolling(ctx, "c1"); err != nil {
		t.Fatalf("MarkPolling failed: %v", err)
	}
	if err := reg.MarkPolling(ctx, "c1"); !errors.Is(err, storage.ErrInvalidTransition) {
		t.Errorf("POLLING -> POLLING should fail, got %v", err)
	}

	t1 := t0.Add(time.Minute)
	failure := domain.PollFailure{Kind: domain.FailureTransient, Reason: "timeout"}
	if err := reg.MarkFailed(ctx, "c1", t1, failure); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	w, _ := reg.Get(ctx, "c1")
	if w.PollState != domain.PollStateFailed || w.ConsecutiveFailures != 1 {
		t.Errorf("unexpected state after failure: %s/%d", w.PollState, w.ConsecutiveFailures)
	}
	if w.LastFailure == nil || !w.LastFailure.At.Equal(t1) {
		t.Errorf("failure time not defaulted: %+v", w.LastFailure)
	}

	// Transient failures are retried next cycle.
	if err := reg.MarkPolling(ctx, "c1"); err != nil {
		t.Fatalf("FAILED -> POLLING failed: %v", err)
	}
	t2 := t1.Add(time.Minute)
	if err := reg.MarkIdle(ctx, "c1", t2); err != nil {
		t.Fatalf("MarkIdle failed: %v", err)
	}
	w, _ = reg.Get(ctx, "c1")
	if w.PollState != domain.PollStateIdle || w.LastFailure != nil || w.ConsecutiveFailures != 0 {
		t.Errorf("success must clear failure: %+v", w)
	}
	if w.LastPolledAt == nil || !w.LastPolledAt.Equal(t2) {
		t.Errorf("LastPolledAt mismatch: %v", w.LastPolledAt)
	}
}

func TestWatchRegistry_PermanentFailureSticks(t *testing.T) {
	reg := NewWatchRegistry()
	ctx := context.Background()
	_ = reg.Add(ctx, "c1", "", t0)
	_ = reg.MarkPolling(ctx, "c1")
	_ = reg.MarkFailed(ctx, "c1", t0, domain.PollFailure{Kind: domain.FailurePermanent, Reason: "404"})

	if err := reg.MarkPolling(ctx, "c1"); !errors.Is(err, storage.ErrInvalidTransition) {
		t.Fatalf("permanently failed entity must not poll, got %v", err)
	}

	// Remove and re-add resets it.
	_ = reg.Remove(ctx, "c1")
	_ = reg.Add(ctx, "c1", "", t0.Add(time.Hour))
	if err := reg.MarkPolling(ctx, "c1"); err != nil {
		t.Errorf("re-added entity should poll, got %v", err)
	}
}

func TestWatchRegistry_RecoverInterrupted(t *testing.T) {
	reg := NewWatchRegistry()
	ctx := context.Background()
	_ = reg.Add(ctx, "a", "", t0)
	_ = reg.Add(ctx, "b", "", t0)
	_ = reg.MarkPolling(ctx, "a")

	n, err := reg.RecoverInterrupted(ctx, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("RecoverInterrupted failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 recovered, got %d", n)
	}
	a, _ := reg.Get(ctx, "a")
	if a.PollState != domain.PollStateFailed || a.LastFailure.Kind != domain.FailureTransient {
		t.Errorf("unexpected recovered state: %+v", a)
	}
	b, _ := reg.Get(ctx, "b")
	if b.PollState != domain.PollStateIdle {
		t.Errorf("idle entity must be untouched, got %s", b.PollState)
	}
}

func TestWatchRegistry_ListSorted(t *testing.T) {
	reg := NewWatchRegistry()
	ctx := context.Background()
	for _, id := range []string{"c", "a", "b"} {
		_ = reg.Add(ctx, id, "", t0)
	}
	list, _ := reg.List(ctx)
	if len(list) != 3 || list[0].EntityID != "a" || list[2].EntityID != "c" {
		t.Errorf("List not sorted by entity_id")
	}
}
