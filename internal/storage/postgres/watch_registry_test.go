package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealwatch/internal/domain"
	"dealwatch/internal/storage"
)

func TestWatchRegistry_Lifecycle(t *testing.T) {
	_, registry, _ := newStores(t)
	ctx := context.Background()

	require.NoError(t, registry.Add(ctx, "c1", "Acme", t0))
	require.NoError(t, registry.Add(ctx, "c1", "Ignored", t0.Add(time.Hour)))

	w, err := registry.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", w.Name)
	assert.True(t, t0.Equal(w.AddedAt))
	assert.Equal(t, domain.PollStateIdle, w.PollState)
	assert.Nil(t, w.LastPolledAt)

	require.NoError(t, registry.MarkPolling(ctx, "c1"))
	assert.ErrorIs(t, registry.MarkPolling(ctx, "c1"), storage.ErrInvalidTransition)

	t1 := t0.Add(time.Minute)
	require.NoError(t, registry.MarkFailed(ctx, "c1", t1, domain.PollFailure{
		Kind: domain.FailureRateLimited, Reason: "429",
	}))
	w, err = registry.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.PollStateFailed, w.PollState)
	require.NotNil(t, w.LastFailure)
	assert.Equal(t, domain.FailureRateLimited, w.LastFailure.Kind)
	assert.True(t, t1.Equal(w.LastFailure.At))
	assert.Equal(t, 1, w.ConsecutiveFailures)

	require.NoError(t, registry.MarkPolling(ctx, "c1"))
	t2 := t1.Add(time.Minute)
	require.NoError(t, registry.MarkIdle(ctx, "c1", t2))
	w, err = registry.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.PollStateIdle, w.PollState)
	assert.Nil(t, w.LastFailure)
	assert.Zero(t, w.ConsecutiveFailures)
	require.NotNil(t, w.LastPolledAt)
	assert.True(t, t2.Equal(*w.LastPolledAt))

	require.NoError(t, registry.Remove(ctx, "c1"))
	require.NoError(t, registry.Remove(ctx, "c1"))
	_, err = registry.Get(ctx, "c1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestWatchRegistry_PermanentFailureBlocksPolling(t *testing.T) {
	_, registry, _ := newStores(t)
	ctx := context.Background()

	require.NoError(t, registry.Add(ctx, "c1", "", t0))
	require.NoError(t, registry.MarkPolling(ctx, "c1"))
	require.NoError(t, registry.MarkFailed(ctx, "c1", t0, domain.PollFailure{
		Kind: domain.FailurePermanent, Reason: "company not found",
	}))

	assert.ErrorIs(t, registry.MarkPolling(ctx, "c1"), storage.ErrInvalidTransition)
	assert.ErrorIs(t, registry.MarkPolling(ctx, "missing"), storage.ErrNotFound)
}

func TestWatchRegistry_ListAndRecover(t *testing.T) {
	_, registry, _ := newStores(t)
	ctx := context.Background()

	for _, id := range []string{"c3", "c1", "c2"} {
		require.NoError(t, registry.Add(ctx, id, "", t0))
	}
	require.NoError(t, registry.MarkPolling(ctx, "c2"))

	n, err := registry.RecoverInterrupted(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, err := registry.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "c1", list[0].EntityID)
	assert.Equal(t, domain.PollStateFailed, list[1].PollState)
	require.NotNil(t, list[1].LastFailure)
	assert.Equal(t, domain.FailureTransient, list[1].LastFailure.Kind)
	assert.Equal(t, domain.PollStateIdle, list[2].PollState)
}
