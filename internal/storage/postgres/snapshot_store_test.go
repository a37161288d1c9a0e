package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealwatch/internal/domain"
	"dealwatch/internal/storage"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func dealPayload(status string) domain.Payload {
	size := 25_000_000.0
	return domain.Payload{
		Name:   "Acme",
		Status: "active",
		Deals:  []domain.Deal{{ID: "d1", Status: status, Type: "series_a", SizeUSD: &size}},
		Metrics: domain.Metrics{
			domain.MetricEmployeeCount: domain.IntMetric(40),
			domain.MetricValuation:     domain.FloatMetric(1.5e8),
		},
		Team: []domain.TeamMember{{ID: "p1", Name: "Ada", Role: "CEO"}},
	}
}

func TestSnapshotStore_CommitAndRead(t *testing.T) {
	snapshots, _, _ := newStores(t)
	ctx := context.Background()

	_, err := snapshots.GetLatestSnapshot(ctx, "c1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	first, err := snapshots.CommitCycle(ctx, &storage.CommitRequest{
		EntityID: "c1", ExpectedVersion: domain.NoVersion, CapturedAt: t0,
		Payload: dealPayload("announced"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), first.Version)

	t1 := t0.Add(time.Hour)
	second, err := snapshots.CommitCycle(ctx, &storage.CommitRequest{
		EntityID: "c1", ExpectedVersion: 0, CapturedAt: t1,
		Payload: dealPayload("completed"),
		Changes: []*domain.ChangeRecord{{
			Sequence: 0,
			Kind:     domain.ChangeKindStatusChange,
			Detail: domain.ChangeDetail{StatusChange: &domain.StatusChangeDetail{
				DealID: "d1", OldStatus: "announced", NewStatus: "completed",
			}},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), second.Version)

	latest, err := snapshots.GetLatestSnapshot(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), latest.Version)
	assert.True(t, t1.Equal(latest.CapturedAt))
	assert.Equal(t, "completed", latest.Payload.Deals[0].Status)
	assert.Equal(t, int64(40), *latest.Payload.Metrics[domain.MetricEmployeeCount].Int)
	assert.InDelta(t, 1.5e8, *latest.Payload.Metrics[domain.MetricValuation].Float, 0.0001)

	v0, err := snapshots.GetSnapshot(ctx, "c1", 0)
	require.NoError(t, err)
	assert.Equal(t, "announced", v0.Payload.Deals[0].Status)

	all, err := snapshots.ListSnapshots(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, all, 2)

	changes, err := snapshots.ListChanges(ctx, storage.ChangeFilter{EntityID: "c1"})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, int64(1), changes[0].SnapshotVersion)
	assert.NotEmpty(t, changes[0].ID)
	assert.True(t, t1.Equal(changes[0].DetectedAt))
	require.NotNil(t, changes[0].Detail.StatusChange)
	assert.Equal(t, "completed", changes[0].Detail.StatusChange.NewStatus)
}

func TestSnapshotStore_ConflictWritesNothing(t *testing.T) {
	snapshots, _, _ := newStores(t)
	ctx := context.Background()

	_, err := snapshots.CommitCycle(ctx, &storage.CommitRequest{
		EntityID: "c1", ExpectedVersion: domain.NoVersion, CapturedAt: t0,
	})
	require.NoError(t, err)

	_, err = snapshots.CommitCycle(ctx, &storage.CommitRequest{
		EntityID: "c1", ExpectedVersion: 5, CapturedAt: t0,
		Changes: []*domain.ChangeRecord{{
			Kind: domain.ChangeKindStatusChange,
			Detail: domain.ChangeDetail{StatusChange: &domain.StatusChangeDetail{
				OldStatus: "active", NewStatus: "acquired",
			}},
		}},
	})
	assert.ErrorIs(t, err, storage.ErrConflict)

	changes, err := snapshots.ListChanges(ctx, storage.ChangeFilter{})
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestSnapshotStore_ConcurrentCommitsOneWins(t *testing.T) {
	snapshots, _, _ := newStores(t)
	ctx := context.Background()

	const writers = 6
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []error
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := snapshots.CommitCycle(ctx, &storage.CommitRequest{
				EntityID: "c1", ExpectedVersion: domain.NoVersion, CapturedAt: t0,
			})
			mu.Lock()
			results = append(results, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, storage.ErrConflict)
	}
	assert.Equal(t, 1, wins)

	all, err := snapshots.ListSnapshots(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSnapshotStore_CapturedAtMustNotGoBackwards(t *testing.T) {
	snapshots, _, _ := newStores(t)
	ctx := context.Background()

	_, err := snapshots.CommitCycle(ctx, &storage.CommitRequest{
		EntityID: "c1", ExpectedVersion: domain.NoVersion, CapturedAt: t0,
	})
	require.NoError(t, err)

	_, err = snapshots.CommitCycle(ctx, &storage.CommitRequest{
		EntityID: "c1", ExpectedVersion: 0, CapturedAt: t0.Add(-time.Minute),
	})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestSnapshotStore_ListChangesLimitKeepsMostRecent(t *testing.T) {
	snapshots, _, _ := newStores(t)
	ctx := context.Background()

	_, err := snapshots.CommitCycle(ctx, &storage.CommitRequest{
		EntityID: "c1", ExpectedVersion: domain.NoVersion, CapturedAt: t0,
	})
	require.NoError(t, err)

	for v := int64(0); v < 3; v++ {
		_, err := snapshots.CommitCycle(ctx, &storage.CommitRequest{
			EntityID: "c1", ExpectedVersion: v, CapturedAt: t0.Add(time.Duration(v+1) * time.Hour),
			Changes: []*domain.ChangeRecord{{
				Kind: domain.ChangeKindMetricUpdate,
				Detail: domain.ChangeDetail{MetricUpdate: &domain.MetricUpdateDetail{
					Field:    domain.MetricEmployeeCount,
					OldValue: domain.IntMetric(v),
					NewValue: domain.IntMetric(v + 1),
				}},
			}},
		})
		require.NoError(t, err)
	}

	got, err := snapshots.ListChanges(ctx, storage.ChangeFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].SnapshotVersion)
	assert.Equal(t, int64(3), got[1].SnapshotVersion)

	since, err := snapshots.ListChanges(ctx, storage.ChangeFilter{
		EntityID: "c1",
		Since:    t0.Add(3 * time.Hour),
		Kind:     domain.ChangeKindMetricUpdate,
	})
	require.NoError(t, err)
	require.Len(t, since, 1)
	assert.Equal(t, int64(3), *since[0].Detail.MetricUpdate.NewValue.Int)
}
