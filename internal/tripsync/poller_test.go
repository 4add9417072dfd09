package tripsync_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/tripsync/backend/internal/domain"
	"github.com/pkordes/tripsync/backend/internal/tripsync"
	"github.com/pkordes/tripsync/backend/testutil"
)

func withActivities(rec domain.TripRecord, checked ...bool) domain.TripRecord {
	rec.Activities = nil
	for i, c := range checked {
		rec.Activities = append(rec.Activities, domain.Activity{ID: string(rune('a' + i)), Title: "stop", CheckIn: c})
	}
	return rec
}

func staticPoller(t *testing.T, fetched domain.TripRecord, fetchErr error, cached domain.TripRecord, changes *[]domain.TripRecord) *tripsync.RefreshPoller {
	return tripsync.NewRefreshPoller(time.Hour,
		func(context.Context) (domain.TripRecord, error) { return fetched, fetchErr },
		func() (domain.TripRecord, bool) { return cached, true },
		func(r domain.TripRecord) { *changes = append(*changes, r) },
		testutil.Logger(t),
	)
}

func TestRefreshPoller_Poll(t *testing.T) {
	base := record("t1", "alice", domain.KindOwned, 1, 3)
	tests := []struct {
		name    string
		cached  domain.TripRecord
		fetched domain.TripRecord
		err     error
		want    bool
	}{
		{"unchanged", withActivities(base, false, false), withActivities(base, false, false), nil, false},
		{"check-in flag differs", withActivities(base, false, false), withActivities(base, true, false), nil, true},
		{"activity added", withActivities(base, false), withActivities(base, false, false), nil, true},
		{"activity removed", withActivities(base, false, false), withActivities(base, false), nil, true},
		{"other trip", withActivities(base, false), withActivities(record("t2", "alice", domain.KindOwned, 1, 1), true), nil, false},
		{"deleted", withActivities(base, false), domain.TripRecord{}, domain.ErrNotFound, false},
		{"fetch failed", withActivities(base, false), domain.TripRecord{}, errors.New("unavailable"), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var changes []domain.TripRecord
			p := staticPoller(t, tc.fetched, tc.err, tc.cached, &changes)

			got := p.Poll(context.Background())

			assert.Equal(t, tc.want, got)
			if tc.want {
				require.Len(t, changes, 1)
				assert.Equal(t, tc.fetched.ID, changes[0].ID)
			} else {
				assert.Empty(t, changes)
			}
		})
	}
}

func TestRefreshPoller_NothingCached(t *testing.T) {
	var called bool
	p := tripsync.NewRefreshPoller(time.Hour,
		func(context.Context) (domain.TripRecord, error) { return withActivities(record("t1", "a", domain.KindOwned, 1, 1), true), nil },
		func() (domain.TripRecord, bool) { return domain.TripRecord{}, false },
		func(domain.TripRecord) { called = true },
		nil,
	)
	assert.False(t, p.Poll(context.Background()))
	assert.False(t, called)
}

func TestRefreshPoller_StartStop(t *testing.T) {
	var fetches, changes atomic.Int32
	cached := withActivities(record("t1", "alice", domain.KindOwned, 1, 1), false)
	p := tripsync.NewRefreshPoller(5*time.Millisecond,
		func(context.Context) (domain.TripRecord, error) {
			fetches.Add(1)
			return withActivities(cached, true), nil
		},
		func() (domain.TripRecord, bool) { return cached, true },
		func(domain.TripRecord) { changes.Add(1) },
		testutil.Logger(t),
	)

	require.NoError(t, p.Start(context.Background()))
	assert.Error(t, p.Start(context.Background()), "second start is rejected")

	require.Eventually(t, func() bool { return changes.Load() >= 2 }, time.Second, 5*time.Millisecond)
	p.Stop()

	after := fetches.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, fetches.Load(), "no fetch after Stop returns")

	p.Stop()
	require.NoError(t, p.Start(context.Background()), "restart after stop")
	p.Stop()
}

func TestRefreshPoller_StopsWithContext(t *testing.T) {
	var fetches atomic.Int32
	p := tripsync.NewRefreshPoller(5*time.Millisecond,
		func(context.Context) (domain.TripRecord, error) { fetches.Add(1); return domain.TripRecord{}, domain.ErrNotFound },
		func() (domain.TripRecord, bool) { return domain.TripRecord{}, false },
		func(domain.TripRecord) {},
		testutil.Logger(t),
	)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Start(ctx))
	require.Eventually(t, func() bool { return fetches.Load() > 0 }, time.Second, 5*time.Millisecond)
	cancel()
	p.Stop()
}
