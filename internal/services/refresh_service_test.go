package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/packcycle/packcycle/internal/cache"
	"github.com/packcycle/packcycle/internal/models"
	apperrors "github.com/packcycle/packcycle/pkg/errors"
)

// stepClock is a manually advanced time source shared between the refresh
// service and the cache store, so TTL and throttle expiry move together.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock(start time.Time) *stepClock {
	return &stepClock{now: start}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type refreshFixture struct {
	*packageFixture
	refresh *RefreshService
	clock   *stepClock
}

func newRefreshFixture(t *testing.T) *refreshFixture {
	t.Helper()

	// The services share one store built around the step clock, so cache
	// expiry and throttle expiry move together.
	clock := newStepClock(time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC))
	base := newPackageFixtureWithStore(t, cache.NewMemoryStore(cache.WithClock(clock.Now)))

	refresh, err := NewRefreshService(base.packages, base.store, base.events,
		WithRefreshClock(clock))
	require.NoError(t, err)

	return &refreshFixture{packageFixture: base, refresh: refresh, clock: clock}
}

// countRefreshes subscribes before the test body runs and reports how many
// real (non-skipped) refreshes reached the materializer.
func (f *refreshFixture) countRefreshes(t *testing.T) *int {
	t.Helper()
	count := 0
	f.events.Subscribe(func(e Event) {
		if e.Type == EventUserPackageUpdated {
			count++
		}
	})
	return &count
}

func TestHistoryCacheFirst(t *testing.T) {
	f := newRefreshFixture(t)
	ctx := context.Background()

	first, err := f.refresh.History(ctx, f.user.ID)
	require.NoError(t, err)
	require.False(t, first.FromCache)
	require.Len(t, first.Records, 4)

	second, err := f.refresh.History(ctx, f.user.ID)
	require.NoError(t, err)
	require.True(t, second.FromCache)
	require.Equal(t, first.Records, second.Records)
}

func TestHistoryCacheExpires(t *testing.T) {
	f := newRefreshFixture(t)
	ctx := context.Background()

	_, err := f.refresh.History(ctx, f.user.ID)
	require.NoError(t, err)

	f.clock.Advance(6 * time.Minute)

	// Past the TTL the cached entry is gone; past the navigation window the
	// throttle no longer applies either, so a real refresh runs.
	result, err := f.refresh.History(ctx, f.user.ID)
	require.NoError(t, err)
	require.False(t, result.FromCache)
}

func TestRefreshThrottledWithinWindow(t *testing.T) {
	f := newRefreshFixture(t)
	ctx := context.Background()
	refreshes := f.countRefreshes(t)

	first, err := f.refresh.Refresh(ctx, f.user.ID, false, SourceUser)
	require.NoError(t, err)
	require.False(t, first.Skipped)

	f.clock.Advance(30 * time.Second)

	second, err := f.refresh.Refresh(ctx, f.user.ID, false, SourceUser)
	require.NoError(t, err)
	require.True(t, second.Skipped)
	require.True(t, second.FromCache)
	require.Equal(t, first.Records, second.Records, "a throttled refresh serves the cached payload")
	require.Equal(t, 1, *refreshes, "only one refresh may hit the backing store")
}

func TestRefreshThrottleExpires(t *testing.T) {
	f := newRefreshFixture(t)
	ctx := context.Background()
	refreshes := f.countRefreshes(t)

	_, err := f.refresh.Refresh(ctx, f.user.ID, false, SourceUser)
	require.NoError(t, err)

	f.clock.Advance(2*time.Minute + time.Second)

	result, err := f.refresh.Refresh(ctx, f.user.ID, false, SourceUser)
	require.NoError(t, err)
	require.False(t, result.Skipped)
	require.Equal(t, 2, *refreshes)
}

func TestRefreshThrottleIsPerSource(t *testing.T) {
	f := newRefreshFixture(t)
	ctx := context.Background()
	refreshes := f.countRefreshes(t)

	_, err := f.refresh.Refresh(ctx, f.user.ID, false, SourceUser)
	require.NoError(t, err)

	// A user-source refresh does not consume the navigation window.
	result, err := f.refresh.Refresh(ctx, f.user.ID, false, SourceNavigation)
	require.NoError(t, err)
	require.False(t, result.Skipped)
	require.Equal(t, 2, *refreshes)
}

func TestForcedRefreshBypassesThrottle(t *testing.T) {
	f := newRefreshFixture(t)
	ctx := context.Background()
	refreshes := f.countRefreshes(t)

	_, err := f.refresh.Refresh(ctx, f.user.ID, false, SourceUser)
	require.NoError(t, err)

	result, err := f.refresh.Refresh(ctx, f.user.ID, true, SourceUser)
	require.NoError(t, err)
	require.False(t, result.Skipped)
	require.Equal(t, 2, *refreshes)
}

func TestRefreshThrottleFallsThroughWithEmptyCache(t *testing.T) {
	f := newRefreshFixture(t)
	ctx := context.Background()

	first, err := f.refresh.Refresh(ctx, f.user.ID, false, SourceUser)
	require.NoError(t, err)
	require.False(t, first.Skipped)

	// Drop the cached payload while the throttle window is still open: with
	// nothing to serve, the throttle yields and the refresh runs anyway.
	require.NoError(t, f.refresh.cache.Delete(ctx, historyCacheKey(f.user.ID)))

	second, err := f.refresh.Refresh(ctx, f.user.ID, false, SourceUser)
	require.NoError(t, err)
	require.False(t, second.Skipped)
	require.Len(t, second.Records, 4)
}

func TestRefreshRejectsConcurrentRefresh(t *testing.T) {
	f := newRefreshFixture(t)
	ctx := context.Background()

	require.True(t, f.refresh.acquire(f.user.ID))
	_, err := f.refresh.Refresh(ctx, f.user.ID, true, SourceUser)
	require.ErrorIs(t, err, apperrors.ErrRefreshInProgress)

	f.refresh.release(f.user.ID)
	_, err = f.refresh.Refresh(ctx, f.user.ID, true, SourceUser)
	require.NoError(t, err)
}

func TestRefreshInFlightIsPerUser(t *testing.T) {
	f := newRefreshFixture(t)
	ctx := context.Background()

	other := &models.User{Username: "noor", IsActive: true}
	require.NoError(t, f.db.Create(other).Error)

	require.True(t, f.refresh.acquire(f.user.ID))
	defer f.refresh.release(f.user.ID)

	_, err := f.refresh.Refresh(ctx, other.ID, true, SourceUser)
	require.NoError(t, err, "one user's in-flight refresh must not block another's")
}

func TestUpdateInvalidatesCachedHistory(t *testing.T) {
	f := newRefreshFixture(t)
	ctx := context.Background()
	key := models.PeriodKey(2)

	before, err := f.refresh.History(ctx, f.user.ID)
	require.NoError(t, err)
	require.Equal(t, models.PackagePending, before.Records[1].Status)

	require.NoError(t, f.packages.UpsertStatus(ctx, f.timeline.ID, key, f.user.ID,
		UpdatePackageInput{Status: models.PackageDelivered}))

	after, err := f.refresh.History(ctx, f.user.ID)
	require.NoError(t, err)
	require.False(t, after.FromCache, "a status update must drop the cached history")
	require.Equal(t, models.PackageDelivered, after.Records[1].Status)
}

func TestRefreshClassifiesOverdueAndUpcoming(t *testing.T) {
	f := newRefreshFixture(t)

	// Simulated instant 2024-01-02: period 1 (due Jan 1) has lapsed, periods
	// 4 and 5 fall inside the 72h upcoming window, period 2 is due right now
	// and counts as neither.
	result, err := f.refresh.Refresh(context.Background(), f.user.ID, true, SourceUser)
	require.NoError(t, err)

	require.Len(t, result.Overdue, 1)
	require.Equal(t, 1, result.Overdue[0].PeriodNumber)

	require.Len(t, result.Upcoming, 2)
	require.Equal(t, 4, result.Upcoming[0].PeriodNumber)
	require.Equal(t, 5, result.Upcoming[1].PeriodNumber)
}

func TestRefreshEmitsClassificationEvents(t *testing.T) {
	f := newRefreshFixture(t)

	var types []string
	f.events.Subscribe(func(e Event) { types = append(types, e.Type) })

	_, err := f.refresh.Refresh(context.Background(), f.user.ID, true, SourceUser)
	require.NoError(t, err)
	require.Equal(t, []string{EventUserPackageUpdated, EventPackagesOverdue, EventPackagesUpcoming}, types)
}

func TestResumeForegroundAfterLongBackground(t *testing.T) {
	f := newRefreshFixture(t)
	ctx := context.Background()

	f.refresh.EnterBackground()
	f.clock.Advance(11 * time.Minute)

	result, triggered, err := f.refresh.ResumeForeground(ctx, f.user.ID)
	require.NoError(t, err)
	require.True(t, triggered)
	require.NotNil(t, result)
	require.Len(t, result.Records, 4)
}

func TestResumeForegroundShortBackground(t *testing.T) {
	f := newRefreshFixture(t)
	ctx := context.Background()

	f.refresh.EnterBackground()
	f.clock.Advance(time.Minute)

	result, triggered, err := f.refresh.ResumeForeground(ctx, f.user.ID)
	require.NoError(t, err)
	require.False(t, triggered)
	require.Nil(t, result)

	// The background mark is consumed either way.
	f.clock.Advance(time.Hour)
	_, triggered, err = f.refresh.ResumeForeground(ctx, f.user.ID)
	require.NoError(t, err)
	require.False(t, triggered)
}

func TestRefreshUnknownSourceDefaultsToUser(t *testing.T) {
	f := newRefreshFixture(t)
	ctx := context.Background()
	refreshes := f.countRefreshes(t)

	_, err := f.refresh.Refresh(ctx, f.user.ID, false, RefreshSource("carrier_pigeon"))
	require.NoError(t, err)

	result, err := f.refresh.Refresh(ctx, f.user.ID, false, SourceUser)
	require.NoError(t, err)
	require.True(t, result.Skipped, "an unknown source shares the user throttle window")
	require.Equal(t, 1, *refreshes)
}
