package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/packcycle/packcycle/internal/models"
)

func TestResolveStatusTerminalPassThrough(t *testing.T) {
	clock := FixedClock{Instant: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)}
	longPast := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, status := range []models.PackageStatus{
		models.PackageDelivered,
		models.PackagePickedUp,
		models.PackageReturned,
	} {
		require.Equal(t, status, ResolveStatus(status, longPast, clock))
	}
}

func TestResolveStatusLapsedPendingBecomesOverdue(t *testing.T) {
	// deliveryDate=2024-01-02 read at simulated now=2024-01-05: the canonical
	// lapsed state is overdue, display-only, never "returned".
	delivery := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	clock := FixedClock{Instant: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)}

	resolved := ResolveStatus(models.PackagePending, delivery, clock)
	require.Equal(t, models.PackageOverdue, resolved)
	require.NotEqual(t, models.PackageReturned, resolved)
}

func TestResolveStatusPendingBeforeDueDate(t *testing.T) {
	delivery := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	clock := FixedClock{Instant: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)}

	require.Equal(t, models.PackagePending, ResolveStatus(models.PackagePending, delivery, clock))

	// Exactly at the due date is still pending; only strictly-after lapses.
	atDue := FixedClock{Instant: delivery}
	require.Equal(t, models.PackagePending, ResolveStatus(models.PackagePending, delivery, atDue))
}

func TestResolveStatusDeterministicForFixedClock(t *testing.T) {
	delivery := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	clock := FixedClock{Instant: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)}

	first := ResolveStatus(models.PackagePending, delivery, clock)
	second := ResolveStatus(models.PackagePending, delivery, clock)
	require.Equal(t, first, second, "resolution must be idempotent for a fixed clock")
}

func TestDueWithinWindow(t *testing.T) {
	now := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	clock := FixedClock{Instant: now}
	window := 72 * time.Hour

	require.True(t, DueWithin(now.Add(24*time.Hour), clock, window))
	require.True(t, DueWithin(now.Add(72*time.Hour), clock, window))
	require.False(t, DueWithin(now.Add(73*time.Hour), clock, window))
	require.False(t, DueWithin(now.Add(-time.Hour), clock, window), "lapsed records are not upcoming")
}

func TestClockImplementations(t *testing.T) {
	instant := time.Date(2024, 7, 1, 10, 30, 0, 0, time.UTC)

	require.Equal(t, instant, FixedClock{Instant: instant}.Now())
	require.Equal(t, instant, ClockFunc(func() time.Time { return instant }).Now())
	require.WithinDuration(t, time.Now().UTC(), SystemClock{}.Now(), time.Second)
}
