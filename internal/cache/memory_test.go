package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestClock(start time.Time) (func() time.Time, func(time.Duration)) {
	current := start
	now := func() time.Time { return current }
	advance := func(d time.Duration) { current = current.Add(d) }
	return now, advance
}

func TestMemoryStoreSetGetWithTTL(t *testing.T) {
	now, advance := newTestClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	store := NewMemoryStore(WithClock(now))
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "user:alice", []byte("payload"), time.Minute))

	value, ok, err := store.Get(ctx, "user:alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("payload"), value)

	advance(59 * time.Second)
	_, ok, err = store.Get(ctx, "user:alice")
	require.NoError(t, err)
	require.True(t, ok, "entry must stay valid inside the TTL window")

	advance(2 * time.Second)
	_, ok, err = store.Get(ctx, "user:alice")
	require.NoError(t, err)
	require.False(t, ok, "entry must expire after the TTL window")
}

func TestMemoryStoreZeroTTLNeverExpires(t *testing.T) {
	now, advance := newTestClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	store := NewMemoryStore(WithClock(now))
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "timeline:global", []byte("cfg"), 0))
	advance(1000 * time.Hour)

	_, ok, err := store.Get(ctx, "timeline:global")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMemoryStoreDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, store.Set(ctx, "b", []byte("2"), time.Minute))
	require.NoError(t, store.Delete(ctx, "a", "b"))

	_, ok, err := store.Get(ctx, "a")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryStoreIncrementWithTTLWindowReset(t *testing.T) {
	now, advance := newTestClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	store := NewMemoryStore(WithClock(now))
	ctx := context.Background()

	count, remaining, err := store.IncrementWithTTL(ctx, "throttle:user:alice", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
	require.Equal(t, time.Minute, remaining)

	count, _, err = store.IncrementWithTTL(ctx, "throttle:user:alice", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	advance(61 * time.Second)
	count, _, err = store.IncrementWithTTL(ctx, "throttle:user:alice", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count, "a fresh window must restart the counter")
}

func TestMemoryStoreBoundedSizeEvictsClosestToExpiry(t *testing.T) {
	now, _ := newTestClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	store := NewMemoryStore(WithClock(now), WithMaxEntries(2))
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "short", []byte("1"), time.Minute))
	require.NoError(t, store.Set(ctx, "long", []byte("2"), time.Hour))
	require.NoError(t, store.Set(ctx, "new", []byte("3"), 30*time.Minute))

	require.LessOrEqual(t, store.Len(), 2)

	_, ok, err := store.Get(ctx, "short")
	require.NoError(t, err)
	require.False(t, ok, "the entry closest to expiry is evicted first")

	_, ok, err = store.Get(ctx, "long")
	require.NoError(t, err)
	require.True(t, ok)
}
