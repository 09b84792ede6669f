package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/packcycle/packcycle/internal/database/testutil"
	"github.com/packcycle/packcycle/internal/models"
)

func TestDatabaseStoreSetGetDelete(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := NewDatabaseStore(db)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "history:user-1", []byte("records"), time.Minute))

	value, ok, err := store.Get(ctx, "history:user-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("records"), value)

	// Overwrite through the upsert path.
	require.NoError(t, store.Set(ctx, "history:user-1", []byte("fresh"), time.Minute))
	value, ok, err = store.Get(ctx, "history:user-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("fresh"), value)

	require.NoError(t, store.Delete(ctx, "history:user-1"))
	_, ok, err = store.Get(ctx, "history:user-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDatabaseStoreExpiredEntryIsMiss(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := NewDatabaseStore(db)
	ctx := context.Background()

	expired := models.CacheEntry{
		Key:       "history:user-2",
		Value:     []byte("stale"),
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	require.NoError(t, db.Create(&expired).Error)

	_, ok, err := store.Get(ctx, "history:user-2")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDatabaseStoreIncrementWithTTL(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := NewDatabaseStore(db)
	ctx := context.Background()

	count, _, err := store.IncrementWithTTL(ctx, "window:a", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	count, _, err = store.IncrementWithTTL(ctx, "window:a", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
}

func TestDatabaseStorePurgeExpired(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := NewDatabaseStore(db)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, db.Create(&models.CacheEntry{Key: "old", ExpiresAt: now.Add(-time.Hour)}).Error)
	require.NoError(t, db.Create(&models.CacheEntry{Key: "live", ExpiresAt: now.Add(time.Hour)}).Error)
	require.NoError(t, db.Create(&models.CacheEntry{Key: "pinned"}).Error) // zero expiry, never purged

	purged, err := store.PurgeExpired(ctx, now)
	require.NoError(t, err)
	require.EqualValues(t, 1, purged)

	var remaining int64
	require.NoError(t, db.Model(&models.CacheEntry{}).Count(&remaining).Error)
	require.EqualValues(t, 2, remaining)
}

func TestDatabaseStoreNilGuards(t *testing.T) {
	var store *DatabaseStore
	ctx := context.Background()

	require.Error(t, store.Set(ctx, "k", nil, 0))
	_, _, err := store.Get(ctx, "k")
	require.Error(t, err)
	require.Error(t, store.Delete(ctx, "k"))
}
