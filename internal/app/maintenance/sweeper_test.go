package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/packcycle/packcycle/internal/cache"
	"github.com/packcycle/packcycle/internal/database/testutil"
	"github.com/packcycle/packcycle/internal/models"
	"github.com/packcycle/packcycle/internal/services"
)

func newServiceStack(t *testing.T) (*gorm.DB, *services.UserService, *services.RefreshService, *services.Dispatcher) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := cache.NewMemoryStore()
	events := services.NewDispatcher()

	timelines, err := services.NewTimelineService(db, store)
	require.NoError(t, err)

	simDate := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	_, err = timelines.CreateActiveTimeline(context.Background(), services.TimelineInput{
		Name:           "sweep program",
		Cadence:        models.CadenceDaily,
		Duration:       5,
		StartDate:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Mode:           models.TimelineModeManual,
		SimulationDate: &simDate,
		TotalAmount:    5,
	})
	require.NoError(t, err)

	users, err := services.NewUserService(db)
	require.NoError(t, err)

	packages, err := services.NewPackageService(db, timelines, store, events)
	require.NoError(t, err)
	refresh, err := services.NewRefreshService(packages, store, events)
	require.NoError(t, err)

	return db, users, refresh, events
}

func TestSweeperPurgeCache(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := cache.NewDatabaseStore(db)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "stale", []byte("x"), time.Minute))
	require.NoError(t, store.Set(ctx, "fresh", []byte("y"), time.Hour))

	sweeper := NewSweeper(store, nil, nil,
		WithNow(func() time.Time { return time.Now().Add(30 * time.Minute) }))

	purged, err := sweeper.PurgeCache(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, purged)

	_, ok, err := store.Get(ctx, "fresh")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSweeperSweepHistories(t *testing.T) {
	_, users, refresh, events := newServiceStack(t)
	ctx := context.Background()

	alice, err := users.Create(ctx, services.UserInput{Username: "alice"})
	require.NoError(t, err)
	parked, err := users.Create(ctx, services.UserInput{Username: "parked"})
	require.NoError(t, err)
	_, err = users.SetActive(ctx, parked.ID, false)
	require.NoError(t, err)

	var overdueFor []string
	events.Subscribe(func(e services.Event) {
		if e.Type == services.EventPackagesOverdue {
			overdueFor = append(overdueFor, e.UserID)
		}
	})

	sweeper := NewSweeper(nil, users, refresh)
	require.NoError(t, sweeper.SweepHistories(ctx))
	require.Equal(t, []string{alice.ID}, overdueFor, "inactive recipients are not swept")

	// A second pass inside the throttle window is quietly skipped.
	require.NoError(t, sweeper.SweepHistories(ctx))
	require.Len(t, overdueFor, 1)
}

func TestSweeperRunOnceWithoutJobs(t *testing.T) {
	sweeper := NewSweeper(nil, nil, nil)
	require.NoError(t, sweeper.RunOnce(context.Background()))
}

func TestSweeperStartAndStop(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := cache.NewDatabaseStore(db)

	sweeper := NewSweeper(store, nil, nil, WithCacheSchedule("@every 1h"))
	require.NoError(t, sweeper.Start())
	<-sweeper.Stop().Done()
}
