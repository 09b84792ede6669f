package maintenance

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/packcycle/packcycle/internal/cache"
	"github.com/packcycle/packcycle/internal/services"
	apperrors "github.com/packcycle/packcycle/pkg/errors"
	"github.com/packcycle/packcycle/pkg/logger"
)

const (
	defaultCacheSpec   = "@every 10m"
	defaultOverdueSpec = "@hourly"
)

// Sweeper runs the recurring background jobs: purging expired database cache
// rows and re-materializing histories so overdue and upcoming notifications
// fire even while every client is idle.
type Sweeper struct {
	store   *cache.DatabaseStore
	users   *services.UserService
	refresh *services.RefreshService
	cron    *cron.Cron
	now     func() time.Time
	log     *zap.Logger

	cacheSchedule   string
	overdueSchedule string
}

// Option customises the Sweeper.
type Option func(*Sweeper)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Sweeper) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithNow overrides the clock used for purge comparisons.
func WithNow(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithCacheSchedule overrides the cron specification for cache purging.
func WithCacheSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.cacheSchedule = spec
		}
	}
}

// WithOverdueSchedule overrides the cron specification for the history sweep.
func WithOverdueSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.overdueSchedule = spec
		}
	}
}

// NewSweeper constructs a Sweeper. A nil store or refresh pair disables the
// corresponding job.
func NewSweeper(store *cache.DatabaseStore, users *services.UserService, refresh *services.RefreshService, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:           store,
		users:           users,
		refresh:         refresh,
		now:             time.Now,
		cacheSchedule:   defaultCacheSpec,
		overdueSchedule: defaultOverdueSpec,
		log:             logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.cron == nil {
		s.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return s
}

// Start registers the jobs with the cron scheduler and launches it.
func (s *Sweeper) Start() error {
	if s.store != nil {
		if _, err := s.cron.AddFunc(s.cacheSchedule, func() {
			if _, err := s.PurgeCache(context.Background()); err != nil {
				s.log.Warn("cache purge failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if s.users != nil && s.refresh != nil {
		if _, err := s.cron.AddFunc(s.overdueSchedule, func() {
			if err := s.SweepHistories(context.Background()); err != nil {
				s.log.Warn("history sweep failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	s.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (s *Sweeper) Stop() context.Context {
	if s.cron == nil {
		return context.Background()
	}
	return s.cron.Stop()
}

// PurgeCache removes expired rows from the database cache table.
func (s *Sweeper) PurgeCache(ctx context.Context) (int64, error) {
	if s.store == nil {
		return 0, nil
	}

	purged, err := s.store.PurgeExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		s.log.Info("purged expired cache entries", zap.Int64("count", purged))
	}
	return purged, nil
}

// SweepHistories refreshes every active recipient's history so overdue and
// upcoming events are emitted even without client traffic. Throttled or
// already-running refreshes are expected and skipped quietly.
func (s *Sweeper) SweepHistories(ctx context.Context) error {
	if s.users == nil || s.refresh == nil {
		return nil
	}

	users, err := s.users.List(ctx)
	if err != nil {
		return err
	}

	var errs error
	for _, user := range users {
		if !user.IsActive {
			continue
		}
		_, err := s.refresh.Refresh(ctx, user.ID, false, services.SourceNavigation)
		if err == nil || errors.Is(err, apperrors.ErrRefreshInProgress) {
			continue
		}
		if errors.Is(err, apperrors.ErrNoActiveTimeline) {
			// Nothing to sweep without an active timeline.
			return errs
		}
		errs = multierr.Append(errs, err)
	}
	return errs
}

// RunOnce executes both sweeps sequentially. Used in tests and at shutdown.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	if _, err := s.PurgeCache(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := s.SweepHistories(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}
