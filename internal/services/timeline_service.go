package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/packcycle/packcycle/internal/cache"
	"github.com/packcycle/packcycle/internal/models"
	"github.com/packcycle/packcycle/internal/schedule"
	apperrors "github.com/packcycle/packcycle/pkg/errors"
	"github.com/packcycle/packcycle/pkg/logger"
	"github.com/packcycle/packcycle/pkg/validator"
)

const defaultTimelineCacheTTL = 5 * time.Minute

// TimelineInput carries the administrator-supplied timeline configuration.
// The period map is never accepted from callers; it is derived.
type TimelineInput struct {
	Name           string         `json:"name" validate:"max=128"`
	Cadence        models.Cadence `json:"cadence" validate:"required,oneof=yearly monthly weekly daily hourly minute"`
	Duration       int            `json:"duration" validate:"min=0"`
	StartDate      time.Time      `json:"start_date" validate:"required"`
	Mode           string         `json:"mode" validate:"omitempty,oneof=auto manual"`
	SimulationDate *time.Time     `json:"simulation_date,omitempty"`
	Holidays       []int          `json:"holidays,omitempty"`
	TotalAmount    int            `json:"total_amount" validate:"min=0"`
}

// TimelineService owns the timeline lifecycle: templates, the single active
// timeline, and the effective clock derived from its mode. All callers reach
// the "current" timeline through this handle instead of ambient state.
type TimelineService struct {
	db    *gorm.DB
	cache cache.Store
	clock schedule.Clock
	ttl   time.Duration
	log   *zap.Logger
}

// TimelineOption customises a TimelineService.
type TimelineOption func(*TimelineService)

// WithTimelineClock overrides the system clock, primarily for tests.
func WithTimelineClock(clock schedule.Clock) TimelineOption {
	return func(s *TimelineService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithTimelineCacheTTL adjusts how long the active timeline is memoized.
func WithTimelineCacheTTL(ttl time.Duration) TimelineOption {
	return func(s *TimelineService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewTimelineService constructs a TimelineService.
func NewTimelineService(db *gorm.DB, store cache.Store, opts ...TimelineOption) (*TimelineService, error) {
	if db == nil {
		return nil, errors.New("timeline service: db is required")
	}
	if store == nil {
		return nil, errors.New("timeline service: cache store is required")
	}

	s := &TimelineService{
		db:    db,
		cache: store,
		clock: schedule.SystemClock{},
		ttl:   defaultTimelineCacheTTL,
		log:   logger.WithModule("timeline"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateTemplate stores a reusable timeline configuration without activating it.
func (s *TimelineService) CreateTemplate(ctx context.Context, input TimelineInput) (*models.Timeline, error) {
	ctx = ensureContext(ctx)

	timeline, err := s.buildTimeline(input, models.TimelineStatusTemplate)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Create(timeline).Error; err != nil {
		return nil, fmt.Errorf("timeline service: create template: %w", err)
	}
	return timeline, nil
}

// ListTemplates returns stored timeline templates ordered by recency.
func (s *TimelineService) ListTemplates(ctx context.Context) ([]models.Timeline, error) {
	ctx = ensureContext(ctx)

	var rows []models.Timeline
	if err := s.db.WithContext(ctx).
		Where("status = ?", models.TimelineStatusTemplate).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("timeline service: list templates: %w", err)
	}
	return rows, nil
}

// CreateActiveTimeline replaces the singleton active timeline. Any previous
// active timeline is archived in the same transaction.
func (s *TimelineService) CreateActiveTimeline(ctx context.Context, input TimelineInput) (*models.Timeline, error) {
	ctx = ensureContext(ctx)

	timeline, err := s.buildTimeline(input, models.TimelineStatusActive)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Timeline{}).
			Where("status = ?", models.TimelineStatusActive).
			Update("status", models.TimelineStatusArchived).Error; err != nil {
			return err
		}
		return tx.Create(timeline).Error
	})
	if err != nil {
		return nil, fmt.Errorf("timeline service: activate timeline: %w", err)
	}

	s.invalidate(ctx)
	s.log.Info("active timeline replaced",
		zap.String("timeline_id", timeline.ID),
		zap.String("cadence", string(timeline.Cadence)),
		zap.Int("duration", timeline.Duration),
	)
	return timeline, nil
}

// GetActiveTimeline returns the current active timeline, memoized behind the
// shared cache. Absence is reported as ErrNoActiveTimeline.
func (s *TimelineService) GetActiveTimeline(ctx context.Context) (*models.Timeline, error) {
	ctx = ensureContext(ctx)

	if data, ok, err := s.cache.Get(ctx, activeTimelineCacheKey); err == nil && ok {
		var cached models.Timeline
		if err := json.Unmarshal(data, &cached); err == nil {
			return &cached, nil
		}
		// Undecodable cache entries are dropped and refetched.
		_ = s.cache.Delete(ctx, activeTimelineCacheKey)
	}

	var timeline models.Timeline
	err := s.db.WithContext(ctx).
		Where("status = ?", models.TimelineStatusActive).
		Take(&timeline).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNoActiveTimeline
	}
	if err != nil {
		return nil, fmt.Errorf("timeline service: load active timeline: %w", err)
	}

	if data, err := json.Marshal(timeline); err == nil {
		_ = s.cache.Set(ctx, activeTimelineCacheKey, data, s.ttl)
	}
	return &timeline, nil
}

// SetSimulationDate pins the simulated instant of a manual-mode timeline.
func (s *TimelineService) SetSimulationDate(ctx context.Context, instant time.Time) (*models.Timeline, error) {
	ctx = ensureContext(ctx)

	timeline, err := s.GetActiveTimeline(ctx)
	if err != nil {
		return nil, err
	}
	if timeline.Mode != models.TimelineModeManual {
		return nil, apperrors.NewBadRequest("simulation date requires a manual-mode timeline")
	}

	if err := s.db.WithContext(ctx).Model(&models.Timeline{}).
		Where("id = ?", timeline.ID).
		Update("simulation_date", instant).Error; err != nil {
		return nil, fmt.Errorf("timeline service: set simulation date: %w", err)
	}

	s.invalidate(ctx)
	timeline.SimulationDate = &instant
	return timeline, nil
}

// DeleteActiveTimeline removes the active timeline. With purgePackages the
// timeline's package records are deleted in the same transaction.
func (s *TimelineService) DeleteActiveTimeline(ctx context.Context, purgePackages bool) error {
	ctx = ensureContext(ctx)

	timeline, err := s.GetActiveTimeline(ctx)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if purgePackages {
			if err := tx.Where("timeline_id = ?", timeline.ID).
				Delete(&models.PackageRecord{}).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&models.Timeline{}, "id = ?", timeline.ID).Error
	})
	if err != nil {
		return fmt.Errorf("timeline service: delete active timeline: %w", err)
	}

	s.invalidate(ctx)
	s.log.Info("active timeline deleted",
		zap.String("timeline_id", timeline.ID),
		zap.Bool("purge_packages", purgePackages),
	)
	return nil
}

// ClockFor returns the effective clock for the supplied timeline: the pinned
// simulation instant in manual mode, the service clock otherwise.
func (s *TimelineService) ClockFor(timeline *models.Timeline) schedule.Clock {
	if timeline != nil && timeline.Mode == models.TimelineModeManual && timeline.SimulationDate != nil {
		return schedule.FixedClock{Instant: *timeline.SimulationDate}
	}
	return s.clock
}

// buildTimeline validates the input and derives the period map.
func (s *TimelineService) buildTimeline(input TimelineInput, status string) (*models.Timeline, error) {
	if err := validator.ValidateStruct(input); err != nil {
		return nil, apperrors.NewBadRequest(err.Error())
	}

	for _, n := range input.Holidays {
		if n < 1 || n > input.Duration {
			return nil, apperrors.NewBadRequest(
				fmt.Sprintf("holiday period %d is outside 1..%d", n, input.Duration))
		}
	}

	mode := defaultIfEmpty(input.Mode, models.TimelineModeAuto)
	if mode == models.TimelineModeManual && input.SimulationDate == nil {
		return nil, apperrors.NewBadRequest("manual mode requires a simulation date")
	}

	timeline := &models.Timeline{
		Name:           input.Name,
		Cadence:        input.Cadence,
		Duration:       input.Duration,
		StartDate:      input.StartDate,
		Mode:           mode,
		SimulationDate: input.SimulationDate,
		TotalAmount:    input.TotalAmount,
		Status:         status,
	}
	if err := timeline.SetHolidays(input.Holidays); err != nil {
		return nil, fmt.Errorf("timeline service: encode holidays: %w", err)
	}

	periods := schedule.GeneratePeriods(schedule.PeriodSpec{
		Cadence:     input.Cadence,
		Duration:    input.Duration,
		StartDate:   input.StartDate,
		Holidays:    input.Holidays,
		TotalAmount: input.TotalAmount,
	})
	if err := timeline.SetPeriods(periods); err != nil {
		return nil, fmt.Errorf("timeline service: encode periods: %w", err)
	}

	return timeline, nil
}

func (s *TimelineService) invalidate(ctx context.Context) {
	if err := s.cache.Delete(ctx, activeTimelineCacheKey); err != nil {
		s.log.Warn("failed to invalidate timeline cache", zap.Error(err))
	}
}
