package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/packcycle/packcycle/internal/cache"
	"github.com/packcycle/packcycle/internal/models"
	"github.com/packcycle/packcycle/internal/schedule"
	apperrors "github.com/packcycle/packcycle/pkg/errors"
	"github.com/packcycle/packcycle/pkg/logger"
	"github.com/packcycle/packcycle/pkg/metrics"
)

// RefreshSource identifies what triggered a refresh; each source has its own
// throttle window.
type RefreshSource string

const (
	SourceNavigation RefreshSource = "navigation"
	SourceUser       RefreshSource = "user"
	SourceResume     RefreshSource = "resume"
)

// ThrottleWindows holds the minimum interval between refreshes per source.
type ThrottleWindows struct {
	Navigation time.Duration
	User       time.Duration
	Resume     time.Duration
}

// DefaultThrottleWindows mirrors the trigger hierarchy: page navigation is
// cheap and frequent, explicit per-user refreshes less so, app resume rare.
var DefaultThrottleWindows = ThrottleWindows{
	Navigation: 30 * time.Second,
	User:       2 * time.Minute,
	Resume:     10 * time.Minute,
}

func (w ThrottleWindows) windowFor(source RefreshSource) time.Duration {
	switch source {
	case SourceNavigation:
		return w.Navigation
	case SourceResume:
		return w.Resume
	default:
		return w.User
	}
}

// RefreshResult is the outcome of a refresh or a cached read.
type RefreshResult struct {
	Records   []PackageDTO     `json:"records"`
	Timeline  *models.Timeline `json:"timeline"`
	Overdue   []PackageDTO     `json:"overdue,omitempty"`
	Upcoming  []PackageDTO     `json:"upcoming,omitempty"`
	FromCache bool             `json:"from_cache"`
	Skipped   bool             `json:"skipped"`
}

// cachedHistory is the JSON shape stored in the cache.
type cachedHistory struct {
	Records  []PackageDTO     `json:"records"`
	Timeline *models.Timeline `json:"timeline"`
}

// RefreshService governs how often a user's package history is recomputed.
// It memoizes materialized lists behind a TTL cache, throttles repeated
// refreshes per (source, user), and guarantees at most one in-flight refresh
// per user; a concurrent second caller is turned away, not queued.
type RefreshService struct {
	packages *PackageService
	cache    cache.Store
	events   *Dispatcher
	clock    schedule.Clock
	log      *zap.Logger

	ttl            time.Duration
	windows        ThrottleWindows
	upcomingWindow time.Duration

	mu           sync.Mutex
	lastRefresh  map[string]time.Time
	inFlight     map[string]struct{}
	backgroundAt *time.Time
}

// RefreshOption customises a RefreshService.
type RefreshOption func(*RefreshService)

// WithRefreshClock overrides the time source used for TTL and throttle
// bookkeeping, primarily for tests.
func WithRefreshClock(clock schedule.Clock) RefreshOption {
	return func(s *RefreshService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithHistoryTTL adjusts how long materialized histories stay cached.
func WithHistoryTTL(ttl time.Duration) RefreshOption {
	return func(s *RefreshService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithThrottleWindows replaces the per-source throttle windows.
func WithThrottleWindows(w ThrottleWindows) RefreshOption {
	return func(s *RefreshService) {
		s.windows = w
	}
}

// WithUpcomingWindow adjusts how far ahead a pending package counts as upcoming.
func WithUpcomingWindow(d time.Duration) RefreshOption {
	return func(s *RefreshService) {
		if d > 0 {
			s.upcomingWindow = d
		}
	}
}

// NewRefreshService constructs a RefreshService.
func NewRefreshService(packages *PackageService, store cache.Store, events *Dispatcher, opts ...RefreshOption) (*RefreshService, error) {
	if packages == nil {
		return nil, errors.New("refresh service: package service is required")
	}
	if store == nil {
		return nil, errors.New("refresh service: cache store is required")
	}
	if events == nil {
		return nil, errors.New("refresh service: dispatcher is required")
	}

	s := &RefreshService{
		packages:       packages,
		cache:          store,
		events:         events,
		clock:          schedule.SystemClock{},
		log:            logger.WithModule("refresh"),
		ttl:            5 * time.Minute,
		windows:        DefaultThrottleWindows,
		upcomingWindow: 72 * time.Hour,
		lastRefresh:    make(map[string]time.Time),
		inFlight:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// History serves a user's package history cache-first: a valid cached list is
// returned as-is, otherwise a refresh is performed. This is the read path
// behind the public history operation.
func (s *RefreshService) History(ctx context.Context, userID string) (*RefreshResult, error) {
	ctx = ensureContext(ctx)
	if userID == "" {
		return nil, apperrors.NewBadRequest("user id is required")
	}

	if cached, ok := s.readCache(ctx, userID); ok {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return &RefreshResult{
			Records:   cached.Records,
			Timeline:  cached.Timeline,
			Overdue:   s.classifyOverdue(cached.Records),
			Upcoming:  s.classifyUpcoming(cached.Records, cached.Timeline),
			FromCache: true,
		}, nil
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()

	return s.Refresh(ctx, userID, false, SourceNavigation)
}

// Refresh recomputes and caches the user's package history. Unless forced,
// a refresh inside the source's throttle window is skipped and the cached
// payload returned instead. A concurrent refresh for the same user yields
// ErrRefreshInProgress; callers may fall back to the stale cache via History.
func (s *RefreshService) Refresh(ctx context.Context, userID string, force bool, source RefreshSource) (*RefreshResult, error) {
	ctx = ensureContext(ctx)
	if userID == "" {
		return nil, apperrors.NewBadRequest("user id is required")
	}
	switch source {
	case SourceNavigation, SourceUser, SourceResume:
	default:
		source = SourceUser
	}

	if !force && s.shouldSkip(source, userID) {
		if cached, ok := s.readCache(ctx, userID); ok {
			metrics.Refreshes.WithLabelValues(string(source), "throttled").Inc()
			return &RefreshResult{
				Records:   cached.Records,
				Timeline:  cached.Timeline,
				Overdue:   s.classifyOverdue(cached.Records),
				Upcoming:  s.classifyUpcoming(cached.Records, cached.Timeline),
				FromCache: true,
				Skipped:   true,
			}, nil
		}
		// Nothing cached to skip to; fall through and do the work.
	}

	if !s.acquire(userID) {
		metrics.Refreshes.WithLabelValues(string(source), "in_flight").Inc()
		return nil, apperrors.ErrRefreshInProgress
	}
	defer s.release(userID)

	history, err := s.packages.GetHistory(ctx, userID)
	if err != nil {
		metrics.Refreshes.WithLabelValues(string(source), "error").Inc()
		return nil, err
	}

	s.writeCache(ctx, userID, history)
	s.markRefreshed(source, userID)
	metrics.Refreshes.WithLabelValues(string(source), "completed").Inc()

	overdue := s.classifyOverdue(history.Records)
	upcoming := s.classifyUpcoming(history.Records, history.Timeline)

	s.events.Notify(Event{Type: EventUserPackageUpdated, UserID: userID, Payload: history.Records})
	if len(overdue) > 0 {
		s.events.Notify(Event{Type: EventPackagesOverdue, UserID: userID, Payload: overdue})
	}
	if len(upcoming) > 0 {
		s.events.Notify(Event{Type: EventPackagesUpcoming, UserID: userID, Payload: upcoming})
	}

	return &RefreshResult{
		Records:  history.Records,
		Timeline: history.Timeline,
		Overdue:  overdue,
		Upcoming: upcoming,
	}, nil
}

// EnterBackground records the instant the client app went to background.
func (s *RefreshService) EnterBackground() {
	now := s.clock.Now()

	s.mu.Lock()
	s.backgroundAt = &now
	s.mu.Unlock()
}

// ResumeForeground triggers a non-forced refresh when the app spent longer in
// the background than the resume window. Returns whether a refresh ran.
func (s *RefreshService) ResumeForeground(ctx context.Context, userID string) (*RefreshResult, bool, error) {
	s.mu.Lock()
	enteredAt := s.backgroundAt
	s.backgroundAt = nil
	s.mu.Unlock()

	if enteredAt == nil || s.clock.Now().Sub(*enteredAt) < s.windows.Resume {
		return nil, false, nil
	}

	result, err := s.Refresh(ctx, userID, false, SourceResume)
	if err != nil {
		return nil, false, err
	}
	return result, true, nil
}

// shouldSkip reports whether a successful refresh for (source, user) happened
// inside the source's window.
func (s *RefreshService) shouldSkip(source RefreshSource, userID string) bool {
	window := s.windows.windowFor(source)
	if window <= 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	last, ok := s.lastRefresh[throttleKey(source, userID)]
	return ok && s.clock.Now().Sub(last) < window
}

func (s *RefreshService) markRefreshed(source RefreshSource, userID string) {
	s.mu.Lock()
	s.lastRefresh[throttleKey(source, userID)] = s.clock.Now()
	s.mu.Unlock()
}

// acquire adds the user to the in-flight set; false means a refresh is
// already running for that key.
func (s *RefreshService) acquire(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.inFlight[userID]; busy {
		return false
	}
	s.inFlight[userID] = struct{}{}
	return true
}

func (s *RefreshService) release(userID string) {
	s.mu.Lock()
	delete(s.inFlight, userID)
	s.mu.Unlock()
}

func (s *RefreshService) readCache(ctx context.Context, userID string) (*cachedHistory, bool) {
	data, ok, err := s.cache.Get(ctx, historyCacheKey(userID))
	if err != nil {
		s.log.Warn("cache read failed", zap.String("user_id", userID), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var cached cachedHistory
	if err := json.Unmarshal(data, &cached); err != nil {
		s.log.Warn("dropping undecodable cache entry", zap.String("user_id", userID), zap.Error(err))
		_ = s.cache.Delete(ctx, historyCacheKey(userID))
		return nil, false
	}
	return &cached, true
}

func (s *RefreshService) writeCache(ctx context.Context, userID string, history *HistoryResult) {
	data, err := json.Marshal(cachedHistory{Records: history.Records, Timeline: history.Timeline})
	if err != nil {
		s.log.Warn("cache encode failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	if err := s.cache.Set(ctx, historyCacheKey(userID), data, s.ttl); err != nil {
		s.log.Warn("cache write failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// classifyOverdue picks the records whose resolved status lapsed.
func (s *RefreshService) classifyOverdue(records []PackageDTO) []PackageDTO {
	var overdue []PackageDTO
	for _, record := range records {
		if record.Status == models.PackageOverdue {
			overdue = append(overdue, record)
		}
	}
	return overdue
}

// classifyUpcoming picks pending records due inside the upcoming window,
// evaluated against the timeline's effective clock so simulated time behaves
// the same as wall time.
func (s *RefreshService) classifyUpcoming(records []PackageDTO, timeline *models.Timeline) []PackageDTO {
	clock := s.clock
	if timeline != nil && timeline.Mode == models.TimelineModeManual && timeline.SimulationDate != nil {
		clock = schedule.FixedClock{Instant: *timeline.SimulationDate}
	}

	var upcoming []PackageDTO
	for _, record := range records {
		if record.Status == models.PackagePending &&
			schedule.DueWithin(record.DeliveryDate, clock, s.upcomingWindow) {
			upcoming = append(upcoming, record)
		}
	}
	return upcoming
}

func throttleKey(source RefreshSource, userID string) string {
	return string(source) + ":" + userID
}
