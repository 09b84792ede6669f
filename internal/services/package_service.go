package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/packcycle/packcycle/internal/cache"
	"github.com/packcycle/packcycle/internal/models"
	"github.com/packcycle/packcycle/internal/schedule"
	apperrors "github.com/packcycle/packcycle/pkg/errors"
	"github.com/packcycle/packcycle/pkg/logger"
	"github.com/packcycle/packcycle/pkg/metrics"
)

// PackageDTO is the display-ready view of one (timeline, period, user) slot.
// Virtual entries exist only in memory; they have no ID until first written.
type PackageDTO struct {
	ID                string               `json:"id,omitempty"`
	TimelineID        string               `json:"timeline_id"`
	PeriodKey         string               `json:"period_key"`
	PeriodNumber      int                  `json:"period_number"`
	PeriodLabel       string               `json:"period_label"`
	UserID            string               `json:"user_id"`
	Status            models.PackageStatus `json:"status"`
	StoredStatus      models.PackageStatus `json:"stored_status"`
	DeliveryDate      time.Time            `json:"delivery_date"`
	PickupDate        *time.Time           `json:"pickup_date,omitempty"`
	AccessMethod      string               `json:"access_method,omitempty"`
	Notes             string               `json:"notes,omitempty"`
	Weight            float64              `json:"weight"`
	Dimensions        json.RawMessage      `json:"dimensions,omitempty"`
	Priority          string               `json:"priority,omitempty"`
	EstimatedDelivery *time.Time           `json:"estimated_delivery,omitempty"`
	Amount            int                  `json:"amount"`
	Virtual           bool                 `json:"virtual"`
}

// HistoryResult bundles a user's resolved package list with the timeline it
// was materialized against.
type HistoryResult struct {
	Records  []PackageDTO     `json:"records"`
	Timeline *models.Timeline `json:"timeline"`
}

// UpdatePackageInput is the patch applied by an upsert. Zero-valued fields
// are left untouched on update and defaulted on create.
type UpdatePackageInput struct {
	Status       models.PackageStatus `json:"status,omitempty"`
	PickupDate   *time.Time           `json:"pickup_date,omitempty"`
	AccessMethod string               `json:"access_method,omitempty"`
	Notes        string               `json:"notes,omitempty"`
	Weight       *float64             `json:"weight,omitempty"`
	Dimensions   map[string]any       `json:"dimensions,omitempty"`
	Priority     string               `json:"priority,omitempty"`
}

// PickupConfirmation is returned to the caller after a processed pickup.
type PickupConfirmation struct {
	Status       models.PackageStatus `json:"status"`
	PickupDate   time.Time            `json:"pickup_date"`
	AccessMethod string               `json:"access_method"`
}

// PackageService is the read-through/write-through materialization layer for
// package records. Reads synthesize missing records from the timeline's
// periods; writes auto-create missing rows, so a record's first persisted
// state can come from any status update.
type PackageService struct {
	db        *gorm.DB
	timelines *TimelineService
	cache     cache.Store
	events    *Dispatcher
	log       *zap.Logger
}

// NewPackageService constructs a PackageService.
func NewPackageService(db *gorm.DB, timelines *TimelineService, store cache.Store, events *Dispatcher) (*PackageService, error) {
	if db == nil {
		return nil, errors.New("package service: db is required")
	}
	if timelines == nil {
		return nil, errors.New("package service: timeline service is required")
	}
	if store == nil {
		return nil, errors.New("package service: cache store is required")
	}
	if events == nil {
		return nil, errors.New("package service: dispatcher is required")
	}
	return &PackageService{
		db:        db,
		timelines: timelines,
		cache:     store,
		events:    events,
		log:       logger.WithModule("packages"),
	}, nil
}

// GetHistory materializes the user's package list across every active period
// of the current timeline. A failed per-period fetch is logged and replaced
// with a synthesized pending record; it never fails the whole batch. The
// result is ordered by ascending period number.
func (s *PackageService) GetHistory(ctx context.Context, userID string) (*HistoryResult, error) {
	ctx = ensureContext(ctx)
	if userID == "" {
		return nil, apperrors.NewBadRequest("user id is required")
	}

	timeline, err := s.timelines.GetActiveTimeline(ctx)
	if err != nil {
		return nil, err
	}

	periods, err := timeline.PeriodMap()
	if err != nil {
		return nil, fmt.Errorf("package service: %w", err)
	}

	clock := s.timelines.ClockFor(timeline)
	records := make([]PackageDTO, 0, len(periods))

	for _, period := range schedule.SortedPeriods(periods) {
		if !period.Active {
			continue
		}

		key := models.PeriodKey(period.Number)
		record, virtual, err := s.fetchOrSynthesize(ctx, timeline.ID, key, userID, period)
		if err != nil {
			// Partial failure: substitute the synthesized fallback and move on.
			s.log.Warn("period fetch failed, using synthesized record",
				zap.String("timeline_id", timeline.ID),
				zap.String("period_key", key),
				zap.String("user_id", userID),
				zap.Error(err),
			)
			record = synthesizeRecord(timeline.ID, key, userID, period)
			virtual = true
		}

		records = append(records, buildPackageDTO(record, period, virtual, clock))
	}

	return &HistoryResult{Records: records, Timeline: timeline}, nil
}

// UpsertStatus applies the patch to the (timeline, period, user) tuple,
// creating the record from the period's metadata when it does not exist yet.
// The user's cached history is invalidated on either path.
func (s *PackageService) UpsertStatus(ctx context.Context, timelineID, periodKey, userID string, patch UpdatePackageInput) error {
	ctx = ensureContext(ctx)
	if timelineID == "" || periodKey == "" || userID == "" {
		return apperrors.NewBadRequest("timeline id, period key and user id are required")
	}
	if patch.Status != "" && !patch.Status.Valid() {
		return apperrors.NewBadRequest(fmt.Sprintf("invalid package status %q", patch.Status))
	}

	updates, err := patch.changes()
	if err != nil {
		return err
	}

	updated := false
	if len(updates) > 0 {
		result := s.db.WithContext(ctx).Model(&models.PackageRecord{}).
			Where("timeline_id = ? AND period_key = ? AND user_id = ?", timelineID, periodKey, userID).
			Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("package service: update record: %w", result.Error)
		}
		updated = result.RowsAffected > 0
	}

	if !updated {
		if err := s.createFromPeriod(ctx, timelineID, periodKey, userID, patch, updates); err != nil {
			return err
		}
	}

	s.invalidateHistory(ctx, userID)
	s.events.Notify(Event{
		Type:   EventUserPackageUpdated,
		UserID: userID,
		Payload: map[string]string{
			"timeline_id": timelineID,
			"period_key":  periodKey,
		},
	})
	return nil
}

// Pickup processes a package pickup: it records the user's current priority
// for the audit note, verifies the period is part of the active timeline and
// writes the picked_up state through the upsert path.
func (s *PackageService) Pickup(ctx context.Context, timelineID, periodKey, userID, accessMethod string) (*PickupConfirmation, error) {
	ctx = ensureContext(ctx)
	if timelineID == "" || periodKey == "" || userID == "" {
		return nil, apperrors.NewBadRequest("timeline id, period key and user id are required")
	}
	accessMethod = defaultIfEmpty(accessMethod, "locker_code")

	var user models.User
	err := s.db.WithContext(ctx).Take(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound.WithMessage("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("package service: load user: %w", err)
	}

	history, err := s.GetHistory(ctx, userID)
	if err != nil {
		return nil, err
	}
	if history.Timeline.ID != timelineID {
		return nil, apperrors.ErrNotFound.WithMessage("timeline is not the active timeline")
	}

	found := false
	for _, record := range history.Records {
		if record.PeriodKey == periodKey {
			found = true
			break
		}
	}
	if !found {
		return nil, apperrors.ErrNotFound.WithMessage(
			fmt.Sprintf("period %s not found in the active timeline", periodKey))
	}

	now := s.timelines.ClockFor(history.Timeline).Now()
	priority := defaultIfEmpty(user.Priority, models.PriorityNormal)
	patch := UpdatePackageInput{
		Status:       models.PackagePickedUp,
		PickupDate:   &now,
		AccessMethod: accessMethod,
		Notes:        fmt.Sprintf("Picked up via %s (priority %s)", accessMethod, priority),
	}
	if err := s.UpsertStatus(ctx, timelineID, periodKey, userID, patch); err != nil {
		return nil, err
	}

	metrics.Pickups.WithLabelValues(accessMethod).Inc()
	return &PickupConfirmation{
		Status:       models.PackagePickedUp,
		PickupDate:   now,
		AccessMethod: accessMethod,
	}, nil
}

// GenerateForTimeline bulk pre-materializes a pending record for every
// (active user, active period) pair of the timeline. Existing tuples are left
// untouched. Returns the number of records created.
func (s *PackageService) GenerateForTimeline(ctx context.Context, timelineID string) (int, error) {
	ctx = ensureContext(ctx)
	if timelineID == "" {
		return 0, apperrors.NewBadRequest("timeline id is required")
	}

	timeline, err := s.loadTimeline(ctx, timelineID)
	if err != nil {
		return 0, err
	}
	periods, err := timeline.PeriodMap()
	if err != nil {
		return 0, fmt.Errorf("package service: %w", err)
	}

	var users []models.User
	if err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Find(&users).Error; err != nil {
		return 0, fmt.Errorf("package service: load users: %w", err)
	}

	var batch []models.PackageRecord
	for _, user := range users {
		for _, period := range schedule.SortedPeriods(periods) {
			if !period.Active {
				continue
			}
			batch = append(batch, synthesizeRecord(timeline.ID, models.PeriodKey(period.Number), user.ID, period))
		}
	}
	if len(batch) == 0 {
		return 0, nil
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "timeline_id"}, {Name: "period_key"}, {Name: "user_id"},
			},
			DoNothing: true,
		}).
		CreateInBatches(&batch, 200)
	if result.Error != nil {
		return 0, fmt.Errorf("package service: generate records: %w", result.Error)
	}

	created := int(result.RowsAffected)
	metrics.PackagesGenerated.Add(float64(created))
	s.log.Info("bulk generated package records",
		zap.String("timeline_id", timeline.ID),
		zap.Int("users", len(users)),
		zap.Int("created", created),
	)
	return created, nil
}

// Summarize reduces a resolved record list to aggregate statistics.
func Summarize(records []PackageDTO) PackageSummary {
	summary := PackageSummary{Total: len(records)}

	for _, record := range records {
		summary.TotalWeight += record.Weight
		switch record.Status {
		case models.PackageDelivered:
			summary.Delivered++
			summary.DeliveredWeight += record.Weight
		case models.PackagePending:
			summary.Pending++
		case models.PackagePickedUp:
			summary.PickedUp++
		case models.PackageReturned:
			summary.Returned++
		case models.PackageOverdue:
			summary.Overdue++
		}
	}

	summary.PendingWeight = summary.TotalWeight - summary.DeliveredWeight
	if summary.Total > 0 {
		summary.ProgressPercentage = int(math.Round(float64(summary.Delivered) / float64(summary.Total) * 100))
	}
	return summary
}

// PackageSummary aggregates a package list for display.
type PackageSummary struct {
	Total              int     `json:"total"`
	Delivered          int     `json:"delivered"`
	Pending            int     `json:"pending"`
	PickedUp           int     `json:"picked_up"`
	Returned           int     `json:"returned"`
	Overdue            int     `json:"overdue"`
	TotalWeight        float64 `json:"total_weight"`
	DeliveredWeight    float64 `json:"delivered_weight"`
	PendingWeight      float64 `json:"pending_weight"`
	ProgressPercentage int     `json:"progress_percentage"`
}

// ApplyPriority stamps the delivery priority and an estimated delivery onto
// every pending record: one day out for high priority, three days otherwise.
// Non-pending records pass through untouched.
func ApplyPriority(records []PackageDTO, priority string, clock schedule.Clock) []PackageDTO {
	offset := 3 * 24 * time.Hour
	if priority == models.PriorityHigh {
		offset = 24 * time.Hour
	}

	out := make([]PackageDTO, len(records))
	for i, record := range records {
		if record.Status == models.PackagePending {
			estimated := clock.Now().Add(offset)
			record.Priority = priority
			record.EstimatedDelivery = &estimated
		}
		out[i] = record
	}
	return out
}

func (s *PackageService) fetchOrSynthesize(ctx context.Context, timelineID, periodKey, userID string, period models.Period) (models.PackageRecord, bool, error) {
	var record models.PackageRecord
	err := s.db.WithContext(ctx).
		Take(&record, "timeline_id = ? AND period_key = ? AND user_id = ?", timelineID, periodKey, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return synthesizeRecord(timelineID, periodKey, userID, period), true, nil
	}
	if err != nil {
		return models.PackageRecord{}, false, err
	}
	return record, false, nil
}

// createFromPeriod builds a full record from the period's metadata merged
// with the patch and inserts it. Losing the create race to a concurrent
// first-write downgrades to a plain update (last write wins).
func (s *PackageService) createFromPeriod(ctx context.Context, timelineID, periodKey, userID string, patch UpdatePackageInput, updates map[string]any) error {
	timeline, err := s.loadTimeline(ctx, timelineID)
	if err != nil {
		return err
	}
	periods, err := timeline.PeriodMap()
	if err != nil {
		return fmt.Errorf("package service: %w", err)
	}
	period, ok := periods[periodKey]
	if !ok {
		return apperrors.ErrNotFound.WithMessage(
			fmt.Sprintf("period %s not found in timeline %s", periodKey, timelineID))
	}

	record := synthesizeRecord(timelineID, periodKey, userID, period)
	if patch.Status != "" {
		record.Status = patch.Status
	}
	record.PickupDate = patch.PickupDate
	record.AccessMethod = patch.AccessMethod
	record.Notes = patch.Notes
	if patch.Weight != nil {
		record.Weight = *patch.Weight
	}
	record.Priority = patch.Priority
	if patch.Dimensions != nil {
		data, err := json.Marshal(patch.Dimensions)
		if err != nil {
			return fmt.Errorf("package service: marshal dimensions: %w", err)
		}
		record.Dimensions = data
	}

	err = s.db.WithContext(ctx).Create(&record).Error
	if err == nil {
		return nil
	}
	if !isUniqueConstraintError(err) {
		return fmt.Errorf("package service: create record: %w", err)
	}

	if len(updates) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Model(&models.PackageRecord{}).
		Where("timeline_id = ? AND period_key = ? AND user_id = ?", timelineID, periodKey, userID).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("package service: update after create race: %w", err)
	}
	return nil
}

func (s *PackageService) loadTimeline(ctx context.Context, timelineID string) (*models.Timeline, error) {
	var timeline models.Timeline
	err := s.db.WithContext(ctx).Take(&timeline, "id = ?", timelineID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound.WithMessage(
			fmt.Sprintf("timeline %s not found", timelineID))
	}
	if err != nil {
		return nil, fmt.Errorf("package service: load timeline: %w", err)
	}
	return &timeline, nil
}

func (s *PackageService) invalidateHistory(ctx context.Context, userID string) {
	if err := s.cache.Delete(ctx, historyCacheKey(userID)); err != nil {
		s.log.Warn("failed to invalidate history cache",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}

// changes builds the column map applied on the update path.
func (p UpdatePackageInput) changes() (map[string]any, error) {
	updates := map[string]any{}
	if p.Status != "" {
		updates["status"] = p.Status
	}
	if p.PickupDate != nil {
		updates["pickup_date"] = *p.PickupDate
	}
	if p.AccessMethod != "" {
		updates["access_method"] = p.AccessMethod
	}
	if p.Notes != "" {
		updates["notes"] = p.Notes
	}
	if p.Weight != nil {
		updates["weight"] = *p.Weight
	}
	if p.Priority != "" {
		updates["priority"] = p.Priority
	}
	if p.Dimensions != nil {
		data, err := json.Marshal(p.Dimensions)
		if err != nil {
			return nil, fmt.Errorf("package service: marshal dimensions: %w", err)
		}
		updates["dimensions"] = data
	}
	return updates, nil
}

func synthesizeRecord(timelineID, periodKey, userID string, period models.Period) models.PackageRecord {
	return models.PackageRecord{
		TimelineID:   timelineID,
		PeriodKey:    periodKey,
		UserID:       userID,
		Status:       models.PackagePending,
		DeliveryDate: period.DueDate,
	}
}

func buildPackageDTO(record models.PackageRecord, period models.Period, virtual bool, clock schedule.Clock) PackageDTO {
	return PackageDTO{
		ID:           record.ID,
		TimelineID:   record.TimelineID,
		PeriodKey:    record.PeriodKey,
		PeriodNumber: period.Number,
		PeriodLabel:  period.Label,
		UserID:       record.UserID,
		Status:       schedule.ResolveStatus(record.Status, record.DeliveryDate, clock),
		StoredStatus: record.Status,
		DeliveryDate: record.DeliveryDate,
		PickupDate:   record.PickupDate,
		AccessMethod: record.AccessMethod,
		Notes:        record.Notes,
		Weight:       record.Weight,
		Dimensions:   json.RawMessage(record.Dimensions),
		Priority:     record.Priority,
		Amount:       period.Amount,
		Virtual:      virtual,
	}
}
