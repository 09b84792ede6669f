package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/packcycle/packcycle/internal/middleware"
	"github.com/packcycle/packcycle/internal/services"
	"github.com/packcycle/packcycle/pkg/errors"
	"github.com/packcycle/packcycle/pkg/response"
)

// PackageHandler exposes the per-user package history, refresh and pickup
// endpoints.
type PackageHandler struct {
	timelines *services.TimelineService
	packages  *services.PackageService
	users     *services.UserService
	refresh   *services.RefreshService
}

// NewPackageHandler constructs a package handler.
func NewPackageHandler(
	timelines *services.TimelineService,
	packages *services.PackageService,
	users *services.UserService,
	refresh *services.RefreshService,
) (*PackageHandler, error) {
	if timelines == nil || packages == nil || users == nil || refresh == nil {
		return nil, errors.ErrInternalServer.WithMessage("package handler requires its services")
	}
	return &PackageHandler{
		timelines: timelines,
		packages:  packages,
		users:     users,
		refresh:   refresh,
	}, nil
}

// History returns the user's resolved package list with its summary. The list
// is served cache-first; delivery estimates reflect the user's priority.
func (h *PackageHandler) History(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("id"))

	result, err := h.refresh.History(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	records := result.Records
	if user, err := h.users.Get(c.Request.Context(), userID); err == nil {
		clock := h.timelines.ClockFor(result.Timeline)
		records = services.ApplyPriority(records, user.Priority, clock)
	}

	response.Success(c, http.StatusOK, gin.H{
		"records":    records,
		"summary":    services.Summarize(records),
		"timeline":   result.Timeline,
		"overdue":    result.Overdue,
		"upcoming":   result.Upcoming,
		"from_cache": result.FromCache,
	})
}

type refreshRequest struct {
	Force  bool   `json:"force"`
	Source string `json:"source"`
}

// Refresh triggers a history recomputation for the user. Throttled refreshes
// return the cached payload with skipped=true; a concurrent refresh yields 409.
func (h *PackageHandler) Refresh(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("id"))

	// The body is optional; an empty POST is a plain user-triggered refresh.
	var req refreshRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, errors.NewBadRequest(err.Error()))
			return
		}
	}

	result, err := h.refresh.Refresh(c.Request.Context(), userID, req.Force, services.RefreshSource(req.Source))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"records":    result.Records,
		"summary":    services.Summarize(result.Records),
		"timeline":   result.Timeline,
		"overdue":    result.Overdue,
		"upcoming":   result.Upcoming,
		"from_cache": result.FromCache,
		"skipped":    result.Skipped,
	})
}

type updatePackageRequest struct {
	services.UpdatePackageInput
	TimelineID string `json:"timeline_id,omitempty"`
}

// UpdateStatus patches one (period, user) slot, creating the backing record
// on first write. The timeline defaults to the active one.
func (h *PackageHandler) UpdateStatus(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("id"))
	periodKey := strings.TrimSpace(c.Param("period"))

	var req updatePackageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errors.NewBadRequest(err.Error()))
		return
	}

	timelineID := req.TimelineID
	if timelineID == "" {
		timeline, err := h.timelines.GetActiveTimeline(c.Request.Context())
		if err != nil {
			response.Error(c, err)
			return
		}
		timelineID = timeline.ID
	}

	if err := h.packages.UpsertStatus(c.Request.Context(), timelineID, periodKey, userID, req.UpdatePackageInput); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"updated": true})
}

type pickupRequest struct {
	TimelineID   string `json:"timeline_id,omitempty"`
	PeriodKey    string `json:"period_key" binding:"required"`
	UserID       string `json:"user_id,omitempty"`
	AccessMethod string `json:"access_method,omitempty"`
}

// Pickup confirms a package pickup. Recipients may only pick up their own
// packages; admins may act for anyone.
func (h *PackageHandler) Pickup(c *gin.Context) {
	var req pickupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errors.NewBadRequest(err.Error()))
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = c.GetString(middleware.CtxUserIDKey)
	}
	if userID != c.GetString(middleware.CtxUserIDKey) && !c.GetBool(middleware.CtxAdminKey) {
		response.Error(c, errors.ErrForbidden)
		return
	}

	timelineID := req.TimelineID
	if timelineID == "" {
		timeline, err := h.timelines.GetActiveTimeline(c.Request.Context())
		if err != nil {
			response.Error(c, err)
			return
		}
		timelineID = timeline.ID
	}

	confirmation, err := h.packages.Pickup(c.Request.Context(), timelineID, req.PeriodKey, userID, req.AccessMethod)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, confirmation)
}

// PickupQR renders a PNG QR code encoding the pickup payload for a period, so
// lockers can scan it instead of typing a code.
func (h *PackageHandler) PickupQR(c *gin.Context) {
	periodKey := strings.TrimSpace(c.Query("period_key"))
	if periodKey == "" {
		response.Error(c, errors.NewBadRequest("period_key is required"))
		return
	}

	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		userID = c.GetString(middleware.CtxUserIDKey)
	}
	if userID != c.GetString(middleware.CtxUserIDKey) && !c.GetBool(middleware.CtxAdminKey) {
		response.Error(c, errors.ErrForbidden)
		return
	}

	timeline, err := h.timelines.GetActiveTimeline(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	payload, err := json.Marshal(gin.H{
		"timeline_id":   timeline.ID,
		"period_key":    periodKey,
		"user_id":       userID,
		"access_method": "qr_code",
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	png, err := qrcode.Encode(string(payload), qrcode.Medium, 256)
	if err != nil {
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

// Background records that the client app left the foreground.
func (h *PackageHandler) Background(c *gin.Context) {
	h.refresh.EnterBackground()
	response.Success(c, http.StatusOK, gin.H{"acknowledged": true})
}

// Resume reports the app returning to the foreground; a refresh runs when the
// background stay exceeded the resume window.
func (h *PackageHandler) Resume(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("id"))

	result, triggered, err := h.refresh.ResumeForeground(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	payload := gin.H{"refreshed": triggered}
	if result != nil {
		payload["records"] = result.Records
		payload["summary"] = services.Summarize(result.Records)
	}
	response.Success(c, http.StatusOK, payload)
}
