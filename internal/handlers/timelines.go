package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/packcycle/packcycle/internal/services"
	"github.com/packcycle/packcycle/pkg/errors"
	"github.com/packcycle/packcycle/pkg/response"
)

// TimelineHandler exposes the timeline lifecycle endpoints.
type TimelineHandler struct {
	timelines *services.TimelineService
	packages  *services.PackageService
}

// NewTimelineHandler constructs a timeline handler.
func NewTimelineHandler(timelines *services.TimelineService, packages *services.PackageService) (*TimelineHandler, error) {
	if timelines == nil || packages == nil {
		return nil, errors.ErrInternalServer.WithMessage("timeline handler requires its services")
	}
	return &TimelineHandler{timelines: timelines, packages: packages}, nil
}

type createTimelineRequest struct {
	services.TimelineInput
	// Generate pre-materializes a record for every active user.
	Generate bool `json:"generate,omitempty"`
}

// CreateTemplate stores a reusable timeline configuration.
func (h *TimelineHandler) CreateTemplate(c *gin.Context) {
	var input services.TimelineInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, errors.NewBadRequest(err.Error()))
		return
	}

	timeline, err := h.timelines.CreateTemplate(c.Request.Context(), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, timeline)
}

// ListTemplates returns stored timeline templates.
func (h *TimelineHandler) ListTemplates(c *gin.Context) {
	templates, err := h.timelines.ListTemplates(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, templates)
}

// CreateActive replaces the active timeline, optionally bulk-generating
// package records for it.
func (h *TimelineHandler) CreateActive(c *gin.Context) {
	var req createTimelineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errors.NewBadRequest(err.Error()))
		return
	}

	timeline, err := h.timelines.CreateActiveTimeline(c.Request.Context(), req.TimelineInput)
	if err != nil {
		response.Error(c, err)
		return
	}

	generated := 0
	if req.Generate {
		generated, err = h.packages.GenerateForTimeline(c.Request.Context(), timeline.ID)
		if err != nil {
			response.Error(c, err)
			return
		}
	}

	response.Success(c, http.StatusCreated, gin.H{
		"timeline":  timeline,
		"generated": generated,
	})
}

// GetActive returns the current active timeline.
func (h *TimelineHandler) GetActive(c *gin.Context) {
	timeline, err := h.timelines.GetActiveTimeline(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, timeline)
}

type simulationDateRequest struct {
	SimulationDate time.Time `json:"simulation_date" binding:"required"`
}

// SetSimulationDate pins the simulated instant of a manual-mode timeline.
func (h *TimelineHandler) SetSimulationDate(c *gin.Context) {
	var req simulationDateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errors.NewBadRequest(err.Error()))
		return
	}

	timeline, err := h.timelines.SetSimulationDate(c.Request.Context(), req.SimulationDate)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, timeline)
}

// DeleteActive removes the active timeline. With ?purge_packages=true its
// package records are deleted as well.
func (h *TimelineHandler) DeleteActive(c *gin.Context) {
	purge := c.Query("purge_packages") == "true"
	if err := h.timelines.DeleteActiveTimeline(c.Request.Context(), purge); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true, "purged_packages": purge})
}

// Generate bulk pre-materializes package records for the active timeline.
func (h *TimelineHandler) Generate(c *gin.Context) {
	timeline, err := h.timelines.GetActiveTimeline(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	created, err := h.packages.GenerateForTimeline(c.Request.Context(), timeline.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"generated": created})
}
