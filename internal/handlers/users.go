package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/packcycle/packcycle/internal/services"
	"github.com/packcycle/packcycle/pkg/errors"
	"github.com/packcycle/packcycle/pkg/response"
)

// UserHandler exposes recipient management endpoints.
type UserHandler struct {
	users *services.UserService
}

// NewUserHandler constructs a user handler.
func NewUserHandler(users *services.UserService) (*UserHandler, error) {
	if users == nil {
		return nil, errors.ErrInternalServer.WithMessage("user handler requires the user service")
	}
	return &UserHandler{users: users}, nil
}

// Create registers a recipient.
func (h *UserHandler) Create(c *gin.Context) {
	var input services.UserInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, errors.NewBadRequest(err.Error()))
		return
	}

	user, err := h.users.Create(c.Request.Context(), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, user)
}

// List returns all recipients.
func (h *UserHandler) List(c *gin.Context) {
	users, err := h.users.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, users)
}

// Get returns one recipient.
func (h *UserHandler) Get(c *gin.Context) {
	user, err := h.users.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

type priorityRequest struct {
	Priority string `json:"priority" binding:"required"`
}

// SetPriority updates a recipient's delivery priority.
func (h *UserHandler) SetPriority(c *gin.Context) {
	var req priorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errors.NewBadRequest(err.Error()))
		return
	}

	user, err := h.users.SetPriority(c.Request.Context(), strings.TrimSpace(c.Param("id")), req.Priority)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

type activeRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// SetActive parks or reactivates a recipient.
func (h *UserHandler) SetActive(c *gin.Context) {
	var req activeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errors.NewBadRequest(err.Error()))
		return
	}

	user, err := h.users.SetActive(c.Request.Context(), strings.TrimSpace(c.Param("id")), *req.Active)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}
