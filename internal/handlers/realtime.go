package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/packcycle/packcycle/internal/auth"
	"github.com/packcycle/packcycle/internal/realtime"
	"github.com/packcycle/packcycle/pkg/errors"
	"github.com/packcycle/packcycle/pkg/response"
)

// RealtimeHandler upgrades HTTP connections into authenticated WebSocket
// streams carrying the caller's package events.
type RealtimeHandler struct {
	hub *realtime.Hub
	jwt *auth.JWTService
}

// NewRealtimeHandler constructs a realtime handler.
func NewRealtimeHandler(hub *realtime.Hub, jwt *auth.JWTService) *RealtimeHandler {
	return &RealtimeHandler{hub: hub, jwt: jwt}
}

// Stream validates the caller and hands the connection to the hub. Browsers
// cannot set headers on WebSocket dials, so the token is also accepted as a
// query parameter.
func (h *RealtimeHandler) Stream(c *gin.Context) {
	if h.jwt == nil || h.hub == nil {
		response.Error(c, errors.ErrNotFound)
		return
	}

	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		authz := c.GetHeader("Authorization")
		if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			token = strings.TrimSpace(authz[7:])
		}
	}
	if token == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	claims, err := h.jwt.ValidateAccessToken(token)
	if err != nil {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	userID := strings.TrimSpace(claims.UserID)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	h.hub.Serve(userID, c.Writer, c.Request)
}
