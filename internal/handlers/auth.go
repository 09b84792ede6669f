package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/packcycle/packcycle/internal/auth"
	"github.com/packcycle/packcycle/internal/services"
	"github.com/packcycle/packcycle/pkg/errors"
	"github.com/packcycle/packcycle/pkg/response"
)

// AuthHandler issues access tokens for known recipients. There is no password
// flow here; identity is asserted upstream (kiosk, SSO proxy) and this service
// only mints its own API tokens.
type AuthHandler struct {
	jwt    *auth.JWTService
	users  *services.UserService
	admins map[string]struct{}
}

// NewAuthHandler constructs an auth handler. adminUsernames lists the users
// whose tokens carry the admin claim.
func NewAuthHandler(jwt *auth.JWTService, users *services.UserService, adminUsernames []string) (*AuthHandler, error) {
	if jwt == nil || users == nil {
		return nil, errors.ErrInternalServer.WithMessage("auth handler requires jwt and user services")
	}

	admins := make(map[string]struct{}, len(adminUsernames))
	for _, name := range adminUsernames {
		name = strings.TrimSpace(name)
		if name != "" {
			admins[name] = struct{}{}
		}
	}
	return &AuthHandler{jwt: jwt, users: users, admins: admins}, nil
}

type tokenRequest struct {
	Username string `json:"username" binding:"required"`
}

// Token mints an access token for the named recipient.
func (h *AuthHandler) Token(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errors.NewBadRequest(err.Error()))
		return
	}

	user, err := h.users.GetByUsername(c.Request.Context(), strings.TrimSpace(req.Username))
	if err != nil {
		response.Error(c, err)
		return
	}
	if !user.IsActive {
		response.Error(c, errors.ErrForbidden.WithMessage("user is inactive"))
		return
	}

	_, admin := h.admins[user.Username]
	token, err := h.jwt.GenerateAccessToken(user.ID, admin)
	if err != nil {
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"token":   token,
		"user_id": user.ID,
		"admin":   admin,
	})
}
