package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/packcycle/packcycle/internal/auth"
)

func newAuthRouter(t *testing.T) (*gin.Engine, *auth.JWTService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	jwt, err := auth.NewJWTService(auth.JWTConfig{Secret: "test-secret", Issuer: "packcycle-test"})
	require.NoError(t, err)

	r := gin.New()
	r.GET("/me", Auth(jwt), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(CtxUserIDKey))
	})
	r.GET("/admin", Auth(jwt), RequireAdmin(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/users/:id", Auth(jwt), RequireSelfOrAdmin("id"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r, jwt
}

func doRequest(r *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthRejectsMissingHeader(t *testing.T) {
	r, _ := newAuthRouter(t)
	w := doRequest(r, http.MethodGet, "/me", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthRejectsGarbageToken(t *testing.T) {
	r, _ := newAuthRouter(t)
	w := doRequest(r, http.MethodGet, "/me", "not-a-jwt")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
}

func TestAuthPropagatesIdentity(t *testing.T) {
	r, jwt := newAuthRouter(t)
	token, err := jwt.GenerateAccessToken("user-1", false)
	require.NoError(t, err)

	w := doRequest(r, http.MethodGet, "/me", token)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "user-1", w.Body.String())
}

func TestRequireAdmin(t *testing.T) {
	r, jwt := newAuthRouter(t)

	recipient, err := jwt.GenerateAccessToken("user-1", false)
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, doRequest(r, http.MethodGet, "/admin", recipient).Code)

	admin, err := jwt.GenerateAccessToken("admin-1", true)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, doRequest(r, http.MethodGet, "/admin", admin).Code)
}

func TestRequireSelfOrAdmin(t *testing.T) {
	r, jwt := newAuthRouter(t)

	recipient, err := jwt.GenerateAccessToken("user-1", false)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, doRequest(r, http.MethodGet, "/users/user-1", recipient).Code)
	require.Equal(t, http.StatusForbidden, doRequest(r, http.MethodGet, "/users/user-2", recipient).Code)

	admin, err := jwt.GenerateAccessToken("admin-1", true)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, doRequest(r, http.MethodGet, "/users/user-2", admin).Code)
}
