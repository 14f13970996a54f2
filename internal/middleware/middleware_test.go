package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pedix/config"
	"pedix/internal/auth"
	"pedix/internal/domain"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var jwtCfg = &config.JWTConfig{AccessSecret: "test", AccessExpiry: time.Hour}

func bearer(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := auth.GenerateAccessToken(jwtCfg, userID, role)
	require.NoError(t, err)
	return "Bearer " + tok
}

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers = append(handlers, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": GetUserID(c), "role": GetRole(c)})
	})
	r.GET("/x", handlers...)
	return r
}

func do(r http.Handler, authz string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthRequired(t *testing.T) {
	r := newEngine(AuthRequired(jwtCfg))

	assert.Equal(t, http.StatusUnauthorized, do(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "Token abc").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "Bearer nope").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "Bearer ").Code)

	w := do(r, "Bearer nope")
	assert.Contains(t, w.Header().Get("WWW-Authenticate"), "invalid_token")

	w = do(r, "bearer "+bearer(t, "cust-2", domain.RoleCustomer)[len("Bearer "):])
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, bearer(t, "cust-1", domain.RoleCustomer))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":"cust-1","role":"CUSTOMER"}`, w.Body.String())
}

func TestAdminRequired(t *testing.T) {
	r := newEngine(AuthRequired(jwtCfg), AdminRequired())
	assert.Equal(t, http.StatusForbidden, do(r, bearer(t, "cust-1", domain.RoleCustomer)).Code)
	assert.Equal(t, http.StatusOK, do(r, bearer(t, "ops", domain.RoleAdmin)).Code)
}

func TestGetClaims(t *testing.T) {
	r := gin.New()
	r.GET("/open", func(c *gin.Context) {
		assert.Nil(t, GetClaims(c))
		c.Status(http.StatusNoContent)
	})
	r.GET("/x", AuthRequired(jwtCfg), func(c *gin.Context) {
		claims := GetClaims(c)
		require.NotNil(t, claims)
		assert.True(t, claims.IsAdmin())
		c.Status(http.StatusNoContent)
	})

	assert.Equal(t, http.StatusNoContent, do(r, bearer(t, "ops", domain.RoleAdmin)).Code)
	req := httptest.NewRequest(http.MethodGet, "/open", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRequireRole(t *testing.T) {
	r := newEngine(AuthRequired(jwtCfg), RequireRole(domain.RoleCourier, domain.RoleMerchant))
	assert.Equal(t, http.StatusForbidden, do(r, bearer(t, "c", domain.RoleCustomer)).Code)
	assert.Equal(t, http.StatusOK, do(r, bearer(t, "m", domain.RoleMerchant)).Code)
}

func TestRateLimit(t *testing.T) {
	limiter := NewKeyedLimiter(2, time.Minute)
	defer limiter.Close()
	r := newEngine(RateLimit(limiter))

	assert.Equal(t, http.StatusOK, do(r, "").Code)
	assert.Equal(t, http.StatusOK, do(r, "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(r, "").Code)
}

func TestKeyedLimiterRefill(t *testing.T) {
	limiter := NewKeyedLimiter(1, 20*time.Millisecond)
	defer limiter.Close()
	assert.True(t, limiter.Allow("k"))
	assert.False(t, limiter.Allow("k"))
	assert.True(t, limiter.Allow("other"))
	time.Sleep(30 * time.Millisecond)
	assert.True(t, limiter.Allow("k"))
}
