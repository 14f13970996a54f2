package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"

	"pedix/config"
	"pedix/internal/auth"
	"pedix/internal/domain"
)

const (
	ctxUserID = "user_id"
	ctxRole   = "role"
	ctxClaims = "claims"
)

// AuthRequired verifies the bearer token and stores the caller's party id and role.
func AuthRequired(cfg *config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.Header("WWW-Authenticate", `Bearer realm="pedix"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bearer token required"})
			return
		}
		claims, err := auth.ParseAccessToken(cfg, raw)
		if err != nil {
			c.Header("WWW-Authenticate", `Bearer realm="pedix", error="invalid_token"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxRole, claims.Role)
		c.Set(ctxClaims, claims)
		c.Next()
	}
}

// bearerToken accepts the scheme in any case, as RFC 6750 allows.
func bearerToken(header string) (string, bool) {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

// RequireRole admits callers holding one of the allowed roles. It must run after AuthRequired.
func RequireRole(allowed ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		r := GetRole(c)
		if r == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if !slices.Contains(allowed, r) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "role " + r + " may not call this endpoint"})
			return
		}
		c.Next()
	}
}

func AdminRequired() gin.HandlerFunc { return RequireRole(domain.RoleAdmin) }

func GetUserID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}

func GetRole(c *gin.Context) string {
	return c.GetString(ctxRole)
}

// GetClaims returns nil on routes without AuthRequired.
func GetClaims(c *gin.Context) *auth.Claims {
	v, ok := c.Get(ctxClaims)
	if !ok {
		return nil
	}
	claims, _ := v.(*auth.Claims)
	return claims
}
