// internal/middleware/auth_middleware.go
package middleware

import (
	"net/http"
	"strings"

	"upgrade-service/internal/pkg/jwt"
	"upgrade-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

// TokenVerifier validates access tokens.
type TokenVerifier interface {
	VerifyAccessToken(token string) (*jwt.Claims, error)
}

type AuthMiddleware struct {
	verifier TokenVerifier
}

func NewAuthMiddleware(verifier TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

// Auth rejects requests without a valid bearer token.
func (m *AuthMiddleware) Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			response.Error(c, http.StatusUnauthorized, "missing authorization token", nil)
			return
		}

		claims, err := m.verifier.VerifyAccessToken(token)
		if err != nil {
			response.Error(c, http.StatusUnauthorized, "invalid or expired token", err)
			return
		}

		setClaims(c, claims)
		c.Next()
	}
}

// OptionalAuth sets the identity when a valid token is present and never aborts.
func (m *AuthMiddleware) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := extractToken(c); token != "" {
			if claims, err := m.verifier.VerifyAccessToken(token); err == nil {
				setClaims(c, claims)
			}
		}
		c.Next()
	}
}

// RequireRole must run after Auth.
func (m *AuthMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims, ok := GetClaims(c); ok && claims.HasAnyRole(roles...) {
			c.Next()
			return
		}
		response.Error(c, http.StatusForbidden, "insufficient permissions", nil, map[string]any{
			"required_roles": roles,
		})
	}
}

// SystemOnly guards the internal hook routes.
func (m *AuthMiddleware) SystemOnly() []gin.HandlerFunc {
	return []gin.HandlerFunc{
		m.Auth(),
		m.RequireRole(jwt.RoleSystem),
	}
}

func setClaims(c *gin.Context, claims *jwt.Claims) {
	c.Set(claimsKey, claims)
}

// extractToken extracts Bearer token from Authorization header
func extractToken(c *gin.Context) string {
	parts := strings.Split(c.GetHeader("Authorization"), " ")
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	return ""
}
