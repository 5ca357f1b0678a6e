// internal/middleware/helpers.go
package middleware

import (
	"upgrade-service/internal/pkg/jwt"

	"github.com/gin-gonic/gin"
)

const claimsKey = "claims"

// GetClaims returns the verified token claims, if any.
func GetClaims(c *gin.Context) (*jwt.Claims, bool) {
	v, exists := c.Get(claimsKey)
	if !exists {
		return nil, false
	}
	claims, ok := v.(*jwt.Claims)
	return claims, ok && claims != nil
}

// GetIdentityID returns the authenticated user id, if any.
func GetIdentityID(c *gin.Context) (int64, bool) {
	claims, ok := GetClaims(c)
	if !ok {
		return 0, false
	}
	return claims.IdentityID, true
}
