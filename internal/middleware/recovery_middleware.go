// internal/middleware/recovery_middleware.go
package middleware

import (
	"net/http"

	"upgrade-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func RecoveryMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				fields := []zap.Field{
					zap.Any("error", err),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.Stack("stack"),
				}
				if id, ok := GetIdentityID(c); ok {
					fields = append(fields, zap.Int64("user_id", id))
				}
				logger.Error("panic recovered", fields...)
				response.Error(c, http.StatusInternalServerError, "internal server error", nil)
			}
		}()
		c.Next()
	}
}
