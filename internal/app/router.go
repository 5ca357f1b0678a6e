// internal/app/router.go
package app

import (
	"net/http"

	upgradeHandler "upgrade-service/internal/handlers/upgrade"
	"upgrade-service/internal/middleware"

	"github.com/gin-gonic/gin"
)

type Handlers struct {
	UpgradeHandler *upgradeHandler.UpgradeHandler
	AuthMiddleware *middleware.AuthMiddleware
	Metrics        http.Handler
}

func SetupRouter(r *gin.Engine, h *Handlers) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if h.Metrics != nil {
		r.GET("/metrics", gin.WrapH(h.Metrics))
	}

	api := r.Group("/api/v1")

	// ==================== Customer Routes ====================
	// Anonymous callers reach the service and get not_logged_in back.
	upgrades := api.Group("/upgrades")
	upgrades.Use(h.AuthMiddleware.OptionalAuth())
	{
		upgrades.GET("", h.UpgradeHandler.ListCandidates)
		upgrades.POST("/:index/execute", h.UpgradeHandler.Execute)
	}

	// ==================== Internal Hooks ====================
	internal := api.Group("/internal")
	internal.Use(h.AuthMiddleware.SystemOnly()...)
	{
		internal.POST("/payments/:id/status", h.UpgradeHandler.PaymentStatusChanged)
		internal.POST("/subscriptions/:id/renewed", h.UpgradeHandler.SubscriptionRenewed)
		internal.POST("/trials/:subscription_id/finalize", h.UpgradeHandler.FinalizeTrial)
	}
}
