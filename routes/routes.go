package routes

import (
	"time"

	"quote_alert_backend/config"
	"quote_alert_backend/controllers"
	"quote_alert_backend/middleware"
	"quote_alert_backend/services/alerts"
	"quote_alert_backend/services/archive"
	"quote_alert_backend/services/entitlement"
	"quote_alert_backend/services/realtime"

	"github.com/gin-gonic/gin"
)

// Dependencies are the services the HTTP surface needs
type Dependencies struct {
	Config    *config.Config
	Verifier  *middleware.TokenVerifier
	Resolver  entitlement.PlanResolver
	Store     *alerts.Store
	Realtime  *realtime.Service
	Archive   *archive.TriggerArchive
	WSLimiter *middleware.RateLimiter
}

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	if deps.WSLimiter == nil {
		deps.WSLimiter = middleware.NewRateLimiter(deps.Config.HandshakesPerMinute, time.Minute)
	}

	// Initialize controllers
	alertController := controllers.NewAlertController(deps.Store, deps.Resolver)
	var archiveStatus func() map[string]interface{}
	if deps.Archive != nil {
		archiveStatus = deps.Archive.Status
	}
	realtimeController := controllers.NewRealtimeController(deps.Realtime, archiveStatus)

	// API v1 group
	api := router.Group("/api/v1")
	api.Use(middleware.JWTAuthMiddleware(deps.Verifier))
	{
		// Alert routes
		alertRoutes := api.Group("/alerts")
		{
			alertRoutes.GET("", alertController.GetAlerts)
			alertRoutes.POST("", alertController.CreateAlert)
			alertRoutes.GET("/history", alertController.GetHistory)
			alertRoutes.GET("/:id", alertController.GetAlert)
			alertRoutes.PUT("/:id", alertController.UpdateAlert)
			alertRoutes.DELETE("/:id", alertController.DeleteAlert)
		}

		// Realtime routes
		api.GET("/realtime/status", realtimeController.GetStatus)
	}

	// Websocket quote stream; authentication happens inside the handshake
	router.GET("/ws/quotes", middleware.RateLimitMiddleware(deps.WSLimiter), gin.WrapF(deps.Realtime.HandleWebSocket))
}
