package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/CaiserSz/simisimiocpp-sub002/internal/api/middleware"
)

// RegisterRoutes 注册控制面路由
func RegisterRoutes(r *gin.Engine, h *Handler, authCfg middleware.AuthConfig, rlCfg middleware.RateLimitConfig, logger *zap.Logger) {
	if r == nil || h == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r.Use(middleware.CORS())

	// 就绪检查与实时推送无需认证
	r.GET("/ready", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })
	if h.hub != nil {
		r.GET("/ws", h.HandleWebSocket)
	}

	apiGroup := r.Group("/api")
	if rlCfg.Enabled {
		apiGroup.Use(middleware.RateLimit(rlCfg))
		logger.Info("api rate limiting enabled",
			zap.Float64("requests_per_sec", rlCfg.RequestsPerSec),
			zap.Int("burst", rlCfg.BurstSize))
	}
	if authCfg.Enabled {
		apiGroup.Use(middleware.APIKeyAuth(authCfg, logger))
		logger.Info("api authentication enabled", zap.Int("api_keys_count", len(authCfg.APIKeys)))
	} else {
		logger.Warn("api authentication disabled - only for development!")
	}

	// 站点管理
	apiGroup.GET("/stations", h.ListStations)
	apiGroup.POST("/stations", h.CreateStation)
	apiGroup.GET("/stations/:id", h.GetStation)
	apiGroup.PATCH("/stations/:id", h.UpdateStation)
	apiGroup.DELETE("/stations/:id", h.DeleteStation)
	apiGroup.POST("/stations/:id/start", h.StartStation)
	apiGroup.POST("/stations/:id/stop", h.StopStation)
	apiGroup.POST("/stations/:id/clone", h.CloneStation)
	apiGroup.POST("/stations/:id/protocol", h.SwitchProtocol)

	// 车辆与充电
	apiGroup.POST("/stations/:id/connectors/:connectorId/vehicle", h.ConnectVehicle)
	apiGroup.DELETE("/stations/:id/connectors/:connectorId/vehicle", h.DisconnectVehicle)
	apiGroup.POST("/stations/:id/connectors/:connectorId/charge", h.StartCharging)
	apiGroup.DELETE("/stations/:id/connectors/:connectorId/charge", h.StopCharging)

	// 观测
	apiGroup.GET("/stations/:id/health", h.GetStationHealth)
	apiGroup.GET("/stations/:id/history", h.GetStationHistory)
	apiGroup.GET("/stations/:id/breaker", h.GetBreakerStats)

	// 车队编排
	apiGroup.POST("/fleet/batch/start", h.BatchStart)
	apiGroup.POST("/fleet/batch/stop", h.BatchStop)
	apiGroup.POST("/fleet/batch/update", h.BatchUpdate)
	apiGroup.GET("/fleet/health", h.GetHealthSummary)
	apiGroup.GET("/fleet/health/:status", h.GetStationsByHealth)
	apiGroup.GET("/fleet/groups", h.GetGroups)
	apiGroup.GET("/fleet/groups/:groupId", h.GetGroupStations)
	apiGroup.GET("/fleet/networks", h.GetNetworks)
	apiGroup.GET("/fleet/networks/:networkId", h.GetNetworkStations)
	apiGroup.GET("/fleet/stats", h.GetStats)
	apiGroup.POST("/fleet/scenario", h.ApplyScenario)

	logger.Info("control-plane routes registered")
}
