package handlers

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes 注册路由，tx 为事务中间件
func (h *Handler) RegisterRoutes(r *gin.Engine, apiKey string, tx gin.HandlerFunc) {
	api := r.Group("/api", apiKeyAuth(apiKey))
	{
		// 道闸诊断，不占用数据库事务
		api.GET("/gates", h.GateStatus)

		txAPI := api.Group("", tx)
		txAPI.GET("/freeParkingSpaces", h.FreeParkingSpaces)

		// 用户
		user := txAPI.Group("/user/:userID")
		{
			user.GET("/status", h.GetStatus)
			user.GET("/ban", h.ListCurrentBans)
			user.GET("/recentVehicles", h.ListRecentVehicles)

			// 停车
			user.GET("/parkingEvents", h.ListParkingEvents)
			user.POST("/parkingEvents", h.StartParking)
			user.GET("/parkingEvents/current", h.GetCurrentParkingEvent)
			user.PATCH("/parkingEvents/current/end", h.EndParking)
			user.GET("/parkingEvents/:parkingEventID", h.GetParkingEvent)
		}
	}

	// WebSocket
	r.GET("/ws", h.HandleWebSocket)

	// 健康检查
	r.GET("/health", h.HealthCheck)

	if h.gatherer != nil {
		r.GET("/metrics", h.metricsHandler())
	}
}
