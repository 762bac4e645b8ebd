package server

import (
	"net/http"

	"chatrelay/internal/auth"
	"chatrelay/internal/config"
	"chatrelay/internal/metrics"
	"chatrelay/internal/mw"
	"chatrelay/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
// limiter 按 IP+路径限速，为 nil 时不限速。
func SetupRouter(cfg config.Config, h *Handler, hub *ws.Hub, limiter *mw.RL) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	if limiter != nil {
		r.Use(mw.RateLimit(limiter))
	}

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", hub.Serve)

	api := r.Group("/api/v1")
	api.Use(auth.AuthMiddleware(cfg.JWTSecret))

	api.POST("/calls", h.InitiateCall)
	api.GET("/calls/history", h.CallHistory)
	api.GET("/calls/turn-credentials", h.TURNCredentials)
	api.POST("/calls/:id/accept", h.AcceptCall)
	api.POST("/calls/:id/reject", h.RejectCall)
	api.POST("/calls/:id/end", h.EndCall)
	api.POST("/calls/:id/signal", h.SignalCall)

	api.POST("/chats/:id/messages", h.SendMessage)
	api.POST("/chats/:id/members", h.AddMember)
	api.DELETE("/chats/:id/members/:userId", h.RemoveMember)

	api.PATCH("/messages/:id", h.EditMessage)
	api.DELETE("/messages/:id", h.DeleteMessage)
	api.POST("/messages/:id/status", h.ReportStatus)

	api.GET("/users/:id/presence", h.Presence)
	return r
}
