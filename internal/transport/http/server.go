package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/themis-pm/collab-relay/internal/auth"
	"github.com/themis-pm/collab-relay/internal/calls"
	"github.com/themis-pm/collab-relay/internal/chat"
	"github.com/themis-pm/collab-relay/internal/config"
	"github.com/themis-pm/collab-relay/internal/docs"
	"github.com/themis-pm/collab-relay/internal/metrics"
)

// Relays are the three subsystems the server exposes.
type Relays struct {
	Chat  *chat.Relay
	Docs  *docs.Relay
	Calls *calls.Relay
}

// NewServer builds the HTTP server with health, metrics, history and WebSocket routes.
func NewServer(relays Relays, authService *auth.Service, m *metrics.Metrics, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})
	router.GET("/metrics", gin.WrapH(m.Handler()))

	ws := NewWSHandler(relays, authService, m, cfg.WS, logger)
	router.GET("/ws/chat", ws.ServeChat)
	router.GET("/ws/docs", ws.ServeDocs)
	router.GET("/ws/calls", ws.ServeCalls)
	router.GET("/ws/calls/:roomId", ws.ServeCalls)

	history := NewHistoryHandlers(relays.Chat, logger)
	api := router.Group("/api")
	api.Use(AuthMiddleware(authService, logger))
	{
		api.GET("/chat/rooms/:roomId/messages", history.ListMessages)
	}

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
