package router

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/adaptor"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mbeoliero/ecommunity/internal/config"
	"github.com/mbeoliero/ecommunity/internal/handler"
	"github.com/mbeoliero/ecommunity/internal/middleware"
	"github.com/mbeoliero/ecommunity/internal/service"
)

// SetupRouter sets up all routes of the debug API.
// A nil gatherer leaves /metrics unregistered.
func SetupRouter(h *server.Hertz, handlers *Handlers, cfg *config.ServerConfig, gatherer prometheus.Gatherer) {
	// CORS middleware
	h.Use(middleware.CORS(cfg.AllowedOrigins))

	// Health check
	h.GET("/health", func(ctx context.Context, c *app.RequestContext) {
		c.JSON(consts.StatusOK, map[string]string{"status": "ok"})
	})

	if gatherer != nil {
		h.GET("/metrics", adaptor.HertzHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := h.Group("/api", middleware.StaticToken(cfg.AuthToken))

	// Conversation routes
	convGroup := api.Group("/conversations")
	{
		convGroup.GET("", handlers.Conversation.ListConversations)
		convGroup.POST("", handlers.Conversation.CreateConversation)
		convGroup.POST("/:id/open", handlers.Conversation.OpenConversation)
		convGroup.DELETE("/:id", handlers.Conversation.DeleteConversation)
	}

	// Message routes, scoped to the open conversation
	msgGroup := api.Group("/messages")
	{
		msgGroup.GET("", handlers.Message.ListMessages)
		msgGroup.POST("", handlers.Message.SendMessage)
		msgGroup.POST("/older", handlers.Message.LoadOlder)
		msgGroup.POST("/refetch", handlers.Message.Refetch)
		msgGroup.PUT("/:id", handlers.Message.EditMessage)
		msgGroup.DELETE("/:id", handlers.Message.DeleteMessage)
		msgGroup.POST("/:id/read", handlers.Message.MarkRead)
		msgGroup.POST("/:id/reactions", handlers.Message.ToggleReaction)
	}

	api.POST("/typing", handlers.Presence.SetTyping)
	api.GET("/typing", handlers.Presence.GetTyping)
	api.GET("/presence", handlers.Presence.GetPresence)
}

// Handlers holds all HTTP handlers
type Handlers struct {
	Message      *handler.MessageHandler
	Conversation *handler.ConversationHandler
	Presence     *handler.PresenceHandler
}

// NewHandlers builds every handler over one session
func NewHandlers(session *service.Session) *Handlers {
	return &Handlers{
		Message:      handler.NewMessageHandler(session),
		Conversation: handler.NewConversationHandler(session),
		Presence:     handler.NewPresenceHandler(session),
	}
}
