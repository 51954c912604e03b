package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atelier-studio/atelier/internal/handlers"
	"github.com/atelier-studio/atelier/internal/middleware"
	"github.com/atelier-studio/atelier/internal/realtime"
	"github.com/atelier-studio/atelier/internal/services"
	"github.com/atelier-studio/atelier/pkg/response"
)

// Dependencies carries the wired services the router exposes.
type Dependencies struct {
	Invitations   *services.InvitationService
	Notifications *services.NotificationService
	Channels      *services.ChannelService
	Messages      *services.MessageService
	Hub           *realtime.Hub
}

// NewRouter assembles the HTTP surface. Identity arrives from the
// authenticating edge via headers; everything under /api requires it.
func NewRouter(deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(middleware.Recovery(), middleware.Logger(), middleware.Metrics())
	router.NoRoute(middleware.NotFoundHandler)

	router.GET("/healthz", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	invitations := handlers.NewInvitationHandler(deps.Invitations)
	notifications := handlers.NewNotificationHandler(deps.Notifications)
	channels := handlers.NewChannelHandler(deps.Channels)
	messages := handlers.NewMessageHandler(deps.Messages)
	rt := handlers.NewRealtimeHandler(deps.Hub)

	apiGroup := router.Group("/api", middleware.Identity())
	{
		apiGroup.POST("/invitations", invitations.Create)
		apiGroup.POST("/invitations/process", invitations.ProcessAutomatic)
		apiGroup.GET("/invitations/:token", invitations.Validate)
		apiGroup.POST("/invitations/:token/accept", invitations.Accept)
		apiGroup.POST("/invitations/:token/resend", invitations.Resend)
		apiGroup.GET("/projects/:projectId/invitations", invitations.ListForProject)

		apiGroup.GET("/notifications", notifications.List)
		apiGroup.GET("/notifications/unread-count", notifications.UnreadCount)
		apiGroup.POST("/notifications/read-all", notifications.MarkAllRead)
		apiGroup.POST("/notifications/:id/read", notifications.MarkRead)
		apiGroup.DELETE("/notifications/:id", notifications.Delete)

		apiGroup.POST("/channels", channels.Create)
		apiGroup.POST("/channels/initialize", channels.InitializeDefaults)
		apiGroup.GET("/projects/:projectId/channels", channels.ListForProject)
		apiGroup.GET("/channels/:id", channels.Get)
		apiGroup.PATCH("/channels/:id", channels.Update)
		apiGroup.DELETE("/channels/:id", channels.Delete)
		apiGroup.POST("/channels/:id/members", channels.AddMembers)
		apiGroup.POST("/channels/:id/read", channels.MarkRead)
		apiGroup.GET("/channels/:id/unread-count", channels.UnreadCount)

		apiGroup.POST("/channels/:id/messages", messages.Send)
		apiGroup.GET("/channels/:id/messages", messages.List)
		apiGroup.PATCH("/messages/:id", messages.Edit)
		apiGroup.DELETE("/messages/:id", messages.Delete)

		apiGroup.GET("/ws", rt.Serve)
	}

	return router
}
