package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/atelier-studio/atelier/internal/middleware"
	"github.com/atelier-studio/atelier/internal/realtime"
)

// RealtimeHandler upgrades clients onto the realtime hub.
type RealtimeHandler struct {
	hub *realtime.Hub
}

// NewRealtimeHandler constructs a RealtimeHandler.
func NewRealtimeHandler(hub *realtime.Hub) *RealtimeHandler {
	return &RealtimeHandler{hub: hub}
}

// Serve handles GET /api/ws. Initial topics come from the "topics" query
// parameter; clients add and remove topics later with subscribe/unsubscribe
// control frames.
func (h *RealtimeHandler) Serve(c *gin.Context) {
	var topics []string
	for _, topic := range strings.Split(c.Query("topics"), ",") {
		if topic = strings.TrimSpace(topic); topic != "" {
			topics = append(topics, topic)
		}
	}

	h.hub.Serve(middleware.UserID(c), topics, c.Writer, c.Request)
}
