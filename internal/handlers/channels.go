package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/atelier-studio/atelier/internal/middleware"
	"github.com/atelier-studio/atelier/internal/services"
	"github.com/atelier-studio/atelier/pkg/response"
)

// ChannelHandler exposes channel management and read state over HTTP.
type ChannelHandler struct {
	channels *services.ChannelService
}

// NewChannelHandler constructs a ChannelHandler.
func NewChannelHandler(channels *services.ChannelService) *ChannelHandler {
	return &ChannelHandler{channels: channels}
}

type createChannelRequest struct {
	ProjectID      string   `json:"project_id" validate:"required"`
	Name           string   `json:"name" validate:"required,max=120"`
	Description    string   `json:"description" validate:"omitempty,max=500"`
	IsPrivate      bool     `json:"is_private"`
	InitialMembers []string `json:"initial_members"`
}

// Create handles POST /api/channels.
func (h *ChannelHandler) Create(c *gin.Context) {
	var req createChannelRequest
	if !bindAndValidate(c, &req) {
		return
	}

	dto, err := h.channels.Create(requestContext(c), services.CreateChannelInput{
		ProjectID:      req.ProjectID,
		OrganizationID: middleware.OrgID(c),
		Name:           req.Name,
		Description:    req.Description,
		IsPrivate:      req.IsPrivate,
		InitialMembers: req.InitialMembers,
		CreatorID:      middleware.UserID(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, dto)
}

// ListForProject handles GET /api/projects/:projectId/channels.
func (h *ChannelHandler) ListForProject(c *gin.Context) {
	items, err := h.channels.ListForUser(requestContext(c), c.Param("projectId"), middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, items)
}

// Get handles GET /api/channels/:id.
func (h *ChannelHandler) Get(c *gin.Context) {
	dto, err := h.channels.Get(requestContext(c), c.Param("id"), middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, dto)
}

type updateChannelRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=120"`
	Description *string `json:"description" validate:"omitempty,max=500"`
}

// Update handles PATCH /api/channels/:id.
func (h *ChannelHandler) Update(c *gin.Context) {
	var req updateChannelRequest
	if !bindAndValidate(c, &req) {
		return
	}

	dto, err := h.channels.Update(requestContext(c), c.Param("id"), middleware.UserID(c), services.UpdateChannelInput{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, dto)
}

// Delete handles DELETE /api/channels/:id.
func (h *ChannelHandler) Delete(c *gin.Context) {
	if err := h.channels.Delete(requestContext(c), c.Param("id"), middleware.UserID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

type addMembersRequest struct {
	UserIDs []string `json:"user_ids" validate:"required,min=1"`
}

// AddMembers handles POST /api/channels/:id/members.
func (h *ChannelHandler) AddMembers(c *gin.Context) {
	var req addMembersRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.channels.AddMembers(requestContext(c), c.Param("id"), middleware.UserID(c), req.UserIDs); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"added": true})
}

type markReadRequest struct {
	MessageID string `json:"message_id"`
}

// MarkRead handles POST /api/channels/:id/read.
func (h *ChannelHandler) MarkRead(c *gin.Context) {
	var req markReadRequest
	if c.Request.ContentLength > 0 && !bindAndValidate(c, &req) {
		return
	}

	state, err := h.channels.MarkRead(requestContext(c), c.Param("id"), middleware.UserID(c), req.MessageID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, state)
}

// UnreadCount handles GET /api/channels/:id/unread-count.
func (h *ChannelHandler) UnreadCount(c *gin.Context) {
	count, err := h.channels.UnreadCount(requestContext(c), c.Param("id"), middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"count": count})
}

type initializeChannelsRequest struct {
	ProjectID string `json:"project_id" validate:"required"`
}

// InitializeDefaults handles POST /api/channels/initialize. Project
// provisioning calls it exactly once per new project.
func (h *ChannelHandler) InitializeDefaults(c *gin.Context) {
	var req initializeChannelsRequest
	if !bindAndValidate(c, &req) {
		return
	}

	items, err := h.channels.InitializeDefaults(requestContext(c), req.ProjectID, middleware.OrgID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, items)
}
