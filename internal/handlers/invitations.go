package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/atelier-studio/atelier/internal/middleware"
	"github.com/atelier-studio/atelier/internal/services"
	"github.com/atelier-studio/atelier/pkg/response"
)

// InvitationHandler exposes the invitation lifecycle over HTTP.
type InvitationHandler struct {
	invitations *services.InvitationService
}

// NewInvitationHandler constructs an InvitationHandler.
func NewInvitationHandler(invitations *services.InvitationService) *InvitationHandler {
	return &InvitationHandler{invitations: invitations}
}

type createInvitationRequest struct {
	ProjectID  string `json:"project_id" validate:"required"`
	Email      string `json:"email" validate:"required,email"`
	Role       string `json:"role" validate:"omitempty,max=128"`
	Permission string `json:"permission" validate:"required"`
}

// Create handles POST /api/invitations.
func (h *InvitationHandler) Create(c *gin.Context) {
	var req createInvitationRequest
	if !bindAndValidate(c, &req) {
		return
	}

	dto, err := h.invitations.Create(requestContext(c), services.CreateInvitationInput{
		ProjectID:  req.ProjectID,
		Email:      req.Email,
		Role:       req.Role,
		Permission: req.Permission,
		InviterID:  middleware.UserID(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, dto)
}

// Validate handles GET /api/invitations/:token.
func (h *InvitationHandler) Validate(c *gin.Context) {
	dto, err := h.invitations.Validate(requestContext(c), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, dto)
}

// Accept handles POST /api/invitations/:token/accept.
func (h *InvitationHandler) Accept(c *gin.Context) {
	dto, err := h.invitations.Accept(requestContext(c), c.Param("token"), middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, dto)
}

// Resend handles POST /api/invitations/:token/resend.
func (h *InvitationHandler) Resend(c *gin.Context) {
	dto, err := h.invitations.Resend(requestContext(c), c.Param("token"), middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, dto)
}

// ListForProject handles GET /api/projects/:projectId/invitations.
func (h *InvitationHandler) ListForProject(c *gin.Context) {
	items, err := h.invitations.ListForProject(requestContext(c), c.Param("projectId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, items)
}

type processInvitationsRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ProcessAutomatic handles POST /api/invitations/process. The edge calls it
// right after a successful login so freshly registered users land in every
// project they were invited to.
func (h *InvitationHandler) ProcessAutomatic(c *gin.Context) {
	var req processInvitationsRequest
	if !bindAndValidate(c, &req) {
		return
	}

	accepted, err := h.invitations.ProcessAutomaticInvitations(requestContext(c), middleware.UserID(c), req.Email)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"accepted": accepted})
}
