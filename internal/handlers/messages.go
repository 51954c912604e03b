package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/atelier-studio/atelier/internal/middleware"
	"github.com/atelier-studio/atelier/internal/services"
	appErrors "github.com/atelier-studio/atelier/pkg/errors"
	"github.com/atelier-studio/atelier/pkg/response"
)

// maxAttachmentBytes caps one uploaded attachment.
const maxAttachmentBytes = 25 << 20 // 25 MiB

// MessageHandler exposes channel history and message posting over HTTP.
type MessageHandler struct {
	messages *services.MessageService
}

// NewMessageHandler constructs a MessageHandler.
func NewMessageHandler(messages *services.MessageService) *MessageHandler {
	return &MessageHandler{messages: messages}
}

type sendMessageRequest struct {
	Content        string `json:"content" form:"content"`
	IsAnnouncement bool   `json:"is_announcement" form:"is_announcement"`
}

// Send handles POST /api/channels/:id/messages. The endpoint accepts plain
// JSON or, when attachments ride along, multipart/form-data with the message
// fields as form values and files under "attachments".
func (h *MessageHandler) Send(c *gin.Context) {
	input := services.SendMessageInput{
		ChannelID: c.Param("id"),
		UserID:    middleware.UserID(c),
	}

	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		var req sendMessageRequest
		if err := c.ShouldBind(&req); err != nil {
			response.Error(c, appErrors.NewBadRequest("invalid form payload"))
			return
		}
		input.Content = req.Content
		input.IsAnnouncement = req.IsAnnouncement

		form, err := c.MultipartForm()
		if err != nil {
			response.Error(c, appErrors.NewBadRequest("invalid multipart payload"))
			return
		}
		for _, file := range form.File["attachments"] {
			if file.Size > maxAttachmentBytes {
				response.Error(c, appErrors.NewBadRequest("attachment exceeds the size limit"))
				return
			}
			body, err := file.Open()
			if err != nil {
				response.Error(c, appErrors.NewBadRequest("unreadable attachment"))
				return
			}
			defer body.Close()

			input.Attachments = append(input.Attachments, services.AttachmentUpload{
				FileName: file.Filename,
				FileType: file.Header.Get("Content-Type"),
				FileSize: file.Size,
				Body:     body,
			})
		}
	} else {
		var req sendMessageRequest
		if !bindAndValidate(c, &req) {
			return
		}
		input.Content = req.Content
		input.IsAnnouncement = req.IsAnnouncement
	}

	dto, err := h.messages.Send(requestContext(c), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, dto)
}

// List handles GET /api/channels/:id/messages.
func (h *MessageHandler) List(c *gin.Context) {
	items, err := h.messages.List(requestContext(c), services.ListMessagesInput{
		ChannelID: c.Param("id"),
		UserID:    middleware.UserID(c),
		Limit:     parseIntQuery(c, "limit", 50),
		Before:    c.Query("before"),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, items)
}

type editMessageRequest struct {
	Content string `json:"content" validate:"required"`
}

// Edit handles PATCH /api/messages/:id.
func (h *MessageHandler) Edit(c *gin.Context) {
	var req editMessageRequest
	if !bindAndValidate(c, &req) {
		return
	}

	dto, err := h.messages.Edit(requestContext(c), c.Param("id"), middleware.UserID(c), req.Content)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, dto)
}

// Delete handles DELETE /api/messages/:id.
func (h *MessageHandler) Delete(c *gin.Context) {
	if err := h.messages.Delete(requestContext(c), c.Param("id"), middleware.UserID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}
