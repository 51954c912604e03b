package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/atelier-studio/atelier/internal/identity"
	"github.com/atelier-studio/atelier/internal/models"
	"github.com/atelier-studio/atelier/internal/realtime"
	"github.com/atelier-studio/atelier/internal/storage"
	apperrors "github.com/atelier-studio/atelier/pkg/errors"
	"github.com/atelier-studio/atelier/pkg/logger"
)

// AttachmentDTO describes one uploaded attachment.
type AttachmentDTO struct {
	ID        string    `json:"id"`
	FileName  string    `json:"file_name"`
	FileType  string    `json:"file_type,omitempty"`
	FileURL   string    `json:"file_url"`
	FileSize  int64     `json:"file_size"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageDTO represents the API-friendly message payload.
type MessageDTO struct {
	ID             string          `json:"id"`
	ChannelID      string          `json:"channel_id"`
	UserID         string          `json:"user_id"`
	Content        string          `json:"content"`
	IsAnnouncement bool            `json:"is_announcement"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	Attachments    []AttachmentDTO `json:"attachments,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`

	// FailedAttachments lists file names that did not upload. Only set on the
	// response to Send; the message itself still stands.
	FailedAttachments []string `json:"failed_attachments,omitempty"`
}

// AttachmentUpload carries one attachment payload into SendMessage.
type AttachmentUpload struct {
	FileName string
	FileType string
	FileSize int64
	Body     io.Reader
}

// SendMessageInput defines attributes required to post a message.
type SendMessageInput struct {
	ChannelID      string
	UserID         string
	Content        string
	IsAnnouncement bool
	Attachments    []AttachmentUpload
}

// ListMessagesInput pages through channel history. Before is a message id;
// when empty the newest page is returned.
type ListMessagesInput struct {
	ChannelID string
	UserID    string
	Limit     int
	Before    string
}

// MessageService persists channel messages and their attachments.
type MessageService struct {
	db        *gorm.DB
	channels  *ChannelService
	directory identity.Directory
	objects   storage.ObjectStore
	broker    *realtime.Broker
}

// NewMessageService constructs a MessageService. The object store may be nil
// when attachments are disabled.
func NewMessageService(db *gorm.DB, channels *ChannelService, directory identity.Directory, objects storage.ObjectStore, broker *realtime.Broker) (*MessageService, error) {
	if db == nil {
		return nil, errors.New("message service: db is required")
	}
	if channels == nil {
		return nil, errors.New("message service: channel service is required")
	}
	if directory == nil {
		return nil, errors.New("message service: directory is required")
	}
	return &MessageService{db: db, channels: channels, directory: directory, objects: objects, broker: broker}, nil
}

// Send persists a message, then uploads its attachments. Attachment failures
// are tolerated one by one: the message stands with whichever uploads
// succeeded, and the failed file names come back on the DTO.
func (s *MessageService) Send(ctx context.Context, input SendMessageInput) (*MessageDTO, error) {
	ctx = ensureContext(ctx)

	userID := strings.TrimSpace(input.UserID)
	content := strings.TrimSpace(input.Content)
	if content == "" && len(input.Attachments) == 0 {
		return nil, apperrors.NewBadRequest("A message needs content or at least one attachment")
	}

	channel, err := s.channels.authorize(ctx, input.ChannelID, userID)
	if err != nil {
		return nil, err
	}

	metadata := map[string]any{}
	if sender, err := s.directory.LookupUser(ctx, userID); err == nil {
		metadata["sender_name"] = sender.DisplayName
		if sender.AvatarURL != "" {
			metadata["sender_avatar"] = sender.AvatarURL
		}
	}

	encoded, err := encodeJSON(metadata)
	if err != nil {
		return nil, fmt.Errorf("message service: marshal metadata: %w", err)
	}

	message := models.Message{
		ChannelID:      channel.ID,
		UserID:         userID,
		Content:        content,
		IsAnnouncement: input.IsAnnouncement,
		Metadata:       encoded,
	}
	if err := s.db.WithContext(ctx).Create(&message).Error; err != nil {
		return nil, fmt.Errorf("message service: create message: %w", err)
	}

	var failed []string
	for _, upload := range input.Attachments {
		attachment, err := s.storeAttachment(ctx, channel.ID, message.ID, upload)
		if err != nil {
			logger.Warn("attachment upload failed",
				zap.String("message_id", message.ID),
				zap.String("file_name", upload.FileName),
				zap.Error(err))
			failed = append(failed, upload.FileName)
			continue
		}
		message.Attachments = append(message.Attachments, *attachment)
	}

	dto := mapMessage(message)
	s.publish(channel.ID, realtime.EventMessageCreated, dto)

	// The gap report is for the sender only, not for the broadcast.
	dto.FailedAttachments = failed
	return &dto, nil
}

// List returns one reverse-chronological page of channel history, reversed to
// oldest-first for rendering, with attachments resolved.
func (s *MessageService) List(ctx context.Context, input ListMessagesInput) ([]MessageDTO, error) {
	ctx = ensureContext(ctx)

	channel, err := s.channels.authorize(ctx, input.ChannelID, strings.TrimSpace(input.UserID))
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).
		Preload("Attachments").
		Where("channel_id = ?", channel.ID).
		Order("created_at DESC, id DESC").
		Limit(clampLimit(input.Limit, 50, 200))

	if before := strings.TrimSpace(input.Before); before != "" {
		var pivot models.Message
		if err := s.db.WithContext(ctx).
			First(&pivot, "id = ? AND channel_id = ?", before, channel.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperrors.ErrNotFound
			}
			return nil, fmt.Errorf("message service: load pivot message: %w", err)
		}
		query = query.Where(
			"created_at < ? OR (created_at = ? AND id < ?)",
			pivot.CreatedAt, pivot.CreatedAt, pivot.ID)
	}

	var rows []models.Message
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("message service: list messages: %w", err)
	}

	// Reverse into oldest-first order.
	items := make([]MessageDTO, len(rows))
	for i, row := range rows {
		items[len(rows)-1-i] = mapMessage(row)
	}
	return items, nil
}

// Edit replaces the content of the caller's own message.
func (s *MessageService) Edit(ctx context.Context, messageID, userID, content string) (*MessageDTO, error) {
	ctx = ensureContext(ctx)
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperrors.NewBadRequest("Message content cannot be empty")
	}

	message, err := s.loadOwned(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Model(message).
		Update("content", content).Error; err != nil {
		return nil, fmt.Errorf("message service: edit message: %w", err)
	}
	message.Content = content

	dto := mapMessage(*message)
	s.publish(message.ChannelID, realtime.EventMessageUpdated, dto)
	return &dto, nil
}

// Delete removes the caller's own message and its attachments. Object store
// cleanup is best effort; orphaned objects are acceptable, dangling rows are
// not.
func (s *MessageService) Delete(ctx context.Context, messageID, userID string) error {
	ctx = ensureContext(ctx)

	message, err := s.loadOwned(ctx, messageID, userID)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("message_id = ?", message.ID).
			Delete(&models.MessageAttachment{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Message{}, "id = ?", message.ID).Error
	})
	if err != nil {
		return fmt.Errorf("message service: delete message: %w", err)
	}

	s.publish(message.ChannelID, realtime.EventMessageDeleted, mapMessage(*message))
	return nil
}

func (s *MessageService) storeAttachment(ctx context.Context, channelID, messageID string, upload AttachmentUpload) (*models.MessageAttachment, error) {
	if s.objects == nil {
		return nil, errors.New("attachment storage is not configured")
	}
	if upload.Body == nil {
		return nil, errors.New("attachment body is required")
	}

	key := storage.AttachmentKey(channelID, messageID, upload.FileName)
	url, err := s.objects.Upload(ctx, key, upload.FileType, upload.Body)
	if err != nil {
		return nil, err
	}

	attachment := models.MessageAttachment{
		MessageID: messageID,
		FileName:  upload.FileName,
		FileType:  upload.FileType,
		FileURL:   url,
		FileSize:  upload.FileSize,
	}
	if err := s.db.WithContext(ctx).Create(&attachment).Error; err != nil {
		return nil, err
	}
	return &attachment, nil
}

func (s *MessageService) loadOwned(ctx context.Context, messageID, userID string) (*models.Message, error) {
	messageID = strings.TrimSpace(messageID)
	userID = strings.TrimSpace(userID)
	if messageID == "" || userID == "" {
		return nil, apperrors.NewBadRequest("Message id and user id are required")
	}

	var message models.Message
	if err := s.db.WithContext(ctx).First(&message, "id = ?", messageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("message service: load message: %w", err)
	}
	if message.UserID != userID {
		return nil, apperrors.ErrForbidden
	}
	return &message, nil
}

func (s *MessageService) publish(channelID, eventType string, dto MessageDTO) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(realtime.ChannelTopic(channelID), realtime.Event{
		Type: eventType,
		Data: dto,
	})
}

func mapMessage(row models.Message) MessageDTO {
	dto := MessageDTO{
		ID:             row.ID,
		ChannelID:      row.ChannelID,
		UserID:         row.UserID,
		Content:        row.Content,
		IsAnnouncement: row.IsAnnouncement,
		Metadata:       decodeJSON(row.Metadata),
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
	for _, attachment := range row.Attachments {
		dto.Attachments = append(dto.Attachments, AttachmentDTO{
			ID:        attachment.ID,
			FileName:  attachment.FileName,
			FileType:  attachment.FileType,
			FileURL:   attachment.FileURL,
			FileSize:  attachment.FileSize,
			CreatedAt: attachment.CreatedAt,
		})
	}
	return dto
}
