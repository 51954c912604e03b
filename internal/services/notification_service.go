package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/atelier-studio/atelier/internal/identity"
	"github.com/atelier-studio/atelier/internal/models"
	"github.com/atelier-studio/atelier/internal/realtime"
	apperrors "github.com/atelier-studio/atelier/pkg/errors"
	"github.com/atelier-studio/atelier/pkg/logger"
	"github.com/atelier-studio/atelier/pkg/mail"
)

// NotificationDTO represents the API-friendly notification payload.
type NotificationDTO struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id,omitempty"`
	Email     string         `json:"email,omitempty"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Link      string         `json:"link,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	IsRead    bool           `json:"is_read"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NotificationMetadata is the structured payload stored alongside invitation
// and project notifications.
type NotificationMetadata struct {
	ProjectID    string `json:"project_id,omitempty"`
	ProjectName  string `json:"project_name,omitempty"`
	InvitationID string `json:"invitation_id,omitempty"`
	InviterName  string `json:"inviter_name,omitempty"`
	Permission   string `json:"permission,omitempty"`
}

func (m NotificationMetadata) asMap() map[string]any {
	out := make(map[string]any)
	if m.ProjectID != "" {
		out["project_id"] = m.ProjectID
	}
	if m.ProjectName != "" {
		out["project_name"] = m.ProjectName
	}
	if m.InvitationID != "" {
		out["invitation_id"] = m.InvitationID
	}
	if m.InviterName != "" {
		out["inviter_name"] = m.InviterName
	}
	if m.Permission != "" {
		out["permission"] = m.Permission
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// SendNotificationInput defines attributes required to dispatch a
// notification. Exactly one of UserID or Email must identify the recipient;
// Email alone is used for invitees who have not registered yet.
type SendNotificationInput struct {
	UserID   string
	Email    string
	Type     string
	Title    string
	Message  string
	Link     string
	Metadata NotificationMetadata

	// EmailSubject/EmailBody, when set, trigger a best-effort email side
	// channel in addition to the persisted row.
	EmailSubject string
	EmailBody    string
}

// ListNotificationsInput defines filters for querying user notifications.
type ListNotificationsInput struct {
	UserID     string
	Limit      int
	Offset     int
	UnreadOnly bool
}

var validNotificationTypes = map[string]struct{}{
	models.NotificationTeamInvitation:     {},
	models.NotificationInvitationAccepted: {},
	models.NotificationInvitationReminder: {},
	models.NotificationProjectAdded:       {},
	models.NotificationSystem:             {},
}

// NotificationService persists in-app notifications and fans them out to
// realtime subscribers and the email side channel.
type NotificationService struct {
	db        *gorm.DB
	broker    *realtime.Broker
	directory identity.Directory
	mailer    mail.Mailer
}

// NewNotificationService constructs a NotificationService. The mailer may be
// nil when no side channel is configured.
func NewNotificationService(db *gorm.DB, broker *realtime.Broker, directory identity.Directory, mailer mail.Mailer) (*NotificationService, error) {
	if db == nil {
		return nil, errors.New("notification service: db is required")
	}
	if directory == nil {
		return nil, errors.New("notification service: directory is required")
	}
	return &NotificationService{db: db, broker: broker, directory: directory, mailer: mailer}, nil
}

// Send persists a notification and independently attempts delivery on the
// side channels. The write is authoritative: realtime or email failures never
// fail the call, because the row remains queryable by the recipient.
func (s *NotificationService) Send(ctx context.Context, input SendNotificationInput) (*NotificationDTO, error) {
	ctx = ensureContext(ctx)

	if _, ok := validNotificationTypes[input.Type]; !ok {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("Unknown notification type %q", input.Type))
	}

	userID := strings.TrimSpace(input.UserID)
	email := identity.NormalizeEmail(input.Email)
	if userID == "" && email == "" {
		return nil, apperrors.NewBadRequest("Notification requires a user id or email recipient")
	}

	// Addressed by email only: resolve to a user id when the identity already
	// exists, keeping the email as fallback for pre-registration recipients.
	if userID == "" {
		if user, err := s.directory.LookupUserByEmail(ctx, email); err == nil {
			userID = user.ID
		} else if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
	}

	metadata, err := encodeJSON(input.Metadata.asMap())
	if err != nil {
		return nil, fmt.Errorf("notification service: marshal metadata: %w", err)
	}

	notification := models.Notification{
		Type:     input.Type,
		Title:    strings.TrimSpace(input.Title),
		Message:  strings.TrimSpace(input.Message),
		Link:     strings.TrimSpace(input.Link),
		Metadata: metadata,
	}
	if userID != "" {
		notification.UserID = &userID
	}
	if email != "" {
		notification.Email = &email
	}

	if err := s.db.WithContext(ctx).Create(&notification).Error; err != nil {
		return nil, fmt.Errorf("notification service: create notification: %w", err)
	}

	dto := mapNotification(notification)
	if userID != "" {
		s.publish(userID, realtime.EventNotificationNew, dto)
	}
	s.sendEmail(ctx, input, userID, email)

	return &dto, nil
}

// ClaimForUser re-addresses email-only notifications to a freshly resolved
// user id, typically on first login after registration.
func (s *NotificationService) ClaimForUser(ctx context.Context, userID, email string) (int64, error) {
	ctx = ensureContext(ctx)
	userID = strings.TrimSpace(userID)
	email = identity.NormalizeEmail(email)
	if userID == "" || email == "" {
		return 0, apperrors.NewBadRequest("User id and email are required")
	}

	result := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("email = ? AND user_id IS NULL", email).
		Update("user_id", userID)
	if result.Error != nil {
		return 0, fmt.Errorf("notification service: claim notifications: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ListForUser returns notifications for the supplied user ordered by recency.
func (s *NotificationService) ListForUser(ctx context.Context, input ListNotificationsInput) ([]NotificationDTO, error) {
	ctx = ensureContext(ctx)
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return nil, apperrors.NewBadRequest("User id is required")
	}

	query := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(clampLimit(input.Limit, 25, 100)).
		Offset(maxInt(0, input.Offset))
	if input.UnreadOnly {
		query = query.Where("is_read = ?", false)
	}

	var rows []models.Notification
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("notification service: list notifications: %w", err)
	}

	items := make([]NotificationDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapNotification(row))
	}
	return items, nil
}

// UnreadCount returns the number of unread notifications for the user.
func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	ctx = ensureContext(ctx)

	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", strings.TrimSpace(userID), false).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("notification service: count unread: %w", err)
	}
	return count, nil
}

// MarkRead sets the read flag on a notification owned by the user.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID string) (*NotificationDTO, error) {
	ctx = ensureContext(ctx)

	var notification models.Notification
	if err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", notificationID, userID).
		First(&notification).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("notification service: load notification: %w", err)
	}

	dto := mapNotification(notification)
	if !notification.IsRead {
		if err := s.db.WithContext(ctx).Model(&notification).
			Update("is_read", true).Error; err != nil {
			return nil, fmt.Errorf("notification service: mark read: %w", err)
		}
		dto.IsRead = true
		s.publish(userID, realtime.EventNotificationRead, dto)
	}

	return &dto, nil
}

// MarkAllRead marks every unread notification for the user as read.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) error {
	ctx = ensureContext(ctx)

	if err := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", strings.TrimSpace(userID), false).
		Update("is_read", true).Error; err != nil {
		return fmt.Errorf("notification service: mark all read: %w", err)
	}

	s.publish(userID, realtime.EventNotificationReadAll, nil)
	return nil
}

// Delete removes a notification owned by the supplied user.
func (s *NotificationService) Delete(ctx context.Context, userID, notificationID string) error {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", notificationID, userID).
		Delete(&models.Notification{})
	if result.Error != nil {
		return fmt.Errorf("notification service: delete notification: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}

	s.publish(userID, realtime.EventNotificationDeleted, map[string]any{"id": notificationID})
	return nil
}

func (s *NotificationService) publish(userID, eventType string, data any) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(realtime.NotificationsTopic(userID), realtime.Event{
		Type: eventType,
		Data: data,
	})
}

func (s *NotificationService) sendEmail(ctx context.Context, input SendNotificationInput, userID, email string) {
	if s.mailer == nil || strings.TrimSpace(input.EmailBody) == "" {
		return
	}

	recipient := email
	if recipient == "" && userID != "" {
		if user, err := s.directory.LookupUser(ctx, userID); err == nil {
			recipient = user.Email
		}
	}
	if recipient == "" {
		return
	}

	err := s.mailer.Send(ctx, mail.Message{
		To:      []string{recipient},
		Subject: defaultIfEmpty(input.EmailSubject, input.Title),
		Body:    input.EmailBody,
	})
	switch {
	case err == nil:
	case errors.Is(err, mail.ErrSMTPDisabled):
		logger.Debug("notification email skipped, smtp disabled",
			zap.String("type", input.Type))
	default:
		logger.Warn("notification email delivery failed",
			zap.String("type", input.Type), zap.Error(err))
	}
}

func mapNotification(row models.Notification) NotificationDTO {
	dto := NotificationDTO{
		ID:        row.ID,
		Type:      row.Type,
		Title:     row.Title,
		Message:   row.Message,
		Link:      row.Link,
		Metadata:  decodeJSON(row.Metadata),
		IsRead:    row.IsRead,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if row.UserID != nil {
		dto.UserID = *row.UserID
	}
	if row.Email != nil {
		dto.Email = *row.Email
	}
	return dto
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
