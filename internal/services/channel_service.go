package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/atelier-studio/atelier/internal/identity"
	"github.com/atelier-studio/atelier/internal/models"
	"github.com/atelier-studio/atelier/internal/realtime"
	apperrors "github.com/atelier-studio/atelier/pkg/errors"
)

// defaultChannelNames are created for every new project so members never land
// in a channel-less workspace.
var defaultChannelNames = []string{"General", "Announcements"}

// ChannelDTO represents the API-friendly channel payload.
type ChannelDTO struct {
	ID             string    `json:"id"`
	ProjectID      string    `json:"project_id"`
	OrganizationID string    `json:"organization_id,omitempty"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	IsPrivate      bool      `json:"is_private"`
	UnreadCount    int64     `json:"unread_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ReadStateDTO is published on the channel-status topic when a user's read
// position moves.
type ReadStateDTO struct {
	ChannelID         string    `json:"channel_id"`
	UserID            string    `json:"user_id"`
	LastReadMessageID string    `json:"last_read_message_id,omitempty"`
	LastReadAt        time.Time `json:"last_read_at"`
}

// CreateChannelInput defines attributes required to create a channel.
type CreateChannelInput struct {
	ProjectID      string
	OrganizationID string
	Name           string
	Description    string
	IsPrivate      bool
	InitialMembers []string
	CreatorID      string
}

// UpdateChannelInput carries mutable channel attributes.
type UpdateChannelInput struct {
	Name        *string
	Description *string
}

// ChannelService manages channels, private membership and per-user read
// state.
type ChannelService struct {
	db        *gorm.DB
	directory identity.Directory
	broker    *realtime.Broker
	clock     func() time.Time
}

// ChannelOption configures a ChannelService.
type ChannelOption func(*ChannelService)

// WithChannelClock overrides the service clock for tests.
func WithChannelClock(clock func() time.Time) ChannelOption {
	return func(s *ChannelService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewChannelService constructs a ChannelService.
func NewChannelService(db *gorm.DB, directory identity.Directory, broker *realtime.Broker, opts ...ChannelOption) (*ChannelService, error) {
	if db == nil {
		return nil, errors.New("channel service: db is required")
	}
	if directory == nil {
		return nil, errors.New("channel service: directory is required")
	}

	s := &ChannelService{db: db, directory: directory, broker: broker, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create adds a channel to a project. For private channels the creator and
// any initial members receive membership rows in the same transaction, so a
// half-created private channel can never leak or lock everyone out.
func (s *ChannelService) Create(ctx context.Context, input CreateChannelInput) (*ChannelDTO, error) {
	ctx = ensureContext(ctx)

	projectID := strings.TrimSpace(input.ProjectID)
	creatorID := strings.TrimSpace(input.CreatorID)
	name := strings.TrimSpace(input.Name)
	if projectID == "" || creatorID == "" || name == "" {
		return nil, apperrors.NewBadRequest("Project id, creator id and name are required")
	}

	if _, err := s.directory.Membership(ctx, projectID, creatorID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ErrForbidden
		}
		return nil, err
	}

	channel := models.Channel{
		ProjectID:      projectID,
		OrganizationID: strings.TrimSpace(input.OrganizationID),
		Name:           name,
		Description:    strings.TrimSpace(input.Description),
		IsPrivate:      input.IsPrivate,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&channel).Error; err != nil {
			return err
		}
		if !channel.IsPrivate {
			return nil
		}

		members := normaliseIDs(append([]string{creatorID}, input.InitialMembers...))
		for _, userID := range members {
			if err := tx.Create(&models.ChannelMember{
				ChannelID: channel.ID,
				UserID:    userID,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("channel service: create channel: %w", err)
	}

	dto := mapChannel(channel, 0)
	s.publishChannelEvent(realtime.EventChannelCreated, dto)
	return &dto, nil
}

// InitializeDefaults creates the standard channel set for a fresh project in
// one transaction. Projects that already have channels are left untouched.
func (s *ChannelService) InitializeDefaults(ctx context.Context, projectID, organizationID string) ([]ChannelDTO, error) {
	ctx = ensureContext(ctx)
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, apperrors.NewBadRequest("Project id is required")
	}

	var created []models.Channel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Channel{}).
			Where("project_id = ?", projectID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		for _, name := range defaultChannelNames {
			channel := models.Channel{
				ProjectID:      projectID,
				OrganizationID: strings.TrimSpace(organizationID),
				Name:           name,
			}
			if err := tx.Create(&channel).Error; err != nil {
				return err
			}
			created = append(created, channel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("channel service: initialize default channels: %w", err)
	}

	items := make([]ChannelDTO, 0, len(created))
	for _, channel := range created {
		dto := mapChannel(channel, 0)
		s.publishChannelEvent(realtime.EventChannelCreated, dto)
		items = append(items, dto)
	}
	return items, nil
}

// ListForUser returns the project's public channels plus the private ones the
// user belongs to, each annotated with its unread count.
func (s *ChannelService) ListForUser(ctx context.Context, projectID, userID string) ([]ChannelDTO, error) {
	ctx = ensureContext(ctx)
	projectID = strings.TrimSpace(projectID)
	userID = strings.TrimSpace(userID)
	if projectID == "" || userID == "" {
		return nil, apperrors.NewBadRequest("Project id and user id are required")
	}

	var channels []models.Channel
	if err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Where("is_private = ? OR id IN (?)", false,
			s.db.Model(&models.ChannelMember{}).Select("channel_id").Where("user_id = ?", userID)).
		Order("created_at ASC").
		Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("channel service: list channels: %w", err)
	}

	items := make([]ChannelDTO, 0, len(channels))
	for _, channel := range channels {
		unread, err := s.unreadCount(ctx, channel.ID, userID)
		if err != nil {
			return nil, err
		}
		items = append(items, mapChannel(channel, unread))
	}
	return items, nil
}

// Get returns a single channel the user can access.
func (s *ChannelService) Get(ctx context.Context, channelID, userID string) (*ChannelDTO, error) {
	ctx = ensureContext(ctx)

	channel, err := s.authorize(ctx, channelID, userID)
	if err != nil {
		return nil, err
	}

	unread, err := s.unreadCount(ctx, channel.ID, userID)
	if err != nil {
		return nil, err
	}

	dto := mapChannel(*channel, unread)
	return &dto, nil
}

// Update renames or re-describes a channel. Only project admins may modify
// channels.
func (s *ChannelService) Update(ctx context.Context, channelID, userID string, input UpdateChannelInput) (*ChannelDTO, error) {
	ctx = ensureContext(ctx)

	channel, err := s.loadChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if err := s.requireAdmin(ctx, channel.ProjectID, userID); err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, apperrors.NewBadRequest("Channel name cannot be empty")
		}
		updates["name"] = name
		channel.Name = name
	}
	if input.Description != nil {
		updates["description"] = strings.TrimSpace(*input.Description)
		channel.Description = strings.TrimSpace(*input.Description)
	}
	if len(updates) == 0 {
		dto := mapChannel(*channel, 0)
		return &dto, nil
	}

	if err := s.db.WithContext(ctx).Model(channel).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("channel service: update channel: %w", err)
	}

	dto := mapChannel(*channel, 0)
	s.publishChannelEvent(realtime.EventChannelUpdated, dto)
	return &dto, nil
}

// Delete removes a channel along with its messages, membership and read
// state.
func (s *ChannelService) Delete(ctx context.Context, channelID, userID string) error {
	ctx = ensureContext(ctx)

	channel, err := s.loadChannel(ctx, channelID)
	if err != nil {
		return err
	}
	if err := s.requireAdmin(ctx, channel.ProjectID, userID); err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("message_id IN (?)",
			tx.Model(&models.Message{}).Select("id").Where("channel_id = ?", channel.ID)).
			Delete(&models.MessageAttachment{}).Error; err != nil {
			return err
		}
		for _, target := range []any{
			&models.Message{}, &models.ChannelMember{}, &models.UserChannelState{},
		} {
			if err := tx.Where("channel_id = ?", channel.ID).Delete(target).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&models.Channel{}, "id = ?", channel.ID).Error
	})
	if err != nil {
		return fmt.Errorf("channel service: delete channel: %w", err)
	}

	s.publishChannelEvent(realtime.EventChannelDeleted, mapChannel(*channel, 0))
	return nil
}

// AddMembers adds users to a private channel. Adding to a public channel is a
// no-op since visibility already follows project membership.
func (s *ChannelService) AddMembers(ctx context.Context, channelID, actorID string, userIDs []string) error {
	ctx = ensureContext(ctx)

	channel, err := s.authorize(ctx, channelID, actorID)
	if err != nil {
		return err
	}
	if !channel.IsPrivate {
		return nil
	}

	for _, userID := range normaliseIDs(userIDs) {
		member := models.ChannelMember{ChannelID: channel.ID, UserID: userID}
		if err := s.db.WithContext(ctx).
			Where("channel_id = ? AND user_id = ?", channel.ID, userID).
			FirstOrCreate(&member).Error; err != nil {
			return fmt.Errorf("channel service: add channel member: %w", err)
		}
	}
	return nil
}

// MarkRead moves the user's read position forward. Without an explicit
// message id it resolves to the channel's newest message. Concurrent calls
// from multiple tabs can never move the position backward.
func (s *ChannelService) MarkRead(ctx context.Context, channelID, userID, messageID string) (*ReadStateDTO, error) {
	ctx = ensureContext(ctx)

	channel, err := s.authorize(ctx, channelID, userID)
	if err != nil {
		return nil, err
	}

	lastReadAt := s.clock().UTC()
	messageID = strings.TrimSpace(messageID)
	if messageID != "" {
		var message models.Message
		if err := s.db.WithContext(ctx).
			First(&message, "id = ? AND channel_id = ?", messageID, channel.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperrors.ErrNotFound
			}
			return nil, fmt.Errorf("channel service: load message: %w", err)
		}
		lastReadAt = message.CreatedAt
	} else {
		var newest models.Message
		err := s.db.WithContext(ctx).
			Where("channel_id = ?", channel.ID).
			Order("created_at DESC, id DESC").
			First(&newest).Error
		switch {
		case err == nil:
			messageID = newest.ID
			lastReadAt = newest.CreatedAt
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, fmt.Errorf("channel service: load newest message: %w", err)
		}
	}

	state := models.UserChannelState{
		ChannelID:         channel.ID,
		UserID:            userID,
		LastReadMessageID: messageID,
		LastReadAt:        lastReadAt,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.UserChannelState
		err := tx.Where("channel_id = ? AND user_id = ?", channel.ID, userID).
			First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&state).Error
		}
		if err != nil {
			return err
		}

		// Monotonic: only a strictly newer read position is persisted.
		if !lastReadAt.After(existing.LastReadAt) {
			state = existing
			return nil
		}
		return tx.Model(&models.UserChannelState{}).
			Where("channel_id = ? AND user_id = ? AND last_read_at < ?", channel.ID, userID, lastReadAt).
			Updates(map[string]any{
				"last_read_message_id": messageID,
				"last_read_at":         lastReadAt,
			}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("channel service: mark read: %w", err)
	}

	dto := ReadStateDTO{
		ChannelID:         state.ChannelID,
		UserID:            state.UserID,
		LastReadMessageID: state.LastReadMessageID,
		LastReadAt:        state.LastReadAt,
	}
	if s.broker != nil {
		s.broker.Publish(realtime.ChannelStatusTopic(channel.ID, userID), realtime.Event{
			Type: realtime.EventChannelRead,
			Data: dto,
		})
	}
	return &dto, nil
}

// UnreadCount reports how many messages the user has not read yet. A user
// with no read state sees the whole backlog as unread.
func (s *ChannelService) UnreadCount(ctx context.Context, channelID, userID string) (int64, error) {
	ctx = ensureContext(ctx)

	if _, err := s.authorize(ctx, channelID, userID); err != nil {
		return 0, err
	}
	return s.unreadCount(ctx, channelID, userID)
}

func (s *ChannelService) unreadCount(ctx context.Context, channelID, userID string) (int64, error) {
	query := s.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("channel_id = ?", channelID)

	var state models.UserChannelState
	err := s.db.WithContext(ctx).
		Where("channel_id = ? AND user_id = ?", channelID, userID).
		First(&state).Error
	switch {
	case err == nil:
		query = query.Where("created_at > ?", state.LastReadAt)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return 0, fmt.Errorf("channel service: load read state: %w", err)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("channel service: count unread: %w", err)
	}
	return count, nil
}

// CanAccess reports whether the user may see the channel, without
// distinguishing why not.
func (s *ChannelService) CanAccess(ctx context.Context, channelID, userID string) bool {
	_, err := s.authorize(ensureContext(ctx), channelID, userID)
	return err == nil
}

// authorize loads the channel and verifies the user can see it: project
// membership for public channels, a ChannelMember row for private ones.
func (s *ChannelService) authorize(ctx context.Context, channelID, userID string) (*models.Channel, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.NewBadRequest("User id is required")
	}

	channel, err := s.loadChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}

	if channel.IsPrivate {
		var member models.ChannelMember
		err := s.db.WithContext(ctx).
			Where("channel_id = ? AND user_id = ?", channel.ID, userID).
			First(&member).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrForbidden
		}
		if err != nil {
			return nil, fmt.Errorf("channel service: load channel member: %w", err)
		}
		return channel, nil
	}

	if _, err := s.directory.Membership(ctx, channel.ProjectID, userID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ErrForbidden
		}
		return nil, err
	}
	return channel, nil
}

func (s *ChannelService) loadChannel(ctx context.Context, channelID string) (*models.Channel, error) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return nil, apperrors.NewBadRequest("Channel id is required")
	}

	var channel models.Channel
	if err := s.db.WithContext(ctx).First(&channel, "id = ?", channelID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("channel service: load channel: %w", err)
	}
	return &channel, nil
}

func (s *ChannelService) requireAdmin(ctx context.Context, projectID, userID string) error {
	isAdmin, err := s.directory.IsAdmin(ctx, projectID, strings.TrimSpace(userID))
	if err != nil {
		return err
	}
	if !isAdmin {
		return apperrors.ErrForbidden
	}
	return nil
}

func (s *ChannelService) publishChannelEvent(eventType string, dto ChannelDTO) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(realtime.ProjectChannelsTopic(dto.ProjectID), realtime.Event{
		Type: eventType,
		Data: dto,
	})
}

func mapChannel(row models.Channel, unread int64) ChannelDTO {
	return ChannelDTO{
		ID:             row.ID,
		ProjectID:      row.ProjectID,
		OrganizationID: row.OrganizationID,
		Name:           row.Name,
		Description:    row.Description,
		IsPrivate:      row.IsPrivate,
		UnreadCount:    unread,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
}
