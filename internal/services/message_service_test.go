package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/atelier-studio/atelier/internal/database/testutil"
	"github.com/atelier-studio/atelier/internal/identity"
	"github.com/atelier-studio/atelier/internal/models"
	"github.com/atelier-studio/atelier/internal/realtime"
	"github.com/atelier-studio/atelier/internal/storage"
	apperrors "github.com/atelier-studio/atelier/pkg/errors"
)

type messageFixture struct {
	svc     *MessageService
	channel ChannelDTO
	db      *gorm.DB
	broker  *realtime.Broker
	objects *storage.MemoryStore
}

func newMessageFixture(t *testing.T) *messageFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t)
	broker := realtime.NewBroker()
	objects := storage.NewMemoryStore()
	directory := identity.NewDirectory(db)

	channels, err := NewChannelService(db, directory, broker)
	require.NoError(t, err)
	svc, err := NewMessageService(db, channels, directory, objects, broker)
	require.NoError(t, err)

	f := &messageFixture{svc: svc, db: db, broker: broker, objects: objects}

	for _, userID := range []string{"author", "member"} {
		seedUser(t, db, userID, userID+"@example.com")
		require.NoError(t, db.Create(&models.ProjectMember{
			ProjectID:  "proj-1",
			UserID:     userID,
			Permission: models.PermissionEditor,
		}).Error)
	}

	dto, err := channels.Create(context.Background(), CreateChannelInput{
		ProjectID: "proj-1",
		Name:      "General",
		CreatorID: "author",
	})
	require.NoError(t, err)
	f.channel = *dto
	return f
}

func TestSendMessagePersistsAndPublishes(t *testing.T) {
	f := newMessageFixture(t)

	var events []realtime.Event
	unsubscribe := f.broker.Subscribe(realtime.ChannelTopic(f.channel.ID), func(event realtime.Event) {
		events = append(events, event)
	})
	defer unsubscribe()

	dto, err := f.svc.Send(context.Background(), SendMessageInput{
		ChannelID: f.channel.ID,
		UserID:    "author",
		Content:   "First sketch uploaded",
	})
	require.NoError(t, err)
	assert.Equal(t, "User author", dto.Metadata["sender_name"])

	require.Len(t, events, 1)
	assert.Equal(t, realtime.EventMessageCreated, events[0].Type)
}

func TestSendMessageToleratesPartialAttachmentFailure(t *testing.T) {
	f := newMessageFixture(t)
	f.objects.FailContains = ".bin"

	dto, err := f.svc.Send(context.Background(), SendMessageInput{
		ChannelID: f.channel.ID,
		UserID:    "author",
		Content:   "Renders attached",
		Attachments: []AttachmentUpload{
			{FileName: "tower.png", FileType: "image/png", FileSize: 4, Body: strings.NewReader("data")},
			{FileName: "model.bin", FileType: "application/octet-stream", FileSize: 4, Body: strings.NewReader("data")},
		},
	})
	require.NoError(t, err)

	require.Len(t, dto.Attachments, 1)
	assert.Equal(t, "tower.png", dto.Attachments[0].FileName)
	assert.Equal(t, []string{"model.bin"}, dto.FailedAttachments)
	assert.Equal(t, 1, f.objects.Len())

	var rows int64
	require.NoError(t, f.db.Model(&models.MessageAttachment{}).Count(&rows).Error)
	assert.Equal(t, int64(1), rows)
}

func TestSendMessageConcurrentTabs(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()

	// sqlite has a single writer; serialize through the pool instead of
	// surfacing lock contention as spurious errors.
	sqlDB, err := f.db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	var mu sync.Mutex
	var published []string
	unsubscribe := f.broker.Subscribe(realtime.ChannelTopic(f.channel.ID), func(event realtime.Event) {
		if event.Type != realtime.EventMessageCreated {
			return
		}
		dto, ok := event.Data.(MessageDTO)
		if !ok {
			return
		}
		mu.Lock()
		published = append(published, dto.ID)
		mu.Unlock()
	})
	defer unsubscribe()

	// The same user posting from two tabs at once: both messages commit.
	dtos := make([]*MessageDTO, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			dtos[i], errs[i] = f.svc.Send(ctx, SendMessageInput{
				ChannelID: f.channel.ID,
				UserID:    "author",
				Content:   fmt.Sprintf("tab %d", i),
			})
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.NotEqual(t, dtos[0].ID, dtos[1].ID)

	mu.Lock()
	assert.Len(t, published, 2)
	mu.Unlock()

	// History holds both, ordered by commit.
	items, err := f.svc.List(ctx, ListMessagesInput{ChannelID: f.channel.ID, UserID: "author"})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.ElementsMatch(t,
		[]string{dtos[0].ID, dtos[1].ID},
		[]string{items[0].ID, items[1].ID})
	assert.False(t, items[1].CreatedAt.Before(items[0].CreatedAt))
}

func TestSendMessageRequiresChannelAccess(t *testing.T) {
	f := newMessageFixture(t)
	seedUser(t, f.db, "outsider", "outsider@example.com")

	_, err := f.svc.Send(context.Background(), SendMessageInput{
		ChannelID: f.channel.ID,
		UserID:    "outsider",
		Content:   "Let me in",
	})
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestSendMessageRequiresContentOrAttachment(t *testing.T) {
	f := newMessageFixture(t)

	_, err := f.svc.Send(context.Background(), SendMessageInput{
		ChannelID: f.channel.ID,
		UserID:    "author",
		Content:   "   ",
	})
	require.Error(t, err)
}

func TestListMessagesOldestFirstWithPaging(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		dto, err := f.svc.Send(ctx, SendMessageInput{
			ChannelID: f.channel.ID,
			UserID:    "author",
			Content:   fmt.Sprintf("message %d", i),
		})
		require.NoError(t, err)
		ids = append(ids, dto.ID)
	}

	page, err := f.svc.List(ctx, ListMessagesInput{
		ChannelID: f.channel.ID,
		UserID:    "member",
		Limit:     2,
	})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[3], page[0].ID)
	assert.Equal(t, ids[4], page[1].ID)

	older, err := f.svc.List(ctx, ListMessagesInput{
		ChannelID: f.channel.ID,
		UserID:    "member",
		Limit:     2,
		Before:    page[0].ID,
	})
	require.NoError(t, err)
	require.Len(t, older, 2)
	assert.Equal(t, ids[1], older[0].ID)
	assert.Equal(t, ids[2], older[1].ID)
}

func TestListMessagesResolvesAttachments(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()

	_, err := f.svc.Send(ctx, SendMessageInput{
		ChannelID: f.channel.ID,
		UserID:    "author",
		Content:   "With file",
		Attachments: []AttachmentUpload{
			{FileName: "plan.pdf", FileType: "application/pdf", FileSize: 4, Body: strings.NewReader("data")},
		},
	})
	require.NoError(t, err)

	page, err := f.svc.List(ctx, ListMessagesInput{
		ChannelID: f.channel.ID,
		UserID:    "member",
	})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Len(t, page[0].Attachments, 1)
	assert.NotEmpty(t, page[0].Attachments[0].FileURL)
}

func TestEditMessageAuthorOnly(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()

	dto, err := f.svc.Send(ctx, SendMessageInput{
		ChannelID: f.channel.ID,
		UserID:    "author",
		Content:   "typo",
	})
	require.NoError(t, err)

	_, err = f.svc.Edit(ctx, dto.ID, "member", "hijack")
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	edited, err := f.svc.Edit(ctx, dto.ID, "author", "fixed")
	require.NoError(t, err)
	assert.Equal(t, "fixed", edited.Content)
}

func TestDeleteMessageAuthorOnly(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()

	dto, err := f.svc.Send(ctx, SendMessageInput{
		ChannelID: f.channel.ID,
		UserID:    "author",
		Content:   "remove me",
		Attachments: []AttachmentUpload{
			{FileName: "draft.pdf", FileType: "application/pdf", FileSize: 4, Body: strings.NewReader("data")},
		},
	})
	require.NoError(t, err)

	require.ErrorIs(t, f.svc.Delete(ctx, dto.ID, "member"), apperrors.ErrForbidden)
	require.NoError(t, f.svc.Delete(ctx, dto.ID, "author"))

	var messages, attachments int64
	require.NoError(t, f.db.Model(&models.Message{}).Count(&messages).Error)
	require.NoError(t, f.db.Model(&models.MessageAttachment{}).Count(&attachments).Error)
	assert.Zero(t, messages)
	assert.Zero(t, attachments)
}
