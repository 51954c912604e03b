package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/atelier-studio/atelier/internal/database/testutil"
	"github.com/atelier-studio/atelier/internal/identity"
	"github.com/atelier-studio/atelier/internal/models"
	"github.com/atelier-studio/atelier/internal/realtime"
	apperrors "github.com/atelier-studio/atelier/pkg/errors"
	"github.com/atelier-studio/atelier/pkg/mail"
)

type captureMailer struct {
	messages []mail.Message
	err      error
}

func (m *captureMailer) Send(_ context.Context, msg mail.Message) error {
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, msg)
	return nil
}

func newNotificationService(t *testing.T) (*NotificationService, *gorm.DB, *realtime.Broker, *captureMailer) {
	t.Helper()

	db := testutil.MustOpenTestDB(t)
	broker := realtime.NewBroker()
	mailer := &captureMailer{}

	svc, err := NewNotificationService(db, broker, identity.NewDirectory(db), mailer)
	require.NoError(t, err)
	return svc, db, broker, mailer
}

func seedUser(t *testing.T, db *gorm.DB, id, email string) models.User {
	t.Helper()

	user := models.User{
		BaseModel:   models.BaseModel{ID: id},
		Email:       email,
		DisplayName: "User " + id,
	}
	require.NoError(t, db.Create(&user).Error)
	return user
}

func TestSendResolvesEmailToRegisteredUser(t *testing.T) {
	svc, db, broker, _ := newNotificationService(t)
	seedUser(t, db, "user-1", "ada@example.com")

	var events []realtime.Event
	unsubscribe := broker.Subscribe(realtime.NotificationsTopic("user-1"), func(event realtime.Event) {
		events = append(events, event)
	})
	defer unsubscribe()

	dto, err := svc.Send(context.Background(), SendNotificationInput{
		Email:   "Ada@Example.com",
		Type:    models.NotificationTeamInvitation,
		Title:   "You were invited",
		Message: "Join the Riverside project",
		Metadata: NotificationMetadata{
			ProjectID:   "proj-1",
			ProjectName: "Riverside",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "user-1", dto.UserID)
	assert.Equal(t, "ada@example.com", dto.Email)
	assert.Equal(t, "Riverside", dto.Metadata["project_name"])

	require.Len(t, events, 1)
	assert.Equal(t, realtime.EventNotificationNew, events[0].Type)
}

func TestSendRetainsEmailFallbackForUnregisteredRecipient(t *testing.T) {
	svc, db, _, _ := newNotificationService(t)

	dto, err := svc.Send(context.Background(), SendNotificationInput{
		Email: "newcomer@example.com",
		Type:  models.NotificationTeamInvitation,
		Title: "You were invited",
	})
	require.NoError(t, err)
	assert.Empty(t, dto.UserID)
	assert.Equal(t, "newcomer@example.com", dto.Email)

	// The recipient registers later and claims the backlog.
	seedUser(t, db, "user-9", "newcomer@example.com")
	claimed, err := svc.ClaimForUser(context.Background(), "user-9", "newcomer@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1), claimed)

	items, err := svc.ListForUser(context.Background(), ListNotificationsInput{UserID: "user-9"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, dto.ID, items[0].ID)
}

func TestSendRejectsUnknownType(t *testing.T) {
	svc, _, _, _ := newNotificationService(t)

	_, err := svc.Send(context.Background(), SendNotificationInput{
		UserID: "user-1",
		Type:   "marketing_blast",
		Title:  "Nope",
	})
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrBadRequest.Code, appErr.Code)
}

func TestSendRequiresRecipient(t *testing.T) {
	svc, _, _, _ := newNotificationService(t)

	_, err := svc.Send(context.Background(), SendNotificationInput{
		Type:  models.NotificationSystem,
		Title: "Orphan",
	})
	require.Error(t, err)
}

func TestSendSurvivesEmailSideChannelFailure(t *testing.T) {
	svc, db, _, mailer := newNotificationService(t)
	seedUser(t, db, "user-1", "ada@example.com")
	mailer.err = errors.New("smtp connection refused")

	dto, err := svc.Send(context.Background(), SendNotificationInput{
		UserID:       "user-1",
		Type:         models.NotificationTeamInvitation,
		Title:        "You were invited",
		EmailSubject: "Invitation",
		EmailBody:    "Click the link to join.",
	})
	require.NoError(t, err)

	var row models.Notification
	require.NoError(t, db.First(&row, "id = ?", dto.ID).Error)
}

func TestSendDeliversEmailSideChannel(t *testing.T) {
	svc, db, _, mailer := newNotificationService(t)
	seedUser(t, db, "user-1", "ada@example.com")

	_, err := svc.Send(context.Background(), SendNotificationInput{
		UserID:       "user-1",
		Type:         models.NotificationInvitationReminder,
		Title:        "Reminder",
		EmailSubject: "Your invitation is waiting",
		EmailBody:    "The invitation expires soon.",
	})
	require.NoError(t, err)

	require.Len(t, mailer.messages, 1)
	assert.Equal(t, []string{"ada@example.com"}, mailer.messages[0].To)
	assert.Equal(t, "Your invitation is waiting", mailer.messages[0].Subject)
}

func TestMarkReadAndUnreadCount(t *testing.T) {
	svc, _, _, _ := newNotificationService(t)
	ctx := context.Background()

	first, err := svc.Send(ctx, SendNotificationInput{
		UserID: "user-1", Type: models.NotificationSystem, Title: "One"})
	require.NoError(t, err)
	_, err = svc.Send(ctx, SendNotificationInput{
		UserID: "user-1", Type: models.NotificationSystem, Title: "Two"})
	require.NoError(t, err)

	count, err := svc.UnreadCount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	dto, err := svc.MarkRead(ctx, "user-1", first.ID)
	require.NoError(t, err)
	assert.True(t, dto.IsRead)

	count, err = svc.UnreadCount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	require.NoError(t, svc.MarkAllRead(ctx, "user-1"))
	count, err = svc.UnreadCount(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, count)

	// Another user cannot touch someone else's notification.
	_, err = svc.MarkRead(ctx, "user-2", first.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestInboxChangesBroadcast(t *testing.T) {
	svc, _, broker, _ := newNotificationService(t)
	ctx := context.Background()

	var types []string
	unsubscribe := broker.Subscribe(realtime.NotificationsTopic("user-1"), func(event realtime.Event) {
		types = append(types, event.Type)
	})
	defer unsubscribe()

	dto, err := svc.Send(ctx, SendNotificationInput{
		UserID: "user-1", Type: models.NotificationSystem, Title: "One"})
	require.NoError(t, err)

	_, err = svc.MarkRead(ctx, "user-1", dto.ID)
	require.NoError(t, err)

	// Marking an already-read notification again is silent.
	_, err = svc.MarkRead(ctx, "user-1", dto.ID)
	require.NoError(t, err)

	require.NoError(t, svc.MarkAllRead(ctx, "user-1"))
	require.NoError(t, svc.Delete(ctx, "user-1", dto.ID))

	assert.Equal(t, []string{
		realtime.EventNotificationNew,
		realtime.EventNotificationRead,
		realtime.EventNotificationReadAll,
		realtime.EventNotificationDeleted,
	}, types)
}

func TestDeleteNotification(t *testing.T) {
	svc, _, _, _ := newNotificationService(t)
	ctx := context.Background()

	dto, err := svc.Send(ctx, SendNotificationInput{
		UserID: "user-1", Type: models.NotificationSystem, Title: "One"})
	require.NoError(t, err)

	require.ErrorIs(t, svc.Delete(ctx, "user-2", dto.ID), apperrors.ErrNotFound)
	require.NoError(t, svc.Delete(ctx, "user-1", dto.ID))

	items, err := svc.ListForUser(ctx, ListNotificationsInput{UserID: "user-1"})
	require.NoError(t, err)
	assert.Empty(t, items)
}
