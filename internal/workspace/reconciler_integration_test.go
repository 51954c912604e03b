package workspace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/atelier-studio/atelier/internal/database/testutil"
	"github.com/atelier-studio/atelier/internal/identity"
	"github.com/atelier-studio/atelier/internal/models"
	"github.com/atelier-studio/atelier/internal/realtime"
	"github.com/atelier-studio/atelier/internal/services"
)

func seedProjectMember(t *testing.T, db *gorm.DB, projectID, userID string) {
	t.Helper()

	require.NoError(t, db.Create(&models.User{
		BaseModel:   models.BaseModel{ID: userID},
		Email:       userID + "@example.com",
		DisplayName: "User " + userID,
	}).Error)
	require.NoError(t, db.Create(&models.ProjectMember{
		ProjectID:  projectID,
		UserID:     userID,
		Permission: models.PermissionEditor,
	}).Error)
}

// The reconciler subscribes to the same broker the services publish on, so it
// must merge the DTO payloads they emit, not just its own view types.
func TestReconcilerMergesServiceEvents(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	broker := realtime.NewBroker()
	ctx := context.Background()

	require.NoError(t, db.Create(&models.Project{
		BaseModel: models.BaseModel{ID: "proj-1"},
		Name:      "Harbor Pavilion",
	}).Error)
	seedProjectMember(t, db, "proj-1", "author")
	seedProjectMember(t, db, "proj-1", "viewer")

	channels, err := services.NewChannelService(db, identity.NewDirectory(db), broker)
	require.NoError(t, err)
	messages, err := services.NewMessageService(db, channels, identity.NewDirectory(db), nil, broker)
	require.NoError(t, err)

	reconciler := New("viewer")
	detach := reconciler.Attach(broker, "proj-1", nil)

	created, err := channels.Create(ctx, services.CreateChannelInput{
		ProjectID: "proj-1",
		Name:      "Facade Review",
		CreatorID: "author",
	})
	require.NoError(t, err)

	cached := reconciler.Channels()
	require.Len(t, cached, 1)
	assert.Equal(t, created.ID, cached[0].ID)
	assert.Equal(t, "Facade Review", cached[0].Name)

	// Re-attach now that the channel id is known, to pick up its message and
	// read-state topics.
	detach()
	detach = reconciler.Attach(broker, "proj-1", []string{created.ID})
	defer detach()

	sent, err := messages.Send(ctx, services.SendMessageInput{
		ChannelID: created.ID,
		UserID:    "author",
		Content:   "Updated the glazing spec",
	})
	require.NoError(t, err)

	cachedMessages := reconciler.Messages(created.ID)
	require.Len(t, cachedMessages, 1)
	assert.Equal(t, sent.ID, cachedMessages[0].ID)
	assert.Equal(t, "Updated the glazing spec", cachedMessages[0].Content)
	assert.Equal(t, 1, reconciler.UnreadCount(created.ID))

	_, err = channels.MarkRead(ctx, created.ID, "viewer", "")
	require.NoError(t, err)
	assert.Zero(t, reconciler.UnreadCount(created.ID))

	_, err = messages.Edit(ctx, sent.ID, "author", "Updated the glazing spec, rev B")
	require.NoError(t, err)
	cachedMessages = reconciler.Messages(created.ID)
	require.Len(t, cachedMessages, 1)
	assert.Equal(t, "Updated the glazing spec, rev B", cachedMessages[0].Content)

	require.NoError(t, messages.Delete(ctx, sent.ID, "author"))
	assert.Empty(t, reconciler.Messages(created.ID))
}
