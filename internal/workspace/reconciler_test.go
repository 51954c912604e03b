package workspace

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelier-studio/atelier/internal/realtime"
)

func TestAuthoritativeEventWinsOverOptimisticEntry(t *testing.T) {
	r := New("alice")

	r.StageMessage(Message{ID: "m1", ChannelID: "c1", UserID: "alice", Content: "draft"})

	confirmed := Message{ID: "m1", ChannelID: "c1", UserID: "alice", Content: "final", CreatedAt: time.Now()}
	r.ApplyEvent(realtime.Event{Type: realtime.EventMessageCreated, Data: confirmed})

	messages := r.Messages("c1")
	require.Len(t, messages, 1)
	assert.Equal(t, "final", messages[0].Content)
	assert.Empty(t, r.Unconfirmed(0))
}

func TestUnknownEntityIsInserted(t *testing.T) {
	r := New("alice")

	r.ApplyEvent(realtime.Event{
		Type: realtime.EventChannelCreated,
		Data: Channel{ID: "c1", ProjectID: "p1", Name: "General"},
	})
	r.ApplyEvent(realtime.Event{
		Type: realtime.EventMessageCreated,
		Data: Message{ID: "m1", ChannelID: "c1", UserID: "bob", Content: "hi"},
	})

	require.Len(t, r.Channels(), 1)
	require.Len(t, r.Messages("c1"), 1)
	assert.Equal(t, 1, r.UnreadCount("c1"))
}

func TestRawJSONPayloadIsDecoded(t *testing.T) {
	r := New("alice")

	// Events relayed over a websocket arrive with undecoded payloads.
	r.ApplyEvent(realtime.Event{
		Type: realtime.EventMessageCreated,
		Data: json.RawMessage(`{"id":"m1","channel_id":"c1","user_id":"bob","content":"hi"}`),
	})
	r.ApplyEvent(realtime.Event{
		Type: realtime.EventMessageCreated,
		Data: json.RawMessage(`not json`),
	})

	messages := r.Messages("c1")
	require.Len(t, messages, 1)
	assert.Equal(t, "hi", messages[0].Content)
	assert.Equal(t, 1, r.UnreadCount("c1"))
}

func TestOwnMessagesDoNotCountAsUnread(t *testing.T) {
	r := New("alice")

	r.ApplyEvent(realtime.Event{
		Type: realtime.EventMessageCreated,
		Data: Message{ID: "m1", ChannelID: "c1", UserID: "alice"},
	})
	assert.Zero(t, r.UnreadCount("c1"))

	// Confirmation of a staged message must not bump unread either.
	r.StageMessage(Message{ID: "m2", ChannelID: "c1", UserID: "bob"})
	r.ApplyEvent(realtime.Event{
		Type: realtime.EventMessageCreated,
		Data: Message{ID: "m2", ChannelID: "c1", UserID: "bob"},
	})
	assert.Zero(t, r.UnreadCount("c1"))
}

func TestReadEventResetsUnread(t *testing.T) {
	r := New("alice")

	r.ApplyEvent(realtime.Event{
		Type: realtime.EventMessageCreated,
		Data: Message{ID: "m1", ChannelID: "c1", UserID: "bob"},
	})
	require.Equal(t, 1, r.UnreadCount("c1"))

	// Another user's read state is not ours.
	r.ApplyEvent(realtime.Event{
		Type: realtime.EventChannelRead,
		Data: ReadState{ChannelID: "c1", UserID: "bob", LastReadAt: time.Now()},
	})
	assert.Equal(t, 1, r.UnreadCount("c1"))

	r.ApplyEvent(realtime.Event{
		Type: realtime.EventChannelRead,
		Data: ReadState{ChannelID: "c1", UserID: "alice", LastReadAt: time.Now()},
	})
	assert.Zero(t, r.UnreadCount("c1"))
}

func TestChannelDeletionDropsDependentState(t *testing.T) {
	r := New("alice")

	r.ApplyEvent(realtime.Event{Type: realtime.EventChannelCreated, Data: Channel{ID: "c1", Name: "General"}})
	r.ApplyEvent(realtime.Event{Type: realtime.EventMessageCreated, Data: Message{ID: "m1", ChannelID: "c1", UserID: "bob"}})

	r.ApplyEvent(realtime.Event{Type: realtime.EventChannelDeleted, Data: Channel{ID: "c1"}})

	assert.Empty(t, r.Channels())
	assert.Empty(t, r.Messages("c1"))
	assert.Zero(t, r.UnreadCount("c1"))
}

func TestUnconfirmedFlagsStaleOptimisticEntries(t *testing.T) {
	now := time.Now()
	r := New("alice", WithClock(func() time.Time { return now }))

	r.StageMessage(Message{ID: "m1", ChannelID: "c1", UserID: "alice"})
	r.StageChannel(Channel{ID: "c2", Name: "Drafts"})

	now = now.Add(10 * time.Second)
	assert.Equal(t, []string{"c2", "m1"}, r.Unconfirmed(5*time.Second))
	assert.Empty(t, r.Unconfirmed(time.Minute))

	// Confirmation clears the flag.
	r.ApplyEvent(realtime.Event{Type: realtime.EventMessageCreated, Data: Message{ID: "m1", ChannelID: "c1", UserID: "alice"}})
	assert.Equal(t, []string{"c2"}, r.Unconfirmed(5*time.Second))
}

func TestResetReplacesSnapshot(t *testing.T) {
	r := New("alice")

	r.StageChannel(Channel{ID: "tmp", Name: "Pending"})
	r.ResetChannels([]Channel{
		{ID: "c1", Name: "General"},
		{ID: "c2", Name: "Announcements"},
	}, map[string]int{"c1": 3})

	channels := r.Channels()
	require.Len(t, channels, 2)
	assert.Equal(t, "Announcements", channels[0].Name)
	assert.Equal(t, 3, r.UnreadCount("c1"))
	assert.Empty(t, r.Unconfirmed(0))

	r.ResetMessages("c1", []Message{
		{ID: "m2", ChannelID: "c1", CreatedAt: time.Now().Add(time.Second)},
		{ID: "m1", ChannelID: "c1", CreatedAt: time.Now()},
	})
	messages := r.Messages("c1")
	require.Len(t, messages, 2)
	assert.Equal(t, "m1", messages[0].ID)
}

func TestAttachSubscribesAndDetaches(t *testing.T) {
	broker := realtime.NewBroker()
	r := New("alice")

	detach := r.Attach(broker, "p1", []string{"c1"})

	broker.Publish(realtime.ChannelTopic("c1"), realtime.Event{
		Type: realtime.EventMessageCreated,
		Data: Message{ID: "m1", ChannelID: "c1", UserID: "bob"},
	})
	broker.Publish(realtime.ProjectChannelsTopic("p1"), realtime.Event{
		Type: realtime.EventChannelCreated,
		Data: Channel{ID: "c2", ProjectID: "p1", Name: "Design"},
	})
	require.Len(t, r.Messages("c1"), 1)
	require.Len(t, r.Channels(), 1)

	detach()
	detach()

	broker.Publish(realtime.ChannelTopic("c1"), realtime.Event{
		Type: realtime.EventMessageCreated,
		Data: Message{ID: "m2", ChannelID: "c1", UserID: "bob"},
	})
	assert.Len(t, r.Messages("c1"), 1)
	assert.Zero(t, broker.SubscriberCount(realtime.ChannelTopic("c1")))
}
