package workspace

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/atelier-studio/atelier/internal/realtime"
)

// Channel is the reconciler's view of a channel entity.
type Channel struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsPrivate   bool   `json:"is_private"`
}

// Message is the reconciler's view of a message entity.
type Message struct {
	ID             string    `json:"id"`
	ChannelID      string    `json:"channel_id"`
	UserID         string    `json:"user_id"`
	Content        string    `json:"content"`
	IsAnnouncement bool      `json:"is_announcement"`
	CreatedAt      time.Time `json:"created_at"`
}

// ReadState is the payload of a read-state change event.
type ReadState struct {
	ChannelID  string    `json:"channel_id"`
	UserID     string    `json:"user_id"`
	LastReadAt time.Time `json:"last_read_at"`
}

type entry struct {
	value    any
	pending  bool
	issuedAt time.Time
}

// Reconciler caches {channels, messages, unread counts} for one user's view
// of a project. It is mutated two ways: optimistic staging right after a
// local command, and authoritative merges when broker events arrive. The
// durable store stays the source of truth; on any delivery gap the caller
// re-fetches and calls the Reset methods.
type Reconciler struct {
	mu       sync.Mutex
	userID   string
	clock    func() time.Time
	channels map[string]*entry
	messages map[string]map[string]*entry
	unread   map[string]int
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock overrides the reconciler's time source for tests.
func WithClock(clock func() time.Time) Option {
	return func(r *Reconciler) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// New constructs an empty reconciler for the supplied viewer.
func New(userID string, opts ...Option) *Reconciler {
	r := &Reconciler{
		userID:   userID,
		clock:    time.Now,
		channels: make(map[string]*entry),
		messages: make(map[string]map[string]*entry),
		unread:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attach subscribes the reconciler to the project's channel-list topic and to
// each channel's message and read-state topics. The returned detach function
// tears every subscription down and is safe to call more than once.
func (r *Reconciler) Attach(broker *realtime.Broker, projectID string, channelIDs []string) func() {
	unsubs := []func(){
		broker.Subscribe(realtime.ProjectChannelsTopic(projectID), r.ApplyEvent),
	}
	for _, channelID := range channelIDs {
		unsubs = append(unsubs,
			broker.Subscribe(realtime.ChannelTopic(channelID), r.ApplyEvent),
			broker.Subscribe(realtime.ChannelStatusTopic(channelID, r.userID), r.ApplyEvent),
		)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for _, unsub := range unsubs {
				unsub()
			}
		})
	}
}

// StageChannel records an optimistic channel entry awaiting confirmation.
func (r *Reconciler) StageChannel(channel Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.channels[channel.ID] = &entry{value: channel, pending: true, issuedAt: r.clock()}
}

// StageMessage records an optimistic message entry awaiting confirmation.
// Own messages never count as unread.
func (r *Reconciler) StageMessage(message Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.channelMessagesLocked(message.ChannelID)[message.ID] = &entry{
		value:    message,
		pending:  true,
		issuedAt: r.clock(),
	}
}

// ApplyEvent merges an authoritative broker event into the cache. The event
// always wins over a pending optimistic entry for the same entity id, and
// unknown entities are inserted. Payloads are decoded structurally, so the
// reconciler accepts whatever DTO shape the publishing service uses as long
// as the JSON field names line up.
func (r *Reconciler) ApplyEvent(event realtime.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch event.Type {
	case realtime.EventChannelCreated, realtime.EventChannelUpdated:
		channel, ok := decodePayload[Channel](event.Data)
		if !ok {
			return
		}
		r.channels[channel.ID] = &entry{value: channel}

	case realtime.EventChannelDeleted:
		channel, ok := decodePayload[Channel](event.Data)
		if !ok {
			return
		}
		delete(r.channels, channel.ID)
		delete(r.messages, channel.ID)
		delete(r.unread, channel.ID)

	case realtime.EventMessageCreated:
		message, ok := decodePayload[Message](event.Data)
		if !ok {
			return
		}
		messages := r.channelMessagesLocked(message.ChannelID)
		_, known := messages[message.ID]
		messages[message.ID] = &entry{value: message}
		if !known && message.UserID != r.userID {
			r.unread[message.ChannelID]++
		}

	case realtime.EventMessageUpdated:
		message, ok := decodePayload[Message](event.Data)
		if !ok {
			return
		}
		r.channelMessagesLocked(message.ChannelID)[message.ID] = &entry{value: message}

	case realtime.EventMessageDeleted:
		message, ok := decodePayload[Message](event.Data)
		if !ok {
			return
		}
		delete(r.channelMessagesLocked(message.ChannelID), message.ID)

	case realtime.EventChannelRead:
		state, ok := decodePayload[ReadState](event.Data)
		if !ok || state.UserID != r.userID {
			return
		}
		r.unread[state.ChannelID] = 0
	}
}

// decodePayload converts an event payload into the reconciler's view type.
// In-process events carry service DTOs (or this package's own types); events
// relayed through a websocket arrive as json.RawMessage. All of them round-trip
// through JSON into T keyed on field names.
func decodePayload[T any](data any) (T, bool) {
	if typed, ok := data.(T); ok {
		return typed, true
	}

	var out T
	if data == nil {
		return out, false
	}

	raw, ok := data.(json.RawMessage)
	if !ok {
		encoded, err := json.Marshal(data)
		if err != nil {
			return out, false
		}
		raw = encoded
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false
	}
	return out, true
}

// ResetChannels replaces the cached channel list and unread counts with a
// freshly fetched authoritative snapshot, dropping any pending entries.
func (r *Reconciler) ResetChannels(channels []Channel, unread map[string]int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.channels = make(map[string]*entry, len(channels))
	for _, channel := range channels {
		r.channels[channel.ID] = &entry{value: channel}
	}
	r.unread = make(map[string]int, len(unread))
	for channelID, count := range unread {
		r.unread[channelID] = count
	}
}

// ResetMessages replaces one channel's cached messages with an authoritative
// snapshot.
func (r *Reconciler) ResetMessages(channelID string, messages []Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fresh := make(map[string]*entry, len(messages))
	for _, message := range messages {
		fresh[message.ID] = &entry{value: message}
	}
	r.messages[channelID] = fresh
}

// Channels returns the cached channels sorted by name.
func (r *Reconciler) Channels() []Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	channels := make([]Channel, 0, len(r.channels))
	for _, e := range r.channels {
		channels = append(channels, e.value.(Channel))
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i].Name < channels[j].Name })
	return channels
}

// Messages returns one channel's cached messages oldest-first.
func (r *Reconciler) Messages(channelID string) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.messages[channelID]
	messages := make([]Message, 0, len(entries))
	for _, e := range entries {
		messages = append(messages, e.value.(Message))
	}
	sort.Slice(messages, func(i, j int) bool {
		if messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].ID < messages[j].ID
		}
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	return messages
}

// UnreadCount returns the cached unread count for a channel.
func (r *Reconciler) UnreadCount(channelID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unread[channelID]
}

// Unconfirmed returns the ids of optimistic entries that have waited longer
// than bound for server confirmation, so the UI can mark them.
func (r *Reconciler) Unconfirmed(bound time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.clock().Add(-bound)
	var ids []string
	for id, e := range r.channels {
		if e.pending && e.issuedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	for _, entries := range r.messages {
		for id, e := range entries {
			if e.pending && e.issuedAt.Before(cutoff) {
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return ids
}

func (r *Reconciler) channelMessagesLocked(channelID string) map[string]*entry {
	messages, ok := r.messages[channelID]
	if !ok {
		messages = make(map[string]*entry)
		r.messages[channelID] = messages
	}
	return messages
}
