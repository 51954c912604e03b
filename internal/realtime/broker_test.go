package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerDeliversToTopicSubscribers(t *testing.T) {
	broker := NewBroker()

	var got []Event
	unsubscribe := broker.Subscribe(ChannelTopic("chan-1"), func(event Event) {
		got = append(got, event)
	})
	defer unsubscribe()

	broker.Publish(ChannelTopic("chan-1"), Event{Type: EventMessageCreated, Data: "a"})
	broker.Publish(ChannelTopic("chan-2"), Event{Type: EventMessageCreated, Data: "b"})

	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Data)
	assert.Equal(t, ChannelTopic("chan-1"), got[0].Topic)
}

func TestBrokerUnsubscribeIsIdempotent(t *testing.T) {
	broker := NewBroker()

	calls := 0
	unsubscribe := broker.Subscribe(ChannelTopic("chan-1"), func(Event) { calls++ })

	unsubscribe()
	unsubscribe()

	broker.Publish(ChannelTopic("chan-1"), Event{Type: EventMessageCreated})
	assert.Zero(t, calls)
	assert.Zero(t, broker.SubscriberCount(ChannelTopic("chan-1")))
}

func TestBrokerRapidResubscribeDeliversOncePerRegistration(t *testing.T) {
	broker := NewBroker()
	topic := ChannelTopic("chan-1")

	// A view remounting before the previous unsubscribe ran must not end up
	// double-subscribed once both settle.
	calls := 0
	first := broker.Subscribe(topic, func(Event) { calls++ })
	second := broker.Subscribe(topic, func(Event) { calls++ })
	first()

	broker.Publish(topic, Event{Type: EventMessageCreated})
	assert.Equal(t, 1, calls)

	second()
	broker.Publish(topic, Event{Type: EventMessageCreated})
	assert.Equal(t, 1, calls)
}

func TestBrokerPreservesPerTopicOrder(t *testing.T) {
	broker := NewBroker()
	topic := ChannelTopic("chan-1")

	var got []any
	unsubscribe := broker.Subscribe(topic, func(event Event) {
		got = append(got, event.Data)
	})
	defer unsubscribe()

	for i := 0; i < 5; i++ {
		broker.Publish(topic, Event{Type: EventMessageCreated, Data: i})
	}

	assert.Equal(t, []any{0, 1, 2, 3, 4}, got)
}

func TestBrokerSinkObservesAllTopics(t *testing.T) {
	broker := NewBroker()

	var topics []string
	detach := broker.SubscribeAll(func(topic string, event Event) {
		topics = append(topics, topic)
	})

	broker.Publish(ChannelTopic("chan-1"), Event{Type: EventMessageCreated})
	broker.Publish(ProjectChannelsTopic("proj-1"), Event{Type: EventChannelCreated})
	assert.Equal(t, []string{ChannelTopic("chan-1"), ProjectChannelsTopic("proj-1")}, topics)

	detach()
	broker.Publish(ChannelTopic("chan-1"), Event{Type: EventMessageCreated})
	assert.Len(t, topics, 2)
}
