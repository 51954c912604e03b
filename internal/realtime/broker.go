package realtime

import (
	"strings"
	"sync"

	"github.com/atelier-studio/atelier/pkg/metrics"
)

// Handler receives the changed entity for a topic, not a diff.
type Handler func(Event)

// SinkHandler observes every published event regardless of topic.
type SinkHandler func(topic string, event Event)

// Broker distributes store change events to in-process subscribers. Services
// publish immediately after commit, so per-topic delivery order follows the
// store's commit order. Nothing is buffered: a handler registered after an
// event was published never sees it, and callers re-fetch full state after a
// gap.
type Broker struct {
	mu     sync.RWMutex
	nextID uint64
	topics map[string]map[uint64]Handler
	sinks  map[uint64]SinkHandler
}

// NewBroker constructs an empty broker.
func NewBroker() *Broker {
	return &Broker{
		topics: make(map[string]map[uint64]Handler),
		sinks:  make(map[uint64]SinkHandler),
	}
}

// Subscribe registers a handler for a topic and returns its unsubscribe
// function. The returned function is safe to call more than once, and a
// handler resubscribing before a previous unsubscribe completes receives each
// event exactly once per live registration.
func (b *Broker) Subscribe(topic string, handler Handler) func() {
	topic = normalizeTopic(topic)
	if topic == "" || handler == nil {
		return func() {}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[uint64]Handler)
	}
	b.topics[topic][id] = handler
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			handlers, ok := b.topics[topic]
			if !ok {
				return
			}
			delete(handlers, id)
			if len(handlers) == 0 {
				delete(b.topics, topic)
			}
		})
	}
}

// SubscribeAll registers a sink that observes every event. The websocket hub
// attaches this way so one publish reaches both in-process and remote
// subscribers.
func (b *Broker) SubscribeAll(sink SinkHandler) func() {
	if sink == nil {
		return func() {}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.sinks[id] = sink
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.sinks, id)
		})
	}
}

// Publish dispatches an event synchronously to every subscriber of the topic
// and every sink. Handlers must not block.
func (b *Broker) Publish(topic string, event Event) {
	topic = normalizeTopic(topic)
	if topic == "" {
		return
	}
	event.Topic = topic
	metrics.EventsPublished.WithLabelValues(topicKind(topic)).Inc()

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, handler := range b.topics[topic] {
		handler(event)
	}
	for _, sink := range b.sinks {
		sink(topic, event)
	}
}

// topicKind collapses a topic to its family (the segment before the first
// colon) so the published-events counter stays low cardinality.
func topicKind(topic string) string {
	if idx := strings.IndexByte(topic, ':'); idx > 0 {
		return topic[:idx]
	}
	return topic
}

// SubscriberCount reports the number of live registrations on a topic.
func (b *Broker) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[normalizeTopic(topic)])
}
