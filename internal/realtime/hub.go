package realtime

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/atelier-studio/atelier/pkg/logger"
	"github.com/atelier-studio/atelier/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1 MiB

	defaultBufferSize = 64
)

// Event is a JSON payload delivered to realtime subscribers. Type names the
// domain occurrence (for example "message:created"); Data carries the DTO the
// client reconciles against.
type Event struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
	Data  any    `json:"data,omitempty"`
}

type controlMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// TopicAuthorizer decides whether a user may subscribe to a topic. A nil
// authorizer permits everything, which is only appropriate in tests.
type TopicAuthorizer func(userID, topic string) bool

// Hub fans realtime events out to websocket subscribers, keyed by topic.
// Delivery is at-least-once for connected clients; nothing is buffered for
// clients that are offline or reconnecting.
type Hub struct {
	mu        sync.RWMutex
	topics    map[string]map[*connection]struct{}
	authorize TopicAuthorizer
	upgrader  websocket.Upgrader
}

// NewHub constructs a realtime hub guarded by the supplied authorizer.
func NewHub(authorize TopicAuthorizer) *Hub {
	return &Hub{
		topics:    make(map[string]map[*connection]struct{}),
		authorize: authorize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Allow same-origin requests and explicit localhost development.
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				originHost := hostWithoutPort(origin)
				requestHost := hostWithoutPort(r.Host)
				return originHost == requestHost || isLoopback(originHost)
			},
		},
	}
}

// Serve upgrades the HTTP connection to a websocket and subscribes the client
// to the initially requested topics. It blocks until the connection closes.
func (h *Hub) Serve(userID string, topics []string, w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("realtime: upgrade failed", zap.Error(err))
		return
	}

	client := newConnection(h, conn, userID)
	metrics.RealtimeConnections.Inc()
	h.subscribe(client, topics)

	go client.writeLoop()
	client.readLoop()
}

// Publish delivers an event to every connection subscribed to the topic.
// Slow consumers whose buffers are full are disconnected rather than allowed
// to stall the rest of the topic.
func (h *Hub) Publish(topic string, event Event) {
	topic = normalizeTopic(topic)
	if topic == "" {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	subscribers, ok := h.topics[topic]
	if !ok {
		return
	}

	event.Topic = topic
	for client := range subscribers {
		h.enqueue(client, event)
	}
}

// PublishToUser delivers an event only to the topic subscribers belonging to
// the supplied user.
func (h *Hub) PublishToUser(topic, userID string, event Event) {
	topic = normalizeTopic(topic)
	if topic == "" || userID == "" {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	subscribers, ok := h.topics[topic]
	if !ok {
		return
	}

	event.Topic = topic
	for client := range subscribers {
		if client.userID == userID {
			h.enqueue(client, event)
		}
	}
}

// SubscriberCount reports how many connections are subscribed to a topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[normalizeTopic(topic)])
}

func (h *Hub) subscribe(client *connection, topics []string) {
	if len(topics) == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, topic := range uniqueTopics(topics) {
		if !h.isAllowed(client.userID, topic) {
			logger.Warn("realtime: ignoring unauthorized topic",
				zap.String("topic", topic),
				zap.String("user_id", client.userID))
			continue
		}
		if client.topics == nil {
			client.topics = make(map[string]struct{})
		}
		if _, exists := client.topics[topic]; exists {
			continue
		}

		if h.topics[topic] == nil {
			h.topics[topic] = make(map[*connection]struct{})
		}

		client.topics[topic] = struct{}{}
		h.topics[topic][client] = struct{}{}
		metrics.RealtimeSubscriptions.Inc()
	}
}

func (h *Hub) unsubscribe(client *connection, topics []string) {
	if len(topics) == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, topic := range uniqueTopics(topics) {
		h.removeSubscriptionLocked(client, topic)
	}
}

func (h *Hub) unregister(client *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for topic := range client.topics {
		h.removeSubscriptionLocked(client, topic)
	}
}

func (h *Hub) removeSubscriptionLocked(client *connection, topic string) {
	topic = normalizeTopic(topic)
	if topic == "" {
		return
	}

	subscribers, ok := h.topics[topic]
	if !ok {
		return
	}

	delete(subscribers, client)
	if len(subscribers) == 0 {
		delete(h.topics, topic)
	}
	if _, subscribed := client.topics[topic]; subscribed {
		delete(client.topics, topic)
		metrics.RealtimeSubscriptions.Dec()
	}
}

func (h *Hub) isAllowed(userID, topic string) bool {
	if h.authorize == nil {
		return true
	}
	return h.authorize(userID, topic)
}

func (h *Hub) enqueue(client *connection, event Event) {
	select {
	case client.send <- event:
	default:
		logger.Warn("realtime: disconnecting backpressure client",
			zap.String("user_id", client.userID))
		client.close()
	}
}

type connection struct {
	hub    *Hub
	socket *websocket.Conn
	userID string
	topics map[string]struct{}
	send   chan Event
	once   sync.Once
}

func newConnection(hub *Hub, conn *websocket.Conn, userID string) *connection {
	return &connection{
		hub:    hub,
		socket: conn,
		userID: userID,
		send:   make(chan Event, defaultBufferSize),
	}
}

func (c *connection) readLoop() {
	defer c.close()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("realtime: unexpected close",
					zap.String("user_id", c.userID), zap.Error(err))
			}
			break
		}

		if len(payload) == 0 {
			continue
		}

		var ctrl controlMessage
		if err := json.Unmarshal(payload, &ctrl); err != nil {
			logger.Warn("realtime: invalid control payload",
				zap.String("user_id", c.userID), zap.Error(err))
			continue
		}

		switch strings.ToLower(strings.TrimSpace(ctrl.Action)) {
		case "subscribe":
			c.hub.subscribe(c, ctrl.Topics)
		case "unsubscribe":
			c.hub.unsubscribe(c, ctrl.Topics)
		case "ping":
			// Clients can send ping control messages; reply with pong.
			c.send <- Event{Type: "pong"}
		default:
			logger.Warn("realtime: unsupported control action",
				zap.String("action", ctrl.Action), zap.String("user_id", c.userID))
		}
	}
}

func (c *connection) writeLoop() {
	defer c.close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *connection) close() {
	c.once.Do(func() {
		metrics.RealtimeConnections.Dec()
		c.hub.unregister(c)
		close(c.send)
		if c.socket != nil {
			_ = c.socket.Close()
		}
	})
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		parsed, err := http.NewRequest(http.MethodGet, host, nil)
		if err == nil {
			return hostWithoutPort(parsed.URL.Host)
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	if ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}

func normalizeTopic(topic string) string {
	return strings.ToLower(strings.TrimSpace(topic))
}

func uniqueTopics(topics []string) []string {
	unique := make(map[string]struct{}, len(topics))
	var result []string
	for _, topic := range topics {
		if topic = normalizeTopic(topic); topic != "" {
			if _, exists := unique[topic]; !exists {
				unique[topic] = struct{}{}
				result = append(result, topic)
			}
		}
	}
	return result
}
