package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/anima-runtime/anima/pkg/bus"
)

// writeTimeout bounds one WebSocket send; a stalled client cannot hold up
// the broadcaster past it.
const writeTimeout = 5 * time.Second

// ClientMessage is what a WebSocket client sends: an action plus the topic
// it applies to.
type ClientMessage struct {
	Action string `json:"action"`
	Topic  string `json:"topic,omitempty"`
}

// Hub bridges the in-process event bus onto WebSocket clients. It
// subscribes to every known topic once; each client picks the topics it
// wants with subscribe/unsubscribe messages.
type Hub struct {
	logger *slog.Logger

	mu    sync.RWMutex
	conns map[string]*wsConn

	topicMu sync.RWMutex
	topics  map[string]map[string]bool // topic → set of connection ids
}

// wsConn is one connected WebSocket client.
//
// subscriptions is only touched from the goroutine running
// HandleConnection (its read loop and deferred cleanup), so it needs no
// lock.
type wsConn struct {
	id            string
	conn          *websocket.Conn
	subscriptions map[string]bool
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewHub creates a hub and registers it on every known bus topic.
func NewHub(b *bus.Bus) *Hub {
	h := &Hub{
		logger: slog.Default().With("component", "ws_hub"),
		conns:  make(map[string]*wsConn),
		topics: make(map[string]map[string]bool),
	}
	for _, topic := range bus.AllTopics {
		topic := topic
		b.Subscribe(topic, func(ctx context.Context, ev bus.Event) {
			h.broadcast(topic, ev)
		})
	}
	return h
}

// HandleConnection owns one upgraded connection; it blocks until the
// client disconnects.
func (h *Hub) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &wsConn{
		id:            uuid.New().String(),
		conn:          conn,
		subscriptions: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}

	h.register(c)
	defer h.unregister(c)

	h.sendJSON(c, map[string]string{
		"type":          "connection.established",
		"connection_id": c.id,
	})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Warn("Invalid WebSocket message", "connection_id", c.id, "error", err)
			continue
		}
		h.handleClientMessage(c, &msg)
	}
}

// ActiveConnections returns the number of connected clients.
func (h *Hub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) handleClientMessage(c *wsConn, msg *ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if !bus.KnownTopic(msg.Topic) {
			h.sendJSON(c, map[string]string{
				"type":    "subscription.error",
				"topic":   msg.Topic,
				"message": "unknown topic",
			})
			return
		}
		h.subscribe(c, msg.Topic)
		h.sendJSON(c, map[string]string{
			"type":  "subscription.confirmed",
			"topic": msg.Topic,
		})

	case "unsubscribe":
		h.unsubscribe(c, msg.Topic)

	case "ping":
		h.sendJSON(c, map[string]string{"type": "pong"})

	default:
		h.sendJSON(c, map[string]string{"type": "error", "message": "unknown action"})
	}
}

func (h *Hub) subscribe(c *wsConn, topic string) {
	h.topicMu.Lock()
	if _, ok := h.topics[topic]; !ok {
		h.topics[topic] = make(map[string]bool)
	}
	h.topics[topic][c.id] = true
	h.topicMu.Unlock()
	c.subscriptions[topic] = true
}

func (h *Hub) unsubscribe(c *wsConn, topic string) {
	h.topicMu.Lock()
	if ids, ok := h.topics[topic]; ok {
		delete(ids, c.id)
		if len(ids) == 0 {
			delete(h.topics, topic)
		}
	}
	h.topicMu.Unlock()
	delete(c.subscriptions, topic)
}

func (h *Hub) register(c *wsConn) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
}

func (h *Hub) unregister(c *wsConn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()

	h.topicMu.Lock()
	for topic := range c.subscriptions {
		if ids, ok := h.topics[topic]; ok {
			delete(ids, c.id)
			if len(ids) == 0 {
				delete(h.topics, topic)
			}
		}
	}
	h.topicMu.Unlock()
	c.cancel()
}

// subscriberCount is used by tests to poll instead of sleeping.
func (h *Hub) subscriberCount(topic string) int {
	h.topicMu.RLock()
	defer h.topicMu.RUnlock()
	return len(h.topics[topic])
}

// broadcast fans one bus event out to every subscriber of its topic.
func (h *Hub) broadcast(topic string, ev bus.Event) {
	h.topicMu.RLock()
	ids := make([]string, 0, len(h.topics[topic]))
	for id := range h.topics[topic] {
		ids = append(ids, id)
	}
	h.topicMu.RUnlock()
	if len(ids) == 0 {
		return
	}

	payload, err := json.Marshal(map[string]any{
		"type":    "event",
		"topic":   topic,
		"payload": ev.Payload,
		"at":      ev.At.Format(time.RFC3339),
	})
	if err != nil {
		h.logger.Error("Failed to marshal event", "topic", topic, "error", err)
		return
	}

	// Snapshot connections before sending so a slow client never blocks
	// register/unregister.
	h.mu.RLock()
	conns := make([]*wsConn, 0, len(ids))
	for _, id := range ids {
		if c, ok := h.conns[id]; ok {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := h.sendRaw(c, payload); err != nil {
			h.logger.Warn("Failed to send to WebSocket client", "connection_id", c.id, "error", err)
		}
	}
}

func (h *Hub) sendJSON(c *wsConn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := h.sendRaw(c, data); err != nil {
		h.logger.Warn("Failed to send to WebSocket client", "connection_id", c.id, "error", err)
	}
}

func (h *Hub) sendRaw(c *wsConn, data []byte) error {
	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}
