// Package realtime pushes live/offline events to WebSocket subscribers.
// The feed is a single read-only channel; clients never send domain
// messages.
package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// Publisher publishes feed events to Redis for cross-instance delivery.
type Publisher interface {
	PublishFeedEvent(event string, payload []byte) error
}

// Subscriber subscribes to the feed channel and invokes handler for
// incoming events.
type Subscriber interface {
	SubscribeFeed(handler func(event string, payload []byte)) (cancel func(), err error)
}

// Hub maintains the set of connected feed clients and broadcasts events.
// With Redis wired, events are published and the subscription callback
// performs the local broadcast once for all instances (this one included),
// avoiding duplicate delivery. Without Redis the broadcast is local only.
type Hub struct {
	clients map[string]*Client
	mu      sync.RWMutex
	logger  *zap.Logger
	pub     Publisher
	cancel  func()
}

// NewHub creates a feed hub. pub and sub may be nil for instance-local
// operation.
func NewHub(logger *zap.Logger, pub Publisher, sub Subscriber) *Hub {
	h := &Hub{
		clients: make(map[string]*Client),
		logger:  logger,
		pub:     pub,
	}
	if sub != nil {
		cancel, err := sub.SubscribeFeed(func(event string, payload []byte) {
			h.broadcast(event, json.RawMessage(payload))
		})
		if err != nil {
			logger.Error("feed subscription failed, running instance-local", zap.Error(err))
			h.pub = nil
		} else {
			h.cancel = cancel
		}
	}
	return h
}

// Close stops the Redis subscription.
func (h *Hub) Close() {
	if h.cancel != nil {
		h.cancel()
	}
}

// Register adds a connected client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("feed client connected", zap.String("client_id", c.ID), zap.Int("clients", total))
}

// Unregister removes a client.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.ID)
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("feed client disconnected", zap.String("client_id", c.ID), zap.Int("clients", total))
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// PublishEvent delivers an event to all feed subscribers across instances.
func (h *Hub) PublishEvent(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if h.pub != nil {
		if err := h.pub.PublishFeedEvent(event, data); err == nil {
			return
		}
		h.logger.Warn("feed publish failed, broadcasting locally", zap.String("event", event))
	}
	h.broadcast(event, json.RawMessage(data))
}

// broadcast sends a message to all local clients. Slow clients with a
// full buffer are skipped.
func (h *Hub) broadcast(event string, data json.RawMessage) {
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}
