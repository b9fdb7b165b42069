// Package webhooks receives EventSub notifications: signature verification,
// the callback-verification challenge handshake, replay suppression and
// dispatch into the session tracker.
package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/streampulse/backend/internal/models"
	"github.com/streampulse/backend/pkg/metrics"
)

// SignalHandler consumes live/offline transitions. Implemented by the
// analytics tracker.
type SignalHandler interface {
	HandleLiveSignal(ctx context.Context, broadcasterID string, observedAt time.Time, meta models.SessionMeta) error
	HandleOfflineSignal(ctx context.Context, broadcasterID string, observedAt time.Time) error
}

// EventRecorder appends raw notifications to the event log.
type EventRecorder interface {
	RecordEvent(ctx context.Context, event *models.StreamEvent) error
}

// StatusUpdater applies event-derived live state. Implemented by the
// streamer repository.
type StatusUpdater interface {
	ApplyEventStatus(ctx context.Context, broadcasterID, login, name, eventType string, occurredAt time.Time) error
}

// Publisher pushes events to connected realtime clients.
type Publisher interface {
	PublishEvent(eventType string, payload any)
}

// replayGuard remembers recently seen EventSub message ids so redelivered
// messages are acknowledged without being reprocessed. Memory is bounded:
// the oldest ids are evicted in insertion order.
type replayGuard struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
	limit int
}

func newReplayGuard(limit int) *replayGuard {
	return &replayGuard{
		seen:  make(map[string]struct{}, limit),
		limit: limit,
	}
}

// Seen reports whether the id was already recorded.
func (g *replayGuard) Seen(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.seen[id]
	return ok
}

// Mark records the id, evicting the oldest beyond the limit. Ids are
// marked only after a message is fully processed, so a retry of a failed
// delivery is not mistaken for a replay.
func (g *replayGuard) Mark(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.seen[id]; ok {
		return
	}
	g.seen[id] = struct{}{}
	g.order = append(g.order, id)
	if len(g.order) > g.limit {
		delete(g.seen, g.order[0])
		g.order = g.order[1:]
	}
}

// Handler is the EventSub webhook endpoint.
type Handler struct {
	secret    string
	tracker   SignalHandler
	events    EventRecorder
	statuses  StatusUpdater
	publisher Publisher
	guard     *replayGuard
	logger    *zap.Logger
}

// NewHandler creates the webhook handler. events, statuses and publisher
// may be nil; the corresponding side effects are skipped.
func NewHandler(secret string, tracker SignalHandler, events EventRecorder, statuses StatusUpdater, publisher Publisher, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		secret:    secret,
		tracker:   tracker,
		events:    events,
		statuses:  statuses,
		publisher: publisher,
		guard:     newReplayGuard(4096),
		logger:    logger,
	}
}

// Receive handles POST /webhooks/twitch.
func (h *Handler) Receive(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.String(http.StatusBadRequest, "cannot read body")
		return
	}

	messageID := c.GetHeader(HeaderMessageID)
	timestamp := c.GetHeader(HeaderMessageTimestamp)
	signature := c.GetHeader(HeaderMessageSignature)
	if !VerifySignature(h.secret, messageID, timestamp, signature, body) {
		h.logger.Warn("webhook signature verification failed",
			zap.String("message_id", messageID))
		c.String(http.StatusForbidden, "invalid signature")
		return
	}

	var notification models.EventSubNotification
	if err := json.Unmarshal(body, &notification); err != nil {
		h.logger.Warn("malformed webhook body", zap.Error(err))
		c.String(http.StatusBadRequest, "malformed body")
		return
	}

	switch c.GetHeader(HeaderMessageType) {
	case MessageTypeVerification:
		// The challenge must be echoed back verbatim as plain text.
		c.String(http.StatusOK, notification.Challenge)
		return
	case MessageTypeRevocation:
		h.logger.Warn("subscription revoked",
			zap.String("subscription_id", notification.Subscription.ID),
			zap.String("type", notification.Subscription.Type),
			zap.String("status", notification.Subscription.Status))
		c.Status(http.StatusNoContent)
		return
	case MessageTypeNotification:
		if h.guard.Seen(messageID) {
			metrics.DuplicateEventsTotal.Inc()
			h.logger.Debug("redelivered message acknowledged",
				zap.String("message_id", messageID))
			c.Status(http.StatusNoContent)
			return
		}
		if h.handleNotification(c, &notification, timestamp) {
			h.guard.Mark(messageID)
		}
	default:
		c.Status(http.StatusNoContent)
	}
}

// handleNotification dispatches the event and reports whether it was
// fully processed. A false return leaves the message unmarked in the
// replay guard so the sender's retry is processed instead of swallowed.
func (h *Handler) handleNotification(c *gin.Context, n *models.EventSubNotification, timestamp string) bool {
	ctx := c.Request.Context()
	observedAt := parseTimestamp(timestamp)

	switch n.Subscription.Type {
	case models.EventStreamOnline:
		var event models.StreamOnlineEvent
		if err := json.Unmarshal(n.Event, &event); err != nil {
			h.logger.Warn("malformed stream.online event", zap.Error(err))
			c.String(http.StatusBadRequest, "malformed event")
			return false
		}
		if startedAt, err := time.Parse(time.RFC3339, event.StartedAt); err == nil {
			observedAt = startedAt
		}
		metrics.EventsReceivedTotal.WithLabelValues(models.EventStreamOnline).Inc()
		meta := models.SessionMeta{
			BroadcasterLogin: event.BroadcasterUserLogin,
			BroadcasterName:  event.BroadcasterUserName,
		}
		if err := h.tracker.HandleLiveSignal(ctx, event.BroadcasterUserID, observedAt, meta); err != nil {
			h.logger.Error("live signal failed",
				zap.String("broadcaster_id", event.BroadcasterUserID), zap.Error(err))
			c.String(http.StatusInternalServerError, "processing failed")
			return false
		}
		h.sideEffects(ctx, models.EventStreamOnline, event.BroadcasterUserID,
			event.BroadcasterUserLogin, event.BroadcasterUserName, observedAt, n.Event)

	case models.EventStreamOffline:
		var event models.StreamOfflineEvent
		if err := json.Unmarshal(n.Event, &event); err != nil {
			h.logger.Warn("malformed stream.offline event", zap.Error(err))
			c.String(http.StatusBadRequest, "malformed event")
			return false
		}
		metrics.EventsReceivedTotal.WithLabelValues(models.EventStreamOffline).Inc()
		if err := h.tracker.HandleOfflineSignal(ctx, event.BroadcasterUserID, observedAt); err != nil {
			h.logger.Error("offline signal failed",
				zap.String("broadcaster_id", event.BroadcasterUserID), zap.Error(err))
			c.String(http.StatusInternalServerError, "processing failed")
			return false
		}
		h.sideEffects(ctx, models.EventStreamOffline, event.BroadcasterUserID,
			event.BroadcasterUserLogin, event.BroadcasterUserName, observedAt, n.Event)

	default:
		h.logger.Debug("unhandled notification type",
			zap.String("type", n.Subscription.Type))
	}
	c.Status(http.StatusNoContent)
	return true
}

// sideEffects records the event, updates the status row and notifies
// realtime clients. Failures here never fail the webhook response: the
// session transition is already durable.
func (h *Handler) sideEffects(ctx context.Context, eventType, broadcasterID, login, name string, occurredAt time.Time, payload json.RawMessage) {
	if h.events != nil {
		event := &models.StreamEvent{
			EventType:        eventType,
			BroadcasterID:    broadcasterID,
			BroadcasterLogin: login,
			BroadcasterName:  name,
			OccurredAt:       occurredAt,
			Payload:          payload,
		}
		if err := h.events.RecordEvent(ctx, event); err != nil {
			h.logger.Error("event log write failed", zap.Error(err))
		}
	}
	if h.statuses != nil {
		if err := h.statuses.ApplyEventStatus(ctx, broadcasterID, login, name, eventType, occurredAt); err != nil {
			h.logger.Error("status update failed", zap.Error(err))
		}
	}
	if h.publisher != nil {
		h.publisher.PublishEvent(eventType, gin.H{
			"broadcaster_id":    broadcasterID,
			"broadcaster_login": login,
			"broadcaster_name":  name,
			"occurred_at":       occurredAt.UTC().Format(time.RFC3339),
		})
	}
}

func parseTimestamp(value string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Now().UTC()
}
