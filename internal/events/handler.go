package events

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/streampulse/backend/internal/models"
	"github.com/streampulse/backend/pkg/response"
)

// Handler exposes the event log read API.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates an events handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

// List handles GET /events.
func (h *Handler) List(c *gin.Context) {
	limit := queryInt(c, "limit", 50, 500)
	events, err := h.repo.ListRecent(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("list events failed", zap.Error(err))
		response.Internal(c, "failed to load events")
		return
	}
	response.OK(c, gin.H{"events": events, "count": len(events)})
}

// ListByType handles GET /events/type/:type.
func (h *Handler) ListByType(c *gin.Context) {
	eventType := c.Param("type")
	if eventType != models.EventStreamOnline && eventType != models.EventStreamOffline {
		response.BadRequest(c, "event type must be stream.online or stream.offline")
		return
	}
	limit := queryInt(c, "limit", 50, 500)
	events, err := h.repo.ListByType(c.Request.Context(), eventType, limit)
	if err != nil {
		h.logger.Error("list events by type failed", zap.String("type", eventType), zap.Error(err))
		response.Internal(c, "failed to load events")
		return
	}
	response.OK(c, gin.H{"event_type": eventType, "events": events, "count": len(events)})
}

// ListByStreamer handles GET /events/streamer/:username.
func (h *Handler) ListByStreamer(c *gin.Context) {
	username := c.Param("username")
	limit := queryInt(c, "limit", 50, 500)
	events, err := h.repo.ListByLogin(c.Request.Context(), username, limit)
	if err != nil {
		h.logger.Error("list events by streamer failed", zap.String("username", username), zap.Error(err))
		response.Internal(c, "failed to load events")
		return
	}
	response.OK(c, gin.H{"broadcaster_login": username, "events": events, "count": len(events)})
}

func queryInt(c *gin.Context, key string, fallback, max int) int {
	v, err := strconv.Atoi(c.DefaultQuery(key, strconv.Itoa(fallback)))
	if err != nil || v < 1 {
		return fallback
	}
	if v > max {
		return max
	}
	return v
}
