package streamers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/streampulse/backend/internal/twitch"
	"github.com/streampulse/backend/pkg/response"
)

// Handler exposes the streamer registry and admin subscription endpoints.
type Handler struct {
	manager  *Manager
	repo     *Repository
	twitch   *twitch.Client
	defaults []string
	logger   *zap.Logger
}

// NewHandler creates a streamers handler. defaults is the configured list
// of logins registered at startup, re-applied by ReloadDefaults.
func NewHandler(manager *Manager, repo *Repository, client *twitch.Client, defaults []string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{manager: manager, repo: repo, twitch: client, defaults: defaults, logger: logger}
}

type addStreamerRequest struct {
	Username string `json:"username" binding:"required"`
}

// Add handles POST /streamers.
func (h *Handler) Add(c *gin.Context) {
	var req addStreamerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "username is required")
		return
	}
	streamer, err := h.manager.AddStreamer(c.Request.Context(), req.Username)
	if err != nil {
		if errors.Is(err, ErrStreamerNotFound) {
			response.NotFound(c, "no such user: "+req.Username)
			return
		}
		h.logger.Error("add streamer failed", zap.String("username", req.Username), zap.Error(err))
		response.Internal(c, "failed to add streamer")
		return
	}
	response.Created(c, streamer)
}

// Remove handles DELETE /streamers/:username.
func (h *Handler) Remove(c *gin.Context) {
	username := c.Param("username")
	if err := h.manager.RemoveStreamer(c.Request.Context(), username); err != nil {
		if errors.Is(err, ErrStreamerNotFound) {
			response.NotFound(c, "streamer not tracked: "+username)
			return
		}
		h.logger.Error("remove streamer failed", zap.String("username", username), zap.Error(err))
		response.Internal(c, "failed to remove streamer")
		return
	}
	response.OK(c, gin.H{"removed": username})
}

// List handles GET /streamers.
func (h *Handler) List(c *gin.Context) {
	streamers, err := h.repo.ListActive(c.Request.Context())
	if err != nil {
		h.logger.Error("list streamers failed", zap.Error(err))
		response.Internal(c, "failed to load streamers")
		return
	}
	response.OK(c, gin.H{"streamers": streamers, "count": len(streamers)})
}

// GetStatus handles GET /streamers/:username/status.
func (h *Handler) GetStatus(c *gin.Context) {
	username := c.Param("username")
	status, err := h.manager.GetStreamStatus(c.Request.Context(), username)
	if err != nil {
		if errors.Is(err, ErrStreamerNotFound) {
			response.NotFound(c, "streamer not tracked: "+username)
			return
		}
		h.logger.Error("get status failed", zap.String("username", username), zap.Error(err))
		response.Internal(c, "failed to load stream status")
		return
	}
	response.OK(c, status)
}

// ListLive handles GET /streams/live.
func (h *Handler) ListLive(c *gin.Context) {
	statuses, err := h.repo.ListLive(c.Request.Context())
	if err != nil {
		h.logger.Error("list live streams failed", zap.Error(err))
		response.Internal(c, "failed to load live streams")
		return
	}
	response.OK(c, gin.H{"live_streams": statuses, "count": len(statuses)})
}

// ReloadDefaults handles POST /admin/streamers/reload: re-registers the
// configured default streamers.
func (h *Handler) ReloadDefaults(c *gin.Context) {
	h.manager.EnsureDefaults(c.Request.Context(), h.defaults)
	response.OK(c, gin.H{"defaults": h.defaults, "count": len(h.defaults)})
}

// ListSubscriptions handles GET /admin/subscriptions.
func (h *Handler) ListSubscriptions(c *gin.Context) {
	subs, err := h.twitch.ListSubscriptions(c.Request.Context())
	if err != nil {
		h.logger.Error("list subscriptions failed", zap.Error(err))
		response.Internal(c, "failed to list subscriptions")
		return
	}
	response.OK(c, gin.H{"subscriptions": subs, "count": len(subs)})
}

// ValidateSubscriptions handles POST /admin/subscriptions/validate.
func (h *Handler) ValidateSubscriptions(c *gin.Context) {
	report, err := h.manager.ValidateAndFixSubscriptions(c.Request.Context())
	if err != nil {
		h.logger.Error("subscription sweep failed", zap.Error(err))
		response.Internal(c, "failed to validate subscriptions")
		return
	}
	response.OK(c, report)
}

// CleanupSubscriptions handles POST /admin/subscriptions/cleanup. Removes
// subscriptions pointing at this service's callback URL.
func (h *Handler) CleanupSubscriptions(c *gin.Context) {
	removed, err := h.twitch.CleanupWebhookSubscriptions(c.Request.Context())
	if err != nil {
		h.logger.Error("subscription cleanup failed", zap.Error(err))
		response.Internal(c, "failed to clean up subscriptions")
		return
	}
	response.OK(c, gin.H{"removed": removed})
}

// DeleteAllSubscriptions handles DELETE /admin/subscriptions.
func (h *Handler) DeleteAllSubscriptions(c *gin.Context) {
	removed, err := h.twitch.DeleteAllSubscriptions(c.Request.Context())
	if err != nil {
		h.logger.Error("delete all subscriptions failed", zap.Error(err))
		response.Internal(c, "failed to delete subscriptions")
		return
	}
	response.OK(c, gin.H{"removed": removed})
}
