package analytics

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/streampulse/backend/pkg/metrics"
	"github.com/streampulse/backend/pkg/response"
)

// Handler exposes the analytics read API and the recalculation endpoint.
type Handler struct {
	store      Store
	aggregator *Aggregator
	logger     *zap.Logger
}

// NewHandler creates an analytics handler.
func NewHandler(store Store, aggregator *Aggregator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, aggregator: aggregator, logger: logger}
}

// GetSummary handles GET /analytics/summary.
func (h *Handler) GetSummary(c *gin.Context) {
	summary, err := h.store.GetSummary(c.Request.Context())
	if err != nil {
		h.logger.Error("analytics summary failed", zap.Error(err))
		response.Internal(c, "failed to load analytics summary")
		return
	}
	response.OK(c, summary)
}

// GetStreamerStats handles GET /analytics/streamer/:login/stats.
// Returns the cached (possibly stale) aggregate.
func (h *Handler) GetStreamerStats(c *gin.Context) {
	login := c.Param("login")
	stats, err := h.store.GetStatsByLogin(c.Request.Context(), login)
	if err != nil {
		h.logger.Error("get streamer stats failed", zap.String("login", login), zap.Error(err))
		response.Internal(c, "failed to load streamer stats")
		return
	}
	if stats == nil {
		response.NotFound(c, "no analytics data found for "+login)
		return
	}
	response.OK(c, stats)
}

// GetStreamerSessions handles GET /analytics/streamer/:login/sessions.
func (h *Handler) GetStreamerSessions(c *gin.Context) {
	login := c.Param("login")
	limit := queryInt(c, "limit", 50, 500)
	sessions, err := h.store.ListRecentSessions(c.Request.Context(), login, limit)
	if err != nil {
		h.logger.Error("list sessions failed", zap.String("login", login), zap.Error(err))
		response.Internal(c, "failed to load sessions")
		return
	}
	response.OK(c, gin.H{"broadcaster_login": login, "sessions": sessions, "count": len(sessions)})
}

// GetSnapshots handles GET /analytics/snapshots.
func (h *Handler) GetSnapshots(c *gin.Context) {
	login := c.Query("broadcaster_login")
	limit := queryInt(c, "limit", 100, 1000)
	snapshots, err := h.store.ListRecentSnapshots(c.Request.Context(), login, limit)
	if err != nil {
		h.logger.Error("list snapshots failed", zap.String("login", login), zap.Error(err))
		response.Internal(c, "failed to load snapshots")
		return
	}
	response.OK(c, gin.H{"snapshots": snapshots, "count": len(snapshots), "broadcaster_login": login})
}

// GetTopStreamersByHours handles GET /analytics/top-streamers/hours.
func (h *Handler) GetTopStreamersByHours(c *gin.Context) {
	limit := queryInt(c, "limit", 10, 50)
	streamers, err := h.store.TopStatsByHours(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("top streamers failed", zap.Error(err))
		response.Internal(c, "failed to load top streamers")
		return
	}
	response.OK(c, gin.H{"top_streamers": streamers, "count": len(streamers)})
}

// Recalculate handles POST /analytics/streamer/:login/recalculate.
// Bypasses the cache and returns freshly computed stats. This is the
// guaranteed-fresh read-through for broadcasters with an ongoing session.
func (h *Handler) Recalculate(c *gin.Context) {
	login := c.Param("login")
	ctx := c.Request.Context()

	broadcasterID, err := h.store.ResolveLogin(ctx, login)
	if err != nil {
		h.logger.Error("resolve login failed", zap.String("login", login), zap.Error(err))
		response.Internal(c, "failed to resolve broadcaster")
		return
	}
	if broadcasterID == "" {
		response.NotFound(c, "no analytics data found for "+login)
		return
	}

	stats, err := h.aggregator.ForceRecalculate(ctx, broadcasterID)
	if err != nil {
		if errors.Is(err, ErrNoData) {
			response.NotFound(c, "no analytics data found for "+login)
			return
		}
		h.logger.Error("recalculation failed", zap.String("login", login), zap.Error(err))
		response.Internal(c, "failed to recalculate stats")
		return
	}
	metrics.RecalculationsTotal.Inc()
	response.OK(c, stats)
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
