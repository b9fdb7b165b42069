// Package poller runs the periodic viewer snapshot sweep.
package poller

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/streampulse/backend/config"
	"github.com/streampulse/backend/internal/analytics"
	"github.com/streampulse/backend/internal/models"
	"github.com/streampulse/backend/internal/streamers"
	"github.com/streampulse/backend/internal/twitch"
	"github.com/streampulse/backend/pkg/metrics"
)

// Poller samples viewer counts for all live broadcasters on a fixed
// interval and keeps the status table in sync with what Helix reports.
// Polling also acts as a safety net against lost offline notifications:
// a broadcaster the webhook thinks is live but Helix reports offline gets
// its status corrected here.
type Poller struct {
	repo     *streamers.Repository
	twitch   *twitch.Client
	recorder *analytics.Recorder
	tracker  *analytics.Tracker
	cfg      config.PollerConfig
	logger   *zap.Logger
}

// New creates a poller.
func New(repo *streamers.Repository, client *twitch.Client, recorder *analytics.Recorder, tracker *analytics.Tracker, cfg config.PollerConfig, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		repo:     repo,
		twitch:   client,
		recorder: recorder,
		tracker:  tracker,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run executes sweeps until ctx is cancelled. The first sweep runs
// immediately.
func (p *Poller) Run(ctx context.Context) {
	interval := time.Duration(p.cfg.IntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	p.logger.Info("snapshot poller started", zap.Duration("interval", interval))

	p.sweep(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("snapshot poller stopping")
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

// sweep fetches live streams for all active streamers, records one
// snapshot per live broadcaster and reconciles statuses. A failure for
// one broadcaster never aborts the rest of the sweep.
func (p *Poller) sweep(ctx context.Context) {
	active, err := p.repo.ListActive(ctx)
	if err != nil {
		p.logger.Error("sweep aborted: list streamers failed", zap.Error(err))
		return
	}
	if len(active) == 0 {
		return
	}

	ids := make([]string, 0, len(active))
	for _, s := range active {
		ids = append(ids, s.UserID)
	}
	streams, err := p.twitch.GetStreams(ctx, ids)
	if err != nil {
		p.logger.Error("sweep aborted: fetch streams failed", zap.Error(err))
		return
	}
	live := make(map[string]twitch.Stream, len(streams))
	for _, stream := range streams {
		live[stream.UserID] = stream
	}
	metrics.LiveBroadcasters.Set(float64(len(live)))

	captured := 0
	for _, s := range active {
		stream, isLive := live[s.UserID]
		if isLive {
			if err := p.captureSnapshot(ctx, stream); err != nil {
				p.logger.Error("snapshot capture failed",
					zap.String("username", s.Username), zap.Error(err))
			} else {
				captured++
			}
		}
		p.reconcileStatus(ctx, s, stream, isLive)
	}
	p.logger.Info("sweep completed",
		zap.Int("streamers", len(active)),
		zap.Int("live", len(live)),
		zap.Int("snapshots", captured))
}

func (p *Poller) captureSnapshot(ctx context.Context, stream twitch.Stream) error {
	snap := &models.StreamSnapshot{
		BroadcasterID:    stream.UserID,
		BroadcasterLogin: stream.UserLogin,
		BroadcasterName:  stream.UserName,
		StreamID:         stream.ID,
		CategoryID:       stream.GameID,
		CategoryName:     stream.GameName,
		Title:            stream.Title,
		Language:         stream.Language,
		ViewerCount:      stream.ViewerCount,
	}
	if started, err := time.Parse(time.RFC3339, stream.StartedAt); err == nil {
		snap.StartedAt = &started
	}
	if err := p.recorder.Record(ctx, snap); err != nil {
		return err
	}
	metrics.SnapshotsCapturedTotal.Inc()
	return nil
}

// reconcileStatus updates the status row from poll results. When the
// status table says live but Helix says offline, the offline notification
// was lost; the open session is closed at poll time. A row that stays
// offline is rewritten only once its last update falls outside the stale
// window, so steady-state sweeps skip the write for idle streamers.
func (p *Poller) reconcileStatus(ctx context.Context, s models.Streamer, stream twitch.Stream, isLive bool) {
	prev, err := p.repo.GetStatus(ctx, s.UserID)
	if err != nil {
		p.logger.Error("status lookup failed", zap.String("username", s.Username), zap.Error(err))
		return
	}
	if offlineStatusFresh(prev, isLive, time.Now().UTC(), p.staleAfter()) {
		return
	}

	status := &models.StreamStatus{
		UserID:      s.UserID,
		Username:    s.Username,
		DisplayName: s.DisplayName,
		IsLive:      isLive,
	}
	if prev != nil {
		status.LastEventType = prev.LastEventType
	}
	if isLive {
		status.ViewerCount = stream.ViewerCount
		status.CategoryName = stream.GameName
		status.Title = stream.Title
		if started, err := time.Parse(time.RFC3339, stream.StartedAt); err == nil {
			status.StartedAt = &started
		}
	}

	if prev != nil && prev.IsLive && !isLive && p.tracker != nil {
		p.logger.Warn("poll detected missed offline transition",
			zap.String("username", s.Username))
		if err := p.tracker.HandleOfflineSignal(ctx, s.UserID, time.Now().UTC()); err != nil {
			p.logger.Error("poll-driven session close failed",
				zap.String("username", s.Username), zap.Error(err))
		}
	}

	if err := p.repo.UpsertStatus(ctx, status); err != nil {
		p.logger.Error("status update failed", zap.String("username", s.Username), zap.Error(err))
	}
}

func (p *Poller) staleAfter() time.Duration {
	if p.cfg.StaleAfterMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(p.cfg.StaleAfterMinutes) * time.Minute
}

// offlineStatusFresh reports whether an offline status row was refreshed
// recently enough to leave untouched. Any live broadcaster, missing row or
// live-to-offline transition always gets written.
func offlineStatusFresh(prev *models.StreamStatus, isLive bool, now time.Time, staleAfter time.Duration) bool {
	if isLive || prev == nil || prev.IsLive {
		return false
	}
	return now.Sub(prev.LastUpdated) < staleAfter
}
