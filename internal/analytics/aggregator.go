package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/streampulse/backend/internal/models"
)

// Aggregator computes per-broadcaster aggregate statistics from raw
// sessions and snapshots. ComputeStats is a pure read; the only write this
// type performs is the final replace-upsert of the StreamerStats record,
// so recomputation is always safe to repeat.
type Aggregator struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewAggregator creates a stats aggregator.
func NewAggregator(store Store, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{store: store, logger: logger, now: time.Now}
}

// ComputeStats derives StreamerStats for a broadcaster from stored sessions
// and snapshots. An open session is virtually closed at "now" for viewer
// attribution but is excluded from session count and hour totals, so
// repeated recomputation never double counts it. Returns ErrNoData when the
// broadcaster has no sessions and no snapshots.
func (a *Aggregator) ComputeStats(ctx context.Context, broadcasterID string) (*models.StreamerStats, error) {
	sessions, err := a.store.ListSessions(ctx, broadcasterID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	snapshots, err := a.store.ListSnapshots(ctx, broadcasterID, time.Time{}, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	if len(sessions) == 0 && len(snapshots) == 0 {
		return nil, ErrNoData
	}

	now := a.now().UTC()
	stats := &models.StreamerStats{
		BroadcasterID: broadcasterID,
		FirstSeenAt:   now,
		UpdatedAt:     now,
	}

	var (
		closedCount   int
		totalMinutes  int
		maxViewers    int
		viewerSum     int64
		viewerSamples int
		lastStream    *time.Time
	)

	for i := range sessions {
		s := &sessions[i]
		effectiveEnd := now
		if s.EndedAt != nil {
			effectiveEnd = *s.EndedAt
			closedCount++
			totalMinutes += clampedMinutes(s.StartedAt, effectiveEnd)
		}

		// Viewer extremes and averages include the open session's snapshots
		// so live readings are visible before the session closes.
		sMax, _, sSum, sCount := sessionViewerAggregates(snapshots, s.StartedAt, effectiveEnd)
		if sMax > maxViewers {
			maxViewers = sMax
		}
		viewerSum += sSum
		viewerSamples += sCount

		started := s.StartedAt
		if lastStream == nil || started.After(*lastStream) {
			lastStream = &started
		}
		if started.Before(stats.FirstSeenAt) {
			stats.FirstSeenAt = started
		}
		if s.BroadcasterLogin != "" {
			stats.BroadcasterLogin = s.BroadcasterLogin
			stats.BroadcasterName = s.BroadcasterName
		}
	}

	if stats.BroadcasterLogin == "" && len(snapshots) > 0 {
		last := snapshots[len(snapshots)-1]
		stats.BroadcasterLogin = last.BroadcasterLogin
		stats.BroadcasterName = last.BroadcasterName
	}
	if len(sessions) == 0 && len(snapshots) > 0 {
		stats.FirstSeenAt = snapshots[0].CapturedAt
	}

	stats.TotalSessions = closedCount
	stats.TotalHoursStreamed = round2(float64(totalMinutes) / 60)
	if closedCount > 0 {
		stats.AvgStreamDurationMinutes = round2(float64(totalMinutes) / float64(closedCount))
	}
	stats.MaxConcurrentViewers = maxViewers
	if viewerSamples > 0 {
		stats.AvgViewersAllTime = round2(float64(viewerSum) / float64(viewerSamples))
	}
	stats.LastStreamAt = lastStream

	return stats, nil
}

// Refresh recomputes and upserts stats for a broadcaster, replacing the
// previous cached record. On any failure before the upsert, the old record
// stays untouched.
func (a *Aggregator) Refresh(ctx context.Context, broadcasterID string) error {
	_, err := a.ForceRecalculate(ctx, broadcasterID)
	return err
}

// ForceRecalculate recomputes stats bypassing the cache and returns the
// fresh value. Returns ErrNoData for an unknown broadcaster.
func (a *Aggregator) ForceRecalculate(ctx context.Context, broadcasterID string) (*models.StreamerStats, error) {
	stats, err := a.ComputeStats(ctx, broadcasterID)
	if err != nil {
		return nil, err
	}
	if err := a.store.PutStats(ctx, stats); err != nil {
		return nil, fmt.Errorf("put stats: %w", err)
	}
	a.logger.Debug("streamer stats recalculated",
		zap.String("broadcaster_id", broadcasterID),
		zap.Int("total_sessions", stats.TotalSessions),
		zap.Float64("total_hours", stats.TotalHoursStreamed),
	)
	return stats, nil
}

// sessionViewerAggregates computes viewer stats from the snapshots whose
// captured_at falls within [start, end). Half-open so a sample on a session
// boundary is counted toward exactly one session.
func sessionViewerAggregates(snapshots []models.StreamSnapshot, start, end time.Time) (maxViewers int, avg float64, sum int64, count int) {
	for i := range snapshots {
		captured := snapshots[i].CapturedAt
		if captured.Before(start) || !captured.Before(end) {
			continue
		}
		v := snapshots[i].ViewerCount
		if v > maxViewers {
			maxViewers = v
		}
		sum += int64(v)
		count++
	}
	if count > 0 {
		avg = round2(float64(sum) / float64(count))
	}
	return maxViewers, avg, sum, count
}

// clampedMinutes returns the whole-minute duration between start and end,
// rounded, never negative.
func clampedMinutes(start, end time.Time) int {
	d := end.Sub(start)
	if d < 0 {
		return 0
	}
	return int(math.Round(d.Minutes()))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
