package analytics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/streampulse/backend/internal/models"
)

// Refresher triggers a stats recomputation for a broadcaster. The queue
// implementation defers the work to the background worker; the aggregator
// itself satisfies the interface for inline refresh.
type Refresher interface {
	Refresh(ctx context.Context, broadcasterID string) error
}

// Tracker owns the session open/close lifecycle. Upstream delivery is
// at-least-once and may be reordered, so both signal handlers are
// idempotent: a duplicate live signal never forks a second session and an
// offline signal with no open session is a no-op. Transitions for the same
// broadcaster are serialized by a per-broadcaster mutex; distinct
// broadcasters proceed in parallel.
type Tracker struct {
	sessions  SessionStore
	snapshots SnapshotStore
	refresher Refresher
	logger    *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTracker creates a session tracker.
func NewTracker(sessions SessionStore, snapshots SnapshotStore, refresher Refresher, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		sessions:  sessions,
		snapshots: snapshots,
		refresher: refresher,
		logger:    logger,
		locks:     make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex guarding one broadcaster's session transitions.
func (t *Tracker) lockFor(broadcasterID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[broadcasterID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[broadcasterID] = l
	}
	return l
}

// HandleLiveSignal opens a session for the broadcaster unless one is
// already open, in which case the signal is a duplicate and is ignored.
func (t *Tracker) HandleLiveSignal(ctx context.Context, broadcasterID string, observedAt time.Time, meta models.SessionMeta) error {
	l := t.lockFor(broadcasterID)
	l.Lock()
	defer l.Unlock()

	open, err := t.sessions.GetOpenSession(ctx, broadcasterID)
	if err != nil {
		return fmt.Errorf("get open session: %w", err)
	}
	if open != nil {
		t.logger.Debug("duplicate live signal ignored",
			zap.String("broadcaster_id", broadcasterID),
			zap.Time("open_since", open.StartedAt),
		)
		return nil
	}

	now := time.Now().UTC()
	session := &models.StreamSession{
		ID:               uuid.New(),
		BroadcasterID:    broadcasterID,
		BroadcasterLogin: meta.BroadcasterLogin,
		BroadcasterName:  meta.BroadcasterName,
		StartedAt:        observedAt.UTC(),
		CategoryID:       meta.CategoryID,
		CategoryName:     meta.CategoryName,
		Title:            meta.Title,
		Language:         meta.Language,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := t.sessions.PersistSession(ctx, session); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	t.logger.Info("stream session opened",
		zap.String("broadcaster_id", broadcasterID),
		zap.String("broadcaster_login", meta.BroadcasterLogin),
		zap.Time("started_at", session.StartedAt),
	)
	return nil
}

// HandleOfflineSignal closes the broadcaster's open session, computing its
// duration. If observedAt precedes the session start (clock skew or
// reordering), the duration is clamped to zero and a warning is logged.
// Closing is the single trigger point for the synchronous stats refresh.
func (t *Tracker) HandleOfflineSignal(ctx context.Context, broadcasterID string, observedAt time.Time) error {
	l := t.lockFor(broadcasterID)
	l.Lock()
	defer l.Unlock()

	open, err := t.sessions.GetOpenSession(ctx, broadcasterID)
	if err != nil {
		return fmt.Errorf("get open session: %w", err)
	}
	if open == nil {
		t.logger.Debug("offline signal with no open session ignored",
			zap.String("broadcaster_id", broadcasterID),
		)
		return nil
	}

	endedAt := observedAt.UTC()
	if endedAt.Before(open.StartedAt) {
		t.logger.Warn("offline signal precedes session start, clamping duration to zero",
			zap.String("broadcaster_id", broadcasterID),
			zap.Time("started_at", open.StartedAt),
			zap.Time("observed_at", endedAt),
		)
	}
	minutes := clampedMinutes(open.StartedAt, endedAt)
	open.EndedAt = &endedAt
	open.DurationMinutes = &minutes
	open.UpdatedAt = time.Now().UTC()

	// Denormalized per-session viewer stats, recorded for convenience on
	// the session row. Aggregation never trusts these; it always recomputes
	// from the snapshots.
	if snaps, err := t.snapshots.ListSnapshots(ctx, broadcasterID, open.StartedAt, endedAt); err == nil {
		if maxV, avg, _, count := sessionViewerAggregates(snaps, open.StartedAt, endedAt); count > 0 {
			open.MaxViewers = &maxV
			open.AvgViewers = &avg
		}
	}

	if err := t.sessions.UpdateSession(ctx, open); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	t.logger.Info("stream session closed",
		zap.String("broadcaster_id", broadcasterID),
		zap.String("broadcaster_login", open.BroadcasterLogin),
		zap.Int("duration_minutes", minutes),
	)

	if t.refresher != nil {
		if err := t.refresher.Refresh(ctx, broadcasterID); err != nil {
			// The session close is already durable; the previous cached
			// stats stay authoritative until the next refresh succeeds.
			t.logger.Error("post-close stats refresh failed",
				zap.String("broadcaster_id", broadcasterID),
				zap.Error(err),
			)
		}
	}
	return nil
}
