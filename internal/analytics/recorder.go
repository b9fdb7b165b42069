package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/streampulse/backend/internal/models"
)

// Recorder appends viewer snapshots. A snapshot is valid regardless of
// whether a session is currently open for the broadcaster; attribution to a
// session happens at read time, which tolerates ordering races between the
// webhook path and the polling path.
type Recorder struct {
	snapshots SnapshotStore
	logger    *zap.Logger
}

// NewRecorder creates a snapshot recorder.
func NewRecorder(snapshots SnapshotStore, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{snapshots: snapshots, logger: logger}
}

// Record persists one immutable sample.
func (r *Recorder) Record(ctx context.Context, snap *models.StreamSnapshot) error {
	if snap.ID == uuid.Nil {
		snap.ID = uuid.New()
	}
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = time.Now().UTC()
	}
	if err := r.snapshots.PersistSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("persist snapshot: %w", err)
	}
	r.logger.Debug("snapshot recorded",
		zap.String("broadcaster_id", snap.BroadcasterID),
		zap.Int("viewer_count", snap.ViewerCount),
		zap.Time("captured_at", snap.CapturedAt),
	)
	return nil
}
