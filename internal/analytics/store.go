package analytics

import (
	"context"
	"errors"
	"time"

	"github.com/streampulse/backend/internal/models"
)

// ErrNoData is returned when a recalculation is requested for a broadcaster
// that has neither sessions nor snapshots.
var ErrNoData = errors.New("no analytics data for broadcaster")

// SessionStore persists stream sessions.
// GetOpenSession returns nil, nil when the broadcaster has no open session.
type SessionStore interface {
	PersistSession(ctx context.Context, s *models.StreamSession) error
	UpdateSession(ctx context.Context, s *models.StreamSession) error
	GetOpenSession(ctx context.Context, broadcasterID string) (*models.StreamSession, error)
	// ListSessions returns all sessions for a broadcaster ordered by started_at ascending.
	ListSessions(ctx context.Context, broadcasterID string) ([]models.StreamSession, error)
	// ListRecentSessions returns the most recent sessions for a login, newest first.
	ListRecentSessions(ctx context.Context, broadcasterLogin string, limit int) ([]models.StreamSession, error)
}

// SnapshotStore persists viewer snapshots. Snapshots are append-only.
type SnapshotStore interface {
	PersistSnapshot(ctx context.Context, s *models.StreamSnapshot) error
	// ListSnapshots returns snapshots for a broadcaster with captured_at in
	// [from, to), ordered ascending. Zero times leave that bound open.
	ListSnapshots(ctx context.Context, broadcasterID string, from, to time.Time) ([]models.StreamSnapshot, error)
	// ListRecentSnapshots returns the most recent snapshots, newest first,
	// optionally filtered by login (empty login = all broadcasters).
	ListRecentSnapshots(ctx context.Context, broadcasterLogin string, limit int) ([]models.StreamSnapshot, error)
}

// StatsStore persists the cached per-broadcaster aggregates.
// PutStats replaces the whole record; partial updates do not exist.
type StatsStore interface {
	GetStats(ctx context.Context, broadcasterID string) (*models.StreamerStats, error)
	GetStatsByLogin(ctx context.Context, broadcasterLogin string) (*models.StreamerStats, error)
	PutStats(ctx context.Context, stats *models.StreamerStats) error
	TopStatsByHours(ctx context.Context, limit int) ([]models.StreamerStats, error)
}

// Summary is the service-wide analytics rollup.
type Summary struct {
	TotalStreamersTracked  int     `json:"total_streamers_tracked"`
	TotalStreamSessions    int     `json:"total_stream_sessions"`
	TotalSnapshotsCaptured int     `json:"total_snapshots_captured"`
	TotalHoursStreamed     float64 `json:"total_hours_streamed"`
	AvgHoursPerStreamer    float64 `json:"avg_hours_per_streamer"`
}

// Store is the full storage contract the analytics engine consumes.
type Store interface {
	SessionStore
	SnapshotStore
	StatsStore
	// ResolveLogin maps a broadcaster login to its id from any known record.
	// Returns "" when the login has never been seen.
	ResolveLogin(ctx context.Context, broadcasterLogin string) (string, error)
	GetSummary(ctx context.Context) (*Summary, error)
}
