package analytics

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/streampulse/backend/internal/models"
)

const sessionColumns = `id, broadcaster_id, broadcaster_login, broadcaster_name, started_at, ended_at,
	duration_minutes, category_id, category_name, title, language, max_viewers, avg_viewers, created_at, updated_at`

const snapshotColumns = `id, broadcaster_id, broadcaster_login, broadcaster_name, stream_id, category_id,
	category_name, title, language, viewer_count, started_at, captured_at`

const statsColumns = `broadcaster_id, broadcaster_login, broadcaster_name, total_sessions, total_hours_streamed,
	avg_stream_duration_minutes, max_concurrent_viewers, avg_viewers_all_time, last_stream_at, first_seen_at, updated_at`

// Repository is the PostgreSQL-backed Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an analytics repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

// PersistSession inserts a new session row.
func (r *Repository) PersistSession(ctx context.Context, s *models.StreamSession) error {
	const q = `INSERT INTO stream_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())`
	_, err := r.pool.Exec(ctx, q,
		s.ID, s.BroadcasterID, s.BroadcasterLogin, s.BroadcasterName, s.StartedAt, s.EndedAt,
		s.DurationMinutes, s.CategoryID, s.CategoryName, s.Title, s.Language, s.MaxViewers, s.AvgViewers)
	return err
}

// UpdateSession updates a session row by id.
func (r *Repository) UpdateSession(ctx context.Context, s *models.StreamSession) error {
	const q = `UPDATE stream_sessions SET ended_at = $2, duration_minutes = $3, category_id = $4,
		category_name = $5, title = $6, language = $7, max_viewers = $8, avg_viewers = $9, updated_at = NOW()
		WHERE id = $1`
	_, err := r.pool.Exec(ctx, q,
		s.ID, s.EndedAt, s.DurationMinutes, s.CategoryID, s.CategoryName, s.Title, s.Language, s.MaxViewers, s.AvgViewers)
	return err
}

func scanSession(row pgx.Row) (*models.StreamSession, error) {
	var s models.StreamSession
	err := row.Scan(&s.ID, &s.BroadcasterID, &s.BroadcasterLogin, &s.BroadcasterName, &s.StartedAt, &s.EndedAt,
		&s.DurationMinutes, &s.CategoryID, &s.CategoryName, &s.Title, &s.Language, &s.MaxViewers, &s.AvgViewers,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetOpenSession returns the broadcaster's open session, or nil.
func (r *Repository) GetOpenSession(ctx context.Context, broadcasterID string) (*models.StreamSession, error) {
	const q = `SELECT ` + sessionColumns + ` FROM stream_sessions
		WHERE broadcaster_id = $1 AND ended_at IS NULL ORDER BY started_at DESC LIMIT 1`
	s, err := scanSession(r.pool.QueryRow(ctx, q, broadcasterID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

func (r *Repository) querySessions(ctx context.Context, q string, args ...any) ([]models.StreamSession, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.StreamSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

// ListSessions returns all sessions for a broadcaster, started_at ascending.
func (r *Repository) ListSessions(ctx context.Context, broadcasterID string) ([]models.StreamSession, error) {
	const q = `SELECT ` + sessionColumns + ` FROM stream_sessions
		WHERE broadcaster_id = $1 ORDER BY started_at ASC`
	return r.querySessions(ctx, q, broadcasterID)
}

// ListRecentSessions returns the newest sessions for a login.
func (r *Repository) ListRecentSessions(ctx context.Context, broadcasterLogin string, limit int) ([]models.StreamSession, error) {
	const q = `SELECT ` + sessionColumns + ` FROM stream_sessions
		WHERE LOWER(broadcaster_login) = LOWER($1) ORDER BY started_at DESC LIMIT $2`
	return r.querySessions(ctx, q, broadcasterLogin, limit)
}

// PersistSnapshot inserts a snapshot row. Snapshots are never updated.
func (r *Repository) PersistSnapshot(ctx context.Context, s *models.StreamSnapshot) error {
	const q = `INSERT INTO stream_snapshots (` + snapshotColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.pool.Exec(ctx, q,
		s.ID, s.BroadcasterID, s.BroadcasterLogin, s.BroadcasterName, s.StreamID, s.CategoryID,
		s.CategoryName, s.Title, s.Language, s.ViewerCount, s.StartedAt, s.CapturedAt)
	return err
}

func (r *Repository) querySnapshots(ctx context.Context, q string, args ...any) ([]models.StreamSnapshot, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.StreamSnapshot
	for rows.Next() {
		var s models.StreamSnapshot
		if err := rows.Scan(&s.ID, &s.BroadcasterID, &s.BroadcasterLogin, &s.BroadcasterName, &s.StreamID,
			&s.CategoryID, &s.CategoryName, &s.Title, &s.Language, &s.ViewerCount, &s.StartedAt, &s.CapturedAt); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// ListSnapshots returns snapshots in [from, to), captured_at ascending.
// Zero bounds are open.
func (r *Repository) ListSnapshots(ctx context.Context, broadcasterID string, from, to time.Time) ([]models.StreamSnapshot, error) {
	const q = `SELECT ` + snapshotColumns + ` FROM stream_snapshots
		WHERE broadcaster_id = $1
		  AND ($2::timestamptz IS NULL OR captured_at >= $2)
		  AND ($3::timestamptz IS NULL OR captured_at < $3)
		ORDER BY captured_at ASC`
	var fromArg, toArg *time.Time
	if !from.IsZero() {
		fromArg = &from
	}
	if !to.IsZero() {
		toArg = &to
	}
	return r.querySnapshots(ctx, q, broadcasterID, fromArg, toArg)
}

// ListRecentSnapshots returns the newest snapshots, optionally by login.
func (r *Repository) ListRecentSnapshots(ctx context.Context, broadcasterLogin string, limit int) ([]models.StreamSnapshot, error) {
	const q = `SELECT ` + snapshotColumns + ` FROM stream_snapshots
		WHERE ($1 = '' OR LOWER(broadcaster_login) = LOWER($1))
		ORDER BY captured_at DESC LIMIT $2`
	return r.querySnapshots(ctx, q, broadcasterLogin, limit)
}

func scanStats(row pgx.Row) (*models.StreamerStats, error) {
	var s models.StreamerStats
	err := row.Scan(&s.BroadcasterID, &s.BroadcasterLogin, &s.BroadcasterName, &s.TotalSessions,
		&s.TotalHoursStreamed, &s.AvgStreamDurationMinutes, &s.MaxConcurrentViewers, &s.AvgViewersAllTime,
		&s.LastStreamAt, &s.FirstSeenAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetStats returns the cached aggregate, or nil.
func (r *Repository) GetStats(ctx context.Context, broadcasterID string) (*models.StreamerStats, error) {
	const q = `SELECT ` + statsColumns + ` FROM streamer_stats WHERE broadcaster_id = $1`
	s, err := scanStats(r.pool.QueryRow(ctx, q, broadcasterID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// GetStatsByLogin returns the cached aggregate by login, or nil.
func (r *Repository) GetStatsByLogin(ctx context.Context, broadcasterLogin string) (*models.StreamerStats, error) {
	const q = `SELECT ` + statsColumns + ` FROM streamer_stats WHERE LOWER(broadcaster_login) = LOWER($1)`
	s, err := scanStats(r.pool.QueryRow(ctx, q, broadcasterLogin))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// PutStats replaces the broadcaster's aggregate wholesale.
func (r *Repository) PutStats(ctx context.Context, stats *models.StreamerStats) error {
	const q = `INSERT INTO streamer_stats (` + statsColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (broadcaster_id) DO UPDATE SET
			broadcaster_login = EXCLUDED.broadcaster_login,
			broadcaster_name = EXCLUDED.broadcaster_name,
			total_sessions = EXCLUDED.total_sessions,
			total_hours_streamed = EXCLUDED.total_hours_streamed,
			avg_stream_duration_minutes = EXCLUDED.avg_stream_duration_minutes,
			max_concurrent_viewers = EXCLUDED.max_concurrent_viewers,
			avg_viewers_all_time = EXCLUDED.avg_viewers_all_time,
			last_stream_at = EXCLUDED.last_stream_at,
			first_seen_at = EXCLUDED.first_seen_at,
			updated_at = EXCLUDED.updated_at`
	_, err := r.pool.Exec(ctx, q,
		stats.BroadcasterID, stats.BroadcasterLogin, stats.BroadcasterName, stats.TotalSessions,
		stats.TotalHoursStreamed, stats.AvgStreamDurationMinutes, stats.MaxConcurrentViewers,
		stats.AvgViewersAllTime, stats.LastStreamAt, stats.FirstSeenAt, stats.UpdatedAt)
	return err
}

// TopStatsByHours returns aggregates ordered by total hours streamed.
func (r *Repository) TopStatsByHours(ctx context.Context, limit int) ([]models.StreamerStats, error) {
	const q = `SELECT ` + statsColumns + ` FROM streamer_stats ORDER BY total_hours_streamed DESC LIMIT $1`
	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.StreamerStats
	for rows.Next() {
		s, err := scanStats(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

// ResolveLogin maps a login to a broadcaster id from sessions or snapshots.
func (r *Repository) ResolveLogin(ctx context.Context, broadcasterLogin string) (string, error) {
	const q = `SELECT broadcaster_id FROM stream_sessions WHERE LOWER(broadcaster_login) = LOWER($1)
		ORDER BY started_at DESC LIMIT 1`
	var id string
	err := r.pool.QueryRow(ctx, q, broadcasterLogin).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != pgx.ErrNoRows {
		return "", err
	}
	const qs = `SELECT broadcaster_id FROM stream_snapshots WHERE LOWER(broadcaster_login) = LOWER($1)
		ORDER BY captured_at DESC LIMIT 1`
	err = r.pool.QueryRow(ctx, qs, broadcasterLogin).Scan(&id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return id, nil
}

// GetSummary returns the service-wide rollup.
func (r *Repository) GetSummary(ctx context.Context) (*Summary, error) {
	const q = `SELECT
		(SELECT COUNT(*) FROM streamer_stats),
		(SELECT COUNT(*) FROM stream_sessions),
		(SELECT COUNT(*) FROM stream_snapshots),
		COALESCE((SELECT ROUND(SUM(total_hours_streamed)::numeric, 2) FROM streamer_stats), 0),
		COALESCE((SELECT ROUND(AVG(total_hours_streamed)::numeric, 2) FROM streamer_stats), 0)`
	var s Summary
	err := r.pool.QueryRow(ctx, q).Scan(&s.TotalStreamersTracked, &s.TotalStreamSessions,
		&s.TotalSnapshotsCaptured, &s.TotalHoursStreamed, &s.AvgHoursPerStreamer)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
