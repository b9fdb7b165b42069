// Package streamers manages the registry of monitored broadcasters and
// their last known live state.
package streamers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/streampulse/backend/internal/models"
)

// Repository persists streamers and stream statuses in Postgres.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a streamer repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// UpsertStreamer inserts or reactivates a streamer.
func (r *Repository) UpsertStreamer(ctx context.Context, s *models.Streamer) error {
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	_, err := r.db.Exec(ctx, `
		INSERT INTO streamers (user_id, username, display_name, subscription_id, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			username = EXCLUDED.username,
			display_name = EXCLUDED.display_name,
			subscription_id = EXCLUDED.subscription_id,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at`,
		s.UserID, s.Username, s.DisplayName, s.SubscriptionID, s.IsActive, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert streamer: %w", err)
	}
	return nil
}

// GetStreamer returns a streamer by user id, or nil when unknown.
func (r *Repository) GetStreamer(ctx context.Context, userID string) (*models.Streamer, error) {
	return r.scanStreamer(r.db.QueryRow(ctx, `
		SELECT user_id, username, display_name, subscription_id, is_active, created_at, updated_at
		FROM streamers WHERE user_id = $1`, userID))
}

// GetStreamerByLogin returns a streamer by login, or nil when unknown.
func (r *Repository) GetStreamerByLogin(ctx context.Context, login string) (*models.Streamer, error) {
	return r.scanStreamer(r.db.QueryRow(ctx, `
		SELECT user_id, username, display_name, subscription_id, is_active, created_at, updated_at
		FROM streamers WHERE LOWER(username) = LOWER($1)`, login))
}

func (r *Repository) scanStreamer(row pgx.Row) (*models.Streamer, error) {
	var s models.Streamer
	err := row.Scan(&s.UserID, &s.Username, &s.DisplayName, &s.SubscriptionID, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan streamer: %w", err)
	}
	return &s, nil
}

// ListActive returns all active streamers ordered by username.
func (r *Repository) ListActive(ctx context.Context) ([]models.Streamer, error) {
	rows, err := r.db.Query(ctx, `
		SELECT user_id, username, display_name, subscription_id, is_active, created_at, updated_at
		FROM streamers WHERE is_active ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list streamers: %w", err)
	}
	defer rows.Close()

	var streamers []models.Streamer
	for rows.Next() {
		var s models.Streamer
		if err := rows.Scan(&s.UserID, &s.Username, &s.DisplayName, &s.SubscriptionID, &s.IsActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan streamer: %w", err)
		}
		streamers = append(streamers, s)
	}
	return streamers, rows.Err()
}

// Deactivate marks a streamer inactive and clears its subscription id.
func (r *Repository) Deactivate(ctx context.Context, userID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE streamers SET is_active = FALSE, subscription_id = '', updated_at = NOW()
		WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("deactivate streamer: %w", err)
	}
	return nil
}

// SetSubscriptionID records the EventSub subscription id for a streamer.
func (r *Repository) SetSubscriptionID(ctx context.Context, userID, subscriptionID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE streamers SET subscription_id = $2, updated_at = NOW()
		WHERE user_id = $1`, userID, subscriptionID)
	if err != nil {
		return fmt.Errorf("set subscription id: %w", err)
	}
	return nil
}

// UpsertStatus writes the last known live state for a broadcaster.
func (r *Repository) UpsertStatus(ctx context.Context, status *models.StreamStatus) error {
	status.LastUpdated = time.Now().UTC()
	_, err := r.db.Exec(ctx, `
		INSERT INTO stream_status (user_id, username, display_name, is_live, viewer_count, category_name, title, started_at, last_updated, last_event_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id) DO UPDATE SET
			username = EXCLUDED.username,
			display_name = EXCLUDED.display_name,
			is_live = EXCLUDED.is_live,
			viewer_count = EXCLUDED.viewer_count,
			category_name = EXCLUDED.category_name,
			title = EXCLUDED.title,
			started_at = EXCLUDED.started_at,
			last_updated = EXCLUDED.last_updated,
			last_event_type = EXCLUDED.last_event_type`,
		status.UserID, status.Username, status.DisplayName, status.IsLive, status.ViewerCount,
		status.CategoryName, status.Title, status.StartedAt, status.LastUpdated, status.LastEventType,
	)
	if err != nil {
		return fmt.Errorf("upsert status: %w", err)
	}
	return nil
}

// GetStatus returns the last known state for a broadcaster, or nil.
func (r *Repository) GetStatus(ctx context.Context, userID string) (*models.StreamStatus, error) {
	var s models.StreamStatus
	err := r.db.QueryRow(ctx, `
		SELECT user_id, username, display_name, is_live, viewer_count, category_name, title, started_at, last_updated, last_event_type
		FROM stream_status WHERE user_id = $1`, userID).Scan(
		&s.UserID, &s.Username, &s.DisplayName, &s.IsLive, &s.ViewerCount,
		&s.CategoryName, &s.Title, &s.StartedAt, &s.LastUpdated, &s.LastEventType,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}
	return &s, nil
}

// ListLive returns every broadcaster currently marked live.
func (r *Repository) ListLive(ctx context.Context) ([]models.StreamStatus, error) {
	rows, err := r.db.Query(ctx, `
		SELECT user_id, username, display_name, is_live, viewer_count, category_name, title, started_at, last_updated, last_event_type
		FROM stream_status WHERE is_live ORDER BY viewer_count DESC`)
	if err != nil {
		return nil, fmt.Errorf("list live statuses: %w", err)
	}
	defer rows.Close()

	var statuses []models.StreamStatus
	for rows.Next() {
		var s models.StreamStatus
		if err := rows.Scan(&s.UserID, &s.Username, &s.DisplayName, &s.IsLive, &s.ViewerCount,
			&s.CategoryName, &s.Title, &s.StartedAt, &s.LastUpdated, &s.LastEventType); err != nil {
			return nil, fmt.Errorf("scan status: %w", err)
		}
		statuses = append(statuses, s)
	}
	return statuses, rows.Err()
}

// ApplyEventStatus updates the status row from a live/offline notification.
// Offline events zero the viewer count and stream start.
func (r *Repository) ApplyEventStatus(ctx context.Context, broadcasterID, login, name, eventType string, occurredAt time.Time) error {
	status := &models.StreamStatus{
		UserID:        broadcasterID,
		Username:      login,
		DisplayName:   name,
		IsLive:        eventType == models.EventStreamOnline,
		LastEventType: eventType,
	}
	if status.IsLive {
		started := occurredAt.UTC()
		status.StartedAt = &started
	}
	return r.UpsertStatus(ctx, status)
}
