// Package events stores and serves the append-only notification log.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/streampulse/backend/internal/models"
)

const eventColumns = `id, event_type, broadcaster_id, broadcaster_login, broadcaster_name, occurred_at, payload, created_at`

// Repository persists stream events in Postgres.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates an event repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// RecordEvent appends one event to the log.
func (r *Repository) RecordEvent(ctx context.Context, event *models.StreamEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO stream_events (id, event_type, broadcaster_id, broadcaster_login, broadcaster_name, occurred_at, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, event.EventType, event.BroadcasterID, event.BroadcasterLogin,
		event.BroadcasterName, event.OccurredAt, event.Payload, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ListRecent returns the newest events, newest first.
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]models.StreamEvent, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+eventColumns+`
		FROM stream_events
		ORDER BY occurred_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListByType returns the newest events of one type, newest first.
func (r *Repository) ListByType(ctx context.Context, eventType string, limit int) ([]models.StreamEvent, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+eventColumns+`
		FROM stream_events
		WHERE event_type = $1
		ORDER BY occurred_at DESC
		LIMIT $2`, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("list events by type: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListByLogin returns the newest events for one broadcaster login,
// newest first. Login matching is case-insensitive.
func (r *Repository) ListByLogin(ctx context.Context, login string, limit int) ([]models.StreamEvent, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+eventColumns+`
		FROM stream_events
		WHERE LOWER(broadcaster_login) = LOWER($1)
		ORDER BY occurred_at DESC
		LIMIT $2`, login, limit)
	if err != nil {
		return nil, fmt.Errorf("list events by login: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]models.StreamEvent, error) {
	var events []models.StreamEvent
	for rows.Next() {
		var e models.StreamEvent
		if err := rows.Scan(
			&e.ID, &e.EventType, &e.BroadcasterID, &e.BroadcasterLogin,
			&e.BroadcasterName, &e.OccurredAt, &e.Payload, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
