package models

import "time"

// Streamer is a monitored broadcaster configuration.
type Streamer struct {
	UserID         string    `json:"user_id"`
	Username       string    `json:"username"`
	DisplayName    string    `json:"display_name"`
	SubscriptionID string    `json:"subscription_id,omitempty"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// StreamStatus is the last known live/offline state for a broadcaster.
type StreamStatus struct {
	UserID        string     `json:"user_id"`
	Username      string     `json:"username"`
	DisplayName   string     `json:"display_name"`
	IsLive        bool       `json:"is_live"`
	ViewerCount   int        `json:"viewer_count"`
	CategoryName  string     `json:"category_name,omitempty"`
	Title         string     `json:"title,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	LastUpdated   time.Time  `json:"last_updated"`
	LastEventType string     `json:"last_event_type,omitempty"` // stream.online / stream.offline, empty for poll-derived
}
