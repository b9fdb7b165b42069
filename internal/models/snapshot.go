package models

import (
	"time"

	"github.com/google/uuid"
)

// StreamSnapshot is one point-in-time sample of a live stream, written by
// the periodic capture sweep. Snapshots are immutable; they carry no session
// foreign key — attribution to a session happens at read time by timestamp
// containment, because the session may still be open when a sample arrives.
type StreamSnapshot struct {
	ID               uuid.UUID  `json:"id"`
	BroadcasterID    string     `json:"broadcaster_id"`
	BroadcasterLogin string     `json:"broadcaster_login"`
	BroadcasterName  string     `json:"broadcaster_name"`
	StreamID         string     `json:"stream_id,omitempty"`
	CategoryID       string     `json:"category_id,omitempty"`
	CategoryName     string     `json:"category_name,omitempty"`
	Title            string     `json:"title,omitempty"`
	Language         string     `json:"language,omitempty"`
	ViewerCount      int        `json:"viewer_count"`
	StartedAt        *time.Time `json:"started_at,omitempty"` // upstream-reported stream start
	CapturedAt       time.Time  `json:"captured_at"`
}
