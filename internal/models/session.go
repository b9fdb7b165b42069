package models

import (
	"time"

	"github.com/google/uuid"
)

// StreamSession is one continuous broadcast for a broadcaster.
// A session is open while EndedAt is nil; it is closed exactly once and
// never reopened. At most one session per broadcaster is open at any time.
type StreamSession struct {
	ID               uuid.UUID  `json:"id"`
	BroadcasterID    string     `json:"broadcaster_id"`
	BroadcasterLogin string     `json:"broadcaster_login"`
	BroadcasterName  string     `json:"broadcaster_name"`
	StartedAt        time.Time  `json:"started_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	DurationMinutes  *int       `json:"duration_minutes,omitempty"`
	CategoryID       string     `json:"category_id,omitempty"`
	CategoryName     string     `json:"category_name,omitempty"`
	Title            string     `json:"title,omitempty"`
	Language         string     `json:"language,omitempty"`
	MaxViewers       *int       `json:"max_viewers,omitempty"`
	AvgViewers       *float64   `json:"avg_viewers,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Open reports whether the session has not ended yet.
func (s *StreamSession) Open() bool {
	return s.EndedAt == nil
}

// SessionMeta is the stream descriptor carried by a live signal or snapshot.
type SessionMeta struct {
	BroadcasterLogin string
	BroadcasterName  string
	CategoryID       string
	CategoryName     string
	Title            string
	Language         string
}
