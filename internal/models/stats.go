package models

import "time"

// StreamerStats is the cached per-broadcaster aggregate. It is a pure
// materialized view over sessions and snapshots: always reproducible from
// the raw records, replaced wholesale on every write, never merged.
type StreamerStats struct {
	BroadcasterID            string     `json:"broadcaster_id"`
	BroadcasterLogin         string     `json:"broadcaster_login"`
	BroadcasterName          string     `json:"broadcaster_name"`
	TotalSessions            int        `json:"total_sessions"`
	TotalHoursStreamed       float64    `json:"total_hours_streamed"`
	AvgStreamDurationMinutes float64    `json:"avg_stream_duration_minutes"`
	MaxConcurrentViewers     int        `json:"max_concurrent_viewers"`
	AvgViewersAllTime        float64    `json:"avg_viewers_all_time"`
	LastStreamAt             *time.Time `json:"last_stream_at,omitempty"`
	FirstSeenAt              time.Time  `json:"first_seen_at"`
	UpdatedAt                time.Time  `json:"updated_at"`
}
