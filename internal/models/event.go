package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types delivered by the EventSub webhook.
const (
	EventStreamOnline  = "stream.online"
	EventStreamOffline = "stream.offline"
)

// StreamEvent is one raw live/offline notification as delivered upstream.
// Events are append-only history; the session tracker derives state from them.
type StreamEvent struct {
	ID               uuid.UUID       `json:"id"`
	EventType        string          `json:"event_type"`
	BroadcasterID    string          `json:"broadcaster_id"`
	BroadcasterLogin string          `json:"broadcaster_login"`
	BroadcasterName  string          `json:"broadcaster_name"`
	OccurredAt       time.Time       `json:"occurred_at"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}
