package models

import "encoding/json"

// EventSubSubscription describes one EventSub subscription as returned by Helix.
type EventSubSubscription struct {
	ID        string            `json:"id"`
	Status    string            `json:"status"`
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Condition map[string]string `json:"condition"`
	Transport EventSubTransport `json:"transport"`
	CreatedAt string            `json:"created_at"`
	Cost      int               `json:"cost"`
}

// EventSubTransport is the delivery method section of a subscription.
type EventSubTransport struct {
	Method   string `json:"method"`
	Callback string `json:"callback,omitempty"`
	Secret   string `json:"secret,omitempty"`
}

// EventSubNotification is the webhook body for a notification message.
// Event is kept raw; its shape depends on the subscription type.
type EventSubNotification struct {
	Subscription EventSubSubscription `json:"subscription"`
	Event        json.RawMessage      `json:"event"`
	Challenge    string               `json:"challenge,omitempty"`
}

// StreamOnlineEvent is the event payload for stream.online notifications.
type StreamOnlineEvent struct {
	ID                   string `json:"id"`
	BroadcasterUserID    string `json:"broadcaster_user_id"`
	BroadcasterUserLogin string `json:"broadcaster_user_login"`
	BroadcasterUserName  string `json:"broadcaster_user_name"`
	Type                 string `json:"type"`
	StartedAt            string `json:"started_at"`
}

// StreamOfflineEvent is the event payload for stream.offline notifications.
type StreamOfflineEvent struct {
	BroadcasterUserID    string `json:"broadcaster_user_id"`
	BroadcasterUserLogin string `json:"broadcaster_user_login"`
	BroadcasterUserName  string `json:"broadcaster_user_name"`
}
