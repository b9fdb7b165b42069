// Package twitch implements the Helix API client used for user lookup,
// live stream polling and EventSub subscription management.
package twitch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/streampulse/backend/internal/models"
)

const helixBaseURL = "https://api.twitch.tv/helix"

// Client is an authenticated Helix API client.
type Client struct {
	clientID    string
	callbackURL string
	secret      string
	token       *appToken
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewClient creates a Helix client. callbackURL and secret are the EventSub
// webhook transport settings used when creating subscriptions.
func NewClient(clientID, clientSecret, callbackURL, secret string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := &http.Client{Timeout: 15 * time.Second}
	return &Client{
		clientID:    clientID,
		callbackURL: callbackURL,
		secret:      secret,
		token:       newAppToken(clientID, clientSecret, httpClient, logger),
		httpClient:  httpClient,
		logger:      logger,
	}
}

// CallbackURL returns the configured EventSub webhook callback.
func (c *Client) CallbackURL() string { return c.callbackURL }

func (c *Client) do(ctx context.Context, method, endpoint string, params url.Values, payload any, out any) error {
	token, err := c.token.Get(ctx)
	if err != nil {
		return err
	}

	reqURL := helixBaseURL + endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Client-Id", c.clientID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("helix request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("helix %s %s: status %d: %s", method, endpoint, resp.StatusCode, string(raw))
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// GetUserByLogin returns a user by login name, or nil when not found.
func (c *Client) GetUserByLogin(ctx context.Context, login string) (*User, error) {
	params := url.Values{"login": {login}}
	var env dataEnvelope[User]
	if err := c.do(ctx, http.MethodGet, "/users", params, nil, &env); err != nil {
		return nil, err
	}
	if len(env.Data) == 0 {
		return nil, nil
	}
	return &env.Data[0], nil
}

// GetStream returns the live stream for a user id, or nil when offline.
func (c *Client) GetStream(ctx context.Context, userID string) (*Stream, error) {
	streams, err := c.GetStreams(ctx, []string{userID})
	if err != nil {
		return nil, err
	}
	if len(streams) == 0 {
		return nil, nil
	}
	return &streams[0], nil
}

// GetStreams returns live streams for the given user ids. Offline users
// have no entry in the result. Helix accepts up to 100 ids per call.
func (c *Client) GetStreams(ctx context.Context, userIDs []string) ([]Stream, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var all []Stream
	for start := 0; start < len(userIDs); start += 100 {
		end := start + 100
		if end > len(userIDs) {
			end = len(userIDs)
		}
		params := url.Values{}
		for _, id := range userIDs[start:end] {
			params.Add("user_id", id)
		}
		var env dataEnvelope[Stream]
		if err := c.do(ctx, http.MethodGet, "/streams", params, nil, &env); err != nil {
			return nil, err
		}
		all = append(all, env.Data...)
	}
	return all, nil
}

// CreateSubscription creates an EventSub webhook subscription and returns
// its id.
func (c *Client) CreateSubscription(ctx context.Context, eventType, broadcasterID string) (string, error) {
	payload := map[string]any{
		"type":      eventType,
		"version":   "1",
		"condition": map[string]string{"broadcaster_user_id": broadcasterID},
		"transport": map[string]string{
			"method":   "webhook",
			"callback": c.callbackURL,
			"secret":   c.secret,
		},
	}
	var env dataEnvelope[models.EventSubSubscription]
	if err := c.do(ctx, http.MethodPost, "/eventsub/subscriptions", nil, payload, &env); err != nil {
		return "", err
	}
	if len(env.Data) == 0 {
		return "", fmt.Errorf("create subscription: empty response")
	}
	return env.Data[0].ID, nil
}

// DeleteSubscription deletes an EventSub subscription.
func (c *Client) DeleteSubscription(ctx context.Context, subscriptionID string) error {
	params := url.Values{"id": {subscriptionID}}
	return c.do(ctx, http.MethodDelete, "/eventsub/subscriptions", params, nil, nil)
}

// ListSubscriptions returns all EventSub subscriptions for this client id.
func (c *Client) ListSubscriptions(ctx context.Context) ([]models.EventSubSubscription, error) {
	var env dataEnvelope[models.EventSubSubscription]
	if err := c.do(ctx, http.MethodGet, "/eventsub/subscriptions", nil, nil, &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

// ValidateSubscription reports whether a subscription exists and is enabled.
func (c *Client) ValidateSubscription(ctx context.Context, subscriptionID string) (bool, error) {
	subs, err := c.ListSubscriptions(ctx)
	if err != nil {
		return false, err
	}
	for _, sub := range subs {
		if sub.ID == subscriptionID {
			return sub.Status == "enabled" || sub.Status == "webhook_callback_verification_pending", nil
		}
	}
	return false, nil
}

// CleanupWebhookSubscriptions deletes subscriptions pointing at this
// service's callback URL. Returns how many were removed.
func (c *Client) CleanupWebhookSubscriptions(ctx context.Context) (int, error) {
	subs, err := c.ListSubscriptions(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, sub := range subs {
		if sub.Transport.Callback != c.callbackURL {
			continue
		}
		if err := c.DeleteSubscription(ctx, sub.ID); err != nil {
			c.logger.Error("delete subscription failed", zap.String("subscription_id", sub.ID), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

// DeleteAllSubscriptions deletes every subscription regardless of callback.
// Returns how many were removed.
func (c *Client) DeleteAllSubscriptions(ctx context.Context) (int, error) {
	subs, err := c.ListSubscriptions(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, sub := range subs {
		if err := c.DeleteSubscription(ctx, sub.ID); err != nil {
			c.logger.Error("delete subscription failed", zap.String("subscription_id", sub.ID), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}
