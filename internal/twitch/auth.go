package twitch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const tokenURL = "https://id.twitch.tv/oauth2/token"

// appToken caches an app access token from the client-credentials flow.
// The token is refreshed a few minutes before expiry so it cannot lapse
// mid-request.
type appToken struct {
	clientID     string
	clientSecret string
	httpClient   *http.Client
	logger       *zap.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func newAppToken(clientID, clientSecret string, httpClient *http.Client, logger *zap.Logger) *appToken {
	return &appToken{
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   httpClient,
		logger:       logger,
	}
}

// Get returns a valid access token, refreshing it when needed.
func (t *appToken) Get(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token != "" && time.Now().Before(t.expiresAt.Add(-5*time.Minute)) {
		return t.token, nil
	}

	form := url.Values{
		"client_id":     {t.clientID},
		"client_secret": {t.clientSecret},
		"grant_type":    {"client_credentials"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint status %d: %s", resp.StatusCode, string(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	t.token = tr.AccessToken
	t.expiresAt = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	t.logger.Info("obtained new Twitch access token")
	return t.token, nil
}
