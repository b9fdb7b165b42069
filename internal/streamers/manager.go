package streamers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/streampulse/backend/internal/models"
	"github.com/streampulse/backend/internal/twitch"
)

// ErrStreamerNotFound is returned when a login does not resolve upstream.
var ErrStreamerNotFound = errors.New("streamer not found")

// Manager coordinates the streamer registry with the Helix API: user
// resolution, EventSub subscription lifecycle and status bootstrapping.
type Manager struct {
	repo   *Repository
	twitch *twitch.Client
	logger *zap.Logger
}

// NewManager creates a streamer manager.
func NewManager(repo *Repository, client *twitch.Client, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{repo: repo, twitch: client, logger: logger}
}

// AddStreamer resolves a login upstream, registers it and subscribes to
// its live/offline events. Re-adding an existing streamer reactivates it.
func (m *Manager) AddStreamer(ctx context.Context, login string) (*models.Streamer, error) {
	user, err := m.twitch.GetUserByLogin(ctx, login)
	if err != nil {
		return nil, fmt.Errorf("resolve user %s: %w", login, err)
	}
	if user == nil {
		return nil, ErrStreamerNotFound
	}

	streamer := &models.Streamer{
		UserID:      user.ID,
		Username:    user.Login,
		DisplayName: user.DisplayName,
		IsActive:    true,
	}
	if existing, err := m.repo.GetStreamer(ctx, user.ID); err != nil {
		return nil, err
	} else if existing != nil {
		streamer.SubscriptionID = existing.SubscriptionID
		streamer.CreatedAt = existing.CreatedAt
	}
	if err := m.repo.UpsertStreamer(ctx, streamer); err != nil {
		return nil, err
	}

	if err := m.ensureSubscriptions(ctx, streamer); err != nil {
		// The streamer is registered; subscriptions are retried by the
		// validation sweep.
		m.logger.Error("subscription setup failed",
			zap.String("username", streamer.Username), zap.Error(err))
	}
	m.logger.Info("streamer added",
		zap.String("user_id", streamer.UserID),
		zap.String("username", streamer.Username))
	return streamer, nil
}

// RemoveStreamer deactivates a streamer and deletes its subscriptions.
func (m *Manager) RemoveStreamer(ctx context.Context, login string) error {
	streamer, err := m.repo.GetStreamerByLogin(ctx, login)
	if err != nil {
		return err
	}
	if streamer == nil {
		return ErrStreamerNotFound
	}

	subs, err := m.twitch.ListSubscriptions(ctx)
	if err != nil {
		m.logger.Error("list subscriptions failed", zap.Error(err))
	} else {
		for _, sub := range subs {
			if sub.Condition["broadcaster_user_id"] != streamer.UserID {
				continue
			}
			if err := m.twitch.DeleteSubscription(ctx, sub.ID); err != nil {
				m.logger.Error("delete subscription failed",
					zap.String("subscription_id", sub.ID), zap.Error(err))
			}
		}
	}

	if err := m.repo.Deactivate(ctx, streamer.UserID); err != nil {
		return err
	}
	m.logger.Info("streamer removed",
		zap.String("user_id", streamer.UserID),
		zap.String("username", streamer.Username))
	return nil
}

// ensureSubscriptions creates any missing live/offline subscriptions for a
// streamer and stores the stream.online subscription id.
func (m *Manager) ensureSubscriptions(ctx context.Context, streamer *models.Streamer) error {
	subs, err := m.twitch.ListSubscriptions(ctx)
	if err != nil {
		return err
	}
	have := make(map[string]bool)
	for _, sub := range subs {
		if sub.Condition["broadcaster_user_id"] != streamer.UserID {
			continue
		}
		if sub.Transport.Callback != m.twitch.CallbackURL() {
			continue
		}
		if sub.Status == "enabled" || sub.Status == "webhook_callback_verification_pending" {
			have[sub.Type] = true
			if sub.Type == models.EventStreamOnline && streamer.SubscriptionID != sub.ID {
				streamer.SubscriptionID = sub.ID
				if err := m.repo.SetSubscriptionID(ctx, streamer.UserID, sub.ID); err != nil {
					return err
				}
			}
		}
	}

	for _, eventType := range []string{models.EventStreamOnline, models.EventStreamOffline} {
		if have[eventType] {
			continue
		}
		id, err := m.twitch.CreateSubscription(ctx, eventType, streamer.UserID)
		if err != nil {
			return fmt.Errorf("create %s subscription: %w", eventType, err)
		}
		m.logger.Info("subscription created",
			zap.String("username", streamer.Username),
			zap.String("type", eventType),
			zap.String("subscription_id", id))
		if eventType == models.EventStreamOnline {
			streamer.SubscriptionID = id
			if err := m.repo.SetSubscriptionID(ctx, streamer.UserID, id); err != nil {
				return err
			}
		}
	}
	return nil
}

// ValidationReport summarizes one subscription maintenance sweep.
type ValidationReport struct {
	Checked int `json:"checked"`
	Fixed   int `json:"fixed"`
	Failed  int `json:"failed"`
}

// ValidateAndFixSubscriptions checks every active streamer's subscriptions
// and recreates missing or broken ones.
func (m *Manager) ValidateAndFixSubscriptions(ctx context.Context) (*ValidationReport, error) {
	active, err := m.repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	report := &ValidationReport{}
	for i := range active {
		report.Checked++
		before := active[i].SubscriptionID
		if err := m.ensureSubscriptions(ctx, &active[i]); err != nil {
			report.Failed++
			m.logger.Error("subscription validation failed",
				zap.String("username", active[i].Username), zap.Error(err))
			continue
		}
		if active[i].SubscriptionID != before {
			report.Fixed++
		}
	}
	m.logger.Info("subscription sweep completed",
		zap.Int("checked", report.Checked),
		zap.Int("fixed", report.Fixed),
		zap.Int("failed", report.Failed))
	return report, nil
}

// EnsureDefaults registers the configured default streamers at startup.
func (m *Manager) EnsureDefaults(ctx context.Context, logins []string) {
	for _, login := range logins {
		if login == "" {
			continue
		}
		if _, err := m.AddStreamer(ctx, login); err != nil {
			m.logger.Warn("default streamer setup failed",
				zap.String("login", login), zap.Error(err))
		}
	}
}

// InitializeStatuses seeds the status table from the current live state of
// all active streamers. Called once at startup so events delivered while
// the service was down do not leave stale statuses behind.
func (m *Manager) InitializeStatuses(ctx context.Context) error {
	active, err := m.repo.ListActive(ctx)
	if err != nil {
		return err
	}
	if len(active) == 0 {
		return nil
	}
	ids := make([]string, 0, len(active))
	byID := make(map[string]models.Streamer, len(active))
	for _, s := range active {
		ids = append(ids, s.UserID)
		byID[s.UserID] = s
	}

	streams, err := m.twitch.GetStreams(ctx, ids)
	if err != nil {
		return fmt.Errorf("fetch live streams: %w", err)
	}
	live := make(map[string]twitch.Stream, len(streams))
	for _, stream := range streams {
		live[stream.UserID] = stream
	}

	for _, s := range active {
		status := &models.StreamStatus{
			UserID:      s.UserID,
			Username:    s.Username,
			DisplayName: s.DisplayName,
		}
		if stream, ok := live[s.UserID]; ok {
			status.IsLive = true
			status.ViewerCount = stream.ViewerCount
			status.CategoryName = stream.GameName
			status.Title = stream.Title
			if started, err := time.Parse(time.RFC3339, stream.StartedAt); err == nil {
				status.StartedAt = &started
			}
		}
		if err := m.repo.UpsertStatus(ctx, status); err != nil {
			m.logger.Error("status init failed",
				zap.String("username", s.Username), zap.Error(err))
		}
	}
	m.logger.Info("stream statuses initialized",
		zap.Int("streamers", len(active)),
		zap.Int("live", len(streams)))
	return nil
}

// GetStreamStatus returns a broadcaster's status, falling back to a live
// Helix lookup when no status row exists yet.
func (m *Manager) GetStreamStatus(ctx context.Context, login string) (*models.StreamStatus, error) {
	streamer, err := m.repo.GetStreamerByLogin(ctx, login)
	if err != nil {
		return nil, err
	}
	if streamer == nil {
		return nil, ErrStreamerNotFound
	}
	status, err := m.repo.GetStatus(ctx, streamer.UserID)
	if err != nil {
		return nil, err
	}
	if status != nil {
		return status, nil
	}

	status = &models.StreamStatus{
		UserID:      streamer.UserID,
		Username:    streamer.Username,
		DisplayName: streamer.DisplayName,
	}
	stream, err := m.twitch.GetStream(ctx, streamer.UserID)
	if err != nil {
		return nil, fmt.Errorf("fetch stream: %w", err)
	}
	if stream != nil {
		status.IsLive = true
		status.ViewerCount = stream.ViewerCount
		status.CategoryName = stream.GameName
		status.Title = stream.Title
		if started, err := time.Parse(time.RFC3339, stream.StartedAt); err == nil {
			status.StartedAt = &started
		}
	}
	if err := m.repo.UpsertStatus(ctx, status); err != nil {
		m.logger.Warn("status cache write failed", zap.Error(err))
	}
	return status, nil
}
