package poller

import (
	"testing"
	"time"

	"github.com/streampulse/backend/config"
	"github.com/streampulse/backend/internal/models"
)

func TestOfflineStatusFresh(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	staleAfter := 10 * time.Minute
	offline := func(lastUpdated time.Time) *models.StreamStatus {
		return &models.StreamStatus{UserID: "123", IsLive: false, LastUpdated: lastUpdated}
	}

	tests := []struct {
		name   string
		prev   *models.StreamStatus
		isLive bool
		want   bool
	}{
		{"recently refreshed offline row is skipped", offline(now.Add(-2 * time.Minute)), false, true},
		{"stale offline row is rewritten", offline(now.Add(-15 * time.Minute)), false, false},
		{"row at exactly the window is rewritten", offline(now.Add(-staleAfter)), false, false},
		{"live broadcaster always written", offline(now.Add(-2 * time.Minute)), true, false},
		{"missing row always written", nil, false, false},
		{"live-to-offline transition always written", &models.StreamStatus{UserID: "123", IsLive: true, LastUpdated: now.Add(-time.Minute)}, false, false},
	}
	for _, tt := range tests {
		if got := offlineStatusFresh(tt.prev, tt.isLive, now, staleAfter); got != tt.want {
			t.Errorf("%s: offlineStatusFresh = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestStaleAfterDefault(t *testing.T) {
	p := New(nil, nil, nil, nil, config.PollerConfig{StaleAfterMinutes: 0}, nil)
	if got := p.staleAfter(); got != 10*time.Minute {
		t.Errorf("staleAfter = %v, want 10m default", got)
	}
	p = New(nil, nil, nil, nil, config.PollerConfig{StaleAfterMinutes: 30}, nil)
	if got := p.staleAfter(); got != 30*time.Minute {
		t.Errorf("staleAfter = %v, want 30m", got)
	}
}
