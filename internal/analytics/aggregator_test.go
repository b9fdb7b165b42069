package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/streampulse/backend/internal/models"
)

func closedSession(broadcasterID, login string, startedAt time.Time, minutes int) models.StreamSession {
	endedAt := startedAt.Add(time.Duration(minutes) * time.Minute)
	return models.StreamSession{
		ID:               uuid.New(),
		BroadcasterID:    broadcasterID,
		BroadcasterLogin: login,
		StartedAt:        startedAt,
		EndedAt:          &endedAt,
		DurationMinutes:  &minutes,
	}
}

func TestComputeStatsSingleSession(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	startedAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	s := closedSession("123", "ninja", startedAt, 20)
	_ = store.PersistSession(ctx, &s)
	for i, viewers := range []int{1000, 1500, 1200} {
		_ = store.PersistSnapshot(ctx, &models.StreamSnapshot{
			ID:               uuid.New(),
			BroadcasterID:    "123",
			BroadcasterLogin: "ninja",
			ViewerCount:      viewers,
			CapturedAt:       startedAt.Add(time.Duration(5*(i+1)) * time.Minute),
		})
	}

	agg := NewAggregator(store, nil)
	stats, err := agg.ComputeStats(ctx, "123")
	if err != nil {
		t.Fatalf("ComputeStats: %v", err)
	}

	if stats.TotalSessions != 1 {
		t.Errorf("total_sessions = %d, want 1", stats.TotalSessions)
	}
	if stats.TotalHoursStreamed != 0.33 {
		t.Errorf("total_hours_streamed = %v, want 0.33", stats.TotalHoursStreamed)
	}
	if stats.AvgStreamDurationMinutes != 20 {
		t.Errorf("avg_stream_duration_minutes = %v, want 20", stats.AvgStreamDurationMinutes)
	}
	if stats.MaxConcurrentViewers != 1500 {
		t.Errorf("max_concurrent_viewers = %d, want 1500", stats.MaxConcurrentViewers)
	}
	if stats.AvgViewersAllTime != 1233.33 {
		t.Errorf("avg_viewers_all_time = %v, want 1233.33", stats.AvgViewersAllTime)
	}
	if stats.LastStreamAt == nil || !stats.LastStreamAt.Equal(startedAt) {
		t.Errorf("last_stream_at = %v, want %v", stats.LastStreamAt, startedAt)
	}
	if !stats.FirstSeenAt.Equal(startedAt) {
		t.Errorf("first_seen_at = %v, want %v", stats.FirstSeenAt, startedAt)
	}
	if stats.BroadcasterLogin != "ninja" {
		t.Errorf("broadcaster_login = %q, want ninja", stats.BroadcasterLogin)
	}
}

func TestComputeStatsOpenSessionExcludedFromTotals(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	closed := closedSession("123", "ninja", base, 60)
	_ = store.PersistSession(ctx, &closed)

	openStart := base.Add(3 * time.Hour)
	open := models.StreamSession{
		ID:               uuid.New(),
		BroadcasterID:    "123",
		BroadcasterLogin: "ninja",
		StartedAt:        openStart,
	}
	_ = store.PersistSession(ctx, &open)
	_ = store.PersistSnapshot(ctx, &models.StreamSnapshot{
		ID:            uuid.New(),
		BroadcasterID: "123",
		ViewerCount:   9000,
		CapturedAt:    openStart.Add(10 * time.Minute),
	})

	agg := NewAggregator(store, nil)
	agg.now = func() time.Time { return openStart.Add(30 * time.Minute) }

	stats, err := agg.ComputeStats(ctx, "123")
	if err != nil {
		t.Fatalf("ComputeStats: %v", err)
	}
	if stats.TotalSessions != 1 {
		t.Errorf("total_sessions = %d, want 1 (open session excluded)", stats.TotalSessions)
	}
	if stats.TotalHoursStreamed != 1 {
		t.Errorf("total_hours_streamed = %v, want 1", stats.TotalHoursStreamed)
	}
	if stats.MaxConcurrentViewers != 9000 {
		t.Errorf("max_concurrent_viewers = %d, want 9000 (live snapshots visible)", stats.MaxConcurrentViewers)
	}
	if stats.LastStreamAt == nil || !stats.LastStreamAt.Equal(openStart) {
		t.Errorf("last_stream_at = %v, want %v", stats.LastStreamAt, openStart)
	}
}

func TestComputeStatsRepeatableWhileSessionOpen(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	openStart := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	open := models.StreamSession{ID: uuid.New(), BroadcasterID: "123", StartedAt: openStart}
	_ = store.PersistSession(ctx, &open)
	_ = store.PersistSnapshot(ctx, &models.StreamSnapshot{
		ID:            uuid.New(),
		BroadcasterID: "123",
		ViewerCount:   500,
		CapturedAt:    openStart.Add(5 * time.Minute),
	})

	agg := NewAggregator(store, nil)
	agg.now = func() time.Time { return openStart.Add(time.Hour) }

	first, err := agg.ComputeStats(ctx, "123")
	if err != nil {
		t.Fatalf("first ComputeStats: %v", err)
	}
	second, err := agg.ComputeStats(ctx, "123")
	if err != nil {
		t.Fatalf("second ComputeStats: %v", err)
	}
	if first.TotalSessions != second.TotalSessions || first.TotalHoursStreamed != second.TotalHoursStreamed {
		t.Error("repeated computation must not double count the open session")
	}
	if cached, _ := store.GetStats(ctx, "123"); cached != nil {
		t.Error("ComputeStats must not write the stats cache")
	}
}

func TestComputeStatsNoData(t *testing.T) {
	agg := NewAggregator(NewMemoryStore(), nil)
	_, err := agg.ComputeStats(context.Background(), "nobody")
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("err = %v, want ErrNoData", err)
	}
}

func TestSnapshotBoundaryAttribution(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	first := closedSession("123", "ninja", base, 60)
	second := closedSession("123", "ninja", base.Add(time.Hour), 60)
	_ = store.PersistSession(ctx, &first)
	_ = store.PersistSession(ctx, &second)

	// Captured exactly on the boundary: belongs to the second session only.
	_ = store.PersistSnapshot(ctx, &models.StreamSnapshot{
		ID:            uuid.New(),
		BroadcasterID: "123",
		ViewerCount:   100,
		CapturedAt:    base.Add(time.Hour),
	})

	maxFirst, _, _, countFirst := sessionViewerAggregates(mustSnapshots(t, store, "123"), first.StartedAt, *first.EndedAt)
	maxSecond, _, _, countSecond := sessionViewerAggregates(mustSnapshots(t, store, "123"), second.StartedAt, *second.EndedAt)
	if countFirst != 0 || maxFirst != 0 {
		t.Errorf("boundary snapshot attributed to first session (count=%d)", countFirst)
	}
	if countSecond != 1 || maxSecond != 100 {
		t.Errorf("boundary snapshot missing from second session (count=%d)", countSecond)
	}
}

func TestForceRecalculateReplacesCachedStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	startedAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	_ = store.PutStats(ctx, &models.StreamerStats{
		BroadcasterID:        "123",
		TotalSessions:        999,
		MaxConcurrentViewers: 999999,
	})
	s := closedSession("123", "ninja", startedAt, 30)
	_ = store.PersistSession(ctx, &s)

	agg := NewAggregator(store, nil)
	fresh, err := agg.ForceRecalculate(ctx, "123")
	if err != nil {
		t.Fatalf("ForceRecalculate: %v", err)
	}
	if fresh.TotalSessions != 1 {
		t.Errorf("total_sessions = %d, want 1", fresh.TotalSessions)
	}

	cached, _ := store.GetStats(ctx, "123")
	if cached == nil || cached.TotalSessions != 1 || cached.MaxConcurrentViewers != 0 {
		t.Errorf("stale stats must be replaced wholesale, got %+v", cached)
	}
}

func TestClampedMinutes(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		end  time.Time
		want int
	}{
		{"exact", base.Add(20 * time.Minute), 20},
		{"rounds up", base.Add(20*time.Minute + 40*time.Second), 21},
		{"rounds down", base.Add(20*time.Minute + 20*time.Second), 20},
		{"zero", base, 0},
		{"negative clamped", base.Add(-10 * time.Minute), 0},
	}
	for _, tc := range cases {
		if got := clampedMinutes(base, tc.end); got != tc.want {
			t.Errorf("%s: clampedMinutes = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func mustSnapshots(t *testing.T, store *MemoryStore, broadcasterID string) []models.StreamSnapshot {
	t.Helper()
	snaps, err := store.ListSnapshots(context.Background(), broadcasterID, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	return snaps
}
