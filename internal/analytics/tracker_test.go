package analytics

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/streampulse/backend/internal/models"
)

type countingRefresher struct {
	calls int64
}

func (r *countingRefresher) Refresh(_ context.Context, _ string) error {
	atomic.AddInt64(&r.calls, 1)
	return nil
}

func (r *countingRefresher) count() int64 { return atomic.LoadInt64(&r.calls) }

func newTestTracker() (*Tracker, *MemoryStore, *countingRefresher) {
	store := NewMemoryStore()
	refresher := &countingRefresher{}
	return NewTracker(store, store, refresher, nil), store, refresher
}

func TestLiveSignalOpensSession(t *testing.T) {
	tracker, store, _ := newTestTracker()
	ctx := context.Background()
	startedAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	meta := models.SessionMeta{BroadcasterLogin: "ninja", BroadcasterName: "Ninja"}
	if err := tracker.HandleLiveSignal(ctx, "123", startedAt, meta); err != nil {
		t.Fatalf("HandleLiveSignal: %v", err)
	}

	open, err := store.GetOpenSession(ctx, "123")
	if err != nil {
		t.Fatalf("GetOpenSession: %v", err)
	}
	if open == nil {
		t.Fatal("expected an open session")
	}
	if !open.StartedAt.Equal(startedAt) {
		t.Errorf("started_at = %v, want %v", open.StartedAt, startedAt)
	}
	if open.BroadcasterLogin != "ninja" {
		t.Errorf("broadcaster_login = %q, want ninja", open.BroadcasterLogin)
	}
	if !open.Open() {
		t.Error("session should be open")
	}
}

func TestDuplicateLiveSignalIgnored(t *testing.T) {
	tracker, store, _ := newTestTracker()
	ctx := context.Background()
	startedAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	meta := models.SessionMeta{BroadcasterLogin: "ninja"}
	if err := tracker.HandleLiveSignal(ctx, "123", startedAt, meta); err != nil {
		t.Fatalf("first live signal: %v", err)
	}
	if err := tracker.HandleLiveSignal(ctx, "123", startedAt.Add(time.Minute), meta); err != nil {
		t.Fatalf("duplicate live signal: %v", err)
	}

	sessions, _ := store.ListSessions(ctx, "123")
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	if !sessions[0].StartedAt.Equal(startedAt) {
		t.Errorf("duplicate must not move started_at: got %v", sessions[0].StartedAt)
	}
}

func TestOfflineSignalClosesSession(t *testing.T) {
	tracker, store, refresher := newTestTracker()
	ctx := context.Background()
	startedAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	endedAt := startedAt.Add(20 * time.Minute)

	if err := tracker.HandleLiveSignal(ctx, "123", startedAt, models.SessionMeta{BroadcasterLogin: "ninja"}); err != nil {
		t.Fatalf("HandleLiveSignal: %v", err)
	}
	if err := tracker.HandleOfflineSignal(ctx, "123", endedAt); err != nil {
		t.Fatalf("HandleOfflineSignal: %v", err)
	}

	sessions, _ := store.ListSessions(ctx, "123")
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	s := sessions[0]
	if s.EndedAt == nil || !s.EndedAt.Equal(endedAt) {
		t.Fatalf("ended_at = %v, want %v", s.EndedAt, endedAt)
	}
	if s.DurationMinutes == nil || *s.DurationMinutes != 20 {
		t.Errorf("duration_minutes = %v, want 20", s.DurationMinutes)
	}
	if got := refresher.count(); got != 1 {
		t.Errorf("refresh calls = %d, want 1", got)
	}
}

func TestOfflineWithNoOpenSessionIsNoOp(t *testing.T) {
	tracker, store, refresher := newTestTracker()
	ctx := context.Background()

	if err := tracker.HandleOfflineSignal(ctx, "123", time.Now()); err != nil {
		t.Fatalf("HandleOfflineSignal: %v", err)
	}
	sessions, _ := store.ListSessions(ctx, "123")
	if len(sessions) != 0 {
		t.Errorf("got %d sessions, want 0", len(sessions))
	}
	if got := refresher.count(); got != 0 {
		t.Errorf("refresh calls = %d, want 0", got)
	}
}

func TestDuplicateOfflineDoesNotRefreshTwice(t *testing.T) {
	tracker, _, refresher := newTestTracker()
	ctx := context.Background()
	startedAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	_ = tracker.HandleLiveSignal(ctx, "123", startedAt, models.SessionMeta{})
	_ = tracker.HandleOfflineSignal(ctx, "123", startedAt.Add(time.Hour))
	_ = tracker.HandleOfflineSignal(ctx, "123", startedAt.Add(2*time.Hour))

	if got := refresher.count(); got != 1 {
		t.Errorf("refresh calls = %d, want 1", got)
	}
}

func TestOfflineBeforeStartClampsDuration(t *testing.T) {
	tracker, store, _ := newTestTracker()
	ctx := context.Background()
	startedAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	_ = tracker.HandleLiveSignal(ctx, "123", startedAt, models.SessionMeta{})
	if err := tracker.HandleOfflineSignal(ctx, "123", startedAt.Add(-5*time.Minute)); err != nil {
		t.Fatalf("HandleOfflineSignal: %v", err)
	}

	sessions, _ := store.ListSessions(ctx, "123")
	s := sessions[0]
	if s.EndedAt == nil {
		t.Fatal("session should be closed")
	}
	if s.DurationMinutes == nil || *s.DurationMinutes != 0 {
		t.Errorf("duration_minutes = %v, want 0", s.DurationMinutes)
	}
}

func TestConcurrentLiveSignalsOpenOneSession(t *testing.T) {
	tracker, store, _ := newTestTracker()
	ctx := context.Background()
	startedAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tracker.HandleLiveSignal(ctx, "123", startedAt, models.SessionMeta{})
		}()
	}
	wg.Wait()

	sessions, _ := store.ListSessions(ctx, "123")
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
}

func TestDistinctBroadcastersDoNotInterfere(t *testing.T) {
	tracker, store, _ := newTestTracker()
	ctx := context.Background()
	startedAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	_ = tracker.HandleLiveSignal(ctx, "123", startedAt, models.SessionMeta{})
	_ = tracker.HandleLiveSignal(ctx, "456", startedAt, models.SessionMeta{})
	_ = tracker.HandleOfflineSignal(ctx, "123", startedAt.Add(time.Hour))

	open123, _ := store.GetOpenSession(ctx, "123")
	open456, _ := store.GetOpenSession(ctx, "456")
	if open123 != nil {
		t.Error("broadcaster 123 should have no open session")
	}
	if open456 == nil {
		t.Error("broadcaster 456 should still have an open session")
	}
}

func TestCloseRecordsDenormalizedViewerStats(t *testing.T) {
	tracker, store, _ := newTestTracker()
	ctx := context.Background()
	startedAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	_ = tracker.HandleLiveSignal(ctx, "123", startedAt, models.SessionMeta{})
	for i, viewers := range []int{1000, 1500, 1200} {
		_ = store.PersistSnapshot(ctx, &models.StreamSnapshot{
			BroadcasterID: "123",
			ViewerCount:   viewers,
			CapturedAt:    startedAt.Add(time.Duration(5*(i+1)) * time.Minute),
		})
	}
	_ = tracker.HandleOfflineSignal(ctx, "123", startedAt.Add(20*time.Minute))

	sessions, _ := store.ListSessions(ctx, "123")
	s := sessions[0]
	if s.MaxViewers == nil || *s.MaxViewers != 1500 {
		t.Errorf("max_viewers = %v, want 1500", s.MaxViewers)
	}
	if s.AvgViewers == nil || *s.AvgViewers != 1233.33 {
		t.Errorf("avg_viewers = %v, want 1233.33", s.AvgViewers)
	}
}
