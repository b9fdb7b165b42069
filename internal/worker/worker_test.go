package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/streampulse/backend/internal/analytics"
	"github.com/streampulse/backend/internal/models"
	"github.com/streampulse/backend/pkg/queue"
)

type fakeQueue struct {
	mu         sync.Mutex
	jobs       []*queue.Job
	retries    []*queue.Job
	dequeues   int
	dequeueErr error
}

func (f *fakeQueue) Dequeue(ctx context.Context) (*queue.Job, error) {
	f.mu.Lock()
	f.dequeues++
	if f.dequeueErr != nil {
		f.mu.Unlock()
		return nil, f.dequeueErr
	}
	if len(f.jobs) > 0 {
		job := f.jobs[0]
		f.jobs = f.jobs[1:]
		f.mu.Unlock()
		return job, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeQueue) Retry(_ context.Context, job *queue.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries = append(f.retries, job)
	return nil
}

func (f *fakeQueue) dequeueCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dequeues
}

func statsJob(t *testing.T, broadcasterID string) *queue.Job {
	t.Helper()
	payload, err := json.Marshal(queue.StatsRefreshPayload{BroadcasterID: broadcasterID, Reason: "manual"})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &queue.Job{
		ID:        uuid.New().String(),
		Type:      queue.JobTypeStatsRefresh,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

func TestProcessRefreshesStats(t *testing.T) {
	store := analytics.NewMemoryStore()
	ctx := context.Background()
	startedAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	endedAt := startedAt.Add(30 * time.Minute)
	minutes := 30
	_ = store.PersistSession(ctx, &models.StreamSession{
		ID:               uuid.New(),
		BroadcasterID:    "123",
		BroadcasterLogin: "ninja",
		StartedAt:        startedAt,
		EndedAt:          &endedAt,
		DurationMinutes:  &minutes,
	})
	processor := NewStatsProcessor(analytics.NewAggregator(store, nil), &fakeQueue{}, nil)

	if err := processor.Process(ctx, statsJob(t, "123")); err != nil {
		t.Fatalf("Process: %v", err)
	}
	stats, err := store.GetStats(ctx, "123")
	if err != nil || stats == nil {
		t.Fatalf("stats not cached after refresh: %v", err)
	}
	if stats.TotalSessions != 1 {
		t.Errorf("TotalSessions = %d, want 1", stats.TotalSessions)
	}
}

func TestProcessRejectsUnknownJobType(t *testing.T) {
	processor := NewStatsProcessor(analytics.NewAggregator(analytics.NewMemoryStore(), nil), &fakeQueue{}, nil)
	job := statsJob(t, "123")
	job.Type = "recording_upload"

	if err := processor.Process(context.Background(), job); err == nil {
		t.Error("unknown job type must fail")
	}
}

func TestRunBacksOffOnDequeueError(t *testing.T) {
	q := &fakeQueue{dequeueErr: errors.New("connection refused")}
	processor := NewStatsProcessor(analytics.NewAggregator(analytics.NewMemoryStore(), nil), q, nil)
	processor.backoff = 20 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	processor.Run(ctx)

	// Without the backoff the loop re-enters Dequeue immediately and the
	// count explodes into the thousands.
	if got := q.dequeueCount(); got < 2 || got > 20 {
		t.Errorf("dequeue attempts = %d, want a handful over 150ms", got)
	}
}

func TestRunRetriesFailedJob(t *testing.T) {
	// Empty store: the refresh fails with ErrNoData and the job must be
	// handed back for retry.
	q := &fakeQueue{jobs: []*queue.Job{statsJob(t, "999")}}
	processor := NewStatsProcessor(analytics.NewAggregator(analytics.NewMemoryStore(), nil), q, nil)
	processor.backoff = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	processor.Run(ctx)

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.retries) != 1 {
		t.Fatalf("retries = %d, want 1", len(q.retries))
	}
	if q.retries[0].Type != queue.JobTypeStatsRefresh {
		t.Errorf("retried job type = %s", q.retries[0].Type)
	}
}
