package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/streampulse/backend/internal/analytics"
	"github.com/streampulse/backend/pkg/metrics"
	"github.com/streampulse/backend/pkg/queue"
)

// QueueRefresher defers stats refreshes to the background worker via the
// Redis job queue, keeping signal handling off the recomputation path.
type QueueRefresher struct {
	queue *queue.Queue
}

// NewQueueRefresher creates a queue-backed refresher.
func NewQueueRefresher(q *queue.Queue) *QueueRefresher {
	return &QueueRefresher{queue: q}
}

var _ analytics.Refresher = (*QueueRefresher)(nil)

// Refresh enqueues a stats refresh job for the broadcaster.
func (r *QueueRefresher) Refresh(ctx context.Context, broadcasterID string) error {
	return r.queue.EnqueueStatsRefresh(ctx, queue.StatsRefreshPayload{
		BroadcasterID: broadcasterID,
		Reason:        "session_close",
	})
}

// statsQueue is the queue surface the processor consumes.
type statsQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// StatsProcessor consumes stats refresh jobs and runs the aggregator.
type StatsProcessor struct {
	aggregator *analytics.Aggregator
	queue      statsQueue
	backoff    time.Duration
	logger     *zap.Logger
}

// NewStatsProcessor creates a stats refresh processor.
func NewStatsProcessor(aggregator *analytics.Aggregator, q statsQueue, logger *zap.Logger) *StatsProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsProcessor{
		aggregator: aggregator,
		queue:      q,
		backoff:    queue.RetryBackoff,
		logger:     logger,
	}
}

// Process executes one stats refresh job.
func (p *StatsProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeStatsRefresh {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.StatsRefreshPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if err := p.aggregator.Refresh(ctx, payload.BroadcasterID); err != nil {
		return fmt.Errorf("refresh stats for %s: %w", payload.BroadcasterID, err)
	}
	p.logger.Info("stats refresh completed",
		zap.String("broadcaster_id", payload.BroadcasterID),
		zap.String("reason", payload.Reason))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *StatsProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("stats worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("stats worker stopping")
				return
			}
			// A dead Redis makes BLPop fail immediately; back off so the
			// loop does not spin while the connection is down.
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx, p.backoff)
			continue
		}
		if job == nil {
			continue
		}

		if err := p.Process(ctx, job); err != nil {
			metrics.StatsRefreshFailuresTotal.Inc()
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if err := p.queue.Retry(ctx, job); err != nil {
				p.logger.Error("retry failed", zap.String("job_id", job.ID), zap.Error(err))
			}
			p.sleep(ctx, p.backoff)
		}
	}
}

// sleep waits for d or until ctx is cancelled, whichever comes first.
func (p *StatsProcessor) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
