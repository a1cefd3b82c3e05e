// Package trigger drives the processor on a periodic clock plus a
// best-effort on-demand kick. Correctness never depends on a kick getting
// through: a missed kick only delays an entry until the next scheduled tick.
package trigger

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mailqueue/internal/metrics"
	"mailqueue/internal/processor"
	"mailqueue/internal/store"
)

type Trigger struct {
	queue store.Queue
	proc  *processor.Processor
	log   *zap.Logger

	interval   time.Duration
	staleAfter time.Duration
	batchSize  int

	kick chan struct{}
}

func New(queue store.Queue, proc *processor.Processor, log *zap.Logger, interval, staleAfter time.Duration, batchSize int) *Trigger {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	if batchSize <= 0 {
		batchSize = 25
	}
	return &Trigger{
		queue:      queue,
		proc:       proc,
		log:        log,
		interval:   interval,
		staleAfter: staleAfter,
		batchSize:  batchSize,
		kick:       make(chan struct{}, 1),
	}
}

// Kick requests an immediate tick, typically after a high-priority enqueue.
// Non-blocking; kicks arriving while one is already queued coalesce.
func (t *Trigger) Kick() {
	select {
	case t.kick <- struct{}{}:
	default:
	}
}

// Run ticks until ctx is canceled.
func (t *Trigger) Run(ctx context.Context) {
	t.log.Info("trigger started",
		zap.Duration("interval", t.interval),
		zap.Int("batch_size", t.batchSize),
	)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.log.Info("trigger stopped")
			return
		case <-ticker.C:
			t.Tick(ctx)
		case <-t.kick:
			t.Tick(ctx)
		}
	}
}

// Tick runs one bounded processing pass. A no-op when the queue is empty,
// which keeps frequent ticks cheap.
func (t *Trigger) Tick(ctx context.Context) {
	if released, err := t.queue.ReleaseStale(ctx, t.staleAfter); err != nil {
		t.log.Error("stale claim sweep failed", zap.Error(err))
	} else if released > 0 {
		t.log.Warn("stale claims released", zap.Int("count", released))
	}

	pending, err := t.queue.CountPending(ctx)
	if err != nil {
		t.log.Error("pending count failed", zap.Error(err))
		return
	}
	metrics.PendingEntries.Set(float64(pending))
	if pending == 0 {
		return
	}

	start := time.Now()
	summary, err := t.proc.ProcessBatch(ctx, t.batchSize)
	metrics.BatchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		t.log.Error("batch failed", zap.Error(err))
		return
	}

	t.log.Info("tick complete",
		zap.Int("pending_before", pending),
		zap.Int("processed", summary.Processed),
		zap.Int("sent", summary.Sent),
		zap.Int("failed", summary.Failed),
	)
}
