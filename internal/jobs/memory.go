package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryConfig sizes the in-process queue.
type MemoryConfig struct {
	Workers  int
	Capacity int
	// Timeout bounds each job. Zero means no per-job deadline.
	Timeout time.Duration
}

// MemoryQueue is a bounded channel drained by a fixed worker pool.
type MemoryQueue struct {
	handler Handler
	timeout time.Duration
	ch      chan Job

	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *zap.Logger
}

// NewMemoryQueue starts cfg.Workers workers.
func NewMemoryQueue(h Handler, cfg MemoryConfig) *MemoryQueue {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &MemoryQueue{
		handler: h,
		timeout: cfg.Timeout,
		ch:      make(chan Job, cfg.Capacity),
		ctx:     ctx,
		cancel:  cancel,
		log:     zap.L().With(zap.String("component", "jobs.memory")),
	}
	for i := 0; i < cfg.Workers; i++ {
		q.wg.Add(1)
		go q.work()
	}
	return q
}

// Enqueue hands job to the pool without blocking.
func (q *MemoryQueue) Enqueue(_ context.Context, job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- job:
		q.log.Debug("jobs: enqueued", zap.String("job_id", job.ID), zap.String("source", string(job.Source)))
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops intake and waits for queued jobs to finish. When ctx ends
// first, running jobs are cancelled and the rest are dropped.
func (q *MemoryQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}

// Len reports the number of jobs waiting for a worker.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

func (q *MemoryQueue) work() {
	defer q.wg.Done()
	for job := range q.ch {
		if q.ctx.Err() != nil {
			q.log.Warn("jobs: dropped on shutdown", zap.String("job_id", job.ID))
			continue
		}
		q.run(job)
	}
}

func (q *MemoryQueue) run(job Job) {
	ctx := q.ctx
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	start := time.Now()
	log := q.log.With(zap.String("job_id", job.ID), zap.String("source", string(job.Source)))
	defer func() {
		if r := recover(); r != nil {
			log.Error("jobs: handler panicked", zap.Any("panic", r))
		}
	}()

	if err := q.handler.Handle(ctx, job); err != nil {
		log.Warn("jobs: job failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return
	}
	log.Debug("jobs: job done", zap.Duration("elapsed", time.Since(start)))
}
