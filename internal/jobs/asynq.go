package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/zalahq/leadscout/internal/quota"
)

// DefaultQueueName is the asynq queue used when none is configured.
const DefaultQueueName = "leadscout"

// RedisOpt converts a redis:// URL into asynq connection options.
func RedisOpt(redisURL string) (asynq.RedisClientOpt, error) {
	if redisURL == "" {
		return asynq.RedisClientOpt{}, eris.New("jobs: redis url not configured")
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, eris.Wrap(err, "jobs: parse redis url")
	}
	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Username:  opt.Username,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: opt.TLSConfig,
	}, nil
}

// AsynqQueue enqueues jobs into Redis for `leadscout worker`.
type AsynqQueue struct {
	client   *asynq.Client
	queue    string
	timeout  time.Duration
	maxRetry int
}

// AsynqConfig configures enqueued tasks.
type AsynqConfig struct {
	Queue    string
	Timeout  time.Duration
	MaxRetry int
}

// NewAsynqQueue creates a producer.
func NewAsynqQueue(opt asynq.RedisConnOpt, cfg AsynqConfig) *AsynqQueue {
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueueName
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.MaxRetry < 0 {
		cfg.MaxRetry = 0
	}
	return &AsynqQueue{
		client:   asynq.NewClient(opt),
		queue:    cfg.Queue,
		timeout:  cfg.Timeout,
		maxRetry: cfg.MaxRetry,
	}
}

// Enqueue stores job as a task. The job id doubles as the task id, so a
// repeated enqueue of the same job is rejected by Redis.
func (q *AsynqQueue) Enqueue(ctx context.Context, job Job) error {
	data, err := encodeJob(job)
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskSearchSource, data)
	info, err := q.client.EnqueueContext(ctx, task,
		asynq.Queue(q.queue),
		asynq.TaskID(job.ID),
		asynq.MaxRetry(q.maxRetry),
		asynq.Timeout(q.timeout),
	)
	if err != nil {
		return eris.Wrapf(err, "jobs: enqueue %s", job.Source)
	}
	zap.L().Debug("jobs: enqueued",
		zap.String("job_id", info.ID),
		zap.String("queue", info.Queue),
		zap.String("source", string(job.Source)),
	)
	return nil
}

// Close releases the Redis connection.
func (q *AsynqQueue) Close(context.Context) error {
	return q.client.Close()
}

// AsynqWorker consumes tasks written by AsynqQueue.
type AsynqWorker struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	handler Handler
	log     *zap.Logger
}

// NewAsynqWorker creates a consumer for queue with the given concurrency.
func NewAsynqWorker(opt asynq.RedisConnOpt, queue string, concurrency int, h Handler) *AsynqWorker {
	if queue == "" {
		queue = DefaultQueueName
	}
	if concurrency < 1 {
		concurrency = 4
	}
	w := &AsynqWorker{
		handler: h,
		mux:     asynq.NewServeMux(),
		log:     zap.L().With(zap.String("component", "jobs.worker")),
	}
	w.server = asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queue: 1},
		Logger:      w.log.Sugar(),
	})
	w.mux.HandleFunc(TaskSearchSource, w.process)
	return w
}

// Run processes tasks until ctx is cancelled, then shuts down gracefully.
func (w *AsynqWorker) Run(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return eris.Wrap(err, "jobs: start worker")
	}
	<-ctx.Done()
	w.server.Shutdown()
	return nil
}

// process runs one task. Quota exhaustion and bad payloads are not retried.
func (w *AsynqWorker) process(ctx context.Context, task *asynq.Task) error {
	job, err := decodeJob(task.Payload())
	if err != nil {
		return eris.Wrap(asynq.SkipRetry, err.Error())
	}
	log := w.log.With(zap.String("job_id", job.ID), zap.String("source", string(job.Source)))

	start := time.Now()
	if err := w.handler.Handle(ctx, job); err != nil {
		log.Warn("jobs: job failed", zap.Error(err))
		if errors.Is(err, quota.ErrQuotaExceeded) {
			return eris.Wrap(asynq.SkipRetry, err.Error())
		}
		return err
	}
	log.Info("jobs: job done", zap.Duration("elapsed", time.Since(start)))
	return nil
}
