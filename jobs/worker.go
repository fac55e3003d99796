package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/epop-app/eventbus/libs/metrics"
	otelx "github.com/epop-app/eventbus/libs/otel"
)

// Handler processes one job payload. A non-nil error reschedules the job with
// backoff until its attempts are exhausted.
type Handler func(ctx context.Context, payload []byte) error

// Store is the narrow queue surface the worker needs; *Repository implements it.
type Store interface {
	FetchDue(ctx context.Context, queue string, limit int) ([]Job, error)
	Complete(ctx context.Context, id int64) error
	Retry(ctx context.Context, id int64, attempts int, runAt time.Time, lastError string) error
	DeadLetter(ctx context.Context, job Job, reason string) error
}

type Worker struct {
	store     Store
	logger    *slog.Logger
	queue     string
	handlers  map[string]Handler
	interval  time.Duration
	batchSize int
	backoff   time.Duration
	now       func() time.Time
}

type WorkerConfig struct {
	Queue     string
	Interval  time.Duration
	BatchSize int
	Backoff   time.Duration
}

func NewWorker(store Store, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 30 * time.Second
	}
	return &Worker{
		store:     store,
		logger:    logger,
		queue:     cfg.Queue,
		handlers:  map[string]Handler{},
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		backoff:   cfg.Backoff,
		now:       time.Now,
	}
}

func (w *Worker) Handle(jobType string, h Handler) {
	w.handlers[jobType] = h
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.ProcessBatch(ctx); err != nil {
				w.logger.Error("job batch failed", "queue", w.queue, "err", err)
			}
		}
	}
}

func (w *Worker) ProcessBatch(ctx context.Context) error {
	due, err := w.store.FetchDue(ctx, w.queue, w.batchSize)
	if err != nil {
		return err
	}

	for _, job := range due {
		w.processJob(ctx, job)
	}
	return nil
}

func (w *Worker) processJob(ctx context.Context, job Job) {
	jobCtx := otelx.ContextWithTraceContext(ctx, job.Traceparent, job.Tracestate)

	handler, ok := w.handlers[job.Type]
	if !ok {
		w.fail(jobCtx, job, fmt.Errorf("no handler registered for job type %q", job.Type))
		return
	}

	if err := handler(jobCtx, job.Payload); err != nil {
		w.fail(jobCtx, job, err)
		return
	}

	if err := w.store.Complete(jobCtx, job.ID); err != nil {
		w.logger.Error("job complete failed", "queue", w.queue, "job_id", job.ID, "err", err)
	}
}

func (w *Worker) fail(ctx context.Context, job Job, cause error) {
	attempts := job.Attempts + 1
	if attempts >= job.MaxAttempts {
		metrics.DeadLetteredJobs.WithLabelValues(job.Queue, job.Type).Inc()
		w.logger.Error("job dead-lettered",
			"queue", job.Queue, "job_type", job.Type, "job_id", job.ID,
			"attempts", attempts, "err", cause,
		)
		if err := w.store.DeadLetter(ctx, job, cause.Error()); err != nil {
			w.logger.Error("dead-letter write failed", "job_id", job.ID, "err", err)
		}
		return
	}

	metrics.JobRetries.WithLabelValues(job.Queue, job.Type).Inc()
	runAt := w.now().Add(Backoff(w.backoff, attempts))
	w.logger.Warn("job failed, rescheduled",
		"queue", job.Queue, "job_type", job.Type, "job_id", job.ID,
		"attempts", attempts, "next_run_at", runAt, "err", cause,
	)
	if err := w.store.Retry(ctx, job.ID, attempts, runAt, cause.Error()); err != nil {
		w.logger.Error("job retry write failed", "job_id", job.ID, "err", err)
	}
}

// maxBackoff caps the exponential ladder.
const maxBackoff = 30 * time.Minute

// Backoff returns base·2^(attempts-1), capped at maxBackoff.
func Backoff(base time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
