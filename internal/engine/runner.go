package engine

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/rendis/nodeflow/internal/durable"
	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/pkg/schema"
)

// RunnerConfig configures a LocalRunner.
type RunnerConfig struct {
	Workers   int
	QueueSize int
	Retry     RetryPolicy
}

const (
	DefaultWorkers   = 10
	DefaultQueueSize = 256
)

type queuedRun struct {
	runID string
	event durable.Event
}

// LocalRunner is an in-process durable substrate. Runs are queued, invoked
// on a bounded worker pool and re-invoked with backoff after retriable
// failures. Step results live in the MemoStore, so a re-invocation replays
// completed steps.
type LocalRunner struct {
	handler durable.Handler
	memo    durable.MemoStore
	policy  RetryPolicy
	pool    *WorkerPool
	queue   chan queuedRun
	logger  *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}
}

// NewLocalRunner creates a runner for handler.
func NewLocalRunner(handler durable.Handler, memo durable.MemoStore, cfg RunnerConfig, logger *slog.Logger) *LocalRunner {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	pool := NewWorkerPool(cfg.Workers)
	pool.OnPanic(func(runID string, recovered any) {
		logger.Error("run panicked", "run_id", runID, "panic", recovered)
	})
	return &LocalRunner{
		handler: handler,
		memo:    memo,
		policy:  cfg.Retry,
		pool:    pool,
		queue:   make(chan queuedRun, cfg.QueueSize),
		logger:  logger,
		stop:    make(chan struct{}),
	}
}

// NewRunID returns a new lexically sortable run ID.
func NewRunID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// Enqueue schedules ev as a new run and returns its ID. It blocks while
// the queue is full.
func (r *LocalRunner) Enqueue(ctx context.Context, ev durable.Event) (string, error) {
	runID := NewRunID()
	select {
	case r.queue <- queuedRun{runID: runID, event: ev}:
		return runID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-r.stop:
		return "", schema.NewError(schema.ErrCodeExecution, "runner is shut down")
	}
}

// Invoke runs runID to completion in the calling goroutine, retrying
// retriable failures according to the retry policy. The run's memoized
// steps are dropped once it succeeds or fails for good. A run interrupted
// by ctx keeps them until PruneStepResults sweeps them.
func (r *LocalRunner) Invoke(ctx context.Context, runID string, ev durable.Event) error {
	ctx = logging.WithRunID(ctx, runID)
	var err error
	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		err = r.handler(ctx, durable.Invocation{
			RunID:   runID,
			Attempt: attempt,
			Event:   ev,
			Step:    durable.NewJournal(runID, r.memo),
		})
		if err == nil {
			r.forget(ctx, runID)
			return nil
		}
		if !IsRetryableError(err) || attempt == r.policy.MaxAttempts-1 {
			r.forget(ctx, runID)
			break
		}

		delay := ComputeBackoff(r.policy, attempt)
		r.logger.WarnContext(ctx, "run attempt failed, retrying",
			"attempt", attempt+1, "max_attempts", r.policy.MaxAttempts, "delay", delay, "error", err)
		if werr := WaitForBackoff(ctx, delay); werr != nil {
			return werr
		}
	}
	return err
}

func (r *LocalRunner) forget(ctx context.Context, runID string) {
	if err := r.memo.ForgetRun(context.WithoutCancel(ctx), runID); err != nil {
		r.logger.WarnContext(ctx, "failed to drop step results", "error", err)
	}
}

// Start dispatches queued runs to the worker pool until ctx is done or
// Shutdown is called.
func (r *LocalRunner) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.stop:
			return nil
		case job := <-r.queue:
			err := r.pool.Submit(ctx, job.runID, func(ctx context.Context) error {
				if err := r.Invoke(ctx, job.runID, job.event); err != nil {
					r.logger.ErrorContext(ctx, "run failed", "run_id", job.runID, "error", err)
					return err
				}
				return nil
			})
			if err != nil {
				r.logger.ErrorContext(ctx, "run dropped", "run_id", job.runID, "error", err)
				if errors.Is(err, ErrPoolShutdown) {
					return nil
				}
			}
		}
	}
}

// Shutdown stops dispatching and waits for in-flight runs.
func (r *LocalRunner) Shutdown() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.pool.Shutdown()
}

// Metrics returns the worker pool counters with the current queue depth.
func (r *LocalRunner) Metrics() PoolMetrics {
	m := r.pool.Metrics()
	m.Queued = int64(len(r.queue))
	return m
}
