package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// PoolMetrics tracks worker pool counters.
type PoolMetrics struct {
	Active    int64    `json:"active"`
	Queued    int64    `json:"queued"`
	Completed int64    `json:"completed"`
	Failed    int64    `json:"failed"`
	Panics    int64    `json:"panics"`
	Rejected  int64    `json:"rejected"`
	Running   []string `json:"running,omitempty"`
}

var (
	// ErrPoolShutdown is returned when work is submitted to a shut-down pool.
	ErrPoolShutdown = errors.New("worker pool is shut down")
	// ErrRunInFlight is returned when a run is submitted while an earlier
	// invocation of the same run is still executing.
	ErrRunInFlight = errors.New("run already in flight")
)

// RunFunc is one invocation of a run on a pool goroutine.
type RunFunc func(ctx context.Context) error

// PanicHandler receives the run ID and recovered value of a panicking run.
type PanicHandler func(runID string, recovered any)

// WorkerPool bounds how many run invocations execute concurrently and
// guarantees a run never executes on two goroutines at once.
type WorkerPool struct {
	sem     chan struct{}
	wg      sync.WaitGroup
	metrics PoolMetrics
	mu      sync.Mutex
	running map[string]struct{}
	onPanic PanicHandler
	done    chan struct{}
	closed  bool
}

// NewWorkerPool creates a pool with the given max concurrency.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		sem:     make(chan struct{}, size),
		running: make(map[string]struct{}),
		done:    make(chan struct{}),
	}
}

// OnPanic sets the handler called after a run panics. Set it before the
// first Submit.
func (p *WorkerPool) OnPanic(h PanicHandler) {
	p.onPanic = h
}

// Submit runs fn for runID on a pool goroutine. It blocks while the pool is
// full and returns early on ctx cancellation or shutdown. A runID that is
// already executing is rejected with ErrRunInFlight.
func (p *WorkerPool) Submit(ctx context.Context, runID string, fn RunFunc) error {
	if err := p.admit(runID); err != nil {
		atomic.AddInt64(&p.metrics.Rejected, 1)
		return err
	}

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		p.release(runID)
		return ctx.Err()
	case <-p.done:
		p.release(runID)
		return ErrPoolShutdown
	}

	// wg.Add must happen under the lock so Shutdown's Wait cannot miss it.
	p.mu.Lock()
	if p.closed {
		delete(p.running, runID)
		p.mu.Unlock()
		<-p.sem
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	atomic.AddInt64(&p.metrics.Active, 1)
	p.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&p.metrics.Panics, 1)
				atomic.AddInt64(&p.metrics.Failed, 1)
				if p.onPanic != nil {
					p.onPanic(runID, r)
				}
			}
			atomic.AddInt64(&p.metrics.Active, -1)
			p.release(runID)
			<-p.sem
			p.wg.Done()
		}()

		if err := fn(ctx); err != nil {
			atomic.AddInt64(&p.metrics.Failed, 1)
			return
		}
		atomic.AddInt64(&p.metrics.Completed, 1)
	}()
	return nil
}

// admit reserves runID for the caller.
func (p *WorkerPool) admit(runID string) error {
	if runID == "" {
		return errors.New("run id is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolShutdown
	}
	if _, ok := p.running[runID]; ok {
		return fmt.Errorf("%w: %s", ErrRunInFlight, runID)
	}
	p.running[runID] = struct{}{}
	return nil
}

func (p *WorkerPool) release(runID string) {
	p.mu.Lock()
	delete(p.running, runID)
	p.mu.Unlock()
}

// InFlight reports whether runID is admitted and not yet finished.
func (p *WorkerPool) InFlight(runID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.running[runID]
	return ok
}

// Wait blocks until all submitted work completes.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

// Shutdown rejects new submissions and waits for active work.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

// Metrics returns a snapshot of the pool counters and the sorted IDs of the
// runs currently admitted. Queued is left for the owner of the queue.
func (p *WorkerPool) Metrics() PoolMetrics {
	p.mu.Lock()
	running := make([]string, 0, len(p.running))
	for id := range p.running {
		running = append(running, id)
	}
	p.mu.Unlock()
	sort.Strings(running)

	return PoolMetrics{
		Active:    atomic.LoadInt64(&p.metrics.Active),
		Completed: atomic.LoadInt64(&p.metrics.Completed),
		Failed:    atomic.LoadInt64(&p.metrics.Failed),
		Panics:    atomic.LoadInt64(&p.metrics.Panics),
		Rejected:  atomic.LoadInt64(&p.metrics.Rejected),
		Running:   running,
	}
}
