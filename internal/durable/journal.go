package durable

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Journal is a Step backed by a MemoStore. A new Journal is created for
// every invocation of a run; all journals of the same run share recorded
// results through the store.
type Journal struct {
	runID string
	memo  MemoStore
	sleep func(ctx context.Context, d time.Duration) error

	mu   sync.Mutex
	seen map[string]int
}

// JournalOption configures a Journal.
type JournalOption func(*Journal)

// WithSleeper replaces the timer used by Sleep.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) JournalOption {
	return func(j *Journal) { j.sleep = fn }
}

// NewJournal creates a Journal for one invocation of runID.
func NewJournal(runID string, memo MemoStore, opts ...JournalOption) *Journal {
	j := &Journal{
		runID: runID,
		memo:  memo,
		sleep: sleepContext,
		seen:  make(map[string]int),
	}
	for _, o := range opts {
		o(j)
	}
	return j
}

func (j *Journal) RunID() string { return j.runID }

// Run executes fn unless a result for this step is already recorded.
// Repeated names within one invocation get an occurrence suffix, so the
// n-th call with a given name always maps to the same record on replay.
func (j *Journal) Run(ctx context.Context, name string, fn StepFunc) (json.RawMessage, error) {
	key := j.key(name)

	if raw, ok, err := j.memo.GetStepResult(ctx, j.runID, key); err != nil {
		return nil, fmt.Errorf("load step %q: %w", key, err)
	} else if ok {
		return raw, nil
	}

	result, err := fn(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode step %q result: %w", key, err)
	}
	if err := j.memo.SaveStepResult(ctx, j.runID, key, raw); err != nil {
		return nil, fmt.Errorf("record step %q: %w", key, err)
	}
	return raw, nil
}

// Sleep blocks for d unless the sleep was already completed by an earlier
// invocation of the run.
func (j *Journal) Sleep(ctx context.Context, name string, d time.Duration) error {
	_, err := j.Run(ctx, "sleep:"+name, func(ctx context.Context) (any, error) {
		if err := j.sleep(ctx, d); err != nil {
			return nil, err
		}
		return map[string]any{"slept": d.String()}, nil
	})
	return err
}

func (j *Journal) key(name string) string {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := j.seen[name]
	j.seen[name] = n + 1
	if n == 0 {
		return name
	}
	return fmt.Sprintf("%s:%d", name, n)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
