package durable

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoStore persists completed step results keyed by run and step name.
type MemoStore interface {
	GetStepResult(ctx context.Context, runID, stepName string) (json.RawMessage, bool, error)
	SaveStepResult(ctx context.Context, runID, stepName string, result json.RawMessage) error
	// ForgetRun drops every result of runID once the run can no longer be
	// re-invoked.
	ForgetRun(ctx context.Context, runID string) error
}

// MemoryMemo is an in-process MemoStore.
type MemoryMemo struct {
	mu      sync.RWMutex
	results map[string]map[string]json.RawMessage
}

// NewMemoryMemo creates an empty MemoryMemo.
func NewMemoryMemo() *MemoryMemo {
	return &MemoryMemo{results: make(map[string]map[string]json.RawMessage)}
}

func (m *MemoryMemo) GetStepResult(_ context.Context, runID, stepName string) (json.RawMessage, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[runID][stepName]
	return r, ok, nil
}

func (m *MemoryMemo) SaveStepResult(_ context.Context, runID, stepName string, result json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.results[runID]
	if !ok {
		run = make(map[string]json.RawMessage)
		m.results[runID] = run
	}
	run[stepName] = append(json.RawMessage(nil), result...)
	return nil
}

func (m *MemoryMemo) ForgetRun(_ context.Context, runID string) error {
	m.mu.Lock()
	delete(m.results, runID)
	m.mu.Unlock()
	return nil
}
