// Package scheduler starts runs of workflows whose SCHEDULE_TRIGGER nodes
// carry a cron expression.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/nodeflow/internal/durable"
	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/schema"
)

// CronKey is the node data key holding a schedule's cron expression.
const CronKey = "cronExpression"

// DefaultInterval is how often the scheduler looks for due schedules.
const DefaultInterval = 30 * time.Second

// Store is the slice of store.Store the scheduler needs.
type Store interface {
	ListNodesByType(ctx context.Context, nodeType schema.NodeType) ([]schema.Node, error)
	ListScheduleStates(ctx context.Context) ([]*store.ScheduleState, error)
	UpsertScheduleState(ctx context.Context, st *store.ScheduleState) error
}

// Enqueuer hands a run to the durable substrate.
type Enqueuer interface {
	Enqueue(ctx context.Context, ev durable.Event) (string, error)
}

// Scheduler polls schedule nodes and enqueues runs for those that are due.
type Scheduler struct {
	store    Store
	runs     Enqueuer
	parser   cron.Parser
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	// tickMu serializes ticks so a schedule never fires twice for one slot.
	tickMu sync.Mutex
}

// NewScheduler creates a new Scheduler. A zero interval selects
// DefaultInterval.
func NewScheduler(s Store, runs Enqueuer, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Scheduler{
		store:    s,
		runs:     runs,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", "interval", s.interval)
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick reconciles schedule state with the current schedule nodes and
// enqueues every run that is due. It returns the number of runs enqueued.
//
// A schedule seen for the first time, or whose expression changed, is
// armed for its next slot without firing. A schedule that missed one or
// more slots fires once.
func (s *Scheduler) Tick(ctx context.Context) int {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	nodes, err := s.store.ListNodesByType(ctx, schema.NodeTypeScheduleTrigger)
	if err != nil {
		s.logger.Error("failed to list schedule nodes", "error", err)
		return 0
	}
	states, err := s.store.ListScheduleStates(ctx)
	if err != nil {
		s.logger.Error("failed to list schedule state", "error", err)
		return 0
	}
	byNode := make(map[string]*store.ScheduleState, len(states))
	for _, st := range states {
		byNode[st.NodeID] = st
	}

	now := s.now().UTC()
	fired := 0
	for _, n := range nodes {
		if ctx.Err() != nil {
			return fired
		}
		expr := cronExpression(n)
		if expr == "" {
			continue
		}
		nodeCtx := logging.WithNodeID(logging.WithWorkflowID(ctx, n.WorkflowID), n.ID)

		st := byNode[n.ID]
		if st == nil || st.CronExpression != expr {
			s.arm(nodeCtx, n, expr, now)
			continue
		}
		if st.NextRunAt != nil && st.NextRunAt.After(now) {
			continue
		}
		if s.fire(nodeCtx, n, st, now) {
			fired++
		}
	}
	return fired
}

// RecoverMissed fires schedules whose slot passed while the process was
// down. Each fires once regardless of how many slots were missed.
func (s *Scheduler) RecoverMissed(ctx context.Context) error {
	if n := s.Tick(ctx); n > 0 {
		s.logger.Info("recovered missed schedules", "count", n)
	}
	return ctx.Err()
}

func (s *Scheduler) arm(ctx context.Context, n schema.Node, expr string, now time.Time) {
	next, err := s.CalculateNextRun(expr, now)
	if err != nil {
		s.logger.WarnContext(ctx, "invalid cron expression on schedule node", "cron", expr, "error", err)
		return
	}
	st := &store.ScheduleState{NodeID: n.ID, WorkflowID: n.WorkflowID, CronExpression: expr, NextRunAt: &next}
	if err := s.store.UpsertScheduleState(ctx, st); err != nil {
		s.logger.ErrorContext(ctx, "failed to arm schedule", "error", err)
		return
	}
	s.logger.InfoContext(ctx, "schedule armed", "cron", expr, "next_run_at", next)
}

func (s *Scheduler) fire(ctx context.Context, n schema.Node, st *store.ScheduleState, now time.Time) bool {
	next, err := s.CalculateNextRun(st.CronExpression, now)
	if err != nil {
		s.logger.WarnContext(ctx, "invalid cron expression on schedule node", "cron", st.CronExpression, "error", err)
		return false
	}

	initial := map[string]any{
		"schedule": map[string]any{
			"nodeId":         n.ID,
			"cronExpression": st.CronExpression,
			"scheduledAt":    formatTime(st.NextRunAt),
			"firedAt":        now.Format(time.RFC3339),
		},
	}
	status := "success"
	runID, err := s.runs.Enqueue(ctx, engine.ExecuteEvent(n.WorkflowID, initial))
	if err != nil {
		status = "error"
		s.logger.ErrorContext(ctx, "failed to enqueue scheduled run", "error", err)
	} else {
		s.logger.InfoContext(ctx, "scheduled run enqueued", "run_id", runID, "next_run_at", next)
	}

	st.LastRunAt = &now
	st.NextRunAt = &next
	st.LastRunStatus = status
	if err := s.store.UpsertScheduleState(ctx, st); err != nil {
		s.logger.ErrorContext(ctx, "failed to update schedule state", "error", err)
	}
	return status == "success"
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

func cronExpression(n schema.Node) string {
	v, _ := n.Data[CronKey].(string)
	return strings.TrimSpace(v)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
