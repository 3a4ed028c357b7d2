package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rendis/nodeflow/pkg/schema"
)

// AppendRunEvent appends an event with a monotonically increasing per-run
// sequence. The sequence is read and written in one transaction on the
// store's single connection, so concurrent appends to the same run cannot
// interleave.
func (s *LibSQLStore) AppendRunEvent(ctx context.Context, event *RunEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin run event tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM run_events WHERE run_id = ?`, event.RunID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO run_events (run_id, workflow_id, node_id, event_type, payload, sequence, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.RunID, event.WorkflowID, nullStr(event.NodeID), event.Type, nullRaw(event.Payload), seq, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert run event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run event: %w", err)
	}
	return nil
}

// ListRunEvents returns events for a run with sequence > since, ordered by
// sequence.
func (s *LibSQLStore) ListRunEvents(ctx context.Context, runID string, since int64) ([]*RunEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, workflow_id, node_id, event_type, payload, sequence, timestamp
		 FROM run_events WHERE run_id = ? AND sequence > ? ORDER BY sequence ASC`,
		runID, since,
	)
	if err != nil {
		return nil, err
	}
	return scanRunEvents(rows)
}

// ListRuns summarizes the most recent runs, newest first.
func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*RunSummary, error) {
	query := `SELECT run_id FROM run_events`
	var args []any
	if filter.WorkflowID != "" {
		query += " WHERE workflow_id = ?"
		args = append(args, filter.WorkflowID)
	}
	query += " GROUP BY run_id ORDER BY MIN(timestamp) DESC, MIN(id) DESC"
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var runIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		runIDs = append(runIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	summaries := make([]*RunSummary, 0, len(runIDs))
	for _, id := range runIDs {
		sum, err := s.ReplayRun(ctx, id)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, sum)
	}
	return summaries, nil
}

// ReplayRun folds the event log of a run into its current summary.
// Returns an error if sequence gaps are detected.
func (s *LibSQLStore) ReplayRun(ctx context.Context, runID string) (*RunSummary, error) {
	events, err := s.ListRunEvents(ctx, runID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}
	if len(events) == 0 {
		return nil, storeNotFound("run", runID)
	}

	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", runID, expected, e.Sequence)
		}
	}

	sum := &RunSummary{
		RunID:      runID,
		WorkflowID: events[0].WorkflowID,
		StartedAt:  events[0].Timestamp,
		Events:     len(events),
	}
	for _, e := range events {
		sum.UpdatedAt = e.Timestamp
		switch e.Type {
		case schema.EventRunLoaded:
			sum.Status = schema.RunStatusLoaded
		case schema.EventRunSorted:
			sum.Status = schema.RunStatusSorted
		case schema.EventRunExecuting:
			sum.Status = schema.RunStatusExecuting
		case schema.EventRunCompleted:
			sum.Status = schema.RunStatusCompleted
			sum.Error = nil
		case schema.EventRunFailed:
			sum.Status = schema.RunStatusFailed
			sum.Error = e.Payload
		}
	}
	return sum, nil
}

func scanRunEvents(rows *sql.Rows) ([]*RunEvent, error) {
	defer rows.Close()
	var events []*RunEvent
	for rows.Next() {
		e := &RunEvent{}
		var nodeID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.WorkflowID, &nodeID, &e.Type, &payload, &e.Sequence, &e.Timestamp); err != nil {
			return nil, err
		}
		e.NodeID = nodeID.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}
