package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/nodeflow/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

var _ Store = (*LibSQLStore)(nil)

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/nodeflow.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	// A single connection serializes writers, which the run event sequence relies on.
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Workflows ---

// CreateWorkflow inserts the workflow together with its nodes and
// connections in one transaction. Missing IDs are generated.
func (s *LibSQLStore) CreateWorkflow(ctx context.Context, wf *schema.Workflow) error {
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	wf.CreatedAt = timeOrNow(wf.CreatedAt)
	wf.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create workflow: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO workflows (id, name, user_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		wf.ID, wf.Name, nullStr(wf.UserID), wf.CreatedAt, wf.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}

	for i := range wf.Nodes {
		n := &wf.Nodes[i]
		if n.ID == "" {
			n.ID = uuid.NewString()
		}
		n.WorkflowID = wf.ID
		n.CreatedAt = timeOrNow(n.CreatedAt)
		n.UpdatedAt = now
		data, err := marshalMapOrDefault(n.Data)
		if err != nil {
			return fmt.Errorf("marshal node %q data: %w", n.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO nodes (id, workflow_id, name, type, position, data, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			n.ID, wf.ID, n.Name, string(n.Type), n.Position, string(data), n.CreatedAt, n.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert node %q: %w", n.ID, err)
		}
	}

	for i := range wf.Connections {
		c := &wf.Connections[i]
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.WorkflowID = wf.ID
		c.CreatedAt = timeOrNow(c.CreatedAt)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO connections (id, workflow_id, from_node_id, to_node_id, from_output, to_input, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, wf.ID, c.FromNodeID, c.ToNodeID, strOr(c.FromOutput, "main"), strOr(c.ToInput, "main"), c.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert connection %s -> %s: %w", c.FromNodeID, c.ToNodeID, err)
		}
	}

	return tx.Commit()
}

// GetWorkflow returns the workflow with its nodes (in position order) and
// connections.
func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error) {
	wf := &schema.Workflow{}
	var userID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, user_id, created_at, updated_at FROM workflows WHERE id = ?`, id,
	).Scan(&wf.ID, &wf.Name, &userID, &wf.CreatedAt, &wf.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	if err != nil {
		return nil, err
	}
	wf.UserID = userID.String

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workflow_id, name, type, position, data, created_at, updated_at
		 FROM nodes WHERE workflow_id = ? ORDER BY position, created_at, rowid`, id)
	if err != nil {
		return nil, err
	}
	wf.Nodes, err = scanNodes(rows)
	if err != nil {
		return nil, err
	}

	crow, err := s.db.QueryContext(ctx,
		`SELECT id, workflow_id, from_node_id, to_node_id, from_output, to_input, created_at
		 FROM connections WHERE workflow_id = ? ORDER BY created_at, rowid`, id)
	if err != nil {
		return nil, err
	}
	defer crow.Close()
	for crow.Next() {
		var c schema.Connection
		if err := crow.Scan(&c.ID, &c.WorkflowID, &c.FromNodeID, &c.ToNodeID, &c.FromOutput, &c.ToInput, &c.CreatedAt); err != nil {
			return nil, err
		}
		wf.Connections = append(wf.Connections, c)
	}
	return wf, crow.Err()
}

// ListWorkflows returns workflow headers without nodes or connections.
func (s *LibSQLStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.Workflow, error) {
	query := `SELECT id, name, user_id, created_at, updated_at FROM workflows`
	var args []any
	if filter.UserID != "" {
		query += " WHERE user_id = ?"
		args = append(args, filter.UserID)
	}
	query += " ORDER BY updated_at DESC, rowid DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []*schema.Workflow
	for rows.Next() {
		wf := &schema.Workflow{}
		var userID sql.NullString
		if err := rows.Scan(&wf.ID, &wf.Name, &userID, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
			return nil, err
		}
		wf.UserID = userID.String
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

// DeleteWorkflow removes the workflow; nodes, connections and schedule
// state cascade.
func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

// --- Nodes ---

func (s *LibSQLStore) GetNode(ctx context.Context, id string) (*schema.Node, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workflow_id, name, type, position, data, created_at, updated_at
		 FROM nodes WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	nodes, err := scanNodes(rows)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, storeNotFound("node", id)
	}
	return &nodes[0], nil
}

func (s *LibSQLStore) ListNodesByType(ctx context.Context, nodeType schema.NodeType) ([]schema.Node, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workflow_id, name, type, position, data, created_at, updated_at
		 FROM nodes WHERE type = ? ORDER BY workflow_id, position`, string(nodeType))
	if err != nil {
		return nil, err
	}
	return scanNodes(rows)
}

// ClaimNodeOwner binds owner to the node when, and only when, no owner is
// bound yet. A missing, null or empty ownerUserId counts as unbound. The conditional UPDATE makes concurrent first messages race
// safely: exactly one caller observes claimed == true. When the claim loses,
// current holds the owner already bound.
func (s *LibSQLStore) ClaimNodeOwner(ctx context.Context, nodeID, owner string) (bool, string, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE nodes SET data = json_set(data, '$.`+schema.OwnerKey+`', ?), updated_at = ?
		 WHERE id = ? AND COALESCE(json_extract(data, '$.`+schema.OwnerKey+`'), '') = ''`,
		owner, time.Now().UTC(), nodeID,
	)
	if err != nil {
		return false, "", fmt.Errorf("claim node owner: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, "", err
	}
	if n == 1 {
		return true, owner, nil
	}

	var current sql.NullString
	err = s.db.QueryRowContext(ctx,
		`SELECT json_extract(data, '$.`+schema.OwnerKey+`') FROM nodes WHERE id = ?`, nodeID,
	).Scan(&current)
	if err == sql.ErrNoRows {
		return false, "", storeNotFound("node", nodeID)
	}
	if err != nil {
		return false, "", err
	}
	return false, current.String, nil
}

func scanNodes(rows *sql.Rows) ([]schema.Node, error) {
	defer rows.Close()
	var nodes []schema.Node
	for rows.Next() {
		var n schema.Node
		var nodeType, data string
		if err := rows.Scan(&n.ID, &n.WorkflowID, &n.Name, &nodeType, &n.Position, &data, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, err
		}
		n.Type = schema.NodeType(nodeType)
		if err := json.Unmarshal([]byte(data), &n.Data); err != nil {
			return nil, fmt.Errorf("unmarshal node %q data: %w", n.ID, err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// --- Credentials ---

func (s *LibSQLStore) CreateCredential(ctx context.Context, c *schema.Credential) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = timeOrNow(c.CreatedAt)
	c.UpdatedAt = timeOrNow(c.UpdatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (id, name, type, value, user_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, string(c.Type), c.Value, nullStr(c.UserID), c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func (s *LibSQLStore) GetCredential(ctx context.Context, id string) (*schema.Credential, error) {
	c := &schema.Credential{}
	var credType string
	var userID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, type, value, user_id, created_at, updated_at FROM credentials WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &credType, &c.Value, &userID, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("credential", id)
	}
	if err != nil {
		return nil, err
	}
	c.Type = schema.CredentialType(credType)
	c.UserID = userID.String
	return c, nil
}

// ListCredentials returns credential headers; Value is never loaded.
func (s *LibSQLStore) ListCredentials(ctx context.Context, userID string) ([]*schema.Credential, error) {
	query := `SELECT id, name, type, user_id, created_at, updated_at FROM credentials`
	var args []any
	if userID != "" {
		query += " WHERE user_id = ?"
		args = append(args, userID)
	}
	query += " ORDER BY name"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []*schema.Credential
	for rows.Next() {
		c := &schema.Credential{}
		var credType string
		var uid sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &credType, &uid, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.Type = schema.CredentialType(credType)
		c.UserID = uid.String
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

func (s *LibSQLStore) DeleteCredential(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "credential", id)
}

// --- Step memoization ---

// stepTimeLayout is fixed width so created_at compares lexically.
const stepTimeLayout = "2006-01-02 15:04:05.000000"

func (s *LibSQLStore) GetStepResult(ctx context.Context, runID, stepName string) (json.RawMessage, bool, error) {
	var result string
	err := s.db.QueryRowContext(ctx,
		`SELECT result FROM step_results WHERE run_id = ? AND step_name = ?`, runID, stepName,
	).Scan(&result)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, schema.NewErrorf(schema.ErrCodeStore, "read step %q: %s", stepName, err.Error()).WithCause(err)
	}
	return json.RawMessage(result), true, nil
}

func (s *LibSQLStore) SaveStepResult(ctx context.Context, runID, stepName string, result json.RawMessage) error {
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO step_results (run_id, step_name, result, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(run_id, step_name) DO UPDATE SET result = excluded.result`,
		runID, stepName, string(result), time.Now().UTC().Format(stepTimeLayout),
	)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "save step %q: %s", stepName, err.Error()).WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) ForgetRun(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM step_results WHERE run_id = ?`, runID); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "forget run %s: %s", runID, err.Error()).WithCause(err)
	}
	return nil
}

// PruneStepResults deletes memoized results written before the cutoff.
// It sweeps runs whose process died or was canceled before the runner
// could forget them.
func (s *LibSQLStore) PruneStepResults(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM step_results WHERE created_at < ?`, before.UTC().Format(stepTimeLayout))
	if err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeStore, "prune step results: %s", err.Error()).WithCause(err)
	}
	return res.RowsAffected()
}

// --- Schedules ---

func (s *LibSQLStore) UpsertScheduleState(ctx context.Context, st *ScheduleState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedule_state (node_id, workflow_id, cron_expression, next_run_at, last_run_at, last_run_status, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(node_id) DO UPDATE SET
		   cron_expression = excluded.cron_expression,
		   next_run_at = excluded.next_run_at,
		   last_run_at = excluded.last_run_at,
		   last_run_status = excluded.last_run_status,
		   updated_at = CURRENT_TIMESTAMP`,
		st.NodeID, st.WorkflowID, st.CronExpression, nullTime(st.NextRunAt), nullTime(st.LastRunAt), nullStr(st.LastRunStatus),
	)
	return err
}

func (s *LibSQLStore) ListScheduleStates(ctx context.Context) ([]*ScheduleState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT node_id, workflow_id, cron_expression, next_run_at, last_run_at, last_run_status
		 FROM schedule_state ORDER BY node_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []*ScheduleState
	for rows.Next() {
		st := &ScheduleState{}
		var nextRun, lastRun sql.NullTime
		var status sql.NullString
		if err := rows.Scan(&st.NodeID, &st.WorkflowID, &st.CronExpression, &nextRun, &lastRun, &status); err != nil {
			return nil, err
		}
		if nextRun.Valid {
			st.NextRunAt = &nextRun.Time
		}
		if lastRun.Valid {
			st.LastRunAt = &lastRun.Time
		}
		st.LastRunStatus = status.String
		states = append(states, st)
	}
	return states, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func strOr(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}
