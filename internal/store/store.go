package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rendis/nodeflow/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Workflow graphs
	CreateWorkflow(ctx context.Context, wf *schema.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error

	// Nodes
	GetNode(ctx context.Context, id string) (*schema.Node, error)
	ListNodesByType(ctx context.Context, nodeType schema.NodeType) ([]schema.Node, error)
	ClaimNodeOwner(ctx context.Context, nodeID, owner string) (claimed bool, current string, err error)

	// Credentials
	CreateCredential(ctx context.Context, c *schema.Credential) error
	GetCredential(ctx context.Context, id string) (*schema.Credential, error)
	ListCredentials(ctx context.Context, userID string) ([]*schema.Credential, error)
	DeleteCredential(ctx context.Context, id string) error

	// Step memoization (durable.MemoStore)
	GetStepResult(ctx context.Context, runID, stepName string) (json.RawMessage, bool, error)
	SaveStepResult(ctx context.Context, runID, stepName string, result json.RawMessage) error
	ForgetRun(ctx context.Context, runID string) error
	PruneStepResults(ctx context.Context, before time.Time) (int64, error)

	// Run event log (append-only)
	AppendRunEvent(ctx context.Context, event *RunEvent) error
	ListRunEvents(ctx context.Context, runID string, since int64) ([]*RunEvent, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*RunSummary, error)
	ReplayRun(ctx context.Context, runID string) (*RunSummary, error)

	// Schedules
	UpsertScheduleState(ctx context.Context, st *ScheduleState) error
	ListScheduleStates(ctx context.Context) ([]*ScheduleState, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
