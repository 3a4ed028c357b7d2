package schema

// Run lifecycle event types appended to the run event log.
const (
	EventRunLoaded    = "run_loaded"
	EventRunSorted    = "run_sorted"
	EventRunExecuting = "run_executing"
	EventRunCompleted = "run_completed"
	EventRunFailed    = "run_failed"
)

// RunStatus is the orchestrator state of a single run.
type RunStatus string

const (
	RunStatusLoaded    RunStatus = "loaded"
	RunStatusSorted    RunStatus = "sorted"
	RunStatusExecuting RunStatus = "executing"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// NodeStatus is the observer-visible state of one node invocation.
type NodeStatus string

const (
	NodeStatusLoading NodeStatus = "loading"
	NodeStatusSuccess NodeStatus = "success"
	NodeStatusError   NodeStatus = "error"
)

// IsTerminal reports whether no further status follows s for the same
// node invocation.
func (s NodeStatus) IsTerminal() bool {
	return s == NodeStatusSuccess || s == NodeStatusError
}

// NodeStatusEvent is published on a node type's status channel.
type NodeStatusEvent struct {
	NodeID string     `json:"nodeId"`
	Status NodeStatus `json:"status"`
}

// EventExecuteWorkflow is the substrate event that starts a workflow run.
const EventExecuteWorkflow = "workflows/execute.workflow"
