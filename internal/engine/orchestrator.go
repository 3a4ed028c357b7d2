package engine

import (
	"context"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/rendis/nodeflow/internal/durable"
	"github.com/rendis/nodeflow/internal/executors"
	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/pkg/schema"
)

// GraphStore loads a workflow with its nodes and connections.
// Satisfied by store.Store.
type GraphStore interface {
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
}

// Resolver maps a node type to its executor. Satisfied by
// *executors.Registry.
type Resolver interface {
	Resolve(t schema.NodeType) (executors.Executor, error)
}

// StatusPublisher delivers node status events to observers. Delivery is
// best effort; implementations must not block the run.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, runID, workflowID, channel string, ev schema.NodeStatusEvent)
}

// RunRequest is the data of a workflows/execute.workflow event.
type RunRequest struct {
	WorkflowID  string         `json:"workflowId"`
	InitialData map[string]any `json:"initialData,omitempty"`
}

// Orchestrator executes one run of a workflow: it loads and orders the
// graph, resolves every executor, then runs the nodes one after another,
// threading the accumulated context through them.
type Orchestrator struct {
	graphs    GraphStore
	resolver  Resolver
	publisher StatusPublisher
	fsm       *RunFSM
	logger    *slog.Logger
	tracer    trace.Tracer
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithStatusPublisher sets where node statuses are sent.
func WithStatusPublisher(p StatusPublisher) OrchestratorOption {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithRunEvents records run lifecycle transitions through appender.
func WithRunEvents(appender EventAppender) OrchestratorOption {
	return func(o *Orchestrator) { o.fsm = NewRunFSM(appender) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTracer sets the OpenTelemetry tracer.
func WithTracer(t trace.Tracer) OrchestratorOption {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(graphs GraphStore, resolver Resolver, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		graphs:   graphs,
		resolver: resolver,
		fsm:      NewRunFSM(nil),
		logger:   logging.Discard(),
		tracer:   noop.NewTracerProvider().Tracer("nodeflow/engine"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// preparedRun is the memoized result of loading and sorting the graph.
type preparedRun struct {
	Nodes []schema.Node `json:"nodes"`
}

// Execute runs the workflow named by req. Every side effect goes through
// step, so a re-invocation of the same run replays completed work instead
// of repeating it. Errors are returned as produced; retrying is the
// caller's decision.
func (o *Orchestrator) Execute(ctx context.Context, step durable.Step, req RunRequest) (schema.RunContext, error) {
	runID := step.RunID()
	ctx = logging.WithIDs(ctx, req.WorkflowID, runID)

	ctx, span := o.tracer.Start(ctx, "orchestrator.Execute", trace.WithAttributes(
		attribute.String("workflow.id", req.WorkflowID),
		attribute.String("run.id", runID),
	))
	defer span.End()

	var state schema.RunStatus
	fail := func(err error) (schema.RunContext, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if terr := o.fsm.Transition(ctx, runID, req.WorkflowID, state, schema.RunStatusFailed, errorDetails(err)); terr != nil {
			o.logger.WarnContext(ctx, "failed to record run failure", "error", terr)
		}
		o.logger.ErrorContext(ctx, "run failed", "state", string(state), "error", err)
		return nil, err
	}
	advance := func(to schema.RunStatus, details map[string]any) error {
		if err := o.fsm.Transition(ctx, runID, req.WorkflowID, state, to, details); err != nil {
			return err
		}
		state = to
		return nil
	}

	if req.WorkflowID == "" {
		return fail(schema.NonRetriable("run has no workflow ID"))
	}

	plan, err := durable.Run(ctx, step, "prepare-workflow", func(ctx context.Context) (preparedRun, error) {
		wf, err := o.graphs.GetWorkflow(ctx, req.WorkflowID)
		if err != nil {
			return preparedRun{}, err
		}
		sorted, err := TopologicalSort(wf.Nodes, wf.Connections)
		if err != nil {
			return preparedRun{}, err
		}
		return preparedRun{Nodes: sorted}, nil
	})
	if err != nil {
		return fail(err)
	}
	if err := advance(schema.RunStatusLoaded, map[string]any{"nodes": len(plan.Nodes)}); err != nil {
		return fail(err)
	}
	if err := advance(schema.RunStatusSorted, map[string]any{"order": nodeIDs(plan.Nodes)}); err != nil {
		return fail(err)
	}

	// Resolve up front so an unknown type fails the run before any node
	// has side effects.
	execs := make([]executors.Executor, len(plan.Nodes))
	for i, n := range plan.Nodes {
		e, err := o.resolver.Resolve(n.Type)
		if err != nil {
			if fe, ok := schema.AsFlowError(err); ok && fe.NodeID == "" {
				fe.NodeID = n.ID
			}
			return fail(err)
		}
		execs[i] = e
	}

	if err := advance(schema.RunStatusExecuting, nil); err != nil {
		return fail(err)
	}
	o.logger.InfoContext(ctx, "run executing", "nodes", len(plan.Nodes))

	rc := schema.RunContext(req.InitialData).Clone()
	for i, n := range plan.Nodes {
		out, err := o.executeNode(ctx, step, req.WorkflowID, n, execs[i], rc)
		if err != nil {
			return fail(err)
		}
		rc = out
	}

	if err := advance(schema.RunStatusCompleted, map[string]any{"outputs": contextKeys(rc)}); err != nil {
		return fail(err)
	}
	o.logger.InfoContext(ctx, "run completed")
	return rc, nil
}

func (o *Orchestrator) executeNode(ctx context.Context, step durable.Step, workflowID string, n schema.Node, exec executors.Executor, rc schema.RunContext) (schema.RunContext, error) {
	ctx = logging.WithNodeID(ctx, n.ID)
	ctx, span := o.tracer.Start(ctx, "node."+string(n.Type), trace.WithAttributes(
		attribute.String("node.id", n.ID),
		attribute.String("node.type", string(n.Type)),
	))
	defer span.End()

	channel := schema.ChannelFor(n.Type)
	var last schema.NodeStatus
	publish := func(ctx context.Context, status schema.NodeStatus) {
		last = status
		if o.publisher != nil {
			o.publisher.PublishStatus(ctx, step.RunID(), workflowID, channel, schema.NodeStatusEvent{NodeID: n.ID, Status: status})
		}
	}

	out, err := exec.Execute(ctx, executors.Input{
		NodeID:  n.ID,
		Data:    n.Data,
		Context: rc,
		Step:    step,
		Publish: publish,
	})
	if err != nil {
		if last != schema.NodeStatusError {
			publish(ctx, schema.NodeStatusError)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.WarnContext(ctx, "node failed", "type", string(n.Type), "error", err)
		return nil, err
	}
	if out == nil {
		out = rc
	}
	o.logger.DebugContext(ctx, "node completed", "type", string(n.Type))
	return out, nil
}

// WorkflowHandler adapts o to the durable substrate for
// workflows/execute.workflow events.
func WorkflowHandler(o *Orchestrator) durable.Handler {
	return func(ctx context.Context, inv durable.Invocation) error {
		if inv.Event.Name != schema.EventExecuteWorkflow {
			return schema.NonRetriable("unexpected event %q", inv.Event.Name)
		}
		_, err := o.Execute(ctx, inv.Step, RequestFromEvent(inv.Event))
		return err
	}
}

// ExecuteEvent builds the event that starts a run of workflowID.
func ExecuteEvent(workflowID string, initialData map[string]any) durable.Event {
	data := map[string]any{"workflowId": workflowID}
	if initialData != nil {
		data["initialData"] = initialData
	}
	return durable.Event{Name: schema.EventExecuteWorkflow, Data: data}
}

// RequestFromEvent reads a RunRequest from event data.
func RequestFromEvent(ev durable.Event) RunRequest {
	var req RunRequest
	req.WorkflowID, _ = ev.Data["workflowId"].(string)
	req.InitialData, _ = ev.Data["initialData"].(map[string]any)
	return req
}

func errorDetails(err error) map[string]any {
	if fe, ok := schema.AsFlowError(err); ok {
		d := map[string]any{"code": fe.Code, "message": fe.Message}
		if fe.NodeID != "" {
			d["node_id"] = fe.NodeID
		}
		return d
	}
	return map[string]any{"message": err.Error()}
}

func nodeIDs(nodes []schema.Node) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}

func contextKeys(rc schema.RunContext) []string {
	keys := make([]string, 0, len(rc))
	for k := range rc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
