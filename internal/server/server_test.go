package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/internal/durable"
	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/pkg/schema"
)

type fakeRuns struct {
	mu     sync.Mutex
	events []durable.Event
	err    error
}

func (f *fakeRuns) Enqueue(_ context.Context, ev durable.Event) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.events = append(f.events, ev)
	return "run-" + string(rune('0'+len(f.events))), nil
}

func (f *fakeRuns) last(t *testing.T) engine.RunRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.events)
	ev := f.events[len(f.events)-1]
	assert.Equal(t, schema.EventExecuteWorkflow, ev.Name)
	return engine.RequestFromEvent(ev)
}

type fixture struct {
	srv    *Server
	store  *store.LibSQLStore
	runs   *fakeRuns
	hub    *streaming.MemoryHub
	tokens *streaming.TokenIssuer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	tokens, err := streaming.NewTokenIssuer([]byte("server-test-secret-0123"), time.Minute)
	require.NoError(t, err)

	f := &fixture{store: st, runs: &fakeRuns{}, hub: streaming.NewMemoryHub(), tokens: tokens}
	f.srv = New(Deps{Runs: f.runs, Store: st, Hub: f.hub, Tokens: tokens, Heartbeat: 20 * time.Millisecond})
	return f
}

func (f *fixture) seed(t *testing.T) *schema.Workflow {
	t.Helper()
	wf := &schema.Workflow{
		Name: "digest",
		Nodes: []schema.Node{
			{ID: "trigger", Name: "Start", Type: schema.NodeTypeManualTrigger, Data: map[string]any{}},
			{ID: "fetch", Name: "Fetch", Type: schema.NodeTypeHTTPRequest, Position: 1,
				Data: map[string]any{"endpoint": "https://example.com", "variableName": "api"}},
		},
		Connections: []schema.Connection{{FromNodeID: "trigger", ToNodeID: "fetch"}},
	}
	require.NoError(t, f.store.CreateWorkflow(context.Background(), wf))
	return wf
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := do(t, f.srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
	assert.NotContains(t, decode(t, rec), "runs")
}

type fakeStats struct{ m engine.PoolMetrics }

func (f fakeStats) Metrics() engine.PoolMetrics { return f.m }

func TestHealthz_ReportsRunStats(t *testing.T) {
	f := newFixture(t)
	srv := New(Deps{
		Runs:  f.runs,
		Stats: fakeStats{m: engine.PoolMetrics{Active: 1, Queued: 2, Running: []string{"run-1"}}},
		Store: f.store,
		Hub:   f.hub,
	})

	rec := do(t, srv, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	runs, ok := decode(t, rec)["runs"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), runs["active"])
	assert.Equal(t, float64(2), runs["queued"])
	assert.Equal(t, []any{"run-1"}, runs["running"])
}

func TestWebhookRequiresWorkflowID(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/webhooks/telegram", "/webhooks/google-form", "/webhooks/stripe"} {
		rec := do(t, f.srv, http.MethodPost, path, `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.Equal(t, false, decode(t, rec)["success"])
	}
	assert.Empty(t, f.runs.events)
}

func TestTelegramWebhook(t *testing.T) {
	f := newFixture(t)
	body := `{"update_id":7,"message":{"text":"hello","chat":{"id":42,"type":"private"},"from":{"id":9}}}`

	rec := do(t, f.srv, http.MethodPost, "/webhooks/telegram?workflowId=wf-1", body)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "run-1", out["runId"])

	req := f.runs.last(t)
	assert.Equal(t, "wf-1", req.WorkflowID)
	tg := req.InitialData["telegram"].(map[string]any)
	assert.Equal(t, "hello", tg["text"])
	assert.Equal(t, float64(42), tg["message"].(map[string]any)["chat"].(map[string]any)["id"])
	assert.Equal(t, float64(7), tg["raw"].(map[string]any)["update_id"])
	assert.Nil(t, tg["chat"])
}

func TestGoogleFormWebhook(t *testing.T) {
	f := newFixture(t)
	body := `{"formId":"f1","formTitle":"Signup","responseId":"r1","timestamp":"2026-01-01T00:00:00Z",
		"respondentEmail":"a@example.com","responses":{"Name":"Ada"}}`

	rec := do(t, f.srv, http.MethodPost, "/webhooks/google-form?workflowId=wf-2", body)
	require.Equal(t, http.StatusOK, rec.Code)

	form := f.runs.last(t).InitialData["googleForm"].(map[string]any)
	assert.Equal(t, "f1", form["formId"])
	assert.Equal(t, "Signup", form["formTitle"])
	assert.Equal(t, "a@example.com", form["respondentEmail"])
	assert.Equal(t, map[string]any{"Name": "Ada"}, form["responses"])
}

func TestStripeWebhook(t *testing.T) {
	f := newFixture(t)
	body := `{"id":"evt_1","type":"charge.succeeded","created":1700000000,
		"data":{"object":{"amount":2500,"currency":"usd","customer":"cus_1"}}}`

	rec := do(t, f.srv, http.MethodPost, "/webhooks/stripe?workflowId=wf-3", body)
	require.Equal(t, http.StatusOK, rec.Code)

	stripe := f.runs.last(t).InitialData["stripe"].(map[string]any)
	assert.Equal(t, "evt_1", stripe["eventId"])
	assert.Equal(t, "charge.succeeded", stripe["eventType"])
	assert.Equal(t, float64(2500), stripe["amount"])
	assert.Equal(t, "usd", stripe["currency"])
	assert.Equal(t, "cus_1", stripe["customerId"])
	assert.Equal(t, float64(1700000000), stripe["timestamp"])
}

func TestWebhookEnqueueFailure(t *testing.T) {
	f := newFixture(t)
	f.runs.err = errors.New("queue full")

	rec := do(t, f.srv, http.MethodPost, "/webhooks/stripe?workflowId=wf", `{}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])
}

func TestWebhookInvalidJSON(t *testing.T) {
	f := newFixture(t)
	rec := do(t, f.srv, http.MethodPost, "/webhooks/telegram?workflowId=wf", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.runs.events)
}

func TestManualExecute(t *testing.T) {
	f := newFixture(t)
	wf := f.seed(t)

	rec := do(t, f.srv, http.MethodPost, "/workflows/"+wf.ID+"/execute", `{"initialData":{"seed":1}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	req := f.runs.last(t)
	assert.Equal(t, wf.ID, req.WorkflowID)
	assert.Equal(t, float64(1), req.InitialData["seed"])

	rec = do(t, f.srv, http.MethodPost, "/workflows/"+wf.ID+"/execute", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, f.runs.last(t).InitialData)

	rec = do(t, f.srv, http.MethodPost, "/workflows/missing/execute", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWorkflowEndpoints(t *testing.T) {
	f := newFixture(t)
	wf := f.seed(t)

	rec := do(t, f.srv, http.MethodGet, "/workflows", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["workflows"], 1)

	rec = do(t, f.srv, http.MethodGet, "/workflows/"+wf.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "digest", decode(t, rec)["name"])

	rec = do(t, f.srv, http.MethodGet, "/workflows/"+wf.ID+"/diagram", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "trigger --> fetch")

	rec = do(t, f.srv, http.MethodGet, "/workflows/"+wf.ID+"/diagram?format=ascii", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "2. Fetch")
}

func TestRunEndpoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, typ := range []string{schema.EventRunLoaded, schema.EventRunSorted, schema.EventRunExecuting, schema.EventRunCompleted} {
		require.NoError(t, f.store.AppendRunEvent(ctx, &store.RunEvent{RunID: "run-a", WorkflowID: "wf", Type: typ}))
	}

	rec := do(t, f.srv, http.MethodGet, "/runs/run-a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(schema.RunStatusCompleted), decode(t, rec)["status"])

	rec = do(t, f.srv, http.MethodGet, "/runs/run-a/events?since=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["events"], 2)

	rec = do(t, f.srv, http.MethodGet, "/runs?workflowId=wf", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["runs"], 1)

	rec = do(t, f.srv, http.MethodGet, "/runs/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIssueToken(t *testing.T) {
	f := newFixture(t)

	rec := do(t, f.srv, http.MethodPost, "/realtime/token", `{"channel":"gemini-execution","runId":"r1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, []any{"status"}, out["topics"])

	claims, err := f.tokens.Verify(out["token"].(string))
	require.NoError(t, err)
	assert.Equal(t, "gemini-execution", claims.Channel)
	assert.Equal(t, "r1", claims.RunID)

	rec = do(t, f.srv, http.MethodPost, "/realtime/token", `{"channel":"bogus"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubscribeRejectsBadToken(t *testing.T) {
	f := newFixture(t)
	rec := do(t, f.srv, http.MethodGet, "/realtime/subscribe?token=nope", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubscribeStreamsScopedEvents(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.srv)
	defer ts.Close()

	token, _, err := f.tokens.Issue(streaming.Claims{Channel: "slack-execution", RunID: "r1"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/realtime/subscribe?token="+token, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": connected\n", line)

	require.Eventually(t, func() bool { return f.hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	pub := streaming.NewStatusPublisher(f.hub, nil)
	pub.PublishStatus(ctx, "r2", "wf", "slack-execution", schema.NodeStatusEvent{NodeID: "other", Status: schema.NodeStatusLoading})
	pub.PublishStatus(ctx, "r1", "wf", "discord-execution", schema.NodeStatusEvent{NodeID: "other", Status: schema.NodeStatusLoading})
	pub.PublishStatus(ctx, "r1", "wf", "slack-execution", schema.NodeStatusEvent{NodeID: "n1", Status: schema.NodeStatusSuccess})

	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var ev streaming.StreamEvent
		require.NoError(t, json.Unmarshal([]byte(data), &ev))
		assert.Equal(t, "n1", ev.NodeID)
		assert.Equal(t, schema.NodeStatusSuccess, ev.Status)
		assert.Equal(t, "r1", ev.RunID)
		return
	}
}
