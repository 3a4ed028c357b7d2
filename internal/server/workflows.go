package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/rendis/nodeflow/internal/diagram"
	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/store"
)

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	filter := store.WorkflowFilter{
		UserID: r.URL.Query().Get("userId"),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	wfs, err := s.deps.Store.ListWorkflows(r.Context(), filter)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": wfs})
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.deps.Store.GetWorkflow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// handleWorkflowDiagram renders the workflow as Mermaid, or as text with
// ?format=ascii.
func (s *Server) handleWorkflowDiagram(w http.ResponseWriter, r *http.Request) {
	wf, err := s.deps.Store.GetWorkflow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	model, err := diagram.Build(wf)
	if err != nil {
		writeFlowError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if r.URL.Query().Get("format") == "ascii" {
		_, _ = w.Write([]byte(diagram.RenderASCII(model)))
		return
	}
	_, _ = w.Write([]byte(diagram.RenderMermaid(model)))
}

// handleExecute is the manual trigger. The workflow must exist.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "id")
	ctx := logging.WithWorkflowID(r.Context(), workflowID)

	var body struct {
		InitialData map[string]any `json:"initialData"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if _, err := s.deps.Store.GetWorkflow(ctx, workflowID); err != nil {
		writeFlowError(w, err)
		return
	}

	runID, err := s.deps.Runs.Enqueue(ctx, engine.ExecuteEvent(workflowID, body.InitialData))
	if err != nil {
		s.deps.Logger.ErrorContext(ctx, "enqueue manual run failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to execute workflow")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "runId": runID})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
