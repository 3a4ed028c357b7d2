package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rendis/nodeflow/internal/store"
)

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.deps.Store.ListRuns(r.Context(), store.RunFilter{
		WorkflowID: r.URL.Query().Get("workflowId"),
		Limit:      queryInt(r, "limit", 50),
	})
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	sum, err := s.deps.Store.ReplayRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.deps.Store.ListRunEvents(r.Context(), chi.URLParam(r, "id"), int64(queryInt(r, "since", 0)))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
