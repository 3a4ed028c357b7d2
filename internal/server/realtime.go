package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/pkg/schema"
)

// handleIssueToken issues a subscription token for one status channel,
// optionally narrowed to a run or workflow.
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Channel    string `json:"channel"`
		RunID      string `json:"runId"`
		WorkflowID string `json:"workflowId"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !schema.IsStatusChannel(body.Channel) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown channel %q", body.Channel))
		return
	}

	token, exp, err := s.deps.Tokens.Issue(streaming.Claims{
		Channel:    body.Channel,
		RunID:      body.RunID,
		WorkflowID: body.WorkflowID,
	})
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":     token,
		"channel":   body.Channel,
		"topics":    []string{schema.StatusTopic},
		"expiresAt": exp.UTC().Format(time.RFC3339),
	})
}

// handleSubscribe streams the status events a token allows as Server-Sent
// Events until the client disconnects or the token expires.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	claims, err := s.deps.Tokens.Verify(r.URL.Query().Get("token"))
	if err != nil {
		writeFlowError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch, cancel, err := s.deps.Hub.Subscribe(r.Context(), claims.Filter())
	if err != nil {
		s.deps.Logger.ErrorContext(r.Context(), "SSE subscribe failed", "error", err)
		writeError(w, http.StatusInternalServerError, "subscribe failed")
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(s.deps.Heartbeat)
	defer heartbeat.Stop()
	expiry := time.NewTimer(time.Until(time.Unix(claims.ExpiresAt, 0)))
	defer expiry.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-expiry.C:
			fmt.Fprint(w, "event: expired\ndata: {}\n\n")
			flusher.Flush()
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Topic, data)
			flusher.Flush()
		}
	}
}
