package server

import (
	"net/http"

	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/internal/logging"
)

// normalizer shapes a webhook body into the initial data of a run: the
// key it is stored under and its value.
type normalizer func(body map[string]any) (string, map[string]any)

// webhook returns a handler that starts a run of ?workflowId= with the
// normalized body. The response reflects only whether the run was enqueued.
func (s *Server) webhook(normalize normalizer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		workflowID := r.URL.Query().Get("workflowId")
		if workflowID == "" {
			writeError(w, http.StatusBadRequest, "Missing required query parameter: workflowId")
			return
		}

		var body map[string]any
		if err := decodeBody(w, r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		key, data := normalize(body)
		ctx := logging.WithWorkflowID(r.Context(), workflowID)
		runID, err := s.deps.Runs.Enqueue(ctx, engine.ExecuteEvent(workflowID, map[string]any{key: data}))
		if err != nil {
			s.deps.Logger.ErrorContext(ctx, "enqueue webhook run failed", "source", key, "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to process "+key+" webhook")
			return
		}
		s.deps.Logger.InfoContext(ctx, "webhook run enqueued", "source", key, "run_id", runID)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "runId": runID})
	}
}

func normalizeTelegram(body map[string]any) (string, map[string]any) {
	message, _ := body["message"].(map[string]any)
	return "telegram", map[string]any{
		"message": body["message"],
		"chat":    body["chat"],
		"from":    body["from"],
		"date":    body["date"],
		"text":    message["text"],
		"raw":     body,
	}
}

func normalizeGoogleForm(body map[string]any) (string, map[string]any) {
	return "googleForm", map[string]any{
		"formId":          body["formId"],
		"formTitle":       body["formTitle"],
		"responseId":      body["responseId"],
		"timestamp":       body["timestamp"],
		"respondentEmail": body["respondentEmail"],
		"responses":       body["responses"],
		"raw":             body,
	}
}

// normalizeStripe reads a Stripe event envelope; the amount, currency and
// customer come from data.object.
func normalizeStripe(body map[string]any) (string, map[string]any) {
	data, _ := body["data"].(map[string]any)
	object, _ := data["object"].(map[string]any)
	return "stripe", map[string]any{
		"eventId":    body["id"],
		"eventType":  body["type"],
		"amount":     object["amount"],
		"currency":   object["currency"],
		"customerId": object["customer"],
		"timestamp":  body["created"],
		"raw":        body,
	}
}
