package httpadapter

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tenantiq/ragcore/internal/core/domain"
)

type streamDelta struct {
	Delta string `json:"delta"`
}

type streamResult struct {
	Result any `json:"result"`
}

// streamAsk renders the ask pipeline as server-sent events: one data event per
// answer fragment, one carrying the final result envelope, then [DONE].
// Cache hits and conversational replies produce a single fragment holding the
// whole answer. The result is non-nil exactly when the pipeline completed,
// even if a later write to the client failed.
func (rt *Router) streamAsk(w http.ResponseWriter, r *http.Request, tenantID, question string) (*domain.AskResult, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming is not supported"})
		return nil, fmt.Errorf("streaming is not supported by response writer")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sendEvent := func(payload any) error {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", raw); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	var streamErr error
	deltasSent := false
	result, err := rt.questions.AskStream(r.Context(), tenantID, question, func(fragment string) {
		if streamErr != nil || fragment == "" {
			return
		}
		deltasSent = true
		streamErr = sendEvent(streamDelta{Delta: fragment})
	})
	if streamErr != nil {
		return result, streamErr
	}
	if err != nil {
		// Headers are already out; surface the failure as an event.
		if sendErr := sendEvent(map[string]string{"error": err.Error()}); sendErr != nil {
			return nil, sendErr
		}
		return nil, err
	}

	// Cache hits and short-circuit replies bypass generation, so no deltas
	// were emitted; send the whole answer as one fragment.
	if !deltasSent && result.Answer != "" {
		if err := sendEvent(streamDelta{Delta: result.Answer}); err != nil {
			return result, err
		}
	}

	if err := sendEvent(streamResult{Result: result}); err != nil {
		return result, err
	}
	if _, err := io.WriteString(w, "data: [DONE]\n\n"); err != nil {
		return result, err
	}
	flusher.Flush()
	return result, nil
}
