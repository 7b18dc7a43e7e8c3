package webhooks

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

const maxWebhookBodyBytes = 1 << 20

// NewHTTPHandler exposes the intake at POST /webhooks/{configID}. The
// response tells the caller only whether the delivery was durably accepted.
func NewHTTPHandler(intake *Intake) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhooks/{configID}", func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"error": "body too large"})
				return
			}
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unreadable body"})
			return
		}

		headers := make(map[string]string, len(r.Header))
		for name := range r.Header {
			headers[name] = r.Header.Get(name)
		}

		result, err := intake.Handle(r.Context(), InboundRequest{
			ConfigID: r.PathValue("configID"),
			Headers:  headers,
			Body:     body,
		})
		if err != nil && result.StatusCode == 0 {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "intake failure"})
			return
		}
		if !result.Accepted {
			writeJSON(w, result.StatusCode, map[string]any{"error": "rejected"})
			return
		}
		writeJSON(w, result.StatusCode, map[string]any{
			"accepted": true,
			"eventId":  result.EventID,
		})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, statusCode int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}
