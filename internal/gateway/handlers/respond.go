package handlers

import (
	"encoding/json"
	"net/http"
	"time"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error     string `json:"error"`
	Detail    string `json:"detail,omitempty"`
	Timestamp string `json:"timestamp"`
}

// RateLimitResponse is the body of a 429
type RateLimitResponse struct {
	ErrorResponse
	Limit      int64  `json:"limit"`
	Window     string `json:"window"`
	RetryAfter int64  `json:"retry_after"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg, detail string) {
	writeJSON(w, status, ErrorResponse{
		Error:     msg,
		Detail:    detail,
		Timestamp: timestamp(time.Now()),
	})
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
