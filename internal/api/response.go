package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// errorResponse is the body of every non-2xx response
type errorResponse struct {
	Success   bool      `json:"success"`
	Error     string    `json:"error"`
	Details   []string  `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// WriteJSON writes v as the JSON body with the given status
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write JSON", "error", err)
	}
}

// WriteError writes an error envelope with msg
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, errorResponse{Error: msg, Timestamp: time.Now().UTC()})
}

func writeErrorDetails(w http.ResponseWriter, status int, msg string, details []string) {
	WriteJSON(w, status, errorResponse{Error: msg, Details: details, Timestamp: time.Now().UTC()})
}
