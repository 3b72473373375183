package monitor

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Sentinel errors.
var (
	// ErrListenFailed is returned when the monitor address cannot be bound.
	ErrListenFailed = errors.New("monitor: listen failed")

	// ErrAlreadyStarted is returned by a second Start call.
	ErrAlreadyStarted = errors.New("monitor: already started")
)

// Error is the JSON body of a failed HTTP request.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeInternal = "internal_error"
	ErrCodeNotFound = "not_found"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}
