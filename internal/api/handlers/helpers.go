package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/agonx-ai/agonx-knowledge/internal/core"
)

// userHeader identifies the caller. Authentication itself happens
// upstream of this service; the gateway injects the verified user id.
const userHeader = "X-User-ID"

func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get(userHeader)
	if userID == "" {
		http.Error(w, "missing "+userHeader+" header", http.StatusUnauthorized)
		return "", false
	}
	return userID, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var (
		unsupported *core.UnsupportedFormatError
		unknownMode *core.UnknownModeError
	)
	switch {
	case errors.Is(err, core.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, core.ErrInvalid), errors.As(err, &unsupported), errors.As(err, &unknownMode):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, core.ErrBusy):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
