package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/vocagent/vocagent/api/domain"
)

func respondJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

func respondError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, map[string]string{"error": message}, status)
}

// respondDomainError maps domain errors to HTTP statuses. Anything unmapped
// is a generic 500 so internals never leak to the client.
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		respondError(w, "unauthorized", http.StatusUnauthorized)
	case errors.Is(err, domain.ErrInvalidInput):
		respondError(w, "invalid request", http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, "not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrConflict):
		respondError(w, "conflict", http.StatusConflict)
	default:
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		respondError(w, "internal server error", http.StatusInternalServerError)
	}
}

func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domain.ErrInvalidInput
	}
	return nil
}
