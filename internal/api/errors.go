package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kalambet/stockmeta/internal/failure"
	"github.com/kalambet/stockmeta/internal/pipeline"
	"github.com/kalambet/stockmeta/internal/storage"
)

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// writeErr maps domain errors onto HTTP statuses.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.Is(err, pipeline.ErrBusy):
		httpError(w, http.StatusConflict, "conflict", "%v", err)
	case failure.Is(err, failure.Precondition), failure.Is(err, failure.Media):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case failure.Is(err, failure.Auth):
		httpError(w, http.StatusBadGateway, "upstream_auth_error", "%v", err)
	case failure.Is(err, failure.RateLimit):
		httpError(w, http.StatusTooManyRequests, "rate_limit_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
