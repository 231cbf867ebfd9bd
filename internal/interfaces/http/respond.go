// Package http exposes the sync engine to other services over HTTP.
package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"flowly/internal/infrastructure/aggregator"
	"flowly/internal/shared/logger"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, errorResponse{Error: msg})
}

// aggregatorStatus maps provider failures to a response status.
func aggregatorStatus(err error) (int, string, bool) {
	switch {
	case errors.Is(err, aggregator.ErrUnavailable):
		return http.StatusBadGateway, "Aggregator unavailable", true
	case errors.Is(err, aggregator.ErrAuth):
		return http.StatusUnprocessableEntity, "Aggregator rejected the credential", true
	}
	var apiErr *aggregator.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
		return http.StatusBadRequest, apiErr.Message, true
	}
	return 0, "", false
}
