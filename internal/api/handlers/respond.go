package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jmin1219/voku/internal/domain"
	"github.com/jmin1219/voku/internal/service"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps service and store sentinels to a status code.
// Anything unrecognised is reported as a 500 without its detail.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrQueryEmpty),
		errors.Is(err, service.ErrEmptyContent),
		errors.Is(err, service.ErrInvalidConfidence):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotActive),
		errors.Is(err, service.ErrRunInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrExtractorUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pathID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	return id, err == nil
}

// parseTime accepts RFC 3339 timestamps; empty input yields the zero time.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
