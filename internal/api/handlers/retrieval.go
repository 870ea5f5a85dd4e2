package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/jmin1219/voku/internal/service"
)

type RetrievalHandler struct {
	svc *service.RetrievalService
}

func NewRetrievalHandler(svc *service.RetrievalService) *RetrievalHandler {
	return &RetrievalHandler{svc: svc}
}

type retrieveRequest struct {
	Query          string   `json:"query"`
	Limit          int      `json:"limit,omitempty"`
	TemporalWeight *float64 `json:"temporal_weight,omitempty"`
	IncludeHistory bool     `json:"include_history,omitempty"`
}

func (h *RetrievalHandler) Retrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Limit < 0 {
		writeError(w, http.StatusBadRequest, "limit must not be negative")
		return
	}

	results, err := h.svc.Retrieve(r.Context(), service.RetrieveOpts{
		Query:          req.Query,
		Limit:          req.Limit,
		TemporalWeight: req.TemporalWeight,
		IncludeHistory: req.IncludeHistory,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (h *RetrievalHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	topic := strings.TrimSpace(r.URL.Query().Get("topic"))
	if topic == "" {
		writeError(w, http.StatusBadRequest, "topic is required")
		return
	}

	tl, err := h.svc.Timeline(r.Context(), topic)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tl)
}

func (h *RetrievalHandler) Threads(w http.ResponseWriter, r *http.Request) {
	threads, err := h.svc.ThreadSurfaces(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"threads": threads})
}
