package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/jmin1219/voku/internal/domain"
	"github.com/jmin1219/voku/internal/service"
)

// maxBatch bounds a single ingestion request.
const maxBatch = 1000

type PropositionHandler struct {
	ingest    *service.IngestService
	retrieval *service.RetrievalService
}

func NewPropositionHandler(ingest *service.IngestService, retrieval *service.RetrievalService) *PropositionHandler {
	return &PropositionHandler{ingest: ingest, retrieval: retrieval}
}

type ingestRequest struct {
	Propositions []domain.Candidate `json:"propositions"`
}

type messagesRequest struct {
	Messages []domain.Message `json:"messages"`
}

// Ingest stores a batch of candidates. Per-item failures are reported in
// the result body; the request itself still succeeds.
func (h *PropositionHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Propositions) == 0 {
		writeError(w, http.StatusBadRequest, "propositions is required")
		return
	}
	if len(req.Propositions) > maxBatch {
		writeError(w, http.StatusRequestEntityTooLarge, "too many propositions in one request")
		return
	}

	writeJSON(w, http.StatusOK, h.ingest.Ingest(r.Context(), req.Propositions))
}

func (h *PropositionHandler) IngestMessages(w http.ResponseWriter, r *http.Request) {
	var req messagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages is required")
		return
	}
	if len(req.Messages) > maxBatch {
		writeError(w, http.StatusRequestEntityTooLarge, "too many messages in one request")
		return
	}

	result, err := h.ingest.IngestMessages(r.Context(), req.Messages)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *PropositionHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseTime(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from")
		return
	}
	to, err := parseTime(q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to")
		return
	}

	props, err := h.retrieval.List(r.Context(), service.ListOpts{
		SessionID: q.Get("session_id"),
		From:      from,
		To:        to,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"propositions": props})
}

func (h *PropositionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	p, err := h.retrieval.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *PropositionHandler) Edges(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	edges, err := h.retrieval.Edges(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"edges": edges})
}

func (h *PropositionHandler) Archive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	if err := h.ingest.Archive(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	p, err := h.retrieval.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
