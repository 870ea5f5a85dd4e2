package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/jmin1219/voku/internal/service"
)

type ProcessHandler struct {
	engine  *service.ProcessEngine
	threads *service.ThreadBuilder
}

func NewProcessHandler(engine *service.ProcessEngine, threads *service.ThreadBuilder) *ProcessHandler {
	return &ProcessHandler{engine: engine, threads: threads}
}

type processRequest struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

type pairRequest struct {
	A string `json:"a"`
	B string `json:"b"`
}

// Run processes everything past the watermark, or only the given window
// when from is set. An empty body is a plain run.
func (h *ProcessHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var (
		result *service.RunResult
		err    error
	)
	if req.From == "" && req.To == "" {
		result, err = h.engine.Run(r.Context())
	} else {
		from, ferr := parseTime(req.From)
		if ferr != nil {
			writeError(w, http.StatusBadRequest, "invalid from")
			return
		}
		to, terr := parseTime(req.To)
		if terr != nil || to.IsZero() {
			writeError(w, http.StatusBadRequest, "invalid to")
			return
		}
		result, err = h.engine.RunWindow(r.Context(), from, to)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *ProcessHandler) ClassifyPair(w http.ResponseWriter, r *http.Request) {
	var req pairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	a, err := uuid.Parse(req.A)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid a")
		return
	}
	b, err := uuid.Parse(req.B)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid b")
		return
	}

	result, err := h.engine.ClassifyPair(r.Context(), a, b)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *ProcessHandler) RebuildThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := h.threads.RebuildAll(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"threads": len(threads)})
}
