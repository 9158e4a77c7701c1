package poller

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/regscope-ai/platform/pkg/common/logger"
	"github.com/regscope-ai/platform/pkg/common/models"
	"github.com/regscope-ai/platform/pkg/progress"
)

type HTTPHandler struct {
	runner  *Runner
	sources map[string]Source
	history *progress.Repository
	maxBody int64
}

func NewHTTPHandler(runner *Runner, sources []Source, history *progress.Repository, maxBody int64) *HTTPHandler {
	index := make(map[string]Source, len(sources))
	for _, src := range sources {
		index[src.Name()] = src
	}
	return &HTTPHandler{runner: runner, sources: index, history: history, maxBody: maxBody}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/poll/{source}", h.handlePoll).Methods(http.MethodPost)
	router.HandleFunc("/runs", h.handleRuns).Methods(http.MethodGet)
	router.HandleFunc("/runs/stats", h.handleStats).Methods(http.MethodGet)
}

func (h *HTTPHandler) handlePoll(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	src, ok := h.sources[vars["source"]]
	if !ok {
		writeJSON(w, http.StatusNotFound, models.PollResponse{
			Success: false,
			Message: "unknown source: " + vars["source"],
		})
		return
	}

	var req models.PollRequest
	if r.Body != nil && r.ContentLength != 0 {
		if h.maxBody > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Log.WithError(err).Warn("invalid poll request body")
			writeJSON(w, http.StatusBadRequest, models.PollResponse{
				Success: false,
				Message: "invalid request body",
			})
			return
		}
	}

	result, err := h.runner.Run(r.Context(), src, req.SessionID)
	if err != nil {
		if IsConfigError(err) {
			writeJSON(w, http.StatusBadRequest, models.PollResponse{
				Success: false,
				Message: err.Error(),
			})
			return
		}
		logger.ForSource(src.Name()).WithError(err).Error("poll invocation failed before run start")
		writeJSON(w, http.StatusInternalServerError, models.PollResponse{
			Success: false,
			Message: "internal error",
		})
		return
	}

	switch result.Outcome {
	case OutcomeConflict:
		writeJSON(w, http.StatusConflict, models.PollResponse{
			Success: false,
			Message: "another run is active for this source",
		})
	case OutcomeFailed:
		writeJSON(w, http.StatusInternalServerError, models.PollResponse{
			Success:          false,
			RecordsProcessed: result.Records,
			RecordsSkipped:   result.Skipped,
			Errors:           result.Errors,
			Message:          "run failed",
		})
	default:
		status := http.StatusOK
		if len(result.Errors) > 0 {
			status = http.StatusMultiStatus
		}
		writeJSON(w, status, models.PollResponse{
			Success:          true,
			RecordsProcessed: result.Records,
			RecordsSkipped:   result.Skipped,
			Errors:           result.Errors,
		})
	}
}

func (h *HTTPHandler) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.history.ListRecent(r.Context(), r.URL.Query().Get("source"), limit)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list runs")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *HTTPHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.history.Stats(r.Context())
	if err != nil {
		logger.Log.WithError(err).Error("failed to aggregate run stats")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		logger.Log.WithError(err).Warn("failed to encode response")
	}
}
