package dispatcher

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/regscope-ai/platform/pkg/common/logger"
)

type HTTPHandler struct {
	dispatcher *Dispatcher
}

func NewHTTPHandler(dispatcher *Dispatcher) *HTTPHandler {
	return &HTTPHandler{dispatcher: dispatcher}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/dispatch", h.handleDispatch).Methods(http.MethodPost)
	router.HandleFunc("/dispatch", h.handlePreflight).Methods(http.MethodOptions)
}

func (h *HTTPHandler) handleDispatch(w http.ResponseWriter, r *http.Request) {
	response := h.dispatcher.RunTick(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Log.WithError(err).Warn("failed to encode dispatch response")
	}
}

func (h *HTTPHandler) handlePreflight(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.WriteHeader(http.StatusNoContent)
}
