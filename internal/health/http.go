package health

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// Handler serves the health endpoints from a Manager.
type Handler struct {
	manager *Manager
	logger  *zap.Logger
}

// NewHandler creates the HTTP handler.
func NewHandler(manager *Manager, logger *zap.Logger) *Handler {
	return &Handler{manager: manager, logger: logger}
}

// RegisterRoutes mounts the endpoints on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.handleLiveness)
	mux.HandleFunc("/readyz", h.handleReadiness)
}

// handleLiveness answers 200 as long as the process serves HTTP.
func (h *Handler) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// handleReadiness runs all registered checks; a critical failure yields 503.
func (h *Handler) handleReadiness(w http.ResponseWriter, r *http.Request) {
	report := h.manager.RunChecks(r.Context())

	code := http.StatusOK
	if report.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(report); err != nil {
		h.logger.Warn("Failed to encode readiness report", zap.Error(err))
	}
}
