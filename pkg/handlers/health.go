package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hoonetorg/btrfs-defrag-core/pkg/db"
)

// HealthHandler answers GET /healthz: a liveness check backed by a single
// trivial database query, so a wedged sqlite connection shows up as
// unhealthy rather than the process looking alive while unable to serve.
type HealthHandler struct {
	logger *slog.Logger
	db     *db.DB
}

func NewHealthHandler(logger *slog.Logger, db *db.DB) *HealthHandler {
	return &HealthHandler{
		logger: logger.With("handler", "health"),
		db:     db,
	}
}

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if _, err := h.db.ListFilesystems(); err != nil {
		h.logger.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unhealthy", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
