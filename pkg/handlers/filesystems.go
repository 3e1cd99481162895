package handlers

import (
	"log/slog"
	"net/http"

	"github.com/hoonetorg/btrfs-defrag-core/pkg/db"
)

// FilesystemsHandler answers GET /filesystems: the set of filesystems the
// daemon has ever tracked, independent of whether they are currently
// mounted (spec §6's tracked-filesystem persistence).
type FilesystemsHandler struct {
	logger *slog.Logger
	db     *db.DB
}

func NewFilesystemsHandler(logger *slog.Logger, db *db.DB) *FilesystemsHandler {
	return &FilesystemsHandler{
		logger: logger.With("handler", "filesystems"),
		db:     db,
	}
}

func (h *FilesystemsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filesystems, err := h.db.ListFilesystems()
	if err != nil {
		h.logger.Error("listing tracked filesystems failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, healthResponse{Status: "error", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, filesystems)
}
