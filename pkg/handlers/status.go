package handlers

import (
	"log/slog"
	"net/http"

	"github.com/hoonetorg/btrfs-defrag-core/pkg/supervisor"
)

// StatusHandler answers GET /status: the live queue sizes, thresholds and
// recent-set sizes of every managed filesystem.
type StatusHandler struct {
	logger     *slog.Logger
	supervisor *supervisor.Supervisor
}

func NewStatusHandler(logger *slog.Logger, sup *supervisor.Supervisor) *StatusHandler {
	return &StatusHandler{
		logger:     logger.With("handler", "status"),
		supervisor: sup,
	}
}

type statusResponse struct {
	Filesystems []statusEntry `json:"filesystems"`
}

type statusEntry struct {
	FSUUID                string  `json:"fs_uuid"`
	Mountpoint            string  `json:"mountpoint"`
	Compressed            bool    `json:"compressed"`
	QueueLenCompressed    int     `json:"queue_len_compressed"`
	QueueLenUncompressed  int     `json:"queue_len_uncompressed"`
	QueueFill             float64 `json:"queue_fill"`
	ThresholdCompressed   float64 `json:"threshold_compressed"`
	ThresholdUncompressed float64 `json:"threshold_uncompressed"`
	RecentSetSize         int     `json:"recent_set_size"`
	WriteTrackerLen       int     `json:"write_tracker_len"`
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snapshots := h.supervisor.Snapshots()
	resp := statusResponse{Filesystems: make([]statusEntry, 0, len(snapshots))}
	for _, s := range snapshots {
		resp.Filesystems = append(resp.Filesystems, statusEntry{
			FSUUID:                s.FSUUID,
			Mountpoint:            s.Mountpoint,
			Compressed:            s.Compressed,
			QueueLenCompressed:    s.QueueLenCompressed,
			QueueLenUncompressed:  s.QueueLenUncompressed,
			QueueFill:             s.QueueFill,
			ThresholdCompressed:   s.ThresholdCompressed,
			ThresholdUncompressed: s.ThresholdUncompressed,
			RecentSetSize:         s.RecentSetSize,
			WriteTrackerLen:       s.WriteTrackerLen,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
