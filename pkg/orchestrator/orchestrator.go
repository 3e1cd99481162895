// Package orchestrator implements the Per-FS Orchestrator (C5): the four
// cooperating loops that drive one managed filesystem — slow scan, write
// consolidation, defrag, and post-defrag settlement — plus mount-option
// detection. The Supervisor owns one Orchestrator per managed filesystem
// and cancels its context to tear it down (spec §5's "forcibly terminates
// its orchestrator's threads" — idiomatic Go substitutes context
// cancellation for the original's thread abort).
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hoonetorg/btrfs-defrag-core/pkg/config"
	"github.com/hoonetorg/btrfs-defrag-core/pkg/costmodel"
	"github.com/hoonetorg/btrfs-defrag-core/pkg/db"
	"github.com/hoonetorg/btrfs-defrag-core/pkg/db/queries"
	"github.com/hoonetorg/btrfs-defrag-core/pkg/extcmd"
	"github.com/hoonetorg/btrfs-defrag-core/pkg/extentmap"
	"github.com/hoonetorg/btrfs-defrag-core/pkg/filesstate"
	"github.com/hoonetorg/btrfs-defrag-core/pkg/mount"
	"github.com/hoonetorg/btrfs-defrag-core/pkg/store"
	"github.com/hoonetorg/btrfs-defrag-core/pkg/usagepolicy"
)

// ForeignMountChecker reports whether absPath is itself a mount point other
// than the orchestrator's own mountpoint — such paths are pruned during
// slow scan (spec §4.5). Mounts of the filesystem's own subvolumes are not
// told apart from other filesystems' mounts. The Supervisor supplies this,
// since only it tracks the full mount table.
type ForeignMountChecker func(absPath string) bool

// Deps are the shared, stateless-ish collaborators an Orchestrator needs.
// Cost Model and the extent-map Parser hold no per-filesystem state and
// are safe to share across every managed filesystem's Orchestrator.
type Deps struct {
	Config   *config.Config
	Model    *costmodel.Model
	Parser   *extentmap.Parser
	Filefrag *extcmd.FilefragLister
	Defrag   *extcmd.Defragmenter
	Store    *store.Store
	DB       *db.DB
	Logger   *slog.Logger
}

// Orchestrator runs the four loops for one managed Btrfs filesystem.
type Orchestrator struct {
	deps     Deps
	fsUUID   string
	fsID     int64 // tracked_filesystems.id; cost-history rows are keyed by fsUUID
	state    *filesstate.State
	usage    *usagepolicy.Checker
	logger   *slog.Logger
	foreign  ForeignMountChecker

	mountMu     sync.RWMutex
	mountpoint  string
	compressed  bool
	commitDelay time.Duration

	kick chan struct{} // non-blocking nudge for the write-consolidation loop

	pendingMu sync.Mutex
	pending   map[string]*pendingRecord
}

// New constructs an Orchestrator for one filesystem, seeded from a
// persisted recently-defragmented set and cost-achievement history if
// either exists, so thresholds reflect accumulated history across a
// restart instead of resetting to the cold-start seed.
func New(deps Deps, fsUUID string, fsID int64, entry mount.Entry, foreign ForeignMountChecker) (*Orchestrator, error) {
	logger := deps.Logger.With("component", "orchestrator", "fs_uuid", fsUUID)

	state := filesstate.New()
	if data, err := deps.Store.LoadRecentSet(fsUUID); err != nil {
		logger.Warn("loading recently-defragmented set failed, starting empty", "error", err)
	} else if data != nil {
		state.LoadRecentSet(data, time.Now())
	}

	for _, c := range [...]filesstate.Class{filesstate.ClassUncompressed, filesstate.ClassCompressed} {
		rows, err := queries.ListCostHistory(deps.DB.Conn(), fsUUID, int(c), filesstate.MaxHistoryEntries)
		if err != nil {
			logger.Warn("loading cost-achievement history failed, starting from cold-start seed", "class", c, "error", err)
			continue
		}
		if len(rows) == 0 {
			continue
		}
		// rows is newest first (ORDER BY recorded_at DESC); history.load
		// wants oldest first.
		entries := make([]filesstate.HistoryEntry, len(rows))
		for i, r := range rows {
			entries[len(rows)-1-i] = filesstate.HistoryEntry{
				InitialCost: r.InitialCost,
				FinalCost:   r.FinalCost,
				SizeBytes:   r.SizeBytes,
			}
		}
		state.LoadHistory(c, entries)
	}

	o := &Orchestrator{
		deps:        deps,
		fsUUID:      fsUUID,
		fsID:        fsID,
		state:       state,
		usage:       usagepolicy.New(deps.Config.SpeedMultiplier),
		logger:      logger,
		foreign:     foreign,
		mountpoint:  entry.Mountpoint,
		compressed:  entry.Compressed(),
		commitDelay: entry.CommitDelay,
		kick:        make(chan struct{}, 1),
		pending:     make(map[string]*pendingRecord),
	}
	return o, nil
}

// RefreshMountOptions re-reads compression and commit_delay from a freshly
// parsed mount entry (spec §4.5's "Mount-option detection"), invalidating
// any cached assumption the defrag loop made about compression.
func (o *Orchestrator) RefreshMountOptions(entry mount.Entry) {
	o.mountMu.Lock()
	defer o.mountMu.Unlock()
	o.mountpoint = entry.Mountpoint
	o.compressed = entry.Compressed()
	o.commitDelay = entry.CommitDelay
}

func (o *Orchestrator) mountSnapshot() (mountpoint string, compressed bool, commitDelay time.Duration) {
	o.mountMu.RLock()
	defer o.mountMu.RUnlock()
	return o.mountpoint, o.compressed, o.commitDelay
}

// FileWrittenTo routes one write event into Files-State and nudges the
// write-consolidation loop to look sooner than its next scheduled tick.
func (o *Orchestrator) FileWrittenTo(shortPath string) {
	o.state.FileWrittenTo(shortPath)
	select {
	case o.kick <- struct{}{}:
	default:
	}
}

// Run starts all four loops and blocks until ctx is canceled.
func (o *Orchestrator) Run(ctx context.Context) {
	var wg sync.WaitGroup
	loops := []func(context.Context){
		o.slowScanLoop,
		o.writeConsolidationLoop,
		o.defragLoop,
		o.postDefragStatLoop,
	}
	for _, loop := range loops {
		wg.Add(1)
		go func(fn func(context.Context)) {
			defer wg.Done()
			fn(ctx)
		}(loop)
	}
	wg.Wait()
	o.logger.Info("orchestrator stopped")
}

// Snapshot is the per-filesystem status the HTTP surface reports.
type Snapshot struct {
	FSUUID              string  `json:"fs_uuid"`
	Mountpoint          string  `json:"mountpoint"`
	Compressed          bool    `json:"compressed"`
	QueueLenCompressed  int     `json:"queue_len_compressed"`
	QueueLenUncompressed int    `json:"queue_len_uncompressed"`
	QueueFill           float64 `json:"queue_fill"`
	ThresholdCompressed float64 `json:"threshold_compressed"`
	ThresholdUncompressed float64 `json:"threshold_uncompressed"`
	RecentSetSize       int     `json:"recent_set_size"`
	WriteTrackerLen     int     `json:"write_tracker_len"`
}

// Snapshot reports the orchestrator's current state for the status endpoint.
func (o *Orchestrator) Snapshot() Snapshot {
	mountpoint, compressed, _ := o.mountSnapshot()
	return Snapshot{
		FSUUID:                o.fsUUID,
		Mountpoint:            mountpoint,
		Compressed:            compressed,
		QueueLenCompressed:    o.state.QueueLen(filesstate.ClassCompressed),
		QueueLenUncompressed:  o.state.QueueLen(filesstate.ClassUncompressed),
		QueueFill:             o.state.QueueFill(),
		ThresholdCompressed:   o.state.Threshold(filesstate.ClassCompressed),
		ThresholdUncompressed: o.state.Threshold(filesstate.ClassUncompressed),
		RecentSetSize:         o.state.RecentSetSize(),
		WriteTrackerLen:       o.state.WriteTrackerLen(),
	}
}

// recordCostAchievement both updates in-memory history (which drives
// thresholds immediately) and appends a durable row (spec §3's "Persisted"
// cost-achievement history).
func (o *Orchestrator) recordCostAchievement(r filesstate.Record, initial, final float64, size int64) {
	o.state.HistorizeCostAchievement(r, initial, final, size)

	class := 0
	if r.Compressed {
		class = 1
	}
	entry := &queries.CostHistoryEntry{
		FSUUID:      o.fsUUID,
		Class:       class,
		InitialCost: initial,
		FinalCost:   final,
		SizeBytes:   size,
		RecordedAt:  time.Now(),
	}
	if err := queries.InsertCostHistory(o.deps.DB.Conn(), entry); err != nil {
		o.logger.Warn("persisting cost history failed", "error", err)
		return
	}
	if err := queries.PruneCostHistory(o.deps.DB.Conn(), o.fsUUID, class, filesstate.MaxHistoryEntries); err != nil {
		o.logger.Warn("pruning cost history failed", "error", err)
	}
}
