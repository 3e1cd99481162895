package orchestrator

import (
	"context"
	"time"

	"github.com/hoonetorg/btrfs-defrag-core/pkg/filesstate"
)

const (
	// postDefragPollPeriod is how often the post-defrag stat loop
	// re-measures pending records (spec §4.5: "every ~5s").
	postDefragPollPeriod = 5 * time.Second

	// improvementQuietPeriod settles a record once this long has passed
	// since its last cost improvement, provided it has improved at least
	// once.
	improvementQuietPeriod = 6 * time.Second

	// maxPendingWait settles a record unconditionally this long after it
	// was queued, even if its cost never visibly moved (filefrag's view of
	// the extent map can lag the kernel's actual defrag work).
	maxPendingWait = 35 * time.Second

	// settledCost is the cost at which a record is considered perfectly
	// defragmented regardless of elapsed time.
	settledCost = 1.0
)

// pendingRecord tracks one file between the moment its defrag command
// returned and the moment its cost-achievement is historized.
type pendingRecord struct {
	shortPath   string
	absPath     string
	mountpoint  string
	compressed  bool
	sizeBytes   int64
	startCost   float64
	lastCost    float64
	improved    bool
	lastChange  time.Time
	queuedAt    time.Time
}

// enqueuePending registers a just-defragmented record for settlement
// tracking (spec §4.5's defrag loop "enqueue the record on the post-defrag
// stat loop").
func (o *Orchestrator) enqueuePending(measured filesstate.Record, queuedAt time.Time) {
	mountpoint, _, _ := o.mountSnapshot()
	pr := &pendingRecord{
		shortPath:  measured.ShortPath,
		absPath:    joinShortPath(mountpoint, measured.ShortPath),
		mountpoint: mountpoint,
		compressed: measured.Compressed,
		sizeBytes:  measured.Size,
		startCost:  measured.Cost,
		lastCost:   measured.Cost,
		lastChange: queuedAt,
		queuedAt:   queuedAt,
	}

	o.pendingMu.Lock()
	o.pending[pr.shortPath] = pr
	o.pendingMu.Unlock()
}

// postDefragStatLoop re-measures pending records until each settles, then
// historizes its cost achievement (spec §4.5's "Post-defrag stat loop").
func (o *Orchestrator) postDefragStatLoop(ctx context.Context) {
	ticker := time.NewTicker(postDefragPollPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.sweepPending(ctx)
		}
	}
}

func (o *Orchestrator) sweepPending(ctx context.Context) {
	o.pendingMu.Lock()
	snapshot := make([]*pendingRecord, 0, len(o.pending))
	for _, pr := range o.pending {
		snapshot = append(snapshot, pr)
	}
	o.pendingMu.Unlock()

	now := time.Now()
	for _, pr := range snapshot {
		if ctx.Err() != nil {
			return
		}

		measured, ok := o.measureOne(ctx, pr.absPath, pr.mountpoint)
		if ok && measured.Cost < pr.lastCost {
			pr.lastCost = measured.Cost
			pr.lastChange = now
			pr.improved = true
		}

		if o.isSettled(pr, now) {
			o.settlePending(pr)
		}
	}
}

func (o *Orchestrator) isSettled(pr *pendingRecord, now time.Time) bool {
	if pr.lastCost <= settledCost {
		return true
	}
	if pr.improved && now.Sub(pr.lastChange) >= improvementQuietPeriod {
		return true
	}
	return now.Sub(pr.queuedAt) >= maxPendingWait
}

func (o *Orchestrator) settlePending(pr *pendingRecord) {
	o.pendingMu.Lock()
	delete(o.pending, pr.shortPath)
	o.pendingMu.Unlock()

	r := filesstate.Record{ShortPath: pr.shortPath, Size: pr.sizeBytes, Compressed: pr.compressed, Cost: pr.lastCost}
	o.recordCostAchievement(r, pr.startCost, pr.lastCost, pr.sizeBytes)
}

func joinShortPath(mountpoint, shortPath string) string {
	if mountpoint == "" {
		return shortPath
	}
	if mountpoint[len(mountpoint)-1] == '/' {
		return mountpoint + shortPath
	}
	return mountpoint + "/" + shortPath
}
