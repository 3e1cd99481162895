package orchestrator

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hoonetorg/btrfs-defrag-core/pkg/extcmd"
	"github.com/hoonetorg/btrfs-defrag-core/pkg/store"
)

const (
	// MinFilesBatchSize is the starting slow-scan batch size (spec §4.5).
	MinFilesBatchSize = 50

	// noDefragMarker is the per-directory blacklist file; its presence
	// prunes the whole subtree from the slow scan (spec §4.5).
	noDefragMarker = ".no_defrag"

	// minFileSize is the size at or below which the slow scan does not
	// measure a file.
	minFileSize = 4096

	// extraSettleMargin pads commit_delay when judging whether a file's
	// extent info is likely to be stable yet (spec §4.5).
	extraSettleMargin = 5 * time.Second
)

// maxFilesBatchSize is MAX_FILES_BATCH_SIZE = 250 * speed_multiplier.
func (o *Orchestrator) maxFilesBatchSize() int {
	return int(250 * o.deps.Config.SpeedMultiplier)
}

func (o *Orchestrator) minDelayBetweenFilefrags() time.Duration {
	return time.Duration(float64(5*time.Second) / o.deps.Config.SpeedMultiplier)
}

const maxDelayBetweenFilefrags = 180 * time.Second

// slowScanLoop targets one full recursive traversal every
// cfg.FullScanTime, restarting indefinitely (spec §4.5's "Slow-scan loop").
func (o *Orchestrator) slowScanLoop(ctx context.Context) {
	for ctx.Err() == nil {
		o.runSlowScanPass(ctx)
	}
}

func (o *Orchestrator) runSlowScanPass(ctx context.Context) {
	passStart := time.Now()
	mountpoint, _, commitDelay := o.mountSnapshot()

	cp, err := o.deps.Store.LoadCheckpoint(o.fsUUID)
	if err != nil {
		o.logger.Warn("loading slow-scan checkpoint failed, starting from scratch", "error", err)
	}

	if cp.Processed > 0 {
		o.logger.Info("resuming slow scan from checkpoint", "processed", cp.Processed, "total", cp.Total)
		if !sleepCtx(ctx, o.deps.Config.SlowStartWait) {
			return
		}
	}

	period := o.deps.Config.FullScanTime
	estimatedTotal := cp.Total

	w := &slowScanWalk{
		o:             o,
		ctx:           ctx,
		mountpoint:    mountpoint,
		commitDelay:   commitDelay,
		skipCount:     cp.Processed,
		batchSize:     MinFilesBatchSize,
		passStart:     passStart,
		period:        period,
		estimatedTotal: estimatedTotal,
	}
	w.walk(mountpoint)
	w.flush()

	if ctx.Err() != nil {
		return
	}

	final := store.Checkpoint{Processed: 0, Total: w.seen}
	if err := o.deps.Store.SaveCheckpoint(o.fsUUID, final); err != nil {
		o.logger.Warn("saving final slow-scan checkpoint failed", "error", err)
	}

	elapsed := time.Since(passStart)
	if remaining := period - elapsed; remaining > 0 {
		o.logger.Debug("slow scan pass complete, waiting out remainder", "elapsed", elapsed, "remaining", remaining)
		sleepCtx(ctx, remaining)
	}
}

// slowScanWalk holds the mutable state of one traversal.
type slowScanWalk struct {
	o           *Orchestrator
	ctx         context.Context
	mountpoint  string
	commitDelay time.Duration

	skipCount int64
	seen      int64 // total regular-file entries encountered this pass

	batch     []string
	batchSize int

	lastFlush      time.Time
	passStart      time.Time
	period         time.Duration
	estimatedTotal int64
	lastCheckpoint int64
}

func (w *slowScanWalk) walk(dir string) {
	if w.ctx.Err() != nil {
		return
	}
	if _, err := os.Stat(filepath.Join(dir, noDefragMarker)); err == nil {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		w.o.logger.Debug("slow scan: read dir failed", "dir", dir, "error", err)
		return
	}

	for _, entry := range entries {
		if w.ctx.Err() != nil {
			return
		}
		abs := filepath.Join(dir, entry.Name())

		if entry.IsDir() {
			if abs != w.mountpoint && w.o.foreign != nil && w.o.foreign(abs) {
				continue
			}
			w.walk(abs)
			continue
		}

		info, err := entry.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}

		w.seen++
		if w.seen <= w.skipCount {
			continue
		}
		if w.shouldSkip(abs, info) {
			continue
		}

		w.batch = append(w.batch, abs)
		if len(w.batch) >= w.batchSize || batchArgLen(w.batch) >= extcmd.FilefragArgMax {
			w.flush()
		}
	}
}

func (w *slowScanWalk) shouldSkip(abs string, info fs.FileInfo) bool {
	if info.Size() <= minFileSize {
		return true
	}
	if time.Since(info.ModTime()) < w.commitDelay+extraSettleMargin {
		return true
	}
	shortPath := toShortPath(w.mountpoint, abs)
	return w.o.state.RecentlyDefragmented(shortPath)
}

func batchArgLen(batch []string) int {
	n := 0
	for _, p := range batch {
		n += len(p) + 1
	}
	return n
}

func (w *slowScanWalk) flush() {
	if len(w.batch) == 0 {
		return
	}
	batch := w.batch
	w.batch = nil

	batchStart := time.Now()
	n := w.o.parseAndQueue(w.ctx, batch, w.mountpoint, 1.0)
	batchCPUTime := time.Since(batchStart)
	w.o.logger.Debug("slow scan batch flushed", "batch_size", len(batch), "newly_queued", n, "batch_cpu_time", batchCPUTime)

	w.adaptBatchSize()
	w.maybeCheckpoint()
	w.sleepBetweenBatches(batchCPUTime)
}

// adaptBatchSize grows the batch target by 10% (capped at
// MAX_FILES_BATCH_SIZE) when the pass is falling behind its schedule.
func (w *slowScanWalk) adaptBatchSize() {
	if w.estimatedTotal <= 0 || w.period <= 0 {
		return
	}
	elapsed := time.Since(w.passStart)
	expectedProgress := float64(elapsed) / float64(w.period)
	actualProgress := float64(w.seen) / float64(w.estimatedTotal)
	if actualProgress < expectedProgress {
		grown := int(float64(w.batchSize) * 1.1)
		if max := w.o.maxFilesBatchSize(); grown > max {
			grown = max
		}
		w.batchSize = grown
	}
}

func (w *slowScanWalk) maybeCheckpoint() {
	changed := w.estimatedTotal != 0 && w.seen < w.lastCheckpoint
	onePercent := w.estimatedTotal > 0 && w.seen-w.lastCheckpoint >= w.estimatedTotal/100
	if !changed && !onePercent {
		return
	}
	cp := store.Checkpoint{Processed: w.seen, Total: w.estimatedTotal}
	if err := w.o.deps.Store.SaveCheckpoint(w.o.fsUUID, cp); err != nil {
		w.o.logger.Warn("saving slow-scan checkpoint failed", "error", err)
		return
	}
	w.lastCheckpoint = w.seen
}

// sleepBetweenBatches sleeps clamp((remaining_time * batch_size /
// remaining_files) - batch_cpu_time, min, max) (spec §4.5): the batch's own
// filefrag/parse wall time is credited against the computed delay so a slow
// batch doesn't also eat a full inter-batch sleep on top of its own cost.
func (w *slowScanWalk) sleepBetweenBatches(batchCPUTime time.Duration) {
	min := w.o.minDelayBetweenFilefrags()
	max := maxDelayBetweenFilefrags

	delay := min
	if w.estimatedTotal > w.seen && w.period > 0 {
		elapsed := time.Since(w.passStart)
		remainingTime := w.period - elapsed
		remainingFiles := w.estimatedTotal - w.seen
		if remainingFiles > 0 {
			perBatch := time.Duration(int64(remainingTime) * int64(w.batchSize) / remainingFiles)
			delay = perBatch - batchCPUTime
		}
	}
	if delay < min {
		delay = min
	}
	if delay > max {
		delay = max
	}
	sleepCtx(w.ctx, delay)
}

func toShortPath(mountpoint, abs string) string {
	rel := strings.TrimPrefix(abs, mountpoint)
	return strings.TrimPrefix(rel, "/")
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
