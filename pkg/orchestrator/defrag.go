package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hoonetorg/btrfs-defrag-core/pkg/filesstate"
)

const (
	// minDelayBetweenDefrags is MIN_DELAY_BETWEEN_DEFRAGS (spec §4.5).
	minDelayBetweenDefrags = 100 * time.Millisecond
	// maxDelayBetweenDefrags is MAX_DELAY_BETWEEN_DEFRAGS.
	maxDelayBetweenDefrags = 10 * time.Second

	// admissionRetryDelay is how long the defrag loop waits before asking
	// the usage policy checker again after a denial.
	admissionRetryDelay = 2 * time.Second

	// emptyQueueRetryDelay is how long the defrag loop sleeps when there is
	// nothing queued.
	emptyQueueRetryDelay = 5 * time.Second
)

func classOf(compressed bool) filesstate.Class {
	if compressed {
		return filesstate.ClassCompressed
	}
	return filesstate.ClassUncompressed
}

// defragLoop pops the most interesting record, re-verifies it still
// warrants defragmenting, gains admission from the usage policy checker,
// invokes the external defrag tool, and hands the result to the
// post-defrag stat loop (spec §4.5's "Defrag loop").
func (o *Orchestrator) defragLoop(ctx context.Context) {
	for ctx.Err() == nil {
		r, ok := o.state.PopMostInteresting()
		if !ok {
			sleepCtx(ctx, emptyQueueRetryDelay)
			continue
		}

		mountpoint, compressed, _ := o.mountSnapshot()
		absPath := filepath.Join(mountpoint, r.ShortPath)

		if _, err := os.Stat(absPath); err != nil {
			continue // file gone; already dropped from tracking by the pop
		}

		measured, ok := o.measureOne(ctx, absPath, mountpoint)
		if !ok {
			continue
		}
		if o.state.BelowThresholdCost(measured, 1.0) || o.state.RecentlyDefragmented(measured.ShortPath) {
			continue
		}

		// Mark before launching: prevents a concurrent producer from
		// re-queueing the same file while the defrag is in flight.
		o.state.Defragmented(measured.ShortPath)

		class := classOf(measured.Compressed)
		expected := o.deps.Model.DefragTime(measured.Size, measured.Cost, measured.Compressed, o.state.AverageCost(class))

		for !o.usage.Available(o.state.QueueFill(), expected) {
			if !sleepCtx(ctx, admissionRetryDelay) {
				return
			}
		}

		invocationID := uuid.New().String()
		start := time.Now()
		err := o.deps.Defrag.Defrag(ctx, absPath, compressed, o.deps.Config.TargetExtentSize)
		actual := time.Since(start)
		o.usage.RecordUsage(start, actual, expected)

		if err != nil {
			o.logger.Warn("defrag invocation failed", "invocation_id", invocationID, "path", absPath, "error", err)
			continue
		}
		o.logger.Debug("defrag invoked", "invocation_id", invocationID, "path", absPath, "expected", expected, "actual", actual)

		o.enqueuePending(measured, start)
		sleepCtx(ctx, o.interDefragDelay())
	}
}

// interDefragDelay is max(MIN_DELAY_BETWEEN_DEFRAGS, MAX - queue_fill * 100
// * (MAX - MIN)): once the queue is at least 1% full, defrags run back to
// back.
func (o *Orchestrator) interDefragDelay() time.Duration {
	fill := o.state.QueueFill()
	d := time.Duration(float64(maxDelayBetweenDefrags) - fill*100*float64(maxDelayBetweenDefrags-minDelayBetweenDefrags))
	if d < minDelayBetweenDefrags {
		d = minDelayBetweenDefrags
	}
	return d
}
