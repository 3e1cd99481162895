package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/hoonetorg/btrfs-defrag-core/pkg/filesstate"
)

// writeConsolidationLoop sweeps the write-tracker every
// TrackedWrittenFilesConsolidationPeriod, or sooner when nudged by
// FileWrittenTo, feeding ready short paths back through the extent-map
// parser into update_files (spec §4.3/§4.5). Each scheduled tick also
// applies the recently-defragmented set's time decay.
func (o *Orchestrator) writeConsolidationLoop(ctx context.Context) {
	ticker := time.NewTicker(filesstate.TrackedWrittenFilesConsolidationPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.state.TickRecentSet(time.Now())
			o.consolidateOnce(ctx)
		case <-o.kick:
			o.consolidateOnce(ctx)
		}
	}
}

func (o *Orchestrator) consolidateOnce(ctx context.Context) {
	mountpoint, _, commitDelay := o.mountSnapshot()
	ready := o.state.ConsolidateWrites(time.Now(), commitDelay)
	if len(ready) == 0 {
		return
	}

	abs := make([]string, 0, len(ready))
	for _, shortPath := range ready {
		path := filepath.Join(mountpoint, shortPath)
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		abs = append(abs, path)
	}
	if len(abs) == 0 {
		return
	}

	mult := filesstate.WriteOriginThresholdMultiplier(o.deps.Config.FullScanTime)
	n := o.parseAndQueue(ctx, abs, mountpoint, mult)
	o.logger.Debug("write consolidation flushed", "ready", len(ready), "existing", len(abs), "newly_queued", n)
}
