package orchestrator

import (
	"bytes"
	"context"

	"github.com/hoonetorg/btrfs-defrag-core/pkg/extcmd"
	"github.com/hoonetorg/btrfs-defrag-core/pkg/filesstate"
)

// parseAndQueue batches absPaths to respect the extent-listing tool's argv
// limit, invokes it, parses the combined output, rewrites each record's
// short path relative to mountpoint, and feeds the survivors to
// update_files with thresholdMultiplier. It returns the number of short
// paths newly queued.
func (o *Orchestrator) parseAndQueue(ctx context.Context, absPaths []string, mountpoint string, thresholdMultiplier float64) int {
	newlyQueued := 0
	for _, sub := range extcmd.BatchPaths(absPaths, extcmd.FilefragArgMax) {
		if ctx.Err() != nil {
			return newlyQueued
		}
		out, err := o.deps.Filefrag.List(ctx, sub)
		if err != nil {
			o.logger.Warn("filefrag invocation failed", "error", err, "batch_size", len(sub))
			continue
		}

		records, err := o.deps.Parser.Parse(bytes.NewReader(out))
		if err != nil {
			o.logger.Warn("extent-map parse failed", "error", err)
			continue
		}
		for i := range records {
			records[i].ShortPath = toShortPath(mountpoint, records[i].ShortPath)
		}
		newlyQueued += o.state.UpdateFiles(records, thresholdMultiplier)
	}
	return newlyQueued
}

// measureOne re-measures a single file, used by the defrag loop before
// committing to a defrag and by the post-defrag stat loop while waiting
// for settlement. It returns (record, true) on success.
func (o *Orchestrator) measureOne(ctx context.Context, absPath, mountpoint string) (filesstate.Record, bool) {
	out, err := o.deps.Filefrag.List(ctx, []string{absPath})
	if err != nil {
		return filesstate.Record{}, false
	}
	records, err := o.deps.Parser.Parse(bytes.NewReader(out))
	if err != nil || len(records) == 0 {
		return filesstate.Record{}, false
	}
	r := records[0]
	r.ShortPath = toShortPath(mountpoint, r.ShortPath)
	return r, true
}
