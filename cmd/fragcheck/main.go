// Command fragcheck is a diagnostic tool: it runs the extent-listing tool
// over one or more paths, feeds the output through the same extent-map
// parser and cost model the daemon uses, and prints each file's
// fragmentation cost. Useful for sanity-checking why a file is or isn't
// being queued without running the daemon itself.
package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"
	"github.com/hoonetorg/btrfs-defrag-core/pkg/costmodel"
	"github.com/hoonetorg/btrfs-defrag-core/pkg/extcmd"
	"github.com/hoonetorg/btrfs-defrag-core/pkg/extentmap"
	"github.com/jedib0t/go-pretty/v6/table"
)

type CLI struct {
	Paths      []string `arg:"" help:"Files to check" type:"path"`
	DriveCount float64  `name:"drive-count" default:"1.0" help:"Drive count fed to the cost model"`
}

func main() {
	cli := &CLI{}
	kctx := kong.Parse(cli, kong.Name("fragcheck"), kong.Description("Inspect per-file fragmentation cost"))

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	model := costmodel.New(cli.DriveCount)
	parser := extentmap.New(model, logger)
	lister := extcmd.NewFilefragLister()

	ctx := context.Background()
	var allRecords []extentmap.Record
	for _, batch := range extcmd.BatchPaths(cli.Paths, extcmd.FilefragArgMax) {
		out, err := lister.List(ctx, batch)
		if err != nil {
			kctx.FatalIfErrorf(fmt.Errorf("filefrag: %w", err))
		}
		records, err := parser.Parse(bytes.NewReader(out))
		if err != nil {
			kctx.FatalIfErrorf(fmt.Errorf("parse: %w", err))
		}
		allRecords = append(allRecords, records...)
	}

	sort.Slice(allRecords, func(i, j int) bool { return allRecords[i].Cost > allRecords[j].Cost })

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Path", "Size", "Compressed", "Cost"})
	for _, r := range allRecords {
		t.AppendRow(table.Row{r.ShortPath, humanize.IBytes(uint64(r.Size)), r.Compressed, fmt.Sprintf("%.3f", r.Cost)})
	}
	t.Render()
}
