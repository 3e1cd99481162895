// Command btrfs-defrag-core runs the online defragmentation daemon: it
// discovers managed Btrfs filesystems, schedules their defragmentation
// within a device-time budget, and serves a status HTTP surface.
package main

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	"github.com/hoonetorg/btrfs-defrag-core/pkg/api"
	"github.com/hoonetorg/btrfs-defrag-core/pkg/config"
	"github.com/hoonetorg/btrfs-defrag-core/pkg/db"
	"github.com/hoonetorg/btrfs-defrag-core/pkg/store"
	"github.com/hoonetorg/btrfs-defrag-core/pkg/supervisor"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

// CLI is the root command structure (spec §6's CLI surface).
type CLI struct {
	Verbose bool `short:"v" help:"Enable info-level logging"`
	Debug   bool `short:"d" help:"Enable debug-level logging"`

	StoreDir         string  `name:"store-dir" help:"Root directory for persisted state (default: $STORE_DIR or /root/.btrfs_defrag)"`
	FullScanTime     float64 `name:"full-scan-time" default:"168" help:"Target hours for one full slow scan of each filesystem"`
	TargetExtentSize string  `name:"target-extent-size" default:"32M" help:"Target extent size passed to the defrag tool's -t flag"`
	SpeedMultiplier  float64 `name:"speed-multiplier" default:"1.0" help:"Scales scan speed and usage-policy budgets"`
	SlowStart        float64 `name:"slow-start" default:"600" help:"Seconds to wait before resuming a slow scan from a checkpoint"`
	DriveCount       float64 `name:"drive-count" default:"1.0" help:"Number of physical drives backing the filesystem, for the cost model"`
	APIAddress       string  `name:"api-address" help:"Status HTTP surface bind address (default: $BTRFS_DEFRAG_API_ADDRESS or :8147)"`
}

func (c *CLI) toParams() config.Params {
	return config.Params{
		StoreDir:         c.StoreDir,
		FullScanHours:    c.FullScanTime,
		TargetExtentSize: c.TargetExtentSize,
		SpeedMultiplier:  c.SpeedMultiplier,
		SlowStartSeconds: c.SlowStart,
		DriveCount:       c.DriveCount,
		Verbose:          c.Verbose,
		Debug:            c.Debug,
		APIAddress:       c.APIAddress,
	}
}

func main() {
	cli := &CLI{}
	kctx := kong.Parse(cli,
		kong.Name("btrfs-defrag-core"),
		kong.Description("Online Btrfs defragmentation daemon"),
		kong.UsageOnError(),
	)

	app := fx.New(
		fx.Provide(
			func() (*config.Config, error) { return config.New(cli.toParams()) },
			provideLogger,
		),
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),
		db.Module,
		store.Module,
		supervisor.Module,
		api.Module,
	)

	kctx.FatalIfErrorf(app.Err())
	app.Run()
}

func provideLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelWarn
	switch {
	case cfg.Debug:
		level = slog.LevelDebug
	case cfg.Verbose:
		level = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
