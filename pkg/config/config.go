// Package config holds the daemon's immutable runtime configuration,
// assembled once at startup from CLI flags and environment defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// AppName is the application name used in default paths.
	AppName = "btrfs-defrag-core"

	// DefaultStoreDir is used when --store-dir and STORE_DIR are both unset.
	DefaultStoreDir = "/root/.btrfs_defrag"
)

// Config is the fully-resolved set of parameters the daemon runs with. It is
// built once in New and passed explicitly to every component that needs it;
// nothing in this package reads flag globals after construction.
type Config struct {
	// StoreDir is the root directory for all persisted state: the sqlite
	// cost-history database and the pebble filecounts/recent store.
	StoreDir string

	// FullScanTime is the target wall-clock duration for a full slow scan
	// of every tracked filesystem (spec §4.5's "slow scan").
	FullScanTime time.Duration

	// TargetExtentSize is passed verbatim as the `-t` argument to
	// `btrfs filesystem defragment` (spec §6).
	TargetExtentSize string

	// SpeedMultiplier scales both the usage-policy window budgets (§4.4)
	// and the slow-scan batch sizing (§4.5). Must be > 0.
	SpeedMultiplier float64

	// SlowStartWait is how long a slow-scan pass waits before resuming
	// from a persisted checkpoint (spec §4.5).
	SlowStartWait time.Duration

	// DriveCount feeds the cost model's full-stroke-seek denominator
	// (spec §4.1). Must be >= 1.
	DriveCount float64

	// Verbose enables info-level logging; Debug enables debug-level
	// logging.
	Verbose bool
	Debug   bool

	// APIAddress is the bind address for the status HTTP surface.
	APIAddress string
}

// Params holds the subset of Config fields sourced directly from CLI flags,
// mirroring the kong CLI struct in cmd/btrfs-defrag-core.
type Params struct {
	StoreDir         string
	FullScanHours    float64
	TargetExtentSize string
	SpeedMultiplier  float64
	SlowStartSeconds float64
	DriveCount       float64
	Verbose          bool
	Debug            bool
	APIAddress       string
}

// New validates p and resolves it into a Config, applying STORE_DIR/
// BTRFS_DEFRAG_API_ADDRESS environment defaults where the CLI left a field
// at its zero value.
func New(p Params) (*Config, error) {
	if p.FullScanHours < 1 {
		return nil, fmt.Errorf("config: full-scan-time must be >= 1 hour, got %v", p.FullScanHours)
	}
	if p.SpeedMultiplier <= 0 {
		return nil, fmt.Errorf("config: speed-multiplier must be > 0, got %v", p.SpeedMultiplier)
	}
	if p.SlowStartSeconds < 1 {
		return nil, fmt.Errorf("config: slow-start must be >= 1 second, got %v", p.SlowStartSeconds)
	}
	if p.DriveCount < 1 {
		return nil, fmt.Errorf("config: drive-count must be >= 1, got %v", p.DriveCount)
	}

	storeDir := p.StoreDir
	if storeDir == "" {
		storeDir = envOrDefault("STORE_DIR", DefaultStoreDir)
	}
	if err := os.MkdirAll(storeDir, 0o755); err != nil {
		return nil, fmt.Errorf("config: create store dir %q: %w", storeDir, err)
	}

	apiAddr := p.APIAddress
	if apiAddr == "" {
		apiAddr = envOrDefault("BTRFS_DEFRAG_API_ADDRESS", ":8147")
	}

	targetExtent := p.TargetExtentSize
	if targetExtent == "" {
		targetExtent = "32M"
	}

	return &Config{
		StoreDir:         storeDir,
		FullScanTime:     time.Duration(p.FullScanHours * float64(time.Hour)),
		TargetExtentSize: targetExtent,
		SpeedMultiplier:  p.SpeedMultiplier,
		SlowStartWait:    time.Duration(p.SlowStartSeconds * float64(time.Second)),
		DriveCount:       p.DriveCount,
		Verbose:          p.Verbose,
		Debug:            p.Debug,
		APIAddress:       apiAddr,
	}, nil
}

// envOrDefault returns the environment variable value or the default.
func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// SubPath returns a path under the store directory.
func (c *Config) SubPath(parts ...string) string {
	return filepath.Join(append([]string{c.StoreDir}, parts...)...)
}

// DBPath is the sqlite cost-achievement history database path.
func (c *Config) DBPath() string {
	return c.SubPath("costs.db")
}

// PebblePath is the pebble filecounts/recent store path.
func (c *Config) PebblePath() string {
	return c.SubPath("state.pebble")
}
