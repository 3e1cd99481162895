// Package store persists the small amount of state that must survive a
// restart without forcing a full slow-scan restart or forgetting which
// files were just defragmented: the recently-defragmented set and the
// slow-scan directory checkpoint, one PebbleDB keyed by filesystem UUID
// (spec §6's "Persistent state").  Cost-achievement history lives in
// pkg/db instead, since it benefits from SQL aggregation.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/cockroachdb/pebble"
	"github.com/hoonetorg/btrfs-defrag-core/pkg/config"
	"go.uber.org/fx"
)

var Module = fx.Module("store",
	fx.Provide(New),
)

// Store is a single shared PebbleDB for every managed filesystem's
// checkpoint and recent-set state.
type Store struct {
	db     *pebble.DB
	logger *slog.Logger
}

// New opens (creating if absent) the PebbleDB at cfg.PebblePath.
func New(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (*Store, error) {
	logger = logger.With("component", "store")

	if err := os.MkdirAll(cfg.StoreDir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create dir: %w", err)
	}

	opts := &pebble.Options{
		Logger: &silentLogger{},
	}
	db, err := pebble.Open(cfg.PebblePath(), opts)
	if err != nil {
		return nil, fmt.Errorf("store: open pebble: %w", err)
	}

	s := &Store{db: db, logger: logger}
	logger.Info("state store opened", "path", cfg.PebblePath())

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Info("closing state store")
			return s.Close()
		},
	})

	return s, nil
}

type silentLogger struct{}

func (silentLogger) Infof(string, ...interface{})  {}
func (silentLogger) Errorf(string, ...interface{}) {}
func (silentLogger) Fatalf(string, ...interface{}) {}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func recentKey(fsUUID string) []byte {
	return []byte("fs:" + fsUUID + ":recent")
}

func checkpointKey(fsUUID string) []byte {
	return []byte("fs:" + fsUUID + ":checkpoint")
}

// SaveRecentSet persists the serialized recently-defragmented set for
// filesystem fsUUID (spec §6's "recent" key).
func (s *Store) SaveRecentSet(fsUUID string, data []byte) error {
	return s.db.Set(recentKey(fsUUID), data, pebble.Sync)
}

// LoadRecentSet returns the previously-saved recently-defragmented set, or
// (nil, nil) if none was ever saved.
func (s *Store) LoadRecentSet(fsUUID string) ([]byte, error) {
	v, closer, err := s.db.Get(recentKey(fsUUID))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load recent set: %w", err)
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Checkpoint is the slow-scan loop's resume point (spec §6's "filecounts":
// "map: filesystem_root -> {processed, total}").
type Checkpoint struct {
	Processed int64 `json:"processed"`
	Total     int64 `json:"total"`
}

// SaveCheckpoint persists the slow-scan checkpoint for filesystem fsUUID.
func (s *Store) SaveCheckpoint(fsUUID string, cp Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("store: marshal checkpoint: %w", err)
	}
	return s.db.Set(checkpointKey(fsUUID), data, pebble.Sync)
}

// LoadCheckpoint returns the previously-saved checkpoint, or the zero value
// if none was ever saved (a fresh scan starts from the filesystem root).
func (s *Store) LoadCheckpoint(fsUUID string) (Checkpoint, error) {
	v, closer, err := s.db.Get(checkpointKey(fsUUID))
	if err == pebble.ErrNotFound {
		return Checkpoint{}, nil
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("store: load checkpoint: %w", err)
	}
	defer closer.Close()
	var cp Checkpoint
	if err := json.Unmarshal(v, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("store: unmarshal checkpoint: %w", err)
	}
	return cp, nil
}

// DeleteFilesystem removes every persisted key for fsUUID. The Supervisor
// does not call it when a filesystem disappears, so an unmounted
// filesystem's keys are kept.
func (s *Store) DeleteFilesystem(fsUUID string) error {
	prefix := []byte("fs:" + fsUUID + ":")
	upper := make([]byte, len(prefix))
	copy(upper, prefix)
	upper[len(upper)-1]++
	if err := s.db.DeleteRange(prefix, upper, pebble.Sync); err != nil {
		return fmt.Errorf("store: delete range: %w", err)
	}
	return s.db.Flush()
}
