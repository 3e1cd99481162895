// Package supervisor implements the Supervisor component (spec §4.6): it
// periodically rediscovers managed Btrfs filesystems, starts and stops one
// Orchestrator per filesystem as mounts come and go, and routes the shared
// fatrace write-event stream to whichever orchestrator owns the event's
// path.
package supervisor

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hoonetorg/btrfs-defrag-core/pkg/config"
	"github.com/hoonetorg/btrfs-defrag-core/pkg/costmodel"
	"github.com/hoonetorg/btrfs-defrag-core/pkg/db"
	"github.com/hoonetorg/btrfs-defrag-core/pkg/extcmd"
	"github.com/hoonetorg/btrfs-defrag-core/pkg/extentmap"
	"github.com/hoonetorg/btrfs-defrag-core/pkg/mount"
	"github.com/hoonetorg/btrfs-defrag-core/pkg/orchestrator"
	"github.com/hoonetorg/btrfs-defrag-core/pkg/store"
	"go.uber.org/fx"
)

// FSDetectPeriod is FS_DETECT_PERIOD (spec §4.6).
const FSDetectPeriod = 60 * time.Second

// MountTablePath is where the kernel mount table is read from.
const MountTablePath = "/proc/mounts"

// Params are the fx-injected collaborators the Supervisor shares across
// every managed filesystem's Orchestrator.
type Params struct {
	fx.In

	Config   *config.Config
	DB       *db.DB
	Store    *store.Store
	Logger   *slog.Logger
}

// managed is one currently-running orchestrator and its bookkeeping.
type managed struct {
	orch       *orchestrator.Orchestrator
	mountpoint string
	cancel     context.CancelFunc
	done       chan struct{}
}

// Supervisor discovers managed filesystems and owns their Orchestrators.
type Supervisor struct {
	deps   orchestrator.Deps
	logger *slog.Logger
	fatrace *extcmd.FatraceSource

	mu       sync.RWMutex
	byUUID   map[string]*managed
	mounted  map[string]bool // every current btrfs mountpoint, for foreignMountChecker's membership check
	routes   []route         // longest-prefix-first, rebuilt each detection cycle
}

// route maps one mountpoint prefix to the orchestrator responsible for it.
type route struct {
	prefix string
	orch   *orchestrator.Orchestrator
}

// New constructs a Supervisor. Run must be called to start the detection
// loop and write-event routing.
func New(p Params) *Supervisor {
	logger := p.Logger.With("component", "supervisor")
	model := costmodel.New(p.Config.DriveCount)
	return &Supervisor{
		deps: orchestrator.Deps{
			Config:   p.Config,
			Model:    model,
			Parser:   extentmap.New(model, logger),
			Filefrag: extcmd.NewFilefragLister(),
			Defrag:   extcmd.NewDefragmenter(),
			Store:    p.Store,
			DB:       p.DB,
			Logger:   p.Logger,
		},
		logger:  logger,
		fatrace: extcmd.NewFatraceSource(config.AppName, logger),
		byUUID:  make(map[string]*managed),
		mounted: make(map[string]bool),
	}
}

// Run blocks until ctx is canceled: it runs the FS_DETECT_PERIOD rescan
// loop and the shared fatrace write-event stream concurrently, then stops
// every managed orchestrator before returning.
func (s *Supervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.fatrace.Run(ctx, s.routeWriteEvent)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.detectLoop(ctx)
	}()

	wg.Wait()

	s.mu.Lock()
	for uuid, m := range s.byUUID {
		m.cancel()
		delete(s.byUUID, uuid)
	}
	s.mu.Unlock()
}

func (s *Supervisor) detectLoop(ctx context.Context) {
	s.detect(ctx)
	ticker := time.NewTicker(FSDetectPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.waitForManaged()
			return
		case <-ticker.C:
			s.detect(ctx)
		}
	}
}

func (s *Supervisor) waitForManaged() {
	s.mu.RLock()
	dones := make([]chan struct{}, 0, len(s.byUUID))
	for _, m := range s.byUUID {
		dones = append(dones, m.done)
	}
	s.mu.RUnlock()
	for _, done := range dones {
		<-done
	}
}

// detect re-scans the mount table, qualifies top volumes not mounted
// autodefrag, starts orchestrators for newly-qualifying mounts, stops
// orchestrators for mounts that disappeared, and asks survivors to
// re-detect their mount options (spec §4.6).
func (s *Supervisor) detect(ctx context.Context) {
	entries, err := mount.ReadMountTable(MountTablePath)
	if err != nil {
		s.logger.Warn("reading mount table failed", "error", err)
		return
	}

	mounted := make(map[string]bool, len(entries))
	for _, e := range entries {
		mounted[e.Mountpoint] = true
	}

	seenUUIDs := make(map[string]bool)

	for _, e := range entries {
		if e.Autodefrag {
			continue
		}
		top, err := mount.IsTopVolume(ctx, e.Mountpoint, mounted)
		if err != nil {
			s.logger.Debug("top-volume check failed", "mountpoint", e.Mountpoint, "error", err)
			continue
		}
		if !top {
			continue
		}

		identity, err := mount.GetFilesystemIdentity(e.Mountpoint)
		if err != nil {
			s.logger.Warn("resolving filesystem identity failed", "mountpoint", e.Mountpoint, "error", err)
			continue
		}
		seenUUIDs[identity.UUID] = true

		s.mu.Lock()
		m, exists := s.byUUID[identity.UUID]
		s.mu.Unlock()

		if exists {
			m.orch.RefreshMountOptions(e)
			if m.mountpoint != e.Mountpoint {
				m.mountpoint = e.Mountpoint
				if row, err := s.deps.DB.GetFilesystemByUUID(identity.UUID); err == nil {
					if err := s.deps.DB.UpdateFilesystemPath(row.ID, e.Mountpoint); err != nil {
						s.logger.Warn("updating tracked filesystem path failed", "error", err)
					}
				}
			}
			continue
		}

		s.start(ctx, identity.UUID, e)
	}

	s.mu.Lock()
	for uuid, m := range s.byUUID {
		if !seenUUIDs[uuid] {
			s.logger.Info("filesystem disappeared, stopping orchestrator", "fs_uuid", uuid, "mountpoint", m.mountpoint)
			m.cancel()
			delete(s.byUUID, uuid)
		}
	}
	s.mounted = mounted
	s.rebuildRoutesLocked()
	s.mu.Unlock()
}

// start resolves or creates the filesystem's tracked_filesystems row and
// launches its Orchestrator in its own cancelable goroutine.
func (s *Supervisor) start(ctx context.Context, uuid string, entry mount.Entry) {
	row, err := s.deps.DB.GetFilesystemByUUID(uuid)
	if err != nil {
		row, err = s.deps.DB.AddFilesystem(uuid, entry.Mountpoint, "")
		if err != nil {
			s.logger.Error("tracking new filesystem failed", "fs_uuid", uuid, "error", err)
			return
		}
	} else if row.Path != entry.Mountpoint {
		if err := s.deps.DB.UpdateFilesystemPath(row.ID, entry.Mountpoint); err != nil {
			s.logger.Warn("updating tracked filesystem path failed", "error", err)
		}
	}

	foreign := s.foreignMountChecker(uuid)
	orch, err := orchestrator.New(s.deps, uuid, row.ID, entry, foreign)
	if err != nil {
		s.logger.Error("constructing orchestrator failed", "fs_uuid", uuid, "error", err)
		return
	}

	childCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m := &managed{orch: orch, mountpoint: entry.Mountpoint, cancel: cancel, done: done}

	s.mu.Lock()
	s.byUUID[uuid] = m
	s.mu.Unlock()

	s.logger.Info("starting orchestrator", "fs_uuid", uuid, "mountpoint", entry.Mountpoint)
	go func() {
		defer close(done)
		orch.Run(childCtx)
	}()
}

// foreignMountChecker returns a closure reporting whether absPath is a
// current mountpoint other than uuid's own managed mountpoint (spec §4.5's
// slow scan must not descend into foreign mounts). Every other mountpoint
// counts as foreign, including mounts of the same filesystem's subvolumes.
func (s *Supervisor) foreignMountChecker(uuid string) orchestrator.ForeignMountChecker {
	return func(absPath string) bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if !s.mounted[absPath] {
			return false
		}
		if m, ok := s.byUUID[uuid]; ok && m.mountpoint == absPath {
			return false
		}
		return true
	}
}

// Snapshots returns the current status of every managed orchestrator, for
// the status HTTP surface.
func (s *Supervisor) Snapshots() []orchestrator.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]orchestrator.Snapshot, 0, len(s.byUUID))
	for _, m := range s.byUUID {
		out = append(out, m.orch.Snapshot())
	}
	return out
}

// rebuildRoutesLocked recomputes the mountpoint->orchestrator routing
// table, longest prefix first, so routeWriteEvent's first match is always
// the most specific one. Callers must hold s.mu.
func (s *Supervisor) rebuildRoutesLocked() {
	routes := make([]route, 0, len(s.byUUID))
	for _, m := range s.byUUID {
		routes = append(routes, route{prefix: m.mountpoint, orch: m.orch})
	}
	for i := 1; i < len(routes); i++ {
		for j := i; j > 0 && len(routes[j].prefix) > len(routes[j-1].prefix); j-- {
			routes[j], routes[j-1] = routes[j-1], routes[j]
		}
	}
	s.routes = routes
}

// routeWriteEvent finds the managed filesystem whose mountpoint is the
// longest prefix of the event's path and forwards it (spec §4.6: "find the
// managed filesystem whose root is a prefix of the path ... route the
// event via file_written_to").
func (s *Supervisor) routeWriteEvent(ev extcmd.WriteEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.routes {
		if isUnderMount(r.prefix, ev.Path) {
			r.orch.FileWrittenTo(toRoutedShortPath(r.prefix, ev.Path))
			return
		}
	}
}

func isUnderMount(mountpoint, absPath string) bool {
	if mountpoint == "/" {
		return true
	}
	return absPath == mountpoint || strings.HasPrefix(absPath, mountpoint+"/")
}

func toRoutedShortPath(mountpoint, absPath string) string {
	rel, err := filepath.Rel(mountpoint, absPath)
	if err != nil {
		return absPath
	}
	return rel
}

// Module wires the Supervisor into the daemon's fx graph, starting Run in
// the background on OnStart and canceling it on OnStop.
var Module = fx.Module("supervisor",
	fx.Provide(New),
	fx.Invoke(register),
)

func register(lc fx.Lifecycle, s *Supervisor) {
	var cancel context.CancelFunc
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var runCtx context.Context
			runCtx, cancel = context.WithCancel(context.Background())
			go s.Run(runCtx)
			return nil
		},
		OnStop: func(context.Context) error {
			if cancel != nil {
				cancel()
			}
			return nil
		},
	})
}
