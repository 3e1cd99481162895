// Package api wires the status HTTP surface: plain net/http + JSON
// endpoints reporting what the daemon is doing, exercised by operators and
// monitoring, not by any other component of the daemon itself.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/pprof"

	"github.com/hoonetorg/btrfs-defrag-core/pkg/config"
	"github.com/hoonetorg/btrfs-defrag-core/pkg/handlers"
	"go.uber.org/fx"
)

var Module = fx.Module("api",
	fx.Provide(
		NewServer,
		handlers.NewHealthHandler,
		handlers.NewStatusHandler,
		handlers.NewFilesystemsHandler,
	),
	fx.Invoke(registerHooks),
)

type Server struct {
	http   *http.Server
	logger *slog.Logger
}

type HandlerParams struct {
	fx.In

	Health      *handlers.HealthHandler
	Status      *handlers.StatusHandler
	Filesystems *handlers.FilesystemsHandler
}

type ServerParams struct {
	fx.In

	Config   *config.Config
	Logger   *slog.Logger
	Handlers HandlerParams
}

func NewServer(p ServerParams) *Server {
	logger := p.Logger.With("component", "api")
	h := p.Handlers

	mux := http.NewServeMux()
	mux.Handle("/healthz", h.Health)
	mux.Handle("/status", h.Status)
	mux.Handle("/filesystems", h.Filesystems)

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	logger.Info("pprof endpoints enabled at /debug/pprof/")

	return &Server{
		http: &http.Server{
			Addr:    p.Config.APIAddress,
			Handler: mux,
		},
		logger: logger,
	}
}

func registerHooks(lc fx.Lifecycle, s *Server) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				s.logger.Info("starting api server", "address", s.http.Addr)
				if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					s.logger.Error("api server error", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			s.logger.Info("stopping api server")
			return s.http.Shutdown(ctx)
		},
	})
}
