// Package supervisor wires every subsystem into a single running
// process: the on-disk stores, the Registry, the Hook Ingest poller, the
// Auto-Continue Scheduler, the Lifecycle Manager, and the RPC
// Dispatcher's HTTP server, each running on its own goroutine.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bazelment/ccmaster/internal/config"
	"github.com/bazelment/ccmaster/internal/hooks"
	"github.com/bazelment/ccmaster/internal/jobqueue"
	"github.com/bazelment/ccmaster/internal/launcher"
	"github.com/bazelment/ccmaster/internal/lifecycle"
	"github.com/bazelment/ccmaster/internal/mailbox"
	"github.com/bazelment/ccmaster/internal/registry"
	"github.com/bazelment/ccmaster/internal/rpc"
	"github.com/bazelment/ccmaster/internal/scheduler"
	"github.com/bazelment/ccmaster/internal/status"
)

// Supervisor owns every long-lived subsystem and the HTTP server that
// exposes the RPC Tool Dispatcher to Bridge processes.
type Supervisor struct {
	cfg config.Config
	log *slog.Logger

	Status   *status.Store
	Mail     *mailbox.Store
	Jobs     *jobqueue.Store
	Registry *registry.Registry
	Hooks    *hooks.Ingest
	Scheduler *scheduler.Scheduler
	Lifecycle *lifecycle.Manager
	Dispatcher *rpc.Dispatcher

	server *http.Server
}

// New constructs every component and wires their dependencies, but starts
// nothing: callers invoke Run to begin serving and polling.
func New(cfg config.Config, log *slog.Logger) (*Supervisor, error) {
	if log == nil {
		log = slog.Default()
	}

	statusStore, err := status.New(cfg.StatusDir())
	if err != nil {
		return nil, fmt.Errorf("supervisor: status store: %w", err)
	}
	mailStore, err := mailbox.New(cfg.MailDir())
	if err != nil {
		return nil, fmt.Errorf("supervisor: mailbox store: %w", err)
	}
	jobStore, err := jobqueue.New(cfg.JobsDir())
	if err != nil {
		return nil, fmt.Errorf("supervisor: job queue store: %w", err)
	}

	reg := registry.New(cfg.SnapshotPath())
	if err := reg.LoadSnapshot(); err != nil {
		log.Warn("registry snapshot load failed, starting empty", "err", err)
	}

	ptyLauncher := launcher.NewPTYLauncher()
	ingest := hooks.New(statusStore, cfg.PollInterval, log)
	sched := scheduler.New(reg, ptyLauncher, cfg.ContinuePayload, log)
	rpcEndpoint := fmt.Sprintf("http://%s/rpc", cfg.ListenAddr)
	lifecycleMgr := lifecycle.New(reg, statusStore, ptyLauncher, ptyLauncher, sched, log, "ccmaster", rpcEndpoint)

	deps := &rpc.Deps{
		Registry:  reg,
		Lifecycle: lifecycleMgr,
		Scheduler: sched,
		Mail:      mailStore,
		Jobs:      jobStore,
		LogsDir:   cfg.LogsDir,
		Log:       log,
	}
	dispatcher := rpc.NewDispatcher(deps, log)

	return &Supervisor{
		cfg:        cfg,
		log:        log.With("component", "supervisor"),
		Status:     statusStore,
		Mail:       mailStore,
		Jobs:       jobStore,
		Registry:   reg,
		Hooks:      ingest,
		Scheduler:  sched,
		Lifecycle:  lifecycleMgr,
		Dispatcher: dispatcher,
	}, nil
}

// Run starts the Hook Ingest poller, the Auto-Continue Scheduler consumer,
// and the HTTP server, and blocks until ctx is cancelled. It then shuts the
// HTTP server down gracefully before returning.
func (s *Supervisor) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", s.Dispatcher.Handler())
	s.server = &http.Server{Addr: s.cfg.ListenAddr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("rpc dispatcher listening", "addr", s.cfg.ListenAddr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("supervisor: http server: %w", err)
			return
		}
		errCh <- nil
	}()

	go s.Hooks.Run(ctx)
	go s.Scheduler.Run(ctx, s.Hooks.Events())

	select {
	case <-ctx.Done():
		s.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
