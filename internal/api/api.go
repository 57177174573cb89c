// Package api provides HTTP handlers and the main server logic for
// hapticd.
//
// It exposes RESTful endpoints for submitting and cancelling vibrations,
// inspecting devices and history, and changing intensity settings, plus a
// websocket stream of vibration lifecycle events. The API integrates the
// manager, scheduler, and store modules.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/haptickit/hapticd/internal/hal"
	"github.com/haptickit/hapticd/internal/manager"
	"github.com/haptickit/hapticd/internal/scheduler"
	"github.com/haptickit/hapticd/internal/store"
)

// Default server configuration constants
const (
	// DefaultAddr is the default API listen address
	DefaultAddr = ":8080"
	// DefaultPruneCron runs the history prune daily at 03:00
	DefaultPruneCron = "0 3 * * *"
	// DefaultShutdownTimeout bounds graceful HTTP shutdown
	DefaultShutdownTimeout = 5 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr             string
	FakeActuators    int
	PruneCron        string
	HistoryRetention time.Duration
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the API server listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithFakeActuators registers the given number of simulated actuators at
// startup, for demo deployments without real hardware.
func WithFakeActuators(n int) Option {
	return func(o *Opts) { o.FakeActuators = n }
}

// WithPruneCron sets the cron expression for the history prune job.
func WithPruneCron(expr string) Option {
	return func(o *Opts) { o.PruneCron = expr }
}

// WithHistoryRetention sets how long vibration records are kept.
func WithHistoryRetention(d time.Duration) Option {
	return func(o *Opts) { o.HistoryRetention = d }
}

// Server wires the manager, store, and scheduler behind HTTP handlers.
type Server struct {
	mgr   *manager.Manager
	st    store.Store
	sched *scheduler.Scheduler
	hub   *eventHub
	opts  Opts
}

// NewServer creates an API server around an already-built manager.
func NewServer(mgr *manager.Manager, st store.Store, sched *scheduler.Scheduler, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.PruneCron == "" {
		cfg.PruneCron = DefaultPruneCron
	}
	s := &Server{mgr: mgr, st: st, sched: sched, hub: newEventHub(), opts: cfg}
	mgr.AddListener(s.hub.BroadcastVibration)
	return s
}

// Routes registers all handlers on a fresh mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/vibrate", s.vibrateHandler)
	mux.HandleFunc("/cancel", s.cancelHandler)
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/devices", s.devicesHandler)
	mux.HandleFunc("/vibrations", s.vibrationsHandler)
	mux.HandleFunc("/settings/intensity", s.intensityHandler)
	mux.HandleFunc("/settings/adaptive-scale", s.adaptiveScaleHandler)
	mux.HandleFunc("/external-control", s.externalControlHandler)
	mux.HandleFunc("/events", s.eventsHandler)
	return mux
}

// Run builds the full service from options and blocks until shutdown.
func Run(storeOpts []store.Option, mgrOpts []manager.Option, apiOpts []Option) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := buildStore(storeOpts)
	if err != nil {
		return fmt.Errorf("failed to build store: %w", err)
	}
	defer st.Close()

	mgr := manager.New(st, mgrOpts...)

	var cfg Opts
	for _, opt := range apiOpts {
		opt(&cfg)
	}
	for i := 0; i < cfg.FakeActuators; i++ {
		dev := hal.NewFakeDevice(hal.DefaultFakeInfo(i))
		dev.SetAutoNotify(true)
		if err := mgr.AddDevice(ctx, i, dev); err != nil {
			return fmt.Errorf("failed to register fake actuator %d: %w", i, err)
		}
	}

	if err := mgr.Start(ctx); err != nil {
		return err
	}
	defer mgr.Stop()

	sched := scheduler.NewScheduler()
	defer sched.Stop()

	srv := NewServer(mgr, st, sched, apiOpts...)
	if err := sched.ScheduleHistoryPrune(srv.opts.PruneCron, srv.opts.HistoryRetention, mgr.PruneHistory); err != nil {
		return fmt.Errorf("failed to schedule history prune: %w", err)
	}

	httpSrv := &http.Server{Addr: srv.opts.Addr, Handler: srv.Routes()}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("hapticd API running", "addr", srv.opts.Addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("HTTP shutdown failed", "error", err)
		}
	}
	return nil
}

func buildStore(opts []store.Option) (store.Store, error) {
	var cfg store.Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Debug("No database DSN provided, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(cfg.DSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_set", true)
		return store.NewPostgresStore(opts...)
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", cfg.DSN)
	return store.NewSQLiteStore(opts...)
}
