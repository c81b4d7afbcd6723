package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nats-io/nats.go"

	"gearboxd/internal/config"
	"gearboxd/internal/datastore"
	"gearboxd/internal/datastore/natskv"
	"gearboxd/internal/datastore/sqlite"
	"gearboxd/internal/gearbox"
	"gearboxd/internal/handler"
	"gearboxd/internal/hardware"
	"gearboxd/internal/hardware/sim"
	"gearboxd/internal/hub"
	"gearboxd/internal/ifname"
	"gearboxd/internal/metric"
	"gearboxd/internal/service"
	"gearboxd/internal/transport/natsrpc"
	"gearboxd/internal/watcher"
)

type serveOptions struct {
	configPath string
	addr       string
}

func runServe(ctx context.Context, opts serveOptions) error {
	cfg, cfgPath, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.addr != "" {
		cfg.HTTP.Addr = opts.addr
	}

	logger := newLogger(cfg, os.Stderr)
	slog.SetDefault(logger)
	if cfgPath == "" {
		logger.Info("No config file found, using defaults")
	} else {
		logger.Info("Config loaded", "path", cfgPath)
	}
	logger.Info("Starting gearboxd", "summary", cfg.Summary())

	var nc *nats.Conn
	if cfg.NeedsNATS() {
		nc, err = nats.Connect(cfg.NATS.URL, nats.Name("gearboxd"))
		if err != nil {
			return fmt.Errorf("connect to NATS %s: %w", cfg.NATS.URL, err)
		}
		defer nc.Drain()
		logger.Info("Connected to NATS", "url", cfg.NATS.URL)
	}

	backend, err := openBackend(ctx, cfg, nc, logger)
	if err != nil {
		return err
	}
	ds, err := datastore.Open(ctx, backend, logger)
	if err != nil {
		backend.Close()
		return err
	}
	defer ds.Close()

	inv, err := sim.LoadInventory(cfg.Hardware.Inventory)
	if err != nil {
		return err
	}
	platform, err := sim.New(inv)
	if err != nil {
		return fmt.Errorf("inventory %s: %w", cfg.Hardware.Inventory, err)
	}

	ifs := ifname.New(platform, hardware.NewHandleCache(), logger)
	for _, rc := range cfg.Interfaces.SynceReferenceClocks {
		ifs.SetReferenceClock(
			ifname.ClockKey{Module: rc.Module, Clock: rc.Clock},
			ifname.ComponentConnection{InputReference: rc.InputReference, DPLL: rc.DPLL},
		)
	}

	registry := metric.NewRegistry()
	metrics := metric.New(registry)
	eventBus := service.NewEventBus()

	engine := gearbox.NewServer(nil, platform, ifs, ds, gearbox.Options{
		PollInterval: cfg.Reconcile.PollInterval.Duration(),
		ReadyTimeout: cfg.Reconcile.ReadyTimeout.Duration(),
		Metrics:      metrics,
		Notify:       eventBus.EngineNotifier(),
	}, logger)
	ds.Subscribe(engine)

	// Modules must match the running configuration before anything can
	// commit or query
	if err := engine.Reconcile(ctx); err != nil {
		return fmt.Errorf("initial reconciliation: %w", err)
	}

	svc := service.NewGearboxService(ds, engine, eventBus, metrics, logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sseHub := hub.New(logger)
	go sseHub.Run(runCtx)

	eventChan := make(chan service.Event, 100)
	eventBus.Subscribe(eventChan)
	go func() {
		for {
			select {
			case event := <-eventChan:
				sseHub.Broadcast(event)
			case <-runCtx.Done():
				return
			}
		}
	}()

	inventoryWatcher := watcher.New(cfg.Hardware.Inventory, func(ctx context.Context) {
		insertModules(ctx, cfg.Hardware.Inventory, platform, svc, logger)
	}, logger)
	go func() {
		if err := inventoryWatcher.Watch(runCtx); err != nil && runCtx.Err() == nil {
			logger.Warn("Inventory watcher stopped", "error", err)
		}
	}()

	if cfg.NATS.RPC.Enabled {
		rpc := natsrpc.NewServer(nc, svc, rpcSubjects(cfg.NATS.RPC), logger)
		if err := rpc.Start(); err != nil {
			return err
		}
		defer rpc.Stop()
	}

	mux := http.NewServeMux()
	handler.NewGearboxHandler(svc, logger).Register(mux)
	mux.Handle("GET /events", sseHub)
	mux.Handle("GET /metrics", metric.Handler(registry))

	server := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: handler.Chain(mux,
			handler.Recover(logger),
			handler.CORS,
			handler.Logger(logger),
		),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
		// no WriteTimeout: /events streams indefinitely
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", "addr", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server shutdown error", "error", err)
	}

	logger.Info("Server stopped")
	return nil
}

func openBackend(ctx context.Context, cfg *config.Config, nc *nats.Conn, logger *slog.Logger) (datastore.Backend, error) {
	switch cfg.Datastore.Backend {
	case config.BackendSQLite:
		b, err := sqlite.New(cfg.Datastore.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		logger.Info("Database opened", "path", cfg.Datastore.SQLite.Path)
		return b, nil
	case config.BackendNATS:
		opts := natskv.DefaultOptions()
		opts.Bucket = cfg.NATS.Bucket
		return natskv.New(ctx, nc, opts, logger)
	default:
		return datastore.NewMemoryBackend(nil), nil
	}
}

func rpcSubjects(rc config.RPCConfig) natsrpc.Subjects {
	subjects := natsrpc.DefaultSubjects()
	if rc.Commit != "" {
		subjects.Commit = rc.Commit
	}
	if rc.Query != "" {
		subjects.Query = rc.Query
	}
	if rc.Resync != "" {
		subjects.Resync = rc.Resync
	}
	return subjects
}

// insertModules adds modules newly listed in the inventory and reconciles
// them
func insertModules(ctx context.Context, path string, platform *sim.Platform, svc *service.GearboxService, logger *slog.Logger) {
	inv, err := sim.LoadInventory(path)
	if err != nil {
		logger.Warn("Failed to reload inventory", "error", err)
		return
	}
	added, err := platform.Insert(inv)
	if err != nil {
		logger.Warn("Inventory rejected", "error", err)
		return
	}
	if len(added) == 0 {
		return
	}
	logger.Info("Modules inserted", "modules", added)
	if err := svc.Resync(ctx); err != nil {
		logger.Error("Resync after insert failed", "error", err)
	}
}
