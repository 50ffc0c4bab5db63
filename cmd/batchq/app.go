package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phrazzld/batchq/internal/api"
	"github.com/phrazzld/batchq/internal/config"
	"github.com/phrazzld/batchq/internal/events"
	"github.com/phrazzld/batchq/internal/platform/boltstore"
	"github.com/phrazzld/batchq/internal/platform/filestore"
	"github.com/phrazzld/batchq/internal/platform/logger"
	"github.com/phrazzld/batchq/internal/platform/memstore"
	"github.com/phrazzld/batchq/internal/platform/postgres"
	"github.com/phrazzld/batchq/internal/platform/redisstore"
	"github.com/phrazzld/batchq/internal/task"
)

// application wires configuration, the store backend, the engine, and
// the HTTP surface together.
type application struct {
	cfg    *config.Config
	logger *slog.Logger
	store  task.Store
	runner *task.Runner
	server *http.Server
}

func newApplication() (*application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	log := logger.Setup(cfg.Server)

	store, err := openStore(cfg.Store, log)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Store.Backend, err)
	}

	registry := task.NewRegistry()
	if err := registerBuiltinHandlers(registry); err != nil {
		store.Close()
		return nil, fmt.Errorf("registering handlers: %w", err)
	}

	runner := task.NewRunner(store, registry, task.RunnerConfig{
		Concurrency: cfg.Engine.Concurrency,
		MaxAttempts: cfg.Engine.MaxAttempts,
		Retry: task.RetryPolicy{
			BaseDelay: cfg.Engine.BaseDelay,
			MaxDelay:  cfg.Engine.MaxDelay,
			Jitter:    cfg.Engine.Jitter,
		},
		TaskTimeout:     cfg.Engine.TaskTimeout,
		ShutdownTimeout: cfg.Engine.ShutdownTimeout,
	}, log)

	emitter := events.NewInMemoryEmitter(log)
	emitter.RegisterHandler(events.NewLogObserver(log))
	runner.SetEmitter(emitter)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewRouter(runner, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &application{
		cfg:    cfg,
		logger: log,
		store:  store,
		runner: runner,
		server: server,
	}, nil
}

// openStore builds the persistence backend named by the configuration.
func openStore(cfg config.StoreConfig, log *slog.Logger) (task.Store, error) {
	ctx := context.Background()
	switch cfg.Backend {
	case "file":
		return filestore.Open(cfg.Path, filestore.Options{FlushInterval: cfg.FlushInterval}, log)
	case "memory":
		return memstore.New(), nil
	case "bolt":
		return boltstore.Open(cfg.Path)
	case "postgres":
		return postgres.Open(ctx, cfg.DSN)
	case "redis":
		return redisstore.Open(ctx, cfg.Addr)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// registerBuiltinHandlers installs the smoke-test task types the binary
// ships with. Real deployments embed the engine as a library and
// register their own handlers before Start.
func registerBuiltinHandlers(registry *task.Registry) error {
	if err := registry.Register("echo", func(_ context.Context, payload json.RawMessage) (json.RawMessage, error) {
		return payload, nil
	}); err != nil {
		return err
	}
	return registry.Register("sleep", func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		var req struct {
			DurationMS int `json:"duration_ms"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("decoding sleep payload: %w", err)
		}
		select {
		case <-time.After(time.Duration(req.DurationMS) * time.Millisecond):
			return json.RawMessage(`{"slept": true}`), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

// run starts the engine and HTTP server, then blocks until shutdown.
// The first SIGINT or SIGTERM stops gracefully, letting in-flight
// handlers finish; a second signal forces the stop.
func (a *application) run() error {
	defer a.store.Close()

	if err := a.runner.Start(); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		a.runner.Stop(false)
		return fmt.Errorf("http server failed: %w", err)
	case sig := <-sigCh:
		a.logger.Info("shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Engine.ShutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http server shutdown failed", "error", err)
	}

	stopped := make(chan struct{})
	go func() {
		a.runner.Stop(true)
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-sigCh:
		a.logger.Warn("second signal received, forcing stop")
		a.runner.Stop(false)
	}
	return nil
}
