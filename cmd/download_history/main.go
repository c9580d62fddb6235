package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/download_history/internal/cleanup"
	"github.com/italolelis/download_history/internal/config"
	"github.com/italolelis/download_history/internal/history"
	"github.com/italolelis/download_history/internal/http/rest"
	"github.com/italolelis/download_history/internal/logctx"
	"github.com/italolelis/download_history/internal/manager"
	"github.com/italolelis/download_history/internal/notifier"
	"github.com/italolelis/download_history/internal/storage"
	"github.com/italolelis/download_history/internal/storage/bolt"
	"github.com/italolelis/download_history/internal/storage/sqlite"
	"github.com/italolelis/download_history/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

// version is set at build time.
var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := logctx.NewLogger(os.Stdout, cfg.SlogLevel())
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("download history starting...", "log_level", cfg.LogLevel, "version", version)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := tel.Shutdown(ctx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	if h := tel.LogHandler(); h != nil {
		logger = logctx.NewLogger(os.Stdout, cfg.SlogLevel(), h)
		slog.SetDefault(logger)
		ctx = logctx.WithLogger(ctx, logger)
	}

	// =========================================================================
	// Start Database
	repo, closeRepo, err := buildRepository(ctx, cfg)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer closeRepo()

	dr := storage.NewInstrumentedDownloadRepository(repo, cfg.StorageMode, tel)

	// =========================================================================
	// Start History Engine
	loop := history.NewLoop()
	store := storage.NewAsyncStore(dr)
	mgr := manager.New(manager.WithLogger(logger))

	engine := history.NewEngine(loop, mgr, store,
		history.WithLogger(logger),
		history.WithTelemetry(tel),
		history.WithLoadPlanner(cleanup.Policy{
			DedupOverwritten:     cfg.DedupOverwritten,
			OverwrittenRetention: cfg.OverwrittenRetention,
			DeleteExpired:        cfg.DeleteExpired,
			ExpiredRetention:     cfg.ExpiredRetention,
		}),
	)

	// The loop and the store worker outlive the request context so the
	// engine can be closed and pending writes drained after shutdown starts.
	workerCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWorkers()

	workers, workerCtx := errgroup.WithContext(workerCtx)
	workers.Go(func() error { return loop.Run(workerCtx) })
	workers.Go(func() error { return store.Run(workerCtx) })

	// =========================================================================
	// Start Notification
	if cfg.DiscordWebhookURL != "" {
		obs := notifier.NewHistoryObserver(notifier.NewDiscordNotifier(cfg.DiscordWebhookURL))
		workers.Go(func() error { return obs.Run(workerCtx) })

		if err := loop.Do(ctx, func() { engine.AddObserver(obs) }); err != nil {
			return fmt.Errorf("failed to register notifier: %w", err)
		}
	}

	if err := loop.Do(ctx, func() {
		engine.Initialize()
		mgr.SetReady()
	}); err != nil {
		return fmt.Errorf("failed to initialize history: %w", err)
	}

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	handler := rest.NewHistoryHandler(cfg.API.Username, cfg.API.Password, loop, mgr, engine, dr)
	server := setupServer(ctx, cfg, handler, tel)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress, "storage_mode", cfg.StorageMode)
		serverErrors <- server.ListenAndServe()
	}()

	var runErr error

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				runErr = fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}
	}

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
	defer cancel()

	if err := loop.Do(closeCtx, engine.Close); err != nil {
		logger.Error("failed to close history engine", "err", err)
	}

	stopWorkers()

	if err := workers.Wait(); err != nil {
		return errors.Join(runErr, err)
	}

	return runErr
}

// This is an abstract factory for the history repository.
func buildRepository(ctx context.Context, cfg *config.Config) (storage.DownloadRepository, func(), error) {
	switch cfg.StorageMode {
	case "sqlite":
		db, err := sqlite.InitDB(ctx, cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}

		return sqlite.NewDownloadRepository(db), func() { db.Close() }, nil
	case "bolt":
		repo, err := bolt.Open(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}

		return repo, func() { repo.Close() }, nil
	}

	return nil, nil, fmt.Errorf("invalid storage mode: %s", cfg.StorageMode)
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, cfg *config.Config, handler *rest.HistoryHandler, tel *telemetry.Telemetry) *http.Server {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Handle("/metrics", tel.Handler())
	r.Mount("/", handler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, cfg.Telemetry.ServiceName),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
