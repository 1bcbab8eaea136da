// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/roster/internal/api"
	"github.com/starford/roster/internal/cache"
	"github.com/starford/roster/internal/fetcher"
	"github.com/starford/roster/internal/fetchqueue"
	"github.com/starford/roster/internal/index"
	"github.com/starford/roster/internal/mcpserver"
	"github.com/starford/roster/internal/models"
	"github.com/starford/roster/internal/recordservice"
	"github.com/starford/roster/internal/sse"
	"github.com/starford/roster/internal/storage"
)

const shutdownGrace = 10 * time.Second

// runtime holds the components shared by every entry point.
type runtime struct {
	logger   *slog.Logger
	closeLog func()
	store    *cache.Store
	doc      *storage.Document
	db       *index.DB
	pool     *fetchqueue.Pool
	svc      *recordservice.Service
}

func newApplication(opts []Option) (*application, error) {
	app := &application{version: "dev"}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// open builds the storage, cache, index, fetcher, pool and record service.
// The pool is not started.
func (a *application) open(defaultConsole io.Writer, svcOpts ...recordservice.Option) (*runtime, error) {
	cfg := a.config
	console := a.console
	if console == nil {
		console = defaultConsole
	}

	logger, closeLog := newLogger(cfg.App, console)
	rt := &runtime{logger: logger, closeLog: closeLog}

	store, err := cache.New(cfg.Cache.Dir, logger)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("init cache: %w", err)
	}
	rt.store = store

	doc, err := storage.NewDocument(cfg.Data.Path, logger)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	rt.doc = doc

	db, err := index.Open(cfg.Cache.IndexPath)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("init index: %w", err)
	}
	rt.db = db

	f := fetcher.New(store,
		fetcher.WithTimeout(cfg.Fetch.Timeout),
		fetcher.WithUserAgent(cfg.Fetch.UserAgent),
		fetcher.WithLogger(logger),
	)
	rt.pool = fetchqueue.New(cfg.Fetch.Workers, cfg.Fetch.QueueSize, logger)

	opts := append([]recordservice.Option{
		recordservice.WithIndex(db),
		recordservice.WithLogger(logger),
	}, svcOpts...)
	rt.svc = recordservice.NewService(doc, store, f, rt.pool, opts...)
	return rt, nil
}

func (rt *runtime) close() {
	if rt.db != nil {
		if err := rt.db.Close(); err != nil {
			rt.logger.Warn("index: close failed", slog.String("error", err.Error()))
		}
	}
	rt.closeLog()
}

// stopPool lets queued fetches finish within the grace period and cancels
// whatever is still running after that.
func (rt *runtime) stopPool(grace time.Duration) {
	done := make(chan struct{})
	go func() {
		rt.pool.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		rt.logger.Warn("queue: grace period expired, cancelling fetches")
		rt.pool.Stop()
		<-done
	}
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	rt, err := app.open(os.Stdout,
		recordservice.WithNotifier(broker),
		recordservice.WithRetryMissing(cfg.Fetch.RetryMissingOnLoad),
	)
	if err != nil {
		return err
	}
	defer rt.close()

	logger := rt.logger
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("version", app.version),
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("data_path", rt.doc.Path()),
		slog.String("cache_dir", rt.store.Dir()),
		slog.String("index_path", cfg.Cache.IndexPath),
		slog.Int("fetch_workers", cfg.Fetch.Workers),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Run initial sync.
	if err := index.Sync(rt.db, rt.store, logger); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	rt.pool.Start(context.Background())
	rt.svc.Load(ctx)

	apiRouter := api.NewRouter(rt.svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, _, err := rt.db.Totals(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"index unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Keep the index and live clients in step with the cache directory.
	g.Go(func() error {
		err := index.Watch(gCtx, rt.db, rt.store, logger, func(kind, path string) {
			if kind == "deleted" {
				rt.svc.ForgetImage(path)
			}
			broker.PublishFileEvent(kind, path)
		})
		if err != nil {
			logger.Error("watcher failed", slog.String("error", err.Error()))
		}
		return nil
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		rt.stopPool(shutdownGrace)

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so the watcher stops with the server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools over stdio. Logs go to stderr so stdout stays
// reserved for the protocol.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	rt, err := app.open(os.Stderr, recordservice.WithRetryMissing(cfg.Fetch.RetryMissingOnLoad))
	if err != nil {
		return err
	}
	defer rt.close()
	slog.SetDefault(rt.logger)

	if err := index.Sync(rt.db, rt.store, rt.logger); err != nil {
		rt.logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	rt.pool.Start(context.Background())
	defer rt.stopPool(shutdownGrace)
	rt.svc.Load(ctx)

	rt.logger.Info("MCP server starting", slog.String("version", app.version))
	return mcpserver.New(rt.svc, app.version).ServeStdio()
}

// CacheInfo reports the cache directory contents without starting any
// background work.
func CacheInfo(ctx context.Context, opts ...Option) (models.CacheInfo, error) {
	app, err := newApplication(opts)
	if err != nil {
		return models.CacheInfo{}, err
	}
	rt, err := app.open(os.Stderr)
	if err != nil {
		return models.CacheInfo{}, err
	}
	defer rt.close()
	return rt.svc.CacheInfo(ctx), nil
}

// ClearCache removes every cached image and forgets the image of every
// record in the document.
func ClearCache(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	rt, err := app.open(os.Stderr)
	if err != nil {
		return err
	}
	defer rt.close()

	rt.svc.Load(ctx)
	return rt.svc.ClearCache(ctx)
}

// SyncCache rebuilds the cache-entry index from disk and returns the
// resulting totals.
func SyncCache(_ context.Context, opts ...Option) (int, int64, error) {
	app, err := newApplication(opts)
	if err != nil {
		return 0, 0, err
	}
	rt, err := app.open(os.Stderr)
	if err != nil {
		return 0, 0, err
	}
	defer rt.close()

	if err := index.Sync(rt.db, rt.store, rt.logger); err != nil {
		return 0, 0, fmt.Errorf("sync index: %w", err)
	}
	return rt.db.Totals()
}
