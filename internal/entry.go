// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/nken-eccs/gitrefer/internal/api"
	"github.com/nken-eccs/gitrefer/internal/extract"
	"github.com/nken-eccs/gitrefer/internal/mcpserver"
	"github.com/nken-eccs/gitrefer/internal/refstore"
	"github.com/nken-eccs/gitrefer/internal/remotetree"
)

// App bundles the wired components every run mode needs: the reference
// store over the remote tree, the metadata extractor, and the logger.
type App struct {
	Config    *Config
	Logger    *slog.Logger
	Store     *refstore.Store
	Extractor extract.Extractor
}

// NewApp wires the application components from the given options.
func NewApp(opts ...Option) (*App, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	tree := app.tree
	if tree == nil {
		github, err := remotetree.NewGitHub(remotetree.GitHubConfig{
			Repo:    cfg.GitHub.Repo,
			Token:   cfg.GitHub.Token,
			Branch:  cfg.GitHub.Branch,
			BaseURL: cfg.GitHub.BaseURL,
			Logger:  logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init remote tree: %w", err)
		}
		tree = github
	}
	tree = remotetree.WithRetry(tree, remotetree.RetryPolicy{
		MaxAttempts: cfg.Store.TransportRetries,
		BaseDelay:   cfg.Store.TransportBackoff(),
		Logger:      logger,
	})

	store, err := refstore.New(refstore.Config{
		Tree:            tree,
		Root:            cfg.Store.Root,
		ConflictRetries: cfg.Store.ConflictRetries,
		ConflictBackoff: cfg.Store.ConflictBackoff(),
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	resolver := extract.NewResolver(extract.ResolverConfig{
		CrossrefBaseURL: cfg.Extract.CrossrefBaseURL,
		DataCiteBaseURL: cfg.Extract.DataCiteBaseURL,
		Logger:          logger,
	})

	return &App{
		Config:    cfg,
		Logger:    logger,
		Store:     store,
		Extractor: resolver,
	}, nil
}

// Run starts the HTTP server and blocks until shutdown.
func Run(ctx context.Context, opts ...Option) error {
	app, err := NewApp(opts...)
	if err != nil {
		return err
	}
	cfg, logger := app.Config, app.Logger

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("repo", cfg.GitHub.Repo),
		slog.String("store_root", cfg.Store.Root),
		slog.String("log_level", cfg.App.LogLevel.String()))

	apiRouter := api.NewRouter(app.Store, cfg.Auth.AuthEnabled(), cfg.Auth.Token)

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
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP starts the MCP server on stdio and blocks until the transport
// closes.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := NewApp(opts...)
	if err != nil {
		return err
	}
	app.Logger.Info("MCP server starting on stdio",
		slog.String("repo", app.Config.GitHub.Repo))
	srv := mcpserver.New(app.Store)
	return srv.ServeStdio()
}
