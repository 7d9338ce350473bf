// Package app wires the pipeline components from configuration and runs the
// selected mode once. Every invocation is a single batch run labelled by a
// fresh domain.RunInfo.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/polyledger/internal/config"
	"github.com/alanyoungcy/polyledger/internal/domain"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	force   bool
	now     func() time.Time
	closers []func()
}

// Option configures an App.
type Option func(*App)

// WithForce lets migrate mode overwrite existing Parquet tables.
func WithForce(force bool) Option {
	return func(a *App) { a.force = force }
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *App {
	a := &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewRun returns the identity of a new batch run.
func (a *App) NewRun() domain.RunInfo {
	return domain.RunInfo{ID: uuid.NewString(), StartedAt: a.now().UTC()}
}

// Run wires dependencies and executes the configured mode once.
func (a *App) Run(ctx context.Context) error {
	run := a.NewRun()
	mode := strings.ToLower(a.cfg.Mode)
	a.logger.InfoContext(ctx, "starting run",
		slog.String("mode", mode),
		slog.String("run_id", run.ID),
		slog.String("run", run.Label()),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch mode {
	case "update":
		return a.UpdateMode(ctx, deps, run)
	case "process":
		return a.ProcessMode(ctx, deps, run)
	case "markets":
		return a.MarketsMode(ctx, deps, run)
	case "goldsky":
		return a.GoldskyMode(ctx, deps, run)
	case "migrate":
		return a.MigrateMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
