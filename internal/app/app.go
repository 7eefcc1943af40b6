// Package app wires configuration, stores, caches, the market data gateway,
// the tick router, the strategy runtime, and the execution pipeline into a
// running engine, and owns the ordered shutdown sequence.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/polyquant/tradebot/internal/config"
)

// App is the root application object. It owns the configuration, logger, and
// cleanup functions called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, builds the engine, and blocks until the context
// is cancelled and the pipeline has drained.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting engine",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	engine, err := newEngine(ctx, a.cfg, deps, a.logger)
	if err != nil {
		return err
	}
	return engine.Run(ctx)
}

// Close tears down all resources in reverse registration order. Safe to call
// multiple times.
func (a *App) Close() {
	a.logger.Info("shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
