// Package app provides the top-level application lifecycle for the market
// data service. It wires together all dependencies (exchange client, streams,
// order books, persistence, report generator, RPC surface) and runs them
// until the context is cancelled.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ForgeTrade/mcp-trader-sub000/internal/config"
	"github.com/ForgeTrade/mcp-trader-sub000/internal/domain"
)

// gcInterval is how often badger value log garbage collection runs.
const gcInterval = 5 * time.Minute

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, starts the data
// pipeline and the stdio RPC loop, and blocks until the context is cancelled
// or a subsystem fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("log_level", a.cfg.LogLevel),
		slog.Int("symbols", len(a.cfg.Symbols)),
	)

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	return a.Serve(ctx, deps)
}

// Serve tracks the configured symbols, connects the market data streams and
// runs the persistence, store GC and RPC loops until ctx is cancelled.
func (a *App) Serve(ctx context.Context, deps *Dependencies) error {
	for _, symbol := range a.cfg.Symbols {
		if err := deps.Books.Track(ctx, symbol); err != nil {
			if errors.Is(err, domain.ErrSymbolLimit) {
				return fmt.Errorf("app: track %s: %w", symbol, err)
			}
			// The symbol stays registered; the next read reseeds it.
			a.logger.WarnContext(ctx, "initial bootstrap failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}

	for _, conn := range deps.Streams {
		if err := conn.Connect(ctx); err != nil {
			return fmt.Errorf("app: connect stream %s: %w", conn.Name(), err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Supervisor.Run(ctx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(gcInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				deps.Store.RunGC()
			}
		}
	})

	g.Go(func() error {
		return deps.Server.ServeStdio(ctx, os.Stdin, os.Stdout)
	})

	a.logger.InfoContext(ctx, "application started",
		slog.Int("streams", len(deps.Streams)))
	return g.Wait()
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
