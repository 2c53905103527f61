package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ForgeTrade/mcp-trader-sub000/internal/book"
	"github.com/ForgeTrade/mcp-trader-sub000/internal/config"
	"github.com/ForgeTrade/mcp-trader-sub000/internal/domain"
	"github.com/ForgeTrade/mcp-trader-sub000/internal/exchange"
	"github.com/ForgeTrade/mcp-trader-sub000/internal/mcp"
	"github.com/ForgeTrade/mcp-trader-sub000/internal/persist"
	"github.com/ForgeTrade/mcp-trader-sub000/internal/ratelimit"
	"github.com/ForgeTrade/mcp-trader-sub000/internal/report"
	"github.com/ForgeTrade/mcp-trader-sub000/internal/store"
	"github.com/ForgeTrade/mcp-trader-sub000/internal/stream"
)

// Dependencies bundles every component the application needs to serve. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Limiter    *ratelimit.Limiter
	Exchange   *exchange.Client
	Store      *store.Store
	Books      *book.Maintainer
	Supervisor *persist.Supervisor
	Reports    *report.Generator
	Server     *mcp.Server

	// Streams holds one connection per configured symbol and channel
	// (depth and aggTrade). Connections are established in Serve.
	Streams []*stream.Conn
}

// Wire constructs all concrete dependencies from the given configuration and
// returns them together with a cleanup function that should be called on
// shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- REST client ---
	deps.Limiter = ratelimit.New(
		cfg.RateLimit.RequestsPerMinute,
		cfg.RateLimit.QueueTimeout.Duration,
		logger,
	)
	deps.Exchange = exchange.New(
		cfg.Exchange.RestBaseURL,
		cfg.Exchange.ApiKey,
		cfg.Exchange.ApiSecret,
		cfg.Exchange.RecvWindow,
		cfg.Exchange.Timeout.Duration,
		deps.Limiter,
		logger,
	)
	if _, err := deps.Exchange.ServerTime(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: exchange connectivity: %w", err)
	}

	// --- Embedded store ---
	st, err := store.Open(cfg.Storage.DataDir, cfg.Storage.SizeLimitBytes, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: store: %w", err)
	}
	closers = append(closers, func() { _ = st.Close() })
	deps.Store = st

	// --- Live books and persistence ---
	deps.Books = book.NewMaintainer(
		deps.Exchange,
		cfg.Book.SymbolCap,
		cfg.Book.StalenessThresholdMs,
		logger,
	)
	deps.Supervisor = persist.NewSupervisor(
		deps.Books,
		st,
		cfg.Book.SnapshotDepth,
		cfg.Storage.SnapshotRetentionDays,
		logger,
	)

	// --- Market data streams ---
	for _, symbol := range cfg.Symbols {
		depth := stream.NewConn(cfg.Exchange.WsBaseURL, stream.StreamName(symbol, "depth"), logger)
		depth.OnDepthUpdate(deps.Books.HandleDelta)

		trades := stream.NewConn(cfg.Exchange.WsBaseURL, stream.StreamName(symbol, "aggTrade"), logger)
		trades.OnAggTrade(deps.Supervisor.BufferTrade)

		deps.Streams = append(deps.Streams, depth, trades)
	}
	for _, conn := range deps.Streams {
		closers = append(closers, func() { _ = conn.Close() })
	}

	// --- Reports and RPC surface ---
	streams := deps.Streams
	books := deps.Books
	health := func() domain.HealthReport {
		connected := 0
		for _, c := range streams {
			if c.Connected() {
				connected++
			}
		}
		return books.Health(connected)
	}
	deps.Reports = report.NewGenerator(
		deps.Exchange,
		deps.Books,
		st,
		health,
		cfg.Report.CacheTTL.Duration,
		cfg.Report.KernelTimeout.Duration,
		logger,
	)
	deps.Server = mcp.NewServer(deps.Reports, logger)

	return deps, cleanup, nil
}
