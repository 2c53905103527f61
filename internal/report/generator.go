package report

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/ForgeTrade/mcp-trader-sub000/internal/analytics"
	"github.com/ForgeTrade/mcp-trader-sub000/internal/domain"
)

// Analysis windows used by the generator.
const (
	flowWindowSecs     = 60
	stuffingWindowSecs = 10
)

// TickerSource provides the 24h ticker, normally the exchange REST client.
type TickerSource interface {
	Ticker24h(ctx context.Context, symbol string) (domain.Ticker24h, error)
}

// Books provides live order-book clones, normally the book maintainer.
type Books interface {
	Get(ctx context.Context, symbol string) (*domain.OrderBook, error)
	SymbolAge(symbol string) (time.Duration, bool)
}

// History provides persisted snapshots and trades, normally the store.
type History interface {
	SnapshotsInWindow(symbol string, startSec, endSec int64) ([]domain.BookSnapshot, error)
	TradesInWindow(symbol string, startMs, endMs int64) ([]domain.StoredTrade, error)
}

// Generator produces markdown market reports: it fans the analytics kernels
// out in parallel, bounds each with a time budget, degrades failed sections
// and caches the assembled report per symbol and option tuple.
type Generator struct {
	tickers TickerSource
	books   Books
	history History
	health  func() domain.HealthReport
	cache   *Cache

	kernelTimeout time.Duration
	log           *slog.Logger

	now func() time.Time
}

func NewGenerator(tickers TickerSource, books Books, history History, health func() domain.HealthReport, cacheTTL, kernelTimeout time.Duration, log *slog.Logger) *Generator {
	return &Generator{
		tickers:       tickers,
		books:         books,
		history:       history,
		health:        health,
		cache:         NewCache(cacheTTL),
		kernelTimeout: kernelTimeout,
		log:           log.With(slog.String("component", "report")),
		now:           time.Now,
	}
}

// Invalidate drops every cached report for the symbol.
func (g *Generator) Invalidate(symbol string) {
	g.cache.Invalidate(symbol)
}

// Generate builds (or returns a cached) market report for the symbol. Kernel
// errors degrade their sections; only invalid options fail the call.
func (g *Generator) Generate(ctx context.Context, symbol string, opts domain.ReportOptions) (domain.MarketReport, error) {
	symbol = domain.NormalizeSymbol(symbol)
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return domain.MarketReport{}, fmt.Errorf("report: generate %s: %w", symbol, err)
	}

	key := opts.CacheKey(symbol)
	if cached, ok := g.cache.Get(key); ok {
		g.log.Debug("report cache hit", slog.String("symbol", symbol), slog.String("key", key))
		return cached, nil
	}

	start := g.now()
	nowMs := start.UnixMilli()
	nowSec := start.Unix()

	// Fetch phase: live inputs in parallel.
	var (
		ticker    domain.Ticker24h
		tickerErr error
		book      *domain.OrderBook
		bookErr   error
		snaps     []domain.BookSnapshot
		snapsErr  error
		trades    []domain.StoredTrade
		tradesErr error
	)
	var fetch errgroup.Group
	fetch.Go(func() error {
		ticker, tickerErr = g.tickers.Ticker24h(ctx, symbol)
		return nil
	})
	fetch.Go(func() error {
		book, bookErr = g.books.Get(ctx, symbol)
		return nil
	})
	fetch.Go(func() error {
		snaps, snapsErr = g.history.SnapshotsInWindow(symbol, nowSec-flowWindowSecs, nowSec)
		return nil
	})
	fetch.Go(func() error {
		from := start.Add(-time.Duration(opts.VolumeWindowHours) * time.Hour).UnixMilli()
		trades, tradesErr = g.history.TradesInWindow(symbol, from, nowMs)
		return nil
	})
	_ = fetch.Wait()

	// Kernel phase: pure computations, each under its own budget.
	var (
		metrics    domain.OrderBookMetrics
		metricsErr error
		flow       domain.OrderFlowResult
		flowErr    error
		profile    domain.VolumeProfile
		profileErr error
		vacuums    []domain.LiquidityVacuum
		anomalies  []domain.Anomaly
		anomxErr   error
		health     domain.MicrostructureHealth
		healthErr  error
	)
	var kernels errgroup.Group
	kernels.Go(func() error {
		if bookErr != nil {
			metricsErr = bookErr
			return nil
		}
		metricsErr = g.runKernel(ctx, "orderbook_metrics", symbol, func() error {
			metrics = analytics.CalculateMetrics(book, start)
			vacuums = analytics.IdentifyLiquidityVacuums(book, start)
			return nil
		})
		return nil
	})
	kernels.Go(func() error {
		if snapsErr != nil {
			flowErr = snapsErr
			return nil
		}
		flowErr = g.runKernel(ctx, "order_flow", symbol, func() error {
			var err error
			flow, err = analytics.CalculateOrderFlow(symbol, snaps, flowWindowSecs, start)
			return err
		})
		return nil
	})
	kernels.Go(func() error {
		if tradesErr != nil {
			profileErr = tradesErr
			return nil
		}
		profileErr = g.runKernel(ctx, "volume_profile", symbol, func() error {
			var err error
			profile, err = analytics.GenerateVolumeProfile(symbol, trades, opts.VolumeWindowHours, start)
			return err
		})
		return nil
	})
	kernels.Go(func() error {
		if snapsErr != nil {
			anomxErr = snapsErr
			return nil
		}
		anomxErr = g.runKernel(ctx, "anomaly_detection", symbol, func() error {
			anomalies = g.detectAnomalies(symbol, snaps, trades, start)
			return nil
		})
		return nil
	})
	_ = kernels.Wait()

	// Health depends on the flow rates, so it runs after the fan-out.
	if snapsErr != nil {
		healthErr = snapsErr
	} else {
		healthErr = g.runKernel(ctx, "microstructure_health", symbol, func() error {
			bidRate, askRate := 0.0, 0.0
			if flowErr == nil {
				bidRate, askRate = flow.BidFlowRate, flow.AskFlowRate
			}
			health = analytics.CalculateHealth(symbol, snaps, bidRate, askRate, start)
			return nil
		})
	}

	dataAgeMS := g.dataAge(book, bookErr, symbol, nowMs)

	sections := []section{
		buildPriceOverview(&ticker, tickerErr),
		buildBookMetrics(&metrics, metricsErr),
		buildLiquidity(&metrics, metricsErr, &profile, profileErr, vacuums, opts.VolumeWindowHours),
		buildMicrostructure(&flow, flowErr),
		buildAnomalies(anomalies, anomxErr),
		buildHealth(&health, healthErr),
	}

	failed := []string{}
	markdown := buildHeader(symbol, nowMs, dataAgeMS)
	for _, s := range sections {
		if !opts.Includes(s.name) {
			continue
		}
		if s.err != nil {
			failed = append(failed, s.name)
			g.log.Warn("report section degraded",
				slog.String("symbol", symbol),
				slog.String("section", s.name),
				slog.String("error", s.err.Error()))
		}
		markdown += s.render()
	}
	markdown += buildDataHealth(g.health(), dataAgeMS).render()

	generationMS := g.now().Sub(start).Milliseconds()
	markdown += buildFooter(generationMS)

	rep := domain.MarketReport{
		Markdown:         markdown,
		Symbol:           symbol,
		GeneratedAt:      nowMs,
		DataAgeMS:        dataAgeMS,
		FailedSections:   failed,
		GenerationTimeMS: generationMS,
	}
	g.cache.Set(key, rep)

	g.log.Info("report generated",
		slog.String("symbol", symbol),
		slog.Int64("generation_ms", generationMS),
		slog.Int("failed_sections", len(failed)))
	return rep, nil
}

// runKernel executes fn under the configured kernel budget. On expiry the
// section receives a timeout error; the kernel goroutine finishes on its own
// since kernels are read-only.
func (g *Generator) runKernel(ctx context.Context, name, symbol string, fn func() error) error {
	kctx, cancel := context.WithTimeout(ctx, g.kernelTimeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("report: kernel %s: %w", name, err)
		}
		return nil
	case <-kctx.Done():
		g.log.Warn("analytics kernel exceeded budget",
			slog.String("kernel", name),
			slog.String("symbol", symbol),
			slog.Duration("budget", g.kernelTimeout))
		return fmt.Errorf("report: kernel %s: budget exceeded: %w", name, domain.ErrTimeout)
	}
}

// detectAnomalies runs the three detectors over the snapshot window,
// deriving the secondary inputs (fill rate, refill counts, cancellation
// rate) the detectors need.
func (g *Generator) detectAnomalies(symbol string, snaps []domain.BookSnapshot, trades []domain.StoredTrade, now time.Time) []domain.Anomaly {
	var out []domain.Anomaly

	recent := snapshotsSince(snaps, now.Unix()-stuffingWindowSecs)
	if a, ok := analytics.DetectQuoteStuffing(symbol, recent, fillRate(recent, trades, now), now); ok {
		out = append(out, a)
	}

	refills := analytics.CountRefills(snaps)
	if median := medianCount(refills); median > 0 {
		for price, count := range refills {
			level, err := decimalFromKey(price)
			if err != nil {
				continue
			}
			if a, ok := analytics.DetectIcebergOrder(symbol, level, count, median, now); ok {
				out = append(out, a)
			}
		}
	}

	if len(snaps) >= 2 {
		baseline, current := snaps[0], snaps[len(snaps)-1]
		rate := cancellationRate(baseline, current)
		if a, ok := analytics.DetectFlashCrashRisk(symbol, baseline, current, rate, now); ok {
			out = append(out, a)
		}
	}
	return out
}

func (g *Generator) dataAge(book *domain.OrderBook, bookErr error, symbol string, nowMs int64) int64 {
	if bookErr == nil && book != nil && book.LastEventTime > 0 {
		if age := nowMs - book.LastEventTime; age >= 0 {
			return age
		}
	}
	if age, ok := g.books.SymbolAge(symbol); ok {
		return age.Milliseconds()
	}
	return 0
}

func snapshotsSince(snaps []domain.BookSnapshot, cutoffSec int64) []domain.BookSnapshot {
	for i, s := range snaps {
		if s.Timestamp >= cutoffSec {
			return snaps[i:]
		}
	}
	return nil
}

// fillRate is the ratio of executed trades to book updates over the
// stuffing window. A churning book with almost no fills is the signature
// quote stuffing looks for.
func fillRate(snaps []domain.BookSnapshot, trades []domain.StoredTrade, now time.Time) float64 {
	updates := len(snaps)
	if updates == 0 {
		return 1
	}
	cutoffMs := (now.Unix() - stuffingWindowSecs) * 1000
	fills := 0
	for _, t := range trades {
		if t.TradeTime >= cutoffMs {
			fills++
		}
	}
	rate := float64(fills) / float64(updates)
	if rate > 1 {
		rate = 1
	}
	return rate
}

func medianCount(counts map[string]int) float64 {
	if len(counts) == 0 {
		return 0
	}
	values := make([]int, 0, len(counts))
	for _, c := range counts {
		values = append(values, c)
	}
	sort.Ints(values)
	mid := len(values) / 2
	if len(values)%2 == 0 {
		return float64(values[mid-1]+values[mid]) / 2
	}
	return float64(values[mid])
}

func decimalFromKey(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

// cancellationRate is the share of baseline price levels no longer present
// in the current snapshot, in percent.
func cancellationRate(baseline, current domain.BookSnapshot) float64 {
	present := make(map[string]bool, len(current.Bids)+len(current.Asks))
	for _, l := range current.Bids {
		present[l[0]] = true
	}
	for _, l := range current.Asks {
		present[l[0]] = true
	}
	total := len(baseline.Bids) + len(baseline.Asks)
	if total == 0 {
		return 0
	}
	missing := 0
	for _, side := range [][][2]string{baseline.Bids, baseline.Asks} {
		for _, l := range side {
			if !present[l[0]] {
				missing++
			}
		}
	}
	return float64(missing) / float64(total) * 100
}
