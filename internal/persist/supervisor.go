// Package persist captures per-second book snapshots and trade batches into
// the embedded store and enforces the retention window.
package persist

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ForgeTrade/mcp-trader-sub000/internal/domain"
)

const (
	captureInterval = time.Second
	sweepInterval   = time.Hour

	// dropFraction is how much history each series sheds when the store
	// hits its size ceiling.
	dropFraction = 0.25
)

// BookSource provides point-in-time books for snapshot capture. Satisfied by
// *book.Maintainer.
type BookSource interface {
	Tracked() []string
	Get(ctx context.Context, symbol string) (*domain.OrderBook, error)
}

// Sink is the persistence surface the supervisor writes to. Satisfied by
// *store.Store.
type Sink interface {
	PutSnapshot(symbol string, snap domain.BookSnapshot) error
	PutTradeBatch(symbol string, batchMs int64, trades []domain.StoredTrade) error
	CleanupExpired(snapCutoffSec, tradeCutoffMs int64) (int, error)
	DropOldest(fraction float64) (int, error)
}

// Supervisor drives the capture and retention loops. Trades stream in via
// BufferTrade and are flushed alongside the per-second snapshot tick.
type Supervisor struct {
	books         BookSource
	sink          Sink
	snapshotDepth int
	retentionDays int
	log           *slog.Logger

	mu      sync.Mutex
	pending map[string][]domain.StoredTrade

	now func() time.Time
}

// NewSupervisor builds a Supervisor persisting books from books into sink.
// snapshotDepth is the number of levels captured per side.
func NewSupervisor(books BookSource, sink Sink, snapshotDepth, retentionDays int, log *slog.Logger) *Supervisor {
	return &Supervisor{
		books:         books,
		sink:          sink,
		snapshotDepth: snapshotDepth,
		retentionDays: retentionDays,
		log:           log.With(slog.String("component", "persist")),
		pending:       make(map[string][]domain.StoredTrade),
		now:           time.Now,
	}
}

// BufferTrade queues a live trade for the next batch flush. Wired as a
// stream trade handler.
func (s *Supervisor) BufferTrade(t domain.AggTrade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[t.Symbol] = append(s.pending[t.Symbol], domain.StoredTradeFrom(t))
}

// Run blocks, capturing snapshots and flushing trade batches every second
// and sweeping expired keys hourly, until ctx is cancelled. Missed ticks are
// dropped rather than bunched.
func (s *Supervisor) Run(ctx context.Context) error {
	capture := time.NewTicker(captureInterval)
	defer capture.Stop()
	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()

	s.log.Info("persistence started",
		slog.Int("retention_days", s.retentionDays))

	for {
		select {
		case <-ctx.Done():
			// Final flush so buffered trades are not lost on shutdown.
			s.FlushTrades()
			s.log.Info("persistence stopped")
			return ctx.Err()
		case <-capture.C:
			s.CaptureOnce(ctx)
			s.FlushTrades()
		case <-sweep.C:
			s.SweepOnce()
		}
	}
}

// CaptureOnce snapshots every tracked book once. Empty books are skipped
// with a warning; a store at its size ceiling sheds old history and retries
// on the next tick.
func (s *Supervisor) CaptureOnce(ctx context.Context) {
	nowSec := s.now().Unix()
	for _, symbol := range s.books.Tracked() {
		b, err := s.books.Get(ctx, symbol)
		if err != nil {
			if !errors.Is(err, domain.ErrNotReady) {
				s.log.Warn("snapshot capture failed",
					slog.String("symbol", symbol),
					slog.String("error", err.Error()))
			}
			continue
		}
		if b.Empty() {
			s.log.Warn("skipping snapshot of empty book", slog.String("symbol", symbol))
			continue
		}

		snap := domain.SnapshotFromBook(b, s.snapshotDepth, nowSec)
		if err := s.sink.PutSnapshot(symbol, snap); err != nil {
			if errors.Is(err, domain.ErrStorageLimit) {
				s.shedHistory()
				continue
			}
			s.log.Error("snapshot write failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()))
		}
	}
}

// FlushTrades writes all buffered trades as one batch per symbol keyed by
// the flush time.
func (s *Supervisor) FlushTrades() {
	s.mu.Lock()
	batches := s.pending
	s.pending = make(map[string][]domain.StoredTrade)
	s.mu.Unlock()

	batchMs := s.now().UnixMilli()
	for symbol, trades := range batches {
		if err := s.sink.PutTradeBatch(symbol, batchMs, trades); err != nil {
			if errors.Is(err, domain.ErrStorageLimit) {
				s.shedHistory()
				// Requeue so the batch lands after space is reclaimed.
				s.mu.Lock()
				s.pending[symbol] = append(trades, s.pending[symbol]...)
				s.mu.Unlock()
				continue
			}
			s.log.Error("trade batch write failed",
				slog.String("symbol", symbol),
				slog.Int("trades", len(trades)),
				slog.String("error", err.Error()))
		}
	}
}

// SweepOnce removes keys older than the retention window.
func (s *Supervisor) SweepOnce() {
	now := s.now()
	snapCutoff := now.Add(-time.Duration(s.retentionDays) * 24 * time.Hour).Unix()
	tradeCutoff := now.Add(-time.Duration(s.retentionDays) * 24 * time.Hour).UnixMilli()

	deleted, err := s.sink.CleanupExpired(snapCutoff, tradeCutoff)
	if err != nil {
		s.log.Error("retention sweep failed", slog.String("error", err.Error()))
		return
	}
	s.log.Info("retention sweep", slog.Int("deleted_keys", deleted))
}

// shedHistory drops the oldest slice of every series after the store refuses
// a write for being over its ceiling.
func (s *Supervisor) shedHistory() {
	deleted, err := s.sink.DropOldest(dropFraction)
	if err != nil {
		s.log.Error("history shed failed", slog.String("error", err.Error()))
		return
	}
	s.log.Warn("storage ceiling hit, dropped oldest history",
		slog.Int("deleted_keys", deleted))
}
