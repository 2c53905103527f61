package persist

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ForgeTrade/mcp-trader-sub000/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBooks struct {
	books map[string]*domain.OrderBook
	errs  map[string]error
}

func (f *fakeBooks) Tracked() []string {
	out := make([]string, 0, len(f.books))
	for s := range f.books {
		out = append(out, s)
	}
	return out
}

func (f *fakeBooks) Get(ctx context.Context, symbol string) (*domain.OrderBook, error) {
	if err := f.errs[symbol]; err != nil {
		return nil, err
	}
	return f.books[symbol], nil
}

type sinkCall struct {
	symbol  string
	snap    domain.BookSnapshot
	batchMs int64
	trades  []domain.StoredTrade
}

type fakeSink struct {
	mu        sync.Mutex
	snaps     []sinkCall
	batches   []sinkCall
	snapErr   error
	batchErr  error
	dropped   int
	swept     int
	failBatch int // fail this many batch writes then succeed
}

func (f *fakeSink) PutSnapshot(symbol string, snap domain.BookSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snapErr != nil {
		return f.snapErr
	}
	f.snaps = append(f.snaps, sinkCall{symbol: symbol, snap: snap})
	return nil
}

func (f *fakeSink) PutTradeBatch(symbol string, batchMs int64, trades []domain.StoredTrade) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failBatch > 0 {
		f.failBatch--
		return f.batchErr
	}
	if f.batchErr != nil {
		return f.batchErr
	}
	f.batches = append(f.batches, sinkCall{symbol: symbol, batchMs: batchMs, trades: trades})
	return nil
}

func (f *fakeSink) CleanupExpired(snapCutoffSec, tradeCutoffMs int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.swept++
	return 7, nil
}

func (f *fakeSink) DropOldest(fraction float64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped++
	return 42, nil
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func liveBook(symbol string) *domain.OrderBook {
	b := domain.NewOrderBook(symbol)
	b.SetBid(dec("100.10"), dec("2"))
	b.SetAsk(dec("100.20"), dec("1.5"))
	b.LastUpdateID = 55
	return b
}

func TestCaptureOnce(t *testing.T) {
	books := &fakeBooks{books: map[string]*domain.OrderBook{
		"BTCUSDT": liveBook("BTCUSDT"),
		"ETHUSDT": domain.NewOrderBook("ETHUSDT"), // empty, must be skipped
	}}
	sink := &fakeSink{}
	sup := NewSupervisor(books, sink, domain.SnapshotDepth, 7, discardLogger())
	sup.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	sup.CaptureOnce(context.Background())

	require.Len(t, sink.snaps, 1)
	assert.Equal(t, "BTCUSDT", sink.snaps[0].symbol)
	assert.Equal(t, int64(1_700_000_000), sink.snaps[0].snap.Timestamp)
	assert.Equal(t, int64(55), sink.snaps[0].snap.UpdateID)
	require.Len(t, sink.snaps[0].snap.Bids, 1)
}

func TestCaptureSkipsUnreadyBooks(t *testing.T) {
	books := &fakeBooks{
		books: map[string]*domain.OrderBook{"BTCUSDT": liveBook("BTCUSDT")},
		errs:  map[string]error{"BTCUSDT": fmt.Errorf("seed pending: %w", domain.ErrNotReady)},
	}
	sink := &fakeSink{}
	sup := NewSupervisor(books, sink, domain.SnapshotDepth, 7, discardLogger())

	sup.CaptureOnce(context.Background())
	assert.Empty(t, sink.snaps)
}

func TestFlushTrades(t *testing.T) {
	sink := &fakeSink{}
	sup := NewSupervisor(&fakeBooks{}, sink, domain.SnapshotDepth, 7, discardLogger())
	sup.now = func() time.Time { return time.UnixMilli(1_700_000_000_123) }

	sup.BufferTrade(domain.AggTrade{Symbol: "BTCUSDT", TradeID: 1, Price: dec("50000"), Qty: dec("0.5"), TradeTime: 1})
	sup.BufferTrade(domain.AggTrade{Symbol: "BTCUSDT", TradeID: 2, Price: dec("50001"), Qty: dec("0.1"), TradeTime: 2})
	sup.BufferTrade(domain.AggTrade{Symbol: "ETHUSDT", TradeID: 3, Price: dec("3000"), Qty: dec("1"), TradeTime: 3})

	sup.FlushTrades()

	require.Len(t, sink.batches, 2)
	byuSymbol := map[string]sinkCall{}
	for _, b := range sink.batches {
		byuSymbol[b.symbol] = b
	}
	require.Len(t, byuSymbol["BTCUSDT"].trades, 2)
	assert.Equal(t, "50000", byuSymbol["BTCUSDT"].trades[0].Price)
	assert.Equal(t, int64(1_700_000_000_123), byuSymbol["BTCUSDT"].batchMs)
	require.Len(t, byuSymbol["ETHUSDT"].trades, 1)

	// Buffer is empty after flush.
	sup.FlushTrades()
	assert.Len(t, sink.batches, 2)
}

func TestStorageLimitShedsAndRequeues(t *testing.T) {
	sink := &fakeSink{
		batchErr:  fmt.Errorf("over ceiling: %w", domain.ErrStorageLimit),
		failBatch: 1,
	}
	sup := NewSupervisor(&fakeBooks{}, sink, domain.SnapshotDepth, 7, discardLogger())

	sup.BufferTrade(domain.AggTrade{Symbol: "BTCUSDT", TradeID: 1, Price: dec("1"), Qty: dec("1")})
	sup.FlushTrades()

	assert.Equal(t, 1, sink.dropped, "ceiling hit must shed history")
	assert.Empty(t, sink.batches)

	// The failed batch was requeued; a later flush lands it.
	sink.batchErr = nil
	sup.FlushTrades()
	require.Len(t, sink.batches, 1)
	require.Len(t, sink.batches[0].trades, 1)
}

func TestSnapshotStorageLimitSheds(t *testing.T) {
	books := &fakeBooks{books: map[string]*domain.OrderBook{"BTCUSDT": liveBook("BTCUSDT")}}
	sink := &fakeSink{snapErr: fmt.Errorf("full: %w", domain.ErrStorageLimit)}
	sup := NewSupervisor(books, sink, domain.SnapshotDepth, 7, discardLogger())

	sup.CaptureOnce(context.Background())
	assert.Equal(t, 1, sink.dropped)
}

func TestSweepOnce(t *testing.T) {
	sink := &fakeSink{}
	sup := NewSupervisor(&fakeBooks{}, sink, domain.SnapshotDepth, 7, discardLogger())
	sup.SweepOnce()
	assert.Equal(t, 1, sink.swept)
}

func TestRunFlushesOnShutdown(t *testing.T) {
	sink := &fakeSink{}
	sup := NewSupervisor(&fakeBooks{}, sink, domain.SnapshotDepth, 7, discardLogger())
	sup.BufferTrade(domain.AggTrade{Symbol: "BTCUSDT", TradeID: 1, Price: dec("1"), Qty: dec("1")})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop")
	}
	assert.Len(t, sink.batches, 1, "pending trades must flush on shutdown")
}
