// Package book maintains live order books from a REST bootstrap snapshot
// plus incremental depth updates, with staleness and sequence-gap recovery.
package book

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ForgeTrade/mcp-trader-sub000/internal/domain"
)

// bootstrapDepthLimit is the level count requested for the REST seed snapshot.
const bootstrapDepthLimit = 1000

// DepthSource provides full book snapshots for bootstrap. Satisfied by
// *exchange.Client.
type DepthSource interface {
	Depth(ctx context.Context, symbol string, limit int) (domain.DepthSnapshot, error)
}

// symbolState carries one symbol's live book and its resync flags.
type symbolState struct {
	mu   sync.Mutex
	book *domain.OrderBook

	ready       bool
	needsResync bool
	// buffered holds deltas received while a bootstrap is in flight.
	buffered []domain.DepthDelta

	lastMsgWall int64 // wall clock ms of last applied update
}

// Maintainer owns the live order books for all tracked symbols. Deltas are
// fed in through HandleDelta; readers take cheap copy-on-write clones via
// Get. A book that went stale or saw a sequence gap is re-bootstrapped from
// REST before the next read returns.
type Maintainer struct {
	source      DepthSource
	symbolCap   int
	stalenessMs int64
	log         *slog.Logger

	mu    sync.RWMutex
	books map[string]*symbolState

	// seed collapses concurrent re-bootstraps of the same symbol into one
	// REST fetch.
	seed singleflight.Group

	now func() time.Time
}

// NewMaintainer builds a Maintainer bootstrapping from source. symbolCap
// bounds how many symbols may be tracked at once; stalenessMs is the age at
// which a book is considered stale and re-seeded.
func NewMaintainer(source DepthSource, symbolCap int, stalenessMs int64, log *slog.Logger) *Maintainer {
	return &Maintainer{
		source:      source,
		symbolCap:   symbolCap,
		stalenessMs: stalenessMs,
		log:         log.With(slog.String("component", "book")),
		books:       make(map[string]*symbolState),
		now:         time.Now,
	}
}

// Track registers symbol and seeds its book from REST. It returns
// domain.ErrSymbolLimit when the cap is reached.
func (m *Maintainer) Track(ctx context.Context, symbol string) error {
	symbol = domain.NormalizeSymbol(symbol)

	m.mu.Lock()
	if _, ok := m.books[symbol]; ok {
		m.mu.Unlock()
		return nil
	}
	if len(m.books) >= m.symbolCap {
		m.mu.Unlock()
		return fmt.Errorf("book: track %s: %d symbols tracked: %w", symbol, m.symbolCap, domain.ErrSymbolLimit)
	}
	st := &symbolState{book: domain.NewOrderBook(symbol)}
	m.books[symbol] = st
	m.mu.Unlock()

	if err := m.bootstrap(ctx, symbol, st); err != nil {
		return err
	}
	m.log.Info("tracking symbol", slog.String("symbol", symbol))
	return nil
}

// Tracked returns the symbols currently maintained.
func (m *Maintainer) Tracked() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	symbols := make([]string, 0, len(m.books))
	for s := range m.books {
		symbols = append(symbols, s)
	}
	return symbols
}

// HandleDelta applies an incremental depth update to its symbol's book.
// Updates for unknown symbols are dropped. Stale updates (already covered by
// the current book) are ignored; a sequence gap marks the book for resync.
func (m *Maintainer) HandleDelta(delta domain.DepthDelta) {
	m.mu.RLock()
	st, ok := m.books[delta.Symbol]
	m.mu.RUnlock()
	if !ok {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.ready {
		// Bootstrap in flight; buffer for replay once the seed arrives.
		st.buffered = append(st.buffered, delta)
		return
	}
	m.applyLocked(st, delta)
}

// applyLocked applies one delta to a ready book. Caller holds st.mu.
func (m *Maintainer) applyLocked(st *symbolState, delta domain.DepthDelta) {
	last := st.book.LastUpdateID

	if delta.FinalUpdateID <= last {
		// Already reflected in the book.
		return
	}
	if delta.FirstUpdateID > last+1 {
		m.log.Warn("sequence gap, book needs resync",
			slog.String("symbol", st.book.Symbol),
			slog.Int64("last_update_id", last),
			slog.Int64("first_update_id", delta.FirstUpdateID))
		st.needsResync = true
		return
	}

	st.book.Apply(delta)
	st.lastMsgWall = m.now().UnixMilli()

	if st.book.Crossed() {
		bid, _ := st.book.BestBid()
		ask, _ := st.book.BestAsk()
		m.log.Warn("book crossed after update",
			slog.String("symbol", st.book.Symbol),
			slog.String("best_bid", bid.Price.String()),
			slog.String("best_ask", ask.Price.String()))
	}
}

// Get returns a point-in-time clone of symbol's book. A stale or gapped book
// is re-bootstrapped first; domain.ErrNotReady is returned if the symbol is
// unknown or the seed has not landed yet.
func (m *Maintainer) Get(ctx context.Context, symbol string) (*domain.OrderBook, error) {
	symbol = domain.NormalizeSymbol(symbol)

	m.mu.RLock()
	st, ok := m.books[symbol]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("book: get %s: untracked symbol: %w", symbol, domain.ErrNotReady)
	}

	st.mu.Lock()
	needsSeed := !st.ready || st.needsResync || m.staleLocked(st)
	st.mu.Unlock()

	if needsSeed {
		_, err, _ := m.seed.Do(symbol, func() (any, error) {
			return nil, m.bootstrap(ctx, symbol, st)
		})
		if err != nil {
			return nil, err
		}
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.ready {
		return nil, fmt.Errorf("book: get %s: %w", symbol, domain.ErrNotReady)
	}
	return st.book.Clone(), nil
}

// staleLocked reports whether the book's last applied update is older than
// the staleness threshold. Caller holds st.mu.
func (m *Maintainer) staleLocked(st *symbolState) bool {
	if st.lastMsgWall == 0 {
		return false
	}
	return m.now().UnixMilli()-st.lastMsgWall > m.stalenessMs
}

// bootstrap seeds a symbol's book from a REST depth snapshot and replays any
// buffered deltas newer than the snapshot.
func (m *Maintainer) bootstrap(ctx context.Context, symbol string, st *symbolState) error {
	st.mu.Lock()
	st.ready = false
	st.needsResync = false
	st.mu.Unlock()

	snap, err := m.source.Depth(ctx, symbol, bootstrapDepthLimit)
	if err != nil {
		return fmt.Errorf("book: bootstrap %s: %w", symbol, err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	book := domain.NewOrderBook(symbol)
	for _, l := range snap.Bids {
		book.SetBid(l.Price, l.Qty)
	}
	for _, l := range snap.Asks {
		book.SetAsk(l.Price, l.Qty)
	}
	book.LastUpdateID = snap.LastUpdateID
	st.book = book
	st.ready = true
	st.lastMsgWall = m.now().UnixMilli()

	// Replay deltas that arrived while the snapshot was in flight. The first
	// applicable one must straddle the snapshot's update id.
	buffered := st.buffered
	st.buffered = nil
	applied := 0
	for _, delta := range buffered {
		if delta.FinalUpdateID <= book.LastUpdateID {
			continue
		}
		m.applyLocked(st, delta)
		if st.needsResync {
			break
		}
		applied++
	}

	m.log.Info("book bootstrapped",
		slog.String("symbol", symbol),
		slog.Int64("last_update_id", book.LastUpdateID),
		slog.Int("replayed_deltas", applied))
	return nil
}

// SymbolAge returns how long ago symbol's book last applied an update, or
// false for an unknown or unseeded symbol.
func (m *Maintainer) SymbolAge(symbol string) (time.Duration, bool) {
	m.mu.RLock()
	st, ok := m.books[domain.NormalizeSymbol(symbol)]
	m.mu.RUnlock()
	if !ok {
		return 0, false
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.ready || st.lastMsgWall == 0 {
		return 0, false
	}
	return time.Duration(m.now().UnixMilli()-st.lastMsgWall) * time.Millisecond, true
}

// Health summarises book freshness across all tracked symbols.
func (m *Maintainer) Health(connectedStreams int) domain.HealthReport {
	m.mu.RLock()
	symbols := make([]string, 0, len(m.books))
	for s := range m.books {
		symbols = append(symbols, s)
	}
	m.mu.RUnlock()

	var maxAge time.Duration
	unready := 0
	for _, s := range symbols {
		age, ok := m.SymbolAge(s)
		if !ok {
			unready++
			continue
		}
		if age > maxAge {
			maxAge = age
		}
	}

	report := domain.HealthReport{
		Status:           domain.StatusOK,
		ActiveSymbols:    len(symbols),
		ConnectedStreams: connectedStreams,
		MaxAgeMS:         maxAge.Milliseconds(),
		Timestamp:        m.now().UnixMilli(),
	}
	switch {
	case len(symbols) == 0:
		report.Status = domain.StatusError
		report.Reason = "no symbols tracked"
	case unready == len(symbols):
		report.Status = domain.StatusError
		report.Reason = "no books ready"
	case unready > 0:
		report.Status = domain.StatusDegraded
		report.Reason = fmt.Sprintf("%d of %d books not ready", unready, len(symbols))
	case maxAge.Milliseconds() > m.stalenessMs:
		report.Status = domain.StatusDegraded
		report.Reason = fmt.Sprintf("stalest book is %dms old", maxAge.Milliseconds())
	}
	return report
}
