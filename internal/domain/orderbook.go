package domain

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
)

// PriceLevel is a single price+quantity entry on one side of an order book.
// Prices and quantities are exact decimals; strings exist only at the wire
// boundary.
type PriceLevel struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// NormalizeSymbol canonicalizes a trading pair identifier (e.g. "btcusdt" ->
// "BTCUSDT").
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// byPriceAsc orders price levels ascending by price for the btree backing the
// book sides.
func byPriceAsc(a, b PriceLevel) bool {
	return a.Price.LessThan(b.Price)
}

// OrderBook is the authoritative live book for one symbol. Bids and asks are
// ordered maps keyed by price; iteration over bids descending yields the best
// bid first, over asks ascending the best ask first. The book is mutated only
// by its maintainer goroutine; readers receive clones.
type OrderBook struct {
	Symbol        string
	LastUpdateID  int64
	LastEventTime int64 // wall clock, milliseconds

	bids *btree.BTreeG[PriceLevel]
	asks *btree.BTreeG[PriceLevel]
}

// NewOrderBook creates an empty order book for symbol.
func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		Symbol: NormalizeSymbol(symbol),
		bids:   btree.NewBTreeG(byPriceAsc),
		asks:   btree.NewBTreeG(byPriceAsc),
	}
}

// SetBid inserts or replaces the bid level at price. A zero quantity removes
// the level.
func (b *OrderBook) SetBid(price, qty decimal.Decimal) {
	if qty.IsZero() {
		b.bids.Delete(PriceLevel{Price: price})
		return
	}
	b.bids.Set(PriceLevel{Price: price, Qty: qty})
}

// SetAsk inserts or replaces the ask level at price. A zero quantity removes
// the level.
func (b *OrderBook) SetAsk(price, qty decimal.Decimal) {
	if qty.IsZero() {
		b.asks.Delete(PriceLevel{Price: price})
		return
	}
	b.asks.Set(PriceLevel{Price: price, Qty: qty})
}

// BestBid returns the highest bid level, or false when the bid side is empty.
func (b *OrderBook) BestBid() (PriceLevel, bool) {
	return b.bids.Max()
}

// BestAsk returns the lowest ask level, or false when the ask side is empty.
func (b *OrderBook) BestAsk() (PriceLevel, bool) {
	return b.asks.Min()
}

// BidCount returns the number of bid levels.
func (b *OrderBook) BidCount() int { return b.bids.Len() }

// AskCount returns the number of ask levels.
func (b *OrderBook) AskCount() int { return b.asks.Len() }

// Empty reports whether both sides of the book carry no levels.
func (b *OrderBook) Empty() bool {
	return b.bids.Len() == 0 && b.asks.Len() == 0
}

// Crossed reports whether best_ask < best_bid. A crossed book is a transient
// corruption signal and must be surfaced to readers, never normalized away.
func (b *OrderBook) Crossed() bool {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return false
	}
	return ask.Price.LessThan(bid.Price)
}

// TopBids returns up to n bid levels, best (highest price) first.
func (b *OrderBook) TopBids(n int) []PriceLevel {
	out := make([]PriceLevel, 0, n)
	b.bids.Reverse(func(l PriceLevel) bool {
		out = append(out, l)
		return len(out) < n
	})
	return out
}

// TopAsks returns up to n ask levels, best (lowest price) first.
func (b *OrderBook) TopAsks(n int) []PriceLevel {
	out := make([]PriceLevel, 0, n)
	b.asks.Scan(func(l PriceLevel) bool {
		out = append(out, l)
		return len(out) < n
	})
	return out
}

// AscendBids iterates all bid levels in ascending price order until fn
// returns false.
func (b *OrderBook) AscendBids(fn func(PriceLevel) bool) { b.bids.Scan(fn) }

// AscendAsks iterates all ask levels in ascending price order until fn
// returns false.
func (b *OrderBook) AscendAsks(fn func(PriceLevel) bool) { b.asks.Scan(fn) }

// Clone returns an independent copy of the book. The backing btrees are
// copy-on-write, so cloning is cheap and the clone never observes later
// mutations by the maintainer.
func (b *OrderBook) Clone() *OrderBook {
	return &OrderBook{
		Symbol:        b.Symbol,
		LastUpdateID:  b.LastUpdateID,
		LastEventTime: b.LastEventTime,
		bids:          b.bids.Copy(),
		asks:          b.asks.Copy(),
	}
}

// Apply replaces levels from a depth delta and advances the book's update id
// and event time. Sequencing is validated by the maintainer before Apply is
// called; Apply itself never rejects a delta.
func (b *OrderBook) Apply(d DepthDelta) {
	for _, l := range d.Bids {
		b.SetBid(l.Price, l.Qty)
	}
	for _, l := range d.Asks {
		b.SetAsk(l.Price, l.Qty)
	}
	b.LastUpdateID = d.FinalUpdateID
	b.LastEventTime = d.EventTime
}

// DepthDelta is an incremental order book update covering the update-id range
// [FirstUpdateID, FinalUpdateID]. A zero-quantity level removes that price.
type DepthDelta struct {
	Symbol        string
	FirstUpdateID int64
	FinalUpdateID int64
	Bids          []PriceLevel
	Asks          []PriceLevel
	EventTime     int64 // milliseconds
}

// DepthSnapshot is a full REST depth snapshot used to bootstrap a book.
type DepthSnapshot struct {
	Symbol       string
	LastUpdateID int64
	Bids         []PriceLevel
	Asks         []PriceLevel
}
