package domain

import "github.com/shopspring/decimal"

// BookSnapshot is the stored, per-second form of an order book: the top
// levels of each side plus ordering metadata. Prices and quantities are
// serialized as decimal strings so the stored form is lossless.
type BookSnapshot struct {
	Bids      [][2]string `msgpack:"b"` // price, qty; best bid first
	Asks      [][2]string `msgpack:"a"` // price, qty; best ask first
	UpdateID  int64       `msgpack:"u"`
	Timestamp int64       `msgpack:"t"` // capture time, unix seconds
}

// SnapshotDepth is the default number of levels per side captured into a
// BookSnapshot.
const SnapshotDepth = 20

// SnapshotFromBook captures the top depth levels of each side. A depth of
// zero or less falls back to SnapshotDepth.
func SnapshotFromBook(book *OrderBook, depth int, captureSec int64) BookSnapshot {
	if depth <= 0 {
		depth = SnapshotDepth
	}
	snap := BookSnapshot{
		UpdateID:  book.LastUpdateID,
		Timestamp: captureSec,
	}
	for _, l := range book.TopBids(depth) {
		snap.Bids = append(snap.Bids, [2]string{l.Price.String(), l.Qty.String()})
	}
	for _, l := range book.TopAsks(depth) {
		snap.Asks = append(snap.Asks, [2]string{l.Price.String(), l.Qty.String()})
	}
	return snap
}

// BestBid returns the snapshot's best bid price, or false when the bid side
// is empty or unparseable.
func (s BookSnapshot) BestBid() (decimal.Decimal, bool) {
	if len(s.Bids) == 0 {
		return decimal.Decimal{}, false
	}
	p, err := decimal.NewFromString(s.Bids[0][0])
	return p, err == nil
}

// BestAsk returns the snapshot's best ask price, or false when the ask side
// is empty or unparseable.
func (s BookSnapshot) BestAsk() (decimal.Decimal, bool) {
	if len(s.Asks) == 0 {
		return decimal.Decimal{}, false
	}
	p, err := decimal.NewFromString(s.Asks[0][0])
	return p, err == nil
}

// TotalDepth sums every level quantity across both sides. Unparseable
// quantities contribute zero.
func (s BookSnapshot) TotalDepth() float64 {
	var total float64
	for _, side := range [][][2]string{s.Bids, s.Asks} {
		for _, l := range side {
			if q, err := decimal.NewFromString(l[1]); err == nil {
				f, _ := q.Float64()
				total += f
			}
		}
	}
	return total
}

// StoredTrade is the persisted form of an aggregate trade. Field tags mirror
// the exchange wire names to keep the stored encoding compact.
type StoredTrade struct {
	Price        string `msgpack:"p"`
	Qty          string `msgpack:"q"`
	TradeTime    int64  `msgpack:"T"` // milliseconds
	TradeID      int64  `msgpack:"a"`
	BuyerIsMaker bool   `msgpack:"m"`
}

// StoredTradeFrom converts a live aggregate trade into its stored form.
func StoredTradeFrom(t AggTrade) StoredTrade {
	return StoredTrade{
		Price:        t.Price.String(),
		Qty:          t.Qty.String(),
		TradeTime:    t.TradeTime,
		TradeID:      t.TradeID,
		BuyerIsMaker: t.BuyerIsMaker,
	}
}
