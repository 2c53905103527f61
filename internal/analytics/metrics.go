// Package analytics holds the pure computation kernels: order book
// aggregates, order-flow rates, volume profiles, anomaly detectors and the
// microstructure health score. Kernels take domain values and return domain
// values; they never touch storage, the network or the clock beyond what the
// caller passes in.
package analytics

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ForgeTrade/mcp-trader-sub000/internal/domain"
)

// topLevels is how many levels per side the book aggregates consider.
const topLevels = 20

// slippageTargets are the USD notionals slippage is estimated for.
var slippageTargets = []float64{10_000, 25_000, 50_000}

// wallMultiplier: a level is a wall when its quantity exceeds this multiple
// of the median quantity across the analyzed levels of both sides.
var wallMultiplier = decimal.NewFromInt(2)

// CalculateMetrics computes the L1 aggregates for a book: spread, microprice,
// volume imbalance, liquidity walls and VWAP slippage estimates over the top
// levels of each side.
func CalculateMetrics(book *domain.OrderBook, now time.Time) domain.OrderBookMetrics {
	bids := book.TopBids(topLevels)
	asks := book.TopAsks(topLevels)

	m := domain.OrderBookMetrics{
		Symbol:    book.Symbol,
		Timestamp: now.UnixMilli(),
		Crossed:   book.Crossed(),
		Levels:    len(bids) + len(asks),
	}

	var bidVol, askVol float64
	for _, l := range bids {
		q, _ := l.Qty.Float64()
		bidVol += q
	}
	for _, l := range asks {
		q, _ := l.Qty.Float64()
		askVol += q
	}
	m.BidVolume = bidVol
	m.AskVolume = askVol
	if askVol > 0 {
		m.ImbalanceRatio = bidVol / askVol
	}

	if len(bids) > 0 {
		m.BestBid = bids[0].Price
	}
	if len(asks) > 0 {
		m.BestAsk = asks[0].Price
	}
	if len(bids) > 0 && len(asks) > 0 {
		bid, _ := m.BestBid.Float64()
		ask, _ := m.BestAsk.Float64()
		if bid > 0 {
			m.SpreadBps = (ask - bid) / bid * 10_000
		}
		if bidVol+askVol > 0 {
			m.Microprice = (bid*askVol + ask*bidVol) / (bidVol + askVol)
		}
	}

	m.BidWalls, m.AskWalls = findWalls(bids, asks)

	for _, target := range slippageTargets {
		m.Slippage = append(m.Slippage, estimateSlippage(bids, asks, target))
	}
	return m
}

// findWalls flags levels holding more than wallMultiplier times the median
// quantity across the top levels of both sides combined.
func findWalls(bids, asks []domain.PriceLevel) (bidWalls, askWalls []domain.Wall) {
	qtys := make([]decimal.Decimal, 0, len(bids)+len(asks))
	for _, l := range bids {
		qtys = append(qtys, l.Qty)
	}
	for _, l := range asks {
		qtys = append(qtys, l.Qty)
	}
	if len(qtys) == 0 {
		return nil, nil
	}
	threshold := medianDecimal(qtys).Mul(wallMultiplier)
	for _, l := range bids {
		if l.Qty.GreaterThan(threshold) {
			bidWalls = append(bidWalls, domain.Wall{Price: l.Price, Qty: l.Qty, Side: domain.WallBid})
		}
	}
	for _, l := range asks {
		if l.Qty.GreaterThan(threshold) {
			askWalls = append(askWalls, domain.Wall{Price: l.Price, Qty: l.Qty, Side: domain.WallAsk})
		}
	}
	return bidWalls, askWalls
}

// estimateSlippage walks each side best-first, filling notionalUSD at
// successive levels, and reports the basis-point distance between the VWAP
// fill price and the touch. A side that runs out of quantity before the
// target is marked exhausted.
func estimateSlippage(bids, asks []domain.PriceLevel, notionalUSD float64) domain.SlippageEstimate {
	est := domain.SlippageEstimate{NotionalUSD: notionalUSD}
	est.BuySlipBps, est.BuyExhausted = walkSide(asks, notionalUSD)
	est.SellSlipBps, est.SellExhausted = walkSide(bids, notionalUSD)
	return est
}

func walkSide(levels []domain.PriceLevel, notionalUSD float64) (slipBps float64, exhausted bool) {
	if len(levels) == 0 {
		return 0, true
	}
	best, _ := levels[0].Price.Float64()
	if best <= 0 {
		return 0, true
	}
	remaining := notionalUSD
	var filledQty, filledUSD float64
	for _, l := range levels {
		price, _ := l.Price.Float64()
		qty, _ := l.Qty.Float64()
		levelUSD := price * qty
		if levelUSD >= remaining {
			filledQty += remaining / price
			filledUSD += remaining
			remaining = 0
			break
		}
		filledQty += qty
		filledUSD += levelUSD
		remaining -= levelUSD
	}
	if filledQty == 0 {
		return 0, true
	}
	avg := filledUSD / filledQty
	slipBps = abs(avg-best) / best * 10_000
	return slipBps, remaining > 0
}

// medianDecimal returns the median of values. The slice is copied before
// sorting so callers keep their ordering.
func medianDecimal(values []decimal.Decimal) decimal.Decimal {
	sorted := make([]decimal.Decimal, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return sorted[mid-1].Add(sorted[mid]).Div(decimal.NewFromInt(2))
	}
	return sorted[mid]
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
