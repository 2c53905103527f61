package analytics

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ForgeTrade/mcp-trader-sub000/internal/domain"
)

// Order-flow window bounds, in seconds.
const (
	MinFlowWindowSecs = 10
	MaxFlowWindowSecs = 300
)

// CalculateOrderFlow derives add-rates, net flow and cumulative volume delta
// from a window of per-second snapshots. The snapshots must be ordered oldest
// first. At least two are required to form a delta.
func CalculateOrderFlow(symbol string, snaps []domain.BookSnapshot, windowSecs int, now time.Time) (domain.OrderFlowResult, error) {
	if windowSecs < MinFlowWindowSecs || windowSecs > MaxFlowWindowSecs {
		return domain.OrderFlowResult{}, fmt.Errorf("analytics: order flow: window %ds outside [%d,%d]: %w",
			windowSecs, MinFlowWindowSecs, MaxFlowWindowSecs, domain.ErrInvalidRequest)
	}
	if len(snaps) < 2 {
		return domain.OrderFlowResult{}, fmt.Errorf("analytics: order flow: %d snapshots in window, need 2: %w",
			len(snaps), domain.ErrInsufficientData)
	}

	first, last := snaps[0], snaps[len(snaps)-1]

	var bidAdds, askAdds int
	var cumulativeDelta float64
	for i := 1; i < len(snaps); i++ {
		prev, curr := snaps[i-1], snaps[i]
		bidAdds += countIncreasedLevels(prev.Bids, curr.Bids)
		askAdds += countIncreasedLevels(prev.Asks, curr.Asks)
		cumulativeDelta += abs(sideVolume(curr.Bids)-sideVolume(prev.Bids)) -
			abs(sideVolume(curr.Asks)-sideVolume(prev.Asks))
	}

	// Rates are per requested window second, not per observed snapshot span;
	// sparse snapshots must not inflate them.
	bidRate := float64(bidAdds) / float64(windowSecs)
	askRate := float64(askAdds) / float64(windowSecs)

	return domain.OrderFlowResult{
		Symbol:          symbol,
		WindowStart:     time.Unix(first.Timestamp, 0).UTC(),
		WindowEnd:       time.Unix(last.Timestamp, 0).UTC(),
		WindowSecs:      windowSecs,
		BidFlowRate:     bidRate,
		AskFlowRate:     askRate,
		NetFlow:         bidRate - askRate,
		Direction:       domain.FlowDirectionFromRates(bidRate, askRate),
		CumulativeDelta: cumulativeDelta,
		ComputedAt:      now,
	}, nil
}

// countIncreasedLevels counts price levels whose quantity grew between two
// snapshots of one side. A level absent from the previous snapshot counts as
// growth from zero.
func countIncreasedLevels(prev, curr [][2]string) int {
	prevQty := make(map[string]decimal.Decimal, len(prev))
	for _, l := range prev {
		if q, err := decimal.NewFromString(l[1]); err == nil {
			prevQty[l[0]] = q
		}
	}
	var n int
	for _, l := range curr {
		q, err := decimal.NewFromString(l[1])
		if err != nil {
			continue
		}
		if q.GreaterThan(prevQty[l[0]]) {
			n++
		}
	}
	return n
}

func sideVolume(levels [][2]string) float64 {
	var total float64
	for _, l := range levels {
		if q, err := decimal.NewFromString(l[1]); err == nil {
			f, _ := q.Float64()
			total += f
		}
	}
	return total
}
