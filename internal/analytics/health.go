package analytics

import (
	"math"
	"time"

	"github.com/ForgeTrade/mcp-trader-sub000/internal/domain"
)

// Component weights of the composite health score.
const (
	weightSpreadStability = 0.25
	weightLiquidityDepth  = 0.35
	weightFlowBalance     = 0.25
	weightUpdateRate      = 0.15
)

// CalculateHealth scores the market microstructure 0-100 from a snapshot
// window and the current flow rates. Components that lack enough data score
// a neutral 50 rather than failing.
func CalculateHealth(symbol string, snaps []domain.BookSnapshot, bidFlowRate, askFlowRate float64, now time.Time) domain.MicrostructureHealth {
	spread := spreadStabilityScore(snaps)
	depth := liquidityDepthScore(snaps)
	flow := flowBalanceScore(bidFlowRate, askFlowRate)
	update := updateRateScore(snaps)

	overall := spread*weightSpreadStability +
		depth*weightLiquidityDepth +
		flow*weightFlowBalance +
		update*weightUpdateRate
	level := domain.HealthLevelFromScore(overall)

	return domain.MicrostructureHealth{
		Symbol:            symbol,
		OverallScore:      overall,
		SpreadStability:   spread,
		LiquidityDepth:    depth,
		FlowBalance:       flow,
		UpdateRate:        update,
		Level:             level,
		RecommendedAction: healthAction(level),
		ComputedAt:        now,
	}
}

// spreadStabilityScore penalizes spread variance: 100 minus twice the
// coefficient of variation (percent, capped at 50).
func spreadStabilityScore(snaps []domain.BookSnapshot) float64 {
	spreads := make([]float64, 0, len(snaps))
	for _, s := range snaps {
		bid, okBid := s.BestBid()
		ask, okAsk := s.BestAsk()
		if !okBid || !okAsk {
			continue
		}
		b, _ := bid.Float64()
		a, _ := ask.Float64()
		spreads = append(spreads, a-b)
	}
	if len(spreads) < 2 {
		return 50
	}

	var sum float64
	for _, s := range spreads {
		sum += s
	}
	mean := sum / float64(len(spreads))

	cv := 100.0
	if mean > 0 {
		var variance float64
		for _, s := range spreads {
			variance += (s - mean) * (s - mean)
		}
		variance /= float64(len(spreads))
		cv = math.Sqrt(variance) / mean * 100
	}
	return math.Max(0, 100-math.Min(cv, 50)*2)
}

// liquidityDepthScore compares the latest total depth to the window average:
// at parity the score is 50, double depth saturates at 100.
func liquidityDepthScore(snaps []domain.BookSnapshot) float64 {
	if len(snaps) == 0 {
		return 50
	}
	var sum float64
	for _, s := range snaps {
		sum += s.TotalDepth()
	}
	avg := sum / float64(len(snaps))
	if avg <= 0 {
		return 0
	}
	ratio := snaps[len(snaps)-1].TotalDepth() / avg
	return math.Max(0, math.Min(ratio*50, 100))
}

// flowBalanceScore rewards symmetric bid/ask flow: perfectly balanced flow
// scores 100, one-sided flow scores 0.
func flowBalanceScore(bidRate, askRate float64) float64 {
	if bidRate == 0 && askRate == 0 {
		return 50
	}
	imbalance := math.Abs(bidRate/(bidRate+askRate)-0.5) * 2
	return (1 - imbalance) * 100
}

// updateRateScore rates snapshot cadence: too few updates reads as a stalled
// feed, too many as churn.
func updateRateScore(snaps []domain.BookSnapshot) float64 {
	if len(snaps) < 2 {
		return 50
	}
	rate := float64(len(snaps))
	switch {
	case rate < 10:
		return rate / 10 * 100
	case rate <= 100:
		return 100
	case rate <= 500:
		return 100 - (rate-100)/400*100
	default:
		return 0
	}
}

func healthAction(level domain.HealthLevel) string {
	switch level {
	case domain.HealthExcellent:
		return "Market conditions optimal - safe to execute large orders"
	case domain.HealthGood:
		return "Market conditions healthy - normal trading recommended"
	case domain.HealthFair:
		return "Market conditions acceptable - use limit orders and monitor closely"
	case domain.HealthPoor:
		return "Market conditions degraded - reduce position sizes and avoid market orders"
	default:
		return "Market conditions unhealthy - avoid trading until conditions improve"
	}
}
