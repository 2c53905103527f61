package analytics

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ForgeTrade/mcp-trader-sub000/internal/domain"
)

// Quote-stuffing thresholds.
const (
	stuffingRateThreshold = 500.0 // updates per second
	stuffingFillRateMax   = 0.10
)

// Iceberg thresholds: refill count above this multiple of the median, with a
// z-score past the 95% two-sided critical value.
const (
	icebergMultiplier = 5.0
	icebergZCritical  = 1.96
	icebergMinConf    = 0.95
)

// Flash-crash thresholds.
const (
	crashDepthLossPct    = 80.0
	crashSpreadMult      = 10.0
	crashCancellationPct = 90.0
)

// DetectQuoteStuffing flags abnormal update rates paired with a low fill
// rate over a snapshot window. The fill rate is supplied by the caller since
// it needs trade data the snapshots do not carry.
func DetectQuoteStuffing(symbol string, snaps []domain.BookSnapshot, fillRate float64, now time.Time) (domain.Anomaly, bool) {
	if len(snaps) < 2 {
		return domain.Anomaly{}, false
	}
	duration := float64(snaps[len(snaps)-1].Timestamp - snaps[0].Timestamp)
	if duration < 1 {
		duration = 1
	}
	// Rate counts snapshots, not transitions, matching the health kernel's
	// update-rate component so the severity cut-offs bind identically.
	updateRate := float64(len(snaps)) / duration
	if updateRate <= stuffingRateThreshold || fillRate >= stuffingFillRateMax {
		return domain.Anomaly{}, false
	}

	var severity domain.Severity
	switch {
	case updateRate > 1000:
		severity = domain.SeverityCritical
	case updateRate > 750:
		severity = domain.SeverityHigh
	default:
		severity = domain.SeverityMedium
	}

	return domain.Anomaly{
		ID:                uuid.New(),
		Symbol:            symbol,
		Type:              domain.AnomalyQuoteStuffing,
		Confidence:        math.Min(1, (updateRate-stuffingRateThreshold)/stuffingRateThreshold),
		Severity:          severity,
		RecommendedAction: stuffingAction(severity),
		Details: map[string]float64{
			"update_rate": updateRate,
			"fill_rate":   fillRate,
		},
		DetectedAt: now,
	}, true
}

func stuffingAction(severity domain.Severity) string {
	switch severity {
	case domain.SeverityCritical:
		return "Suspend trading immediately - likely market manipulation"
	case domain.SeverityHigh:
		return "Avoid placing orders - wait for normal conditions"
	case domain.SeverityMedium:
		return "Use limit orders only - avoid market orders"
	default:
		return "Monitor closely - consider reducing position size"
	}
}

// DetectIcebergOrder flags a price level whose refill count is an extreme
// outlier against the median refill rate across levels. Confidence is the
// normal CDF of the refill count under N(median, 0.2*median); the anomaly is
// reported only past the 95% confidence floor.
func DetectIcebergOrder(symbol string, priceLevel decimal.Decimal, refillEvents int, medianRefillRate float64, now time.Time) (domain.Anomaly, bool) {
	if medianRefillRate <= 0 {
		return domain.Anomaly{}, false
	}
	refills := float64(refillEvents)
	multiplier := refills / medianRefillRate
	if multiplier <= icebergMultiplier {
		return domain.Anomaly{}, false
	}
	z := (refills - medianRefillRate) / (medianRefillRate * 0.2)
	if z <= icebergZCritical {
		return domain.Anomaly{}, false
	}
	confidence := normalCDF(z)
	if confidence < icebergMinConf {
		return domain.Anomaly{}, false
	}

	return domain.Anomaly{
		ID:                uuid.New(),
		Symbol:            symbol,
		Type:              domain.AnomalyIcebergOrder,
		Confidence:        confidence,
		Severity:          domain.SeverityFromConfidence(confidence),
		AffectedLevels:    []decimal.Decimal{priceLevel},
		RecommendedAction: "Large hidden order detected - price may act as support/resistance",
		Details: map[string]float64{
			"refill_events":          refills,
			"z_score":                z,
			"refill_rate_multiplier": multiplier,
			"median_refill_rate":     medianRefillRate,
		},
		DetectedAt: now,
	}, true
}

// DetectFlashCrashRisk compares the current book snapshot against a baseline
// for simultaneous depth collapse, spread blowout and heavy cancellations.
// The cancellation rate is supplied by the caller. A detection is always
// Critical.
func DetectFlashCrashRisk(symbol string, baseline, current domain.BookSnapshot, cancellationRate float64, now time.Time) (domain.Anomaly, bool) {
	baseDepth := baseline.TotalDepth()
	var depthLossPct float64
	if baseDepth > 0 {
		depthLossPct = (baseDepth - current.TotalDepth()) / baseDepth * 100
	}

	baseSpread := snapshotSpread(baseline)
	currSpread := snapshotSpread(current)
	var spreadMult float64
	if baseSpread > 0 {
		spreadMult = currSpread / baseSpread
	}

	if depthLossPct <= crashDepthLossPct || spreadMult <= crashSpreadMult || cancellationRate <= crashCancellationPct {
		return domain.Anomaly{}, false
	}

	confidence := math.Min(1, (depthLossPct/crashDepthLossPct+spreadMult/crashSpreadMult+cancellationRate/crashCancellationPct)/3)

	return domain.Anomaly{
		ID:                uuid.New(),
		Symbol:            symbol,
		Type:              domain.AnomalyFlashCrashRisk,
		Confidence:        confidence,
		Severity:          domain.SeverityCritical,
		RecommendedAction: "CRITICAL: Close positions and avoid trading - flash crash imminent",
		Details: map[string]float64{
			"depth_loss_pct":    depthLossPct,
			"spread_multiplier": spreadMult,
			"cancellation_rate": cancellationRate,
		},
		DetectedAt: now,
	}, true
}

// refillDropPct: a level losing more than this share of its quantity between
// consecutive snapshots counts as one consumption cycle.
const refillDropPct = 0.20

// CountRefills tallies, per price, how often a level's quantity dropped by
// more than 20% between consecutive snapshots, across both sides. A price
// that keeps getting consumed yet stays on the book is being refilled.
func CountRefills(snaps []domain.BookSnapshot) map[string]int {
	counts := make(map[string]int)
	for i := 1; i < len(snaps); i++ {
		countSideRefills(snaps[i-1].Bids, snaps[i].Bids, counts)
		countSideRefills(snaps[i-1].Asks, snaps[i].Asks, counts)
	}
	return counts
}

func countSideRefills(prev, curr [][2]string, counts map[string]int) {
	currQty := make(map[string]decimal.Decimal, len(curr))
	for _, l := range curr {
		if q, err := decimal.NewFromString(l[1]); err == nil {
			currQty[l[0]] = q
		}
	}
	keep := decimal.NewFromFloat(1 - refillDropPct)
	for _, l := range prev {
		q, ok := currQty[l[0]]
		if !ok {
			continue
		}
		prevQty, err := decimal.NewFromString(l[1])
		if err != nil || !prevQty.IsPositive() {
			continue
		}
		if q.LessThan(prevQty.Mul(keep)) {
			counts[l[0]]++
		}
	}
}

// snapshotSpread is ask minus bid for a snapshot, or MaxFloat64 when either
// side is empty.
func snapshotSpread(s domain.BookSnapshot) float64 {
	bid, okBid := s.BestBid()
	ask, okAsk := s.BestAsk()
	if !okBid || !okAsk {
		return math.MaxFloat64
	}
	b, _ := bid.Float64()
	a, _ := ask.Float64()
	return a - b
}

// normalCDF is the standard normal cumulative distribution at z.
func normalCDF(z float64) float64 {
	return 0.5 * math.Erfc(-z/math.Sqrt2)
}
