package analytics

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ForgeTrade/mcp-trader-sub000/internal/domain"
)

// Volume-profile period bounds, in hours.
const (
	MinProfileHours = 1
	MaxProfileHours = 168
)

// MinProfileTrades is the minimum trade count for a statistically usable
// profile.
const MinProfileTrades = 1000

// valueAreaPct is the share of total volume the value area must cover.
var valueAreaPct = decimal.NewFromFloat(0.70)

// profileTargetBins is the nominal histogram resolution; the bin size is the
// price range divided by this, floored at ten ticks.
const profileTargetBins = 100

// minBinSize is ten ticks at the venue's 0.01 tick size.
var minBinSize = decimal.NewFromFloat(0.1)

// vacuumThresholdPct: a depth level is liquidity-deficient when its volume is
// below this fraction of the median level volume.
var vacuumThresholdPct = decimal.NewFromFloat(0.20)

// GenerateVolumeProfile bins the traded volume of a period into a price
// histogram and locates the point of control and the 70% value area.
func GenerateVolumeProfile(symbol string, trades []domain.StoredTrade, hours int, now time.Time) (domain.VolumeProfile, error) {
	if hours < MinProfileHours || hours > MaxProfileHours {
		return domain.VolumeProfile{}, fmt.Errorf("analytics: volume profile: period %dh outside [%d,%d]: %w",
			hours, MinProfileHours, MaxProfileHours, domain.ErrInvalidRequest)
	}
	if len(trades) < MinProfileTrades {
		return domain.VolumeProfile{}, fmt.Errorf("analytics: volume profile: %d trades, need %d: %w",
			len(trades), MinProfileTrades, domain.ErrInsufficientData)
	}

	type parsed struct {
		price decimal.Decimal
		qty   decimal.Decimal
	}
	points := make([]parsed, 0, len(trades))
	var minPrice, maxPrice decimal.Decimal
	for _, t := range trades {
		p, err := decimal.NewFromString(t.Price)
		if err != nil {
			continue
		}
		q, err := decimal.NewFromString(t.Qty)
		if err != nil {
			continue
		}
		if len(points) == 0 {
			minPrice, maxPrice = p, p
		} else {
			if p.LessThan(minPrice) {
				minPrice = p
			}
			if p.GreaterThan(maxPrice) {
				maxPrice = p
			}
		}
		points = append(points, parsed{price: p, qty: q})
	}
	if len(points) < MinProfileTrades {
		return domain.VolumeProfile{}, fmt.Errorf("analytics: volume profile: %d parseable trades, need %d: %w",
			len(points), MinProfileTrades, domain.ErrInsufficientData)
	}

	binSize := maxPrice.Sub(minPrice).Div(decimal.NewFromInt(profileTargetBins))
	if binSize.LessThan(minBinSize) {
		binSize = minBinSize
	}

	type bucket struct {
		volume decimal.Decimal
		trades int64
	}
	buckets := make(map[int64]*bucket)
	var totalVolume decimal.Decimal
	for _, pt := range points {
		idx := pt.price.Sub(minPrice).Div(binSize).Floor().IntPart()
		b := buckets[idx]
		if b == nil {
			b = &bucket{}
			buckets[idx] = b
		}
		b.volume = b.volume.Add(pt.qty)
		b.trades++
		totalVolume = totalVolume.Add(pt.qty)
	}

	indices := make([]int64, 0, len(buckets))
	for idx := range buckets {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	half := binSize.Div(decimal.NewFromInt(2))
	histogram := make([]domain.VolumeBin, 0, len(indices))
	pocPos := 0
	for i, idx := range indices {
		b := buckets[idx]
		histogram = append(histogram, domain.VolumeBin{
			PriceLevel: minPrice.Add(binSize.Mul(decimal.NewFromInt(idx))).Add(half),
			Volume:     b.volume,
			TradeCount: b.trades,
		})
		if b.volume.GreaterThan(histogram[pocPos].Volume) {
			pocPos = i
		}
	}

	low, high := expandValueArea(histogram, pocPos, totalVolume)

	return domain.VolumeProfile{
		Symbol:         symbol,
		PeriodStart:    now.Add(-time.Duration(hours) * time.Hour),
		PeriodEnd:      now,
		PriceRangeLow:  minPrice,
		PriceRangeHigh: maxPrice,
		BinSize:        binSize,
		Histogram:      histogram,
		TotalVolume:    totalVolume,
		PointOfControl: histogram[pocPos].PriceLevel,
		ValueAreaLow:   histogram[low].PriceLevel,
		ValueAreaHigh:  histogram[high].PriceLevel,
		ComputedAt:     now,
	}, nil
}

// expandValueArea grows an index range outward from the point of control,
// taking the neighbor bin with the larger volume each step (upward on ties),
// until the range holds at least 70% of total volume. It returns the final
// low and high positions in the histogram.
func expandValueArea(histogram []domain.VolumeBin, pocPos int, totalVolume decimal.Decimal) (low, high int) {
	low, high = pocPos, pocPos
	target := totalVolume.Mul(valueAreaPct)
	accumulated := histogram[pocPos].Volume
	for accumulated.LessThan(target) && (low > 0 || high < len(histogram)-1) {
		var below, above decimal.Decimal
		if low > 0 {
			below = histogram[low-1].Volume
		}
		if high < len(histogram)-1 {
			above = histogram[high+1].Volume
		}
		if low > 0 && (high == len(histogram)-1 || below.GreaterThan(above)) {
			low--
			accumulated = accumulated.Add(below)
		} else {
			high++
			accumulated = accumulated.Add(above)
		}
	}
	return low, high
}

// IdentifyLiquidityVacuums scans the resting depth of both sides for
// contiguous price runs whose volume sits below 20% of the median level
// volume. Each run becomes one vacuum with its expected price impact.
func IdentifyLiquidityVacuums(book *domain.OrderBook, now time.Time) []domain.LiquidityVacuum {
	levels := make([]domain.PriceLevel, 0, book.BidCount()+book.AskCount())
	book.AscendBids(func(l domain.PriceLevel) bool {
		levels = append(levels, l)
		return true
	})
	book.AscendAsks(func(l domain.PriceLevel) bool {
		levels = append(levels, l)
		return true
	})
	if len(levels) == 0 {
		return nil
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].Price.LessThan(levels[j].Price) })

	qtys := make([]decimal.Decimal, len(levels))
	for i, l := range levels {
		qtys[i] = l.Qty
	}
	median := medianDecimal(qtys)
	if !median.IsPositive() {
		return nil
	}
	threshold := median.Mul(vacuumThresholdPct)

	var vacuums []domain.LiquidityVacuum
	runStart := -1
	flush := func(end int) {
		if runStart < 0 {
			return
		}
		first, last := levels[runStart], levels[end]
		actual := first.Qty.Add(last.Qty).Div(decimal.NewFromInt(2))
		deficit, _ := median.Sub(actual).Div(median).Mul(decimal.NewFromInt(100)).Float64()
		vacuums = append(vacuums, domain.LiquidityVacuum{
			ID:             uuid.New(),
			Symbol:         book.Symbol,
			PriceRangeLow:  first.Price,
			PriceRangeHigh: last.Price,
			DeficitPct:     deficit,
			MedianVolume:   median,
			ActualVolume:   actual,
			Impact:         domain.ImpactFromDeficit(deficit),
			DetectedAt:     now,
		})
		runStart = -1
	}
	for i, l := range levels {
		if l.Qty.LessThan(threshold) {
			if runStart < 0 {
				runStart = i
			}
			continue
		}
		flush(i - 1)
	}
	flush(len(levels) - 1)
	return vacuums
}
