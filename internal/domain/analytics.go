package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FlowDirection is the categorical read of bid vs ask order flow.
type FlowDirection string

const (
	FlowStrongBuy    FlowDirection = "STRONG_BUY"
	FlowModerateBuy  FlowDirection = "MODERATE_BUY"
	FlowNeutral      FlowDirection = "NEUTRAL"
	FlowModerateSell FlowDirection = "MODERATE_SELL"
	FlowStrongSell   FlowDirection = "STRONG_SELL"
)

// FlowDirectionFromRates maps the bid/ask flow-rate ratio onto a direction.
// The guard cases keep a one-sided book from dividing by zero.
func FlowDirectionFromRates(bidRate, askRate float64) FlowDirection {
	if askRate == 0 {
		return FlowStrongBuy
	}
	if bidRate == 0 {
		return FlowStrongSell
	}
	ratio := bidRate / askRate
	switch {
	case ratio > 2.0:
		return FlowStrongBuy
	case ratio >= 1.2:
		return FlowModerateBuy
	case ratio >= 0.8:
		return FlowNeutral
	case ratio >= 0.5:
		return FlowModerateSell
	default:
		return FlowStrongSell
	}
}

// OrderFlowResult is the output of the order-flow kernel over one window.
type OrderFlowResult struct {
	Symbol          string
	WindowStart     time.Time
	WindowEnd       time.Time
	WindowSecs      int
	BidFlowRate     float64 // additions per second
	AskFlowRate     float64
	NetFlow         float64 // bid rate - ask rate
	Direction       FlowDirection
	CumulativeDelta float64
	ComputedAt      time.Time
}

// VolumeBin is one bucket of the volume-profile histogram.
type VolumeBin struct {
	PriceLevel decimal.Decimal
	Volume     decimal.Decimal
	TradeCount int64
}

// VolumeProfile is the traded-volume distribution over a time period along
// with its point of control and value area.
type VolumeProfile struct {
	Symbol         string
	PeriodStart    time.Time
	PeriodEnd      time.Time
	PriceRangeLow  decimal.Decimal
	PriceRangeHigh decimal.Decimal
	BinSize        decimal.Decimal
	Histogram      []VolumeBin // ascending by price
	TotalVolume    decimal.Decimal
	PointOfControl decimal.Decimal
	ValueAreaHigh  decimal.Decimal
	ValueAreaLow   decimal.Decimal
	ComputedAt     time.Time
}

// Severity grades how actionable a detected anomaly is.
type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// SeverityFromConfidence maps a detection confidence score onto a severity.
func SeverityFromConfidence(confidence float64) Severity {
	switch {
	case confidence > 0.95:
		return SeverityCritical
	case confidence > 0.85:
		return SeverityHigh
	case confidence > 0.7:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// AnomalyType names the microstructure anomaly classes the detector knows.
type AnomalyType string

const (
	AnomalyQuoteStuffing  AnomalyType = "quote_stuffing"
	AnomalyIcebergOrder   AnomalyType = "iceberg_order"
	AnomalyFlashCrashRisk AnomalyType = "flash_crash_risk"
)

// Anomaly is one detected microstructure anomaly. The symbol is always set,
// whichever detector produced it.
type Anomaly struct {
	ID                uuid.UUID
	Symbol            string
	Type              AnomalyType
	Confidence        float64
	Severity          Severity
	AffectedLevels    []decimal.Decimal
	RecommendedAction string
	Details           map[string]float64
	DetectedAt        time.Time
}

// HealthLevel labels a composite microstructure health score.
type HealthLevel string

const (
	HealthExcellent HealthLevel = "Excellent"
	HealthGood      HealthLevel = "Good"
	HealthFair      HealthLevel = "Fair"
	HealthPoor      HealthLevel = "Poor"
	HealthCritical  HealthLevel = "Critical"
)

// HealthLevelFromScore maps an overall score onto its label.
func HealthLevelFromScore(score float64) HealthLevel {
	switch {
	case score >= 80:
		return HealthExcellent
	case score >= 60:
		return HealthGood
	case score >= 40:
		return HealthFair
	case score >= 20:
		return HealthPoor
	default:
		return HealthCritical
	}
}

// MicrostructureHealth is the composite 0-100 market health assessment.
type MicrostructureHealth struct {
	Symbol            string
	OverallScore      float64
	SpreadStability   float64
	LiquidityDepth    float64
	FlowBalance       float64
	UpdateRate        float64
	Level             HealthLevel
	RecommendedAction string
	ComputedAt        time.Time
}

// ImpactLevel is the expected price-movement impact through a liquidity
// vacuum.
type ImpactLevel string

const (
	ImpactFastMovement     ImpactLevel = "FastMovement"
	ImpactModerateMovement ImpactLevel = "ModerateMovement"
	ImpactNegligible       ImpactLevel = "Negligible"
)

// ImpactFromDeficit maps a volume deficit percentage onto an impact level.
func ImpactFromDeficit(deficitPct float64) ImpactLevel {
	switch {
	case deficitPct >= 80:
		return ImpactFastMovement
	case deficitPct > 40:
		return ImpactModerateMovement
	default:
		return ImpactNegligible
	}
}

// LiquidityVacuum is a contiguous low-volume price range where each bin holds
// less than 20% of the median level volume.
type LiquidityVacuum struct {
	ID             uuid.UUID
	Symbol         string
	PriceRangeLow  decimal.Decimal
	PriceRangeHigh decimal.Decimal
	DeficitPct     float64
	MedianVolume   decimal.Decimal
	ActualVolume   decimal.Decimal
	Impact         ImpactLevel
	DetectedAt     time.Time
}

// WallSide marks which side of the book a liquidity wall sits on.
type WallSide string

const (
	WallBid WallSide = "bid"
	WallAsk WallSide = "ask"
)

// Wall is a resting level holding disproportionate volume (more than twice
// the median of the analyzed levels).
type Wall struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
	Side  WallSide
}

// SlippageEstimate is the VWAP-based fill estimate for one notional target.
type SlippageEstimate struct {
	NotionalUSD   float64
	BuySlipBps    float64
	SellSlipBps   float64
	BuyExhausted  bool // book too thin to fill the target on the ask side
	SellExhausted bool
}

// OrderBookMetrics are the L1 aggregates computed from a live book.
type OrderBookMetrics struct {
	Symbol         string
	Timestamp      int64 // milliseconds
	BestBid        decimal.Decimal
	BestAsk        decimal.Decimal
	SpreadBps      float64
	Microprice     float64
	BidVolume      float64 // top-N total
	AskVolume      float64
	ImbalanceRatio float64
	Crossed        bool
	BidWalls       []Wall
	AskWalls       []Wall
	Slippage       []SlippageEstimate
	Levels         int
}
