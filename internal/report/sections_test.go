package report

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ForgeTrade/mcp-trader-sub000/internal/domain"
)

func TestBuildBookMetricsCrossedAnnotation(t *testing.T) {
	m := &domain.OrderBookMetrics{
		Symbol:  "BTCUSDT",
		BestBid: dec("101"),
		BestAsk: dec("100"),
		Crossed: true,
	}

	s := buildBookMetrics(m, nil)

	assert.Contains(t, s.body, "crossed book")
	assert.Contains(t, s.body, "## Order Book Metrics")
}

func TestSectionRenderUnavailable(t *testing.T) {
	s := section{name: "orderbook_metrics", title: "Order Book Metrics", err: domain.ErrTimeout}
	out := s.render()

	assert.Contains(t, out, "## Order Book Metrics")
	assert.Contains(t, out, "[Data Unavailable: timeout]")
}

func TestBuildLiquidityProfileTimeoutMarksSectionFailed(t *testing.T) {
	m := &domain.OrderBookMetrics{
		Symbol:   "BTCUSDT",
		BidWalls: []domain.Wall{{Price: dec("100"), Qty: dec("50"), Side: domain.WallBid}},
	}
	profileErr := fmt.Errorf("report: kernel volume_profile: budget exceeded: %w", domain.ErrTimeout)

	s := buildLiquidity(m, nil, &domain.VolumeProfile{}, profileErr, nil, 24)

	assert.ErrorIs(t, s.err, domain.ErrTimeout)
	out := s.render()
	assert.Contains(t, out, "### Volume Profile (24h)")
	assert.Contains(t, out, "[Data Unavailable: timeout]")
	assert.Contains(t, out, "Buy Walls (Support)")
}

func TestBuildLiquidityMetricsFailureKeepsProfile(t *testing.T) {
	profile := &domain.VolumeProfile{
		PointOfControl: dec("100.05"),
		ValueAreaHigh:  dec("100.2"),
		ValueAreaLow:   dec("99.9"),
		TotalVolume:    dec("1200"),
		PriceRangeLow:  dec("99"),
		PriceRangeHigh: dec("101"),
	}

	s := buildLiquidity(&domain.OrderBookMetrics{}, domain.ErrNotReady, profile, nil, nil, 24)

	assert.ErrorIs(t, s.err, domain.ErrNotReady)
	out := s.render()
	assert.Contains(t, out, "[Data Unavailable: order book not ready]")
	assert.Contains(t, out, "Point of Control")
}

func TestWallItemsCapped(t *testing.T) {
	walls := make([]domain.Wall, 8)
	for i := range walls {
		walls[i] = domain.Wall{Price: dec("100"), Qty: dec("9"), Side: domain.WallBid}
	}
	assert.Len(t, wallItems(walls), 5)
}

func TestFreshnessBands(t *testing.T) {
	assert.Equal(t, "Fresh", freshness(0))
	assert.Equal(t, "Fresh", freshness(999))
	assert.Equal(t, "Recent", freshness(1000))
	assert.Equal(t, "Recent", freshness(4999))
	assert.Equal(t, "Stale", freshness(5000))
}

func TestBuildAnomaliesListing(t *testing.T) {
	anomalies := []domain.Anomaly{{
		Symbol:            "BTCUSDT",
		Type:              domain.AnomalyQuoteStuffing,
		Confidence:        0.42,
		Severity:          domain.SeverityMedium,
		RecommendedAction: "Use limit orders only - avoid market orders",
		DetectedAt:        time.Now(),
	}}

	s := buildAnomalies(anomalies, nil)

	assert.Contains(t, s.body, "quote_stuffing")
	assert.Contains(t, s.body, "Medium")
	assert.Contains(t, s.body, "Use limit orders only")
	assert.NotContains(t, s.body, "No anomalies detected")
}

func TestBuildTable(t *testing.T) {
	out := buildTable([]string{"Name", "Value"}, [][]string{{"Price", "$100"}})
	assert.Contains(t, out, "| Name | Value |")
	assert.Contains(t, out, "| Price | $100 |")
}
