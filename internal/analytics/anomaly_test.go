package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ForgeTrade/mcp-trader-sub000/internal/domain"
)

func burstSnaps(n int, ts int64) []domain.BookSnapshot {
	out := make([]domain.BookSnapshot, n)
	for i := range out {
		out[i] = snap(ts, [][2]string{{"100", "1"}}, [][2]string{{"101", "1"}})
	}
	return out
}

func TestDetectQuoteStuffing(t *testing.T) {
	// 502 snapshots at one timestamp: 502 updates over a clamped 1s window
	a, ok := DetectQuoteStuffing("BTCUSDT", burstSnaps(502, 100), 0.05, time.Unix(1700000000, 0))
	require.True(t, ok)

	assert.Equal(t, domain.AnomalyQuoteStuffing, a.Type)
	assert.Equal(t, domain.SeverityMedium, a.Severity)
	assert.Equal(t, "Use limit orders only - avoid market orders", a.RecommendedAction)
	assert.InDelta(t, 0.004, a.Confidence, 1e-9)
	assert.InDelta(t, 502.0, a.Details["update_rate"], 1e-9)
	assert.Equal(t, "BTCUSDT", a.Symbol)
}

func TestDetectQuoteStuffingSeverityTiers(t *testing.T) {
	cases := []struct {
		name  string
		snaps int
		want  domain.Severity
	}{
		{"medium", 700, domain.SeverityMedium},
		{"high", 800, domain.SeverityHigh},
		{"critical", 1200, domain.SeverityCritical},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a, ok := DetectQuoteStuffing("BTCUSDT", burstSnaps(tc.snaps, 100), 0.01, time.Now())
			require.True(t, ok)
			assert.Equal(t, tc.want, a.Severity)
		})
	}
}

func TestDetectQuoteStuffingNormalFillRate(t *testing.T) {
	_, ok := DetectQuoteStuffing("BTCUSDT", burstSnaps(1200, 100), 0.50, time.Now())
	assert.False(t, ok)
}

func TestDetectQuoteStuffingSlowUpdates(t *testing.T) {
	snaps := []domain.BookSnapshot{snap(100, nil, nil), snap(110, nil, nil)}
	_, ok := DetectQuoteStuffing("BTCUSDT", snaps, 0.01, time.Now())
	assert.False(t, ok)
}

func TestDetectIcebergOrder(t *testing.T) {
	a, ok := DetectIcebergOrder("BTCUSDT", dec("45000"), 20, 2.0, time.Unix(1700000000, 0))
	require.True(t, ok)

	assert.Equal(t, domain.AnomalyIcebergOrder, a.Type)
	assert.Equal(t, domain.SeverityCritical, a.Severity)
	assert.Greater(t, a.Confidence, 0.99)
	require.Len(t, a.AffectedLevels, 1)
	assert.Equal(t, "45000", a.AffectedLevels[0].String())
	assert.Equal(t, "Large hidden order detected - price may act as support/resistance", a.RecommendedAction)
	assert.InDelta(t, 45.0, a.Details["z_score"], 1e-9)
	assert.InDelta(t, 10.0, a.Details["refill_rate_multiplier"], 1e-9)
}

func TestDetectIcebergOrderBelowMultiplier(t *testing.T) {
	_, ok := DetectIcebergOrder("BTCUSDT", dec("45000"), 9, 2.0, time.Now())
	assert.False(t, ok)
}

func TestDetectIcebergOrderZeroMedian(t *testing.T) {
	_, ok := DetectIcebergOrder("BTCUSDT", dec("45000"), 20, 0, time.Now())
	assert.False(t, ok)
}

func TestDetectFlashCrashRisk(t *testing.T) {
	baseline := snap(100,
		[][2]string{{"100", "50"}, {"99", "50"}},
		[][2]string{{"100.1", "50"}, {"101", "50"}},
	)
	current := snap(160,
		[][2]string{{"90", "2"}},
		[][2]string{{"99", "2"}},
	)

	a, ok := DetectFlashCrashRisk("BTCUSDT", baseline, current, 95, time.Unix(1700000000, 0))
	require.True(t, ok)

	assert.Equal(t, domain.AnomalyFlashCrashRisk, a.Type)
	assert.Equal(t, domain.SeverityCritical, a.Severity)
	assert.Equal(t, 1.0, a.Confidence)
	assert.Equal(t, "CRITICAL: Close positions and avoid trading - flash crash imminent", a.RecommendedAction)
	assert.InDelta(t, 98.0, a.Details["depth_loss_pct"], 1e-9)
	assert.InDelta(t, 95.0, a.Details["cancellation_rate"], 1e-9)
}

func TestDetectFlashCrashRiskLowCancellations(t *testing.T) {
	baseline := snap(100, [][2]string{{"100", "50"}}, [][2]string{{"100.1", "50"}})
	current := snap(160, [][2]string{{"90", "1"}}, [][2]string{{"99", "1"}})

	_, ok := DetectFlashCrashRisk("BTCUSDT", baseline, current, 50, time.Now())
	assert.False(t, ok)
}

func TestNormalCDF(t *testing.T) {
	assert.InDelta(t, 0.5, normalCDF(0), 1e-9)
	assert.InDelta(t, 0.975, normalCDF(1.96), 1e-3)
	assert.InDelta(t, 1.0, normalCDF(10), 1e-9)
}
