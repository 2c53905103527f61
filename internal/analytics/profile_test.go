package analytics

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ForgeTrade/mcp-trader-sub000/internal/domain"
)

func tradesAt(n int, price string) []domain.StoredTrade {
	out := make([]domain.StoredTrade, n)
	for i := range out {
		out[i] = domain.StoredTrade{Price: price, Qty: "1", TradeTime: int64(i), TradeID: int64(i)}
	}
	return out
}

func TestGenerateVolumeProfilePeriodBounds(t *testing.T) {
	trades := tradesAt(1000, "100")
	now := time.Now()

	for _, hours := range []int{0, 169} {
		_, err := GenerateVolumeProfile("BTCUSDT", trades, hours, now)
		assert.ErrorIs(t, err, domain.ErrInvalidRequest, strconv.Itoa(hours))
	}
	for _, hours := range []int{1, 168} {
		_, err := GenerateVolumeProfile("BTCUSDT", trades, hours, now)
		assert.NoError(t, err, strconv.Itoa(hours))
	}
}

func TestGenerateVolumeProfileNeedsThousandTrades(t *testing.T) {
	_, err := GenerateVolumeProfile("BTCUSDT", tradesAt(999, "100"), 24, time.Now())
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
}

func TestGenerateVolumeProfilePOCAndValueArea(t *testing.T) {
	trades := append(tradesAt(600, "100"), tradesAt(400, "101")...)

	p, err := GenerateVolumeProfile("BTCUSDT", trades, 24, time.Unix(1700000000, 0))
	require.NoError(t, err)

	assert.Equal(t, "100", p.PriceRangeLow.String())
	assert.Equal(t, "101", p.PriceRangeHigh.String())
	// one-unit range over 100 bins is below the ten-tick floor
	assert.Equal(t, "0.1", p.BinSize.String())
	assert.Equal(t, "1000", p.TotalVolume.String())

	require.Len(t, p.Histogram, 2)
	assert.Equal(t, "100.05", p.PointOfControl.String())
	assert.Equal(t, "100.05", p.ValueAreaLow.String())
	assert.Equal(t, "101.05", p.ValueAreaHigh.String())
	assert.Equal(t, int64(600), p.Histogram[0].TradeCount)
	assert.Equal(t, int64(400), p.Histogram[1].TradeCount)
}

func TestExpandValueAreaTieExpandsUpward(t *testing.T) {
	histogram := []domain.VolumeBin{
		{PriceLevel: dec("99"), Volume: dec("20")},
		{PriceLevel: dec("100"), Volume: dec("30")},
		{PriceLevel: dec("101"), Volume: dec("20")},
	}

	low, high := expandValueArea(histogram, 1, dec("70"))

	// 30 < 49 target, equal neighbors: upward first, then 70 >= 49
	assert.Equal(t, 1, low)
	assert.Equal(t, 2, high)
}

func TestIdentifyLiquidityVacuums(t *testing.T) {
	book := domain.NewOrderBook("BTCUSDT")
	for _, p := range []string{"90", "91", "92", "93", "94"} {
		book.SetBid(dec(p), dec("10"))
	}
	book.SetBid(dec("95"), dec("0.5"))
	book.SetBid(dec("96"), dec("0.5"))
	for _, p := range []string{"100", "101", "102", "103", "104"} {
		book.SetAsk(dec(p), dec("10"))
	}

	vacuums := IdentifyLiquidityVacuums(book, time.Unix(1700000000, 0))

	require.Len(t, vacuums, 1)
	v := vacuums[0]
	assert.Equal(t, "BTCUSDT", v.Symbol)
	assert.Equal(t, "95", v.PriceRangeLow.String())
	assert.Equal(t, "96", v.PriceRangeHigh.String())
	assert.Equal(t, "10", v.MedianVolume.String())
	assert.Equal(t, "0.5", v.ActualVolume.String())
	assert.InDelta(t, 95.0, v.DeficitPct, 1e-9)
	assert.Equal(t, domain.ImpactFastMovement, v.Impact)
	assert.NotEqual(t, v.ID.String(), "00000000-0000-0000-0000-000000000000")
}

func TestIdentifyLiquidityVacuumsTrailingRun(t *testing.T) {
	book := domain.NewOrderBook("BTCUSDT")
	book.SetBid(dec("100"), dec("10"))
	book.SetAsk(dec("101"), dec("10"))
	book.SetAsk(dec("102"), dec("10"))
	book.SetAsk(dec("103"), dec("1"))

	vacuums := IdentifyLiquidityVacuums(book, time.Now())

	require.Len(t, vacuums, 1)
	assert.Equal(t, "103", vacuums[0].PriceRangeLow.String())
	assert.Equal(t, "103", vacuums[0].PriceRangeHigh.String())
}

func TestIdentifyLiquidityVacuumsEmptyBook(t *testing.T) {
	assert.Nil(t, IdentifyLiquidityVacuums(domain.NewOrderBook("BTCUSDT"), time.Now()))
}
