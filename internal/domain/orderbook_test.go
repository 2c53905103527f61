package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func sampleBook() *OrderBook {
	b := NewOrderBook("btcusdt")
	b.SetBid(dec("100.1"), dec("2"))
	b.SetBid(dec("100.2"), dec("1"))
	b.SetBid(dec("100.0"), dec("5"))
	b.SetAsk(dec("100.5"), dec("3"))
	b.SetAsk(dec("100.4"), dec("1.5"))
	b.SetAsk(dec("100.9"), dec("4"))
	b.LastUpdateID = 42
	b.LastEventTime = 1_700_000_000_000
	return b
}

func TestOrderBookOrdering(t *testing.T) {
	b := sampleBook()

	require.Equal(t, "BTCUSDT", b.Symbol)

	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.True(t, bid.Price.Equal(dec("100.2")))

	ask, ok := b.BestAsk()
	require.True(t, ok)
	assert.True(t, ask.Price.Equal(dec("100.4")))

	tops := b.TopBids(2)
	require.Len(t, tops, 2)
	assert.True(t, tops[0].Price.Equal(dec("100.2")))
	assert.True(t, tops[1].Price.Equal(dec("100.1")))

	asks := b.TopAsks(10)
	require.Len(t, asks, 3)
	assert.True(t, asks[0].Price.Equal(dec("100.4")))
	assert.True(t, asks[2].Price.Equal(dec("100.9")))
}

func TestOrderBookZeroQtyRemovesLevel(t *testing.T) {
	b := sampleBook()
	b.SetBid(dec("100.2"), decimal.Zero)

	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.True(t, bid.Price.Equal(dec("100.1")))
	assert.Equal(t, 2, b.BidCount())
}

func TestOrderBookApplyDelta(t *testing.T) {
	b := sampleBook()

	d := DepthDelta{
		FirstUpdateID: 43,
		FinalUpdateID: 45,
		Bids: []PriceLevel{
			{Price: dec("100.3"), Qty: dec("7")},   // new level
			{Price: dec("100.0"), Qty: dec("0")},   // removal
			{Price: dec("100.1"), Qty: dec("2.5")}, // replace
		},
		Asks:      []PriceLevel{{Price: dec("100.4"), Qty: dec("0")}},
		EventTime: 1_700_000_001_000,
	}
	b.Apply(d)

	assert.Equal(t, int64(45), b.LastUpdateID)
	assert.Equal(t, int64(1_700_000_001_000), b.LastEventTime)

	bid, _ := b.BestBid()
	assert.True(t, bid.Price.Equal(dec("100.3")))
	ask, _ := b.BestAsk()
	assert.True(t, ask.Price.Equal(dec("100.5")))

	// Replaced level carries the new quantity.
	found := false
	b.AscendBids(func(l PriceLevel) bool {
		if l.Price.Equal(dec("100.1")) {
			found = true
			assert.True(t, l.Qty.Equal(dec("2.5")))
		}
		return true
	})
	assert.True(t, found)
}

func TestOrderBookApplyEmptyDeltaKeepsLevels(t *testing.T) {
	b := sampleBook()
	before := b.TopBids(10)

	b.Apply(DepthDelta{FirstUpdateID: 43, FinalUpdateID: 43, EventTime: b.LastEventTime})

	after := b.TopBids(10)
	require.Equal(t, len(before), len(after))
	for i := range before {
		assert.True(t, before[i].Price.Equal(after[i].Price))
		assert.True(t, before[i].Qty.Equal(after[i].Qty))
	}
}

func TestOrderBookCloneIsolation(t *testing.T) {
	b := sampleBook()
	c := b.Clone()

	b.SetBid(dec("101.0"), dec("9"))
	b.LastUpdateID = 99

	bid, _ := c.BestBid()
	assert.True(t, bid.Price.Equal(dec("100.2")), "clone must not see later writes")
	assert.Equal(t, int64(42), c.LastUpdateID)
}

func TestOrderBookCrossed(t *testing.T) {
	b := sampleBook()
	assert.False(t, b.Crossed())

	b.SetAsk(dec("100.15"), dec("1")) // below best bid 100.2
	assert.True(t, b.Crossed())

	empty := NewOrderBook("ETHUSDT")
	assert.False(t, empty.Crossed())
	assert.True(t, empty.Empty())
}
