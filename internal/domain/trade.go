package domain

import "github.com/shopspring/decimal"

// AggTrade is one aggregate trade from the exchange trade stream or the
// recent-trades endpoint.
type AggTrade struct {
	Symbol       string
	TradeID      int64
	Price        decimal.Decimal
	Qty          decimal.Decimal
	TradeTime    int64 // milliseconds
	BuyerIsMaker bool
}

// Ticker24h is the 24 hour rolling window ticker for a symbol. Values are
// kept as exact decimals; rendering happens at the report boundary.
type Ticker24h struct {
	Symbol             string
	LastPrice          decimal.Decimal
	PriceChange        decimal.Decimal
	PriceChangePercent decimal.Decimal
	HighPrice          decimal.Decimal
	LowPrice           decimal.Decimal
	Volume             decimal.Decimal
	QuoteVolume        decimal.Decimal
	WeightedAvgPrice   decimal.Decimal
	EventTime          int64 // milliseconds
}

// Kline is a single candlestick.
type Kline struct {
	Symbol      string
	OpenTime    int64
	CloseTime   int64
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	Volume      decimal.Decimal
	QuoteVolume decimal.Decimal
	Trades      int64
}
