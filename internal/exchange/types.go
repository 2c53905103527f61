package exchange

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ForgeTrade/mcp-trader-sub000/internal/domain"
)

// Wire types mirror the venue's JSON payloads. Numeric fields arrive as
// strings and are parsed into decimals before leaving this package.

type serverTimeResponse struct {
	ServerTime int64 `json:"serverTime"`
}

type depthResponse struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

func (r depthResponse) toDomain(symbol string) (domain.DepthSnapshot, error) {
	bids, err := parseLevels(r.Bids)
	if err != nil {
		return domain.DepthSnapshot{}, fmt.Errorf("%w: depth bids: %v", domain.ErrParse, err)
	}
	asks, err := parseLevels(r.Asks)
	if err != nil {
		return domain.DepthSnapshot{}, fmt.Errorf("%w: depth asks: %v", domain.ErrParse, err)
	}
	return domain.DepthSnapshot{
		Symbol:       domain.NormalizeSymbol(symbol),
		LastUpdateID: r.LastUpdateID,
		Bids:         bids,
		Asks:         asks,
	}, nil
}

func parseLevels(raw [][2]string) ([]domain.PriceLevel, error) {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		price, err := decimal.NewFromString(pair[0])
		if err != nil {
			return nil, fmt.Errorf("bad price %q: %v", pair[0], err)
		}
		qty, err := decimal.NewFromString(pair[1])
		if err != nil {
			return nil, fmt.Errorf("bad qty %q: %v", pair[1], err)
		}
		levels = append(levels, domain.PriceLevel{Price: price, Qty: qty})
	}
	return levels, nil
}

type tickerResponse struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChange        string `json:"priceChange"`
	PriceChangePercent string `json:"priceChangePercent"`
	WeightedAvgPrice   string `json:"weightedAvgPrice"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	Volume             string `json:"volume"`
	QuoteVolume        string `json:"quoteVolume"`
	CloseTime          int64  `json:"closeTime"`
}

func (r tickerResponse) toDomain() (domain.Ticker24h, error) {
	fields := map[string]string{
		"lastPrice":          r.LastPrice,
		"priceChange":        r.PriceChange,
		"priceChangePercent": r.PriceChangePercent,
		"weightedAvgPrice":   r.WeightedAvgPrice,
		"highPrice":          r.HighPrice,
		"lowPrice":           r.LowPrice,
		"volume":             r.Volume,
		"quoteVolume":        r.QuoteVolume,
	}
	parsed := make(map[string]decimal.Decimal, len(fields))
	for name, v := range fields {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return domain.Ticker24h{}, fmt.Errorf("%w: ticker %s %q: %v", domain.ErrParse, name, v, err)
		}
		parsed[name] = d
	}
	return domain.Ticker24h{
		Symbol:             domain.NormalizeSymbol(r.Symbol),
		LastPrice:          parsed["lastPrice"],
		PriceChange:        parsed["priceChange"],
		PriceChangePercent: parsed["priceChangePercent"],
		WeightedAvgPrice:   parsed["weightedAvgPrice"],
		HighPrice:          parsed["highPrice"],
		LowPrice:           parsed["lowPrice"],
		Volume:             parsed["volume"],
		QuoteVolume:        parsed["quoteVolume"],
		EventTime:          r.CloseTime,
	}, nil
}

type aggTradeResponse struct {
	TradeID      int64  `json:"a"`
	Price        string `json:"p"`
	Qty          string `json:"q"`
	Timestamp    int64  `json:"T"`
	BuyerIsMaker bool   `json:"m"`
}

func (r aggTradeResponse) toDomain(symbol string) (domain.AggTrade, error) {
	price, err := decimal.NewFromString(r.Price)
	if err != nil {
		return domain.AggTrade{}, fmt.Errorf("%w: trade price %q: %v", domain.ErrParse, r.Price, err)
	}
	qty, err := decimal.NewFromString(r.Qty)
	if err != nil {
		return domain.AggTrade{}, fmt.Errorf("%w: trade qty %q: %v", domain.ErrParse, r.Qty, err)
	}
	return domain.AggTrade{
		Symbol:       domain.NormalizeSymbol(symbol),
		TradeID:      r.TradeID,
		Price:        price,
		Qty:          qty,
		TradeTime:    r.Timestamp,
		BuyerIsMaker: r.BuyerIsMaker,
	}, nil
}

// klineRow is the venue's positional kline array:
// [openTime, open, high, low, close, volume, closeTime, quoteVolume, ...].
type klineRow []any

func (r klineRow) toDomain(symbol string) (domain.Kline, error) {
	if len(r) < 8 {
		return domain.Kline{}, fmt.Errorf("%w: kline row has %d fields", domain.ErrParse, len(r))
	}
	openTime, ok := r[0].(float64)
	if !ok {
		return domain.Kline{}, fmt.Errorf("%w: kline open time %v", domain.ErrParse, r[0])
	}
	closeTime, ok := r[6].(float64)
	if !ok {
		return domain.Kline{}, fmt.Errorf("%w: kline close time %v", domain.ErrParse, r[6])
	}
	strAt := func(i int, name string) (decimal.Decimal, error) {
		s, ok := r[i].(string)
		if !ok {
			return decimal.Decimal{}, fmt.Errorf("%w: kline %s %v", domain.ErrParse, name, r[i])
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("%w: kline %s %q: %v", domain.ErrParse, name, s, err)
		}
		return d, nil
	}
	open, err := strAt(1, "open")
	if err != nil {
		return domain.Kline{}, err
	}
	high, err := strAt(2, "high")
	if err != nil {
		return domain.Kline{}, err
	}
	low, err := strAt(3, "low")
	if err != nil {
		return domain.Kline{}, err
	}
	closePx, err := strAt(4, "close")
	if err != nil {
		return domain.Kline{}, err
	}
	volume, err := strAt(5, "volume")
	if err != nil {
		return domain.Kline{}, err
	}
	quoteVolume, err := strAt(7, "quoteVolume")
	if err != nil {
		return domain.Kline{}, err
	}
	var trades int64
	if len(r) > 8 {
		if n, ok := r[8].(float64); ok {
			trades = int64(n)
		}
	}
	return domain.Kline{
		Symbol:      domain.NormalizeSymbol(symbol),
		OpenTime:    int64(openTime),
		CloseTime:   int64(closeTime),
		Open:        open,
		High:        high,
		Low:         low,
		Close:       closePx,
		Volume:      volume,
		QuoteVolume: quoteVolume,
		Trades:      trades,
	}, nil
}

// apiError is the venue's error envelope, e.g. {"code":-1121,"msg":"Invalid symbol."}.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}
