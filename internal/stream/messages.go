package stream

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ForgeTrade/mcp-trader-sub000/internal/domain"
)

// depthUpdateMessage is the venue's incremental depth event.
type depthUpdateMessage struct {
	EventType     string      `json:"e"`
	EventTime     int64       `json:"E"`
	Symbol        string      `json:"s"`
	FirstUpdateID int64       `json:"U"`
	FinalUpdateID int64       `json:"u"`
	Bids          [][2]string `json:"b"`
	Asks          [][2]string `json:"a"`
}

func (m depthUpdateMessage) toDomain() (domain.DepthDelta, error) {
	bids, err := parseLevels(m.Bids)
	if err != nil {
		return domain.DepthDelta{}, fmt.Errorf("%w: depth update bids: %v", domain.ErrParse, err)
	}
	asks, err := parseLevels(m.Asks)
	if err != nil {
		return domain.DepthDelta{}, fmt.Errorf("%w: depth update asks: %v", domain.ErrParse, err)
	}
	return domain.DepthDelta{
		Symbol:        domain.NormalizeSymbol(m.Symbol),
		FirstUpdateID: m.FirstUpdateID,
		FinalUpdateID: m.FinalUpdateID,
		Bids:          bids,
		Asks:          asks,
		EventTime:     m.EventTime,
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

// tickerMessage is the venue's rolling 24h ticker event.
type tickerMessage struct {
	EventType          string `json:"e"`
	EventTime          int64  `json:"E"`
	Symbol             string `json:"s"`
	PriceChange        string `json:"p"`
	PriceChangePercent string `json:"P"`
	WeightedAvgPrice   string `json:"w"`
	LastPrice          string `json:"c"`
	HighPrice          string `json:"h"`
	LowPrice           string `json:"l"`
	Volume             string `json:"v"`
	QuoteVolume        string `json:"q"`
}

func (m tickerMessage) toDomain() (domain.Ticker24h, error) {
	t := domain.Ticker24h{
		Symbol:    domain.NormalizeSymbol(m.Symbol),
		EventTime: m.EventTime,
	}
	for _, f := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"p", m.PriceChange, &t.PriceChange},
		{"P", m.PriceChangePercent, &t.PriceChangePercent},
		{"w", m.WeightedAvgPrice, &t.WeightedAvgPrice},
		{"c", m.LastPrice, &t.LastPrice},
		{"h", m.HighPrice, &t.HighPrice},
		{"l", m.LowPrice, &t.LowPrice},
		{"v", m.Volume, &t.Volume},
		{"q", m.QuoteVolume, &t.QuoteVolume},
	} {
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return domain.Ticker24h{}, fmt.Errorf("%w: ticker field %s %q: %v", domain.ErrParse, f.name, f.raw, err)
		}
		*f.dst = d
	}
	return t, nil
}

// aggTradeMessage is the venue's aggregate trade event.
type aggTradeMessage struct {
	EventType    string `json:"e"`
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	TradeID      int64  `json:"a"`
	Price        string `json:"p"`
	Qty          string `json:"q"`
	TradeTime    int64  `json:"T"`
	BuyerIsMaker bool   `json:"m"`
}

func (m aggTradeMessage) toDomain() (domain.AggTrade, error) {
	price, err := decimal.NewFromString(m.Price)
	if err != nil {
		return domain.AggTrade{}, fmt.Errorf("%w: trade price %q: %v", domain.ErrParse, m.Price, err)
	}
	qty, err := decimal.NewFromString(m.Qty)
	if err != nil {
		return domain.AggTrade{}, fmt.Errorf("%w: trade qty %q: %v", domain.ErrParse, m.Qty, err)
	}
	return domain.AggTrade{
		Symbol:       domain.NormalizeSymbol(m.Symbol),
		TradeID:      m.TradeID,
		Price:        price,
		Qty:          qty,
		TradeTime:    m.TradeTime,
		BuyerIsMaker: m.BuyerIsMaker,
	}, nil
}

// eventEnvelope identifies the event type of a raw frame. EventTime must be
// declared too: encoding/json matches tags case-insensitively, so without it
// the numeric "E" key would bind to the string "e" field and fail decoding.
type eventEnvelope struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
}

func eventType(raw []byte) (string, error) {
	var env eventEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("%w: frame envelope: %v", domain.ErrParse, err)
	}
	return env.EventType, nil
}

func unmarshalFrame(raw []byte, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrParse, err)
	}
	return nil
}
