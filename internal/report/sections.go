package report

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ForgeTrade/mcp-trader-sub000/internal/domain"
)

// section is one report block: either rendered markdown or the error that
// prevented it. Errored sections degrade to a placeholder instead of failing
// the report.
type section struct {
	name  string
	title string
	body  string
	err   error
}

func (s section) render() string {
	// A section may carry both an error and a partially built body (the
	// liquidity section degrades per subsection); the body wins.
	if s.body != "" {
		return s.body
	}
	if s.err == nil {
		return s.body
	}
	return sectionHeader(s.title, 2) + fmt.Sprintf("**[Data Unavailable: %s]**\n\n", unavailableReason(s.err))
}

// unavailableReason maps a section error to the reason shown in its
// degradation placeholder.
func unavailableReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrInsufficientData):
		return "insufficient data"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate limited"
	case errors.Is(err, domain.ErrNotReady):
		return "order book not ready"
	default:
		return "data source unavailable"
	}
}

// buildHeader renders the report title and metadata table. The header is not
// selectable; it is always present.
func buildHeader(symbol string, generatedAtMS, dataAgeMS int64) string {
	var b strings.Builder
	b.WriteString(sectionHeader("Market Report: "+symbol, 1))
	b.WriteString(buildTable(
		[]string{"Metric", "Value"},
		[][]string{
			{"Symbol", symbol},
			{"Generated At", formatTimestamp(generatedAtMS)},
			{"Data Age", fmt.Sprintf("%d ms (%s)", dataAgeMS, freshness(dataAgeMS))},
		},
	))
	b.WriteByte('\n')
	return b.String()
}

func buildPriceOverview(t *domain.Ticker24h, err error) section {
	s := section{name: domain.SectionPriceOverview, title: "Price Overview", err: err}
	if err != nil {
		return s
	}

	changePct, _ := t.PriceChangePercent.Float64()
	trend := "flat"
	if changePct > 0 {
		trend = "up"
	} else if changePct < 0 {
		trend = "down"
	}

	var b strings.Builder
	b.WriteString(sectionHeader(s.title, 2))
	b.WriteString(buildTable(
		[]string{"Metric", "Value"},
		[][]string{
			{"Current Price", "$" + t.LastPrice.String()},
			{"24h Change", fmt.Sprintf("%s%% (%s)", t.PriceChangePercent.String(), trend)},
			{"24h High", "$" + t.HighPrice.String()},
			{"24h Low", "$" + t.LowPrice.String()},
			{"24h Volume", t.Volume.String()},
			{"24h Quote Volume", "$" + t.QuoteVolume.String()},
			{"Weighted Avg Price", "$" + t.WeightedAvgPrice.String()},
		},
	))
	b.WriteByte('\n')
	s.body = b.String()
	return s
}

func buildBookMetrics(m *domain.OrderBookMetrics, err error) section {
	s := section{name: domain.SectionBookMetrics, title: "Order Book Metrics", err: err}
	if err != nil {
		return s
	}

	spreadQuality := "Wide"
	if m.SpreadBps < 10 {
		spreadQuality = "Tight"
	} else if m.SpreadBps < 50 {
		spreadQuality = "Moderate"
	}
	imbalance := "Balanced"
	if m.ImbalanceRatio > 1.2 {
		imbalance = "Buy Pressure"
	} else if m.ImbalanceRatio < 0.8 {
		imbalance = "Sell Pressure"
	}

	var b strings.Builder
	b.WriteString(sectionHeader(s.title, 2))
	if m.Crossed {
		b.WriteString("**Warning: crossed book (best ask below best bid). Metrics reflect a transient state.**\n\n")
	}
	b.WriteString(buildTable(
		[]string{"Metric", "Value"},
		[][]string{
			{"Best Bid", "$" + m.BestBid.String()},
			{"Best Ask", "$" + m.BestAsk.String()},
			{"Spread", fmt.Sprintf("%s bps (%s)", formatFloat(m.SpreadBps, 2), spreadQuality)},
			{"Microprice", "$" + formatFloat(m.Microprice, 2)},
			{"Bid Volume (Top 20)", formatFloat(m.BidVolume, 4)},
			{"Ask Volume (Top 20)", formatFloat(m.AskVolume, 4)},
			{"Imbalance Ratio", fmt.Sprintf("%s (%s)", formatFloat(m.ImbalanceRatio, 3), imbalance)},
		},
	))
	b.WriteByte('\n')
	s.body = b.String()
	return s
}

// buildLiquidity renders walls, the volume profile and detected vacuums. The
// profile and vacuums degrade independently: a missing profile still leaves
// the wall analysis in place, but any failed input marks the whole section
// failed so callers can surface it.
func buildLiquidity(m *domain.OrderBookMetrics, metricsErr error, profile *domain.VolumeProfile, profileErr error, vacuums []domain.LiquidityVacuum, hours int) section {
	s := section{name: domain.SectionLiquidity, title: "Liquidity Analysis"}
	if metricsErr != nil && profileErr != nil {
		s.err = metricsErr
		return s
	}
	if profileErr != nil {
		s.err = profileErr
	} else if metricsErr != nil {
		s.err = metricsErr
	}

	var b strings.Builder
	b.WriteString(sectionHeader(s.title, 2))

	if metricsErr != nil {
		b.WriteString(fmt.Sprintf("**[Data Unavailable: %s]**\n\n", unavailableReason(metricsErr)))
	} else {
		if len(m.BidWalls) == 0 && len(m.AskWalls) == 0 {
			b.WriteString("No significant liquidity walls detected.\n\n")
		} else {
			b.WriteString("### Liquidity Walls\n\n")
			if len(m.BidWalls) > 0 {
				b.WriteString("**Buy Walls (Support):**\n")
				b.WriteString(buildList(wallItems(m.BidWalls)))
				b.WriteByte('\n')
			}
			if len(m.AskWalls) > 0 {
				b.WriteString("**Sell Walls (Resistance):**\n")
				b.WriteString(buildList(wallItems(m.AskWalls)))
				b.WriteByte('\n')
			}
		}
	}

	b.WriteString(fmt.Sprintf("### Volume Profile (%dh)\n\n", hours))
	if profileErr != nil {
		b.WriteString(fmt.Sprintf("**[Data Unavailable: %s]**\n\n", unavailableReason(profileErr)))
	} else {
		b.WriteString(buildTable(
			[]string{"Metric", "Value"},
			[][]string{
				{"Point of Control", "$" + profile.PointOfControl.String()},
				{"Value Area High", "$" + profile.ValueAreaHigh.String()},
				{"Value Area Low", "$" + profile.ValueAreaLow.String()},
				{"Total Volume", profile.TotalVolume.String()},
				{"Price Range", fmt.Sprintf("$%s - $%s", profile.PriceRangeLow.String(), profile.PriceRangeHigh.String())},
			},
		))
		b.WriteByte('\n')
	}

	if len(vacuums) > 0 {
		b.WriteString("### Liquidity Vacuums\n\n")
		items := make([]string, 0, len(vacuums))
		for _, v := range vacuums {
			items = append(items, fmt.Sprintf("$%s - $%s: %s deficit (%s)",
				v.PriceRangeLow.String(), v.PriceRangeHigh.String(),
				formatFloat(v.DeficitPct, 1)+"%", v.Impact))
		}
		b.WriteString(buildList(items))
		b.WriteByte('\n')
	}

	s.body = b.String()
	return s
}

func wallItems(walls []domain.Wall) []string {
	if len(walls) > 5 {
		walls = walls[:5]
	}
	items := make([]string, 0, len(walls))
	for _, w := range walls {
		items = append(items, fmt.Sprintf("$%s @ %s units", w.Price.String(), w.Qty.String()))
	}
	return items
}

func buildMicrostructure(flow *domain.OrderFlowResult, err error) section {
	s := section{name: domain.SectionMicrostructure, title: "Market Microstructure", err: err}
	if err != nil {
		return s
	}

	var b strings.Builder
	b.WriteString(sectionHeader(s.title, 2))
	b.WriteString(fmt.Sprintf("**Order Flow:** %s\n\n", flow.Direction))
	b.WriteString(buildTable(
		[]string{"Metric", "Value"},
		[][]string{
			{"Window", fmt.Sprintf("%d s", flow.WindowSecs)},
			{"Bid Flow Rate", formatFloat(flow.BidFlowRate, 2) + " adds/s"},
			{"Ask Flow Rate", formatFloat(flow.AskFlowRate, 2) + " adds/s"},
			{"Net Flow", formatFloat(flow.NetFlow, 2)},
			{"Cumulative Delta", formatFloat(flow.CumulativeDelta, 4)},
		},
	))
	b.WriteByte('\n')
	s.body = b.String()
	return s
}

func buildAnomalies(anomalies []domain.Anomaly, err error) section {
	s := section{name: domain.SectionAnomalies, title: "Market Anomalies", err: err}
	if err != nil {
		return s
	}

	var b strings.Builder
	b.WriteString(sectionHeader(s.title, 2))
	if len(anomalies) == 0 {
		b.WriteString("**Status:** No anomalies detected\n\n")
	} else {
		for _, a := range anomalies {
			b.WriteString(fmt.Sprintf("### %s (%s)\n\n", a.Type, a.Severity))
			b.WriteString(fmt.Sprintf("Confidence: %s\n\n", formatFloat(a.Confidence, 2)))
			b.WriteString(fmt.Sprintf("**Recommended Action:** %s\n\n", a.RecommendedAction))
		}
	}
	s.body = b.String()
	return s
}

func buildHealth(h *domain.MicrostructureHealth, err error) section {
	s := section{name: domain.SectionHealth, title: "Microstructure Health", err: err}
	if err != nil {
		return s
	}

	var b strings.Builder
	b.WriteString(sectionHeader(s.title, 2))
	b.WriteString(fmt.Sprintf("**Overall:** %s / 100 (%s)\n\n", formatFloat(h.OverallScore, 1), h.Level))
	b.WriteString(buildTable(
		[]string{"Component", "Score"},
		[][]string{
			{"Spread Stability", formatFloat(h.SpreadStability, 1)},
			{"Liquidity Depth", formatFloat(h.LiquidityDepth, 1)},
			{"Flow Balance", formatFloat(h.FlowBalance, 1)},
			{"Update Rate", formatFloat(h.UpdateRate, 1)},
		},
	))
	b.WriteByte('\n')
	b.WriteString(fmt.Sprintf("**Recommendation:** %s\n\n", h.RecommendedAction))
	s.body = b.String()
	return s
}

// buildDataHealth renders feed connectivity and freshness. It never errors;
// degraded inputs are part of its content.
func buildDataHealth(hr domain.HealthReport, dataAgeMS int64) section {
	s := section{name: domain.SectionDataHealth, title: "Data Health Status"}

	var b strings.Builder
	b.WriteString(sectionHeader(s.title, 2))
	b.WriteString(fmt.Sprintf("**Overall Status:** %s\n\n", hr.Status))
	rows := [][]string{
		{"Active Symbols", fmt.Sprintf("%d", hr.ActiveSymbols)},
		{"Connected Streams", fmt.Sprintf("%d", hr.ConnectedStreams)},
		{"Data Freshness", fmt.Sprintf("%s (%d ms)", freshness(dataAgeMS), dataAgeMS)},
	}
	if hr.Reason != "" {
		rows = append(rows, []string{"Detail", hr.Reason})
	}
	b.WriteString(buildTable([]string{"Component", "Status"}, rows))
	b.WriteByte('\n')
	s.body = b.String()
	return s
}

func buildFooter(generationMS int64) string {
	return fmt.Sprintf("---\n\n*Report generated in %d ms*\n", generationMS)
}
