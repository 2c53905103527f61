package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ForgeTrade/mcp-trader-sub000/internal/domain"
)

type fakeReports struct {
	lastSymbol string
	lastOpts   domain.ReportOptions
	report     domain.MarketReport
	err        error
}

func (f *fakeReports) Generate(ctx context.Context, symbol string, opts domain.ReportOptions) (domain.MarketReport, error) {
	f.lastSymbol = symbol
	f.lastOpts = opts
	return f.report, f.err
}

func newTestServer(reports ReportService) *Server {
	return NewServer(reports, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestInvokeGenerateMarketReport(t *testing.T) {
	reports := &fakeReports{report: domain.MarketReport{Symbol: "BTCUSDT", Markdown: "# Market Report: BTCUSDT"}}
	s := newTestServer(reports)

	payload := json.RawMessage(`{"symbol":"btcusdt","options":{"volume_window_hours":48}}`)
	res, err := s.Invoke(context.Background(), ToolGenerateMarketReport, payload)
	require.NoError(t, err)

	rep, ok := res.(domain.MarketReport)
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", rep.Symbol)
	assert.Equal(t, "btcusdt", reports.lastSymbol)
	assert.Equal(t, 48, reports.lastOpts.VolumeWindowHours)
}

func TestInvokeUnknownTool(t *testing.T) {
	s := newTestServer(&fakeReports{})
	_, err := s.Invoke(context.Background(), "place_order", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestInvokeMissingSymbol(t *testing.T) {
	s := newTestServer(&fakeReports{})
	_, err := s.Invoke(context.Background(), ToolGenerateMarketReport, json.RawMessage(`{"options":{}}`))
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestInvokeMalformedPayload(t *testing.T) {
	s := newTestServer(&fakeReports{})
	_, err := s.Invoke(context.Background(), ToolGenerateMarketReport, json.RawMessage(`{symbol}`))
	assert.ErrorIs(t, err, domain.ErrParse)
}

func TestInvokePropagatesServiceError(t *testing.T) {
	s := newTestServer(&fakeReports{err: domain.ErrNotReady})
	_, err := s.Invoke(context.Background(), ToolGenerateMarketReport, json.RawMessage(`{"symbol":"BTCUSDT"}`))
	assert.ErrorIs(t, err, domain.ErrNotReady)
}

func TestReadResourceMarketSummary(t *testing.T) {
	reports := &fakeReports{report: domain.MarketReport{Symbol: "ETHUSDT", Markdown: "# Market Report: ETHUSDT"}}
	s := newTestServer(reports)

	body, mime, err := s.ReadResource(context.Background(), "market/ETHUSDT")
	require.NoError(t, err)

	assert.Equal(t, "text/markdown", mime)
	assert.Equal(t, "# Market Report: ETHUSDT", string(body))
	assert.Equal(t, "ETHUSDT", reports.lastSymbol)
}

func TestReadResourceUnknownURI(t *testing.T) {
	s := newTestServer(&fakeReports{})

	_, _, err := s.ReadResource(context.Background(), "orders/ETHUSDT")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, _, err = s.ReadResource(context.Background(), "market/")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestListCapabilities(t *testing.T) {
	s := newTestServer(&fakeReports{})

	caps := s.ListCapabilities()

	require.Len(t, caps.Tools, 1)
	assert.Equal(t, ToolGenerateMarketReport, caps.Tools[0].Name)
	require.Len(t, caps.Resources, 1)
	assert.Equal(t, "market/<SYMBOL>", caps.Resources[0].URIPattern)
	assert.NotNil(t, caps.Prompts)
}
