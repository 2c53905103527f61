package exchange

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ForgeTrade/mcp-trader-sub000/internal/domain"
)

type noopLimiter struct{}

func (noopLimiter) Acquire(context.Context) error { return nil }
func (noopLimiter) Backoff(time.Duration)         {}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, "", "", 0, 5*time.Second, noopLimiter{}, discardLogger())
}

func TestDepth(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/depth", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		w.Write([]byte(`{"lastUpdateId":160,"bids":[["100.50","3.0"],["100.40","1.5"]],"asks":[["100.60","2.0"]]}`))
	}))

	snap, err := c.Depth(context.Background(), "btcusdt", 100)
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", snap.Symbol)
	assert.Equal(t, int64(160), snap.LastUpdateID)
	require.Len(t, snap.Bids, 2)
	assert.Equal(t, "100.5", snap.Bids[0].Price.String())
	require.Len(t, snap.Asks, 1)
}

func TestDepthBadNumeric(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"lastUpdateId":1,"bids":[["not-a-price","3.0"]],"asks":[]}`))
	}))

	_, err := c.Depth(context.Background(), "BTCUSDT", 100)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrParse))
}

func TestTicker24h(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/24hr", r.URL.Path)
		w.Write([]byte(`{
			"symbol":"BTCUSDT","lastPrice":"50000.10","priceChange":"250.00",
			"priceChangePercent":"0.50","weightedAvgPrice":"49900.00",
			"highPrice":"51000.00","lowPrice":"49000.00",
			"volume":"12345.6","quoteVolume":"610000000","closeTime":1700000000000}`))
	}))

	tk, err := c.Ticker24h(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "50000.1", tk.LastPrice.String())
	assert.Equal(t, "0.5", tk.PriceChangePercent.String())
	assert.Equal(t, int64(1700000000000), tk.EventTime)
}

func TestAggTrades(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"a":101,"p":"50000.00","q":"0.25","T":1700000000500,"m":true}]`))
	}))

	trades, err := c.AggTrades(context.Background(), "BTCUSDT", 500)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, int64(101), trades[0].TradeID)
	assert.True(t, trades[0].BuyerIsMaker)
}

func TestKlines(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1h", r.URL.Query().Get("interval"))
		w.Write([]byte(`[[1700000000000,"49000","51000","48500","50000","120.5",1700003599999,"6000000",4321,"60.2","3000000","0"]]`))
	}))

	klines, err := c.Klines(context.Background(), "BTCUSDT", "1h", 24)
	require.NoError(t, err)
	require.Len(t, klines, 1)
	assert.Equal(t, "50000", klines[0].Close.String())
	assert.Equal(t, int64(4321), klines[0].Trades)
}

func TestRetryAfterThrottle(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"code":-1003,"msg":"Too many requests."}`))
			return
		}
		w.Write([]byte(`{"serverTime":1700000000000}`))
	}))

	ms, err := c.ServerTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000), ms)
	assert.Equal(t, int32(2), calls.Load())
}

func TestThrottleExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := c.ServerTime(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRateLimited))
	assert.Equal(t, int32(maxRetryAttempts+1), calls.Load())
}

func TestServerErrorRetriedOnce(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"serverTime":42}`))
	}))

	ms, err := c.ServerTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), ms)
	assert.Equal(t, int32(2), calls.Load())
}

func TestBanStatusIsFatal(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTeapot)
	}))

	_, err := c.ServerTime(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConnection))
	assert.Equal(t, int32(1), calls.Load(), "418 must not be retried")
}

func TestInvalidSymbolMapsToInvalidRequest(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}))

	_, err := c.Ticker24h(context.Background(), "NOPE")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidRequest))
	assert.Contains(t, err.Error(), "Invalid symbol")
}

func TestSignProducesHexHMAC(t *testing.T) {
	c := New("http://x", "key", "secret", 0, time.Second, noopLimiter{}, discardLogger())
	// Known vector: HMAC-SHA256("secret", "symbol=BTCUSDT") hex encoded.
	sig := c.sign("symbol=BTCUSDT")
	assert.Len(t, sig, 64)
	assert.Equal(t, c.sign("symbol=BTCUSDT"), sig)
	assert.NotEqual(t, c.sign("symbol=ETHUSDT"), sig)
}

func TestLimiterErrorShortCircuits(t *testing.T) {
	srvCalled := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		srvCalled = true
	}))
	defer srv.Close()

	limitErr := errors.New("queue full")
	c := New(srv.URL, "", "", 0, time.Second, limiterFunc(func(context.Context) error { return limitErr }), discardLogger())

	_, err := c.ServerTime(context.Background())
	require.ErrorIs(t, err, limitErr)
	assert.False(t, srvCalled)
}

type limiterFunc func(context.Context) error

func (f limiterFunc) Acquire(ctx context.Context) error { return f(ctx) }
func (limiterFunc) Backoff(time.Duration)               {}

type recordingLimiter struct {
	backoffs atomic.Int32
}

func (*recordingLimiter) Acquire(context.Context) error { return nil }
func (l *recordingLimiter) Backoff(time.Duration)       { l.backoffs.Add(1) }

func TestThrottleNotifiesLimiter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"serverTime":7}`))
	}))
	defer srv.Close()

	lim := &recordingLimiter{}
	c := New(srv.URL, "", "", 0, 5*time.Second, lim, discardLogger())

	_, err := c.ServerTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), lim.backoffs.Load(), "a 429 must push the shared limiter into backoff")
}
