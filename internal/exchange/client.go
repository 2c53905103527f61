// Package exchange is the REST client for the venue's public market data API.
package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ForgeTrade/mcp-trader-sub000/internal/domain"
)

const maxRetryAttempts = 3

// Acquirer gates outbound requests. Satisfied by *ratelimit.Limiter.
// Backoff is called when the venue throttles so other callers sharing the
// limiter stop burning requests into a known 429 window.
type Acquirer interface {
	Acquire(ctx context.Context) error
	Backoff(penalty time.Duration)
}

// Client talks to the venue's REST API. All market data endpoints used here
// are public; the API key header and query signature are attached only when
// credentials are configured.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	recvWindow int64
	httpClient *http.Client
	limiter    Acquirer
	log        *slog.Logger
}

// New creates a REST client rooted at baseURL.
func New(baseURL, apiKey, apiSecret string, recvWindow int64, timeout time.Duration, limiter Acquirer, log *slog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		recvWindow: recvWindow,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: limiter,
		log:     log.With(slog.String("component", "exchange")),
	}
}

// ServerTime returns the venue's clock in unix milliseconds.
func (c *Client) ServerTime(ctx context.Context) (int64, error) {
	body, err := c.get(ctx, "/api/v3/time", nil, false)
	if err != nil {
		return 0, fmt.Errorf("exchange: server time: %w", err)
	}
	var resp serverTimeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("exchange: decode server time: %w: %v", domain.ErrParse, err)
	}
	return resp.ServerTime, nil
}

// Depth fetches a full order book snapshot for symbol with up to limit levels
// per side.
func (c *Client) Depth(ctx context.Context, symbol string, limit int) (domain.DepthSnapshot, error) {
	q := url.Values{}
	q.Set("symbol", domain.NormalizeSymbol(symbol))
	q.Set("limit", strconv.Itoa(limit))

	body, err := c.get(ctx, "/api/v3/depth", q, false)
	if err != nil {
		return domain.DepthSnapshot{}, fmt.Errorf("exchange: depth %s: %w", symbol, err)
	}
	var resp depthResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.DepthSnapshot{}, fmt.Errorf("exchange: decode depth: %w: %v", domain.ErrParse, err)
	}
	snap, err := resp.toDomain(symbol)
	if err != nil {
		return domain.DepthSnapshot{}, fmt.Errorf("exchange: depth %s: %w", symbol, err)
	}
	return snap, nil
}

// Ticker24h fetches the rolling 24-hour ticker for symbol.
func (c *Client) Ticker24h(ctx context.Context, symbol string) (domain.Ticker24h, error) {
	q := url.Values{}
	q.Set("symbol", domain.NormalizeSymbol(symbol))

	body, err := c.get(ctx, "/api/v3/ticker/24hr", q, false)
	if err != nil {
		return domain.Ticker24h{}, fmt.Errorf("exchange: ticker %s: %w", symbol, err)
	}
	var resp tickerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Ticker24h{}, fmt.Errorf("exchange: decode ticker: %w: %v", domain.ErrParse, err)
	}
	t, err := resp.toDomain()
	if err != nil {
		return domain.Ticker24h{}, fmt.Errorf("exchange: ticker %s: %w", symbol, err)
	}
	return t, nil
}

// AggTrades fetches recent aggregate trades for symbol, newest last.
func (c *Client) AggTrades(ctx context.Context, symbol string, limit int) ([]domain.AggTrade, error) {
	q := url.Values{}
	q.Set("symbol", domain.NormalizeSymbol(symbol))
	q.Set("limit", strconv.Itoa(limit))

	body, err := c.get(ctx, "/api/v3/aggTrades", q, false)
	if err != nil {
		return nil, fmt.Errorf("exchange: agg trades %s: %w", symbol, err)
	}
	var rows []aggTradeResponse
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("exchange: decode agg trades: %w: %v", domain.ErrParse, err)
	}
	trades := make([]domain.AggTrade, 0, len(rows))
	for _, row := range rows {
		t, err := row.toDomain(symbol)
		if err != nil {
			return nil, fmt.Errorf("exchange: agg trades %s: %w", symbol, err)
		}
		trades = append(trades, t)
	}
	return trades, nil
}

// Klines fetches candlesticks for symbol at the given interval (e.g. "1h").
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]domain.Kline, error) {
	q := url.Values{}
	q.Set("symbol", domain.NormalizeSymbol(symbol))
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))

	body, err := c.get(ctx, "/api/v3/klines", q, false)
	if err != nil {
		return nil, fmt.Errorf("exchange: klines %s: %w", symbol, err)
	}
	var rows []klineRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("exchange: decode klines: %w: %v", domain.ErrParse, err)
	}
	klines := make([]domain.Kline, 0, len(rows))
	for _, row := range rows {
		k, err := row.toDomain(symbol)
		if err != nil {
			return nil, fmt.Errorf("exchange: klines %s: %w", symbol, err)
		}
		klines = append(klines, k)
	}
	return klines, nil
}

// get performs a GET request with rate limiting, optional request signing,
// and the venue's retry policy: 429 responses are retried up to three times
// honoring Retry-After, a single 5xx is retried once, and 418/403 are fatal.
func (c *Client) get(ctx context.Context, path string, query url.Values, signed bool) ([]byte, error) {
	var lastErr error
	serverRetries := 0

	for attempt := 0; attempt <= maxRetryAttempts; attempt++ {
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, err
		}

		body, status, retryAfter, err := c.doOnce(ctx, path, query, signed)
		if err == nil {
			return body, nil
		}
		lastErr = err

		switch {
		case status == http.StatusTooManyRequests:
			if attempt == maxRetryAttempts {
				return nil, fmt.Errorf("retries exhausted: %w", lastErr)
			}
			delay := retryAfter
			if delay < 0 {
				delay = time.Duration(1<<attempt) * time.Second
			}
			c.limiter.Backoff(delay)
			c.log.Warn("throttled by venue, backing off",
				slog.String("path", path),
				slog.Duration("delay", delay),
				slog.Int("attempt", attempt+1))
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}
		case status >= 500:
			if serverRetries >= 1 {
				return nil, lastErr
			}
			serverRetries++
			c.log.Warn("server error, retrying once",
				slog.String("path", path),
				slog.Int("status", status))
			if err := sleepCtx(ctx, time.Second); err != nil {
				return nil, err
			}
		default:
			return nil, lastErr
		}
	}
	return nil, lastErr
}

// doOnce executes one HTTP round trip. It returns the status code alongside
// the error so get can apply the retry policy.
func (c *Client) doOnce(ctx context.Context, path string, query url.Values, signed bool) ([]byte, int, time.Duration, error) {
	if query == nil {
		query = url.Values{}
	}
	if signed {
		if c.apiSecret == "" {
			return nil, 0, 0, fmt.Errorf("%w: signed request without credentials", domain.ErrInvalidRequest)
		}
		query.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		if c.recvWindow > 0 {
			query.Set("recvWindow", strconv.FormatInt(c.recvWindow, 10))
		}
		query.Set("signature", c.sign(query.Encode()))
	}

	u := c.baseURL + path
	if encoded := query.Encode(); encoded != "" {
		u += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, 0, ctx.Err()
		}
		return nil, 0, 0, fmt.Errorf("%w: %v", domain.ErrConnection, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, 0, fmt.Errorf("%w: read response: %v", domain.ErrConnection, err)
	}

	if resp.StatusCode == http.StatusOK {
		return body, resp.StatusCode, 0, nil
	}

	retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
	return nil, resp.StatusCode, retryAfter, statusError(resp.StatusCode, body)
}

// statusError maps a non-200 response to a domain error.
func statusError(status int, body []byte) error {
	var ae apiError
	msg := string(body)
	if err := json.Unmarshal(body, &ae); err == nil && ae.Msg != "" {
		msg = fmt.Sprintf("code %d: %s", ae.Code, ae.Msg)
	}

	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: http 429: %s", domain.ErrRateLimited, msg)
	case status == http.StatusTeapot, status == http.StatusForbidden:
		// IP ban or WAF block. Retrying makes it worse.
		return fmt.Errorf("%w: http %d: %s", domain.ErrConnection, status, msg)
	case status >= 500:
		return fmt.Errorf("%w: http %d: %s", domain.ErrConnection, status, msg)
	case status >= 400:
		return fmt.Errorf("%w: http %d: %s", domain.ErrInvalidRequest, status, msg)
	default:
		return fmt.Errorf("%w: unexpected http %d: %s", domain.ErrInternal, status, msg)
	}
}

// sign computes the hex HMAC-SHA256 of payload with the API secret.
func (c *Client) sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// parseRetryAfter returns the advertised delay, or -1 when the header is
// absent or unparseable so the caller falls back to exponential backoff.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return -1
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return -1
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
