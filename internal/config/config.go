// Package config defines the top-level configuration for the market data
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ForgeTrade/mcp-trader-sub000/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MCPTRADER_* environment variables.
type Config struct {
	Exchange  ExchangeConfig  `toml:"exchange"`
	Book      BookConfig      `toml:"book"`
	Storage   StorageConfig   `toml:"storage"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Report    ReportConfig    `toml:"report"`
	Symbols   []string        `toml:"symbols"`
	LogLevel  string          `toml:"log_level"`
}

// ExchangeConfig holds exchange API endpoints and credentials. Credentials are
// only needed for signed endpoints; all market data used here is public.
type ExchangeConfig struct {
	RestBaseURL string   `toml:"rest_base_url"`
	WsBaseURL   string   `toml:"ws_base_url"`
	ApiKey      string   `toml:"api_key"`
	ApiSecret   string   `toml:"api_secret"`
	RecvWindow  int64    `toml:"recv_window_ms"`
	Timeout     duration `toml:"timeout"`
}

// BookConfig holds order book maintenance parameters.
type BookConfig struct {
	SymbolCap            int   `toml:"symbol_cap"`
	StalenessThresholdMs int64 `toml:"staleness_threshold_ms"`
	SnapshotDepth        int   `toml:"snapshot_depth"`
}

// StorageConfig holds embedded store parameters.
type StorageConfig struct {
	DataDir               string `toml:"data_dir"`
	SnapshotRetentionDays int    `toml:"snapshot_retention_days"`
	SizeLimitBytes        int64  `toml:"size_limit_bytes"`
}

// RateLimitConfig holds outbound request rate limiting parameters.
type RateLimitConfig struct {
	RequestsPerMinute int      `toml:"requests_per_minute"`
	QueueTimeout      duration `toml:"queue_timeout"`
}

// ReportConfig holds report generation parameters.
type ReportConfig struct {
	CacheTTL      duration `toml:"cache_ttl"`
	KernelTimeout duration `toml:"kernel_timeout"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "30s", "1m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "30s" or "1m".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			RestBaseURL: "https://api.binance.com",
			WsBaseURL:   "wss://stream.binance.com:9443/ws",
			RecvWindow:  5000,
			Timeout:     duration{10 * time.Second},
		},
		Book: BookConfig{
			SymbolCap:            20,
			StalenessThresholdMs: 5000,
			SnapshotDepth:        domain.SnapshotDepth,
		},
		Storage: StorageConfig{
			DataDir:               "./data/analytics",
			SnapshotRetentionDays: 7,
			SizeLimitBytes:        1 << 30, // 1 GiB
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 1000,
			QueueTimeout:      duration{30 * time.Second},
		},
		Report: ReportConfig{
			CacheTTL:      duration{60 * time.Second},
			KernelTimeout: duration{time.Second},
		},
		Symbols:  []string{"BTCUSDT"},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchange endpoints
	if c.Exchange.RestBaseURL == "" {
		errs = append(errs, "exchange: rest_base_url must not be empty")
	}
	if c.Exchange.WsBaseURL == "" {
		errs = append(errs, "exchange: ws_base_url must not be empty")
	}
	if c.Exchange.Timeout.Duration <= 0 {
		errs = append(errs, "exchange: timeout must be > 0")
	}
	// api_key and api_secret must be set together, or both empty.
	ak := c.Exchange.ApiKey != ""
	as := c.Exchange.ApiSecret != ""
	if ak != as {
		errs = append(errs, "exchange: api_key and api_secret must be set together")
	}

	// Book
	if c.Book.SymbolCap < 1 {
		errs = append(errs, "book: symbol_cap must be >= 1")
	}
	if c.Book.StalenessThresholdMs < 100 {
		errs = append(errs, fmt.Sprintf("book: staleness_threshold_ms must be >= 100, got %d", c.Book.StalenessThresholdMs))
	}
	if c.Book.SnapshotDepth < 1 {
		errs = append(errs, "book: snapshot_depth must be >= 1")
	}

	// Storage
	if c.Storage.DataDir == "" {
		errs = append(errs, "storage: data_dir must not be empty")
	}
	if c.Storage.SnapshotRetentionDays < 1 {
		errs = append(errs, "storage: snapshot_retention_days must be >= 1")
	}
	if c.Storage.SizeLimitBytes < 1<<20 {
		errs = append(errs, "storage: size_limit_bytes must be at least 1 MiB")
	}

	// Rate limit
	if c.RateLimit.RequestsPerMinute < 1 {
		errs = append(errs, "rate_limit: requests_per_minute must be >= 1")
	}
	if c.RateLimit.QueueTimeout.Duration <= 0 {
		errs = append(errs, "rate_limit: queue_timeout must be > 0")
	}

	// Report
	if c.Report.CacheTTL.Duration <= 0 {
		errs = append(errs, "report: cache_ttl must be > 0")
	}
	if c.Report.KernelTimeout.Duration <= 0 {
		errs = append(errs, "report: kernel_timeout must be > 0")
	}

	// Symbols
	if len(c.Symbols) == 0 {
		errs = append(errs, "symbols: at least one symbol must be configured")
	}
	if len(c.Symbols) > c.Book.SymbolCap {
		errs = append(errs, fmt.Sprintf("symbols: %d configured, exceeds symbol_cap %d", len(c.Symbols), c.Book.SymbolCap))
	}
	seen := make(map[string]bool, len(c.Symbols))
	for _, s := range c.Symbols {
		norm := domain.NormalizeSymbol(s)
		if norm == "" {
			errs = append(errs, "symbols: empty symbol entry")
			continue
		}
		if seen[norm] {
			errs = append(errs, fmt.Sprintf("symbols: duplicate entry %q", norm))
		}
		seen[norm] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
