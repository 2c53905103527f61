package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MCPTRADER_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MCPTRADER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject credentials at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.RestBaseURL, "MCPTRADER_EXCHANGE_REST_BASE_URL")
	setStr(&cfg.Exchange.WsBaseURL, "MCPTRADER_EXCHANGE_WS_BASE_URL")
	setStr(&cfg.Exchange.ApiKey, "MCPTRADER_EXCHANGE_API_KEY")
	setStr(&cfg.Exchange.ApiSecret, "MCPTRADER_EXCHANGE_API_SECRET")
	setInt64(&cfg.Exchange.RecvWindow, "MCPTRADER_EXCHANGE_RECV_WINDOW_MS")
	setDuration(&cfg.Exchange.Timeout, "MCPTRADER_EXCHANGE_TIMEOUT")

	// ── Book ──
	setInt(&cfg.Book.SymbolCap, "MCPTRADER_BOOK_SYMBOL_CAP")
	setInt64(&cfg.Book.StalenessThresholdMs, "MCPTRADER_BOOK_STALENESS_THRESHOLD_MS")
	setInt(&cfg.Book.SnapshotDepth, "MCPTRADER_BOOK_SNAPSHOT_DEPTH")

	// ── Storage ──
	setStr(&cfg.Storage.DataDir, "MCPTRADER_STORAGE_DATA_DIR")
	setInt(&cfg.Storage.SnapshotRetentionDays, "MCPTRADER_STORAGE_SNAPSHOT_RETENTION_DAYS")
	setInt64(&cfg.Storage.SizeLimitBytes, "MCPTRADER_STORAGE_SIZE_LIMIT_BYTES")

	// ── Rate limit ──
	setInt(&cfg.RateLimit.RequestsPerMinute, "MCPTRADER_RATE_LIMIT_REQUESTS_PER_MINUTE")
	setDuration(&cfg.RateLimit.QueueTimeout, "MCPTRADER_RATE_LIMIT_QUEUE_TIMEOUT")

	// ── Report ──
	setDuration(&cfg.Report.CacheTTL, "MCPTRADER_REPORT_CACHE_TTL")
	setDuration(&cfg.Report.KernelTimeout, "MCPTRADER_REPORT_KERNEL_TIMEOUT")

	// ── Top-level ──
	setStringSlice(&cfg.Symbols, "MCPTRADER_SYMBOLS")
	setStr(&cfg.LogLevel, "MCPTRADER_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
