package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Report section names. ReportOptions.IncludeSections draws from this set;
// the header and data-health sections are always rendered.
const (
	SectionPriceOverview  = "price_overview"
	SectionBookMetrics    = "orderbook_metrics"
	SectionLiquidity      = "liquidity_analysis"
	SectionMicrostructure = "market_microstructure"
	SectionAnomalies      = "market_anomalies"
	SectionHealth         = "microstructure_health"
	SectionDataHealth     = "data_health"
)

// KnownSections lists every selectable section in render order.
var KnownSections = []string{
	SectionPriceOverview,
	SectionBookMetrics,
	SectionLiquidity,
	SectionMicrostructure,
	SectionAnomalies,
	SectionHealth,
	SectionDataHealth,
}

// ReportOptions controls report generation. Zero values mean defaults.
type ReportOptions struct {
	// IncludeSections selects sections by name; nil or empty means all.
	IncludeSections []string `json:"include_sections,omitempty"`

	// VolumeWindowHours is the volume profile window, 1-168. Default 24.
	VolumeWindowHours int `json:"volume_window_hours,omitempty"`

	// OrderbookLevels is the depth analyzed per side, 1-100. Default 20.
	OrderbookLevels int `json:"orderbook_levels,omitempty"`
}

// WithDefaults returns a copy with zero fields replaced by their defaults.
func (o ReportOptions) WithDefaults() ReportOptions {
	if o.VolumeWindowHours == 0 {
		o.VolumeWindowHours = 24
	}
	if o.OrderbookLevels == 0 {
		o.OrderbookLevels = 20
	}
	return o
}

// Validate checks option ranges after defaulting.
func (o ReportOptions) Validate() error {
	if o.VolumeWindowHours < 1 || o.VolumeWindowHours > 168 {
		return fmt.Errorf("volume_window_hours must be between 1 and 168, got %d: %w",
			o.VolumeWindowHours, ErrInvalidRequest)
	}
	if o.OrderbookLevels < 1 || o.OrderbookLevels > 100 {
		return fmt.Errorf("orderbook_levels must be between 1 and 100, got %d: %w",
			o.OrderbookLevels, ErrInvalidRequest)
	}
	known := make(map[string]bool, len(KnownSections))
	for _, s := range KnownSections {
		known[s] = true
	}
	for _, s := range o.IncludeSections {
		if !known[s] {
			return fmt.Errorf("unknown section %q: %w", s, ErrInvalidRequest)
		}
	}
	return nil
}

// Includes reports whether the named section should be rendered.
func (o ReportOptions) Includes(section string) bool {
	if len(o.IncludeSections) == 0 {
		return true
	}
	for _, s := range o.IncludeSections {
		if s == section {
			return true
		}
	}
	return false
}

// CacheKey derives the report-cache key from the symbol and the full option
// tuple, so differing options never collide on the same entry. The section
// list is sorted for determinism.
func (o ReportOptions) CacheKey(symbol string) string {
	sections := "all"
	if len(o.IncludeSections) > 0 {
		sorted := append([]string(nil), o.IncludeSections...)
		sort.Strings(sorted)
		sections = strings.Join(sorted, ",")
	}
	return fmt.Sprintf("%s:sections:%s;volume:%d;levels:%d",
		NormalizeSymbol(symbol), sections, o.VolumeWindowHours, o.OrderbookLevels)
}

// MarketReport is the finished, markdown-formatted intelligence report.
// Cache hits return the stored value unchanged, metadata included.
type MarketReport struct {
	Markdown         string   `json:"markdown"`
	Symbol           string   `json:"symbol"`
	GeneratedAt      int64    `json:"generated_at_ms"`
	DataAgeMS        int64    `json:"data_age_ms"`
	FailedSections   []string `json:"failed_sections"`
	GenerationTimeMS int64    `json:"generation_time_ms"`
}
