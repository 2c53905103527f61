package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportOptionsDefaults(t *testing.T) {
	o := ReportOptions{}.WithDefaults()
	assert.Equal(t, 24, o.VolumeWindowHours)
	assert.Equal(t, 20, o.OrderbookLevels)
	assert.Empty(t, o.IncludeSections)

	o = ReportOptions{VolumeWindowHours: 6, OrderbookLevels: 50}.WithDefaults()
	assert.Equal(t, 6, o.VolumeWindowHours)
	assert.Equal(t, 50, o.OrderbookLevels)
}

func TestReportOptionsValidate(t *testing.T) {
	cases := []struct {
		name string
		opts ReportOptions
		ok   bool
	}{
		{"defaults", ReportOptions{}.WithDefaults(), true},
		{"window low", ReportOptions{VolumeWindowHours: 0, OrderbookLevels: 20}, false},
		{"window high", ReportOptions{VolumeWindowHours: 169, OrderbookLevels: 20}, false},
		{"window max", ReportOptions{VolumeWindowHours: 168, OrderbookLevels: 20}, true},
		{"levels low", ReportOptions{VolumeWindowHours: 24, OrderbookLevels: 0}, false},
		{"levels high", ReportOptions{VolumeWindowHours: 24, OrderbookLevels: 101}, false},
		{"levels max", ReportOptions{VolumeWindowHours: 24, OrderbookLevels: 100}, true},
		{"unknown section", ReportOptions{VolumeWindowHours: 24, OrderbookLevels: 20, IncludeSections: []string{"moon_phase"}}, false},
		{"known sections", ReportOptions{VolumeWindowHours: 24, OrderbookLevels: 20, IncludeSections: []string{SectionPriceOverview, SectionDataHealth}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.opts.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidRequest))
			}
		})
	}
}

func TestReportOptionsCacheKey(t *testing.T) {
	all := ReportOptions{}.WithDefaults()
	assert.Equal(t, "BTCUSDT:sections:all;volume:24;levels:20", all.CacheKey("BTCUSDT"))

	some := ReportOptions{
		IncludeSections:   []string{SectionDataHealth, SectionPriceOverview},
		VolumeWindowHours: 6,
		OrderbookLevels:   50,
	}
	// Sections are sorted so ordering in the request does not split the cache.
	reordered := ReportOptions{
		IncludeSections:   []string{SectionPriceOverview, SectionDataHealth},
		VolumeWindowHours: 6,
		OrderbookLevels:   50,
	}
	assert.Equal(t, some.CacheKey("BTCUSDT"), reordered.CacheKey("BTCUSDT"))
	assert.Equal(t, "BTCUSDT:sections:data_health,price_overview;volume:6;levels:50", some.CacheKey("BTCUSDT"))

	assert.NotEqual(t, all.CacheKey("BTCUSDT"), some.CacheKey("BTCUSDT"))
	assert.NotEqual(t, all.CacheKey("BTCUSDT"), all.CacheKey("ETHUSDT"))
}

func TestReportOptionsIncludes(t *testing.T) {
	all := ReportOptions{}.WithDefaults()
	assert.True(t, all.Includes(SectionAnomalies))

	some := ReportOptions{IncludeSections: []string{SectionPriceOverview}}
	assert.True(t, some.Includes(SectionPriceOverview))
	assert.False(t, some.Includes(SectionAnomalies))
}
