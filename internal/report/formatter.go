// Package report assembles the markdown market report: section builders over
// the analytics kernels, an options-aware TTL cache, and the generator that
// fans kernels out in parallel with per-kernel budgets.
package report

import (
	"fmt"
	"strings"
	"time"
)

// buildTable renders a markdown table.
func buildTable(headers []string, rows [][]string) string {
	var b strings.Builder
	b.WriteString("| ")
	b.WriteString(strings.Join(headers, " | "))
	b.WriteString(" |\n|")
	for range headers {
		b.WriteString("--------|")
	}
	b.WriteByte('\n')
	for _, row := range rows {
		b.WriteString("| ")
		b.WriteString(strings.Join(row, " | "))
		b.WriteString(" |\n")
	}
	return b.String()
}

// buildList renders a markdown bullet list.
func buildList(items []string) string {
	var b strings.Builder
	for _, item := range items {
		b.WriteString("- ")
		b.WriteString(item)
		b.WriteByte('\n')
	}
	return b.String()
}

func sectionHeader(title string, level int) string {
	return strings.Repeat("#", level) + " " + title + "\n\n"
}

func formatTimestamp(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// freshness labels a data age for the report header and data-health section.
func freshness(ageMS int64) string {
	switch {
	case ageMS < 1000:
		return "Fresh"
	case ageMS < 5000:
		return "Recent"
	default:
		return "Stale"
	}
}

func formatFloat(v float64, decimals int) string {
	return fmt.Sprintf("%.*f", decimals, v)
}
