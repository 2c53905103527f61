// Package mcp exposes the service's RPC surface: a single report tool, a
// per-symbol market resource, and a static capability catalog. Transport
// framing lives in the caller; this package works in decoded values.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ForgeTrade/mcp-trader-sub000/internal/domain"
)

// ToolGenerateMarketReport is the only tool exposed to end users.
const ToolGenerateMarketReport = "generate_market_report"

const resourcePrefix = "market/"

// ReportService generates market reports, normally the report generator.
type ReportService interface {
	Generate(ctx context.Context, symbol string, opts domain.ReportOptions) (domain.MarketReport, error)
}

// Tool describes one invokable tool in the capability catalog.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Resource describes one readable resource pattern.
type Resource struct {
	URIPattern  string `json:"uri_pattern"`
	Description string `json:"description"`
	MimeType    string `json:"mime_type"`
}

// Capabilities is the static catalog returned by ListCapabilities.
type Capabilities struct {
	Tools     []Tool     `json:"tools"`
	Resources []Resource `json:"resources"`
	Prompts   []string   `json:"prompts"`
}

// Server routes tool invocations and resource reads to the report service.
type Server struct {
	reports ReportService
	log     *slog.Logger
}

func NewServer(reports ReportService, log *slog.Logger) *Server {
	return &Server{
		reports: reports,
		log:     log.With(slog.String("component", "mcp")),
	}
}

// reportRequest is the payload shape of generate_market_report.
type reportRequest struct {
	Symbol  string               `json:"symbol"`
	Options domain.ReportOptions `json:"options"`
}

// Invoke runs the named tool with a JSON payload and returns its result.
func (s *Server) Invoke(ctx context.Context, tool string, payload json.RawMessage) (any, error) {
	if tool != ToolGenerateMarketReport {
		return nil, fmt.Errorf("mcp: invoke: unknown tool %q: %w", tool, domain.ErrInvalidRequest)
	}

	var req reportRequest
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("mcp: invoke %s: decode payload: %w", tool, domain.ErrParse)
		}
	}
	if strings.TrimSpace(req.Symbol) == "" {
		return nil, fmt.Errorf("mcp: invoke %s: missing required field symbol: %w", tool, domain.ErrInvalidRequest)
	}

	s.log.Info("tool invoked", slog.String("tool", tool), slog.String("symbol", req.Symbol))
	rep, err := s.reports.Generate(ctx, req.Symbol, req.Options)
	if err != nil {
		return nil, err
	}
	return rep, nil
}

// ReadResource resolves a resource URI to its content and mime type. The
// only supported form is "market/<SYMBOL>", a human-readable market summary.
func (s *Server) ReadResource(ctx context.Context, uri string) ([]byte, string, error) {
	if !strings.HasPrefix(uri, resourcePrefix) {
		return nil, "", fmt.Errorf("mcp: read resource: unknown uri %q: %w", uri, domain.ErrInvalidRequest)
	}
	symbol := strings.TrimPrefix(uri, resourcePrefix)
	if symbol == "" {
		return nil, "", fmt.Errorf("mcp: read resource: missing symbol in %q: %w", uri, domain.ErrInvalidRequest)
	}

	rep, err := s.reports.Generate(ctx, symbol, domain.ReportOptions{})
	if err != nil {
		return nil, "", err
	}
	return []byte(rep.Markdown), "text/markdown", nil
}

// ListCapabilities returns the static catalog of tools and resources.
func (s *Server) ListCapabilities() Capabilities {
	return Capabilities{
		Tools: []Tool{{
			Name:        ToolGenerateMarketReport,
			Description: "Generate a cached markdown market intelligence report for a symbol",
		}},
		Resources: []Resource{{
			URIPattern:  resourcePrefix + "<SYMBOL>",
			Description: "Human-readable market summary for a tracked symbol",
			MimeType:    "text/markdown",
		}},
		Prompts: []string{},
	}
}
