package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ForgeTrade/mcp-trader-sub000/internal/domain"
)

// Frame methods accepted on the stdio transport.
const (
	MethodInvoke           = "invoke"
	MethodReadResource     = "read_resource"
	MethodListCapabilities = "list_capabilities"
)

// maxFrameBytes bounds a single request line on stdin.
const maxFrameBytes = 1 << 20

// stdioRequest is one newline-delimited JSON frame on stdin.
type stdioRequest struct {
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Tool    string          `json:"tool,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	URI     string          `json:"uri,omitempty"`
}

// stdioError carries a classified failure back to the caller.
type stdioError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// stdioResponse is the reply frame written to stdout, one per request line.
type stdioResponse struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Result any             `json:"result,omitempty"`
	Error  *stdioError     `json:"error,omitempty"`
}

// resourceContent is the result shape of read_resource.
type resourceContent struct {
	Content  string `json:"content"`
	MimeType string `json:"mime_type"`
}

// ServeStdio reads newline-delimited JSON request frames from in and writes
// one response frame per request to out. It returns when in reaches EOF or
// ctx is cancelled. Malformed frames produce an error response rather than
// terminating the loop.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), maxFrameBytes)
		for scanner.Scan() {
			line := make([]byte, len(scanner.Bytes()))
			copy(line, scanner.Bytes())
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	s.log.Info("stdio transport ready")
	enc := json.NewEncoder(out)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("mcp: stdio read: %w", err)
			}
			s.log.Info("stdio transport closed by peer")
			return nil
		case line := <-lines:
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			if err := enc.Encode(s.handleFrame(ctx, line)); err != nil {
				return fmt.Errorf("mcp: stdio write: %w", err)
			}
		}
	}
}

// handleFrame decodes one request line and routes it to the server surface.
func (s *Server) handleFrame(ctx context.Context, line []byte) stdioResponse {
	var req stdioRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return stdioResponse{Error: &stdioError{
			Kind:    errorKind(domain.ErrParse),
			Message: "malformed request frame",
		}}
	}

	resp := stdioResponse{ID: req.ID}
	switch req.Method {
	case MethodInvoke:
		result, err := s.Invoke(ctx, req.Tool, req.Payload)
		if err != nil {
			resp.Error = toStdioError(err)
			break
		}
		resp.Result = result
	case MethodReadResource:
		content, mime, err := s.ReadResource(ctx, req.URI)
		if err != nil {
			resp.Error = toStdioError(err)
			break
		}
		resp.Result = resourceContent{Content: string(content), MimeType: mime}
	case MethodListCapabilities:
		resp.Result = s.ListCapabilities()
	default:
		resp.Error = &stdioError{
			Kind:    errorKind(domain.ErrInvalidRequest),
			Message: fmt.Sprintf("unknown method %q", req.Method),
		}
	}

	if resp.Error != nil {
		s.log.Warn("request failed",
			slog.String("method", req.Method),
			slog.String("kind", resp.Error.Kind))
	}
	return resp
}

func toStdioError(err error) *stdioError {
	return &stdioError{Kind: errorKind(err), Message: err.Error()}
}

// errorKind maps a domain sentinel to its wire-level kind string.
func errorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, domain.ErrParse):
		return "parse_error"
	case errors.Is(err, domain.ErrNotReady):
		return "not_ready"
	case errors.Is(err, domain.ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrConnection):
		return "connection_error"
	default:
		return "internal_error"
	}
}
