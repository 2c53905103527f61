package domain

import "errors"

// Sentinel errors for the failure kinds that cross component boundaries.
// Callers classify with errors.Is; layers add context with
// fmt.Errorf("pkg: op: %w", err).
var (
	ErrConnection       = errors.New("connection error")
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrParse            = errors.New("parse error")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrNotReady         = errors.New("not ready")
	ErrSequenceGap      = errors.New("sequence gap")
	ErrSymbolLimit      = errors.New("symbol limit reached")
	ErrInsufficientData = errors.New("insufficient data")
	ErrStorageLimit     = errors.New("storage limit exceeded")
	ErrTimeout          = errors.New("timeout")
	ErrInternal         = errors.New("internal error")
)

// Retryable reports whether the error represents a transient condition that a
// caller may reasonably retry (network trouble or rate limiting).
func Retryable(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrRateLimited)
}
