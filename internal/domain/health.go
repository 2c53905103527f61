package domain

// HealthStatus is the coarse service status reported by the book maintainer.
type HealthStatus string

const (
	StatusOK       HealthStatus = "ok"
	StatusDegraded HealthStatus = "degraded"
	StatusError    HealthStatus = "error"
)

// HealthReport is the composite status across all tracked symbols.
type HealthReport struct {
	Status           HealthStatus `json:"status"`
	ActiveSymbols    int          `json:"active_symbols"`
	ConnectedStreams int          `json:"connected_streams"`
	MaxAgeMS         int64        `json:"max_age_ms"`
	Timestamp        int64        `json:"timestamp_ms"`
	Reason           string       `json:"reason,omitempty"`
}
