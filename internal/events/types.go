// Package events provides an asynchronous alert bus decoupling the pipeline
// from whatever delivers operator alerts (logs, database, dashboards).
package events

import (
	"time"
)

// Alert severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Well-known alert types emitted by the pipeline.
const (
	TypeFetchRunFailed      = "fetch_run_failed"
	TypeQuotaRetryExhausted = "quota_retry_exhausted"
	TypeSweepFailed         = "sweep_failed"
)

// AlertEvent is the structured operator alert accepted by the observability
// sink. Context carries free-form key/value details.
type AlertEvent struct {
	Type      string
	Severity  string
	Title     string
	Message   string
	Context   map[string]any
	Timestamp time.Time
}

// Consumer processes alert events published on the bus.
type Consumer interface {
	// Name returns the consumer name for identification.
	Name() string

	// ProcessAlert processes a single alert event.
	ProcessAlert(event *AlertEvent) error
}

// BusStats contains runtime statistics for monitoring.
type BusStats struct {
	Published      uint64
	Processed      uint64
	Dropped        uint64
	ConsumerErrors uint64
}
