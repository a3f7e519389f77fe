// Package timing provides per-exchange timing telemetry, used by the
// client Connection's debug log line: time-to-first-byte and total
// round-trip time. This is
// ambient observability, not protocol behavior — transport-level phases
// (DNS, TCP, TLS) are out of scope since dialing belongs to the external
// transport collaborator, not to this module.
package timing

import (
	"fmt"
	"time"
)

// Metrics captures the timing of one request/response exchange.
type Metrics struct {
	// TTFB is the time spent waiting for the first response byte,
	// representing server (or handler) processing time.
	TTFB time.Duration `json:"ttfb"`

	// Total is the total end-to-end exchange time.
	Total time.Duration `json:"total"`
}

// Timer measures one exchange's timing from construction to GetMetrics.
type Timer struct {
	start     time.Time
	ttfbStart time.Time
	ttfbEnd   time.Time
}

// NewTimer starts a timing measurement.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// StartTTFB marks when the caller starts waiting for the first response
// byte (after the request has been fully written).
func (t *Timer) StartTTFB() {
	t.ttfbStart = time.Now()
}

// EndTTFB marks when the first response byte arrived.
func (t *Timer) EndTTFB() {
	t.ttfbEnd = time.Now()
}

// GetMetrics returns the timing captured so far. Total is only meaningful
// once the exchange has finished.
func (t *Timer) GetMetrics() Metrics {
	m := Metrics{Total: time.Since(t.start)}
	if !t.ttfbStart.IsZero() && !t.ttfbEnd.IsZero() {
		m.TTFB = t.ttfbEnd.Sub(t.ttfbStart)
	}
	return m
}

// String renders the metrics for log lines.
func (m Metrics) String() string {
	return fmt.Sprintf("TTFB: %v, Total: %v", m.TTFB, m.Total)
}
