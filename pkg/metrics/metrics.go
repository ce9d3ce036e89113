// Package metrics defines the observability sink the gateway reports to and
// a Prometheus implementation of it.
package metrics

// Metric names recorded by the gateway.
const (
	LatencyHistogram         = "latency_ms"
	RecoveryLatencyHistogram = "recovery_latency_ms"
	ConnectionsCounter       = "connections_total"
	MessagesCounter          = "messages_total"
	ErrorsCounter            = "errors_total"
	EventsFannedOutCounter   = "events_fanned_out_total"
)

// Sink receives metric samples. Implementations must be safe for concurrent use.
type Sink interface {
	// RecordHistogram records one observation of value under name.
	RecordHistogram(name string, value float64, tags map[string]string)
	// IncrCounter adds one to the counter name.
	IncrCounter(name string, tags map[string]string)
}

// Nop discards every sample.
type Nop struct{}

// RecordHistogram implements Sink.
func (Nop) RecordHistogram(string, float64, map[string]string) {}

// IncrCounter implements Sink.
func (Nop) IncrCounter(string, map[string]string) {}

// OrNop returns s, or Nop when s is nil.
func OrNop(s Sink) Sink {
	if s == nil {
		return Nop{}
	}
	return s
}
