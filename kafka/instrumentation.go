package kafka

import "github.com/rcrowley/go-metrics"

// Instrumenter is a side-effect-only event sink: it receives a named event
// and a set of key/value payloads. Replacing it with a no-op implementation
// must not change observable behavior. This mirrors how Sarama
// and Kapacitor both layer a metrics.Registry underneath their client:
// counters and histograms keyed by event name, read only by an external
// monitoring system.
type Instrumenter interface {
	Event(name string, keyvals ...interface{})
}

// metricsInstrumenter adapts an Instrumenter onto a go-metrics Registry,
// recording one Meter (rate of occurrence) and, for any integer-valued
// keyval named "bytes" or "records", a companion Histogram. This is the
// same registered-meter-per-event idiom Sarama uses for its broker and
// producer counters.
type metricsInstrumenter struct {
	registry metrics.Registry
}

// NewMetricsInstrumenter wraps a go-metrics Registry as an Instrumenter. A
// nil registry is treated as metrics.NewRegistry().
func NewMetricsInstrumenter(registry metrics.Registry) Instrumenter {
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	return &metricsInstrumenter{registry: registry}
}

func (m *metricsInstrumenter) Event(name string, keyvals ...interface{}) {
	metrics.GetOrRegisterMeter(name, m.registry).Mark(1)

	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok || (key != "bytes" && key != "records") {
			continue
		}
		var n int64
		switch v := keyvals[i+1].(type) {
		case int:
			n = int64(v)
		case int64:
			n = v
		default:
			continue
		}
		h := metrics.GetOrRegisterHistogram(name+"."+key, m.registry, metrics.NewUniformSample(1028))
		h.Update(n)
	}
}

// nopInstrumenter discards every event; it is the default Instrumenter.
type nopInstrumenter struct{}

func (nopInstrumenter) Event(string, ...interface{}) {}

// NewNopInstrumenter returns an Instrumenter that discards all events.
func NewNopInstrumenter() Instrumenter { return nopInstrumenter{} }
