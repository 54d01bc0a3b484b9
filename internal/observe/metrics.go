// Package observe provides application-wide observability primitives for
// TutorVox: OpenTelemetry metrics, tracing, trace-aware logging, and HTTP
// middleware for the local probe server.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped from the debug listener's /metrics endpoint. A package-level
// default [Metrics] instance ([DefaultMetrics]) is provided for convenience;
// tests should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all TutorVox metrics.
const meterName = "github.com/MrWong99/tutorvox"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TTSDuration tracks the wall time of one rendered utterance, synthesis
	// plus playback. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("status", ...)
	TTSDuration metric.Float64Histogram

	// ChatDuration tracks the round trip of one REST chat turn. Use with
	// attribute:
	//   attribute.String("status", ...)
	ChatDuration metric.Float64Histogram

	// --- Counters ---

	// SpeechFallbacks counts utterances moved from one backend to another.
	// Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	SpeechFallbacks metric.Int64Counter

	// Reconnects counts streaming reconnect attempts. Use with attribute:
	//   attribute.String("result", "ok"|"error")
	Reconnects metric.Int64Counter

	// FramesSent counts audio frames written to the streaming connection.
	FramesSent metric.Int64Counter

	// FramesDropped counts audio frames discarded before the wire. Use with
	// attribute:
	//   attribute.String("reason", ...)
	FramesDropped metric.Int64Counter

	// ServerEvents counts inbound server events. Use with attribute:
	//   attribute.String("type", ...)
	ServerEvents metric.Int64Counter

	// HealthChecks counts upstream health probes. Use with attributes:
	//   attribute.String("service", ...), attribute.String("status", ...)
	HealthChecks metric.Int64Counter

	// --- Gauges ---

	// ActiveCaptures tracks the number of open capture cycles (0 or 1).
	ActiveCaptures metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for chat
// turns and spoken answers, which run from sub-second to tens of seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TTSDuration, err = m.Float64Histogram("tutorvox.tts.duration",
		metric.WithDescription("Duration of a rendered utterance, synthesis plus playback."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ChatDuration, err = m.Float64Histogram("tutorvox.chat.duration",
		metric.WithDescription("Round-trip latency of a REST chat turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SpeechFallbacks, err = m.Int64Counter("tutorvox.speech.fallbacks",
		metric.WithDescription("Utterances moved from a failed backend to the next one."),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("tutorvox.stream.reconnects",
		metric.WithDescription("Streaming reconnect attempts by result."),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("tutorvox.stream.frames_sent",
		metric.WithDescription("Audio frames written to the streaming connection."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("tutorvox.stream.frames_dropped",
		metric.WithDescription("Audio frames discarded before transmission by reason."),
	); err != nil {
		return nil, err
	}
	if met.ServerEvents, err = m.Int64Counter("tutorvox.stream.server_events",
		metric.WithDescription("Inbound server events by type."),
	); err != nil {
		return nil, err
	}
	if met.HealthChecks, err = m.Int64Counter("tutorvox.health.checks",
		metric.WithDescription("Upstream health probes by service and status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCaptures, err = m.Int64UpDownCounter("tutorvox.capture.active",
		metric.WithDescription("Number of open microphone capture cycles."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("tutorvox.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Status returns "ok" for a nil error and "error" otherwise.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordTTS records one rendered utterance.
func (m *Metrics) RecordTTS(ctx context.Context, backend, status string, d time.Duration) {
	m.TTSDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("status", status),
		),
	)
}

// RecordChat records one REST chat turn.
func (m *Metrics) RecordChat(ctx context.Context, status string, d time.Duration) {
	m.ChatDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordFallback records an utterance moving from one backend to another.
func (m *Metrics) RecordFallback(ctx context.Context, from, to string) {
	m.SpeechFallbacks.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordReconnect records one reconnect attempt.
func (m *Metrics) RecordReconnect(ctx context.Context, result string) {
	m.Reconnects.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", result)),
	)
}

// RecordFrameSent records one transmitted audio frame.
func (m *Metrics) RecordFrameSent(ctx context.Context) {
	m.FramesSent.Add(ctx, 1)
}

// RecordFrameDropped records one audio frame discarded for reason.
func (m *Metrics) RecordFrameDropped(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordServerEvent records one inbound server event.
func (m *Metrics) RecordServerEvent(ctx context.Context, eventType string) {
	m.ServerEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", eventType)),
	)
}

// RecordHealthCheck records one upstream health probe.
func (m *Metrics) RecordHealthCheck(ctx context.Context, service, status string) {
	m.HealthChecks.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("service", service),
			attribute.String("status", status),
		),
	)
}
