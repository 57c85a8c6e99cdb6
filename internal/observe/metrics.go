// Package observe provides application-wide observability primitives for
// voicedeck: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voicedeck metrics.
const meterName = "github.com/voicedeck/voicedeck"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Live sessions ---

	// LiveSessions tracks the number of open live sessions (0 or 1).
	LiveSessions metric.Int64UpDownCounter

	// ConnectDuration tracks the time from StartSession to an open session.
	ConnectDuration metric.Float64Histogram

	// SessionDuration tracks how long open sessions lasted.
	SessionDuration metric.Float64Histogram

	// --- Audio frames ---

	// FramesSent counts microphone frames sent upstream.
	FramesSent metric.Int64Counter

	// FramesReceived counts synthesised audio chunks received.
	FramesReceived metric.Int64Counter

	// FramesDropped counts received audio chunks that were not played. Use
	// with attribute:
	//   attribute.String("reason", "decode"|"hold"|"closed")
	FramesDropped metric.Int64Counter

	// --- Conversation ---

	// TranscriptFragments counts transcript fragments by role. Use with
	// attribute:
	//   attribute.String("role", "user"|"model")
	TranscriptFragments metric.Int64Counter

	// HoldCycles counts hold cues that were started.
	HoldCycles metric.Int64Counter

	// --- Error counters ---

	// LiveErrors counts session failures. Use with attribute:
	//   attribute.String("kind", ...)
	LiveErrors metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// connectBuckets defines histogram bucket boundaries (in seconds) for session
// setup, which includes device acquisition and the transport handshake.
var connectBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// sessionBuckets covers live conversations from seconds to an hour.
var sessionBuckets = []float64{
	5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Live sessions.
	if met.LiveSessions, err = m.Int64UpDownCounter("voicedeck.live.sessions",
		metric.WithDescription("Number of open live sessions."),
	); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = m.Float64Histogram("voicedeck.live.connect.duration",
		metric.WithDescription("Time from session start request to an open session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(connectBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("voicedeck.live.session.duration",
		metric.WithDescription("Lifetime of open live sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}

	// Frames.
	if met.FramesSent, err = m.Int64Counter("voicedeck.live.frames.sent",
		metric.WithDescription("Microphone frames sent to the remote model."),
	); err != nil {
		return nil, err
	}
	if met.FramesReceived, err = m.Int64Counter("voicedeck.live.frames.received",
		metric.WithDescription("Synthesised audio chunks received from the remote model."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("voicedeck.live.frames.dropped",
		metric.WithDescription("Received audio chunks that were not scheduled, by reason."),
	); err != nil {
		return nil, err
	}

	// Conversation.
	if met.TranscriptFragments, err = m.Int64Counter("voicedeck.live.transcript.fragments",
		metric.WithDescription("Transcript fragments received, by role."),
	); err != nil {
		return nil, err
	}
	if met.HoldCycles, err = m.Int64Counter("voicedeck.live.hold.cycles",
		metric.WithDescription("Hold cues started."),
	); err != nil {
		return nil, err
	}

	// Errors.
	if met.LiveErrors, err = m.Int64Counter("voicedeck.live.errors",
		metric.WithDescription("Live session failures by kind."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voicedeck.http.request.duration",
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFrameDropped records a dropped playback chunk with its reason.
func (m *Metrics) RecordFrameDropped(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordLiveError records a session failure of the given kind.
func (m *Metrics) RecordLiveError(ctx context.Context, kind string) {
	m.LiveErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordTranscriptFragment records one transcript fragment for role.
func (m *Metrics) RecordTranscriptFragment(ctx context.Context, role string) {
	m.TranscriptFragments.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
}
