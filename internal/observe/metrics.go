// Package observe provides application-wide observability primitives for
// Stagehand: OpenTelemetry metrics, request tracing, structured logging, and
// HTTP middleware tying them together.
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

// meterName is the instrumentation scope name used for all Stagehand metrics.
const meterName = "github.com/stagehand-live/stagehand"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TweenDuration tracks the wall time of completed parameter tweens.
	TweenDuration metric.Float64Histogram

	// TTSDuration tracks time-to-first-byte of speech synthesis.
	TTSDuration metric.Float64Histogram

	// SayDuration tracks end-to-end speech pipeline latency (synthesis
	// start to playback end).
	SayDuration metric.Float64Histogram

	// ActionDelay tracks how long scheduled actions waited before dispatch.
	ActionDelay metric.Float64Histogram

	// --- Counters ---

	// TweenAdmissions counts tween admission decisions. Use with attributes:
	//   attribute.String("param", ...), attribute.String("outcome", ...)
	// where outcome is "started", "rejected" or "preempted".
	TweenAdmissions metric.Int64Counter

	// ParametersInjected counts parameter values written to the avatar host,
	// keep-alive refreshes included.
	ParametersInjected metric.Int64Counter

	// ActionsExecuted counts scheduled action dispatches. Use with attributes:
	//   attribute.String("action", ...), attribute.String("status", ...)
	ActionsExecuted metric.Int64Counter

	// ChatMessages counts live-chat messages by kind (danmaku, interact,
	// superchat, gift).
	ChatMessages metric.Int64Counter

	// ChatTriggers counts chat batches flushed to the reaction pipeline.
	ChatTriggers metric.Int64Counter

	// --- Error counters ---

	// AvatarErrors counts failed avatar host requests. Use with attribute:
	//   attribute.String("operation", ...)
	AvatarErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveTweens tracks the number of in-flight parameter tweens.
	ActiveTweens metric.Int64UpDownCounter

	// ActiveSounds tracks the number of occupied playback channels.
	ActiveSounds metric.Int64UpDownCounter

	// ConnectedClients tracks connected WebSocket clients. Use with
	// attribute: attribute.String("path", ...)
	ConnectedClients metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// animation and speech pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TweenDuration, err = m.Float64Histogram("stagehand.tween.duration",
		metric.WithDescription("Wall time of completed parameter tweens."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("stagehand.tts.duration",
		metric.WithDescription("Time to first synthesized audio byte."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SayDuration, err = m.Float64Histogram("stagehand.say.duration",
		metric.WithDescription("End-to-end speech pipeline latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActionDelay, err = m.Float64Histogram("stagehand.action.delay",
		metric.WithDescription("Scheduled delay waited before action dispatch."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.TweenAdmissions, err = m.Int64Counter("stagehand.tween.admissions",
		metric.WithDescription("Tween admission decisions by parameter and outcome."),
	); err != nil {
		return nil, err
	}
	if met.ParametersInjected, err = m.Int64Counter("stagehand.parameters.injected",
		metric.WithDescription("Parameter values written to the avatar host."),
	); err != nil {
		return nil, err
	}
	if met.ActionsExecuted, err = m.Int64Counter("stagehand.actions.executed",
		metric.WithDescription("Scheduled action dispatches by action type and status."),
	); err != nil {
		return nil, err
	}
	if met.ChatMessages, err = m.Int64Counter("stagehand.chat.messages",
		metric.WithDescription("Live-chat messages by kind."),
	); err != nil {
		return nil, err
	}
	if met.ChatTriggers, err = m.Int64Counter("stagehand.chat.triggers",
		metric.WithDescription("Chat batches flushed to the reaction pipeline."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.AvatarErrors, err = m.Int64Counter("stagehand.avatar.errors",
		metric.WithDescription("Failed avatar host requests by operation."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveTweens, err = m.Int64UpDownCounter("stagehand.active_tweens",
		metric.WithDescription("Number of in-flight parameter tweens."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSounds, err = m.Int64UpDownCounter("stagehand.active_sounds",
		metric.WithDescription("Number of occupied playback channels."),
	); err != nil {
		return nil, err
	}
	if met.ConnectedClients, err = m.Int64UpDownCounter("stagehand.connected_clients",
		metric.WithDescription("Connected WebSocket clients by path."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("stagehand.http.request.duration",
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

// RecordTweenAdmission records one tween admission decision.
func (m *Metrics) RecordTweenAdmission(ctx context.Context, param, outcome string) {
	m.TweenAdmissions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("param", param),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordActionExecuted records one scheduled action dispatch.
func (m *Metrics) RecordActionExecuted(ctx context.Context, action, status string) {
	m.ActionsExecuted.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("status", status),
		),
	)
}

// RecordChatMessage records one received live-chat message.
func (m *Metrics) RecordChatMessage(ctx context.Context, kind string) {
	m.ChatMessages.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordAvatarError records one failed avatar host request.
func (m *Metrics) RecordAvatarError(ctx context.Context, operation string) {
	m.AvatarErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("operation", operation)),
	)
}
