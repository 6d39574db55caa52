// Package prometheus provides Prometheus metrics for voicebridge sessions.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "voicebridge"

// Status constants for metric labels.
const (
	statusSuccess = "success"
	statusError   = "error"
)

// Direction constants for frame and audio metrics.
const (
	DirectionInbound  = "inbound"  // caller to model
	DirectionOutbound = "outbound" // model to caller
)

var (
	// sessionsActive is a gauge of currently running bridge sessions.
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active bridge sessions",
		},
	)

	// sessionsTotal counts completed sessions by outcome.
	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of completed bridge sessions",
		},
		[]string{"status"}, // status: success, error
	)

	// sessionDuration is a histogram of full session duration.
	sessionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Histogram of bridge session duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	// framesTotal counts frames by direction and kind.
	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Total number of frames moved through the bridge",
		},
		[]string{"direction", "kind"},
	)

	// audioBytesTotal counts PCM bytes by direction.
	audioBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Total PCM bytes moved through the bridge",
		},
		[]string{"direction"},
	)

	// turnsTotal counts detected speech turns.
	turnsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of caller speech turns detected",
		},
	)

	// bargeInsTotal counts model turns cut short by the caller.
	bargeInsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barge_ins_total",
			Help:      "Total number of model turns interrupted by caller speech",
		},
	)

	// toolCallDuration is a histogram of tool call duration.
	toolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Duration of tool calls in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"tool"},
	)

	// toolCallsTotal counts tool calls by outcome.
	toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of tool calls",
		},
		[]string{"tool", "status"}, // status: success, error
	)

	// backpressureDropsTotal counts audio chunks shed under backpressure.
	backpressureDropsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backpressure_drops_total",
			Help:      "Total audio chunks dropped because the remote could not keep up",
		},
	)

	// reconnectsTotal counts live session reconnect attempts by outcome.
	reconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Total live session reconnect attempts",
		},
		[]string{"status"}, // status: success, error
	)

	// allMetrics is a list of all metrics for registration.
	allMetrics = []prometheus.Collector{
		sessionsActive,
		sessionsTotal,
		sessionDuration,
		framesTotal,
		audioBytesTotal,
		turnsTotal,
		bargeInsTotal,
		toolCallDuration,
		toolCallsTotal,
		backpressureDropsTotal,
		reconnectsTotal,
	}
)

// RecordSessionStart marks a session as active.
func RecordSessionStart() {
	sessionsActive.Inc()
}

// RecordSessionEnd marks a session as finished.
func RecordSessionEnd(duration time.Duration, err error) {
	sessionsActive.Dec()
	sessionDuration.Observe(duration.Seconds())
	status := statusSuccess
	if err != nil {
		status = statusError
	}
	sessionsTotal.WithLabelValues(status).Inc()
}

// RecordFrame counts one frame moving through the bridge.
func RecordFrame(direction, kind string) {
	framesTotal.WithLabelValues(direction, kind).Inc()
}

// RecordAudioBytes counts PCM payload bytes.
func RecordAudioBytes(direction string, n int) {
	audioBytesTotal.WithLabelValues(direction).Add(float64(n))
}

// RecordTurn counts one detected caller speech turn.
func RecordTurn() {
	turnsTotal.Inc()
}

// RecordBargeIn counts one model turn cut short by caller speech.
func RecordBargeIn() {
	bargeInsTotal.Inc()
}

// RecordToolCall records one tool call outcome.
func RecordToolCall(tool string, duration time.Duration, isErr bool) {
	toolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
	status := statusSuccess
	if isErr {
		status = statusError
	}
	toolCallsTotal.WithLabelValues(tool, status).Inc()
}

// RecordBackpressureDrop counts one shed audio chunk.
func RecordBackpressureDrop() {
	backpressureDropsTotal.Inc()
}

// RecordReconnect records one reconnect attempt outcome.
func RecordReconnect(success bool) {
	status := statusSuccess
	if !success {
		status = statusError
	}
	reconnectsTotal.WithLabelValues(status).Inc()
}
