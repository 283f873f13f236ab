package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/maverick/chatbot/server/adapters/tts/volc"
)

// Metrics contains all Prometheus metrics for the chat server
type Metrics struct {
	// Turn metrics
	Turns         *prometheus.CounterVec
	TurnDuration  prometheus.Histogram
	RejectedTurns prometheus.Counter
	Fallbacks     *prometheus.CounterVec

	// Synthesis metrics
	SynthesisErrors   *prometheus.CounterVec
	SynthesisDuration prometheus.Histogram

	// Websocket metrics
	ActiveConnections prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Turns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatbot_turns_total",
			Help: "Total number of conversation turns by outcome",
		}, []string{"outcome"}),
		TurnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatbot_turn_duration_seconds",
			Help:    "End-to-end duration of a conversation turn",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to 32s
		}),
		RejectedTurns: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatbot_turns_rejected_total",
			Help: "Turns rejected because another turn was in progress for the session",
		}),
		Fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatbot_fallbacks_total",
			Help: "Query rewrite and memory compaction fallbacks by stage",
		}, []string{"stage"}),

		SynthesisErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatbot_synthesis_errors_total",
			Help: "Speech synthesis failures by error code",
		}, []string{"code"}),
		SynthesisDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatbot_synthesis_duration_seconds",
			Help:    "Duration of a single synthesis request",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 9), // 100ms to ~25s
		}),

		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chatbot_websocket_connections",
			Help: "Current number of voice websocket connections",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatbot_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatbot_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// RecordFallback counts a rewrite or compaction fallback
func (m *Metrics) RecordFallback(stage string) {
	m.Fallbacks.WithLabelValues(stage).Inc()
}

// ObserveSynthesis records one synthesis call. Errors are labelled with the
// server code when available.
func (m *Metrics) ObserveSynthesis(elapsed time.Duration, err error) {
	m.SynthesisDuration.Observe(elapsed.Seconds())
	if err == nil {
		return
	}
	m.SynthesisErrors.WithLabelValues(synthesisErrorCode(err)).Inc()
}

// ObserveTurn records a finished turn. An empty outcome means it failed.
func (m *Metrics) ObserveTurn(outcome string, elapsed time.Duration) {
	if outcome == "" {
		outcome = "failed"
	}
	m.Turns.WithLabelValues(outcome).Inc()
	m.TurnDuration.Observe(elapsed.Seconds())
}

// RecordRejectedTurn counts a turn refused because of an overlap
func (m *Metrics) RecordRejectedTurn() {
	m.RejectedTurns.Inc()
}

// ObserveHTTPRequest records one API request. path is the route pattern.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// ConnectionOpened and ConnectionClosed track live websocket clients
func (m *Metrics) ConnectionOpened() { m.ActiveConnections.Inc() }
func (m *Metrics) ConnectionClosed() { m.ActiveConnections.Dec() }

func synthesisErrorCode(err error) string {
	var synthErr *volc.SynthesisError
	switch {
	case errors.As(err, &synthErr):
		return strconv.Itoa(int(synthErr.Code))
	case errors.Is(err, volc.ErrTimeout):
		return "timeout"
	case errors.Is(err, volc.ErrPrematureClose):
		return "premature_close"
	case errors.Is(err, volc.ErrMalformedFrame):
		return "malformed"
	default:
		return "other"
	}
}
