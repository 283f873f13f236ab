package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/maverick/chatbot/server/adapters/tts/volc"
)

func TestObserveSynthesis(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveSynthesis(time.Second, nil)
	m.ObserveSynthesis(time.Second, fmt.Errorf("submit: %w", &volc.SynthesisError{Code: 403, Message: "denied"}))
	m.ObserveSynthesis(time.Second, volc.ErrTimeout)
	m.ObserveSynthesis(time.Second, errors.New("boom"))

	tests := []struct {
		code     string
		expected float64
	}{
		{"403", 1},
		{"timeout", 1},
		{"other", 1},
		{"premature_close", 0},
	}
	for _, tt := range tests {
		got := testutil.ToFloat64(m.SynthesisErrors.WithLabelValues(tt.code))
		if got != tt.expected {
			t.Errorf("Expected %v errors for code %s, got %v", tt.expected, tt.code, got)
		}
	}
}

func TestObserveTurn(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveTurn("answered", time.Second)
	m.ObserveTurn("answered", time.Second)
	m.ObserveTurn("", time.Second)
	m.RecordRejectedTurn()
	m.RecordFallback("rewrite")

	if got := testutil.ToFloat64(m.Turns.WithLabelValues("answered")); got != 2 {
		t.Errorf("Expected 2 answered turns, got %v", got)
	}
	if got := testutil.ToFloat64(m.Turns.WithLabelValues("failed")); got != 1 {
		t.Errorf("Expected 1 failed turn, got %v", got)
	}
	if got := testutil.ToFloat64(m.RejectedTurns); got != 1 {
		t.Errorf("Expected 1 rejected turn, got %v", got)
	}
	if got := testutil.ToFloat64(m.Fallbacks.WithLabelValues("rewrite")); got != 1 {
		t.Errorf("Expected 1 rewrite fallback, got %v", got)
	}
}

func TestConnections(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()

	if got := testutil.ToFloat64(m.ActiveConnections); got != 1 {
		t.Errorf("Expected 1 active connection, got %v", got)
	}
}

func TestObserveHTTPRequest(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.ObserveHTTPRequest("POST", "/api/chat/audio", 200, 300*time.Millisecond)
	m.ObserveHTTPRequest("POST", "/api/chat/audio", 502, time.Second)

	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("POST", "/api/chat/audio", "200")); got != 1 {
		t.Errorf("Expected 1 ok request, got %v", got)
	}
	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("POST", "/api/chat/audio", "502")); got != 1 {
		t.Errorf("Expected 1 failed request, got %v", got)
	}
}
