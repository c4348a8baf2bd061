// Package metrics provides Prometheus metrics for the live chat client
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so components can run without instrumentation.
type Metrics struct {
	// Connection metrics
	WsConnected         prometheus.Gauge
	WsReconnectsTotal   prometheus.Counter
	WsGaveUpTotal       prometheus.Counter
	WsFramesReceived    *prometheus.CounterVec
	WsFramesDropped     *prometheus.CounterVec
	WsFramesSent        *prometheus.CounterVec
	ListenerPanicsTotal prometheus.Counter

	// REST metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec

	// Store metrics
	OptimisticSendsTotal *prometheus.CounterVec
	TypingExpiredTotal   prometheus.Counter
}

// New creates and registers all metrics on reg. Passing nil registers on the
// default Prometheus registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	m := &Metrics{}

	m.WsConnected = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "sozuri_ws_connected",
			Help: "1 while the realtime connection is open",
		},
	)

	m.WsReconnectsTotal = f.NewCounter(
		prometheus.CounterOpts{
			Name: "sozuri_ws_reconnects_total",
			Help: "Total number of scheduled reconnect attempts",
		},
	)

	m.WsGaveUpTotal = f.NewCounter(
		prometheus.CounterOpts{
			Name: "sozuri_ws_gave_up_total",
			Help: "Number of times reconnection stopped after exhausting attempts",
		},
	)

	m.WsFramesReceived = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sozuri_ws_frames_received_total",
			Help: "Inbound frames by type",
		},
		[]string{"type"},
	)

	m.WsFramesDropped = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sozuri_ws_frames_dropped_total",
			Help: "Inbound frames dropped by reason",
		},
		[]string{"reason"},
	)

	m.WsFramesSent = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sozuri_ws_frames_sent_total",
			Help: "Outbound frames by type and result",
		},
		[]string{"type", "result"},
	)

	m.ListenerPanicsTotal = f.NewCounter(
		prometheus.CounterOpts{
			Name: "sozuri_event_listener_panics_total",
			Help: "Event listeners that panicked during delivery",
		},
	)

	m.APIRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sozuri_api_requests_total",
			Help: "Total number of REST requests",
		},
		[]string{"method", "status"},
	)

	m.APIRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sozuri_api_request_duration_seconds",
			Help:    "Duration of REST requests in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method"},
	)

	m.OptimisticSendsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sozuri_optimistic_sends_total",
			Help: "Optimistic message sends by outcome",
		},
		[]string{"result"},
	)

	m.TypingExpiredTotal = f.NewCounter(
		prometheus.CounterOpts{
			Name: "sozuri_typing_expired_total",
			Help: "Typing indicators dropped because they went stale",
		},
	)

	return m
}

func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.WsConnected.Set(1)
		return
	}
	m.WsConnected.Set(0)
}

func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.WsReconnectsTotal.Inc()
}

func (m *Metrics) RecordGaveUp() {
	if m == nil {
		return
	}
	m.WsGaveUpTotal.Inc()
}

func (m *Metrics) RecordFrameReceived(frameType string) {
	if m == nil {
		return
	}
	m.WsFramesReceived.WithLabelValues(frameType).Inc()
}

func (m *Metrics) RecordFrameDropped(reason string) {
	if m == nil {
		return
	}
	m.WsFramesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordFrameSent(frameType string, ok bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !ok {
		result = "dropped"
	}
	m.WsFramesSent.WithLabelValues(frameType, result).Inc()
}

func (m *Metrics) RecordListenerPanic() {
	if m == nil {
		return
	}
	m.ListenerPanicsTotal.Inc()
}

// RecordAPIRequest records a REST request with its status
func (m *Metrics) RecordAPIRequest(method string, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.APIRequestsTotal.WithLabelValues(method, status).Inc()
	m.APIRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func (m *Metrics) RecordOptimisticSend(result string) {
	if m == nil {
		return
	}
	m.OptimisticSendsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordTypingExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TypingExpiredTotal.Add(float64(n))
}
