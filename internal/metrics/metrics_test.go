package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SetConnected(true)
		m.RecordReconnect()
		m.RecordFrameReceived("message")
		m.RecordAPIRequest("GET", "200", time.Millisecond)
		m.RecordTypingExpired(3)
	})
}

func TestCountersRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SetConnected(true)
	m.RecordReconnect()
	m.RecordReconnect()
	m.RecordFrameReceived("typing")
	m.RecordFrameDropped("unknown_type")
	m.RecordFrameSent("ping", false)
	m.RecordOptimisticSend("confirmed")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.WsConnected))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.WsReconnectsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.WsFramesReceived.WithLabelValues("typing")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.WsFramesDropped.WithLabelValues("unknown_type")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.WsFramesSent.WithLabelValues("ping", "dropped")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OptimisticSendsTotal.WithLabelValues("confirmed")))
}
