package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPercentile(t *testing.T) {
	assert.Equal(t, time.Duration(0), percentile(nil, 0.99))

	var latencies []time.Duration
	for i := 100; i >= 1; i-- {
		latencies = append(latencies, time.Duration(i)*time.Millisecond)
	}
	assert.Equal(t, 100*time.Millisecond, percentile(latencies, 0.99))
	assert.Equal(t, 51*time.Millisecond, percentile(latencies, 0.5))
	assert.Equal(t, 100*time.Millisecond, latencies[0], "input is left unsorted")
}

func TestStatsCounters(t *testing.T) {
	s := &Stats{}
	s.recordSuccess(10*time.Millisecond, WriteOperation)
	s.recordSuccess(30*time.Millisecond, ReadOperation)
	s.recordError()
	s.recordDelivery(5 * time.Millisecond)
	s.calculateStats(2 * time.Second)

	assert.Equal(t, int64(3), s.totalRequests)
	assert.Equal(t, int64(2), s.successRequests)
	assert.Equal(t, int64(1), s.failedRequests)
	assert.Equal(t, 10*time.Millisecond, s.minLatency)
	assert.Equal(t, 30*time.Millisecond, s.maxLatency)
	assert.Equal(t, 20*time.Millisecond, s.averageLatency())
	assert.InDelta(t, 1.5, s.requestsPerSecond, 1e-9)
	assert.Equal(t, 10*time.Millisecond, s.p99(WriteOperation))
	assert.Equal(t, 30*time.Millisecond, s.p99(ReadOperation))
	assert.Equal(t, 5*time.Millisecond, s.p99(DeliveryOperation))
}
