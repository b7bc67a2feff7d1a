package gowebserver

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the request-latency histogram buckets in
// nanoseconds, log-spaced from 1us to 10s.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks connection and request statistics for a running server.
type Metrics struct {
	ConnectionsAccepted atomic.Uint64
	ConnectionsClosed   atomic.Uint64
	ConnectionsActive   atomic.Int64

	Requests     atomic.Uint64
	RequestErrors atomic.Uint64

	BytesRead    atomic.Uint64
	BytesWritten atomic.Uint64

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordConnectionOpened increments the accepted and active counters.
func (m *Metrics) RecordConnectionOpened() {
	m.ConnectionsAccepted.Add(1)
	m.ConnectionsActive.Add(1)
}

// RecordConnectionClosed decrements the active gauge and increments the
// closed counter.
func (m *Metrics) RecordConnectionClosed() {
	m.ConnectionsClosed.Add(1)
	m.ConnectionsActive.Add(-1)
}

// RecordRequest records one processed request: bytes read from the
// socket, bytes written back, how long processing took, and whether it
// completed without error.
func (m *Metrics) RecordRequest(bytesRead, bytesWritten uint64, latencyNs uint64, success bool) {
	m.Requests.Add(1)
	m.BytesRead.Add(bytesRead)
	m.BytesWritten.Add(bytesWritten)
	if !success {
		m.RequestErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the server as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics plus derived rates.
type MetricsSnapshot struct {
	ConnectionsAccepted uint64
	ConnectionsClosed   uint64
	ConnectionsActive   int64

	Requests      uint64
	RequestErrors uint64

	BytesRead    uint64
	BytesWritten uint64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	RequestsPerSecond float64
	ErrorRate         float64
}

// Snapshot creates a point-in-time snapshot of metrics, including
// derived rates and percentile estimates.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		ConnectionsAccepted: m.ConnectionsAccepted.Load(),
		ConnectionsClosed:   m.ConnectionsClosed.Load(),
		ConnectionsActive:   m.ConnectionsActive.Load(),
		Requests:            m.Requests.Load(),
		RequestErrors:       m.RequestErrors.Load(),
		BytesRead:           m.BytesRead.Load(),
		BytesWritten:        m.BytesWritten.Load(),
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.RequestsPerSecond = float64(snap.Requests) / uptimeSeconds
	}
	if snap.Requests > 0 {
		snap.ErrorRate = float64(snap.RequestErrors) / float64(snap.Requests) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}
	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset zeroes all counters, useful for testing.
func (m *Metrics) Reset() {
	m.ConnectionsAccepted.Store(0)
	m.ConnectionsClosed.Store(0)
	m.ConnectionsActive.Store(0)
	m.Requests.Store(0)
	m.RequestErrors.Store(0)
	m.BytesRead.Store(0)
	m.BytesWritten.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable collection of connection/request events.
type Observer interface {
	ObserveConnectionOpened()
	ObserveConnectionClosed()
	ObserveRequest(bytesRead, bytesWritten uint64, latencyNs uint64, success bool)
}

// NoOpObserver is a no-op Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveConnectionOpened()                                   {}
func (NoOpObserver) ObserveConnectionClosed()                                   {}
func (NoOpObserver) ObserveRequest(uint64, uint64, uint64, bool)                {}

// MetricsObserver implements Observer using the built-in Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveConnectionOpened() { o.metrics.RecordConnectionOpened() }
func (o *MetricsObserver) ObserveConnectionClosed() { o.metrics.RecordConnectionClosed() }

func (o *MetricsObserver) ObserveRequest(bytesRead, bytesWritten uint64, latencyNs uint64, success bool) {
	o.metrics.RecordRequest(bytesRead, bytesWritten, latencyNs, success)
}

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
