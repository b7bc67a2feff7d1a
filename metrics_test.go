package gowebserver

import (
	"testing"
)

func TestMetricsConnectionLifecycle(t *testing.T) {
	m := NewMetrics()

	m.RecordConnectionOpened()
	m.RecordConnectionOpened()
	m.RecordConnectionClosed()

	snap := m.Snapshot()
	if snap.ConnectionsAccepted != 2 {
		t.Errorf("ConnectionsAccepted = %d, want 2", snap.ConnectionsAccepted)
	}
	if snap.ConnectionsClosed != 1 {
		t.Errorf("ConnectionsClosed = %d, want 1", snap.ConnectionsClosed)
	}
	if snap.ConnectionsActive != 1 {
		t.Errorf("ConnectionsActive = %d, want 1", snap.ConnectionsActive)
	}
}

func TestMetricsRecordRequest(t *testing.T) {
	m := NewMetrics()

	m.RecordRequest(128, 512, 2_000_000, true)
	m.RecordRequest(64, 0, 50_000_000, false)

	snap := m.Snapshot()
	if snap.Requests != 2 {
		t.Errorf("Requests = %d, want 2", snap.Requests)
	}
	if snap.RequestErrors != 1 {
		t.Errorf("RequestErrors = %d, want 1", snap.RequestErrors)
	}
	if snap.BytesRead != 192 {
		t.Errorf("BytesRead = %d, want 192", snap.BytesRead)
	}
	if snap.BytesWritten != 512 {
		t.Errorf("BytesWritten = %d, want 512", snap.BytesWritten)
	}
	if snap.ErrorRate <= 0 {
		t.Errorf("ErrorRate = %v, want > 0", snap.ErrorRate)
	}
}

func TestMetricsObserverDelegates(t *testing.T) {
	m := NewMetrics()
	obs := NewMetricsObserver(m)

	obs.ObserveConnectionOpened()
	obs.ObserveRequest(10, 20, 1_000, true)

	snap := m.Snapshot()
	if snap.ConnectionsAccepted != 1 {
		t.Errorf("ConnectionsAccepted = %d, want 1", snap.ConnectionsAccepted)
	}
	if snap.Requests != 1 {
		t.Errorf("Requests = %d, want 1", snap.Requests)
	}
}

func TestNoOpObserverDoesNothing(t *testing.T) {
	var obs Observer = NoOpObserver{}
	obs.ObserveConnectionOpened()
	obs.ObserveConnectionClosed()
	obs.ObserveRequest(1, 1, 1, true)
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	m.RecordConnectionOpened()
	m.RecordRequest(10, 10, 10, true)

	m.Reset()

	snap := m.Snapshot()
	if snap.Requests != 0 || snap.ConnectionsAccepted != 0 {
		t.Errorf("Reset did not zero counters: %+v", snap)
	}
}
