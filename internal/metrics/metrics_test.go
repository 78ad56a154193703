package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestMetrics_RecordRequestAndSnapshot(t *testing.T) {
	t.Parallel()

	m := New()
	m.RecordRequest("run", 200, 10*time.Millisecond, 100, 300)
	m.RecordRequest("run", 500, 5*time.Millisecond, 50, 80)
	m.RecordRequest("contract", 200, 1*time.Millisecond, 10, 20)

	s := m.Snapshot()
	if s.TotalRequests != 3 {
		t.Fatalf("TotalRequests = %d, want %d", s.TotalRequests, 3)
	}
	if s.SuccessRequests != 2 {
		t.Errorf("SuccessRequests = %d, want %d", s.SuccessRequests, 2)
	}
	if s.FailedRequests != 1 {
		t.Errorf("FailedRequests = %d, want %d", s.FailedRequests, 1)
	}
	if s.MinLatencyUs != 1000 {
		t.Errorf("MinLatencyUs = %d, want %d", s.MinLatencyUs, 1000)
	}
	if s.MaxLatencyUs != 10000 {
		t.Errorf("MaxLatencyUs = %d, want %d", s.MaxLatencyUs, 10000)
	}
	if want := int64((10000 + 5000 + 1000) / 3); s.AvgLatencyUs != want {
		t.Errorf("AvgLatencyUs = %d, want %d", s.AvgLatencyUs, want)
	}
	if s.BytesRead != 160 || s.BytesWritten != 400 {
		t.Errorf("bytes = %d/%d, want 160/400", s.BytesRead, s.BytesWritten)
	}
	if s.Routes["run"] != 2 || s.Routes["contract"] != 1 {
		t.Errorf("Routes = %v, want run:2 contract:1", s.Routes)
	}
}

func TestMetrics_RecordError(t *testing.T) {
	t.Parallel()

	m := New()
	m.RecordError("errJSException")
	m.RecordError("errJSException")
	m.RecordError("errNetEntityTooLarge")

	s := m.Snapshot()
	if s.ErrorCounts["errJSException"] != 2 {
		t.Errorf("ErrorCounts[errJSException] = %d, want %d", s.ErrorCounts["errJSException"], 2)
	}
	if s.ErrorCounts["errNetEntityTooLarge"] != 1 {
		t.Errorf("ErrorCounts[errNetEntityTooLarge] = %d, want %d", s.ErrorCounts["errNetEntityTooLarge"], 1)
	}
}

func TestMetrics_Connections(t *testing.T) {
	t.Parallel()

	m := New()
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.ConnectionOpened()
			m.RecordRequest("run", 200, time.Microsecond, 1, 1)
		}()
	}
	wg.Wait()
	for range 20 {
		m.ConnectionClosed()
	}

	s := m.Snapshot()
	if s.ConnectionsAccepted != 50 {
		t.Errorf("ConnectionsAccepted = %d, want 50", s.ConnectionsAccepted)
	}
	if s.ConnectionsActive != 30 {
		t.Errorf("ConnectionsActive = %d, want 30", s.ConnectionsActive)
	}
	if s.Routes["run"] != 50 {
		t.Errorf("Routes[run] = %d, want 50", s.Routes["run"])
	}
}

func TestMetrics_EmptySnapshot(t *testing.T) {
	t.Parallel()

	s := New().Snapshot()
	if s.AvgLatencyUs != 0 || s.MinLatencyUs != 0 || s.TotalRequests != 0 {
		t.Errorf("Snapshot() = %+v, want zero counters", s)
	}
	if s.Routes == nil || s.ErrorCounts == nil {
		t.Error("Snapshot() maps are nil")
	}
}
