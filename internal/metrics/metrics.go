package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

type Metrics struct {
	started time.Time

	accepted atomic.Int64
	active   atomic.Int64

	totalRequests   atomic.Int64
	successRequests atomic.Int64
	failedRequests  atomic.Int64

	totalLatencyUs atomic.Int64
	maxLatencyUs   atomic.Int64
	minLatencyUs   atomic.Int64 // 0 means "unset"

	bytesRead    atomic.Int64
	bytesWritten atomic.Int64

	mu          sync.RWMutex
	routes      map[string]*atomic.Int64
	errorCounts map[string]*atomic.Int64
}

type Snapshot struct {
	ConnectionsAccepted int64            `json:"connections_accepted" msgpack:"connections_accepted"`
	ConnectionsActive   int64            `json:"connections_active" msgpack:"connections_active"`
	TotalRequests       int64            `json:"total_requests" msgpack:"total_requests"`
	SuccessRequests     int64            `json:"success_requests" msgpack:"success_requests"`
	FailedRequests      int64            `json:"failed_requests" msgpack:"failed_requests"`
	AvgLatencyUs        int64            `json:"avg_latency_us" msgpack:"avg_latency_us"`
	MaxLatencyUs        int64            `json:"max_latency_us" msgpack:"max_latency_us"`
	MinLatencyUs        int64            `json:"min_latency_us" msgpack:"min_latency_us"`
	BytesRead           int64            `json:"bytes_read" msgpack:"bytes_read"`
	BytesWritten        int64            `json:"bytes_written" msgpack:"bytes_written"`
	Routes              map[string]int64 `json:"routes" msgpack:"routes"`
	ErrorCounts         map[string]int64 `json:"error_counts" msgpack:"error_counts"`
	UptimeSeconds       int64            `json:"uptime_seconds" msgpack:"uptime_seconds"`
}

func New() *Metrics {
	return &Metrics{
		started:     time.Now(),
		routes:      make(map[string]*atomic.Int64),
		errorCounts: make(map[string]*atomic.Int64),
	}
}

func (m *Metrics) ConnectionOpened() {
	m.accepted.Add(1)
	m.active.Add(1)
}

func (m *Metrics) ConnectionClosed() {
	m.active.Add(-1)
}

// RecordRequest counts one answered request. A request succeeded when its
// status is below 400.
func (m *Metrics) RecordRequest(route string, status int, latency time.Duration, read, written int64) {
	m.totalRequests.Add(1)
	if status < 400 {
		m.successRequests.Add(1)
	} else {
		m.failedRequests.Add(1)
	}
	m.bytesRead.Add(read)
	m.bytesWritten.Add(written)

	latencyUs := max(latency.Microseconds(), 1)
	m.totalLatencyUs.Add(latencyUs)
	m.updateMaxLatency(latencyUs)
	m.updateMinLatency(latencyUs)

	m.increment(m.routes, route)
}

// RecordError counts a diagnostic by its symbolic name.
func (m *Metrics) RecordError(codeName string) {
	m.increment(m.errorCounts, codeName)
}

func (m *Metrics) increment(counters map[string]*atomic.Int64, key string) {
	m.mu.RLock()
	c, ok := counters[key]
	m.mu.RUnlock()
	if !ok {
		m.mu.Lock()
		if c, ok = counters[key]; !ok {
			c = &atomic.Int64{}
			counters[key] = c
		}
		m.mu.Unlock()
	}
	c.Add(1)
}

func (m *Metrics) Snapshot() Snapshot {
	total := m.totalRequests.Load()
	avg := int64(0)
	if total > 0 {
		avg = m.totalLatencyUs.Load() / total
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	routes := make(map[string]int64, len(m.routes))
	for k, v := range m.routes {
		routes[k] = v.Load()
	}

	errorCounts := make(map[string]int64, len(m.errorCounts))
	for k, v := range m.errorCounts {
		errorCounts[k] = v.Load()
	}

	return Snapshot{
		ConnectionsAccepted: m.accepted.Load(),
		ConnectionsActive:   m.active.Load(),
		TotalRequests:       total,
		SuccessRequests:     m.successRequests.Load(),
		FailedRequests:      m.failedRequests.Load(),
		AvgLatencyUs:        avg,
		MaxLatencyUs:        m.maxLatencyUs.Load(),
		MinLatencyUs:        m.minLatencyUs.Load(),
		BytesRead:           m.bytesRead.Load(),
		BytesWritten:        m.bytesWritten.Load(),
		Routes:              routes,
		ErrorCounts:         errorCounts,
		UptimeSeconds:       int64(time.Since(m.started).Seconds()),
	}
}

func (m *Metrics) updateMaxLatency(latencyUs int64) {
	for {
		cur := m.maxLatencyUs.Load()
		if latencyUs <= cur {
			return
		}
		if m.maxLatencyUs.CompareAndSwap(cur, latencyUs) {
			return
		}
	}
}

func (m *Metrics) updateMinLatency(latencyUs int64) {
	for {
		cur := m.minLatencyUs.Load()
		if cur != 0 && latencyUs >= cur {
			return
		}
		if m.minLatencyUs.CompareAndSwap(cur, latencyUs) {
			return
		}
	}
}
