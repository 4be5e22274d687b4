// Package telemetry collects atomic counters for active tunnels and exposes
// them, plus recent log lines, through a small JSON admin HTTP server.
package telemetry

import (
	"sync"
	"sync/atomic"
)

// MetricsCollector accumulates process-wide tunnel counters. All updates are
// lock-free except the per-status tally, which is rare enough (one
// increment per connection close) that a plain mutex is simpler than a
// sync.Map and just as correct.
type MetricsCollector struct {
	activeTunnels   atomic.Int64
	totalTunnels    atomic.Int64
	bytesUpstream   atomic.Int64
	bytesDownstream atomic.Int64

	statusMu   sync.Mutex
	statusHits map[int]int64
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{statusHits: map[int]int64{}}
}

func (m *MetricsCollector) IncActive() {
	m.activeTunnels.Add(1)
	m.totalTunnels.Add(1)
}

func (m *MetricsCollector) DecActive() {
	m.activeTunnels.Add(-1)
}

func (m *MetricsCollector) AddUpstreamBytes(n int64) {
	m.bytesUpstream.Add(n)
}

func (m *MetricsCollector) AddDownstreamBytes(n int64) {
	m.bytesDownstream.Add(n)
}

func (m *MetricsCollector) AddStatusHit(code int) {
	m.statusMu.Lock()
	m.statusHits[code]++
	m.statusMu.Unlock()
}

type MetricsSnapshot struct {
	ActiveTunnels   int64         `json:"active_tunnels"`
	TotalTunnels    int64         `json:"total_tunnels_handled"`
	BytesUpstream   int64         `json:"bytes_upstream"`
	BytesDownstream int64         `json:"bytes_downstream"`
	StatusHits      map[int]int64 `json:"status_hits"`
}

func (m *MetricsCollector) Snapshot() MetricsSnapshot {
	m.statusMu.Lock()
	sh := make(map[int]int64, len(m.statusHits))
	for k, v := range m.statusHits {
		sh[k] = v
	}
	m.statusMu.Unlock()

	return MetricsSnapshot{
		ActiveTunnels:   m.activeTunnels.Load(),
		TotalTunnels:    m.totalTunnels.Load(),
		BytesUpstream:   m.bytesUpstream.Load(),
		BytesDownstream: m.bytesDownstream.Load(),
		StatusHits:      sh,
	}
}
