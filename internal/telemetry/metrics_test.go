package telemetry

import "testing"

func TestMetricsCollector_ActiveAndTotalTrackIndependently(t *testing.T) {
	m := NewMetricsCollector()
	m.IncActive()
	m.IncActive()
	m.DecActive()

	snap := m.Snapshot()
	if snap.ActiveTunnels != 1 {
		t.Fatalf("ActiveTunnels=%d want 1", snap.ActiveTunnels)
	}
	if snap.TotalTunnels != 2 {
		t.Fatalf("TotalTunnels=%d want 2 (never decremented)", snap.TotalTunnels)
	}
}

func TestMetricsCollector_ByteCounters(t *testing.T) {
	m := NewMetricsCollector()
	m.AddUpstreamBytes(10)
	m.AddUpstreamBytes(5)
	m.AddDownstreamBytes(7)

	snap := m.Snapshot()
	if snap.BytesUpstream != 15 {
		t.Fatalf("BytesUpstream=%d want 15", snap.BytesUpstream)
	}
	if snap.BytesDownstream != 7 {
		t.Fatalf("BytesDownstream=%d want 7", snap.BytesDownstream)
	}
}

func TestMetricsCollector_StatusHits(t *testing.T) {
	m := NewMetricsCollector()
	m.AddStatusHit(200)
	m.AddStatusHit(200)
	m.AddStatusHit(403)

	snap := m.Snapshot()
	if snap.StatusHits[200] != 2 || snap.StatusHits[403] != 1 {
		t.Fatalf("StatusHits=%v unexpected", snap.StatusHits)
	}
}

func TestMetricsCollector_SnapshotIsACopy(t *testing.T) {
	m := NewMetricsCollector()
	m.AddStatusHit(200)

	snap := m.Snapshot()
	snap.StatusHits[200] = 999

	second := m.Snapshot()
	if second.StatusHits[200] != 1 {
		t.Fatalf("mutating a snapshot's map leaked into the collector: got %d", second.StatusHits[200])
	}
}
