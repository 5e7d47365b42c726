package iocatcher

import (
	"testing"
	"time"
)

func TestStats(t *testing.T) {
	s := NewServerStats()

	snap := s.Snapshot()
	if snap.TotalOps != 0 {
		t.Errorf("Expected 0 initial ops, got %d", snap.TotalOps)
	}

	s.RecordRead(1024, 1000000, true)
	s.RecordWrite(2048, 2000000, true)
	s.RecordRead(512, 500000, false)

	snap = s.Snapshot()

	if snap.ReadOps != 2 {
		t.Errorf("Expected 2 read ops, got %d", snap.ReadOps)
	}
	if snap.WriteOps != 1 {
		t.Errorf("Expected 1 write op, got %d", snap.WriteOps)
	}
	if snap.ReadBytes != 1024 {
		t.Errorf("Expected 1024 read bytes, got %d", snap.ReadBytes)
	}
	if snap.WriteBytes != 2048 {
		t.Errorf("Expected 2048 write bytes, got %d", snap.WriteBytes)
	}
	if snap.ReadErrors != 1 {
		t.Errorf("Expected 1 read error, got %d", snap.ReadErrors)
	}
	if snap.WriteErrors != 0 {
		t.Errorf("Expected 0 write errors, got %d", snap.WriteErrors)
	}

	expectedErrorRate := float64(1) / float64(3) * 100.0
	if snap.ErrorRate < expectedErrorRate-0.1 || snap.ErrorRate > expectedErrorRate+0.1 {
		t.Errorf("Expected error rate ~%.1f%%, got %.1f%%", expectedErrorRate, snap.ErrorRate)
	}
}

func TestStatsClients(t *testing.T) {
	s := NewServerStats()

	s.RecordClientConnected()
	s.RecordClientConnected()
	s.RecordClientDisconnected()

	snap := s.Snapshot()
	if snap.ClientsConnected != 1 {
		t.Errorf("Expected 1 connected client, got %d", snap.ClientsConnected)
	}
	if snap.ClientsEverAccepted != 2 {
		t.Errorf("Expected 2 ever-accepted clients, got %d", snap.ClientsEverAccepted)
	}
}

func TestStatsLatency(t *testing.T) {
	s := NewServerStats()

	s.RecordRead(1024, 1000000, true)  // 1ms
	s.RecordWrite(1024, 2000000, true) // 2ms

	snap := s.Snapshot()

	expectedAvgNs := uint64(1500000)
	if snap.AvgLatencyNs != expectedAvgNs {
		t.Errorf("Expected avg latency %d ns, got %d ns", expectedAvgNs, snap.AvgLatencyNs)
	}
}

func TestStatsUptime(t *testing.T) {
	s := NewServerStats()

	time.Sleep(10 * time.Millisecond)

	snap := s.Snapshot()
	if snap.UptimeNs < 10*1000000 {
		t.Errorf("Expected uptime >= 10ms, got %d ns", snap.UptimeNs)
	}

	s.Stop()
	time.Sleep(5 * time.Millisecond)

	snap2 := s.Snapshot()
	if snap2.UptimeNs > snap.UptimeNs+2*1000000 {
		t.Errorf("Uptime increased too much after stop: %d -> %d", snap.UptimeNs, snap2.UptimeNs)
	}
}

func TestStatsReset(t *testing.T) {
	s := NewServerStats()

	s.RecordRead(1024, 1000000, true)
	s.RecordWrite(2048, 2000000, true)
	s.RecordClientConnected()

	snap := s.Snapshot()
	if snap.TotalOps == 0 {
		t.Error("Expected some operations before reset")
	}

	s.Reset()

	snap = s.Snapshot()
	if snap.TotalOps != 0 {
		t.Errorf("Expected 0 ops after reset, got %d", snap.TotalOps)
	}
	if snap.TotalBytes != 0 {
		t.Errorf("Expected 0 bytes after reset, got %d", snap.TotalBytes)
	}
	if snap.ClientsConnected != 0 {
		t.Errorf("Expected 0 connected clients after reset, got %d", snap.ClientsConnected)
	}
}

func TestObserver(t *testing.T) {
	observer := &NoOpObserver{}
	observer.ObserveRead(1024, 1000000, true)
	observer.ObserveWrite(1024, 1000000, true)
	observer.ObserveFlush(1000000, true)
	observer.ObserveCow(true)
	observer.ObserveClientConnected()
	observer.ObserveClientDisconnected()

	s := NewServerStats()
	statsObserver := NewStatsObserver(s)

	statsObserver.ObserveRead(1024, 1000000, true)
	statsObserver.ObserveWrite(2048, 2000000, true)

	snap := s.Snapshot()
	if snap.ReadOps != 1 {
		t.Errorf("Expected 1 read op from observer, got %d", snap.ReadOps)
	}
	if snap.WriteOps != 1 {
		t.Errorf("Expected 1 write op from observer, got %d", snap.WriteOps)
	}
	if snap.ReadBytes != 1024 {
		t.Errorf("Expected 1024 read bytes from observer, got %d", snap.ReadBytes)
	}
	if snap.WriteBytes != 2048 {
		t.Errorf("Expected 2048 write bytes from observer, got %d", snap.WriteBytes)
	}
}

func TestStatsRates(t *testing.T) {
	s := NewServerStats()

	startTime := time.Now()
	s.StartTime.Store(startTime.UnixNano())

	s.RecordRead(1024, 1000000, true)
	s.RecordWrite(2048, 2000000, true)

	stopTime := startTime.Add(1 * time.Second)
	s.StopTime.Store(stopTime.UnixNano())

	snap := s.Snapshot()

	if snap.ReadIOPS < 0.9 || snap.ReadIOPS > 1.1 {
		t.Errorf("Expected ReadIOPS ~1.0, got %.2f", snap.ReadIOPS)
	}
	if snap.WriteIOPS < 0.9 || snap.WriteIOPS > 1.1 {
		t.Errorf("Expected WriteIOPS ~1.0, got %.2f", snap.WriteIOPS)
	}
	if snap.ReadBandwidth < 1000 || snap.ReadBandwidth > 1050 {
		t.Errorf("Expected ReadBandwidth ~1024, got %.2f", snap.ReadBandwidth)
	}
	if snap.WriteBandwidth < 2000 || snap.WriteBandwidth > 2100 {
		t.Errorf("Expected WriteBandwidth ~2048, got %.2f", snap.WriteBandwidth)
	}
}

func TestStatsHistogram(t *testing.T) {
	s := NewServerStats()

	for i := 0; i < 50; i++ {
		s.RecordRead(1024, 500_000, true) // 500us
	}
	for i := 0; i < 49; i++ {
		s.RecordWrite(1024, 5_000_000, true) // 5ms
	}
	s.RecordWrite(1024, 50_000_000, true) // 50ms (the single slowest op, above P99)

	snap := s.Snapshot()

	if snap.TotalOps != 100 {
		t.Errorf("Expected 100 total ops, got %d", snap.TotalOps)
	}
	if snap.LatencyP50Ns < 100_000 || snap.LatencyP50Ns > 1_000_000 {
		t.Errorf("Expected P50 in 100us-1ms range, got %d ns", snap.LatencyP50Ns)
	}
	if snap.LatencyP99Ns < 5_000_000 || snap.LatencyP99Ns > 100_000_000 {
		t.Errorf("Expected P99 in 5ms-100ms range, got %d ns", snap.LatencyP99Ns)
	}

	totalInBuckets := uint64(0)
	for i := 0; i < len(snap.LatencyHistogram); i++ {
		totalInBuckets += snap.LatencyHistogram[i]
	}
	if totalInBuckets == 0 {
		t.Error("Expected histogram buckets to be populated")
	}
}
