package iocatcher

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds.
// Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// ServerStats tracks the per-server counters named in the data model
// (§3): bytes moved, clients seen, errors, and the connection-layer
// latency histogram.
type ServerStats struct {
	ReadOps  atomic.Uint64
	WriteOps atomic.Uint64
	FlushOps atomic.Uint64
	CowOps   atomic.Uint64

	ReadBytes  atomic.Uint64
	WriteBytes atomic.Uint64

	ReadErrors  atomic.Uint64
	WriteErrors atomic.Uint64
	FlushErrors atomic.Uint64
	CowErrors   atomic.Uint64

	ClientsConnected    atomic.Int64
	ClientsEverAccepted atomic.Uint64

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	// LatencyBuckets holds cumulative counts: bucket[i] is the count of
	// operations observed with latency <= LatencyBuckets[i].
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewServerStats creates a freshly started stats instance.
func NewServerStats() *ServerStats {
	s := &ServerStats{}
	s.StartTime.Store(time.Now().UnixNano())
	return s
}

func (s *ServerStats) RecordRead(bytes uint64, latencyNs uint64, success bool) {
	s.ReadOps.Add(1)
	if success {
		s.ReadBytes.Add(bytes)
	} else {
		s.ReadErrors.Add(1)
	}
	s.recordLatency(latencyNs)
}

func (s *ServerStats) RecordWrite(bytes uint64, latencyNs uint64, success bool) {
	s.WriteOps.Add(1)
	if success {
		s.WriteBytes.Add(bytes)
	} else {
		s.WriteErrors.Add(1)
	}
	s.recordLatency(latencyNs)
}

func (s *ServerStats) RecordFlush(latencyNs uint64, success bool) {
	s.FlushOps.Add(1)
	if !success {
		s.FlushErrors.Add(1)
	}
	s.recordLatency(latencyNs)
}

func (s *ServerStats) RecordCow(success bool) {
	s.CowOps.Add(1)
	if !success {
		s.CowErrors.Add(1)
	}
}

func (s *ServerStats) RecordClientConnected() {
	s.ClientsConnected.Add(1)
	s.ClientsEverAccepted.Add(1)
}

func (s *ServerStats) RecordClientDisconnected() {
	s.ClientsConnected.Add(-1)
}

func (s *ServerStats) recordLatency(latencyNs uint64) {
	s.TotalLatencyNs.Add(latencyNs)
	s.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			s.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the server as stopped, freezing uptime calculations.
func (s *ServerStats) Stop() {
	s.StopTime.Store(time.Now().UnixNano())
}

// StatsSnapshot is a point-in-time read of ServerStats.
type StatsSnapshot struct {
	ReadOps  uint64
	WriteOps uint64
	FlushOps uint64
	CowOps   uint64

	ReadBytes  uint64
	WriteBytes uint64

	ReadErrors  uint64
	WriteErrors uint64
	FlushErrors uint64
	CowErrors   uint64

	ClientsConnected    int64
	ClientsEverAccepted uint64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	ReadIOPS       float64
	WriteIOPS      float64
	ReadBandwidth  float64
	WriteBandwidth float64
	TotalOps       uint64
	TotalBytes     uint64
	ErrorRate      float64
}

// Snapshot takes a consistent point-in-time read of s.
func (s *ServerStats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		ReadOps:             s.ReadOps.Load(),
		WriteOps:            s.WriteOps.Load(),
		FlushOps:            s.FlushOps.Load(),
		CowOps:              s.CowOps.Load(),
		ReadBytes:           s.ReadBytes.Load(),
		WriteBytes:          s.WriteBytes.Load(),
		ReadErrors:          s.ReadErrors.Load(),
		WriteErrors:         s.WriteErrors.Load(),
		FlushErrors:         s.FlushErrors.Load(),
		CowErrors:           s.CowErrors.Load(),
		ClientsConnected:    s.ClientsConnected.Load(),
		ClientsEverAccepted: s.ClientsEverAccepted.Load(),
	}

	snap.TotalOps = snap.ReadOps + snap.WriteOps + snap.FlushOps + snap.CowOps
	snap.TotalBytes = snap.ReadBytes + snap.WriteBytes

	totalLatencyNs := s.TotalLatencyNs.Load()
	opCount := s.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := s.StartTime.Load()
	stopTime := s.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.ReadIOPS = float64(snap.ReadOps) / uptimeSeconds
		snap.WriteIOPS = float64(snap.WriteOps) / uptimeSeconds
		snap.ReadBandwidth = float64(snap.ReadBytes) / uptimeSeconds
		snap.WriteBandwidth = float64(snap.WriteBytes) / uptimeSeconds
	}

	totalErrors := snap.ReadErrors + snap.WriteErrors + snap.FlushErrors + snap.CowErrors
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = s.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = s.calculatePercentile(0.50)
		snap.LatencyP99Ns = s.calculatePercentile(0.99)
		snap.LatencyP999Ns = s.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
func (s *ServerStats) calculatePercentile(percentile float64) uint64 {
	totalOps := s.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := s.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = s.LatencyBuckets[i-1].Load()
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

// Reset zeroes every counter; used by tests.
func (s *ServerStats) Reset() {
	s.ReadOps.Store(0)
	s.WriteOps.Store(0)
	s.FlushOps.Store(0)
	s.CowOps.Store(0)
	s.ReadBytes.Store(0)
	s.WriteBytes.Store(0)
	s.ReadErrors.Store(0)
	s.WriteErrors.Store(0)
	s.FlushErrors.Store(0)
	s.CowErrors.Store(0)
	s.ClientsConnected.Store(0)
	s.ClientsEverAccepted.Store(0)
	s.TotalLatencyNs.Store(0)
	s.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		s.LatencyBuckets[i].Store(0)
	}
	s.StartTime.Store(time.Now().UnixNano())
	s.StopTime.Store(0)
}

// Observer allows pluggable metrics collection from the connection and
// container layers.
type Observer interface {
	ObserveRead(bytes uint64, latencyNs uint64, success bool)
	ObserveWrite(bytes uint64, latencyNs uint64, success bool)
	ObserveFlush(latencyNs uint64, success bool)
	ObserveCow(success bool)
	ObserveClientConnected()
	ObserveClientDisconnected()
}

// NoOpObserver discards every observation.
type NoOpObserver struct{}

func (NoOpObserver) ObserveRead(uint64, uint64, bool) {}
func (NoOpObserver) ObserveWrite(uint64, uint64, bool) {}
func (NoOpObserver) ObserveFlush(uint64, bool) {}
func (NoOpObserver) ObserveCow(bool) {}
func (NoOpObserver) ObserveClientConnected() {}
func (NoOpObserver) ObserveClientDisconnected() {}

// StatsObserver implements Observer by recording into a ServerStats.
type StatsObserver struct {
	stats *ServerStats
}

// NewStatsObserver creates an observer that records into stats.
func NewStatsObserver(stats *ServerStats) *StatsObserver {
	return &StatsObserver{stats: stats}
}

func (o *StatsObserver) ObserveRead(bytes uint64, latencyNs uint64, success bool) {
	o.stats.RecordRead(bytes, latencyNs, success)
}

func (o *StatsObserver) ObserveWrite(bytes uint64, latencyNs uint64, success bool) {
	o.stats.RecordWrite(bytes, latencyNs, success)
}

func (o *StatsObserver) ObserveFlush(latencyNs uint64, success bool) {
	o.stats.RecordFlush(latencyNs, success)
}

func (o *StatsObserver) ObserveCow(success bool) {
	o.stats.RecordCow(success)
}

func (o *StatsObserver) ObserveClientConnected() {
	o.stats.RecordClientConnected()
}

func (o *StatsObserver) ObserveClientDisconnected() {
	o.stats.RecordClientDisconnected()
}

var _ Observer = (*StatsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
