package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher"
)

func TestStatsCollectorCollectsOneMetricPerDesc(t *testing.T) {
	stats := iocatcher.NewServerStats()
	stats.RecordRead(4096, 1_000_000, true)
	stats.RecordWrite(2048, 2_000_000, true)
	stats.RecordClientConnected()

	collector := NewStatsCollector(stats)

	descs := make(chan *prometheus.Desc, 32)
	collector.Describe(descs)
	close(descs)
	wantCount := 0
	for range descs {
		wantCount++
	}

	metrics := make(chan prometheus.Metric, 32)
	collector.Collect(metrics)
	close(metrics)
	gotCount := 0
	for range metrics {
		gotCount++
	}

	require.Equal(t, wantCount, gotCount)
	require.NotZero(t, gotCount)
}
