// Package metrics exports ServerStats as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher"
)

// StatsCollector adapts a *iocatcher.ServerStats snapshot into a
// prometheus.Collector, the same Describe/Collect shape the rest of
// this stack uses for connection-level metrics.
type StatsCollector struct {
	stats *iocatcher.ServerStats

	readBytes     *prometheus.Desc
	writeBytes    *prometheus.Desc
	readOps       *prometheus.Desc
	writeOps      *prometheus.Desc
	flushOps      *prometheus.Desc
	cowOps        *prometheus.Desc
	readErrors    *prometheus.Desc
	writeErrors   *prometheus.Desc
	flushErrors   *prometheus.Desc
	cowErrors     *prometheus.Desc
	clients       *prometheus.Desc
	clientsTotal  *prometheus.Desc
	latencyP50    *prometheus.Desc
	latencyP99    *prometheus.Desc
	latencyP999   *prometheus.Desc
	uptimeSeconds *prometheus.Desc
}

// NewStatsCollector builds a collector for stats, with metric names
// under the iocatcher_ prefix.
func NewStatsCollector(stats *iocatcher.ServerStats) *StatsCollector {
	return &StatsCollector{
		stats:         stats,
		readBytes:     prometheus.NewDesc("iocatcher_read_bytes_total", "Total bytes read.", nil, nil),
		writeBytes:    prometheus.NewDesc("iocatcher_write_bytes_total", "Total bytes written.", nil, nil),
		readOps:       prometheus.NewDesc("iocatcher_read_ops_total", "Total read operations.", nil, nil),
		writeOps:      prometheus.NewDesc("iocatcher_write_ops_total", "Total write operations.", nil, nil),
		flushOps:      prometheus.NewDesc("iocatcher_flush_ops_total", "Total flush operations.", nil, nil),
		cowOps:        prometheus.NewDesc("iocatcher_cow_ops_total", "Total copy-on-write operations.", nil, nil),
		readErrors:    prometheus.NewDesc("iocatcher_read_errors_total", "Total read errors.", nil, nil),
		writeErrors:   prometheus.NewDesc("iocatcher_write_errors_total", "Total write errors.", nil, nil),
		flushErrors:   prometheus.NewDesc("iocatcher_flush_errors_total", "Total flush errors.", nil, nil),
		cowErrors:     prometheus.NewDesc("iocatcher_cow_errors_total", "Total copy-on-write errors.", nil, nil),
		clients:       prometheus.NewDesc("iocatcher_clients_connected", "Currently connected clients.", nil, nil),
		clientsTotal:  prometheus.NewDesc("iocatcher_clients_accepted_total", "Clients ever accepted.", nil, nil),
		latencyP50:    prometheus.NewDesc("iocatcher_latency_p50_seconds", "Median operation latency.", nil, nil),
		latencyP99:    prometheus.NewDesc("iocatcher_latency_p99_seconds", "99th percentile operation latency.", nil, nil),
		latencyP999:   prometheus.NewDesc("iocatcher_latency_p999_seconds", "99.9th percentile operation latency.", nil, nil),
		uptimeSeconds: prometheus.NewDesc("iocatcher_uptime_seconds", "Server uptime.", nil, nil),
	}
}

func (c *StatsCollector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.readBytes
	descs <- c.writeBytes
	descs <- c.readOps
	descs <- c.writeOps
	descs <- c.flushOps
	descs <- c.cowOps
	descs <- c.readErrors
	descs <- c.writeErrors
	descs <- c.flushErrors
	descs <- c.cowErrors
	descs <- c.clients
	descs <- c.clientsTotal
	descs <- c.latencyP50
	descs <- c.latencyP99
	descs <- c.latencyP999
	descs <- c.uptimeSeconds
}

func (c *StatsCollector) Collect(metrics chan<- prometheus.Metric) {
	snap := c.stats.Snapshot()

	metrics <- prometheus.MustNewConstMetric(c.readBytes, prometheus.CounterValue, float64(snap.ReadBytes))
	metrics <- prometheus.MustNewConstMetric(c.writeBytes, prometheus.CounterValue, float64(snap.WriteBytes))
	metrics <- prometheus.MustNewConstMetric(c.readOps, prometheus.CounterValue, float64(snap.ReadOps))
	metrics <- prometheus.MustNewConstMetric(c.writeOps, prometheus.CounterValue, float64(snap.WriteOps))
	metrics <- prometheus.MustNewConstMetric(c.flushOps, prometheus.CounterValue, float64(snap.FlushOps))
	metrics <- prometheus.MustNewConstMetric(c.cowOps, prometheus.CounterValue, float64(snap.CowOps))
	metrics <- prometheus.MustNewConstMetric(c.readErrors, prometheus.CounterValue, float64(snap.ReadErrors))
	metrics <- prometheus.MustNewConstMetric(c.writeErrors, prometheus.CounterValue, float64(snap.WriteErrors))
	metrics <- prometheus.MustNewConstMetric(c.flushErrors, prometheus.CounterValue, float64(snap.FlushErrors))
	metrics <- prometheus.MustNewConstMetric(c.cowErrors, prometheus.CounterValue, float64(snap.CowErrors))
	metrics <- prometheus.MustNewConstMetric(c.clients, prometheus.GaugeValue, float64(snap.ClientsConnected))
	metrics <- prometheus.MustNewConstMetric(c.clientsTotal, prometheus.CounterValue, float64(snap.ClientsEverAccepted))
	metrics <- prometheus.MustNewConstMetric(c.latencyP50, prometheus.GaugeValue, float64(snap.LatencyP50Ns)/1e9)
	metrics <- prometheus.MustNewConstMetric(c.latencyP99, prometheus.GaugeValue, float64(snap.LatencyP99Ns)/1e9)
	metrics <- prometheus.MustNewConstMetric(c.latencyP999, prometheus.GaugeValue, float64(snap.LatencyP999Ns)/1e9)
	metrics <- prometheus.MustNewConstMetric(c.uptimeSeconds, prometheus.GaugeValue, float64(snap.UptimeNs)/1e9)
}

var _ prometheus.Collector = (*StatsCollector)(nil)
