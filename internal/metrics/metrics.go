package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ServerMetrics contains Prometheus metrics for the vmvault server.
type ServerMetrics struct {
	metrics map[string]prometheus.Collector
}

const (
	metricNamespace = "vmvault"

	snapshotAttemptTotal    = "snapshot_attempt_total"
	snapshotSuccessTotal    = "snapshot_success_total"
	snapshotFailureTotal    = "snapshot_failure_total"
	snapshotDurationSeconds = "snapshot_duration_seconds"
	retentionDeletedTotal   = "retention_deleted_total"
	retentionDeferredTotal  = "retention_deferred_total"
	importErrorTotal        = "import_error_total"
	shareFreeBytesGauge     = "share_free_bytes"
	uploadBytesTotal        = "upload_bytes_total"

	workloadLabel     = "workload"
	snapshotTypeLabel = "type"
	shareLabel        = "share"

	secondsInMinute = 60.0
)

// NewServerMetrics returns new ServerMetrics
func NewServerMetrics() *ServerMetrics {
	return &ServerMetrics{
		metrics: map[string]prometheus.Collector{
			snapshotAttemptTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricNamespace,
					Name:      snapshotAttemptTotal,
					Help:      "Total number of attempted snapshots",
				},
				[]string{workloadLabel},
			),
			snapshotSuccessTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricNamespace,
					Name:      snapshotSuccessTotal,
					Help:      "Total number of successful snapshots",
				},
				[]string{workloadLabel, snapshotTypeLabel},
			),
			snapshotFailureTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricNamespace,
					Name:      snapshotFailureTotal,
					Help:      "Total number of failed snapshots",
				},
				[]string{workloadLabel},
			),
			snapshotDurationSeconds: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: metricNamespace,
					Name:      snapshotDurationSeconds,
					Help:      "Time taken to complete a snapshot, in seconds",
					Buckets: []float64{
						toSeconds(1),
						toSeconds(5),
						toSeconds(10),
						toSeconds(15),
						toSeconds(30),
						toSeconds(60),
						toSeconds(120),
						toSeconds(240),
					},
				},
				[]string{snapshotTypeLabel},
			),
			retentionDeletedTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricNamespace,
					Name:      retentionDeletedTotal,
					Help:      "Total number of snapshots purged by retention",
				},
				[]string{workloadLabel},
			),
			retentionDeferredTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricNamespace,
					Name:      retentionDeferredTotal,
					Help:      "Total number of expired snapshots kept because a live chain references them",
				},
				[]string{workloadLabel},
			),
			importErrorTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: metricNamespace,
					Name:      importErrorTotal,
					Help:      "Total number of resources that failed to import",
				},
			),
			shareFreeBytesGauge: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: metricNamespace,
					Name:      shareFreeBytesGauge,
					Help:      "Free bytes on a backup share at the last capacity query",
				},
				[]string{shareLabel},
			),
			uploadBytesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricNamespace,
					Name:      uploadBytesTotal,
					Help:      "Total number of disk payload bytes written to a share",
				},
				[]string{shareLabel},
			),
		},
	}
}

// Register adds every collector to reg.
func (m *ServerMetrics) Register(reg prometheus.Registerer) error {
	for _, pm := range m.metrics {
		if err := reg.Register(pm); err != nil {
			return err
		}
	}
	return nil
}

// RegisterSnapshotAttempt records an attempt to snapshot a workload.
func (m *ServerMetrics) RegisterSnapshotAttempt(workload string) {
	if m == nil {
		return
	}
	if c, ok := m.metrics[snapshotAttemptTotal].(*prometheus.CounterVec); ok {
		c.WithLabelValues(workload).Inc()
	}
}

// RegisterSnapshotSuccess records a successful snapshot and its duration.
func (m *ServerMetrics) RegisterSnapshotSuccess(workload, snapshotType string, seconds float64) {
	if m == nil {
		return
	}
	if c, ok := m.metrics[snapshotSuccessTotal].(*prometheus.CounterVec); ok {
		c.WithLabelValues(workload, snapshotType).Inc()
	}
	if h, ok := m.metrics[snapshotDurationSeconds].(*prometheus.HistogramVec); ok {
		h.WithLabelValues(snapshotType).Observe(seconds)
	}
}

func (m *ServerMetrics) RegisterSnapshotFailure(workload string) {
	if m == nil {
		return
	}
	if c, ok := m.metrics[snapshotFailureTotal].(*prometheus.CounterVec); ok {
		c.WithLabelValues(workload).Inc()
	}
}

func (m *ServerMetrics) RegisterRetention(workload string, deleted, deferred int) {
	if m == nil {
		return
	}
	if c, ok := m.metrics[retentionDeletedTotal].(*prometheus.CounterVec); ok {
		c.WithLabelValues(workload).Add(float64(deleted))
	}
	if c, ok := m.metrics[retentionDeferredTotal].(*prometheus.CounterVec); ok {
		c.WithLabelValues(workload).Add(float64(deferred))
	}
}

func (m *ServerMetrics) RegisterImportError() {
	if m == nil {
		return
	}
	if c, ok := m.metrics[importErrorTotal].(prometheus.Counter); ok {
		c.Inc()
	}
}

// SetShareFreeBytes records the free capacity of a share.
func (m *ServerMetrics) SetShareFreeBytes(share string, free int64) {
	if m == nil {
		return
	}
	if g, ok := m.metrics[shareFreeBytesGauge].(*prometheus.GaugeVec); ok {
		g.WithLabelValues(share).Set(float64(free))
	}
}

func (m *ServerMetrics) RegisterUploadBytes(share string, n int64) {
	if m == nil {
		return
	}
	if c, ok := m.metrics[uploadBytesTotal].(*prometheus.CounterVec); ok {
		c.WithLabelValues(share).Add(float64(n))
	}
}

func toSeconds(minutes int) float64 {
	return float64(minutes) * secondsInMinute
}
