package importer

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "importoor"

// Outcome label values for the imports counter.
const (
	OutcomeSuccess = "success"
)

// Metrics holds the Prometheus collectors updated by the importer.
type Metrics struct {
	ImportsTotal    *prometheus.CounterVec
	ImportRows      prometheus.Histogram
	ImportDuration  prometheus.Histogram
	ArchiveFailures prometheus.Counter
}

// NewMetrics creates the importer collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ImportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "imports_total",
			Help:      "Total number of imports by outcome.",
		}, []string{"outcome"}),
		ImportRows: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "import_rows",
			Help:      "Number of rows in successfully imported files.",
			Buckets:   []float64{1, 10, 100, 500, 1000, 2500, 5000, 10000},
		}),
		ImportDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "import_duration_seconds",
			Help:      "Duration of imports in seconds, successful or not.",
			Buckets:   prometheus.DefBuckets,
		}),
		ArchiveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "archive_failures_total",
			Help:      "Total number of committed imports whose raw file could not be archived.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ImportsTotal,
			m.ImportRows,
			m.ImportDuration,
			m.ArchiveFailures,
		)
	}

	return m
}

func (m *Metrics) observe(outcome string, seconds float64) {
	m.ImportsTotal.WithLabelValues(outcome).Inc()
	m.ImportDuration.Observe(seconds)
}
