package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the reconciliation passes
// and the detection engine. A nil *Metrics is valid and records nothing.
type Metrics struct {
	passDocuments  *prometheus.CounterVec
	passDuration   *prometheus.HistogramVec
	anomaliesTotal *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		passDocuments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docsentry",
			Name:      "pass_documents_total",
			Help:      "Documents handled by reconciliation passes, by outcome.",
		}, []string{"pass", "outcome"}),
		passDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docsentry",
			Name:      "pass_duration_seconds",
			Help:      "Wall time of reconciliation passes.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"pass"}),
		anomaliesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docsentry",
			Name:      "anomalies_detected_total",
			Help:      "Findings produced by the detection engine.",
		}, []string{"type", "severity"}),
	}
}

// ObservePass records the outcome counts and duration of one pass.
func (m *Metrics) ObservePass(pass string, processed, skipped, orphaned, failed int, seconds float64) {
	if m == nil {
		return
	}
	m.passDocuments.WithLabelValues(pass, "processed").Add(float64(processed))
	m.passDocuments.WithLabelValues(pass, "skipped").Add(float64(skipped))
	m.passDocuments.WithLabelValues(pass, "orphaned").Add(float64(orphaned))
	m.passDocuments.WithLabelValues(pass, "failed").Add(float64(failed))
	m.passDuration.WithLabelValues(pass).Observe(seconds)
}

// AnomalyDetected counts one finding.
func (m *Metrics) AnomalyDetected(anomalyType, severity string) {
	if m == nil {
		return
	}
	m.anomaliesTotal.WithLabelValues(anomalyType, severity).Inc()
}
