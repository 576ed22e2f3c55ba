// Package metrics exposes Prometheus collectors for presentation verification.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// OutcomeAccepted labels a successful verification; failures are labelled with their error code.
const OutcomeAccepted = "accepted"

// Metrics holds Prometheus collectors for verification.
type Metrics struct {
	Verifications      *prometheus.CounterVec
	VerifyDurationMs   prometheus.Histogram
	DisclosuresPerCred prometheus.Histogram
}

// New registers and returns verification collectors on reg.
// A nil reg registers on the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vp_verifications_total",
			Help: "Total number of presentation verifications by outcome",
		}, []string{"outcome"}),
		VerifyDurationMs: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vp_verify_duration_ms",
			Help:    "Duration of presentation verification in milliseconds",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		DisclosuresPerCred: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vp_disclosures_per_credential",
			Help:    "Number of disclosures presented per accepted credential",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		}),
	}
}

// ObserveVerification records one verification outcome and its duration.
func (m *Metrics) ObserveVerification(outcome string, disclosures int, d time.Duration) {
	m.Verifications.WithLabelValues(outcome).Inc()
	m.VerifyDurationMs.Observe(float64(d.Microseconds()) / 1000)
	if outcome == OutcomeAccepted {
		m.DisclosuresPerCred.Observe(float64(disclosures))
	}
}
