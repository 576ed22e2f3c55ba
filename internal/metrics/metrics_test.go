package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveVerification(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveVerification(OutcomeAccepted, 3, 5*time.Millisecond)
	m.ObserveVerification(OutcomeAccepted, 1, time.Millisecond)
	m.ObserveVerification("VP_NOT_FRESH", 0, time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.Verifications.WithLabelValues(OutcomeAccepted)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Verifications.WithLabelValues("VP_NOT_FRESH")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.VerifyDurationMs))
}

func TestNew_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
