package reflection

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for reflection activity. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	passes        *prometheus.CounterVec
	verdicts      *prometheus.CounterVec
	judgeDuration *prometheus.HistogramVec
	inFlight      prometheus.Gauge
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns metrics registered with the global registry. Collectors
// are created once so repeated controllers do not collide.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics registers the collectors with reg and panics on conflict.
// Tests should pass a fresh prometheus.NewRegistry().
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reflection",
			Subsystem: "controller",
			Name:      "passes_total",
			Help:      "Reflection passes by outcome.",
		}, []string{"outcome"}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reflection",
			Subsystem: "judge",
			Name:      "verdicts_total",
			Help:      "Parsed judge verdicts by severity and effective completion.",
		}, []string{"severity", "complete"}),
		judgeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "reflection",
			Subsystem: "judge",
			Name:      "duration_seconds",
			Help:      "Time from judge session creation to verdict or failure.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 180, 240},
		}, []string{"status"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "reflection",
			Subsystem: "controller",
			Name:      "in_flight",
			Help:      "Reflection passes currently running.",
		}),
	}
	reg.MustRegister(m.passes, m.verdicts, m.judgeDuration, m.inFlight)
	return m
}

func (m *Metrics) observePass(outcome Outcome) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) observeVerdict(severity string, complete bool) {
	if m == nil {
		return
	}
	c := "false"
	if complete {
		c = "true"
	}
	m.verdicts.WithLabelValues(severity, c).Inc()
}

func (m *Metrics) observeJudge(err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	switch {
	case errors.Is(err, ErrTimeout):
		status = "timeout"
	case errors.Is(err, ErrParse):
		status = "parse_error"
	case err != nil:
		status = "error"
	}
	m.judgeDuration.WithLabelValues(status).Observe(d.Seconds())
}

func (m *Metrics) incInFlight() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *Metrics) decInFlight() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}
