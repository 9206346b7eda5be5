package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "loanscore"
	subsystem = "prediction"
)

var durationBuckets = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// Collector tracks scoring process calls. It satisfies predict.Observer.
type Collector struct {
	calls     *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	inFlight  prometheus.Gauge
	submitted *prometheus.CounterVec

	registerer prometheus.Registerer
}

// NewCollector creates the collectors without registering them.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Collector{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "calls_total",
			Help:      "Scoring process calls by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "duration_seconds",
			Help:      "Scoring call latency including the wait for a process slot.",
			Buckets:   durationBuckets,
		}, []string{"outcome"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "in_flight",
			Help:      "Scoring calls currently waiting for or running a process.",
		}),
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "applications_submitted_total",
			Help:      "Stored loan applications by prediction status.",
		}, []string{"prediction"}),
		registerer: reg,
	}
}

// Register adds all collectors to the registerer. When an identical
// collector is already registered, the existing one is adopted so that
// observations still reach it.
func (c *Collector) Register() error {
	var err error
	if c.calls, err = register(c.registerer, c.calls); err != nil {
		return err
	}
	if c.duration, err = register(c.registerer, c.duration); err != nil {
		return err
	}
	if c.inFlight, err = register(c.registerer, c.inFlight); err != nil {
		return err
	}
	if c.submitted, err = register(c.registerer, c.submitted); err != nil {
		return err
	}
	return nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, col T) (T, error) {
	err := reg.Register(col)
	if err == nil {
		return col, nil
	}

	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing, nil
		}
	}
	return col, fmt.Errorf("registering collector: %w", err)
}

func (c *Collector) PredictionStarted() {
	c.inFlight.Inc()
}

func (c *Collector) PredictionFinished(outcome string, d time.Duration) {
	c.inFlight.Dec()
	c.calls.WithLabelValues(outcome).Inc()
	c.duration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ApplicationSubmitted counts a stored application; status is scored or omitted.
func (c *Collector) ApplicationSubmitted(status string) {
	c.submitted.WithLabelValues(status).Inc()
}
