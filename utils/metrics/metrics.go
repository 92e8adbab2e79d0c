package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

const DefaultNamespace = "arbwatch"

// ArbitrageMetrics tracks the detection loop
type ArbitrageMetrics struct {
	registry *prometheus.Registry

	Checks        *prometheus.CounterVec
	Opportunities *prometheus.CounterVec
	QuoteFailures *prometheus.CounterVec
	QuoteLatency  *prometheus.HistogramVec
	LastProfit    *prometheus.GaugeVec
	CycleDuration prometheus.Histogram
	Cycles        prometheus.Counter
}

// NewArbitrageMetrics registers the metric set on its own registry so that
// several instances (tests, multiple bots) never collide.
func NewArbitrageMetrics(namespace string) *ArbitrageMetrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &ArbitrageMetrics{
		registry: registry,
		Checks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_total",
			Help:      "Total number of round-trip checks recorded",
		}, []string{"pair", "direction"}),
		Opportunities: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "opportunities_total",
			Help:      "Total number of checks whose profit exceeded the threshold",
		}, []string{"pair", "direction"}),
		QuoteFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_failures_total",
			Help:      "Total number of failed quote calls",
		}, []string{"source"}),
		QuoteLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "quote_latency_seconds",
			Help:      "Quote call latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}, []string{"source"}),
		LastProfit: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_profit",
			Help:      "Most recent round-trip profit in reference units",
		}, []string{"pair", "direction"}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Time taken by one poll cycle",
			Buckets:   prometheus.DefBuckets,
		}),
		Cycles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Total number of completed poll cycles",
		}),
	}
}

// Registry returns the registry holding this metric set
func (m *ArbitrageMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *ArbitrageMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// OpportunityTotal sums the opportunities counter over all labels
func (m *ArbitrageMetrics) OpportunityTotal() float64 {
	return sumCounterVec(m.Opportunities)
}

// CheckTotal sums the checks counter over all labels
func (m *ArbitrageMetrics) CheckTotal() float64 {
	return sumCounterVec(m.Checks)
}

func sumCounterVec(vec *prometheus.CounterVec) float64 {
	ch := make(chan prometheus.Metric, 64)
	go func() {
		vec.Collect(ch)
		close(ch)
	}()

	var total float64
	for metric := range ch {
		m := &dto.Metric{}
		if err := metric.Write(m); err == nil && m.Counter != nil {
			total += m.Counter.GetValue()
		}
	}
	return total
}
