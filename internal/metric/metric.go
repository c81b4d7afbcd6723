// Package metric defines the Prometheus metrics exported by gearboxd.
package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine metrics
type Metrics struct {
	Transactions      *prometheus.CounterVec
	HandlerErrors     *prometheus.CounterVec
	HardwareWrites    *prometheus.CounterVec
	MappingFailures   *prometheus.CounterVec
	ReconcileDuration prometheus.Histogram
	ModulesIgnored    prometheus.Gauge
	ReadinessPolls    *prometheus.CounterVec
	QueryDuration     prometheus.Histogram
}

// New creates the metrics and registers them with reg. A nil registerer
// leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gearbox",
			Name:      "transactions_total",
			Help:      "Configuration transactions by outcome.",
		}, []string{"outcome"}),
		HandlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gearbox",
			Name:      "handler_errors_total",
			Help:      "Change handler failures by phase and error class.",
		}, []string{"phase", "class"}),
		HardwareWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gearbox",
			Name:      "hardware_writes_total",
			Help:      "Module attribute writes issued by the engine.",
		}, []string{"attribute"}),
		MappingFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gearbox",
			Name:      "mapping_failures_total",
			Help:      "Tributary mapping applications that failed, by module.",
		}, []string{"module"}),
		ReconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gearbox",
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of full reconciliation runs.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}),
		ModulesIgnored: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gearbox",
			Name:      "modules_ignored",
			Help:      "Modules excluded after reporting a malfunction.",
		}),
		ReadinessPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gearbox",
			Name:      "readiness_polls_total",
			Help:      "oper-status reads while waiting for module readiness.",
		}, []string{"module"}),
		QueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gearbox",
			Name:      "query_duration_seconds",
			Help:      "Duration of operational state queries.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Transactions,
			m.HandlerErrors,
			m.HardwareWrites,
			m.MappingFailures,
			m.ReconcileDuration,
			m.ModulesIgnored,
			m.ReadinessPolls,
			m.QueryDuration,
		)
	}
	return m
}

// NewRegistry returns a registry with the Go runtime and process collectors
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry in the Prometheus exposition format
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		Registry:          reg,
		EnableOpenMetrics: true,
	})
}
