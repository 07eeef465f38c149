package metrics

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	promNamespace         = "respipe"
	promFilterSubsystem   = "filter"
	promPipelineSubsystem = "pipeline"
	promResponseSubsystem = "response"
	promCustomSubsystem   = "custom"
)

// Prometheus implements the prometheus metrics backend.
type Prometheus struct {
	// Metrics.
	responseM                  *prometheus.HistogramVec
	filterResponseM            *prometheus.HistogramVec
	filterAllCombinedResponseM prometheus.Histogram
	suspensionsM               *prometheus.CounterVec
	resumesM                   prometheus.Counter
	escalationsM               *prometheus.CounterVec
	escalationFailuresM        prometheus.Counter
	customHistogramM           *prometheus.HistogramVec
	customCounterM             *prometheus.CounterVec
	customGaugeM               *prometheus.GaugeVec

	opts     Options
	registry *prometheus.Registry
	handler  http.Handler
}

// NewPrometheus returns a new Prometheus metric backend.
func NewPrometheus(opts Options) *Prometheus {
	namespace := promNamespace
	if opts.Prefix != "" {
		namespace = strings.TrimSuffix(opts.Prefix, ".")
	}

	p := &Prometheus{
		responseM: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: promResponseSubsystem,
			Name:      "duration_seconds",
			Help:      "Duration in seconds of a response.",
			Buckets:   opts.HistogramBuckets,
		}, []string{"code", "method"}),

		filterResponseM: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: promFilterSubsystem,
			Name:      "response_duration_seconds",
			Help:      "Duration in seconds of a response filter invocation.",
			Buckets:   opts.HistogramBuckets,
		}, []string{"filter"}),

		filterAllCombinedResponseM: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: promFilterSubsystem,
			Name:      "all_combined_response_duration_seconds",
			Help:      "Duration in seconds of running a response filter chain, excluding suspended time.",
			Buckets:   opts.HistogramBuckets,
		}),

		suspensionsM: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: promPipelineSubsystem,
			Name:      "suspend_total",
			Help:      "Total number of pipeline suspensions by filter.",
		}, []string{"filter"}),

		resumesM: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: promPipelineSubsystem,
			Name:      "resume_total",
			Help:      "Total number of pipeline resumptions.",
		}),

		escalationsM: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: promPipelineSubsystem,
			Name:      "escalation_total",
			Help:      "Total number of failures escalated to the dispatcher.",
		}, []string{"kind"}),

		escalationFailuresM: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: promPipelineSubsystem,
			Name:      "escalation_failed_total",
			Help:      "Total number of failures that the dispatcher could not handle.",
		}),

		customCounterM: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: promCustomSubsystem,
			Name:      "total",
			Help:      "Total number of custom metrics.",
		}, []string{"key"}),

		customGaugeM: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: promCustomSubsystem,
			Name:      "gauges",
			Help:      "Gauges number of custom metrics.",
		}, []string{"key"}),

		customHistogramM: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: promCustomSubsystem,
			Name:      "duration_seconds",
			Help:      "Duration in seconds of custom metrics.",
			Buckets:   opts.HistogramBuckets,
		}, []string{"key"}),

		registry: opts.PrometheusRegistry,
		opts:     opts,
	}

	if p.registry == nil {
		p.registry = prometheus.NewRegistry()
	}

	p.registerMetrics()
	return p
}

// sinceS returns the seconds passed since the start time until now.
func (p *Prometheus) sinceS(start time.Time) float64 {
	return time.Since(start).Seconds()
}

func (p *Prometheus) registerMetrics() {
	p.registry.MustRegister(p.responseM)
	p.registry.MustRegister(p.filterResponseM)
	p.registry.MustRegister(p.filterAllCombinedResponseM)
	p.registry.MustRegister(p.suspensionsM)
	p.registry.MustRegister(p.resumesM)
	p.registry.MustRegister(p.escalationsM)
	p.registry.MustRegister(p.escalationFailuresM)
	p.registry.MustRegister(p.customCounterM)
	p.registry.MustRegister(p.customHistogramM)
	p.registry.MustRegister(p.customGaugeM)

	// Register prometheus runtime collectors if required.
	if p.opts.EnableRuntimeMetrics {
		p.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		p.registry.MustRegister(collectors.NewGoCollector())
	}
}

func (p *Prometheus) CreateHandler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *Prometheus) getHandler() http.Handler {
	if p.handler != nil {
		return p.handler
	}

	p.handler = p.CreateHandler()
	return p.handler
}

// RegisterHandler satisfies Metrics interface.
func (p *Prometheus) RegisterHandler(path string, mux *http.ServeMux) {
	mux.Handle(path, p.getHandler())
}

// MeasureSince satisfies Metrics interface.
func (p *Prometheus) MeasureSince(key string, start time.Time) {
	p.customHistogramM.WithLabelValues(key).Observe(p.sinceS(start))
}

// IncCounter satisfies Metrics interface.
func (p *Prometheus) IncCounter(key string) {
	p.customCounterM.WithLabelValues(key).Inc()
}

// IncCounterBy satisfies Metrics interface.
func (p *Prometheus) IncCounterBy(key string, value int64) {
	p.customCounterM.WithLabelValues(key).Add(float64(value))
}

// UpdateGauge satisfies Metrics interface.
func (p *Prometheus) UpdateGauge(key string, v float64) {
	p.customGaugeM.WithLabelValues(key).Set(v)
}

// MeasureFilterResponse satisfies Metrics interface.
func (p *Prometheus) MeasureFilterResponse(filterName string, start time.Time) {
	p.filterResponseM.WithLabelValues(filterName).Observe(p.sinceS(start))
}

// MeasureAllFiltersResponse satisfies Metrics interface.
func (p *Prometheus) MeasureAllFiltersResponse(start time.Time) {
	p.filterAllCombinedResponseM.Observe(p.sinceS(start))
}

// MeasureResponse satisfies Metrics interface.
func (p *Prometheus) MeasureResponse(code int, method string, start time.Time) {
	p.responseM.WithLabelValues(fmt.Sprint(code), measuredMethod(method)).Observe(p.sinceS(start))
}

// IncSuspensions satisfies Metrics interface.
func (p *Prometheus) IncSuspensions(filterName string) {
	p.suspensionsM.WithLabelValues(filterName).Inc()
}

// IncResumes satisfies Metrics interface.
func (p *Prometheus) IncResumes() {
	p.resumesM.Inc()
}

// IncEscalations satisfies Metrics interface.
func (p *Prometheus) IncEscalations(kind string) {
	p.escalationsM.WithLabelValues(kind).Inc()
}

// IncEscalationFailures satisfies Metrics interface.
func (p *Prometheus) IncEscalationFailures() {
	p.escalationFailuresM.Inc()
}

func (p *Prometheus) Close() {}
