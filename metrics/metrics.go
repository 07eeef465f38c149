package metrics

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Kind selects the metrics backend.
type Kind int

const (
	UnknownKind Kind = iota
	CodaHaleKind
	PrometheusKind
	AllKind
)

func (k Kind) String() string {
	switch k {
	case CodaHaleKind:
		return "codahale"
	case PrometheusKind:
		return "prometheus"
	case AllKind:
		return "all"
	default:
		return "unknown"
	}
}

// ParseMetricsKind parses the name of a metrics backend. The empty string
// selects the CodaHale backend.
func ParseMetricsKind(t string) Kind {
	switch strings.ToLower(t) {
	case "", "codahale":
		return CodaHaleKind
	case "prometheus":
		return PrometheusKind
	case "all":
		return AllKind
	default:
		return UnknownKind
	}
}

// Metrics is the generic interface that all the required backends should
// implement. The pipeline and the dispatcher only depend on this
// interface.
type Metrics interface {
	// Generic instruments.
	MeasureSince(key string, start time.Time)
	IncCounter(key string)
	IncCounterBy(key string, value int64)
	UpdateGauge(key string, value float64)

	// Response filter chain.
	MeasureFilterResponse(filterName string, start time.Time)
	MeasureAllFiltersResponse(start time.Time)
	MeasureResponse(code int, method string, start time.Time)

	// Suspension and failure escalation.
	IncSuspensions(filterName string)
	IncResumes()
	IncEscalations(kind string)
	IncEscalationFailures()

	RegisterHandler(path string, handler *http.ServeMux)
}

// Options for initializing metrics collection.
type Options struct {
	// Format selects the backend. Defaults to CodaHaleKind.
	Format Kind

	// Common prefix for the keys of the different collected metrics. For
	// Prometheus it replaces the namespace.
	Prefix string

	// If set, garbage collector metrics are collected in addition to the
	// pipeline metrics.
	EnableDebugGcMetrics bool

	// If set, Go runtime metrics are collected in addition to the
	// pipeline metrics.
	EnableRuntimeMetrics bool

	// If set, a separate timer is kept for each filter name.
	EnableFilterMetrics bool

	// If set, the response timers are kept per status code and method.
	EnableResponseMetrics bool

	// Use an exponentially decaying reservoir for the CodaHale timers
	// instead of a uniform one.
	UseExpDecaySample bool

	// Buckets of the Prometheus histograms. Defaults to
	// prometheus.DefBuckets.
	HistogramBuckets []float64

	// Registry used by the Prometheus backend. When nil, a new registry
	// is created.
	PrometheusRegistry *prometheus.Registry
}

const (
	KeyFilterResponse             = "filter.%s.response"
	KeyAllFiltersResponseCombined = "allfilters.combined.response"
	KeyResponse                   = "response.%d.%s"
	KeySuspend                    = "pipeline.suspend.%s"
	KeyResume                     = "pipeline.resume"
	KeyEscalation                 = "pipeline.escalation.%s"
	KeyEscalationFailed           = "pipeline.escalation.failed"
	KeyQueueActive                = "queue.%s.active"
	KeyQueueQueued                = "queue.%s.queued"
)

var (
	// Void discards all measurements.
	Void Metrics = NewVoid()

	// Default is the backend used when no other was configured.
	Default = Void
)

// NewMetrics creates the backend selected by the options.
func NewMetrics(o Options) (Metrics, error) {
	switch o.Format {
	case UnknownKind, CodaHaleKind:
		return NewCodaHale(o), nil
	case PrometheusKind:
		return NewPrometheus(o), nil
	case AllKind:
		return NewAll(o), nil
	default:
		return nil, fmt.Errorf("unsupported metrics format: %v", o.Format)
	}
}

// NewHandler returns a handler exposing the collected metrics under the
// given path.
func NewHandler(path string, m Metrics) http.Handler {
	mux := http.NewServeMux()
	m.RegisterHandler(path, mux)
	return mux
}
