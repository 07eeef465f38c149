package respipe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ot "github.com/opentracing/opentracing-go"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/zalando/respipe/dispatch"
	"github.com/zalando/respipe/filters"
	"github.com/zalando/respipe/filters/builtin"
	"github.com/zalando/respipe/filters/scheduler"
	"github.com/zalando/respipe/logging"
	"github.com/zalando/respipe/metrics"
	"github.com/zalando/respipe/response"
	queues "github.com/zalando/respipe/scheduler"
	"github.com/zalando/respipe/tracing"
	"github.com/zalando/respipe/transport"
)

const (
	defaultAddress         = ":9090"
	defaultAsyncTimeout    = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	metricsPath            = "/metrics"
	healthPath             = "/healthz"
)

// Options to start the server with.
type Options struct {

	// Network address that the server should listen on. Defaults to
	// :9090.
	Address string

	// Network address for the support endpoints, /metrics and /healthz.
	// When empty, the support listener is not started.
	SupportListener string

	// Enables the asynchronous processing of the response filters. When
	// disabled, the filters that try to suspend the chain fall back to
	// their blocking behavior.
	EnableAsync bool

	// Maximum duration for a suspended chain to complete the response.
	// Defaults to 30s.
	AsyncTimeout time.Duration

	// Timeouts of the main listener.
	ReadHeaderTimeoutServer time.Duration
	IdleTimeoutServer       time.Duration

	// Maximum duration to wait for the active requests when shutting
	// down. Defaults to 10s.
	ShutdownTimeout time.Duration

	// Prefix for application log entries. Primarily used to be
	// able to select between access log and application log
	// entries.
	ApplicationLogPrefix string

	// Output for the application log entries, when nil,
	// os.Stderr is used.
	ApplicationLogOutput io.Writer

	// Application log level.
	ApplicationLogLevel log.Level

	// Enables the JSON format of the application log.
	ApplicationLogJSONEnabled bool

	// Output for the access log entries, when nil, os.Stderr is
	// used.
	AccessLogOutput io.Writer

	// Disables the access log.
	AccessLogDisabled bool

	// Enables the JSON format of the access log.
	AccessLogJSONEnabled bool

	// Metrics flavours: codahale, prometheus, or both.
	MetricsFlavours []string

	// Prefix of the metrics keys.
	MetricsPrefix string

	// Enables the timers of the individual filters.
	EnableFilterMetrics bool

	// Enables the response timers per status code and method.
	EnableResponseMetrics bool

	// Enables the Go runtime metrics.
	EnableRuntimeMetrics bool

	// Buckets of the Prometheus histograms.
	HistogramMetricBuckets []float64

	// Metrics, when set, overrides the backend created from the metrics
	// options.
	Metrics metrics.Metrics

	// Tracer implementation and its arguments, e.g. noop, or the name of
	// a tracer plugin.
	OpenTracing []string

	// Directory of the tracer plugins.
	PluginDir string

	// Tracer, when set, overrides the tracer created from OpenTracing.
	Tracer ot.Tracer

	// Queues used by the offload filter.
	Queues map[string]queues.Config

	// Encodings enabled in the compress filter, in the order of
	// preference.
	CompressEncodings []string

	// CustomFilters are registered in addition to the builtin filters.
	CustomFilters []filters.Spec

	// Filters define the response filter chain, executed for every
	// request.
	Filters []*filters.Config

	// Resource serves the requests. When not set, a static resource is
	// created from the Static* options.
	Resource dispatch.Resource

	StaticStatus      int
	StaticBody        string
	StaticContentType string
	StaticHeaders     http.Header

	// Bindings are added to the ambient context of every request.
	Bindings map[string]string

	// ErrorMappers are applied before the default error mapping.
	ErrorMappers []dispatch.ErrorMapper
}

// Server serves the resource through the configured response filter
// chain.
type Server struct {
	options Options
	handler http.Handler
	support http.Handler
	queues  *queues.Registry
	metrics metrics.Metrics
}

func metricsKind(flavours []string) (metrics.Kind, error) {
	var codahale, prometheus bool
	for _, f := range flavours {
		switch metrics.ParseMetricsKind(f) {
		case metrics.CodaHaleKind:
			codahale = true
		case metrics.PrometheusKind:
			prometheus = true
		case metrics.AllKind:
			codahale, prometheus = true, true
		default:
			return metrics.UnknownKind, fmt.Errorf("invalid metrics flavour: %s", f)
		}
	}

	switch {
	case codahale && prometheus:
		return metrics.AllKind, nil
	case prometheus:
		return metrics.PrometheusKind, nil
	default:
		return metrics.CodaHaleKind, nil
	}
}

func createMetrics(o Options) (metrics.Metrics, error) {
	if o.Metrics != nil {
		return o.Metrics, nil
	}

	kind, err := metricsKind(o.MetricsFlavours)
	if err != nil {
		return nil, err
	}

	return metrics.NewMetrics(metrics.Options{
		Format:                kind,
		Prefix:                o.MetricsPrefix,
		EnableFilterMetrics:   o.EnableFilterMetrics,
		EnableResponseMetrics: o.EnableResponseMetrics,
		EnableRuntimeMetrics:  o.EnableRuntimeMetrics,
		HistogramBuckets:      o.HistogramMetricBuckets,
	})
}

func createTracer(o Options) (ot.Tracer, error) {
	if o.Tracer != nil {
		return o.Tracer, nil
	}

	if len(o.OpenTracing) == 0 {
		return &ot.NoopTracer{}, nil
	}

	return tracing.InitTracer(o.PluginDir, o.OpenTracing)
}

// FilterRegistry creates the registry of the available filters: the
// builtin filters, the offload filter using the provided queues, and the
// custom filters.
func FilterRegistry(o Options, q *queues.Registry) filters.Registry {
	r := builtin.MakeRegistryWith(builtin.CompressOptions{Encodings: o.CompressEncodings})
	r.Register(scheduler.NewOffload(q))
	for _, s := range o.CustomFilters {
		r.Register(s)
	}

	return r
}

func staticResource(o Options) dispatch.Resource {
	status := o.StaticStatus
	if status == 0 {
		status = http.StatusOK
	}

	return dispatch.ResourceFunc(func(*http.Request) (*response.Model, error) {
		var entity interface{}
		if o.StaticBody != "" {
			entity = o.StaticBody
		}

		m := response.NewModel(status, entity)
		for name, values := range o.StaticHeaders {
			for _, v := range values {
				m.Headers().Add(name, v)
			}
		}

		if o.StaticContentType != "" {
			m.Headers().Set("Content-Type", o.StaticContentType)
		}

		return m, nil
	})
}

func bindings(b map[string]string) map[interface{}]interface{} {
	if len(b) == 0 {
		return nil
	}

	m := make(map[interface{}]interface{}, len(b))
	for k, v := range b {
		m[k] = v
	}

	return m
}

// New creates a server from the options. It initializes the logging, the
// metrics, the tracer, the queues, and the response filter chain.
func New(o Options) (*Server, error) {
	if o.Address == "" {
		o.Address = defaultAddress
	}

	if o.AsyncTimeout <= 0 {
		o.AsyncTimeout = defaultAsyncTimeout
	}

	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = defaultShutdownTimeout
	}

	logging.Init(logging.Options{
		ApplicationLogPrefix:      o.ApplicationLogPrefix,
		ApplicationLogOutput:      o.ApplicationLogOutput,
		ApplicationLogLevel:       o.ApplicationLogLevel,
		ApplicationLogJSONEnabled: o.ApplicationLogJSONEnabled,
		AccessLogOutput:           o.AccessLogOutput,
		AccessLogDisabled:         o.AccessLogDisabled,
		AccessLogJSONEnabled:      o.AccessLogJSONEnabled,
	})

	m, err := createMetrics(o)
	if err != nil {
		return nil, err
	}

	tracer, err := createTracer(o)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	q := queues.RegistryWith(queues.Options{Metrics: m, Queues: o.Queues})
	chain, err := FilterRegistry(o, q).CreateChain(o.Filters)
	if err != nil {
		q.Close()
		return nil, err
	}

	resource := o.Resource
	if resource == nil {
		resource = staticResource(o)
	}

	d := dispatch.New(dispatch.Options{
		Resource:     resource,
		Chain:        chain,
		ErrorMappers: o.ErrorMappers,
		Bindings:     bindings(o.Bindings),
		Metrics:      m,
		Tracer:       tracer,
	})

	support := http.NewServeMux()
	m.RegisterHandler(metricsPath, support)
	support.HandleFunc(healthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	log.Infof("response filter chain created with %d filters", len(chain))
	return &Server{
		options: o,
		handler: transport.Handler(d, transport.Options{
			Async:        o.EnableAsync,
			AsyncTimeout: o.AsyncTimeout,
			Tracer:       tracer,
			Metrics:      m,
		}),
		support: support,
		queues:  q,
		metrics: m,
	}, nil
}

// ServeHTTP serves a request through the response filter chain.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Support returns the handler of the support endpoints.
func (s *Server) Support() http.Handler { return s.support }

// Close releases the queues of the offload filter.
func (s *Server) Close() {
	s.queues.Close()
}

func (s *Server) listeners() []*http.Server {
	servers := []*http.Server{{
		Addr:              s.options.Address,
		Handler:           s,
		ReadHeaderTimeout: s.options.ReadHeaderTimeoutServer,
		IdleTimeout:       s.options.IdleTimeoutServer,
	}}

	if s.options.SupportListener != "" {
		servers = append(servers, &http.Server{
			Addr:              s.options.SupportListener,
			Handler:           s.support,
			ReadHeaderTimeout: s.options.ReadHeaderTimeoutServer,
		})
	}

	return servers
}

// Serve starts the listeners, and blocks until the context is done or one
// of the listeners fails. When the context is done, the listeners are shut
// down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, srv := range s.listeners() {
		srv := srv
		g.Go(func() error {
			log.Infof("Listening on %v", srv.Addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}

			return nil
		})

		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), s.options.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				log.Errorf("Failed to shut down the listener %v: %v", srv.Addr, err)
				return err
			}

			log.Infof("Listener %v shut down", srv.Addr)
			return nil
		})
	}

	err := g.Wait()
	s.Close()
	return err
}

// RunWithShutdown is like Run, but it stops serving, when a signal is
// received on the sigs channel.
func RunWithShutdown(o Options, sigs <-chan os.Signal) error {
	s, err := New(o)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case sig := <-sigs:
			log.Infof("Received signal %v, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return s.Serve(ctx)
}

// Run starts the server with the provided options. It blocks until the
// server is stopped by SIGTERM or SIGINT, or one of the listeners fails.
func Run(o Options) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigs)
	return RunWithShutdown(o, sigs)
}
