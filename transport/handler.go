package transport

import (
	"net/http"
	"time"

	ot "github.com/opentracing/opentracing-go"
	log "github.com/sirupsen/logrus"

	"github.com/zalando/respipe/logging"
	"github.com/zalando/respipe/metrics"
	"github.com/zalando/respipe/tracing"
)

// Options are the settings of the HTTP handler.
type Options struct {

	// Async enables the asynchronous completion of the requests. When
	// false, the requests don't offer an AsyncContext, and the response
	// filters can't suspend.
	Async bool

	// AsyncTimeout limits how long the handler waits for a suspended
	// request to complete. When reached, a 503 is sent, if the response
	// was not committed yet. Zero means no limit.
	AsyncTimeout time.Duration

	Tracer  ot.Tracer
	Metrics metrics.Metrics
}

// DispatcherFunc can be used as a Dispatcher.
type DispatcherFunc func(Request, Response)

type handler struct {
	dispatcher Dispatcher
	options    Options
}

func (f DispatcherFunc) Dispatch(req Request, rsp Response) { f(req, rsp) }

// Handler creates an http.Handler that calls the dispatcher for every
// request, and waits for the suspended requests to complete.
func Handler(d Dispatcher, o Options) http.Handler {
	if o.Tracer == nil {
		o.Tracer = &ot.NoopTracer{}
	}

	if o.Metrics == nil {
		o.Metrics = metrics.Default
	}

	return &handler{dispatcher: d, options: o}
}

func (h *handler) startSpan(r *http.Request) ot.Span {
	tracer := h.options.Tracer
	var opts []ot.StartSpanOption
	if wireContext, err := tracer.Extract(ot.HTTPHeaders, ot.HTTPHeadersCarrier(r.Header)); err == nil {
		opts = append(opts, ot.ChildOf(wireContext))
	}

	span := tracer.StartSpan(tracing.IngressSpanName, opts...)
	span.SetTag(tracing.SpanKindTag, tracing.SpanKindServer)
	span.SetTag(tracing.ComponentTag, "respipe")
	span.SetTag(tracing.HTTPMethodTag, r.Method)
	span.SetTag(tracing.HTTPPathTag, r.URL.Path)
	return span
}

func (h *handler) wait(x *Exchange, r *http.Request) {
	var timeout <-chan time.Time
	if h.options.AsyncTimeout > 0 {
		t := time.NewTimer(h.options.AsyncTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-x.async.Done():
	case <-r.Context().Done():
		log.Debugf("%s client went away while the response was suspended: %v", x.ID(), r.Context().Err())
	case <-timeout:
		log.Warnf("%s async timeout reached after %v", x.ID(), h.options.AsyncTimeout)
		if err := x.SendError(http.StatusServiceUnavailable); err != nil {
			log.Debugf("%s failed to send the timeout response: %v", x.ID(), err)
		}
	}
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	span := h.startSpan(r)
	defer span.Finish()

	r = r.WithContext(ot.ContextWithSpan(r.Context(), span))
	x := NewExchange(w, r, h.options.Async)
	span.SetTag(tracing.RequestIDTag, x.ID())

	h.dispatcher.Dispatch(x, x)

	async := x.async != nil && x.async.Suspended()
	if async {
		h.wait(x, r)
	}

	x.Close()

	status := x.Status()
	span.SetTag(tracing.HTTPStatusCodeTag, status)
	if status >= http.StatusInternalServerError {
		span.SetTag(tracing.ErrorTag, true)
	}

	h.options.Metrics.MeasureResponse(status, r.Method, start)
	logging.LogAccess(&logging.AccessEntry{
		Request:      r,
		RequestID:    x.ID(),
		StatusCode:   status,
		ResponseSize: x.Written(),
		Duration:     time.Since(start),
		RequestTime:  start,
		Async:        async,
	})
}
