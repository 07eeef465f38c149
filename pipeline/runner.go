package pipeline

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	ot "github.com/opentracing/opentracing-go"

	"github.com/zalando/respipe/ambient"
	"github.com/zalando/respipe/filters"
	"github.com/zalando/respipe/logging"
	"github.com/zalando/respipe/metrics"
	"github.com/zalando/respipe/response"
	"github.com/zalando/respipe/tracing"
	"github.com/zalando/respipe/transport"
)

// Continuation delivers the final response to the transport. The runner
// calls it at most once, after the last filter of the chain returned.
type Continuation func() error

// Options are the arguments of a runner.
type Options struct {

	// Snapshot holds the transport handles and the dispatcher of the
	// request. It is copied when a filter suspends the chain.
	Snapshot *ambient.Snapshot

	// Model is the response under construction. When not set, an empty
	// 200 response is used.
	Model *response.Model

	// Chain is the ordered list of the response filters.
	Chain []*filters.Named

	// Continuation is nil when the transport doesn't support asynchronous
	// completion. In this case, the caller of Filter delivers the
	// response, and suspending the chain is not supported.
	Continuation Continuation

	// StateBag is shared by the filters of the chain. When not set, an
	// empty one is created.
	StateBag map[string]interface{}

	Log     logging.Logger
	Metrics metrics.Metrics
	Tracer  ot.Tracer
}

type requestContext struct {
	req      transport.Request
	base     context.Context
	ctx      context.Context
	stateBag map[string]interface{}
}

// Runner executes the response filter chain of a single request, and
// implements the suspension control exposed to the filters.
//
// Filter, Resume and ResumeWithError form a single critical section per
// request: at most one goroutine advances the chain at a time. A filter
// may call Suspend, Resume and ResumeWithError of its own request during
// its invocation. These calls don't block, they are recorded and take
// effect when the filter returns.
type Runner struct {
	*response.Model

	chain        []*filters.Named
	continuation Continuation
	req          transport.Request
	rsp          transport.Response
	rc           *requestContext
	log          logging.Logger
	metrics      metrics.Metrics
	tracer       ot.Tracer
	elapsed      time.Duration

	mu sync.Mutex

	state         sync.Mutex
	snapshot      *ambient.Snapshot
	current       int
	cycle         int
	suspended     bool
	inFilter      bool
	resumePending bool
	abortPending  bool
	abortErr      error
	everSuspended bool
	fired         bool
	done          bool
	abandoned     bool
}

var (
	_ filters.RequestContext  = (*requestContext)(nil)
	_ filters.ResponseContext = (*Runner)(nil)
)

// New creates a runner for a single request.
func New(o Options) *Runner {
	s := o.Snapshot
	if s == nil {
		s = &ambient.Snapshot{}
	}

	m := o.Model
	if m == nil {
		m = response.NewModel(http.StatusOK, nil)
	}

	stateBag := o.StateBag
	if stateBag == nil {
		stateBag = make(map[string]interface{})
	}

	base := context.Background()
	var id string
	if s.Request != nil {
		id = s.Request.ID()
		if hr := s.Request.HTTPRequest(); hr != nil {
			base = hr.Context()
		}
	}

	log := o.Log
	if log == nil {
		log = logging.New().WithFields(map[string]interface{}{"request-id": id})
	}

	mx := o.Metrics
	if mx == nil {
		mx = metrics.Default
	}

	return &Runner{
		Model:        m,
		chain:        o.Chain,
		continuation: o.Continuation,
		req:          s.Request,
		rsp:          s.Response,
		snapshot:     s,
		rc: &requestContext{
			req:      s.Request,
			base:     base,
			ctx:      ambient.NewContext(base, s),
			stateBag: stateBag,
		},
		log:     log,
		metrics: mx,
		tracer:  o.Tracer,
	}
}

func (rc *requestContext) Request() *http.Request {
	if rc.req == nil {
		return nil
	}

	return rc.req.HTTPRequest()
}

func (rc *requestContext) Context() context.Context         { return rc.ctx }
func (rc *requestContext) StateBag() map[string]interface{} { return rc.stateBag }

func (rc *requestContext) RequestID() string {
	if rc.req == nil {
		return ""
	}

	return rc.req.ID()
}

// SetStatus sets the status of the response model and of the transport
// response.
func (r *Runner) SetStatus(code int) {
	r.Model.SetStatus(code)
	if r.rsp != nil {
		r.rsp.SetStatus(code)
	}
}

// SetStatusInfo sets the status of the response model and of the
// transport response.
func (r *Runner) SetStatusInfo(s response.StatusInfo) {
	r.Model.SetStatusInfo(s)
	if r.rsp != nil {
		r.rsp.SetStatus(s.Code)
	}
}

func (r *Runner) EntityStream() io.Writer {
	if r.rsp == nil {
		return io.Discard
	}

	return r.rsp.OutputStream()
}

func (r *Runner) SetEntityStream(w io.Writer) {
	if r.rsp != nil {
		r.rsp.SetOutputStream(w)
	}
}

// Abandoned tells whether the chain was abandoned by a failure or by
// ResumeWithError. The failure was escalated, or returned by Filter, so the
// caller must not deliver the response.
func (r *Runner) Abandoned() bool {
	r.state.Lock()
	defer r.state.Unlock()
	return r.abandoned
}

// Filter advances the chain from the current filter. It returns when the
// chain completed, a filter suspended it, or a filter failed.
//
// Before the first suspension, the failures of the filters and of the
// continuation are returned to the caller. Once suspended, the rest of the
// chain is executed by Resume, and calling Filter on a suspended chain
// fails with an IllegalSuspensionState error.
func (r *Runner) Filter() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state.Lock()
	suspended := r.suspended
	r.state.Unlock()
	if suspended {
		return illegalState("filter while suspended")
	}

	return r.filter()
}

func (r *Runner) asyncContext() transport.AsyncContext {
	if r.req == nil {
		return nil
	}

	return r.req.AsyncContext()
}

// filter needs to be called with mu held.
func (r *Runner) filter() error {
	span := tracing.CreateSpan(tracing.ResponseFiltersSpanName, r.rc.ctx, r.tracer)
	defer span.Finish()
	span.SetTag(tracing.RequestIDTag, r.rc.RequestID())

	start := time.Now()
	for {
		r.state.Lock()
		if r.done {
			r.state.Unlock()
			return nil
		}

		if r.current >= len(r.chain) {
			r.state.Unlock()
			break
		}

		f := r.chain[r.current]
		r.current++
		r.suspended = false
		r.resumePending = false
		r.inFilter = true
		r.state.Unlock()

		err := r.invoke(f, span)

		r.state.Lock()
		r.inFilter = false
		switch {
		case err != nil:
			r.done = true
			r.abandoned = true
			r.state.Unlock()
			span.SetTag(tracing.ErrorTag, true)
			return &Error{Kind: FilterFailure, Filter: f.Name, Err: err}
		case r.abortPending:
			r.done = true
			r.abandoned = true
			err := r.abortErr
			r.state.Unlock()
			span.SetTag(tracing.ErrorTag, true)
			return err
		case r.suspended && r.resumePending:
			r.suspended = false
			r.resumePending = false
			r.state.Unlock()
			r.metrics.IncSuspensions(f.Name)
			r.metrics.IncResumes()
		case r.suspended:
			r.everSuspended = true
			r.cycle++
			r.state.Unlock()

			if a := r.asyncContext(); a != nil && !a.Suspended() {
				a.Suspend()
			}

			r.metrics.IncSuspensions(f.Name)
			span.SetTag(tracing.SuspendedTag, f.Name)
			r.elapsed += time.Since(start)
			return nil
		default:
			r.state.Unlock()
		}
	}

	r.elapsed += time.Since(start)
	r.metrics.MeasureAllFiltersResponse(time.Now().Add(-r.elapsed))
	return r.complete()
}

func (r *Runner) invoke(f *filters.Named, span ot.Span) error {
	tracing.LogKV(span, f.Name, tracing.StartEvent)
	defer tracing.LogKV(span, f.Name, tracing.EndEvent)

	start := time.Now()
	defer r.metrics.MeasureFilterResponse(f.Name, start)

	return tryCatch(func() error {
		return f.Filter.Response(r.rc, r)
	}, func(err interface{}, stack string) {
		if stack != "" {
			r.log.Errorf("filter %s panic: %v, stack: %s", f.Name, err, stack)
		} else {
			r.log.Errorf("filter %s panic: %v", f.Name, err)
		}
	})
}

func (r *Runner) complete() error {
	r.state.Lock()
	if r.continuation == nil {
		r.done = true
		r.state.Unlock()
		return nil
	}

	if r.fired {
		r.state.Unlock()
		return nil
	}

	r.fired = true
	r.done = true
	async := r.everSuspended
	r.state.Unlock()

	err := tryCatch(r.continuation, func(err interface{}, stack string) {
		r.log.Errorf("response delivery panic: %v %s", err, stack)
	})

	if !async {
		if err != nil {
			return &Error{Kind: ContinuationFailure, Err: err}
		}

		return nil
	}

	if err != nil {
		r.escalate(&Error{Kind: ContinuationFailure, Err: err})
		return nil
	}

	if a := r.asyncContext(); a != nil {
		a.Complete()
	}

	return nil
}

func (r *Runner) escalate(err error) {
	r.state.Lock()
	s := r.snapshot
	r.state.Unlock()
	Escalate(s, err, r.log, r.metrics)
}
