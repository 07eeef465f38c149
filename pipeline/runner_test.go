package pipeline_test

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AlexanderYastrebov/noleak"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zalando/respipe/ambient"
	"github.com/zalando/respipe/filters"
	"github.com/zalando/respipe/logging/loggingtest"
	"github.com/zalando/respipe/metrics"
	"github.com/zalando/respipe/metrics/metricstest"
	"github.com/zalando/respipe/pipeline"
	"github.com/zalando/respipe/response"
	"github.com/zalando/respipe/tracing"
	"github.com/zalando/respipe/tracing/tracingtest"
	"github.com/zalando/respipe/transport"
)

const waitTimeout = time.Second

type filterFunc func(filters.RequestContext, filters.ResponseContext) error

func (f filterFunc) Response(req filters.RequestContext, rsp filters.ResponseContext) error {
	return f(req, rsp)
}

type statusError int

func (e statusError) Error() string   { return fmt.Sprintf("status error: %d", int(e)) }
func (e statusError) StatusCode() int { return int(e) }

type mapper struct {
	mu   sync.Mutex
	fail error
	errs []error
}

func (m *mapper) WriteError(_ transport.Request, rsp transport.Response, err error) error {
	m.mu.Lock()
	m.errs = append(m.errs, err)
	fail := m.fail
	m.mu.Unlock()

	if fail != nil {
		return fail
	}

	if err := rsp.Reset(); err != nil {
		return err
	}

	code := http.StatusInternalServerError
	var sc interface{ StatusCode() int }
	if errors.As(err, &sc) {
		code = sc.StatusCode()
	}

	return rsp.SendError(code)
}

func (m *mapper) errors() []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]error(nil), m.errs...)
}

type fixture struct {
	t               *testing.T
	rec             *httptest.ResponseRecorder
	exchange        *transport.Exchange
	snapshot        *ambient.Snapshot
	mapper          *mapper
	log             *loggingtest.TestLogger
	metrics         *metricstest.MockMetrics
	tracer          *tracingtest.MockTracer
	runner          *pipeline.Runner
	delivered       atomic.Int32
	continuationErr error
	partialWrite    bool

	mu    sync.Mutex
	order []string
}

type fixtureOptions struct {
	sync         bool
	continuation bool
}

func newFixture(t *testing.T) *fixture {
	req := httptest.NewRequest("GET", "http://www.example.org/foo", nil)
	rec := httptest.NewRecorder()
	x := transport.NewExchange(rec, req, true)
	m := &mapper{}
	s := &ambient.Snapshot{Request: x, Response: x, Dispatcher: m}

	f := &fixture{
		t:        t,
		rec:      rec,
		exchange: x,
		snapshot: s,
		mapper:   m,
		log:      loggingtest.New(),
		metrics:  &metricstest.MockMetrics{},
		tracer:   tracingtest.NewTracer(),
	}

	t.Cleanup(f.log.Close)
	return f
}

func (f *fixture) deliver() error {
	f.delivered.Add(1)
	f.record("continuation")
	if f.partialWrite {
		if _, err := io.WriteString(f.runner.EntityStream(), "Hello"); err != nil {
			return err
		}
	}

	if f.continuationErr != nil {
		return f.continuationErr
	}

	_, err := io.WriteString(f.runner.EntityStream(), fmt.Sprint(f.runner.Entity()))
	return err
}

func (f *fixture) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, name)
}

func (f *fixture) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

func (f *fixture) named(name string, fn filterFunc) *filters.Named {
	return &filters.Named{Name: name, Filter: filterFunc(func(req filters.RequestContext, rsp filters.ResponseContext) error {
		f.record(name)
		if fn == nil {
			return nil
		}

		return fn(req, rsp)
	})}
}

func (f *fixture) waitDone() {
	f.t.Helper()
	select {
	case <-f.exchange.AsyncContext().Done():
	case <-time.After(waitTimeout):
		f.t.Fatal("timeout waiting for the completion")
	}
}

func suspend(_ filters.RequestContext, rsp filters.ResponseContext) error {
	return rsp.Suspend()
}

// newChain creates the runner after the fixture, because the filters
// record into the fixture.
func newChain(t *testing.T, o fixtureOptions, build func(f *fixture) []*filters.Named) *fixture {
	f := newFixture(t)
	if o.sync {
		f.exchange = transport.NewExchange(f.rec, f.exchange.HTTPRequest(), false)
		f.snapshot = &ambient.Snapshot{Request: f.exchange, Response: f.exchange, Dispatcher: f.mapper}
	}

	chain := build(f)
	runner := pipeline.New(pipeline.Options{
		Snapshot:     f.snapshot,
		Model:        response.NewModel(http.StatusOK, "Hello, world!"),
		Chain:        chain,
		Continuation: continuationOf(f, o),
		Log:          f.log,
		Metrics:      f.metrics,
		Tracer:       f.tracer,
	})

	f.runner = runner
	return f
}

func continuationOf(f *fixture, o fixtureOptions) pipeline.Continuation {
	if !o.continuation {
		return nil
	}

	return f.deliver
}

var async = fixtureOptions{continuation: true}

func TestChainWithoutSuspension(t *testing.T) {
	var observed int
	f := newChain(t, async, func(f *fixture) []*filters.Named {
		return []*filters.Named{
			f.named("f1", nil),
			f.named("f2", func(_ filters.RequestContext, rsp filters.ResponseContext) error {
				rsp.SetStatus(http.StatusTeapot)
				return nil
			}),
			f.named("f3", func(_ filters.RequestContext, rsp filters.ResponseContext) error {
				observed = rsp.Status()
				return nil
			}),
		}
	})

	require.NoError(t, f.runner.Filter())

	assert.Equal(t, []string{"f1", "f2", "f3", "continuation"}, f.recorded())
	assert.Equal(t, http.StatusTeapot, observed)
	assert.Equal(t, int32(1), f.delivered.Load())
	assert.False(t, f.exchange.AsyncContext().Suspended())
	assert.False(t, f.runner.Abandoned())
	assert.Equal(t, http.StatusTeapot, f.rec.Code)
	assert.Equal(t, "Hello, world!", f.rec.Body.String())

	// the chain is finished, calling it again has no effect
	require.NoError(t, f.runner.Filter())
	assert.Equal(t, int32(1), f.delivered.Load())

	for _, name := range []string{"f1", "f2", "f3"} {
		_, ok := f.metrics.Measure(fmt.Sprintf(metrics.KeyFilterResponse, name))
		assert.True(t, ok, name)
	}

	_, ok := f.metrics.Measure(metrics.KeyAllFiltersResponseCombined)
	assert.True(t, ok)
}

func TestEmptyChain(t *testing.T) {
	f := newChain(t, async, func(*fixture) []*filters.Named { return nil })
	require.NoError(t, f.runner.Filter())
	assert.Equal(t, []string{"continuation"}, f.recorded())
}

func TestSuspendAndResume(t *testing.T) {
	noleak.Check(t)

	f := newChain(t, async, func(f *fixture) []*filters.Named {
		return []*filters.Named{
			f.named("f1", nil),
			f.named("f2", suspend),
			f.named("f3", nil),
		}
	})

	require.NoError(t, f.runner.Filter())
	assert.Equal(t, []string{"f1", "f2"}, f.recorded())
	assert.Equal(t, int32(0), f.delivered.Load())
	assert.True(t, f.exchange.AsyncContext().Suspended())

	errc := make(chan error, 1)
	go func() { errc <- f.runner.Resume() }()
	f.waitDone()
	require.NoError(t, <-errc)

	assert.Equal(t, []string{"f1", "f2", "f3", "continuation"}, f.recorded())
	assert.Equal(t, int32(1), f.delivered.Load())
	assert.Equal(t, "Hello, world!", f.rec.Body.String())

	err := f.runner.Resume()
	assert.ErrorIs(t, err, pipeline.ErrIllegalState)
	kind, ok := pipeline.KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, pipeline.IllegalSuspensionState, kind)
	assert.Equal(t, int32(1), f.delivered.Load())

	c, _ := f.metrics.Counter(fmt.Sprintf(metrics.KeySuspend, "f2"))
	assert.Equal(t, int64(1), c)
	c, _ = f.metrics.Counter(metrics.KeyResume)
	assert.Equal(t, int64(1), c)
}

func TestMultipleSuspensionCycles(t *testing.T) {
	f := newChain(t, async, func(f *fixture) []*filters.Named {
		return []*filters.Named{
			f.named("f1", suspend),
			f.named("f2", suspend),
			f.named("f3", nil),
		}
	})

	require.NoError(t, f.runner.Filter())
	assert.Equal(t, []string{"f1"}, f.recorded())

	require.NoError(t, f.runner.Resume())
	assert.Equal(t, []string{"f1", "f2"}, f.recorded())
	assert.Equal(t, int32(0), f.delivered.Load())

	require.NoError(t, f.runner.Resume())
	f.waitDone()
	assert.Equal(t, []string{"f1", "f2", "f3", "continuation"}, f.recorded())
	assert.Equal(t, int32(1), f.delivered.Load())

	assert.ErrorIs(t, f.runner.Resume(), pipeline.ErrIllegalState)

	c, _ := f.metrics.Counter(metrics.KeyResume)
	assert.Equal(t, int64(2), c)
}

func TestFilterWhileSuspended(t *testing.T) {
	f := newChain(t, async, func(f *fixture) []*filters.Named {
		return []*filters.Named{
			f.named("f1", nil),
			f.named("f2", suspend),
			f.named("f3", nil),
		}
	})

	require.NoError(t, f.runner.Filter())
	assert.Equal(t, []string{"f1", "f2"}, f.recorded())

	err := f.runner.Filter()
	assert.ErrorIs(t, err, pipeline.ErrIllegalState)
	kind, ok := pipeline.KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, pipeline.IllegalSuspensionState, kind)
	assert.Equal(t, []string{"f1", "f2"}, f.recorded())
	assert.Equal(t, int32(0), f.delivered.Load())

	require.NoError(t, f.runner.Resume())
	f.waitDone()
	assert.Equal(t, []string{"f1", "f2", "f3", "continuation"}, f.recorded())
	assert.Equal(t, int32(1), f.delivered.Load())
}

func TestContinuationFailureAfterSuspensionEscalated(t *testing.T) {
	f := newChain(t, async, func(f *fixture) []*filters.Named {
		return []*filters.Named{f.named("f1", suspend)}
	})

	f.continuationErr = statusError(http.StatusServiceUnavailable)
	require.NoError(t, f.runner.Filter())
	require.NoError(t, f.runner.Resume())
	f.waitDone()

	errs := f.mapper.errors()
	require.Len(t, errs, 1)
	kind, _ := pipeline.KindOf(errs[0])
	assert.Equal(t, pipeline.ContinuationFailure, kind)
	assert.Equal(t, http.StatusServiceUnavailable, f.rec.Code)
}

func TestContinuationFailureForcesGenericError(t *testing.T) {
	f := newChain(t, async, func(f *fixture) []*filters.Named {
		return []*filters.Named{f.named("f1", suspend)}
	})

	f.continuationErr = errors.New("delivery failed")
	f.mapper.fail = errors.New("mapping failed")
	require.NoError(t, f.runner.Filter())
	require.NoError(t, f.runner.Resume())
	f.waitDone()

	require.NoError(t, f.log.WaitFor("unhandled failure", waitTimeout))
	assert.Equal(t, http.StatusInternalServerError, f.rec.Code)

	c, _ := f.metrics.Counter(metrics.KeyEscalationFailed)
	assert.Equal(t, int64(1), c)
	c, _ = f.metrics.Counter(fmt.Sprintf(metrics.KeyEscalation, "continuation-failure"))
	assert.Equal(t, int64(1), c)
}

func TestContinuationFailureOnCommittedResponseOnlyLogged(t *testing.T) {
	f := newChain(t, async, func(f *fixture) []*filters.Named {
		return []*filters.Named{
			f.named("f1", func(_ filters.RequestContext, rsp filters.ResponseContext) error {
				rsp.SetStatus(http.StatusAccepted)
				return rsp.Suspend()
			}),
		}
	})

	f.partialWrite = true
	f.continuationErr = errors.New("connection lost")
	require.NoError(t, f.runner.Filter())
	require.NoError(t, f.runner.Resume())
	f.waitDone()

	require.NoError(t, f.log.WaitFor("unhandled failure", waitTimeout))
	assert.Len(t, f.mapper.errors(), 1)
	assert.Equal(t, http.StatusAccepted, f.rec.Code)
	assert.Equal(t, "Hello", f.rec.Body.String())
}

func TestContinuationFailureBeforeSuspensionReturned(t *testing.T) {
	f := newChain(t, async, func(f *fixture) []*filters.Named {
		return []*filters.Named{f.named("f1", nil)}
	})

	f.continuationErr = errors.New("delivery failed")
	err := f.runner.Filter()
	kind, ok := pipeline.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, pipeline.ContinuationFailure, kind)
	assert.ErrorIs(t, err, f.continuationErr)
	assert.Empty(t, f.mapper.errors())
}

func TestFilterFailure(t *testing.T) {
	ferr := statusError(http.StatusBadGateway)
	f := newChain(t, async, func(f *fixture) []*filters.Named {
		return []*filters.Named{
			f.named("f1", func(filters.RequestContext, filters.ResponseContext) error { return ferr }),
			f.named("f2", nil),
			f.named("f3", nil),
		}
	})

	err := f.runner.Filter()
	var perr *pipeline.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, pipeline.FilterFailure, perr.Kind)
	assert.Equal(t, "f1", perr.Filter)
	assert.ErrorIs(t, err, ferr)
	assert.Equal(t, []string{"f1"}, f.recorded())
	assert.Equal(t, int32(0), f.delivered.Load())
	assert.True(t, f.runner.Abandoned())

	pipeline.Escalate(f.snapshot, err, f.log, f.metrics)
	assert.Equal(t, http.StatusBadGateway, f.rec.Code)
	assert.Equal(t, int32(0), f.delivered.Load())
}

func TestFilterFailureAfterSuspensionEscalated(t *testing.T) {
	f := newChain(t, async, func(f *fixture) []*filters.Named {
		return []*filters.Named{
			f.named("f1", suspend),
			f.named("f2", func(filters.RequestContext, filters.ResponseContext) error {
				return statusError(http.StatusForbidden)
			}),
			f.named("f3", nil),
		}
	})

	require.NoError(t, f.runner.Filter())
	require.NoError(t, f.runner.Resume())
	f.waitDone()

	assert.Equal(t, []string{"f1", "f2"}, f.recorded())
	assert.Equal(t, http.StatusForbidden, f.rec.Code)
	assert.Equal(t, int32(0), f.delivered.Load())
}

func TestFilterPanic(t *testing.T) {
	f := newChain(t, async, func(f *fixture) []*filters.Named {
		return []*filters.Named{
			f.named("f1", func(filters.RequestContext, filters.ResponseContext) error { panic("oops") }),
			f.named("f2", nil),
		}
	})

	err := f.runner.Filter()
	kind, _ := pipeline.KindOf(err)
	assert.Equal(t, pipeline.FilterFailure, kind)
	assert.Equal(t, []string{"f1"}, f.recorded())
	assert.NoError(t, f.log.WaitFor("filter f1 panic: oops", waitTimeout))
}

func TestNoContinuation(t *testing.T) {
	var suspendErr error
	f := newChain(t, fixtureOptions{sync: true}, func(f *fixture) []*filters.Named {
		return []*filters.Named{
			f.named("f1", func(_ filters.RequestContext, rsp filters.ResponseContext) error {
				suspendErr = rsp.Suspend()
				return nil
			}),
			f.named("f2", nil),
		}
	})

	require.NoError(t, f.runner.Filter())
	assert.Equal(t, []string{"f1", "f2"}, f.recorded())
	assert.Equal(t, int32(0), f.delivered.Load())
	assert.False(t, f.runner.Abandoned())
	assert.ErrorIs(t, suspendErr, pipeline.ErrUnsupported)
	assert.Nil(t, f.exchange.AsyncContext())
}

func TestSuspendOutsideFilter(t *testing.T) {
	f := newChain(t, async, func(f *fixture) []*filters.Named {
		return []*filters.Named{f.named("f1", nil)}
	})

	assert.ErrorIs(t, f.runner.Suspend(), pipeline.ErrIllegalState)
	require.NoError(t, f.runner.Filter())
	assert.ErrorIs(t, f.runner.Suspend(), pipeline.ErrIllegalState)
}

func TestResumeWithoutSuspension(t *testing.T) {
	var resumeErr error
	f := newChain(t, async, func(f *fixture) []*filters.Named {
		return []*filters.Named{
			f.named("f1", func(_ filters.RequestContext, rsp filters.ResponseContext) error {
				resumeErr = rsp.Resume()
				return nil
			}),
		}
	})

	assert.ErrorIs(t, f.runner.Resume(), pipeline.ErrIllegalState)
	require.NoError(t, f.runner.Filter())
	assert.ErrorIs(t, resumeErr, pipeline.ErrIllegalState)
	assert.Equal(t, int32(1), f.delivered.Load())
}

func TestResumeDuringTheSuspendingFilter(t *testing.T) {
	var secondResume error
	f := newChain(t, async, func(f *fixture) []*filters.Named {
		return []*filters.Named{
			f.named("f1", func(_ filters.RequestContext, rsp filters.ResponseContext) error {
				if err := rsp.Suspend(); err != nil {
					return err
				}

				if err := rsp.Resume(); err != nil {
					return err
				}

				secondResume = rsp.Resume()
				return nil
			}),
			f.named("f2", nil),
		}
	})

	require.NoError(t, f.runner.Filter())
	assert.Equal(t, []string{"f1", "f2", "continuation"}, f.recorded())
	assert.ErrorIs(t, secondResume, pipeline.ErrIllegalState)
	assert.False(t, f.exchange.AsyncContext().Suspended())
	assert.Equal(t, "Hello, world!", f.rec.Body.String())

	c, _ := f.metrics.Counter(fmt.Sprintf(metrics.KeySuspend, "f1"))
	assert.Equal(t, int64(1), c)
	c, _ = f.metrics.Counter(metrics.KeyResume)
	assert.Equal(t, int64(1), c)
}

func TestResumeFromGoroutineBeforeTheFilterReturns(t *testing.T) {
	noleak.Check(t)

	f := newChain(t, async, func(f *fixture) []*filters.Named {
		return []*filters.Named{
			f.named("f1", func(_ filters.RequestContext, rsp filters.ResponseContext) error {
				if err := rsp.Suspend(); err != nil {
					return err
				}

				errc := make(chan error)
				go func() { errc <- rsp.Resume() }()
				return <-errc
			}),
			f.named("f2", nil),
		}
	})

	require.NoError(t, f.runner.Filter())
	assert.Equal(t, []string{"f1", "f2", "continuation"}, f.recorded())
	assert.False(t, f.exchange.AsyncContext().Suspended())
}

func TestConcurrentResumes(t *testing.T) {
	noleak.Check(t)

	f := newChain(t, async, func(f *fixture) []*filters.Named {
		return []*filters.Named{
			f.named("f1", suspend),
			f.named("f2", nil),
		}
	})

	require.NoError(t, f.runner.Filter())

	const n = 16
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		illegal   atomic.Int32
	)

	wg.Add(n)
	for range n {
		go func() {
			defer wg.Done()
			switch err := f.runner.Resume(); {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, pipeline.ErrIllegalState):
				illegal.Add(1)
			}
		}()
	}

	wg.Wait()
	f.waitDone()

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(n-1), illegal.Load())
	assert.Equal(t, int32(1), f.delivered.Load())
	assert.Equal(t, []string{"f1", "f2", "continuation"}, f.recorded())
}

func TestAbortBeforeTheFirstFilter(t *testing.T) {
	f := newChain(t, async, func(f *fixture) []*filters.Named {
		return []*filters.Named{f.named("f1", nil)}
	})

	require.NoError(t, f.runner.ResumeWithError(statusError(http.StatusTooManyRequests)))
	require.NoError(t, f.runner.Filter())

	assert.Empty(t, f.recorded())
	assert.True(t, f.runner.Abandoned())
	assert.Equal(t, http.StatusTooManyRequests, f.rec.Code)
	assert.ErrorIs(t, f.runner.Resume(), pipeline.ErrIllegalState)
	assert.ErrorIs(t, f.runner.ResumeWithError(nil), pipeline.ErrIllegalState)
}

func TestAbortDuringFilter(t *testing.T) {
	abort := statusError(http.StatusServiceUnavailable)
	f := newChain(t, async, func(f *fixture) []*filters.Named {
		return []*filters.Named{
			f.named("f1", func(_ filters.RequestContext, rsp filters.ResponseContext) error {
				return rsp.ResumeWithError(abort)
			}),
			f.named("f2", nil),
		}
	})

	err := f.runner.Filter()
	assert.ErrorIs(t, err, abort)
	assert.Equal(t, []string{"f1"}, f.recorded())
	assert.True(t, f.runner.Abandoned())
	assert.Equal(t, int32(0), f.delivered.Load())
}

func TestAbortAfterSuspension(t *testing.T) {
	noleak.Check(t)

	f := newChain(t, async, func(f *fixture) []*filters.Named {
		return []*filters.Named{
			f.named("f1", suspend),
			f.named("f2", nil),
		}
	})

	require.NoError(t, f.runner.Filter())

	errc := make(chan error, 1)
	go func() { errc <- f.runner.ResumeWithError(nil) }()
	f.waitDone()
	require.NoError(t, <-errc)

	errs := f.mapper.errors()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], pipeline.ErrAborted)
	assert.Equal(t, []string{"f1"}, f.recorded())
	assert.Equal(t, int32(0), f.delivered.Load())
	assert.Equal(t, http.StatusInternalServerError, f.rec.Code)

	c, _ := f.metrics.Counter(fmt.Sprintf(metrics.KeyEscalation, "aborted"))
	assert.Equal(t, int64(1), c)
}

func TestAmbientSnapshotRestoredOnResume(t *testing.T) {
	type key struct{}

	var (
		before, after *ambient.Snapshot
		value         interface{}
	)

	f := newFixture(t)
	f.snapshot = f.snapshot.With(key{}, "bound")
	f.runner = pipeline.New(pipeline.Options{
		Snapshot: f.snapshot,
		Chain: []*filters.Named{
			f.named("f1", func(req filters.RequestContext, rsp filters.ResponseContext) error {
				before, _ = ambient.FromContext(req.Context())
				return rsp.Suspend()
			}),
			f.named("f2", func(req filters.RequestContext, _ filters.ResponseContext) error {
				after, _ = ambient.FromContext(req.Context())
				value = after.Value(key{})
				return nil
			}),
		},
		Continuation: f.deliver,
		Log:          f.log,
		Metrics:      f.metrics,
	})

	require.NoError(t, f.runner.Filter())
	require.NoError(t, f.runner.Resume())

	require.NotNil(t, before)
	require.NotNil(t, after)
	assert.NotSame(t, before, after)
	assert.Equal(t, "bound", value)
	assert.Same(t, f.exchange, after.Response)
}

func TestStateBagAndRequestID(t *testing.T) {
	var id string
	f := newChain(t, async, func(f *fixture) []*filters.Named {
		return []*filters.Named{
			f.named("f1", func(req filters.RequestContext, _ filters.ResponseContext) error {
				req.StateBag()["seen"] = req.Request().URL.Path
				return nil
			}),
			f.named("f2", func(req filters.RequestContext, rsp filters.ResponseContext) error {
				id = req.RequestID()
				rsp.Headers().Set("X-Seen", req.StateBag()["seen"])
				return nil
			}),
		}
	})

	require.NoError(t, f.runner.Filter())
	assert.Equal(t, f.exchange.ID(), id)
	assert.Equal(t, "/foo", f.runner.HeaderString("X-Seen"))
}

func TestTracing(t *testing.T) {
	f := newChain(t, async, func(f *fixture) []*filters.Named {
		return []*filters.Named{
			f.named("f1", suspend),
			f.named("f2", nil),
		}
	})

	require.NoError(t, f.runner.Filter())
	require.NoError(t, f.runner.Resume())

	spans := f.tracer.FindSpans(tracing.ResponseFiltersSpanName)
	require.Len(t, spans, 2)
	assert.Equal(t, "f1", spans[0].Tag(tracing.SuspendedTag))
	assert.Nil(t, spans[1].Tag(tracing.SuspendedTag))
	assert.Equal(t, f.exchange.ID(), spans[0].Tag(tracing.RequestIDTag))
	assert.Len(t, spans[0].Logs(), 2)
	assert.Len(t, spans[1].Logs(), 2)
}

func TestEscalateWithoutDispatcher(t *testing.T) {
	rec := httptest.NewRecorder()
	x := transport.NewExchange(rec, httptest.NewRequest("GET", "/", nil), true)
	x.AsyncContext().Suspend()

	log := loggingtest.New()
	defer log.Close()

	pipeline.Escalate(&ambient.Snapshot{Request: x, Response: x}, errors.New("failed"), log, nil)

	assert.NoError(t, log.WaitFor("unhandled failure", waitTimeout))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	select {
	case <-x.AsyncContext().Done():
	default:
		t.Error("async context not completed")
	}
}
