/*
Package dispatch connects a resource, the response filter chain and the
transport: it creates the response model with the resource, runs the
filters on it, and writes the final response.

The dispatcher also provides the standard mapping of failures to
responses. The registered error mappers are tried first, then the status
code of the errors implementing StatusCode() int, e.g. HTTPError, and
finally a 500 Internal Server Error is used.
*/
package dispatch

import (
	"errors"
	"fmt"
	"net/http"

	ot "github.com/opentracing/opentracing-go"
	log "github.com/sirupsen/logrus"

	"github.com/zalando/respipe/ambient"
	"github.com/zalando/respipe/filters"
	"github.com/zalando/respipe/logging"
	"github.com/zalando/respipe/metrics"
	"github.com/zalando/respipe/pipeline"
	"github.com/zalando/respipe/response"
	"github.com/zalando/respipe/transport"
)

var errNoResponse = errors.New("no transport response")

// Resource creates the initial response model of a request.
type Resource interface {
	Serve(*http.Request) (*response.Model, error)
}

// ResourceFunc can be used as a Resource.
type ResourceFunc func(*http.Request) (*response.Model, error)

// Options are the settings of the dispatcher.
type Options struct {

	// Resource serves every request.
	Resource Resource

	// Chain is executed on every response created by the resource.
	Chain []*filters.Named

	// ErrorMappers are tried in order before the default error mapping.
	ErrorMappers []ErrorMapper

	// Bindings are added to the ambient snapshot of every request.
	Bindings map[interface{}]interface{}

	Metrics metrics.Metrics
	Tracer  ot.Tracer
}

// Dispatcher implements transport.Dispatcher, and the error mapping used
// by the pipeline.
type Dispatcher struct {
	options Options
}

var (
	_ transport.Dispatcher = (*Dispatcher)(nil)
	_ ambient.Dispatcher   = (*Dispatcher)(nil)
)

func (f ResourceFunc) Serve(r *http.Request) (*response.Model, error) { return f(r) }

// New creates a dispatcher.
func New(o Options) *Dispatcher {
	if o.Metrics == nil {
		o.Metrics = metrics.Default
	}

	return &Dispatcher{options: o}
}

func (d *Dispatcher) serve(r *http.Request) (m *response.Model, err error) {
	defer func() {
		if perr := recover(); perr != nil {
			log.Errorf("resource panic: %v", perr)
			m, err = nil, fmt.Errorf("resource panic: %v", perr)
		}
	}()

	if d.options.Resource == nil {
		return response.NewModel(http.StatusNoContent, nil), nil
	}

	m, err = d.options.Resource.Serve(r)
	if err == nil && m == nil {
		m = response.NewModel(http.StatusNoContent, nil)
	}

	return
}

// Dispatch handles a request. When the transport offers asynchronous
// completion, the response is written by the continuation of the filter
// chain, otherwise by Dispatch after the chain finished.
func (d *Dispatcher) Dispatch(req transport.Request, rsp transport.Response) {
	s := &ambient.Snapshot{Request: req, Response: rsp, Dispatcher: d}
	for k, v := range d.options.Bindings {
		s = s.With(k, v)
	}

	l := logging.New().WithFields(map[string]interface{}{"request-id": req.ID()})

	m, err := d.serve(req.HTTPRequest())
	if err != nil {
		pipeline.Escalate(s, err, l, d.options.Metrics)
		return
	}

	var (
		runner       *pipeline.Runner
		continuation pipeline.Continuation
	)

	if req.AsyncContext() != nil {
		continuation = func() error { return writeEntity(runner, rsp) }
	}

	runner = pipeline.New(pipeline.Options{
		Snapshot:     s,
		Model:        m,
		Chain:        d.options.Chain,
		Continuation: continuation,
		Log:          l,
		Metrics:      d.options.Metrics,
		Tracer:       d.options.Tracer,
	})

	if err := runner.Filter(); err != nil {
		pipeline.Escalate(s, err, l, d.options.Metrics)
		return
	}

	if continuation == nil && !runner.Abandoned() {
		if err := writeEntity(runner, rsp); err != nil {
			pipeline.Escalate(s, err, l, d.options.Metrics)
		}
	}
}

func (d *Dispatcher) mapError(err error) *response.Model {
	for _, mapper := range d.options.ErrorMappers {
		if m, ok := mapper.MapError(err); ok && m != nil {
			return m
		}
	}

	return defaultErrorModel(err)
}

// WriteError replaces the response with the one mapped from the error. It
// fails when the response was already committed.
func (d *Dispatcher) WriteError(req transport.Request, rsp transport.Response, err error) error {
	if rsp == nil {
		return errNoResponse
	}

	if err := rsp.Reset(); err != nil {
		return err
	}

	m := d.mapError(err)
	if req != nil {
		log.Debugf("%s mapped failure to %d: %v", req.ID(), m.Status(), err)
	}

	return writeEntity(m, rsp)
}
