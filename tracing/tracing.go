/*
Package tracing handles the opentracing support of the response pipeline.

The tracer can be loaded from a Go plugin, or the noop tracer is used. The
transport handler starts an "ingress" span for every request, and the
pipeline creates a "response_filters" child span for every pass over the
filter chain, so a suspended request shows one span before and one span
after each suspension.
*/
package tracing

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"plugin"

	ot "github.com/opentracing/opentracing-go"
)

const (
	ComponentTag      = "component"
	ErrorTag          = "error"
	HTTPMethodTag     = "http.method"
	HTTPPathTag       = "http.path"
	HTTPStatusCodeTag = "http.status_code"
	RequestIDTag      = "request.id"
	SpanKindTag       = "span.kind"
	SuspendedTag      = "pipeline.suspended"
	ResumedTag        = "pipeline.resumed"

	SpanKindServer = "server"

	StartEvent = "start"
	EndEvent   = "end"

	IngressSpanName         = "ingress"
	ResponseFiltersSpanName = "response_filters"
)

var (
	// ErrMissingArguments is returned when an empty list is passed to
	// InitTracer.
	ErrMissingArguments = errors.New("no arguments passed")
)

// Tracer is required to be implemented by the tracer plugins.
type Tracer interface {
	InitTracer(opts []string) (ot.Tracer, error)
}

// InitTracer creates the tracer. The first option is the name of the
// implementation: "noop", or the name of a plugin file without the .so
// extension in the plugin directory. The rest of the options are passed
// to the plugin.
func InitTracer(pluginDir string, opts []string) (ot.Tracer, error) {
	if len(opts) == 0 {
		return nil, ErrMissingArguments
	}

	impl, opts := opts[0], opts[1:]
	if impl == "noop" {
		return &ot.NoopTracer{}, nil
	}

	mod, err := plugin.Open(filepath.Join(pluginDir, impl+".so"))
	if err != nil {
		return nil, fmt.Errorf("open module %s: %w", impl, err)
	}

	sym, err := mod.Lookup("Tracer")
	if err != nil {
		return nil, fmt.Errorf("check module symbols %s: %w", impl, err)
	}

	pluggedTracer, ok := sym.(Tracer)
	if !ok {
		return nil, fmt.Errorf("module %s does not implement Tracer", impl)
	}

	tracer, err := pluggedTracer.InitTracer(opts)
	if err != nil {
		return nil, fmt.Errorf("module %s returned: %w", impl, err)
	}

	return tracer, nil
}

// CreateSpan creates a span as the child of the span in the context, when
// there is one.
func CreateSpan(name string, ctx context.Context, tracer ot.Tracer) ot.Span {
	if tracer == nil {
		tracer = &ot.NoopTracer{}
	}

	parent := ot.SpanFromContext(ctx)
	if parent == nil {
		return tracer.StartSpan(name)
	}

	return tracer.StartSpan(name, ot.ChildOf(parent.Context()))
}

// LogKV logs an event on the span, when the span is set.
func LogKV(span ot.Span, key, value string) {
	if span == nil {
		return
	}

	span.LogKV(key, value)
}
