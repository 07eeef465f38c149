// Package filtertest implements mock versions of the Filter, Spec,
// RequestContext and ResponseContext interfaces used during tests.
package filtertest

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/zalando/respipe/filters"
	"github.com/zalando/respipe/response"
)

// Filter is a spec and a filter at the same time. As a filter, it records
// the arguments it was created with, and does nothing else.
type Filter struct {
	FilterName string
	Args       []interface{}
}

func (spec *Filter) Name() string { return spec.FilterName }

func (spec *Filter) CreateFilter(config []interface{}) (filters.Filter, error) {
	return &Filter{spec.FilterName, config}, nil
}

func (f *Filter) Response(filters.RequestContext, filters.ResponseContext) error { return nil }

// Context implements both the request and the response context on top of
// a response model, without a running chain. Suspend, Resume and
// ResumeWithError are recorded, and Resumed is closed on the first call
// of either resume variant.
type Context struct {
	*response.Model

	FRequest   *http.Request
	FContext   context.Context
	FStateBag  map[string]interface{}
	FRequestID string
	FStream    io.Writer

	// FSuspendErr, when set, is returned by Suspend.
	FSuspendErr error

	// FResumeErr, when set, is returned by Resume and ResumeWithError,
	// after the call was recorded.
	FResumeErr error

	mu          sync.Mutex
	suspended   bool
	resumeCount int
	resumeErr   error
	resumed     chan struct{}
	once        sync.Once
}

// NewContext creates a context with a 200 response model, and a buffer as
// the entity stream.
func NewContext(r *http.Request) *Context {
	if r == nil {
		r, _ = http.NewRequest("GET", "http://www.example.org", nil)
	}

	return &Context{
		Model:     response.NewModel(http.StatusOK, nil),
		FRequest:  r,
		FContext:  r.Context(),
		FStateBag: make(map[string]interface{}),
		FStream:   &bytes.Buffer{},
		resumed:   make(chan struct{}),
	}
}

func (fc *Context) Request() *http.Request           { return fc.FRequest }
func (fc *Context) Context() context.Context         { return fc.FContext }
func (fc *Context) StateBag() map[string]interface{} { return fc.FStateBag }
func (fc *Context) RequestID() string                { return fc.FRequestID }
func (fc *Context) EntityStream() io.Writer          { return fc.FStream }
func (fc *Context) SetEntityStream(w io.Writer)      { fc.FStream = w }

func (fc *Context) Suspend() error {
	if fc.FSuspendErr != nil {
		return fc.FSuspendErr
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.suspended = true
	return nil
}

func (fc *Context) Resume() error {
	return fc.resume(nil)
}

func (fc *Context) ResumeWithError(err error) error {
	return fc.resume(err)
}

func (fc *Context) resume(err error) error {
	fc.mu.Lock()
	fc.resumeCount++
	if fc.resumeCount == 1 {
		fc.resumeErr = err
	}

	fc.mu.Unlock()
	fc.once.Do(func() { close(fc.resumed) })
	return fc.FResumeErr
}

// Suspended tells whether Suspend was called.
func (fc *Context) Suspended() bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.suspended
}

// Resumed is closed when Resume or ResumeWithError was called.
func (fc *Context) Resumed() <-chan struct{} { return fc.resumed }

// ResumeCount returns how many times the resume variants were called.
func (fc *Context) ResumeCount() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.resumeCount
}

// ResumeError returns the error passed to the first ResumeWithError call.
func (fc *Context) ResumeError() error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.resumeErr
}

// Body returns the bytes written to the default entity stream.
func (fc *Context) Body() string {
	if b, ok := fc.FStream.(*bytes.Buffer); ok {
		return b.String()
	}

	return ""
}

var (
	_ filters.RequestContext  = (*Context)(nil)
	_ filters.ResponseContext = (*Context)(nil)
)
