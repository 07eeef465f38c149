/*
Package transport contains the handles that the response pipeline uses to
talk to the hosting HTTP server, and an implementation of them on top of the
net/http package.

The pipeline is transport driven: it runs on the goroutine of the handler
or on the goroutine of whoever resumes a suspended request. When a filter
suspends the processing, the transport is put into an asynchronous pending
state, and the handler doesn't return until the request is completed, the
client goes away or the configured async timeout is reached.
*/
package transport

import (
	"errors"
	"io"
	"net/http"
)

var (
	// ErrCommitted is returned when trying to reset a response whose status
	// and headers were already sent to the client.
	ErrCommitted = errors.New("response already committed")

	// ErrClosed is returned when writing to a response after the handler
	// has returned.
	ErrClosed = errors.New("response closed")
)

// AsyncContext is the asynchronous completion mechanism of the transport.
type AsyncContext interface {

	// Suspend puts the transport into the asynchronous pending state. The
	// handler will not finish the request when the dispatcher returns.
	Suspend()

	// Suspended tells whether the transport is in the pending state.
	Suspended() bool

	// Complete signals that the response is final. Only the first call
	// has effect.
	Complete()

	// Done is closed when Complete was called.
	Done() <-chan struct{}
}

// Request is the transport handle of the incoming request.
type Request interface {
	HTTPRequest() *http.Request

	// ID identifies the request in logs.
	ID() string

	// AsyncContext returns nil when the transport doesn't support
	// asynchronous completion.
	AsyncContext() AsyncContext
}

// Response is the transport handle of the outgoing response.
type Response interface {

	// Header returns the headers that will be sent with the response.
	Header() http.Header

	SetStatus(int)
	Status() int

	// OutputStream returns the current sink of the response body. Writing
	// to it commits the response.
	OutputStream() io.Writer

	// SetOutputStream replaces the body sink, e.g. with a compressing
	// writer wrapping the current one.
	SetOutputStream(io.Writer)

	// Committed tells whether the status and the headers were sent.
	Committed() bool

	// Reset clears the status, the headers and the replaced output
	// stream. It fails with ErrCommitted when the response was already
	// committed.
	Reset() error

	// SendError sends a response with the status code and its default
	// text as the body.
	SendError(code int) error

	// Written returns the number of body bytes sent.
	Written() int64
}

// Dispatcher is called by the handler for every incoming request.
type Dispatcher interface {
	Dispatch(Request, Response)
}
