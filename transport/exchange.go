package transport

import (
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

type asyncContext struct {
	mu        sync.Mutex
	suspended bool
	done      chan struct{}
	once      sync.Once
}

func newAsyncContext() *asyncContext {
	return &asyncContext{done: make(chan struct{})}
}

func (a *asyncContext) Suspend() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.suspended = true
}

func (a *asyncContext) Suspended() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.suspended
}

func (a *asyncContext) Complete() {
	a.once.Do(func() { close(a.done) })
}

func (a *asyncContext) Done() <-chan struct{} { return a.done }

// Exchange implements Request and Response on top of an
// http.ResponseWriter. The status and the headers are buffered until the
// first body byte is written or the response is flushed, so the response
// can be reset until then.
//
// Exchange is safe for concurrent use. After Close, all writes fail with
// ErrClosed.
type Exchange struct {
	mu        sync.Mutex
	w         http.ResponseWriter
	r         *http.Request
	id        string
	async     *asyncContext
	header    http.Header
	status    int
	committed bool
	closed    bool
	written   int64
	stream    io.Writer
}

type bodyWriter struct {
	x *Exchange
}

// NewExchange creates an exchange. When async is false, the exchange
// doesn't offer an AsyncContext.
func NewExchange(w http.ResponseWriter, r *http.Request, async bool) *Exchange {
	id := r.Header.Get("X-Request-Id")
	if id == "" {
		id = uuid.New().String()
	}

	x := &Exchange{
		w:      w,
		r:      r,
		id:     id,
		header: make(http.Header),
		status: http.StatusOK,
	}

	x.stream = bodyWriter{x}
	if async {
		x.async = newAsyncContext()
	}

	return x
}

func (x *Exchange) HTTPRequest() *http.Request { return x.r }
func (x *Exchange) ID() string                 { return x.id }

func (x *Exchange) AsyncContext() AsyncContext {
	if x.async == nil {
		return nil
	}

	return x.async
}

func (x *Exchange) Header() http.Header {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.header
}

func (x *Exchange) SetStatus(code int) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if !x.committed {
		x.status = code
	}
}

func (x *Exchange) Status() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.status
}

func (x *Exchange) OutputStream() io.Writer {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.stream
}

func (x *Exchange) SetOutputStream(w io.Writer) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if w == nil {
		w = bodyWriter{x}
	}

	x.stream = w
}

func (x *Exchange) Committed() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.committed
}

func (x *Exchange) Written() int64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.written
}

func (x *Exchange) Reset() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.committed {
		return ErrCommitted
	}

	x.header = make(http.Header)
	x.status = http.StatusOK
	x.stream = bodyWriter{x}
	return nil
}

func (x *Exchange) SendError(code int) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return ErrClosed
	}

	if x.committed {
		return ErrCommitted
	}

	x.header.Set("Content-Type", "text/plain; charset=utf-8")
	x.header.Set("X-Content-Type-Options", "nosniff")
	x.header.Del("Content-Length")
	x.status = code
	x.commitLocked()

	n, err := io.WriteString(x.w, http.StatusText(code)+"\n")
	x.written += int64(n)
	return err
}

func (x *Exchange) commitLocked() {
	if x.committed {
		return
	}

	h := x.w.Header()
	for k, v := range x.header {
		h[k] = v
	}

	x.w.WriteHeader(x.status)
	x.committed = true
}

// Flush commits the status and the headers and flushes the buffered body
// when the underlying writer supports it.
func (x *Exchange) Flush() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return ErrClosed
	}

	x.commitLocked()
	if f, ok := x.w.(http.Flusher); ok {
		f.Flush()
	}

	return nil
}

// Close finishes the exchange. It commits the response when it wasn't
// committed yet. It is called by the handler before returning.
func (x *Exchange) Close() {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return
	}

	x.commitLocked()
	x.closed = true
}

func (b bodyWriter) Write(p []byte) (int, error) {
	x := b.x
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return 0, ErrClosed
	}

	x.commitLocked()
	n, err := x.w.Write(p)
	x.written += int64(n)
	return n, err
}
