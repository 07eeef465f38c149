/*
Package diag provides filters to simulate slow and failing responses, for
testing the clients and the asynchronous processing of the response
filters.

The latency filter delays the response by suspending the filter chain, and
resuming it from a timer. The abort filter fails the chain with a status
code, optionally after a delay. The randomContent filter replaces the
entity with random text. The bandwidth and chunks filters throttle the
writing of the entity.
*/
package diag

import (
	"io"
	"math/rand/v2"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zalando/respipe/dispatch"
	"github.com/zalando/respipe/filters"
)

const minChunkSize = 512

const (
	LatencyName   = "latency"
	AbortName     = "abort"
	RandomName    = "randomContent"
	BandwidthName = "bandwidth"
	ChunksName    = "chunks"
)

type throttleType int

const (
	bandwidth throttleType = iota
	chunks
)

type latency struct {
	delay time.Duration
}

type abort struct {
	code    int
	message string
	delay   time.Duration
}

type random struct {
	len int
}

type throttle struct {
	typ       throttleType
	chunkSize int
	delay     time.Duration
}

type randomReader struct {
	remaining int
}

type throttledWriter struct {
	w         io.Writer
	chunkSize int
	delay     time.Duration
	started   bool
}

var randomChars = []byte("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789")

func kbps2bpms(kbps float64) float64 {
	return kbps * 1024 / 1000
}

func NewLatency() filters.Spec   { return &latency{} }
func NewAbort() filters.Spec     { return &abort{} }
func NewRandom() filters.Spec    { return &random{} }
func NewBandwidth() filters.Spec { return &throttle{typ: bandwidth} }
func NewChunks() filters.Spec    { return &throttle{typ: chunks} }

func (l *latency) Name() string { return LatencyName }

func (l *latency) CreateFilter(args []interface{}) (filters.Filter, error) {
	a := filters.Args(args)
	d := a.Duration()
	if err := a.Err(); err != nil {
		return nil, err
	}

	return &latency{delay: d}, nil
}

// Response suspends the chain, and resumes it after the delay. When the
// transport doesn't support the suspension, it blocks the request for the
// duration of the delay.
func (l *latency) Response(req filters.RequestContext, rsp filters.ResponseContext) error {
	if err := rsp.Suspend(); err != nil {
		time.Sleep(l.delay)
		return nil
	}

	time.AfterFunc(l.delay, func() {
		if err := rsp.Resume(); err != nil {
			log.Errorf("Failed to resume the chain of %s: %v", req.RequestID(), err)
		}
	})
	return nil
}

func (a *abort) Name() string { return AbortName }

func (a *abort) CreateFilter(args []interface{}) (filters.Filter, error) {
	fa := filters.Args(args)
	code := fa.Int()
	message := fa.OptionalString("")
	delay := fa.OptionalDuration(0)
	if err := fa.Err(); err != nil {
		return nil, err
	}

	if code < 400 || code > 599 {
		return nil, filters.ErrInvalidFilterParameters
	}

	return &abort{code: code, message: message, delay: delay}, nil
}

// Response abandons the chain with a status error. With a delay, it
// suspends the chain first, and aborts it from a timer.
func (a *abort) Response(req filters.RequestContext, rsp filters.ResponseContext) error {
	err := &dispatch.HTTPError{Code: a.code, Message: a.message}
	if a.delay <= 0 {
		return rsp.ResumeWithError(err)
	}

	if serr := rsp.Suspend(); serr != nil {
		time.Sleep(a.delay)
		return rsp.ResumeWithError(err)
	}

	time.AfterFunc(a.delay, func() {
		if rerr := rsp.ResumeWithError(err); rerr != nil {
			log.Errorf("Failed to abort the chain of %s: %v", req.RequestID(), rerr)
		}
	})
	return nil
}

func (r *random) Name() string { return RandomName }

func (r *random) CreateFilter(args []interface{}) (filters.Filter, error) {
	a := filters.Args(args)
	l := a.Int()
	if err := a.Err(); err != nil {
		return nil, err
	}

	if l < 0 {
		return nil, filters.ErrInvalidFilterParameters
	}

	return &random{len: l}, nil
}

func (r *random) Response(_ filters.RequestContext, rsp filters.ResponseContext) error {
	rsp.SetEntityWithType(&randomReader{remaining: r.len}, nil, "text/plain")
	rsp.Headers().Set("Content-Length", r.len)
	return nil
}

func (r *randomReader) Read(p []byte) (int, error) {
	if r.remaining <= 0 {
		return 0, io.EOF
	}

	if len(p) > r.remaining {
		p = p[:r.remaining]
	}

	for i := range p {
		p[i] = randomChars[rand.IntN(len(randomChars))] // #nosec
	}

	r.remaining -= len(p)
	return len(p), nil
}

func (t *throttle) Name() string {
	switch t.typ {
	case bandwidth:
		return BandwidthName
	case chunks:
		return ChunksName
	default:
		panic("invalid throttle type")
	}
}

func parseBandwidthArgs(args []interface{}) (int, time.Duration, error) {
	a := filters.Args(args)
	kbps := a.Float64()
	if err := a.Err(); err != nil {
		return 0, 0, err
	}

	if kbps <= 0 {
		return 0, 0, filters.ErrInvalidFilterParameters
	}

	bpms := kbps2bpms(kbps)
	return minChunkSize, time.Duration(float64(minChunkSize)/bpms) * time.Millisecond, nil
}

func parseChunksArgs(args []interface{}) (int, time.Duration, error) {
	a := filters.Args(args)
	size := a.Int()
	delay := a.Duration()
	if err := a.Err(); err != nil {
		return 0, 0, err
	}

	if size <= 0 {
		return 0, 0, filters.ErrInvalidFilterParameters
	}

	return size, delay, nil
}

func (t *throttle) CreateFilter(args []interface{}) (filters.Filter, error) {
	var (
		chunkSize int
		delay     time.Duration
		err       error
	)

	switch t.typ {
	case bandwidth:
		chunkSize, delay, err = parseBandwidthArgs(args)
	case chunks:
		chunkSize, delay, err = parseChunksArgs(args)
	default:
		panic("invalid throttle type")
	}

	if err != nil {
		return nil, err
	}

	return &throttle{typ: t.typ, chunkSize: chunkSize, delay: delay}, nil
}

func (t *throttle) Response(_ filters.RequestContext, rsp filters.ResponseContext) error {
	rsp.SetEntityStream(&throttledWriter{
		w:         rsp.EntityStream(),
		chunkSize: t.chunkSize,
		delay:     t.delay,
	})

	return nil
}

// Write writes p in chunks, waiting the delay between the chunks.
func (w *throttledWriter) Write(p []byte) (int, error) {
	var n int
	for len(p) > 0 {
		if w.started {
			time.Sleep(w.delay)
		}

		w.started = true
		l := w.chunkSize
		if l > len(p) {
			l = len(p)
		}

		ni, err := w.w.Write(p[:l])
		n += ni
		if err != nil {
			return n, err
		}

		p = p[l:]
	}

	return n, nil
}

// Close closes the wrapped writer, when it needs closing.
func (w *throttledWriter) Close() error {
	if c, ok := w.w.(io.Closer); ok {
		return c.Close()
	}

	return nil
}
