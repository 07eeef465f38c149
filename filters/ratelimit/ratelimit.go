/*
Package ratelimit provides a filter limiting the rate of the responses
passing through a chain.

The rateLimit filter uses a token bucket shared by all the requests of
the chain. When no token is available, the chain is suspended until one
becomes available, or the maximum wait time elapses. In the latter case,
the chain is abandoned with 429 Too Many Requests.

Example, allowing 20 responses per second with bursts of 5, and waiting
at most 100ms for a token:

	rateLimit(20, 5, "100ms")
*/
package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/zalando/respipe/dispatch"
	"github.com/zalando/respipe/filters"
)

const (
	Name = "rateLimit"

	defaultMaxWait = time.Second
)

// ErrLimited is the cause of the failure when no token was available
// and the chain could not wait for one.
var ErrLimited = errors.New("rate limit exceeded")

type spec struct{}

type filter struct {
	limiter *rate.Limiter
	maxWait time.Duration
}

// New creates the spec of the rateLimit filter. Instances expect the
// allowed rate per second, the burst size, and optionally the maximum
// time to wait for a token, by default 1s.
func New() filters.Spec { return spec{} }

func (spec) Name() string { return Name }

func (spec) CreateFilter(args []interface{}) (filters.Filter, error) {
	a := filters.Args(args)
	rps := a.Float64()
	burst := a.Int()
	maxWait := a.OptionalDuration(defaultMaxWait)
	if err := a.Err(); err != nil {
		return nil, err
	}

	if rps <= 0 || burst < 1 {
		return nil, filters.ErrInvalidFilterParameters
	}

	return &filter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		maxWait: maxWait,
	}, nil
}

func limitError(req filters.RequestContext, err error) error {
	log.Debugf("%s rate limited: %v", req.RequestID(), err)
	return &dispatch.HTTPError{Code: http.StatusTooManyRequests, Err: err}
}

// Response takes a token, or suspends the chain while waiting for one.
// Without suspension support, it only accepts the response when a token
// is available immediately.
func (f *filter) Response(req filters.RequestContext, rsp filters.ResponseContext) error {
	if f.limiter.Allow() {
		return nil
	}

	if err := rsp.Suspend(); err != nil {
		return rsp.ResumeWithError(limitError(req, ErrLimited))
	}

	go func() {
		ctx, cancel := context.WithTimeout(req.Request().Context(), f.maxWait)
		defer cancel()

		if err := f.limiter.Wait(ctx); err != nil {
			if rerr := rsp.ResumeWithError(limitError(req, err)); rerr != nil {
				log.Errorf("Failed to abort the chain of %s: %v", req.RequestID(), rerr)
			}

			return
		}

		if err := rsp.Resume(); err != nil {
			log.Errorf("Failed to resume the chain of %s: %v", req.RequestID(), err)
		}
	}()

	return nil
}
