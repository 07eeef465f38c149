// Package scheduler provides the offload filter, that continues the
// response chain on a bounded job queue, instead of the goroutine serving
// the request.
package scheduler

import (
	"net/http"

	"github.com/aryszka/jobqueue"
	log "github.com/sirupsen/logrus"

	"github.com/zalando/respipe/dispatch"
	"github.com/zalando/respipe/filters"
	"github.com/zalando/respipe/scheduler"
)

const OffloadName = "offload"

type (
	offloadSpec struct {
		registry *scheduler.Registry
	}

	offloadFilter struct {
		queue *scheduler.Queue
	}
)

// NewOffload creates the offload filter specification, using the queues
// of the provided registry.
//
// Example:
//
//	offload("render") -> compress()
//
// The filter suspends the chain, and waits for a slot in the named queue
// on a separate goroutine. When a slot is available, it resumes the chain,
// and the remaining filters and the delivery of the entity are executed
// while holding the slot. When the queue rejects the job, the chain is
// aborted with a status error:
//
// - 503 if jobqueue.ErrStackFull
// - 502 if jobqueue.ErrTimeout
//
// When the transport doesn't support suspending, the filter waits for the
// slot synchronously, and releases it right away, acting as a concurrency
// gate.
func NewOffload(r *scheduler.Registry) filters.Spec {
	return &offloadSpec{registry: r}
}

func (s *offloadSpec) Name() string { return OffloadName }

func (s *offloadSpec) CreateFilter(args []interface{}) (filters.Filter, error) {
	a := filters.Args(args)
	name := a.String()
	if err := a.Err(); err != nil {
		return nil, err
	}

	if s.registry == nil {
		return nil, filters.ErrInvalidFilterParameters
	}

	q, ok := s.registry.Get(name)
	if !ok {
		log.Errorf("Queue not found for the offload filter: %s", name)
		return nil, filters.ErrInvalidFilterParameters
	}

	return &offloadFilter{queue: q}, nil
}

func queueError(req filters.RequestContext, q *scheduler.Queue, err error) error {
	switch err {
	case jobqueue.ErrStackFull:
		log.Errorf("Failed to get an entry on to the queue %s, queue full: %v, request: %s", q.Name(), err, req.RequestID())
		return &dispatch.HTTPError{Code: http.StatusServiceUnavailable, Err: err}
	case jobqueue.ErrTimeout:
		log.Errorf("Failed to get an entry on to the queue %s, timeout: %v, request: %s", q.Name(), err, req.RequestID())
		return &dispatch.HTTPError{Code: http.StatusBadGateway, Err: err}
	default:
		log.Errorf("Unknown error for the queue %s: %v, request: %s", q.Name(), err, req.RequestID())
		return &dispatch.HTTPError{Code: http.StatusServiceUnavailable, Err: err}
	}
}

func (f *offloadFilter) Response(req filters.RequestContext, rsp filters.ResponseContext) error {
	if err := rsp.Suspend(); err != nil {
		done, err := f.queue.Wait()
		if err != nil {
			return rsp.ResumeWithError(queueError(req, f.queue, err))
		}

		done()
		return nil
	}

	go func() {
		done, err := f.queue.Wait()
		if err != nil {
			if rerr := rsp.ResumeWithError(queueError(req, f.queue, err)); rerr != nil {
				log.Errorf("Failed to abort the chain of %s: %v", req.RequestID(), rerr)
			}

			return
		}

		defer done()
		if err := rsp.Resume(); err != nil {
			log.Errorf("Failed to resume the chain of %s: %v", req.RequestID(), err)
		}
	}()

	return nil
}
