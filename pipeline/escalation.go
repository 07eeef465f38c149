package pipeline

import (
	"net/http"

	"go.uber.org/multierr"

	"github.com/zalando/respipe/ambient"
	"github.com/zalando/respipe/logging"
	"github.com/zalando/respipe/metrics"
	"github.com/zalando/respipe/transport"
)

// Escalate turns a failure into a response using the error mapping of the
// dispatcher in the snapshot. When the mapping fails, the failure is
// logged, and when the response was not committed yet, it is reset and a
// generic 500 is sent instead. Afterwards, it completes the asynchronous
// context of the request, when it is pending.
//
// Escalate doesn't return an error, and doesn't panic.
func Escalate(s *ambient.Snapshot, err error, log logging.Logger, m metrics.Metrics) {
	if log == nil {
		log = logging.New()
	}

	if m == nil {
		m = metrics.Default
	}

	m.IncEscalations(kindName(err))

	var (
		req transport.Request
		rsp transport.Response
	)

	if s != nil {
		req, rsp = s.Request, s.Response
	}

	herr := tryCatch(func() error {
		if s == nil || s.Dispatcher == nil {
			return errNoDispatcher
		}

		return s.Dispatcher.WriteError(req, rsp, err)
	}, func(perr interface{}, stack string) {
		log.Errorf("error mapping panic: %v %s", perr, stack)
	})

	if herr != nil {
		m.IncEscalationFailures()
		log.Errorf(
			"unhandled failure: %v",
			multierr.Combine(err, &Error{Kind: EscalationFailure, Err: herr}),
		)

		if rsp != nil && !rsp.Committed() {
			if rerr := rsp.Reset(); rerr != nil {
				log.Debugf("failed to reset the response: %v", rerr)
			} else if serr := rsp.SendError(http.StatusInternalServerError); serr != nil {
				log.Debugf("failed to send the error response: %v", serr)
			}
		}
	}

	if req != nil {
		if a := req.AsyncContext(); a != nil && a.Suspended() {
			a.Complete()
		}
	}
}
