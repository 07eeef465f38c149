package builtin

import (
	"github.com/zalando/respipe/filters"
	"github.com/zalando/respipe/response"
)

type statusSpec struct{}

type statusFilter struct {
	status response.StatusInfo
}

// NewStatus creates the spec of the status filter. It sets the status code
// of the response, and optionally the reason phrase:
//
//	status(418, "I'm a teapot")
func NewStatus() filters.Spec { return new(statusSpec) }

func (s *statusSpec) Name() string { return StatusName }

func (s *statusSpec) CreateFilter(args []interface{}) (filters.Filter, error) {
	a := filters.Args(args)
	code := a.Int()
	reason := a.OptionalString("")
	if err := a.Err(); err != nil {
		return nil, err
	}

	if code < 100 || code > 599 {
		return nil, filters.ErrInvalidFilterParameters
	}

	return &statusFilter{response.StatusInfo{Code: code, Reason: reason}}, nil
}

func (f *statusFilter) Response(_ filters.RequestContext, rsp filters.ResponseContext) error {
	if f.status.Reason == "" {
		rsp.SetStatus(f.status.Code)
		return nil
	}

	rsp.SetStatusInfo(f.status)
	return nil
}
