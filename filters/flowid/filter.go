/*
Package flowid implements the flowId filter, that tags the responses with
an id that can be used to correlate the logs of the services involved in
handling a request.

The filter sets the X-Flow-Id response header. With the "reuse" argument,
the flow id of the incoming request is used, when it is present and has
the format of the selected generator. The second, optional argument
selects the generator: "standard", "ulid" or "uuid". The third, optional
argument sets the length of the standard flow ids.

	flowId("reuse", "ulid")
*/
package flowid

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/zalando/respipe/filters"
)

const (
	Name                = "flowId"
	ReuseParameterValue = "reuse"
	HeaderName          = "X-Flow-Id"

	StandardGeneratorName = "standard"
	ULIDGeneratorName     = "ulid"
	UUIDGeneratorName     = "uuid"
)

type spec struct{}

type filter struct {
	reuseExisting bool
	generator     Generator
}

// New creates the spec of the flowId filter.
func New() filters.Spec { return spec{} }

func (spec) Name() string { return Name }

func (spec) CreateFilter(args []interface{}) (filters.Filter, error) {
	a := filters.Args(args)

	var reuseExisting bool
	if len(args) > 0 {
		r := a.String()
		reuseExisting = strings.ToLower(r) == ReuseParameterValue
	}

	generatorName := a.OptionalString(StandardGeneratorName)
	length := a.OptionalInt(defaultLen)
	if err := a.Err(); err != nil {
		return nil, err
	}

	var (
		g   Generator
		err error
	)

	switch generatorName {
	case StandardGeneratorName:
		g, err = NewStandardGenerator(length)
	case ULIDGeneratorName:
		g = NewULIDGenerator()
	case UUIDGeneratorName:
		g = NewUUIDGenerator()
	default:
		return nil, filters.ErrInvalidFilterParameters
	}

	if err != nil {
		return nil, filters.ErrInvalidFilterParameters
	}

	return &filter{reuseExisting: reuseExisting, generator: g}, nil
}

func (f *filter) Response(req filters.RequestContext, rsp filters.ResponseContext) error {
	if f.reuseExisting {
		if r := req.Request(); r != nil {
			if flowID := r.Header.Get(HeaderName); f.generator.IsValid(flowID) {
				rsp.Headers().Set(HeaderName, flowID)
				return nil
			}
		}
	}

	flowID, err := f.generator.Generate()
	if err != nil {
		log.Errorf("%s failed to generate flow id: %v", req.RequestID(), err)
		return nil
	}

	rsp.Headers().Set(HeaderName, flowID)
	return nil
}
