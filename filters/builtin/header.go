package builtin

import (
	"github.com/zalando/respipe/filters"
)

type headerType int

const (
	setHeader headerType = iota
	appendHeader
	dropHeader
)

// common structure for the response header specifications and filters
type headerFilter struct {
	typ        headerType
	key, value string
}

// NewSetResponseHeader returns a filter specification that sets a response
// header, replacing the existing values. Instances expect two parameters:
// the header name and the value.
func NewSetResponseHeader() filters.Spec {
	return &headerFilter{typ: setHeader}
}

// NewAppendResponseHeader returns a filter specification that appends a
// value to a response header. Instances expect two parameters: the header
// name and the value.
func NewAppendResponseHeader() filters.Spec {
	return &headerFilter{typ: appendHeader}
}

// NewDropResponseHeader returns a filter specification that removes a
// response header. Instances expect one parameter: the header name.
func NewDropResponseHeader() filters.Spec {
	return &headerFilter{typ: dropHeader}
}

func (spec *headerFilter) Name() string {
	switch spec.typ {
	case setHeader:
		return SetResponseHeaderName
	case appendHeader:
		return AppendResponseHeaderName
	case dropHeader:
		return DropResponseHeaderName
	default:
		panic("invalid header type")
	}
}

func (spec *headerFilter) CreateFilter(args []interface{}) (filters.Filter, error) {
	a := filters.Args(args)
	key := a.String()

	var value string
	if spec.typ != dropHeader {
		value = a.String()
	}

	if err := a.Err(); err != nil {
		return nil, err
	}

	if key == "" {
		return nil, filters.ErrInvalidFilterParameters
	}

	return &headerFilter{typ: spec.typ, key: key, value: value}, nil
}

func (f *headerFilter) Response(_ filters.RequestContext, rsp filters.ResponseContext) error {
	switch f.typ {
	case setHeader:
		rsp.Headers().Set(f.key, f.value)
	case appendHeader:
		rsp.Headers().Add(f.key, f.value)
	case dropHeader:
		rsp.Headers().Del(f.key)
	}

	return nil
}
