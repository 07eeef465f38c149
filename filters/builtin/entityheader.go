package builtin

import (
	"encoding/json"
	"io"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/zalando/respipe/filters"
)

type entityHeaderSpec struct{}

type entityHeaderFilter struct {
	header string
	path   string
}

// NewEntityHeader creates the spec of the entityHeader filter. It copies a
// value from the JSON entity of the response into a response header. The
// value is selected with a GJSON path:
//
//	entityHeader("X-Order-Id", "order.id")
//
// The header is left untouched when the entity is not JSON, or when the
// path doesn't match. Streamed entities are not inspected.
func NewEntityHeader() filters.Spec { return entityHeaderSpec{} }

func (entityHeaderSpec) Name() string { return EntityHeaderName }

func (entityHeaderSpec) CreateFilter(args []interface{}) (filters.Filter, error) {
	a := filters.Args(args)
	header := a.String()
	path := a.String()
	if err := a.Err(); err != nil {
		return nil, err
	}

	if header == "" || path == "" {
		return nil, filters.ErrInvalidFilterParameters
	}

	return &entityHeaderFilter{header: header, path: path}, nil
}

func entityJSON(entity interface{}) ([]byte, bool) {
	switch e := entity.(type) {
	case nil:
		return nil, false
	case string:
		return []byte(e), true
	case []byte:
		return e, true
	case json.RawMessage:
		return e, true
	case io.Reader:
		return nil, false
	}

	b, err := json.Marshal(entity)
	if err != nil {
		return nil, false
	}

	return b, true
}

func (f *entityHeaderFilter) Response(req filters.RequestContext, rsp filters.ResponseContext) error {
	if !rsp.HasEntity() {
		return nil
	}

	b, ok := entityJSON(rsp.Entity())
	if !ok || !gjson.ValidBytes(b) {
		log.Debugf("%s entity is not JSON, skipping %s", req.RequestID(), f.header)
		return nil
	}

	if v := gjson.GetBytes(b, f.path); v.Exists() {
		rsp.Headers().Set(f.header, v.String())
	}

	return nil
}
