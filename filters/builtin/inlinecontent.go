package builtin

import (
	"net/http"

	"github.com/zalando/respipe/filters"
)

type inlineContent struct {
	text string
	mime string
}

// NewInlineContent creates a filter spec for the inlineContent() filter.
//
// Usage of the filter:
//
//	status(420) -> inlineContent("Enhance Your Calm")
//
// Or:
//
//	inlineContent("{\"foo\": 42}", "application/json")
//
// It accepts two arguments: the content and the optional content type.
// When the content type is not set, it tries to detect it using
// http.DetectContentType.
//
// The filter replaces the entity of the response, and keeps its status.
func NewInlineContent() filters.Spec {
	return &inlineContent{}
}

func (c *inlineContent) Name() string { return InlineContentName }

func (c *inlineContent) CreateFilter(args []interface{}) (filters.Filter, error) {
	a := filters.Args(args)
	f := &inlineContent{text: a.String()}
	f.mime = a.OptionalString("")
	if err := a.Err(); err != nil {
		return nil, err
	}

	if f.mime == "" {
		f.mime = http.DetectContentType([]byte(f.text))
	}

	return f, nil
}

func (c *inlineContent) Response(_ filters.RequestContext, rsp filters.ResponseContext) error {
	rsp.SetEntityWithType(c.text, nil, c.mime)
	return nil
}
