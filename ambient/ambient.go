/*
Package ambient holds the request scoped bindings that the response
pipeline needs when it continues on a different goroutine: the transport
request and response handles, the dispatcher that maps failures to
responses, and any additional values bound by the dispatcher.

A Snapshot is passed around explicitly, and carried in the
context.Context of the request. There is no process wide state: a
suspended request keeps a point-in-time copy, so later changes made for
other requests can't affect it.
*/
package ambient

import (
	"context"

	"github.com/zalando/respipe/transport"
)

// Dispatcher maps a failure to a response using the standard error
// mapping of the owning dispatcher.
type Dispatcher interface {
	WriteError(transport.Request, transport.Response, error) error
}

// Snapshot contains the ambient bindings of a single request.
type Snapshot struct {
	Request    transport.Request
	Response   transport.Response
	Dispatcher Dispatcher

	values map[interface{}]interface{}
}

type contextKey struct{}

// Copy returns a point-in-time copy of the snapshot. The additional
// bindings are copied, too, but not the values themselves.
func (s *Snapshot) Copy() *Snapshot {
	if s == nil {
		return nil
	}

	c := *s
	if len(s.values) > 0 {
		c.values = make(map[interface{}]interface{}, len(s.values))
		for k, v := range s.values {
			c.values[k] = v
		}
	}

	return &c
}

// With returns a copy of the snapshot with an additional binding. The
// receiver is not modified.
func (s *Snapshot) With(key, value interface{}) *Snapshot {
	c := s.Copy()
	if c == nil {
		c = &Snapshot{}
	}

	if c.values == nil {
		c.values = make(map[interface{}]interface{})
	}

	c.values[key] = value
	return c
}

// Value returns an additional binding, or nil.
func (s *Snapshot) Value(key interface{}) interface{} {
	if s == nil {
		return nil
	}

	return s.values[key]
}

// NewContext returns a context carrying the snapshot.
func NewContext(ctx context.Context, s *Snapshot) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the snapshot carried by the context.
func FromContext(ctx context.Context) (*Snapshot, bool) {
	s, ok := ctx.Value(contextKey{}).(*Snapshot)
	return s, ok && s != nil
}
