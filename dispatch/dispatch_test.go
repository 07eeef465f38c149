package dispatch_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zalando/respipe/ambient"
	"github.com/zalando/respipe/dispatch"
	"github.com/zalando/respipe/filters"
	"github.com/zalando/respipe/response"
	"github.com/zalando/respipe/transport"
)

type filterFunc func(filters.RequestContext, filters.ResponseContext) error

func (f filterFunc) Response(req filters.RequestContext, rsp filters.ResponseContext) error {
	return f(req, rsp)
}

func named(name string, f filterFunc) *filters.Named {
	return &filters.Named{Name: name, Filter: f}
}

func static(status int, entity interface{}, mediaType string) dispatch.Resource {
	return dispatch.ResourceFunc(func(*http.Request) (*response.Model, error) {
		m := response.NewModel(status, nil)
		m.SetEntityWithType(entity, nil, mediaType)
		return m, nil
	})
}

func serve(t *testing.T, o dispatch.Options, async bool) *httptest.ResponseRecorder {
	t.Helper()
	h := transport.Handler(dispatch.New(o), transport.Options{Async: async, AsyncTimeout: time.Second})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/foo", nil))
	return rec
}

type closeRecorder struct {
	io.Writer
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func TestDispatch(t *testing.T) {
	setHeader := named("setHeader", func(_ filters.RequestContext, rsp filters.ResponseContext) error {
		rsp.Headers().Set("X-Filtered", "true")
		return nil
	})

	for _, ti := range []struct {
		msg         string
		resource    dispatch.Resource
		async       bool
		status      int
		body        string
		contentType string
	}{{
		msg:         "string entity",
		resource:    static(http.StatusOK, "Hello, world!", ""),
		status:      http.StatusOK,
		body:        "Hello, world!",
		contentType: "text/plain; charset=utf-8",
	}, {
		msg:         "string entity, async",
		resource:    static(http.StatusOK, "Hello, world!", ""),
		async:       true,
		status:      http.StatusOK,
		body:        "Hello, world!",
		contentType: "text/plain; charset=utf-8",
	}, {
		msg:         "json entity",
		resource:    static(http.StatusCreated, map[string]int{"a": 1}, ""),
		status:      http.StatusCreated,
		body:        `{"a":1}`,
		contentType: "application/json",
	}, {
		msg:         "yaml entity",
		resource:    static(http.StatusOK, map[string]int{"a": 1}, "application/yaml"),
		status:      http.StatusOK,
		body:        "a: 1\n",
		contentType: "application/yaml",
	}, {
		msg:         "reader entity",
		resource:    static(http.StatusOK, strings.NewReader("foo"), "text/plain"),
		status:      http.StatusOK,
		body:        "foo",
		contentType: "text/plain",
	}, {
		msg:         "unsupported media type",
		resource:    static(http.StatusOK, map[string]int{"a": 1}, "application/xml"),
		status:      http.StatusInternalServerError,
		body:        "Internal Server Error",
		contentType: "text/plain; charset=utf-8",
	}, {
		msg: "no entity",
		resource: dispatch.ResourceFunc(func(*http.Request) (*response.Model, error) {
			return nil, nil
		}),
		status: http.StatusNoContent,
	}, {
		msg: "resource failure",
		resource: dispatch.ResourceFunc(func(*http.Request) (*response.Model, error) {
			return nil, dispatch.Errorf(http.StatusNotFound, "not here")
		}),
		status:      http.StatusNotFound,
		body:        "not here",
		contentType: "text/plain; charset=utf-8",
	}, {
		msg: "resource panic",
		resource: dispatch.ResourceFunc(func(*http.Request) (*response.Model, error) {
			panic("oops")
		}),
		status:      http.StatusInternalServerError,
		body:        "Internal Server Error",
		contentType: "text/plain; charset=utf-8",
	}} {
		t.Run(ti.msg, func(t *testing.T) {
			rec := serve(t, dispatch.Options{
				Resource: ti.resource,
				Chain:    []*filters.Named{setHeader},
			}, ti.async)

			assert.Equal(t, ti.status, rec.Code)
			assert.Equal(t, ti.body, rec.Body.String())
			assert.Equal(t, ti.contentType, rec.Header().Get("Content-Type"))
		})
	}
}

func TestFilterHeadersWritten(t *testing.T) {
	rec := serve(t, dispatch.Options{
		Resource: static(http.StatusOK, "foo", ""),
		Chain: []*filters.Named{named("setHeader", func(_ filters.RequestContext, rsp filters.ResponseContext) error {
			rsp.Headers().Add("X-Foo", "bar")
			rsp.Headers().Add("X-Foo", 42)
			return nil
		})},
	}, false)

	assert.Equal(t, []string{"bar", "42"}, rec.Header().Values("X-Foo"))
}

func TestSuspendedChain(t *testing.T) {
	rec := serve(t, dispatch.Options{
		Resource: static(http.StatusOK, "foo", ""),
		Chain: []*filters.Named{
			named("wait", func(_ filters.RequestContext, rsp filters.ResponseContext) error {
				if err := rsp.Suspend(); err != nil {
					return err
				}

				go func() {
					time.Sleep(10 * time.Millisecond)
					rsp.Resume()
				}()

				return nil
			}),
			named("status", func(_ filters.RequestContext, rsp filters.ResponseContext) error {
				rsp.SetStatus(http.StatusAccepted)
				return nil
			}),
		},
	}, true)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "foo", rec.Body.String())
}

func TestFilterFailureMapped(t *testing.T) {
	for _, async := range []bool{false, true} {
		rec := serve(t, dispatch.Options{
			Resource: static(http.StatusOK, "foo", ""),
			Chain: []*filters.Named{named("fail", func(filters.RequestContext, filters.ResponseContext) error {
				return dispatch.Errorf(http.StatusBadGateway, "upstream failed")
			})},
		}, async)

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "upstream failed", rec.Body.String())
	}
}

func TestAbortInSyncMode(t *testing.T) {
	rec := serve(t, dispatch.Options{
		Resource: static(http.StatusOK, "foo", ""),
		Chain: []*filters.Named{named("abort", func(_ filters.RequestContext, rsp filters.ResponseContext) error {
			return rsp.ResumeWithError(&dispatch.HTTPError{Code: http.StatusServiceUnavailable})
		})},
	}, false)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "Service Unavailable", rec.Body.String())
}

func TestErrorMapper(t *testing.T) {
	errTeapot := errors.New("teapot")
	mapper := dispatch.ErrorMapperFunc(func(err error) (*response.Model, bool) {
		if !errors.Is(err, errTeapot) {
			return nil, false
		}

		return response.NewModel(http.StatusTeapot, "short and stout"), true
	})

	rec := serve(t, dispatch.Options{
		Resource: dispatch.ResourceFunc(func(*http.Request) (*response.Model, error) {
			return nil, errTeapot
		}),
		ErrorMappers: []dispatch.ErrorMapper{mapper},
	}, false)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "short and stout", rec.Body.String())
}

func TestBindings(t *testing.T) {
	type key struct{}

	var value interface{}
	serve(t, dispatch.Options{
		Resource: static(http.StatusOK, "foo", ""),
		Bindings: map[interface{}]interface{}{key{}: "bar"},
		Chain: []*filters.Named{named("read", func(req filters.RequestContext, _ filters.ResponseContext) error {
			s, ok := ambient.FromContext(req.Context())
			require.True(t, ok)
			value = s.Value(key{})
			return nil
		})},
	}, false)

	assert.Equal(t, "bar", value)
}

func TestEntityStreamClosed(t *testing.T) {
	var c *closeRecorder
	rec := serve(t, dispatch.Options{
		Resource: static(http.StatusOK, "foo", ""),
		Chain: []*filters.Named{named("wrap", func(_ filters.RequestContext, rsp filters.ResponseContext) error {
			c = &closeRecorder{Writer: rsp.EntityStream()}
			rsp.SetEntityStream(c)
			return nil
		})},
	}, true)

	require.NotNil(t, c)
	assert.True(t, c.closed)
	assert.Equal(t, "foo", rec.Body.String())
}

func TestWriteErrorCommitted(t *testing.T) {
	rec := httptest.NewRecorder()
	x := transport.NewExchange(rec, httptest.NewRequest("GET", "/", nil), false)
	io.WriteString(x.OutputStream(), "foo")

	d := dispatch.New(dispatch.Options{})
	assert.ErrorIs(t, d.WriteError(x, x, errors.New("failed")), transport.ErrCommitted)
}

func TestHTTPError(t *testing.T) {
	err := &dispatch.HTTPError{Code: http.StatusNotFound, Err: io.EOF}
	assert.Equal(t, "404 Not Found: EOF", err.Error())
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "400 bad arg: 1", dispatch.Errorf(http.StatusBadRequest, "bad arg: %d", 1).Error())
}
