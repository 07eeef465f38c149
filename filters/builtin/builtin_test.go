package builtin

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zalando/respipe/filters"
	"github.com/zalando/respipe/filters/filtertest"
)

func TestMakeRegistry(t *testing.T) {
	r := MakeRegistry()
	for _, name := range []string{
		SetResponseHeaderName,
		AppendResponseHeaderName,
		DropResponseHeaderName,
		StatusName,
		InlineContentName,
		CompressName,
		EntityHeaderName,
		"flowId",
		"rateLimit",
		"latency",
		"abort",
		"randomContent",
		"bandwidth",
		"chunks",
	} {
		_, ok := r[name]
		assert.True(t, ok, name)
	}
}

func TestStatus(t *testing.T) {
	for _, ti := range []struct {
		msg    string
		args   []interface{}
		err    bool
		code   int
		reason string
	}{{
		msg:    "code",
		args:   []interface{}{float64(418)},
		code:   418,
		reason: "I'm a teapot",
	}, {
		msg:    "code and reason",
		args:   []interface{}{float64(200), "Fine"},
		code:   200,
		reason: "Fine",
	}, {
		msg:  "missing code",
		args: nil,
		err:  true,
	}, {
		msg:  "invalid code",
		args: []interface{}{float64(42)},
		err:  true,
	}, {
		msg:  "not a number",
		args: []interface{}{"200"},
		err:  true,
	}} {
		t.Run(ti.msg, func(t *testing.T) {
			f, err := NewStatus().CreateFilter(ti.args)
			if ti.err {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			ctx := filtertest.NewContext(nil)
			require.NoError(t, f.Response(ctx, ctx))
			assert.Equal(t, ti.code, ctx.Status())
			assert.Equal(t, ti.reason, ctx.StatusInfo().Reason)
		})
	}
}

func TestResponseHeaders(t *testing.T) {
	create := func(t *testing.T, s filters.Spec, args ...interface{}) filters.Filter {
		f, err := s.CreateFilter(args)
		require.NoError(t, err)
		return f
	}

	ctx := filtertest.NewContext(nil)
	ctx.Headers().Set("X-Drop", "foo")

	for _, f := range []filters.Filter{
		create(t, NewSetResponseHeader(), "X-Foo", "bar"),
		create(t, NewAppendResponseHeader(), "X-Foo", "baz"),
		create(t, NewSetResponseHeader(), "X-Bar", "qux"),
		create(t, NewDropResponseHeader(), "X-Drop"),
	} {
		require.NoError(t, f.Response(ctx, ctx))
	}

	assert.Equal(t, http.Header{
		"X-Foo": []string{"bar", "baz"},
		"X-Bar": []string{"qux"},
	}, ctx.StringHeaders())

	_, err := NewSetResponseHeader().CreateFilter([]interface{}{"X-Foo"})
	assert.Error(t, err)
	_, err = NewDropResponseHeader().CreateFilter([]interface{}{"X-Foo", "bar"})
	assert.Error(t, err)
	_, err = NewAppendResponseHeader().CreateFilter([]interface{}{"", "bar"})
	assert.ErrorIs(t, err, filters.ErrInvalidFilterParameters)
}

func TestInlineContent(t *testing.T) {
	for _, ti := range []struct {
		msg       string
		args      []interface{}
		mediaType string
	}{{
		msg:       "detected",
		args:      []interface{}{"Hello, world!"},
		mediaType: "text/plain",
	}, {
		msg:       "explicit",
		args:      []interface{}{`{"foo": 42}`, "application/json"},
		mediaType: "application/json",
	}} {
		t.Run(ti.msg, func(t *testing.T) {
			f, err := NewInlineContent().CreateFilter(ti.args)
			require.NoError(t, err)

			ctx := filtertest.NewContext(nil)
			ctx.Headers().Set("Content-Length", "3")
			require.NoError(t, f.Response(ctx, ctx))

			assert.Equal(t, ti.args[0], ctx.Entity())
			assert.Equal(t, ti.mediaType, ctx.MediaType())
			assert.Equal(t, int64(-1), ctx.Length())
		})
	}

	_, err := NewInlineContent().CreateFilter(nil)
	assert.Error(t, err)
}
