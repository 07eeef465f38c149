package respipe

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zalando/respipe/ambient"
	"github.com/zalando/respipe/dispatch"
	"github.com/zalando/respipe/filters"
	"github.com/zalando/respipe/metrics"
	"github.com/zalando/respipe/metrics/metricstest"
	"github.com/zalando/respipe/response"
	"github.com/zalando/respipe/scheduler"
)

func chain(t *testing.T, code string) []*filters.Config {
	t.Helper()
	c, err := filters.ParseChain(code)
	require.NoError(t, err)
	return c
}

func newServer(t *testing.T, o Options) *Server {
	t.Helper()
	o.AccessLogDisabled = true
	s, err := New(o)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestStaticResource(t *testing.T) {
	s := newServer(t, Options{
		Filters:           chain(t, `status(201) -> setResponseHeader("X-Foo", "bar")`),
		StaticBody:        "Hello, world!",
		StaticContentType: "text/plain; charset=utf-8",
		StaticHeaders:     http.Header{"X-Static": []string{"a", "b"}},
	})

	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "Hello, world!", w.Body.String())
	assert.Equal(t, "bar", w.Header().Get("X-Foo"))
	assert.Equal(t, []string{"a", "b"}, w.Header().Values("X-Static"))
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
}

func TestEmptyStaticResource(t *testing.T) {
	s := newServer(t, Options{})
	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestAsyncChain(t *testing.T) {
	s := newServer(t, Options{
		EnableAsync: true,
		Queues:      map[string]scheduler.Config{"render": {MaxConcurrency: 1}},
		Filters:     chain(t, `latency("5ms") -> offload("render") -> setResponseHeader("X-Done", "true")`),
		StaticBody:  "async",
	})

	server := httptest.NewServer(s)
	defer server.Close()

	rsp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer rsp.Body.Close()

	b, err := io.ReadAll(rsp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rsp.StatusCode)
	assert.Equal(t, "true", rsp.Header.Get("X-Done"))
	assert.Equal(t, "async", string(b))
}

func TestAbortedChain(t *testing.T) {
	s := newServer(t, Options{
		EnableAsync: true,
		Filters:     chain(t, `abort(503, "later", "2ms")`),
		StaticBody:  "never",
	})

	server := httptest.NewServer(s)
	defer server.Close()

	rsp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer rsp.Body.Close()

	b, err := io.ReadAll(rsp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, rsp.StatusCode)
	assert.Equal(t, "later", string(b))
}

func TestCustomResourceAndFilters(t *testing.T) {
	s := newServer(t, Options{
		Resource: dispatch.ResourceFunc(func(r *http.Request) (*response.Model, error) {
			if r.URL.Path == "/missing" {
				return nil, dispatch.Errorf(http.StatusNotFound, "not found: %s", r.URL.Path)
			}

			return response.NewModel(http.StatusOK, map[string]string{"path": r.URL.Path}), nil
		}),
		CustomFilters: []filters.Spec{&bindingFilter{}},
		Filters:       chain(t, `bindingHeader("tenant")`),
		Bindings:      map[string]string{"tenant": "acme"},
	})

	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest("GET", "/foo", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"path": "/foo"}`, w.Body.String())
	assert.Equal(t, "acme", w.Header().Get("X-Tenant"))

	w = httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest("GET", "/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInvalidOptions(t *testing.T) {
	for _, o := range []Options{
		{Filters: chain(t, `noSuchFilter()`)},
		{Filters: chain(t, `offload("missing")`)},
		{MetricsFlavours: []string{"statsd"}},
		{OpenTracing: []string{"missing-plugin"}, PluginDir: os.TempDir()},
	} {
		o.AccessLogDisabled = true
		_, err := New(o)
		assert.Error(t, err)
	}
}

func TestMetricsKind(t *testing.T) {
	for _, ti := range []struct {
		flavours []string
		kind     metrics.Kind
	}{
		{nil, metrics.CodaHaleKind},
		{[]string{"codahale"}, metrics.CodaHaleKind},
		{[]string{"prometheus"}, metrics.PrometheusKind},
		{[]string{"codahale", "prometheus"}, metrics.AllKind},
		{[]string{"all"}, metrics.AllKind},
	} {
		k, err := metricsKind(ti.flavours)
		require.NoError(t, err)
		assert.Equal(t, ti.kind, k, ti.flavours)
	}
}

func TestSupportHandler(t *testing.T) {
	m := &metricstest.MockMetrics{}
	s := newServer(t, Options{Metrics: m})

	w := httptest.NewRecorder()
	s.Support().ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	s = newServer(t, Options{MetricsFlavours: []string{"prometheus"}, EnableResponseMetrics: true})
	s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	w = httptest.NewRecorder()
	s.Support().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "response"), w.Body.String())
}

func TestRunWithShutdown(t *testing.T) {
	sigs := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() {
		done <- RunWithShutdown(Options{
			Address:           "127.0.0.1:0",
			SupportListener:   "127.0.0.1:0",
			AccessLogDisabled: true,
			ShutdownTimeout:   time.Second,
		}, sigs)
	}()

	time.Sleep(20 * time.Millisecond)
	sigs <- syscall.SIGTERM

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for shutdown")
	}
}

func TestRunListenerFailure(t *testing.T) {
	err := RunWithShutdown(Options{
		Address:           "invalid-address",
		AccessLogDisabled: true,
	}, make(chan os.Signal))

	assert.Error(t, err)
}

type bindingFilter struct{ key string }

func (*bindingFilter) Name() string { return "bindingHeader" }

func (*bindingFilter) CreateFilter(args []interface{}) (filters.Filter, error) {
	a := filters.Args(args)
	key := a.String()
	if err := a.Err(); err != nil {
		return nil, err
	}

	return &bindingFilter{key: key}, nil
}

func (f *bindingFilter) Response(req filters.RequestContext, rsp filters.ResponseContext) error {
	s, ok := ambient.FromContext(req.Context())
	if !ok {
		return nil
	}

	if v, ok := s.Value(f.key).(string); ok {
		rsp.Headers().Set("X-Tenant", v)
	}

	return nil
}
