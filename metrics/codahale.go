package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/rcrowley/go-metrics"
)

const (
	statsRefreshDuration = 5 * time.Second

	defaultUniformReservoirSize  = 1024
	defaultExpDecayReservoirSize = 1028
	defaultExpDecayAlpha         = 0.015
)

// CodaHale is the CodaHale format backend, implements Metrics interface in DropWizard's CodaHale metrics format.
type CodaHale struct {
	reg           metrics.Registry
	createTimer   func() metrics.Timer
	createCounter func() metrics.Counter
	createGauge   func() metrics.GaugeFloat64
	options       Options
	handler       http.Handler
	quit          chan struct{}
}

// NewCodaHale returns a new CodaHale backend of metrics.
func NewCodaHale(o Options) *CodaHale {
	c := &CodaHale{quit: make(chan struct{})}
	c.reg = metrics.NewRegistry()

	var createSample func() metrics.Sample
	if o.UseExpDecaySample {
		createSample = newExpDecaySample
	} else {
		createSample = newUniformSample
	}
	c.createTimer = func() metrics.Timer { return createTimer(createSample()) }

	c.createCounter = metrics.NewCounter
	c.createGauge = metrics.NewGaugeFloat64
	c.options = o

	if o.EnableDebugGcMetrics {
		metrics.RegisterDebugGCStats(c.reg)
		go c.capture(func() { metrics.CaptureDebugGCStatsOnce(c.reg) })
	}

	if o.EnableRuntimeMetrics {
		metrics.RegisterRuntimeMemStats(c.reg)
		go c.capture(func() { metrics.CaptureRuntimeMemStatsOnce(c.reg) })
	}

	return c
}

// NewVoid returns a backend that accepts and drops every measurement.
func NewVoid() *CodaHale {
	c := &CodaHale{quit: make(chan struct{})}
	c.reg = metrics.NewRegistry()
	c.createTimer = func() metrics.Timer { return metrics.NilTimer{} }
	c.createCounter = func() metrics.Counter { return metrics.NilCounter{} }
	c.createGauge = func() metrics.GaugeFloat64 { return metrics.NilGaugeFloat64{} }
	return c
}

func (c *CodaHale) capture(f func()) {
	t := time.NewTicker(statsRefreshDuration)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			f()
		case <-c.quit:
			return
		}
	}
}

func (c *CodaHale) getTimer(key string) metrics.Timer {
	return c.reg.GetOrRegister(key, c.createTimer).(metrics.Timer)
}

func (c *CodaHale) getGauge(key string) metrics.GaugeFloat64 {
	return c.reg.GetOrRegister(key, c.createGauge).(metrics.GaugeFloat64)
}

func (c *CodaHale) getCounter(key string) metrics.Counter {
	return c.reg.GetOrRegister(key, c.createCounter).(metrics.Counter)
}

func (c *CodaHale) measureSince(key string, start time.Time) {
	c.getTimer(key).UpdateSince(start)
}

func (c *CodaHale) incCounter(key string, value int64) {
	c.getCounter(key).Inc(value)
}

func (c *CodaHale) MeasureSince(key string, start time.Time) {
	c.measureSince(key, start)
}

func (c *CodaHale) UpdateGauge(key string, v float64) {
	c.getGauge(key).Update(v)
}

func (c *CodaHale) IncCounter(key string) {
	c.incCounter(key, 1)
}

func (c *CodaHale) IncCounterBy(key string, value int64) {
	c.incCounter(key, value)
}

func (c *CodaHale) MeasureFilterResponse(filterName string, start time.Time) {
	if c.options.EnableFilterMetrics {
		c.measureSince(fmt.Sprintf(KeyFilterResponse, filterName), start)
	}
}

func (c *CodaHale) MeasureAllFiltersResponse(start time.Time) {
	c.measureSince(KeyAllFiltersResponseCombined, start)
}

func (c *CodaHale) MeasureResponse(code int, method string, start time.Time) {
	if c.options.EnableResponseMetrics {
		c.measureSince(fmt.Sprintf(KeyResponse, code, measuredMethod(method)), start)
	}
}

func (c *CodaHale) IncSuspensions(filterName string) {
	c.incCounter(fmt.Sprintf(KeySuspend, filterName), 1)
}

func (c *CodaHale) IncResumes() {
	c.incCounter(KeyResume, 1)
}

func (c *CodaHale) IncEscalations(kind string) {
	c.incCounter(fmt.Sprintf(KeyEscalation, kind), 1)
}

func (c *CodaHale) IncEscalationFailures() {
	c.incCounter(KeyEscalationFailed, 1)
}

// Close stops the runtime stats collection, when enabled.
func (c *CodaHale) Close() {
	select {
	case <-c.quit:
	default:
		close(c.quit)
	}
}

func (c *CodaHale) RegisterHandler(path string, handler *http.ServeMux) {
	handler.Handle(path, c.getHandler(path))
}

func (c *CodaHale) CreateHandler(path string) http.Handler {
	return &codaHaleMetricsHandler{path: path, registry: c.reg, options: c.options}
}

func (c *CodaHale) getHandler(path string) http.Handler {
	if c.handler != nil {
		return c.handler
	}

	c.handler = c.CreateHandler(path)
	return c.handler
}

type codaHaleMetricsHandler struct {
	path     string
	registry metrics.Registry
	options  Options
}

func (c *codaHaleMetricsHandler) sendMetrics(w http.ResponseWriter, p string) {
	_, k := path.Split(p)

	m := filterMetrics(c.registry, c.options.Prefix, k)

	if len(m) > 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(m)
	} else {
		http.NotFound(w, nil)
	}
}

// ServeHTTP exposes the metrics. A key after the handler path narrows the
// response to the metrics starting with that key.
func (c *codaHaleMetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	c.sendMetrics(w, strings.TrimPrefix(r.URL.Path, c.path))
}

func filterMetrics(reg metrics.Registry, prefix, key string) pipelineMetrics {
	m := make(pipelineMetrics)

	canonicalKey := strings.TrimPrefix(key, prefix)
	if mi := reg.Get(canonicalKey); mi != nil {
		m[key] = mi
	} else {
		reg.Each(func(name string, i interface{}) {
			if key == "" || strings.HasPrefix(name, canonicalKey) {
				m[prefix+name] = i
			}
		})
	}

	return m
}

type pipelineMetrics map[string]interface{}

func (pm pipelineMetrics) MarshalJSON() ([]byte, error) {
	data := make(map[string]map[string]interface{})
	for name, metric := range pm {
		values := make(map[string]interface{})
		var family string

		switch m := metric.(type) {
		case metrics.Gauge:
			family = "gauges"
			values["value"] = m.Value()
		case metrics.GaugeFloat64:
			family = "gauges"
			values["value"] = m.Snapshot().Value()
		case metrics.Histogram:
			family = "histograms"
			h := m.Snapshot()
			ps := h.Percentiles([]float64{0.5, 0.75, 0.95, 0.99, 0.999})
			values["count"] = h.Count()
			values["min"] = h.Min()
			values["max"] = h.Max()
			values["mean"] = h.Mean()
			values["stddev"] = h.StdDev()
			values["median"] = ps[0]
			values["75%"] = ps[1]
			values["95%"] = ps[2]
			values["99%"] = ps[3]
			values["99.9%"] = ps[4]
		case metrics.Timer:
			family = "timers"
			t := m.Snapshot()
			ps := t.Percentiles([]float64{0.5, 0.75, 0.95, 0.99, 0.999})
			values["count"] = t.Count()
			values["min"] = t.Min()
			values["max"] = t.Max()
			values["mean"] = t.Mean()
			values["median"] = ps[0]
			values["95%"] = ps[2]
			values["99%"] = ps[3]
			values["1m.rate"] = t.Rate1()
			values["mean.rate"] = t.RateMean()
		case metrics.Counter:
			family = "counters"
			values["count"] = m.Snapshot().Count()
		default:
			family = "unknown"
			values["error"] = fmt.Sprintf("unknown metrics type %T", m)
		}

		if data[family] == nil {
			data[family] = make(map[string]interface{})
		}

		data[family][name] = values
	}

	return json.Marshal(data)
}
