package metrics

import (
	"net/http"
	"time"
)

// All sends every measurement to both the Prometheus and the CodaHale
// backend. The handler selects the format by the Accept header.
type All struct {
	prometheus        *Prometheus
	codaHale          *CodaHale
	prometheusHandler http.Handler
	codaHaleHandler   http.Handler
}

func NewAll(o Options) *All {
	return &All{
		prometheus: NewPrometheus(o),
		codaHale:   NewCodaHale(o),
	}
}

func (a *All) MeasureSince(key string, start time.Time) {
	a.prometheus.MeasureSince(key, start)
	a.codaHale.MeasureSince(key, start)
}

func (a *All) IncCounter(key string) {
	a.prometheus.IncCounter(key)
	a.codaHale.IncCounter(key)
}

func (a *All) IncCounterBy(key string, value int64) {
	a.prometheus.IncCounterBy(key, value)
	a.codaHale.IncCounterBy(key, value)
}

func (a *All) UpdateGauge(key string, v float64) {
	a.prometheus.UpdateGauge(key, v)
	a.codaHale.UpdateGauge(key, v)
}

func (a *All) MeasureFilterResponse(filterName string, start time.Time) {
	a.prometheus.MeasureFilterResponse(filterName, start)
	a.codaHale.MeasureFilterResponse(filterName, start)
}

func (a *All) MeasureAllFiltersResponse(start time.Time) {
	a.prometheus.MeasureAllFiltersResponse(start)
	a.codaHale.MeasureAllFiltersResponse(start)
}

func (a *All) MeasureResponse(code int, method string, start time.Time) {
	a.prometheus.MeasureResponse(code, method, start)
	a.codaHale.MeasureResponse(code, method, start)
}

func (a *All) IncSuspensions(filterName string) {
	a.prometheus.IncSuspensions(filterName)
	a.codaHale.IncSuspensions(filterName)
}

func (a *All) IncResumes() {
	a.prometheus.IncResumes()
	a.codaHale.IncResumes()
}

func (a *All) IncEscalations(kind string) {
	a.prometheus.IncEscalations(kind)
	a.codaHale.IncEscalations(kind)
}

func (a *All) IncEscalationFailures() {
	a.prometheus.IncEscalationFailures()
	a.codaHale.IncEscalationFailures()
}

func (a *All) Close() {
	a.codaHale.Close()
	a.prometheus.Close()
}

func (a *All) RegisterHandler(path string, handler *http.ServeMux) {
	a.prometheusHandler = a.prometheus.getHandler()
	a.codaHaleHandler = a.codaHale.getHandler(path)
	handler.Handle(path, a.newHandler())
}

func (a *All) newHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("Accept") == "application/codahale+json" {
			a.codaHaleHandler.ServeHTTP(w, req)
		} else {
			a.prometheusHandler.ServeHTTP(w, req)
		}
	})
}
