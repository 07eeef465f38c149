package filters

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/zalando/respipe/response"
)

// ErrInvalidFilterParameters is used in case of invalid filter parameters.
var ErrInvalidFilterParameters = errors.New("invalid filter parameters")

// RequestContext provides the request related objects to the response
// filters.
type RequestContext interface {

	// The incoming request.
	Request() *http.Request

	// Context carries the ambient snapshot of the request. After a
	// suspension, it holds the snapshot captured at suspend time.
	Context() context.Context

	// Provides slots to pass data between the filters of the same
	// chain.
	StateBag() map[string]interface{}

	// RequestID identifies the request in logs.
	RequestID() string
}

// ResponseContext provides read and write access to the response under
// construction, and the suspension control of the filter chain.
type ResponseContext interface {
	Status() int

	// SetStatus sets the status both in the response model and on the
	// transport response.
	SetStatus(int)

	StatusInfo() response.StatusInfo
	SetStatusInfo(response.StatusInfo)

	Entity() interface{}
	HasEntity() bool

	// SetEntity replaces the entity, and drops the Content-Length header.
	SetEntity(interface{})

	// SetEntityWithType replaces the entity, its annotations and its
	// media type, and drops the Content-Length header.
	SetEntityWithType(entity interface{}, annotations response.Annotations, mediaType string)

	Annotations() response.Annotations

	// Headers returns the typed header values of the response.
	Headers() *response.Header

	// StringHeaders returns the headers rendered as strings.
	StringHeaders() http.Header

	HeaderString(name string) string

	MediaType() string
	Length() int64
	Date() time.Time
	LastModified() time.Time
	Language() string
	EntityTag() string
	Location() *url.URL
	AllowedMethods() []string
	Cookies() map[string]*http.Cookie

	// Links returns the parsed Link headers.
	Links() []*response.Link
	HasLink(rel string) bool
	Link(rel string) *response.Link

	// EntityStream returns the current sink of the response body.
	EntityStream() io.Writer

	// SetEntityStream replaces the sink of the response body. When the
	// stream implements io.Closer, it is closed after the entity was
	// written.
	SetEntityStream(io.Writer)

	// Suspend marks the chain to pause after the current filter returns.
	// It is valid only during a filter invocation.
	Suspend() error

	// Resume continues a suspended chain with the next filter.
	Resume() error

	// ResumeWithError abandons the chain and passes the error to the
	// failure handling of the dispatcher.
	ResumeWithError(error) error
}

// Filter is a response filter. A filter fails by returning an error or by
// panicking. Filter instances are shared between requests, so any state
// stored with a filter is shared, too.
type Filter interface {
	Response(RequestContext, ResponseContext) error
}

// Spec objects are specifications for filters. When initializing the
// chain, the Spec is used to create the filter instances with the
// configured arguments.
type Spec interface {

	// Name gives the name of the Spec. It is used to identify filters in
	// the configuration.
	Name() string

	// CreateFilter creates a filter instance with the provided arguments.
	CreateFilter(config []interface{}) (Filter, error)
}

// Named is a filter instance in a chain.
type Named struct {
	Name   string
	Filter Filter
}

// Config is the configuration of a single filter in a chain.
type Config struct {
	Name string        `yaml:"name"`
	Args []interface{} `yaml:"args"`
}
