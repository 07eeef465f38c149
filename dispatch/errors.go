package dispatch

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/zalando/respipe/response"
)

// ErrUnsupportedMediaType is returned when an entity can't be written with
// the media type of the response.
var ErrUnsupportedMediaType = errors.New("unsupported media type")

// HTTPError is a failure with an HTTP status code. The default error
// mapping uses the status code and the message to create the response.
type HTTPError struct {
	Code    int
	Message string
	Err     error
}

// ErrorMapper maps a failure to a response model. It returns false when it
// doesn't handle the error.
type ErrorMapper interface {
	MapError(error) (*response.Model, bool)
}

// ErrorMapperFunc can be used as an ErrorMapper.
type ErrorMapperFunc func(error) (*response.Model, bool)

// Errorf creates an HTTPError with a formatted message.
func Errorf(code int, format string, args ...interface{}) *HTTPError {
	return &HTTPError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *HTTPError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Code)
	}

	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Code, msg, e.Err)
	}

	return fmt.Sprintf("%d %s", e.Code, msg)
}

func (e *HTTPError) StatusCode() int { return e.Code }
func (e *HTTPError) Unwrap() error   { return e.Err }

func (f ErrorMapperFunc) MapError(err error) (*response.Model, bool) { return f(err) }

// statusCoder is implemented by the errors that carry a status code, not
// only by HTTPError.
type statusCoder interface {
	StatusCode() int
}

func defaultErrorModel(err error) *response.Model {
	code := http.StatusInternalServerError
	var sc statusCoder
	if errors.As(err, &sc) && sc.StatusCode() >= 400 && sc.StatusCode() < 600 {
		code = sc.StatusCode()
	}

	msg := http.StatusText(code)
	var herr *HTTPError
	if errors.As(err, &herr) && herr.Message != "" {
		msg = herr.Message
	}

	m := response.NewModel(code, msg)
	m.Headers().Set("Content-Type", "text/plain; charset=utf-8")
	return m
}
