package pipeline

import (
	"errors"
	"fmt"
)

// ErrorKind tags the errors reported by the pipeline.
type ErrorKind int

const (
	// FilterFailure means that a filter returned an error or panicked.
	// The rest of the chain is abandoned.
	FilterFailure ErrorKind = iota + 1

	// IllegalSuspensionState is a usage error: suspend outside of a filter
	// invocation, or resume when the chain is not suspended.
	IllegalSuspensionState

	// UnsupportedSuspension means that the transport of the request can't
	// complete it asynchronously. The chain doesn't pause.
	UnsupportedSuspension

	// ContinuationFailure means that the final delivery of the response
	// failed.
	ContinuationFailure

	// EscalationFailure means that mapping a failure to a response
	// failed, too.
	EscalationFailure
)

var (
	// ErrIllegalState matches the errors of kind IllegalSuspensionState.
	ErrIllegalState = errors.New("illegal suspension state")

	// ErrUnsupported matches the errors of kind UnsupportedSuspension.
	ErrUnsupported = errors.New("suspension not supported by the transport")

	// ErrAborted is escalated when ResumeWithError is called with a nil
	// error.
	ErrAborted = errors.New("filter chain aborted")

	errNoDispatcher = errors.New("no dispatcher to map the failure")
)

// Error is the error type returned and escalated by the pipeline.
type Error struct {
	Kind ErrorKind

	// Filter is the name of the failing filter, when there is one.
	Filter string

	Err error
}

func (k ErrorKind) String() string {
	switch k {
	case FilterFailure:
		return "filter-failure"
	case IllegalSuspensionState:
		return "illegal-suspension-state"
	case UnsupportedSuspension:
		return "unsupported-suspension"
	case ContinuationFailure:
		return "continuation-failure"
	case EscalationFailure:
		return "escalation-failure"
	default:
		return "unknown"
	}
}

func (e *Error) Error() string {
	switch {
	case e.Filter != "" && e.Err != nil:
		return fmt.Sprintf("%v in filter %s: %v", e.Kind, e.Filter, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrIllegalState:
		return e.Kind == IllegalSuspensionState
	case ErrUnsupported:
		return e.Kind == UnsupportedSuspension
	default:
		return false
	}
}

// KindOf returns the kind of the outermost pipeline error in the chain of
// err.
func KindOf(err error) (ErrorKind, bool) {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind, true
	}

	return 0, false
}

func illegalState(reason string) error {
	return &Error{Kind: IllegalSuspensionState, Err: errors.New(reason)}
}

func kindName(err error) string {
	if k, ok := KindOf(err); ok {
		return k.String()
	}

	if errors.Is(err, ErrAborted) {
		return "aborted"
	}

	return "error"
}
