package filters

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

func StringArg(x interface{}) (string, error) {
	if s, ok := x.(string); ok {
		return s, nil
	}

	return "", fmt.Errorf("%v is not a string", x)
}

func Float64Arg(x interface{}) (float64, error) {
	switch f := x.(type) {
	case float64:
		return f, nil
	case int:
		return float64(f), nil
	}

	return 0, fmt.Errorf("%v is not a float64", x)
}

func IntArg(x interface{}) (int, error) {
	switch i := x.(type) {
	case int:
		return i, nil
	case float64:
		ii := int(i)
		if float64(ii) == i {
			return ii, nil
		}
	}

	return 0, fmt.Errorf("%v is not an integer", x)
}

// DurationArg accepts a time.Duration, or a string parsed with
// time.ParseDuration, or a number of milliseconds. Negative durations are
// rejected.
func DurationArg(x interface{}) (time.Duration, error) {
	var d time.Duration
	switch t := x.(type) {
	case time.Duration:
		d = t
	case string:
		var err error
		d, err = time.ParseDuration(t)
		if err != nil {
			return 0, err
		}
	case int:
		d = time.Duration(t) * time.Millisecond
	case float64:
		d = time.Duration(t * float64(time.Millisecond))
	default:
		return 0, fmt.Errorf("%v is not a duration", x)
	}

	if d < 0 {
		return 0, fmt.Errorf("duration %v is negative", x)
	}

	return d, nil
}

// FilterArgs provides sequential access to the filter arguments.
type FilterArgs struct {
	args []interface{}
	pos  int
	errs []error
}

// Args creates a filter arguments wrapper. Every call of a non-optional
// accessor increases the expected argument count. Err() returns an error
// if the expected count doesn't match the number of arguments, or if any
// of the conversions failed.
//
// Example usage:
//
//	a := Args([]interface{}{"s", 1, "5ms"})
//	s, i, d, opt := a.String(), a.Int(), a.Duration(), a.OptionalString("default")
//	if err := a.Err(); err != nil {
//		return err
//	}
func Args(args []interface{}) *FilterArgs {
	return &FilterArgs{args: args}
}

func (a *FilterArgs) String() (_ string) {
	if x, ok := a.next(); ok {
		s, err := StringArg(x)
		if err == nil {
			return s
		}

		a.error(err)
	}

	return
}

func (a *FilterArgs) OptionalString(defaultValue string) string {
	if a.pos >= len(a.args) {
		return defaultValue
	}

	return a.String()
}

// Strings consumes all the remaining arguments.
func (a *FilterArgs) Strings() (result []string) {
	if a.pos > len(a.args) {
		return nil
	}

	hasErr := false
	for _, x := range a.args[a.pos:] {
		a.pos++
		if s, err := StringArg(x); err == nil {
			result = append(result, s)
		} else {
			a.error(err)
			hasErr = true
		}
	}

	if hasErr {
		return nil
	}

	return
}

func (a *FilterArgs) Float64() (_ float64) {
	if x, ok := a.next(); ok {
		f, err := Float64Arg(x)
		if err == nil {
			return f
		}

		a.error(err)
	}

	return
}

func (a *FilterArgs) Int() (_ int) {
	if x, ok := a.next(); ok {
		i, err := IntArg(x)
		if err == nil {
			return i
		}

		a.error(err)
	}

	return
}

func (a *FilterArgs) OptionalInt(defaultValue int) int {
	if a.pos >= len(a.args) {
		return defaultValue
	}

	return a.Int()
}

func (a *FilterArgs) Duration() (_ time.Duration) {
	if x, ok := a.next(); ok {
		d, err := DurationArg(x)
		if err == nil {
			return d
		}

		a.error(err)
	}

	return
}

func (a *FilterArgs) OptionalDuration(defaultValue time.Duration) time.Duration {
	if a.pos >= len(a.args) {
		return defaultValue
	}

	return a.Duration()
}

func (a *FilterArgs) Err() error {
	var errs []string
	if a.pos != len(a.args) {
		if a.pos == 1 {
			errs = append(errs, "expects 1 argument")
		} else {
			errs = append(errs, fmt.Sprintf("expects %d arguments", a.pos))
		}
	}

	for _, err := range a.errs {
		errs = append(errs, err.Error())
	}

	if len(errs) == 0 {
		return nil
	}

	return errors.New(strings.Join(errs, ", "))
}

func (a *FilterArgs) next() (x interface{}, ok bool) {
	if a.pos < len(a.args) {
		x, ok = a.args[a.pos], true
	}

	a.pos++
	return
}

func (a *FilterArgs) error(err error) {
	a.errs = append(a.errs, err)
}
