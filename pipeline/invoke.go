package pipeline

import (
	"fmt"
	"runtime"
	"sync/atomic"
)

var caughtPanic atomic.Bool

// tryCatch executes p, and turns a panic into an error. onPanic receives
// the stack trace of the first panic in the process, further panics get an
// empty stack.
func tryCatch(p func() error, onPanic func(err interface{}, stack string)) (err error) {
	defer func() {
		if perr := recover(); perr != nil {
			s := ""
			if caughtPanic.CompareAndSwap(false, true) {
				buf := make([]byte, 1024)
				l := runtime.Stack(buf, false)
				s = string(buf[:l])
			}

			if onPanic != nil {
				onPanic(perr, s)
			}

			err = fmt.Errorf("panic: %v", perr)
		}
	}()

	return p()
}
