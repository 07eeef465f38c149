/*
Package pipeline executes the response filter chain of a request, with
support for suspending the chain between two filters and resuming it
later, possibly on a different goroutine.

# Filtering

The dispatcher creates a Runner for every request, and calls Filter. The
filters are executed in the order of the chain, each of them seeing the
changes that the previous ones made to the response model. When the last
filter returned, the runner calls the continuation, which writes the
response to the transport. The continuation is called at most once.

When the transport can't complete a request asynchronously, the
continuation is nil, and the caller of Filter writes the response.

# Suspension

A filter can call Suspend during its invocation. When it returns, the
runner stops, puts the transport into the asynchronous pending state, and
Filter returns without calling the continuation. Whoever calls Resume
later continues the chain with the next filter, on its own goroutine.
ResumeWithError abandons the chain instead.

	func (f *offload) Response(_ filters.RequestContext, ctx filters.ResponseContext) error {
		if err := ctx.Suspend(); err != nil {
			return err
		}

		go func() {
			doSomething()
			ctx.Resume()
		}()

		return nil
	}

# Failures

Before the first suspension, the failures are returned by Filter, and the
dispatcher maps them to a response. After a suspension, there is no
caller left to return them to, so they are escalated by the runner: first
to the error mapping of the dispatcher, and when that fails, too, the
response is replaced with a generic 500, if it was not committed yet.
Either way, the transport receives the completion signal.
*/
package pipeline
