/*
Package filters contains definitions for response filters, their
specifications and a registry to create filter chains from.

Filters are invoked in the configured order, after the resource produced
the response model and before the response is written to the client. A
filter can modify the status, the headers and the entity, or replace the
stream the entity is written to.

A filter can pause the chain by calling ResponseContext.Suspend() and
returning. The next filter is only invoked after somebody, typically a
goroutine started by the suspending filter, calls
ResponseContext.Resume(). Calling ResponseContext.ResumeWithError()
instead abandons the remaining filters, and the error is mapped to a
response by the dispatcher.

Filter chains can be configured as a list of Config objects, or as a
string:

	status(201) -> setResponseHeader("X-Foo", "bar") -> latency("50ms")

To implement a filter, implement the Spec and the Filter interfaces, and
register the Spec in a Registry.
*/
package filters
