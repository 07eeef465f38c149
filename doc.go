/*
Package respipe provides an HTTP server that passes its responses through a
chain of response filters, where any filter can suspend the chain, and
resume it later from another goroutine.

The response under construction is represented by a response model: a
status, typed headers and an entity. The filters of the chain run in order
on the same model. When a filter calls Suspend, the chain stops after the
filter returns, the serving goroutine is released from the filter
processing, and the connection is kept open until the chain is resumed, or
the asynchronous timeout expires. Resume continues the chain with the next
filter, while ResumeWithError abandons it, and passes the error to the
failure handling. When the last filter returned, the entity is written to
the connection exactly once.

Failures are escalated in two tiers. First, the error mappers of the
dispatcher try to turn the error into a response. If that fails too, and
nothing was sent yet, a generic 500 response is sent. Once the response
is committed, the failure is only logged.

# Quickstart

Build the command, and start it with a static response, and a filter
chain:

	go install github.com/zalando/respipe/cmd/respipe@latest

	respipe -static-body '{"greeting": "hello"}' \
		-static-header 'Content-Type: application/json' \
		-filters 'latency("20ms") -> entityHeader("X-Greeting", "greeting") -> compress()'

	curl -i localhost:9090

The metrics and the health check are served on the support listener:

	curl localhost:9911/metrics
	curl localhost:9911/healthz

# Filters

The builtin filters are listed in the filters/builtin package. Some of them
come from their own packages:

  - filters/flowid: request flow IDs
  - filters/diag: latency, failures and throttling for testing clients
  - filters/ratelimit: token bucket rate limiting, waiting suspended
  - filters/scheduler: offloading the rest of the chain to bounded queues

# Extending respipe

Custom filters implement the filters.Spec and the filters.Filter
interfaces, and are passed to the server in the options:

	package main

	import (
	    "log"

	    "github.com/zalando/respipe"
	    "github.com/zalando/respipe/filters"
	)

	type hello struct{}

	func (hello) Name() string { return "hello" }

	func (hello) CreateFilter([]interface{}) (filters.Filter, error) {
	    return hello{}, nil
	}

	func (hello) Response(_ filters.RequestContext, rsp filters.ResponseContext) error {
	    rsp.SetEntity("Hello, world!")
	    return nil
	}

	func main() {
	    err := respipe.Run(respipe.Options{
	        Address:       ":9090",
	        EnableAsync:   true,
	        CustomFilters: []filters.Spec{hello{}},
	        Filters:       []*filters.Config{{Name: "hello"}},
	    })
	    if err != nil {
	        log.Fatal(err)
	    }
	}

A custom resource, producing the initial response model, can be set with
Options.Resource, and custom error mappers with Options.ErrorMappers.
*/
package respipe
