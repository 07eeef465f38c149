/*
Package logging implements application log instrumentation and Apache
combined access log.

# Application Log

The application log uses the logrus package:

https://github.com/sirupsen/logrus

To send messages to the application log, import this package and use its
methods. Example:

	import log "github.com/sirupsen/logrus"

	func doSomething() {
		log.Errorf("nothing to do")
	}

Components that take a Logger, like the response pipeline, use DefaultLog
by default, which adds request scoped fields (e.g. the request id) to every
entry.

During startup initialization, it is possible to redirect the log output
from the default /dev/stderr to another file, and to set a common prefix
for each log entry. Setting the prefix may be a good idea when the access
log is enabled and its output is the same as the one of the application
log, to make it easier to split the output for diagnostics.

# Access Log

The access log prints HTTP access information in the Apache combined
access log format, extended with the duration in milliseconds, the
requested host, the request id and a flag telling whether the response was
completed asynchronously. The transport handler logs one entry for every
request, after the response was completed.

During initialization, it is possible to redirect the access log output
from the default /dev/stderr to another file, to switch to JSON output, or
to completely disable the access log.
*/
package logging
