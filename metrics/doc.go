/*
Package metrics implements collection of the response pipeline metrics.

Two backends are available: the Go implementation of the Coda Hale
metrics library (https://github.com/dropwizard/metrics), and Prometheus.
The All kind feeds both, and serves the CodaHale JSON format when the
request accepts application/codahale+json.

The collected metrics include the time spent with every single response
filter and with the whole chain, the total response time by status code
and method, the number of suspensions per filter, the number of
resumptions, and the failures escalated to the dispatcher.

For the keys used for the different metrics, please, see the Key*
constants.

When no backend is configured, the Void backend drops all measurements.
*/
package metrics
