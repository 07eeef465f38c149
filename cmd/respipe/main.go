/*
This command provides an executable version of respipe, serving a static
resource through a response filter chain built from the builtin filters.

For the list of command line options, run:

	respipe -help

For example, to serve a compressed greeting after a simulated latency,
offloaded to a bounded queue:

	respipe -static-body "Hello, world!" \
		-max-concurrency 8 \
		-filters 'latency("50ms") -> offload("default") -> compress()'
*/
package main

import (
	log "github.com/sirupsen/logrus"

	"github.com/zalando/respipe"
	"github.com/zalando/respipe/config"
)

func main() {
	cfg := config.NewConfig()
	if err := cfg.Parse(); err != nil {
		log.Fatalf("Error processing config: %s", err)
	}

	if err := respipe.Run(cfg.ToOptions()); err != nil {
		log.Fatal(err)
	}
}
