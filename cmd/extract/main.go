// Command extract runs SQL extraction jobs into the query result cache or
// into ordinary tables, and inspects or invalidates cached results.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"extractor/internal/metrics"

	// link every bundled dialect provider
	_ "extractor/internal/dialect/all"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewRootCommand(os.Stdin, os.Stdout, os.Stderr).ExecuteContext(ctx)
	if ferr := metrics.Flush(); ferr != nil {
		log.Warn().Err(ferr).Msg("metrics flush failed")
	}
	if err != nil {
		stop()
		os.Exit(1)
	}
}
