package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"extractor/internal/logging"
	"extractor/internal/metrics"
	"extractor/internal/metrics/datadog"
	"extractor/internal/metrics/prompush"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	logLevel       string
	logFormat      string
	metricsBackend string
	pushGatewayURL string
	metricsJob     string
	datadogAddr    string
	datadogPrefix  string
}

// NewRootCommand builds the command tree. Output goes to stdout; logs and
// diagnostics go to stderr.
func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	g := &globalFlags{}
	rc := &cobra.Command{
		Use:   "extract",
		Short: "Extract SQL query results into a result cache or a table",
		Long: `
Runs extraction jobs: a SQL statement is read in bounded chunks, passed
through an ordered chain of transforms and written to the query result
cache or to an ordinary table. Jobs are JSON files; see "extract validate".
`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := logging.Setup(logging.Options{Level: g.logLevel, Format: g.logFormat, Out: stderr}); err != nil {
				return err
			}
			return g.setupMetrics()
		},
	}

	pf := rc.PersistentFlags()
	pf.StringVar(&g.logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	pf.StringVar(&g.logFormat, "log-format", "console", "log format (json, console)")
	pf.StringVar(&g.metricsBackend, "metrics-backend", "", "metrics backend: pushgateway, datadog or none (env METRICS_BACKEND)")
	pf.StringVar(&g.pushGatewayURL, "pushgateway-url", "", "Pushgateway base URL (env PUSHGATEWAY_URL)")
	pf.StringVar(&g.metricsJob, "metrics-job", "extract", "Pushgateway job label")
	pf.StringVar(&g.datadogAddr, "datadog-addr", "", "DogStatsD address (env DD_DOGSTATSD_ADDR)")
	pf.StringVar(&g.datadogPrefix, "datadog-namespace", "extract.", "prefix for Datadog metric names")

	rc.AddCommand(newRunCommand(stdout))
	rc.AddCommand(newPreviewCommand(stdout))
	rc.AddCommand(newValidateCommand(stdout, stderr))
	rc.AddCommand(newCacheCommand(stdout))

	rc.SetIn(stdin)
	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

// setupMetrics installs the selected backend. Resolution order is flag,
// then environment, then none. A backend that fails to initialise leaves the
// nop backend in place.
func (g *globalFlags) setupMetrics() error {
	backend := strings.ToLower(firstNonEmpty(g.metricsBackend, os.Getenv("METRICS_BACKEND"), "none"))
	switch backend {
	case "none":
		log.Debug().Msg("metrics: disabled")

	case "pushgateway":
		url := firstNonEmpty(g.pushGatewayURL, os.Getenv("PUSHGATEWAY_URL"), "http://localhost:9091")
		b, err := prompush.NewBackend(g.metricsJob, url)
		if err != nil {
			log.Warn().Err(err).Msg("metrics: pushgateway backend unavailable; using nop")
			return nil
		}
		metrics.SetBackend(b)
		log.Debug().Str("url", url).Str("job", g.metricsJob).Msg("metrics: pushgateway")

	case "datadog":
		addr := firstNonEmpty(g.datadogAddr, os.Getenv("DD_DOGSTATSD_ADDR"), "127.0.0.1:8125")
		b, err := datadog.NewBackend(datadog.Config{Addr: addr, Namespace: g.datadogPrefix})
		if err != nil {
			log.Warn().Err(err).Msg("metrics: datadog backend unavailable; using nop")
			return nil
		}
		metrics.SetBackend(b)
		log.Debug().Str("addr", addr).Msg("metrics: datadog")

	default:
		return fmt.Errorf("unknown metrics backend %q (want pushgateway, datadog or none)", backend)
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
