package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"extractor/internal/config"
)

func newValidateCommand(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "validate JOB.json...",
		Short: "Check job files without running them",
		Long: `
Decodes each job file and lists every issue found as
"severity: path: message". Fails when any file has an error-level issue.
`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			failed := 0
			for _, path := range args {
				j, err := config.Load(path)
				if err != nil {
					fmt.Fprintf(stderr, "error: %s: %v\n", path, err)
					failed++
					continue
				}
				issues := config.ValidateJob(j)
				for _, is := range issues {
					fmt.Fprintf(stderr, "%s: %s: %s: %s\n", is.Severity, path, is.Path, is.Message)
				}
				if config.HasErrors(issues) {
					failed++
					continue
				}
				fmt.Fprintf(stdout, "%s: ok\n", path)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d job files invalid", failed, len(args))
			}
			return nil
		},
	}
}
