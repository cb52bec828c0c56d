package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"extractor/internal/config"
)

func newRunCommand(stdout io.Writer) *cobra.Command {
	var (
		parallel int
		failFast bool
	)
	cmd := &cobra.Command{
		Use:   "run JOB.json...",
		Short: "Run one or more extraction jobs",
		Long: `
Loads, validates and runs each job file. Jobs run concurrently up to
--parallel at a time. A job that fails does not stop the others unless
--fail-fast is set. One summary line per job is printed to stdout.
`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			jobs, err := loadJobs(args)
			if err != nil {
				return err
			}
			return runJobs(c.Context(), jobs, parallel, failFast, stdout)
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&parallel, "parallel", 1, "maximum number of jobs running at once")
	flags.BoolVar(&failFast, "fail-fast", false, "cancel the remaining jobs after the first failure")
	return cmd
}

// loadJobs reads and validates every job file. Warnings are logged; any
// error-level issue fails the whole batch before anything runs.
func loadJobs(paths []string) ([]config.Job, error) {
	jobs := make([]config.Job, 0, len(paths))
	names := make(map[string]string, len(paths))
	var errs []error
	for _, path := range paths {
		j, err := config.Load(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		if j.Name == "" {
			j.Name = path
		}
		issues := config.ValidateJob(j)
		for _, is := range issues {
			if is.Severity == config.SeverityWarning {
				log.Warn().Str("job", j.Name).Str("path", is.Path).Msg(is.Message)
			}
		}
		if config.HasErrors(issues) {
			errs = append(errs, fmt.Errorf("%s: invalid job: %s", path, firstError(issues)))
			continue
		}
		if prev, dup := names[j.Name]; dup {
			errs = append(errs, fmt.Errorf("%s: job name %q already used by %s", path, j.Name, prev))
			continue
		}
		names[j.Name] = path
		jobs = append(jobs, j)
	}
	return jobs, errors.Join(errs...)
}

func firstError(issues []config.Issue) config.Issue {
	for _, is := range issues {
		if is.Severity == config.SeverityError {
			return is
		}
	}
	return config.Issue{}
}

// runJobs runs jobs through an errgroup bounded by parallel and prints one
// summary line per job in completion order.
func runJobs(ctx context.Context, jobs []config.Job, parallel int, failFast bool, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if parallel < 1 {
		parallel = 1
	}
	defs := definitions(jobs)

	var (
		g    *errgroup.Group
		gctx = ctx
	)
	if failFast {
		g, gctx = errgroup.WithContext(ctx)
	} else {
		g = &errgroup.Group{}
	}
	g.SetLimit(parallel)

	var (
		mu   sync.Mutex
		errs []error
	)
	for _, j := range jobs {
		g.Go(func() error {
			o, err := runJob(gctx, j, defs)
			mu.Lock()
			defer mu.Unlock()
			printOutcome(out, o, err)
			if err != nil {
				err = fmt.Errorf("job %s: %w", j.Name, err)
				errs = append(errs, err)
				if failFast {
					return err
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func printOutcome(w io.Writer, o outcome, err error) {
	switch {
	case o.Reused:
		fmt.Fprintf(w, "%s\treused\tkey=%s rows=%d\n", o.Job, o.Entry.Key, o.Entry.Rows)
		return
	case err != nil && o.Result.RunID == uuid.Nil:
		fmt.Fprintf(w, "%s\tnot started\terror=%q\n", o.Job, err.Error())
		return
	}
	r := o.Result
	fmt.Fprintf(w, "%s\t%s\trows=%d chunks=%d dropped=%d read=%d elapsed=%s run=%s",
		o.Job, r.State, r.Rows, r.Chunks, r.Dropped, o.Read, r.Elapsed.Round(time.Millisecond), r.RunID)
	if r.StoppedEarly {
		fmt.Fprint(w, " stopped_early=true")
	}
	if o.Entry != nil {
		fmt.Fprintf(w, " key=%s table=%s", o.Entry.Key, o.Entry.Table)
	}
	if err != nil {
		fmt.Fprintf(w, " error=%q", err.Error())
	}
	fmt.Fprintln(w)
}
