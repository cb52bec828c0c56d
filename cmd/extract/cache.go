package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"extractor/internal/cache"
	"extractor/internal/config"
	"extractor/internal/dialect"
	"extractor/internal/progress"
)

// cacheFlags locate a cache either directly or through a job file's cache
// destination.
type cacheFlags struct {
	dialect     string
	dsn         string
	schema      string
	lookupTable string
	job         string
}

func (f *cacheFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.dialect, "dialect", "", "cache database dialect")
	flags.StringVar(&f.dsn, "dsn", "", "cache database DSN (env "+config.EnvCacheDSN+")")
	flags.StringVar(&f.schema, "schema", "", "schema holding the lookup and cache tables")
	flags.StringVar(&f.lookupTable, "lookup-table", "", "lookup table name")
	flags.StringVar(&f.job, "job", "", "take the cache location from this job file")
}

// open resolves the flags and opens the store. The returned fingerprint is
// set only when a job file was given.
func (f *cacheFlags) open(ctx context.Context) (*cache.Store, *cache.Fingerprint, error) {
	var (
		c  config.Cache
		fp *cache.Fingerprint
	)
	if f.job != "" {
		j, err := config.Load(f.job)
		if err != nil {
			return nil, nil, err
		}
		if j.Destination.Kind != config.DestinationCache {
			return nil, nil, fmt.Errorf("%s: destination is %q, not a cache", f.job, j.Destination.Kind)
		}
		c = j.Destination.Cache
		v := fingerprint(c)
		fp = &v
	}
	c.Dialect = firstNonEmpty(f.dialect, c.Dialect)
	c.DSN = firstNonEmpty(f.dsn, c.DSN, os.Getenv(config.EnvCacheDSN))
	c.Schema = firstNonEmpty(f.schema, c.Schema)
	c.LookupTable = firstNonEmpty(f.lookupTable, c.LookupTable)
	if c.Dialect == "" || c.DSN == "" {
		return nil, nil, errors.New("cache location needs --dialect and --dsn, or --job")
	}

	p, err := dialect.Lookup(c.Dialect)
	if err != nil {
		return nil, nil, err
	}
	store, err := cache.Open(ctx, cacheConfig(c, ""), p, progress.Nop{})
	if err != nil {
		return nil, nil, err
	}
	return store, fp, nil
}

func newCacheCommand(stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or invalidate the query result cache",
	}
	cmd.AddCommand(newCacheStatusCommand(stdout))
	cmd.AddCommand(newCacheInvalidateCommand(stdout))
	return cmd
}

func newCacheStatusCommand(stdout io.Writer) *cobra.Command {
	f := &cacheFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "List cache entries",
		Long: `
Lists every committed cache entry. With --job, also reports whether the
job's fingerprint has a fresh, stale or missing entry.
`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			ctx := commandContext(c)
			store, fp, err := f.open(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Entries(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tSHAPE\tTABLE\tCOLUMNS\tROWS\tLAST MODIFIED\tDESCRIPTION")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
					e.Key, e.Shape, e.Table, e.Columns, e.Rows, e.LastModified.UTC().Format(time.RFC3339), e.Description)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if fp == nil {
				return nil
			}
			return printFreshness(ctx, stdout, store, *fp)
		},
	}
	f.register(cmd)
	return cmd
}

func printFreshness(ctx context.Context, w io.Writer, store *cache.Store, fp cache.Fingerprint) error {
	ok, err := store.HasCachedResult(ctx, fp.Key())
	if err != nil {
		return err
	}
	state := "missing"
	if ok {
		stale, err := store.IsStale(ctx, fp)
		if err != nil {
			return err
		}
		state = "fresh"
		if stale {
			state = "stale"
		}
	}
	_, err = fmt.Fprintf(w, "%s: %s\n", fp.Key(), state)
	return err
}

func newCacheInvalidateCommand(stdout io.Writer) *cobra.Command {
	f := &cacheFlags{}
	cmd := &cobra.Command{
		Use:   "invalidate [KEY...]",
		Short: "Drop cache entries and their tables",
		Long: `
Removes each named entry and drops its table. With --job and no keys, the
job's own entry is invalidated. Unknown keys are not an error.
`,
		RunE: func(c *cobra.Command, args []string) error {
			ctx := commandContext(c)
			store, fp, err := f.open(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			keys := args
			if len(keys) == 0 && fp != nil {
				keys = []string{fp.Key()}
			}
			if len(keys) == 0 {
				return errors.New("no cache keys given")
			}
			var errs []error
			for _, k := range keys {
				if err := store.Invalidate(ctx, k); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", k, err))
					continue
				}
				fmt.Fprintf(stdout, "invalidated %s\n", k)
			}
			return errors.Join(errs...)
		},
	}
	f.register(cmd)
	return cmd
}

func commandContext(c *cobra.Command) context.Context {
	if ctx := c.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
