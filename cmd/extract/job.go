package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"extractor/internal/cache"
	"extractor/internal/config"
	"extractor/internal/dialect"
	"extractor/internal/failure"
	"extractor/internal/pipeline"
	"extractor/internal/progress"
	"extractor/internal/schema"
	"extractor/internal/source"
	"extractor/internal/storage"
	"extractor/internal/transformer"
)

// outcome is what one job reports back to the run command.
type outcome struct {
	Job    string
	Result pipeline.Result
	Read   int64 // rows read from the source
	Reused bool
	Entry  *cache.Entry
}

// destination is a pipeline.Destination plus whatever it holds open.
type destination struct {
	pipeline.Destination
	close func() error
	entry func() *cache.Entry
}

// jobSink fans progress out to the job logger and the metrics backend.
func jobSink(name string) progress.Sink {
	l := log.Logger.With().Str("job", name).Logger()
	return progress.Multi(progress.NewLogSink(l), &progress.MetricsSink{Job: name})
}

// fingerprint returns the cache identity a job file declares.
func fingerprint(c config.Cache) cache.Fingerprint {
	return cache.Fingerprint{Kind: c.Kind, ID: c.ID, Description: c.Description}
}

// definitions collects the fingerprints of every cache job. The job files
// are the authority on what each cached query currently means.
func definitions(jobs []config.Job) *cache.StaticDefinitions {
	defs := cache.NewStaticDefinitions()
	for _, j := range jobs {
		if j.Destination.Kind == config.DestinationCache {
			defs.Set(fingerprint(j.Destination.Cache))
		}
	}
	return defs
}

// runJob wires one job and runs it to a terminal state.
func runJob(ctx context.Context, j config.Job, defs cache.DefinitionStore) (outcome, error) {
	out := outcome{Job: j.Name}
	if j.Runtime.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, time.Duration(j.Runtime.TimeoutSeconds)*time.Second, failure.ErrTimeout)
		defer cancel()
	}
	sink := jobSink(j.Name)

	srcProvider, err := dialect.Lookup(j.Source.Dialect)
	if err != nil {
		return out, fmt.Errorf("source: %w", err)
	}
	chain, err := transformer.Build(j.Transform)
	if err != nil {
		return out, err
	}

	var dst *destination
	switch j.Destination.Kind {
	case config.DestinationCache:
		var reused *cache.Entry
		dst, reused, err = openCacheDestination(ctx, j, defs, sink)
		if reused != nil {
			out.Reused, out.Entry = true, reused
			return out, nil
		}
	case config.DestinationTable:
		dst, err = openTableDestination(j, sink)
	default:
		err = fmt.Errorf("unsupported destination kind %q", j.Destination.Kind)
	}
	if err != nil {
		return out, err
	}
	defer func() {
		if cerr := dst.close(); cerr != nil {
			log.Warn().Err(cerr).Str("job", j.Name).Msg("close destination")
		}
	}()

	src := source.New(source.Config{
		DSN:                  j.Source.DSN,
		SQL:                  j.Source.SQL,
		CommandTimeout:       j.Source.CommandTimeout(),
		BatchSize:            j.Source.BatchSize,
		AllowEmptyResultSets: j.Source.AllowEmptyResultSets,
		Task:                 j.Name,
	}, srcProvider, sink)

	log.Debug().Str("job", j.Name).Strs("transforms", chain.Names()).Msg("starting")
	out.Result, err = pipeline.New(j.Name, src, chain, dst, sink).Run(pipeline.NewToken(ctx))
	out.Read = src.RowsRead()
	out.Entry = dst.entry()
	return out, err
}

func openCacheDestination(ctx context.Context, j config.Job, defs cache.DefinitionStore, sink progress.Sink) (*destination, *cache.Entry, error) {
	c := j.Destination.Cache
	p, err := dialect.Lookup(c.Dialect)
	if err != nil {
		return nil, nil, fmt.Errorf("cache: %w", err)
	}
	fp, err := defs.Fingerprint(ctx, c.Kind, c.ID)
	if err != nil {
		return nil, nil, err
	}
	store, err := cache.Open(ctx, cacheConfig(c, j.Runtime.SpillDir), p, sink)
	if err != nil {
		return nil, nil, err
	}

	if c.Reuse {
		e, err := store.Reuse(ctx, fp)
		var stale *failure.StaleDefinitionError
		switch {
		case err == nil:
			log.Info().Str("job", j.Name).Str("key", e.Key).Int64("rows", e.Rows).Msg("fresh cache entry; skipping run")
			return nil, &e, store.Close()
		case errors.Is(err, failure.ErrNotCached):
			log.Debug().Str("job", j.Name).Str("key", fp.Key()).Msg("no cache entry")
		case errors.As(err, &stale):
			log.Info().Str("job", j.Name).Str("key", stale.Key).Msg("cache entry is stale; rebuilding")
		default:
			_ = store.Close()
			return nil, nil, err
		}
	}

	var d *cache.Destination
	switch cache.Shape(c.Shape) {
	case cache.ShapeIdentifierList:
		d = cache.NewIdentifierListDestination(store, fp, c.Column)
	case cache.ShapeJoinTable:
		specs, err := columnSpecs(c.Columns)
		if err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		d = cache.NewJoinTableDestination(store, fp, specs)
	default:
		_ = store.Close()
		return nil, nil, fmt.Errorf("unsupported cache shape %q", c.Shape)
	}
	return &destination{
		Destination: d,
		close:       store.Close,
		entry: func() *cache.Entry {
			e := d.Entry()
			if e.Key == "" {
				return nil
			}
			return &e
		},
	}, nil, nil
}

func cacheConfig(c config.Cache, spillDir string) cache.Config {
	return cache.Config{
		DSN:              c.DSN,
		Schema:           c.Schema,
		LookupTable:      c.LookupTable,
		CommandTimeout:   time.Duration(c.CommandTimeoutSeconds) * time.Second,
		JoinTableTimeout: time.Duration(c.JoinTableTimeoutSeconds) * time.Second,
		SpillDir:         spillDir,
	}
}

// columnSpecs turns declared join columns into specs. No declarations means
// the result schema decides.
func columnSpecs(cols []config.CacheColumn) ([]cache.ColumnSpec, error) {
	if len(cols) == 0 {
		return nil, nil
	}
	specs := make([]cache.ColumnSpec, 0, len(cols))
	for _, c := range cols {
		if c.Kind == "" {
			specs = append(specs, cache.Untyped(c.Name))
			continue
		}
		k, err := schema.ParseKind(c.Kind)
		if err != nil {
			return nil, fmt.Errorf("cache column %q: %w", c.Name, err)
		}
		specs = append(specs, cache.Declare(c.Name, k))
	}
	return specs, nil
}

func openTableDestination(j config.Job, sink progress.Sink) (*destination, error) {
	t := j.Destination.Table
	p, err := dialect.Lookup(t.Dialect)
	if err != nil {
		return nil, fmt.Errorf("table: %w", err)
	}
	mode, err := storage.ParseMode(t.Mode)
	if err != nil {
		return nil, err
	}
	d := storage.NewTableDestination(storage.TableConfig{
		DSN:            t.DSN,
		Table:          dialect.Table{Schema: t.Schema, Name: t.Name},
		Mode:           mode,
		BatchSize:      t.BatchSize,
		CommandTimeout: time.Duration(t.CommandTimeoutSeconds) * time.Second,
		NormalizeNames: t.NormalizeNames,
	}, p, sink)
	return &destination{
		Destination: d,
		close:       func() error { return nil },
		entry:       func() *cache.Entry { return nil },
	}, nil
}
