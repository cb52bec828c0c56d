// Package storage writes pipeline output into ordinary database tables.
//
// This file implements a generic, batched loader that drains rows from a
// channel and invokes a bulk-insert function (CopyFn) per batch. Providers
// implement CopyFn with their fastest primitive (COPY, bulk insert, multi-row
// INSERT).
//
// Logging: every successful flush emits a debug line with running totals and
// the instantaneous rows/sec since the previous flush.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"extractor/internal/metrics"
)

// CopyFn inserts rows, aligned to the loader's columns, and returns how many
// rows the backend reported. It must cancel promptly when ctx is done.
type CopyFn func(ctx context.Context, rows [][]any) (int64, error)

// LoadBatches drains rows from in, groups them into batches of batchSize and
// calls copyFn for each non-empty batch. It returns the total reported by
// copyFn and the first error. name labels logs and metrics.
//
// Cancellation: returns (total, context.Cause(ctx)) when ctx is done.
func LoadBatches(ctx context.Context, name string, in <-chan []any, batchSize int, copyFn CopyFn) (int64, error) {
	if batchSize <= 0 {
		return 0, errors.New("loader: batchSize must be > 0")
	}
	if copyFn == nil {
		return 0, errors.New("loader: copyFn must not be nil")
	}

	var (
		total       int64
		batches     int64
		batch       = make([][]any, 0, min(batchSize, 4096))
		start       = time.Now()
		lastFlushTS = start
		lastTotal   int64
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		t0 := time.Now()
		n, err := copyFn(ctx, batch)
		total += n
		metrics.RecordStep(name, "copy", err, time.Since(t0))

		// Rows belong to the backend now; start a fresh batch.
		batch = make([][]any, 0, cap(batch))

		if err != nil {
			log.Error().Err(err).Str("loader", name).Int64("after", n).Int64("total", total).Msg("copy failed")
			return err
		}

		batches++
		now := time.Now()
		sinceLast := now.Sub(lastFlushTS)
		rps := float64(0)
		if sinceLast > 0 {
			rps = float64(total-lastTotal) / sinceLast.Seconds()
		}
		log.Debug().
			Str("loader", name).
			Int64("batch", batches).
			Float64("rps", rps).
			Int64("inserted", n).
			Int64("total_inserted", total).
			Dur("elapsed", now.Sub(start).Truncate(time.Millisecond)).
			Msg("batch flushed")
		metrics.RecordRow(name, "inserted", n)
		lastFlushTS = now
		lastTotal = total
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return total, context.Cause(ctx)

		case row, ok := <-in:
			if !ok {
				if err := flush(); err != nil {
					return total, err
				}
				log.Debug().Str("loader", name).Int64("batches", batches).Int64("total_inserted", total).Msg("input closed")
				return total, nil
			}
			batch = append(batch, row)
			if len(batch) >= batchSize {
				if err := flush(); err != nil {
					return total, err
				}
			}
		}
	}
}
