// Package spill buffers rows in a msgpack-encoded temporary file so a
// consumer can replay an arbitrarily large chunk stream without holding it
// in memory.
package spill

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrClosed is returned by operations on a closed file.
var ErrClosed = errors.New("spill: closed")

// File is an append-then-replay row store. Appends must complete before
// the first Each; Each may be called any number of times. Not safe for
// concurrent appends.
type File struct {
	path string
	f    *os.File
	w    *bufio.Writer
	enc  *msgpack.Encoder
	rows int64

	mu     sync.Mutex
	closed bool
}

// Create makes a new spill file in dir (os.TempDir when empty).
func Create(dir string) (*File, error) {
	f, err := os.CreateTemp(dir, "extract-spill-*.msgpack")
	if err != nil {
		return nil, fmt.Errorf("spill: create: %w", err)
	}
	w := bufio.NewWriterSize(f, 64<<10)
	return &File{path: f.Name(), f: f, w: w, enc: msgpack.NewEncoder(w)}, nil
}

// Rows returns the number of appended rows.
func (s *File) Rows() int64 { return s.rows }

// Append writes one row. Values keep their Go type across the round trip
// for nil, bool, int64, float64, string, []byte and time.Time.
func (s *File) Append(row []any) error {
	if s.isClosed() {
		return ErrClosed
	}
	if err := s.enc.EncodeArrayLen(len(row)); err != nil {
		return fmt.Errorf("spill: append: %w", err)
	}
	for i, v := range row {
		if err := s.enc.Encode(v); err != nil {
			return fmt.Errorf("spill: append value %d (%T): %w", i, v, err)
		}
	}
	s.rows++
	return nil
}

// Each replays every appended row in order. fn owns the row it receives.
func (s *File) Each(ctx context.Context, fn func(row []any) error) error {
	if s.isClosed() {
		return ErrClosed
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("spill: flush: %w", err)
	}

	r, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("spill: reopen: %w", err)
	}
	defer r.Close()
	adviseSequential(r)
	dec := msgpack.NewDecoder(bufio.NewReaderSize(r, 64<<10))

	for i := int64(0); i < s.rows; i++ {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		row, err := decodeRow(dec)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return fmt.Errorf("spill: row %d: %w", i+1, err)
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

func decodeRow(dec *msgpack.Decoder) ([]any, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	row := make([]any, n)
	for j := range row {
		v, err := dec.DecodeInterface()
		if err != nil {
			return nil, err
		}
		row[j] = canonical(v)
	}
	return row, nil
}

// canonical undoes msgpack's width narrowing.
func canonical(v any) any {
	switch t := v.(type) {
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case float32:
		return float64(t)
	case time.Time:
		return t.UTC()
	}
	return v
}

func (s *File) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close removes the file. It is idempotent.
func (s *File) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.f.Close()
	if rerr := os.Remove(s.path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
		err = errors.Join(err, rerr)
	}
	return err
}
