package cache

import (
	"context"
	"errors"
	"fmt"

	"extractor/internal/schema"
	"extractor/internal/spill"
)

// Destination is a pipeline destination that buffers delivered rows in a
// spill file and commits them to the cache when the run succeeds. A failed
// or cancelled run discards the buffer and leaves the previous entry alone.
type Destination struct {
	store *Store
	fp    Fingerprint
	shape Shape

	column string       // identifier lists
	specs  []ColumnSpec // join tables; nil derives them from the first chunk

	idx   []int
	buf   *spill.File
	entry Entry
	done  bool
}

// NewIdentifierListDestination commits the named column of every delivered
// chunk as an identifier list. A single-column chunk is accepted whatever
// its column is called.
func NewIdentifierListDestination(store *Store, fp Fingerprint, column string) *Destination {
	return &Destination{store: store, fp: fp, shape: ShapeIdentifierList, column: column}
}

// NewJoinTableDestination commits delivered chunks as a join table. With nil
// specs every chunk column is kept under its source kind.
func NewJoinTableDestination(store *Store, fp Fingerprint, specs []ColumnSpec) *Destination {
	return &Destination{store: store, fp: fp, shape: ShapeJoinTable, specs: specs}
}

// Entry returns the committed entry after a successful Dispose(ctx, nil).
func (d *Destination) Entry() Entry { return d.entry }

// Put appends the chunk's rows to the spill file.
func (d *Destination) Put(_ context.Context, c *schema.Chunk) error {
	if d.done {
		return errors.New("cache destination: put after dispose")
	}
	if d.idx == nil {
		if err := d.bind(c.Schema); err != nil {
			return err
		}
	}
	if d.buf == nil {
		f, err := spill.Create(d.store.cfg.SpillDir)
		if err != nil {
			return fmt.Errorf("cache destination: %w", err)
		}
		d.buf = f
	}
	for _, row := range c.Rows {
		out, err := schema.Project(row, d.idx)
		if err != nil {
			return fmt.Errorf("cache destination: %w", err)
		}
		if err := d.buf.Append(out); err != nil {
			return fmt.Errorf("cache destination: %w", err)
		}
	}
	return nil
}

// bind resolves the chunk positions feeding each cached column.
func (d *Destination) bind(sch schema.Schema) error {
	switch {
	case d.shape == ShapeIdentifierList:
		i := sch.Index(d.column)
		if i < 0 && len(sch) == 1 {
			i = 0
		}
		if i < 0 {
			return fmt.Errorf("cache destination: column %q not in %v", d.column, sch.Names())
		}
		d.idx = []int{i}
	case d.specs == nil:
		d.idx = make([]int, len(sch))
		d.specs = make([]ColumnSpec, len(sch))
		for i, c := range sch {
			d.idx[i] = i
			d.specs[i] = Declare(c.Name, c.Kind)
		}
	default:
		d.idx = make([]int, len(d.specs))
		for i, sp := range d.specs {
			j := sch.Index(sp.Name)
			if j < 0 {
				return fmt.Errorf("cache destination: column %q not in %v", sp.Name, sch.Names())
			}
			d.idx[i] = j
		}
	}
	return nil
}

// Dispose commits when cause is nil and discards the buffer otherwise.
func (d *Destination) Dispose(ctx context.Context, cause error) error {
	if d.done {
		return nil
	}
	d.done = true
	defer d.discard()

	if cause != nil {
		return nil
	}

	var rows schema.RowSource = schema.RowSlice(nil)
	if d.buf != nil {
		rows = d.buf
	}
	var (
		e   Entry
		err error
	)
	switch {
	case d.shape == ShapeIdentifierList:
		e, err = d.store.CommitIdentifierList(ctx, d.fp, rows, d.column)
	case d.specs == nil:
		return fmt.Errorf("cache destination: %s: no chunk delivered, join table columns unknown", d.fp.Key())
	default:
		e, err = d.store.CommitJoinTable(ctx, d.fp, rows, d.specs)
	}
	if err != nil {
		return err
	}
	d.entry = e
	return nil
}

// Abort discards the buffer.
func (d *Destination) Abort(context.Context) error {
	if d.done {
		return nil
	}
	d.done = true
	return d.discard()
}

func (d *Destination) discard() error {
	if d.buf == nil {
		return nil
	}
	err := d.buf.Close()
	d.buf = nil
	return err
}
