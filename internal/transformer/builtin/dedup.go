package builtin

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/zeebo/xxh3"

	"extractor/internal/schema"
)

// DeDup drops every row whose key was already seen earlier in the run, so
// the first occurrence wins and surviving rows keep source order. The key is
// the tuple of Keys columns (every column when Keys is empty); two rows share
// a key when their values are equal by canonical type and value.
//
// Seen keys are remembered as 128-bit xxh3 digests across chunks for the
// life of the stage. A DeDup value must not be shared between runs.
type DeDup struct {
	Keys []string

	seen map[xxh3.Uint128]struct{}
	buf  []byte
}

func (*DeDup) Name() string { return "dedup" }

func (d *DeDup) Apply(ctx context.Context, c *schema.Chunk) (*schema.Chunk, bool, error) {
	names := d.Keys
	if len(names) == 0 {
		names = c.Schema.Names()
	}
	idx, err := positions("dedup", c.Schema, names)
	if err != nil {
		return nil, false, err
	}
	if d.seen == nil {
		d.seen = make(map[xxh3.Uint128]struct{}, len(c.Rows))
	}

	out := c.Rows[:0]
	for i, row := range c.Rows {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, false, err
			}
		}
		d.buf = d.buf[:0]
		for _, j := range idx {
			d.buf = appendKey(d.buf, row[j])
		}
		h := xxh3.Hash128(d.buf)
		if _, dup := d.seen[h]; dup {
			continue
		}
		d.seen[h] = struct{}{}
		out = append(out, row)
	}
	c.Rows = out
	return emit(c), false, nil
}

// appendKey writes a type tag, a length and the value bytes so adjacent
// values can never run together.
func appendKey(b []byte, v any) []byte {
	var (
		tag  byte
		body []byte
	)
	switch t := v.(type) {
	case nil:
		return append(b, 0)
	case bool:
		tag = 'b'
		if t {
			body = []byte{1}
		} else {
			body = []byte{0}
		}
	case int64:
		tag, body = 'i', binary.BigEndian.AppendUint64(nil, uint64(t))
	case float64:
		tag, body = 'f', binary.BigEndian.AppendUint64(nil, math.Float64bits(t))
	case string:
		tag, body = 's', []byte(t)
	case []byte:
		tag, body = 'x', t
	case time.Time:
		tag, body = 't', []byte(t.UTC().Format(time.RFC3339Nano))
	default:
		tag, body = '?', fmt.Appendf(nil, "%T:%v", t, t)
	}
	b = append(b, tag)
	b = binary.AppendUvarint(b, uint64(len(body)))
	return append(b, body...)
}
