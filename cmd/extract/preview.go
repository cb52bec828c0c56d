package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"extractor/internal/config"
	"extractor/internal/dialect"
	"extractor/internal/schema"
	"extractor/internal/source"
	"extractor/internal/transformer"
)

func newPreviewCommand(stdout io.Writer) *cobra.Command {
	var (
		rows int
		raw  bool
	)
	cmd := &cobra.Command{
		Use:   "preview JOB.json",
		Short: "Print the first rows a job would extract",
		Long: `
Runs the job's source statement on its own connection, reads at most --rows
rows and prints them after the job's transforms. Nothing is written.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			j, err := config.Load(args[0])
			if err != nil {
				return err
			}
			chunk, err := preview(c.Context(), j, rows, raw)
			if err != nil {
				return err
			}
			return printChunk(stdout, chunk)
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&rows, "rows", source.DefaultPreviewLimit, "maximum number of rows to read")
	flags.BoolVar(&raw, "raw", false, "skip the job's transforms")
	return cmd
}

func preview(ctx context.Context, j config.Job, rows int, raw bool) (*schema.Chunk, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	p, err := dialect.Lookup(j.Source.Dialect)
	if err != nil {
		return nil, err
	}
	if d := j.Source.CommandTimeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	chunk, err := source.Preview(ctx, p, j.Source.DSN, j.Source.SQL, rows)
	if err != nil || chunk == nil || raw {
		return chunk, err
	}
	chain, err := transformer.Build(j.Transform)
	if err != nil {
		return nil, err
	}
	for _, t := range chain {
		next, stop, err := t.Apply(ctx, chunk)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, nil
		}
		chunk = next
		if stop {
			break
		}
	}
	return chunk, nil
}

func printChunk(w io.Writer, c *schema.Chunk) error {
	if c == nil {
		_, err := fmt.Fprintln(w, "(no rows)")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for i, col := range c.Schema {
		if i > 0 {
			fmt.Fprint(tw, "\t")
		}
		fmt.Fprintf(tw, "%s (%s)", col.Name, col.Kind)
	}
	fmt.Fprintln(tw)
	for _, row := range c.Rows {
		for i, v := range row {
			if i > 0 {
				fmt.Fprint(tw, "\t")
			}
			fmt.Fprint(tw, cell(v))
		}
		fmt.Fprintln(tw)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "(%d rows)\n", c.Len())
	return err
}

func cell(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return fmt.Sprintf("0x%x", t)
	case time.Time:
		return t.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(t)
	}
}
