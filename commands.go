package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"traceproc/debug"
	"traceproc/export"
	"traceproc/processor"
	"traceproc/storage"
)

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// SESSION HELPERS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// loadTrace runs a full session over path. The caller closes the session.
func loadTrace(ctx context.Context, opts *rootOptions, path string) (*processor.Session, error) {
	s, err := processor.New(opts.cfg, debug.Logger(), nil)
	if err != nil {
		return nil, err
	}
	if err := s.LoadFile(ctx, path); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// printTable writes t as aligned columns with a header row.
func printTable(w io.Writer, t storage.Table) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	cols := t.Columns()
	for i, c := range cols {
		if i > 0 {
			fmt.Fprint(tw, "\t")
		}
		fmt.Fprint(tw, c.Name)
	}
	fmt.Fprintln(tw)
	for r := 0; r < t.RowCount(); r++ {
		for c := range cols {
			if c > 0 {
				fmt.Fprint(tw, "\t")
			}
			v := t.Value(r, c)
			if v == nil {
				fmt.Fprint(tw, "NULL")
				continue
			}
			fmt.Fprint(tw, v)
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// COMMANDS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

func newQueryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "query TRACE SQL",
		Short: "Run a SQL query over the trace tables",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := loadTrace(ctx, opts, args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.Engine().Query(ctx, args[1])
			if err != nil {
				return err
			}
			return printTable(cmd.OutOrStdout(), res)
		},
	}
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	var out, compression string
	cmd := &cobra.Command{
		Use:   "export TRACE",
		Short: "Write every trace table to a Parquet file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if out == "" {
				out = opts.cfg.Export.Dir
			}
			if compression == "" {
				compression = opts.cfg.Export.Compression
			}
			if err := os.MkdirAll(out, 0o755); err != nil {
				return errors.Wrap(err, "export: create output dir")
			}

			s, err := loadTrace(ctx, opts, args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			results, err := export.WriteAll(ctx, s.Storage().Registry, out, export.Options{
				Compression:  compression,
				RowGroupSize: opts.cfg.Export.RowGroupSize,
				Metadata:     map[string]string{"session": s.ID().String(), "source": args[0]},
			})
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "table\trows\tbytes\tpath")
			for _, r := range results {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", r.Table, r.Rows, r.Bytes, r.Path)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output directory (default from config)")
	cmd.Flags().StringVar(&compression, "compression", "", "snappy | zstd | gzip | none")
	return cmd
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "stats TRACE",
		Short: "Print import counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadTrace(cmd.Context(), opts, args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "name\tvalue\tdescription")
			for _, e := range s.Stats().Snapshot() {
				if e.Value == 0 && !all {
					continue
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\n", e.Name, e.Value, e.Help)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include zero counters")
	return cmd
}

func newIntersectCmd(opts *rootOptions) *cobra.Command {
	var (
		tables, partitions, into string
		defs                     []string
	)
	cmd := &cobra.Command{
		Use:   "intersect TRACE",
		Short: "Intersect the intervals of several tables",
		Long: `Intersect the intervals of several tables. Each input needs id, ts and
ts_end columns (ts_end exclusive). Inputs can be defined inline with
--table name=SQL.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := loadTrace(ctx, opts, args[0])
			if err != nil {
				return err
			}
			defer s.Close()
			eng := s.Engine()

			for _, d := range defs {
				name, query, ok := strings.Cut(d, "=")
				if !ok || strings.TrimSpace(name) == "" {
					return errors.Newf("intersect: bad --table %q, want name=SQL", d)
				}
				if _, err := eng.CreateTableFromQuery(ctx, strings.TrimSpace(name), query); err != nil {
					return errors.Wrapf(err, "intersect: define %s", name)
				}
			}

			inputs := splitList(tables)
			if len(inputs) == 0 {
				return errors.New("intersect: --tables is required")
			}
			res, err := eng.IntersectTables(ctx, into, inputs, splitList(partitions))
			if err != nil {
				return err
			}
			return printTable(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&tables, "tables", "", "comma separated input tables")
	cmd.Flags().StringVar(&partitions, "partition", "", "comma separated partition columns")
	cmd.Flags().StringVar(&into, "into", "intersection", "name of the result table")
	cmd.Flags().StringArrayVar(&defs, "table", nil, "define an input as name=SQL (repeatable)")
	return cmd
}
