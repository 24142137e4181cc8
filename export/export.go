// Package export converts storage tables to Arrow records and writes them
// as Parquet files.
package export

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
	"github.com/cockroachdb/errors"

	"traceproc/storage"
)

// Options controls Parquet output.
type Options struct {
	Compression  string // snappy | zstd | gzip | none
	RowGroupSize int64
	Allocator    memory.Allocator
	Metadata     map[string]string
}

func (o Options) allocator() memory.Allocator {
	if o.Allocator == nil {
		return memory.DefaultAllocator
	}
	return o.Allocator
}

func (o Options) rowGroupSize() int64 {
	if o.RowGroupSize <= 0 {
		return parquet.DefaultMaxRowGroupLen
	}
	return o.RowGroupSize
}

// Result describes one written file.
type Result struct {
	Table string
	Path  string
	Rows  int64
	Bytes int64
}

// ════════════════════════════════ Arrow ═════════════════════════════════════

// Schema maps the table's columns to a nullable Arrow schema.
func Schema(t storage.Table, meta map[string]string) *arrow.Schema {
	cols := t.Columns()
	fields := make([]arrow.Field, len(cols))
	for i, c := range cols {
		fields[i] = arrow.Field{Name: c.Name, Type: arrowType(c.Type), Nullable: true}
	}
	keys := []string{"traceproc.table", "traceproc.rows"}
	vals := []string{t.Name(), strconv.Itoa(t.RowCount())}
	extra := make([]string, 0, len(meta))
	for k := range meta {
		extra = append(extra, k)
	}
	sort.Strings(extra)
	for _, k := range extra {
		keys = append(keys, "traceproc.user."+k)
		vals = append(vals, meta[k])
	}
	md := arrow.NewMetadata(keys, vals)
	return arrow.NewSchema(fields, &md)
}

func arrowType(c storage.ColumnType) arrow.DataType {
	switch c {
	case storage.Int64:
		return arrow.PrimitiveTypes.Int64
	case storage.Float64:
		return arrow.PrimitiveTypes.Float64
	default:
		return arrow.BinaryTypes.String
	}
}

// Record copies the whole table into one Arrow record. The caller releases
// it.
func Record(t storage.Table, mem memory.Allocator) arrow.Record {
	return recordOf(t, Schema(t, nil), mem)
}

func recordOf(t storage.Table, sc *arrow.Schema, mem memory.Allocator) arrow.Record {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	b := array.NewRecordBuilder(mem, sc)
	defer b.Release()

	rows := t.RowCount()
	for col, spec := range t.Columns() {
		fb := b.Field(col)
		fb.Reserve(rows)
		for row := 0; row < rows; row++ {
			appendValue(fb, spec.Type, t.Value(row, col))
		}
	}
	return b.NewRecord()
}

func appendValue(fb array.Builder, ct storage.ColumnType, v any) {
	if v == nil {
		fb.AppendNull()
		return
	}
	switch ct {
	case storage.Int64:
		n, ok := v.(int64)
		if !ok {
			fb.AppendNull()
			return
		}
		fb.(*array.Int64Builder).Append(n)
	case storage.Float64:
		switch x := v.(type) {
		case float64:
			fb.(*array.Float64Builder).Append(x)
		case int64:
			fb.(*array.Float64Builder).Append(float64(x))
		default:
			fb.AppendNull()
		}
	default:
		s, ok := v.(string)
		if !ok {
			fb.AppendNull()
			return
		}
		fb.(*array.StringBuilder).Append(s)
	}
}

// ═══════════════════════════════ Parquet ════════════════════════════════════

func codec(name string) (compress.Compression, error) {
	switch strings.ToLower(name) {
	case "snappy":
		return compress.Codecs.Snappy, nil
	case "zstd":
		return compress.Codecs.Zstd, nil
	case "gzip":
		return compress.Codecs.Gzip, nil
	case "", "none":
		return compress.Codecs.Uncompressed, nil
	}
	return compress.Codecs.Uncompressed, errors.Newf("export: unknown compression %q", name)
}

// WriteParquet writes t to path. The file is written next to path under a
// temporary name and renamed into place on success.
func WriteParquet(ctx context.Context, t storage.Table, path string, opts Options) (Result, error) {
	res := Result{Table: t.Name(), Path: path}
	cc, err := codec(opts.Compression)
	if err != nil {
		return res, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return res, errors.Wrap(err, "export: create directory")
	}

	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return res, errors.Wrap(err, "export: create temp file")
	}
	tmp := f.Name()
	committed := false
	defer func() {
		if !committed {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	mem := opts.allocator()
	sc := Schema(t, opts.Metadata)
	props := parquet.NewWriterProperties(
		parquet.WithCompression(cc),
		parquet.WithMaxRowGroupLength(opts.rowGroupSize()),
		parquet.WithAllocator(mem),
		parquet.WithCreatedBy("traceproc"),
	)
	w, err := pqarrow.NewFileWriter(sc, f, props,
		pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema(), pqarrow.WithAllocator(mem)))
	if err != nil {
		return res, errors.Wrap(err, "export: create parquet writer")
	}

	rec := recordOf(t, sc, mem)
	defer rec.Release()

	step := opts.rowGroupSize()
	for off := int64(0); off < rec.NumRows(); off += step {
		if err := ctx.Err(); err != nil {
			_ = w.Close()
			return res, err
		}
		part := rec.NewSlice(off, min(off+step, rec.NumRows()))
		err := w.Write(part)
		part.Release()
		if err != nil {
			_ = w.Close()
			return res, errors.Wrapf(err, "export: write %s", t.Name())
		}
	}
	if err := w.Close(); err != nil {
		return res, errors.Wrapf(err, "export: close %s", t.Name())
	}
	// The parquet writer closes its sink; a second close is harmless.
	_ = f.Close()

	if err := os.Rename(tmp, path); err != nil {
		return res, errors.Wrap(err, "export: rename into place")
	}
	committed = true

	res.Rows = rec.NumRows()
	if fi, err := os.Stat(path); err == nil {
		res.Bytes = fi.Size()
	}
	return res, nil
}

// WriteAll writes every registered table to dir/<name>.parquet, in name
// order.
func WriteAll(ctx context.Context, reg *storage.Registry, dir string, opts Options) ([]Result, error) {
	names := reg.Names()
	out := make([]Result, 0, len(names))
	for _, name := range names {
		t, ok := reg.Lookup(name)
		if !ok {
			continue
		}
		res, err := WriteParquet(ctx, t, filepath.Join(dir, name+".parquet"), opts)
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}
