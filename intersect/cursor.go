package intersect

import (
	"encoding/binary"
	"math"
	"runtime"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"

	"traceproc/intervaltree"
	"traceproc/storage"
)

const numExtra = ColMax - ColC0 + 1

// Source resolves table names. *storage.Registry implements it.
type Source interface {
	Lookup(name string) (storage.Table, bool)
}

type partitionKey [blake2b.Size256]byte

// Cursor evaluates one interval_intersect reference. Trees built in inner
// mode are kept until the table name or exposed columns change.
type Cursor struct {
	src  Source
	mode Mode

	table      storage.Table
	tableName  string
	exposedStr string
	tsCol      int
	tsEndCol   int
	idCol      int
	exposed    [numExtra]int // table column per cN, -1 when not exposed

	// outer
	row int

	// inner
	trees    map[partitionKey]*intervaltree.Tree
	treeCols []int
	partArgs [numExtra]any
	results  []intervaltree.Interval
	idx      int
}

// NewCursor creates a cursor reading tables from src.
func NewCursor(src Source) *Cursor {
	return &Cursor{src: src}
}

// Filter starts a scan. idxNum and idxStr come from the plan returned by
// BestIndex, args hold the values of the used constraints.
func (c *Cursor) Filter(idxNum int, idxStr string, args []any) error {
	cols, err := decodeArgColumns(idxStr)
	if err != nil {
		return err
	}
	if len(cols) != len(args) {
		return errors.Newf("interval_intersect operator: %d arguments for %d constraints", len(args), len(cols))
	}

	var tabArg, exposedArg, tsArg, tsEndArg any
	var partCols []int
	c.partArgs = [numExtra]any{}
	for i, col := range cols {
		v := normaliseArg(args[i])
		switch {
		case col == ColTab:
			tabArg = v
		case col == ColExposed:
			exposedArg = v
		case col == ColTs:
			tsArg = v
		case col == ColTsEnd:
			tsEndArg = v
		case col >= ColC0:
			partCols = append(partCols, col)
			c.partArgs[col-ColC0] = v
		}
	}

	name, ok := tabArg.(string)
	if !ok {
		return errors.New("interval_intersect operator: table name is not a string")
	}
	exposedStr := ""
	if exposedArg != nil {
		if exposedStr, ok = exposedArg.(string); !ok {
			return errors.New("interval_intersect operator: exposed columns is not a string")
		}
	}

	if name != c.tableName || exposedStr != c.exposedStr {
		c.trees = nil
		c.treeCols = nil
	}
	if err := c.bind(name, exposedStr); err != nil {
		return err
	}

	c.mode = Mode(idxNum)
	switch c.mode {
	case ModeOuter:
		c.row = 0
		return nil
	case ModeInner:
		return c.probe(partCols, tsArg, tsEndArg)
	}
	return errors.Newf("interval_intersect operator: unknown mode %d", idxNum)
}

// bind resolves the table and its columns.
func (c *Cursor) bind(name, exposedStr string) error {
	t, ok := c.src.Lookup(name)
	if !ok {
		return errors.Newf("interval_intersect operator: table '%s' not found", name)
	}
	var err error
	if c.tsCol, err = columnIndex(t, "ts", name); err != nil {
		return err
	}
	if c.tsEndCol, err = columnIndex(t, "ts_end", name); err != nil {
		return err
	}
	if c.idCol, err = columnIndex(t, "id", name); err != nil {
		return err
	}
	exposed, err := parseExposed(t, exposedStr)
	if err != nil {
		return err
	}
	c.table, c.tableName, c.exposedStr, c.exposed = t, name, exposedStr, exposed
	return nil
}

func columnIndex(t storage.Table, col, table string) (int, error) {
	i, ok := t.ColumnIndex(col)
	if !ok {
		return 0, errors.Newf("interval_intersect: No column '%s' in table '%s'", col, table)
	}
	return i, nil
}

// parseExposed maps a comma separated list of table columns to c0, c1, ...
// in order.
func parseExposed(t storage.Table, s string) ([numExtra]int, error) {
	var out [numExtra]int
	for i := range out {
		out[i] = -1
	}
	if strings.TrimSpace(s) == "" {
		return out, nil
	}
	names := strings.Split(s, ",")
	if len(names) > numExtra {
		return out, errors.Newf("interval_intersect operator: at most %d exposed columns, got %d", numExtra, len(names))
	}
	for i, n := range names {
		n = strings.TrimSpace(n)
		col, ok := t.ColumnIndex(n)
		if !ok {
			return out, errors.Newf("interval_intersect operator: didn't find column '%s'", n)
		}
		out[i] = col
	}
	return out, nil
}

// ───────────────────────────────── Inner ───────────────────────────────────

func (c *Cursor) probe(partCols []int, tsArg, tsEndArg any) error {
	slices.Sort(partCols)
	for _, pc := range partCols {
		if c.exposed[pc-ColC0] < 0 {
			return errors.Newf("interval_intersect operator: column c%d is not exposed", pc-ColC0)
		}
	}
	if c.trees == nil || !slices.Equal(c.treeCols, partCols) {
		c.trees = c.buildTrees(partCols)
		c.treeCols = partCols
	}

	ts, ok := tsArg.(int64)
	if !ok {
		return errors.New("interval_intersect operator: `ts` constraint has to be a number")
	}
	tsEnd, ok := tsEndArg.(int64)
	if !ok {
		return errors.New("interval_intersect operator: `ts_end` constraint has to be a number")
	}

	// ts < probe.ts_end AND ts_end > probe.ts
	start, end := tsKey(tsEnd), tsKey(ts)

	var h hasher
	for _, pc := range partCols {
		h.add(c.partArgs[pc-ColC0])
	}
	c.results = c.results[:0]
	if tree, ok := c.trees[h.sum()]; ok {
		c.results = tree.AppendOverlaps(c.results, start, end)
	}
	c.idx = 0
	return nil
}

func (c *Cursor) buildTrees(partCols []int) map[partitionKey]*intervaltree.Tree {
	groups := make(map[partitionKey][]intervaltree.Interval)
	var order []partitionKey
	for row := 0; row < c.table.RowCount(); row++ {
		iv, ok := rowInterval(c.table, row, c.tsCol, c.tsEndCol, c.idCol)
		if !ok {
			continue
		}
		var h hasher
		for _, pc := range partCols {
			h.add(c.table.Value(row, c.exposed[pc-ColC0]))
		}
		k := h.sum()
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], iv)
	}

	built := make([]*intervaltree.Tree, len(order))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, k := range order {
		i, ivs := i, groups[k]
		g.Go(func() error {
			sortByStart(ivs)
			built[i] = intervaltree.Build(ivs)
			return nil
		})
	}
	_ = g.Wait()

	trees := make(map[partitionKey]*intervaltree.Tree, len(order))
	for i, k := range order {
		trees[k] = built[i]
	}
	return trees
}

// ───────────────────────────── Row access ──────────────────────────────────

// Next advances the scan.
func (c *Cursor) Next() {
	if c.mode == ModeInner {
		c.idx++
		return
	}
	c.row++
}

// EOF reports whether the scan is exhausted.
func (c *Cursor) EOF() bool {
	if c.mode == ModeInner {
		return c.idx >= len(c.results)
	}
	return c.table == nil || c.row >= c.table.RowCount()
}

// Column returns the value of col for the current row.
func (c *Cursor) Column(col int) (any, error) {
	if col == ColTab || col == ColExposed || col < 0 || col > ColMax {
		return nil, errors.New("interval_intersect operator: invalid column")
	}
	if c.mode == ModeInner {
		iv := c.results[c.idx]
		switch col {
		case ColTs:
			return tsOf(iv.Start), nil
		case ColTsEnd:
			return tsOf(iv.End), nil
		case ColID:
			return int64(iv.ID), nil
		}
		return c.partArgs[col-ColC0], nil
	}

	switch col {
	case ColTs:
		return c.table.Value(c.row, c.tsCol), nil
	case ColTsEnd:
		return c.table.Value(c.row, c.tsEndCol), nil
	case ColID:
		return c.table.Value(c.row, c.idCol), nil
	}
	if tc := c.exposed[col-ColC0]; tc >= 0 {
		return c.table.Value(c.row, tc), nil
	}
	return nil, nil
}

// Rowid returns the position of the current row in the scan.
func (c *Cursor) Rowid() int64 {
	if c.mode == ModeInner {
		return int64(c.idx)
	}
	return int64(c.row)
}

// Mode returns the mode of the last Filter.
func (c *Cursor) Mode() Mode { return c.mode }

// ─────────────────────────────── Helpers ───────────────────────────────────

// normaliseArg folds engine argument encodings: blobs become strings and a
// nil blob is SQL NULL.
func normaliseArg(v any) any {
	switch x := v.(type) {
	case []byte:
		if x == nil {
			return nil
		}
		return string(x)
	case int:
		return int64(x)
	}
	return v
}

func rowInterval(t storage.Table, row, tsCol, tsEndCol, idCol int) (intervaltree.Interval, bool) {
	ts, ok1 := t.Value(row, tsCol).(int64)
	tsEnd, ok2 := t.Value(row, tsEndCol).(int64)
	id, ok3 := t.Value(row, idCol).(int64)
	if !ok1 || !ok2 || !ok3 {
		return intervaltree.Interval{}, false
	}
	return intervaltree.Interval{Start: tsKey(ts), End: tsKey(tsEnd), ID: uint32(id)}, true
}

// tsKey maps a timestamp onto the tree's unsigned axis keeping the order of
// negative values.
func tsKey(ts int64) uint64 { return uint64(ts) ^ 1<<63 }

func tsOf(k uint64) int64 { return int64(k ^ 1<<63) }

func sortByStart(ivs []intervaltree.Interval) {
	slices.SortStableFunc(ivs, func(a, b intervaltree.Interval) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		}
		return 0
	})
}

// hasher digests a tuple of partition values.
type hasher struct {
	buf []byte
}

func (h *hasher) add(v any) {
	switch x := v.(type) {
	case nil:
		h.buf = append(h.buf, 0)
	case int64:
		h.buf = append(h.buf, 1)
		h.buf = binary.LittleEndian.AppendUint64(h.buf, uint64(x))
	case float64:
		h.buf = append(h.buf, 2)
		h.buf = binary.LittleEndian.AppendUint64(h.buf, math.Float64bits(x))
	case string:
		h.buf = append(h.buf, 3)
		h.buf = binary.LittleEndian.AppendUint64(h.buf, uint64(len(x)))
		h.buf = append(h.buf, x...)
	default:
		panic(errors.AssertionFailedf("intersect: cannot partition on %T", v))
	}
}

func (h *hasher) sum() partitionKey { return blake2b.Sum256(h.buf) }
