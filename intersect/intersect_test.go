package intersect

import (
	"context"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"traceproc/intervaltree"
	"traceproc/storage"
)

// row is id, ts, ts_end, cpu.
type row [4]int64

func intervalTable(t *testing.T, name string, rows ...row) *storage.RuntimeTable {
	t.Helper()
	rt := storage.NewRuntimeTable(name, []storage.ColumnSpec{
		{Name: "id", Type: storage.Int64},
		{Name: "ts", Type: storage.Int64},
		{Name: "ts_end", Type: storage.Int64},
		{Name: "cpu", Type: storage.Int64},
	})
	for _, r := range rows {
		require.NoError(t, rt.AddRow(r[0], r[1], r[2], r[3]))
	}
	return rt
}

func registry(t *testing.T, tables ...storage.Table) *storage.Registry {
	t.Helper()
	reg := storage.NewRegistry()
	for _, tb := range tables {
		require.NoError(t, reg.Register(tb))
	}
	return reg
}

func innerConstraints() []Constraint {
	return []Constraint{
		{Column: ColTab, Op: OpEQ, Usable: true},
		{Column: ColExposed, Op: OpEQ, Usable: true},
		{Column: ColTs, Op: OpLT, Usable: true},
		{Column: ColTsEnd, Op: OpGT, Usable: true},
	}
}

func collectIDs(t *testing.T, c *Cursor) []int64 {
	t.Helper()
	var ids []int64
	for ; !c.EOF(); c.Next() {
		v, err := c.Column(ColID)
		require.NoError(t, err)
		ids = append(ids, v.(int64))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// -----------------------------------------------------------------------------
// ░░ BestIndex ░░
// -----------------------------------------------------------------------------

func TestBestIndexRequiresTable(t *testing.T) {
	_, err := BestIndex([]Constraint{{Column: ColTs, Op: OpLT, Usable: true}}, 10)
	require.EqualError(t, err, "interval_intersect operator: table name constraint is required")

	_, err = BestIndex([]Constraint{{Column: ColTab, Op: OpEQ, Usable: false}}, 10)
	require.Error(t, err)
}

func TestBestIndexOuter(t *testing.T) {
	cs := []Constraint{
		{Column: ColTab, Op: OpEQ, Usable: true},
		{Column: ColExposed, Op: OpEQ, Usable: true},
		{Column: ColTs, Op: OpLT, Usable: false},
		{Column: ColTsEnd, Op: OpGT, Usable: true},
	}
	plan, err := BestIndex(cs, 1000)
	require.NoError(t, err)
	require.Equal(t, ModeOuter, plan.Mode)
	require.Equal(t, []bool{true, true, false, false}, plan.Used)
	require.Equal(t, "0,1", plan.IdxStr)
	require.Equal(t, 1000.0, plan.EstimatedCost)
}

func TestBestIndexInner(t *testing.T) {
	cs := append(innerConstraints(),
		Constraint{Column: ColC0 + 2, Op: OpEQ, Usable: true},
		Constraint{Column: ColID, Op: OpEQ, Usable: true},
	)
	plan, err := BestIndex(cs, 1024)
	require.NoError(t, err)
	require.Equal(t, ModeInner, plan.Mode)
	require.Equal(t, []bool{true, true, true, true, true, false}, plan.Used)
	require.Equal(t, "0,1,2,3,7", plan.IdxStr)
	require.Equal(t, 10.0, plan.EstimatedCost)
}

func TestBestIndexWrongOperators(t *testing.T) {
	cs := innerConstraints()
	cs[2].Op = OpGT
	_, err := BestIndex(cs, 10)
	require.EqualError(t, err, "interval_intersect operator: `ts` columns has wrong operation")

	cs = innerConstraints()
	cs[3].Op = OpGE
	_, err = BestIndex(cs, 10)
	require.EqualError(t, err, "interval_intersect operator: `ts_end` columns has wrong operation")

	cs = append(innerConstraints(), Constraint{Column: ColC0, Op: OpLT, Usable: true})
	_, err = BestIndex(cs, 10)
	require.Error(t, err)

	// A lone bound with the wrong operator is reported, not scanned.
	cs = []Constraint{
		{Column: ColTab, Op: OpEQ, Usable: true},
		{Column: ColTs, Op: OpGE, Usable: true},
	}
	_, err = BestIndex(cs, 10)
	require.EqualError(t, err, "interval_intersect operator: `ts` columns has wrong operation")

	cs = []Constraint{
		{Column: ColTab, Op: OpEQ, Usable: true},
		{Column: ColTsEnd, Op: OpLE, Usable: true},
	}
	_, err = BestIndex(cs, 10)
	require.EqualError(t, err, "interval_intersect operator: `ts_end` columns has wrong operation")

	// An extra bound is left to the engine when a correct one exists.
	cs = append(innerConstraints(), Constraint{Column: ColTs, Op: OpGT, Usable: true})
	plan, err := BestIndex(cs, 10)
	require.NoError(t, err)
	require.Equal(t, ModeInner, plan.Mode)
	require.False(t, plan.Used[4])
}

// -----------------------------------------------------------------------------
// ░░ Cursor ░░
// -----------------------------------------------------------------------------

func TestOuterStreamsRows(t *testing.T) {
	reg := registry(t, intervalTable(t, "a", row{0, 0, 10, 1}, row{1, 5, 20, 2}))
	c := NewCursor(reg)
	require.NoError(t, c.Filter(int(ModeOuter), "0,1", []any{"a", "cpu"}))
	require.Equal(t, ModeOuter, c.Mode())

	var got [][4]any
	for ; !c.EOF(); c.Next() {
		var r [4]any
		for i, col := range []int{ColID, ColTs, ColTsEnd, ColC0} {
			v, err := c.Column(col)
			require.NoError(t, err)
			r[i] = v
		}
		got = append(got, r)
		v, err := c.Column(ColC0 + 1)
		require.NoError(t, err)
		require.Nil(t, v)
	}
	require.Equal(t, [][4]any{
		{int64(0), int64(0), int64(10), int64(1)},
		{int64(1), int64(5), int64(20), int64(2)},
	}, got)

	_, err := c.Column(ColTab)
	require.EqualError(t, err, "interval_intersect operator: invalid column")
}

func TestInnerProbe(t *testing.T) {
	reg := registry(t, intervalTable(t, "a",
		row{0, 0, 10, 0}, row{1, 5, 20, 0}, row{2, 30, 40, 0}))
	c := NewCursor(reg)

	// probe [4, 30)
	require.NoError(t, c.Filter(int(ModeInner), "0,1,2,3", []any{"a", nil, int64(30), int64(4)}))
	require.Equal(t, []int64{0, 1}, collectIDs(t, c))

	// probe [20, 20) only touches endpoints
	require.NoError(t, c.Filter(int(ModeInner), "0,1,2,3", []any{"a", nil, int64(20), int64(20)}))
	require.Empty(t, collectIDs(t, c))

	// probe [12, 12) lies strictly inside id 1
	require.NoError(t, c.Filter(int(ModeInner), "0,1,2,3", []any{"a", nil, int64(12), int64(12)}))
	require.Equal(t, []int64{1}, collectIDs(t, c))
}

func TestInnerNegativeBounds(t *testing.T) {
	reg := registry(t, intervalTable(t, "a",
		row{0, 0, 10, 0}, row{1, -20, -5, 0}, row{2, -3, 2, 0}))
	c := NewCursor(reg)

	// ts < 100 AND ts_end > -5
	require.NoError(t, c.Filter(int(ModeInner), "0,1,2,3", []any{"a", nil, int64(100), int64(-5)}))
	require.Equal(t, []int64{0, 2}, collectIDs(t, c))

	// probe [-30, -10)
	require.NoError(t, c.Filter(int(ModeInner), "0,1,2,3", []any{"a", nil, int64(-10), int64(-30)}))
	ts, err := c.Column(ColTs)
	require.NoError(t, err)
	require.Equal(t, int64(-20), ts)
	require.Equal(t, []int64{1}, collectIDs(t, c))
}

func TestInnerPartitioned(t *testing.T) {
	reg := registry(t, intervalTable(t, "a",
		row{0, 0, 100, 1}, row{1, 0, 100, 2}, row{2, 50, 60, 1}))
	c := NewCursor(reg)

	require.NoError(t, c.Filter(int(ModeInner), "0,1,2,3,5", []any{"a", "cpu", int64(70), int64(40), int64(1)}))
	require.Equal(t, []int64{0, 2}, collectIDs(t, c))

	require.NoError(t, c.Filter(int(ModeInner), "0,1,2,3,5", []any{"a", "cpu", int64(70), int64(40), int64(2)}))
	require.Equal(t, []int64{1}, collectIDs(t, c))

	require.NoError(t, c.Filter(int(ModeInner), "0,1,2,3,5", []any{"a", "cpu", int64(70), int64(40), int64(3)}))
	require.Empty(t, collectIDs(t, c))

	// Same table without partitioning sees every row.
	require.NoError(t, c.Filter(int(ModeInner), "0,1,2,3", []any{"a", "cpu", int64(70), int64(40)}))
	require.Equal(t, []int64{0, 1, 2}, collectIDs(t, c))
}

func TestCursorErrors(t *testing.T) {
	noTs := storage.NewRuntimeTable("bad", []storage.ColumnSpec{{Name: "id", Type: storage.Int64}})
	reg := registry(t, intervalTable(t, "a", row{0, 0, 10, 0}), noTs)
	c := NewCursor(reg)

	err := c.Filter(int(ModeOuter), "0", []any{"missing"})
	require.EqualError(t, err, "interval_intersect operator: table 'missing' not found")

	err = c.Filter(int(ModeOuter), "0", []any{"bad"})
	require.EqualError(t, err, "interval_intersect: No column 'ts' in table 'bad'")

	err = c.Filter(int(ModeOuter), "0", []any{int64(3)})
	require.Error(t, err)

	err = c.Filter(int(ModeOuter), "0,1", []any{"a", "nope"})
	require.EqualError(t, err, "interval_intersect operator: didn't find column 'nope'")

	err = c.Filter(int(ModeInner), "0,1,2,3", []any{"a", nil, "x", int64(0)})
	require.EqualError(t, err, "interval_intersect operator: `ts` constraint has to be a number")

	err = c.Filter(int(ModeInner), "0,1,2,3,5", []any{"a", nil, int64(1), int64(0), int64(0)})
	require.Error(t, err, "partition column must be exposed")
}

// Both roles enumerate the same relation: probing the inner trees with every
// row of b equals filtering an outer scan of a.
func TestInnerMatchesOuter(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	var aRows, bRows []row
	for i := 0; i < 300; i++ {
		s := rng.Int63n(10_000)
		aRows = append(aRows, row{int64(i), s, s + rng.Int63n(500), rng.Int63n(3)})
	}
	for i := 0; i < 100; i++ {
		s := rng.Int63n(10_000)
		bRows = append(bRows, row{int64(i), s, s + 1 + rng.Int63n(300), rng.Int63n(3)})
	}
	reg := registry(t, intervalTable(t, "a", aRows...))

	inner := NewCursor(reg)
	outer := NewCursor(reg)
	for _, b := range bRows {
		require.NoError(t, inner.Filter(int(ModeInner), "0,1,2,3,5", []any{"a", "cpu", b[2], b[1], b[3]}))
		got := collectIDs(t, inner)

		require.NoError(t, outer.Filter(int(ModeOuter), "0,1", []any{"a", "cpu"}))
		var want []int64
		for ; !outer.EOF(); outer.Next() {
			ts, _ := outer.Column(ColTs)
			end, _ := outer.Column(ColTsEnd)
			cpu, _ := outer.Column(ColC0)
			id, _ := outer.Column(ColID)
			if ts.(int64) < b[2] && end.(int64) > b[1] && cpu.(int64) == b[3] {
				want = append(want, id.(int64))
			}
		}
		sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })
		require.Equal(t, want, got, "probe %v", b)
	}
}

// -----------------------------------------------------------------------------
// ░░ Intersector and IntersectAll ░░
// -----------------------------------------------------------------------------

func TestStrategiesAgree(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	var overlapping, disjoint []intervaltree.Interval
	pos := uint64(0)
	for i := 0; i < 400; i++ {
		s := uint64(rng.Int63n(20_000))
		overlapping = append(overlapping, intervaltree.Interval{Start: s, End: s + uint64(rng.Int63n(800)), ID: uint32(i)})
		pos += uint64(rng.Int63n(50))
		w := uint64(rng.Int63n(40))
		disjoint = append(disjoint, intervaltree.Interval{Start: pos, End: pos + w, ID: uint32(i)})
		pos += w
	}
	sortByStart(overlapping)
	require.False(t, nonOverlapping(overlapping))
	require.True(t, nonOverlapping(disjoint))

	naive := NewIntersector(overlapping, StrategyNaive)
	tree := NewIntersector(overlapping, StrategyTree)
	dNaive := NewIntersector(disjoint, StrategyNaive)
	dBinary := NewIntersector(disjoint, StrategyBinarySearch)
	for i := 0; i < 300; i++ {
		s := uint64(rng.Int63n(22_000))
		e := s + uint64(rng.Int63n(2_000))
		require.ElementsMatch(t, naive.AppendOverlaps(nil, s, e), tree.AppendOverlaps(nil, s, e))
		require.Equal(t, dNaive.AppendOverlaps(nil, s, e), dBinary.AppendOverlaps(nil, s, e))
	}
}

func TestDecideStrategy(t *testing.T) {
	require.Equal(t, StrategyBinarySearch, DecideStrategy(true, 1_000_000))
	require.Equal(t, StrategyNaive, DecideStrategy(false, 3))
	require.Equal(t, StrategyTree, DecideStrategy(false, 1_000))
}

func TestIntersectAllClipsToCommonRange(t *testing.T) {
	a := intervalTable(t, "a", row{0, 0, 10, 1}, row{1, 20, 30, 1})
	b := intervalTable(t, "b", row{7, 5, 25, 1})

	out, err := IntersectAll(context.Background(), []storage.Table{a, b}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, out.RowCount())

	var got [][4]any
	for r := 0; r < out.RowCount(); r++ {
		got = append(got, [4]any{out.Value(r, 0), out.Value(r, 1), out.Value(r, 2), out.Value(r, 3)})
	}
	require.Equal(t, [][4]any{
		{int64(5), int64(5), int64(0), int64(7)},
		{int64(20), int64(5), int64(1), int64(7)},
	}, got)
}

func TestIntersectAllNegativeTimestamps(t *testing.T) {
	a := intervalTable(t, "a", row{0, -10, 10, 1})
	b := intervalTable(t, "b", row{3, -20, -4, 1})

	out, err := IntersectAll(context.Background(), []storage.Table{a, b}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, out.RowCount())
	require.Equal(t, int64(-10), out.Value(0, 0))
	require.Equal(t, int64(6), out.Value(0, 1))
}

func TestIntersectAllPartitions(t *testing.T) {
	a := intervalTable(t, "a", row{0, 0, 100, 1}, row{1, 0, 100, 2})
	b := intervalTable(t, "b", row{0, 10, 20, 2}, row{1, 30, 40, 3})
	c := intervalTable(t, "c", row{5, 15, 50, 2})

	out, err := IntersectAll(context.Background(), []storage.Table{a, b, c}, []string{"cpu"})
	require.NoError(t, err)
	names := []string{}
	for _, cs := range out.Columns() {
		names = append(names, cs.Name)
	}
	require.Equal(t, []string{"ts", "dur", "id_0", "id_1", "id_2", "cpu"}, names)
	require.Equal(t, 1, out.RowCount())
	require.Equal(t, int64(15), out.Value(0, 0))
	require.Equal(t, int64(5), out.Value(0, 1))
	require.Equal(t, int64(1), out.Value(0, 2))
	require.Equal(t, int64(0), out.Value(0, 3))
	require.Equal(t, int64(5), out.Value(0, 4))
	require.Equal(t, int64(2), out.Value(0, 5))
}

func TestIntersectAllEdgeCases(t *testing.T) {
	a := intervalTable(t, "a", row{0, 0, 10, 1})
	empty := intervalTable(t, "e")

	out, err := IntersectAll(context.Background(), []storage.Table{a, empty}, nil)
	require.NoError(t, err)
	require.Zero(t, out.RowCount())

	_, err = IntersectAll(context.Background(), []storage.Table{a, a, a, a, a, a}, nil)
	require.Error(t, err)

	_, err = IntersectAll(context.Background(), []storage.Table{a}, []string{"a", "b", "c", "d", "e"})
	require.Error(t, err)

	_, err = IntersectAll(context.Background(), []storage.Table{a}, []string{"nope"})
	require.EqualError(t, err, "interval_intersect: No column 'nope' in table 'a'")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = IntersectAll(ctx, []storage.Table{a, a}, nil)
	require.ErrorIs(t, err, context.Canceled)
}
