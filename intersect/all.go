package intersect

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"

	"traceproc/intervaltree"
	"traceproc/storage"
)

const (
	maxIntersectTables     = 5
	maxIntersectPartitions = 4
)

type partition struct {
	values         []any
	ivs            []intervaltree.Interval
	nonOverlapping bool
}

type partitionedTable struct {
	parts map[partitionKey]*partition
	order []partitionKey
}

// IntersectAll intersects the intervals of every table, matching rows only
// within equal values of partitionCols. Each output row is one maximal
// common sub-interval: ts, dur, the id of the contributing row of each table
// (id_0, id_1, ...) and the partition values.
func IntersectAll(ctx context.Context, tables []storage.Table, partitionCols []string) (*storage.RuntimeTable, error) {
	if len(tables) == 0 {
		return nil, errors.New("interval intersect: no tables")
	}
	if len(tables) > maxIntersectTables {
		return nil, errors.Newf("interval intersect: Can intersect at most %d tables", maxIntersectTables)
	}
	var parts []string
	for _, p := range partitionCols {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) > maxIntersectPartitions {
		return nil, errors.Newf("interval intersect: Can take at most %d partitions.", maxIntersectPartitions)
	}

	specs := []storage.ColumnSpec{{Name: "ts", Type: storage.Int64}, {Name: "dur", Type: storage.Int64}}
	for i := range tables {
		specs = append(specs, storage.ColumnSpec{Name: fmt.Sprintf("id_%d", i), Type: storage.Int64})
	}
	for _, p := range parts {
		col, ok := tables[0].ColumnIndex(p)
		if !ok {
			return nil, errors.Newf("interval_intersect: No column '%s' in table '%s'", p, tables[0].Name())
		}
		specs = append(specs, storage.ColumnSpec{Name: p, Type: tables[0].Columns()[col].Type})
	}
	out := storage.NewRuntimeTable("interval_intersect", specs)

	pts := make([]*partitionedTable, len(tables))
	for i, t := range tables {
		pt, err := partitionTable(t, parts)
		if err != nil {
			return nil, err
		}
		if len(pt.order) == 0 {
			return out, nil
		}
		pts[i] = pt
	}

	// Walk the partitions of the table that has the fewest.
	least := pts[0]
	for _, pt := range pts[1:] {
		if len(pt.order) < len(least.order) {
			least = pt
		}
	}

	inPart := make([]*partition, len(pts))
	for _, k := range least.order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		all := true
		for i, pt := range pts {
			p, ok := pt.parts[k]
			if !ok {
				all = false
				break
			}
			inPart[i] = p
		}
		if !all {
			continue
		}
		if err := pushPartition(out, inPart); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func partitionTable(t storage.Table, parts []string) (*partitionedTable, error) {
	name := t.Name()
	tsCol, err := columnIndex(t, "ts", name)
	if err != nil {
		return nil, err
	}
	tsEndCol, err := columnIndex(t, "ts_end", name)
	if err != nil {
		return nil, err
	}
	idCol, err := columnIndex(t, "id", name)
	if err != nil {
		return nil, err
	}
	partCols := make([]int, len(parts))
	for i, p := range parts {
		if partCols[i], err = columnIndex(t, p, name); err != nil {
			return nil, err
		}
	}

	pt := &partitionedTable{parts: make(map[partitionKey]*partition)}
	for row := 0; row < t.RowCount(); row++ {
		iv, ok := rowInterval(t, row, tsCol, tsEndCol, idCol)
		if !ok {
			continue
		}
		var h hasher
		vals := make([]any, len(partCols))
		for i, pc := range partCols {
			vals[i] = t.Value(row, pc)
			h.add(vals[i])
		}
		k := h.sum()
		p, ok := pt.parts[k]
		if !ok {
			p = &partition{values: vals}
			pt.parts[k] = p
			pt.order = append(pt.order, k)
		}
		p.ivs = append(p.ivs, iv)
	}
	for _, p := range pt.parts {
		sortByStart(p.ivs)
		p.nonOverlapping = nonOverlapping(p.ivs)
	}
	return pt, nil
}

type multiInterval struct {
	start, end uint64
	ids        []int64
}

// pushPartition intersects one partition across all tables, smallest set
// first, and appends the result rows to out.
func pushPartition(out *storage.RuntimeTable, inTable []*partition) error {
	n := len(inTable)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int { return len(inTable[a].ivs) - len(inTable[b].ivs) })

	first := order[0]
	results := make([]multiInterval, 0, len(inTable[first].ivs))
	for _, iv := range inTable[first].ivs {
		ids := make([]int64, n)
		ids[first] = int64(iv.ID)
		results = append(results, multiInterval{start: iv.Start, end: iv.End, ids: ids})
	}

	var overlaps []intervaltree.Interval
	for _, ti := range order[1:] {
		if len(results) == 0 {
			break
		}
		p := inTable[ti]
		x := NewIntersector(p.ivs, DecideStrategy(p.nonOverlapping, len(results)))
		next := make([]multiInterval, 0, len(results))
		for _, r := range results {
			overlaps = x.AppendOverlaps(overlaps[:0], r.start, r.end)
			for _, o := range overlaps {
				ids := slices.Clone(r.ids)
				ids[ti] = int64(o.ID)
				next = append(next, multiInterval{start: o.Start, end: o.End, ids: ids})
			}
		}
		results = next
	}

	vals := inTable[0].values
	row := make([]any, 0, 2+n+len(vals))
	for _, r := range results {
		row = row[:0]
		start := tsOf(r.start)
		row = append(row, start, tsOf(r.end)-start)
		for _, id := range r.ids {
			row = append(row, id)
		}
		row = append(row, vals...)
		if err := out.AddRow(row...); err != nil {
			return err
		}
	}
	return nil
}
