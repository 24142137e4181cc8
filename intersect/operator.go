// Package intersect implements the interval_intersect table operator: an
// interval join between two tables pushed down from SQL.
//
// The planner puts the larger, static side of the join in the "inner" role:
// the operator builds interval trees over it once and probes them per outer
// row. The "outer" role streams the rows of a table unchanged. Both roles
// enumerate the same overlap relation.
//
// The operator is engine-agnostic; sqlengine adapts it to SQLite's virtual
// table interface.
package intersect

import (
	"math"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// Schema is the declared shape of the virtual table.
const Schema = `CREATE TABLE x(
	tab TEXT HIDDEN,
	exposed_cols_str TEXT HIDDEN,
	ts BIGINT,
	ts_end BIGINT,
	id BIGINT,
	c0 ANY, c1 ANY, c2 ANY, c3 ANY, c4 ANY, c5 ANY, c6 ANY, c7 ANY, c8 ANY
)`

// Column ids of Schema.
const (
	ColTab     = 0
	ColExposed = 1
	ColTs      = 2
	ColTsEnd   = 3
	ColID      = 4
	ColC0      = 5
	ColMax     = 13
)

// Mode is the access pattern chosen by BestIndex.
type Mode int

const (
	// ModeOuter streams table rows.
	ModeOuter Mode = iota + 1
	// ModeInner probes interval trees built over the table.
	ModeInner
)

func (m Mode) String() string {
	switch m {
	case ModeOuter:
		return "outer"
	case ModeInner:
		return "inner"
	}
	return "unknown"
}

// Op is a constraint operator.
type Op uint8

const (
	OpOther Op = iota
	OpEQ
	OpLT
	OpLE
	OpGT
	OpGE
)

// Constraint is one WHERE term offered by the planner.
type Constraint struct {
	Column int
	Op     Op
	Usable bool
}

// IndexPlan is the answer to BestIndex. Used has one entry per constraint;
// arguments reach Filter in the order of the used constraints.
type IndexPlan struct {
	Mode          Mode
	Used          []bool
	IdxStr        string
	EstimatedCost float64
	EstimatedRows float64
}

var (
	errNoTableConstraint = errors.New("interval_intersect operator: table name constraint is required")
	errTsOp              = errors.New("interval_intersect operator: `ts` columns has wrong operation")
	errTsEndOp           = errors.New("interval_intersect operator: `ts_end` columns has wrong operation")
	errPartitionOp       = errors.New("interval_intersect operator: partition columns require equality")
)

// BestIndex picks the access mode for cs. rows estimates the size of the
// table behind the operator; the table name itself is not visible at plan
// time.
func BestIndex(cs []Constraint, rows int) (*IndexPlan, error) {
	plan := &IndexPlan{Used: make([]bool, len(cs)), EstimatedRows: float64(max(rows, 1))}

	tab, exposed := -1, -1
	ts, tsEnd := -1, -1
	badTs, badTsEnd := false, false
	for i, c := range cs {
		if !c.Usable {
			continue
		}
		switch c.Column {
		case ColTab:
			if c.Op == OpEQ && tab < 0 {
				tab = i
			}
		case ColExposed:
			if c.Op == OpEQ && exposed < 0 {
				exposed = i
			}
		case ColTs:
			if c.Op != OpLT {
				badTs = true
			} else if ts < 0 {
				ts = i
			}
		case ColTsEnd:
			if c.Op != OpGT {
				badTsEnd = true
			} else if tsEnd < 0 {
				tsEnd = i
			}
		}
	}
	if tab < 0 {
		return nil, errNoTableConstraint
	}
	if ts < 0 && badTs {
		return nil, errTsOp
	}
	if tsEnd < 0 && badTsEnd {
		return nil, errTsEndOp
	}

	use := func(i int) { plan.Used[i] = true }
	use(tab)
	if exposed >= 0 {
		use(exposed)
	}

	if ts < 0 || tsEnd < 0 {
		plan.Mode = ModeOuter
		plan.EstimatedCost = plan.EstimatedRows
		plan.IdxStr = encodeArgColumns(cs, plan.Used)
		return plan, nil
	}

	use(ts)
	use(tsEnd)
	seen := [ColMax + 1]bool{}
	for i, c := range cs {
		if !c.Usable || c.Column < ColC0 || c.Column > ColMax || seen[c.Column] {
			continue
		}
		if c.Op != OpEQ {
			return nil, errPartitionOp
		}
		seen[c.Column] = true
		use(i)
	}

	plan.Mode = ModeInner
	plan.EstimatedCost = max(math.Log2(plan.EstimatedRows), 1)
	plan.IdxStr = encodeArgColumns(cs, plan.Used)
	return plan, nil
}

// encodeArgColumns lists the column of every used constraint in constraint
// order, which is the order the engine passes their values to Filter.
func encodeArgColumns(cs []Constraint, used []bool) string {
	var b strings.Builder
	for i, c := range cs {
		if !used[i] {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(c.Column))
	}
	return b.String()
}

func decodeArgColumns(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, len(parts))
	for i, p := range parts {
		c, err := strconv.Atoi(p)
		if err != nil || c < 0 || c > ColMax {
			return nil, errors.Newf("interval_intersect operator: bad index string %q", s)
		}
		out[i] = c
	}
	return out, nil
}
