package storage

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ColumnType is the storage class of a column.
type ColumnType uint8

const (
	Int64 ColumnType = iota
	Float64
	String
)

// SQLType returns the SQLite declared type.
func (c ColumnType) SQLType() string {
	switch c {
	case Int64:
		return "INTEGER"
	case Float64:
		return "REAL"
	default:
		return "TEXT"
	}
}

func (c ColumnType) String() string {
	switch c {
	case Int64:
		return "int64"
	case Float64:
		return "float64"
	default:
		return "string"
	}
}

// ColumnSpec describes one column.
type ColumnSpec struct {
	Name string
	Type ColumnType
}

// Table is a read-only columnar view. Value returns int64, float64, string
// or nil for a null cell.
type Table interface {
	Name() string
	Columns() []ColumnSpec
	ColumnIndex(name string) (int, bool)
	RowCount() int
	Value(row, col int) any
}

// schema implements the descriptive half of Table.
type schema struct {
	name  string
	cols  []ColumnSpec
	index map[string]int
}

func newSchema(name string, cols ...ColumnSpec) schema {
	idx := make(map[string]int, len(cols))
	for i, c := range cols {
		idx[c.Name] = i
	}
	return schema{name: name, cols: cols, index: idx}
}

func (s *schema) Name() string          { return s.name }
func (s *schema) Columns() []ColumnSpec { return s.cols }

func (s *schema) ColumnIndex(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// ───────────────────────────── Runtime tables ──────────────────────────────

// ErrArity is returned when a row does not match the column count.
var ErrArity = errors.New("storage: row arity mismatch")

// RuntimeTable is a table built at run time, such as a query result.
type RuntimeTable struct {
	schema
	data [][]any // column-major
	rows int
}

// NewRuntimeTable creates an empty table.
func NewRuntimeTable(name string, cols []ColumnSpec) *RuntimeTable {
	return &RuntimeTable{schema: newSchema(name, cols...), data: make([][]any, len(cols))}
}

// AddRow appends one row. Values are normalised to the column type; nil is
// kept as null.
func (t *RuntimeTable) AddRow(vals ...any) error {
	if len(vals) != len(t.cols) {
		return errors.Wrapf(ErrArity, "table %s: got %d values for %d columns", t.name, len(vals), len(t.cols))
	}
	row := make([]any, len(vals))
	for i, v := range vals {
		nv, err := normalise(v, t.cols[i].Type)
		if err != nil {
			return errors.Wrapf(err, "table %s column %s", t.name, t.cols[i].Name)
		}
		row[i] = nv
	}
	for i, v := range row {
		t.data[i] = append(t.data[i], v)
	}
	t.rows++
	return nil
}

// Rename changes the table name; call it before registering the table.
func (t *RuntimeTable) Rename(name string) { t.name = name }

func (t *RuntimeTable) RowCount() int { return t.rows }

func (t *RuntimeTable) Value(row, col int) any { return t.data[col][row] }

func normalise(v any, ct ColumnType) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch ct {
	case Int64:
		switch x := v.(type) {
		case int64:
			return x, nil
		case int:
			return int64(x), nil
		case int32:
			return int64(x), nil
		case uint32:
			return int64(x), nil
		case uint64:
			return int64(x), nil
		case float64:
			return int64(x), nil
		case bool:
			if x {
				return int64(1), nil
			}
			return int64(0), nil
		}
	case Float64:
		switch x := v.(type) {
		case float64:
			return x, nil
		case int64:
			return float64(x), nil
		case int:
			return float64(x), nil
		}
	case String:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		default:
			return fmt.Sprint(x), nil
		}
	}
	return nil, errors.Newf("storage: cannot store %T as %s", v, ct)
}
