// Package storage is the columnar trace store fed by the trackers and read
// by the query layer.
package storage

import (
	"math"
	"sort"

	"github.com/cockroachdb/errors"

	"traceproc/constants"
)

// ErrTableExists is returned when registering a built-in name twice.
var ErrTableExists = errors.New("storage: table already registered")

// Registry maps table names to tables.
type Registry struct {
	tables  map[string]Table
	builtin map[string]bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tables: make(map[string]Table), builtin: make(map[string]bool)}
}

// Register adds t, replacing a previous runtime table of the same name.
// Built-in tables cannot be replaced.
func (r *Registry) Register(t Table) error {
	if r.builtin[t.Name()] {
		return errors.Wrapf(ErrTableExists, "%s", t.Name())
	}
	r.tables[t.Name()] = t
	return nil
}

func (r *Registry) registerBuiltin(t Table) {
	r.tables[t.Name()] = t
	r.builtin[t.Name()] = true
}

// Lookup returns the table called name.
func (r *Registry) Lookup(name string) (Table, bool) {
	t, ok := r.tables[name]
	return t, ok
}

// Names returns every table name in order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.tables))
	for n := range r.tables {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// MaxRows returns the row count of the largest table.
func (r *Registry) MaxRows() int {
	n := 0
	for _, t := range r.tables {
		n = max(n, t.RowCount())
	}
	return n
}

// Storage bundles the string pool, the trace tables and their registry.
type Storage struct {
	Pool        *StringPool
	SchedSlices *SchedSliceTable
	Threads     *ThreadTable
	Slices      *SliceTable
	Counters    *CounterTable
	Instants    *InstantTable
	Raw         *RawTable
	Registry    *Registry

	startTs int64
	endTs   int64
}

// New creates an empty store with every built-in table registered.
func New() *Storage {
	pool := NewStringPool()
	s := &Storage{
		Pool:        pool,
		SchedSlices: newSchedSliceTable(pool),
		Threads:     newThreadTable(pool, constants.ThreadTableHint),
		Slices:      newSliceTable(pool),
		Counters:    newCounterTable(pool),
		Instants:    newInstantTable(pool),
		Raw:         newRawTable(pool),
		Registry:    NewRegistry(),
		startTs:     math.MaxInt64,
		endTs:       math.MinInt64,
	}
	for _, t := range []Table{s.SchedSlices, s.Threads, s.Slices, s.Counters, s.Instants, s.Raw} {
		s.Registry.registerBuiltin(t)
	}
	return s
}

// UpdateBounds widens the trace bounds to include ts.
func (s *Storage) UpdateBounds(ts int64) {
	s.startTs = min(s.startTs, ts)
	s.endTs = max(s.endTs, ts)
}

// Bounds returns the first and last timestamp seen; ok is false before any.
func (s *Storage) Bounds() (start, end int64, ok bool) {
	if s.startTs > s.endTs {
		return 0, 0, false
	}
	return s.startTs, s.endTs, true
}
