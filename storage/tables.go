package storage

import (
	"traceproc/localidx"
)

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// SCHED SLICES
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// SchedSliceTable holds one row per task occupancy of a cpu. dur is -1
// while the slice is still open.
type SchedSliceTable struct {
	schema
	pool     *StringPool
	ts       []int64
	dur      []int64
	cpu      []uint32
	utid     []uint32
	endState []StringID
	priority []int32
}

func newSchedSliceTable(pool *StringPool) *SchedSliceTable {
	return &SchedSliceTable{
		pool: pool,
		schema: newSchema("sched_slice",
			ColumnSpec{"id", Int64}, ColumnSpec{"ts", Int64}, ColumnSpec{"dur", Int64},
			ColumnSpec{"ts_end", Int64}, ColumnSpec{"cpu", Int64}, ColumnSpec{"utid", Int64},
			ColumnSpec{"end_state", String}, ColumnSpec{"priority", Int64}),
	}
}

// Insert opens a slice and returns its row.
func (t *SchedSliceTable) Insert(ts int64, cpu, utid uint32, prio int32) uint32 {
	t.ts = append(t.ts, ts)
	t.dur = append(t.dur, -1)
	t.cpu = append(t.cpu, cpu)
	t.utid = append(t.utid, utid)
	t.endState = append(t.endState, 0)
	t.priority = append(t.priority, prio)
	return uint32(len(t.ts) - 1)
}

// Close sets the duration and end state of row.
func (t *SchedSliceTable) Close(row uint32, endTs int64, state StringID) {
	t.dur[row] = endTs - t.ts[row]
	t.endState[row] = state
}

func (t *SchedSliceTable) Ts(row uint32) int64        { return t.ts[row] }
func (t *SchedSliceTable) Dur(row uint32) int64       { return t.dur[row] }
func (t *SchedSliceTable) Utid(row uint32) uint32     { return t.utid[row] }
func (t *SchedSliceTable) EndState(row uint32) string { return t.pool.Get(t.endState[row]) }
func (t *SchedSliceTable) RowCount() int              { return len(t.ts) }

func (t *SchedSliceTable) Value(row, col int) any {
	switch col {
	case 0:
		return int64(row)
	case 1:
		return t.ts[row]
	case 2:
		return t.dur[row]
	case 3:
		return t.ts[row] + max(t.dur[row], 0)
	case 4:
		return int64(t.cpu[row])
	case 5:
		return int64(t.utid[row])
	case 6:
		if t.endState[row] == 0 {
			return nil
		}
		return t.pool.Get(t.endState[row])
	case 7:
		return int64(t.priority[row])
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// THREADS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// ThreadTable assigns dense utids to thread ids. utid 0 is the idle task.
type ThreadTable struct {
	schema
	pool  *StringPool
	tid   []int64
	pid   []int64
	name  []StringID
	byTid *localidx.Hash

	// tid -1 wraps to the reserved hash key and lives here instead.
	negUtid uint32
	hasNeg  bool
}

func newThreadTable(pool *StringPool, hint int) *ThreadTable {
	t := &ThreadTable{
		pool:  pool,
		byTid: localidx.New(hint),
		schema: newSchema("thread",
			ColumnSpec{"utid", Int64}, ColumnSpec{"tid", Int64},
			ColumnSpec{"pid", Int64}, ColumnSpec{"name", String}),
	}
	t.GetOrCreate(0)
	return t
}

// tid+1 keeps tid 0 away from the empty-slot sentinel.
func tidKey(tid int64) uint64 { return uint64(tid) + 1 }

// GetOrCreate returns the utid of tid, creating the thread on first sight.
func (t *ThreadTable) GetOrCreate(tid int64) uint32 {
	next := uint32(len(t.tid))
	var utid uint32
	if k := tidKey(tid); k != 0 {
		utid = t.byTid.Put(k, next)
	} else {
		if !t.hasNeg {
			t.negUtid, t.hasNeg = next, true
		}
		utid = t.negUtid
	}
	if utid == next {
		t.tid = append(t.tid, tid)
		t.pid = append(t.pid, -1)
		t.name = append(t.name, 0)
	}
	return utid
}

// Lookup returns the utid of tid if it was seen.
func (t *ThreadTable) Lookup(tid int64) (uint32, bool) {
	if k := tidKey(tid); k != 0 {
		return t.byTid.Get(k)
	}
	return t.negUtid, t.hasNeg
}

// UpdateName sets the name of tid, creating the thread if needed.
func (t *ThreadTable) UpdateName(tid int64, name StringID) uint32 {
	utid := t.GetOrCreate(tid)
	if name != 0 {
		t.name[utid] = name
	}
	return utid
}

// SetPid records the process of utid.
func (t *ThreadTable) SetPid(utid uint32, pid int64) { t.pid[utid] = pid }

func (t *ThreadTable) Tid(utid uint32) int64         { return t.tid[utid] }
func (t *ThreadTable) ThreadName(utid uint32) string { return t.pool.Get(t.name[utid]) }
func (t *ThreadTable) NameID(utid uint32) StringID   { return t.name[utid] }
func (t *ThreadTable) RowCount() int                 { return len(t.tid) }

func (t *ThreadTable) Value(row, col int) any {
	switch col {
	case 0:
		return int64(row)
	case 1:
		return t.tid[row]
	case 2:
		if t.pid[row] < 0 {
			return nil
		}
		return t.pid[row]
	case 3:
		if t.name[row] == 0 {
			return nil
		}
		return t.pool.Get(t.name[row])
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// SLICES
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// SliceTable holds userspace slices. dur is -1 while a slice is open.
type SliceTable struct {
	schema
	pool     *StringPool
	ts       []int64
	dur      []int64
	utid     []uint32
	depth    []uint32
	name     []StringID
	category []StringID
}

func newSliceTable(pool *StringPool) *SliceTable {
	return &SliceTable{
		pool: pool,
		schema: newSchema("slice",
			ColumnSpec{"id", Int64}, ColumnSpec{"ts", Int64}, ColumnSpec{"dur", Int64},
			ColumnSpec{"ts_end", Int64}, ColumnSpec{"utid", Int64}, ColumnSpec{"depth", Int64},
			ColumnSpec{"name", String}, ColumnSpec{"category", String}),
	}
}

// Insert appends a slice and returns its row.
func (t *SliceTable) Insert(ts, dur int64, utid, depth uint32, name, cat StringID) uint32 {
	t.ts = append(t.ts, ts)
	t.dur = append(t.dur, dur)
	t.utid = append(t.utid, utid)
	t.depth = append(t.depth, depth)
	t.name = append(t.name, name)
	t.category = append(t.category, cat)
	return uint32(len(t.ts) - 1)
}

// End closes row at endTs.
func (t *SliceTable) End(row uint32, endTs int64) { t.dur[row] = endTs - t.ts[row] }

func (t *SliceTable) Ts(row uint32) int64         { return t.ts[row] }
func (t *SliceTable) Dur(row uint32) int64        { return t.dur[row] }
func (t *SliceTable) Depth(row uint32) uint32     { return t.depth[row] }
func (t *SliceTable) SliceName(row uint32) string { return t.pool.Get(t.name[row]) }
func (t *SliceTable) NameID(row uint32) StringID  { return t.name[row] }
func (t *SliceTable) RowCount() int               { return len(t.ts) }

func (t *SliceTable) Value(row, col int) any {
	switch col {
	case 0:
		return int64(row)
	case 1:
		return t.ts[row]
	case 2:
		return t.dur[row]
	case 3:
		return t.ts[row] + max(t.dur[row], 0)
	case 4:
		return int64(t.utid[row])
	case 5:
		return int64(t.depth[row])
	case 6:
		return t.pool.Get(t.name[row])
	case 7:
		if t.category[row] == 0 {
			return nil
		}
		return t.pool.Get(t.category[row])
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// COUNTERS, INSTANTS, RAW
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// CounterTable holds counter samples by track name.
type CounterTable struct {
	schema
	pool  *StringPool
	ts    []int64
	value []float64
	name  []StringID
}

func newCounterTable(pool *StringPool) *CounterTable {
	return &CounterTable{
		pool: pool,
		schema: newSchema("counter",
			ColumnSpec{"id", Int64}, ColumnSpec{"ts", Int64},
			ColumnSpec{"value", Float64}, ColumnSpec{"name", String}),
	}
}

func (t *CounterTable) Insert(ts int64, value float64, name StringID) uint32 {
	t.ts = append(t.ts, ts)
	t.value = append(t.value, value)
	t.name = append(t.name, name)
	return uint32(len(t.ts) - 1)
}

func (t *CounterTable) RowCount() int { return len(t.ts) }

func (t *CounterTable) Value(row, col int) any {
	switch col {
	case 0:
		return int64(row)
	case 1:
		return t.ts[row]
	case 2:
		return t.value[row]
	case 3:
		return t.pool.Get(t.name[row])
	}
	return nil
}

// InstantTable holds zero-duration events.
type InstantTable struct {
	schema
	pool *StringPool
	ts   []int64
	name []StringID
	utid []uint32
}

func newInstantTable(pool *StringPool) *InstantTable {
	return &InstantTable{
		pool: pool,
		schema: newSchema("instant",
			ColumnSpec{"id", Int64}, ColumnSpec{"ts", Int64},
			ColumnSpec{"name", String}, ColumnSpec{"utid", Int64}),
	}
}

func (t *InstantTable) Insert(ts int64, name StringID, utid uint32) uint32 {
	t.ts = append(t.ts, ts)
	t.name = append(t.name, name)
	t.utid = append(t.utid, utid)
	return uint32(len(t.ts) - 1)
}

func (t *InstantTable) RowCount() int { return len(t.ts) }

func (t *InstantTable) Value(row, col int) any {
	switch col {
	case 0:
		return int64(row)
	case 1:
		return t.ts[row]
	case 2:
		return t.pool.Get(t.name[row])
	case 3:
		return int64(t.utid[row])
	}
	return nil
}

// RawTable keeps ftrace events that have no dedicated table.
type RawTable struct {
	schema
	pool *StringPool
	ts   []int64
	name []StringID
	cpu  []uint32
	utid []uint32
	args []StringID
}

func newRawTable(pool *StringPool) *RawTable {
	return &RawTable{
		pool: pool,
		schema: newSchema("raw",
			ColumnSpec{"id", Int64}, ColumnSpec{"ts", Int64}, ColumnSpec{"name", String},
			ColumnSpec{"cpu", Int64}, ColumnSpec{"utid", Int64}, ColumnSpec{"args", String}),
	}
}

func (t *RawTable) Insert(ts int64, name StringID, cpu, utid uint32, args StringID) uint32 {
	t.ts = append(t.ts, ts)
	t.name = append(t.name, name)
	t.cpu = append(t.cpu, cpu)
	t.utid = append(t.utid, utid)
	t.args = append(t.args, args)
	return uint32(len(t.ts) - 1)
}

func (t *RawTable) RowCount() int { return len(t.ts) }

func (t *RawTable) Value(row, col int) any {
	switch col {
	case 0:
		return int64(row)
	case 1:
		return t.ts[row]
	case 2:
		return t.pool.Get(t.name[row])
	case 3:
		return int64(t.cpu[row])
	case 4:
		return int64(t.utid[row])
	case 5:
		return t.pool.Get(t.args[row])
	}
	return nil
}
