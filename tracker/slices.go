package tracker

import (
	"traceproc/stats"
	"traceproc/storage"
)

type stackEntry struct {
	row uint32
	// end is the known end of a complete slice, or -1 while open.
	end int64
}

// SliceTracker nests userspace slices per thread. Begin/End pairs and
// complete slices share one stack; a complete slice leaves the stack once
// an event starts at or after its end.
type SliceTracker struct {
	st     *storage.Storage
	stats  *stats.Stats
	stacks map[uint32][]stackEntry
}

// NewSliceTracker creates a tracker writing into st.
func NewSliceTracker(st *storage.Storage, s *stats.Stats) *SliceTracker {
	return &SliceTracker{st: st, stats: s, stacks: make(map[uint32][]stackEntry)}
}

// Begin opens a slice on utid and returns its row.
func (t *SliceTracker) Begin(ts int64, utid uint32, cat, name storage.StringID) uint32 {
	stack := t.popCompleted(utid, ts)
	row := t.st.Slices.Insert(ts, -1, utid, uint32(len(stack)), name, cat)
	t.stacks[utid] = append(stack, stackEntry{row: row, end: -1})
	return row
}

// End closes the innermost open slice of utid. A non-empty name must match
// the slice being closed. Returns false, counting misplaced_end_event, when
// there is nothing to close.
func (t *SliceTracker) End(ts int64, utid uint32, name storage.StringID) (uint32, bool) {
	stack := t.popCompleted(utid, ts)
	if len(stack) == 0 {
		t.stats.Increment(stats.MisplacedEndEvent)
		return 0, false
	}
	top := stack[len(stack)-1]
	if top.end >= 0 || ts < t.st.Slices.Ts(top.row) ||
		(name != 0 && t.st.Slices.NameID(top.row) != name) {
		t.stats.Increment(stats.MisplacedEndEvent)
		return 0, false
	}
	t.st.Slices.End(top.row, ts)
	t.stacks[utid] = stack[:len(stack)-1]
	return top.row, true
}

// Scoped records a slice whose duration is already known.
func (t *SliceTracker) Scoped(ts, dur int64, utid uint32, cat, name storage.StringID) uint32 {
	stack := t.popCompleted(utid, ts)
	row := t.st.Slices.Insert(ts, dur, utid, uint32(len(stack)), name, cat)
	t.stacks[utid] = append(stack, stackEntry{row: row, end: ts + dur})
	return row
}

// Depth returns the current nesting depth of utid.
func (t *SliceTracker) Depth(utid uint32) int { return len(t.stacks[utid]) }

func (t *SliceTracker) popCompleted(utid uint32, ts int64) []stackEntry {
	stack := t.stacks[utid]
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.end < 0 || top.end > ts {
			break
		}
		stack = stack[:len(stack)-1]
	}
	return stack
}

// EventTracker records counter samples and instants.
type EventTracker struct {
	st *storage.Storage
}

// NewEventTracker creates a tracker writing into st.
func NewEventTracker(st *storage.Storage) *EventTracker {
	return &EventTracker{st: st}
}

// PushCounter records value for the counter track name at ts.
func (t *EventTracker) PushCounter(ts int64, name storage.StringID, value float64) uint32 {
	return t.st.Counters.Insert(ts, value, name)
}

// PushInstant records a zero-duration event on utid.
func (t *EventTracker) PushInstant(ts int64, name storage.StringID, utid uint32) uint32 {
	return t.st.Instants.Insert(ts, name, utid)
}
