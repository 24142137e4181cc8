// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: sched.go - per-cpu scheduling state machine
//
// Purpose:
//   - Turns sched_switch / sched_waking into sched_slice, raw and instant rows.
//   - Keeps one CPUContext per cpu: the open slice and the last task switched
//     in, which is what compact events omit.
//
// Notes:
//   - Out-of-order detection is explicit per cpu (OrderGuard); a late event is
//     counted and dropped before it can touch the pending slice.
//   - Single-threaded: driven from the sorter's sink.
// ─────────────────────────────────────────────────────────────────────────────

package tracker

import (
	"strconv"

	"traceproc/constants"
	"traceproc/debug"
	"traceproc/event"
	"traceproc/stats"
	"traceproc/storage"
)

// OrderGuard tracks the last admitted timestamp of one event stream.
type OrderGuard struct {
	last int64
	seen bool
}

// Admit accepts ts when it is not older than the last admitted timestamp.
// A rejected ts reports how far behind it is.
func (g *OrderGuard) Admit(ts int64) (lateBy int64, ok bool) {
	if g.seen && ts < g.last {
		return g.last - ts, false
	}
	g.last, g.seen = ts, true
	return 0, true
}

// Last returns the newest admitted timestamp.
func (g *OrderGuard) Last() (int64, bool) { return g.last, g.seen }

// CPUContext is the scheduling state of one cpu.
type CPUContext struct {
	guard OrderGuard

	pendingRow uint32
	hasPending bool

	lastPid  int64
	lastUtid uint32
	lastPrio int32
	hasLast  bool
}

// SchedSwitch is a fully decoded sched_switch.
type SchedSwitch struct {
	PrevComm  string
	PrevPid   int64
	PrevPrio  int32
	PrevState int64
	NextComm  string
	NextPid   int64
	NextPrio  int32
}

// SchedWaking is a fully decoded sched_waking. WakerPid is the pid of the
// task that emitted the event.
type SchedWaking struct {
	WakerPid  int64
	Comm      string
	Pid       int64
	Prio      int32
	TargetCPU int32
}

// SchedTracker owns the per-cpu contexts.
type SchedTracker struct {
	st    *storage.Storage
	stats *stats.Stats
	cpus  []*CPUContext

	switchID storage.StringID
	wakingID storage.StringID
	states   [constants.TaskStateLimit]storage.StringID
	scratch  []byte
}

// NewSchedTracker creates a tracker writing into st.
func NewSchedTracker(st *storage.Storage, s *stats.Stats) *SchedTracker {
	return &SchedTracker{
		st:       st,
		stats:    s,
		switchID: st.Pool.InternString("sched_switch"),
		wakingID: st.Pool.InternString("sched_waking"),
	}
}

func (t *SchedTracker) cpu(cpu uint32) *CPUContext {
	if cpu >= constants.MaxCPUs {
		t.stats.Increment(stats.CPUOutOfRange)
		return nil
	}
	if int(cpu) >= len(t.cpus) {
		grown := make([]*CPUContext, cpu+1)
		copy(grown, t.cpus)
		t.cpus = grown
	}
	if t.cpus[cpu] == nil {
		t.cpus[cpu] = &CPUContext{}
	}
	return t.cpus[cpu]
}

func (t *SchedTracker) admit(c *CPUContext, cpu uint32, ts int64, k stats.Key) bool {
	late, ok := c.guard.Admit(ts)
	if !ok {
		t.stats.Increment(k)
		debug.DropTrace("tracker", k.Name()+" cpu="+strconv.FormatUint(uint64(cpu), 10)+
			" late_by_ns="+strconv.FormatInt(late, 10))
	}
	return ok
}

// PushSchedSwitch handles a sched_switch carrying both prev and next fields.
func (t *SchedTracker) PushSchedSwitch(cpu uint32, ts int64, sw SchedSwitch) {
	c := t.cpu(cpu)
	if c == nil || !t.admit(c, cpu, ts, stats.SchedSwitchOutOfOrder) {
		return
	}

	nextUtid := t.st.Threads.UpdateName(sw.NextPid, t.st.Pool.InternString(sw.NextComm))
	if c.hasPending {
		if sw.PrevPid == c.lastPid {
			t.closePending(c, ts, sw.PrevState)
		} else {
			t.stats.Increment(stats.MismatchedSchedSwitchTids)
		}
	}
	prevUtid := t.st.Threads.UpdateName(sw.PrevPid, t.st.Pool.InternString(sw.PrevComm))

	t.scratch = appendSwitchArgs(t.scratch[:0], sw, t.stateString(sw.PrevState))
	t.st.Raw.Insert(ts, t.switchID, cpu, prevUtid, t.st.Pool.InternBytes(t.scratch))
	t.startSlice(c, cpu, ts, sw.NextPid, nextUtid, sw.NextPrio)
}

// PushSchedSwitchCompact handles a sched_switch without prev fields. The
// previous task is inferred from the last switch on the cpu; the first
// compact switch on a cpu only seeds that state.
func (t *SchedTracker) PushSchedSwitchCompact(cpu uint32, ts int64, sw event.InlineSchedSwitch) {
	c := t.cpu(cpu)
	if c == nil || !t.admit(c, cpu, ts, stats.SchedSwitchOutOfOrder) {
		return
	}

	nextPid := int64(sw.NextPid)
	nextUtid := t.st.Threads.UpdateName(nextPid, storage.StringID(sw.NextComm))
	if !c.hasLast {
		t.stats.Increment(stats.CompactSchedSwitchSkipped)
		c.lastPid, c.lastUtid, c.lastPrio, c.hasLast = nextPid, nextUtid, sw.NextPrio, true
		return
	}
	if c.hasPending {
		t.closePending(c, ts, sw.PrevState)
	}

	prev := SchedSwitch{
		PrevComm:  t.st.Threads.ThreadName(c.lastUtid),
		PrevPid:   c.lastPid,
		PrevPrio:  c.lastPrio,
		PrevState: sw.PrevState,
		NextComm:  t.st.Pool.Get(storage.StringID(sw.NextComm)),
		NextPid:   nextPid,
		NextPrio:  sw.NextPrio,
	}
	t.scratch = appendSwitchArgs(t.scratch[:0], prev, t.stateString(sw.PrevState))
	t.st.Raw.Insert(ts, t.switchID, cpu, c.lastUtid, t.st.Pool.InternBytes(t.scratch))
	t.startSlice(c, cpu, ts, nextPid, nextUtid, sw.NextPrio)
}

// PushSchedWaking handles a sched_waking with its emitting task known.
func (t *SchedTracker) PushSchedWaking(cpu uint32, ts int64, w SchedWaking) {
	c := t.cpu(cpu)
	if c == nil || !t.admit(c, cpu, ts, stats.SchedWakingOutOfOrder) {
		return
	}
	wakerUtid := t.st.Threads.GetOrCreate(w.WakerPid)
	wakeeUtid := t.st.Threads.UpdateName(w.Pid, t.st.Pool.InternString(w.Comm))
	t.waking(ts, cpu, wakerUtid, wakeeUtid, w.Comm, w.Pid, w.Prio, w.TargetCPU)
}

// PushSchedWakingCompact handles a sched_waking without its emitting task;
// the waker is whatever runs on the cpu.
func (t *SchedTracker) PushSchedWakingCompact(cpu uint32, ts int64, w event.InlineSchedWaking) {
	c := t.cpu(cpu)
	if c == nil || !t.admit(c, cpu, ts, stats.SchedWakingOutOfOrder) {
		return
	}
	if !c.hasLast {
		t.stats.Increment(stats.CompactSchedWakingSkipped)
		return
	}
	pid := int64(w.Pid)
	wakeeUtid := t.st.Threads.UpdateName(pid, storage.StringID(w.Comm))
	t.waking(ts, cpu, c.lastUtid, wakeeUtid, t.st.Pool.Get(storage.StringID(w.Comm)), pid, w.Prio, w.TargetCPU)
}

func (t *SchedTracker) waking(ts int64, cpu, wakerUtid, wakeeUtid uint32, comm string, pid int64, prio, target int32) {
	b := t.scratch[:0]
	b = append(b, "comm="...)
	b = append(b, comm...)
	b = append(b, " pid="...)
	b = strconv.AppendInt(b, pid, 10)
	b = append(b, " prio="...)
	b = strconv.AppendInt(b, int64(prio), 10)
	b = append(b, " target_cpu="...)
	b = strconv.AppendInt(b, int64(target), 10)
	t.scratch = b

	t.st.Raw.Insert(ts, t.wakingID, cpu, wakerUtid, t.st.Pool.InternBytes(b))
	t.st.Instants.Insert(ts, t.wakingID, wakeeUtid)
}

// FlushPendingEvents closes every open slice at endTs. Tasks still on a cpu
// at the end of the trace were runnable.
func (t *SchedTracker) FlushPendingEvents(endTs int64) {
	for _, c := range t.cpus {
		if c == nil || !c.hasPending {
			continue
		}
		t.closePending(c, endTs, constants.TaskStateRunnable)
	}
}

// CPUCount returns the number of cpus that have seen an event.
func (t *SchedTracker) CPUCount() int {
	n := 0
	for _, c := range t.cpus {
		if c != nil {
			n++
		}
	}
	return n
}

func (t *SchedTracker) startSlice(c *CPUContext, cpu uint32, ts, pid int64, utid uint32, prio int32) {
	c.pendingRow = t.st.SchedSlices.Insert(ts, cpu, utid, prio)
	c.hasPending = true
	c.lastPid, c.lastUtid, c.lastPrio, c.hasLast = pid, utid, prio, true
}

func (t *SchedTracker) closePending(c *CPUContext, ts, state int64) {
	var id storage.StringID
	if state < 0 || state >= constants.TaskStateLimit {
		t.stats.Increment(stats.TaskStateInvalid)
	} else {
		id = t.stateID(state)
	}
	t.st.SchedSlices.Close(c.pendingRow, ts, id)
	c.hasPending = false
}

func (t *SchedTracker) stateID(state int64) storage.StringID {
	if id := t.states[state]; id != 0 {
		return id
	}
	id := t.st.Pool.InternString(TaskStateString(state))
	t.states[state] = id
	return id
}

func (t *SchedTracker) stateString(state int64) string {
	if state < 0 || state >= constants.TaskStateLimit {
		return "?"
	}
	return t.st.Pool.Get(t.stateID(state))
}

// taskStateChars maps prev_state bits 0.. to their ftrace letters.
const taskStateChars = "SDTtXZxKWPN"

// TaskStateString renders a prev_state bitmask the way ftrace prints it:
// "R" for 0, otherwise one letter per set bit ("S", "D", "DK", ...).
func TaskStateString(state int64) string {
	if state == 0 {
		return "R"
	}
	var b []byte
	for i := 0; i < len(taskStateChars); i++ {
		if state&(1<<i) != 0 {
			b = append(b, taskStateChars[i])
		}
	}
	if len(b) == 0 {
		return "?"
	}
	return string(b)
}

func appendSwitchArgs(b []byte, sw SchedSwitch, state string) []byte {
	b = append(b, "prev_comm="...)
	b = append(b, sw.PrevComm...)
	b = append(b, " prev_pid="...)
	b = strconv.AppendInt(b, sw.PrevPid, 10)
	b = append(b, " prev_prio="...)
	b = strconv.AppendInt(b, int64(sw.PrevPrio), 10)
	b = append(b, " prev_state="...)
	b = append(b, state...)
	b = append(b, " ==> next_comm="...)
	b = append(b, sw.NextComm...)
	b = append(b, " next_pid="...)
	b = strconv.AppendInt(b, sw.NextPid, 10)
	b = append(b, " next_prio="...)
	b = strconv.AppendInt(b, int64(sw.NextPrio), 10)
	return b
}
