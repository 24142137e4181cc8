package parser

import (
	"sort"
	"strconv"

	"github.com/cockroachdb/errors"

	"traceproc/event"
	"traceproc/stats"
	"traceproc/storage"
	"traceproc/systrace"
	"traceproc/tracker"
	"traceproc/utils"
)

// ============================================================================
// TRACE EVENT PARSER - SORTED EVENT DISPATCH
// ============================================================================
//
// Parser is the sink of the sorter. Every event reaches it exactly once, in
// timestamp order, and is dispatched on its payload variant:
//
//   - RawSpan           → one ftrace text line, decoded here
//   - InlineSchedSwitch → SchedTracker (compact sched_switch)
//   - InlineSchedWaking → SchedTracker (compact sched_waking)
//   - StructuredValue   → one JSON Trace Event Format object
//
// Data anomalies are counted in stats and never abort the trace.
//
// ============================================================================

// Parser writes sorted events into storage through the trackers.
type Parser struct {
	st     *storage.Storage
	stats  *stats.Stats
	sched  *tracker.SchedTracker
	slices *tracker.SliceTracker
	events *tracker.EventTracker

	seen    int
	scratch []byte
}

// New creates a parser writing into st.
func New(st *storage.Storage, s *stats.Stats) *Parser {
	return &Parser{
		st:     st,
		stats:  s,
		sched:  tracker.NewSchedTracker(st, s),
		slices: tracker.NewSliceTracker(st, s),
		events: tracker.NewEventTracker(st),
	}
}

// OnEvent implements sorter.Sink.
func (p *Parser) OnEvent(ts int64, channel uint32, pl event.Payload) {
	p.seen++
	p.st.UpdateBounds(ts)

	switch v := pl.(type) {
	case event.RawSpan:
		p.parseLine(ts, v.Bytes())
	case event.InlineSchedSwitch:
		p.sched.PushSchedSwitchCompact(channel, ts, v)
	case event.InlineSchedWaking:
		p.sched.PushSchedWakingCompact(channel, ts, v)
	case event.StructuredValue:
		p.parseJSON(ts, v.Event)
	}
}

// Seen returns the number of events delivered so far.
func (p *Parser) Seen() int { return p.seen }

// Sched exposes the scheduling tracker.
func (p *Parser) Sched() *tracker.SchedTracker { return p.sched }

// NotifyEndOfFile closes everything still open at the end of the trace.
func (p *Parser) NotifyEndOfFile() {
	if _, end, ok := p.st.Bounds(); ok {
		p.sched.FlushPendingEvents(end)
	}
}

// ============================================================================
// FTRACE TEXT LINES
// ============================================================================

func (p *Parser) parseLine(ts int64, b []byte) {
	l, err := systrace.ParseLine(b)
	if err != nil {
		p.stats.Increment(stats.SystraceParseFailure)
		return
	}
	if len(l.Comm) > 0 && l.Comm[0] != '<' {
		p.st.Threads.UpdateName(l.Tid, p.st.Pool.InternBytes(l.Comm))
	}

	switch utils.B2s(l.Event) {
	case "sched_switch":
		p.lineSchedSwitch(ts, l)
	case "sched_waking", "sched_wakeup":
		p.lineSchedWaking(ts, l)
	case "cpu_frequency":
		p.lineCPUCounter(ts, l, "cpufreq")
	case "cpu_idle":
		p.lineCPUCounter(ts, l, "cpuidle")
	case "tracing_mark_write", "print", "0":
		p.linePrint(ts, l)
	default:
		p.stats.Increment(stats.FtraceUnknownEvent)
		utid := p.st.Threads.GetOrCreate(l.Tid)
		p.st.Raw.Insert(ts, p.st.Pool.InternBytes(l.Event), l.CPU, utid, p.st.Pool.InternBytes(l.Args))
	}
}

func (p *Parser) lineSchedSwitch(ts int64, l systrace.Line) {
	a := systrace.ParseArgs(l.Args)
	prevComm, ok1 := a.Get("prev_comm")
	prevPid, ok2 := a.Int("prev_pid")
	prevPrio, ok3 := a.Int("prev_prio")
	stateStr, ok4 := a.Get("prev_state")
	nextComm, ok5 := a.Get("next_comm")
	nextPid, ok6 := a.Int("next_pid")
	nextPrio, ok7 := a.Int("next_prio")
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7) {
		p.stats.Increment(stats.SystraceParseFailure)
		return
	}
	state, ok := systrace.ParseTaskState(stateStr)
	if !ok {
		state = -1
	}
	p.sched.PushSchedSwitch(l.CPU, ts, tracker.SchedSwitch{
		PrevComm:  string(prevComm),
		PrevPid:   prevPid,
		PrevPrio:  int32(prevPrio),
		PrevState: state,
		NextComm:  string(nextComm),
		NextPid:   nextPid,
		NextPrio:  int32(nextPrio),
	})
}

func (p *Parser) lineSchedWaking(ts int64, l systrace.Line) {
	a := systrace.ParseArgs(l.Args)
	comm, ok1 := a.Get("comm")
	pid, ok2 := a.Int("pid")
	prio, ok3 := a.Int("prio")
	target, ok4 := a.Int("target_cpu")
	if !(ok1 && ok2 && ok3 && ok4) {
		p.stats.Increment(stats.SystraceParseFailure)
		return
	}
	p.sched.PushSchedWaking(l.CPU, ts, tracker.SchedWaking{
		WakerPid:  l.Tid,
		Comm:      string(comm),
		Pid:       pid,
		Prio:      int32(prio),
		TargetCPU: int32(target),
	})
}

// lineCPUCounter handles "state=<v> cpu_id=<n>" events as the counter
// "<prefix>.cpu<n>".
func (p *Parser) lineCPUCounter(ts int64, l systrace.Line, prefix string) {
	a := systrace.ParseArgs(l.Args)
	state, ok1 := a.Int("state")
	cpu, ok2 := a.Int("cpu_id")
	if !ok1 || !ok2 {
		p.stats.Increment(stats.SystraceParseFailure)
		return
	}
	b := append(p.scratch[:0], prefix...)
	b = append(b, ".cpu"...)
	b = strconv.AppendInt(b, cpu, 10)
	p.scratch = b
	p.events.PushCounter(ts, p.st.Pool.InternBytes(b), float64(state))
}

func (p *Parser) linePrint(ts int64, l systrace.Line) {
	pt, err := systrace.ParsePoint(l.Args)
	switch {
	case errors.Is(err, systrace.ErrUnsupported):
		return
	case err != nil:
		p.stats.Increment(stats.SystraceParseFailure)
		return
	}

	switch pt.Phase {
	case 'B':
		utid := p.threadOf(l.Tid, pt.Tgid)
		p.slices.Begin(ts, utid, 0, p.st.Pool.InternBytes(pt.Name))
	case 'E':
		// A thread never seen before cannot have an open slice.
		utid, ok := p.st.Threads.Lookup(l.Tid)
		if !ok {
			return
		}
		p.slices.End(ts, utid, 0)
	case 'I':
		utid := p.threadOf(l.Tid, pt.Tgid)
		p.slices.Scoped(ts, 0, utid, 0, p.st.Pool.InternBytes(pt.Name))
	case 'C':
		p.events.PushCounter(ts, p.st.Pool.InternBytes(pt.Name), float64(pt.Value))
	}
}

func (p *Parser) threadOf(tid, pid int64) uint32 {
	utid := p.st.Threads.GetOrCreate(tid)
	if pid > 0 {
		p.st.Threads.SetPid(utid, pid)
	}
	return utid
}

// ============================================================================
// JSON TRACE EVENTS
// ============================================================================

func (p *Parser) parseJSON(ts int64, e *event.JSONEvent) {
	if e == nil {
		p.stats.Increment(stats.JSONParseFailure)
		return
	}
	utid := p.threadOf(e.Tid, e.Pid)

	switch e.Phase {
	case "X":
		dur := e.DurNs()
		if dur < 0 {
			p.stats.Increment(stats.JSONParseFailure)
			return
		}
		p.slices.Scoped(ts, dur, utid, p.intern(e.Cat), p.intern(e.Name))
	case "B":
		p.slices.Begin(ts, utid, p.intern(e.Cat), p.intern(e.Name))
	case "E":
		p.slices.End(ts, utid, p.intern(e.Name))
	case "i", "I", "n":
		p.events.PushInstant(ts, p.intern(e.Name), utid)
	case "C":
		p.jsonCounter(ts, e)
	case "M":
		p.jsonMetadata(e)
	default:
		p.stats.Increment(stats.JSONUnsupportedPhase)
	}
}

// jsonCounter records one counter per numeric arg, named "<name> <arg>".
func (p *Parser) jsonCounter(ts int64, e *event.JSONEvent) {
	keys := make([]string, 0, len(e.Args))
	for k := range e.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, ok := toFloat(e.Args[k])
		if !ok {
			continue
		}
		name := k
		if e.Name != "" {
			name = e.Name + " " + k
		}
		p.events.PushCounter(ts, p.intern(name), v)
	}
}

// jsonMetadata applies thread_name records; other metadata is ignored.
func (p *Parser) jsonMetadata(e *event.JSONEvent) {
	if e.Name != "thread_name" {
		return
	}
	if name, ok := e.Args["name"].(string); ok {
		p.st.Threads.UpdateName(e.Tid, p.intern(name))
	}
}

func (p *Parser) intern(s string) storage.StringID {
	if s == "" {
		return 0
	}
	return p.st.Pool.InternString(s)
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	}
	return 0, false
}
