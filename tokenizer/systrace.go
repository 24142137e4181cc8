package tokenizer

import (
	"bytes"

	"traceproc/constants"
	"traceproc/event"
	"traceproc/stats"
	"traceproc/storage"
	"traceproc/systrace"
	"traceproc/utils"
)

// Systrace tokenizes ftrace text, one event per line, on channel = cpu.
// In compact mode sched_switch and sched_waking lines are decoded into
// inline payloads; everything else stays a raw span of its chunk.
type Systrace struct {
	out     Pusher
	pool    *storage.StringPool
	stats   *stats.Stats
	compact bool

	carry   []byte
	touched []uint32
	seen    []bool
}

// NewSystrace creates a tokenizer pushing into out. pool interns the comm
// of compact events.
func NewSystrace(out Pusher, pool *storage.StringPool, s *stats.Stats, compact bool) *Systrace {
	return &Systrace{out: out, pool: pool, stats: s, compact: compact}
}

// Feed implements Tokenizer. Each call closes one batch: every cpu it
// touched is finalized.
func (t *Systrace) Feed(chunk []byte) error {
	last := bytes.LastIndexByte(chunk, '\n')
	if last < 0 {
		t.carry = append(t.carry, chunk...)
		return nil
	}

	data := make([]byte, 0, len(t.carry)+last+1)
	data = append(data, t.carry...)
	data = append(data, chunk[:last+1]...)
	t.carry = append(t.carry[:0], chunk[last+1:]...)

	t.tokenize(event.NewTraceBlob(data))
	t.finalize()
	return nil
}

// Flush implements Tokenizer.
func (t *Systrace) Flush() error {
	if len(bytes.TrimSpace(t.carry)) > 0 {
		data := append([]byte(nil), t.carry...)
		t.tokenize(event.NewTraceBlob(data))
	}
	t.carry = t.carry[:0]
	t.finalize()
	return nil
}

func (t *Systrace) tokenize(blob *event.TraceBlob) {
	data := blob.Bytes()
	for off := 0; off < len(data); {
		end := bytes.IndexByte(data[off:], '\n')
		if end < 0 {
			end = len(data)
		} else {
			end += off
		}
		ln := data[off:end]
		start := off
		off = end + 1

		trimmed := bytes.TrimSpace(ln)
		if len(trimmed) == 0 || trimmed[0] == '#' || bytes.HasPrefix(trimmed, []byte("TRACE:")) {
			continue
		}
		l, err := systrace.ParseLine(ln)
		if err != nil {
			t.stats.Increment(stats.SystraceParseFailure)
			continue
		}
		if l.CPU >= constants.MaxCPUs {
			t.stats.Increment(stats.CPUOutOfRange)
			continue
		}
		t.touch(l.CPU)

		if t.compact {
			switch utils.B2s(l.Event) {
			case "sched_switch":
				if p, ok := t.compactSwitch(l); ok {
					t.out.Push(l.CPU, l.Ts, p)
					continue
				}
			case "sched_waking":
				if p, ok := t.compactWaking(l); ok {
					t.out.Push(l.CPU, l.Ts, p)
					continue
				}
			}
		}
		t.out.Push(l.CPU, l.Ts, blob.Span(start, end-start))
	}
}

func (t *Systrace) compactSwitch(l systrace.Line) (event.InlineSchedSwitch, bool) {
	a := systrace.ParseArgs(l.Args)
	stateStr, ok1 := a.Get("prev_state")
	comm, ok2 := a.Get("next_comm")
	pid, ok3 := a.Int("next_pid")
	prio, ok4 := a.Int("next_prio")
	if !(ok1 && ok2 && ok3 && ok4) {
		return event.InlineSchedSwitch{}, false
	}
	state, ok := systrace.ParseTaskState(stateStr)
	if !ok {
		state = -1
	}
	return event.InlineSchedSwitch{
		PrevState: state,
		NextPid:   int32(pid),
		NextPrio:  int32(prio),
		NextComm:  uint32(t.pool.InternBytes(comm)),
	}, true
}

func (t *Systrace) compactWaking(l systrace.Line) (event.InlineSchedWaking, bool) {
	a := systrace.ParseArgs(l.Args)
	comm, ok1 := a.Get("comm")
	pid, ok2 := a.Int("pid")
	prio, ok3 := a.Int("prio")
	target, ok4 := a.Int("target_cpu")
	if !(ok1 && ok2 && ok3 && ok4) {
		return event.InlineSchedWaking{}, false
	}
	return event.InlineSchedWaking{
		Pid:       int32(pid),
		TargetCPU: int32(target),
		Prio:      int32(prio),
		Comm:      uint32(t.pool.InternBytes(comm)),
	}, true
}

func (t *Systrace) touch(cpu uint32) {
	if int(cpu) >= len(t.seen) {
		grown := make([]bool, cpu+1)
		copy(grown, t.seen)
		t.seen = grown
	}
	if !t.seen[cpu] {
		t.seen[cpu] = true
		t.touched = append(t.touched, cpu)
	}
}

func (t *Systrace) finalize() {
	for _, cpu := range t.touched {
		t.out.FinalizeFtraceEventBatch(cpu)
		t.seen[cpu] = false
	}
	t.touched = t.touched[:0]
}
