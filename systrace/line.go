// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: line.go - ftrace text line decoding
//
// Purpose:
//   - Splits one ftrace text line into task, cpu, timestamp, event and args:
//       <comm>-<tid> (<tgid>) [<cpu>] <flags> <secs.frac>: <event>: <args>
//   - The tgid group and the flags column are optional.
//
// Notes:
//   - Byte slices in Line alias the input; copy before retaining.
//   - Used by the tokenizer (header only) and the parser (full line).
// ─────────────────────────────────────────────────────────────────────────────

package systrace

import (
	"bytes"

	"github.com/cockroachdb/errors"

	"traceproc/utils"
)

// ErrMalformed is returned for lines that do not follow the ftrace layout.
var ErrMalformed = errors.New("systrace: malformed line")

// Line is one decoded ftrace text line.
type Line struct {
	Comm  []byte
	Tid   int64
	Tgid  int64 // 0 when the line carries no tgid
	CPU   uint32
	Ts    int64 // ns
	Event []byte
	Args  []byte
}

// ParseLine decodes b.
func ParseLine(b []byte) (Line, error) {
	var l Line
	b = bytes.TrimSpace(b)

	lbr, rbr, ok := findCPU(b)
	if !ok {
		return l, errors.Wrap(ErrMalformed, "no cpu column")
	}
	cpu, _ := utils.ParseDecU64(b[lbr+1 : rbr])
	l.CPU = uint32(cpu)

	task := bytes.TrimSpace(b[:lbr])
	if n := len(task); n > 0 && task[n-1] == ')' {
		if open := bytes.LastIndexByte(task, '('); open >= 0 {
			tg := bytes.TrimSpace(task[open+1 : n-1])
			if v, m := utils.ParseDecI64(tg); m == len(tg) && m > 0 {
				l.Tgid = v
			}
			task = bytes.TrimSpace(task[:open])
		}
	}
	dash := bytes.LastIndexByte(task, '-')
	if dash < 0 {
		return l, errors.Wrap(ErrMalformed, "no tid")
	}
	tid, m := utils.ParseDecI64(task[dash+1:])
	if m == 0 || m != len(task)-dash-1 {
		return l, errors.Wrap(ErrMalformed, "bad tid")
	}
	l.Comm, l.Tid = task[:dash], tid

	rest := b[rbr+1:]
	colon := bytes.Index(rest, []byte(": "))
	if colon < 0 {
		return l, errors.Wrap(ErrMalformed, "no timestamp")
	}
	head := bytes.TrimSpace(rest[:colon])
	if sp := bytes.LastIndexByte(head, ' '); sp >= 0 {
		head = head[sp+1:]
	}
	if l.Ts, ok = utils.ParseTimestampNs(head); !ok {
		return l, errors.Wrapf(ErrMalformed, "bad timestamp %q", head)
	}

	rest = rest[colon+2:]
	if c := bytes.IndexByte(rest, ':'); c >= 0 {
		l.Event = bytes.TrimSpace(rest[:c])
		l.Args = bytes.TrimSpace(rest[c+1:])
	} else {
		l.Event = bytes.TrimSpace(rest)
	}
	if len(l.Event) == 0 {
		return l, errors.Wrap(ErrMalformed, "no event name")
	}
	return l, nil
}

// findCPU locates the first "[digits]" group.
func findCPU(b []byte) (lbr, rbr int, ok bool) {
	for i := 0; i < len(b); i++ {
		if b[i] != '[' {
			continue
		}
		_, n := utils.ParseDecU64(b[i+1:])
		if n > 0 && i+1+n < len(b) && b[i+1+n] == ']' {
			return i, i + 1 + n, true
		}
	}
	return 0, 0, false
}

// ─────────────────────────────── Arguments ─────────────────────────────────

// Args is the key=value list of an event. Values may contain spaces: a
// token without '=' extends the previous value.
type Args struct {
	keys [][]byte
	vals [][]byte
	offs []int
}

// ParseArgs splits b into key=value pairs.
func ParseArgs(b []byte) Args {
	var a Args
	for i := 0; i < len(b); {
		for i < len(b) && b[i] == ' ' {
			i++
		}
		start := i
		for i < len(b) && b[i] != ' ' {
			i++
		}
		tok := b[start:i]
		if len(tok) == 0 || string(tok) == "==>" {
			continue
		}
		eq := bytes.IndexByte(tok, '=')
		if eq <= 0 {
			if n := len(a.vals); n > 0 {
				a.vals[n-1] = b[a.offs[n-1]:i]
			}
			continue
		}
		a.keys = append(a.keys, tok[:eq])
		a.vals = append(a.vals, tok[eq+1:])
		a.offs = append(a.offs, start+eq+1)
	}
	return a
}

// Get returns the value of key.
func (a Args) Get(key string) ([]byte, bool) {
	for i, k := range a.keys {
		if string(k) == key {
			return a.vals[i], true
		}
	}
	return nil, false
}

// Int returns the value of key as an integer.
func (a Args) Int(key string) (int64, bool) {
	v, ok := a.Get(key)
	if !ok {
		return 0, false
	}
	n, m := utils.ParseDecI64(v)
	return n, m > 0 && m == len(v)
}

// Len returns the number of pairs.
func (a Args) Len() int { return len(a.keys) }

// ParseTaskState decodes a prev_state column: either a number or ftrace's
// letters ("R", "S", "D", "R+", "DK", ...).
func ParseTaskState(b []byte) (int64, bool) {
	if v, m := utils.ParseDecI64(b); m > 0 && m == len(b) {
		return v, true
	}
	if len(b) == 0 {
		return 0, false
	}
	var state int64
	for _, c := range b {
		switch c {
		case 'R', '+':
		case '|':
		default:
			i := bytes.IndexByte([]byte(taskStateChars), c)
			if i < 0 {
				return 0, false
			}
			state |= 1 << i
		}
	}
	return state, true
}

const taskStateChars = "SDTtXZxKWPN"

// ─────────────────────────────── Print events ──────────────────────────────

// Point is a userspace annotation written through trace_marker:
// "B|pid|name", "E|pid", "C|pid|name|value" or "I|pid|name".
type Point struct {
	Phase byte
	Tgid  int64
	Name  []byte
	Value int64
}

// ErrUnsupported is returned for well-formed markers of an unhandled phase.
var ErrUnsupported = errors.New("systrace: unsupported marker")

// ParsePoint decodes the payload of a print / tracing_mark_write event.
func ParsePoint(b []byte) (Point, error) {
	var p Point
	b = bytes.TrimRight(b, "\n ")
	if len(b) == 0 {
		return p, errors.Wrap(ErrMalformed, "empty marker")
	}
	p.Phase = b[0]
	switch p.Phase {
	case 'B', 'E', 'C', 'I':
	default:
		return p, ErrUnsupported
	}
	if len(b) == 1 {
		if p.Phase == 'E' {
			return p, nil
		}
		return p, errors.Wrap(ErrMalformed, "marker without pid")
	}
	if b[1] != '|' {
		return p, errors.Wrap(ErrMalformed, "marker without separator")
	}
	fields := bytes.SplitN(b[2:], []byte("|"), 3)
	tgid, m := utils.ParseDecI64(fields[0])
	if m != len(fields[0]) {
		return p, errors.Wrap(ErrMalformed, "bad marker pid")
	}
	p.Tgid = tgid

	switch p.Phase {
	case 'E':
		return p, nil
	case 'B', 'I':
		if len(fields) < 2 {
			return p, errors.Wrap(ErrMalformed, "marker without name")
		}
		p.Name = b[2+len(fields[0])+1:]
	case 'C':
		if len(fields) < 3 {
			return p, errors.Wrap(ErrMalformed, "counter without value")
		}
		p.Name = fields[1]
		val := bytes.TrimSpace(fields[2])
		if sp := bytes.IndexByte(val, '|'); sp >= 0 {
			val = val[:sp]
		}
		v, m := utils.ParseDecI64(val)
		if m == 0 || m != len(val) {
			return p, errors.Wrap(ErrMalformed, "bad counter value")
		}
		p.Value = v
	}
	if len(p.Name) == 0 {
		return p, errors.Wrap(ErrMalformed, "marker without name")
	}
	return p, nil
}
