package tokenizer

import (
	"bytes"

	"github.com/cockroachdb/errors"
	"github.com/sugawarayuuta/sonnet"

	"traceproc/constants"
	"traceproc/event"
	"traceproc/stats"
)

var (
	// ErrNotJSONTrace is returned when the input is neither an event array
	// nor an object holding one.
	ErrNotJSONTrace = errors.New("tokenizer: not a JSON trace")
	// ErrNoTraceEvents is returned at end of stream when an object trace
	// never declared its traceEvents array.
	ErrNoTraceEvents = errors.New("tokenizer: JSON trace without traceEvents")
)

type jsonState uint8

const (
	jsonSeekStart jsonState = iota
	jsonSeekKey
	jsonInArray
	jsonDone
)

var traceEventsKey = []byte(`"traceEvents"`)

// JSON tokenizes the Trace Event Format: a bare array of event objects or
// an object whose "traceEvents" member is that array. Objects may span
// chunk boundaries. Each event goes to channel JSONChannelBase + tid.
type JSON struct {
	out   Pusher
	stats *stats.Stats

	buf   []byte
	off   int
	state jsonState

	// progress of the object starting at buf[off]
	scan  int
	depth int
	inStr bool
	esc   bool
}

// NewJSON creates a tokenizer pushing into out.
func NewJSON(out Pusher, s *stats.Stats) *JSON {
	return &JSON{out: out, stats: s}
}

// Feed implements Tokenizer.
func (t *JSON) Feed(chunk []byte) error {
	if t.state == jsonDone {
		return nil
	}
	t.buf = append(t.buf, chunk...)
	err := t.process()
	// Keep only the unconsumed tail.
	n := copy(t.buf, t.buf[t.off:])
	t.buf = t.buf[:n]
	t.off = 0
	return err
}

// Flush implements Tokenizer.
func (t *JSON) Flush() error {
	switch t.state {
	case jsonSeekKey:
		return ErrNoTraceEvents
	case jsonInArray:
		if t.scan > 0 {
			// Truncated final object.
			t.stats.Increment(stats.JSONParseFailure)
		}
	}
	t.buf, t.off, t.scan = t.buf[:0], 0, 0
	t.depth, t.inStr, t.esc = 0, false, false
	return nil
}

func (t *JSON) process() error {
	for {
		switch t.state {
		case jsonSeekStart:
			i := skipSpace(t.buf, t.off)
			if i == len(t.buf) {
				t.off = i
				return nil
			}
			switch t.buf[i] {
			case '[':
				t.state, t.off = jsonInArray, i+1
			case '{':
				t.state, t.off = jsonSeekKey, i+1
			default:
				return errors.Wrapf(ErrNotJSONTrace, "unexpected %q", t.buf[i])
			}

		case jsonSeekKey:
			k := indexFrom(t.buf, t.off, traceEventsKey)
			if k < 0 {
				// The key may straddle the chunk boundary.
				t.off = max(t.off, len(t.buf)-len(traceEventsKey)+1)
				return nil
			}
			i := skipSpace(t.buf, k+len(traceEventsKey))
			if i < len(t.buf) && t.buf[i] == ':' {
				i = skipSpace(t.buf, i+1)
			}
			if i == len(t.buf) {
				t.off = k
				return nil
			}
			if t.buf[i] != '[' {
				return errors.Wrap(ErrNotJSONTrace, "traceEvents is not an array")
			}
			t.state, t.off = jsonInArray, i+1

		case jsonInArray:
			if t.scan == 0 {
				i := t.off
				for i < len(t.buf) && (isSpace(t.buf[i]) || t.buf[i] == ',') {
					i++
				}
				t.off = i
				if i == len(t.buf) {
					return nil
				}
				switch t.buf[i] {
				case ']':
					t.state, t.off = jsonDone, len(t.buf)
					return nil
				case '{':
				default:
					return errors.Wrapf(ErrNotJSONTrace, "unexpected %q in event array", t.buf[i])
				}
			}
			end, ok := t.scanObject()
			if !ok {
				return nil
			}
			t.emit(t.buf[t.off:end])
			t.off, t.scan = end, 0

		case jsonDone:
			t.off = len(t.buf)
			return nil
		}
	}
}

// scanObject advances over the object at buf[off], resuming where the last
// call stopped. It returns the offset just past the closing brace.
func (t *JSON) scanObject() (int, bool) {
	for i := t.off + t.scan; i < len(t.buf); i++ {
		c := t.buf[i]
		switch {
		case t.esc:
			t.esc = false
		case t.inStr:
			switch c {
			case '\\':
				t.esc = true
			case '"':
				t.inStr = false
			}
		case c == '"':
			t.inStr = true
		case c == '{' || c == '[':
			t.depth++
		case c == '}' || c == ']':
			t.depth--
			if t.depth == 0 {
				return i + 1, true
			}
		}
	}
	t.scan = len(t.buf) - t.off
	return 0, false
}

func (t *JSON) emit(obj []byte) {
	ev := new(event.JSONEvent)
	if err := sonnet.Unmarshal(obj, ev); err != nil {
		t.stats.Increment(stats.JSONParseFailure)
		return
	}
	channel := uint32(constants.JSONChannelBase) + uint32(ev.Tid)
	t.out.Push(channel, ev.TsNs(), event.StructuredValue{Event: ev})
}

func isSpace(c byte) bool { return c == ' ' || c == '\n' || c == '\r' || c == '\t' }

func skipSpace(b []byte, i int) int {
	for i < len(b) && isSpace(b[i]) {
		i++
	}
	return i
}

func indexFrom(b []byte, from int, sep []byte) int {
	if i := bytes.Index(b[from:], sep); i >= 0 {
		return from + i
	}
	return -1
}
