// Package event defines the pieces of trace data buffered by the sorter: the
// envelope and its closed set of payload variants.
package event

import "github.com/cockroachdb/errors"

// Kind discriminates payload variants inside the sort arena.
type Kind uint8

const (
	KindRawSpan Kind = iota + 1
	KindSchedSwitch
	KindSchedWaking
	KindStructured
)

func (k Kind) String() string {
	switch k {
	case KindRawSpan:
		return "raw_span"
	case KindSchedSwitch:
		return "inline_sched_switch"
	case KindSchedWaking:
		return "inline_sched_waking"
	case KindStructured:
		return "structured_value"
	}
	return "unknown"
}

// Payload is one of RawSpan, InlineSchedSwitch, InlineSchedWaking or
// StructuredValue. The set is closed.
type Payload interface {
	Kind() Kind
	payload()
}

// Envelope is a buffered trace piece awaiting emission.
type Envelope struct {
	Ts      int64
	Arrival uint64
	Channel uint32
	Payload Payload
}

// TraceBlob is an immutable chunk of trace input shared by every RawSpan
// cut from it.
type TraceBlob struct {
	data []byte
}

// NewTraceBlob takes ownership of data.
func NewTraceBlob(data []byte) *TraceBlob {
	return &TraceBlob{data: data}
}

// Size returns the blob length in bytes.
func (b *TraceBlob) Size() int { return len(b.data) }

// Bytes returns the whole blob.
func (b *TraceBlob) Bytes() []byte { return b.data }

// Span cuts a RawSpan out of the blob. Out of range spans are a contract
// violation.
func (b *TraceBlob) Span(off, n int) RawSpan {
	if off < 0 || n < 0 || off+n > len(b.data) {
		panic(errors.AssertionFailedf("event: span [%d,+%d) outside blob of %d bytes", off, n, len(b.data)))
	}
	return RawSpan{Blob: b, Offset: uint32(off), Length: uint32(n)}
}

// RawSpan references a byte range of a TraceBlob.
type RawSpan struct {
	Blob   *TraceBlob
	Offset uint32
	Length uint32
}

// Bytes returns the referenced range.
func (r RawSpan) Bytes() []byte {
	return r.Blob.data[r.Offset : r.Offset+r.Length]
}

// InlineSchedSwitch is a compact sched_switch: the prev_* fields are
// recovered from the previous switch on the same cpu.
type InlineSchedSwitch struct {
	PrevState int64
	NextPid   int32
	NextPrio  int32
	NextComm  uint32 // interned string id
}

// InlineSchedWaking is a compact sched_waking.
type InlineSchedWaking struct {
	Pid         int32
	TargetCPU   int32
	Prio        int32
	Comm        uint32 // interned string id
	CommonFlags uint16
}

// StructuredValue carries a decoded JSON trace event.
type StructuredValue struct {
	Event *JSONEvent
}

// JSONEvent is one object of the Trace Event Format.
type JSONEvent struct {
	Name  string         `json:"name"`
	Cat   string         `json:"cat"`
	Phase string         `json:"ph"`
	Ts    float64        `json:"ts"`  // microseconds
	Dur   float64        `json:"dur"` // microseconds
	Pid   int64          `json:"pid"`
	Tid   int64          `json:"tid"`
	ID    any            `json:"id"` // string or number
	Scope string         `json:"s"`
	Args  map[string]any `json:"args"`
}

// DurNs returns the duration in nanoseconds.
func (e *JSONEvent) DurNs() int64 { return int64(e.Dur * 1000) }

// TsNs returns the timestamp in nanoseconds.
func (e *JSONEvent) TsNs() int64 { return int64(e.Ts * 1000) }

func (RawSpan) Kind() Kind           { return KindRawSpan }
func (InlineSchedSwitch) Kind() Kind { return KindSchedSwitch }
func (InlineSchedWaking) Kind() Kind { return KindSchedWaking }
func (StructuredValue) Kind() Kind   { return KindStructured }

func (RawSpan) payload()           {}
func (InlineSchedSwitch) payload() {}
func (InlineSchedWaking) payload() {}
func (StructuredValue) payload()   {}
