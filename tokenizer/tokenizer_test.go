package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"traceproc/constants"
	"traceproc/event"
	"traceproc/stats"
	"traceproc/storage"
)

type pushed struct {
	channel uint32
	ts      int64
	p       event.Payload
}

type recorder struct {
	events    []pushed
	finalized []uint32
}

func (r *recorder) Push(channel uint32, ts int64, p event.Payload) {
	r.events = append(r.events, pushed{channel, ts, p})
}

func (r *recorder) FinalizeFtraceEventBatch(channel uint32) {
	r.finalized = append(r.finalized, channel)
}

// ░░ Detect ░░

func TestDetect(t *testing.T) {
	cases := map[string]Format{
		"":                                  FormatUnknown,
		"   \n":                             FormatUnknown,
		`{"traceEvents":[]}`:                FormatJSON,
		"\ufeff [ {}":                      FormatJSON,
		"# tracer: nop\n":                   FormatSystrace,
		"TRACE:\n":                          FormatSystrace,
		"sh-1 [000] 1.0: sched_waking: a=b": FormatSystrace,
		"hello world":                       FormatUnknown,
	}
	for in, want := range cases {
		require.Equal(t, want, Detect([]byte(in)), "input %q", in)
	}
	require.Equal(t, "json", FormatJSON.String())
}

// ░░ Systrace ░░

const systraceText = `# tracer: nop
#
app-10 [000] .... 1.000000100: irq_handler_entry: irq=5 name=eth0
app-10 [001] .... 1.000000050: sched_waking: comm=w pid=11 prio=120 target_cpu=001
app-10 [000] d..3 1.000000200: sched_switch: prev_comm=app prev_pid=10 prev_prio=120 prev_state=S ==> next_comm=swapper/0 next_pid=0 next_prio=120
`

func TestSystraceRawSpans(t *testing.T) {
	rec := &recorder{}
	tok := NewSystrace(rec, storage.NewStringPool(), stats.New(nil), false)

	require.NoError(t, tok.Feed([]byte(systraceText)))
	require.NoError(t, tok.Flush())

	require.Len(t, rec.events, 3)
	require.Equal(t, uint32(0), rec.events[0].channel)
	require.Equal(t, int64(1_000_000_100), rec.events[0].ts)
	span, ok := rec.events[0].p.(event.RawSpan)
	require.True(t, ok)
	require.Equal(t, "app-10 [000] .... 1.000000100: irq_handler_entry: irq=5 name=eth0", string(span.Bytes()))

	require.Equal(t, uint32(1), rec.events[1].channel)
	_, ok = rec.events[2].p.(event.RawSpan)
	require.True(t, ok, "sched_switch stays raw outside compact mode")

	require.Equal(t, []uint32{0, 1}, rec.finalized)
}

func TestSystraceChunkBoundaries(t *testing.T) {
	rec := &recorder{}
	tok := NewSystrace(rec, storage.NewStringPool(), stats.New(nil), false)

	// Feed in 7-byte chunks; lines straddle every boundary.
	in := []byte(systraceText)
	for len(in) > 0 {
		n := min(7, len(in))
		require.NoError(t, tok.Feed(in[:n]))
		in = in[n:]
	}
	require.NoError(t, tok.Flush())

	require.Len(t, rec.events, 3)
	span := rec.events[2].p.(event.RawSpan)
	require.Contains(t, string(span.Bytes()), "next_comm=swapper/0 next_pid=0 next_prio=120")
}

func TestSystraceFlushesTrailingLine(t *testing.T) {
	rec := &recorder{}
	tok := NewSystrace(rec, storage.NewStringPool(), stats.New(nil), false)

	require.NoError(t, tok.Feed([]byte("app-10 [002] .... 2.0: irq_exit: irq=1")))
	require.Empty(t, rec.events)
	require.NoError(t, tok.Flush())
	require.Len(t, rec.events, 1)
	require.Equal(t, []uint32{2}, rec.finalized)
}

func TestSystraceCompact(t *testing.T) {
	rec := &recorder{}
	pool := storage.NewStringPool()
	tok := NewSystrace(rec, pool, stats.New(nil), true)

	require.NoError(t, tok.Feed([]byte(systraceText)))

	require.Len(t, rec.events, 3)
	_, ok := rec.events[0].p.(event.RawSpan)
	require.True(t, ok)

	w, ok := rec.events[1].p.(event.InlineSchedWaking)
	require.True(t, ok)
	require.Equal(t, int32(11), w.Pid)
	require.Equal(t, int32(1), w.TargetCPU)
	require.Equal(t, "w", pool.Get(storage.StringID(w.Comm)))

	sw, ok := rec.events[2].p.(event.InlineSchedSwitch)
	require.True(t, ok)
	require.Equal(t, int64(1), sw.PrevState)
	require.Equal(t, int32(0), sw.NextPid)
	require.Equal(t, "swapper/0", pool.Get(storage.StringID(sw.NextComm)))
}

func TestSystraceBadLines(t *testing.T) {
	rec := &recorder{}
	st := stats.New(nil)
	tok := NewSystrace(rec, storage.NewStringPool(), st, true)

	in := "garbage line\n" +
		"app-10 [5000] .... 1.0: irq_exit: irq=1\n" +
		"app-10 [000] .... 1.0: sched_switch: prev_comm=app\n"
	require.NoError(t, tok.Feed([]byte(in)))

	require.Equal(t, int64(1), st.Get(stats.SystraceParseFailure))
	require.Equal(t, int64(1), st.Get(stats.CPUOutOfRange))
	require.Len(t, rec.events, 1)
	_, ok := rec.events[0].p.(event.RawSpan)
	require.True(t, ok, "an undecodable sched_switch falls back to a raw span")
}

// ░░ JSON ░░

const jsonTrace = `{"displayTimeUnit":"ns","otherData":{"note":"]}{\"traceEvents\""},
 "traceEvents":[
  {"name":"a","ph":"X","ts":10,"dur":5,"pid":1,"tid":2,"args":{"s":"}{]["}},
  {"name":"b","ph":"B","ts":12.5,"pid":1,"tid":3},
  {"name":"c","ph":"i","ts":1,"pid":1,"tid":2,"id":7}
 ],
 "metadata":{}}`

func TestJSONObjectForm(t *testing.T) {
	rec := &recorder{}
	tok := NewJSON(rec, stats.New(nil))

	require.NoError(t, tok.Feed([]byte(jsonTrace)))
	require.NoError(t, tok.Flush())

	require.Len(t, rec.events, 3)
	first := rec.events[0]
	require.Equal(t, uint32(constants.JSONChannelBase+2), first.channel)
	require.Equal(t, int64(10_000), first.ts)
	sv := first.p.(event.StructuredValue)
	require.Equal(t, "a", sv.Event.Name)
	require.Equal(t, "}{][", sv.Event.Args["s"])

	require.Equal(t, uint32(constants.JSONChannelBase+3), rec.events[1].channel)
	require.Equal(t, int64(12_500), rec.events[1].ts)
	require.Equal(t, 7.0, rec.events[2].p.(event.StructuredValue).Event.ID)
}

func TestJSONByteAtATime(t *testing.T) {
	rec := &recorder{}
	tok := NewJSON(rec, stats.New(nil))

	for i := 0; i < len(jsonTrace); i++ {
		require.NoError(t, tok.Feed([]byte{jsonTrace[i]}))
	}
	require.NoError(t, tok.Flush())
	require.Len(t, rec.events, 3)
	require.Equal(t, "c", rec.events[2].p.(event.StructuredValue).Event.Name)
}

func TestJSONBareArray(t *testing.T) {
	rec := &recorder{}
	st := stats.New(nil)
	tok := NewJSON(rec, st)

	// The closing bracket is optional in the format.
	in := `[{"name":"a","ph":"B","ts":1,"tid":1},{"name":1,"ph":"E"},{"name":"a","ph":"E","ts":2,"tid":1},`
	require.NoError(t, tok.Feed([]byte(in)))
	require.NoError(t, tok.Flush())

	require.Len(t, rec.events, 2)
	require.Equal(t, int64(1), st.Get(stats.JSONParseFailure), "name must be a string")
}

func TestJSONTruncatedObject(t *testing.T) {
	rec := &recorder{}
	st := stats.New(nil)
	tok := NewJSON(rec, st)

	require.NoError(t, tok.Feed([]byte(`[{"name":"a","ph":"B","ts":1},{"name":"b"`)))
	require.NoError(t, tok.Flush())
	require.Len(t, rec.events, 1)
	require.Equal(t, int64(1), st.Get(stats.JSONParseFailure))
}

func TestJSONErrors(t *testing.T) {
	tok := NewJSON(&recorder{}, stats.New(nil))
	require.ErrorIs(t, tok.Feed([]byte("hello")), ErrNotJSONTrace)

	tok = NewJSON(&recorder{}, stats.New(nil))
	require.NoError(t, tok.Feed([]byte(`{"foo":1}`)))
	require.ErrorIs(t, tok.Flush(), ErrNoTraceEvents)

	tok = NewJSON(&recorder{}, stats.New(nil))
	require.ErrorIs(t, tok.Feed([]byte(`{"traceEvents":{}}`)), ErrNotJSONTrace)

	tok = NewJSON(&recorder{}, stats.New(nil))
	require.ErrorIs(t, tok.Feed([]byte(`[1,2]`)), ErrNotJSONTrace)
}
