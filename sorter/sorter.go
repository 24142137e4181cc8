// Package sorter merges timestamped trace pieces from independent channels
// into one globally ordered stream.
//
// Every pushed payload is parked in an arena.Arena and referenced from the
// channel's queue. Extraction runs a k-way merge over the channel heads keyed
// by (timestamp, arrival index); arrival breaks every tie so equal
// timestamps leave in push order.
package sorter

import (
	"math"

	"github.com/cockroachdb/errors"

	"traceproc/arena"
	"traceproc/constants"
	"traceproc/event"
	"traceproc/stats"
)

// Sink receives events in final order.
type Sink interface {
	OnEvent(ts int64, channel uint32, p event.Payload)
}

// SortingMode selects when extraction may happen.
type SortingMode uint8

const (
	// SortingDefault extracts incrementally within the flush window.
	SortingDefault SortingMode = iota
	// SortingFullSort holds everything until ExtractEventsForced.
	SortingFullSort
)

// EventHandling selects what happens to sorted events.
type EventHandling uint8

const (
	SortAndPush EventHandling = iota
	// SortAndDrop sorts and then discards; used to measure the sorter alone.
	SortAndDrop
	// Drop discards on push; used for tokenize-only runs.
	Drop
)

// Option configures a Sorter.
type Option func(*Sorter)

// WithSortingMode sets the initial sorting mode.
func WithSortingMode(m SortingMode) Option { return func(s *Sorter) { s.mode = m } }

// WithEventHandling sets the event handling mode.
func WithEventHandling(h EventHandling) Option { return func(s *Sorter) { s.handling = h } }

// WithWindow sets the flush window in nanoseconds.
func WithWindow(ns int64) Option { return func(s *Sorter) { s.windowNs = ns } }

// WithBlockSize sets the arena block size in bytes.
func WithBlockSize(n int) Option { return func(s *Sorter) { s.blockSize = n } }

// WindowFromFlushPeriod derives the flush window from a trace's flush
// period: twice the period, or constants.DefaultSortWindow when the period
// is unknown.
func WindowFromFlushPeriod(periodMs uint32) int64 {
	if periodMs == 0 {
		return constants.DefaultSortWindow.Nanoseconds()
	}
	return int64(periodMs) * constants.FlushPeriodMultiplier * 1_000_000
}

// Sorter is single-threaded.
type Sorter struct {
	sink      Sink
	stats     *stats.Stats
	arena     *arena.Arena
	blockSize int

	queues []*queue
	index  map[uint32]int
	heap   mergeHeap

	mode     SortingMode
	handling EventHandling
	windowNs int64

	nextArrival   uint64
	appendMaxTs   int64
	lastEmittedTs int64
	extracted     bool

	flushesSinceExtraction int
	extractionMark         uint64
}

// New creates a sorter delivering to sink.
func New(sink Sink, st *stats.Stats, opts ...Option) *Sorter {
	s := &Sorter{
		sink:          sink,
		stats:         st,
		index:         make(map[uint32]int),
		windowNs:      constants.DefaultSortWindow.Nanoseconds(),
		lastEmittedTs: math.MinInt64,
	}
	for _, o := range opts {
		o(s)
	}
	s.arena = arena.New(s.blockSize)
	return s
}

// ───────────────────────────── Configuration ───────────────────────────────

// SetWindowSizeNs changes the flush window.
func (s *Sorter) SetWindowSizeNs(ns int64) {
	if ns < 0 {
		panic(errors.AssertionFailedf("sorter: negative window %d", ns))
	}
	s.windowNs = ns
}

// WindowSizeNs returns the flush window.
func (s *Sorter) WindowSizeNs() int64 { return s.windowNs }

// SortingMode returns the current sorting mode.
func (s *Sorter) SortingMode() SortingMode { return s.mode }

// SetSortingMode switches to m. Moving to full sort is only possible before
// anything was extracted, and full sort is final. Setting the current mode
// always succeeds.
func (s *Sorter) SetSortingMode(m SortingMode) bool {
	if m == s.mode {
		return true
	}
	if s.mode == SortingFullSort {
		return false
	}
	if s.extracted {
		return false
	}
	s.mode = m
	return true
}

// ───────────────────────────────── Ingest ──────────────────────────────────

// Push buffers p on channel. No ordering is required between pushes.
func (s *Sorter) Push(channel uint32, ts int64, p event.Payload) {
	if s.handling == Drop {
		s.stats.Increment(stats.SorterEventsDropped)
		return
	}
	if ts < 0 {
		s.stats.Increment(stats.SorterNegativeTimestampDropped)
		return
	}

	e := entry{ts: ts, arrival: s.nextArrival, kind: p.Kind()}
	switch v := p.(type) {
	case event.RawSpan:
		e.handle = arena.Append(s.arena, v)
	case event.InlineSchedSwitch:
		e.handle = arena.Append(s.arena, v)
	case event.InlineSchedWaking:
		e.handle = arena.Append(s.arena, v)
	case event.StructuredValue:
		e.handle = arena.Append(s.arena, v)
	default:
		panic(errors.AssertionFailedf("sorter: unknown payload %T", p))
	}
	s.nextArrival++

	q := s.queue(channel)
	q.append(e)
	s.appendMaxTs = max(s.appendMaxTs, q.maxTs)
}

// FinalizeFtraceEventBatch marks the end of a batch from channel and sorts
// what it has pending. It never advances the extraction horizon: a channel
// not seen yet may still deliver older events inside the window.
func (s *Sorter) FinalizeFtraceEventBatch(channel uint32) {
	s.queue(channel).sort()
}

// ─────────────────────────────── Extraction ────────────────────────────────

// ExtractEventsForFlush emits every event at or below the safe horizon.
// Does nothing in full-sort mode.
func (s *Sorter) ExtractEventsForFlush() {
	if s.mode == SortingFullSort {
		return
	}
	horizon := s.horizon()
	s.extract(func(e *entry) bool { return e.ts > horizon })
}

// ExtractEventsForced emits everything; used at end of stream.
func (s *Sorter) ExtractEventsForced() {
	s.extract(nil)
	for _, q := range s.queues {
		if q.len() != 0 {
			panic(errors.AssertionFailedf("sorter: channel %d not drained", q.channel))
		}
	}
	s.extractionMark = s.nextArrival
	s.flushesSinceExtraction = 0
}

// NotifyFlushEvent records a flush marker from the producer side.
func (s *Sorter) NotifyFlushEvent() { s.flushesSinceExtraction++ }

// NotifyReadBufferEvent records a read-buffer marker. Once enough flushes
// were seen since the previous extraction, everything pushed before the
// previous read-buffer marker is extracted (in sorted order, stopping at the
// first event pushed after it).
func (s *Sorter) NotifyReadBufferEvent() {
	if s.mode == SortingFullSort || s.flushesSinceExtraction < constants.FlushesBeforeExtraction {
		return
	}
	mark := s.extractionMark
	s.extract(func(e *entry) bool { return e.arrival >= mark })
	s.extractionMark = s.nextArrival
	s.flushesSinceExtraction = 0
}

// ──────────────────────────────── Accessors ────────────────────────────────

// MaxTimestamp returns the largest timestamp pushed so far.
func (s *Sorter) MaxTimestamp() int64 { return s.appendMaxTs }

// Pending returns the number of buffered events.
func (s *Sorter) Pending() int { return s.arena.Len() }

// ArenaBlocks returns the number of arena blocks held.
func (s *Sorter) ArenaBlocks() int { return s.arena.BlockCount() }

// Close discards anything still buffered and releases the arena.
func (s *Sorter) Close() {
	for _, q := range s.queues {
		for q.len() > 0 {
			_ = s.evict(q.pop())
		}
	}
	s.arena.Close()
}

// ──────────────────────────────── Internals ────────────────────────────────

func (s *Sorter) queue(channel uint32) *queue {
	if i, ok := s.index[channel]; ok {
		return s.queues[i]
	}
	q := newQueue(channel)
	s.index[channel] = len(s.queues)
	s.queues = append(s.queues, q)
	return q
}

// horizon is the newest timestamp no future push can undercut.
func (s *Sorter) horizon() int64 {
	return s.appendMaxTs - s.windowNs
}

// extract merges the channel heads until stop reports true for the next
// event in order (nil stop drains everything).
func (s *Sorter) extract(stop func(*entry) bool) {
	s.heap = s.heap[:0]
	for _, q := range s.queues {
		if q.len() == 0 {
			continue
		}
		q.sort()
		s.heap.push(q)
	}

	for len(s.heap) > 0 {
		q := s.heap[0]
		if stop != nil && stop(q.peek()) {
			break
		}
		e := q.pop()
		s.emit(q.channel, e)
		if q.len() == 0 {
			s.heap.removeRoot()
		} else {
			s.heap.down(0)
		}
	}
	clear(s.heap)
	s.heap = s.heap[:0]
	s.arena.FreeMemory()
}

func (s *Sorter) emit(channel uint32, e entry) {
	p := s.evict(e)
	s.extracted = true
	if e.ts < s.lastEmittedTs {
		s.stats.Increment(stats.SorterPushEventOutOfOrder)
		return
	}
	s.lastEmittedTs = e.ts
	if s.handling == SortAndDrop {
		s.stats.Increment(stats.SorterEventsDropped)
		return
	}
	s.sink.OnEvent(e.ts, channel, p)
}

func (s *Sorter) evict(e entry) event.Payload {
	switch e.kind {
	case event.KindRawSpan:
		return arena.Evict[event.RawSpan](s.arena, e.handle)
	case event.KindSchedSwitch:
		return arena.Evict[event.InlineSchedSwitch](s.arena, e.handle)
	case event.KindSchedWaking:
		return arena.Evict[event.InlineSchedWaking](s.arena, e.handle)
	case event.KindStructured:
		return arena.Evict[event.StructuredValue](s.arena, e.handle)
	}
	panic(errors.AssertionFailedf("sorter: unknown payload kind %d", e.kind))
}
