package sorter

import (
	"slices"
	"sort"

	"traceproc/arena"
	"traceproc/event"
)

// entry is the sort key of one buffered event plus where its payload lives.
type entry struct {
	ts      int64
	arrival uint64
	handle  arena.Handle
	kind    event.Kind
}

func entryLess(a, b *entry) bool {
	return a.ts < b.ts || (a.ts == b.ts && a.arrival < b.arrival)
}

// queue is the FIFO of one channel. events[head:] are pending. Appends that
// keep the timestamp non-decreasing stay sorted for free; the first
// out-of-order append marks where a sort pass has to start.
type queue struct {
	channel   uint32
	events    []entry
	head      int
	maxTs     int64
	sortStart int // -1 when events[head:] is sorted
	sortMinTs int64
}

func newQueue(channel uint32) *queue {
	return &queue{channel: channel, sortStart: -1}
}

func (q *queue) len() int { return len(q.events) - q.head }

func (q *queue) peek() *entry { return &q.events[q.head] }

func (q *queue) append(e entry) {
	q.events = append(q.events, e)
	if e.ts >= q.maxTs {
		q.maxTs = e.ts
		return
	}
	if q.sortStart < 0 {
		q.sortStart = len(q.events) - 1
		q.sortMinTs = e.ts
		return
	}
	q.sortMinTs = min(q.sortMinTs, e.ts)
}

// sort re-sorts the suffix that starts at the first sorted entry newer than
// the smallest out-of-order timestamp.
func (q *queue) sort() {
	if q.sortStart < 0 {
		return
	}
	prefix := q.events[q.head:q.sortStart]
	lo := q.head + sort.Search(len(prefix), func(i int) bool {
		return prefix[i].ts > q.sortMinTs
	})
	slices.SortFunc(q.events[lo:], func(a, b entry) int {
		switch {
		case entryLess(&a, &b):
			return -1
		case entryLess(&b, &a):
			return 1
		}
		return 0
	})
	q.sortStart = -1
}

func (q *queue) pop() entry {
	e := q.events[q.head]
	q.events[q.head] = entry{}
	q.head++
	switch {
	case q.head == len(q.events):
		q.events = q.events[:0]
		q.head = 0
	case q.head >= 1024 && q.head*2 >= len(q.events):
		n := copy(q.events, q.events[q.head:])
		q.events = q.events[:n]
		q.head = 0
	}
	return e
}

// mergeHeap orders non-empty queues by their head entry.
type mergeHeap []*queue

func (h mergeHeap) less(i, j int) bool { return entryLess(h[i].peek(), h[j].peek()) }

func (h mergeHeap) up(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if !h.less(i, p) {
			break
		}
		h[i], h[p] = h[p], h[i]
		i = p
	}
}

func (h mergeHeap) down(i int) {
	n := len(h)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		m := l
		if r := l + 1; r < n && h.less(r, l) {
			m = r
		}
		if !h.less(m, i) {
			return
		}
		h[i], h[m] = h[m], h[i]
		i = m
	}
}

func (h *mergeHeap) push(q *queue) {
	*h = append(*h, q)
	h.up(len(*h) - 1)
}

func (h *mergeHeap) removeRoot() {
	old := *h
	n := len(old) - 1
	old[0] = old[n]
	old[n] = nil
	*h = old[:n]
	if n > 0 {
		h.down(0)
	}
}
