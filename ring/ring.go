// ring.go
//
// Single-producer/single-consumer ring buffer carrying ingest chunks from
// the reader goroutine to the tokenizer.  Producer and consumer indices
// live on separate cache-lines, and each slot carries a sequence number so
// Push/Pop never contend on a shared counter.

package ring

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

// slot couples a payload with its sequence stamp.
type slot[T any] struct {
	seq atomic.Uint64 // position in the sequence space
	val T
}

// Ring is a fixed-capacity circular buffer dedicated to one producer and
// one consumer.
type Ring[T any] struct {
	_    [64]byte // producer tail isolated on its own cache-line
	tail uint64
	//lint:ignore U1000 padding to keep head & tail on different cache-lines
	_pad1 [64]byte
	head  uint64
	//lint:ignore U1000 padding to keep hot fields from colliding with metadata
	_pad2  [64]byte
	closed atomic.Bool
	mask   uint64
	buf    []slot[T]
}

// New allocates a ring whose size must be a power-of-two of at least 2;
// otherwise it panics. With one slot the free stamp of the next lap equals
// the published stamp, so a full ring would look empty to Push.
func New[T any](size int) *Ring[T] {
	if size < 2 || size&(size-1) != 0 {
		panic(errors.AssertionFailedf("ring: size must be a power of two >= 2, got %d", size))
	}
	r := &Ring[T]{
		mask: uint64(size - 1),
		buf:  make([]slot[T], size),
	}
	for i := range r.buf {
		r.buf[i].seq.Store(uint64(i))
	}
	return r
}

// Push enqueues v, returning false if the buffer is full.  Producer only.
func (r *Ring[T]) Push(v T) bool {
	t := r.tail
	s := &r.buf[t&r.mask]
	if s.seq.Load() != t {
		return false // consumer has not yet reclaimed the slot
	}
	s.val = v
	s.seq.Store(t + 1)
	r.tail = t + 1
	return true
}

// Pop dequeues one value; ok is false if the buffer is empty.  Consumer only.
func (r *Ring[T]) Pop() (v T, ok bool) {
	h := r.head
	s := &r.buf[h&r.mask]
	if s.seq.Load() != h+1 {
		return v, false // producer has not yet published to the slot
	}
	v = s.val
	var zero T
	s.val = zero
	s.seq.Store(h + uint64(len(r.buf)))
	r.head = h + 1
	return v, true
}

// Close marks the end of the stream.  Values pushed before Close are still
// delivered.  Producer only.
func (r *Ring[T]) Close() { r.closed.Store(true) }

// Closed reports whether the producer has closed the ring.
func (r *Ring[T]) Closed() bool { return r.closed.Load() }

// Cap returns the number of slots.
func (r *Ring[T]) Cap() int { return len(r.buf) }
