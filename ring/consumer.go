// consumer.go
//
// Blocking helpers on top of the non-blocking Push/Pop.
//
//   • Both sides hot-spin for spinBudget polls, then yield the processor
//     between polls until hotTimeout has passed without progress, then
//     sleep coldSleep between polls.
//   • Both sides give up when ctx is done.
//
// Rationale: a chunk hand-off is usually satisfied within a few polls
// during a burst; an idle reader (slow disk, pipe) must not burn a core.

package ring

import (
	"context"
	"runtime"
	"time"
)

const (
	spinBudget = 256                  // polls before yielding
	hotTimeout = 2 * time.Millisecond // yield window before sleeping
	coldSleep  = 50 * time.Microsecond
)

type backoff struct {
	miss  int
	since time.Time
}

func (b *backoff) reset() { b.miss = 0 }

func (b *backoff) wait() {
	b.miss++
	switch {
	case b.miss < spinBudget:
	case b.miss == spinBudget:
		b.since = time.Now()
		runtime.Gosched()
	case time.Since(b.since) <= hotTimeout:
		runtime.Gosched()
	default:
		time.Sleep(coldSleep)
	}
}

// PushWait enqueues v, waiting for a free slot.  It fails only when ctx is
// done.
func (r *Ring[T]) PushWait(ctx context.Context, v T) error {
	var b backoff
	for !r.Push(v) {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.wait()
	}
	return nil
}

// PopWait dequeues one value, waiting for the producer.  ok is false once
// the ring is closed and drained, or when ctx is done (err is then set).
func (r *Ring[T]) PopWait(ctx context.Context) (v T, ok bool, err error) {
	var b backoff
	for {
		if v, ok = r.Pop(); ok {
			return v, true, nil
		}
		// Close happens after the last Push; re-check after observing it.
		if r.Closed() {
			v, ok = r.Pop()
			return v, ok, nil
		}
		if err = ctx.Err(); err != nil {
			return v, false, err
		}
		b.wait()
	}
}

// Drain calls fn for every value until the ring is closed and empty, fn
// fails or ctx is done.
func (r *Ring[T]) Drain(ctx context.Context, fn func(T) error) error {
	for {
		v, ok, err := r.PopWait(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := fn(v); err != nil {
			return err
		}
	}
}
