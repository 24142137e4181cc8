package arena

import (
	"math/rand"
	"reflect"
	"testing"
)

// -----------------------------------------------------------------------------
// ░░ Fixtures ░░
// -----------------------------------------------------------------------------

type small struct {
	A int64
	B uint32
}

type wide struct {
	X [13]uint64
}

type boxedRec struct {
	Name string
	N    int
}

type empty struct{}

func expectPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Fatalf("%s: expected panic", name)
		}
	}()
	fn()
}

func expectLen(t *testing.T, a *Arena, want int) {
	t.Helper()
	if a.Len() != want {
		t.Fatalf("Len() = %d, want %d", a.Len(), want)
	}
}

// -----------------------------------------------------------------------------
// ░░ Constructor ░░
// -----------------------------------------------------------------------------

func TestNewDefaultsAndValidation(t *testing.T) {
	a := New(0)
	if a.BlockSize() != 1<<20 {
		t.Fatalf("default block size = %d", a.BlockSize())
	}
	for _, bad := range []int{-8, 7, 12} {
		bad := bad
		expectPanic(t, "New", func() { New(bad) })
	}
}

// -----------------------------------------------------------------------------
// ░░ Round Trip ░░
// -----------------------------------------------------------------------------

func TestRoundTripMixedTypes(t *testing.T) {
	a := New(256)

	h1 := Append(a, small{A: -7, B: 9})
	h2 := Append(a, wide{X: [13]uint64{1, 2, 3, 12: 42}})
	h3 := Append(a, boxedRec{Name: "kworker/1:0", N: 3})
	h4 := Append(a, int32(17))
	h5 := Append(a, empty{})
	expectLen(t, a, 5)

	if got := Evict[wide](a, h2); got.X[0] != 1 || got.X[12] != 42 {
		t.Fatalf("wide round trip = %+v", got)
	}
	if got := Evict[boxedRec](a, h3); got.Name != "kworker/1:0" || got.N != 3 {
		t.Fatalf("boxed round trip = %+v", got)
	}
	if got := Evict[small](a, h1); got != (small{A: -7, B: 9}) {
		t.Fatalf("small round trip = %+v", got)
	}
	if got := Evict[int32](a, h4); got != 17 {
		t.Fatalf("int32 round trip = %d", got)
	}
	_ = Evict[empty](a, h5)
	expectLen(t, a, 0)
	a.Close()
}

func TestOutOfOrderEvictionRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	a := New(128)

	type rec struct {
		h Handle
		v small
	}
	var live []rec
	for i := 0; i < 5000; i++ {
		if len(live) == 0 || rng.Intn(3) != 0 {
			v := small{A: rng.Int63(), B: rng.Uint32()}
			live = append(live, rec{Append(a, v), v})
			continue
		}
		j := rng.Intn(len(live))
		r := live[j]
		live[j] = live[len(live)-1]
		live = live[:len(live)-1]
		if got := Evict[small](a, r.h); got != r.v {
			t.Fatalf("evict %#x = %+v, want %+v", uint64(r.h), got, r.v)
		}
		if rng.Intn(8) == 0 {
			a.FreeMemory()
		}
	}
	for _, r := range live {
		if got := Evict[small](a, r.h); got != r.v {
			t.Fatalf("final evict = %+v, want %+v", got, r.v)
		}
	}
	a.Close()
}

// -----------------------------------------------------------------------------
// ░░ Reclamation ░░
// -----------------------------------------------------------------------------

func TestFreeMemoryKeepsRetainedHandles(t *testing.T) {
	a := New(64) // header + 16B payload = 24B → two records per block

	var hs []Handle
	for i := 0; i < 10; i++ {
		hs = append(hs, Append(a, small{A: int64(i)}))
	}
	if a.BlockCount() != 5 {
		t.Fatalf("BlockCount = %d, want 5", a.BlockCount())
	}

	for i := 0; i < 6; i++ {
		_ = Evict[small](a, hs[i])
	}
	if n := a.FreeMemory(); n != 3 {
		t.Fatalf("FreeMemory dropped %d blocks, want 3", n)
	}
	if a.BlockCount() != 2 {
		t.Fatalf("BlockCount = %d, want 2", a.BlockCount())
	}

	for i := 6; i < 10; i++ {
		if got := Evict[small](a, hs[i]); got.A != int64(i) {
			t.Fatalf("handle %d after reclamation = %+v", i, got)
		}
	}
	if n := a.FreeMemory(); n != 1 {
		t.Fatalf("last block must be retained, dropped %d", n)
	}
	expectLen(t, a, 0)
	a.Close()
}

func TestFreeMemoryStopsAtUndrainedBlock(t *testing.T) {
	a := New(64)
	h0 := Append(a, small{A: 0})
	_ = Append(a, small{A: 1})
	h2 := Append(a, small{A: 2})
	_ = Evict[small](a, h2)

	if n := a.FreeMemory(); n != 0 {
		t.Fatalf("undrained leading block reclaimed (%d)", n)
	}
	_ = Evict[small](a, h0)
	expectPanic(t, "Close with live record", a.Close)
}

func TestReclaimedHandlePanics(t *testing.T) {
	a := New(64)
	h0 := Append(a, small{})
	h1 := Append(a, small{})
	_ = Append(a, small{})
	_ = Evict[small](a, h0)
	_ = Evict[small](a, h1)
	a.FreeMemory()
	expectPanic(t, "evict reclaimed", func() { Evict[small](a, h0) })
}

// -----------------------------------------------------------------------------
// ░░ NextOffset ░░
// -----------------------------------------------------------------------------

func TestNextOffsetPredictsHandle(t *testing.T) {
	a := New(64)
	for i := 0; i < 7; i++ {
		want := a.NextOffset()
		got := Append(a, int64(i))
		if got != want {
			t.Fatalf("append %d: handle %#x, NextOffset said %#x", i, uint64(got), uint64(want))
		}
	}
}

// -----------------------------------------------------------------------------
// ░░ Contract Violations ░░
// -----------------------------------------------------------------------------

func TestContractViolations(t *testing.T) {
	a := New(64)
	h := Append(a, small{A: 1})

	expectPanic(t, "type mismatch", func() { Evict[int64](a, h) })
	expectPanic(t, "offset past cursor", func() { Evict[small](a, h+64) })
	expectPanic(t, "unknown block", func() { Evict[small](a, Handle(9)<<32) })
	expectPanic(t, "oversized record", func() { Append(a, wide{}) })

	_ = Evict[small](a, h)
	expectPanic(t, "double evict", func() { Evict[small](a, h) })
}

func TestBoxedTypeMismatchPanics(t *testing.T) {
	a := New(64)
	h := Append(a, "payload")
	expectPanic(t, "boxed mismatch", func() { Evict[[]byte](a, h) })
	if s := Evict[string](a, h); s != "payload" {
		t.Fatalf("got %q", s)
	}
	a.Close()
}

func TestHasPointers(t *testing.T) {
	cases := []struct {
		v    any
		want bool
	}{
		{small{}, false},
		{wide{}, false},
		{[0]*int{}, false},
		{boxedRec{}, true},
		{"s", true},
		{[]byte(nil), true},
		{struct{ P *int }{}, true},
	}
	for _, c := range cases {
		if got := hasPointers(reflect.TypeOf(c.v)); got != c.want {
			t.Errorf("hasPointers(%T) = %v, want %v", c.v, got, c.want)
		}
	}
}

// -----------------------------------------------------------------------------
// ░░ Benchmarks ░░
// -----------------------------------------------------------------------------

func BenchmarkAppendEvict(b *testing.B) {
	a := New(0)
	for i := 0; i < b.N; i++ {
		h := Append(a, small{A: int64(i)})
		_ = Evict[small](a, h)
		if i&1023 == 0 {
			a.FreeMemory()
		}
	}
}
