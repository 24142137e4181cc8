package utils

import (
	"testing"
)

// ============================================================================
// ZERO-ALLOCATION TYPE CONVERSION TESTS
// ============================================================================

func TestB2s(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{name: "Empty slice", input: []byte{}, expected: ""},
		{name: "Nil slice", input: nil, expected: ""},
		{name: "ASCII", input: []byte("sched_switch"), expected: "sched_switch"},
		{name: "UTF-8", input: []byte("kworker/0:1H-ü"), expected: "kworker/0:1H-ü"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := B2s(tt.input); got != tt.expected {
				t.Errorf("B2s(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestB2s_ZeroAllocation(t *testing.T) {
	b := []byte("cpu_frequency")
	allocs := testing.AllocsPerRun(100, func() {
		_ = B2s(b)
	})
	if allocs != 0 {
		t.Errorf("B2s allocated %.1f times, want 0", allocs)
	}
}

// ============================================================================
// DECIMAL PARSING TESTS
// ============================================================================

func TestParseDecU64(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
		n    int
	}{
		{"", 0, 0},
		{"x", 0, 0},
		{"0", 0, 1},
		{"1234 rest", 1234, 4},
		{"18446744073709551615", 18446744073709551615, 20},
	}
	for _, tt := range tests {
		v, n := ParseDecU64([]byte(tt.in))
		if v != tt.want || n != tt.n {
			t.Errorf("ParseDecU64(%q) = %d,%d ; want %d,%d", tt.in, v, n, tt.want, tt.n)
		}
	}
}

func TestParseDecI64(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		n    int
	}{
		{"-", 0, 0},
		{"-12", -12, 3},
		{"120]", 120, 3},
		{"abc", 0, 0},
	}
	for _, tt := range tests {
		v, n := ParseDecI64([]byte(tt.in))
		if v != tt.want || n != tt.n {
			t.Errorf("ParseDecI64(%q) = %d,%d ; want %d,%d", tt.in, v, n, tt.want, tt.n)
		}
	}
}

func TestParseTimestampNs(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"12", 12_000_000_000, true},
		{"12.5", 12_500_000_000, true},
		{"4891.253104", 4_891_253_104_000, true},
		{"0.000000001", 1, true},
		{"1.0000000001", 0, false},
		{"1.", 0, false},
		{"1.2x", 0, false},
		{".5", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseTimestampNs([]byte(tt.in))
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseTimestampNs(%q) = %d,%v ; want %d,%v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

// ============================================================================
// HASHING & ALIGNMENT TESTS
// ============================================================================

func TestMix64(t *testing.T) {
	if Mix64(0) != 0 {
		t.Fatal("Mix64(0) must be 0")
	}
	seen := make(map[uint64]uint64, 4096)
	for i := uint64(1); i <= 4096; i++ {
		h := Mix64(i)
		if h != Mix64(i) {
			t.Fatalf("Mix64 not deterministic for %d", i)
		}
		if prev, ok := seen[h]; ok {
			t.Fatalf("Mix64 collision: %d and %d", prev, i)
		}
		seen[h] = i
	}
}

func TestNextPow2(t *testing.T) {
	cases := map[int]int{-3: 1, 0: 1, 1: 1, 2: 2, 3: 4, 1000: 1024, 1024: 1024}
	for in, want := range cases {
		if got := NextPow2(in); got != want {
			t.Errorf("NextPow2(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestAlignUp(t *testing.T) {
	cases := [][3]int{{0, 8, 0}, {1, 8, 8}, {8, 8, 8}, {9, 8, 16}, {17, 16, 32}}
	for _, c := range cases {
		if got := AlignUp(c[0], c[1]); got != c[2] {
			t.Errorf("AlignUp(%d,%d) = %d, want %d", c[0], c[1], got, c[2])
		}
	}
}

func BenchmarkParseTimestampNs(b *testing.B) {
	in := []byte("4891.253104")
	for i := 0; i < b.N; i++ {
		_, _ = ParseTimestampNs(in)
	}
}
