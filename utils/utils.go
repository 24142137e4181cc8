package utils

import "unsafe"

///////////////////////////////////////////////////////////////////////////////
// Conversion Utilities - Zero-Alloc Casts
///////////////////////////////////////////////////////////////////////////////

// B2s converts a []byte to a string **without** allocation.
// ⚠️ Caller must ensure the input slice remains valid and unchanged.
//
//go:nosplit
//go:inline
func B2s(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}

///////////////////////////////////////////////////////////////////////////////
// Decimal Parsers - For ftrace text fields
///////////////////////////////////////////////////////////////////////////////

// ParseDecU64 parses leading ASCII digits. It returns the value and the
// number of bytes consumed; n == 0 means no digit was found.
//
//go:nosplit
//go:inline
func ParseDecU64(b []byte) (v uint64, n int) {
	for n < len(b) {
		c := b[n] - '0'
		if c > 9 {
			break
		}
		v = v*10 + uint64(c)
		n++
	}
	return v, n
}

// ParseDecI64 parses an optionally signed decimal prefix.
//
//go:nosplit
//go:inline
func ParseDecI64(b []byte) (int64, int) {
	if len(b) > 0 && b[0] == '-' {
		v, n := ParseDecU64(b[1:])
		if n == 0 {
			return 0, 0
		}
		return -int64(v), n + 1
	}
	v, n := ParseDecU64(b)
	return int64(v), n
}

// ParseTimestampNs parses ftrace "seconds.micros" (any fraction width up to
// nanoseconds) into nanoseconds. ok is false for malformed input.
func ParseTimestampNs(b []byte) (ns int64, ok bool) {
	sec, n := ParseDecU64(b)
	if n == 0 {
		return 0, false
	}
	ns = int64(sec) * 1_000_000_000
	if n == len(b) {
		return ns, true
	}
	if b[n] != '.' {
		return 0, false
	}
	frac := b[n+1:]
	if len(frac) == 0 || len(frac) > 9 {
		return 0, false
	}
	f, m := ParseDecU64(frac)
	if m != len(frac) {
		return 0, false
	}
	for i := len(frac); i < 9; i++ {
		f *= 10
	}
	return ns + int64(f), true
}

///////////////////////////////////////////////////////////////////////////////
// Hashing Utilities
///////////////////////////////////////////////////////////////////////////////

// Mix64 applies a Murmur3-style avalanche to a 64-bit value.
// Used to spread small integer keys (tids) across hash slots.
//
//go:nosplit
//go:inline
func Mix64(x uint64) uint64 {
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	return x
}

// NextPow2 returns the smallest power of two >= n (1 for n <= 1).
//
//go:nosplit
//go:inline
func NextPow2(n int) int {
	s := 1
	for s < n {
		s <<= 1
	}
	return s
}

// AlignUp rounds n up to a multiple of a (a must be a power of two).
//
//go:nosplit
//go:inline
func AlignUp(n, a int) int {
	return (n + a - 1) &^ (a - 1)
}
