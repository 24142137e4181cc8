// ════════════════════════════════════════════════════════════════════════════════════════════════
// ROBIN HOOD HASH TABLE
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Component: Key → dense index map (thread ids → utids, string interning)
//
// Description:
//   Open-addressing hash map using Robin Hood displacement. Keys and values sit in parallel
//   arrays; key 0 is the empty sentinel, so callers offset keys that may legitimately be 0.
//   The table doubles once it is half full, keeping probe sequences short.
//
// Semantics:
//   Put is insert-if-absent: an existing key keeps its first value, and Put returns the value
//   now stored. Nothing is ever deleted.
// ════════════════════════════════════════════════════════════════════════════════════════════════

package localidx

import (
	"github.com/cockroachdb/errors"

	"traceproc/utils"
)

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// TYPE DEFINITIONS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Hash maps non-zero uint64 keys to uint32 values. Single-threaded.
type Hash struct {
	keys  []uint64 // 0 = empty
	vals  []uint32
	mask  uint64
	count int
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// CONSTRUCTOR
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// New creates a map sized for capacity entries at 50% load.
func New(capacity int) *Hash {
	sz := utils.NextPow2(max(capacity, 4) * 2)
	return &Hash{
		keys: make([]uint64, sz),
		vals: make([]uint32, sz),
		mask: uint64(sz - 1),
	}
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// CORE OPERATIONS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Put inserts key → val unless key is present, and returns the stored value.
func (h *Hash) Put(key uint64, val uint32) uint32 {
	if key == 0 {
		panic(errors.AssertionFailedf("localidx: key 0 is reserved"))
	}
	if v, ok := h.Get(key); ok {
		return v
	}
	if (h.count+1)*2 > len(h.keys) {
		h.grow()
	}
	h.insert(key, val)
	h.count++
	return val
}

// Get returns the value stored for key.
func (h *Hash) Get(key uint64) (uint32, bool) {
	i := utils.Mix64(key) & h.mask
	dist := uint64(0)
	for {
		k := h.keys[i]
		if k == 0 {
			return 0, false
		}
		if k == key {
			return h.vals[i], true
		}
		// An occupant nearer its home than we are to ours means key is absent.
		if h.distance(k, i) < dist {
			return 0, false
		}
		i = (i + 1) & h.mask
		dist++
	}
}

// Len returns the number of keys.
func (h *Hash) Len() int { return h.count }

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// INTERNALS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

func (h *Hash) distance(k, slot uint64) uint64 {
	return (slot + h.mask + 1 - (utils.Mix64(k) & h.mask)) & h.mask
}

// insert places a key known to be absent.
func (h *Hash) insert(key uint64, val uint32) {
	i := utils.Mix64(key) & h.mask
	dist := uint64(0)
	for {
		k := h.keys[i]
		if k == 0 {
			h.keys[i], h.vals[i] = key, val
			return
		}
		if kd := h.distance(k, i); kd < dist {
			key, h.keys[i] = h.keys[i], key
			val, h.vals[i] = h.vals[i], val
			dist = kd
		}
		i = (i + 1) & h.mask
		dist++
	}
}

func (h *Hash) grow() {
	oldKeys, oldVals := h.keys, h.vals
	sz := len(oldKeys) * 2
	h.keys = make([]uint64, sz)
	h.vals = make([]uint32, sz)
	h.mask = uint64(sz - 1)
	for i, k := range oldKeys {
		if k != 0 {
			h.insert(k, oldVals[i])
		}
	}
}
