// ════════════════════════════════════════════════════════════════════════════════════════════════
// VARIADIC ARENA
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Component: Block-structured record arena for the trace sorter
//
// Description:
//   Append-only arena storing heterogeneous fixed-layout records. Every record gets a stable
//   Handle that stays valid until the record is evicted. Blocks are held in a deque addressed by
//   a monotonically increasing logical block number, so reclaiming drained leading blocks is a
//   pop-front with no handle correction.
//
// Record layout (8-byte aligned):
//   [header 8B][payload Sizeof(T) rounded up to 8B]
//   header low 32 bits : size tag | boxed bit | evicted bit
//   header high 32 bits: side slot index + 1 (boxed records only)
//
//   Types without pointers are copied into block memory. Types carrying pointers live in the
//   block's side slots so the garbage collector keeps seeing them; the header still records the
//   size tag so eviction checks stay uniform.
//
// Contract:
//   Every precondition failure (bad handle, double eviction, type mismatch, undrained Close) is a
//   programming error and panics with an assertion failure.
// ════════════════════════════════════════════════════════════════════════════════════════════════

package arena

import (
	"reflect"
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"

	"traceproc/constants"
	"traceproc/utils"
)

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// TYPE DEFINITIONS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Handle addresses one record: logical block number in the high 32 bits,
// byte offset inside the block in the low 32 bits.
type Handle uint64

// Block returns the logical block number.
func (h Handle) Block() uint32 { return uint32(h >> 32) }

// Offset returns the byte offset inside the block.
func (h Handle) Offset() uint32 { return uint32(h) }

const (
	evictedBit = 1 << 31
	boxedBit   = 1 << 30
	sizeMask   = boxedBit - 1

	headerWords = constants.ArenaHeaderSize / 8
)

type block struct {
	words    []uint64 // record storage, pointer-free by construction
	offset   int      // bytes used; only grows
	appended int      // records appended
	evicted  int      // records evicted
	slots    []any    // pointer-carrying records
}

// Arena is a single-threaded record arena. The zero value is not usable;
// call New.
type Arena struct {
	blocks    []*block // deque; blocks[0] has logical number first
	first     uint32   // logical number of blocks[0]
	blockSize int      // bytes per block
	live      int      // appended - evicted across all blocks
	spare     *block   // one drained block kept for reuse
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// CONSTRUCTOR
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// New creates an arena with blocks of blockSize bytes. blockSize must be a
// positive multiple of 8 below 1 GiB; 0 selects constants.ArenaBlockSize.
func New(blockSize int) *Arena {
	if blockSize == 0 {
		blockSize = constants.ArenaBlockSize
	}
	if blockSize <= 0 || blockSize%constants.ArenaRecordAlign != 0 || blockSize > sizeMask {
		panic(errors.AssertionFailedf("arena: invalid block size %d", blockSize))
	}
	return &Arena{blockSize: blockSize}
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// CORE OPERATIONS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Append stores v and returns its handle. A new block is opened first when
// the current one lacks room.
func Append[T any](a *Arena, v T) Handle {
	size := int(unsafe.Sizeof(v))
	boxed := hasPointers(reflect.TypeOf((*T)(nil)).Elem())

	need := constants.ArenaHeaderSize
	if !boxed {
		need += utils.AlignUp(size, constants.ArenaRecordAlign)
	}
	if need > a.blockSize {
		panic(errors.AssertionFailedf("arena: record of %d bytes exceeds block size %d", need, a.blockSize))
	}

	b := a.tail()
	if b == nil || b.offset+need > a.blockSize {
		b = a.grow()
	}

	off := b.offset
	w := off / 8
	hdr := uint64(size)
	if boxed {
		b.slots = append(b.slots, v)
		hdr |= boxedBit | uint64(len(b.slots))<<32
	} else if size > 0 {
		*(*T)(unsafe.Pointer(&b.words[w+headerWords])) = v
	}
	b.words[w] = hdr
	b.offset += need
	b.appended++
	a.live++

	return Handle(uint64(a.first+uint32(len(a.blocks)-1))<<32 | uint64(off))
}

// Evict moves the record at h out of the arena and returns it. T must be the
// type the record was appended with.
func Evict[T any](a *Arena, h Handle) T {
	b := a.locate(h)
	w := int(h.Offset()) / 8
	hdr := b.words[w]
	tag := uint32(hdr)

	var zero T
	size := uint32(unsafe.Sizeof(zero))
	if tag&evictedBit != 0 {
		panic(errors.AssertionFailedf("arena: handle %#x already evicted", uint64(h)))
	}
	if tag&sizeMask != size {
		panic(errors.AssertionFailedf("arena: handle %#x holds %d bytes, evicted as %d", uint64(h), tag&sizeMask, size))
	}

	var v T
	if tag&boxedBit != 0 {
		idx := int(hdr>>32) - 1
		got, ok := b.slots[idx].(T)
		if !ok {
			panic(errors.AssertionFailedf("arena: handle %#x holds %T", uint64(h), b.slots[idx]))
		}
		v = got
		b.slots[idx] = nil
	} else if size > 0 {
		p := (*T)(unsafe.Pointer(&b.words[w+headerWords]))
		v = *p
		*p = zero
	}

	b.words[w] = hdr | evictedBit
	b.evicted++
	a.live--
	return v
}

// FreeMemory drops every fully drained leading block except the current
// one and returns how many were dropped. Handles into retained blocks keep
// their meaning.
func (a *Arena) FreeMemory() int {
	n := 0
	for len(a.blocks) > 1 && a.blocks[0].appended == a.blocks[0].evicted {
		a.recycle(a.blocks[0])
		a.blocks[0] = nil
		a.blocks = a.blocks[1:]
		a.first++
		n++
	}
	return n
}

// NextOffset returns the handle the next Append receives when its record
// fits in the current block.
func (a *Arena) NextOffset() Handle {
	b := a.tail()
	if b == nil {
		return Handle(uint64(a.first) << 32)
	}
	logical := a.first + uint32(len(a.blocks)-1)
	if b.offset >= a.blockSize {
		return Handle(uint64(logical+1) << 32)
	}
	return Handle(uint64(logical)<<32 | uint64(b.offset))
}

// Close asserts that every appended record was evicted and releases all
// blocks.
func (a *Arena) Close() {
	if a.live != 0 {
		panic(errors.AssertionFailedf("arena: %d records were never evicted", a.live))
	}
	a.blocks = nil
	a.spare = nil
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// ACCESSORS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Len returns the number of resident (appended, not evicted) records.
func (a *Arena) Len() int { return a.live }

// BlockCount returns the number of blocks currently held.
func (a *Arena) BlockCount() int { return len(a.blocks) }

// Resident returns the bytes held by live blocks.
func (a *Arena) Resident() int { return len(a.blocks) * a.blockSize }

// BlockSize returns the configured block size.
func (a *Arena) BlockSize() int { return a.blockSize }

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// INTERNALS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

func (a *Arena) tail() *block {
	if len(a.blocks) == 0 {
		return nil
	}
	return a.blocks[len(a.blocks)-1]
}

func (a *Arena) grow() *block {
	b := a.spare
	a.spare = nil
	if b == nil {
		b = &block{words: make([]uint64, a.blockSize/8)}
	}
	a.blocks = append(a.blocks, b)
	return b
}

func (a *Arena) recycle(b *block) {
	if a.spare != nil {
		return
	}
	clear(b.words[:b.offset/8])
	clear(b.slots)
	b.slots = b.slots[:0]
	b.offset, b.appended, b.evicted = 0, 0, 0
	a.spare = b
}

func (a *Arena) locate(h Handle) *block {
	n := h.Block()
	if n < a.first || n-a.first >= uint32(len(a.blocks)) {
		panic(errors.AssertionFailedf("arena: handle %#x refers to block %d, resident %d..%d",
			uint64(h), n, a.first, a.first+uint32(len(a.blocks))))
	}
	b := a.blocks[n-a.first]
	off := int(h.Offset())
	if off%constants.ArenaRecordAlign != 0 || off >= b.offset {
		panic(errors.AssertionFailedf("arena: handle %#x offset %d outside block cursor %d", uint64(h), off, b.offset))
	}
	return b
}

var pointerCache sync.Map // reflect.Type → bool

// hasPointers reports whether values of t contain anything the garbage
// collector must trace.
func hasPointers(t reflect.Type) bool {
	if v, ok := pointerCache.Load(t); ok {
		return v.(bool)
	}
	r := scanPointers(t)
	pointerCache.Store(t, r)
	return r
}

func scanPointers(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return false
	case reflect.Array:
		return t.Len() > 0 && scanPointers(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if scanPointers(t.Field(i).Type) {
				return true
			}
		}
		return false
	default:
		return true
	}
}
