// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: constants.go - Ingest, Sorter & Query Tunables
//
// Purpose:
//   - Defines compile-time tunables for the sort arena, the flush window,
//     the chunked ingest path and the interval_intersect operator.
//   - Runtime overrides live in the config package; these are the defaults.
//
// ⚠️ No runtime logic here - all values must be compile-time resolvable
// ─────────────────────────────────────────────────────────────────────────────

package constants

import "time"

// ─────────────────────────────── Sort Arena ────────────────────────────────

const (
	// ArenaBlockSize is the capacity of one arena block in bytes: 1 MiB.
	// A record (header + payload) must fit in a single block.
	ArenaBlockSize = 1 << 20

	// ArenaRecordAlign is the alignment of every record inside a block.
	ArenaRecordAlign = 8

	// ArenaHeaderSize is the per-record header: size tag + side slot index.
	ArenaHeaderSize = 8
)

// ─────────────────────────────── Flush Window ──────────────────────────────

const (
	// DefaultSortWindow bounds cross-channel skew when the trace carries no
	// flush period.
	DefaultSortWindow = 3 * time.Minute

	// FlushPeriodMultiplier converts a flush period into a window: one period
	// of skew plus one missed flush response.
	FlushPeriodMultiplier = 2

	// FlushesBeforeExtraction is the number of flush markers that must be seen
	// before a read-buffer marker extracts anything.
	FlushesBeforeExtraction = 2
)

// ─────────────────────────────── Ingest Path ───────────────────────────────

const (
	// ChunkSize is the read size of the ingest reader: 512 KiB.
	ChunkSize = 512 << 10

	// RingSize is the number of chunks in flight between reader and
	// tokenizer. Must be a power of two.
	RingSize = 16

	// MaxCPUs caps the per-cpu scheduling state.
	MaxCPUs = 1024

	// JSONChannelBase offsets JSON thread channels away from cpu channels.
	JSONChannelBase = 1 << 16

	// ThreadTableHint is the initial capacity of the tid → utid index.
	ThreadTableHint = 1 << 10
)

// ─────────────────────────────── Scheduling ────────────────────────────────

const (
	// TaskStateLimit: prev_state values at or above this bound are invalid.
	TaskStateLimit = 2048

	// TaskStateRunnable is the end state given to slices still open at the
	// end of the trace.
	TaskStateRunnable = 0
)

// ──────────────────────────── interval_intersect ───────────────────────────

const (
	// IntersectExtraColumns is the number of cN partition columns (c0..c8).
	IntersectExtraColumns = 9

	// IntersectNaiveLimit: below this many probes a linear scan beats a tree.
	IntersectNaiveLimit = 32
)
