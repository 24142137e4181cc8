// ════════════════════════════════════════════════════════════════════════════════════════════════
// STATIC INTERVAL TREE
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Component: Augmented interval tree for interval-join queries
//
// Description:
//   Balanced binary tree over half-open intervals, built in one pass from an array sorted by start.
//   The median of every contiguous sub-range becomes the subtree root, so height is
//   ceil(log2(N+1)) without any rebalancing. Each node carries the maximum end of its subtree.
//
// Storage:
//   Nodes live in one slice and link by int32 index (-1 = none). Queries walk the tree with an
//   explicit stack and never allocate beyond the result.
//
// Overlap:
//   [a,b) and [c,d) overlap iff a < d && b > c. Touching endpoints never overlap.
// ════════════════════════════════════════════════════════════════════════════════════════════════

package intervaltree

import "github.com/cockroachdb/errors"

// Interval is a half-open [Start, End) range tagged with a row id.
type Interval struct {
	Start uint64
	End   uint64
	ID    uint32
}

// Overlaps reports whether iv and o share any point.
func (iv Interval) Overlaps(o Interval) bool {
	return iv.Start < o.End && iv.End > o.Start
}

const none int32 = -1

type node struct {
	iv    Interval
	max   uint64 // largest End in this subtree
	left  int32
	right int32
}

// Tree is immutable after Build apart from the Insert slow path. Concurrent
// queries are safe as long as nobody inserts.
type Tree struct {
	nodes  []node
	root   int32
	height int
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// CONSTRUCTION
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Build creates a balanced tree from intervals sorted by Start. Unsorted
// input is a contract violation.
func Build(sorted []Interval) *Tree {
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Start < sorted[i-1].Start {
			panic(errors.AssertionFailedf("intervaltree: input not sorted at %d (%d < %d)",
				i, sorted[i].Start, sorted[i-1].Start))
		}
	}
	t := &Tree{nodes: make([]node, 0, len(sorted)), root: none}
	t.root, t.height = t.build(sorted, 0, len(sorted)-1)
	return t
}

func (t *Tree) build(ivs []Interval, lo, hi int) (int32, int) {
	if lo > hi {
		return none, 0
	}
	mid := lo + (hi-lo)/2
	idx := int32(len(t.nodes))
	t.nodes = append(t.nodes, node{iv: ivs[mid], max: ivs[mid].End, left: none, right: none})

	l, lh := t.build(ivs, lo, mid-1)
	r, rh := t.build(ivs, mid+1, hi)

	n := &t.nodes[idx]
	n.left, n.right = l, r
	if l != none {
		n.max = max(n.max, t.nodes[l].max)
	}
	if r != none {
		n.max = max(n.max, t.nodes[r].max)
	}
	return idx, 1 + max(lh, rh)
}

// Insert adds iv without rebalancing. Slower to query than Build when fed
// sorted input; meant for small incremental sets.
func (t *Tree) Insert(iv Interval) {
	idx := int32(len(t.nodes))
	t.nodes = append(t.nodes, node{iv: iv, max: iv.End, left: none, right: none})
	if t.root == none {
		t.root = idx
		t.height = 1
		return
	}

	depth := 1
	cur := t.root
	for {
		n := &t.nodes[cur]
		n.max = max(n.max, iv.End)
		depth++
		if iv.Start < n.iv.Start {
			if n.left == none {
				n.left = idx
				break
			}
			cur = n.left
		} else {
			if n.right == none {
				n.right = idx
				break
			}
			cur = n.right
		}
	}
	t.height = max(t.height, depth)
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// QUERIES
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// FindOverlaps returns the ids of every stored interval overlapping q, in
// order of start.
func (t *Tree) FindOverlaps(q Interval) []uint32 {
	var out []uint32
	t.walk(q.Start, q.End, func(iv *Interval) { out = append(out, iv.ID) })
	return out
}

// AppendOverlaps appends every stored interval overlapping [start, end) to
// dst, in order of start.
func (t *Tree) AppendOverlaps(dst []Interval, start, end uint64) []Interval {
	t.walk(start, end, func(iv *Interval) { dst = append(dst, *iv) })
	return dst
}

// walk is a pruned in-order traversal. A subtree is entered only while its
// max end lies past start; once a node starts at or after end every later
// node does too.
func (t *Tree) walk(start, end uint64, fn func(*Interval)) {
	if t.root == none {
		return
	}
	stack := make([]int32, 0, t.height)
	cur := t.root
	for {
		for cur != none {
			n := &t.nodes[cur]
			if n.max <= start {
				break
			}
			stack = append(stack, cur)
			cur = n.left
		}
		if len(stack) == 0 {
			return
		}
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n := &t.nodes[top]
		if n.iv.Start >= end {
			return
		}
		if n.iv.End > start {
			fn(&n.iv)
		}
		cur = n.right
	}
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// ACCESSORS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Len returns the number of stored intervals.
func (t *Tree) Len() int { return len(t.nodes) }

// Height returns the number of levels.
func (t *Tree) Height() int { return t.height }
