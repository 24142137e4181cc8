package intersect

import (
	"sort"

	"traceproc/constants"
	"traceproc/intervaltree"
)

// Strategy is how an Intersector answers overlap probes.
type Strategy uint8

const (
	// StrategyNaive scans every interval; cheapest for a handful of probes.
	StrategyNaive Strategy = iota
	// StrategyBinarySearch needs intervals that do not overlap each other.
	StrategyBinarySearch
	// StrategyTree builds an interval tree.
	StrategyTree
)

func (s Strategy) String() string {
	switch s {
	case StrategyNaive:
		return "naive"
	case StrategyBinarySearch:
		return "binary_search"
	case StrategyTree:
		return "tree"
	}
	return "unknown"
}

// DecideStrategy picks a strategy for a set of intervals that will be probed
// queries times.
func DecideStrategy(nonOverlapping bool, queries int) Strategy {
	if nonOverlapping {
		return StrategyBinarySearch
	}
	if queries < constants.IntersectNaiveLimit {
		return StrategyNaive
	}
	return StrategyTree
}

// Intersector answers clipped overlap probes against a fixed interval set.
type Intersector struct {
	ivs      []intervaltree.Interval // sorted by start
	strategy Strategy
	tree     *intervaltree.Tree
	scratch  []intervaltree.Interval
}

// NewIntersector wraps sorted. StrategyBinarySearch requires sorted to be
// non-overlapping.
func NewIntersector(sorted []intervaltree.Interval, s Strategy) *Intersector {
	x := &Intersector{ivs: sorted, strategy: s}
	if s == StrategyTree {
		x.tree = intervaltree.Build(sorted)
	}
	return x
}

// Strategy returns the strategy in use.
func (x *Intersector) Strategy() Strategy { return x.strategy }

// AppendOverlaps appends to dst every stored interval overlapping
// [start, end), clipped to that range.
func (x *Intersector) AppendOverlaps(dst []intervaltree.Interval, start, end uint64) []intervaltree.Interval {
	clip := func(iv intervaltree.Interval) intervaltree.Interval {
		return intervaltree.Interval{Start: max(start, iv.Start), End: min(end, iv.End), ID: iv.ID}
	}
	switch x.strategy {
	case StrategyBinarySearch:
		// Ends are sorted too when intervals do not overlap.
		i := sort.Search(len(x.ivs), func(i int) bool { return x.ivs[i].End > start })
		for ; i < len(x.ivs) && x.ivs[i].Start < end; i++ {
			dst = append(dst, clip(x.ivs[i]))
		}
	case StrategyTree:
		x.scratch = x.tree.AppendOverlaps(x.scratch[:0], start, end)
		for _, iv := range x.scratch {
			dst = append(dst, clip(iv))
		}
	default:
		for _, iv := range x.ivs {
			if iv.Start >= end {
				break
			}
			if iv.End > start {
				dst = append(dst, clip(iv))
			}
		}
	}
	return dst
}

// nonOverlapping reports whether sorted intervals are pairwise disjoint.
func nonOverlapping(sorted []intervaltree.Interval) bool {
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Start < sorted[i-1].End {
			return false
		}
	}
	return true
}
