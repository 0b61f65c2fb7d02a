// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package profile

// =============================================================================
// Derived Sample Views
// =============================================================================
//
// The visualizer works with two projections of the same sample index space:
//
//   - the full view: per-sample category taken from the unfiltered stack
//     table, always reflecting what the sample really was;
//   - a filtered view: per-sample stack assignment after range and category
//     filters, which may drop a sample (None) or reassign it to an ancestor
//     stack.
//
// The two views can disagree about which stack a sample effectively belongs
// to; the selection resolver cross-checks both.

// FilterOptions selects the filtered view of a thread's samples.
type FilterOptions struct {
	// RangeStartMilli / RangeEndMilli bound the committed time range.
	// Samples outside [start, end) are dropped. Both zero means no range
	// filter.
	RangeStartMilli float64
	RangeEndMilli   float64

	// DropCategories lists category indices to prune. A sample whose stack
	// has a pruned category is reassigned to its nearest ancestor stack
	// with a kept category, or dropped when no such ancestor exists.
	DropCategories []int32
}

// HasRange reports whether a time range filter is set.
func (o FilterOptions) HasRange() bool {
	return o.RangeStartMilli != 0 || o.RangeEndMilli != 0
}

// FullCategories derives the per-sample category array of the full,
// unfiltered view.
//
// Description:
//
//	For each sample, looks up the category of its originating stack in the
//	unfiltered stack table. Samples without a stack get None. The result
//	is positionally parallel to the thread's sample table and independent
//	of any filtering.
//
// Outputs:
//
//	[]int32 - Category index per sample; None for stack-less samples.
//
// Complexity:
//
//	O(M) for M samples.
func (t *Thread) FullCategories() []int32 {
	out := make([]int32, t.Samples.Len())
	for i, stack := range t.Samples.Stack {
		if stack == None {
			out[i] = None
			continue
		}
		out[i] = t.Stacks.Category[stack]
	}
	return out
}

// FilteredStacks derives the per-sample stack assignment of a filtered view.
//
// Description:
//
//	Applies the range filter (dropped samples map to None) and the
//	category prune (pruned stacks are reassigned upward to the nearest
//	kept ancestor). The reassignment is what makes a sample's filtered
//	call node diverge from its full-view category: the category always
//	reflects the original leaf, the filtered stack may not.
//
// Outputs:
//
//	[]int32 - Stack index per sample in the filtered view; None where the
//	sample is filtered out entirely.
//
// Complexity:
//
//	O(S + M) for S stacks and M samples: pruned reassignment is resolved
//	once per stack in a forward pass, then applied per sample.
func (t *Thread) FilteredStacks(opts FilterOptions) []int32 {
	// Resolve per-stack reassignment first. reassign[i] is the stack that
	// stack i maps to after pruning (possibly i itself, possibly None).
	var reassign []int32
	if len(opts.DropCategories) > 0 {
		dropped := make(map[int32]bool, len(opts.DropCategories))
		for _, c := range opts.DropCategories {
			dropped[c] = true
		}
		reassign = make([]int32, t.Stacks.Len())
		// Topological order guarantees reassign[parent] is final before
		// any child consults it.
		for i := 0; i < t.Stacks.Len(); i++ {
			if !dropped[t.Stacks.Category[i]] {
				reassign[i] = int32(i)
				continue
			}
			parent := t.Stacks.Parent[i]
			if parent == None {
				reassign[i] = None
				continue
			}
			reassign[i] = reassign[parent]
		}
	}

	out := make([]int32, t.Samples.Len())
	for i, stack := range t.Samples.Stack {
		if stack == None {
			out[i] = None
			continue
		}
		if opts.HasRange() {
			ts := t.Samples.TimeMilli[i]
			if ts < opts.RangeStartMilli || ts >= opts.RangeEndMilli {
				out[i] = None
				continue
			}
		}
		if reassign != nil {
			stack = reassign[stack]
		}
		out[i] = stack
	}
	return out
}
