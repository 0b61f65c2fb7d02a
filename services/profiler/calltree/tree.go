// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package calltree builds call trees from profile stack tables and resolves
// click selections against them.
//
// A call tree groups stacks by call path: two stacks that reach the same
// function through the same chain of callers share one call node. The tree
// is stored as flat parallel arrays indexed by call node ID (parent, func,
// depth, category), the natural representation for O(1) parent lookup with
// no ownership cycles.
package calltree

import (
	"github.com/AleutianAI/AleutianProfiler/services/profiler/profile"
)

// None is the sentinel call node ID for "no node".
const None int32 = -1

// Tree is an immutable call tree over one thread's stack table.
//
// Node IDs are dense integers in [0, NodeCount). Roots have parent None and
// depth 0; every other node's depth is its parent's depth plus one, by
// construction.
//
// Thread Safety: Immutable after FromThread; safe for concurrent readers.
type Tree struct {
	parent   []int32
	fn       []int32
	depth    []int32
	category []int32

	// stackToNode maps each stack table index to its call node.
	stackToNode []int32
}

// FromThread builds the call tree for a thread's full stack table.
//
// Description:
//
//	Walks the stack table in topological order and deduplicates by
//	(parent call node, func): stacks that represent the same call path
//	collapse into a single call node. The first stack to reach a call
//	path determines the node's category; later stacks with the same path
//	share the node.
//
// Outputs:
//
//	*Tree - The immutable call tree, plus the stack-to-node index used to
//	map sample stack assignments onto call nodes.
//
// Complexity:
//
//	O(S) for S stacks, with a map keyed by (parent node, func).
func FromThread(t *profile.Thread) *Tree {
	nStacks := t.Stacks.Len()
	tree := &Tree{
		parent:      make([]int32, 0, nStacks),
		fn:          make([]int32, 0, nStacks),
		depth:       make([]int32, 0, nStacks),
		category:    make([]int32, 0, nStacks),
		stackToNode: make([]int32, nStacks),
	}

	type pathKey struct {
		parent int32
		fn     int32
	}
	nodeIndex := make(map[pathKey]int32, nStacks)

	for i := 0; i < nStacks; i++ {
		parentNode := None
		if ps := t.Stacks.Parent[i]; ps != profile.None {
			// Topological order: the parent stack is already mapped.
			parentNode = tree.stackToNode[ps]
		}
		fn := t.Frames.Func[t.Stacks.Frame[i]]

		key := pathKey{parent: parentNode, fn: fn}
		node, ok := nodeIndex[key]
		if !ok {
			node = int32(len(tree.parent))
			depth := int32(0)
			if parentNode != None {
				depth = tree.depth[parentNode] + 1
			}
			tree.parent = append(tree.parent, parentNode)
			tree.fn = append(tree.fn, fn)
			tree.depth = append(tree.depth, depth)
			tree.category = append(tree.category, t.Stacks.Category[i])
			nodeIndex[key] = node
		}
		tree.stackToNode[i] = node
	}
	return tree
}

// NodeCount returns the number of call nodes.
func (t *Tree) NodeCount() int { return len(t.parent) }

// Parent returns the parent of node, or None for roots.
func (t *Tree) Parent(node int32) int32 { return t.parent[node] }

// Depth returns the depth of node (roots are 0).
func (t *Tree) Depth(node int32) int32 { return t.depth[node] }

// Category returns the category index of node.
func (t *Tree) Category(node int32) int32 { return t.category[node] }

// Func returns the func table index of node.
func (t *Tree) Func(node int32) int32 { return t.fn[node] }

// StackNode returns the call node for a stack table index, or None.
func (t *Tree) StackNode(stack int32) int32 {
	if stack == None {
		return None
	}
	return t.stackToNode[stack]
}

// SampleNodes maps a per-sample stack assignment onto call nodes.
//
// The input is positionally parallel to the thread's sample table, as
// produced by profile.Thread.FilteredStacks; None entries pass through.
func (t *Tree) SampleNodes(sampleStacks []int32) []int32 {
	out := make([]int32, len(sampleStacks))
	for i, stack := range sampleStacks {
		out[i] = t.StackNode(stack)
	}
	return out
}

// PathToRoot returns the node IDs from the root down to node, inclusive.
//
// The slice length equals Depth(node)+1. Used by the selection handler to
// convert a resolved node into the root-to-node path the front end displays.
func (t *Tree) PathToRoot(node int32) []int32 {
	path := make([]int32, t.depth[node]+1)
	for i := len(path) - 1; i >= 0; i-- {
		path[i] = node
		node = t.parent[node]
	}
	return path
}

// IsAncestorOrSelf reports whether a is node itself or one of its ancestors.
func (t *Tree) IsAncestorOrSelf(a, node int32) bool {
	for node != None && t.depth[node] >= t.depth[a] {
		if node == a {
			return true
		}
		node = t.parent[node]
	}
	return false
}
