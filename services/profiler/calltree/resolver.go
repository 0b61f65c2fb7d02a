// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package calltree

import (
	"errors"
	"fmt"
)

// ErrInvalidInput indicates a clicked sample the resolver cannot work with:
// the index is out of range, or the sample maps to None in the call-node or
// category array. Callers are expected to reject such clicks upstream.
var ErrInvalidInput = errors.New("invalid clicked sample")

// Selection is the pair of call nodes a click resolves to.
//
// Consumers must dispatch Clicked before Resolved: selecting the exact
// clicked node first forces any linked tree view to expand its ancestry,
// then selecting the resolved node drives the highlight. That two-step
// sequencing is the consumer's contract, not the resolver's; the resolver
// itself is pure.
type Selection struct {
	// Clicked is the exact call node of the clicked sample in the
	// filtered view.
	Clicked int32

	// Resolved is the widest safe ancestor of Clicked: as general as the
	// clicked category region allows without dominating any sample of a
	// different category.
	Resolved int32
}

// Resolver resolves click selections against one call tree, reusing its
// visited-marker scratch buffer across calls.
//
// Thread Safety: NOT safe for concurrent use; the scratch buffer is shared
// mutable state. Use one Resolver per goroutine, or the stateless
// ResolveSelection which allocates per call.
type Resolver struct {
	tree    *Tree
	visited []bool
}

// NewResolver creates a Resolver for the given tree.
func NewResolver(tree *Tree) *Resolver {
	return &Resolver{
		tree:    tree,
		visited: make([]bool, tree.NodeCount()),
	}
}

// ResolveSelection resolves a click with a fresh scratch buffer.
//
// See Resolver.Resolve for the contract. Safe for concurrent callers on a
// shared tree: the tree and sample arrays are only read.
func ResolveSelection(tree *Tree, sampleCallNode, sampleCategory []int32, clickedSample int) (Selection, error) {
	return (&Resolver{tree: tree, visited: make([]bool, tree.NodeCount())}).
		Resolve(sampleCallNode, sampleCategory, clickedSample)
}

// Resolve computes the call node to select for a clicked sample.
//
// Description:
//
//	A click lands on one sample with one exact call node, but the user
//	perceives the whole contiguous same-category region around it. Resolve
//	widens the selection to the most general ancestor of the clicked node
//	that still represents only the clicked category:
//
//	  1. If the clicked node's own category differs from the sample's
//	     full-view category (filtering changed the leaf), no widening
//	     makes sense; the clicked node is returned as is.
//	  2. Otherwise the same-category ancestor chain is built by walking
//	     parent links while the category matches. If the walk reaches a
//	     root, the whole path is uniform and the clicked node is returned
//	     (deliberately conservative: we do not widen to a synthetic
//	     whole-tree selection).
//	  3. Every sample of a different category then narrows the chain:
//	     where such a sample's ancestry intersects the chain, the chain is
//	     truncated to keep only nodes deeper than the conflict, so the
//	     selection never dominates a foreign-category sample.
//	  4. The deepest surviving chain node is the answer; if truncation
//	     emptied the chain, the clicked node is the fallback.
//
//	Truncation is monotonic (the chain only shrinks), so the result is
//	determined by the minimum surviving depth across all conflicts and is
//	independent of sample iteration order. Nodes visited during the
//	conflict scan are marked once and skipped on re-encounter: ancestor
//	paths that merge stay merged, so a marked node's continuation has
//	already been walked.
//
// Inputs:
//
//	sampleCallNode - Per-sample call node of the filtered view (None allowed).
//	sampleCategory - Per-sample category of the full view (None allowed).
//	clickedSample - Index of the clicked sample. Must map to non-None
//	entries in both arrays.
//
// Outputs:
//
//	Selection - The clicked node and the widest safe ancestor.
//	error - ErrInvalidInput if the clicked sample violates the precondition.
//
// Complexity:
//
//	O(M + N) for M samples and N call nodes: one pass over the samples,
//	and each node's ancestry walked at most once via the visited markers.
func (r *Resolver) Resolve(sampleCallNode, sampleCategory []int32, clickedSample int) (Selection, error) {
	tree := r.tree
	if clickedSample < 0 || clickedSample >= len(sampleCallNode) || clickedSample >= len(sampleCategory) {
		return Selection{Clicked: None, Resolved: None},
			fmt.Errorf("%w: sample %d out of range", ErrInvalidInput, clickedSample)
	}
	clicked := sampleCallNode[clickedSample]
	clickedCategory := sampleCategory[clickedSample]
	if clicked == None || clickedCategory == None {
		return Selection{Clicked: None, Resolved: None},
			fmt.Errorf("%w: sample %d has no stack", ErrInvalidInput, clickedSample)
	}

	// Step 1: the exact node already disagrees with the clicked category
	// at the leaf (filtering changed it); widening would highlight the
	// wrong thing.
	if tree.Category(clicked) != clickedCategory {
		return Selection{Clicked: clicked, Resolved: clicked}, nil
	}

	// Step 2: same-category ancestor chain, closest first. chain[k] has
	// depth clickedDepth-k.
	chain := []int32{clicked}
	node := clicked
	for {
		parent := tree.Parent(node)
		if parent == None {
			// The entire path up to a root is uniformly the clicked
			// category. Conservative fallback: select the clicked node
			// rather than the whole tree.
			return Selection{Clicked: clicked, Resolved: clicked}, nil
		}
		if tree.Category(parent) != clickedCategory {
			break
		}
		chain = append(chain, parent)
		node = parent
	}

	// Step 3: narrow the chain against foreign-category samples.
	clickedDepth := tree.Depth(clicked)
	chainLen := r.truncateChain(chain, clickedDepth, sampleCallNode, sampleCategory, clickedCategory)

	if chainLen == 0 {
		// Every candidate ancestor, the clicked node included, dominates
		// some foreign-category sample in the filtered view.
		return Selection{Clicked: clicked, Resolved: clicked}, nil
	}
	return Selection{Clicked: clicked, Resolved: chain[chainLen-1]}, nil
}

// truncateChain scans all samples and returns the surviving chain length.
//
// For each sample whose full-view category differs from clickedCategory,
// the sample's call-node ancestry is climbed into the chain's depth window;
// if an ancestor coincides with chain position k, positions k and shallower
// are cut. The visited buffer guarantees each call node is climbed through
// at most once across the whole scan.
func (r *Resolver) truncateChain(chain []int32, clickedDepth int32, sampleCallNode, sampleCategory []int32, clickedCategory int32) int {
	tree := r.tree
	visited := r.visited
	for i := range visited {
		visited[i] = false
	}

	chainLen := len(chain)
	for s := 0; s < len(sampleCallNode); s++ {
		category := sampleCategory[s]
		if category == None || category == clickedCategory {
			continue
		}
		node := sampleCallNode[s]
		for node != None {
			if visited[node] {
				// An earlier walk already continued from here; its
				// conflict, if any, has been applied, and truncation
				// never grows the chain back.
				break
			}
			visited[node] = true

			if d := tree.Depth(node); d <= clickedDepth {
				minDepth := clickedDepth - int32(chainLen-1)
				if d < minDepth {
					// Shallower than every surviving chain node; the
					// rest of this ancestry cannot intersect.
					break
				}
				if k := clickedDepth - d; chain[k] == node {
					// Conflict at position k: keep only deeper nodes.
					chainLen = int(k)
					break
				}
			}
			node = tree.Parent(node)
		}
		if chainLen == 0 {
			break
		}
	}
	return chainLen
}
