// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package profile defines the performance-profile data model consumed by the
// Aleutian Profiler service: threads with stack, frame, func, and sample
// tables, plus the derived per-sample views (full categories, filtered stack
// assignment) that feed the call-tree selection resolver.
//
// Tables are stored struct-of-arrays and indexed by int32, with -1 ("None")
// as the universal sentinel for absent references. All tables are immutable
// once a Profile has passed Validate.
package profile

import (
	"fmt"
)

// None is the sentinel index for "no entry" in any profile table.
const None int32 = -1

// SchemaVersion is the version of the profile JSON schema accepted by Decode.
// Increment when the wire format changes in a breaking way.
const SchemaVersion = "1.0"

// Category is one entry of a profile's closed category list.
//
// Categories classify stacks by runtime activity (e.g. "JavaScript",
// "Layout", "GC"). The set is fixed at decode time; stacks reference
// categories by index.
type Category struct {
	// Name is the human-readable category name.
	Name string `json:"name"`

	// Color is the display color keyword used by the visualizer front end.
	Color string `json:"color"`
}

// Meta holds profile-level metadata.
type Meta struct {
	// Product is the name of the profiled product.
	Product string `json:"product"`

	// IntervalMilli is the nominal sampling interval in milliseconds.
	IntervalMilli float64 `json:"interval_milli"`

	// StartTimeMilli is the profile start time (Unix milliseconds).
	StartTimeMilli float64 `json:"start_time_milli"`
}

// StackTable is the per-thread table of unique stacks.
//
// Each stack is one frame appended to a parent stack (None for roots).
// The table is topologically ordered: a stack's parent index is always
// smaller than its own index, which rules out cycles and lets all
// derivations run in a single forward pass.
type StackTable struct {
	// Parent is the parent stack index, or None for root stacks.
	Parent []int32 `json:"parent"`

	// Frame is the frame table index of this stack's leaf frame.
	Frame []int32 `json:"frame"`

	// Category is the category index of this stack.
	Category []int32 `json:"category"`
}

// Len returns the number of stacks in the table.
func (st *StackTable) Len() int { return len(st.Parent) }

// FrameTable is the per-thread table of frames.
type FrameTable struct {
	// Func is the func table index for each frame.
	Func []int32 `json:"func"`

	// Line is the source line of the frame, or 0 when unknown.
	Line []int32 `json:"line"`
}

// Len returns the number of frames in the table.
func (ft *FrameTable) Len() int { return len(ft.Func) }

// FuncTable is the per-thread table of functions.
type FuncTable struct {
	// Name is the function name for each func.
	Name []string `json:"name"`
}

// Len returns the number of funcs in the table.
func (ft *FuncTable) Len() int { return len(ft.Name) }

// SampleTable is the per-thread table of timeline samples.
//
// Samples share one index space across every derived view: the full
// category view and any filtered stack assignment are parallel arrays
// over these indices.
type SampleTable struct {
	// Stack is the stack table index for each sample, or None for
	// samples captured without a stack.
	Stack []int32 `json:"stack"`

	// TimeMilli is the sample timestamp in milliseconds from profile start.
	TimeMilli []float64 `json:"time_milli"`

	// Weight is the sample weight. Decode normalizes missing weights to 1.
	Weight []float64 `json:"weight"`
}

// Len returns the number of samples in the table.
func (st *SampleTable) Len() int { return len(st.Stack) }

// Thread is one profiled thread: its tables plus identifying metadata.
type Thread struct {
	// Name is the thread name (e.g. "GeckoMain", "Renderer").
	Name string `json:"name"`

	// PID and TID identify the originating process and thread.
	PID int64 `json:"pid"`
	TID int64 `json:"tid"`

	Stacks  StackTable  `json:"stacks"`
	Frames  FrameTable  `json:"frames"`
	Funcs   FuncTable   `json:"funcs"`
	Samples SampleTable `json:"samples"`
}

// Profile is a decoded performance profile.
//
// Thread Safety: Immutable after Validate; safe for concurrent readers.
type Profile struct {
	// Schema identifies the wire format version this profile was decoded from.
	Schema string `json:"schema"`

	Meta       Meta       `json:"meta"`
	Categories []Category `json:"categories"`
	Threads    []*Thread  `json:"threads"`
}

// Validate checks the structural invariants of the profile tables.
//
// Description:
//
//	Verifies for every thread that all cross-table references are in
//	bounds, that the stack table is topologically ordered (parent index
//	strictly below child index, so parent chains terminate), and that
//	stack categories reference the profile's category list. Samples may
//	reference None stacks; stacks may not reference None frames.
//
// Outputs:
//
//	error - Non-nil describing the first violation found.
//
// Complexity:
//
//	O(total table sizes). Single forward pass per table.
func (p *Profile) Validate() error {
	if len(p.Categories) == 0 {
		return fmt.Errorf("profile has no categories")
	}
	for ti, t := range p.Threads {
		if t == nil {
			return fmt.Errorf("thread %d is nil", ti)
		}
		if err := t.validate(len(p.Categories)); err != nil {
			return fmt.Errorf("thread %d (%s): %w", ti, t.Name, err)
		}
	}
	return nil
}

func (t *Thread) validate(categoryCount int) error {
	nStacks := t.Stacks.Len()
	if len(t.Stacks.Frame) != nStacks || len(t.Stacks.Category) != nStacks {
		return fmt.Errorf("stack table columns disagree: parent=%d frame=%d category=%d",
			nStacks, len(t.Stacks.Frame), len(t.Stacks.Category))
	}
	for i := 0; i < nStacks; i++ {
		parent := t.Stacks.Parent[i]
		if parent != None && (parent < 0 || parent >= int32(i)) {
			// Topological order: parents strictly precede children.
			return fmt.Errorf("stack %d has out-of-order parent %d", i, parent)
		}
		frame := t.Stacks.Frame[i]
		if frame < 0 || int(frame) >= t.Frames.Len() {
			return fmt.Errorf("stack %d references frame %d of %d", i, frame, t.Frames.Len())
		}
		cat := t.Stacks.Category[i]
		if cat < 0 || int(cat) >= categoryCount {
			return fmt.Errorf("stack %d references category %d of %d", i, cat, categoryCount)
		}
	}

	nFrames := t.Frames.Len()
	if len(t.Frames.Line) != nFrames {
		return fmt.Errorf("frame table columns disagree: func=%d line=%d", nFrames, len(t.Frames.Line))
	}
	for i := 0; i < nFrames; i++ {
		fn := t.Frames.Func[i]
		if fn < 0 || int(fn) >= t.Funcs.Len() {
			return fmt.Errorf("frame %d references func %d of %d", i, fn, t.Funcs.Len())
		}
	}

	nSamples := t.Samples.Len()
	if len(t.Samples.TimeMilli) != nSamples || len(t.Samples.Weight) != nSamples {
		return fmt.Errorf("sample table columns disagree: stack=%d time=%d weight=%d",
			nSamples, len(t.Samples.TimeMilli), len(t.Samples.Weight))
	}
	for i := 0; i < nSamples; i++ {
		stack := t.Samples.Stack[i]
		if stack != None && (stack < 0 || int(stack) >= nStacks) {
			return fmt.Errorf("sample %d references stack %d of %d", i, stack, nStacks)
		}
	}
	return nil
}

// CategoryIndex returns the index of the named category, or None.
func (p *Profile) CategoryIndex(name string) int32 {
	for i, c := range p.Categories {
		if c.Name == name {
			return int32(i)
		}
	}
	return None
}

// FuncName returns the function name of a stack's leaf frame.
func (t *Thread) FuncName(stack int32) string {
	frame := t.Stacks.Frame[stack]
	return t.Funcs.Name[t.Frames.Func[frame]]
}
