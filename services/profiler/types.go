// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package profiler

import (
	"github.com/AleutianAI/AleutianProfiler/services/profiler/snapshot"
)

// ErrorResponse is the standard error payload for all profiler endpoints.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`

	// Code is a machine-readable error code (e.g. "PROFILE_NOT_FOUND").
	Code string `json:"code"`
}

// LoadRequest is the body of POST /v1/profiler/load.
//
// Exactly one of Path or Profile must be set: Path loads from a file on the
// server host, Profile carries the raw profile JSON inline.
type LoadRequest struct {
	// Name identifies the profile; defaults to the file base name when
	// loading from Path.
	Name string `json:"name"`

	// Path is a server-local path to a profile JSON file.
	Path string `json:"path,omitempty"`

	// Profile is the inline profile JSON.
	Profile map[string]any `json:"profile,omitempty"`
}

// LoadResponse is the response of POST /v1/profiler/load.
type LoadResponse struct {
	// ProfileID identifies the loaded profile in subsequent requests.
	ProfileID string `json:"profile_id"`

	// Name is the profile name.
	Name string `json:"name"`

	// Threads summarizes the profile's threads in index order.
	Threads []ThreadSummary `json:"threads"`
}

// ThreadSummary describes one thread of a loaded profile.
type ThreadSummary struct {
	// Index is the thread's position in the profile.
	Index int `json:"index"`

	// Name is the thread name.
	Name string `json:"name"`

	// SampleCount is the number of timeline samples.
	SampleCount int `json:"sample_count"`

	// NodeCount is the number of call nodes in the thread's call tree.
	NodeCount int `json:"node_count"`
}

// ProfileSummary describes one loaded profile in listings.
type ProfileSummary struct {
	ProfileID     string          `json:"profile_id"`
	Name          string          `json:"name"`
	LoadedAtMilli int64           `json:"loaded_at_milli"`
	Threads       []ThreadSummary `json:"threads"`
}

// ListProfilesResponse is the response of GET /v1/profiler/profiles.
type ListProfilesResponse struct {
	Profiles []ProfileSummary `json:"profiles"`
}

// SelectRequest is the body of POST /v1/profiler/select.
//
// It describes a click on a rendered sample: which profile, which thread,
// which sample index (hit-testing happens in the front end), plus the
// filters of the view the click landed in.
type SelectRequest struct {
	// ProfileID identifies the loaded profile.
	ProfileID string `json:"profile_id"`

	// Thread is the thread index within the profile.
	Thread int `json:"thread"`

	// Sample is the clicked sample index.
	Sample int `json:"sample"`

	// RangeStartMilli / RangeEndMilli bound the committed time range of
	// the filtered view. Both zero means unfiltered.
	RangeStartMilli float64 `json:"range_start_milli,omitempty"`
	RangeEndMilli   float64 `json:"range_end_milli,omitempty"`

	// DropCategories lists category names pruned from the filtered view.
	DropCategories []string `json:"drop_categories,omitempty"`
}

// PathFrame is one entry of a root-to-node call path.
type PathFrame struct {
	// Node is the call node ID.
	Node int32 `json:"node"`

	// Func is the function name.
	Func string `json:"func"`

	// Category is the category name of the node.
	Category string `json:"category"`
}

// SelectResponse is the response of POST /v1/profiler/select.
//
// ClickedNode and ResolvedNode are reported in dispatch order: consumers
// must apply ClickedNode first (ancestry expansion), then ResolvedNode
// (highlight). The websocket stream emits the same two events in the same
// order.
type SelectResponse struct {
	// ClickedNode is the exact call node of the clicked sample.
	ClickedNode int32 `json:"clicked_node"`

	// ResolvedNode is the widest safe ancestor to highlight.
	ResolvedNode int32 `json:"resolved_node"`

	// Category is the clicked category's name.
	Category string `json:"category"`

	// Color is the display color of the clicked category.
	Color string `json:"color"`

	// Path is the root-to-node path of ResolvedNode.
	Path []PathFrame `json:"path"`
}

// SelectionEvent is one step of the two-step selection choreography as
// broadcast on the websocket stream.
type SelectionEvent struct {
	// Type is "clicked" or "resolved", in that emission order.
	Type string `json:"type"`

	// ProfileID and Thread locate the selection.
	ProfileID string `json:"profile_id"`
	Thread    int    `json:"thread"`

	// Node is the selected call node.
	Node int32 `json:"node"`

	// Category is the clicked category's name.
	Category string `json:"category"`
}

// SaveSnapshotRequest is the body of POST /v1/profiler/snapshots.
type SaveSnapshotRequest struct {
	// ProfileID identifies the loaded profile to snapshot.
	ProfileID string `json:"profile_id"`

	// Label is an optional human-readable label.
	Label string `json:"label,omitempty"`
}

// SaveSnapshotResponse is the response of POST /v1/profiler/snapshots.
type SaveSnapshotResponse struct {
	Metadata *snapshot.Metadata `json:"metadata"`
}

// ListSnapshotsResponse is the response of GET /v1/profiler/snapshots.
type ListSnapshotsResponse struct {
	Snapshots []*snapshot.Metadata `json:"snapshots"`
}

// HealthResponse is the response of the health and readiness endpoints.
type HealthResponse struct {
	Status         string `json:"status"`
	LoadedProfiles int    `json:"loaded_profiles"`
}
