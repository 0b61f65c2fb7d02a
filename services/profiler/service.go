// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package profiler is the Aleutian Profiler service: it loads performance
// profiles, builds per-thread call trees, resolves click selections to the
// widest safe call node, and persists profile snapshots.
package profiler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianProfiler/services/profiler/calltree"
	"github.com/AleutianAI/AleutianProfiler/services/profiler/config"
	"github.com/AleutianAI/AleutianProfiler/services/profiler/profile"
	"github.com/AleutianAI/AleutianProfiler/services/profiler/snapshot"
)

var tracer = otel.Tracer("aleutian.profiler")

// Service errors.
var (
	// ErrProfileNotFound indicates an unknown profile ID.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrThreadOutOfRange indicates a thread index outside the profile.
	ErrThreadOutOfRange = errors.New("thread index out of range")

	// ErrUnknownCategory indicates a drop-category name the profile does
	// not define.
	ErrUnknownCategory = errors.New("unknown category")
)

// SelectionSink receives the two-step selection choreography.
//
// PublishSelection is called twice per resolved click, first with the
// "clicked" event and then with the "resolved" event. Implementations must
// preserve that ordering toward their consumers: the clicked event expands
// ancestry in linked tree views before the resolved event narrows the
// highlight.
type SelectionSink interface {
	PublishSelection(ev SelectionEvent)
}

// LoadedProfile is a profile held in memory with its derived call trees.
//
// Thread Safety: Immutable after construction; safe for concurrent readers.
type LoadedProfile struct {
	// ProfileID is the registry key, derived from the name and load time.
	ProfileID string

	// Name is the profile name it was loaded under.
	Name string

	// LoadedAtMilli is the load time (Unix milliseconds UTC).
	LoadedAtMilli int64

	// Profile is the validated profile.
	Profile *profile.Profile

	// Trees holds one call tree per thread, in thread order.
	Trees []*calltree.Tree
}

// Service owns the registry of loaded profiles and the snapshot store.
//
// Thread Safety: Safe for concurrent use. The registry is guarded by a
// RWMutex; profiles and trees are immutable once registered.
type Service struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *snapshot.Store // may be nil when persistence is disabled
	sink   SelectionSink   // may be nil

	mu       sync.RWMutex
	profiles map[string]*LoadedProfile
	order    []string // profile IDs in load order, oldest first
}

// ServiceOption configures optional Service collaborators.
type ServiceOption func(*Service)

// WithSnapshotStore attaches a snapshot store for save/restore endpoints.
func WithSnapshotStore(store *snapshot.Store) ServiceOption {
	return func(s *Service) { s.store = store }
}

// WithSelectionSink attaches a sink for selection events.
func WithSelectionSink(sink SelectionSink) ServiceOption {
	return func(s *Service) { s.sink = sink }
}

// NewService creates a Service with the given configuration.
//
// Inputs:
//
//	cfg - Service configuration. Must not be nil.
//	logger - Logger for diagnostic output. Must not be nil.
//	opts - Optional collaborators (snapshot store, selection sink).
func NewService(cfg *config.Config, logger *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	s := &Service{
		cfg:      cfg,
		logger:   logger,
		profiles: make(map[string]*LoadedProfile),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// LoadProfile decodes a profile from r and registers it.
//
// Description:
//
//	Decodes and validates the profile, builds one call tree per thread,
//	and registers the result under a fresh profile ID. When the registry
//	exceeds MaxLoadedProfiles, the oldest profile is evicted.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//	name - Profile name; must not be empty.
//	r - Profile JSON source.
//	source - Load source for metrics ("upload", "path", "watcher", "snapshot").
//
// Outputs:
//
//	*LoadedProfile - The registered profile with its trees.
//	error - Non-nil on decode or validation failure.
func (s *Service) LoadProfile(ctx context.Context, name string, r io.Reader, source string) (*LoadedProfile, error) {
	ctx, span := tracer.Start(ctx, "profiler.Service.LoadProfile",
		oteltrace.WithAttributes(
			attribute.String("profile.name", name),
			attribute.String("load.source", source),
		),
	)
	defer span.End()

	if name == "" {
		recordLoad(source, "error", 0)
		return nil, fmt.Errorf("profile name must not be empty")
	}

	p, err := profile.Decode(r, s.cfg.MaxProfileBytes)
	if err != nil {
		recordLoad(source, "error", 0)
		return nil, fmt.Errorf("loading profile %q: %w", name, err)
	}
	return s.register(ctx, name, p, source)
}

// RestoreProfile registers an already-validated profile (snapshot restore).
func (s *Service) RestoreProfile(ctx context.Context, name string, p *profile.Profile) (*LoadedProfile, error) {
	return s.register(ctx, name, p, "snapshot")
}

func (s *Service) register(ctx context.Context, name string, p *profile.Profile, source string) (*LoadedProfile, error) {
	_, span := tracer.Start(ctx, "profiler.Service.register")
	defer span.End()

	loadedAt := time.Now().UnixMilli()
	lp := &LoadedProfile{
		ProfileID:     generateProfileID(name, loadedAt),
		Name:          name,
		LoadedAtMilli: loadedAt,
		Profile:       p,
		Trees:         make([]*calltree.Tree, len(p.Threads)),
	}
	samples := 0
	for i, t := range p.Threads {
		lp.Trees[i] = calltree.FromThread(t)
		samples += t.Samples.Len()
	}
	span.SetAttributes(
		attribute.Int("profile.threads", len(p.Threads)),
		attribute.Int("profile.samples", samples),
	)

	s.mu.Lock()
	s.profiles[lp.ProfileID] = lp
	s.order = append(s.order, lp.ProfileID)
	var evicted string
	if len(s.order) > s.cfg.MaxLoadedProfiles {
		evicted = s.order[0]
		s.order = s.order[1:]
		delete(s.profiles, evicted)
	}
	s.mu.Unlock()

	if evicted != "" {
		s.logger.Info("evicted oldest profile", slog.String("profile_id", evicted))
	}
	s.logger.Info("profile loaded",
		slog.String("profile_id", lp.ProfileID),
		slog.String("name", name),
		slog.String("source", source),
		slog.Int("threads", len(p.Threads)),
		slog.Int("samples", samples),
	)
	recordLoad(source, "ok", samples)
	return lp, nil
}

// GetProfile returns a loaded profile by ID.
func (s *Service) GetProfile(profileID string) (*LoadedProfile, error) {
	s.mu.RLock()
	lp, ok := s.profiles[profileID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, profileID)
	}
	return lp, nil
}

// ListProfiles returns summaries of all loaded profiles, oldest first.
func (s *Service) ListProfiles() []ProfileSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ProfileSummary, 0, len(s.order))
	for _, id := range s.order {
		lp := s.profiles[id]
		out = append(out, ProfileSummary{
			ProfileID:     lp.ProfileID,
			Name:          lp.Name,
			LoadedAtMilli: lp.LoadedAtMilli,
			Threads:       threadSummaries(lp),
		})
	}
	return out
}

// ProfileCount returns the number of loaded profiles.
func (s *Service) ProfileCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles)
}

// Store returns the snapshot store, or nil when persistence is disabled.
func (s *Service) Store() *snapshot.Store { return s.store }

// ResolveSelection resolves a click into the two-step selection.
//
// Description:
//
//	Derives the filtered view (per-sample call node) and the full view
//	(per-sample category) for the requested thread, runs the call-node
//	resolver on the clicked sample, and publishes the clicked/resolved
//	event pair to the selection sink in that order.
//
// Outputs:
//
//	SelectResponse - Clicked node, resolved node, and the root-to-node
//	path of the resolved node.
//	error - calltree.ErrInvalidInput (wrapped) for bad clicks;
//	ErrProfileNotFound / ErrThreadOutOfRange / ErrUnknownCategory for bad
//	addressing.
func (s *Service) ResolveSelection(ctx context.Context, req SelectRequest) (SelectResponse, error) {
	start := time.Now()
	_, span := tracer.Start(ctx, "profiler.Service.ResolveSelection",
		oteltrace.WithAttributes(
			attribute.String("profile.id", req.ProfileID),
			attribute.Int("thread", req.Thread),
			attribute.Int("sample", req.Sample),
		),
	)
	defer span.End()

	lp, err := s.GetProfile(req.ProfileID)
	if err != nil {
		recordSelection("invalid", 0)
		return SelectResponse{}, err
	}
	if req.Thread < 0 || req.Thread >= len(lp.Profile.Threads) {
		recordSelection("invalid", 0)
		return SelectResponse{}, fmt.Errorf("%w: %d of %d", ErrThreadOutOfRange, req.Thread, len(lp.Profile.Threads))
	}
	thread := lp.Profile.Threads[req.Thread]
	tree := lp.Trees[req.Thread]

	opts := profile.FilterOptions{
		RangeStartMilli: req.RangeStartMilli,
		RangeEndMilli:   req.RangeEndMilli,
	}
	for _, name := range req.DropCategories {
		idx := lp.Profile.CategoryIndex(name)
		if idx == profile.None {
			recordSelection("invalid", 0)
			return SelectResponse{}, fmt.Errorf("%w: %q", ErrUnknownCategory, name)
		}
		opts.DropCategories = append(opts.DropCategories, idx)
	}

	sampleCallNode := tree.SampleNodes(thread.FilteredStacks(opts))
	sampleCategory := thread.FullCategories()

	sel, err := calltree.ResolveSelection(tree, sampleCallNode, sampleCategory, req.Sample)
	if err != nil {
		recordSelection("invalid", 0)
		return SelectResponse{}, err
	}

	category := lp.Profile.Categories[sampleCategory[req.Sample]]
	outcome := "exact"
	if sel.Resolved != sel.Clicked {
		outcome = "widened"
	}
	recordSelection(outcome, time.Since(start).Seconds())
	span.SetAttributes(
		attribute.Int("clicked_node", int(sel.Clicked)),
		attribute.Int("resolved_node", int(sel.Resolved)),
		attribute.String("outcome", outcome),
	)

	// Two-step choreography: clicked first (ancestry expansion), resolved
	// second (highlight).
	if s.sink != nil {
		s.sink.PublishSelection(SelectionEvent{
			Type:      "clicked",
			ProfileID: req.ProfileID,
			Thread:    req.Thread,
			Node:      sel.Clicked,
			Category:  category.Name,
		})
		s.sink.PublishSelection(SelectionEvent{
			Type:      "resolved",
			ProfileID: req.ProfileID,
			Thread:    req.Thread,
			Node:      sel.Resolved,
			Category:  category.Name,
		})
	}

	color := category.Color
	if color == "" {
		color = s.cfg.PaletteColor(category.Name)
	}
	return SelectResponse{
		ClickedNode:  sel.Clicked,
		ResolvedNode: sel.Resolved,
		Category:     category.Name,
		Color:        color,
		Path:         s.pathFrames(lp, req.Thread, sel.Resolved),
	}, nil
}

// pathFrames converts a call node into its displayable root-to-node path.
func (s *Service) pathFrames(lp *LoadedProfile, threadIdx int, node int32) []PathFrame {
	thread := lp.Profile.Threads[threadIdx]
	tree := lp.Trees[threadIdx]
	nodes := tree.PathToRoot(node)
	frames := make([]PathFrame, len(nodes))
	for i, n := range nodes {
		frames[i] = PathFrame{
			Node:     n,
			Func:     thread.Funcs.Name[tree.Func(n)],
			Category: lp.Profile.Categories[tree.Category(n)].Name,
		}
	}
	return frames
}

// threadSummaries builds ThreadSummary entries for a loaded profile.
func threadSummaries(lp *LoadedProfile) []ThreadSummary {
	out := make([]ThreadSummary, len(lp.Profile.Threads))
	for i, t := range lp.Profile.Threads {
		out[i] = ThreadSummary{
			Index:       i,
			Name:        t.Name,
			SampleCount: t.Samples.Len(),
			NodeCount:   lp.Trees[i].NodeCount(),
		}
	}
	return out
}

// generateProfileID derives a stable registry key for a load.
func generateProfileID(name string, loadedAtMilli int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", name, loadedAtMilli)))
	return hex.EncodeToString(sum[:])[:16]
}
