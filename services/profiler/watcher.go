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
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
)

// watcherDebounce coalesces rapid write events for the same file: editors
// and copy tools fire several writes per profile drop.
const watcherDebounce = 500 * time.Millisecond

// Watcher loads profiles dropped into a directory.
//
// Description:
//
//	Watches a directory with fsnotify and loads every created or
//	rewritten *.json file into the service, so a developer can point the
//	visualizer at a capture directory and have new profiles appear
//	without an upload step. Existing files are loaded once at startup.
//
// Thread Safety: Run is single-use; the loader pool is internal.
type Watcher struct {
	svc    *Service
	dir    string
	logger *slog.Logger
}

// NewWatcher creates a Watcher for a directory.
func NewWatcher(svc *Service, dir string, logger *slog.Logger) (*Watcher, error) {
	if svc == nil {
		return nil, fmt.Errorf("service must not be nil")
	}
	if dir == "" {
		return nil, fmt.Errorf("watch directory must not be empty")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &Watcher{svc: svc, dir: dir, logger: logger}, nil
}

// Run watches until ctx is cancelled.
//
// Outputs:
//
//	error - Non-nil when the watch cannot be established or fails; nil on
//	clean cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}

	paths := make(chan string)
	g, gctx := errgroup.WithContext(ctx)

	// Loader: serializes the actual loads; fsnotify event handling stays
	// responsive while a large profile decodes.
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case path, ok := <-paths:
				if !ok {
					return nil
				}
				w.loadOne(gctx, path)
			}
		}
	})

	g.Go(func() error {
		defer close(paths)

		// Pick up profiles already present before the watch started.
		entries, err := os.ReadDir(w.dir)
		if err != nil {
			return fmt.Errorf("reading %s: %w", w.dir, err)
		}
		for _, e := range entries {
			if !e.IsDir() && isProfileFile(e.Name()) {
				select {
				case paths <- filepath.Join(w.dir, e.Name()):
				case <-gctx.Done():
					return nil
				}
			}
		}

		pending := make(map[string]time.Time)
		ticker := time.NewTicker(watcherDebounce)
		defer ticker.Stop()

		for {
			select {
			case <-gctx.Done():
				return nil
			case ev, ok := <-fw.Events:
				if !ok {
					return nil
				}
				if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) {
					continue
				}
				if !isProfileFile(ev.Name) {
					continue
				}
				pending[ev.Name] = time.Now()
			case err, ok := <-fw.Errors:
				if !ok {
					return nil
				}
				w.logger.Warn("fsnotify error", slog.Any("error", err))
			case now := <-ticker.C:
				for path, last := range pending {
					if now.Sub(last) < watcherDebounce {
						continue
					}
					delete(pending, path)
					select {
					case paths <- path:
					case <-gctx.Done():
						return nil
					}
				}
			}
		}
	})

	return g.Wait()
}

// loadOne loads a single profile file, logging failures without stopping
// the watch.
func (w *Watcher) loadOne(ctx context.Context, path string) {
	f, err := os.Open(path)
	if err != nil {
		w.logger.Warn("opening watched profile", slog.String("path", path), slog.Any("error", err))
		return
	}
	defer f.Close()

	lp, err := w.svc.LoadProfile(ctx, filepath.Base(path), f, "watcher")
	if err != nil {
		w.logger.Warn("loading watched profile", slog.String("path", path), slog.Any("error", err))
		return
	}
	w.logger.Info("watched profile loaded",
		slog.String("path", path),
		slog.String("profile_id", lp.ProfileID),
	)
}

// isProfileFile reports whether a path looks like a profile drop.
func isProfileFile(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".json")
}
