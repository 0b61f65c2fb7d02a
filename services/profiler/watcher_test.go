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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWatcher_Validation(t *testing.T) {
	svc := newTestService(t)

	_, err := NewWatcher(nil, t.TempDir(), testLogger())
	assert.Error(t, err)

	_, err = NewWatcher(svc, "", testLogger())
	assert.Error(t, err)

	_, err = NewWatcher(svc, t.TempDir(), nil)
	assert.Error(t, err)
}

func TestWatcher_LoadsExistingProfilesAtStartup(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "startup.json"), []byte(selectProfileJSON), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a profile"), 0o644))

	svc := newTestService(t)
	w, err := NewWatcher(svc, dir, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// The startup scan loads startup.json and skips notes.txt.
	deadline := time.Now().Add(5 * time.Second)
	for svc.ProfileCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("watcher did not load the existing profile in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 1, svc.ProfileCount())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop on cancellation")
	}
}

func TestWatcher_LoadsDroppedProfile(t *testing.T) {
	dir := t.TempDir()
	svc := newTestService(t)
	w, err := NewWatcher(svc, dir, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watch a moment to establish before dropping the file.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dropped.json"), []byte(selectProfileJSON), 0o644))

	// Debounce means the load lands noticeably after the write.
	deadline := time.Now().Add(10 * time.Second)
	for svc.ProfileCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("watcher did not load the dropped profile in time")
		}
		time.Sleep(25 * time.Millisecond)
	}

	list := svc.ListProfiles()
	require.Len(t, list, 1)
	assert.Equal(t, "dropped.json", list[0].Name)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop on cancellation")
	}
}

func TestIsProfileFile(t *testing.T) {
	assert.True(t, isProfileFile("capture.json"))
	assert.True(t, isProfileFile("/tmp/drops/Capture.JSON"))
	assert.False(t, isProfileFile("capture.json.tmp"))
	assert.False(t, isProfileFile("notes.txt"))
}
