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
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianProfiler/services/profiler/snapshot"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestRouter wires a service and its handlers into a fresh router.
func newTestRouter(t *testing.T, svc *Service, hub *Hub) *gin.Engine {
	t.Helper()
	router := gin.New()
	RegisterRoutes(router.Group("/v1"), NewHandlers(svc, hub))
	return router
}

// newSnapshotStore creates a snapshot store on an in-memory BadgerDB.
func newSnapshotStore(t *testing.T) *snapshot.Store {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store, err := snapshot.NewStore(db, testLogger())
	require.NoError(t, err)
	return store
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

// inlineLoadRequest wraps the selection fixture as an inline load body.
func inlineLoadRequest(t *testing.T, name string) LoadRequest {
	t.Helper()
	var inline map[string]any
	require.NoError(t, json.Unmarshal([]byte(selectProfileJSON), &inline))
	return LoadRequest{Name: name, Profile: inline}
}

func loadViaAPI(t *testing.T, router *gin.Engine, name string) LoadResponse {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/v1/profiler/load", inlineLoadRequest(t, name))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decodeBody[LoadResponse](t, w)
}

func TestHandleLoad_Inline(t *testing.T) {
	router := newTestRouter(t, newTestService(t), nil)

	resp := loadViaAPI(t, router, "startup")
	assert.Len(t, resp.ProfileID, 16)
	assert.Equal(t, "startup", resp.Name)
	require.Len(t, resp.Threads, 1)
	assert.Equal(t, "GeckoMain", resp.Threads[0].Name)
	assert.Equal(t, 3, resp.Threads[0].SampleCount)

	w := doJSON(t, router, http.MethodGet, "/v1/profiler/profiles", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decodeBody[ListProfilesResponse](t, w)
	require.Len(t, list.Profiles, 1)
	assert.Equal(t, resp.ProfileID, list.Profiles[0].ProfileID)
}

func TestHandleLoad_FromPath(t *testing.T) {
	router := newTestRouter(t, newTestService(t), nil)

	path, err := filepath.Abs(filepath.Join("..", "..", "test", "fixtures", "startup-capture.json"))
	require.NoError(t, err)

	w := doJSON(t, router, http.MethodPost, "/v1/profiler/load", LoadRequest{Path: path})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeBody[LoadResponse](t, w)
	assert.Equal(t, "startup-capture.json", resp.Name, "name defaults to the file base name")
	require.Len(t, resp.Threads, 1)
	assert.Equal(t, 8, resp.Threads[0].SampleCount)
}

func TestHandleLoad_Errors(t *testing.T) {
	router := newTestRouter(t, newTestService(t), nil)

	cases := []struct {
		name     string
		body     any
		wantCode int
		wantErr  string
	}{
		{"no source", LoadRequest{Name: "x"}, http.StatusBadRequest, "MISSING_PARAMETER"},
		{"inline without name", LoadRequest{Profile: map[string]any{}}, http.StatusBadRequest, "MISSING_PARAMETER"},
		{"unreadable path", LoadRequest{Path: "/does/not/exist.json"}, http.StatusBadRequest, "PROFILE_UNREADABLE"},
		{
			"invalid profile",
			LoadRequest{Name: "x", Profile: map[string]any{"schema": "9.9"}},
			http.StatusBadRequest, "PROFILE_INVALID",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(t, router, http.MethodPost, "/v1/profiler/load", tc.body)
			assert.Equal(t, tc.wantCode, w.Code)
			assert.Equal(t, tc.wantErr, decodeBody[ErrorResponse](t, w).Code)
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/profiler/load", bytes.NewBufferString("{nope"))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_BODY", decodeBody[ErrorResponse](t, w).Code)
	})
}

func TestHandleLoad_RateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.LoadRatePerSecond = 0.001
	cfg.LoadBurst = 1
	svc, err := NewService(cfg, testLogger())
	require.NoError(t, err)
	router := newTestRouter(t, svc, nil)

	loadViaAPI(t, router, "first")

	w := doJSON(t, router, http.MethodPost, "/v1/profiler/load", inlineLoadRequest(t, "second"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMITED", decodeBody[ErrorResponse](t, w).Code)
}

func TestHandleSelect(t *testing.T) {
	router := newTestRouter(t, newTestService(t), nil)
	loaded := loadViaAPI(t, router, "startup")

	w := doJSON(t, router, http.MethodPost, "/v1/profiler/select", SelectRequest{
		ProfileID: loaded.ProfileID,
		Thread:    0,
		Sample:    0,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeBody[SelectResponse](t, w)
	assert.Equal(t, int32(3), resp.ClickedNode)
	assert.Equal(t, int32(2), resp.ResolvedNode)
	assert.Equal(t, "JavaScript", resp.Category)
	require.Len(t, resp.Path, 3)
	assert.Equal(t, resp.ResolvedNode, resp.Path[2].Node)
}

func TestHandleSelect_Errors(t *testing.T) {
	router := newTestRouter(t, newTestService(t), nil)
	loaded := loadViaAPI(t, router, "startup")

	cases := []struct {
		name     string
		req      SelectRequest
		wantCode int
		wantErr  string
	}{
		{"unknown profile", SelectRequest{ProfileID: "nope"}, http.StatusNotFound, "PROFILE_NOT_FOUND"},
		{"bad thread", SelectRequest{ProfileID: loaded.ProfileID, Thread: 9}, http.StatusNotFound, "THREAD_NOT_FOUND"},
		{
			"unknown category",
			SelectRequest{ProfileID: loaded.ProfileID, DropCategories: []string{"Bogus"}},
			http.StatusBadRequest, "UNKNOWN_CATEGORY",
		},
		{"stackless sample", SelectRequest{ProfileID: loaded.ProfileID, Sample: 2}, http.StatusBadRequest, "INVALID_CLICK"},
		{"sample out of range", SelectRequest{ProfileID: loaded.ProfileID, Sample: 42}, http.StatusBadRequest, "INVALID_CLICK"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(t, router, http.MethodPost, "/v1/profiler/select", tc.req)
			assert.Equal(t, tc.wantCode, w.Code)
			assert.Equal(t, tc.wantErr, decodeBody[ErrorResponse](t, w).Code)
		})
	}
}

func TestSnapshotEndpoints_Disabled(t *testing.T) {
	router := newTestRouter(t, newTestService(t), nil)

	paths := []struct {
		method, path string
	}{
		{http.MethodPost, "/v1/profiler/snapshots"},
		{http.MethodGet, "/v1/profiler/snapshots"},
		{http.MethodPost, "/v1/profiler/snapshots/abc/restore"},
		{http.MethodDelete, "/v1/profiler/snapshots/abc"},
	}
	for _, p := range paths {
		w := doJSON(t, router, p.method, p.path, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, p.path)
		assert.Equal(t, "SNAPSHOTS_DISABLED", decodeBody[ErrorResponse](t, w).Code)
	}
}

func TestSnapshotEndpoints_RoundTrip(t *testing.T) {
	store := newSnapshotStore(t)
	svc := newTestService(t, WithSnapshotStore(store))
	router := newTestRouter(t, svc, nil)
	loaded := loadViaAPI(t, router, "session")

	// Save
	w := doJSON(t, router, http.MethodPost, "/v1/profiler/snapshots", SaveSnapshotRequest{
		ProfileID: loaded.ProfileID,
		Label:     "before fix",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	saved := decodeBody[SaveSnapshotResponse](t, w)
	require.NotNil(t, saved.Metadata)
	assert.Equal(t, "session", saved.Metadata.Name)
	assert.Equal(t, "before fix", saved.Metadata.Label)

	// Save for a profile that is not loaded
	w = doJSON(t, router, http.MethodPost, "/v1/profiler/snapshots", SaveSnapshotRequest{ProfileID: "nope"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// List
	w = doJSON(t, router, http.MethodGet, "/v1/profiler/snapshots", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decodeBody[ListSnapshotsResponse](t, w)
	require.Len(t, list.Snapshots, 1)
	assert.Equal(t, saved.Metadata.SnapshotID, list.Snapshots[0].SnapshotID)

	// Restore registers a fresh profile ID
	w = doJSON(t, router, http.MethodPost, "/v1/profiler/snapshots/"+saved.Metadata.SnapshotID+"/restore", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	restored := decodeBody[LoadResponse](t, w)
	assert.Equal(t, "session", restored.Name)
	assert.NotEmpty(t, restored.ProfileID)

	// Delete
	w = doJSON(t, router, http.MethodDelete, "/v1/profiler/snapshots/"+saved.Metadata.SnapshotID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, router, http.MethodPost, "/v1/profiler/snapshots/"+saved.Metadata.SnapshotID+"/restore", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "SNAPSHOT_NOT_FOUND", decodeBody[ErrorResponse](t, w).Code)
}

func TestHandleStream_DisabledWithoutHub(t *testing.T) {
	router := newTestRouter(t, newTestService(t), nil)

	w := doJSON(t, router, http.MethodGet, "/v1/profiler/ws", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "STREAM_DISABLED", decodeBody[ErrorResponse](t, w).Code)
}

func TestHealthEndpoints(t *testing.T) {
	router := newTestRouter(t, newTestService(t), nil)
	loadViaAPI(t, router, "startup")

	w := doJSON(t, router, http.MethodGet, "/v1/profiler/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	health := decodeBody[HealthResponse](t, w)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.LoadedProfiles)

	w = doJSON(t, router, http.MethodGet, "/v1/profiler/ready", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", decodeBody[HealthResponse](t, w).Status)
}
