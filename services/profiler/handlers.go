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
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianProfiler/services/profiler/calltree"
)

// Handlers holds the HTTP handlers for the profiler service.
type Handlers struct {
	svc     *Service
	hub     *Hub // may be nil when streaming is disabled
	limiter *rate.Limiter
}

// NewHandlers creates Handlers for a service.
//
// The load endpoint is rate-limited with a token bucket sized from the
// service configuration. hub may be nil; the /ws endpoint then returns 503.
func NewHandlers(svc *Service, hub *Hub) *Handlers {
	return &Handlers{
		svc:     svc,
		hub:     hub,
		limiter: rate.NewLimiter(rate.Limit(svc.cfg.LoadRatePerSecond), svc.cfg.LoadBurst),
	}
}

// getOrCreateRequestID returns the request ID from the X-Request-ID header,
// minting one when absent.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	return uuid.New().String()
}

// HandleLoad handles POST /v1/profiler/load.
//
// Description:
//
//	Loads a profile either from a server-local path or from inline JSON,
//	registers it, and returns the profile ID with thread summaries.
//
// Response:
//
//	200 OK: LoadResponse
//	400 Bad Request: malformed body, missing source, invalid profile
//	429 Too Many Requests: load rate exceeded
func (h *Handlers) HandleLoad(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleLoad")

	if !h.limiter.Allow() {
		recordLoad("upload", "rate_limited", 0)
		c.JSON(http.StatusTooManyRequests, ErrorResponse{
			Error: "profile load rate exceeded, retry later",
			Code:  "RATE_LIMITED",
		})
		return
	}

	var req LoadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body: " + err.Error(),
			Code:  "INVALID_BODY",
		})
		return
	}

	var lp *LoadedProfile
	var err error
	switch {
	case req.Path != "":
		name := req.Name
		if name == "" {
			name = filepath.Base(req.Path)
		}
		var f *os.File
		f, err = os.Open(req.Path)
		if err != nil {
			recordLoad("path", "error", 0)
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "opening profile file: " + err.Error(),
				Code:  "PROFILE_UNREADABLE",
			})
			return
		}
		defer f.Close()
		lp, err = h.svc.LoadProfile(c.Request.Context(), name, f, "path")
	case req.Profile != nil:
		if req.Name == "" {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "name is required for inline profiles",
				Code:  "MISSING_PARAMETER",
			})
			return
		}
		raw, merr := json.Marshal(req.Profile)
		if merr != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "re-encoding inline profile: " + merr.Error(),
				Code:  "INVALID_BODY",
			})
			return
		}
		lp, err = h.svc.LoadProfile(c.Request.Context(), req.Name, bytes.NewReader(raw), "upload")
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "one of path or profile is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}
	if err != nil {
		logger.Warn("profile load failed", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "loading profile: " + err.Error(),
			Code:  "PROFILE_INVALID",
		})
		return
	}

	logger.Info("profile loaded",
		slog.String("profile_id", lp.ProfileID),
		slog.Int("threads", len(lp.Trees)),
	)
	c.JSON(http.StatusOK, LoadResponse{
		ProfileID: lp.ProfileID,
		Name:      lp.Name,
		Threads:   threadSummaries(lp),
	})
}

// HandleListProfiles handles GET /v1/profiler/profiles.
func (h *Handlers) HandleListProfiles(c *gin.Context) {
	c.JSON(http.StatusOK, ListProfilesResponse{Profiles: h.svc.ListProfiles()})
}

// HandleSelect handles POST /v1/profiler/select.
//
// Description:
//
//	Resolves a click on a rendered sample into the two-step selection:
//	the exact clicked call node and the widest safe ancestor to
//	highlight. The same two events are broadcast on the websocket stream
//	in dispatch order.
//
// Response:
//
//	200 OK: SelectResponse
//	400 Bad Request: malformed body, unknown category, invalid click
//	404 Not Found: unknown profile ID or thread index
func (h *Handlers) HandleSelect(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleSelect")

	var req SelectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body: " + err.Error(),
			Code:  "INVALID_BODY",
		})
		return
	}

	resp, err := h.svc.ResolveSelection(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrProfileNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: err.Error(),
				Code:  "PROFILE_NOT_FOUND",
			})
		case errors.Is(err, ErrThreadOutOfRange):
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: err.Error(),
				Code:  "THREAD_NOT_FOUND",
			})
		case errors.Is(err, ErrUnknownCategory):
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: err.Error(),
				Code:  "UNKNOWN_CATEGORY",
			})
		case errors.Is(err, calltree.ErrInvalidInput):
			// Clicks on stack-less samples are the caller's to reject;
			// surface them as a client error, not a crash.
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: err.Error(),
				Code:  "INVALID_CLICK",
			})
		default:
			logger.Error("selection resolution failed", slog.Any("error", err))
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error: "selection resolution failed",
				Code:  "INTERNAL",
			})
		}
		return
	}

	logger.Info("selection resolved",
		slog.String("profile_id", req.ProfileID),
		slog.Int("thread", req.Thread),
		slog.Int("sample", req.Sample),
		slog.Int("clicked_node", int(resp.ClickedNode)),
		slog.Int("resolved_node", int(resp.ResolvedNode)),
	)
	c.JSON(http.StatusOK, resp)
}

// HandleStream handles GET /v1/profiler/ws.
func (h *Handlers) HandleStream(c *gin.Context) {
	if h.hub == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "selection streaming is disabled",
			Code:  "STREAM_DISABLED",
		})
		return
	}
	if err := h.hub.ServeClient(c.Writer, c.Request); err != nil {
		// Upgrade failures have already written their response.
		slog.Warn("websocket upgrade failed", slog.Any("error", err))
	}
}

// =============================================================================
// Snapshot Handlers
// =============================================================================

// HandleSaveSnapshot handles POST /v1/profiler/snapshots.
func (h *Handlers) HandleSaveSnapshot(c *gin.Context) {
	store := h.svc.Store()
	if store == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "snapshot persistence is disabled",
			Code:  "SNAPSHOTS_DISABLED",
		})
		return
	}

	var req SaveSnapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body: " + err.Error(),
			Code:  "INVALID_BODY",
		})
		return
	}

	lp, err := h.svc.GetProfile(req.ProfileID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: err.Error(),
			Code:  "PROFILE_NOT_FOUND",
		})
		return
	}

	meta, err := store.Save(c.Request.Context(), lp.Profile, lp.Name, req.Label)
	recordSnapshotOp("save", err)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "saving snapshot: " + err.Error(),
			Code:  "SNAPSHOT_SAVE_FAILED",
		})
		return
	}
	c.JSON(http.StatusOK, SaveSnapshotResponse{Metadata: meta})
}

// HandleListSnapshots handles GET /v1/profiler/snapshots.
func (h *Handlers) HandleListSnapshots(c *gin.Context) {
	store := h.svc.Store()
	if store == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "snapshot persistence is disabled",
			Code:  "SNAPSHOTS_DISABLED",
		})
		return
	}

	metas, err := store.List(c.Request.Context(), c.Query("name"), h.svc.cfg.SnapshotListLimit)
	recordSnapshotOp("list", err)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "listing snapshots: " + err.Error(),
			Code:  "SNAPSHOT_LIST_FAILED",
		})
		return
	}
	c.JSON(http.StatusOK, ListSnapshotsResponse{Snapshots: metas})
}

// HandleRestoreSnapshot handles POST /v1/profiler/snapshots/:id/restore.
//
// Loads the snapshotted profile back into the registry and returns the new
// profile ID.
func (h *Handlers) HandleRestoreSnapshot(c *gin.Context) {
	store := h.svc.Store()
	if store == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "snapshot persistence is disabled",
			Code:  "SNAPSHOTS_DISABLED",
		})
		return
	}

	p, meta, err := store.Load(c.Request.Context(), c.Param("id"))
	recordSnapshotOp("load", err)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "loading snapshot: " + err.Error(),
			Code:  "SNAPSHOT_NOT_FOUND",
		})
		return
	}

	lp, err := h.svc.RestoreProfile(c.Request.Context(), meta.Name, p)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "restoring profile: " + err.Error(),
			Code:  "RESTORE_FAILED",
		})
		return
	}
	c.JSON(http.StatusOK, LoadResponse{
		ProfileID: lp.ProfileID,
		Name:      lp.Name,
		Threads:   threadSummaries(lp),
	})
}

// HandleDeleteSnapshot handles DELETE /v1/profiler/snapshots/:id.
func (h *Handlers) HandleDeleteSnapshot(c *gin.Context) {
	store := h.svc.Store()
	if store == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "snapshot persistence is disabled",
			Code:  "SNAPSHOTS_DISABLED",
		})
		return
	}

	err := store.Delete(c.Request.Context(), c.Param("id"))
	recordSnapshotOp("delete", err)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "deleting snapshot: " + err.Error(),
			Code:  "SNAPSHOT_NOT_FOUND",
		})
		return
	}
	c.Status(http.StatusNoContent)
}

// =============================================================================
// Health Handlers
// =============================================================================

// HandleHealth handles GET /v1/profiler/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:         "ok",
		LoadedProfiles: h.svc.ProfileCount(),
	})
}

// HandleReady handles GET /v1/profiler/ready.
func (h *Handlers) HandleReady(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:         "ready",
		LoadedProfiles: h.svc.ProfileCount(),
	})
}
