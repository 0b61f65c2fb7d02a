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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all Profiler routes with the router.
//
// Description:
//
//	Registers all /v1/profiler/* endpoints with the given Gin router
//	group. The router group should already have any required middleware
//	applied.
//
// Core Endpoints:
//
//	POST /v1/profiler/load - Load a profile (path or inline JSON)
//	GET  /v1/profiler/profiles - List loaded profiles
//	POST /v1/profiler/select - Resolve a click into a selection
//	GET  /v1/profiler/ws - Selection event stream (websocket)
//
// Snapshot Endpoints:
//
//	POST   /v1/profiler/snapshots - Save a profile snapshot
//	GET    /v1/profiler/snapshots - List snapshots
//	POST   /v1/profiler/snapshots/:id/restore - Restore a snapshot
//	DELETE /v1/profiler/snapshots/:id - Delete a snapshot
//
// Health Endpoints:
//
//	GET /v1/profiler/health - Health check
//	GET /v1/profiler/ready - Readiness check
//
// Example:
//
//	svc, _ := profiler.NewService(cfg, logger)
//	handlers := profiler.NewHandlers(svc, hub)
//
//	v1 := router.Group("/v1")
//	profiler.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	p := rg.Group("/profiler")
	{
		// Profile lifecycle
		p.POST("/load", handlers.HandleLoad)
		p.GET("/profiles", handlers.HandleListProfiles)

		// Selection resolution
		p.POST("/select", handlers.HandleSelect)
		p.GET("/ws", handlers.HandleStream)

		// Snapshot persistence
		p.POST("/snapshots", handlers.HandleSaveSnapshot)
		p.GET("/snapshots", handlers.HandleListSnapshots)
		p.POST("/snapshots/:id/restore", handlers.HandleRestoreSnapshot)
		p.DELETE("/snapshots/:id", handlers.HandleDeleteSnapshot)

		// Health checks
		p.GET("/health", handlers.HandleHealth)
		p.GET("/ready", handlers.HandleReady)
	}
}
