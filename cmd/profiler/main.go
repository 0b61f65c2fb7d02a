// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command profiler starts the Aleutian Profiler API server.
//
// Aleutian Profiler is the backend of the performance-profile visualizer:
//   - Loads sampled profiles (threads, stack tables, categories)
//   - Builds per-thread call trees
//   - Resolves clicks on rendered samples to the widest safe call node
//   - Streams selection events to the front end over websocket
//   - Persists profile snapshots in BadgerDB
//
// Usage:
//
//	go run ./cmd/profiler
//	go run ./cmd/profiler -port 9090 -watch ./captures
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/v1/profiler/health
//
//	# Load a profile from a server-local file
//	curl -X POST http://localhost:8080/v1/profiler/load \
//	  -H "Content-Type: application/json" \
//	  -d '{"path": "/captures/startup.json"}'
//
//	# Resolve a click on sample 1042 of thread 0
//	curl -X POST http://localhost:8080/v1/profiler/select \
//	  -H "Content-Type: application/json" \
//	  -d '{"profile_id": "<id>", "thread": 0, "sample": 1042}'
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/AleutianAI/AleutianProfiler/services/profiler"
	"github.com/AleutianAI/AleutianProfiler/services/profiler/config"
	"github.com/AleutianAI/AleutianProfiler/services/profiler/snapshot"
)

const shutdownTimeout = 10 * time.Second

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	debug := flag.Bool("debug", false, "Enable debug mode")
	configPath := flag.String("config", "", "Path to a YAML config file (embedded defaults when empty)")
	watchDir := flag.String("watch", "", "Directory to watch for profile drops (disabled when empty)")
	snapshotDir := flag.String("snapshot-dir", "", "BadgerDB directory for profile snapshots (disabled when empty)")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// W3C TraceContext propagation so trace context flows from incoming
	// HTTP headers through all handlers.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("loading config", slog.Any("error", err))
		os.Exit(1)
	}

	// Snapshot persistence is optional; the service degrades to
	// in-memory-only when the store is unavailable.
	var db *badger.DB
	var store *snapshot.Store
	if *snapshotDir != "" {
		opts := badger.DefaultOptions(*snapshotDir).WithLogger(nil)
		db, err = badger.Open(opts)
		if err != nil {
			logger.Warn("snapshot BadgerDB unavailable, persistence disabled",
				slog.String("path", *snapshotDir),
				slog.Any("error", err),
			)
		} else {
			store, err = snapshot.NewStore(db, logger)
			if err != nil {
				logger.Error("creating snapshot store", slog.Any("error", err))
				os.Exit(1)
			}
			logger.Info("snapshot BadgerDB opened", slog.String("path", *snapshotDir))
		}
	}

	hub := profiler.NewHub(logger)

	svcOpts := []profiler.ServiceOption{profiler.WithSelectionSink(hub)}
	if store != nil {
		svcOpts = append(svcOpts, profiler.WithSnapshotStore(store))
	}
	svc, err := profiler.NewService(cfg, logger, svcOpts...)
	if err != nil {
		logger.Error("creating service", slog.Any("error", err))
		os.Exit(1)
	}
	handlers := profiler.NewHandlers(svc, hub)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("aleutian-profiler"))
	if *debug {
		router.Use(gin.Logger())
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	profiler.RegisterRoutes(v1, handlers)

	// Watcher runs until shutdown; failures disable the watch but not
	// the server.
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	if *watchDir != "" {
		watcher, err := profiler.NewWatcher(svc, *watchDir, logger)
		if err != nil {
			logger.Error("creating watcher", slog.Any("error", err))
			os.Exit(1)
		}
		go func() {
			if err := watcher.Run(watchCtx); err != nil {
				logger.Warn("profile watcher stopped", slog.Any("error", err))
			}
		}()
		logger.Info("watching for profile drops", slog.String("dir", *watchDir))
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: router,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		slog.Info("Shutting down Aleutian Profiler server")
		stopWatch()
		hub.Close()

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Warn("HTTP server shutdown", slog.Any("error", err))
		}
		if db != nil {
			if err := db.Close(); err != nil {
				slog.Warn("Failed to close snapshot BadgerDB", slog.Any("error", err))
			}
		}
	}()

	slog.Info("Aleutian Profiler listening",
		slog.Int("port", *port),
		slog.Bool("snapshots", store != nil),
		slog.Bool("watch", *watchDir != ""),
	)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("HTTP server failed", slog.Any("error", err))
		os.Exit(1)
	}
}

// loadConfig loads the YAML config from path, or the embedded defaults.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return config.Load(data)
}
