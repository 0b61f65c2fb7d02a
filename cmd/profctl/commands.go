// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianProfiler/services/profiler"
)

var httpClient = &http.Client{Timeout: 60 * time.Second}

// newLoadCommand builds the "load" subcommand.
func newLoadCommand() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "load <path>",
		Short: "Load a profile from a server-local file",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			req := profiler.LoadRequest{Name: name, Path: args[0]}
			if req.Name == "" {
				req.Name = filepath.Base(args[0])
			}

			var resp profiler.LoadResponse
			if err := postJSON("/v1/profiler/load", req, &resp); err != nil {
				return err
			}

			fmt.Printf("Loaded %s (profile_id %s)\n", resp.Name, resp.ProfileID)
			for _, t := range resp.Threads {
				fmt.Printf("  thread %d %-20s %8d samples %8d call nodes\n",
					t.Index, t.Name, t.SampleCount, t.NodeCount)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Profile name (defaults to the file base name)")
	return cmd
}

// newSelectCommand builds the "select" subcommand.
func newSelectCommand() *cobra.Command {
	var (
		profileID  string
		thread     int
		sample     int
		rangeStart float64
		rangeEnd   float64
		dropCats   []string
	)
	cmd := &cobra.Command{
		Use:   "select",
		Short: "Resolve a click on a sample into a selection",
		RunE: func(_ *cobra.Command, _ []string) error {
			req := profiler.SelectRequest{
				ProfileID:       profileID,
				Thread:          thread,
				Sample:          sample,
				RangeStartMilli: rangeStart,
				RangeEndMilli:   rangeEnd,
				DropCategories:  dropCats,
			}

			var resp profiler.SelectResponse
			if err := postJSON("/v1/profiler/select", req, &resp); err != nil {
				return err
			}

			fmt.Printf("Clicked node %d, resolved node %d (%s, %s)\n",
				resp.ClickedNode, resp.ResolvedNode, resp.Category, resp.Color)
			fmt.Println("Path:")
			for _, frame := range resp.Path {
				fmt.Printf("  %6d  %-12s %s\n", frame.Node, frame.Category, frame.Func)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&profileID, "profile", "", "Profile ID (required)")
	cmd.Flags().IntVar(&thread, "thread", 0, "Thread index")
	cmd.Flags().IntVar(&sample, "sample", 0, "Clicked sample index")
	cmd.Flags().Float64Var(&rangeStart, "range-start", 0, "Committed range start (ms)")
	cmd.Flags().Float64Var(&rangeEnd, "range-end", 0, "Committed range end (ms)")
	cmd.Flags().StringSliceVar(&dropCats, "drop-category", nil, "Category names to prune from the filtered view")
	cmd.MarkFlagRequired("profile")
	return cmd
}

// newSnapshotsCommand builds the "snapshots" subcommand group.
func newSnapshotsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "Manage profile snapshots",
	}

	var label string
	save := &cobra.Command{
		Use:   "save <profile-id>",
		Short: "Save a loaded profile as a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			req := profiler.SaveSnapshotRequest{ProfileID: args[0], Label: label}
			var resp profiler.SaveSnapshotResponse
			if err := postJSON("/v1/profiler/snapshots", req, &resp); err != nil {
				return err
			}
			fmt.Printf("Saved snapshot %s (%d bytes compressed)\n",
				resp.Metadata.SnapshotID, resp.Metadata.CompressedSize)
			return nil
		},
	}
	save.Flags().StringVar(&label, "label", "", "Human-readable snapshot label")

	list := &cobra.Command{
		Use:   "list",
		Short: "List saved snapshots",
		RunE: func(_ *cobra.Command, _ []string) error {
			var resp profiler.ListSnapshotsResponse
			if err := getJSON("/v1/profiler/snapshots", &resp); err != nil {
				return err
			}
			for _, m := range resp.Snapshots {
				saved := time.UnixMilli(m.SavedAtMilli).Format(time.RFC3339)
				fmt.Printf("%s  %s  %-24s threads=%d samples=%d %s\n",
					m.SnapshotID, saved, m.Name, m.ThreadCount, m.SampleCount, m.Label)
			}
			return nil
		},
	}

	restore := &cobra.Command{
		Use:   "restore <snapshot-id>",
		Short: "Restore a snapshot into the running server",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			var resp profiler.LoadResponse
			if err := postJSON("/v1/profiler/snapshots/"+args[0]+"/restore", struct{}{}, &resp); err != nil {
				return err
			}
			fmt.Printf("Restored %s as profile_id %s\n", resp.Name, resp.ProfileID)
			return nil
		},
	}

	cmd.AddCommand(save, list, restore)
	return cmd
}

// =============================================================================
// HTTP Helpers
// =============================================================================

func postJSON(path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	resp, err := httpClient.Post(serverURL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()
	return decodeResponse(path, resp, out)
}

func getJSON(path string, out any) error {
	resp, err := httpClient.Get(serverURL + path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	return decodeResponse(path, resp, out)
}

func decodeResponse(path string, resp *http.Response, out any) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response from %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr profiler.ErrorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (%s)", apiErr.Error, apiErr.Code)
		}
		return fmt.Errorf("%s returned %s", path, resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", path, err)
	}
	return nil
}
