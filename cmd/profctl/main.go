// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command profctl is the CLI client for the Aleutian Profiler API.
//
// Usage:
//
//	profctl load ./captures/startup.json
//	profctl select --profile <id> --thread 0 --sample 1042
//	profctl snapshots list
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// serverURL holds the --server flag value shared by all commands.
var serverURL string

var rootCmd = &cobra.Command{
	Use:   "profctl",
	Short: "Client for the Aleutian Profiler API",
	Long: `profctl talks to a running Aleutian Profiler server: load profiles,
resolve click selections, and manage profile snapshots.`,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Profiler server base URL")

	rootCmd.AddCommand(newLoadCommand())
	rootCmd.AddCommand(newSelectCommand())
	rootCmd.AddCommand(newSnapshotsCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
