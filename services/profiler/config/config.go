// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the profiler service configuration from YAML, with
// embedded defaults so the service runs with zero external files.
package config

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Default Configuration
// =============================================================================

//go:embed defaults.yaml
var defaultConfigYAML []byte

// =============================================================================
// Configuration Types
// =============================================================================

// Config is the profiler service configuration.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type Config struct {
	// MaxProfileBytes caps the size of a profile accepted by the load
	// endpoint, in bytes.
	MaxProfileBytes int64 `yaml:"max_profile_bytes"`

	// MaxLoadedProfiles caps how many profiles the service keeps in
	// memory at once. Loading beyond the cap evicts the oldest.
	MaxLoadedProfiles int `yaml:"max_loaded_profiles"`

	// LoadRatePerSecond limits profile loads per second (token bucket).
	LoadRatePerSecond float64 `yaml:"load_rate_per_second"`

	// LoadBurst is the token bucket burst size for profile loads.
	LoadBurst int `yaml:"load_burst"`

	// SnapshotListLimit is the default page size for snapshot listings.
	SnapshotListLimit int `yaml:"snapshot_list_limit"`

	// Palette maps category names to fallback display colors, used when a
	// profile's category list omits colors.
	Palette []PaletteEntry `yaml:"palette"`
}

// PaletteEntry assigns a fallback color to a category name.
type PaletteEntry struct {
	// Name is the category name the entry applies to.
	Name string `yaml:"name"`

	// Color is the display color keyword.
	Color string `yaml:"color"`
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.MaxProfileBytes <= 0 {
		return fmt.Errorf("max_profile_bytes must be positive, got %d", c.MaxProfileBytes)
	}
	if c.MaxLoadedProfiles <= 0 {
		return fmt.Errorf("max_loaded_profiles must be positive, got %d", c.MaxLoadedProfiles)
	}
	if c.LoadRatePerSecond <= 0 {
		return fmt.Errorf("load_rate_per_second must be positive, got %v", c.LoadRatePerSecond)
	}
	if c.LoadBurst <= 0 {
		return fmt.Errorf("load_burst must be positive, got %d", c.LoadBurst)
	}
	if c.SnapshotListLimit <= 0 {
		return fmt.Errorf("snapshot_list_limit must be positive, got %d", c.SnapshotListLimit)
	}
	seen := make(map[string]bool, len(c.Palette))
	for i, e := range c.Palette {
		if e.Name == "" {
			return fmt.Errorf("palette entry %d has empty name", i)
		}
		if e.Color == "" {
			return fmt.Errorf("palette entry %q has empty color", e.Name)
		}
		if seen[e.Name] {
			return fmt.Errorf("palette entry %q duplicated", e.Name)
		}
		seen[e.Name] = true
	}
	return nil
}

// PaletteColor returns the fallback color for a category name, or "grey".
func (c *Config) PaletteColor(name string) string {
	for _, e := range c.Palette {
		if e.Name == name {
			return e.Color
		}
	}
	return "grey"
}

// =============================================================================
// Loading
// =============================================================================

// Load parses a Config from YAML bytes and validates it.
func Load(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

var (
	defaultOnce   sync.Once
	defaultConfig *Config
	defaultErr    error
)

// Default returns the embedded default configuration.
//
// The embedded YAML is parsed once; subsequent calls return the cached
// value. A parse failure of the embedded defaults is a build defect and
// is surfaced as an error rather than a panic.
func Default() (*Config, error) {
	defaultOnce.Do(func() {
		defaultConfig, defaultErr = Load(defaultConfigYAML)
	})
	return defaultConfig, defaultErr
}
