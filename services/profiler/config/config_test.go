// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"strings"
	"testing"
)

func TestDefault_EmbeddedConfigIsValid(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if cfg.MaxProfileBytes != 64<<20 {
		t.Errorf("MaxProfileBytes = %d, want %d", cfg.MaxProfileBytes, 64<<20)
	}
	if cfg.MaxLoadedProfiles != 16 {
		t.Errorf("MaxLoadedProfiles = %d, want 16", cfg.MaxLoadedProfiles)
	}
	if len(cfg.Palette) == 0 {
		t.Error("default palette is empty")
	}

	// Default() caches the parsed config.
	again, err := Default()
	if err != nil {
		t.Fatalf("Default (second call): %v", err)
	}
	if again != cfg {
		t.Error("Default returned a different instance on the second call")
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	cfg, err := Load([]byte(`
max_profile_bytes: 1024
max_loaded_profiles: 2
load_rate_per_second: 10
load_burst: 1
snapshot_list_limit: 5
palette:
  - name: JavaScript
    color: yellow
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxProfileBytes != 1024 {
		t.Errorf("MaxProfileBytes = %d, want 1024", cfg.MaxProfileBytes)
	}
	if cfg.SnapshotListLimit != 5 {
		t.Errorf("SnapshotListLimit = %d, want 5", cfg.SnapshotListLimit)
	}
}

func TestLoad_RejectsMalformedYAML(t *testing.T) {
	if _, err := Load([]byte("max_profile_bytes: [not a number")); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestValidate_Violations(t *testing.T) {
	base := func() Config {
		return Config{
			MaxProfileBytes:   1024,
			MaxLoadedProfiles: 4,
			LoadRatePerSecond: 1,
			LoadBurst:         1,
			SnapshotListLimit: 10,
			Palette:           []PaletteEntry{{Name: "Other", Color: "grey"}},
		}
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero max bytes", func(c *Config) { c.MaxProfileBytes = 0 }, "max_profile_bytes"},
		{"zero max profiles", func(c *Config) { c.MaxLoadedProfiles = 0 }, "max_loaded_profiles"},
		{"negative rate", func(c *Config) { c.LoadRatePerSecond = -1 }, "load_rate_per_second"},
		{"zero burst", func(c *Config) { c.LoadBurst = 0 }, "load_burst"},
		{"zero list limit", func(c *Config) { c.SnapshotListLimit = 0 }, "snapshot_list_limit"},
		{"empty palette name", func(c *Config) { c.Palette[0].Name = "" }, "empty name"},
		{"empty palette color", func(c *Config) { c.Palette[0].Color = "" }, "empty color"},
		{
			"duplicate palette entry",
			func(c *Config) { c.Palette = append(c.Palette, PaletteEntry{Name: "Other", Color: "red"}) },
			"duplicated",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("err = %v, want mention of %q", err, tc.wantErr)
			}
		})
	}
}

func TestPaletteColor(t *testing.T) {
	cfg := Config{Palette: []PaletteEntry{{Name: "Layout", Color: "purple"}}}
	if got := cfg.PaletteColor("Layout"); got != "purple" {
		t.Errorf("PaletteColor(Layout) = %q, want purple", got)
	}
	if got := cfg.PaletteColor("Unknown"); got != "grey" {
		t.Errorf("PaletteColor(Unknown) = %q, want grey", got)
	}
}
