// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrSchemaMismatch indicates the profile declares an unsupported schema version.
var ErrSchemaMismatch = errors.New("unsupported profile schema")

// DefaultMaxProfileBytes is the default decode size limit (64MB).
const DefaultMaxProfileBytes = 64 << 20

// Decode reads a JSON profile from r and validates it.
//
// Description:
//
//	Decodes the struct-of-arrays wire format, normalizes optional columns
//	(missing sample weights become 1), and runs Validate so callers can
//	treat the returned profile as structurally sound.
//
// Inputs:
//
//	r - The JSON source. Read fully; capped at maxBytes.
//	maxBytes - Size limit in bytes. If <= 0, DefaultMaxProfileBytes is used.
//
// Outputs:
//
//	*Profile - The validated profile.
//	error - Non-nil on read, syntax, schema, or validation failure.
func Decode(r io.Reader, maxBytes int64) (*Profile, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxProfileBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading profile: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("profile exceeds %d byte limit", maxBytes)
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing profile JSON: %w", err)
	}

	if p.Schema == "" {
		p.Schema = SchemaVersion
	}
	if p.Schema != SchemaVersion {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrSchemaMismatch, p.Schema, SchemaVersion)
	}

	normalize(&p)

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("validating profile: %w", err)
	}
	return &p, nil
}

// normalize fills optional columns so downstream code never branches on
// missing data.
func normalize(p *Profile) {
	for _, t := range p.Threads {
		if t == nil {
			continue
		}
		n := t.Samples.Len()
		if len(t.Samples.Weight) == 0 && n > 0 {
			t.Samples.Weight = make([]float64, n)
			for i := range t.Samples.Weight {
				t.Samples.Weight[i] = 1
			}
		}
		if len(t.Samples.TimeMilli) == 0 && n > 0 {
			// Synthesize timestamps from the sampling interval.
			t.Samples.TimeMilli = make([]float64, n)
			for i := range t.Samples.TimeMilli {
				t.Samples.TimeMilli[i] = p.Meta.StartTimeMilli + float64(i)*p.Meta.IntervalMilli
			}
		}
		if len(t.Frames.Line) == 0 && t.Frames.Len() > 0 {
			t.Frames.Line = make([]int32, t.Frames.Len())
		}
	}
}
