// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package snapshot persists loaded profiles as gzip-compressed JSON
// snapshots in BadgerDB, so a visualizer session can be restored without
// re-uploading the original profile.
package snapshot

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianProfiler/services/profiler/profile"
)

// BadgerDB key prefixes for profile snapshots.
const (
	keyPrefixSnap      = "profiler:snap:"
	keyPrefixSnapIndex = "profiler:snap:index:"
	keySuffixData      = ":data"
	keySuffixMeta      = ":meta"
	keySuffixLatest    = ":latest"
)

// Metadata contains metadata about a saved profile snapshot.
type Metadata struct {
	// SnapshotID is the unique identifier for this snapshot.
	// Derived from SHA256(Name + SavedAtMilli)[:16].
	SnapshotID string `json:"snapshot_id"`

	// Name is the profile name the snapshot was saved under.
	Name string `json:"name"`

	// NameHash is SHA256(Name)[:16] for key grouping.
	NameHash string `json:"name_hash"`

	// Label is an optional human-readable label.
	Label string `json:"label,omitempty"`

	// SavedAtMilli is when the snapshot was saved (Unix milliseconds UTC).
	SavedAtMilli int64 `json:"saved_at_milli"`

	// ThreadCount is the number of threads in the profile.
	ThreadCount int `json:"thread_count"`

	// SampleCount is the total number of samples across all threads.
	SampleCount int `json:"sample_count"`

	// SchemaVersion is the profile schema version.
	SchemaVersion string `json:"schema_version"`

	// CompressedSize is the size of the gzip-compressed JSON payload in bytes.
	CompressedSize int64 `json:"compressed_size"`

	// ContentHash is the SHA256 hash of the compressed payload.
	ContentHash string `json:"content_hash"`
}

// Store manages saving and loading profile snapshots in BadgerDB.
//
// Description:
//
//	Provides CRUD operations for profile snapshots stored as gzip-compressed
//	JSON in BadgerDB. Each snapshot stores the full profile plus metadata
//	for listing and filtering.
//
// Thread Safety:
//
//	Safe for concurrent use. BadgerDB handles its own concurrency control.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewStore creates a new Store.
//
// Inputs:
//
//	db - An opened BadgerDB instance. Must not be nil. Opened and closed
//	by the caller.
//	logger - Logger for diagnostic output. Must not be nil.
func NewStore(db *badger.DB, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &Store{db: db, logger: logger}, nil
}

// Save persists a profile snapshot to BadgerDB.
//
// Description:
//
//	Serializes the profile to JSON, gzip-compresses it, and stores it
//	along with metadata. Updates the "latest" pointer for the profile
//	name.
//
// Key Schema:
//
//	profiler:snap:{nameHash}:{snapshotID}:data → gzip(JSON(Profile))
//	profiler:snap:{nameHash}:{snapshotID}:meta → JSON(Metadata)
//	profiler:snap:{nameHash}:latest            → snapshotID
//	profiler:snap:index:{snapshotID}           → nameHash
func (s *Store) Save(ctx context.Context, p *profile.Profile, name, label string) (*Metadata, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if p == nil {
		return nil, fmt.Errorf("profile must not be nil")
	}
	if name == "" {
		return nil, fmt.Errorf("name must not be empty")
	}

	jsonData, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshaling profile: %w", err)
	}

	var compressed bytes.Buffer
	gw, err := gzip.NewWriterLevel(&compressed, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gw.Write(jsonData); err != nil {
		return nil, fmt.Errorf("compressing profile: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}
	compressedData := compressed.Bytes()

	savedAt := time.Now().UnixMilli()
	nameHash := hashString(name)[:16]
	snapshotID := hashString(fmt.Sprintf("%s:%d", name, savedAt))[:16]

	sampleCount := 0
	for _, t := range p.Threads {
		sampleCount += t.Samples.Len()
	}

	meta := &Metadata{
		SnapshotID:     snapshotID,
		Name:           name,
		NameHash:       nameHash,
		Label:          label,
		SavedAtMilli:   savedAt,
		ThreadCount:    len(p.Threads),
		SampleCount:    sampleCount,
		SchemaVersion:  p.Schema,
		CompressedSize: int64(len(compressedData)),
		ContentHash:    hashBytes(compressedData),
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}

	dataKey := keyPrefixSnap + nameHash + ":" + snapshotID + keySuffixData
	metaKey := keyPrefixSnap + nameHash + ":" + snapshotID + keySuffixMeta
	latestKey := keyPrefixSnap + nameHash + keySuffixLatest
	indexKey := keyPrefixSnapIndex + snapshotID

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(dataKey), compressedData); err != nil {
			return fmt.Errorf("storing data: %w", err)
		}
		if err := txn.Set([]byte(metaKey), metaJSON); err != nil {
			return fmt.Errorf("storing metadata: %w", err)
		}
		if err := txn.Set([]byte(latestKey), []byte(snapshotID)); err != nil {
			return fmt.Errorf("updating latest pointer: %w", err)
		}
		if err := txn.Set([]byte(indexKey), []byte(nameHash)); err != nil {
			return fmt.Errorf("storing reverse index: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("writing snapshot to badger: %w", err)
	}

	s.logger.Info("profile snapshot saved",
		slog.String("snapshot_id", snapshotID),
		slog.String("name", name),
		slog.Int("thread_count", meta.ThreadCount),
		slog.Int("sample_count", meta.SampleCount),
		slog.Int64("compressed_size", meta.CompressedSize),
	)

	return meta, nil
}

// Load retrieves a profile snapshot by its ID.
func (s *Store) Load(ctx context.Context, snapshotID string) (*profile.Profile, *Metadata, error) {
	if ctx == nil {
		return nil, nil, fmt.Errorf("ctx must not be nil")
	}
	if snapshotID == "" {
		return nil, nil, fmt.Errorf("snapshot ID must not be empty")
	}

	nameHash, err := s.getNameHash(snapshotID)
	if err != nil {
		return nil, nil, fmt.Errorf("looking up snapshot %s: %w", snapshotID, err)
	}
	return s.loadByKeys(nameHash, snapshotID)
}

// LoadLatest loads the most recent snapshot saved under a profile name.
func (s *Store) LoadLatest(ctx context.Context, name string) (*profile.Profile, *Metadata, error) {
	if ctx == nil {
		return nil, nil, fmt.Errorf("ctx must not be nil")
	}
	if name == "" {
		return nil, nil, fmt.Errorf("name must not be empty")
	}

	nameHash := hashString(name)[:16]
	latestKey := keyPrefixSnap + nameHash + keySuffixLatest
	var snapshotID string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(latestKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			snapshotID = string(val)
			return nil
		})
	})
	if err != nil {
		return nil, nil, fmt.Errorf("reading latest pointer for %q: %w", name, err)
	}
	return s.loadByKeys(nameHash, snapshotID)
}

// List returns metadata for snapshots, optionally filtered by profile name.
//
// Results are ordered by SavedAtMilli descending (newest first).
func (s *Store) List(ctx context.Context, name string, limit int) ([]*Metadata, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if limit <= 0 {
		limit = 100
	}

	prefix := keyPrefixSnap
	if name != "" {
		prefix = keyPrefixSnap + hashString(name)[:16] + ":"
	}

	var results []*Metadata
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(prefix)); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if !strings.HasSuffix(key, keySuffixMeta) {
				continue
			}
			var meta Metadata
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			})
			if err != nil {
				s.logger.Warn("skipping corrupt metadata", slog.String("key", key), slog.Any("error", err))
				continue
			}
			results = append(results, &meta)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].SavedAtMilli > results[j].SavedAtMilli
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Delete removes a snapshot and its index entries.
//
// If the deleted snapshot was the "latest" for its profile name, the latest
// pointer is removed as well.
func (s *Store) Delete(ctx context.Context, snapshotID string) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	if snapshotID == "" {
		return fmt.Errorf("snapshot ID must not be empty")
	}

	nameHash, err := s.getNameHash(snapshotID)
	if err != nil {
		return fmt.Errorf("looking up snapshot %s: %w", snapshotID, err)
	}

	dataKey := keyPrefixSnap + nameHash + ":" + snapshotID + keySuffixData
	metaKey := keyPrefixSnap + nameHash + ":" + snapshotID + keySuffixMeta
	latestKey := keyPrefixSnap + nameHash + keySuffixLatest
	indexKey := keyPrefixSnapIndex + snapshotID

	err = s.db.Update(func(txn *badger.Txn) error {
		// Clear the latest pointer only when it points at this snapshot.
		if item, err := txn.Get([]byte(latestKey)); err == nil {
			var latest string
			if err := item.Value(func(val []byte) error {
				latest = string(val)
				return nil
			}); err == nil && latest == snapshotID {
				if err := txn.Delete([]byte(latestKey)); err != nil {
					return fmt.Errorf("deleting latest pointer: %w", err)
				}
			}
		}
		if err := txn.Delete([]byte(dataKey)); err != nil {
			return fmt.Errorf("deleting data: %w", err)
		}
		if err := txn.Delete([]byte(metaKey)); err != nil {
			return fmt.Errorf("deleting metadata: %w", err)
		}
		if err := txn.Delete([]byte(indexKey)); err != nil {
			return fmt.Errorf("deleting reverse index: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting snapshot from badger: %w", err)
	}

	s.logger.Info("profile snapshot deleted", slog.String("snapshot_id", snapshotID))
	return nil
}

// =============================================================================
// Internal Helpers
// =============================================================================

// getNameHash reads the reverse index entry for a snapshot ID.
func (s *Store) getNameHash(snapshotID string) (string, error) {
	indexKey := keyPrefixSnapIndex + snapshotID
	var nameHash string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(indexKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			nameHash = string(val)
			return nil
		})
	})
	if err != nil {
		return "", err
	}
	return nameHash, nil
}

// loadByKeys reads and decompresses a snapshot given its resolved keys.
func (s *Store) loadByKeys(nameHash, snapshotID string) (*profile.Profile, *Metadata, error) {
	dataKey := keyPrefixSnap + nameHash + ":" + snapshotID + keySuffixData
	metaKey := keyPrefixSnap + nameHash + ":" + snapshotID + keySuffixMeta

	var compressedData []byte
	var meta Metadata
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(dataKey))
		if err != nil {
			return fmt.Errorf("reading data: %w", err)
		}
		compressedData, err = item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copying data: %w", err)
		}

		item, err = txn.Get([]byte(metaKey))
		if err != nil {
			return fmt.Errorf("reading metadata: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &meta)
		})
	})
	if err != nil {
		return nil, nil, fmt.Errorf("loading snapshot %s: %w", snapshotID, err)
	}

	gr, err := gzip.NewReader(bytes.NewReader(compressedData))
	if err != nil {
		return nil, nil, fmt.Errorf("creating gzip reader: %w", err)
	}
	jsonData, err := io.ReadAll(gr)
	if err != nil {
		return nil, nil, fmt.Errorf("decompressing profile: %w", err)
	}
	if err := gr.Close(); err != nil {
		return nil, nil, fmt.Errorf("closing gzip reader: %w", err)
	}

	var p profile.Profile
	if err := json.Unmarshal(jsonData, &p); err != nil {
		return nil, nil, fmt.Errorf("unmarshaling profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, nil, fmt.Errorf("validating restored profile: %w", err)
	}
	return &p, &meta, nil
}

// hashString returns the hex SHA256 of a string.
func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// hashBytes returns the hex SHA256 of a byte slice.
func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
