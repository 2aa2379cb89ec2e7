// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package catalog

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/ManuGH/ytvault/internal/types"
)

// SnapshotSchemaVersion is the wire version this build reads and writes.
// Unknown versions are rejected on import.
const SnapshotSchemaVersion = 1

// SnapshotFileName is the published artifact inside the reserved folder.
const SnapshotFileName = "catalog-drive.json.gz"

// ReservedFolderName holds the snapshot and is never treated as library
// content by cleanup or rebuild.
const ReservedFolderName = ".catalog"

// ErrSnapshotSchema indicates a snapshot with a schema version this build
// does not understand.
var ErrSnapshotSchema = errors.New("catalog: unsupported snapshot schema version")

// ErrSnapshotMissing is returned by transports when no snapshot has been
// published yet.
var ErrSnapshotMissing = errors.New("catalog: no published snapshot")

// ErrPreconditionFailed is returned by transports when the remote snapshot
// revision moved between read and write.
var ErrPreconditionFailed = errors.New("catalog: snapshot revision changed")

// SnapshotTransport moves the published snapshot artifact to and from the
// remote store. Implemented by the drive package.
type SnapshotTransport interface {
	// FetchSnapshot returns the published artifact bytes plus the revision
	// token and file id of the remote object. ErrSnapshotMissing when none
	// has been published.
	FetchSnapshot(ctx context.Context) (data []byte, revision, fileID string, err error)

	// StoreSnapshot uploads the artifact, replacing the current object only
	// if its revision still equals precondRevision. An empty precondRevision
	// means "create or overwrite unconditionally". ErrPreconditionFailed
	// when the remote moved.
	StoreSnapshot(ctx context.Context, data []byte, precondRevision string) (newRevision, fileID string, err error)
}

// Snapshot is the serialized drive-side catalog.
type Snapshot struct {
	SchemaVersion int             `json:"schema_version"`
	GeneratedAt   time.Time       `json:"generated_at"`
	Videos        []SnapshotVideo `json:"videos"`
}

// SnapshotVideo is one video entry in the published artifact.
type SnapshotVideo struct {
	VideoUID        string          `json:"video_uid"`
	Title           string          `json:"title"`
	Channel         string          `json:"channel,omitempty"`
	DurationSeconds int             `json:"duration_seconds,omitempty"`
	ModifiedAt      time.Time       `json:"modified_at"`
	Assets          []SnapshotAsset `json:"assets"`
}

// SnapshotAsset is one asset entry in the published artifact.
type SnapshotAsset struct {
	Kind        types.AssetKind `json:"kind"`
	DriveFileID string          `json:"drive_file_id"`
	MimeType    string          `json:"mime_type,omitempty"`
}

// BuildSnapshot serializes drive-side catalog rows. Entries are sorted by
// uid so identical catalogs produce identical artifacts. Assets without a
// Drive file id carry no information for another machine and are skipped.
func BuildSnapshot(rows []VideoWithAssets) *Snapshot {
	snap := &Snapshot{
		SchemaVersion: SnapshotSchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Videos:        make([]SnapshotVideo, 0, len(rows)),
	}
	for _, row := range rows {
		entry := SnapshotVideo{
			VideoUID:        row.VideoUID,
			Title:           row.Title,
			Channel:         row.Channel,
			DurationSeconds: row.DurationSeconds,
			ModifiedAt:      row.ModifiedAt.UTC(),
			Assets:          make([]SnapshotAsset, 0, len(row.Assets)),
		}
		for _, a := range row.Assets {
			if a.DriveFileID == "" {
				continue
			}
			entry.Assets = append(entry.Assets, SnapshotAsset{
				Kind:        a.Kind,
				DriveFileID: a.DriveFileID,
				MimeType:    a.MimeType,
			})
		}
		snap.Videos = append(snap.Videos, entry)
	}
	sort.Slice(snap.Videos, func(i, j int) bool {
		return snap.Videos[i].VideoUID < snap.Videos[j].VideoUID
	})
	return snap
}

// Encode produces the gzipped JSON artifact.
func (s *Snapshot) Encode() ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := json.NewEncoder(gz).Encode(s); err != nil {
		_ = gz.Close()
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("compress snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeSnapshot parses a published artifact and validates its schema
// version.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}
	defer func() { _ = gz.Close() }()

	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	if snap.SchemaVersion != SnapshotSchemaVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrSnapshotSchema, snap.SchemaVersion, SnapshotSchemaVersion)
	}
	return &snap, nil
}

// Rows converts snapshot entries back into catalog rows for import. The
// artifact does not carry creation times or extra metadata, so those reset
// to the entry's modified time and an empty blob.
func (s *Snapshot) Rows() []VideoWithAssets {
	rows := make([]VideoWithAssets, 0, len(s.Videos))
	for _, entry := range s.Videos {
		row := VideoWithAssets{
			Video: Video{
				VideoUID:        entry.VideoUID,
				Location:        types.LocationDrive,
				Source:          sourceForUID(entry.VideoUID),
				Title:           entry.Title,
				Channel:         entry.Channel,
				DurationSeconds: entry.DurationSeconds,
				Status:          types.VideoStatusAvailable,
				ExtraJSON:       "{}",
				CreatedAt:       entry.ModifiedAt,
				ModifiedAt:      entry.ModifiedAt,
			},
			Assets: make([]Asset, 0, len(entry.Assets)),
		}
		for _, a := range entry.Assets {
			mime := a.MimeType
			if mime == "" {
				mime = "application/octet-stream"
			}
			row.Assets = append(row.Assets, Asset{
				VideoUID:    entry.VideoUID,
				Location:    types.LocationDrive,
				Kind:        a.Kind,
				DriveFileID: a.DriveFileID,
				MimeType:    mime,
			})
		}
		rows = append(rows, row)
	}
	return rows
}

func sourceForUID(uid string) types.Source {
	if strings.HasPrefix(uid, "yt:") {
		return types.SourceYouTube
	}
	return types.SourceCustom
}

// MergeSnapshots unions two snapshots by uid. When both carry the same
// video the entry with the later modified time wins, so a machine that
// lost the publish race keeps the winner's edits alongside its own
// additions.
func MergeSnapshots(a, b *Snapshot) *Snapshot {
	byUID := make(map[string]SnapshotVideo, len(a.Videos)+len(b.Videos))
	for _, v := range a.Videos {
		byUID[v.VideoUID] = v
	}
	for _, v := range b.Videos {
		if prev, ok := byUID[v.VideoUID]; ok && prev.ModifiedAt.After(v.ModifiedAt) {
			continue
		}
		byUID[v.VideoUID] = v
	}

	merged := &Snapshot{
		SchemaVersion: SnapshotSchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Videos:        make([]SnapshotVideo, 0, len(byUID)),
	}
	for _, v := range byUID {
		merged.Videos = append(merged.Videos, v)
	}
	sort.Slice(merged.Videos, func(i, j int) bool {
		return merged.Videos[i].VideoUID < merged.Videos[j].VideoUID
	})
	return merged
}
