// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/ManuGH/ytvault/internal/types"
)

// Video is one row of the catalog, keyed by (video_uid, location). A logical
// video that exists both on disk and in Drive appears as two rows sharing
// the uid.
type Video struct {
	VideoUID        string            `json:"video_uid"`
	Location        types.Location    `json:"location"`
	Source          types.Source      `json:"source"`
	Title           string            `json:"title"`
	Channel         string            `json:"channel"`
	DurationSeconds int               `json:"duration_seconds"`
	Status          types.VideoStatus `json:"status"`
	ExtraJSON       string            `json:"extra_json,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	ModifiedAt      time.Time         `json:"modified_at"`
}

// Asset is a file owned by exactly one video row: the media itself, a
// thumbnail, subtitles, a transcript or the extractor's info JSON.
type Asset struct {
	ID       int64           `json:"-"`
	VideoUID string          `json:"video_uid"`
	Location types.Location  `json:"location"`
	Kind     types.AssetKind `json:"kind"`

	// Local assets carry a path relative to the downloads root.
	LocalPath string `json:"local_path,omitempty"`

	// Drive assets carry the remote identifiers.
	DriveFileID       string `json:"drive_file_id,omitempty"`
	DriveMD5          string `json:"drive_md5,omitempty"`
	DriveModifiedTime string `json:"drive_modified_time,omitempty"`

	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
	Hash      string `json:"hash,omitempty"`
}

// VideoWithAssets is the read shape for detail endpoints.
type VideoWithAssets struct {
	Video
	Assets []Asset `json:"assets"`
}

// State is the per-scope bookkeeping row for snapshot import/publish.
type State struct {
	Scope                types.Location `json:"scope"`
	Version              int64          `json:"version"`
	LastImportedAt       *time.Time     `json:"last_imported_at,omitempty"`
	LastPublishedAt      *time.Time     `json:"last_published_at,omitempty"`
	DriveCatalogFileID   string         `json:"drive_catalog_file_id,omitempty"`
	DriveCatalogRevision string         `json:"drive_catalog_revision,omitempty"`
}

// SyncCounts aggregates the local/Drive overlap, computed by uid joins.
type SyncCounts struct {
	TotalLocal     int `json:"total_local"`
	TotalDrive     int `json:"total_drive"`
	LocalOnlyCount int `json:"local_only_count"`
	DriveOnlyCount int `json:"drive_only_count"`
	SyncedCount    int `json:"synced_count"`
}

// ListOrder names the supported index-backed list orderings.
type ListOrder string

const (
	OrderModified ListOrder = "modified_at"
	OrderTitle    ListOrder = "title"
	OrderCreated  ListOrder = "created_at"
)

// YouTubeUID derives the stable uid for a YouTube item.
func YouTubeUID(youtubeID string) string {
	return "yt:" + youtubeID
}

// CustomUID derives a stable uid for non-YouTube items from a seed that is
// reproducible across machines, typically the relative library path.
func CustomUID(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return "custom:" + hex.EncodeToString(sum[:8])
}
