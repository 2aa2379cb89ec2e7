// SPDX-License-Identifier: MIT

package types

import "fmt"

// Location distinguishes where a video's assets physically live.
type Location string

// Location constants. A logical video may have one row per location.
const (
	LocationLocal Location = "local"
	LocationDrive Location = "drive"
)

// String returns the string representation of the location.
func (l Location) String() string {
	return string(l)
}

// IsValid checks whether the location is one of the defined constants.
func (l Location) IsValid() bool {
	return l == LocationLocal || l == LocationDrive
}

// ParseLocation parses a string into a Location, returning an error if invalid.
func ParseLocation(s string) (Location, error) {
	l := Location(s)
	if !l.IsValid() {
		return "", fmt.Errorf("invalid location: %q (valid: local, drive)", s)
	}
	return l, nil
}

// Source identifies where a video originally came from.
type Source string

// Source constants.
const (
	SourceYouTube Source = "youtube"
	SourceHLS     Source = "hls"
	SourceCustom  Source = "custom"
)

// String returns the string representation of the source.
func (s Source) String() string {
	return string(s)
}

// IsValid checks whether the source is one of the defined constants.
func (s Source) IsValid() bool {
	switch s {
	case SourceYouTube, SourceHLS, SourceCustom:
		return true
	default:
		return false
	}
}

// AssetKind classifies the files owned by a video.
type AssetKind string

// Asset kind constants.
const (
	AssetKindVideo      AssetKind = "video"
	AssetKindThumbnail  AssetKind = "thumbnail"
	AssetKindSubtitles  AssetKind = "subtitles"
	AssetKindTranscript AssetKind = "transcript"
	AssetKindInfoJSON   AssetKind = "info_json"
	AssetKindAudio      AssetKind = "audio"
	AssetKindOther      AssetKind = "other"
)

// String returns the string representation of the asset kind.
func (k AssetKind) String() string {
	return string(k)
}

// IsValid checks whether the asset kind is one of the defined constants.
func (k AssetKind) IsValid() bool {
	switch k {
	case AssetKindVideo, AssetKindThumbnail, AssetKindSubtitles,
		AssetKindTranscript, AssetKindInfoJSON, AssetKindAudio, AssetKindOther:
		return true
	default:
		return false
	}
}

// VideoStatus reflects whether a video's primary asset is usable.
type VideoStatus string

// Video status constants.
const (
	VideoStatusAvailable VideoStatus = "available"
	VideoStatusMissing   VideoStatus = "missing"
	VideoStatusPending   VideoStatus = "pending"
	VideoStatusError     VideoStatus = "error"
)

// String returns the string representation of the video status.
func (s VideoStatus) String() string {
	return string(s)
}

// IsValid checks whether the video status is one of the defined constants.
func (s VideoStatus) IsValid() bool {
	switch s {
	case VideoStatusAvailable, VideoStatusMissing, VideoStatusPending, VideoStatusError:
		return true
	default:
		return false
	}
}

// SyncKind names the three difference categories between local and drive rows.
type SyncKind string

// Sync kind constants used by sync-status pagination.
const (
	SyncKindLocalOnly SyncKind = "local_only"
	SyncKindDriveOnly SyncKind = "drive_only"
	SyncKindSynced    SyncKind = "synced"
)

// IsValid checks whether the sync kind is one of the defined constants.
func (k SyncKind) IsValid() bool {
	switch k {
	case SyncKindLocalOnly, SyncKindDriveOnly, SyncKindSynced:
		return true
	default:
		return false
	}
}
