// SPDX-License-Identifier: MIT

package catalog

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/ManuGH/ytvault/internal/types"
)

// KindForPath classifies a file by extension.
func KindForPath(path string) types.AssetKind {
	name := strings.ToLower(filepath.Base(path))
	if strings.HasSuffix(name, ".info.json") {
		return types.AssetKindInfoJSON
	}
	switch filepath.Ext(name) {
	case ".mp4", ".mkv", ".webm", ".mov", ".avi", ".m4v", ".ts", ".flv":
		return types.AssetKindVideo
	case ".jpg", ".jpeg", ".png", ".webp", ".gif":
		return types.AssetKindThumbnail
	case ".vtt", ".srt", ".ass":
		return types.AssetKindSubtitles
	case ".txt":
		return types.AssetKindTranscript
	case ".m4a", ".mp3", ".opus", ".ogg", ".oga", ".wav", ".aac", ".flac":
		return types.AssetKindAudio
	default:
		return types.AssetKindOther
	}
}

// MimeForPath returns the content type served and stored for an asset file.
func MimeForPath(path string) string {
	name := strings.ToLower(filepath.Base(path))
	if strings.HasSuffix(name, ".info.json") {
		return "application/json"
	}
	switch filepath.Ext(name) {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	case ".mov":
		return "video/quicktime"
	case ".avi":
		return "video/x-msvideo"
	case ".ts":
		return "video/mp2t"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	case ".vtt":
		return "text/vtt"
	case ".srt":
		return "application/x-subrip"
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".json":
		return "application/json"
	case ".m4a":
		return "audio/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".opus", ".ogg", ".oga":
		return "audio/ogg"
	case ".wav":
		return "audio/wav"
	case ".aac":
		return "audio/aac"
	case ".flac":
		return "audio/flac"
	default:
		if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
			return t
		}
		return "application/octet-stream"
	}
}

// IsMediaPath reports whether the file is primary playable media rather
// than a sidecar.
func IsMediaPath(path string) bool {
	k := KindForPath(path)
	return k == types.AssetKindVideo || k == types.AssetKindAudio
}

// SidecarBase strips the classifying extensions so a media file and its
// sidecars (thumbnail, metadata JSON, language-tagged subtitles) group
// under one key.
func SidecarBase(path string) string {
	dir := filepath.Dir(path)
	name := filepath.Base(path)
	if strings.HasSuffix(strings.ToLower(name), ".info.json") {
		return filepath.Join(dir, name[:len(name)-len(".info.json")])
	}
	ext := filepath.Ext(name)
	stem := name[:len(name)-len(ext)]
	switch strings.ToLower(ext) {
	case ".vtt", ".srt", ".ass":
		// Subtitles may carry a language tag: "Title.pt-BR.vtt".
		if langExt := filepath.Ext(stem); isLangTag(langExt) {
			stem = stem[:len(stem)-len(langExt)]
		}
	}
	return filepath.Join(dir, stem)
}

func isLangTag(ext string) bool {
	if len(ext) < 3 || len(ext) > 11 || ext[0] != '.' {
		return false
	}
	for _, r := range ext[1:] {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r == '-':
		default:
			return false
		}
	}
	return true
}
