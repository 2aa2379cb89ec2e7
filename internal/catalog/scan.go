// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/ytvault/internal/types"
)

// ScanReport summarizes one walk of the downloads root.
type ScanReport struct {
	VideosFound    int `json:"videos_found"`
	AssetsFound    int `json:"assets_found"`
	OrphanSidecars int `json:"orphan_sidecars"`
	Errors         int `json:"errors"`
}

// Scanner walks the downloads root and derives catalog rows from what it
// finds on disk. Files reached through symlinks that escape the root are
// skipped, matching the confinement rule for every other filesystem access.
type Scanner struct {
	root   string
	logger zerolog.Logger
}

// NewScanner creates a scanner rooted at the downloads directory.
func NewScanner(root string, logger zerolog.Logger) *Scanner {
	return &Scanner{root: root, logger: logger.With().Str("component", "catalog.scan").Logger()}
}

// Scan walks the root once and returns grouped video rows. Sidecars join
// the media file sharing their base name; sidecars without a media file
// are counted but not registered.
func (s *Scanner) Scan(ctx context.Context) ([]VideoWithAssets, *ScanReport, error) {
	realRoot, err := filepath.EvalSymlinks(s.root)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve downloads root: %w", err)
	}

	report := &ScanReport{}
	groups := make(map[string][]string)

	walkErr := filepath.WalkDir(realRoot, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			report.Errors++
			s.logScanError("catalog.scan_entry_failed", err, path)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			// Hidden directories are bookkeeping, not library content.
			if path != realRoot && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if skipFileName(d.Name()) {
			return nil
		}

		// Per-file confinement: a symlinked file must still resolve inside
		// the root.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			report.Errors++
			s.logScanError("catalog.scan_resolve_failed", err, path)
			return nil
		}
		rel, err := filepath.Rel(realRoot, realPath)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			report.Errors++
			s.logScanError("catalog.scan_escapes_root", fmt.Errorf("path outside root"), path)
			return nil
		}

		groups[SidecarBase(realPath)] = append(groups[SidecarBase(realPath)], realPath)
		return nil
	})
	if walkErr != nil {
		return nil, nil, fmt.Errorf("walk downloads root: %w", walkErr)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var rows []VideoWithAssets
	for _, key := range keys {
		row, assets, ok := s.buildRow(realRoot, groups[key], report)
		if !ok {
			report.OrphanSidecars += len(groups[key])
			continue
		}
		report.VideosFound++
		report.AssetsFound += len(assets)
		rows = append(rows, VideoWithAssets{Video: row, Assets: assets})
	}

	s.logger.Info().
		Str("event", "catalog.scan_complete").
		Int("videos", report.VideosFound).
		Int("assets", report.AssetsFound).
		Int("orphans", report.OrphanSidecars).
		Int("errors", report.Errors).
		Msg("downloads root scanned")

	return rows, report, nil
}

// skipFileName filters extractor bookkeeping and in-flight partials.
func skipFileName(name string) bool {
	lower := strings.ToLower(name)
	if lower == "archive.txt" || strings.HasPrefix(lower, ".") {
		return true
	}
	switch filepath.Ext(lower) {
	case ".part", ".ytdl", ".temp", ".tmp":
		return true
	}
	return false
}

// buildRow turns one base-name group into a video row. Returns ok=false
// when the group has no playable media file.
func (s *Scanner) buildRow(realRoot string, paths []string, report *ScanReport) (Video, []Asset, bool) {
	var mediaPath string
	for _, p := range paths {
		if IsMediaPath(p) {
			mediaPath = p
			break
		}
	}
	if mediaPath == "" {
		return Video{}, nil, false
	}

	relMedia, err := filepath.Rel(realRoot, mediaPath)
	if err != nil {
		report.Errors++
		s.logScanError("catalog.scan_rel_failed", err, mediaPath)
		return Video{}, nil, false
	}

	info, _ := os.Stat(mediaPath)
	modTime := time.Now().UTC()
	if info != nil {
		modTime = info.ModTime().UTC()
	}

	video := Video{
		Location:   types.LocationLocal,
		Source:     types.SourceCustom,
		Title:      strings.TrimSuffix(filepath.Base(mediaPath), filepath.Ext(mediaPath)),
		Status:     types.VideoStatusAvailable,
		ExtraJSON:  "{}",
		CreatedAt:  modTime,
		ModifiedAt: modTime,
	}

	// A metadata sidecar promotes the row from filename guesses to the
	// extractor's own record.
	for _, p := range paths {
		if KindForPath(p) != types.AssetKindInfoJSON {
			continue
		}
		if meta, err := readInfoJSON(p); err == nil {
			applyInfoJSON(&video, meta)
		} else {
			report.Errors++
			s.logScanError("catalog.scan_meta_invalid", err, p)
		}
		break
	}
	if video.VideoUID == "" {
		video.VideoUID = CustomUID(filepath.ToSlash(relMedia))
	}

	var assets []Asset
	for _, p := range paths {
		rel, err := filepath.Rel(realRoot, p)
		if err != nil {
			report.Errors++
			s.logScanError("catalog.scan_rel_failed", err, p)
			continue
		}
		var size int64
		if st, err := os.Stat(p); err == nil {
			size = st.Size()
		}
		assets = append(assets, Asset{
			VideoUID:  video.VideoUID,
			Location:  types.LocationLocal,
			Kind:      KindForPath(p),
			LocalPath: filepath.ToSlash(rel),
			MimeType:  MimeForPath(p),
			SizeBytes: size,
		})
	}
	return video, assets, true
}

// extractorMeta is the subset of the metadata sidecar the catalog keeps.
type extractorMeta struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Channel   string  `json:"channel"`
	Uploader  string  `json:"uploader"`
	Duration  float64 `json:"duration"`
	Extractor string  `json:"extractor"`
}

func readInfoJSON(path string) (*extractorMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var meta extractorMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// ApplyInfoJSON fills identity fields (title, channel, duration, uid)
// from raw extractor metadata bytes. Used by both the local scanner
// and the drive tree lister so rebuilt rows agree on identity.
func ApplyInfoJSON(v *Video, data []byte) error {
	var meta extractorMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return err
	}
	applyInfoJSON(v, &meta)
	return nil
}

func applyInfoJSON(v *Video, meta *extractorMeta) {
	if meta.Title != "" {
		v.Title = meta.Title
	}
	if meta.Channel != "" {
		v.Channel = meta.Channel
	} else if meta.Uploader != "" {
		v.Channel = meta.Uploader
	}
	if meta.Duration > 0 {
		v.DurationSeconds = int(meta.Duration)
	}
	if strings.EqualFold(meta.Extractor, "youtube") && meta.ID != "" {
		v.VideoUID = YouTubeUID(meta.ID)
		v.Source = types.SourceYouTube
	}
}

// logScanError logs with a hashed path so logs stay greppable without
// leaking library contents.
func (s *Scanner) logScanError(event string, err error, path string) {
	sum := sha256.Sum256([]byte(path))
	s.logger.Warn().
		Err(err).
		Str("event", event).
		Str("path_hash", hex.EncodeToString(sum[:5])).
		Msg("scan error")
}
