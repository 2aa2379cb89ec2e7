// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package drive

import (
	"context"
	"path"
	"sort"
	"strings"
	"time"

	drivev3 "google.golang.org/api/drive/v3"

	"github.com/ManuGH/ytvault/internal/catalog"
	"github.com/ManuGH/ytvault/internal/log"
	"github.com/ManuGH/ytvault/internal/types"
)

// sidecarParseLimit caps how large a metadata sidecar the lister will
// download while rebuilding. Bigger files are treated as opaque.
const sidecarParseLimit = 4 << 20

// Lister rebuilds catalog rows from the Drive folder tree itself.
// Used when the local database is lost or the snapshot is suspect:
// whatever actually lives under the archive root wins.
type Lister struct {
	client *Client
}

func NewLister(client *Client) *Lister {
	return &Lister{client: client}
}

var _ catalog.DriveLister = (*Lister)(nil)

type driveEntry struct {
	file *drivev3.File
	rel  string
}

// ListLibrary walks every folder under the archive root (the reserved
// catalog folder excluded), groups files into videos the same way the
// local scanner does, and recovers identity from metadata sidecars
// where they exist.
func (l *Lister) ListLibrary(ctx context.Context) ([]catalog.VideoWithAssets, error) {
	rootID, err := l.client.RootFolderID(ctx)
	if err != nil {
		return nil, err
	}

	type dir struct {
		id  string
		rel string
	}
	queue := []dir{{id: rootID}}
	groups := make(map[string][]driveEntry)
	orphans := 0

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cur := queue[0]
		queue = queue[1:]
		children, err := l.client.ListChildren(ctx, cur.id)
		if err != nil {
			return nil, err
		}
		for _, f := range children {
			if f.MimeType == folderMimeType {
				if f.Name == catalog.ReservedFolderName {
					continue
				}
				queue = append(queue, dir{id: f.Id, rel: path.Join(cur.rel, f.Name)})
				continue
			}
			rel := path.Join(cur.rel, f.Name)
			base := catalog.SidecarBase(rel)
			groups[base] = append(groups[base], driveEntry{file: f, rel: rel})
		}
	}

	bases := make([]string, 0, len(groups))
	for base := range groups {
		bases = append(bases, base)
	}
	sort.Strings(bases)

	out := make([]catalog.VideoWithAssets, 0, len(bases))
	for _, base := range bases {
		row, ok := l.buildRow(ctx, groups[base])
		if !ok {
			orphans += len(groups[base])
			continue
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VideoUID < out[j].VideoUID })

	l.client.logger.Info().
		Str(log.FieldEvent, "drive.list_complete").
		Int(log.FieldItems, len(out)).
		Int("orphan_files", orphans).
		Msg("listed drive library")
	return out, nil
}

func (l *Lister) buildRow(ctx context.Context, entries []driveEntry) (catalog.VideoWithAssets, bool) {
	var media *driveEntry
	for i := range entries {
		if catalog.IsMediaPath(entries[i].rel) {
			media = &entries[i]
			break
		}
	}
	if media == nil {
		return catalog.VideoWithAssets{}, false
	}

	modified := parseDriveTime(media.file.ModifiedTime)
	v := catalog.Video{
		Location:   types.LocationDrive,
		Source:     types.SourceCustom,
		Title:      strings.TrimSuffix(path.Base(media.rel), path.Ext(media.rel)),
		Status:     types.VideoStatusAvailable,
		ExtraJSON:  "{}",
		CreatedAt:  modified,
		ModifiedAt: modified,
	}

	if meta := findKind(entries, types.AssetKindInfoJSON); meta != nil && meta.file.Size <= sidecarParseLimit {
		if data, err := l.client.ReadAll(ctx, meta.file.Id); err == nil {
			if err := catalog.ApplyInfoJSON(&v, data); err != nil {
				l.client.logger.Warn().Err(err).
					Str(log.FieldEvent, "drive.sidecar_invalid").
					Str(log.FieldDriveFileID, meta.file.Id).
					Msg("metadata sidecar unreadable, falling back to file name")
			}
		}
	}
	if v.VideoUID == "" {
		v.VideoUID = catalog.CustomUID("drive:" + media.rel)
	}
	if v.Channel == "" {
		// The upload layout puts each video under its channel folder.
		if segs := strings.Split(media.rel, "/"); len(segs) > 1 {
			v.Channel = segs[0]
		}
	}

	assets := make([]catalog.Asset, 0, len(entries))
	for _, e := range entries {
		mime := e.file.MimeType
		if mime == "" || mime == "application/octet-stream" {
			mime = catalog.MimeForPath(e.rel)
		}
		assets = append(assets, catalog.Asset{
			VideoUID:          v.VideoUID,
			Location:          types.LocationDrive,
			Kind:              catalog.KindForPath(e.rel),
			DriveFileID:       e.file.Id,
			DriveMD5:          e.file.Md5Checksum,
			DriveModifiedTime: e.file.ModifiedTime,
			MimeType:          mime,
			SizeBytes:         e.file.Size,
		})
	}
	return catalog.VideoWithAssets{Video: v, Assets: assets}, true
}

func findKind(entries []driveEntry, kind types.AssetKind) *driveEntry {
	for i := range entries {
		if catalog.KindForPath(entries[i].rel) == kind {
			return &entries[i]
		}
	}
	return nil
}

func parseDriveTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Now().UTC()
	}
	return t.UTC()
}
