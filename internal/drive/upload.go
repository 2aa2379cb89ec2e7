// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package drive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	drivev3 "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"

	"github.com/ManuGH/ytvault/internal/catalog"
	"github.com/ManuGH/ytvault/internal/fsutil"
	"github.com/ManuGH/ytvault/internal/log"
	"github.com/ManuGH/ytvault/internal/metrics"
	"github.com/ManuGH/ytvault/internal/types"
)

// UploadProgress is called after each uploaded chunk.
type UploadProgress func(uploadedBytes, totalBytes int64)

// UploadFile sends one local file into folderID using a resumable
// session. An existing file with the same name is overwritten in place
// so its file ID (and any share link) survives re-uploads.
func (c *Client) UploadFile(ctx context.Context, folderID, name, mimeType, localPath string, progress UploadProgress) (*drivev3.File, error) {
	src, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() {
		_ = src.Close()
	}()
	st, err := src.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", localPath, err)
	}
	size := st.Size()

	var uploaded *drivev3.File
	err = c.withGate(ctx, func() error {
		existing, err := c.FindFile(ctx, folderID, name)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		opts := []googleapi.MediaOption{
			googleapi.ChunkSize(c.cfg.ChunkSizeBytes),
			googleapi.ContentType(mimeType),
		}
		updater := func(current, total int64) {
			if progress != nil {
				progress(current, size)
			}
		}
		var callErr error
		if existing != nil {
			uploaded, callErr = c.svc.Files.Update(existing.Id, &drivev3.File{Name: name}).
				Media(src, opts...).
				ProgressUpdater(updater).
				Fields(fileFields).
				Context(ctx).Do()
		} else {
			uploaded, callErr = c.svc.Files.Create(&drivev3.File{Name: name, Parents: []string{folderID}}).
				Media(src, opts...).
				ProgressUpdater(updater).
				Fields(fileFields).
				Context(ctx).Do()
		}
		if callErr != nil {
			metrics.DriveCall("upload", "error")
			return mapError(callErr)
		}
		metrics.DriveCall("upload", "success")
		metrics.DriveUploadBytes(size)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", name, err)
	}
	return uploaded, nil
}

// UploadVideo mirrors one local video into Drive: the media file plus
// every sidecar as siblings in a folder tree matching the local layout.
// Returns drive-side asset rows ready for catalog registration.
// progress reports media bytes only; sidecars are small.
func (c *Client) UploadVideo(ctx context.Context, downloadRoot string, v catalog.VideoWithAssets, progress UploadProgress) ([]catalog.Asset, error) {
	media, sidecars := splitAssets(v.Assets)
	if media == nil {
		return nil, fmt.Errorf("video %s has no media asset", v.VideoUID)
	}

	folderID, err := c.EnsureFolderPath(ctx, folderSegments(media.LocalPath)...)
	if err != nil {
		return nil, err
	}

	out := make([]catalog.Asset, 0, len(v.Assets))
	mediaPath, err := fsutil.ConfineRelPath(downloadRoot, media.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("media path: %w", err)
	}
	f, err := c.UploadFile(ctx, folderID, path.Base(media.LocalPath), media.MimeType, mediaPath, progress)
	if err != nil {
		return nil, err
	}
	out = append(out, driveAsset(*media, f))
	c.logger.Info().
		Str(log.FieldEvent, "drive.video_uploaded").
		Str(log.FieldVideoUID, v.VideoUID).
		Str(log.FieldDriveFileID, f.Id).
		Int64(log.FieldBytes, media.SizeBytes).
		Msg("uploaded media file")

	for _, sc := range sidecars {
		if sc.LocalPath == "" {
			continue
		}
		scPath, err := fsutil.ConfineRelPath(downloadRoot, sc.LocalPath)
		if err != nil {
			return nil, fmt.Errorf("sidecar path: %w", err)
		}
		sf, err := c.UploadFile(ctx, folderID, path.Base(sc.LocalPath), sc.MimeType, scPath, nil)
		if err != nil {
			return nil, fmt.Errorf("sidecar %s: %w", sc.LocalPath, err)
		}
		out = append(out, driveAsset(sc, sf))
	}
	return out, nil
}

// splitAssets separates the playable media asset from its sidecars.
func splitAssets(assets []catalog.Asset) (*catalog.Asset, []catalog.Asset) {
	var media *catalog.Asset
	sidecars := make([]catalog.Asset, 0, len(assets))
	for i := range assets {
		a := assets[i]
		if media == nil && (a.Kind == types.AssetKindVideo || a.Kind == types.AssetKindAudio) {
			media = &a
			continue
		}
		sidecars = append(sidecars, a)
	}
	return media, sidecars
}

// folderSegments maps a slash-relative local path onto Drive folder
// names, one per directory level.
func folderSegments(localPath string) []string {
	dir := path.Dir(filepath.ToSlash(localPath))
	if dir == "." || dir == "/" {
		return nil
	}
	return strings.Split(dir, "/")
}

// driveAsset converts an uploaded file back into a catalog asset row.
func driveAsset(local catalog.Asset, f *drivev3.File) catalog.Asset {
	mime := f.MimeType
	if mime == "" {
		mime = local.MimeType
	}
	size := f.Size
	if size == 0 {
		size = local.SizeBytes
	}
	return catalog.Asset{
		VideoUID:          local.VideoUID,
		Location:          types.LocationDrive,
		Kind:              local.Kind,
		DriveFileID:       f.Id,
		DriveMD5:          f.Md5Checksum,
		DriveModifiedTime: f.ModifiedTime,
		MimeType:          mime,
		SizeBytes:         size,
	}
}
