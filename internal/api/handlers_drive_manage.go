// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/ytvault/internal/catalog"
	"github.com/ManuGH/ytvault/internal/drive"
	"github.com/ManuGH/ytvault/internal/fsutil"
	"github.com/ManuGH/ytvault/internal/jobs"
	"github.com/ManuGH/ytvault/internal/log"
	"github.com/ManuGH/ytvault/internal/types"
)

// Upload caps for externally provided media.
const (
	maxExternalUploadBytes = 8 << 30
	maxSidecarBytes        = 100 << 20
)

// submitAutoPublish schedules a snapshot publish after a Drive-side
// mutation when auto publish is on. A submission failure only loses
// freshness, never data, so it is logged and swallowed.
func (s *Server) submitAutoPublish(ctx context.Context) {
	if s.deps.Catalog == nil || !s.deps.Catalog.AutoPublishEnabled() {
		return
	}
	if _, err := s.deps.Engine.Submit(ctx, types.JobTypeCatalogPublish, catalog.PublishParams{}); err != nil {
		s.logger.Warn().Err(err).Msg("auto publish submission failed")
	}
}

// submitCleanup enqueues the asynchronous phase of a delete: pruning
// now-empty folders and republishing the snapshot.
func (s *Server) submitCleanup(ctx context.Context, seeds []string) string {
	job, err := s.deps.Engine.Submit(ctx, types.JobTypeDriveCleanup, drive.CleanupParams{FolderIDs: seeds})
	if err != nil {
		s.logger.Warn().Err(err).Msg("cleanup job submission failed")
		return ""
	}
	return job.ID
}

// handleDriveDelete removes a video's files from Drive synchronously
// and leaves folder pruning to a cleanup job, so the caller gets an
// answer as soon as the files are gone.
func (s *Server) handleDriveDelete(w http.ResponseWriter, r *http.Request) {
	if !s.requireDrive(w, r) {
		return
	}
	v, err := s.deps.Catalog.Store().GetVideoByDriveFileID(r.Context(), chi.URLParam(r, "fileID"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := drive.RemoveVideo(r.Context(), s.deps.Drive, v.VideoUID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"video_uid":      res.VideoUID,
		"deleted_files":  res.DeletedFiles,
		"cleanup_job_id": s.submitCleanup(r.Context(), res.ParentFolders),
	})
}

// handleDriveDeleteBatch deletes several videos and enqueues a single
// cleanup job over the union of their parent folders.
func (s *Server) handleDriveDeleteBatch(w http.ResponseWriter, r *http.Request) {
	if !s.requireDrive(w, r) {
		return
	}
	var req struct {
		FileIDs []string `json:"file_ids"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.FileIDs) == 0 {
		writeErr(w, r, http.StatusBadRequest, codeValidation, "file_ids is required")
		return
	}

	type failure struct {
		FileID string `json:"file_id"`
		Error  string `json:"error"`
	}
	var deleted int
	failed := []failure{}
	seenUIDs := make(map[string]struct{})
	seedSet := make(map[string]struct{})

	for _, fileID := range req.FileIDs {
		v, err := s.deps.Catalog.Store().GetVideoByDriveFileID(r.Context(), fileID)
		if err != nil {
			failed = append(failed, failure{FileID: fileID, Error: err.Error()})
			continue
		}
		// Several ids may belong to one video; delete it once.
		if _, dup := seenUIDs[v.VideoUID]; dup {
			continue
		}
		seenUIDs[v.VideoUID] = struct{}{}

		res, err := drive.RemoveVideo(r.Context(), s.deps.Drive, v.VideoUID)
		if err != nil {
			failed = append(failed, failure{FileID: fileID, Error: err.Error()})
			continue
		}
		deleted++
		for _, seed := range res.ParentFolders {
			seedSet[seed] = struct{}{}
		}
	}

	seeds := make([]string, 0, len(seedSet))
	for seed := range seedSet {
		seeds = append(seeds, seed)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"deleted_videos": deleted,
		"failed":         failed,
		"cleanup_job_id": s.submitCleanup(r.Context(), seeds),
	})
}

// handleDriveRename renames the video and every sidecar sharing its
// base name in Drive, then updates the catalog title.
func (s *Server) handleDriveRename(w http.ResponseWriter, r *http.Request) {
	if !s.requireDrive(w, r) {
		return
	}
	var req struct {
		NewName string `json:"new_name"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	newName := strings.TrimSpace(req.NewName)
	if newName == "" {
		writeErr(w, r, http.StatusBadRequest, codeValidation, "new_name is required")
		return
	}
	newBase := fsutil.SafeFileName(newName)

	v, err := s.deps.Catalog.Store().GetVideoByDriveFileID(r.Context(), chi.URLParam(r, "fileID"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.renameDriveAssets(r.Context(), v, newBase); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.deps.Catalog.Store().RenameVideo(r.Context(), v.VideoUID, types.LocationDrive, newBase, nil); err != nil {
		writeError(w, r, err)
		return
	}
	s.submitAutoPublish(r.Context())

	updated, err := s.deps.Catalog.Store().GetVideo(r.Context(), v.VideoUID, types.LocationDrive)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// renameDriveAssets applies the base-name swap to every Drive file of
// the video. Files whose names drifted from the shared base keep their
// current name.
func (s *Server) renameDriveAssets(ctx context.Context, v *catalog.VideoWithAssets, newBase string) error {
	videoAsset := driveAssetOfKind(v, types.AssetKindVideo)
	if videoAsset == nil {
		return fmt.Errorf("%w: no drive video file for %s", catalog.ErrNotFound, v.VideoUID)
	}

	meta, err := s.deps.Drive.Client.GetFile(ctx, videoAsset.DriveFileID)
	if err != nil {
		return err
	}
	oldBase := strings.TrimSuffix(meta.Name, path.Ext(meta.Name))
	if oldBase == newBase {
		return nil
	}

	for _, a := range v.Assets {
		if a.DriveFileID == "" {
			continue
		}
		f := meta
		if a.DriveFileID != videoAsset.DriveFileID {
			if f, err = s.deps.Drive.Client.GetFile(ctx, a.DriveFileID); err != nil {
				return err
			}
		}
		if !strings.HasPrefix(f.Name, oldBase) {
			continue
		}
		if err := s.deps.Drive.Client.Rename(ctx, a.DriveFileID, newBase+f.Name[len(oldBase):]); err != nil {
			return err
		}
	}
	return nil
}

// handleDriveSetThumbnail replaces a Drive video's thumbnail with an
// uploaded image, stored next to the video file.
func (s *Server) handleDriveSetThumbnail(w http.ResponseWriter, r *http.Request) {
	if !s.requireDrive(w, r) {
		return
	}
	v, err := s.deps.Catalog.Store().GetVideoByDriveFileID(r.Context(), chi.URLParam(r, "fileID"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxThumbnailBytes)
	file, header, err := r.FormFile("thumbnail")
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, codeValidation, "multipart field 'thumbnail' is required")
		return
	}
	defer func() { _ = file.Close() }()

	ext := strings.ToLower(path.Ext(header.Filename))
	if !allowedThumbnailExt(ext) {
		writeErr(w, r, http.StatusBadRequest, codeValidation, fmt.Sprintf("unsupported thumbnail type %q", ext))
		return
	}

	tmpPath, _, err := spoolToTemp(file, maxThumbnailBytes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer func() { _ = os.Remove(tmpPath) }()

	asset, err := s.uploadDriveThumbnail(r.Context(), v, tmpPath, ext)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.deps.Catalog.Store().ReplaceAssetOfKind(r.Context(), asset); err != nil {
		writeError(w, r, err)
		return
	}
	s.submitAutoPublish(r.Context())

	updated, err := s.deps.Catalog.Store().GetVideo(r.Context(), v.VideoUID, types.LocationDrive)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// uploadDriveThumbnail places the image beside the video under the
// video's base name and retires the previous thumbnail file when the
// name changed.
func (s *Server) uploadDriveThumbnail(ctx context.Context, v *catalog.VideoWithAssets, tmpPath, ext string) (catalog.Asset, error) {
	videoAsset := driveAssetOfKind(v, types.AssetKindVideo)
	if videoAsset == nil {
		return catalog.Asset{}, fmt.Errorf("%w: no drive video file for %s", catalog.ErrNotFound, v.VideoUID)
	}
	oldThumb := driveAssetOfKind(v, types.AssetKindThumbnail)

	meta, err := s.deps.Drive.Client.GetFile(ctx, videoAsset.DriveFileID)
	if err != nil {
		return catalog.Asset{}, err
	}
	parentID := ""
	if len(meta.Parents) > 0 {
		parentID = meta.Parents[0]
	} else if parentID, err = s.deps.Drive.Client.RootFolderID(ctx); err != nil {
		return catalog.Asset{}, err
	}

	name := strings.TrimSuffix(meta.Name, path.Ext(meta.Name)) + ext
	up, err := s.deps.Drive.Client.UploadFile(ctx, parentID, name, catalog.MimeForPath(name), tmpPath, nil)
	if err != nil {
		return catalog.Asset{}, err
	}

	if oldThumb != nil && oldThumb.DriveFileID != "" && oldThumb.DriveFileID != up.Id {
		if err := s.deps.Drive.Client.Delete(ctx, oldThumb.DriveFileID); err != nil {
			s.logger.Warn().Err(err).
				Str(log.FieldDriveFileID, oldThumb.DriveFileID).
				Msg("stale drive thumbnail not removed")
		}
	}

	return catalog.Asset{
		VideoUID:          v.VideoUID,
		Location:          types.LocationDrive,
		Kind:              types.AssetKindThumbnail,
		DriveFileID:       up.Id,
		DriveMD5:          up.Md5Checksum,
		DriveModifiedTime: up.ModifiedTime,
		MimeType:          catalog.MimeForPath(name),
		SizeBytes:         up.Size,
	}, nil
}

func driveAssetOfKind(v *catalog.VideoWithAssets, kind types.AssetKind) *catalog.Asset {
	for i := range v.Assets {
		if v.Assets[i].Kind == kind && v.Assets[i].DriveFileID != "" {
			return &v.Assets[i]
		}
	}
	return nil
}

func (s *Server) handleDriveShareStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireDrive(w, r) {
		return
	}
	v, err := s.deps.Catalog.Store().GetVideoByDriveFileID(r.Context(), chi.URLParam(r, "fileID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	st, err := s.deps.Share.Status(r.Context(), v.VideoUID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleDriveShare(w http.ResponseWriter, r *http.Request) {
	if !s.requireDrive(w, r) {
		return
	}
	v, err := s.deps.Catalog.Store().GetVideoByDriveFileID(r.Context(), chi.URLParam(r, "fileID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	st, err := s.deps.Share.Share(r.Context(), v.VideoUID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleDriveUnshare(w http.ResponseWriter, r *http.Request) {
	if !s.requireDrive(w, r) {
		return
	}
	v, err := s.deps.Catalog.Store().GetVideoByDriveFileID(r.Context(), chi.URLParam(r, "fileID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.deps.Share.Unshare(r.Context(), v.VideoUID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"shared": false})
}

// uploadedPart is one spooled multipart file.
type uploadedPart struct {
	tempPath string
	name     string
	size     int64
}

// handleDriveUploadExternal pushes media that never lived in the local
// library straight into Drive: a named folder, the video, and optional
// sidecars. The transfer runs within the request since the request body
// itself carries the bytes.
func (s *Server) handleDriveUploadExternal(w http.ResponseWriter, r *http.Request) {
	if !s.requireDrive(w, r) {
		return
	}
	mr, err := r.MultipartReader()
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, codeValidation, "multipart form required")
		return
	}

	var (
		folderName string
		video      *uploadedPart
		thumbnail  *uploadedPart
		transcript *uploadedPart
		subtitles  []*uploadedPart
	)
	var spooled []string
	defer func() {
		for _, p := range spooled {
			_ = os.Remove(p)
		}
	}()

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeErr(w, r, http.StatusBadRequest, codeValidation, "malformed multipart body")
			return
		}

		switch part.FormName() {
		case "folder_name":
			data, err := io.ReadAll(io.LimitReader(part, 1024))
			if err != nil {
				writeErr(w, r, http.StatusBadRequest, codeValidation, "unreadable folder_name")
				return
			}
			folderName = strings.TrimSpace(string(data))
		case "video":
			if video, err = spoolPart(part, maxExternalUploadBytes); err != nil {
				writeError(w, r, err)
				return
			}
			spooled = append(spooled, video.tempPath)
		case "thumbnail":
			if thumbnail, err = spoolPart(part, maxThumbnailBytes); err != nil {
				writeError(w, r, err)
				return
			}
			spooled = append(spooled, thumbnail.tempPath)
		case "subtitles", "subtitles[]":
			sub, err := spoolPart(part, maxSidecarBytes)
			if err != nil {
				writeError(w, r, err)
				return
			}
			subtitles = append(subtitles, sub)
			spooled = append(spooled, sub.tempPath)
		case "transcription":
			if transcript, err = spoolPart(part, maxSidecarBytes); err != nil {
				writeError(w, r, err)
				return
			}
			spooled = append(spooled, transcript.tempPath)
		default:
			// Unknown fields are drained by the next NextPart call.
		}
	}

	if folderName == "" {
		writeErr(w, r, http.StatusBadRequest, codeValidation, "folder_name is required")
		return
	}
	if video == nil {
		writeErr(w, r, http.StatusBadRequest, codeValidation, "multipart field 'video' is required")
		return
	}

	uid, err := s.uploadExternalSet(r.Context(), fsutil.SafeFileName(folderName), video, thumbnail, transcript, subtitles)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.submitAutoPublish(r.Context())

	registered, err := s.deps.Catalog.Store().GetVideo(r.Context(), uid, types.LocationDrive)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, registered)
}

// uploadExternalSet transfers the spooled files into one Drive folder
// and registers the resulting row. A failed sidecar is logged and
// skipped; only the video itself is fatal.
func (s *Server) uploadExternalSet(ctx context.Context, folder string, video, thumbnail, transcript *uploadedPart, subtitles []*uploadedPart) (string, error) {
	client := s.deps.Drive.Client
	folderID, err := client.EnsureFolderPath(ctx, folder)
	if err != nil {
		return "", err
	}

	upload := func(p *uploadedPart, kind types.AssetKind) (catalog.Asset, error) {
		mime := catalog.MimeForPath(p.name)
		f, err := client.UploadFile(ctx, folderID, p.name, mime, p.tempPath, nil)
		if err != nil {
			return catalog.Asset{}, err
		}
		return catalog.Asset{
			Kind:              kind,
			DriveFileID:       f.Id,
			DriveMD5:          f.Md5Checksum,
			DriveModifiedTime: f.ModifiedTime,
			MimeType:          mime,
			SizeBytes:         f.Size,
		}, nil
	}

	videoAsset, err := upload(video, types.AssetKindVideo)
	if err != nil {
		return "", err
	}
	assets := []catalog.Asset{videoAsset}

	sidecar := func(p *uploadedPart, kind types.AssetKind) {
		if p == nil {
			return
		}
		a, err := upload(p, kind)
		if err != nil {
			s.logger.Warn().Err(err).
				Str(log.FieldPath, p.name).
				Msg("sidecar upload failed, continuing without it")
			return
		}
		assets = append(assets, a)
	}
	sidecar(thumbnail, types.AssetKindThumbnail)
	sidecar(transcript, types.AssetKindTranscript)
	for _, sub := range subtitles {
		sidecar(sub, types.AssetKindSubtitles)
	}

	now := time.Now().UTC()
	uid := catalog.CustomUID(folder + "/" + video.name)
	row := catalog.Video{
		VideoUID:        uid,
		Location:        types.LocationDrive,
		Source:          types.SourceCustom,
		Title:           strings.TrimSuffix(video.name, path.Ext(video.name)),
		DurationSeconds: 0,
		Status:          types.VideoStatusAvailable,
		CreatedAt:       now,
		ModifiedAt:      now,
	}
	if err := s.deps.Catalog.Register(ctx, row, assets); err != nil {
		return "", err
	}
	return uid, nil
}

// spoolPart copies one multipart file to a temp file, enforcing limit.
func spoolPart(part *multipart.Part, limit int64) (*uploadedPart, error) {
	name := fsutil.SafeFileName(path.Base(part.FileName()))

	tmp, err := os.CreateTemp("", "ytvault-upload-*")
	if err != nil {
		return nil, err
	}
	n, err := io.Copy(tmp, io.LimitReader(part, limit+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return nil, err
	}
	if n > limit {
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", jobs.ErrInvalidParams, part.FormName(), limit)
	}
	return &uploadedPart{tempPath: tmp.Name(), name: name, size: n}, nil
}

// spoolToTemp copies a bounded reader to a temp file and returns its path.
func spoolToTemp(src io.Reader, limit int64) (string, int64, error) {
	tmp, err := os.CreateTemp("", "ytvault-upload-*")
	if err != nil {
		return "", 0, err
	}
	n, err := io.Copy(tmp, io.LimitReader(src, limit))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return "", 0, err
	}
	return tmp.Name(), n, nil
}
