// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/renameio/v2"

	"github.com/ManuGH/ytvault/internal/catalog"
	"github.com/ManuGH/ytvault/internal/downloader"
	"github.com/ManuGH/ytvault/internal/fsutil"
	"github.com/ManuGH/ytvault/internal/log"
	"github.com/ManuGH/ytvault/internal/streaming"
	"github.com/ManuGH/ytvault/internal/types"
)

// maxThumbnailBytes caps custom thumbnail uploads.
const maxThumbnailBytes = 10 << 20

// pageLimit parses pagination query params with the same normalization
// the store applies, so the echoed page and limit match the result.
func pageLimit(r *http.Request) (int, int) {
	page, limit := 1, 50
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			page = n
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 && n <= 500 {
			limit = n
		}
	}
	return page, limit
}

// listOrder parses the optional order query param.
func listOrder(r *http.Request) (catalog.ListOrder, error) {
	v := r.URL.Query().Get("order")
	if v == "" {
		return catalog.OrderModified, nil
	}
	order := catalog.ListOrder(v)
	switch order {
	case catalog.OrderModified, catalog.OrderTitle, catalog.OrderCreated:
		return order, nil
	default:
		return "", fmt.Errorf("unknown order %q", v)
	}
}

func (s *Server) handleVideoList(w http.ResponseWriter, r *http.Request) {
	page, limit := pageLimit(r)
	order, err := listOrder(r)
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, codeValidation, err.Error())
		return
	}

	videos, total, err := s.deps.Catalog.Store().ListVideos(r.Context(), types.LocationLocal, page, limit, order)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if videos == nil {
		videos = []catalog.Video{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"videos": videos,
		"total":  total,
		"page":   page,
		"limit":  limit,
	})
}

func (s *Server) handleVideoStream(w http.ResponseWriter, r *http.Request) {
	content, err := s.deps.Local.Resolve(chi.URLParam(r, "*"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := streaming.Serve(w, r, content); err != nil {
		writeError(w, r, err)
	}
}

// handleVideoThumbnail serves a thumbnail either by its own path or by
// the owning video's path, resolving the sidecar through the catalog.
func (s *Server) handleVideoThumbnail(w http.ResponseWriter, r *http.Request) {
	rel := chi.URLParam(r, "*")

	var content streaming.Content
	var err error
	if catalog.IsMediaPath(rel) {
		// The request names the video; serve its thumbnail sidecar.
		content, err = s.localThumbnailFor(r.Context(), rel)
	} else {
		content, err = s.deps.Local.Resolve(rel)
		if err != nil {
			content, err = s.localThumbnailFor(r.Context(), rel)
		}
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := streaming.Serve(w, r, content); err != nil {
		writeError(w, r, err)
	}
}

func (s *Server) localThumbnailFor(ctx context.Context, videoRel string) (streaming.Content, error) {
	v, err := s.deps.Catalog.Store().GetVideoByLocalPath(ctx, videoRel)
	if err != nil {
		return streaming.Content{}, err
	}
	for _, a := range v.Assets {
		if a.Kind == types.AssetKindThumbnail && a.LocalPath != "" {
			return s.deps.Local.Resolve(a.LocalPath)
		}
	}
	return streaming.Content{}, fmt.Errorf("%w: no thumbnail for %s", streaming.ErrNotFound, videoRel)
}

// handleVideoRename renames a local video and every sidecar sharing its
// base name, on disk and in the catalog.
func (s *Server) handleVideoRename(w http.ResponseWriter, r *http.Request) {
	rel, ok := strings.CutSuffix(chi.URLParam(r, "*"), "/rename")
	if !ok {
		writeErr(w, r, http.StatusNotFound, codeNotFound, "unknown action")
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

	v, err := s.deps.Catalog.Store().GetVideoByLocalPath(r.Context(), rel)
	if err != nil {
		writeError(w, r, err)
		return
	}

	renames, err := s.renameLocalFiles(v, newBase)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.deps.Catalog.Store().RenameVideo(r.Context(), v.VideoUID, types.LocationLocal, newBase, renames); err != nil {
		writeError(w, r, err)
		return
	}

	updated, err := s.deps.Catalog.Store().GetVideo(r.Context(), v.VideoUID, types.LocationLocal)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// renameLocalFiles moves every asset file sharing the video's base name
// and returns the old-to-new path map for the catalog update. An
// existing destination aborts before anything moves.
func (s *Server) renameLocalFiles(v *catalog.VideoWithAssets, newBase string) (map[string]string, error) {
	var videoPath string
	for _, a := range v.Assets {
		if a.Kind == types.AssetKindVideo && a.LocalPath != "" {
			videoPath = a.LocalPath
			break
		}
	}
	if videoPath == "" {
		return nil, fmt.Errorf("%w: no local video file for %s", catalog.ErrNotFound, v.VideoUID)
	}
	oldBase := strings.TrimSuffix(path.Base(videoPath), path.Ext(videoPath))
	dir := path.Dir(videoPath)

	type move struct{ oldRel, newRel, oldAbs, newAbs string }
	var moves []move
	for _, a := range v.Assets {
		if a.LocalPath == "" {
			continue
		}
		name := path.Base(a.LocalPath)
		if !strings.HasPrefix(name, oldBase) {
			continue
		}
		newRel := path.Join(dir, newBase+name[len(oldBase):])
		if newRel == a.LocalPath {
			continue
		}
		oldAbs, err := fsutil.ConfineRelPath(s.cfg.DownloadsDir, a.LocalPath)
		if err != nil {
			return nil, err
		}
		newAbs, err := fsutil.ConfineRelPath(s.cfg.DownloadsDir, newRel)
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(newAbs); err == nil {
			return nil, fmt.Errorf("%w: %s", downloader.ErrDestinationExists, newRel)
		}
		moves = append(moves, move{a.LocalPath, newRel, oldAbs, newAbs})
	}

	renames := make(map[string]string, len(moves))
	for _, m := range moves {
		if err := os.Rename(m.oldAbs, m.newAbs); err != nil {
			return renames, fmt.Errorf("rename %s: %w", m.oldRel, err)
		}
		renames[m.oldRel] = m.newRel
	}
	return renames, nil
}

// handleVideoSetThumbnail replaces a local video's thumbnail with an
// uploaded image.
func (s *Server) handleVideoSetThumbnail(w http.ResponseWriter, r *http.Request) {
	rel, ok := strings.CutSuffix(chi.URLParam(r, "*"), "/thumbnail")
	if !ok {
		writeErr(w, r, http.StatusNotFound, codeNotFound, "unknown action")
		return
	}

	v, err := s.deps.Catalog.Store().GetVideoByLocalPath(r.Context(), rel)
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

	newRel, size, err := s.writeLocalThumbnail(v, file, ext)
	if err != nil {
		writeError(w, r, err)
		return
	}

	asset := catalog.Asset{
		VideoUID:  v.VideoUID,
		Location:  types.LocationLocal,
		Kind:      types.AssetKindThumbnail,
		LocalPath: newRel,
		MimeType:  catalog.MimeForPath(newRel),
		SizeBytes: size,
	}
	if err := s.deps.Catalog.Store().ReplaceAssetOfKind(r.Context(), asset); err != nil {
		writeError(w, r, err)
		return
	}

	updated, err := s.deps.Catalog.Store().GetVideo(r.Context(), v.VideoUID, types.LocationLocal)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func allowedThumbnailExt(ext string) bool {
	switch ext {
	case ".jpg", ".jpeg", ".png", ".webp":
		return true
	default:
		return false
	}
}

// writeLocalThumbnail writes the uploaded image next to the video under
// the video's base name and removes a previous thumbnail file when its
// path differs.
func (s *Server) writeLocalThumbnail(v *catalog.VideoWithAssets, src io.Reader, ext string) (string, int64, error) {
	var videoPath, oldThumb string
	for _, a := range v.Assets {
		switch a.Kind {
		case types.AssetKindVideo:
			if a.LocalPath != "" {
				videoPath = a.LocalPath
			}
		case types.AssetKindThumbnail:
			oldThumb = a.LocalPath
		}
	}
	if videoPath == "" {
		return "", 0, fmt.Errorf("%w: no local video file for %s", catalog.ErrNotFound, v.VideoUID)
	}

	base := strings.TrimSuffix(path.Base(videoPath), path.Ext(videoPath))
	newRel := path.Join(path.Dir(videoPath), base+ext)
	abs, err := fsutil.ConfineRelPath(s.cfg.DownloadsDir, newRel)
	if err != nil {
		return "", 0, err
	}

	data, err := io.ReadAll(io.LimitReader(src, maxThumbnailBytes))
	if err != nil {
		return "", 0, err
	}
	if err := renameio.WriteFile(abs, data, 0o644); err != nil {
		return "", 0, err
	}

	if oldThumb != "" && oldThumb != newRel {
		if oldAbs, err := fsutil.ConfineRelPath(s.cfg.DownloadsDir, oldThumb); err == nil {
			if err := os.Remove(oldAbs); err != nil && !errors.Is(err, fs.ErrNotExist) {
				s.logger.Warn().Err(err).Str(log.FieldPath, oldThumb).Msg("stale thumbnail not removed")
			}
		}
	}
	return newRel, int64(len(data)), nil
}

// handleVideoDelete removes a local video's files and catalog rows.
func (s *Server) handleVideoDelete(w http.ResponseWriter, r *http.Request) {
	rel := chi.URLParam(r, "*")
	deleted, uid, err := s.deleteLocalVideo(r.Context(), rel)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"video_uid":     uid,
		"deleted_files": deleted,
	})
}

func (s *Server) handleVideoDeleteBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Paths []string `json:"paths"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.Paths) == 0 {
		writeErr(w, r, http.StatusBadRequest, codeValidation, "paths is required")
		return
	}

	type failure struct {
		Path  string `json:"path"`
		Error string `json:"error"`
	}
	var deleted int
	failed := []failure{}
	for _, rel := range req.Paths {
		if _, _, err := s.deleteLocalVideo(r.Context(), rel); err != nil {
			failed = append(failed, failure{Path: rel, Error: err.Error()})
			continue
		}
		deleted++
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted": deleted,
		"failed":  failed,
	})
}

// deleteLocalVideo removes every asset file, prunes empty parent
// directories and drops the catalog row. Files already gone are fine;
// the catalog row is authoritative.
func (s *Server) deleteLocalVideo(ctx context.Context, rel string) (int, string, error) {
	v, err := s.deps.Catalog.Store().GetVideoByLocalPath(ctx, rel)
	if err != nil {
		return 0, "", err
	}

	var deleted int
	var parent string
	for _, a := range v.Assets {
		if a.LocalPath == "" {
			continue
		}
		abs, err := fsutil.ConfineRelPath(s.cfg.DownloadsDir, a.LocalPath)
		if err != nil {
			continue
		}
		parent = path.Dir(a.LocalPath)
		if err := os.Remove(abs); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return deleted, v.VideoUID, fmt.Errorf("remove %s: %w", a.LocalPath, err)
			}
			continue
		}
		deleted++
	}

	if parent != "" {
		s.pruneEmptyDirs(parent)
	}

	if err := s.deps.Catalog.Unregister(ctx, v.VideoUID, types.LocationLocal); err != nil {
		return deleted, v.VideoUID, err
	}
	return deleted, v.VideoUID, nil
}

// pruneEmptyDirs walks from rel toward the downloads root, removing
// directories as long as they are empty. The root itself stays.
func (s *Server) pruneEmptyDirs(rel string) {
	for rel != "." && rel != "/" && rel != "" {
		abs, err := fsutil.ConfineRelPath(s.cfg.DownloadsDir, rel)
		if err != nil {
			return
		}
		// Remove fails on non-empty directories, which ends the walk.
		if err := os.Remove(abs); err != nil {
			return
		}
		rel = path.Dir(rel)
	}
}
