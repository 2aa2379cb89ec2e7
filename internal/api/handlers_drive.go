// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ManuGH/ytvault/internal/catalog"
	"github.com/ManuGH/ytvault/internal/drive"
	"github.com/ManuGH/ytvault/internal/log"
	"github.com/ManuGH/ytvault/internal/streaming"
	"github.com/ManuGH/ytvault/internal/types"
)

// requireDrive guards routes that would otherwise create doomed jobs or
// burn Drive quota. Missing configuration and missing login both answer
// 401; the client starts the consent flow either way.
func (s *Server) requireDrive(w http.ResponseWriter, r *http.Request) bool {
	if s.deps.Auth == nil || s.deps.Drive.Client == nil {
		writeErr(w, r, http.StatusUnauthorized, codeUnauthenticated, "drive oauth client is not configured")
		return false
	}
	if !s.deps.Auth.Authenticated() {
		writeErr(w, r, http.StatusUnauthorized, codeUnauthenticated, "not authenticated with drive")
		return false
	}
	return true
}

func (s *Server) handleDriveAuthStatus(w http.ResponseWriter, r *http.Request) {
	authenticated := s.deps.Auth != nil && s.deps.Auth.Authenticated()
	writeJSON(w, http.StatusOK, map[string]bool{"authenticated": authenticated})
}

func (s *Server) handleDriveAuthURL(w http.ResponseWriter, r *http.Request) {
	if s.deps.Auth == nil {
		writeErr(w, r, http.StatusUnauthorized, codeUnauthenticated, "drive oauth client is not configured")
		return
	}

	state := uuid.NewString()
	s.mu.Lock()
	s.oauthState = state
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"auth_url": s.deps.Auth.AuthURL(state)})
}

// handleDriveOAuthCallback finishes the consent flow. The response is
// plain HTML because the browser lands here directly from Google.
func (s *Server) handleDriveOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if s.deps.Auth == nil {
		writeErr(w, r, http.StatusUnauthorized, codeUnauthenticated, "drive oauth client is not configured")
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		writeErr(w, r, http.StatusBadRequest, codeValidation, "missing authorization code")
		return
	}

	s.mu.Lock()
	expected := s.oauthState
	s.oauthState = ""
	s.mu.Unlock()
	if expected == "" || r.URL.Query().Get("state") != expected {
		writeErr(w, r, http.StatusForbidden, codeAuthz, "oauth state mismatch")
		return
	}

	if err := s.deps.Auth.Exchange(r.Context(), code); err != nil {
		s.logger.Error().Err(err).Msg("oauth token exchange failed")
		writeErr(w, r, http.StatusBadGateway, codeUpstream, "token exchange failed")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "<!DOCTYPE html><html><body><p>Drive connected. You can close this window.</p></body></html>\n")
}

func (s *Server) handleDriveLogout(w http.ResponseWriter, r *http.Request) {
	if s.deps.Auth == nil {
		writeErr(w, r, http.StatusUnauthorized, codeUnauthenticated, "drive oauth client is not configured")
		return
	}
	if err := s.deps.Auth.Logout(); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"authenticated": false})
}

func (s *Server) handleDriveVideoList(w http.ResponseWriter, r *http.Request) {
	page, limit := pageLimit(r)
	order, err := listOrder(r)
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, codeValidation, err.Error())
		return
	}

	videos, total, err := s.deps.Catalog.Store().ListVideos(r.Context(), types.LocationDrive, page, limit, order)
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

// handleDriveUpload mirrors one local video to Drive as a job.
func (s *Server) handleDriveUpload(w http.ResponseWriter, r *http.Request) {
	if !s.requireDrive(w, r) {
		return
	}
	v, err := s.deps.Catalog.Store().GetVideoByLocalPath(r.Context(), chi.URLParam(r, "*"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	job, err := s.deps.Engine.Submit(r.Context(), types.JobTypeDriveUpload, drive.UploadParams{VideoUID: v.VideoUID})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": job.ID})
}

// handleDriveSyncAll uploads every local-only video as one batch job.
func (s *Server) handleDriveSyncAll(w http.ResponseWriter, r *http.Request) {
	if !s.requireDrive(w, r) {
		return
	}
	job, err := s.deps.Engine.Submit(r.Context(), types.JobTypeDriveUploadBatch, drive.UploadBatchParams{})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": job.ID})
}

func (s *Server) handleDriveSyncStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.deps.Catalog.Store().SyncCounts(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleDriveSyncItems(w http.ResponseWriter, r *http.Request) {
	kind := types.SyncKind(r.URL.Query().Get("kind"))
	if !kind.IsValid() {
		writeErr(w, r, http.StatusBadRequest, codeValidation, "kind must be one of local_only, drive_only, synced")
		return
	}
	page, limit := pageLimit(r)

	items, total, err := s.deps.Catalog.Store().SyncItems(r.Context(), kind, page, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []catalog.Video{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"kind":  kind,
		"items": items,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

// handleDriveDownload pulls one Drive video into the local library as a
// job. The body may name the video by drive file id or by uid.
func (s *Server) handleDriveDownload(w http.ResponseWriter, r *http.Request) {
	if !s.requireDrive(w, r) {
		return
	}
	var req struct {
		FileID   string `json:"file_id"`
		VideoUID string `json:"video_uid"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	uid := req.VideoUID
	if uid == "" {
		if req.FileID == "" {
			writeErr(w, r, http.StatusBadRequest, codeValidation, "file_id or video_uid is required")
			return
		}
		v, err := s.deps.Catalog.Store().GetVideoByDriveFileID(r.Context(), req.FileID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		uid = v.VideoUID
	}

	job, err := s.deps.Engine.Submit(r.Context(), types.JobTypeDriveDownload, drive.DownloadParams{VideoUID: uid})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": job.ID})
}

// handleDriveDownloadAll pulls every drive-only video as one batch job.
func (s *Server) handleDriveDownloadAll(w http.ResponseWriter, r *http.Request) {
	if !s.requireDrive(w, r) {
		return
	}
	job, err := s.deps.Engine.Submit(r.Context(), types.JobTypeDriveDownloadBatch, drive.DownloadBatchParams{})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": job.ID})
}

// handleDriveStream serves ranged bytes straight from Drive. Metadata
// comes from a live lookup so size and name are never stale.
func (s *Server) handleDriveStream(w http.ResponseWriter, r *http.Request) {
	if !s.requireDrive(w, r) {
		return
	}
	fileID := chi.URLParam(r, "fileID")
	content, err := s.driveContent(r.Context(), fileID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := streaming.Serve(w, r, content); err != nil {
		writeError(w, r, err)
	}
}

// handleDriveThumbnail serves a small Drive file whole. Thumbnails do
// not need range support; the body is read once and written out.
func (s *Server) handleDriveThumbnail(w http.ResponseWriter, r *http.Request) {
	if !s.requireDrive(w, r) {
		return
	}
	fileID := chi.URLParam(r, "fileID")

	meta, err := s.deps.Drive.Client.GetFile(r.Context(), fileID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	data, err := s.deps.Drive.Client.ReadAll(r.Context(), fileID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ctype := meta.MimeType
	if ctype == "" {
		ctype = catalog.MimeForPath(meta.Name)
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Content-Disposition", streaming.ContentDisposition(meta.Name))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Debug().Err(err).Str(log.FieldDriveFileID, fileID).Msg("thumbnail write interrupted")
	}
}

// driveContent adapts one Drive file into the streaming contract.
func (s *Server) driveContent(ctx context.Context, fileID string) (streaming.Content, error) {
	meta, err := s.deps.Drive.Client.GetFile(ctx, fileID)
	if err != nil {
		return streaming.Content{}, err
	}
	// Folders and Workspace documents have no binary content to range.
	if strings.HasPrefix(meta.MimeType, "application/vnd.google-apps") {
		return streaming.Content{}, fmt.Errorf("%w: %s has no binary content", drive.ErrNotFound, fileID)
	}
	return streaming.Content{
		Name:        meta.Name,
		Size:        meta.Size,
		ContentType: meta.MimeType,
		Location:    "drive",
		Open: func(ctx context.Context, start, end int64) (io.ReadCloser, error) {
			rc, _, err := s.deps.Drive.Client.OpenRange(ctx, fileID, start, end)
			return rc, err
		},
	}, nil
}
