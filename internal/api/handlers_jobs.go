// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/ytvault/internal/downloader"
	"github.com/ManuGH/ytvault/internal/jobs"
	"github.com/ManuGH/ytvault/internal/types"
)

// handleDownloadSubmit validates the request against the download
// factory and answers with the new job id. The download itself runs
// on a worker; progress is observable via the jobs endpoints.
func (s *Server) handleDownloadSubmit(w http.ResponseWriter, r *http.Request) {
	var req downloader.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	job, err := s.deps.Engine.Submit(r.Context(), types.JobTypeDownload, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": job.ID})
}

// handleVideoInfo probes a URL without downloading anything.
func (s *Server) handleVideoInfo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.URL == "" {
		writeErr(w, r, http.StatusBadRequest, codeValidation, "url is required")
		return
	}

	info, err := s.deps.Probe.Probe(r.Context(), req.URL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleJobList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter jobs.ListFilter

	if v := q.Get("type"); v != "" {
		jt, err := types.ParseJobType(v)
		if err != nil {
			writeErr(w, r, http.StatusBadRequest, codeValidation, err.Error())
			return
		}
		filter.Type = jt
	}
	if v := q.Get("status"); v != "" {
		st, err := types.ParseJobStatus(v)
		if err != nil {
			writeErr(w, r, http.StatusBadRequest, codeValidation, err.Error())
			return
		}
		filter.Status = st
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeErr(w, r, http.StatusBadRequest, codeValidation, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}

	list, err := s.deps.Engine.Store().List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*jobs.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": list})
}

func (s *Server) handleJobGet(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Engine.Store().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleJobCancel requests cooperative cancellation and returns the
// record as it stands, which may already be terminal for pending jobs.
func (s *Server) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Engine.Cancel(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	job, err := s.deps.Engine.Store().Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleJobDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Engine.Store().Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
