// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"

	"github.com/ManuGH/ytvault/internal/catalog"
	"github.com/ManuGH/ytvault/internal/types"
)

func (s *Server) handleCatalogStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Catalog.Status(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleCatalogBootstrap rescans the downloads root synchronously and
// replaces every local row. The scan is disk-bound and fast enough to
// answer inline.
func (s *Server) handleCatalogBootstrap(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Catalog.BootstrapLocal(r.Context(), s.deps.Scanner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// requireCatalogSync guards the snapshot lifecycle routes, which only
// make sense when drive catalog sync is switched on and Drive is
// reachable.
func (s *Server) requireCatalogSync(w http.ResponseWriter, r *http.Request) bool {
	if !s.cfg.CatalogEnabled {
		writeErr(w, r, http.StatusConflict, codeConflict, "catalog drive sync is disabled by configuration")
		return false
	}
	return s.requireDrive(w, r)
}

func (s *Server) handleCatalogImport(w http.ResponseWriter, r *http.Request) {
	if !s.requireCatalogSync(w, r) {
		return
	}
	job, err := s.deps.Engine.Submit(r.Context(), types.JobTypeCatalogImport, catalog.ImportParams{})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": job.ID})
}

func (s *Server) handleCatalogPublish(w http.ResponseWriter, r *http.Request) {
	if !s.requireCatalogSync(w, r) {
		return
	}
	job, err := s.deps.Engine.Submit(r.Context(), types.JobTypeCatalogPublish, catalog.PublishParams{})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": job.ID})
}

// handleCatalogRebuild lists the live Drive library and rebuilds the
// drive rows from it. The body is optional.
func (s *Server) handleCatalogRebuild(w http.ResponseWriter, r *http.Request) {
	if !s.requireCatalogSync(w, r) {
		return
	}
	var params catalog.RebuildParams
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &params); err != nil {
			writeError(w, r, err)
			return
		}
	}

	job, err := s.deps.Engine.Submit(r.Context(), types.JobTypeCatalogRebuild, params)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": job.ID})
}
