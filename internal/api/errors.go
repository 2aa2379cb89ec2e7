// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"

	"google.golang.org/api/googleapi"

	"github.com/ManuGH/ytvault/internal/api/middleware"
	"github.com/ManuGH/ytvault/internal/catalog"
	"github.com/ManuGH/ytvault/internal/downloader"
	"github.com/ManuGH/ytvault/internal/drive"
	"github.com/ManuGH/ytvault/internal/extractor"
	"github.com/ManuGH/ytvault/internal/jobs"
	"github.com/ManuGH/ytvault/internal/log"
	"github.com/ManuGH/ytvault/internal/streaming"
)

// Stable error codes carried in JSON error bodies. Clients branch on
// these, never on the message text.
const (
	codeValidation      = "VALIDATION_ERROR"
	codeNotFound        = "NOT_FOUND"
	codeConflict        = "CONFLICT"
	codeUnauthenticated = "UNAUTHENTICATED"
	codeAuthz           = "AUTHZ"
	codeRateLimited     = "RATE_LIMITED"
	codeUpstream        = "UPSTREAM_ERROR"
	codeInternal        = "INTERNAL_ERROR"
)

// errorBody is the envelope every non-2xx response uses.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr writes the error envelope with the request's correlation ID.
func writeErr(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	reqID := log.RequestIDFromContext(r.Context())
	if reqID == "" {
		reqID = w.Header().Get(middleware.HeaderRequestID)
	}
	writeJSON(w, status, errorBody{Error: errorDetail{
		Code:      code,
		Message:   message,
		RequestID: reqID,
	}})
}

// writeError maps err onto the error taxonomy and writes the envelope.
// Internal errors keep their detail in the log only.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	msg := err.Error()
	if code == codeInternal {
		msg = "internal server error"
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().
			Err(err).
			Str(log.FieldPath, r.URL.Path).
			Msg("request failed")
	}
	writeErr(w, r, status, code, msg)
}

// classify resolves an error chain to an HTTP status and taxonomy code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, jobs.ErrInvalidParams),
		errors.Is(err, streaming.ErrInvalidRange),
		errors.Is(err, streaming.ErrMultiRange),
		errors.Is(err, extractor.ErrUnsupportedURL):
		return http.StatusBadRequest, codeValidation

	case errors.Is(err, jobs.ErrNotFound),
		errors.Is(err, jobs.ErrNoHandler),
		errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, catalog.ErrSnapshotMissing),
		errors.Is(err, drive.ErrNotFound),
		errors.Is(err, streaming.ErrNotFound),
		errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound, codeNotFound

	case errors.Is(err, jobs.ErrTerminal),
		errors.Is(err, jobs.ErrInvalidTransition),
		errors.Is(err, downloader.ErrDestinationExists),
		errors.Is(err, catalog.ErrPreconditionFailed):
		return http.StatusConflict, codeConflict

	case errors.Is(err, drive.ErrNotAuthenticated):
		return http.StatusUnauthorized, codeUnauthenticated

	case errors.Is(err, drive.ErrRateLimited):
		return http.StatusTooManyRequests, codeRateLimited

	case errors.Is(err, extractor.ErrUnavailable),
		errors.Is(err, extractor.ErrNotInstalled):
		return http.StatusBadGateway, codeUpstream

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, codeUpstream
	}

	// Drive SDK errors the adapter did not translate: 403 means the
	// token lacks scope, 5xx means Drive itself failed.
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusForbidden:
			return http.StatusForbidden, codeAuthz
		case apiErr.Code >= 500:
			return http.StatusBadGateway, codeUpstream
		}
	}

	return http.StatusInternalServerError, codeInternal
}

// decodeJSON decodes a request body into v with a 1 MiB cap and strict
// field checking. Failures map to VALIDATION_ERROR.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", jobs.ErrInvalidParams, err)
	}
	return nil
}
