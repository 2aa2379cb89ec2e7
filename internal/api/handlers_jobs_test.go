// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/ytvault/internal/extractor"
	"github.com/ManuGH/ytvault/internal/jobs"
	"github.com/ManuGH/ytvault/internal/types"
)

func TestDownloadSubmit(t *testing.T) {
	ts := newTestServer(t)

	w := ts.doJSON(t, http.MethodPost, "/api/download", map[string]string{
		"url": "https://example.com/watch",
	})
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())

	var resp map[string]string
	decodeInto(t, w, &resp)
	require.NotEmpty(t, resp["job_id"])

	done := ts.waitForStatus(t, resp["job_id"], types.JobStatusCompleted)
	require.NotNil(t, done.Result)
	assert.Equal(t, 1, done.Result.Downloaded)
}

func TestDownloadSubmitValidation(t *testing.T) {
	ts := newTestServer(t)

	// Unknown fields are rejected before the factory sees the body.
	w := ts.doJSON(t, http.MethodPost, "/api/download", map[string]any{"bogus": true})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, w))

	// Factory validation failures surface the same way.
	w = ts.doJSON(t, http.MethodPost, "/api/download", map[string]string{"url": ""})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, w))

	// Neither attempt left a job behind.
	w = ts.do(t, http.MethodGet, "/api/jobs/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Jobs []jobs.Job `json:"jobs"`
	}
	decodeInto(t, w, &list)
	assert.Empty(t, list.Jobs)
}

func TestVideoInfo(t *testing.T) {
	ts := newTestServer(t)
	ts.extractor.infos["https://example.com/talk"] = &extractor.Info{
		Title:     "A Talk",
		Uploader:  "Some Channel",
		Duration:  93,
		Extractor: "generic",
	}

	w := ts.doJSON(t, http.MethodPost, "/api/video-info", map[string]string{
		"url": "https://example.com/talk",
	})
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())

	var info struct {
		Type     string  `json:"type"`
		Title    string  `json:"title"`
		Uploader string  `json:"uploader"`
		Duration float64 `json:"duration"`
	}
	decodeInto(t, w, &info)
	assert.Equal(t, "generic", info.Type)
	assert.Equal(t, "A Talk", info.Title)
	assert.Equal(t, "Some Channel", info.Uploader)
	assert.Equal(t, float64(93), info.Duration)
}

func TestVideoInfoErrors(t *testing.T) {
	ts := newTestServer(t)
	ts.extractor.errs["https://example.com/gone"] = extractor.ErrUnavailable

	w := ts.doJSON(t, http.MethodPost, "/api/video-info", map[string]string{"url": ""})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, w))

	// The scripted extractor rejects unknown URLs as unsupported.
	w = ts.doJSON(t, http.MethodPost, "/api/video-info", map[string]string{"url": "https://example.com/unknown"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, w))

	w = ts.doJSON(t, http.MethodPost, "/api/video-info", map[string]string{"url": "https://example.com/gone"})
	require.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "UPSTREAM_ERROR", errorCode(t, w))
}

func TestJobListFilters(t *testing.T) {
	ts := newTestServer(t)

	ok := ts.doJSON(t, http.MethodPost, "/api/download", map[string]string{"url": "https://example.com/a"})
	require.Equal(t, http.StatusOK, ok.Code)
	fail := ts.doJSON(t, http.MethodPost, "/api/download", map[string]string{"url": "https://example.com/fail"})
	require.Equal(t, http.StatusOK, fail.Code)

	var okResp, failResp map[string]string
	decodeInto(t, ok, &okResp)
	decodeInto(t, fail, &failResp)
	ts.waitForStatus(t, okResp["job_id"], types.JobStatusCompleted)
	failed := ts.waitForStatus(t, failResp["job_id"], types.JobStatusError)
	assert.Contains(t, failed.Error, "extractor exploded")

	var list struct {
		Jobs []jobs.Job `json:"jobs"`
	}

	w := ts.do(t, http.MethodGet, "/api/jobs/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeInto(t, w, &list)
	assert.Len(t, list.Jobs, 2)

	w = ts.do(t, http.MethodGet, "/api/jobs/?status=completed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeInto(t, w, &list)
	require.Len(t, list.Jobs, 1)
	assert.Equal(t, okResp["job_id"], list.Jobs[0].ID)

	w = ts.do(t, http.MethodGet, "/api/jobs/?type=download&limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeInto(t, w, &list)
	assert.Len(t, list.Jobs, 1)
}

func TestJobListValidation(t *testing.T) {
	ts := newTestServer(t)

	for _, target := range []string{
		"/api/jobs/?status=bogus",
		"/api/jobs/?type=bogus",
		"/api/jobs/?limit=0",
		"/api/jobs/?limit=abc",
	} {
		w := ts.do(t, http.MethodGet, target, nil)
		require.Equal(t, http.StatusBadRequest, w.Code, "target %s", target)
		assert.Equal(t, "VALIDATION_ERROR", errorCode(t, w), "target %s", target)
	}
}

func TestJobGet(t *testing.T) {
	ts := newTestServer(t)

	submit := ts.doJSON(t, http.MethodPost, "/api/download", map[string]string{"url": "https://example.com/b"})
	require.Equal(t, http.StatusOK, submit.Code)
	var resp map[string]string
	decodeInto(t, submit, &resp)
	ts.waitForStatus(t, resp["job_id"], types.JobStatusCompleted)

	w := ts.do(t, http.MethodGet, "/api/jobs/"+resp["job_id"], nil)
	require.Equal(t, http.StatusOK, w.Code)
	var job jobs.Job
	decodeInto(t, w, &job)
	assert.Equal(t, resp["job_id"], job.ID)
	assert.Equal(t, types.JobTypeDownload, job.Type)
	assert.Equal(t, types.JobStatusCompleted, job.Status)
	assert.NotNil(t, job.CompletedAt)

	w = ts.do(t, http.MethodGet, "/api/jobs/missing", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, w))
}

func TestJobCancel(t *testing.T) {
	ts := newTestServer(t)

	submit := ts.doJSON(t, http.MethodPost, "/api/download", map[string]string{"url": "https://example.com/hang"})
	require.Equal(t, http.StatusOK, submit.Code)
	var resp map[string]string
	decodeInto(t, submit, &resp)
	ts.waitForStatus(t, resp["job_id"], types.JobStatusRunning)

	w := ts.do(t, http.MethodPost, "/api/jobs/"+resp["job_id"]+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)

	cancelled := ts.waitForStatus(t, resp["job_id"], types.JobStatusCancelled)
	assert.NotNil(t, cancelled.CompletedAt)

	// Cancelling a terminal job is a no-op success.
	w = ts.do(t, http.MethodPost, "/api/jobs/"+resp["job_id"]+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var job jobs.Job
	decodeInto(t, w, &job)
	assert.Equal(t, types.JobStatusCancelled, job.Status)

	w = ts.do(t, http.MethodPost, "/api/jobs/missing/cancel", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, w))
}

func TestJobDelete(t *testing.T) {
	ts := newTestServer(t)

	submit := ts.doJSON(t, http.MethodPost, "/api/download", map[string]string{"url": "https://example.com/c"})
	require.Equal(t, http.StatusOK, submit.Code)
	var resp map[string]string
	decodeInto(t, submit, &resp)
	ts.waitForStatus(t, resp["job_id"], types.JobStatusCompleted)

	w := ts.do(t, http.MethodDelete, "/api/jobs/"+resp["job_id"], nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, http.MethodGet, "/api/jobs/"+resp["job_id"], nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodDelete, "/api/jobs/"+resp["job_id"], nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestJobDeleteRunningConflicts(t *testing.T) {
	ts := newTestServer(t)

	submit := ts.doJSON(t, http.MethodPost, "/api/download", map[string]string{"url": "https://example.com/hang"})
	require.Equal(t, http.StatusOK, submit.Code)
	var resp map[string]string
	decodeInto(t, submit, &resp)
	ts.waitForStatus(t, resp["job_id"], types.JobStatusRunning)

	w := ts.do(t, http.MethodDelete, "/api/jobs/"+resp["job_id"], nil)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CONFLICT", errorCode(t, w))

	// Settle the job so engine shutdown is not left waiting on it.
	w = ts.do(t, http.MethodPost, "/api/jobs/"+resp["job_id"]+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	ts.waitForStatus(t, resp["job_id"], types.JobStatusCancelled)
}
