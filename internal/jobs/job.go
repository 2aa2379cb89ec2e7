// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package jobs implements the background job engine: a uniform submit /
// observe / cancel / enumerate contract over interchangeable storage
// backends, plus the dispatcher that executes tasks.
package jobs

import (
	"time"

	"github.com/ManuGH/ytvault/internal/types"
)

// Job is the persisted record of one unit of background work.
type Job struct {
	ID          string          `json:"job_id"`
	Type        types.JobType   `json:"type"`
	Status      types.JobStatus `json:"status"`
	Progress    Progress        `json:"progress"`
	Result      *Result         `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Clone returns a deep copy safe to hand to subscribers and API handlers.
func (j *Job) Clone() *Job {
	cp := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	if j.Result != nil {
		r := *j.Result
		r.Failed = append([]FailedItem(nil), j.Result.Failed...)
		r.DeletedFolders = append([]string(nil), j.Result.DeletedFolders...)
		r.VideoUIDs = append([]string(nil), j.Result.VideoUIDs...)
		cp.Result = &r
	}
	return &cp
}

// FailedItem records one item of a batch that could not be processed.
type FailedItem struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

// Result summarizes a terminal job. Counters that do not apply to the job
// type stay zero; Failed is always present so clients can iterate it.
type Result struct {
	Uploaded   int          `json:"uploaded"`
	Downloaded int          `json:"downloaded"`
	Completed  int          `json:"completed"`
	Failed     []FailedItem `json:"failed"`

	// Type-specific extras
	DeletedFolders   []string `json:"deleted_folders,omitempty"`
	SnapshotRevision string   `json:"snapshot_revision,omitempty"`
	VideoUIDs        []string `json:"video_uids,omitempty"`
	Message          string   `json:"message,omitempty"`
}

// NewResult returns an empty result with a non-nil Failed slice.
func NewResult() *Result {
	return &Result{Failed: []FailedItem{}}
}

// AddFailure appends a failed item.
func (r *Result) AddFailure(file string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	r.Failed = append(r.Failed, FailedItem{File: file, Error: msg})
}
