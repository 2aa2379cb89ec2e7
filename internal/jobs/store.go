// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/ManuGH/ytvault/internal/types"
)

// Store errors. API handlers map these onto the error taxonomy.
var (
	// ErrNotFound indicates the job id is unknown to the store.
	ErrNotFound = errors.New("job not found")

	// ErrTerminal indicates a mutation was attempted on a terminal job.
	ErrTerminal = errors.New("job is terminal")

	// ErrInvalidTransition indicates a status change the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrCancelled is returned by tasks that stopped at a cancellation point.
	ErrCancelled = errors.New("job cancelled")
)

// ListFilter bounds and narrows job enumeration. Zero values mean "any".
type ListFilter struct {
	Type   types.JobType
	Status types.JobStatus
	Limit  int
}

// DefaultListLimit bounds enumeration when the caller does not.
const DefaultListLimit = 100

// Store persists job records. Implementations must be safe for concurrent
// use; the in-process map and the Redis-backed store are interchangeable
// behind this interface.
type Store interface {
	// Create persists a new pending job of the given type and returns it.
	Create(ctx context.Context, jobType types.JobType, initial Progress) (*Job, error)

	// Get returns the current record, or ErrNotFound.
	Get(ctx context.Context, id string) (*Job, error)

	// UpdateProgress merges the delta into the job's progress object.
	// Terminal jobs reject updates with ErrTerminal.
	UpdateProgress(ctx context.Context, id string, delta Progress) (*Job, error)

	// SetStatus transitions the job, enforcing the lifecycle. Running sets
	// started_at; terminal statuses set completed_at plus result or error.
	SetStatus(ctx context.Context, id string, status types.JobStatus, result *Result, errMsg string) (*Job, error)

	// List enumerates recent jobs, newest first, bounded by filter.Limit.
	List(ctx context.Context, filter ListFilter) ([]*Job, error)

	// Delete removes a terminal job. Deleting a non-terminal job fails.
	Delete(ctx context.Context, id string) error

	// RequestCancel marks the job for cooperative cancellation. It is a
	// no-op for unknown or terminal jobs.
	RequestCancel(ctx context.Context, id string) error

	// CancelRequested reports whether cancellation was requested.
	CancelRequested(ctx context.Context, id string) (bool, error)

	// Subscribe delivers a snapshot after every change to the job until the
	// subscription is cancelled via the returned stop function. Events may
	// be dropped under pressure but are never reordered.
	Subscribe(ctx context.Context, id string) (<-chan *Job, func(), error)

	// DeleteExpired removes terminal jobs whose completion is older than
	// maxAge and returns how many were removed.
	DeleteExpired(ctx context.Context, maxAge time.Duration) (int, error)

	// Ping verifies the backend is reachable. Used by readiness checks.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
