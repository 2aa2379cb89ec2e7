// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/ManuGH/ytvault/internal/log"
	"github.com/ManuGH/ytvault/internal/types"
)

// cancelPollInterval bounds how stale a cooperative cancellation check can
// get inside Sleep.
const cancelPollInterval = 100 * time.Millisecond

// Runtime is the handle a task uses to talk back to the engine: progress
// reporting, cancellation checks and pool-bounded blocking sections.
type Runtime struct {
	JobID  string
	engine *Engine
}

// Progress merges delta into the job's progress object. Failures are logged
// and swallowed; progress is advisory and must never abort a task.
func (rt *Runtime) Progress(ctx context.Context, delta Progress) {
	if _, err := rt.engine.store.UpdateProgress(ctx, rt.JobID, delta); err != nil && !errors.Is(err, ErrTerminal) {
		log.FromContext(ctx).Warn().Err(err).
			Str(log.FieldJobID, rt.JobID).
			Msg("progress update failed")
	}
}

// Cancelled reports whether the task should stop: either its context ended
// or a cancellation marker was set in the store.
func (rt *Runtime) Cancelled(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	requested, err := rt.engine.store.CancelRequested(ctx, rt.JobID)
	if err != nil {
		log.FromContext(ctx).Warn().Err(err).
			Str(log.FieldJobID, rt.JobID).
			Msg("cancel check failed")
		return false
	}
	return requested
}

// Sleep pauses for d but keeps checking for cancellation, so long waits
// (like inter-item pacing) stay responsive. Returns ErrCancelled when the
// job was cancelled mid-sleep.
func (rt *Runtime) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	poll := time.NewTicker(cancelPollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return ErrCancelled
		case <-timer.C:
			return nil
		case <-poll.C:
			if rt.Cancelled(ctx) {
				return ErrCancelled
			}
		}
	}
}

// Blocking runs fn while holding a slot in the domain's pool.
func (rt *Runtime) Blocking(ctx context.Context, domain types.PoolDomain, fn func(ctx context.Context) error) error {
	return rt.engine.pools.Do(ctx, domain, fn)
}
