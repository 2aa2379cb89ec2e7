// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"

	"github.com/ManuGH/ytvault/internal/log"
	"github.com/ManuGH/ytvault/internal/metrics"
	"github.com/ManuGH/ytvault/internal/telemetry"
	"github.com/ManuGH/ytvault/internal/types"
)

// maxConcurrentJobs caps how many dequeued jobs a worker process runs at
// once. Per-domain pools still bound the blocking sections inside each job.
const maxConcurrentJobs = 8

var (
	// ErrNoHandler means no factory is registered for the job type.
	ErrNoHandler = errors.New("no handler registered for job type")

	// ErrInvalidParams wraps a factory's rejection of the submitted params.
	ErrInvalidParams = errors.New("invalid job params")
)

// TaskFunc is the body of a job. It runs on a worker with a context that is
// cancelled when the job is cancelled or the process drains. A task that
// returns ErrCancelled (or its context's error) finishes as cancelled and
// keeps the partial result it returns.
type TaskFunc func(ctx context.Context, rt *Runtime) (*Result, error)

// Factory validates raw params and binds them into a runnable task. It is
// called once at submission for early validation and once more on the worker
// that executes the job.
type Factory func(params json.RawMessage) (TaskFunc, error)

// Options configures an Engine.
type Options struct {
	Store           Store
	Queue           Queue // nil runs jobs in-process
	Pools           *Pools
	IsWorker        bool
	Expiry          time.Duration
	CleanupInterval time.Duration
	Logger          zerolog.Logger
}

// Engine owns the job lifecycle: submission, dispatch, cooperative
// cancellation and expiry of terminal jobs.
type Engine struct {
	store           Store
	queue           Queue
	pools           *Pools
	isWorker        bool
	expiry          time.Duration
	cleanupInterval time.Duration
	logger          zerolog.Logger

	mu        sync.Mutex
	factories map[types.JobType]Factory
	cancels   map[string]context.CancelFunc

	wg sync.WaitGroup
}

// NewEngine wires an engine from options. Register task factories before
// calling Start.
func NewEngine(opts Options) *Engine {
	pools := opts.Pools
	if pools == nil {
		pools = NewPools(func(types.PoolDomain) int { return 1 })
	}
	expiry := opts.Expiry
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	interval := opts.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Engine{
		store:           opts.Store,
		queue:           opts.Queue,
		pools:           pools,
		isWorker:        opts.IsWorker,
		expiry:          expiry,
		cleanupInterval: interval,
		logger:          opts.Logger.With().Str(log.FieldComponent, "jobs").Logger(),
		factories:       make(map[types.JobType]Factory),
		cancels:         make(map[string]context.CancelFunc),
	}
}

// Register binds a factory to a job type. Last registration wins.
func (e *Engine) Register(jobType types.JobType, factory Factory) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.factories[jobType] = factory
}

// Store exposes the underlying job store for read paths.
func (e *Engine) Store() Store { return e.store }

func (e *Engine) factory(jobType types.JobType) (Factory, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f, ok := e.factories[jobType]
	return f, ok
}

// Submit validates params against the registered factory, persists a pending
// job and hands it to a worker. Validation failures surface immediately and
// never create a job.
func (e *Engine) Submit(ctx context.Context, jobType types.JobType, params any) (*Job, error) {
	if !jobType.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrNoHandler, jobType)
	}
	factory, ok := e.factory(jobType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoHandler, jobType)
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	if _, err := factory(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}

	job, err := e.store.Create(ctx, jobType, Progress{})
	if err != nil {
		return nil, err
	}

	logger := e.logger.With().
		Str(log.FieldJobID, job.ID).
		Str(log.FieldJobType, string(jobType)).
		Logger()

	if e.queue != nil {
		env := &Envelope{JobID: job.ID, Type: jobType, Params: raw}
		if err := e.queue.Enqueue(ctx, env); err != nil {
			// Leave an error trail instead of a forever-pending job.
			if _, serr := e.store.SetStatus(ctx, job.ID, types.JobStatusError, nil, "enqueue failed: "+err.Error()); serr != nil {
				logger.Error().Err(serr).Msg("failed to mark job after enqueue failure")
			}
			return nil, fmt.Errorf("enqueue job: %w", err)
		}
		logger.Info().Str(log.FieldEvent, "jobs.submitted").Msg("job queued")
		return job, nil
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(job.ID, jobType, raw)
	}()
	logger.Info().Str(log.FieldEvent, "jobs.submitted").Msg("job started in-process")
	return job, nil
}

// Cancel requests cooperative cancellation. Unknown ids return ErrNotFound;
// terminal jobs are a no-op.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	job, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return nil
	}

	if job.Status == types.JobStatusPending {
		_, err := e.store.SetStatus(ctx, id, types.JobStatusCancelled, nil, "")
		if err == nil {
			e.logger.Info().
				Str(log.FieldJobID, id).
				Str(log.FieldEvent, "jobs.cancelled").
				Msg("pending job cancelled")
			return nil
		}
		if !errors.Is(err, ErrInvalidTransition) {
			return err
		}
		// Lost the race against a worker picking it up; cancel it running.
	}

	if err := e.store.RequestCancel(ctx, id); err != nil {
		return err
	}

	e.mu.Lock()
	cancel, ok := e.cancels[id]
	e.mu.Unlock()
	if ok {
		cancel()
	}

	e.logger.Info().
		Str(log.FieldJobID, id).
		Str(log.FieldEvent, "jobs.cancel_requested").
		Msg("cancellation requested")
	return nil
}

// Start launches the worker consume loop and the expiry sweeper. Both stop
// when ctx ends; Stop waits for in-flight jobs to settle.
func (e *Engine) Start(ctx context.Context) {
	if !e.isWorker {
		return
	}
	if e.queue != nil {
		e.wg.Add(1)
		go e.consumeLoop(ctx)
	}
	e.wg.Add(1)
	go e.cleanupLoop(ctx)
}

// Stop blocks until all launched goroutines and in-flight jobs return.
func (e *Engine) Stop() {
	e.wg.Wait()
}

func (e *Engine) consumeLoop(ctx context.Context) {
	defer e.wg.Done()

	slots := make(chan struct{}, maxConcurrentJobs)
	for {
		if ctx.Err() != nil {
			return
		}
		env, err := e.queue.Dequeue(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			e.logger.Warn().Err(err).Msg("dequeue failed, backing off")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if env == nil {
			continue
		}

		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return
		}
		e.wg.Add(1)
		go func(env *Envelope) {
			defer e.wg.Done()
			defer func() { <-slots }()
			e.run(env.JobID, env.Type, env.Params)
		}(env)
	}
}

func (e *Engine) cleanupLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := e.store.DeleteExpired(ctx, e.expiry)
			if err != nil {
				e.logger.Warn().Err(err).Msg("job expiry sweep failed")
				continue
			}
			if n > 0 {
				metrics.JobsExpired(n)
				e.logger.Info().
					Int("count", n).
					Str(log.FieldEvent, "jobs.expired").
					Msg("expired terminal jobs removed")
			}
		}
	}
}

// run executes one job to a terminal status. It deliberately uses a fresh
// background context so a disconnecting submitter cannot kill the job.
func (e *Engine) run(jobID string, jobType types.JobType, params json.RawMessage) {
	logger := e.logger.With().
		Str(log.FieldJobID, jobID).
		Str(log.FieldJobType, string(jobType)).
		Logger()

	factory, ok := e.factory(jobType)
	if !ok {
		e.finish(jobID, jobType, nil, fmt.Errorf("%w: %q", ErrNoHandler, jobType), logger)
		return
	}
	task, err := factory(params)
	if err != nil {
		e.finish(jobID, jobType, nil, fmt.Errorf("%w: %v", ErrInvalidParams, err), logger)
		return
	}

	ctx := log.ContextWithJobID(context.Background(), jobID)
	ctx = logger.WithContext(ctx)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	e.cancels[jobID] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.cancels, jobID)
		e.mu.Unlock()
	}()

	if _, err := e.store.SetStatus(ctx, jobID, types.JobStatusRunning, nil, ""); err != nil {
		// Cancelled before pickup; the transition guard already said no.
		if errors.Is(err, ErrInvalidTransition) {
			logger.Debug().Msg("job no longer pending, skipping")
			return
		}
		logger.Error().Err(err).Msg("failed to mark job running")
		return
	}

	// Cancel may have raced the running transition; honor a marker that
	// landed before the local cancel func was registered.
	if requested, err := e.store.CancelRequested(ctx, jobID); err == nil && requested {
		cancel()
	}

	metrics.JobStarted()
	start := time.Now()
	logger.Info().Str(log.FieldEvent, "jobs.started").Msg("job running")

	// The span parents any instrumented HTTP calls the task makes.
	ctx, span := telemetry.Tracer("ytvault-jobs").Start(ctx, "job "+string(jobType))

	rt := &Runtime{JobID: jobID, engine: e}
	result, taskErr := task(ctx, rt)

	metrics.JobDone()
	status := e.settle(jobID, jobType, result, taskErr, time.Since(start).Seconds(), logger)

	span.SetAttributes(telemetry.JobAttributes(string(jobType), string(status), time.Since(start).Milliseconds())...)
	if status == types.JobStatusError {
		span.RecordError(taskErr)
		span.SetStatus(codes.Error, "job failed")
	}
	span.End()
}

// settle maps a task outcome onto a terminal status and reports which one.
func (e *Engine) settle(jobID string, jobType types.JobType, result *Result, taskErr error, seconds float64, logger zerolog.Logger) types.JobStatus {
	// Use a fresh context: the job's own context is cancelled when the
	// job was, and the terminal write must still land.
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var status types.JobStatus
	var errMsg string
	switch {
	case taskErr == nil:
		status = types.JobStatusCompleted
	case errors.Is(taskErr, ErrCancelled), errors.Is(taskErr, context.Canceled):
		status = types.JobStatusCancelled
	default:
		status = types.JobStatusError
		errMsg = taskErr.Error()
	}

	if _, err := e.store.SetStatus(sctx, jobID, status, result, errMsg); err != nil {
		logger.Error().Err(err).
			Str(log.FieldNewStatus, string(status)).
			Msg("failed to finalize job")
		return status
	}
	metrics.JobFinished(string(jobType), string(status), seconds)

	evt := logger.Info()
	if status == types.JobStatusError {
		evt = logger.Error().Str("error_message", errMsg)
	}
	evt.Str(log.FieldEvent, "jobs.finished").
		Str(log.FieldNewStatus, string(status)).
		Msg("job finished")
	return status
}

func (e *Engine) finish(jobID string, jobType types.JobType, result *Result, err error, logger zerolog.Logger) {
	e.settle(jobID, jobType, result, err, 0, logger)
}
