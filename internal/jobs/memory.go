// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ManuGH/ytvault/internal/types"
)

// subscriberBuffer bounds the per-subscriber event queue. A slow reader
// loses intermediate snapshots, never the ordering of the ones it sees.
const subscriberBuffer = 16

type memoryStore struct {
	mu      sync.RWMutex
	jobs    map[string]*Job
	cancels map[string]bool
	subs    map[string][]chan *Job
}

// NewMemoryStore returns the in-process job store used by single-process
// deployments and tests.
func NewMemoryStore() Store {
	return &memoryStore{
		jobs:    make(map[string]*Job),
		cancels: make(map[string]bool),
		subs:    make(map[string][]chan *Job),
	}
}

func (s *memoryStore) Create(_ context.Context, jobType types.JobType, initial Progress) (*Job, error) {
	if !jobType.IsValid() {
		return nil, fmt.Errorf("create job: invalid type %q", jobType)
	}

	job := &Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		Status:    types.JobStatusPending,
		Progress:  initial,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	return job.Clone(), nil
}

func (s *memoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

func (s *memoryStore) UpdateProgress(_ context.Context, id string, delta Progress) (*Job, error) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	if job.Status.IsTerminal() {
		s.mu.Unlock()
		return nil, fmt.Errorf("update progress %s: %w", id, ErrTerminal)
	}

	job.Progress.merge(delta)
	snapshot := job.Clone()
	subs := append([]chan *Job(nil), s.subs[id]...)
	s.mu.Unlock()

	notify(subs, snapshot)
	return snapshot, nil
}

func (s *memoryStore) SetStatus(_ context.Context, id string, status types.JobStatus, result *Result, errMsg string) (*Job, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("set status %s: invalid status %q", id, status)
	}

	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	if !job.Status.CanTransitionTo(status) {
		from := job.Status
		s.mu.Unlock()
		return nil, fmt.Errorf("set status %s: %s → %s: %w", id, from, status, ErrInvalidTransition)
	}

	applyTransition(job, status, result, errMsg)

	snapshot := job.Clone()
	subs := append([]chan *Job(nil), s.subs[id]...)
	terminal := status.IsTerminal()
	if terminal {
		delete(s.subs, id)
		delete(s.cancels, id)
	}
	s.mu.Unlock()

	notify(subs, snapshot)
	if terminal {
		for _, ch := range subs {
			close(ch)
		}
	}
	return snapshot, nil
}

// applyTransition mutates job under the store lock.
func applyTransition(job *Job, status types.JobStatus, result *Result, errMsg string) {
	now := time.Now().UTC()
	job.Status = status

	switch {
	case status == types.JobStatusRunning:
		job.StartedAt = &now
	case status.IsTerminal():
		job.CompletedAt = &now
		if result != nil {
			job.Result = result
		}
		if status == types.JobStatusError {
			job.Error = errMsg
		}
	}
}

func (s *memoryStore) List(_ context.Context, filter ListFilter) ([]*Job, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	s.mu.RLock()
	matched := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.Type != "" && job.Type != filter.Type {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		matched = append(matched, job.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *memoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	if !job.Status.IsTerminal() {
		s.mu.Unlock()
		return fmt.Errorf("delete %s: %w", id, ErrTerminal)
	}

	subs := s.subs[id]
	delete(s.jobs, id)
	delete(s.cancels, id)
	delete(s.subs, id)
	s.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
	return nil
}

func (s *memoryStore) RequestCancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status.IsTerminal() {
		// No-op per the cancellation contract.
		return nil
	}
	s.cancels[id] = true
	return nil
}

func (s *memoryStore) CancelRequested(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cancels[id], nil
}

func (s *memoryStore) Subscribe(_ context.Context, id string) (<-chan *Job, func(), error) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return nil, nil, ErrNotFound
	}

	ch := make(chan *Job, subscriberBuffer)
	if job.Status.IsTerminal() {
		// Deliver the terminal snapshot and end the stream immediately.
		ch <- job.Clone()
		close(ch)
		s.mu.Unlock()
		return ch, func() {}, nil
	}

	s.subs[id] = append(s.subs[id], ch)
	s.mu.Unlock()

	stop := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.subs[id]
		for i, c := range list {
			if c == ch {
				s.subs[id] = append(list[:i], list[i+1:]...)
				close(c)
				return
			}
		}
		// Already closed by a terminal transition or delete.
	}
	return ch, stop, nil
}

func (s *memoryStore) DeleteExpired(_ context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)

	s.mu.Lock()
	var removed int
	for id, job := range s.jobs {
		if !job.Status.IsTerminal() || job.CompletedAt == nil {
			continue
		}
		if job.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			delete(s.cancels, id)
			removed++
		}
	}
	s.mu.Unlock()

	return removed, nil
}

func (s *memoryStore) Ping(_ context.Context) error {
	return nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, subs := range s.subs {
		for _, ch := range subs {
			close(ch)
		}
		delete(s.subs, id)
	}
	return nil
}

// notify delivers the snapshot without blocking; a full subscriber buffer
// drops this event.
func notify(subs []chan *Job, snapshot *Job) {
	for _, ch := range subs {
		select {
		case ch <- snapshot:
		default:
		}
	}
}
