// SPDX-License-Identifier: MIT

// Package types provides type-safe enumerations and constants for ytvault.
//
// This package centralizes all typed constants, enums, and state types
// to prevent string-based bugs and improve code maintainability.
package types

import (
	"encoding/json"
	"fmt"
	"slices"
)

// JobStatus is the lifecycle state of a background job.
type JobStatus string

const (
	// JobStatusPending marks a job accepted but not yet picked up.
	JobStatusPending JobStatus = "pending"

	// JobStatusRunning marks a job a worker is executing.
	JobStatusRunning JobStatus = "running"

	// JobStatusCompleted marks a job that finished successfully.
	JobStatusCompleted JobStatus = "completed"

	// JobStatusError marks a job that terminated with a failure.
	JobStatusError JobStatus = "error"

	// JobStatusCancelled marks a job stopped on request.
	JobStatusCancelled JobStatus = "cancelled"
)

// allStatuses lists every status in lifecycle order.
var allStatuses = []JobStatus{
	JobStatusPending,
	JobStatusRunning,
	JobStatusCompleted,
	JobStatusError,
	JobStatusCancelled,
}

// successors is the transition table. Terminal states have no entry.
// Pending can move straight to error when dispatch rejects the job or
// no handler exists for its type.
var successors = map[JobStatus][]JobStatus{
	JobStatusPending: {JobStatusRunning, JobStatusError, JobStatusCancelled},
	JobStatusRunning: {JobStatusCompleted, JobStatusError, JobStatusCancelled},
}

// String implements fmt.Stringer.
func (s JobStatus) String() string {
	return string(s)
}

// IsValid reports whether s is one of the defined statuses.
func (s JobStatus) IsValid() bool {
	return slices.Contains(allStatuses, s)
}

// IsTerminal reports whether s has no further transitions. Stores use
// this to freeze finished jobs and to stamp CompletedAt exactly once.
func (s JobStatus) IsTerminal() bool {
	return s.IsValid() && len(successors[s]) == 0
}

// CanTransitionTo reports whether the transition table allows moving
// from s to target.
func (s JobStatus) CanTransitionTo(target JobStatus) bool {
	return slices.Contains(successors[s], target)
}

// MarshalJSON implements json.Marshaler.
func (s JobStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler and rejects unknown values.
func (s *JobStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed := JobStatus(raw)
	if !parsed.IsValid() {
		return fmt.Errorf("invalid job status: %q", raw)
	}
	*s = parsed
	return nil
}

// ParseJobStatus validates query-level input into a JobStatus.
func ParseJobStatus(s string) (JobStatus, error) {
	status := JobStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid job status: %q (valid: pending, running, completed, error, cancelled)", s)
	}
	return status, nil
}

// AllJobStatuses returns the defined statuses in lifecycle order.
func AllJobStatuses() []JobStatus {
	return slices.Clone(allStatuses)
}
