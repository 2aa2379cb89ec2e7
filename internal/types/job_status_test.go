// SPDX-License-Identifier: MIT

package types

import (
	"encoding/json"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatusValidity(t *testing.T) {
	for _, s := range AllJobStatuses() {
		assert.True(t, s.IsValid(), s)
		assert.Equal(t, string(s), s.String())
	}
	for _, s := range []JobStatus{"", "unknown", "failed", "PENDING"} {
		assert.False(t, s.IsValid(), s)
	}
}

func TestJobStatusTransitionMatrix(t *testing.T) {
	allowed := map[JobStatus][]JobStatus{
		JobStatusPending: {JobStatusRunning, JobStatusError, JobStatusCancelled},
		JobStatusRunning: {JobStatusCompleted, JobStatusError, JobStatusCancelled},
	}
	for _, from := range AllJobStatuses() {
		assert.Equal(t, len(allowed[from]) == 0, from.IsTerminal(), "terminal(%s)", from)
		for _, to := range AllJobStatuses() {
			want := slices.Contains(allowed[from], to)
			assert.Equal(t, want, from.CanTransitionTo(to), "%s to %s", from, to)
		}
	}
	assert.False(t, JobStatus("bogus").CanTransitionTo(JobStatusRunning))
}

func TestJobStatusJSON(t *testing.T) {
	out, err := json.Marshal(JobStatusCompleted)
	require.NoError(t, err)
	assert.JSONEq(t, `"completed"`, string(out))

	var in JobStatus
	require.NoError(t, json.Unmarshal([]byte(`"cancelled"`), &in))
	assert.Equal(t, JobStatusCancelled, in)

	err = json.Unmarshal([]byte(`"exploded"`), &in)
	require.ErrorContains(t, err, "invalid job status")

	require.Error(t, json.Unmarshal([]byte(`42`), &in))
}

func TestParseJobStatus(t *testing.T) {
	got, err := ParseJobStatus("running")
	require.NoError(t, err)
	assert.Equal(t, JobStatusRunning, got)

	_, err = ParseJobStatus("failed")
	require.ErrorContains(t, err, "invalid job status")
}
