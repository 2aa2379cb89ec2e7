// SPDX-License-Identifier: MIT
package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func byKey(attrs []attribute.KeyValue) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value, len(attrs))
	for _, kv := range attrs {
		m[kv.Key] = kv.Value
	}
	return m
}

func TestHTTPAttributes(t *testing.T) {
	got := byKey(HTTPAttributes("GET", "/api/videos/", "/api/videos/?page=2", 200))
	require.Len(t, got, 4)

	assert.Equal(t, "GET", got[HTTPMethodKey].AsString())
	assert.Equal(t, "/api/videos/", got[HTTPRouteKey].AsString())
	assert.Equal(t, "/api/videos/?page=2", got[HTTPURLKey].AsString())
	assert.EqualValues(t, 200, got[HTTPStatusCodeKey].AsInt64())
}

func TestJobAttributes(t *testing.T) {
	got := byKey(JobAttributes("download", "completed", 45000))
	require.Len(t, got, 3)

	assert.Equal(t, "download", got[JobTypeKey].AsString())
	assert.Equal(t, "completed", got[JobStatusKey].AsString())
	assert.EqualValues(t, 45000, got[JobDurationKey].AsInt64())
}
