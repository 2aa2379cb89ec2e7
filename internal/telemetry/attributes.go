// SPDX-License-Identifier: MIT

package telemetry

import "go.opentelemetry.io/otel/attribute"

// Span attribute keys shared by the HTTP middleware and the job engine
// so traces stay queryable under one vocabulary.
const (
	HTTPMethodKey     = attribute.Key("http.method")
	HTTPStatusCodeKey = attribute.Key("http.status_code")
	HTTPRouteKey      = attribute.Key("http.route")
	HTTPURLKey        = attribute.Key("http.url")
	HTTPUserAgentKey  = attribute.Key("http.user_agent")

	JobTypeKey     = attribute.Key("job.type")
	JobStatusKey   = attribute.Key("job.status")
	JobDurationKey = attribute.Key("job.duration_ms")

	DownloadURLKey     = attribute.Key("download.url")
	DownloadProfileKey = attribute.Key("download.profile")

	DriveFileIDKey = attribute.Key("drive.file_id")
	DriveFolderKey = attribute.Key("drive.folder")
)

// HTTPAttributes tags a server span with the request essentials.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		HTTPMethodKey.String(method),
		HTTPRouteKey.String(route),
		HTTPURLKey.String(url),
		HTTPStatusCodeKey.Int(statusCode),
	}
}

// JobAttributes tags a job span with its type, outcome and runtime.
func JobAttributes(jobType, status string, durationMS int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		JobTypeKey.String(jobType),
		JobStatusKey.String(status),
		JobDurationKey.Int64(durationMS),
	}
}
