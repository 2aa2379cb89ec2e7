// SPDX-License-Identifier: MIT

// Package metrics registers the service's domain metrics. HTTP-layer metrics
// live in the API middleware; everything job-, drive-, and catalog-shaped is
// recorded here through small helper functions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Job engine metrics
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ytvault_jobs_total",
		Help: "Jobs reaching a terminal status, by type and status",
	}, []string{"type", "status"}) // status=completed|error|cancelled

	jobsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ytvault_jobs_active",
		Help: "Jobs currently executing",
	})

	jobDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ytvault_job_duration_seconds",
		Help:    "Wall time from start to terminal status, by type",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 3600, 14400},
	}, []string{"type"})

	jobsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ytvault_jobs_expired_total",
		Help: "Terminal jobs removed by the expiry loop",
	})

	// Download metrics
	downloadItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ytvault_download_items_total",
		Help: "Playlist/single items finished by outcome",
	}, []string{"outcome"}) // outcome=completed|failed|skipped

	downloadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ytvault_download_bytes_total",
		Help: "Bytes written by the download orchestrator",
	})

	// Drive adapter metrics
	driveCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ytvault_drive_calls_total",
		Help: "Drive API calls by operation and outcome",
	}, []string{"op", "outcome"}) // outcome=success|error

	driveInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ytvault_drive_inflight",
		Help: "Drive API calls currently holding the concurrency gate",
	})

	driveRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ytvault_drive_retries_total",
		Help: "Retried idempotent Drive reads",
	})

	driveUploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ytvault_drive_upload_bytes_total",
		Help: "Bytes uploaded to Drive",
	})

	driveDownloadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ytvault_drive_download_bytes_total",
		Help: "Bytes downloaded from Drive into the local library",
	})

	// Streaming metrics
	streamBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ytvault_stream_bytes_total",
		Help: "Bytes served by the streaming layer, by location",
	}, []string{"location"}) // location=local|drive

	streamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ytvault_stream_requests_total",
		Help: "Streaming requests by location and response class",
	}, []string{"location", "class"}) // class=full|partial|unsatisfiable

	// Catalog metrics
	catalogVideos = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ytvault_catalog_videos",
		Help: "Video rows in the catalog, by location",
	}, []string{"location"})

	catalogPublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ytvault_catalog_publish_total",
		Help: "Snapshot publish attempts by outcome",
	}, []string{"outcome"}) // outcome=success|precondition|error

	catalogWriteThroughErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ytvault_catalog_write_through_errors_total",
		Help: "Catalog writes that failed after the physical operation succeeded",
	})
)

func JobFinished(jobType, status string, seconds float64) {
	jobsTotal.WithLabelValues(jobType, status).Inc()
	jobDurationSeconds.WithLabelValues(jobType).Observe(seconds)
}

func JobStarted()        { jobsActive.Inc() }
func JobDone()           { jobsActive.Dec() }
func JobsExpired(n int)  { jobsExpired.Add(float64(n)) }

func DownloadItem(outcome string)  { downloadItemsTotal.WithLabelValues(outcome).Inc() }
func DownloadBytes(n int64)        { downloadBytesTotal.Add(float64(n)) }

func DriveCall(op, outcome string) { driveCallsTotal.WithLabelValues(op, outcome).Inc() }
func DriveGateEnter()              { driveInflight.Inc() }
func DriveGateExit()               { driveInflight.Dec() }
func DriveRetry()                  { driveRetriesTotal.Inc() }
func DriveUploadBytes(n int64)     { driveUploadBytesTotal.Add(float64(n)) }
func DriveDownloadBytes(n int64)   { driveDownloadBytesTotal.Add(float64(n)) }

func StreamBytes(location string, n int64)     { streamBytesTotal.WithLabelValues(location).Add(float64(n)) }
func StreamRequest(location, class string)     { streamRequestsTotal.WithLabelValues(location, class).Inc() }

func SetCatalogVideos(location string, n int)  { catalogVideos.WithLabelValues(location).Set(float64(n)) }
func CatalogPublish(outcome string)            { catalogPublishTotal.WithLabelValues(outcome).Inc() }
func CatalogWriteThroughError()                { catalogWriteThroughErrors.Inc() }
