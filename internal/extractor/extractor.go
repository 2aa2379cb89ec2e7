// SPDX-License-Identifier: MIT

// Package extractor shells out to yt-dlp for metadata probes, playlist
// enumeration and media downloads. The orchestrator in internal/downloader
// drives it one item at a time; playlist expansion happens up front so
// inter-item pacing stays under the job's control.
package extractor

import (
	"context"
	"errors"
)

var (
	// ErrNotInstalled means no usable binary was found at construction.
	ErrNotInstalled = errors.New("extractor binary not found")

	// ErrUnsupportedURL means the tool rejected the URL itself, as opposed
	// to failing while fetching it. Surfaced to callers as invalid input.
	ErrUnsupportedURL = errors.New("unsupported url")

	// ErrUnavailable means the target exists but cannot be fetched:
	// removed, private or region locked.
	ErrUnavailable = errors.New("video unavailable")
)

// Hints are pass-through HTTP settings for sites that gate their media.
type Hints struct {
	Referer     string
	Origin      string
	CookiesFile string
}

// Request describes a single-item download. OutputPath is the full output
// template handed to the tool; the directory part must already exist.
type Request struct {
	URL        string
	OutputPath string

	MaxRes     int
	AudioOnly  bool
	Subtitles  bool
	Thumbnails bool

	// ArchiveFile enables duplicate skipping: finished IDs are appended
	// and already-recorded IDs are skipped without an error.
	ArchiveFile string

	Hints
}

// Info is the metadata shape shared by probes and written info sidecars.
type Info struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Channel    string  `json:"channel"`
	Uploader   string  `json:"uploader"`
	Duration   float64 `json:"duration"`
	Extractor  string  `json:"extractor"`
	Ext        string  `json:"ext"`
	WebpageURL string  `json:"webpage_url"`
}

// Playlist is the flat view of a multi-item URL.
type Playlist struct {
	Title   string  `json:"title"`
	Entries []Entry `json:"entries"`
}

// Entry is one playlist item. URL may be empty for extractors whose flat
// listing only carries IDs; callers fall back to the entry page.
type Entry struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	URL      string  `json:"url"`
	Duration float64 `json:"duration"`
}

// Stage tracks the tool's coarse lifecycle for progress consumers.
type Stage string

const (
	StageDownloading    Stage = "downloading"
	StagePostprocessing Stage = "postprocessing"
	StageFinished       Stage = "finished"
)

// Progress is one raw hook emission. Throttling is the caller's concern.
type Progress struct {
	Stage      Stage
	Percent    float64
	Speed      string
	ETASeconds int
}

// Result reports what a download produced. Files is best effort, taken
// from the tool's own output lines; callers reconcile against the
// filesystem for anything the tool did not announce.
type Result struct {
	Files []string

	// Skipped is set when the archive already recorded the item and
	// nothing was fetched.
	Skipped bool
}

// Extractor is the media-tool boundary. The production implementation
// execs yt-dlp; tests substitute in-process fakes.
type Extractor interface {
	// Probe fetches metadata for one video without downloading.
	Probe(ctx context.Context, url string, h Hints) (*Info, error)

	// Enumerate expands url into its items without downloading. Single
	// videos come back as a one-entry playlist.
	Enumerate(ctx context.Context, url string, h Hints) (*Playlist, error)

	// Download fetches one item. onProgress may be nil; it is invoked
	// from the reader goroutines and must not block.
	Download(ctx context.Context, req Request, onProgress func(Progress)) (*Result, error)
}
