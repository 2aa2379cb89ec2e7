// SPDX-License-Identifier: MIT

package downloader

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/ytvault/internal/catalog"
	"github.com/ManuGH/ytvault/internal/extractor"
	"github.com/ManuGH/ytvault/internal/jobs"
	"github.com/ManuGH/ytvault/internal/types"
)

// fakeExtractor scripts per-URL behavior and writes real files into the
// resolved destination, the way the actual tool would.
type fakeExtractor struct {
	mu        sync.Mutex
	infos     map[string]extractor.Info
	playlists map[string]*extractor.Playlist
	dlErr     map[string]error
	skip      map[string]bool
	requests  []extractor.Request
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{
		infos:     make(map[string]extractor.Info),
		playlists: make(map[string]*extractor.Playlist),
		dlErr:     make(map[string]error),
		skip:      make(map[string]bool),
	}
}

func (f *fakeExtractor) Probe(_ context.Context, url string, _ extractor.Hints) (*extractor.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.infos[url]
	if !ok {
		return nil, extractor.ErrUnsupportedURL
	}
	return &info, nil
}

func (f *fakeExtractor) Enumerate(_ context.Context, url string, _ extractor.Hints) (*extractor.Playlist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pl, ok := f.playlists[url]
	if !ok {
		return nil, extractor.ErrUnsupportedURL
	}
	return pl, nil
}

func (f *fakeExtractor) Download(_ context.Context, req extractor.Request, onProgress func(extractor.Progress)) (*extractor.Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	info := f.infos[req.URL]
	dlErr := f.dlErr[req.URL]
	skip := f.skip[req.URL]
	f.mu.Unlock()

	if dlErr != nil {
		return nil, dlErr
	}
	if skip {
		return &extractor.Result{Skipped: true}, nil
	}
	if onProgress != nil {
		onProgress(extractor.Progress{Stage: extractor.StageDownloading, Percent: 50, Speed: "1.00MiB/s", ETASeconds: 3})
		onProgress(extractor.Progress{Stage: extractor.StageFinished, Percent: 100, ETASeconds: -1})
	}

	ext := info.Ext
	if ext == "" {
		ext = "mp4"
	}
	media := strings.Replace(req.OutputPath, "%(ext)s", ext, 1)
	if err := os.WriteFile(media, []byte("media for "+info.ID), 0o644); err != nil {
		return nil, err
	}
	stem := strings.TrimSuffix(media, filepath.Ext(media))
	meta, _ := json.Marshal(map[string]any{
		"id": info.ID, "title": info.Title, "channel": info.Channel,
		"uploader": info.Uploader, "duration": info.Duration, "extractor": info.Extractor,
	})
	if err := os.WriteFile(stem+".info.json", meta, 0o644); err != nil {
		return nil, err
	}
	files := []string{media, stem + ".info.json"}
	if req.Subtitles {
		// Written but never announced, like the real tool's sub tracks.
		if err := os.WriteFile(stem+".en.vtt", []byte("WEBVTT\n"), 0o644); err != nil {
			return nil, err
		}
	}
	return &extractor.Result{Files: files}, nil
}

func (f *fakeExtractor) downloadCalls() []extractor.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]extractor.Request(nil), f.requests...)
}

type fixture struct {
	fx     *fakeExtractor
	deps   Deps
	engine *jobs.Engine
	store  *catalog.Store
	root   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := realRoot(t)

	store, err := catalog.NewStore(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	fx := newFakeExtractor()
	deps := Deps{
		Extractor: fx,
		Catalog:   catalog.NewService(catalog.Options{Store: store, Logger: zerolog.Nop()}),
		Archive:   NewArchive(filepath.Join(root, "archive.txt")),
		Root:      root,
	}
	engine := jobs.NewEngine(jobs.Options{Store: jobs.NewMemoryStore(), Logger: zerolog.Nop()})
	engine.Register(types.JobTypeDownload, Factory(deps))

	return &fixture{fx: fx, deps: deps, engine: engine, store: store, root: root}
}

func (f *fixture) waitJob(t *testing.T, id string, want types.JobStatus) *jobs.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := f.engine.Store().Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get %s: %v", id, err)
		}
		if job.Status == want {
			return job
		}
		if job.Status.IsTerminal() {
			t.Fatalf("job settled as %s (error=%q), want %s", job.Status, job.Error, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for status %s", want)
	return nil
}

func TestSingleDownloadRegistersVideo(t *testing.T) {
	f := newFixture(t)
	f.fx.infos["https://example.com/v1"] = extractor.Info{
		ID: "abc", Title: "My Video", Channel: "Canal X", Uploader: "Canal X",
		Duration: 61.5, Extractor: "youtube", Ext: "mp4",
	}

	job, err := f.engine.Submit(context.Background(), types.JobTypeDownload,
		Request{URL: "https://example.com/v1", Subs: true})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	done := f.waitJob(t, job.ID, types.JobStatusCompleted)

	if done.Result.Downloaded != 1 {
		t.Fatalf("Downloaded = %d, want 1", done.Result.Downloaded)
	}
	if got := done.Result.VideoUIDs; len(got) != 1 || got[0] != "yt:abc" {
		t.Fatalf("VideoUIDs = %v, want [yt:abc]", got)
	}
	if done.Result.Message != "downloaded My Video" {
		t.Fatalf("Message = %q", done.Result.Message)
	}
	if done.Progress.Percent == nil || *done.Progress.Percent != 100 {
		t.Fatalf("final percent = %v, want 100", done.Progress.Percent)
	}
	if done.Progress.CurrentFile == nil || *done.Progress.CurrentFile != "My Video" {
		t.Fatalf("current file = %v, want My Video", done.Progress.CurrentFile)
	}

	if _, err := os.Stat(filepath.Join(f.root, "Canal X", "My Video.mp4")); err != nil {
		t.Fatalf("media missing: %v", err)
	}

	row, err := f.store.GetVideo(context.Background(), "yt:abc", types.LocationLocal)
	if err != nil {
		t.Fatalf("GetVideo: %v", err)
	}
	if row.Title != "My Video" || row.Channel != "Canal X" {
		t.Fatalf("row = %q by %q", row.Title, row.Channel)
	}
	if row.DurationSeconds != 61 {
		t.Fatalf("DurationSeconds = %d, want 61", row.DurationSeconds)
	}
	if row.Source != types.SourceYouTube {
		t.Fatalf("Source = %s, want youtube", row.Source)
	}
	kinds := map[types.AssetKind]string{}
	for _, a := range row.Assets {
		kinds[a.Kind] = a.LocalPath
		if a.SizeBytes <= 0 {
			t.Fatalf("asset %s has size %d", a.LocalPath, a.SizeBytes)
		}
	}
	if kinds[types.AssetKindVideo] != "Canal X/My Video.mp4" {
		t.Fatalf("video asset = %q", kinds[types.AssetKindVideo])
	}
	if kinds[types.AssetKindInfoJSON] == "" {
		t.Fatal("info json asset missing")
	}
	if kinds[types.AssetKindSubtitles] != "Canal X/My Video.en.vtt" {
		t.Fatalf("subtitle asset = %q, want backfilled sidecar", kinds[types.AssetKindSubtitles])
	}

	if ok, _ := f.deps.Archive.Contains("youtube", "abc"); !ok {
		t.Fatal("archive entry missing")
	}
	calls := f.fx.downloadCalls()
	if len(calls) != 1 {
		t.Fatalf("download calls = %d, want 1", len(calls))
	}
	if calls[0].ArchiveFile != f.deps.Archive.Path() {
		t.Fatalf("ArchiveFile = %q", calls[0].ArchiveFile)
	}
	if !calls[0].Subtitles {
		t.Fatal("Subtitles flag not forwarded")
	}
}

func TestSingleDownloadCustomSource(t *testing.T) {
	f := newFixture(t)
	f.fx.infos["https://example.com/clip"] = extractor.Info{
		ID: "z9", Title: "Clip", Uploader: "Maker", Extractor: "vimeo", Ext: "webm",
	}

	job, err := f.engine.Submit(context.Background(), types.JobTypeDownload,
		Request{URL: "https://example.com/clip", ArchiveID: "override-id"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	done := f.waitJob(t, job.ID, types.JobStatusCompleted)

	uid := done.Result.VideoUIDs[0]
	if !strings.HasPrefix(uid, "custom:") {
		t.Fatalf("uid = %q, want custom: prefix", uid)
	}
	row, err := f.store.GetVideo(context.Background(), uid, types.LocationLocal)
	if err != nil {
		t.Fatalf("GetVideo: %v", err)
	}
	if row.Source != types.SourceCustom {
		t.Fatalf("Source = %s, want custom", row.Source)
	}

	if ok, _ := f.deps.Archive.Contains("vimeo", "override-id"); !ok {
		t.Fatal("archive should record the override id")
	}
	if ok, _ := f.deps.Archive.Contains("vimeo", "z9"); ok {
		t.Fatal("extractor id should not be recorded when overridden")
	}
}

func TestSingleDownloadCollisionAborts(t *testing.T) {
	f := newFixture(t)
	f.fx.infos["https://example.com/v1"] = extractor.Info{
		ID: "abc", Title: "My Video", Uploader: "Canal X", Extractor: "youtube", Ext: "mp4",
	}
	dir := filepath.Join(f.root, "Canal X")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "My Video.mp4"), []byte("previous"), 0o644); err != nil {
		t.Fatal(err)
	}

	job, err := f.engine.Submit(context.Background(), types.JobTypeDownload,
		Request{URL: "https://example.com/v1"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	done := f.waitJob(t, job.ID, types.JobStatusError)

	if !strings.Contains(done.Error, "destination already exists") {
		t.Fatalf("Error = %q", done.Error)
	}
	if calls := f.fx.downloadCalls(); len(calls) != 0 {
		t.Fatalf("download ran despite collision: %d calls", len(calls))
	}
	data, err := os.ReadFile(filepath.Join(dir, "My Video.mp4"))
	if err != nil || string(data) != "previous" {
		t.Fatalf("existing file touched: %q %v", data, err)
	}
}

func TestSingleDownloadAlreadyArchived(t *testing.T) {
	f := newFixture(t)
	f.fx.infos["https://example.com/v1"] = extractor.Info{
		ID: "abc", Title: "My Video", Uploader: "Canal X", Extractor: "youtube",
	}
	f.fx.skip["https://example.com/v1"] = true

	job, err := f.engine.Submit(context.Background(), types.JobTypeDownload,
		Request{URL: "https://example.com/v1"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	done := f.waitJob(t, job.ID, types.JobStatusCompleted)

	if done.Result.Downloaded != 0 {
		t.Fatalf("Downloaded = %d, want 0", done.Result.Downloaded)
	}
	if done.Result.Message != "already archived: My Video" {
		t.Fatalf("Message = %q", done.Result.Message)
	}
	if _, err := f.store.GetVideo(context.Background(), "yt:abc", types.LocationLocal); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("unexpected catalog row, err = %v", err)
	}
}

func TestSingleDownloadProbeFailureAborts(t *testing.T) {
	f := newFixture(t)

	job, err := f.engine.Submit(context.Background(), types.JobTypeDownload,
		Request{URL: "https://example.com/nope"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	done := f.waitJob(t, job.ID, types.JobStatusError)
	if !strings.Contains(done.Error, "probe") {
		t.Fatalf("Error = %q", done.Error)
	}
}

func TestPlaylistContinuesPastFailures(t *testing.T) {
	f := newFixture(t)
	f.fx.playlists["https://example.com/pl"] = &extractor.Playlist{
		Title: "Curso",
		Entries: []extractor.Entry{
			{ID: "a1", Title: "Aula 1", URL: "https://example.com/a1"},
			{ID: "a2", Title: "Aula 2", URL: "https://example.com/a2"},
			{ID: "a3", Title: "Aula 3", URL: "https://example.com/a3"},
		},
	}
	for i, u := range []string{"https://example.com/a1", "https://example.com/a2", "https://example.com/a3"} {
		f.fx.infos[u] = extractor.Info{
			ID: []string{"a1", "a2", "a3"}[i], Title: []string{"Aula 1", "Aula 2", "Aula 3"}[i],
			Uploader: "Canal X", Extractor: "youtube", Ext: "mp4",
		}
	}
	f.fx.dlErr["https://example.com/a2"] = errors.New("network blip")
	f.fx.skip["https://example.com/a3"] = true

	job, err := f.engine.Submit(context.Background(), types.JobTypeDownload,
		Request{URL: "https://example.com/pl", DownloadType: "playlist"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	done := f.waitJob(t, job.ID, types.JobStatusCompleted)

	if done.Result.Downloaded != 1 {
		t.Fatalf("Downloaded = %d, want 1", done.Result.Downloaded)
	}
	if len(done.Result.Failed) != 1 || done.Result.Failed[0].File != "Aula 2" {
		t.Fatalf("Failed = %+v", done.Result.Failed)
	}
	if !strings.Contains(done.Result.Failed[0].Error, "network blip") {
		t.Fatalf("failure reason = %q", done.Result.Failed[0].Error)
	}
	want := "downloaded 1 of 3 items (1 already archived)"
	if done.Result.Message != want {
		t.Fatalf("Message = %q, want %q", done.Result.Message, want)
	}

	if _, err := os.Stat(filepath.Join(f.root, "Canal X", "Curso", "Aula 1.mp4")); err != nil {
		t.Fatalf("playlist item not under playlist dir: %v", err)
	}
	if _, err := f.store.GetVideo(context.Background(), "yt:a1", types.LocationLocal); err != nil {
		t.Fatalf("row for succeeded item: %v", err)
	}
	if _, err := f.store.GetVideo(context.Background(), "yt:a2", types.LocationLocal); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("failed item should have no row, err = %v", err)
	}
}

func TestPlaylistAllFailed(t *testing.T) {
	f := newFixture(t)
	f.fx.playlists["https://example.com/pl"] = &extractor.Playlist{
		Title: "Curso",
		Entries: []extractor.Entry{
			{ID: "a1", Title: "Aula 1", URL: "https://example.com/a1"},
			{ID: "a2", Title: "Aula 2", URL: "https://example.com/a2"},
		},
	}
	for _, u := range []string{"https://example.com/a1", "https://example.com/a2"} {
		f.fx.infos[u] = extractor.Info{ID: u, Title: u, Uploader: "Canal X", Extractor: "youtube"}
		f.fx.dlErr[u] = errors.New("boom")
	}

	job, err := f.engine.Submit(context.Background(), types.JobTypeDownload,
		Request{URL: "https://example.com/pl", DownloadType: "playlist"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	done := f.waitJob(t, job.ID, types.JobStatusError)

	if !strings.Contains(done.Error, "all 2 items failed") {
		t.Fatalf("Error = %q", done.Error)
	}
	if len(done.Result.Failed) != 2 {
		t.Fatalf("Failed = %+v", done.Result.Failed)
	}
}

func TestPlaylistEmpty(t *testing.T) {
	f := newFixture(t)
	f.fx.playlists["https://example.com/pl"] = &extractor.Playlist{Title: "Leer"}

	job, err := f.engine.Submit(context.Background(), types.JobTypeDownload,
		Request{URL: "https://example.com/pl", DownloadType: "playlist"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	done := f.waitJob(t, job.ID, types.JobStatusCompleted)
	if done.Result.Message != "playlist is empty" {
		t.Fatalf("Message = %q", done.Result.Message)
	}
}

func TestDownloadParamValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		params any
	}{
		{"missing url", Request{}},
		{"bad type", Request{URL: "https://x", DownloadType: "bogus"}},
		{"negative delay", Request{URL: "https://x", DelayBetweenDownloads: -1}},
		{"unknown field", map[string]any{"url": "https://x", "bogus": true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Submit(context.Background(), types.JobTypeDownload, tt.params)
			if !errors.Is(err, jobs.ErrInvalidParams) {
				t.Fatalf("err = %v, want ErrInvalidParams", err)
			}
		})
	}
}

func TestJitterBounds(t *testing.T) {
	base := 10 * time.Second
	if got := jitter(base, false, 0.8, 1.2); got != base {
		t.Fatalf("unrandomized jitter = %v, want %v", got, base)
	}
	for i := 0; i < 100; i++ {
		got := jitter(base, true, 0.8, 1.2)
		if got < 8*time.Second || got > 12*time.Second {
			t.Fatalf("jitter = %v outside [8s, 12s]", got)
		}
	}
}

func TestOverallPercent(t *testing.T) {
	tests := []struct {
		index, total int
		item, want   float64
	}{
		{0, 1, 50, 50},
		{0, 2, 50, 25},
		{1, 2, 0, 50},
		{1, 2, 100, 100},
		{2, 4, 50, 62.5},
		{0, 0, 50, 0},
		{0, 1, 150, 100},
		{0, 1, -5, 0},
	}
	for _, tt := range tests {
		if got := overallPercent(tt.index, tt.total, tt.item); got != tt.want {
			t.Fatalf("overallPercent(%d, %d, %v) = %v, want %v", tt.index, tt.total, tt.item, got, tt.want)
		}
	}
}
