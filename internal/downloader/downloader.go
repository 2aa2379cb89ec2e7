// SPDX-License-Identifier: MIT

// Package downloader turns download requests into jobs: probe the source,
// fix the output location, run the extraction tool one item at a time and
// write catalog rows for everything that lands on disk.
package downloader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/ManuGH/ytvault/internal/catalog"
	"github.com/ManuGH/ytvault/internal/extractor"
	"github.com/ManuGH/ytvault/internal/fsutil"
	"github.com/ManuGH/ytvault/internal/jobs"
	"github.com/ManuGH/ytvault/internal/log"
	"github.com/ManuGH/ytvault/internal/metrics"
	"github.com/ManuGH/ytvault/internal/types"
)

// ErrDestinationExists is the collision pre-check failure: the resolved
// media path is already taken and nothing is overwritten.
var ErrDestinationExists = errors.New("destination already exists")

const (
	typeSingle   = "single"
	typePlaylist = "playlist"
)

// Request is the download job's parameter shape.
type Request struct {
	URL          string `json:"url"`
	DownloadType string `json:"download_type,omitempty"`

	MaxRes     int  `json:"max_res,omitempty"`
	AudioOnly  bool `json:"audio_only,omitempty"`
	Subs       bool `json:"subs,omitempty"`
	Thumbnails bool `json:"thumbnails,omitempty"`

	Path     string `json:"path,omitempty"`
	FileName string `json:"file_name,omitempty"`

	Referer     string `json:"referer,omitempty"`
	Origin      string `json:"origin,omitempty"`
	CookiesFile string `json:"cookies_file,omitempty"`

	// ArchiveID overrides the id recorded in the archive file, for
	// sources whose extractor id is unstable.
	ArchiveID string `json:"archive_id,omitempty"`

	// Anti-ban pacing between playlist items.
	DelayBetweenDownloads float64 `json:"delay_between_downloads,omitempty"`
	BatchSize             int     `json:"batch_size,omitempty"`
	DelayBetweenBatches   float64 `json:"delay_between_batches,omitempty"`
	RandomizeDelay        bool    `json:"randomize_delay,omitempty"`
}

func (r Request) validate() error {
	if r.URL == "" {
		return errors.New("url required")
	}
	switch r.DownloadType {
	case "", typeSingle, typePlaylist:
	default:
		return fmt.Errorf("download_type must be single or playlist, got %q", r.DownloadType)
	}
	if r.MaxRes < 0 || r.BatchSize < 0 || r.DelayBetweenDownloads < 0 || r.DelayBetweenBatches < 0 {
		return errors.New("quality and pacing values must not be negative")
	}
	return nil
}

func (r Request) hints() extractor.Hints {
	return extractor.Hints{Referer: r.Referer, Origin: r.Origin, CookiesFile: r.CookiesFile}
}

// Deps carries the orchestrator's collaborators.
type Deps struct {
	Extractor extractor.Extractor
	Catalog   *catalog.Service
	Archive   *Archive
	Root      string
}

// Factory builds the download task. Single URLs run as one item;
// playlists are enumerated up front and fetched item by item with
// pacing, so one bad entry never aborts the rest.
func Factory(deps Deps) jobs.Factory {
	return func(params json.RawMessage) (jobs.TaskFunc, error) {
		var req Request
		if err := jobs.DecodeParams(params, &req); err != nil {
			return nil, err
		}
		if err := req.validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", jobs.ErrInvalidParams, err)
		}
		return func(ctx context.Context, rt *jobs.Runtime) (*jobs.Result, error) {
			if req.DownloadType == typePlaylist {
				return runPlaylist(ctx, rt, deps, req)
			}
			return runSingle(ctx, rt, deps, req)
		}, nil
	}
}

func runSingle(ctx context.Context, rt *jobs.Runtime, deps Deps, req Request) (*jobs.Result, error) {
	res := jobs.NewResult()

	info, err := deps.Extractor.Probe(ctx, req.URL, req.hints())
	if err != nil {
		return res, fmt.Errorf("probe %s: %w", req.URL, err)
	}
	out, err := resolveOutput(deps.Root, req, info, "")
	if err != nil {
		return res, err
	}
	if err := checkCollision(out); err != nil {
		return res, err
	}

	item, err := downloadItem(ctx, rt, deps, req, req.URL, out, info, 0, 1)
	if err != nil {
		metrics.DownloadItem("failed")
		res.AddFailure(displayTitle(info), err)
		return res, err
	}
	if item.skipped {
		metrics.DownloadItem("skipped")
		res.Message = fmt.Sprintf("already archived: %s", displayTitle(info))
		rt.Progress(ctx, jobs.Progress{Percent: jobs.Float64(100)})
		return res, nil
	}

	metrics.DownloadItem("completed")
	res.Downloaded = 1
	res.VideoUIDs = []string{item.uid}
	rt.Progress(ctx, jobs.Progress{Percent: jobs.Float64(100)})
	res.Message = fmt.Sprintf("downloaded %s", displayTitle(info))
	return res, nil
}

func runPlaylist(ctx context.Context, rt *jobs.Runtime, deps Deps, req Request) (*jobs.Result, error) {
	res := jobs.NewResult()

	pl, err := deps.Extractor.Enumerate(ctx, req.URL, req.hints())
	if err != nil {
		return res, fmt.Errorf("enumerate %s: %w", req.URL, err)
	}
	total := len(pl.Entries)
	if total == 0 {
		res.Message = "playlist is empty"
		return res, nil
	}
	rt.Progress(ctx, jobs.Progress{
		Stage: jobs.String(string(extractor.StageDownloading)),
		Total: jobs.Int(total),
	})

	skipped := 0
	for i, entry := range pl.Entries {
		if rt.Cancelled(ctx) {
			return res, jobs.ErrCancelled
		}
		if i > 0 {
			if err := pace(ctx, rt, req, i); err != nil {
				return res, err
			}
		}

		if err := playlistItem(ctx, rt, deps, req, pl.Title, entry, i, total, res, &skipped); err != nil {
			if ctx.Err() != nil || errors.Is(err, jobs.ErrCancelled) {
				return res, jobs.ErrCancelled
			}
			metrics.DownloadItem("failed")
			res.AddFailure(entryName(entry), err)
			log.FromContext(ctx).Warn().Err(err).
				Str(log.FieldURL, entry.URL).
				Msg("playlist item failed")
		}
		rt.Progress(ctx, jobs.Progress{
			Completed: jobs.Int(res.Downloaded),
			Failed:    jobs.Int(len(res.Failed)),
			Percent:   jobs.Float64(float64(i+1) / float64(total) * 100),
		})
	}

	if res.Downloaded == 0 && skipped == 0 && len(res.Failed) > 0 {
		return res, fmt.Errorf("all %d items failed", len(res.Failed))
	}
	msg := fmt.Sprintf("downloaded %d of %d items", res.Downloaded, total)
	if skipped > 0 {
		msg = fmt.Sprintf("%s (%d already archived)", msg, skipped)
	}
	res.Message = msg
	return res, nil
}

func playlistItem(ctx context.Context, rt *jobs.Runtime, deps Deps, req Request, playlistTitle string, entry extractor.Entry, index, total int, res *jobs.Result, skipped *int) error {
	if entry.URL == "" {
		return fmt.Errorf("entry has no resolvable url")
	}
	info, err := deps.Extractor.Probe(ctx, entry.URL, req.hints())
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	out, err := resolveOutput(deps.Root, req, info, playlistTitle)
	if err != nil {
		return err
	}
	if err := checkCollision(out); err != nil {
		return err
	}

	item, err := downloadItem(ctx, rt, deps, req, entry.URL, out, info, index, total)
	if err != nil {
		return err
	}
	if item.skipped {
		*skipped++
		metrics.DownloadItem("skipped")
		return nil
	}
	metrics.DownloadItem("completed")
	res.Downloaded++
	res.VideoUIDs = append(res.VideoUIDs, item.uid)
	return nil
}

type itemOutcome struct {
	uid     string
	skipped bool
}

// downloadItem runs the tool for one item and registers the outcome.
// index/total position the item so the job's percent stays monotonic.
func downloadItem(ctx context.Context, rt *jobs.Runtime, deps Deps, req Request, url string, out *resolvedOutput, info *extractor.Info, index, total int) (*itemOutcome, error) {
	if err := fsutil.EnsureDir(out.dir); err != nil {
		return nil, fmt.Errorf("create %s: %w", out.relDir, err)
	}

	var gate jobs.ProgressGate
	title := displayTitle(info)
	cb := func(p extractor.Progress) {
		overall := overallPercent(index, total, p.Percent)
		if !gate.ShouldEmit(overall, string(p.Stage)) {
			return
		}
		delta := jobs.Progress{
			Percent:     jobs.Float64(overall),
			Stage:       jobs.String(string(p.Stage)),
			CurrentFile: jobs.String(title),
		}
		if p.Speed != "" {
			delta.Speed = jobs.String(p.Speed)
		}
		if p.ETASeconds >= 0 {
			delta.ETASeconds = jobs.Int(p.ETASeconds)
		}
		rt.Progress(ctx, delta)
	}

	dlRes, err := deps.Extractor.Download(ctx, extractor.Request{
		URL:         url,
		OutputPath:  out.template,
		MaxRes:      req.MaxRes,
		AudioOnly:   req.AudioOnly,
		Subtitles:   req.Subs,
		Thumbnails:  req.Thumbnails,
		ArchiveFile: archivePath(deps),
		Hints:       req.hints(),
	}, cb)
	if err != nil {
		return nil, err
	}
	if dlRes.Skipped {
		return &itemOutcome{skipped: true}, nil
	}

	uid, mediaSize, err := registerOutputs(ctx, rt, deps, out, dlRes.Files)
	if err != nil {
		return nil, err
	}
	metrics.DownloadBytes(mediaSize)
	recordArchive(ctx, deps, req, info)
	return &itemOutcome{uid: uid}, nil
}

// registerOutputs enumerates what landed on disk, groups the media with
// its sidecars and writes the rows through to the catalog.
func registerOutputs(ctx context.Context, rt *jobs.Runtime, deps Deps, out *resolvedOutput, announced []string) (string, int64, error) {
	var (
		v      catalog.Video
		assets []catalog.Asset
		size   int64
	)
	err := rt.Blocking(ctx, types.PoolFilesystem, func(ctx context.Context) error {
		files, err := collectOutputs(out, announced)
		if err != nil {
			return err
		}
		v, assets, size = buildRows(ctx, out, files)
		return nil
	})
	if err != nil {
		return "", 0, err
	}

	err = rt.Blocking(ctx, types.PoolCatalog, func(ctx context.Context) error {
		return deps.Catalog.Register(ctx, v, assets)
	})
	if err != nil {
		return "", 0, err
	}
	return v.VideoUID, size, nil
}

// collectOutputs reconciles the tool's announced files with the
// destination directory. Announced paths that left the directory or are
// gone again (merged fragments) are dropped; sidecars the tool wrote
// without announcing are picked up by base-name match.
func collectOutputs(out *resolvedOutput, announced []string) ([]string, error) {
	seen := make(map[string]struct{})
	var files []string
	add := func(f string) {
		if _, ok := seen[f]; ok {
			return
		}
		seen[f] = struct{}{}
		files = append(files, f)
	}

	var media string
	for _, f := range announced {
		if filepath.Dir(f) != out.dir {
			continue
		}
		if _, err := os.Stat(f); err != nil {
			continue
		}
		add(f)
		if media == "" && catalog.IsMediaPath(f) {
			media = f
		}
	}
	if media == "" {
		if _, err := os.Stat(out.probePath); err == nil {
			media = out.probePath
			add(media)
		}
	}
	if media == "" {
		return nil, fmt.Errorf("no media file in %s after download", out.relDir)
	}

	base := catalog.SidecarBase(filepath.Base(media))
	entries, err := os.ReadDir(out.dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", out.relDir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if catalog.KindForPath(name) == types.AssetKindOther {
			continue
		}
		if catalog.SidecarBase(name) != base {
			continue
		}
		add(filepath.Join(out.dir, name))
	}
	return files, nil
}

// buildRows shapes one file group into a video row plus assets. The info
// sidecar, when present and valid, supplies identity and metadata; plain
// files fall back to a path-derived identity.
func buildRows(ctx context.Context, out *resolvedOutput, files []string) (catalog.Video, []catalog.Asset, int64) {
	var media string
	for _, f := range files {
		if catalog.IsMediaPath(f) {
			media = f
			break
		}
	}

	now := time.Now().UTC()
	v := catalog.Video{
		Location:   types.LocationLocal,
		Source:     types.SourceCustom,
		Title:      strings.TrimSuffix(filepath.Base(media), filepath.Ext(media)),
		Status:     types.VideoStatusAvailable,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	for _, f := range files {
		if catalog.KindForPath(f) != types.AssetKindInfoJSON {
			continue
		}
		data, err := os.ReadFile(f)
		if err == nil {
			err = catalog.ApplyInfoJSON(&v, data)
		}
		if err != nil {
			log.FromContext(ctx).Warn().Err(err).
				Str(log.FieldPath, filepath.Base(f)).
				Msg("metadata sidecar unusable")
		}
		break
	}
	if v.VideoUID == "" {
		v.VideoUID = catalog.CustomUID(path.Join(out.relDir, filepath.Base(media)))
	}

	var assets []catalog.Asset
	var mediaSize int64
	for _, f := range files {
		var size int64
		if st, err := os.Stat(f); err == nil {
			size = st.Size()
		}
		if f == media {
			mediaSize = size
		}
		assets = append(assets, catalog.Asset{
			Kind:      catalog.KindForPath(f),
			LocalPath: path.Join(out.relDir, filepath.Base(f)),
			MimeType:  catalog.MimeForPath(f),
			SizeBytes: size,
		})
	}
	return v, assets, mediaSize
}

// recordArchive appends the item to the archive file when the tool did
// not. Append is idempotent, so double recording is harmless.
func recordArchive(ctx context.Context, deps Deps, req Request, info *extractor.Info) {
	if deps.Archive == nil {
		return
	}
	source, id := info.Extractor, info.ID
	if req.ArchiveID != "" {
		id = req.ArchiveID
	}
	if source == "" || id == "" {
		return
	}
	if err := deps.Archive.Append(source, id); err != nil {
		log.FromContext(ctx).Warn().Err(err).
			Str(log.FieldURL, info.WebpageURL).
			Msg("archive append failed")
	}
}

func archivePath(deps Deps) string {
	if deps.Archive == nil {
		return ""
	}
	return deps.Archive.Path()
}

func checkCollision(out *resolvedOutput) error {
	if _, err := os.Stat(out.probePath); err == nil {
		return fmt.Errorf("%w: %s", ErrDestinationExists, path.Join(out.relDir, filepath.Base(out.probePath)))
	}
	return nil
}

// pace sleeps ahead of playlist item index (1-based boundary). Every item
// waits the item delay; every batchSize-th item additionally waits the
// batch delay. Randomization spreads items to 80-120% and batches to
// 90-110% of the configured pause.
func pace(ctx context.Context, rt *jobs.Runtime, req Request, index int) error {
	d := jitter(secondsDuration(req.DelayBetweenDownloads), req.RandomizeDelay, 0.8, 1.2)
	if req.BatchSize > 0 && index%req.BatchSize == 0 {
		d += jitter(secondsDuration(req.DelayBetweenBatches), req.RandomizeDelay, 0.9, 1.1)
	}
	if d <= 0 {
		return nil
	}
	return rt.Sleep(ctx, d)
}

func secondsDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func jitter(d time.Duration, randomize bool, lo, hi float64) time.Duration {
	if !randomize || d <= 0 {
		return d
	}
	return time.Duration(float64(d) * (lo + rand.Float64()*(hi-lo)))
}

// overallPercent folds one item's percent into the whole job's.
func overallPercent(index, total int, itemPercent float64) float64 {
	if total <= 0 {
		return 0
	}
	if itemPercent < 0 {
		itemPercent = 0
	}
	if itemPercent > 100 {
		itemPercent = 100
	}
	return (float64(index) + itemPercent/100) / float64(total) * 100
}

func displayTitle(info *extractor.Info) string {
	switch {
	case info.Title != "":
		return info.Title
	case info.ID != "":
		return info.ID
	default:
		return "video"
	}
}

func entryName(e extractor.Entry) string {
	switch {
	case e.Title != "":
		return e.Title
	case e.URL != "":
		return e.URL
	default:
		return e.ID
	}
}
