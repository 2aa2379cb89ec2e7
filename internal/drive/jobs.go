// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ManuGH/ytvault/internal/catalog"
	"github.com/ManuGH/ytvault/internal/jobs"
	"github.com/ManuGH/ytvault/internal/types"
)

// Deps bundles what the drive tasks need. Transport is an interface so
// tests can run the publish path against a fake.
type Deps struct {
	Client       *Client
	Catalog      *catalog.Service
	Transport    catalog.SnapshotTransport
	DownloadRoot string
}

// UploadParams configures a drive_upload job.
type UploadParams struct {
	VideoUID string `json:"video_uid"`
}

// UploadBatchParams configures a drive_upload_batch job. An empty list
// means every local-only video.
type UploadBatchParams struct {
	VideoUIDs []string `json:"video_uids,omitempty"`
}

// DownloadParams configures a drive_download job.
type DownloadParams struct {
	VideoUID string `json:"video_uid"`
}

// DownloadBatchParams configures a drive_download_batch job. An empty
// list means every drive-only video.
type DownloadBatchParams struct {
	VideoUIDs []string `json:"video_uids,omitempty"`
}

// CleanupParams configures a drive_cleanup job. FolderIDs are the
// candidate parents a synchronous delete left behind.
type CleanupParams struct {
	FolderIDs []string `json:"folder_ids,omitempty"`
}

// UploadFactory builds the drive_upload task: one local video is
// mirrored to Drive, registered in the catalog and, when enabled, the
// snapshot is republished inline.
func UploadFactory(deps Deps) jobs.Factory {
	return func(params json.RawMessage) (jobs.TaskFunc, error) {
		var p UploadParams
		if err := jobs.DecodeParams(params, &p); err != nil {
			return nil, err
		}
		if p.VideoUID == "" {
			return nil, fmt.Errorf("%w: video_uid required", jobs.ErrInvalidParams)
		}
		return func(ctx context.Context, rt *jobs.Runtime) (*jobs.Result, error) {
			res := jobs.NewResult()
			if err := uploadOne(ctx, rt, deps, p.VideoUID, 0, 1); err != nil {
				res.AddFailure(p.VideoUID, err)
				return res, err
			}
			res.Uploaded = 1
			res.VideoUIDs = []string{p.VideoUID}
			if err := publishInline(ctx, rt, deps, res); err != nil {
				return res, err
			}
			rt.Progress(ctx, jobs.Progress{Percent: jobs.Float64(100)})
			res.Message = fmt.Sprintf("uploaded %s", p.VideoUID)
			return res, nil
		}, nil
	}
}

// UploadBatchFactory builds the drive_upload_batch task. Item failures
// are collected, not fatal; the job only errors when nothing succeeds
// or the publish step fails.
func UploadBatchFactory(deps Deps) jobs.Factory {
	return func(params json.RawMessage) (jobs.TaskFunc, error) {
		var p UploadBatchParams
		if err := jobs.DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return func(ctx context.Context, rt *jobs.Runtime) (*jobs.Result, error) {
			res := jobs.NewResult()
			uids := p.VideoUIDs
			if len(uids) == 0 {
				var err error
				uids, err = syncUIDs(ctx, deps.Catalog.Store(), types.SyncKindLocalOnly)
				if err != nil {
					return nil, err
				}
			}
			total := len(uids)
			rt.Progress(ctx, jobs.Progress{
				Stage: jobs.String("uploading"),
				Total: jobs.Int(total),
			})

			for i, uid := range uids {
				if rt.Cancelled(ctx) {
					return res, jobs.ErrCancelled
				}
				if err := uploadOne(ctx, rt, deps, uid, i, total); err != nil {
					res.AddFailure(uid, err)
				} else {
					res.Uploaded++
					res.VideoUIDs = append(res.VideoUIDs, uid)
				}
				rt.Progress(ctx, jobs.Progress{
					Completed: jobs.Int(res.Uploaded),
					Failed:    jobs.Int(len(res.Failed)),
					Percent:   jobs.Float64(float64(i+1) / float64(total) * 100),
				})
			}
			if res.Uploaded > 0 {
				if err := publishInline(ctx, rt, deps, res); err != nil {
					return res, err
				}
			}
			if res.Uploaded == 0 && len(res.Failed) > 0 {
				return res, fmt.Errorf("all %d uploads failed", len(res.Failed))
			}
			res.Message = fmt.Sprintf("uploaded %d of %d videos", res.Uploaded, total)
			return res, nil
		}, nil
	}
}

// DownloadFactory builds the drive_download task: one drive video is
// fetched into the local library and registered. The snapshot is
// untouched; downloads change nothing on Drive.
func DownloadFactory(deps Deps) jobs.Factory {
	return func(params json.RawMessage) (jobs.TaskFunc, error) {
		var p DownloadParams
		if err := jobs.DecodeParams(params, &p); err != nil {
			return nil, err
		}
		if p.VideoUID == "" {
			return nil, fmt.Errorf("%w: video_uid required", jobs.ErrInvalidParams)
		}
		return func(ctx context.Context, rt *jobs.Runtime) (*jobs.Result, error) {
			res := jobs.NewResult()
			if err := downloadOne(ctx, rt, deps, p.VideoUID, 0, 1); err != nil {
				res.AddFailure(p.VideoUID, err)
				return res, err
			}
			res.Downloaded = 1
			res.VideoUIDs = []string{p.VideoUID}
			rt.Progress(ctx, jobs.Progress{Percent: jobs.Float64(100)})
			res.Message = fmt.Sprintf("downloaded %s", p.VideoUID)
			return res, nil
		}, nil
	}
}

// DownloadBatchFactory builds the drive_download_batch task.
func DownloadBatchFactory(deps Deps) jobs.Factory {
	return func(params json.RawMessage) (jobs.TaskFunc, error) {
		var p DownloadBatchParams
		if err := jobs.DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return func(ctx context.Context, rt *jobs.Runtime) (*jobs.Result, error) {
			res := jobs.NewResult()
			uids := p.VideoUIDs
			if len(uids) == 0 {
				var err error
				uids, err = syncUIDs(ctx, deps.Catalog.Store(), types.SyncKindDriveOnly)
				if err != nil {
					return nil, err
				}
			}
			total := len(uids)
			rt.Progress(ctx, jobs.Progress{
				Stage: jobs.String("downloading"),
				Total: jobs.Int(total),
			})

			for i, uid := range uids {
				if rt.Cancelled(ctx) {
					return res, jobs.ErrCancelled
				}
				if err := downloadOne(ctx, rt, deps, uid, i, total); err != nil {
					res.AddFailure(uid, err)
				} else {
					res.Downloaded++
					res.VideoUIDs = append(res.VideoUIDs, uid)
				}
				rt.Progress(ctx, jobs.Progress{
					Completed: jobs.Int(res.Downloaded),
					Failed:    jobs.Int(len(res.Failed)),
					Percent:   jobs.Float64(float64(i+1) / float64(total) * 100),
				})
			}
			if res.Downloaded == 0 && len(res.Failed) > 0 {
				return res, fmt.Errorf("all %d downloads failed", len(res.Failed))
			}
			res.Message = fmt.Sprintf("downloaded %d of %d videos", res.Downloaded, total)
			return res, nil
		}, nil
	}
}

// CleanupFactory builds the drive_cleanup task: walk the folders a
// delete touched, prune the ones that emptied out and republish the
// snapshot. File deletion and catalog rows are handled synchronously by
// RemoveVideo before this job is enqueued.
func CleanupFactory(deps Deps) jobs.Factory {
	return func(params json.RawMessage) (jobs.TaskFunc, error) {
		var p CleanupParams
		if err := jobs.DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return func(ctx context.Context, rt *jobs.Runtime) (*jobs.Result, error) {
			res := jobs.NewResult()
			rt.Progress(ctx, jobs.Progress{
				Stage:   jobs.String("cleaning_folders"),
				Percent: jobs.Float64(0),
			})

			err := rt.Blocking(ctx, types.PoolDrive, func(ctx context.Context) error {
				folders, err := deps.Client.CleanupEmptyFolders(ctx, p.FolderIDs)
				res.DeletedFolders = folders
				return err
			})
			if err != nil {
				return res, err
			}

			if err := publishInline(ctx, rt, deps, res); err != nil {
				return res, err
			}
			rt.Progress(ctx, jobs.Progress{Percent: jobs.Float64(100)})
			res.Message = fmt.Sprintf("removed %d empty folders", len(res.DeletedFolders))
			return res, nil
		}, nil
	}
}

// uploadOne mirrors a single video and registers the drive rows.
// index/total position the item inside the batch so the overall
// percent stays monotonic across items.
func uploadOne(ctx context.Context, rt *jobs.Runtime, deps Deps, uid string, index, total int) error {
	v, err := deps.Catalog.Store().GetVideo(ctx, uid, types.LocationLocal)
	if err != nil {
		return err
	}

	var gate jobs.ProgressGate
	meter := newTransferMeter()
	cb := func(done, size int64) {
		overall := batchPercent(index, total, done, size)
		if !gate.ShouldEmit(overall, "uploading") {
			return
		}
		delta := jobs.Progress{
			Percent:     jobs.Float64(overall),
			Stage:       jobs.String("uploading"),
			CurrentFile: jobs.String(v.Title),
		}
		if speed, eta := meter.rates(done, size); speed != "" {
			delta.Speed = jobs.String(speed)
			if eta >= 0 {
				delta.ETASeconds = jobs.Int(eta)
			}
		}
		rt.Progress(ctx, delta)
	}

	var assets []catalog.Asset
	err = rt.Blocking(ctx, types.PoolDrive, func(ctx context.Context) error {
		var err error
		assets, err = deps.Client.UploadVideo(ctx, deps.DownloadRoot, *v, cb)
		return err
	})
	if err != nil {
		return err
	}

	driveRow := v.Video
	driveRow.Location = types.LocationDrive
	driveRow.Status = types.VideoStatusAvailable
	driveRow.ExtraJSON = "{}"
	return deps.Catalog.Register(ctx, driveRow, assets)
}

// downloadOne fetches a single drive video and registers the local rows.
func downloadOne(ctx context.Context, rt *jobs.Runtime, deps Deps, uid string, index, total int) error {
	v, err := deps.Catalog.Store().GetVideo(ctx, uid, types.LocationDrive)
	if err != nil {
		return err
	}

	var gate jobs.ProgressGate
	meter := newTransferMeter()
	cb := func(done, size int64) {
		overall := batchPercent(index, total, done, size)
		if !gate.ShouldEmit(overall, "downloading") {
			return
		}
		delta := jobs.Progress{
			Percent:     jobs.Float64(overall),
			Stage:       jobs.String("downloading"),
			CurrentFile: jobs.String(v.Title),
		}
		if speed, eta := meter.rates(done, size); speed != "" {
			delta.Speed = jobs.String(speed)
			if eta >= 0 {
				delta.ETASeconds = jobs.Int(eta)
			}
		}
		rt.Progress(ctx, delta)
	}

	var assets []catalog.Asset
	err = rt.Blocking(ctx, types.PoolDrive, func(ctx context.Context) error {
		var err error
		assets, err = deps.Client.DownloadVideo(ctx, deps.DownloadRoot, *v, cb)
		return err
	})
	if err != nil {
		return err
	}

	localRow := v.Video
	localRow.Location = types.LocationLocal
	localRow.Status = types.VideoStatusAvailable
	localRow.ExtraJSON = "{}"
	return deps.Catalog.Register(ctx, localRow, assets)
}

// publishInline republishes the snapshot after a drive-side mutation
// when auto publish is on. The mutation itself already succeeded, so
// the partial result is kept even when publishing fails.
func publishInline(ctx context.Context, rt *jobs.Runtime, deps Deps, res *jobs.Result) error {
	if !deps.Catalog.AutoPublishEnabled() {
		return nil
	}
	rt.Progress(ctx, jobs.Progress{Stage: jobs.String("publishing")})
	pub, err := deps.Catalog.Publish(ctx, deps.Transport)
	if err != nil {
		return fmt.Errorf("publish after mutation: %w", err)
	}
	res.SnapshotRevision = pub.Revision
	return nil
}

// parentFolders resolves the folders holding a video's files. Assets
// already gone from Drive are skipped; an empty result just means no
// folder cleanup.
func parentFolders(ctx context.Context, client *Client, assets []catalog.Asset) []string {
	seen := make(map[string]struct{})
	var seeds []string
	for _, a := range assets {
		if a.DriveFileID == "" {
			continue
		}
		meta, err := client.GetFile(ctx, a.DriveFileID)
		if err != nil {
			continue
		}
		for _, p := range meta.Parents {
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			seeds = append(seeds, p)
		}
	}
	return seeds
}

// syncUIDs pages through the sync listing and returns every uid of the
// given kind.
func syncUIDs(ctx context.Context, store *catalog.Store, kind types.SyncKind) ([]string, error) {
	var uids []string
	for page := 1; ; page++ {
		rows, total, err := store.SyncItems(ctx, kind, page, 500)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			uids = append(uids, r.VideoUID)
		}
		if len(rows) == 0 || len(uids) >= total {
			return uids, nil
		}
	}
}

// batchPercent folds per-file byte progress into a monotonic overall
// percent for an n-item batch.
func batchPercent(index, total int, done, size int64) float64 {
	frac := 0.0
	if size > 0 {
		frac = float64(done) / float64(size)
		if frac > 1 {
			frac = 1
		}
	}
	return (float64(index) + frac) / float64(total) * 100
}

// transferMeter derives human-readable throughput from bytes moved
// since the transfer began.
type transferMeter struct {
	start time.Time
}

func newTransferMeter() *transferMeter {
	return &transferMeter{start: time.Now()}
}

// rates returns a speed string and an ETA in seconds, or ("", -1) when
// not enough has happened to measure.
func (m *transferMeter) rates(done, size int64) (string, int) {
	elapsed := time.Since(m.start).Seconds()
	if elapsed < 0.5 || done <= 0 {
		return "", -1
	}
	bps := float64(done) / elapsed
	speed := fmt.Sprintf("%.1f MiB/s", bps/(1<<20))
	if size > done && bps > 0 {
		return speed, int(float64(size-done) / bps)
	}
	return speed, -1
}
