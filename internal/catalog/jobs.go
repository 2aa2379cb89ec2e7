// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package catalog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ManuGH/ytvault/internal/jobs"
)

// PublishParams configures a catalog_publish job. Empty today; kept as a
// struct so the wire contract can grow without breaking submitters.
type PublishParams struct{}

// ImportParams configures a catalog_import job.
type ImportParams struct{}

// RebuildParams configures a catalog_rebuild job.
type RebuildParams struct {
	// PublishAfter uploads a fresh snapshot once the rebuild lands.
	PublishAfter bool `json:"publish_after,omitempty"`
}

// PublishFactory builds the catalog_publish task.
func PublishFactory(svc *Service, transport SnapshotTransport) jobs.Factory {
	return func(params json.RawMessage) (jobs.TaskFunc, error) {
		if err := jobs.DecodeParams(params, &PublishParams{}); err != nil {
			return nil, err
		}
		return func(ctx context.Context, rt *jobs.Runtime) (*jobs.Result, error) {
			rt.Progress(ctx, jobs.Progress{
				Stage:   jobs.String("publishing"),
				Percent: jobs.Float64(0),
			})

			pub, err := svc.Publish(ctx, transport)
			if err != nil {
				return nil, err
			}

			rt.Progress(ctx, jobs.Progress{Percent: jobs.Float64(100)})
			result := jobs.NewResult()
			result.Completed = pub.Videos
			result.SnapshotRevision = pub.Revision
			result.Message = fmt.Sprintf("published %d videos in %d attempt(s)", pub.Videos, pub.Attempts)
			return result, nil
		}, nil
	}
}

// ImportFactory builds the catalog_import task.
func ImportFactory(svc *Service, transport SnapshotTransport) jobs.Factory {
	return func(params json.RawMessage) (jobs.TaskFunc, error) {
		if err := jobs.DecodeParams(params, &ImportParams{}); err != nil {
			return nil, err
		}
		return func(ctx context.Context, rt *jobs.Runtime) (*jobs.Result, error) {
			rt.Progress(ctx, jobs.Progress{
				Stage:   jobs.String("importing"),
				Percent: jobs.Float64(0),
			})

			snap, err := svc.ImportDrive(ctx, transport)
			if err != nil {
				return nil, err
			}

			rt.Progress(ctx, jobs.Progress{Percent: jobs.Float64(100)})
			result := jobs.NewResult()
			result.Completed = len(snap.Videos)
			result.Message = fmt.Sprintf("imported %d videos", len(snap.Videos))
			return result, nil
		}, nil
	}
}

// RebuildFactory builds the catalog_rebuild task.
func RebuildFactory(svc *Service, lister DriveLister, transport SnapshotTransport) jobs.Factory {
	return func(params json.RawMessage) (jobs.TaskFunc, error) {
		var p RebuildParams
		if err := jobs.DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return func(ctx context.Context, rt *jobs.Runtime) (*jobs.Result, error) {
			rt.Progress(ctx, jobs.Progress{
				Stage:   jobs.String("listing"),
				Percent: jobs.Float64(0),
			})

			res, err := svc.Rebuild(ctx, lister, transport, p.PublishAfter)
			if err != nil {
				return nil, err
			}

			rt.Progress(ctx, jobs.Progress{Percent: jobs.Float64(100)})
			result := jobs.NewResult()
			result.Completed = res.Videos
			if res.Publish != nil {
				result.SnapshotRevision = res.Publish.Revision
			}
			result.Message = fmt.Sprintf("rebuilt %d videos (published: %t)", res.Videos, res.Published)
			return result, nil
		}, nil
	}
}
