// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package drive

import (
	"context"
	"fmt"

	"github.com/ManuGH/ytvault/internal/types"
)

// RemoveResult reports the synchronous half of a drive delete.
type RemoveResult struct {
	VideoUID     string
	DeletedFiles int

	// ParentFolders are the folders that held the deleted files. They
	// are candidates for the drive_cleanup job's empty-folder walk.
	ParentFolders []string
}

// RemoveVideo deletes every drive file belonging to uid and drops the
// drive catalog rows. Folder pruning and snapshot publishing stay with
// the drive_cleanup job so the caller can answer right away.
//
// On partial failure the catalog rows are kept; a retry converges
// because already-missing files count as deleted.
func RemoveVideo(ctx context.Context, deps Deps, uid string) (*RemoveResult, error) {
	v, err := deps.Catalog.Store().GetVideo(ctx, uid, types.LocationDrive)
	if err != nil {
		return nil, err
	}

	var fileIDs []string
	for _, a := range v.Assets {
		if a.DriveFileID != "" {
			fileIDs = append(fileIDs, a.DriveFileID)
		}
	}
	seeds := parentFolders(ctx, deps.Client, v.Assets)

	deleted, failures := deps.Client.DeleteBatch(ctx, fileIDs)
	res := &RemoveResult{VideoUID: uid, DeletedFiles: deleted, ParentFolders: seeds}
	if len(failures) > 0 {
		return res, fmt.Errorf("%d of %d files not deleted: %w", len(failures), len(fileIDs), failures[0].Err)
	}

	if err := deps.Catalog.Unregister(ctx, uid, types.LocationDrive); err != nil {
		return res, err
	}
	return res, nil
}
