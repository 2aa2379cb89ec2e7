// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package drive

import (
	"context"
	"errors"
	"fmt"

	drivev3 "google.golang.org/api/drive/v3"

	"github.com/ManuGH/ytvault/internal/catalog"
	"github.com/ManuGH/ytvault/internal/log"
)

// CleanupEmptyFolders walks upward from each seed folder, deleting
// folders that have become empty, until it hits a non-empty folder,
// the archive root or the reserved catalog folder. Returns the names
// of deleted folders in deletion order.
func (c *Client) CleanupEmptyFolders(ctx context.Context, seedFolderIDs []string) ([]string, error) {
	rootID, err := c.RootFolderID(ctx)
	if err != nil {
		return nil, err
	}

	var deleted []string
	visited := make(map[string]bool)
	for _, seed := range seedFolderIDs {
		id := seed
		for id != "" && id != rootID && !visited[id] {
			visited[id] = true
			meta, err := c.GetFile(ctx, id)
			if errors.Is(err, ErrNotFound) {
				break
			}
			if err != nil {
				return deleted, err
			}
			if meta.MimeType != folderMimeType || meta.Name == catalog.ReservedFolderName {
				break
			}
			empty, err := c.folderEmpty(ctx, id)
			if err != nil {
				return deleted, err
			}
			if !empty {
				break
			}
			if err := c.Delete(ctx, id); err != nil {
				return deleted, err
			}
			c.dropFolderCache(meta)
			deleted = append(deleted, meta.Name)
			c.logger.Info().Str(log.FieldEvent, "drive.folder_removed").
				Str("folder", meta.Name).Str(log.FieldDriveFileID, id).Msg("removed empty folder")
			if len(meta.Parents) == 0 {
				break
			}
			id = meta.Parents[0]
		}
	}
	return deleted, nil
}

// folderEmpty checks emptiness with a single-item listing.
func (c *Client) folderEmpty(ctx context.Context, folderID string) (bool, error) {
	var count int
	err := c.retryGet(ctx, "folder_probe", func() error {
		list, err := c.svc.Files.List().
			Q(childrenQuery(folderID)).
			Fields("files(id)").
			PageSize(1).
			Context(ctx).Do()
		if err != nil {
			return err
		}
		count = len(list.Files)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("probe folder %s: %w", folderID, err)
	}
	return count == 0, nil
}

// dropFolderCache removes the cached lookup entries for a deleted
// folder so a later EnsureFolder recreates it instead of returning a
// dangling ID.
func (c *Client) dropFolderCache(meta *drivev3.File) {
	for _, parent := range meta.Parents {
		c.folders.Delete(parent + "/" + meta.Name)
	}
}
