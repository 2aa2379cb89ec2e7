// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package drive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	drivev3 "google.golang.org/api/drive/v3"

	"github.com/ManuGH/ytvault/internal/catalog"
	"github.com/ManuGH/ytvault/internal/log"
	"github.com/ManuGH/ytvault/internal/types"
)

// ShareStatus describes the public link state of one file.
type ShareStatus struct {
	Shared       bool   `json:"shared"`
	PermissionID string `json:"permission_id,omitempty"`
	ViewLink     string `json:"view_link,omitempty"`
	DownloadLink string `json:"download_link,omitempty"`
}

// Share grants anyone-with-the-link read access to fileID and returns
// the resulting links. Sharing twice is harmless; Drive returns the
// existing permission.
func (c *Client) Share(ctx context.Context, fileID string) (*ShareStatus, error) {
	var perm *drivev3.Permission
	err := c.do(ctx, "share", func() error {
		var err error
		perm, err = c.svc.Permissions.Create(fileID, &drivev3.Permission{
			Type: "anyone",
			Role: "reader",
		}).Fields("id").Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("share %s: %w", fileID, err)
	}
	links, err := c.fileLinks(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return &ShareStatus{
		Shared:       true,
		PermissionID: perm.Id,
		ViewLink:     links.WebViewLink,
		DownloadLink: links.WebContentLink,
	}, nil
}

// Unshare revokes the anyone permission. When permissionID is empty
// the permission list is consulted first. Already-revoked permissions
// are treated as success.
func (c *Client) Unshare(ctx context.Context, fileID, permissionID string) error {
	if permissionID == "" {
		perm, err := c.anyonePermission(ctx, fileID)
		if err != nil {
			return err
		}
		if perm == nil {
			return nil
		}
		permissionID = perm.Id
	}
	err := c.do(ctx, "unshare", func() error {
		return c.svc.Permissions.Delete(fileID, permissionID).Context(ctx).Do()
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("unshare %s: %w", fileID, err)
	}
	return nil
}

// ShareStatusLive queries Drive for the current permission state.
func (c *Client) ShareStatusLive(ctx context.Context, fileID string) (*ShareStatus, error) {
	perm, err := c.anyonePermission(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if perm == nil {
		return &ShareStatus{}, nil
	}
	links, err := c.fileLinks(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return &ShareStatus{
		Shared:       true,
		PermissionID: perm.Id,
		ViewLink:     links.WebViewLink,
		DownloadLink: links.WebContentLink,
	}, nil
}

func (c *Client) anyonePermission(ctx context.Context, fileID string) (*drivev3.Permission, error) {
	var list *drivev3.PermissionList
	err := c.retryGet(ctx, "permission_list", func() error {
		var err error
		list, err = c.svc.Permissions.List(fileID).
			Fields("permissions(id, type, role)").
			Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list permissions of %s: %w", fileID, err)
	}
	for _, p := range list.Permissions {
		if p.Type == "anyone" {
			return p, nil
		}
	}
	return nil, nil
}

func (c *Client) fileLinks(ctx context.Context, fileID string) (*drivev3.File, error) {
	var f *drivev3.File
	err := c.retryGet(ctx, "file_links", func() error {
		var err error
		f, err = c.svc.Files.Get(fileID).
			Fields("webViewLink, webContentLink").
			Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("links of %s: %w", fileID, err)
	}
	return f, nil
}

// shareExtraKey is where the share state lives inside a drive video's
// extra_json. Snapshots do not carry extra_json, so after an import
// the state is rebuilt lazily from a live permission query.
const shareExtraKey = "share"

// ShareService couples link management with the catalog so the
// permission ID survives restarts without an API call per status
// check.
type ShareService struct {
	client *Client
	store  *catalog.Store
}

func NewShareService(client *Client, store *catalog.Store) *ShareService {
	return &ShareService{client: client, store: store}
}

// Share makes the video's media file public and records the
// permission in the catalog.
func (s *ShareService) Share(ctx context.Context, videoUID string) (*ShareStatus, error) {
	v, fileID, err := s.driveMedia(ctx, videoUID)
	if err != nil {
		return nil, err
	}
	st, err := s.client.Share(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if err := s.writeExtra(ctx, v, st); err != nil {
		return nil, err
	}
	s.client.logger.Info().Str(log.FieldEvent, "drive.shared").
		Str(log.FieldVideoUID, videoUID).Str(log.FieldDriveFileID, fileID).Msg("video shared")
	return st, nil
}

// Unshare revokes the public link and clears the cached state.
func (s *ShareService) Unshare(ctx context.Context, videoUID string) error {
	v, fileID, err := s.driveMedia(ctx, videoUID)
	if err != nil {
		return err
	}
	cached := shareFromExtra(v.ExtraJSON)
	permID := ""
	if cached != nil {
		permID = cached.PermissionID
	}
	if err := s.client.Unshare(ctx, fileID, permID); err != nil {
		return err
	}
	if err := s.writeExtra(ctx, v, nil); err != nil {
		return err
	}
	s.client.logger.Info().Str(log.FieldEvent, "drive.unshared").
		Str(log.FieldVideoUID, videoUID).Str(log.FieldDriveFileID, fileID).Msg("video unshared")
	return nil
}

// Status returns the cached share state when present, otherwise asks
// Drive and backfills the cache.
func (s *ShareService) Status(ctx context.Context, videoUID string) (*ShareStatus, error) {
	v, fileID, err := s.driveMedia(ctx, videoUID)
	if err != nil {
		return nil, err
	}
	if cached := shareFromExtra(v.ExtraJSON); cached != nil {
		return cached, nil
	}
	st, err := s.client.ShareStatusLive(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if st.Shared {
		if err := s.writeExtra(ctx, v, st); err != nil {
			return nil, err
		}
	}
	return st, nil
}

func (s *ShareService) driveMedia(ctx context.Context, videoUID string) (*catalog.VideoWithAssets, string, error) {
	v, err := s.store.GetVideo(ctx, videoUID, types.LocationDrive)
	if err != nil {
		return nil, "", err
	}
	media, _ := splitAssets(v.Assets)
	if media == nil || media.DriveFileID == "" {
		return nil, "", fmt.Errorf("video %s has no drive media asset", videoUID)
	}
	return v, media.DriveFileID, nil
}

func (s *ShareService) writeExtra(ctx context.Context, v *catalog.VideoWithAssets, st *ShareStatus) error {
	extra, err := setShareExtra(v.ExtraJSON, st)
	if err != nil {
		return err
	}
	if err := s.store.UpdateExtraJSON(ctx, v.VideoUID, types.LocationDrive, extra); err != nil {
		return fmt.Errorf("persist share state: %w", err)
	}
	return nil
}

// shareFromExtra extracts a cached ShareStatus, or nil when absent or
// unreadable.
func shareFromExtra(extraJSON string) *ShareStatus {
	if extraJSON == "" {
		return nil
	}
	var extra map[string]json.RawMessage
	if err := json.Unmarshal([]byte(extraJSON), &extra); err != nil {
		return nil
	}
	raw, ok := extra[shareExtraKey]
	if !ok {
		return nil
	}
	var st ShareStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil
	}
	if st.PermissionID == "" {
		return nil
	}
	st.Shared = true
	return &st
}

// setShareExtra sets or clears the share key while preserving every
// other key in extra_json.
func setShareExtra(extraJSON string, st *ShareStatus) (string, error) {
	extra := map[string]json.RawMessage{}
	if extraJSON != "" {
		if err := json.Unmarshal([]byte(extraJSON), &extra); err != nil {
			extra = map[string]json.RawMessage{}
		}
	}
	if st == nil {
		delete(extra, shareExtraKey)
	} else {
		raw, err := json.Marshal(st)
		if err != nil {
			return "", fmt.Errorf("encode share state: %w", err)
		}
		extra[shareExtraKey] = raw
	}
	out, err := json.Marshal(extra)
	if err != nil {
		return "", fmt.Errorf("encode extra: %w", err)
	}
	return string(out), nil
}
