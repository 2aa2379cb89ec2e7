// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package drive

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	drivev3 "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"

	"github.com/ManuGH/ytvault/internal/catalog"
)

const snapshotContentType = "application/gzip"

// SnapshotStore keeps the published catalog inside the reserved
// .catalog folder on Drive. The file's head revision ID serves as the
// optimistic concurrency token: a publisher that saw revision X only
// writes while the head is still X. Drive v3 offers no server-side
// compare-and-swap on media, so the compare happens client-side and
// lost races surface as ErrPreconditionFailed for the catalog layer
// to merge and retry.
type SnapshotStore struct {
	client *Client
}

func NewSnapshotStore(client *Client) *SnapshotStore {
	return &SnapshotStore{client: client}
}

var _ catalog.SnapshotTransport = (*SnapshotStore)(nil)

func (t *SnapshotStore) catalogFolder(ctx context.Context) (string, error) {
	rootID, err := t.client.RootFolderID(ctx)
	if err != nil {
		return "", err
	}
	return t.client.EnsureFolder(ctx, rootID, catalog.ReservedFolderName)
}

// FetchSnapshot downloads the published snapshot plus its revision
// token. Returns catalog.ErrSnapshotMissing when nothing was ever
// published.
func (t *SnapshotStore) FetchSnapshot(ctx context.Context) ([]byte, string, string, error) {
	folderID, err := t.catalogFolder(ctx)
	if err != nil {
		return nil, "", "", err
	}
	f, err := t.client.FindFile(ctx, folderID, catalog.SnapshotFileName)
	if errors.Is(err, ErrNotFound) {
		return nil, "", "", catalog.ErrSnapshotMissing
	}
	if err != nil {
		return nil, "", "", err
	}
	revision, err := t.headRevision(ctx, f.Id)
	if err != nil {
		return nil, "", "", err
	}
	data, err := t.client.ReadAll(ctx, f.Id)
	if err != nil {
		return nil, "", "", err
	}
	return data, revision, f.Id, nil
}

// StoreSnapshot uploads a new snapshot. A non-empty precondRevision
// demands that the remote head revision still matches; otherwise the
// write is refused with catalog.ErrPreconditionFailed. An empty
// precondRevision creates or overwrites unconditionally.
func (t *SnapshotStore) StoreSnapshot(ctx context.Context, data []byte, precondRevision string) (string, string, error) {
	folderID, err := t.catalogFolder(ctx)
	if err != nil {
		return "", "", err
	}
	existing, err := t.client.FindFile(ctx, folderID, catalog.SnapshotFileName)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", "", err
	}
	if precondRevision != "" {
		if existing == nil {
			return "", "", fmt.Errorf("%w: snapshot deleted remotely", catalog.ErrPreconditionFailed)
		}
		head, err := t.headRevision(ctx, existing.Id)
		if err != nil {
			return "", "", err
		}
		if head != precondRevision {
			return "", "", fmt.Errorf("%w: head revision %s, expected %s",
				catalog.ErrPreconditionFailed, head, precondRevision)
		}
	}

	var stored *drivev3.File
	err = t.client.do(ctx, "snapshot_store", func() error {
		var err error
		if existing != nil {
			stored, err = t.client.svc.Files.Update(existing.Id, &drivev3.File{Name: catalog.SnapshotFileName}).
				Media(bytes.NewReader(data), googleapi.ContentType(snapshotContentType)).
				Fields("id, headRevisionId").
				Context(ctx).Do()
		} else {
			stored, err = t.client.svc.Files.Create(&drivev3.File{
				Name:     catalog.SnapshotFileName,
				Parents:  []string{folderID},
				MimeType: snapshotContentType,
			}).
				Media(bytes.NewReader(data), googleapi.ContentType(snapshotContentType)).
				Fields("id, headRevisionId").
				Context(ctx).Do()
		}
		return err
	})
	if err != nil {
		return "", "", fmt.Errorf("store snapshot: %w", err)
	}
	return stored.HeadRevisionId, stored.Id, nil
}

func (t *SnapshotStore) headRevision(ctx context.Context, fileID string) (string, error) {
	var f *drivev3.File
	err := t.client.retryGet(ctx, "snapshot_head", func() error {
		var err error
		f, err = t.client.svc.Files.Get(fileID).Fields("headRevisionId").Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", fmt.Errorf("head revision of %s: %w", fileID, err)
	}
	return f.HeadRevisionId, nil
}
