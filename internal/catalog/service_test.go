// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/ytvault/internal/types"
)

// fakeTransport is an in-memory snapshot store with a revision counter.
// onStore runs once at the top of the next StoreSnapshot call, simulating
// another machine publishing inside the race window.
type fakeTransport struct {
	mu       sync.Mutex
	data     []byte
	revision int
	failAll  bool
	onStore  func(f *fakeTransport)
}

func (f *fakeTransport) rev() string {
	if f.data == nil {
		return ""
	}
	return fmt.Sprintf("r%d", f.revision)
}

func (f *fakeTransport) FetchSnapshot(_ context.Context) ([]byte, string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data == nil {
		return nil, "", "", ErrSnapshotMissing
	}
	return f.data, f.rev(), "snap-file-1", nil
}

func (f *fakeTransport) StoreSnapshot(_ context.Context, data []byte, precond string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.onStore != nil {
		hook := f.onStore
		f.onStore = nil
		hook(f)
	}
	if f.failAll {
		return "", "", ErrPreconditionFailed
	}
	if precond != "" && precond != f.rev() {
		return "", "", ErrPreconditionFailed
	}
	f.data = data
	f.revision++
	return f.rev(), "snap-file-1", nil
}

// seed replaces the remote artifact without going through the service.
func (f *fakeTransport) seed(t *testing.T, revision int, rows ...VideoWithAssets) {
	t.Helper()
	data, err := BuildSnapshot(rows).Encode()
	if err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}
	f.mu.Lock()
	f.data = data
	f.revision = revision
	f.mu.Unlock()
}

type fakeLister struct {
	rows []VideoWithAssets
	err  error
}

func (f *fakeLister) ListLibrary(_ context.Context) ([]VideoWithAssets, error) {
	return f.rows, f.err
}

func newTestService(t *testing.T, opts Options) *Service {
	t.Helper()
	if opts.Store == nil {
		opts.Store = newTestStore(t)
	}
	opts.Logger = zerolog.Nop()
	return NewService(opts)
}

func TestPublishFirstEver(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, Options{Store: store})
	ctx := context.Background()

	modified := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	if err := store.RegisterVideo(ctx, driveRow("yt:v1", "Only One", modified).Video, []Asset{
		{Kind: types.AssetKindVideo, DriveFileID: "f1", MimeType: "video/mp4"},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	transport := &fakeTransport{}
	result, err := svc.Publish(ctx, transport)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if result.Videos != 1 || result.Attempts != 1 || result.Merged {
		t.Errorf("result = %+v", result)
	}
	if result.Revision != "r1" {
		t.Errorf("revision = %q, want r1", result.Revision)
	}

	snap, err := DecodeSnapshot(transport.data)
	if err != nil {
		t.Fatalf("decode published: %v", err)
	}
	if len(snap.Videos) != 1 || snap.Videos[0].VideoUID != "yt:v1" {
		t.Errorf("published = %+v", snap.Videos)
	}

	state, err := store.GetState(ctx, types.LocationDrive)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.LastPublishedAt == nil || state.DriveCatalogRevision != "r1" {
		t.Errorf("state = %+v", state)
	}
}

func TestPublishMergesOnPrecondition(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, Options{Store: store})
	ctx := context.Background()

	t1 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	// This machine knows yt:common and its own addition yt:v2.
	for _, row := range []VideoWithAssets{
		driveRow("yt:common", "Shared", t1, Asset{Kind: types.AssetKindVideo, DriveFileID: "c1", MimeType: "video/mp4"}),
		driveRow("yt:v2", "Mine", t1.Add(2*time.Hour), Asset{Kind: types.AssetKindVideo, DriveFileID: "m1", MimeType: "video/mp4"}),
	} {
		if err := store.RegisterVideo(ctx, row.Video, row.Assets); err != nil {
			t.Fatalf("seed store: %v", err)
		}
	}

	// Remote is at r2 with yt:common and the other machine's yt:v1.
	transport := &fakeTransport{}
	transport.seed(t, 2,
		driveRow("yt:common", "Shared", t1, Asset{Kind: types.AssetKindVideo, DriveFileID: "c1", MimeType: "video/mp4"}),
		driveRow("yt:v1", "Theirs", t1.Add(time.Hour), Asset{Kind: types.AssetKindVideo, DriveFileID: "t1", MimeType: "video/mp4"}),
	)

	// The other machine republishes inside our race window, moving r2 to r3.
	transport.onStore = func(f *fakeTransport) {
		f.revision++
	}

	result, err := svc.Publish(ctx, transport)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !result.Merged || result.Attempts != 2 {
		t.Errorf("result = %+v, want merged in 2 attempts", result)
	}

	snap, err := DecodeSnapshot(transport.data)
	if err != nil {
		t.Fatalf("decode published: %v", err)
	}
	var uids []string
	for _, v := range snap.Videos {
		uids = append(uids, v.VideoUID)
	}
	sort.Strings(uids)
	if diff := cmp.Diff([]string{"yt:common", "yt:v1", "yt:v2"}, uids); diff != "" {
		t.Errorf("published uids (-want +got):\n%s", diff)
	}

	// The merge also landed locally.
	if _, err := store.GetVideo(ctx, "yt:v1", types.LocationDrive); err != nil {
		t.Errorf("merged row missing locally: %v", err)
	}

	state, err := store.GetState(ctx, types.LocationDrive)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.DriveCatalogRevision != "r4" {
		t.Errorf("final revision = %q, want r4", state.DriveCatalogRevision)
	}
}

func TestPublishGivesUpAfterBoundedRetries(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, Options{Store: store})
	ctx := context.Background()

	transport := &fakeTransport{failAll: true}
	transport.seed(t, 1, driveRow("yt:v1", "Contested", time.Now().UTC()))

	_, err := svc.Publish(ctx, transport)
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed after retries, got: %v", err)
	}
}

func TestPublishRequireImportRefusesStaleState(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, Options{Store: store, RequireImport: true})
	ctx := context.Background()

	transport := &fakeTransport{}
	transport.seed(t, 5, driveRow("yt:v1", "Remote", time.Now().UTC()))

	// Last import saw r4; remote is r5 now.
	if err := store.MarkImported(ctx, types.LocationDrive, "snap-file-1", "r4"); err != nil {
		t.Fatalf("mark imported: %v", err)
	}

	_, err := svc.Publish(ctx, transport)
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected refusal, got: %v", err)
	}

	// After a matching import the same publish goes through.
	if _, err := svc.ImportDrive(ctx, transport); err != nil {
		t.Fatalf("import: %v", err)
	}
	if _, err := svc.Publish(ctx, transport); err != nil {
		t.Fatalf("publish after import: %v", err)
	}
}

func TestImportDriveReplacesRows(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, Options{Store: store})
	ctx := context.Background()

	// A stale drive row that the import must remove.
	if err := store.RegisterVideo(ctx, testVideo("yt:stale", types.LocationDrive), nil); err != nil {
		t.Fatalf("seed: %v", err)
	}

	modified := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	transport := &fakeTransport{}
	transport.seed(t, 7,
		driveRow("yt:v1", "Imported", modified, Asset{Kind: types.AssetKindVideo, DriveFileID: "f1", MimeType: "video/mp4"}),
	)

	snap, err := svc.ImportDrive(ctx, transport)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(snap.Videos) != 1 {
		t.Fatalf("snapshot videos = %d", len(snap.Videos))
	}

	if _, err := store.GetVideo(ctx, "yt:stale", types.LocationDrive); !errors.Is(err, ErrNotFound) {
		t.Errorf("stale row survived import: %v", err)
	}
	got, err := store.GetVideo(ctx, "yt:v1", types.LocationDrive)
	if err != nil {
		t.Fatalf("imported row: %v", err)
	}
	if got.Title != "Imported" || got.Assets[0].DriveFileID != "f1" {
		t.Errorf("imported row = %+v", got)
	}

	state, err := store.GetState(ctx, types.LocationDrive)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.LastImportedAt == nil || state.DriveCatalogRevision != "r7" {
		t.Errorf("state = %+v", state)
	}
}

func TestImportDriveMissingSnapshot(t *testing.T) {
	svc := newTestService(t, Options{})

	_, err := svc.ImportDrive(context.Background(), &fakeTransport{})
	if !errors.Is(err, ErrSnapshotMissing) {
		t.Fatalf("expected ErrSnapshotMissing, got: %v", err)
	}
}

// Publishing from one catalog and importing into a fresh one must
// reproduce the drive subset exactly.
func TestSnapshotRoundTripAcrossStores(t *testing.T) {
	source := newTestStore(t)
	sourceSvc := newTestService(t, Options{Store: source})
	ctx := context.Background()

	modified := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	rows := []VideoWithAssets{
		driveRow("yt:v1", "First", modified,
			Asset{Kind: types.AssetKindVideo, DriveFileID: "f1", MimeType: "video/mp4"},
			Asset{Kind: types.AssetKindThumbnail, DriveFileID: "f2", MimeType: "image/jpeg"},
		),
		driveRow("yt:v2", "Second", modified.Add(time.Hour),
			Asset{Kind: types.AssetKindVideo, DriveFileID: "f3", MimeType: "video/webm"},
		),
	}
	for _, row := range rows {
		if err := source.RegisterVideo(ctx, row.Video, row.Assets); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	// Local rows never travel through the snapshot.
	if err := source.RegisterVideo(ctx, testVideo("yt:localonly", types.LocationLocal), nil); err != nil {
		t.Fatalf("seed local: %v", err)
	}

	transport := &fakeTransport{}
	if _, err := sourceSvc.Publish(ctx, transport); err != nil {
		t.Fatalf("publish: %v", err)
	}

	dest := newTestStore(t)
	destSvc := newTestService(t, Options{Store: dest})
	if _, err := destSvc.ImportDrive(ctx, transport); err != nil {
		t.Fatalf("import: %v", err)
	}

	if diff := cmp.Diff(snapshotView(t, source), snapshotView(t, dest)); diff != "" {
		t.Errorf("catalogs differ after round-trip (-source +dest):\n%s", diff)
	}
	if n, _ := dest.CountVideos(ctx, types.LocationLocal); n != 0 {
		t.Errorf("local rows leaked through the snapshot: %d", n)
	}
}

// snapshotView reduces the drive rows to the fields the snapshot carries.
func snapshotView(t *testing.T, store *Store) map[string][]string {
	t.Helper()
	rows, err := store.ListLocationRows(context.Background(), types.LocationDrive)
	if err != nil {
		t.Fatalf("list rows: %v", err)
	}
	view := make(map[string][]string, len(rows))
	for _, row := range rows {
		entry := []string{row.Title, row.Channel, fmt.Sprint(row.DurationSeconds)}
		var assets []string
		for _, a := range row.Assets {
			assets = append(assets, fmt.Sprintf("%s|%s|%s", a.Kind, a.DriveFileID, a.MimeType))
		}
		sort.Strings(assets)
		view[row.VideoUID] = append(entry, assets...)
	}
	return view
}

func TestRebuildReplacesAndPublishes(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, Options{Store: store})
	ctx := context.Background()

	if err := store.RegisterVideo(ctx, testVideo("yt:stale", types.LocationDrive), nil); err != nil {
		t.Fatalf("seed: %v", err)
	}

	lister := &fakeLister{rows: []VideoWithAssets{
		driveRow("yt:live1", "Live One", time.Now().UTC(),
			Asset{Kind: types.AssetKindVideo, DriveFileID: "live-f1", MimeType: "video/mp4"}),
		driveRow("yt:live2", "Live Two", time.Now().UTC()),
	}}
	transport := &fakeTransport{}

	result, err := svc.Rebuild(ctx, lister, transport, true)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if result.Videos != 2 || !result.Published || result.Publish == nil {
		t.Errorf("result = %+v", result)
	}

	if _, err := store.GetVideo(ctx, "yt:stale", types.LocationDrive); !errors.Is(err, ErrNotFound) {
		t.Errorf("stale row survived rebuild: %v", err)
	}
	snap, err := DecodeSnapshot(transport.data)
	if err != nil {
		t.Fatalf("decode published: %v", err)
	}
	if len(snap.Videos) != 2 {
		t.Errorf("published videos = %d, want 2", len(snap.Videos))
	}
}

func TestServiceStatus(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, Options{Store: store})
	seedSyncFixture(t, store)

	status, err := svc.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.LocalVideos != 4 || status.DriveVideos != 3 {
		t.Errorf("counts = %d/%d, want 4/3", status.LocalVideos, status.DriveVideos)
	}
	if status.Sync == nil || status.Sync.SyncedCount != 2 {
		t.Errorf("sync = %+v", status.Sync)
	}
	if status.LocalState == nil || status.DriveState == nil {
		t.Error("states should always be present")
	}
}
