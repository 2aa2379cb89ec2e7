// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package catalog is the durable index of every known video and its
// sidecar assets, local and remote. It owns the SQLite schema, the
// published snapshot format, and the reconciliation protocol between
// machines sharing one Drive library.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ManuGH/ytvault/internal/log"
	"github.com/ManuGH/ytvault/internal/metrics"
	"github.com/ManuGH/ytvault/internal/types"
)

// publishAttempts bounds the precondition retry loop.
const publishAttempts = 3

// DriveLister enumerates the live Drive library. Used only by rebuild;
// everyday reads go through the store.
type DriveLister interface {
	ListLibrary(ctx context.Context) ([]VideoWithAssets, error)
}

// Options configures the catalog service.
type Options struct {
	Store *Store
	// AutoPublish publishes the snapshot inline after Drive mutations.
	AutoPublish bool
	// RequireImport refuses publish when the remote snapshot has moved
	// past the last imported revision.
	RequireImport bool
	Logger        zerolog.Logger
}

// Service orchestrates scans, imports, publishes and write-through
// registration on top of the store.
type Service struct {
	store         *Store
	autoPublish   bool
	requireImport bool
	logger        zerolog.Logger
}

// NewService wires a catalog service.
func NewService(opts Options) *Service {
	return &Service{
		store:         opts.Store,
		autoPublish:   opts.AutoPublish,
		requireImport: opts.RequireImport,
		logger:        opts.Logger.With().Str(log.FieldComponent, "catalog").Logger(),
	}
}

// Store exposes the underlying store for read paths.
func (s *Service) Store() *Store { return s.store }

// AutoPublishEnabled reports whether Drive mutations publish inline.
func (s *Service) AutoPublishEnabled() bool { return s.autoPublish }

// Status is the aggregate view served by the catalog status endpoint.
type Status struct {
	LocalVideos int         `json:"local_videos"`
	DriveVideos int         `json:"drive_videos"`
	LocalState  *State      `json:"local_state"`
	DriveState  *State      `json:"drive_state"`
	Sync        *SyncCounts `json:"sync"`
}

// Status reports row counts, per-scope bookkeeping and sync aggregates.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	localCount, err := s.store.CountVideos(ctx, types.LocationLocal)
	if err != nil {
		return nil, fmt.Errorf("count local videos: %w", err)
	}
	driveCount, err := s.store.CountVideos(ctx, types.LocationDrive)
	if err != nil {
		return nil, fmt.Errorf("count drive videos: %w", err)
	}
	localState, err := s.store.GetState(ctx, types.LocationLocal)
	if err != nil {
		return nil, fmt.Errorf("local state: %w", err)
	}
	driveState, err := s.store.GetState(ctx, types.LocationDrive)
	if err != nil {
		return nil, fmt.Errorf("drive state: %w", err)
	}
	sync, err := s.store.SyncCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync counts: %w", err)
	}

	metrics.SetCatalogVideos(types.LocationLocal.String(), localCount)
	metrics.SetCatalogVideos(types.LocationDrive.String(), driveCount)

	return &Status{
		LocalVideos: localCount,
		DriveVideos: driveCount,
		LocalState:  localState,
		DriveState:  driveState,
		Sync:        sync,
	}, nil
}

// BootstrapLocal scans the downloads root and replaces every local row
// with what is actually on disk.
func (s *Service) BootstrapLocal(ctx context.Context, scanner *Scanner) (*ScanReport, error) {
	rows, report, err := scanner.Scan(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.store.ReplaceLocationRows(ctx, types.LocationLocal, rows); err != nil {
		return nil, fmt.Errorf("replace local rows: %w", err)
	}
	if err := s.store.MarkImported(ctx, types.LocationLocal, "", ""); err != nil {
		return nil, fmt.Errorf("mark bootstrap: %w", err)
	}
	metrics.SetCatalogVideos(types.LocationLocal.String(), report.VideosFound)

	s.logger.Info().
		Str(log.FieldEvent, "catalog.bootstrap_local").
		Int("videos", report.VideosFound).
		Int("assets", report.AssetsFound).
		Msg("local catalog bootstrapped")
	return report, nil
}

// ImportDrive downloads the published snapshot and replaces every drive
// row with its contents.
func (s *Service) ImportDrive(ctx context.Context, transport SnapshotTransport) (*Snapshot, error) {
	data, revision, fileID, err := transport.FetchSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := DecodeSnapshot(data)
	if err != nil {
		return nil, err
	}
	if err := s.applyImport(ctx, snap, fileID, revision); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str(log.FieldEvent, "catalog.import_complete").
		Int("videos", len(snap.Videos)).
		Str("revision", revision).
		Msg("drive snapshot imported")
	return snap, nil
}

func (s *Service) applyImport(ctx context.Context, snap *Snapshot, fileID, revision string) error {
	if err := s.store.ReplaceLocationRows(ctx, types.LocationDrive, snap.Rows()); err != nil {
		return fmt.Errorf("replace drive rows: %w", err)
	}
	if err := s.store.MarkImported(ctx, types.LocationDrive, fileID, revision); err != nil {
		return fmt.Errorf("mark import: %w", err)
	}
	metrics.SetCatalogVideos(types.LocationDrive.String(), len(snap.Videos))
	return nil
}

// PublishResult reports one publish run.
type PublishResult struct {
	Videos   int    `json:"videos"`
	Revision string `json:"revision"`
	FileID   string `json:"file_id"`
	Attempts int    `json:"attempts"`
	Merged   bool   `json:"merged"`
}

// Publish generates a snapshot from the drive rows and uploads it under
// optimistic concurrency. When the remote revision moved it re-imports,
// merges by uid with last-writer-wins per video, and retries a bounded
// number of times.
func (s *Service) Publish(ctx context.Context, transport SnapshotTransport) (*PublishResult, error) {
	remoteRev := ""
	_, rev, _, err := transport.FetchSnapshot(ctx)
	switch {
	case err == nil:
		remoteRev = rev
	case errors.Is(err, ErrSnapshotMissing):
		// First publish for this library.
	default:
		return nil, fmt.Errorf("read remote snapshot: %w", err)
	}

	if s.requireImport && remoteRev != "" {
		state, err := s.store.GetState(ctx, types.LocationDrive)
		if err != nil {
			return nil, fmt.Errorf("drive state: %w", err)
		}
		if state.DriveCatalogRevision != remoteRev {
			metrics.CatalogPublish("precondition")
			return nil, fmt.Errorf("remote snapshot at revision %s is newer than last import: %w", remoteRev, ErrPreconditionFailed)
		}
	}

	rows, err := s.store.ListLocationRows(ctx, types.LocationDrive)
	if err != nil {
		return nil, fmt.Errorf("list drive rows: %w", err)
	}
	snap := BuildSnapshot(rows)

	result := &PublishResult{}
	for attempt := 1; attempt <= publishAttempts; attempt++ {
		result.Attempts = attempt

		data, err := snap.Encode()
		if err != nil {
			return nil, err
		}
		newRev, fileID, err := transport.StoreSnapshot(ctx, data, remoteRev)
		if err == nil {
			if err := s.store.MarkPublished(ctx, types.LocationDrive, fileID, newRev); err != nil {
				return nil, fmt.Errorf("mark publish: %w", err)
			}
			metrics.CatalogPublish("success")
			result.Videos = len(snap.Videos)
			result.Revision = newRev
			result.FileID = fileID

			s.logger.Info().
				Str(log.FieldEvent, "catalog.publish_complete").
				Int("videos", result.Videos).
				Int("attempts", result.Attempts).
				Bool("merged", result.Merged).
				Str("revision", newRev).
				Msg("snapshot published")
			return result, nil
		}
		if !errors.Is(err, ErrPreconditionFailed) {
			metrics.CatalogPublish("error")
			return nil, fmt.Errorf("upload snapshot: %w", err)
		}

		// Lost the race: another machine published first. Take its
		// snapshot, merge our rows over it, and try against the new
		// revision.
		metrics.CatalogPublish("precondition")
		s.logger.Warn().
			Str(log.FieldEvent, "catalog.publish_conflict").
			Int("attempt", attempt).
			Msg("snapshot revision moved, merging")

		remoteData, rev, fileID, err := transport.FetchSnapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("re-read remote snapshot: %w", err)
		}
		remoteSnap, err := DecodeSnapshot(remoteData)
		if err != nil {
			return nil, err
		}
		snap = MergeSnapshots(remoteSnap, snap)
		if err := s.applyImport(ctx, snap, fileID, rev); err != nil {
			return nil, err
		}
		remoteRev = rev
		result.Merged = true
	}

	metrics.CatalogPublish("error")
	return nil, fmt.Errorf("snapshot publish failed after %d attempts: %w", publishAttempts, ErrPreconditionFailed)
}

// RebuildResult reports one live rebuild.
type RebuildResult struct {
	Videos    int            `json:"videos"`
	Published bool           `json:"published"`
	Publish   *PublishResult `json:"publish,omitempty"`
}

// Rebuild lists the Drive library live and replaces every drive row.
// Expensive; the snapshot import path is preferred when one exists.
func (s *Service) Rebuild(ctx context.Context, lister DriveLister, transport SnapshotTransport, publishAfter bool) (*RebuildResult, error) {
	rows, err := lister.ListLibrary(ctx)
	if err != nil {
		return nil, fmt.Errorf("list drive library: %w", err)
	}
	if err := s.store.ReplaceLocationRows(ctx, types.LocationDrive, rows); err != nil {
		return nil, fmt.Errorf("replace drive rows: %w", err)
	}
	metrics.SetCatalogVideos(types.LocationDrive.String(), len(rows))

	result := &RebuildResult{Videos: len(rows)}
	s.logger.Info().
		Str(log.FieldEvent, "catalog.rebuild_complete").
		Int("videos", len(rows)).
		Msg("drive catalog rebuilt from live listing")

	if publishAfter && transport != nil {
		pub, err := s.Publish(ctx, transport)
		if err != nil {
			return result, fmt.Errorf("publish after rebuild: %w", err)
		}
		result.Published = true
		result.Publish = pub
	}
	return result, nil
}

// Register writes a video and its assets through to the catalog after a
// physical mutation succeeded. Failures are reported to the caller and
// counted; the physical operation is already durable at this point.
func (s *Service) Register(ctx context.Context, v Video, assets []Asset) error {
	if err := s.store.RegisterVideo(ctx, v, assets); err != nil {
		metrics.CatalogWriteThroughError()
		s.logger.Warn().
			Err(err).
			Str(log.FieldEvent, "catalog.write_through_failed").
			Str(log.FieldVideoUID, v.VideoUID).
			Str(log.FieldLocation, v.Location.String()).
			Msg("catalog row not written, reconcile via bootstrap or import")
		return fmt.Errorf("catalog write-through: %w", err)
	}
	return nil
}

// Unregister removes a video row after its physical assets were deleted.
func (s *Service) Unregister(ctx context.Context, uid string, location types.Location) error {
	err := s.store.DeleteVideo(ctx, uid, location)
	if err != nil && !errors.Is(err, ErrNotFound) {
		metrics.CatalogWriteThroughError()
		s.logger.Warn().
			Err(err).
			Str(log.FieldEvent, "catalog.write_through_failed").
			Str(log.FieldVideoUID, uid).
			Str(log.FieldLocation, location.String()).
			Msg("catalog row not removed, reconcile via bootstrap or import")
		return fmt.Errorf("catalog write-through: %w", err)
	}
	return nil
}
