// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package catalog

import (
	"context"
	"fmt"

	"github.com/ManuGH/ytvault/internal/types"
)

// SyncCounts computes the aggregate local/drive difference counts with
// index joins on video_uid. No filesystem or network access.
func (s *Store) SyncCounts(ctx context.Context) (*SyncCounts, error) {
	var c SyncCounts

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM videos WHERE location = 'local'`).Scan(&c.TotalLocal); err != nil {
		return nil, fmt.Errorf("count local: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM videos WHERE location = 'drive'`).Scan(&c.TotalDrive); err != nil {
		return nil, fmt.Errorf("count drive: %w", err)
	}

	query := `
	SELECT COUNT(*)
	FROM videos l
	JOIN videos d ON d.video_uid = l.video_uid AND d.location = 'drive'
	WHERE l.location = 'local'
	`
	if err := s.db.QueryRowContext(ctx, query).Scan(&c.SyncedCount); err != nil {
		return nil, fmt.Errorf("count synced: %w", err)
	}

	c.LocalOnlyCount = c.TotalLocal - c.SyncedCount
	c.DriveOnlyCount = c.TotalDrive - c.SyncedCount
	return &c, nil
}

// SyncItems paginates one difference category. Synced items are reported
// from the local side, which carries the filesystem paths a caller acts on.
func (s *Store) SyncItems(ctx context.Context, kind types.SyncKind, page, limit int) ([]Video, int, error) {
	if !kind.IsValid() {
		return nil, 0, fmt.Errorf("invalid sync kind: %q", kind)
	}
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	var where string
	switch kind {
	case types.SyncKindLocalOnly:
		where = `v.location = 'local' AND NOT EXISTS
			(SELECT 1 FROM videos o WHERE o.video_uid = v.video_uid AND o.location = 'drive')`
	case types.SyncKindDriveOnly:
		where = `v.location = 'drive' AND NOT EXISTS
			(SELECT 1 FROM videos o WHERE o.video_uid = v.video_uid AND o.location = 'local')`
	case types.SyncKindSynced:
		where = `v.location = 'local' AND EXISTS
			(SELECT 1 FROM videos o WHERE o.video_uid = v.video_uid AND o.location = 'drive')`
	}

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM videos v WHERE %s`, where)
	if err := s.db.QueryRowContext(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
	SELECT v.video_uid, v.location, v.source, v.title, v.channel, v.duration_seconds, v.status, v.extra_json, v.created_at, v.modified_at
	FROM videos v
	WHERE %s
	ORDER BY v.modified_at DESC
	LIMIT ? OFFSET ?
	`, where)

	rows, err := s.db.QueryContext(ctx, query, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()

	var videos []Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, 0, err
		}
		videos = append(videos, *v)
	}
	return videos, total, rows.Err()
}
