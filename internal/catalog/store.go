// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)

	"github.com/ManuGH/ytvault/internal/types"
)

// ErrNotFound indicates the requested video or asset is not in the catalog.
var ErrNotFound = errors.New("catalog: not found")

// Store provides SQLite persistence for the video catalog.
type Store struct {
	db *sql.DB
}

// NewStore initializes the catalog database and runs migrations.
// WAL mode + busy_timeout for the read-heavy listing workload.
func NewStore(dbPath string) (*Store, error) {
	// busy_timeout avoids "database locked" errors
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs database schema migrations. Referential integrity between
// videos and assets is enforced in code: every asset write happens in a
// transaction that guarantees its video row exists.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS videos (
		video_uid TEXT NOT NULL,
		location TEXT NOT NULL CHECK(location IN ('local', 'drive')),
		source TEXT NOT NULL DEFAULT 'custom' CHECK(source IN ('youtube', 'hls', 'custom')),
		title TEXT NOT NULL,
		channel TEXT NOT NULL DEFAULT '',
		duration_seconds INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'available' CHECK(status IN ('available', 'missing', 'pending', 'error')),
		extra_json TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL,
		modified_at TEXT NOT NULL,
		PRIMARY KEY (video_uid, location)
	);

	CREATE TABLE IF NOT EXISTS assets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		video_uid TEXT NOT NULL,
		location TEXT NOT NULL CHECK(location IN ('local', 'drive')),
		kind TEXT NOT NULL CHECK(kind IN ('video', 'thumbnail', 'subtitles', 'transcript', 'info_json', 'audio', 'other')),
		local_path TEXT,
		drive_file_id TEXT,
		drive_md5 TEXT,
		drive_modified_time TEXT,
		mime_type TEXT NOT NULL DEFAULT 'application/octet-stream',
		size_bytes INTEGER NOT NULL DEFAULT 0,
		hash TEXT
	);

	CREATE TABLE IF NOT EXISTS catalog_state (
		scope TEXT PRIMARY KEY CHECK(scope IN ('local', 'drive')),
		version INTEGER NOT NULL DEFAULT 0,
		last_imported_at TEXT,
		last_published_at TEXT,
		drive_catalog_file_id TEXT,
		drive_catalog_revision TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_videos_location_modified ON videos(location, modified_at DESC);
	CREATE INDEX IF NOT EXISTS idx_videos_location_title ON videos(location, title);
	CREATE INDEX IF NOT EXISTS idx_videos_channel ON videos(channel);
	CREATE INDEX IF NOT EXISTS idx_assets_uid_kind ON assets(video_uid, kind);
	CREATE INDEX IF NOT EXISTS idx_assets_location_kind ON assets(location, kind);
	CREATE INDEX IF NOT EXISTS idx_assets_uid_location ON assets(video_uid, location);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_assets_drive_file_id ON assets(drive_file_id) WHERE drive_file_id IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// RegisterVideo writes a video row and its full asset set atomically. It is
// the write-through primitive: existing assets for (uid, location) are
// replaced, the video row is upserted.
func (s *Store) RegisterVideo(ctx context.Context, v Video, assets []Asset) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertVideoTx(ctx, tx, v); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM assets WHERE video_uid = ? AND location = ?`, v.VideoUID, string(v.Location)); err != nil {
		return fmt.Errorf("clear assets: %w", err)
	}
	for _, a := range assets {
		a.VideoUID = v.VideoUID
		a.Location = v.Location
		if err := insertAssetTx(ctx, tx, a); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func upsertVideoTx(ctx context.Context, tx *sql.Tx, v Video) error {
	query := `
	INSERT INTO videos (video_uid, location, source, title, channel, duration_seconds, status, extra_json, created_at, modified_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(video_uid, location) DO UPDATE SET
		source = excluded.source,
		title = excluded.title,
		channel = excluded.channel,
		duration_seconds = excluded.duration_seconds,
		status = excluded.status,
		extra_json = excluded.extra_json,
		modified_at = excluded.modified_at
	`
	extra := v.ExtraJSON
	if extra == "" {
		extra = "{}"
	}
	_, err := tx.ExecContext(ctx, query,
		v.VideoUID,
		string(v.Location),
		string(v.Source),
		v.Title,
		v.Channel,
		v.DurationSeconds,
		string(v.Status),
		extra,
		v.CreatedAt.UTC().Format(time.RFC3339),
		v.ModifiedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upsert video %s: %w", v.VideoUID, err)
	}
	return nil
}

func insertAssetTx(ctx context.Context, tx *sql.Tx, a Asset) error {
	query := `
	INSERT INTO assets (video_uid, location, kind, local_path, drive_file_id, drive_md5, drive_modified_time, mime_type, size_bytes, hash)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := tx.ExecContext(ctx, query,
		a.VideoUID,
		string(a.Location),
		string(a.Kind),
		nullable(a.LocalPath),
		nullable(a.DriveFileID),
		nullable(a.DriveMD5),
		nullable(a.DriveModifiedTime),
		a.MimeType,
		a.SizeBytes,
		nullable(a.Hash),
	)
	if err != nil {
		return fmt.Errorf("insert asset %s/%s: %w", a.VideoUID, a.Kind, err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// AddAsset appends one asset to an existing video row.
func (s *Store) AddAsset(ctx context.Context, a Asset) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := requireVideoTx(ctx, tx, a.VideoUID, a.Location); err != nil {
		return err
	}
	if err := insertAssetTx(ctx, tx, a); err != nil {
		return err
	}
	return tx.Commit()
}

// ReplaceAssetOfKind swaps the single asset of the given kind, used by
// thumbnail updates. The video's modified_at moves with it.
func (s *Store) ReplaceAssetOfKind(ctx context.Context, a Asset) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := requireVideoTx(ctx, tx, a.VideoUID, a.Location); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM assets WHERE video_uid = ? AND location = ? AND kind = ?`,
		a.VideoUID, string(a.Location), string(a.Kind)); err != nil {
		return fmt.Errorf("clear %s asset: %w", a.Kind, err)
	}
	if err := insertAssetTx(ctx, tx, a); err != nil {
		return err
	}
	if err := touchVideoTx(ctx, tx, a.VideoUID, a.Location); err != nil {
		return err
	}
	return tx.Commit()
}

func requireVideoTx(ctx context.Context, tx *sql.Tx, uid string, location types.Location) error {
	var one int
	err := tx.QueryRowContext(ctx,
		`SELECT 1 FROM videos WHERE video_uid = ? AND location = ?`, uid, string(location)).Scan(&one)
	if err == sql.ErrNoRows {
		return fmt.Errorf("video %s/%s: %w", uid, location, ErrNotFound)
	}
	return err
}

func touchVideoTx(ctx context.Context, tx *sql.Tx, uid string, location types.Location) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE videos SET modified_at = ? WHERE video_uid = ? AND location = ?`,
		time.Now().UTC().Format(time.RFC3339), uid, string(location))
	return err
}

// GetVideo returns the video row plus its assets.
func (s *Store) GetVideo(ctx context.Context, uid string, location types.Location) (*VideoWithAssets, error) {
	query := `
	SELECT video_uid, location, source, title, channel, duration_seconds, status, extra_json, created_at, modified_at
	FROM videos
	WHERE video_uid = ? AND location = ?
	`
	row := s.db.QueryRowContext(ctx, query, uid, string(location))
	v, err := scanVideo(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("video %s/%s: %w", uid, location, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	assets, err := s.assetsFor(ctx, uid, location)
	if err != nil {
		return nil, err
	}
	return &VideoWithAssets{Video: *v, Assets: assets}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVideo(r rowScanner) (*Video, error) {
	var v Video
	var location, source, status, createdAt, modifiedAt string
	if err := r.Scan(
		&v.VideoUID, &location, &source, &v.Title, &v.Channel,
		&v.DurationSeconds, &status, &v.ExtraJSON, &createdAt, &modifiedAt,
	); err != nil {
		return nil, err
	}
	v.Location = types.Location(location)
	v.Source = types.Source(source)
	v.Status = types.VideoStatus(status)
	v.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	v.ModifiedAt, _ = time.Parse(time.RFC3339, modifiedAt)
	return &v, nil
}

func (s *Store) assetsFor(ctx context.Context, uid string, location types.Location) ([]Asset, error) {
	query := `
	SELECT id, video_uid, location, kind, local_path, drive_file_id, drive_md5, drive_modified_time, mime_type, size_bytes, hash
	FROM assets
	WHERE video_uid = ? AND location = ?
	ORDER BY kind, id
	`
	rows, err := s.db.QueryContext(ctx, query, uid, string(location))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var assets []Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, *a)
	}
	return assets, rows.Err()
}

func scanAsset(r rowScanner) (*Asset, error) {
	var a Asset
	var location, kind string
	var localPath, driveFileID, driveMD5, driveModified, hash sql.NullString
	if err := r.Scan(
		&a.ID, &a.VideoUID, &location, &kind,
		&localPath, &driveFileID, &driveMD5, &driveModified,
		&a.MimeType, &a.SizeBytes, &hash,
	); err != nil {
		return nil, err
	}
	a.Location = types.Location(location)
	a.Kind = types.AssetKind(kind)
	a.LocalPath = localPath.String
	a.DriveFileID = driveFileID.String
	a.DriveMD5 = driveMD5.String
	a.DriveModifiedTime = driveModified.String
	a.Hash = hash.String
	return &a, nil
}

// ListVideos retrieves one page for a location. Ordering is index-backed;
// unknown orders fall back to modified_at descending.
func (s *Store) ListVideos(ctx context.Context, location types.Location, page, limit int, order ListOrder) ([]Video, int, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM videos WHERE location = ?`
	if err := s.db.QueryRowContext(ctx, countQuery, string(location)).Scan(&total); err != nil {
		return nil, 0, err
	}

	orderSQL := "modified_at DESC"
	switch order {
	case OrderTitle:
		orderSQL = "title ASC"
	case OrderCreated:
		orderSQL = "created_at DESC"
	}

	query := fmt.Sprintf(`
	SELECT video_uid, location, source, title, channel, duration_seconds, status, extra_json, created_at, modified_at
	FROM videos
	WHERE location = ?
	ORDER BY %s
	LIMIT ? OFFSET ?
	`, orderSQL)

	rows, err := s.db.QueryContext(ctx, query, string(location), limit, (page-1)*limit)
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

// CountVideos returns the row count for one location.
func (s *Store) CountVideos(ctx context.Context, location types.Location) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM videos WHERE location = ?`, string(location)).Scan(&n)
	return n, err
}

// DeleteVideo removes the video row and all its assets atomically.
func (s *Store) DeleteVideo(ctx context.Context, uid string, location types.Location) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM videos WHERE video_uid = ? AND location = ?`, uid, string(location))
	if err != nil {
		return fmt.Errorf("delete video: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("video %s/%s: %w", uid, location, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM assets WHERE video_uid = ? AND location = ?`, uid, string(location)); err != nil {
		return fmt.Errorf("delete assets: %w", err)
	}
	return tx.Commit()
}

// RenameVideo updates the title and, for local videos, rewrites the asset
// paths that moved with the media file. pathRenames maps old relative paths
// to new ones.
func (s *Store) RenameVideo(ctx context.Context, uid string, location types.Location, newTitle string, pathRenames map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE videos SET title = ?, modified_at = ? WHERE video_uid = ? AND location = ?`,
		newTitle, time.Now().UTC().Format(time.RFC3339), uid, string(location))
	if err != nil {
		return fmt.Errorf("rename video: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("video %s/%s: %w", uid, location, ErrNotFound)
	}

	for oldPath, newPath := range pathRenames {
		if _, err := tx.ExecContext(ctx,
			`UPDATE assets SET local_path = ? WHERE video_uid = ? AND location = ? AND local_path = ?`,
			newPath, uid, string(location), oldPath); err != nil {
			return fmt.Errorf("rewrite asset path: %w", err)
		}
	}
	return tx.Commit()
}

// UpdateExtraJSON replaces the opaque metadata blob on one video row.
func (s *Store) UpdateExtraJSON(ctx context.Context, uid string, location types.Location, extraJSON string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE videos SET extra_json = ? WHERE video_uid = ? AND location = ?`,
		extraJSON, uid, string(location))
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("video %s/%s: %w", uid, location, ErrNotFound)
	}
	return nil
}

// GetVideoByDriveFileID resolves a Drive file id to its owning video.
func (s *Store) GetVideoByDriveFileID(ctx context.Context, fileID string) (*VideoWithAssets, error) {
	var uid string
	err := s.db.QueryRowContext(ctx,
		`SELECT video_uid FROM assets WHERE drive_file_id = ?`, fileID).Scan(&uid)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("drive file %s: %w", fileID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return s.GetVideo(ctx, uid, types.LocationDrive)
}

// GetVideoByLocalPath resolves a relative media path to its owning video.
func (s *Store) GetVideoByLocalPath(ctx context.Context, relPath string) (*VideoWithAssets, error) {
	var uid string
	err := s.db.QueryRowContext(ctx,
		`SELECT video_uid FROM assets WHERE location = 'local' AND local_path = ?`, relPath).Scan(&uid)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("local path: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return s.GetVideo(ctx, uid, types.LocationLocal)
}

// ReplaceLocationRows atomically swaps every row of one location for the
// given set. Used by snapshot import, live rebuild and bootstrap scans.
func (s *Store) ReplaceLocationRows(ctx context.Context, location types.Location, rows []VideoWithAssets) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM assets WHERE location = ?`, string(location)); err != nil {
		return fmt.Errorf("clear assets: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM videos WHERE location = ?`, string(location)); err != nil {
		return fmt.Errorf("clear videos: %w", err)
	}
	for _, row := range rows {
		row.Video.Location = location
		if err := upsertVideoTx(ctx, tx, row.Video); err != nil {
			return err
		}
		for _, a := range row.Assets {
			a.VideoUID = row.VideoUID
			a.Location = location
			if err := insertAssetTx(ctx, tx, a); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// ListLocationRows returns every video of a location with its assets, for
// snapshot generation. Order is stable by uid.
func (s *Store) ListLocationRows(ctx context.Context, location types.Location) ([]VideoWithAssets, error) {
	query := `
	SELECT video_uid, location, source, title, channel, duration_seconds, status, extra_json, created_at, modified_at
	FROM videos
	WHERE location = ?
	ORDER BY video_uid
	`
	rows, err := s.db.QueryContext(ctx, query, string(location))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []VideoWithAssets
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, VideoWithAssets{Video: *v})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		assets, err := s.assetsFor(ctx, out[i].VideoUID, location)
		if err != nil {
			return nil, err
		}
		out[i].Assets = assets
	}
	return out, nil
}

// GetState returns the bookkeeping row for a scope, zero-valued when the
// scope has no history yet.
func (s *Store) GetState(ctx context.Context, scope types.Location) (*State, error) {
	query := `
	SELECT scope, version, last_imported_at, last_published_at, drive_catalog_file_id, drive_catalog_revision
	FROM catalog_state
	WHERE scope = ?
	`
	var st State
	var scopeStr string
	var imported, published, fileID, revision sql.NullString
	err := s.db.QueryRowContext(ctx, query, string(scope)).Scan(
		&scopeStr, &st.Version, &imported, &published, &fileID, &revision)
	if err == sql.ErrNoRows {
		return &State{Scope: scope}, nil
	}
	if err != nil {
		return nil, err
	}
	st.Scope = types.Location(scopeStr)
	if imported.Valid {
		if t, err := time.Parse(time.RFC3339, imported.String); err == nil {
			st.LastImportedAt = &t
		}
	}
	if published.Valid {
		if t, err := time.Parse(time.RFC3339, published.String); err == nil {
			st.LastPublishedAt = &t
		}
	}
	st.DriveCatalogFileID = fileID.String
	st.DriveCatalogRevision = revision.String
	return &st, nil
}

// MarkImported records a completed import for a scope.
func (s *Store) MarkImported(ctx context.Context, scope types.Location, fileID, revision string) error {
	query := `
	INSERT INTO catalog_state (scope, version, last_imported_at, drive_catalog_file_id, drive_catalog_revision)
	VALUES (?, 1, ?, ?, ?)
	ON CONFLICT(scope) DO UPDATE SET
		version = catalog_state.version + 1,
		last_imported_at = excluded.last_imported_at,
		drive_catalog_file_id = excluded.drive_catalog_file_id,
		drive_catalog_revision = excluded.drive_catalog_revision
	`
	_, err := s.db.ExecContext(ctx, query,
		string(scope), time.Now().UTC().Format(time.RFC3339), nullable(fileID), nullable(revision))
	return err
}

// MarkPublished records a completed publish for a scope.
func (s *Store) MarkPublished(ctx context.Context, scope types.Location, fileID, revision string) error {
	query := `
	INSERT INTO catalog_state (scope, version, last_published_at, drive_catalog_file_id, drive_catalog_revision)
	VALUES (?, 1, ?, ?, ?)
	ON CONFLICT(scope) DO UPDATE SET
		version = catalog_state.version + 1,
		last_published_at = excluded.last_published_at,
		drive_catalog_file_id = excluded.drive_catalog_file_id,
		drive_catalog_revision = excluded.drive_catalog_revision
	`
	_, err := s.db.ExecContext(ctx, query,
		string(scope), time.Now().UTC().Format(time.RFC3339), nullable(fileID), nullable(revision))
	return err
}

// BeginTx starts a transaction for callers that compose multiple writes.
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}
