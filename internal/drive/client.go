// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package drive adapts the Google Drive v3 API to the archive's needs:
// folder management, resumable uploads, ranged downloads, sharing and
// the published catalog snapshot. One Client is shared by every worker;
// a weighted semaphore bounds concurrent blocking calls process-wide
// and a token-bucket limiter smooths request bursts below Drive quota.
package drive

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
	drivev3 "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/ManuGH/ytvault/internal/log"
	"github.com/ManuGH/ytvault/internal/metrics"
)

const (
	defaultConcurrency  = 3
	defaultQPS          = 8
	defaultChunkSize    = 8 << 20
	defaultListPageSize = 100

	fileFields = "id, name, mimeType, size, md5Checksum, modifiedTime, parents"
)

// Config tunes the shared client. Zero values fall back to defaults.
type Config struct {
	// RootFolderName is the top-level archive folder in My Drive.
	RootFolderName string
	// Concurrency bounds blocking Drive work (uploads, downloads,
	// listing walks, batch deletes) across the whole process.
	Concurrency int
	// QPS caps outbound request rate. <=0 disables the limiter.
	QPS float64
	// ChunkSizeBytes is the resumable upload chunk size.
	ChunkSizeBytes int
	// ListPageSize is the page size for listing calls.
	ListPageSize int64
}

func (c Config) withDefaults() Config {
	if c.RootFolderName == "" {
		c.RootFolderName = "ytvault"
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.ChunkSizeBytes <= 0 {
		c.ChunkSizeBytes = defaultChunkSize
	}
	if c.ListPageSize <= 0 {
		c.ListPageSize = defaultListPageSize
	}
	return c
}

// Client wraps a goroutine-safe drive.Service. Construct once and share.
type Client struct {
	svc     *drivev3.Service
	cfg     Config
	gate    *semaphore.Weighted
	limiter *rate.Limiter
	folders *gocache.Cache
	logger  zerolog.Logger

	rootMu sync.Mutex
	rootID string

	// folderMu serializes find-or-create so concurrent workers cannot
	// create duplicate folders with the same name.
	folderMu sync.Mutex
}

// NewClient builds the Drive service. The OAuth token is resolved
// lazily per request, so the client can be constructed before the
// consent flow completes; calls made without a token fail with
// ErrNotAuthenticated.
func NewClient(ctx context.Context, auth *Authenticator, cfg Config, logger zerolog.Logger) (*Client, error) {
	hc := oauth2.NewClient(ctx, auth.LazyTokenSource(ctx))
	hc.Transport = otelhttp.NewTransport(hc.Transport)
	svc, err := drivev3.NewService(ctx, option.WithHTTPClient(hc))
	if err != nil {
		return nil, fmt.Errorf("init drive service: %w", err)
	}
	return newClientWithService(svc, cfg, logger), nil
}

func newClientWithService(svc *drivev3.Service, cfg Config, logger zerolog.Logger) *Client {
	cfg = cfg.withDefaults()
	limit := rate.Inf
	if cfg.QPS > 0 {
		limit = rate.Limit(cfg.QPS)
	}
	return &Client{
		svc:     svc,
		cfg:     cfg,
		gate:    semaphore.NewWeighted(int64(cfg.Concurrency)),
		limiter: rate.NewLimiter(limit, cfg.Concurrency*2),
		folders: gocache.New(30*time.Minute, 10*time.Minute),
		logger:  logger.With().Str(log.FieldComponent, "drive").Logger(),
	}
}

// withGate runs fn while holding one slot of the process-wide
// concurrency gate. Blocks until a slot frees or ctx ends.
func (c *Client) withGate(ctx context.Context, fn func() error) error {
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return err
	}
	metrics.DriveGateEnter()
	defer func() {
		metrics.DriveGateExit()
		c.gate.Release(1)
	}()
	return fn()
}

// do applies rate limiting, runs one API call and records its outcome.
func (c *Client) do(ctx context.Context, op string, fn func() error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	err := fn()
	switch {
	case err == nil:
		metrics.DriveCall(op, "success")
	case isNotFound(err):
		metrics.DriveCall(op, "not_found")
	default:
		metrics.DriveCall(op, "error")
	}
	return mapError(err)
}

// RootFolderID resolves (and creates if needed) the archive root
// folder. The ID is cached for the life of the client.
func (c *Client) RootFolderID(ctx context.Context) (string, error) {
	c.rootMu.Lock()
	defer c.rootMu.Unlock()
	if c.rootID != "" {
		return c.rootID, nil
	}
	id, err := c.findOrCreateFolder(ctx, "root", c.cfg.RootFolderName)
	if err != nil {
		return "", err
	}
	c.rootID = id
	return id, nil
}

// EnsureFolder returns the ID of the named subfolder of parentID,
// creating it when absent. Results are cached; Drive allows duplicate
// names, so the first match in list order wins.
func (c *Client) EnsureFolder(ctx context.Context, parentID, name string) (string, error) {
	key := parentID + "/" + name
	if id, ok := c.folders.Get(key); ok {
		return id.(string), nil
	}
	c.folderMu.Lock()
	defer c.folderMu.Unlock()
	if id, ok := c.folders.Get(key); ok {
		return id.(string), nil
	}
	id, err := c.findOrCreateFolder(ctx, parentID, name)
	if err != nil {
		return "", err
	}
	c.folders.SetDefault(key, id)
	return id, nil
}

func (c *Client) findOrCreateFolder(ctx context.Context, parentID, name string) (string, error) {
	var list *drivev3.FileList
	err := c.retryGet(ctx, "folder_lookup", func() error {
		var err error
		list, err = c.svc.Files.List().
			Q(folderQuery(parentID, name)).
			Fields("files(id, name)").
			PageSize(1).
			Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", fmt.Errorf("lookup folder %q: %w", name, err)
	}
	if len(list.Files) > 0 {
		return list.Files[0].Id, nil
	}
	var created *drivev3.File
	err = c.do(ctx, "folder_create", func() error {
		var err error
		created, err = c.svc.Files.Create(&drivev3.File{
			Name:     name,
			MimeType: folderMimeType,
			Parents:  []string{parentID},
		}).Fields("id").Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", fmt.Errorf("create folder %q: %w", name, err)
	}
	c.logger.Debug().Str(log.FieldEvent, "drive.folder_created").
		Str("folder", name).Str(log.FieldDriveFileID, created.Id).Msg("created folder")
	return created.Id, nil
}

// EnsureFolderPath walks segments from the archive root, creating each
// level as needed, and returns the final folder ID.
func (c *Client) EnsureFolderPath(ctx context.Context, segments ...string) (string, error) {
	id, err := c.RootFolderID(ctx)
	if err != nil {
		return "", err
	}
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		id, err = c.EnsureFolder(ctx, id, seg)
		if err != nil {
			return "", err
		}
	}
	return id, nil
}

// FindFile looks up a non-folder child by exact name. Returns
// ErrNotFound when absent.
func (c *Client) FindFile(ctx context.Context, parentID, name string) (*drivev3.File, error) {
	var list *drivev3.FileList
	err := c.retryGet(ctx, "file_lookup", func() error {
		var err error
		list, err = c.svc.Files.List().
			Q(fileQuery(parentID, name)).
			Fields("files(" + fileFields + ")").
			PageSize(1).
			Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("lookup file %q: %w", name, err)
	}
	if len(list.Files) == 0 {
		return nil, fmt.Errorf("file %q under %s: %w", name, parentID, ErrNotFound)
	}
	return list.Files[0], nil
}

// GetFile fetches metadata for fileID.
func (c *Client) GetFile(ctx context.Context, fileID string) (*drivev3.File, error) {
	var f *drivev3.File
	err := c.retryGet(ctx, "file_get", func() error {
		var err error
		f, err = c.svc.Files.Get(fileID).Fields(fileFields).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", fileID, err)
	}
	return f, nil
}

// Exists reports whether fileID resolves without downloading anything.
func (c *Client) Exists(ctx context.Context, fileID string) (bool, error) {
	err := c.retryGet(ctx, "file_exists", func() error {
		_, err := c.svc.Files.Get(fileID).Fields("id").Context(ctx).Do()
		return err
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Rename changes the display name of a file or folder. Mutations are
// never retried.
func (c *Client) Rename(ctx context.Context, fileID, newName string) error {
	err := c.do(ctx, "rename", func() error {
		_, err := c.svc.Files.Update(fileID, &drivev3.File{Name: newName}).
			Fields("id, name").Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("rename %s: %w", fileID, err)
	}
	return nil
}

// Delete removes fileID. An already-missing file is treated as success.
func (c *Client) Delete(ctx context.Context, fileID string) error {
	err := c.do(ctx, "delete", func() error {
		return c.svc.Files.Delete(fileID).Context(ctx).Do()
	})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("delete %s: %w", fileID, err)
	}
	return nil
}

// BatchFailure records one file that a batch operation could not
// process.
type BatchFailure struct {
	FileID string
	Err    error
}

// DeleteBatch removes a set of files with bounded concurrency.
// Duplicate IDs are collapsed first. Missing files count as deleted.
// Returns the number of successful deletions and per-file failures.
func (c *Client) DeleteBatch(ctx context.Context, fileIDs []string) (int, []BatchFailure) {
	seen := make(map[string]struct{}, len(fileIDs))
	unique := make([]string, 0, len(fileIDs))
	for _, id := range fileIDs {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	sem := make(chan struct{}, c.cfg.Concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	deleted := 0
	var failures []BatchFailure

	for _, id := range unique {
		fileID := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := ctx.Err(); err != nil {
				mu.Lock()
				failures = append(failures, BatchFailure{FileID: fileID, Err: err})
				mu.Unlock()
				return
			}
			err := c.Delete(ctx, fileID)
			mu.Lock()
			if err != nil {
				failures = append(failures, BatchFailure{FileID: fileID, Err: err})
			} else {
				deleted++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	sort.Slice(failures, func(i, j int) bool { return failures[i].FileID < failures[j].FileID })
	return deleted, failures
}

// ListChildren returns every non-trashed child of folderID across all
// pages, folders included.
func (c *Client) ListChildren(ctx context.Context, folderID string) ([]*drivev3.File, error) {
	var out []*drivev3.File
	pageToken := ""
	for {
		var list *drivev3.FileList
		err := c.retryGet(ctx, "list_children", func() error {
			call := c.svc.Files.List().
				Q(childrenQuery(folderID)).
				Fields("nextPageToken, files(" + fileFields + ")").
				OrderBy("name").
				PageSize(c.cfg.ListPageSize).
				Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			var err error
			list, err = call.Do()
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("list children of %s: %w", folderID, err)
		}
		out = append(out, list.Files...)
		if list.NextPageToken == "" {
			return out, nil
		}
		pageToken = list.NextPageToken
	}
}
