// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package drive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/ManuGH/ytvault/internal/catalog"
	"github.com/ManuGH/ytvault/internal/fsutil"
	"github.com/ManuGH/ytvault/internal/metrics"
	"github.com/ManuGH/ytvault/internal/types"
)

// unsortedFolder receives downloads for videos without a channel.
const unsortedFolder = "Unsorted"

// OpenRange issues a ranged media GET and returns the response body.
// end < 0 requests everything from start to EOF. The caller owns the
// returned reader and must close it on every path. The concurrency
// gate is held only while the request is issued, so long-lived
// playback streams do not starve uploads.
func (c *Client) OpenRange(ctx context.Context, fileID string, start, end int64) (io.ReadCloser, int64, error) {
	var resp *http.Response
	err := c.withGate(ctx, func() error {
		return c.retryGet(ctx, "stream_range", func() error {
			call := c.svc.Files.Get(fileID)
			call.Header().Set("Range", formatByteRange(start, end))
			var err error
			resp, err = call.Context(ctx).Download()
			return err
		})
	})
	if err != nil {
		return nil, 0, fmt.Errorf("open range of %s: %w", fileID, err)
	}
	return resp.Body, resp.ContentLength, nil
}

func formatByteRange(start, end int64) string {
	if end < 0 {
		return fmt.Sprintf("bytes=%d-", start)
	}
	return fmt.Sprintf("bytes=%d-%d", start, end)
}

// ReadAll fetches a whole small file into memory. Intended for
// sidecars and the catalog snapshot, not media.
func (c *Client) ReadAll(ctx context.Context, fileID string) ([]byte, error) {
	var resp *http.Response
	err := c.retryGet(ctx, "fetch", func() error {
		var err error
		resp, err = c.svc.Files.Get(fileID).Context(ctx).Download()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", fileID, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fileID, err)
	}
	return data, nil
}

// DownloadFile fetches a whole file to destPath. The content lands in
// a temp file first and is renamed into place, so a cancelled or
// failed download never leaves a partial file at the final path.
func (c *Client) DownloadFile(ctx context.Context, fileID, destPath string, progress UploadProgress) (int64, error) {
	var written int64
	err := c.withGate(ctx, func() error {
		var resp *http.Response
		err := c.retryGet(ctx, "download", func() error {
			var err error
			resp, err = c.svc.Files.Get(fileID).Context(ctx).Download()
			return err
		})
		if err != nil {
			return err
		}
		defer func() {
			_ = resp.Body.Close()
		}()

		if err := fsutil.EnsureDir(filepath.Dir(destPath)); err != nil {
			return fmt.Errorf("dest dir: %w", err)
		}
		pf, err := renameio.NewPendingFile(destPath, renameio.WithPermissions(0o644))
		if err != nil {
			return fmt.Errorf("create pending file: %w", err)
		}
		defer func() {
			_ = pf.Cleanup()
		}()

		src := io.Reader(resp.Body)
		if progress != nil {
			src = &progressReader{r: resp.Body, total: resp.ContentLength, fn: progress}
		}
		written, err = io.Copy(pf, src)
		if err != nil {
			return fmt.Errorf("copy body: %w", err)
		}
		if err := pf.CloseAtomicallyReplace(); err != nil {
			return fmt.Errorf("finalize %s: %w", destPath, err)
		}
		metrics.DriveDownloadBytes(written)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", fileID, err)
	}
	return written, nil
}

// DownloadVideo fetches a drive video's media file and sidecars into
// the local library under a folder named after the channel. Returns
// local asset rows ready for catalog registration. progress reports
// media bytes only.
func (c *Client) DownloadVideo(ctx context.Context, downloadRoot string, v catalog.VideoWithAssets, progress UploadProgress) ([]catalog.Asset, error) {
	media, sidecars := splitAssets(v.Assets)
	if media == nil || media.DriveFileID == "" {
		return nil, fmt.Errorf("video %s has no drive media asset", v.VideoUID)
	}
	relDir := fsutil.SafeFileName(v.Channel)
	if v.Channel == "" {
		relDir = unsortedFolder
	}

	out := make([]catalog.Asset, 0, len(v.Assets))
	la, err := c.downloadAsset(ctx, downloadRoot, relDir, *media, progress)
	if err != nil {
		return nil, err
	}
	out = append(out, la)
	for _, sc := range sidecars {
		if sc.DriveFileID == "" {
			continue
		}
		la, err := c.downloadAsset(ctx, downloadRoot, relDir, sc, nil)
		if err != nil {
			return nil, fmt.Errorf("sidecar %s: %w", sc.DriveFileID, err)
		}
		out = append(out, la)
	}
	return out, nil
}

func (c *Client) downloadAsset(ctx context.Context, root, relDir string, a catalog.Asset, progress UploadProgress) (catalog.Asset, error) {
	meta, err := c.GetFile(ctx, a.DriveFileID)
	if err != nil {
		return catalog.Asset{}, err
	}
	rel := path.Join(relDir, fsutil.SafeFileName(meta.Name))
	abs, err := fsutil.ConfineRelPath(root, rel)
	if err != nil {
		return catalog.Asset{}, fmt.Errorf("dest path: %w", err)
	}
	written, err := c.DownloadFile(ctx, a.DriveFileID, abs, progress)
	if err != nil {
		return catalog.Asset{}, err
	}
	return catalog.Asset{
		VideoUID:  a.VideoUID,
		Location:  types.LocationLocal,
		Kind:      a.Kind,
		LocalPath: rel,
		MimeType:  a.MimeType,
		SizeBytes: written,
	}, nil
}

// progressReader invokes fn roughly once per megabyte so chunked
// copies surface progress without flooding the job stream.
type progressReader struct {
	r     io.Reader
	total int64
	fn    UploadProgress

	read       int64
	lastNotify int64
}

const progressStride = 1 << 20

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	p.read += int64(n)
	if p.read-p.lastNotify >= progressStride || err == io.EOF {
		p.lastNotify = p.read
		p.fn(p.read, p.total)
	}
	return n, err
}
