// SPDX-License-Identifier: MIT

// Package streaming serves byte ranges over HTTP for local files and
// remote objects behind a common contract: 200 for full bodies, 206 with
// Content-Range for a single satisfiable range, 416 otherwise, with
// RFC 5987 file names and fixed-size chunked copies that stop cleanly
// when the client goes away.
package streaming

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/ManuGH/ytvault/internal/catalog"
	"github.com/ManuGH/ytvault/internal/log"
	"github.com/ManuGH/ytvault/internal/metrics"
)

// chunkSize is the local copy buffer size. Remote readers arrive already
// windowed to the requested range; the buffer only paces writes.
const chunkSize = 8 * 1024

// Content is one streamable object. Open must return a reader positioned
// at start; it may return more than the requested window, the copier
// stops at end.
type Content struct {
	Name        string
	Size        int64
	ContentType string
	// Location labels stream metrics, "local" or "drive".
	Location string
	Open     func(ctx context.Context, start, end int64) (io.ReadCloser, error)
}

// Serve writes the content to the response, honoring a Range header per
// the single-range policy. A non-nil error means the response has not
// been written and the caller still owns it; once the status goes out,
// failures only end the body early.
func Serve(w http.ResponseWriter, r *http.Request, c Content) error {
	status := http.StatusOK
	rng := ByteRange{Start: 0, End: c.Size - 1}

	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		parsed, err := ParseRange(rangeHeader, c.Size)
		if err != nil {
			w.Header().Set("Content-Range", UnsatisfiableRange(c.Size))
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			metrics.StreamRequest(c.Location, "416")
			return nil
		}
		status = http.StatusPartialContent
		rng = parsed
	}

	body := r.Method != http.MethodHead && c.Size > 0
	var reader io.ReadCloser
	if body {
		var err error
		reader, err = c.Open(r.Context(), rng.Start, rng.End)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := reader.Close(); cerr != nil {
				log.FromContext(r.Context()).Debug().Err(cerr).
					Str(log.FieldPath, c.Name).
					Msg("stream reader close failed")
			}
		}()
	}

	ctype := c.ContentType
	if ctype == "" {
		ctype = catalog.MimeForPath(c.Name)
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Disposition", ContentDisposition(c.Name))
	if status == http.StatusPartialContent {
		w.Header().Set("Content-Range", ContentRange(rng, c.Size))
		w.Header().Set("Content-Length", strconv.FormatInt(rng.Length(), 10))
	} else {
		w.Header().Set("Content-Length", strconv.FormatInt(c.Size, 10))
	}
	w.WriteHeader(status)
	metrics.StreamRequest(c.Location, strconv.Itoa(status))

	if !body {
		return nil
	}
	n, err := copyChunks(w, reader, rng.Length())
	metrics.StreamBytes(c.Location, n)
	if err != nil {
		// Usually the client hanging up mid-playback.
		log.FromContext(r.Context()).Debug().Err(err).
			Str(log.FieldPath, c.Name).
			Int64(log.FieldBytes, n).
			Msg("stream interrupted")
	}
	return nil
}

// copyChunks moves exactly length bytes in chunkSize slices. A short
// source ends the copy at whatever arrived; a failed write stops it
// immediately so a gone client does not drain the reader.
func copyChunks(dst io.Writer, src io.Reader, length int64) (int64, error) {
	buf := make([]byte, chunkSize)
	var written int64
	for written < length {
		want := int64(len(buf))
		if remain := length - written; remain < want {
			want = remain
		}
		rn, rerr := src.Read(buf[:want])
		if rn > 0 {
			wn, werr := dst.Write(buf[:rn])
			written += int64(wn)
			if werr != nil {
				return written, werr
			}
			if wn < rn {
				return written, io.ErrShortWrite
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return written, nil
			}
			return written, rerr
		}
	}
	return written, nil
}
