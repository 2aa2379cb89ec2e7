// SPDX-License-Identifier: MIT

package streaming

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/ManuGH/ytvault/internal/catalog"
	"github.com/ManuGH/ytvault/internal/fsutil"
)

// ErrNotFound covers every local resolution failure: traversal attempts,
// escapes, directories and genuinely missing files all look the same to
// the client.
var ErrNotFound = errors.New("stream source not found")

// LocalSource resolves root-relative paths into streamable content.
type LocalSource struct {
	root string
}

func NewLocalSource(root string) *LocalSource {
	return &LocalSource{root: root}
}

// Resolve confines relPath to the downloads root and stats it. The
// returned content opens the file lazily per request.
func (s *LocalSource) Resolve(relPath string) (Content, error) {
	if hasTraversal(relPath) {
		return Content{}, fmt.Errorf("%w: %s", ErrNotFound, relPath)
	}
	abs, err := fsutil.ConfineRelPath(s.root, relPath)
	if err != nil {
		return Content{}, fmt.Errorf("%w: %s", ErrNotFound, relPath)
	}
	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		return Content{}, fmt.Errorf("%w: %s", ErrNotFound, relPath)
	}

	return Content{
		Name:        filepath.Base(abs),
		Size:        info.Size(),
		ContentType: catalog.MimeForPath(abs),
		Location:    "local",
		Open: func(_ context.Context, start, _ int64) (io.ReadCloser, error) {
			f, err := os.Open(abs)
			if err != nil {
				return nil, err
			}
			if start > 0 {
				if _, err := f.Seek(start, io.SeekStart); err != nil {
					_ = f.Close()
					return nil, err
				}
			}
			return f, nil
		},
	}, nil
}

// hasTraversal catches parent-directory escapes hidden behind repeated
// percent-encoding, overlong UTF-8 dots or alternate Unicode forms. The
// confinement check resolves symlinks; this runs first on the raw input
// so encoded attacks never reach the filesystem.
func hasTraversal(p string) bool {
	decoded := p
	for i := 0; i < 3; i++ {
		prev := decoded
		if d, err := url.PathUnescape(decoded); err == nil {
			decoded = d
		}
		if decoded == prev {
			break
		}
	}
	if strings.ContainsRune(decoded, 0x00) {
		return true
	}
	lower := strings.ToLower(decoded)
	for _, pat := range []string{"..", "%00", "%c0%ae", "%e0%80%ae"} {
		if strings.Contains(lower, pat) {
			return true
		}
	}
	return strings.Contains(strings.ToLower(norm.NFC.String(decoded)), "..")
}
