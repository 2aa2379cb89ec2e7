// SPDX-License-Identifier: MIT

package downloader

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/ManuGH/ytvault/internal/extractor"
	"github.com/ManuGH/ytvault/internal/fsutil"
)

// fallbackUploader groups media whose extractor reports no author.
const fallbackUploader = "Unsorted"

// extPlaceholder is filled in by the tool once it knows the container.
const extPlaceholder = "%(ext)s"

// resolvedOutput fixes every path decision for one item before the tool
// runs: where files land, the output template handed to the tool, and the
// expected media path used for the collision pre-check.
type resolvedOutput struct {
	dir       string // absolute destination directory
	template  string // absolute output template, ext left to the tool
	probePath string // expected media path using the probed ext
	relDir    string // dir relative to the downloads root, slash form
}

// resolveOutput derives the destination for one item. The default layout
// is uploader/playlist/title.ext; a request path replaces the derived
// directories and a request file name replaces the title part. Dates and
// numeric IDs never appear in default names.
func resolveOutput(root string, req Request, info *extractor.Info, playlistTitle string) (*resolvedOutput, error) {
	var relDir string
	if req.Path != "" {
		relDir = filepath.ToSlash(filepath.Clean(req.Path))
	} else {
		segs := []string{fsutil.SafeFileName(uploaderFor(info))}
		if playlistTitle != "" {
			segs = append(segs, fsutil.SafeFileName(playlistTitle))
		}
		relDir = path.Join(segs...)
	}

	dir, err := fsutil.ConfineRelPath(root, relDir)
	if err != nil {
		return nil, fmt.Errorf("invalid destination %q: %w", relDir, err)
	}

	base := defaultBase(info)
	if req.FileName != "" {
		base = renderFileName(req.FileName, info, playlistTitle)
	}

	probeExt := strings.TrimPrefix(info.Ext, ".")
	if probeExt == "" {
		probeExt = "mp4"
	}

	return &resolvedOutput{
		dir:       dir,
		template:  filepath.Join(dir, base),
		probePath: filepath.Join(dir, strings.Replace(base, extPlaceholder, probeExt, 1)),
		relDir:    relDir,
	}, nil
}

func uploaderFor(info *extractor.Info) string {
	switch {
	case info.Uploader != "":
		return info.Uploader
	case info.Channel != "":
		return info.Channel
	default:
		return fallbackUploader
	}
}

func defaultBase(info *extractor.Info) string {
	title := info.Title
	if title == "" {
		title = info.ID
	}
	if title == "" {
		title = "video"
	}
	return fsutil.SafeFileName(title) + "." + extPlaceholder
}

// renderFileName expands the request's file-name template. Unknown
// placeholders stay literal; a name without an extension gets the tool's
// ext placeholder appended.
func renderFileName(tmpl string, info *extractor.Info, playlistTitle string) string {
	r := strings.NewReplacer(
		"{title}", info.Title,
		"{uploader}", uploaderFor(info),
		"{playlist}", playlistTitle,
		"{id}", info.ID,
	)
	name := fsutil.SafeFileName(r.Replace(tmpl))
	if filepath.Ext(name) == "" {
		name += "." + extPlaceholder
	}
	return name
}
