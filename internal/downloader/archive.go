// SPDX-License-Identifier: MIT

package downloader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
)

// Archive is the one-line-per-item download ledger shared with the
// extraction tool: `source id` per line, e.g. "youtube dQw4w9WgXcQ".
// The tool appends entries itself when invoked with the archive flag;
// Append covers items it did not record. Writes go through an atomic
// replace so a crash never leaves a torn file.
type Archive struct {
	path string
	mu   sync.Mutex
}

func NewArchive(path string) *Archive {
	return &Archive{path: path}
}

// Path returns the backing file location, for handing to the tool.
func (a *Archive) Path() string { return a.path }

// Contains reports whether source/id is already recorded. A missing
// file simply means an empty archive.
func (a *Archive) Contains(source, id string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	lines, err := a.read()
	if err != nil {
		return false, err
	}
	return lines.contains(entry(source, id)), nil
}

// Append records source/id unless it is already present.
func (a *Archive) Append(source, id string) error {
	if source == "" || id == "" {
		return fmt.Errorf("archive entry needs source and id")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	lines, err := a.read()
	if err != nil {
		return err
	}
	e := entry(source, id)
	if lines.contains(e) {
		return nil
	}

	var b strings.Builder
	for _, line := range lines.ordered {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString(e)
	b.WriteByte('\n')

	if err := os.MkdirAll(filepath.Dir(a.path), 0o750); err != nil {
		return fmt.Errorf("archive dir: %w", err)
	}
	if err := renameio.WriteFile(a.path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("archive write: %w", err)
	}
	return nil
}

func entry(source, id string) string {
	return source + " " + id
}

type archiveLines struct {
	set     map[string]struct{}
	ordered []string
}

func (l archiveLines) contains(e string) bool {
	_, ok := l.set[e]
	return ok
}

func (a *Archive) read() (archiveLines, error) {
	lines := archiveLines{set: make(map[string]struct{})}
	data, err := os.ReadFile(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return lines, nil
		}
		return lines, fmt.Errorf("archive read: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if _, ok := lines.set[line]; ok {
			continue
		}
		lines.set[line] = struct{}{}
		lines.ordered = append(lines.ordered, line)
	}
	return lines, nil
}
