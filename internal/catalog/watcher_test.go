// SPDX-License-Identifier: MIT

package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestWatcherTriggersRescan(t *testing.T) {
	root := t.TempDir()
	changed := make(chan struct{}, 1)

	w := NewWatcher(root, 50*time.Millisecond, func(context.Context) {
		select {
		case changed <- struct{}{}:
		default:
		}
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(w.Stop)

	writeFile(t, root, "clip.mp4", "bytes")

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("rescan not triggered after file creation")
	}
}

func TestWatcherIgnoreRules(t *testing.T) {
	w := NewWatcher("/data/downloads", time.Second, nil, zerolog.Nop())

	tests := []struct {
		path   string
		ignore bool
	}{
		{"/data/downloads/movie.mp4", false},
		{"/data/downloads/Curso/Aula 01.mp4", false},
		{"/data/downloads/movie.mp4.part", true},
		{"/data/downloads/fragment.ytdl", true},
		{"/data/downloads/archive.txt", true},
		{"/data/downloads/.catalog/snapshot.gz", true},
		{"/data/downloads/sub/.hidden/x.mp4", true},
		{"/elsewhere/file.mp4", true},
	}
	for _, tt := range tests {
		if got := w.ignore(tt.path); got != tt.ignore {
			t.Errorf("ignore(%q) = %t, want %t", tt.path, got, tt.ignore)
		}
	}
}
