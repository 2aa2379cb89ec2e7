// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package drive

import (
	"strings"
	"testing"
)

func TestEscapeName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"Tom's Clips", `Tom\'s Clips`},
		{"I'm Always by Your Side", `I\'m Always by Your Side`},
		{"it''s", `it\'\'s`},
		{`back\slash`, `back\\slash`},
		{`trick\'`, `trick\\\'`},
		{"", ""},
	}
	for _, tc := range cases {
		if got := EscapeName(tc.in); got != tc.want {
			t.Errorf("EscapeName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFolderQueryEscapesApostrophes(t *testing.T) {
	q := folderQuery("parent123", "Tom's Clips")
	want := `name = 'Tom\'s Clips' and mimeType = 'application/vnd.google-apps.folder' and 'parent123' in parents and trashed = false`
	if q != want {
		t.Errorf("folderQuery:\n got  %s\n want %s", q, want)
	}
}

func TestFileQueryShape(t *testing.T) {
	q := fileQuery("p1", "clip.mp4")
	if !strings.Contains(q, "name = 'clip.mp4'") ||
		!strings.Contains(q, "mimeType != 'application/vnd.google-apps.folder'") ||
		!strings.Contains(q, "'p1' in parents") ||
		!strings.Contains(q, "trashed = false") {
		t.Errorf("fileQuery missing clauses: %s", q)
	}
}

func TestChildrenQueryShape(t *testing.T) {
	q := childrenQuery("p2")
	if q != "'p2' in parents and trashed = false" {
		t.Errorf("childrenQuery = %s", q)
	}
}
