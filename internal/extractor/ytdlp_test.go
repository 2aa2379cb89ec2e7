// SPDX-License-Identifier: MIT

package extractor

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"testing"
)

func TestDownloadArgsDefaults(t *testing.T) {
	args := downloadArgs(Request{
		URL:        "https://youtube.com/watch?v=abc",
		OutputPath: "/dl/%(uploader)s/%(title)s.%(ext)s",
	})

	joined := strings.Join(args, " ")
	for _, want := range []string{"--newline", "--no-playlist", "--write-info-json"} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing %s in %q", want, joined)
		}
	}
	for _, unwanted := range []string{"--write-subs", "--write-thumbnail", "--download-archive", "--format"} {
		if strings.Contains(joined, unwanted) {
			t.Errorf("unexpected %s in %q", unwanted, joined)
		}
	}
	// The URL sits after the terminator so option-shaped URLs cannot be
	// misread as flags.
	if args[len(args)-2] != "--" || args[len(args)-1] != "https://youtube.com/watch?v=abc" {
		t.Errorf("tail = %v", args[len(args)-2:])
	}
}

func TestDownloadArgsQualityControls(t *testing.T) {
	t.Run("max res caps both streams", func(t *testing.T) {
		args := strings.Join(downloadArgs(Request{URL: "u", OutputPath: "o", MaxRes: 720}), " ")
		if !strings.Contains(args, "bestvideo[height<=720]+bestaudio/best[height<=720]") {
			t.Errorf("args %q", args)
		}
	})
	t.Run("audio only wins over max res", func(t *testing.T) {
		args := strings.Join(downloadArgs(Request{URL: "u", OutputPath: "o", AudioOnly: true, MaxRes: 720}), " ")
		if !strings.Contains(args, "--extract-audio") {
			t.Errorf("args %q", args)
		}
		if strings.Contains(args, "height<=720") {
			t.Errorf("resolution cap applied to audio download: %q", args)
		}
	})
}

func TestDownloadArgsSidecarsAndArchive(t *testing.T) {
	args := strings.Join(downloadArgs(Request{
		URL:         "u",
		OutputPath:  "o",
		Subtitles:   true,
		Thumbnails:  true,
		ArchiveFile: "/data/archive.txt",
	}), " ")

	for _, want := range []string{"--write-subs", "--write-thumbnail", "--download-archive /data/archive.txt"} {
		if !strings.Contains(args, want) {
			t.Errorf("missing %q in %q", want, args)
		}
	}
}

func TestHintsArgs(t *testing.T) {
	if got := (Hints{}).args(); len(got) != 0 {
		t.Errorf("empty hints produced %v", got)
	}

	got := Hints{
		Referer:     "https://example.com/page",
		Origin:      "https://example.com",
		CookiesFile: "/data/cookies.txt",
	}.args()
	want := []string{
		"--referer", "https://example.com/page",
		"--add-headers", "Origin:https://example.com",
		"--cookies", "/data/cookies.txt",
	}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("hints = %v, want %v", got, want)
	}
}

func TestClassifyToolError(t *testing.T) {
	exit := fmt.Errorf("exit status 1")
	cases := []struct {
		name string
		tail []string
		want error
	}{
		{
			name: "unsupported url",
			tail: []string{"ERROR: Unsupported URL: ftp://nope"},
			want: ErrUnsupportedURL,
		},
		{
			name: "not a valid url",
			tail: []string{"ERROR: 'xyz' is not a valid URL."},
			want: ErrUnsupportedURL,
		},
		{
			name: "removed video",
			tail: []string{"ERROR: [youtube] abc: Video unavailable. This video has been removed"},
			want: ErrUnavailable,
		},
		{
			name: "private video",
			tail: []string{"WARNING: something", "ERROR: Private video. Sign in if you've been granted access"},
			want: ErrUnavailable,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classifyToolError(tc.tail, exit)
			if !errors.Is(err, tc.want) {
				t.Errorf("classify(%v) = %v, want %v", tc.tail, err, tc.want)
			}
		})
	}
}

func TestClassifyToolErrorUsesLastErrorLine(t *testing.T) {
	tail := []string{
		"ERROR: fragment 3 not found",
		"retrying",
		"ERROR: giving up after 10 retries",
	}
	err := classifyToolError(tail, fmt.Errorf("exit status 1"))
	if !strings.Contains(err.Error(), "giving up after 10 retries") {
		t.Errorf("err = %v", err)
	}
	if errors.Is(err, ErrUnsupportedURL) || errors.Is(err, ErrUnavailable) {
		t.Errorf("generic failure classified as typed: %v", err)
	}
}

func TestClassifyToolErrorWithoutStderr(t *testing.T) {
	err := classifyToolError(nil, &exec.ExitError{})
	if err == nil {
		t.Fatal("nil error")
	}
}

func TestFindBinaryMissingOverride(t *testing.T) {
	_, err := findBinary("/nonexistent/yt-dlp-test-binary")
	if !errors.Is(err, ErrNotInstalled) {
		t.Errorf("err = %v", err)
	}
}
