// SPDX-License-Identifier: MIT

package extractor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ManuGH/ytvault/internal/log"
)

// stderrTailLines bounds how much tool output is kept for error messages.
const stderrTailLines = 20

// Config tunes the yt-dlp wrapper. The zero value discovers the binary
// on PATH.
type Config struct {
	BinaryPath string
}

// YtDlp is the production Extractor. One instance is shared by all jobs;
// every call spawns its own process, so the type itself holds no mutable
// state beyond the resolved binary path.
type YtDlp struct {
	bin    string
	logger zerolog.Logger
}

// NewYtDlp locates the binary and returns a ready wrapper. Fails with
// ErrNotInstalled when nothing usable is on PATH.
func NewYtDlp(cfg Config, logger zerolog.Logger) (*YtDlp, error) {
	bin, err := findBinary(cfg.BinaryPath)
	if err != nil {
		return nil, err
	}
	return &YtDlp{
		bin:    bin,
		logger: logger.With().Str(log.FieldComponent, "extractor").Logger(),
	}, nil
}

func findBinary(override string) (string, error) {
	candidates := []string{"yt-dlp", "./yt-dlp"}
	if override != "" {
		candidates = []string{override}
	}
	for _, c := range candidates {
		if path, err := exec.LookPath(c); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: tried %s", ErrNotInstalled, strings.Join(candidates, ", "))
}

// Probe implements Extractor.
func (y *YtDlp) Probe(ctx context.Context, url string, h Hints) (*Info, error) {
	args := append([]string{"--dump-json", "--no-playlist", "--no-warnings"}, h.args()...)
	args = append(args, "--", url)

	out, err := y.capture(ctx, args)
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, fmt.Errorf("parse probe output: %w", err)
	}
	return &info, nil
}

// Enumerate implements Extractor. A single video comes back as a
// one-entry playlist with an empty playlist title.
func (y *YtDlp) Enumerate(ctx context.Context, url string, h Hints) (*Playlist, error) {
	args := append([]string{"--flat-playlist", "-J", "--no-warnings"}, h.args()...)
	args = append(args, "--", url)

	out, err := y.capture(ctx, args)
	if err != nil {
		return nil, err
	}
	var flat struct {
		ID       string  `json:"id"`
		Title    string  `json:"title"`
		URL      string  `json:"webpage_url"`
		Duration float64 `json:"duration"`
		Entries  []Entry `json:"entries"`
	}
	if err := json.Unmarshal(out, &flat); err != nil {
		return nil, fmt.Errorf("parse playlist output: %w", err)
	}
	if len(flat.Entries) > 0 {
		return &Playlist{Title: flat.Title, Entries: flat.Entries}, nil
	}
	if flat.ID == "" {
		return nil, fmt.Errorf("playlist output carried no entries for %s", url)
	}
	return &Playlist{Entries: []Entry{{
		ID:       flat.ID,
		Title:    flat.Title,
		URL:      flat.URL,
		Duration: flat.Duration,
	}}}, nil
}

// Download implements Extractor.
func (y *YtDlp) Download(ctx context.Context, req Request, onProgress func(Progress)) (*Result, error) {
	args := downloadArgs(req)
	y.logger.Debug().Str("url", req.URL).Strs("args", args).Msg("starting download")

	cmd := exec.CommandContext(ctx, y.bin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", y.bin, err)
	}

	parser := newLineParser(onProgress)
	var tail []string

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s := bufio.NewScanner(stdout)
		s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for s.Scan() {
			parser.parse(s.Text())
		}
	}()
	go func() {
		defer wg.Done()
		s := bufio.NewScanner(stderr)
		s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for s.Scan() {
			line := s.Text()
			tail = append(tail, line)
			if len(tail) > stderrTailLines {
				tail = tail[1:]
			}
		}
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		toolErr := classifyToolError(tail, err)
		y.logger.Warn().Err(toolErr).Str("url", req.URL).Msg("download failed")
		return nil, toolErr
	}

	parser.finish()
	return &Result{Files: parser.files, Skipped: parser.skipped}, nil
}

// capture runs the binary for a metadata call and returns stdout,
// mapping failures through the shared classifier.
func (y *YtDlp) capture(ctx context.Context, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, y.bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lines := strings.Split(strings.TrimSpace(stderr.String()), "\n")
		if len(lines) > stderrTailLines {
			lines = lines[len(lines)-stderrTailLines:]
		}
		return nil, classifyToolError(lines, err)
	}
	return stdout.Bytes(), nil
}

func (h Hints) args() []string {
	var a []string
	if h.Referer != "" {
		a = append(a, "--referer", h.Referer)
	}
	if h.Origin != "" {
		a = append(a, "--add-headers", "Origin:"+h.Origin)
	}
	if h.CookiesFile != "" {
		a = append(a, "--cookies", h.CookiesFile)
	}
	return a
}

// downloadArgs builds the argument list for one item. The info sidecar is
// always written; the catalog derives video identity from it.
func downloadArgs(req Request) []string {
	args := []string{"--newline", "--no-playlist", "--no-warnings", "--write-info-json"}

	switch {
	case req.AudioOnly:
		args = append(args, "--format", "bestaudio/best", "--extract-audio")
	case req.MaxRes > 0:
		f := fmt.Sprintf("bestvideo[height<=%d]+bestaudio/best[height<=%d]", req.MaxRes, req.MaxRes)
		args = append(args, "--format", f)
	}
	if req.Subtitles {
		args = append(args, "--write-subs")
	}
	if req.Thumbnails {
		args = append(args, "--write-thumbnail")
	}
	if req.ArchiveFile != "" {
		args = append(args, "--download-archive", req.ArchiveFile)
	}
	args = append(args, req.Hints.args()...)
	args = append(args, "--output", req.OutputPath)
	args = append(args, "--", req.URL)
	return args
}

// classifyToolError turns the stderr tail plus the exec error into a
// typed failure. The last ERROR: line is the tool's own summary.
func classifyToolError(tail []string, runErr error) error {
	msg := ""
	for _, line := range tail {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "ERROR:") {
			msg = strings.TrimSpace(strings.TrimPrefix(trimmed, "ERROR:"))
		}
	}
	low := strings.ToLower(msg)
	switch {
	case strings.Contains(low, "unsupported url"),
		strings.Contains(low, "is not a valid url"):
		return fmt.Errorf("%w: %s", ErrUnsupportedURL, msg)
	case strings.Contains(low, "video unavailable"),
		strings.Contains(low, "private video"),
		strings.Contains(low, "has been removed"),
		strings.Contains(low, "account associated with this video has been terminated"):
		return fmt.Errorf("%w: %s", ErrUnavailable, msg)
	}
	if msg != "" {
		return fmt.Errorf("yt-dlp: %s", msg)
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return fmt.Errorf("yt-dlp exited with %d", exitErr.ExitCode())
	}
	return fmt.Errorf("yt-dlp: %w", runErr)
}
