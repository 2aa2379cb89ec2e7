// SPDX-License-Identifier: MIT

package extractor

import (
	"regexp"
	"strconv"
	"strings"
)

// Example: [download]  45.3% of 3.33MiB at 512.34KiB/s ETA 00:12
var (
	progressFullRe   = regexp.MustCompile(`(?i)\[download\]\s+([0-9.]+)%.*?at\s+([0-9.]+\S*B/s).*?ETA\s+([0-9:]{2,8})`)
	progressSimpleRe = regexp.MustCompile(`(?i)\[download\]\s+([0-9.]+)%`)

	destinationRe  = regexp.MustCompile(`^\[download\] Destination: (.+)$`)
	mergerRe       = regexp.MustCompile(`^\[Merger\] Merging formats into "(.+)"$`)
	extractAudioRe = regexp.MustCompile(`^\[ExtractAudio\] Destination: (.+)$`)
	moveRe         = regexp.MustCompile(`^\[MoveFiles\] Moving file "(.+)" to "(.+)"$`)
	infoJSONRe     = regexp.MustCompile(`^\[info\] Writing video metadata as JSON to: (.+)$`)
	subtitleRe     = regexp.MustCompile(`^\[info\] Writing video subtitles to: (.+)$`)
	thumbnailRe    = regexp.MustCompile(`^\[info\] Writing video thumbnail .*to: (.+)$`)
	alreadyDoneRe  = regexp.MustCompile(`^\[download\] (.+) has already been downloaded$`)
	archiveHitRe   = regexp.MustCompile(`has already been recorded in (?:the )?archive`)
)

// postprocessorPrefixes flip the stage once downloading is over. yt-dlp
// names its postprocessors inside brackets at line start.
var postprocessorPrefixes = []string{
	"[Merger]", "[ExtractAudio]", "[EmbedThumbnail]", "[EmbedSubtitle]",
	"[Fixup", "[MoveFiles]", "[Metadata]",
}

// lineParser folds the tool's line output into progress callbacks and a
// produced-file list. Not safe for concurrent use; Download feeds it from
// a single consumer loop.
type lineParser struct {
	onProgress func(Progress)

	stage       Stage
	lastPercent float64
	files       []string
	seen        map[string]struct{}
	skipped     bool
}

func newLineParser(onProgress func(Progress)) *lineParser {
	return &lineParser{
		onProgress: onProgress,
		stage:      StageDownloading,
		seen:       make(map[string]struct{}),
	}
}

func (p *lineParser) parse(line string) {
	line = strings.TrimRight(line, "\r")

	if m := destinationRe.FindStringSubmatch(line); m != nil {
		p.addFile(m[1])
		return
	}
	if m := alreadyDoneRe.FindStringSubmatch(line); m != nil {
		p.addFile(m[1])
		return
	}
	if m := mergerRe.FindStringSubmatch(line); m != nil {
		p.setStage(StagePostprocessing)
		p.addFile(m[1])
		return
	}
	if m := extractAudioRe.FindStringSubmatch(line); m != nil {
		p.setStage(StagePostprocessing)
		p.addFile(m[1])
		return
	}
	if m := moveRe.FindStringSubmatch(line); m != nil {
		p.setStage(StagePostprocessing)
		p.renameFile(m[1], m[2])
		return
	}
	if m := infoJSONRe.FindStringSubmatch(line); m != nil {
		p.addFile(m[1])
		return
	}
	if m := subtitleRe.FindStringSubmatch(line); m != nil {
		p.addFile(m[1])
		return
	}
	if m := thumbnailRe.FindStringSubmatch(line); m != nil {
		p.addFile(m[1])
		return
	}
	if archiveHitRe.MatchString(line) {
		p.skipped = true
		return
	}
	for _, prefix := range postprocessorPrefixes {
		if strings.HasPrefix(line, prefix) {
			p.setStage(StagePostprocessing)
			return
		}
	}

	if m := progressFullRe.FindStringSubmatch(line); m != nil {
		if pct, ok := parsePercent(m[1]); ok {
			p.emit(Progress{
				Stage:      p.stage,
				Percent:    pct,
				Speed:      m[2],
				ETASeconds: parseClock(m[3]),
			})
		}
		return
	}
	if m := progressSimpleRe.FindStringSubmatch(line); m != nil {
		if pct, ok := parsePercent(m[1]); ok {
			p.emit(Progress{Stage: p.stage, Percent: pct, ETASeconds: -1})
		}
	}
}

// finish emits the terminal stage once the process exited cleanly.
func (p *lineParser) finish() {
	p.stage = StageFinished
	p.emit(Progress{Stage: StageFinished, Percent: 100, ETASeconds: 0})
}

func (p *lineParser) emit(pr Progress) {
	p.lastPercent = pr.Percent
	if p.onProgress != nil {
		p.onProgress(pr)
	}
}

func (p *lineParser) setStage(s Stage) {
	if p.stage == s {
		return
	}
	p.stage = s
	// Stage flips are worth an emission even without a new percent.
	p.emit(Progress{Stage: s, Percent: p.lastPercent, ETASeconds: -1})
}

func (p *lineParser) addFile(path string) {
	path = strings.TrimSpace(path)
	if path == "" {
		return
	}
	if _, ok := p.seen[path]; ok {
		return
	}
	p.seen[path] = struct{}{}
	p.files = append(p.files, path)
}

// renameFile tracks postprocessor moves so the final list points at the
// paths that actually exist.
func (p *lineParser) renameFile(from, to string) {
	if _, ok := p.seen[from]; ok {
		delete(p.seen, from)
		for i, f := range p.files {
			if f == from {
				p.files[i] = to
				p.seen[to] = struct{}{}
				return
			}
		}
	}
	p.addFile(to)
}

func parsePercent(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || v > 100 {
		return 0, false
	}
	return v, true
}

// parseClock converts the tool's mm:ss or hh:mm:ss ETA to seconds,
// returning -1 when the shape is unknown.
func parseClock(s string) int {
	parts := strings.Split(s, ":")
	vals := make([]int, 0, 3)
	for _, part := range parts {
		v, err := strconv.Atoi(part)
		if err != nil || v < 0 {
			return -1
		}
		vals = append(vals, v)
	}
	switch len(vals) {
	case 2:
		return vals[0]*60 + vals[1]
	case 3:
		return vals[0]*3600 + vals[1]*60 + vals[2]
	default:
		return -1
	}
}
