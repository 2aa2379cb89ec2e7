// SPDX-License-Identifier: MIT

package downloader

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/grafov/m3u8"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/ManuGH/ytvault/internal/extractor"
	"github.com/ManuGH/ytvault/internal/log"
)

const (
	probeCacheTTL    = 10 * time.Minute
	probeHTTPTimeout = 15 * time.Second
)

// VideoInfo is the probe response: enough to preview a URL without
// committing to a download.
type VideoInfo struct {
	Type     string  `json:"type"`
	Title    string  `json:"title"`
	Uploader string  `json:"uploader,omitempty"`
	Duration float64 `json:"duration,omitempty"`

	// Variants counts renditions when the URL is an HLS master playlist.
	Variants int `json:"variants,omitempty"`
}

// ProbeService answers metadata lookups. HLS playlists are parsed
// directly; everything else goes through the extraction tool. Answers
// are cached so repeated previews of the same URL stay cheap.
type ProbeService struct {
	ex     extractor.Extractor
	client *http.Client
	cache  *gocache.Cache
	logger zerolog.Logger
}

// NewProbeService builds a probe service around the given extractor.
func NewProbeService(ex extractor.Extractor, logger zerolog.Logger) *ProbeService {
	return &ProbeService{
		ex:     ex,
		client: &http.Client{Timeout: probeHTTPTimeout},
		cache:  gocache.New(probeCacheTTL, 2*probeCacheTTL),
		logger: logger.With().Str(log.FieldComponent, "probe").Logger(),
	}
}

// Probe inspects a URL and reports what it points at.
func (s *ProbeService) Probe(ctx context.Context, rawURL string) (*VideoInfo, error) {
	if cached, ok := s.cache.Get(rawURL); ok {
		if info, ok := cached.(*VideoInfo); ok {
			return info, nil
		}
	}

	var (
		info *VideoInfo
		err  error
	)
	if isHLSURL(rawURL) {
		info, err = s.probeHLS(ctx, rawURL)
	} else {
		info, err = s.probeExtractor(ctx, rawURL)
	}
	if err != nil {
		return nil, err
	}

	s.cache.Set(rawURL, info, gocache.DefaultExpiration)
	s.logger.Debug().
		Str(log.FieldURL, rawURL).
		Str("type", info.Type).
		Msg("probe resolved")
	return info, nil
}

func isHLSURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".m3u8")
}

func (s *ProbeService) probeHLS(ctx context.Context, rawURL string) (*VideoInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build playlist request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch playlist: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch playlist: status %d", resp.StatusCode)
	}

	p, listType, err := m3u8.DecodeFrom(resp.Body, true)
	if err != nil {
		return nil, fmt.Errorf("parse playlist: %w", err)
	}
	info := &VideoInfo{Type: "hls", Title: hlsTitle(rawURL)}
	switch listType {
	case m3u8.MASTER:
		masterPl := p.(*m3u8.MasterPlaylist)
		for _, variant := range masterPl.Variants {
			if variant == nil {
				break
			}
			info.Variants++
		}
	case m3u8.MEDIA:
		mediaPl := p.(*m3u8.MediaPlaylist)
		for _, segment := range mediaPl.Segments {
			if segment == nil {
				break
			}
			info.Duration += segment.Duration
		}
	default:
		return nil, fmt.Errorf("unrecognized playlist type")
	}
	return info, nil
}

func (s *ProbeService) probeExtractor(ctx context.Context, rawURL string) (*VideoInfo, error) {
	meta, err := s.ex.Probe(ctx, rawURL, extractor.Hints{})
	if err != nil {
		return nil, err
	}
	info := &VideoInfo{
		Type:     meta.Extractor,
		Title:    meta.Title,
		Uploader: meta.Uploader,
		Duration: meta.Duration,
	}
	if info.Type == "" {
		info.Type = "unknown"
	}
	if info.Uploader == "" {
		info.Uploader = meta.Channel
	}
	return info, nil
}

func hlsTitle(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	base := path.Base(u.Path)
	return strings.TrimSuffix(base, path.Ext(base))
}
