// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api is the HTTP surface of the archiver: downloads and job
// management, library listing and streaming, Drive sync and the catalog
// lifecycle, all under the /api prefix. Handlers stay thin; they parse,
// delegate to the owning component and map failures onto the wire
// error taxonomy.
package api

import (
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/ytvault/internal/api/middleware"
	"github.com/ManuGH/ytvault/internal/catalog"
	"github.com/ManuGH/ytvault/internal/config"
	"github.com/ManuGH/ytvault/internal/downloader"
	"github.com/ManuGH/ytvault/internal/drive"
	"github.com/ManuGH/ytvault/internal/health"
	"github.com/ManuGH/ytvault/internal/jobs"
	"github.com/ManuGH/ytvault/internal/log"
	"github.com/ManuGH/ytvault/internal/streaming"
)

// Deps carries the components the handlers delegate to. The drive
// fields are optional: when no OAuth client is configured they stay
// nil and the drive route group answers 401 at request time instead of
// failing at wiring time.
type Deps struct {
	Engine  *jobs.Engine
	Catalog *catalog.Service
	Scanner *catalog.Scanner
	Probe   *downloader.ProbeService
	Local   *streaming.LocalSource
	Health  *health.Manager

	Auth  *drive.Authenticator
	Drive drive.Deps
	Share *drive.ShareService
}

// Server routes HTTP requests to the component layer.
type Server struct {
	cfg    config.Config
	deps   Deps
	logger zerolog.Logger

	// oauthState is the pending OAuth CSRF token, one flow at a time.
	mu         sync.Mutex
	oauthState string
}

// New builds a server. It does not start listening; the daemon owns
// the listener lifecycle.
func New(cfg config.Config, deps Deps, logger zerolog.Logger) *Server {
	return &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With().Str(log.FieldComponent, "api").Logger(),
	}
}

// Handler returns the fully routed handler with the ingress middleware
// stack applied.
func (s *Server) Handler() http.Handler {
	return s.routes()
}

func (s *Server) newRouter() *chi.Mux {
	return middleware.NewRouter(middleware.StackConfig{
		AllowedOrigins: s.cfg.CORSAllowedOrigins,
		CSP:            middleware.DefaultCSP,
		TrustedProxies: s.parsedTrustedProxies(),
		EnableMetrics:  true,
		TracingService: "ytvault-api",
		EnableLogging:  true,
		RateLimitRPS:   s.cfg.RateLimitRPS,
		RateLimitBurst: s.cfg.RateLimitBurst,
	})
}

func (s *Server) parsedTrustedProxies() []*net.IPNet {
	if len(s.cfg.TrustedProxies) == 0 {
		return nil
	}
	proxies, err := middleware.ParseCIDRs(s.cfg.TrustedProxies)
	if err != nil {
		s.logger.Warn().Err(err).Msg("invalid trusted proxies configuration, ignoring value")
		return nil
	}
	return proxies
}

func (s *Server) routes() http.Handler {
	r := s.newRouter()

	// Liveness and metrics live outside the /api prefix.
	r.Get("/", s.handleLiveness)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", s.deps.Health.ServeHealth)
		api.Get("/health/ready", s.deps.Health.ServeReady)

		api.Post("/download", s.handleDownloadSubmit)
		api.Post("/video-info", s.handleVideoInfo)

		api.Route("/jobs", func(jr chi.Router) {
			jr.Get("/", s.handleJobList)
			jr.Get("/{id}", s.handleJobGet)
			jr.Get("/{id}/stream", s.handleJobStream)
			jr.Post("/{id}/cancel", s.handleJobCancel)
			jr.Delete("/{id}", s.handleJobDelete)
		})

		api.Route("/videos", func(vr chi.Router) {
			vr.Get("/", s.handleVideoList)
			vr.Get("/stream/*", s.handleVideoStream)
			vr.Get("/thumbnail/*", s.handleVideoThumbnail)
			vr.Post("/delete-batch", s.handleVideoDeleteBatch)

			// Paths may span directories, so the action verb rides at
			// the end of the wildcard and is stripped in the handler.
			vr.Patch("/*", s.handleVideoRename)
			vr.Post("/*", s.handleVideoSetThumbnail)
			vr.Delete("/*", s.handleVideoDelete)
		})

		api.Route("/drive", func(dr chi.Router) {
			dr.Get("/auth-status", s.handleDriveAuthStatus)
			dr.Get("/auth-url", s.handleDriveAuthURL)
			dr.Get("/oauth2callback", s.handleDriveOAuthCallback)
			dr.Post("/logout", s.handleDriveLogout)

			dr.Get("/videos", s.handleDriveVideoList)
			dr.Post("/upload/*", s.handleDriveUpload)
			dr.Post("/upload-external", s.handleDriveUploadExternal)
			dr.Post("/sync-all", s.handleDriveSyncAll)
			dr.Get("/sync-status", s.handleDriveSyncStatus)
			dr.Get("/sync-items", s.handleDriveSyncItems)

			dr.Get("/stream/{fileID}", s.handleDriveStream)
			dr.Get("/thumbnail/{fileID}", s.handleDriveThumbnail)

			dr.Post("/download", s.handleDriveDownload)
			dr.Post("/download-all", s.handleDriveDownloadAll)

			dr.Post("/videos/delete-batch", s.handleDriveDeleteBatch)
			dr.Delete("/videos/{fileID}", s.handleDriveDelete)
			dr.Patch("/videos/{fileID}/rename", s.handleDriveRename)
			dr.Post("/videos/{fileID}/thumbnail", s.handleDriveSetThumbnail)
			dr.Get("/videos/{fileID}/share", s.handleDriveShareStatus)
			dr.Post("/videos/{fileID}/share", s.handleDriveShare)
			dr.Delete("/videos/{fileID}/share", s.handleDriveUnshare)
		})

		api.Route("/catalog", func(cr chi.Router) {
			cr.Get("/status", s.handleCatalogStatus)
			cr.Post("/bootstrap-local", s.handleCatalogBootstrap)
			cr.Post("/drive/import", s.handleCatalogImport)
			cr.Post("/drive/publish", s.handleCatalogPublish)
			cr.Post("/drive/rebuild", s.handleCatalogRebuild)
		})
	})

	return r
}
