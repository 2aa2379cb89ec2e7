// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/ytvault/internal/api"
	"github.com/ManuGH/ytvault/internal/catalog"
	"github.com/ManuGH/ytvault/internal/config"
	"github.com/ManuGH/ytvault/internal/daemon"
	"github.com/ManuGH/ytvault/internal/downloader"
	"github.com/ManuGH/ytvault/internal/drive"
	"github.com/ManuGH/ytvault/internal/extractor"
	"github.com/ManuGH/ytvault/internal/health"
	"github.com/ManuGH/ytvault/internal/jobs"
	"github.com/ManuGH/ytvault/internal/log"
	"github.com/ManuGH/ytvault/internal/streaming"
	"github.com/ManuGH/ytvault/internal/telemetry"
	"github.com/ManuGH/ytvault/internal/types"
)

var (
	version   = "v2.0.0"
	commit    = "none"
	buildDate = "unknown"
)

// notInstalled satisfies Extractor when no usable binary exists, so probe
// and download requests fail with the real cause instead of a nil panic.
type notInstalled struct {
	err error
}

func (n notInstalled) Probe(context.Context, string, extractor.Hints) (*extractor.Info, error) {
	return nil, n.err
}

func (n notInstalled) Enumerate(context.Context, string, extractor.Hints) (*extractor.Playlist, error) {
	return nil, n.err
}

func (n notInstalled) Download(context.Context, extractor.Request, func(extractor.Progress)) (*extractor.Result, error) {
	return nil, n.err
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// The logger configures once; level and format come from the
	// environment here and the file-set level is applied after load.
	log.Configure(log.Config{Service: "ytvault"})
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadFrom(strings.TrimSpace(*configPath))
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Msg("failed to load configuration")
	}
	if cfg.LogLevel != "" {
		if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
			zerolog.SetGlobalLevel(lvl)
		}
	}

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "startup.check_failed").
			Msg("Startup checks failed. Please verify configuration and permissions.")
	}

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.OTelEnabled,
		ServiceName:    "ytvault",
		ServiceVersion: version,
		Environment:    config.ParseString("OTEL_ENVIRONMENT", "production"),
		ExporterType:   cfg.OTelExporter,
		Endpoint:       cfg.OTelEndpoint,
		SamplingRate:   cfg.OTelSampleRate,
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "telemetry.init_failed").
			Msg("failed to initialise tracing")
	}

	serverCfg := config.ParseServerConfig(cfg)

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("addr", serverCfg.ListenAddr).
		Msg("starting ytvault")

	// Job store and queue. The remote backend shares one job table and
	// one work queue between api and worker processes.
	var (
		store jobs.Store
		queue jobs.Queue
	)
	switch cfg.JobStoreBackend {
	case config.BackendRemoteKV:
		rcfg := jobs.RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
		store, err = jobs.NewRedisStore(rcfg, log.Base())
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect job store")
		}
		queue, err = jobs.NewRedisQueue(rcfg, log.Base())
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect job queue")
		}
	default:
		store = jobs.NewMemoryStore()
	}

	engine := jobs.NewEngine(jobs.Options{
		Store:           store,
		Queue:           queue,
		Pools:           jobs.NewPools(cfg.PoolSize),
		IsWorker:        cfg.IsWorker(),
		Expiry:          time.Duration(cfg.JobExpiryHours) * time.Hour,
		CleanupInterval: cfg.JobCleanupInterval,
		Logger:          log.Base(),
	})

	// Catalog: store, service and the downloads-root scanner.
	catStore, err := catalog.NewStore(cfg.CatalogDBPath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("path", cfg.CatalogDBPath).
			Msg("failed to open catalog database")
	}
	catSvc := catalog.NewService(catalog.Options{
		Store:         catStore,
		AutoPublish:   cfg.AutoPublish,
		RequireImport: cfg.RequireImportBeforePublish,
		Logger:        log.Base(),
	})
	scanner := catalog.NewScanner(cfg.DownloadsDir, log.Base())

	// Extractor. A missing binary downgrades downloads to clear runtime
	// errors; streaming and catalog stay up.
	var ext extractor.Extractor
	if ytdlp, exErr := extractor.NewYtDlp(extractor.Config{BinaryPath: cfg.YTDLPPath}, log.Base()); exErr != nil {
		logger.Warn().Err(exErr).Msg("extractor unavailable; download jobs will fail until installed")
		ext = notInstalled{err: exErr}
	} else {
		ext = ytdlp
	}
	archive := downloader.NewArchive(cfg.ArchiveFile)
	probe := downloader.NewProbeService(ext, log.Base())

	// Drive is optional: without readable credentials the drive route
	// group answers 401 and no drive job factories are registered.
	var (
		auth      *drive.Authenticator
		driveDeps drive.Deps
		share     *drive.ShareService
	)
	if authCfg, credErr := drive.CredentialsFromFile(cfg.DriveCredentialsFile, cfg.DriveRedirectURL, cfg.DriveTokenFile); credErr != nil {
		logger.Warn().
			Err(credErr).
			Str("path", cfg.DriveCredentialsFile).
			Msg("Drive credentials unavailable; Drive endpoints disabled")
	} else {
		auth = drive.NewAuthenticator(authCfg, log.Base())
		client, cliErr := drive.NewClient(ctx, auth, drive.Config{
			RootFolderName: cfg.DriveRootFolder,
			Concurrency:    cfg.DriveConcurrency,
		}, log.Base())
		if cliErr != nil {
			logger.Fatal().Err(cliErr).Msg("failed to build Drive client")
		}
		driveDeps = drive.Deps{
			Client:       client,
			Catalog:      catSvc,
			Transport:    drive.NewSnapshotStore(client),
			DownloadRoot: cfg.DownloadsDir,
		}
		share = drive.NewShareService(client, catStore)
	}

	// Factories register on every role: the api role dry-runs them to
	// validate submissions before enqueueing.
	engine.Register(types.JobTypeDownload, downloader.Factory(downloader.Deps{
		Extractor: ext,
		Catalog:   catSvc,
		Archive:   archive,
		Root:      cfg.DownloadsDir,
	}))
	if driveDeps.Client != nil {
		engine.Register(types.JobTypeDriveUpload, drive.UploadFactory(driveDeps))
		engine.Register(types.JobTypeDriveUploadBatch, drive.UploadBatchFactory(driveDeps))
		engine.Register(types.JobTypeDriveDownload, drive.DownloadFactory(driveDeps))
		engine.Register(types.JobTypeDriveDownloadBatch, drive.DownloadBatchFactory(driveDeps))
		engine.Register(types.JobTypeDriveCleanup, drive.CleanupFactory(driveDeps))
		engine.Register(types.JobTypeCatalogPublish, catalog.PublishFactory(catSvc, driveDeps.Transport))
		engine.Register(types.JobTypeCatalogImport, catalog.ImportFactory(catSvc, driveDeps.Transport))
		engine.Register(types.JobTypeCatalogRebuild, catalog.RebuildFactory(catSvc, drive.NewLister(driveDeps.Client), driveDeps.Transport))
	}

	hm := health.NewManager(version)
	hm.RegisterChecker(health.NewPingChecker("jobs_store", store.Ping))
	hm.RegisterChecker(health.NewDirChecker("downloads_dir", cfg.DownloadsDir))
	hm.RegisterChecker(health.NewPingChecker("catalog_db", catStore.Ping))
	if auth != nil {
		hm.RegisterChecker(health.NewTokenFileChecker(cfg.DriveTokenFile))
	}

	logger.Info().Msgf("→ Downloads dir: %s", cfg.DownloadsDir)
	logger.Info().Msgf("→ Data dir: %s", cfg.DataDir)
	logger.Info().Msgf("→ Role: %s (job store: %s)", cfg.Role, cfg.JobStoreBackend)
	if auth != nil {
		logger.Info().Msgf("→ Drive: configured (root folder: %s)", cfg.DriveRootFolder)
	} else {
		logger.Info().Msg("→ Drive: disabled (no credentials)")
	}

	srv := api.New(cfg, api.Deps{
		Engine:  engine,
		Catalog: catSvc,
		Scanner: scanner,
		Probe:   probe,
		Local:   streaming.NewLocalSource(cfg.DownloadsDir),
		Health:  hm,
		Auth:    auth,
		Drive:   driveDeps,
		Share:   share,
	}, log.Base())

	mgr, err := daemon.NewManager(serverCfg, daemon.Deps{
		Logger:     logger,
		APIHandler: srv.Handler(),
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "manager.creation.failed").
			Msg("failed to create daemon manager")
	}

	// Shutdown hooks run LIFO: the engine drains before its backends close
	// and the trace exporter flushes last.
	mgr.RegisterShutdownHook("telemetry", tp.Shutdown)
	mgr.RegisterShutdownHook("catalog-store", func(context.Context) error { return catStore.Close() })
	mgr.RegisterShutdownHook("job-store", func(context.Context) error { return store.Close() })
	if queue != nil {
		mgr.RegisterShutdownHook("job-queue", func(context.Context) error { return queue.Close() })
	}
	mgr.RegisterShutdownHook("job-engine", func(context.Context) error { engine.Stop(); return nil })

	engine.Start(ctx)

	// A worker can watch the downloads root so manual file drops surface
	// in the catalog without an explicit bootstrap call.
	if cfg.IsWorker() && cfg.WatchDownloads {
		watcher := catalog.NewWatcher(cfg.DownloadsDir, 0, func(wctx context.Context) {
			if _, err := catSvc.BootstrapLocal(wctx, scanner); err != nil {
				logger.Error().Err(err).Msg("watcher rescan failed")
			}
		}, log.Base())
		if err := watcher.Start(ctx); err != nil {
			logger.Error().Err(err).Msg("downloads watcher failed to start")
		}
	}

	if err := mgr.Start(ctx); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "manager.failed").
			Msg("daemon failed")
	}

	logger.Info().Msg("server exiting")
}
