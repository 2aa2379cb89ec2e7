// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config assembles the process configuration from defaults, an
// optional YAML overlay file, and environment variables. Precedence is
// environment > file > defaults.
package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"time"

	"github.com/ManuGH/ytvault/internal/types"
)

// Role declares which background responsibilities this process takes on.
type Role string

// Process roles.
const (
	// RoleAPI serves HTTP only; jobs are enqueued for a worker process.
	RoleAPI Role = "api"

	// RoleWorker executes jobs and periodic maintenance loops. It also
	// serves HTTP, which makes it the default for single-process setups.
	RoleWorker Role = "worker"
)

// IsValid checks whether the role is one of the defined constants.
func (r Role) IsValid() bool {
	return r == RoleAPI || r == RoleWorker
}

// Job store backends.
const (
	// BackendMemory keeps job records in an in-process map.
	BackendMemory = "memory"

	// BackendRemoteKV keeps job records in a Redis-compatible store so
	// that api and worker processes share one job table.
	BackendRemoteKV = "remote_kv"
)

// Config is the complete runtime configuration.
type Config struct {
	// Service
	ListenAddr string `yaml:"listen_addr"`
	Role       Role   `yaml:"role"`
	DataDir    string `yaml:"data_dir"`
	MaxConns   int    `yaml:"max_conns"`

	// Jobs
	JobStoreBackend    string        `yaml:"job_store_backend"`
	JobExpiryHours     int           `yaml:"job_expiry_hours"`
	JobCleanupInterval time.Duration `yaml:"job_cleanup_interval"`
	DriveConcurrency   int           `yaml:"blocking_drive_concurrency"`
	FSConcurrency      int           `yaml:"blocking_fs_concurrency"`
	CatalogConcurrency int           `yaml:"blocking_catalog_concurrency"`

	// Redis (remote_kv backend)
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// Catalog
	CatalogEnabled             bool   `yaml:"catalog_enabled"`
	CatalogDBPath              string `yaml:"catalog_db_path"`
	AutoPublish                bool   `yaml:"catalog_drive_auto_publish"`
	RequireImportBeforePublish bool   `yaml:"catalog_drive_require_import_before_publish"`
	WatchDownloads             bool   `yaml:"watch_downloads"`

	// Downloads
	DownloadsDir string `yaml:"downloads_dir"`
	ArchiveFile  string `yaml:"archive_file"`
	YTDLPPath    string `yaml:"ytdlp_path"`

	// Drive
	DriveCredentialsFile string `yaml:"drive_credentials_file"`
	DriveTokenFile       string `yaml:"drive_token_file"`
	DriveRootFolder      string `yaml:"drive_root_folder"`
	DriveRedirectURL     string `yaml:"drive_redirect_url"`

	// HTTP hardening
	RateLimitRPS       int      `yaml:"rate_limit_rps"`
	RateLimitBurst     int      `yaml:"rate_limit_burst"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	TrustedProxies     []string `yaml:"trusted_proxies"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Telemetry
	OTelEnabled    bool    `yaml:"otel_enabled"`
	OTelExporter   string  `yaml:"otel_exporter"`
	OTelEndpoint   string  `yaml:"otel_endpoint"`
	OTelSampleRate float64 `yaml:"otel_sample_rate"`
}

// Default returns the configuration defaults for a single-process setup.
func Default() Config {
	return Config{
		ListenAddr: ":8080",
		Role:       RoleWorker,
		DataDir:    "./data",
		MaxConns:   256,

		JobStoreBackend:    BackendMemory,
		JobExpiryHours:     24,
		JobCleanupInterval: 5 * time.Minute,
		DriveConcurrency:   3,
		FSConcurrency:      2,
		CatalogConcurrency: 4,

		RedisAddr: "",
		RedisDB:   0,

		CatalogEnabled:             true,
		CatalogDBPath:              "", // derived from DataDir when empty
		AutoPublish:                true,
		RequireImportBeforePublish: false,
		WatchDownloads:             false,

		DownloadsDir: "./downloads",
		ArchiveFile:  "", // derived from DownloadsDir when empty
		YTDLPPath:    "yt-dlp",

		DriveCredentialsFile: "credentials.json",
		DriveTokenFile:       "token.json",
		DriveRootFolder:      "YouTube Archiver",
		DriveRedirectURL:     "", // derived from ListenAddr when empty

		RateLimitRPS:       20,
		RateLimitBurst:     40,
		CORSAllowedOrigins: nil,
		TrustedProxies:     nil,

		LogLevel:  "info",
		LogFormat: "json",

		OTelEnabled:    false,
		OTelExporter:   "grpc",
		OTelEndpoint:   "localhost:4317",
		OTelSampleRate: 0.1,
	}
}

// Load builds the effective configuration: defaults, then the optional YAML
// overlay named by CONFIG_FILE, then environment variables.
func Load() (Config, error) {
	return LoadFrom("")
}

// LoadFrom is Load with an explicit overlay path that takes precedence over
// the CONFIG_FILE variable. An empty path falls back to the variable.
func LoadFrom(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = ParseString("CONFIG_FILE", "")
	}
	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	cfg.applyDerived()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto cfg. Each ParseX call uses the
// current field value as the default, which yields env > file > defaults.
func applyEnv(cfg *Config) {
	cfg.ListenAddr = ParseString("LISTEN_ADDR", cfg.ListenAddr)
	cfg.Role = Role(ParseString("WORKER_ROLE", string(cfg.Role)))
	cfg.DataDir = ParseString("DATA_DIR", cfg.DataDir)
	cfg.MaxConns = ParseInt("MAX_CONNS", cfg.MaxConns)

	cfg.JobStoreBackend = ParseString("JOB_STORE_BACKEND", cfg.JobStoreBackend)
	cfg.JobExpiryHours = ParseInt("JOB_EXPIRY_HOURS", cfg.JobExpiryHours)
	cfg.JobCleanupInterval = ParseDuration("JOB_CLEANUP_INTERVAL", cfg.JobCleanupInterval)
	cfg.DriveConcurrency = ParseInt("BLOCKING_DRIVE_CONCURRENCY", cfg.DriveConcurrency)
	cfg.FSConcurrency = ParseInt("BLOCKING_FS_CONCURRENCY", cfg.FSConcurrency)
	cfg.CatalogConcurrency = ParseInt("BLOCKING_CATALOG_CONCURRENCY", cfg.CatalogConcurrency)

	cfg.RedisAddr = ParseString("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = ParseString("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = ParseInt("REDIS_DB", cfg.RedisDB)

	cfg.CatalogEnabled = ParseBool("CATALOG_ENABLED", cfg.CatalogEnabled)
	cfg.CatalogDBPath = ParseString("CATALOG_DB_PATH", cfg.CatalogDBPath)
	cfg.AutoPublish = ParseBool("CATALOG_DRIVE_AUTO_PUBLISH", cfg.AutoPublish)
	cfg.RequireImportBeforePublish = ParseBool("CATALOG_DRIVE_REQUIRE_IMPORT_BEFORE_PUBLISH", cfg.RequireImportBeforePublish)
	cfg.WatchDownloads = ParseBool("WATCH_DOWNLOADS", cfg.WatchDownloads)

	cfg.DownloadsDir = ParseString("DOWNLOADS_DIR", cfg.DownloadsDir)
	cfg.ArchiveFile = ParseString("ARCHIVE_FILE", cfg.ArchiveFile)
	cfg.YTDLPPath = ParseString("YTDLP_PATH", cfg.YTDLPPath)

	cfg.DriveCredentialsFile = ParseString("DRIVE_CREDENTIALS_FILE", cfg.DriveCredentialsFile)
	cfg.DriveTokenFile = ParseString("DRIVE_TOKEN_FILE", cfg.DriveTokenFile)
	cfg.DriveRootFolder = ParseString("DRIVE_ROOT_FOLDER", cfg.DriveRootFolder)
	cfg.DriveRedirectURL = ParseString("DRIVE_REDIRECT_URL", cfg.DriveRedirectURL)

	cfg.RateLimitRPS = ParseInt("RATE_LIMIT_RPS", cfg.RateLimitRPS)
	cfg.RateLimitBurst = ParseInt("RATE_LIMIT_BURST", cfg.RateLimitBurst)
	if origins := ParseString("CORS_ALLOWED_ORIGINS", ""); origins != "" {
		cfg.CORSAllowedOrigins = splitAndTrim(origins)
	}
	if proxies := ParseString("TRUSTED_PROXIES", ""); proxies != "" {
		cfg.TrustedProxies = splitAndTrim(proxies)
	}

	cfg.LogLevel = ParseString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = ParseString("LOG_FORMAT", cfg.LogFormat)

	cfg.OTelEnabled = ParseBool("OTEL_ENABLED", cfg.OTelEnabled)
	cfg.OTelExporter = ParseString("OTEL_EXPORTER", cfg.OTelExporter)
	cfg.OTelEndpoint = ParseString("OTEL_ENDPOINT", cfg.OTelEndpoint)
	cfg.OTelSampleRate = ParseFloat("OTEL_SAMPLE_RATE", cfg.OTelSampleRate)
}

// applyDerived fills paths that default relative to other settings.
func (c *Config) applyDerived() {
	if c.CatalogDBPath == "" {
		c.CatalogDBPath = filepath.Join(c.DataDir, "catalog.db")
	}
	if c.ArchiveFile == "" {
		c.ArchiveFile = filepath.Join(c.DownloadsDir, "archive.txt")
	}
	if c.DriveRedirectURL == "" {
		// The OAuth redirect registered on the client must point back at
		// this process; wildcard hosts collapse to localhost.
		if host, port, err := net.SplitHostPort(c.ListenAddr); err == nil {
			if host == "" || host == "0.0.0.0" || host == "::" {
				host = "localhost"
			}
			c.DriveRedirectURL = "http://" + net.JoinHostPort(host, port) + "/api/drive/oauth2callback"
		}
	}
}

// Validate rejects configurations the process cannot start with.
func (c Config) Validate() error {
	if !c.Role.IsValid() {
		return fmt.Errorf("invalid WORKER_ROLE %q (valid: api, worker)", c.Role)
	}
	switch c.JobStoreBackend {
	case BackendMemory, BackendRemoteKV:
	default:
		return fmt.Errorf("invalid JOB_STORE_BACKEND %q (valid: memory, remote_kv)", c.JobStoreBackend)
	}
	if c.JobStoreBackend == BackendRemoteKV && c.RedisAddr == "" {
		return fmt.Errorf("JOB_STORE_BACKEND=remote_kv requires REDIS_ADDR")
	}
	if c.Role == RoleAPI && c.JobStoreBackend == BackendMemory {
		return fmt.Errorf("WORKER_ROLE=api requires JOB_STORE_BACKEND=remote_kv (jobs must reach a worker)")
	}
	if c.JobExpiryHours <= 0 {
		return fmt.Errorf("JOB_EXPIRY_HOURS must be positive, got %d", c.JobExpiryHours)
	}
	if c.JobCleanupInterval <= 0 {
		return fmt.Errorf("JOB_CLEANUP_INTERVAL must be positive, got %s", c.JobCleanupInterval)
	}
	for name, v := range map[string]int{
		"BLOCKING_DRIVE_CONCURRENCY":   c.DriveConcurrency,
		"BLOCKING_FS_CONCURRENCY":      c.FSConcurrency,
		"BLOCKING_CATALOG_CONCURRENCY": c.CatalogConcurrency,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}
	if c.DownloadsDir == "" {
		return fmt.Errorf("DOWNLOADS_DIR must not be empty")
	}
	if c.CatalogEnabled && c.CatalogDBPath == "" {
		return fmt.Errorf("CATALOG_DB_PATH must not be empty when the catalog is enabled")
	}
	if c.DriveRootFolder == "" {
		return fmt.Errorf("DRIVE_ROOT_FOLDER must not be empty")
	}
	if c.OTelSampleRate < 0 || c.OTelSampleRate > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be within [0,1], got %g", c.OTelSampleRate)
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("MAX_CONNS must be positive, got %d", c.MaxConns)
	}
	return nil
}

// IsWorker reports whether this process executes jobs and periodic loops.
func (c Config) IsWorker() bool {
	return c.Role == RoleWorker
}

// PoolSize returns the blocking-pool bound for the given domain.
func (c Config) PoolSize(domain types.PoolDomain) int {
	switch domain {
	case types.PoolDrive:
		return c.DriveConcurrency
	case types.PoolFilesystem:
		return c.FSConcurrency
	case types.PoolCatalog:
		return c.CatalogConcurrency
	default:
		return 1
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
