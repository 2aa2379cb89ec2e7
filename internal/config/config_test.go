// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	cfg.applyDerived()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, RoleWorker, cfg.Role)
	assert.Equal(t, BackendMemory, cfg.JobStoreBackend)
	assert.Equal(t, 24, cfg.JobExpiryHours)
	assert.Equal(t, 3, cfg.DriveConcurrency)
	assert.Equal(t, 2, cfg.FSConcurrency)
	assert.Equal(t, 4, cfg.CatalogConcurrency)
	assert.True(t, cfg.CatalogEnabled)
	assert.True(t, cfg.AutoPublish)
	assert.False(t, cfg.RequireImportBeforePublish)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("WORKER_ROLE", "worker")
	t.Setenv("JOB_STORE_BACKEND", "remote_kv")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("BLOCKING_DRIVE_CONCURRENCY", "5")
	t.Setenv("DOWNLOADS_DIR", "/srv/media")
	t.Setenv("JOB_CLEANUP_INTERVAL", "90s")
	t.Setenv("CATALOG_DRIVE_AUTO_PUBLISH", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendRemoteKV, cfg.JobStoreBackend)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 5, cfg.DriveConcurrency)
	assert.Equal(t, "/srv/media", cfg.DownloadsDir)
	assert.Equal(t, 90*time.Second, cfg.JobCleanupInterval)
	assert.False(t, cfg.AutoPublish)

	// Derived from overridden downloads dir.
	assert.Equal(t, filepath.Join("/srv/media", "archive.txt"), cfg.ArchiveFile)
}

func TestLoad_FileOverlayPrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "ytvault.yaml")
	content := []byte("listen_addr: \":9999\"\nblocking_fs_concurrency: 8\nlog_level: debug\n")
	require.NoError(t, os.WriteFile(file, content, 0o600))

	t.Setenv("CONFIG_FILE", file)
	// Env still wins over the file.
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, 8, cfg.FSConcurrency)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_RejectsUnknownFileKeys(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "ytvault.yaml")
	require.NoError(t, os.WriteFile(file, []byte("listen_adr: \":1\"\n"), 0o600))

	t.Setenv("CONFIG_FILE", file)

	_, err := Load()
	require.Error(t, err)
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"invalid role", func(c *Config) { c.Role = "observer" }},
		{"invalid backend", func(c *Config) { c.JobStoreBackend = "dynamo" }},
		{"remote_kv without redis", func(c *Config) { c.JobStoreBackend = BackendRemoteKV; c.RedisAddr = "" }},
		{"api role with memory backend", func(c *Config) { c.Role = RoleAPI }},
		{"zero expiry", func(c *Config) { c.JobExpiryHours = 0 }},
		{"zero pool size", func(c *Config) { c.DriveConcurrency = 0 }},
		{"empty downloads dir", func(c *Config) { c.DownloadsDir = "" }},
		{"empty drive root", func(c *Config) { c.DriveRootFolder = "" }},
		{"sample rate out of range", func(c *Config) { c.OTelSampleRate = 1.5 }},
		{"zero max conns", func(c *Config) { c.MaxConns = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.applyDerived()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseHelpers(t *testing.T) {
	t.Setenv("YT_TEST_STR", "value")
	assert.Equal(t, "value", ParseString("YT_TEST_STR", "fallback"))
	assert.Equal(t, "fallback", ParseString("YT_TEST_STR_ABSENT", "fallback"))

	t.Setenv("YT_TEST_INT", "42")
	assert.Equal(t, 42, ParseInt("YT_TEST_INT", 7))
	t.Setenv("YT_TEST_INT_BAD", "four")
	assert.Equal(t, 7, ParseInt("YT_TEST_INT_BAD", 7))

	t.Setenv("YT_TEST_BOOL", "yes")
	assert.True(t, ParseBool("YT_TEST_BOOL", false))
	t.Setenv("YT_TEST_BOOL_BAD", "si")
	assert.True(t, ParseBool("YT_TEST_BOOL_BAD", true))

	t.Setenv("YT_TEST_DUR", "250ms")
	assert.Equal(t, 250*time.Millisecond, ParseDuration("YT_TEST_DUR", time.Second))

	t.Setenv("YT_TEST_FLOAT", "0.25")
	assert.InDelta(t, 0.25, ParseFloat("YT_TEST_FLOAT", 1.0), 1e-9)
}

func TestSplitAndTrim(t *testing.T) {
	got := splitAndTrim("https://a.example, https://b.example ,, ")
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, got)
}
