// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ManuGH/ytvault/internal/config"
	"github.com/ManuGH/ytvault/internal/log"
)

// PerformStartupChecks refuses to boot into a broken environment. The
// writable directories, the listen address, and the job store wiring are
// hard requirements; optional dependencies only warn.
func PerformStartupChecks(ctx context.Context, cfg config.Config) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("Running pre-flight startup checks...")

	dirs := []struct{ label, path string }{
		{"data", cfg.DataDir},
		{"downloads", cfg.DownloadsDir},
	}
	for _, d := range dirs {
		if err := provisionDir(logger, d.label, d.path); err != nil {
			return fmt.Errorf("%s directory check failed: %w", d.label, err)
		}
	}

	if err := checkListenAddr(logger, cfg.ListenAddr); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if err := checkJobStore(logger, cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	warnOptionalDeps(logger, cfg)

	logger.Info().Msg("✅ All startup checks passed")
	return nil
}

// provisionDir creates the directory when absent and proves it is
// writable with a throwaway probe file.
func provisionDir(logger zerolog.Logger, label, path string) error {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("create %s directory %s: %w", label, path, err)
	}
	probe, err := os.CreateTemp(path, ".startup-probe-*")
	if err != nil {
		return fmt.Errorf("%s directory %s is not writable: %w", label, path, err)
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)

	logger.Info().Str(log.FieldPath, path).Msgf("✓ %s directory is writable", label)
	return nil
}

func checkListenAddr(logger zerolog.Logger, addr string) error {
	if addr == "" {
		return nil
	}
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	if port, err := strconv.Atoi(portStr); err != nil || port < 0 || port > 65535 {
		return fmt.Errorf("invalid listen port %q in %q", portStr, addr)
	}
	logger.Info().Str("addr", addr).Msg("✓ Listen address is valid")
	return nil
}

func checkJobStore(logger zerolog.Logger, cfg config.Config) error {
	if cfg.JobStoreBackend != config.BackendRemoteKV {
		logger.Warn().
			Str("store_backend", cfg.JobStoreBackend).
			Msg("jobs use in-memory store; job history is not persistent across restarts")
		return nil
	}
	if cfg.RedisAddr == "" {
		return fmt.Errorf("JOB_STORE_BACKEND=%s requires REDIS_ADDR", cfg.JobStoreBackend)
	}
	logger.Info().Str("addr", cfg.RedisAddr).Msg("✓ Remote KV job store configured")
	return nil
}

// warnOptionalDeps surfaces missing optional pieces without failing the
// boot. Downloads need the extractor binary, Drive sync needs
// credentials, and data under the OS temp tree will not survive a
// reboot or a tmp reaper.
func warnOptionalDeps(logger zerolog.Logger, cfg config.Config) {
	bin := strings.TrimSpace(cfg.YTDLPPath)
	if bin == "" {
		bin = "yt-dlp"
	}
	if _, err := exec.LookPath(bin); err != nil {
		logger.Warn().Str("bin", bin).Msg("extractor binary not found; download jobs will fail until installed")
	} else {
		logger.Info().Str("bin", bin).Msg("✓ Extractor binary available")
	}

	if cfg.DriveCredentialsFile != "" {
		f, err := os.Open(cfg.DriveCredentialsFile) // #nosec G304 -- operator-supplied path
		if err != nil {
			logger.Warn().
				Str(log.FieldPath, cfg.DriveCredentialsFile).
				Msg("Drive credentials not readable; Drive sync disabled until provided")
		} else {
			_ = f.Close()
			logger.Info().Msg("✓ Drive credentials readable")
		}
	}

	tmp := filepath.Clean(os.TempDir())
	data := filepath.Clean(cfg.DataDir)
	if tmp != "." && (data == tmp || strings.HasPrefix(data, tmp+string(filepath.Separator))) {
		logger.Warn().
			Str("data_dir", cfg.DataDir).
			Msg("data directory is under temp; catalog and tokens may be lost on reboot")
	}
}
