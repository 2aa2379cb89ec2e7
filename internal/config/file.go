// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ManuGH/ytvault/internal/log"
)

// applyFile overlays a YAML configuration file onto cfg. Fields absent from
// the file keep their current values. A missing file is an error: if the
// operator names a file, it must exist.
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("not found: %w", err)
		}
		return fmt.Errorf("read: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse: %w", err)
	}

	logger := log.WithComponent("config")
	logger.Info().
		Str("event", "config.file_loaded").
		Str("path", path).
		Msg("applied configuration overlay file")
	return nil
}
