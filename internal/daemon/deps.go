// SPDX-License-Identifier: MIT

package daemon

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"
)

var (
	ErrMissingLogger     = errors.New("daemon deps: logger not set")
	ErrMissingAPIHandler = errors.New("daemon deps: api handler not set")
	ErrManagerNotStarted = errors.New("daemon: not started")
)

// Deps carries what the manager runs: a logger and the fully routed API
// handler, health and metrics included.
type Deps struct {
	Logger     zerolog.Logger
	APIHandler http.Handler
}

// Validate rejects a dependency set the manager cannot run with. A
// disabled logger counts as unset.
func (d Deps) Validate() error {
	if d.Logger.GetLevel() == zerolog.Disabled {
		return ErrMissingLogger
	}
	if d.APIHandler == nil {
		return ErrMissingAPIHandler
	}
	return nil
}
