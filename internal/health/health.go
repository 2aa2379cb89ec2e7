// SPDX-License-Identifier: MIT

// Package health implements the liveness and readiness probes and the
// pre-flight startup checks. Probe payloads carry per-component detail
// so an operator can see which dependency is misbehaving.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/ManuGH/ytvault/internal/log"
)

// Status grades a component or the whole service.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// severity orders statuses for aggregation; the higher grade wins.
func severity(s Status) int {
	switch s {
	case StatusUnhealthy:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

func worse(a, b Status) Status {
	if severity(b) > severity(a) {
		return b
	}
	return a
}

// CheckResult is one component's verdict.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Uptime    int64                  `json:"uptime_seconds"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// ReadinessResponse is the readiness payload.
type ReadinessResponse struct {
	Ready     bool                   `json:"ready"`
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker is one probed component.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Manager fans probe requests out to the registered checkers.
// Registration happens during boot before the listener accepts probes,
// so the checker slice needs no locking.
type Manager struct {
	version  string
	booted   time.Time
	checkers []Checker
}

// NewManager returns a Manager that reports the given build version.
func NewManager(version string) *Manager {
	return &Manager{version: version, booted: time.Now()}
}

// RegisterChecker adds one component to every future probe.
func (m *Manager) RegisterChecker(c Checker) {
	m.checkers = append(m.checkers, c)
}

// evaluate runs every checker and folds the statuses into one verdict.
func (m *Manager) evaluate(ctx context.Context) (Status, map[string]CheckResult) {
	if len(m.checkers) == 0 {
		return StatusHealthy, nil
	}
	overall := StatusHealthy
	results := make(map[string]CheckResult, len(m.checkers))
	for _, c := range m.checkers {
		r := c.Check(ctx)
		results[c.Name()] = r
		overall = worse(overall, r.Status)
	}
	return overall, results
}

// Health reports liveness. A process that can answer is alive, so the
// HTTP code never degrades; component detail appears only when verbose
// is set.
func (m *Manager) Health(ctx context.Context, verbose bool) HealthResponse {
	resp := HealthResponse{
		Status:    StatusHealthy,
		Version:   m.version,
		Uptime:    int64(time.Since(m.booted).Seconds()),
		Timestamp: time.Now(),
	}
	if verbose {
		resp.Status, resp.Checks = m.evaluate(ctx)
	}
	return resp
}

// Ready reports whether traffic should be routed here. Any unhealthy
// component flips the verdict; degraded components keep serving.
func (m *Manager) Ready(ctx context.Context) ReadinessResponse {
	status, checks := m.evaluate(ctx)
	return ReadinessResponse{
		Ready:     status != StatusUnhealthy,
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
	}
}

// ServeHealth answers the liveness probe, always with 200.
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	resp := m.Health(r.Context(), r.URL.Query().Get("verbose") == "true")
	m.respond(w, r, http.StatusOK, "health", resp, string(resp.Status))
}

// ServeReady answers the readiness probe with 200 or 503.
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	resp := m.Ready(r.Context())
	code := http.StatusOK
	if !resp.Ready {
		code = http.StatusServiceUnavailable
	}
	m.respond(w, r, code, "readiness", resp, string(resp.Status))
}

func (m *Manager) respond(w http.ResponseWriter, r *http.Request, code int, component string, payload any, status string) {
	logger := log.WithComponentFromContext(r.Context(), component)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error().
			Err(err).
			Str(log.FieldEvent, component+".encode_error").
			Msg("probe response not encodable")
		return
	}
	logger.Debug().
		Str(log.FieldEvent, component+".checked").
		Str("status", status).
		Int("code", code).
		Msg("probe answered")
}

// PingChecker wraps a dependency ping (catalog database, Redis) as a
// checker. A failed ping grades the component unhealthy.
type PingChecker struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingChecker builds a checker around ping; it runs on every probe.
func NewPingChecker(name string, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, ping: ping}
}

func (c *PingChecker) Name() string { return c.name }

func (c *PingChecker) Check(ctx context.Context) CheckResult {
	if err := c.ping(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, Message: "reachable"}
}

// DirChecker verifies a directory exists. Writability is covered once at
// boot; probes only watch for the path disappearing underneath us.
type DirChecker struct {
	name string
	path string
}

// NewDirChecker builds a checker for one required directory.
func NewDirChecker(name, path string) *DirChecker {
	return &DirChecker{name: name, path: path}
}

func (c *DirChecker) Name() string { return c.name }

func (c *DirChecker) Check(_ context.Context) CheckResult {
	info, err := os.Stat(c.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return CheckResult{Status: StatusUnhealthy, Error: "directory not found", Message: c.path}
	case err != nil:
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	case !info.IsDir():
		return CheckResult{Status: StatusUnhealthy, Error: "expected directory, got file"}
	}
	return CheckResult{Status: StatusHealthy, Message: "directory exists"}
}

// TokenFileChecker reports Drive authentication state from the token
// file. Missing or empty tokens degrade rather than fail because the
// service runs without Drive until the operator completes the OAuth
// flow.
type TokenFileChecker struct {
	path string
}

// NewTokenFileChecker builds a checker for the persisted OAuth token.
func NewTokenFileChecker(path string) *TokenFileChecker {
	return &TokenFileChecker{path: path}
}

func (c *TokenFileChecker) Name() string { return "drive_token" }

func (c *TokenFileChecker) Check(_ context.Context) CheckResult {
	if c.path == "" {
		return CheckResult{Status: StatusHealthy, Message: "not configured (optional)"}
	}
	info, err := os.Stat(c.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return CheckResult{Status: StatusDegraded, Message: "not authenticated"}
	case err != nil:
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	case info.IsDir():
		return CheckResult{Status: StatusUnhealthy, Error: "expected file, got directory"}
	case info.Size() == 0:
		return CheckResult{Status: StatusDegraded, Message: "token file is empty"}
	}
	return CheckResult{Status: StatusHealthy, Message: "token present"}
}
