// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon owns the HTTP lifecycle: listener setup, serving, and
// graceful shutdown with registered cleanup hooks.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/netutil"

	"github.com/ManuGH/ytvault/internal/config"
	"github.com/ManuGH/ytvault/internal/log"
)

// ShutdownHook is one cleanup step of a graceful stop. Hooks run in
// reverse registration order.
type ShutdownHook func(ctx context.Context) error

type namedHook struct {
	name string
	hook ShutdownHook
}

type runState int

const (
	stateIdle runState = iota
	stateRunning
	stateStopped
)

// drainBudget bounds the whole Start-triggered shutdown, independent of
// the per-manager ShutdownTimeout that bounds each phase inside it.
const drainBudget = 30 * time.Second

// Manager serves the API until its context ends, then unwinds the
// process in hook order.
type Manager struct {
	cfg  config.ServerConfig
	deps Deps

	srv *http.Server

	mu    sync.Mutex
	state runState
	hooks []namedHook

	logger zerolog.Logger
}

// NewManager validates deps and builds an idle manager.
func NewManager(cfg config.ServerConfig, deps Deps) (*Manager, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies: %w", err)
	}
	return &Manager{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.With().Str(log.FieldComponent, "manager").Logger(),
	}, nil
}

// RegisterShutdownHook appends a named cleanup step. Later registrations
// run earlier during shutdown.
func (m *Manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	m.hooks = append(m.hooks, namedHook{name: name, hook: hook})
	m.mu.Unlock()
	m.logger.Debug().Str("hook", name).Msg("shutdown hook registered")
}

// Start binds the listener, serves until ctx ends or the server fails,
// then drains. Bind failures return synchronously. The return value is
// the serve failure when there was one, otherwise the shutdown outcome.
func (m *Manager) Start(ctx context.Context) error {
	if ctx == nil {
		return errors.New("start context is nil")
	}
	m.mu.Lock()
	if m.state != stateIdle {
		m.mu.Unlock()
		return errors.New("manager already started")
	}
	m.state = stateRunning
	m.mu.Unlock()

	ln, err := m.listen()
	if err != nil {
		m.mu.Lock()
		m.state = stateIdle
		m.mu.Unlock()
		return err
	}

	m.logger.Info().
		Str("listen", ln.Addr().String()).
		Int("max_conns", m.cfg.MaxConns).
		Dur("read_timeout", m.cfg.ReadTimeout).
		Dur("write_timeout", m.cfg.WriteTimeout).
		Dur("shutdown_timeout", m.cfg.ShutdownTimeout).
		Msg("daemon serving")

	failed := make(chan error, 1)
	go m.serve(ln, failed)

	var cause error
	select {
	case cause = <-failed:
		m.logger.Error().Err(cause).Msg("server failed, draining")
	case <-ctx.Done():
		m.logger.Info().Msg("shutdown signal received")
	}

	// Shutdown still has to run when the trigger was ctx's own
	// cancellation, so it gets a detached, bounded context.
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainBudget)
	defer cancel()
	if err := m.Shutdown(drainCtx); err != nil {
		if cause != nil {
			return errors.Join(cause, err)
		}
		return err
	}
	return cause
}

// listen binds the TCP listener and builds the server around it. With
// MaxConns > 0 excess connections queue in the kernel backlog instead of
// reaching handlers.
func (m *Manager) listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", m.cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", m.cfg.ListenAddr, err)
	}
	if m.cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, m.cfg.MaxConns)
	}
	m.srv = &http.Server{
		Handler:           m.deps.APIHandler,
		ReadTimeout:       m.cfg.ReadTimeout,
		ReadHeaderTimeout: m.cfg.ReadTimeout / 2,
		WriteTimeout:      m.cfg.WriteTimeout,
		IdleTimeout:       m.cfg.IdleTimeout,
		MaxHeaderBytes:    m.cfg.MaxHeaderBytes,
	}
	return ln, nil
}

func (m *Manager) serve(ln net.Listener, failed chan<- error) {
	err := m.srv.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		failed <- fmt.Errorf("http serve: %w", err)
	}
}

// Shutdown stops the server, then runs the hooks last-in first-out under
// one ShutdownTimeout-bounded context. Repeat calls return nil; a
// manager that never started reports ErrManagerNotStarted.
func (m *Manager) Shutdown(ctx context.Context) error {
	if ctx == nil {
		return errors.New("shutdown context is nil")
	}
	m.mu.Lock()
	switch m.state {
	case stateStopped:
		m.mu.Unlock()
		return nil
	case stateIdle:
		m.mu.Unlock()
		return ErrManagerNotStarted
	}
	m.state = stateStopped
	m.mu.Unlock()

	m.logger.Info().Msg("draining daemon")
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if m.srv != nil {
		if err := m.srv.Shutdown(stopCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	errs = append(errs, m.runHooks(stopCtx)...)

	if len(errs) > 0 {
		m.logger.Error().Int("failures", len(errs)).Msg("drain finished with errors")
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	m.logger.Info().Msg("daemon stopped")
	return nil
}

func (m *Manager) runHooks(ctx context.Context) []error {
	m.mu.Lock()
	hooks := slices.Clone(m.hooks)
	m.mu.Unlock()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		began := time.Now()
		if err := h.hook(ctx); err != nil {
			m.logger.Error().
				Err(err).
				Str("hook", h.name).
				Dur("took", time.Since(began)).
				Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", h.name, err))
			continue
		}
		m.logger.Debug().
			Str("hook", h.name).
			Dur("took", time.Since(began)).
			Msg("shutdown hook done")
	}
	return errs
}
