// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package drive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drivev3 "google.golang.org/api/drive/v3"

	"github.com/ManuGH/ytvault/internal/fsutil"
	"github.com/ManuGH/ytvault/internal/log"
)

// AuthConfig carries the OAuth client credentials and the token
// location. RedirectURL must match one registered on the OAuth client.
type AuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	TokenFile    string
}

// Authenticator owns the three-legged OAuth flow and the token file.
// Tokens are stored as JSON with owner-only permissions and refreshed
// tokens are written back so a long-lived daemon survives expiry.
type Authenticator struct {
	oauth     *oauth2.Config
	tokenFile string
	logger    zerolog.Logger

	mu sync.Mutex

	// gen increments on login and logout so lazy sources rebuild
	// instead of serving a stale identity.
	gen atomic.Uint64
}

// CredentialsFromFile reads a Google OAuth client file in the installed or
// web application shape and binds it into an AuthConfig.
func CredentialsFromFile(path, redirectURL, tokenFile string) (AuthConfig, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied credentials path
	if err != nil {
		return AuthConfig{}, fmt.Errorf("read credentials file: %w", err)
	}
	conf, err := google.ConfigFromJSON(data, drivev3.DriveScope)
	if err != nil {
		return AuthConfig{}, fmt.Errorf("parse credentials file: %w", err)
	}
	return AuthConfig{
		ClientID:     conf.ClientID,
		ClientSecret: conf.ClientSecret,
		RedirectURL:  redirectURL,
		TokenFile:    tokenFile,
	}, nil
}

func NewAuthenticator(cfg AuthConfig, logger zerolog.Logger) *Authenticator {
	return &Authenticator{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{drivev3.DriveScope},
			Endpoint:     google.Endpoint,
		},
		tokenFile: cfg.TokenFile,
		logger:    logger.With().Str(log.FieldComponent, "drive.auth").Logger(),
	}
}

// AuthURL returns the consent URL the user must visit. AccessTypeOffline
// plus ApprovalForce make Google return a refresh token even when the
// user already granted access once.
func (a *Authenticator) AuthURL(state string) string {
	return a.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades the callback code for tokens and persists them.
func (a *Authenticator) Exchange(ctx context.Context, code string) error {
	tok, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange auth code: %w", err)
	}
	if err := a.saveToken(tok); err != nil {
		return err
	}
	a.gen.Add(1)
	a.logger.Info().Str(log.FieldEvent, "drive.auth_complete").Msg("stored OAuth token")
	return nil
}

// Authenticated reports whether a token file with a refresh token
// exists. It does not verify the token against Google.
func (a *Authenticator) Authenticated() bool {
	tok, err := a.loadToken()
	return err == nil && (tok.RefreshToken != "" || tok.Valid())
}

// Logout removes the stored token. A missing file is not an error.
func (a *Authenticator) Logout() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := os.Remove(a.tokenFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove token file: %w", err)
	}
	a.gen.Add(1)
	a.logger.Info().Str(log.FieldEvent, "drive.auth_logout").Msg("removed OAuth token")
	return nil
}

// TokenSource returns a source backed by the stored token. Refreshed
// tokens are written back to disk as a side effect of use.
func (a *Authenticator) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	tok, err := a.loadToken()
	if err != nil {
		return nil, err
	}
	return &savingTokenSource{
		src:  a.oauth.TokenSource(ctx, tok),
		auth: a,
		last: tok,
	}, nil
}

// LazyTokenSource returns a source that resolves the stored token on
// first use and again after every login or logout. It lets a Client be
// constructed before the OAuth flow completes: calls made without a
// token fail with ErrNotAuthenticated instead of construction failing.
// ctx is used for refresh HTTP and should outlive the returned source.
func (a *Authenticator) LazyTokenSource(ctx context.Context) oauth2.TokenSource {
	return &lazyTokenSource{auth: a, ctx: ctx}
}

type lazyTokenSource struct {
	auth *Authenticator
	ctx  context.Context

	mu   sync.Mutex
	base oauth2.TokenSource
	gen  uint64
}

func (s *lazyTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen := s.auth.gen.Load(); s.base == nil || gen != s.gen {
		base, err := s.auth.TokenSource(s.ctx)
		if err != nil {
			return nil, err
		}
		s.base, s.gen = base, gen
	}
	return s.base.Token()
}

func (a *Authenticator) loadToken() (*oauth2.Token, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, err := os.ReadFile(a.tokenFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotAuthenticated
		}
		return nil, fmt.Errorf("read token file: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("%w: token file corrupt: %v", ErrNotAuthenticated, err)
	}
	return &tok, nil
}

func (a *Authenticator) saveToken(tok *oauth2.Token) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := fsutil.EnsureDir(filepath.Dir(a.tokenFile)); err != nil {
		return fmt.Errorf("token dir: %w", err)
	}
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	pf, err := renameio.NewPendingFile(a.tokenFile, renameio.WithPermissions(0o600))
	if err != nil {
		return fmt.Errorf("create pending token file: %w", err)
	}
	defer func() {
		_ = pf.Cleanup()
	}()
	if _, err := pf.Write(data); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace token file: %w", err)
	}
	return nil
}

// savingTokenSource persists tokens whenever the underlying source
// rotates the access token.
type savingTokenSource struct {
	src  oauth2.TokenSource
	auth *Authenticator

	mu   sync.Mutex
	last *oauth2.Token
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, err := s.src.Token()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	if s.last == nil || tok.AccessToken != s.last.AccessToken {
		if err := s.auth.saveToken(tok); err != nil {
			s.auth.logger.Warn().Err(err).Str(log.FieldEvent, "drive.token_persist_failed").
				Msg("refreshed token not persisted")
		}
		s.last = tok
	}
	return tok, nil
}
