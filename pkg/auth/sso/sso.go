// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package sso issues, validates and revokes single sign-on cookies.
package sso

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/stacklok/webguard/pkg/auth"
	"github.com/stacklok/webguard/pkg/auth/token"
	"github.com/stacklok/webguard/pkg/config"
	"github.com/stacklok/webguard/pkg/cookie"
	wgerrors "github.com/stacklok/webguard/pkg/errors"
	"github.com/stacklok/webguard/pkg/logger"
	"github.com/stacklok/webguard/pkg/replay"
	"github.com/stacklok/webguard/pkg/session"
)

// TokenIssuer is the issuer of SSO cookie tokens.
const TokenIssuer = "webguard-sso"

// ProviderName is the chain key of the SSO provider.
const ProviderName = "sso"

// Manager owns the SSO cookie lifecycle.
type Manager struct {
	sso       config.SSOConfig
	jwtSSO    config.JWTSSOConfig
	helper    *cookie.Helper
	tokens    *token.Service
	jwtTokens *token.Service
	loggedOut *replay.LoggedOutTokens
	sessions  *replay.HTTPSessions
	revokers  []SessionRevoker
}

// SessionRevoker reports whether the provider session an SSO identity was
// derived from has ended, for example through back-channel logout.
type SessionRevoker interface {
	Revoked(ctx context.Context, id *auth.Identity) (bool, error)
}

// NewManager builds the token services for cfg. loggedOut may be nil, in
// which case logged out tokens are not tracked.
func NewManager(
	cfg *config.WebAppSecurityConfig,
	helper *cookie.Helper,
	loggedOut *replay.LoggedOutTokens,
) (*Manager, error) {
	tokens, err := token.NewService([]byte(cfg.SSO.SigningKey), TokenIssuer, cfg.SSO.TokenExpiry)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		sso:       cfg.SSO,
		jwtSSO:    cfg.JWTSSO,
		helper:    helper,
		tokens:    tokens,
		loggedOut: loggedOut,
	}
	if cfg.JWTSSO.Enabled {
		key := cfg.JWTSSO.SigningKey
		if key == "" {
			key = cfg.SSO.SigningKey
		}
		m.jwtTokens, err = token.NewService([]byte(key), cfg.JWTSSO.Issuer, cfg.JWTSSO.TokenExpiry)
		if err != nil {
			return nil, err
		}
	}
	if !cfg.SSO.TrackLoggedOutTokens {
		m.loggedOut = nil
	}
	return m, nil
}

// AddRevoker registers r. It must be called before the manager serves
// requests.
func (m *Manager) AddRevoker(r SessionRevoker) {
	if r != nil {
		m.revokers = append(m.revokers, r)
	}
}

// BindSessions makes validation reject tokens presented with an HTTP session
// that was logged out or belongs to another subject.
func (m *Manager) BindSessions(s *replay.HTTPSessions) {
	m.sessions = s
}

// Helper returns the cookie helper.
func (m *Manager) Helper() *cookie.Helper { return m.helper }

// Tokens returns the SSO token service.
func (m *Manager) Tokens() *token.Service { return m.tokens }

// Issue returns the cookies carrying id: the SSO cookie chunk set and, when
// JWT SSO is enabled, the JWT cookie chunk set. Nothing is issued when SSO is
// disabled or the identity opted out.
func (m *Manager) Issue(id *auth.Identity, r *http.Request) ([]*http.Cookie, error) {
	if id == nil || id.DisableSSOCookie {
		return nil, nil
	}
	var out []*http.Cookie
	if m.sso.Enabled {
		raw, _, err := m.tokens.Issue(id)
		if err != nil {
			return nil, err
		}
		cookies, err := m.helper.SSOCookies(m.sso.CookieName, raw, r)
		if err != nil {
			return nil, err
		}
		out = append(out, cookies...)
	}
	if m.jwtTokens != nil {
		raw, _, err := m.jwtTokens.Issue(id)
		if err != nil {
			return nil, err
		}
		cookies, err := m.helper.SSOCookies(m.jwtSSO.CookieName, raw, r)
		if err != nil {
			return nil, err
		}
		out = append(out, cookies...)
	}
	return out, nil
}

// TokenFromCookies reassembles the SSO token carried by r.
func (m *Manager) TokenFromCookies(r *http.Request) (string, bool, error) {
	return m.helper.Codec().FromRequest(r, m.helper.ResolveSSOCookieName(r))
}

// JWTTokenFromCookies reassembles the JWT SSO token carried by r.
func (m *Manager) JWTTokenFromCookies(r *http.Request) (string, bool, error) {
	return m.helper.Codec().FromRequest(r, m.jwtSSO.CookieName)
}

// Logout records every token r carries as logged out and returns the cookies
// that clear them. Tokens are recorded before the cookies are returned, so a
// replay of the cleared cookies is rejected as soon as the reply is sent.
func (m *Manager) Logout(ctx context.Context, r *http.Request) ([]*http.Cookie, error) {
	name := m.helper.ResolveSSOCookieName(r)

	if raw, ok, err := m.TokenFromCookies(r); ok {
		if err != nil {
			logger.Warnw("SSO cookie chunk set is incomplete", "cookie", name, "error", err)
		}
		if err := m.revoke(ctx, m.tokens, raw); err != nil {
			return nil, err
		}
	}
	if m.jwtTokens != nil {
		if raw, ok, err := m.JWTTokenFromCookies(r); ok {
			if err != nil {
				logger.Warnw("JWT cookie chunk set is incomplete", "cookie", m.jwtSSO.CookieName, "error", err)
			}
			if err := m.revoke(ctx, m.jwtTokens, raw); err != nil {
				return nil, err
			}
		}
	}

	out := []*http.Cookie{m.helper.Expire(name, r)}
	codec := m.helper.Codec()
	for i := 1; i < codec.MaxChunks(); i++ {
		if _, err := r.Cookie(cookie.ChunkName(name, i)); err == nil {
			out = append(out, m.helper.Expire(cookie.ChunkName(name, i), r))
		}
	}
	if m.jwtSSO.Enabled || hasCookie(r, m.jwtSSO.CookieName) {
		out = append(out, m.helper.ExpireAll(m.jwtSSO.CookieName, r)...)
	}
	return out, nil
}

func (m *Manager) revoke(ctx context.Context, svc *token.Service, raw string) error {
	if m.loggedOut == nil {
		return nil
	}
	id, err := svc.Validate(raw)
	if err != nil {
		// Nothing to replay: the token no longer validates on its own.
		return nil
	}
	if err := m.loggedOut.Add(ctx, raw, id.Subject, id.ExpiresAt); err != nil {
		return wgerrors.NewInfrastructureError("failed to record logged out token", err)
	}
	return nil
}

func hasCookie(r *http.Request, name string) bool {
	if r == nil || name == "" {
		return false
	}
	_, err := r.Cookie(name)
	return err == nil
}

// Authenticator validates SSO cookies. It is the SSO stage of the provider
// chain and is also used by form login with an overridden cookie name.
type Authenticator struct {
	m *Manager
}

// Authenticator returns the SSO stage provider backed by m.
func (m *Manager) Authenticator() *Authenticator {
	return &Authenticator{m: m}
}

// Name implements auth.ChainProvider.
func (*Authenticator) Name() string { return ProviderName }

// Handles implements auth.ChainProvider.
func (*Authenticator) Handles(stage auth.Stage) bool { return stage == auth.StageSSO }

// AuthenticateStage implements auth.ChainProvider.
func (a *Authenticator) AuthenticateStage(
	ctx context.Context, req *auth.WebRequest, _ auth.Stage,
) (*auth.AuthenticationResult, error) {
	return a.Authenticate(ctx, req)
}

// Authenticate implements auth.Authenticator.
func (a *Authenticator) Authenticate(ctx context.Context, req *auth.WebRequest) (*auth.AuthenticationResult, error) {
	return a.AuthenticateWithCookieName(ctx, req, "")
}

// AuthenticateWithCookieName validates the SSO cookie called name, or the
// resolved SSO cookie name when name is empty, falling back to the JWT SSO
// cookie. A token that validates but was logged out is a FAILURE.
func (a *Authenticator) AuthenticateWithCookieName(
	ctx context.Context, req *auth.WebRequest, name string,
) (*auth.AuthenticationResult, error) {
	m := a.m
	r := req.Request
	if name == "" {
		name = m.helper.ResolveSSOCookieName(r)
	}

	if m.sso.Enabled {
		raw, ok, err := m.helper.Codec().FromRequest(r, name)
		if err != nil {
			return nil, err
		}
		if ok {
			result, err := a.validate(ctx, req, m.tokens, raw, name, auth.AuthTypeSSO)
			if result != nil || err != nil {
				return result, err
			}
		}
	}

	if m.jwtTokens != nil {
		raw, ok, err := m.helper.Codec().FromRequest(r, m.jwtSSO.CookieName)
		if err != nil {
			return nil, err
		}
		if ok {
			result, err := a.validate(ctx, req, m.jwtTokens, raw, m.jwtSSO.CookieName, auth.AuthTypeJWTSSO)
			if result != nil || err != nil {
				return result, err
			}
		}
	}
	return auth.Continue("no valid SSO cookie"), nil
}

// validate returns nil, nil when the token does not validate so the caller
// can try the next cookie.
func (a *Authenticator) validate(
	ctx context.Context, req *auth.WebRequest, svc *token.Service, raw, name, credType string,
) (*auth.AuthenticationResult, error) {
	id, err := svc.Validate(raw)
	if err != nil {
		if !errors.Is(err, token.ErrTokenExpired) {
			logger.Debugw("ignoring invalid SSO cookie", "cookie", name, "error", err)
		}
		return nil, nil
	}

	listed, err := a.revoked(ctx, id, raw)
	if err != nil {
		return nil, err
	}
	if listed {
		logger.Infow("rejecting logged out SSO token", "cookie", name, "user", id.Subject)
		return a.rejected(req, id, name, credType, "SSO token was logged out"), nil
	}
	allowed, err := a.sessionAllowed(ctx, req.Request, id)
	if err != nil {
		return nil, err
	}
	if !allowed {
		logger.Infow("rejecting SSO token on an ended HTTP session", "cookie", name, "user", id.Subject)
		return a.rejected(req, id, name, credType, "HTTP session was logged out"), nil
	}

	if id.ExpiresAt.IsZero() {
		id.ExpiresAt = time.Now().Add(svc.TTL())
	}
	result := auth.Success(id)
	result.Realm = id.Realm
	result.Audit.CredentialType = credType
	result.Audit.CredentialValue = id.Subject
	return result, nil
}

func (a *Authenticator) rejected(
	req *auth.WebRequest, id *auth.Identity, name, credType, reason string,
) *auth.AuthenticationResult {
	result := auth.FailureWithStatus(reason, http.StatusUnauthorized)
	result.CredentialRejected = true
	result.Realm = id.Realm
	result.Audit.CredentialType = credType
	result.Audit.CredentialValue = id.Subject
	result.AddCookie(a.m.helper.Expire(name, req.Request))
	return result
}

func (a *Authenticator) sessionAllowed(ctx context.Context, r *http.Request, id *auth.Identity) (bool, error) {
	if a.m.sessions == nil {
		return true, nil
	}
	c, err := r.Cookie(session.CookieName)
	if err != nil {
		return true, nil
	}
	allowed, err := a.m.sessions.Check(ctx, c.Value, id.Subject)
	if err != nil {
		return false, wgerrors.NewInfrastructureError("failed to check HTTP session binding", err)
	}
	return allowed, nil
}

func (a *Authenticator) revoked(ctx context.Context, id *auth.Identity, raw string) (bool, error) {
	if a.m.loggedOut != nil {
		listed, err := a.m.loggedOut.Contains(ctx, raw)
		if err != nil {
			return false, wgerrors.NewInfrastructureError("failed to check logged out tokens", err)
		}
		if listed {
			return true, nil
		}
	}
	for _, r := range a.m.revokers {
		revoked, err := r.Revoked(ctx, id)
		if err != nil {
			return false, wgerrors.NewInfrastructureError("failed to check provider session", err)
		}
		if revoked {
			return true, nil
		}
	}
	return false, nil
}
