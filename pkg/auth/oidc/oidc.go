// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package oidc implements OpenID Connect relying-party clients taking part
// in the provider chain.
package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/stacklok/webguard/pkg/auth"
	"github.com/stacklok/webguard/pkg/config"
	wgerrors "github.com/stacklok/webguard/pkg/errors"
	"github.com/stacklok/webguard/pkg/logger"
	"github.com/stacklok/webguard/pkg/replay"
)

// ProviderName is the chain registry key of the OIDC provider.
const ProviderName = "oidcclient"

// Identity metadata keys carrying the provider session through SSO tokens.
const (
	MetadataIssuer    = "oidc_iss"
	MetadataSessionID = "oidc_sid"
)

const (
	statePrefix = "oidc-state:"
	stateTTL    = 10 * time.Minute

	// DefaultSessionTTL bounds how long an invalidated session is remembered.
	DefaultSessionTTL = 12 * time.Hour

	backChannelLogoutEvent = "http://schemas.openid.net/event/backchannel-logout"
)

var (
	// ErrUnknownState means the callback state was never issued or was already used.
	ErrUnknownState = errors.New("unknown or reused oidc state")
	// ErrNonceMismatch means the ID token nonce differs from the one sent.
	ErrNonceMismatch = errors.New("oidc nonce mismatch")
)

// CookieIssuer issues SSO cookies for an identity established at the callback.
type CookieIssuer interface {
	Issue(id *auth.Identity, r *http.Request) ([]*http.Cookie, error)
}

// relyingParty holds what discovery yields for one client.
type relyingParty struct {
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

type client struct {
	cfg          config.OIDCClient
	callbackPath string

	mu sync.Mutex
	rp *relyingParty
}

// Provider runs the configured OIDC clients.
type Provider struct {
	clients    []*client
	states     replay.Cache
	sessions   *replay.OIDCSessions
	httpClient *http.Client
	issuer     CookieIssuer
	ssoPresent func(*http.Request) bool
	sessionTTL time.Duration
	now        func() time.Time

	discovery singleflight.Group
}

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient sets the client used for discovery and token exchange.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithCookieIssuer makes the callback answer with SSO cookies and a redirect
// back to the original URL instead of a SUCCESS result.
func WithCookieIssuer(i CookieIssuer) Option {
	return func(p *Provider) { p.issuer = i }
}

// WithSSOCookiePresent keeps before-SSO clients from redirecting requests
// that carry an SSO cookie.
func WithSSOCookiePresent(f func(*http.Request) bool) Option {
	return func(p *Provider) { p.ssoPresent = f }
}

// WithSessionTTL sets how long back-channel invalidations are kept.
func WithSessionTTL(ttl time.Duration) Option {
	return func(p *Provider) { p.sessionTTL = ttl }
}

// NewProvider returns a provider for the clients in cfg. states holds the
// pending authorization requests. sessions may be nil, which disables the
// invalidated-session check.
func NewProvider(
	cfg config.OIDCConfig, states replay.Cache, sessions *replay.OIDCSessions, opts ...Option,
) (*Provider, error) {
	if states == nil {
		return nil, wgerrors.NewConfigurationError("oidc needs a state cache", nil)
	}
	p := &Provider{
		states:     states,
		sessions:   sessions,
		httpClient: http.DefaultClient,
		sessionTTL: DefaultSessionTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	for _, cc := range cfg.Clients {
		u, err := url.Parse(cc.RedirectURL)
		if err != nil || u.Path == "" {
			return nil, wgerrors.NewConfigurationError(
				fmt.Sprintf("oidc client %q has an invalid redirect_url", cc.ID), err)
		}
		if len(cc.Scopes) == 0 {
			cc.Scopes = []string{oidc.ScopeOpenID, "profile", "email"}
		}
		p.clients = append(p.clients, &client{cfg: cc, callbackPath: u.Path})
	}
	return p, nil
}

// Name returns the provider name.
func (*Provider) Name() string { return ProviderName }

// Handles reports whether any client runs at stage.
func (p *Provider) Handles(stage auth.Stage) bool {
	for _, c := range p.clients {
		if c.runsAt(stage) {
			return true
		}
	}
	return false
}

// CallbackPaths returns the redirect paths of every client.
func (p *Provider) CallbackPaths() []string {
	out := make([]string, 0, len(p.clients))
	for _, c := range p.clients {
		out = append(out, c.callbackPath)
	}
	return out
}

func (c *client) runsAt(stage auth.Stage) bool {
	if c.cfg.BeforeSSO {
		return stage == auth.StageOIDCBeforeSSO
	}
	return stage == auth.StageOIDCAfterSSO
}

// AuthenticateStage completes a callback, or sends the browser to the
// provider of the first client whose path prefix matches.
func (p *Provider) AuthenticateStage(
	ctx context.Context, req *auth.WebRequest, stage auth.Stage,
) (*auth.AuthenticationResult, error) {
	r := req.Request
	for _, c := range p.clients {
		if c.runsAt(stage) && r.URL.Path == c.callbackPath && r.URL.Query().Get("state") != "" {
			return p.callback(ctx, c, r)
		}
	}
	for _, c := range p.clients {
		if !c.runsAt(stage) || !strings.HasPrefix(r.URL.Path, c.cfg.PathPrefix) {
			continue
		}
		if c.cfg.BeforeSSO && p.ssoPresent != nil && p.ssoPresent(r) {
			return auth.Continue("sso cookie present"), nil
		}
		return p.redirect(ctx, c, r)
	}
	return auth.Continue("no oidc client for request"), nil
}

func (p *Provider) redirect(ctx context.Context, c *client, r *http.Request) (*auth.AuthenticationResult, error) {
	rp, err := p.relyingParty(ctx, c)
	if err != nil {
		return nil, err
	}
	state := uuid.NewString()
	nonce := uuid.NewString()
	value := strings.Join([]string{nonce, c.cfg.ID, r.URL.RequestURI()}, "\n")
	if err := p.states.Put(ctx, statePrefix+state, value, p.now().Add(stateTTL)); err != nil {
		return nil, wgerrors.NewInfrastructureError("failed to store oidc state", err)
	}
	logger.Debugw("redirecting to oidc provider", "client", c.cfg.ID, "issuer", c.cfg.Issuer)

	result := auth.RedirectToProvider(rp.oauth.AuthCodeURL(state, oidc.Nonce(nonce)))
	result.Audit.Provider = c.cfg.ID
	return result, nil
}

// takeState returns the pending request for state and removes it.
func (p *Provider) takeState(ctx context.Context, state string) (nonce, clientID, original string, err error) {
	value, ok, err := p.states.Get(ctx, statePrefix+state)
	if err != nil {
		return "", "", "", wgerrors.NewInfrastructureError("failed to read oidc state", err)
	}
	if !ok {
		return "", "", "", ErrUnknownState
	}
	if err := p.states.Delete(ctx, statePrefix+state); err != nil {
		return "", "", "", wgerrors.NewInfrastructureError("failed to remove oidc state", err)
	}
	parts := strings.SplitN(value, "\n", 3)
	if len(parts) != 3 {
		return "", "", "", ErrUnknownState
	}
	return parts[0], parts[1], parts[2], nil
}

func (p *Provider) callback(ctx context.Context, c *client, r *http.Request) (*auth.AuthenticationResult, error) {
	q := r.URL.Query()
	nonce, clientID, original, err := p.takeState(ctx, q.Get("state"))
	if errors.Is(err, ErrUnknownState) || (err == nil && clientID != c.cfg.ID) {
		logger.Warnw("rejecting oidc callback", "client", c.cfg.ID, "reason", ErrUnknownState)
		return p.failure(c, "unknown oidc state"), nil
	}
	if err != nil {
		return nil, err
	}
	if e := q.Get("error"); e != "" {
		logger.Infow("oidc provider returned an error", "client", c.cfg.ID, "error", e,
			"description", q.Get("error_description"))
		return p.failure(c, "oidc provider error: "+e), nil
	}

	rp, err := p.relyingParty(ctx, c)
	if err != nil {
		return nil, err
	}
	tok, err := rp.oauth.Exchange(oidc.ClientContext(ctx, p.httpClient), q.Get("code"))
	if err != nil {
		logger.Infow("oidc code exchange failed", "client", c.cfg.ID, "error", err)
		return p.failure(c, "code exchange failed"), nil
	}
	rawID, ok := tok.Extra("id_token").(string)
	if !ok || rawID == "" {
		return p.failure(c, "token response has no id_token"), nil
	}
	idTok, err := rp.verifier.Verify(ctx, rawID)
	if err != nil {
		logger.Infow("oidc id token rejected", "client", c.cfg.ID, "error", err)
		return p.failure(c, "invalid id token"), nil
	}
	if idTok.Nonce != nonce {
		logger.Warnw("rejecting oidc callback", "client", c.cfg.ID, "reason", ErrNonceMismatch)
		return p.failure(c, ErrNonceMismatch.Error()), nil
	}

	var claims jwt.MapClaims
	if err := idTok.Claims(&claims); err != nil {
		return p.failure(c, "unreadable id token claims"), nil
	}
	sid, _ := claims["sid"].(string)
	if sid != "" && p.sessions != nil {
		ended, err := p.sessions.IsInvalidated(ctx, idTok.Issuer, sid)
		if err != nil {
			return nil, wgerrors.NewInfrastructureError("failed to check oidc session", err)
		}
		if ended {
			return p.failure(c, "oidc session was logged out"), nil
		}
	}

	id, err := auth.ClaimsToIdentity(claims, rawID, idTok.Issuer, auth.ClaimMapping{
		Subject: c.cfg.UserIdentifier,
		Groups:  c.cfg.GroupIdentifier,
	})
	if err != nil {
		return p.failure(c, err.Error()), nil
	}
	id.TokenType = "ID"
	id.AuthMethod = auth.AuthTypeOIDC
	id.ExpiresAt = idTok.Expiry
	id.Metadata = map[string]string{MetadataIssuer: idTok.Issuer}
	if sid != "" {
		id.Metadata[MetadataSessionID] = sid
	}
	logger.Infow("oidc login", "client", c.cfg.ID, "subject", id.Subject)

	if p.issuer == nil || id.DisableSSOCookie {
		result := auth.Success(id)
		result.Realm = id.Realm
		p.audit(result, c, id.Subject)
		return result, nil
	}
	cookies, err := p.issuer.Issue(id, r)
	if err != nil {
		return nil, err
	}
	if original == "" {
		original = "/"
	}
	result := auth.Redirect(original)
	result.Realm = id.Realm
	for _, ck := range cookies {
		result.AddCookie(ck)
	}
	p.audit(result, c, id.Subject)
	return result, nil
}

func (*Provider) failure(c *client, reason string) *auth.AuthenticationResult {
	result := auth.FailureWithStatus(reason, http.StatusUnauthorized)
	result.Realm = c.cfg.Issuer
	result.Audit.CredentialType = auth.AuthTypeOIDC
	result.Audit.Provider = c.cfg.ID
	return result
}

func (*Provider) audit(result *auth.AuthenticationResult, c *client, subject string) {
	result.Audit.CredentialType = auth.AuthTypeOIDC
	result.Audit.CredentialValue = subject
	result.Audit.Provider = c.cfg.ID
}

// relyingParty runs discovery for c once. Concurrent first requests share
// one discovery; a failed discovery is retried by the next request.
func (p *Provider) relyingParty(ctx context.Context, c *client) (*relyingParty, error) {
	c.mu.Lock()
	rp := c.rp
	c.mu.Unlock()
	if rp != nil {
		return rp, nil
	}

	v, err, _ := p.discovery.Do(c.cfg.ID, func() (any, error) {
		dctx := oidc.ClientContext(context.WithoutCancel(ctx), p.httpClient)
		provider, err := oidc.NewProvider(dctx, c.cfg.Issuer)
		if err != nil {
			return nil, wgerrors.NewInfrastructureError(
				fmt.Sprintf("oidc discovery failed for %s", c.cfg.Issuer), err)
		}
		endpoint := provider.Endpoint()
		endpoint.AuthStyle = oauth2.AuthStyleInParams
		built := &relyingParty{
			oauth: &oauth2.Config{
				ClientID:     c.cfg.ClientID,
				ClientSecret: c.cfg.ClientSecret,
				RedirectURL:  c.cfg.RedirectURL,
				Endpoint:     endpoint,
				Scopes:       c.cfg.Scopes,
			},
			verifier: provider.Verifier(&oidc.Config{ClientID: c.cfg.ClientID, Now: p.now}),
		}
		c.mu.Lock()
		c.rp = built
		c.mu.Unlock()
		return built, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*relyingParty), nil
}

// Revoked reports whether the provider session id came from was ended by
// back-channel logout.
func (p *Provider) Revoked(ctx context.Context, id *auth.Identity) (bool, error) {
	if p.sessions == nil || id == nil {
		return false, nil
	}
	iss, sid := id.Metadata[MetadataIssuer], id.Metadata[MetadataSessionID]
	if iss == "" || sid == "" {
		return false, nil
	}
	return p.sessions.IsInvalidated(ctx, iss, sid)
}

func (p *Provider) clientFor(path string) *client {
	for _, c := range p.clients {
		if c.callbackPath == path {
			return c
		}
	}
	return nil
}
