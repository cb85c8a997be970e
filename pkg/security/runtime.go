// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package security assembles the web security pipeline from one
// WebAppSecurityConfig and keeps it current across reconfiguration.
package security

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/stacklok/webguard/pkg/audit"
	"github.com/stacklok/webguard/pkg/auth"
	"github.com/stacklok/webguard/pkg/auth/basic"
	"github.com/stacklok/webguard/pkg/auth/cert"
	"github.com/stacklok/webguard/pkg/auth/chain"
	"github.com/stacklok/webguard/pkg/auth/form"
	"github.com/stacklok/webguard/pkg/auth/jaspi"
	"github.com/stacklok/webguard/pkg/auth/oauth"
	"github.com/stacklok/webguard/pkg/auth/oidc"
	"github.com/stacklok/webguard/pkg/auth/spnego"
	"github.com/stacklok/webguard/pkg/auth/sso"
	"github.com/stacklok/webguard/pkg/auth/tai"
	"github.com/stacklok/webguard/pkg/auth/webauth"
	"github.com/stacklok/webguard/pkg/authz"
	"github.com/stacklok/webguard/pkg/authz/authorizers"
	"github.com/stacklok/webguard/pkg/collaborator"
	"github.com/stacklok/webguard/pkg/config"
	"github.com/stacklok/webguard/pkg/constraints"
	"github.com/stacklok/webguard/pkg/cookie"
	wgerrors "github.com/stacklok/webguard/pkg/errors"
	"github.com/stacklok/webguard/pkg/logger"
	"github.com/stacklok/webguard/pkg/postparams"
	"github.com/stacklok/webguard/pkg/replay"
	"github.com/stacklok/webguard/pkg/session"
	"github.com/stacklok/webguard/pkg/telemetry"
)

// KeyJASPI is the provider key of the JASPI bridge.
const KeyJASPI = "jaspi"

// Options are the inputs of New besides the configuration.
type Options struct {
	// Metadata supplies module security constraints. Required.
	Metadata constraints.Provider
	// Users is the user registry for BASIC, FORM and CLIENT_CERT. Optional.
	Users auth.UserRegistry
	// Authorization overrides the service named by authz.config_file.
	Authorization authorizers.Service
	// Syncer binds identities for the duration of the target resource.
	Syncer auth.IdentitySyncer
	// Registerer receives the pipeline metrics. Defaults to the global
	// registry.
	Registerer prometheus.Registerer
	// Cache overrides the replay backend named by the configuration.
	Cache replay.Cache
}

// pipeline is everything rebuilt when the configuration changes.
type pipeline struct {
	sso      *sso.Manager
	chain    *chain.Chain
	proxy    *webauth.Proxy
	oidc     *oidc.Provider
	collab   *collaborator.Collaborator
	handlers *form.Handlers

	// cancel ends the context of providers with background workers.
	cancel  context.CancelFunc
	closers []io.Closer
}

// release stops the background work owned by p. Bearer tokens still being
// validated on p fail as unavailable.
func (p *pipeline) release() error {
	p.cancel()
	var errs []error
	for _, c := range p.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}

// Runtime is the assembled pipeline.
type Runtime struct {
	// base is the parent of every pipeline context.
	base     context.Context
	opts     Options
	holder   *config.Holder
	authz    *authz.Engine
	metrics  *telemetry.Metrics
	cache    replay.Cache
	sessions *session.Manager
	audit    audit.Sink

	loggedOut    *replay.LoggedOutTokens
	oidcSessions *replay.OIDCSessions
	httpSessions *replay.HTTPSessions

	// mu serializes provider registration and reconfiguration.
	mu       sync.Mutex
	external map[string]auth.ChainProvider
	jaspi    *jaspi.Bridge
	current  atomic.Pointer[pipeline]

	closers []io.Closer
}

// New builds a Runtime for cfg.
func New(ctx context.Context, cfg *config.WebAppSecurityConfig, opts Options) (*Runtime, error) {
	if opts.Metadata == nil {
		return nil, wgerrors.NewInvalidArgumentError("metadata provider is required", nil)
	}
	holder, err := config.NewHolder(cfg)
	if err != nil {
		return nil, err
	}
	snap := holder.Snapshot()

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	rt := &Runtime{
		base:     ctx,
		opts:     opts,
		holder:   holder,
		metrics:  telemetry.NewMetrics(reg),
		external: map[string]auth.ChainProvider{},
		audit:    audit.NopSink{},
	}

	rt.cache = opts.Cache
	if rt.cache == nil {
		rt.cache, err = replay.NewFromConfig(ctx, snap.Replay)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, rt.cache)
	}
	rt.loggedOut = replay.NewLoggedOutTokens(rt.cache)
	rt.oidcSessions = replay.NewOIDCSessions(rt.cache)
	rt.httpSessions = replay.NewHTTPSessions(rt.cache)
	rt.sessions = session.NewManager(snap.SSO.TokenExpiry)

	if snap.Audit != nil && !snap.Audit.Disabled {
		auditor, err := audit.NewAuditor(snap.Audit)
		if err != nil {
			rt.close()
			return nil, wgerrors.NewConfigurationError("invalid audit configuration", err)
		}
		rt.audit = auditor
		rt.closers = append(rt.closers, auditor)
	}

	rt.authz = authz.NewEngine(nil, rt.metrics)
	if err := rt.loadAuthorization(snap); err != nil {
		rt.close()
		return nil, err
	}

	p, err := rt.build(snap)
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.current.Store(p)
	return rt, nil
}

func (rt *Runtime) loadAuthorization(cfg *config.WebAppSecurityConfig) error {
	svc, err := rt.authorizationService(cfg)
	if err != nil {
		return err
	}
	rt.authz.SetService(svc)
	return nil
}

// authorizationService resolves the service for cfg without installing it.
func (rt *Runtime) authorizationService(cfg *config.WebAppSecurityConfig) (authorizers.Service, error) {
	switch {
	case rt.opts.Authorization != nil:
		return rt.opts.Authorization, nil
	case cfg.Authz.ConfigFile != "":
		return authorizers.LoadService(cfg.Authz.ConfigFile)
	default:
		logger.Warnw("no authorization service configured, protected resources will be denied")
		return nil, nil
	}
}

// build assembles a pipeline for cfg. Externally registered providers and
// the JASPI bridge carry over. A failed build releases what it started.
func (rt *Runtime) build(cfg *config.WebAppSecurityConfig) (*pipeline, error) {
	ctx, cancel := context.WithCancel(rt.base)
	p := &pipeline{chain: chain.New(), cancel: cancel}
	if err := rt.assemble(ctx, p, cfg); err != nil {
		if rerr := p.release(); rerr != nil {
			logger.Warnw("failed to release partial pipeline", "error", rerr)
		}
		return nil, err
	}
	return p, nil
}

func (rt *Runtime) assemble(ctx context.Context, p *pipeline, cfg *config.WebAppSecurityConfig) error {
	codec := cookie.NewCodec(cfg.SSO.ChunkSize, cfg.SSO.MaxChunks, cfg.CookieCache.MaxEntries)
	helper := cookie.NewHelper(cfg.SSO, codec)
	manager, err := sso.NewManager(cfg, helper, rt.loggedOut)
	if err != nil {
		return err
	}
	manager.BindSessions(rt.httpSessions)
	p.sso = manager

	register := func(key string, cp auth.ChainProvider) error {
		if err := p.chain.RegisterProvider(key, cp); err != nil {
			return err
		}
		logger.Debugw("registered chain provider", "key", key, "name", cp.Name())
		return nil
	}

	if err := register(chain.KeySSO, manager.Authenticator()); err != nil {
		return err
	}

	var taiProvider *tai.Provider
	if cfg.TAI.Enabled {
		taiProvider, err = tai.NewFromConfig(cfg.TAI)
		if err != nil {
			return err
		}
		if err := register(chain.KeyTAI, taiProvider); err != nil {
			return err
		}
	}

	if cfg.OAuth.Enabled {
		op, err := oauth.NewFromConfig(ctx, cfg.OAuth)
		if err != nil {
			return err
		}
		p.closers = append(p.closers, op)
		if err := register(chain.KeyOAuth, op); err != nil {
			return err
		}
	}

	if cfg.SPNEGO.Enabled {
		negotiator, err := spnego.NewGSSAPINegotiator(cfg.SPNEGO.GSSAPIProvider, cfg.SPNEGO.ServicePrincipal)
		if err != nil {
			return wgerrors.NewConfigurationError("failed to initialize SPNEGO", err)
		}
		if err := register(chain.KeySPNEGO, spnego.NewProvider(cfg.SPNEGO, negotiator)); err != nil {
			return err
		}
	}

	if cfg.OIDC.Enabled {
		p.oidc, err = oidc.NewProvider(cfg.OIDC, rt.cache, rt.oidcSessions,
			oidc.WithCookieIssuer(manager),
			oidc.WithSSOCookiePresent(func(r *http.Request) bool {
				_, ok, _ := manager.TokenFromCookies(r)
				return ok
			}),
			oidc.WithSessionTTL(cfg.SSO.TokenExpiry),
		)
		if err != nil {
			return err
		}
		manager.AddRevoker(p.oidc)
		if err := register(chain.KeyOIDC, p.oidc); err != nil {
			return err
		}
	}

	for key, cp := range rt.external {
		if err := register(key, cp); err != nil {
			return err
		}
	}

	saver := postparams.NewSaver(cfg.PostParams, codec, rt.sessions)
	methods := webauth.Authenticators{
		Chain:      p.chain,
		Form:       form.New(manager.Authenticator(), saver),
		PostParams: saver,
	}
	if rt.opts.Users != nil {
		methods.Basic = basic.New(rt.opts.Users)
		methods.ClientCert = cert.New(rt.opts.Users)
	}
	p.proxy = webauth.New(methods)
	p.proxy.SetJASPI(rt.jaspi)

	deps := collaborator.Deps{
		Config:       rt.holder,
		Metadata:     rt.opts.Metadata,
		Authenticate: p.proxy,
		Authorize:    rt.authz,
		SSO:          manager,
		Syncer:       rt.opts.Syncer,
		Audit:        rt.audit,
		Metrics:      rt.metrics,
	}
	if taiProvider != nil {
		deps.TAI = taiProvider
	}
	p.collab, err = collaborator.New(deps)
	if err != nil {
		return err
	}

	p.handlers = &form.Handlers{
		Registry:     rt.opts.Users,
		SSO:          manager,
		Config:       rt.holder.Snapshot,
		Sessions:     rt.sessions,
		HTTPSessions: rt.httpSessions,
		Audit:        rt.audit,
	}
	return nil
}

// Config returns the published configuration.
func (rt *Runtime) Config() *config.WebAppSecurityConfig {
	return rt.holder.Snapshot()
}

// Collaborator returns the current decision engine.
func (rt *Runtime) Collaborator() *collaborator.Collaborator {
	return rt.current.Load().collab
}

// Authorization returns the authorization engine.
func (rt *Runtime) Authorization() *authz.Engine {
	return rt.authz
}

// SSO returns the current SSO manager.
func (rt *Runtime) SSO() *sso.Manager {
	return rt.current.Load().sso
}

// ChainKeys lists the registered chain providers.
func (rt *Runtime) ChainKeys() []string {
	return rt.current.Load().chain.Keys()
}

// RegisterProvider adds a provider under key. The "jaspi" key takes a
// jaspi.Provider; every other key takes an auth.ChainProvider.
func (rt *Runtime) RegisterProvider(key string, provider any) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if key == KeyJASPI {
		jp, ok := provider.(jaspi.Provider)
		if !ok || jp == nil {
			return wgerrors.NewInvalidArgumentError(fmt.Sprintf("provider for %q must be a jaspi.Provider", key), nil)
		}
		rt.jaspi = jaspi.NewBridge(jp)
		rt.current.Load().proxy.SetJASPI(rt.jaspi)
		logger.Infow("registered jaspi provider", "name", jp.Name())
		return nil
	}

	cp, ok := provider.(auth.ChainProvider)
	if !ok || cp == nil {
		return wgerrors.NewInvalidArgumentError(fmt.Sprintf("provider for %q must be an auth.ChainProvider", key), nil)
	}
	if err := rt.current.Load().chain.RegisterProvider(key, cp); err != nil {
		return err
	}
	rt.external[key] = cp
	logger.Infow("registered chain provider", "key", key, "name", cp.Name())
	return nil
}

// UnregisterProvider removes the provider under key.
func (rt *Runtime) UnregisterProvider(key string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if key == KeyJASPI {
		rt.jaspi = nil
		rt.current.Load().proxy.SetJASPI(nil)
		return
	}
	delete(rt.external, key)
	rt.current.Load().chain.UnregisterProvider(key)
}

// Reconfigure validates cfg, rebuilds the pipeline and swaps it in together
// with the authorization service. Requests in flight finish on the pipeline
// they started with, whose background workers are stopped. The replay
// backend, audit sink and metrics are kept.
func (rt *Runtime) Reconfigure(ctx context.Context, cfg *config.WebAppSecurityConfig) error {
	if cfg == nil {
		return wgerrors.NewInvalidArgumentError("config must not be nil", nil)
	}
	next := cfg.Clone()
	if err := next.Validate(); err != nil {
		return err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	svc, err := rt.authorizationService(next)
	if err != nil {
		return err
	}
	p, err := rt.build(next)
	if err != nil {
		return err
	}
	if err := rt.holder.Replace(next); err != nil {
		if rerr := p.release(); rerr != nil {
			logger.Warnw("failed to release unused pipeline", "error", rerr)
		}
		return err
	}
	rt.authz.SetService(svc)
	old := rt.current.Swap(p)
	if err := old.release(); err != nil {
		logger.Warnw("failed to release replaced pipeline", "error", err)
	}
	logger.Infow("security configuration replaced")
	return nil
}

// Middleware guards next with the current decision engine.
func (rt *Runtime) Middleware(resolve collaborator.ResourceResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rt.Collaborator().Middleware(resolve)(next).ServeHTTP(w, r)
		})
	}
}

// LoginHandler serves the form login endpoint.
func (rt *Runtime) LoginHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := rt.current.Load().handlers
		if h.Registry == nil {
			http.Error(w, "form login is not configured", http.StatusNotFound)
			return
		}
		h.Login().ServeHTTP(w, r)
	})
}

// LogoutHandler serves the logout endpoint.
func (rt *Runtime) LogoutHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rt.current.Load().handlers.Logout().ServeHTTP(w, r)
	})
}

// OIDCCallbackHandler serves the redirect URLs of the OIDC clients.
func (rt *Runtime) OIDCCallbackHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := rt.current.Load().oidc
		if p == nil {
			http.NotFound(w, r)
			return
		}
		p.CallbackHandler().ServeHTTP(w, r)
	})
}

// OIDCBackChannelLogoutHandler serves OIDC back-channel logout.
func (rt *Runtime) OIDCBackChannelLogoutHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := rt.current.Load().oidc
		if p == nil {
			http.NotFound(w, r)
			return
		}
		p.BackChannelLogoutHandler().ServeHTTP(w, r)
	})
}

// OIDCCallbackPaths lists the callback paths of the current OIDC clients.
func (rt *Runtime) OIDCCallbackPaths() []string {
	if p := rt.current.Load().oidc; p != nil {
		return p.CallbackPaths()
	}
	return nil
}

// Close releases the current pipeline, the replay backend, the audit writer
// and the session store.
func (rt *Runtime) Close() error {
	return rt.close()
}

func (rt *Runtime) close() error {
	if rt.sessions != nil {
		rt.sessions.Stop()
	}
	var errs []error
	if p := rt.current.Load(); p != nil {
		errs = append(errs, p.release())
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
