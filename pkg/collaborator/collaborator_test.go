// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package collaborator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/webguard/pkg/audit"
	auditmocks "github.com/stacklok/webguard/pkg/audit/mocks"
	"github.com/stacklok/webguard/pkg/auth"
	"github.com/stacklok/webguard/pkg/auth/chain"
	"github.com/stacklok/webguard/pkg/auth/form"
	"github.com/stacklok/webguard/pkg/auth/jaspi"
	jmocks "github.com/stacklok/webguard/pkg/auth/jaspi/mocks"
	"github.com/stacklok/webguard/pkg/auth/mocks"
	"github.com/stacklok/webguard/pkg/auth/sso"
	"github.com/stacklok/webguard/pkg/auth/webauth"
	"github.com/stacklok/webguard/pkg/authz"
	"github.com/stacklok/webguard/pkg/authz/authorizers"
	"github.com/stacklok/webguard/pkg/authz/authorizers/roles"
	"github.com/stacklok/webguard/pkg/config"
	"github.com/stacklok/webguard/pkg/constraints"
	"github.com/stacklok/webguard/pkg/cookie"
	wgerrors "github.com/stacklok/webguard/pkg/errors"
	"github.com/stacklok/webguard/pkg/reply"
	"github.com/stacklok/webguard/pkg/replay"
)

const (
	testApp    = "shop"
	testModule = "web"
)

func testConfig(t *testing.T) *config.WebAppSecurityConfig {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.SSO.SigningKey = strings.Repeat("k", 32)
	cfg.HTTPSPort = 9443
	require.NoError(t, cfg.Validate())
	return cfg
}

func testMetadata(t *testing.T, method constraints.AuthMethod) *constraints.Registry {
	t.Helper()
	spec := constraints.ModuleSpec{
		App:    testApp,
		Module: testModule,
		Roles:  []string{"admin", "user"},
		Constraints: []constraints.SecurityConstraint{
			{
				Name:        "admin",
				Collections: []constraints.WebResourceCollection{{URLPatterns: []string{"/admin/*"}}},
				Roles:       []string{"admin"},
			},
			{
				Name:        "orders",
				Collections: []constraints.WebResourceCollection{{URLPatterns: []string{"/orders/*"}}},
				Roles:       []string{"user"},
			},
			{
				Name:               "secure",
				Collections:        []constraints.WebResourceCollection{{URLPatterns: []string{"/secure/*"}}},
				Roles:              []string{"user"},
				TransportGuarantee: constraints.TransportConfidential,
			},
			{
				Name:        "closed",
				Collections: []constraints.WebResourceCollection{{URLPatterns: []string{"/closed/*"}}},
				Excluded:    true,
			},
		},
		Login: constraints.LoginConfiguration{
			AuthMethod:    method,
			Realm:         "shopRealm",
			FormLoginPage: "/login.html",
			FormErrorPage: "/error.html",
		},
	}
	meta, err := spec.Build()
	require.NoError(t, err)
	reg := constraints.NewRegistry()
	reg.Publish(testApp, testModule, meta)
	return reg
}

// testAuthorizer grants "admin" to everyone and "user" to the buyers group.
func testAuthorizer() *authz.Engine {
	return authz.NewEngine(roles.NewService(map[string]map[string]roles.Binding{
		testApp: {
			"admin": {Special: []string{authorizers.SubjectEveryone}},
			"user":  {Groups: []string{"buyers"}},
		},
	}), nil)
}

type fixture struct {
	cfg    *config.WebAppSecurityConfig
	chain  *mocks.MockAuthenticator
	basic  *mocks.MockAuthenticator
	proxy  *webauth.Proxy
	syncer *mocks.MockIdentitySyncer
	c      *Collaborator
}

func newFixture(t *testing.T, ctrl *gomock.Controller, mutate func(*Deps)) *fixture {
	t.Helper()
	cfg := testConfig(t)
	holder, err := config.NewHolder(cfg)
	require.NoError(t, err)

	f := &fixture{
		cfg:    holder.Snapshot(),
		chain:  mocks.NewMockAuthenticator(ctrl),
		basic:  mocks.NewMockAuthenticator(ctrl),
		syncer: mocks.NewMockIdentitySyncer(ctrl),
	}
	f.proxy = webauth.New(webauth.Authenticators{Chain: f.chain, Basic: f.basic})
	deps := Deps{
		Config:       holder,
		Metadata:     testMetadata(t, constraints.AuthMethodBasic),
		Authenticate: f.proxy,
		Authorize:    testAuthorizer(),
		Syncer:       f.syncer,
	}
	if mutate != nil {
		mutate(&deps)
	}
	f.c, err = New(deps)
	require.NoError(t, err)
	return f
}

func (f *fixture) decide(t *testing.T, ctx context.Context, r *http.Request) *Decision {
	t.Helper()
	d, err := f.c.Decide(ctx, reply.NewWriter(httptest.NewRecorder()), r, Resource{App: testApp, Module: testModule})
	require.NoError(t, err)
	require.NotNil(t, d.Reply)
	return d
}

func buyer() *auth.Identity {
	id := auth.NewIdentity("alice", "shopRealm")
	id.Groups = []string{"buyers"}
	id.AuthMethod = auth.AuthTypeBasic
	return id
}

func TestUnprotectedNeverAuthenticates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		decorate func(*http.Request)
	}{
		{name: "no credentials", decorate: func(*http.Request) {}},
		{name: "basic credentials", decorate: func(r *http.Request) { r.SetBasicAuth("alice", "secret") }},
		{name: "sso cookie", decorate: func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: config.DefaultSSOCookieName, Value: "token"})
		}},
		{name: "bearer token", decorate: func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			f := newFixture(t, ctrl, nil)
			f.chain.EXPECT().Authenticate(gomock.Any(), gomock.Any()).Times(0)
			f.basic.EXPECT().Authenticate(gomock.Any(), gomock.Any()).Times(0)
			f.syncer.EXPECT().Sync(gomock.Any(), gomock.Any()).Times(0)

			for _, path := range []string{"/", "/public/index.html", "/catalog?page=2"} {
				r := httptest.NewRequest(http.MethodGet, "http://shop.example.com"+path, nil)
				tt.decorate(r)
				d := f.decide(t, context.Background(), r)
				assert.Equal(t, reply.KindPermit, d.Reply.Kind(), path)
				assert.True(t, d.Request.UnprotectedURI)
				assert.Nil(t, d.Security.Invoked)
			}
		})
	}
}

type failingInvoker struct{ calls int }

func (f *failingInvoker) InvokeUnprotected(context.Context, *auth.WebRequest) (*auth.AuthenticationResult, error) {
	f.calls++
	return nil, wgerrors.NewInfrastructureError("interceptor edge failed", nil)
}

func TestUnprotectedTrustAssociationFailurePermits(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.TAI.Enabled = true
	cfg.TAI.InvokeForUnprotectedURIs = true
	holder, err := config.NewHolder(cfg)
	require.NoError(t, err)

	ctrl := gomock.NewController(t)
	chainAuth := mocks.NewMockAuthenticator(ctrl)
	chainAuth.EXPECT().Authenticate(gomock.Any(), gomock.Any()).Times(0)
	invoker := &failingInvoker{}
	c, err := New(Deps{
		Config:       holder,
		Metadata:     testMetadata(t, constraints.AuthMethodBasic),
		Authenticate: webauth.New(webauth.Authenticators{Chain: chainAuth}),
		Authorize:    testAuthorizer(),
		TAI:          invoker,
	})
	require.NoError(t, err)

	d, err := c.Decide(context.Background(), reply.NewWriter(httptest.NewRecorder()),
		httptest.NewRequest(http.MethodGet, "https://shop.example.com/public/index.html", nil),
		Resource{App: testApp, Module: testModule})
	require.NoError(t, err)
	assert.Equal(t, 1, invoker.calls)
	assert.Equal(t, reply.KindPermit, d.Reply.Kind())
	assert.Equal(t, http.StatusOK, d.Reply.StatusCode())
	assert.True(t, d.Request.UnprotectedURI)
	assert.Nil(t, d.Security.Invoked)
}

func TestEveryoneGrantedSkipsAuthentication(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	f := newFixture(t, ctrl, nil)
	f.chain.EXPECT().Authenticate(gomock.Any(), gomock.Any()).Times(0)
	f.basic.EXPECT().Authenticate(gomock.Any(), gomock.Any()).Times(0)

	d := f.decide(t, context.Background(), httptest.NewRequest(http.MethodGet, "http://shop.example.com/admin/panel", nil))
	assert.Equal(t, reply.KindPermit, d.Reply.Kind())
	assert.Equal(t, []string{"admin"}, d.Request.Match.Roles)
}

func TestSecureTransportPrecedesAuthentication(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	f := newFixture(t, ctrl, nil)
	f.chain.EXPECT().Authenticate(gomock.Any(), gomock.Any()).Times(0)
	f.basic.EXPECT().Authenticate(gomock.Any(), gomock.Any()).Times(0)

	r := httptest.NewRequest(http.MethodGet, "http://shop.example.com:8080/secure/pay?amount=3", nil)
	r.SetBasicAuth("alice", "secret")
	d := f.decide(t, context.Background(), r)

	require.Equal(t, reply.KindRedirect, d.Reply.Kind())
	assert.Equal(t, http.StatusFound, d.Reply.StatusCode())
	assert.Equal(t, "https://shop.example.com:9443/secure/pay?amount=3", d.Reply.(*reply.Redirect).URL)
}

func TestPrecludedAccessIsDenied(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	f := newFixture(t, ctrl, nil)
	f.chain.EXPECT().Authenticate(gomock.Any(), gomock.Any()).Times(0)

	d := f.decide(t, context.Background(), httptest.NewRequest(http.MethodGet, "https://shop.example.com/closed/x", nil))
	assert.Equal(t, reply.KindDeny, d.Reply.Kind())
	assert.Equal(t, http.StatusForbidden, d.Reply.StatusCode())
}

func TestSpecialURIs(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	f := newFixture(t, ctrl, func(d *Deps) {
		d.Metadata = testMetadata(t, constraints.AuthMethodForm)
	})
	f.chain.EXPECT().Authenticate(gomock.Any(), gomock.Any()).Times(0)

	for _, r := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "https://shop.example.com/login.html", nil),
		httptest.NewRequest(http.MethodGet, "https://shop.example.com/error.html", nil),
		httptest.NewRequest(http.MethodPost, "https://shop.example.com/j_security_check", nil),
	} {
		d := f.decide(t, context.Background(), r)
		assert.Equal(t, reply.KindPermit, d.Reply.Kind(), r.URL.Path)
	}
}

func TestAuthorizationFailureRestoresPriorIdentity(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	holder, err := config.NewHolder(cfg)
	require.NoError(t, err)
	cache := replay.NewMemoryCache()
	t.Cleanup(func() { _ = cache.Close() })
	helper := cookie.NewHelper(cfg.SSO, cookie.NewCodec(cfg.SSO.ChunkSize, cfg.SSO.MaxChunks, 16))
	manager, err := sso.NewManager(cfg, helper, replay.NewLoggedOutTokens(cache))
	require.NoError(t, err)

	providers := chain.New()
	require.NoError(t, providers.RegisterProvider(chain.KeySSO, manager.Authenticator()))

	ctrl := gomock.NewController(t)
	basic := mocks.NewMockAuthenticator(ctrl)
	basic.EXPECT().Authenticate(gomock.Any(), gomock.Any()).Times(0)
	syncer := mocks.NewMockIdentitySyncer(ctrl)
	syncer.EXPECT().Sync(gomock.Any(), gomock.Any()).Times(0)
	sink := auditmocks.NewMockSink(ctrl)
	var entries []audit.Entry
	sink.EXPECT().Record(gomock.Any(), gomock.Any()).Do(func(_ context.Context, e audit.Entry) {
		entries = append(entries, e)
	}).AnyTimes()

	c, err := New(Deps{
		Config:       holder,
		Metadata:     testMetadata(t, constraints.AuthMethodBasic),
		Authenticate: webauth.New(webauth.Authenticators{Chain: providers, Basic: basic}),
		Authorize:    testAuthorizer(),
		SSO:          manager,
		Syncer:       syncer,
		Audit:        sink,
	})
	require.NoError(t, err)

	bob := auth.NewIdentity("bob", "shopRealm")
	cookies, err := manager.Issue(bob, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)

	tests := []struct {
		name  string
		prior *auth.Identity
	}{
		{name: "unauthenticated caller", prior: nil},
		{name: "previous identity", prior: auth.NewIdentity("system", "shopRealm")},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "https://shop.example.com/orders/1", nil)
		for _, ck := range cookies {
			if ck.MaxAge >= 0 {
				r.AddCookie(ck)
			}
		}
		ctx := auth.WithIdentity(context.Background(), tt.prior)

		d, err := c.Decide(ctx, reply.NewWriter(httptest.NewRecorder()), r, Resource{App: testApp, Module: testModule})
		require.NoError(t, err, tt.name)
		assert.Equal(t, reply.KindDeny, d.Reply.Kind(), tt.name)
		assert.Equal(t, http.StatusForbidden, d.Reply.StatusCode(), tt.name)
		assert.Same(t, tt.prior, d.Security.Invoked, tt.name)
		assert.Same(t, tt.prior, d.Security.Received, tt.name)
		assert.Empty(t, d.Reply.Cookies(), tt.name)
		c.PostInvoke(ctx, d)
	}

	require.NotEmpty(t, entries)
	last := entries[len(entries)-1]
	assert.Equal(t, audit.EventTypeAuthorization, last.Type)
	assert.Equal(t, "bob", last.User)
	assert.Equal(t, http.StatusForbidden, last.StatusCode)
	assert.Equal(t, audit.OutcomeDenied, last.Outcome)
}

func TestLoggedOutCookieOnFormModuleRedirectsToLogin(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	holder, err := config.NewHolder(cfg)
	require.NoError(t, err)
	cache := replay.NewMemoryCache()
	t.Cleanup(func() { _ = cache.Close() })
	helper := cookie.NewHelper(cfg.SSO, cookie.NewCodec(cfg.SSO.ChunkSize, cfg.SSO.MaxChunks, 16))
	manager, err := sso.NewManager(cfg, helper, replay.NewLoggedOutTokens(cache))
	require.NoError(t, err)

	providers := chain.New()
	require.NoError(t, providers.RegisterProvider(chain.KeySSO, manager.Authenticator()))
	c, err := New(Deps{
		Config:   holder,
		Metadata: testMetadata(t, constraints.AuthMethodForm),
		Authenticate: webauth.New(webauth.Authenticators{
			Chain: providers,
			Form:  form.New(manager.Authenticator(), nil),
		}),
		Authorize: testAuthorizer(),
		SSO:       manager,
	})
	require.NoError(t, err)

	alice := auth.NewIdentity("alice", "shopRealm")
	alice.Groups = []string{"buyers"}
	cookies, err := manager.Issue(alice, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	withCookies := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "https://shop.example.com/orders/1", nil)
		for _, ck := range cookies {
			r.AddCookie(ck)
		}
		return r
	}
	decide := func() *Decision {
		d, err := c.Decide(context.Background(), reply.NewWriter(httptest.NewRecorder()), withCookies(),
			Resource{App: testApp, Module: testModule})
		require.NoError(t, err)
		return d
	}

	require.Equal(t, reply.KindPermit, decide().Reply.Kind())

	_, err = manager.Logout(context.Background(), withCookies())
	require.NoError(t, err)

	d := decide()
	require.Equal(t, reply.KindRedirect, d.Reply.Kind())
	assert.Equal(t, http.StatusFound, d.Reply.StatusCode())
	assert.Equal(t, "/login.html", d.Reply.(*reply.Redirect).URL)
	assert.Empty(t, d.Reply.Header().Get("WWW-Authenticate"))

	var cleared, reqURL bool
	for _, ck := range d.Reply.Cookies() {
		switch ck.Name {
		case config.DefaultSSOCookieName:
			cleared = ck.MaxAge < 0
		case config.DefaultReqURLCookie:
			reqURL = true
		}
	}
	assert.True(t, cleared, "the logged out cookie is cleared")
	assert.True(t, reqURL, "the original URL is kept for after login")
	assert.Nil(t, d.Security.Invoked)
}

func TestRejectedCredentialFollowsLoginMethod(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		method   constraints.AuthMethod
		wantKind reply.Kind
		wantCode int
	}{
		{name: "basic", method: constraints.AuthMethodBasic, wantKind: reply.KindChallenge, wantCode: http.StatusUnauthorized},
		{name: "form", method: constraints.AuthMethodForm, wantKind: reply.KindRedirect, wantCode: http.StatusFound},
		{name: "client cert", method: constraints.AuthMethodClientCert, wantKind: reply.KindDeny, wantCode: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			f := newFixture(t, ctrl, func(d *Deps) {
				d.Metadata = testMetadata(t, tt.method)
				d.Syncer = nil
			})
			rejected := auth.FailureWithStatus("SSO token was logged out", http.StatusUnauthorized)
			rejected.CredentialRejected = true
			f.chain.EXPECT().Authenticate(gomock.Any(), gomock.Any()).Return(rejected, nil)

			d := f.decide(t, context.Background(),
				httptest.NewRequest(http.MethodGet, "https://shop.example.com/orders/1", nil))
			assert.Equal(t, tt.wantKind, d.Reply.Kind())
			assert.Equal(t, tt.wantCode, d.Reply.StatusCode())
		})
	}
}

func TestPermitIssuesSSOCookiesAndReleasesOnce(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	issuer := &fakeIssuer{}
	f := newFixture(t, ctrl, func(d *Deps) { d.SSO = issuer })

	id := buyer()
	f.chain.EXPECT().Authenticate(gomock.Any(), gomock.Any()).Return(auth.Continue("none"), nil)
	f.basic.EXPECT().Authenticate(gomock.Any(), gomock.Any()).Return(auth.Success(id), nil)
	token := mocks.NewMockSyncToken(ctrl)
	f.syncer.EXPECT().Sync(gomock.Any(), id).Return(token, nil)
	token.EXPECT().Release().Times(1)

	d := f.decide(t, context.Background(), httptest.NewRequest(http.MethodGet, "https://shop.example.com/orders/1", nil))
	require.Equal(t, reply.KindPermit, d.Reply.Kind())
	assert.Same(t, id, d.Security.Invoked)
	got, ok := auth.IdentityFromContext(d.Context())
	require.True(t, ok)
	assert.Equal(t, "alice", got.Subject)
	require.Len(t, d.Reply.Cookies(), 1)
	assert.Equal(t, config.DefaultSSOCookieName, d.Reply.Cookies()[0].Name)

	f.c.PostInvoke(context.Background(), d)
	f.c.PostInvoke(context.Background(), d)
}

func TestSSOIdentityIsNotReissued(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	issuer := &fakeIssuer{}
	f := newFixture(t, ctrl, func(d *Deps) {
		d.SSO = issuer
		d.Syncer = nil
	})

	fromCookie := buyer()
	fromCookie.AuthMethod = auth.AuthTypeSSO
	optedOut := buyer()
	optedOut.DisableSSOCookie = true
	f.chain.EXPECT().Authenticate(gomock.Any(), gomock.Any()).Return(auth.Success(fromCookie), nil)
	f.chain.EXPECT().Authenticate(gomock.Any(), gomock.Any()).Return(auth.Success(optedOut), nil)

	for range 2 {
		d := f.decide(t, context.Background(), httptest.NewRequest(http.MethodGet, "https://shop.example.com/orders/1", nil))
		require.Equal(t, reply.KindPermit, d.Reply.Kind())
		assert.Empty(t, d.Reply.Cookies())
	}
	assert.Zero(t, issuer.calls)
}

func TestAuthenticationReplies(t *testing.T) {
	t.Parallel()

	bearer := http.Header{}
	bearer.Set("WWW-Authenticate", `Bearer realm="api", error="invalid_token"`)

	tests := []struct {
		name       string
		result     *auth.AuthenticationResult
		wantKind   reply.Kind
		wantStatus int
		wantHeader string
	}{
		{
			name:       "send 401",
			result:     auth.Send401("shopRealm", nil),
			wantKind:   reply.KindChallenge,
			wantStatus: http.StatusUnauthorized,
			wantHeader: `Basic realm="shopRealm"`,
		},
		{
			name:       "failure with 401",
			result:     auth.FailureWithStatus("bad password", http.StatusUnauthorized),
			wantKind:   reply.KindChallenge,
			wantStatus: http.StatusUnauthorized,
			wantHeader: `Basic realm="shopRealm"`,
		},
		{
			name:       "failure",
			result:     auth.Failure("certificate revoked"),
			wantKind:   reply.KindDeny,
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "redirect",
			result:     auth.Redirect("/login.html"),
			wantKind:   reply.KindRedirect,
			wantStatus: http.StatusFound,
		},
		{
			name:       "oauth challenge",
			result:     auth.OAuthChallenge("expired", bearer),
			wantKind:   reply.KindChallenge,
			wantStatus: http.StatusUnauthorized,
			wantHeader: `Bearer realm="api", error="invalid_token"`,
		},
		{
			name:       "oauth challenge without header",
			result:     auth.OAuthChallenge("expired", nil),
			wantKind:   reply.KindChallenge,
			wantStatus: http.StatusUnauthorized,
			wantHeader: `Bearer realm="shopRealm", error="invalid_token", error_description="expired"`,
		},
		{
			name:       "tai challenge",
			result:     auth.TAIChallenge(http.StatusProxyAuthRequired, nil),
			wantKind:   reply.KindChallenge,
			wantStatus: http.StatusProxyAuthRequired,
		},
		{
			name:       "return without status",
			result:     auth.Return(0),
			wantKind:   reply.KindReturn,
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			f := newFixture(t, ctrl, nil)
			f.chain.EXPECT().Authenticate(gomock.Any(), gomock.Any()).Return(tt.result, nil)
			f.syncer.EXPECT().Sync(gomock.Any(), gomock.Any()).Times(0)

			d := f.decide(t, context.Background(),
				httptest.NewRequest(http.MethodGet, "https://shop.example.com/orders/1", nil))
			assert.Equal(t, tt.wantKind, d.Reply.Kind())
			assert.Equal(t, tt.wantStatus, d.Reply.StatusCode())
			if tt.wantHeader != "" {
				assert.Equal(t, tt.wantHeader, d.Reply.Header().Get("WWW-Authenticate"))
			}
			assert.Nil(t, d.Security.Invoked)
		})
	}
}

func TestAuthorizationServiceUnavailableDenies(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	f := newFixture(t, ctrl, func(d *Deps) { d.Authorize = authz.NewEngine(nil, nil) })
	f.chain.EXPECT().Authenticate(gomock.Any(), gomock.Any()).Return(auth.Success(buyer()), nil).AnyTimes()
	f.syncer.EXPECT().Sync(gomock.Any(), gomock.Any()).Times(0)

	for _, path := range []string{"/orders/1", "/admin/panel"} {
		d := f.decide(t, context.Background(), httptest.NewRequest(http.MethodGet, "https://shop.example.com"+path, nil))
		assert.Equal(t, reply.KindDeny, d.Reply.Kind(), path)
	}
}

func TestAuthenticationErrors(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	f := newFixture(t, ctrl, nil)
	r := func() *http.Request {
		return httptest.NewRequest(http.MethodGet, "https://shop.example.com/orders/1", nil)
	}

	f.chain.EXPECT().Authenticate(gomock.Any(), gomock.Any()).
		Return(nil, wgerrors.NewInfrastructureError("registry down", nil))
	d := f.decide(t, context.Background(), r())
	assert.Equal(t, reply.KindDeny, d.Reply.Kind())

	f.chain.EXPECT().Authenticate(gomock.Any(), gomock.Any()).
		Return(nil, wgerrors.NewTamperError("post parameters do not match", nil))
	_, err := f.c.Decide(context.Background(), reply.NewWriter(httptest.NewRecorder()), r(),
		Resource{App: testApp, Module: testModule})
	assert.True(t, wgerrors.IsTamper(err))
}

func TestUnknownModuleIsDenied(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	f := newFixture(t, ctrl, nil)
	f.chain.EXPECT().Authenticate(gomock.Any(), gomock.Any()).Times(0)

	d, err := f.c.Decide(context.Background(), reply.NewWriter(httptest.NewRecorder()),
		httptest.NewRequest(http.MethodGet, "https://shop.example.com/", nil), Resource{App: "nope", Module: "nope"})
	require.NoError(t, err)
	assert.Equal(t, reply.KindDeny, d.Reply.Kind())
}

func TestJASPISecureResponse(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	f := newFixture(t, ctrl, func(d *Deps) { d.Syncer = nil })
	provider := jmocks.NewMockProvider(ctrl)
	provider.EXPECT().Name().Return("acme").AnyTimes()
	provider.EXPECT().IsProcessingRequest(gomock.Any(), gomock.Any()).Return(true)
	provider.EXPECT().ValidateRequest(gomock.Any(), gomock.Any()).Return(auth.Success(buyer()), nil)
	provider.EXPECT().SecureResponse(gomock.Any(), gomock.Any()).Return(nil).Times(1)
	f.chain.EXPECT().Authenticate(gomock.Any(), gomock.Any()).Times(0)
	f.proxy.SetJASPI(jaspi.NewBridge(provider))

	d := f.decide(t, context.Background(), httptest.NewRequest(http.MethodGet, "https://shop.example.com/orders/1", nil))
	require.Equal(t, reply.KindPermit, d.Reply.Kind())
	assert.True(t, d.Security.Invoked.DisableSSOCookie)
	f.c.PostInvoke(context.Background(), d)
}

func TestNewRequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := New(Deps{})
	assert.True(t, wgerrors.IsInvalidArgument(err))
}

type fakeIssuer struct {
	calls int
}

func (f *fakeIssuer) Issue(_ *auth.Identity, _ *http.Request) ([]*http.Cookie, error) {
	f.calls++
	return []*http.Cookie{{Name: config.DefaultSSOCookieName, Value: "issued", Path: "/"}}, nil
}
