// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package form

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/bcrypt"

	"github.com/stacklok/webguard/pkg/audit"
	amocks "github.com/stacklok/webguard/pkg/audit/mocks"
	"github.com/stacklok/webguard/pkg/auth"
	"github.com/stacklok/webguard/pkg/auth/sso"
	"github.com/stacklok/webguard/pkg/auth/userregistry"
	"github.com/stacklok/webguard/pkg/config"
	"github.com/stacklok/webguard/pkg/constraints"
	"github.com/stacklok/webguard/pkg/cookie"
	"github.com/stacklok/webguard/pkg/postparams"
	"github.com/stacklok/webguard/pkg/reply"
	"github.com/stacklok/webguard/pkg/replay"
	"github.com/stacklok/webguard/pkg/session"
)

type env struct {
	cfg      *config.WebAppSecurityConfig
	manager  *sso.Manager
	saver    *postparams.Saver
	registry *userregistry.Registry
	cache    *replay.MemoryCache
	sessions *session.Manager
}

func newEnv(t *testing.T) *env {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.SSO.SigningKey = strings.Repeat("f", 32)
	require.NoError(t, cfg.Validate())

	codec := cookie.NewCodec(cfg.SSO.ChunkSize, cfg.SSO.MaxChunks, 16)
	cache := replay.NewMemoryCache()
	t.Cleanup(func() { _ = cache.Close() })
	sessions := session.NewManager(time.Hour)
	t.Cleanup(sessions.Stop)

	m, err := sso.NewManager(cfg, cookie.NewHelper(cfg.SSO, codec), replay.NewLoggedOutTokens(cache))
	require.NoError(t, err)
	m.BindSessions(replay.NewHTTPSessions(cache))

	h, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)
	reg, err := userregistry.New(userregistry.File{
		Realm: "shopRealm",
		Users: []userregistry.User{{Name: "alice", PasswordHash: string(h)}},
	})
	require.NoError(t, err)

	return &env{
		cfg:      cfg,
		manager:  m,
		saver:    postparams.NewSaver(cfg.PostParams, codec, sessions),
		registry: reg,
		cache:    cache,
		sessions: sessions,
	}
}

func (e *env) webRequest(r *http.Request, rec *httptest.ResponseRecorder, page string) *auth.WebRequest {
	req := auth.NewWebRequest(reply.NewWriter(rec), r, e.cfg)
	req.LoginConfig = &constraints.LoginConfiguration{AuthMethod: constraints.AuthMethodForm, FormLoginPage: page}
	return req
}

func (e *env) handlers(sink audit.Sink) *Handlers {
	return &Handlers{
		Registry:     e.registry,
		SSO:          e.manager,
		Config:       func() *config.WebAppSecurityConfig { return e.cfg },
		ErrorPage:    "/login-error.html",
		Sessions:     e.sessions,
		HTTPSessions: replay.NewHTTPSessions(e.cache),
		Audit:        sink,
	}
}

func TestAuthenticateRedirectsToLoginPage(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	body := url.Values{"item": {"42"}}.Encode()
	r := httptest.NewRequest(http.MethodPost, "/shop/checkout", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	result, err := New(e.manager.Authenticator(), e.saver).
		Authenticate(context.Background(), e.webRequest(r, rec, "/login.html"))
	require.NoError(t, err)
	assert.Equal(t, auth.StatusRedirect, result.Status)
	assert.Equal(t, "/login.html", result.RedirectURL)

	var reqURL *http.Cookie
	for _, c := range result.Cookies() {
		if c.Name == config.DefaultReqURLCookie {
			reqURL = c
		}
	}
	require.NotNil(t, reqURL)
	assert.Equal(t, url.QueryEscape("/shop/checkout"), reqURL.Value)

	saved := rec.Result().Cookies()
	require.Len(t, saved, 1, "POST parameters saved")
	assert.Equal(t, config.DefaultPostParamCookie, saved[0].Name)
}

func TestAuthenticateUsesSSOCookie(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	cookies, err := e.manager.Issue(auth.NewIdentity("alice", "shopRealm"), nil)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/shop", nil)
	for _, c := range cookies {
		r.AddCookie(c)
	}
	result, err := New(e.manager.Authenticator(), e.saver).
		Authenticate(context.Background(), e.webRequest(r, httptest.NewRecorder(), "/login.html"))
	require.NoError(t, err)
	assert.Equal(t, auth.StatusSuccess, result.Status)
}

func TestAuthenticateCookieOverride(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	raw, _, err := e.manager.Tokens().Issue(auth.NewIdentity("alice", "shopRealm"))
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/shop", nil)
	r.AddCookie(&http.Cookie{Name: "AppSSO", Value: raw})

	withOverride := New(e.manager.Authenticator(), nil, WithSSOCookieName("AppSSO"))
	result, err := withOverride.Authenticate(context.Background(), e.webRequest(r, httptest.NewRecorder(), "/login.html"))
	require.NoError(t, err)
	assert.Equal(t, auth.StatusSuccess, result.Status)

	result, err = New(e.manager.Authenticator(), nil).
		Authenticate(context.Background(), e.webRequest(r, httptest.NewRecorder(), "/login.html"))
	require.NoError(t, err)
	assert.Equal(t, auth.StatusRedirect, result.Status)
}

func TestAuthenticateWithoutLoginPage(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	r := httptest.NewRequest(http.MethodGet, "/shop", nil)
	result, err := New(nil, nil).Authenticate(context.Background(), e.webRequest(r, httptest.NewRecorder(), ""))
	require.NoError(t, err)
	assert.Equal(t, auth.StatusFailure, result.Status)
}

func TestIsLocalRedirect(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		"/shop/cart?x=1":      true,
		"/":                   true,
		"":                    false,
		"//evil.example.com":  false,
		"/\\evil.example.com": false,
		"https://evil":        false,
		"shop":                false,
	}
	for target, want := range tests {
		assert.Equal(t, want, IsLocalRedirect(target), target)
	}
}

func loginRequest(user, password string, cookies ...*http.Cookie) *http.Request {
	body := url.Values{UsernameParam: {user}, PasswordParam: {password}}.Encode()
	r := httptest.NewRequest(http.MethodPost, LoginPath, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		r.AddCookie(c)
	}
	return r
}

func TestLoginHandler(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctrl := gomock.NewController(t)
	sink := amocks.NewMockSink(ctrl)
	var entries []audit.Entry
	sink.EXPECT().Record(gomock.Any(), gomock.Any()).
		Do(func(_ context.Context, en audit.Entry) { entries = append(entries, en) }).Times(3)
	h := e.handlers(sink).Login()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, loginRequest("alice", "secret",
		&http.Cookie{Name: config.DefaultReqURLCookie, Value: url.QueryEscape("/shop/cart")}))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/shop/cart", rec.Header().Get("Location"))

	var sawSSO bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == config.DefaultSSOCookieName && c.Value != "" {
			sawSSO = true
		}
	}
	assert.True(t, sawSSO)
	assert.Equal(t, 1, e.sessions.Len())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, loginRequest("alice", "wrong"))
	assert.Equal(t, "/login-error.html", rec.Header().Get("Location"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, loginRequest("alice", "secret",
		&http.Cookie{Name: config.DefaultReqURLCookie, Value: url.QueryEscape("https://evil.example.com/")}))
	assert.Equal(t, "/", rec.Header().Get("Location"), "open redirects are refused")

	require.Len(t, entries, 3)
	assert.Equal(t, audit.OutcomeSuccess, entries[0].Outcome)
	assert.Equal(t, audit.OutcomeFailure, entries[1].Outcome)
	assert.Equal(t, "alice", entries[1].User)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, LoginPath, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestLogoutHandlerRevokesToken(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	cookies, err := e.manager.Issue(auth.NewIdentity("alice", "shopRealm"), nil)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, LogoutPath+"?logoutExitPage=/bye.html", nil)
	for _, c := range cookies {
		r.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.handlers(nil).Logout().ServeHTTP(rec, r)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/bye.html", rec.Header().Get("Location"))
	assert.Equal(t, 1, e.cache.Len())

	var cleared bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == config.DefaultSSOCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared)

	replayed := httptest.NewRequest(http.MethodGet, "/shop", nil)
	for _, c := range cookies {
		replayed.AddCookie(c)
	}
	result, err := e.manager.Authenticator().Authenticate(context.Background(),
		e.webRequest(replayed, httptest.NewRecorder(), "/login.html"))
	require.NoError(t, err)
	assert.Equal(t, auth.StatusFailure, result.Status)
}

func TestLogoutEndsSessionForEveryToken(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	rec := httptest.NewRecorder()
	e.handlers(nil).Login().ServeHTTP(rec, loginRequest("alice", "secret"))
	require.Equal(t, http.StatusFound, rec.Code)
	var sessionCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.CookieName {
			sessionCookie = c
		}
	}
	require.NotNil(t, sessionCookie)

	// A second token for the same user that logout never sees.
	other, err := e.manager.Issue(auth.NewIdentity("alice", "shopRealm"), nil)
	require.NoError(t, err)

	withSession := func(cookies []*http.Cookie) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/shop", nil)
		r.AddCookie(sessionCookie)
		for _, c := range cookies {
			r.AddCookie(c)
		}
		return r
	}
	authenticate := func(r *http.Request) *auth.AuthenticationResult {
		result, err := e.manager.Authenticator().Authenticate(context.Background(),
			e.webRequest(r, httptest.NewRecorder(), "/login.html"))
		require.NoError(t, err)
		return result
	}
	require.Equal(t, auth.StatusSuccess, authenticate(withSession(other)).Status)

	rec = httptest.NewRecorder()
	e.handlers(nil).Logout().ServeHTTP(rec, withSession(nil))
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Zero(t, e.sessions.Len())

	result := authenticate(withSession(other))
	assert.Equal(t, auth.StatusFailure, result.Status)
	assert.True(t, result.CredentialRejected)

	bob, err := e.manager.Issue(auth.NewIdentity("bob", "shopRealm"), nil)
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodGet, "/shop", nil)
	for _, c := range bob {
		r.AddCookie(c)
	}
	assert.Equal(t, auth.StatusSuccess, authenticate(r).Status, "requests without the session cookie are unaffected")
}
