// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/bcrypt"

	"github.com/stacklok/webguard/pkg/auth"
	"github.com/stacklok/webguard/pkg/auth/chain"
	jmocks "github.com/stacklok/webguard/pkg/auth/jaspi/mocks"
	"github.com/stacklok/webguard/pkg/auth/mocks"
	"github.com/stacklok/webguard/pkg/auth/userregistry"
	"github.com/stacklok/webguard/pkg/authz/authorizers/roles"
	"github.com/stacklok/webguard/pkg/collaborator"
	"github.com/stacklok/webguard/pkg/config"
	"github.com/stacklok/webguard/pkg/constraints"
	wgerrors "github.com/stacklok/webguard/pkg/errors"
	"github.com/stacklok/webguard/pkg/replay"
)

func testConfig(t *testing.T) *config.WebAppSecurityConfig {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.SSO.SigningKey = strings.Repeat("s", 32)
	require.NoError(t, cfg.Validate())
	return cfg
}

func testOptions(t *testing.T) Options {
	t.Helper()
	spec := constraints.ModuleSpec{
		App:    "shop",
		Module: "web",
		Roles:  []string{"user"},
		Constraints: []constraints.SecurityConstraint{{
			Name:        "orders",
			Collections: []constraints.WebResourceCollection{{URLPatterns: []string{"/orders/*"}}},
			Roles:       []string{"user"},
		}},
		Login: constraints.LoginConfiguration{AuthMethod: constraints.AuthMethodBasic, Realm: "shopRealm"},
	}
	meta, err := spec.Build()
	require.NoError(t, err)
	metadata := constraints.NewRegistry()
	metadata.Publish("shop", "web", meta)

	h, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)
	users, err := userregistry.New(userregistry.File{
		Realm: "shopRealm",
		Users: []userregistry.User{{Name: "alice", PasswordHash: string(h), Groups: []string{"buyers"}}},
	})
	require.NoError(t, err)

	cache := replay.NewMemoryCache()
	t.Cleanup(func() { _ = cache.Close() })

	return Options{
		Metadata: metadata,
		Users:    users,
		Authorization: roles.NewService(map[string]map[string]roles.Binding{
			"shop": {"user": {Groups: []string{"buyers"}}},
		}),
		Registerer: prometheus.NewRegistry(),
		Cache:      cache,
	}
}

func newRuntime(t *testing.T) *Runtime {
	t.Helper()
	rt, err := New(context.Background(), testConfig(t), testOptions(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func guarded(rt *Runtime) http.Handler {
	return rt.Middleware(collaborator.StaticResource("shop", "web"))(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			id, _ := auth.IdentityFromContext(r.Context())
			if id == nil {
				_, _ = w.Write([]byte("anonymous"))
				return
			}
			_, _ = w.Write([]byte(id.Subject))
		}))
}

func TestRuntimeBasicThenSSO(t *testing.T) {
	t.Parallel()

	rt := newRuntime(t)
	h := guarded(rt)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "https://shop.example.com/orders/1", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, `Basic realm="shopRealm"`, rec.Header().Get("WWW-Authenticate"))

	r := httptest.NewRequest(http.MethodGet, "https://shop.example.com/orders/1", nil)
	r.SetBasicAuth("alice", "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", rec.Body.String())

	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)

	r = httptest.NewRequest(http.MethodGet, "https://shop.example.com/orders/2", nil)
	for _, c := range cookies {
		r.AddCookie(c)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "https://shop.example.com/catalog", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "anonymous", rec.Body.String())
}

func TestRuntimeWrongPasswordChallenges(t *testing.T) {
	t.Parallel()

	rt := newRuntime(t)
	r := httptest.NewRequest(http.MethodGet, "https://shop.example.com/orders/1", nil)
	r.SetBasicAuth("alice", "wrong")
	rec := httptest.NewRecorder()
	guarded(rt).ServeHTTP(rec, r)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
}

func TestRuntimeFailsClosedWithoutAuthorization(t *testing.T) {
	t.Parallel()

	opts := testOptions(t)
	opts.Authorization = nil
	rt, err := New(context.Background(), testConfig(t), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	r := httptest.NewRequest(http.MethodGet, "https://shop.example.com/orders/1", nil)
	r.SetBasicAuth("alice", "secret")
	rec := httptest.NewRecorder()
	guarded(rt).ServeHTTP(rec, r)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRuntimeRegisterProvider(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	rt := newRuntime(t)

	provider := mocks.NewMockChainProvider(ctrl)
	provider.EXPECT().Name().Return("openid").AnyTimes()
	require.NoError(t, rt.RegisterProvider(chain.KeyOpenID, provider))
	assert.Contains(t, rt.ChainKeys(), chain.KeyOpenID)
	assert.Contains(t, rt.ChainKeys(), chain.KeySSO)

	err := rt.RegisterProvider("custom", provider)
	assert.True(t, wgerrors.IsInvalidArgument(err), "unknown key: %v", err)
	err = rt.RegisterProvider(chain.KeyOIDC, "not a provider")
	assert.True(t, wgerrors.IsInvalidArgument(err))
	err = rt.RegisterProvider(KeyJASPI, provider)
	assert.True(t, wgerrors.IsInvalidArgument(err))

	jp := jmocks.NewMockProvider(ctrl)
	jp.EXPECT().Name().Return("jaspi-test").AnyTimes()
	require.NoError(t, rt.RegisterProvider(KeyJASPI, jp))
	assert.NotNil(t, rt.current.Load().proxy.JASPI())

	// Registrations survive reconfiguration.
	require.NoError(t, rt.Reconfigure(context.Background(), testConfig(t)))
	assert.Contains(t, rt.ChainKeys(), chain.KeyOpenID)
	assert.NotNil(t, rt.current.Load().proxy.JASPI())

	rt.UnregisterProvider(chain.KeyOpenID)
	rt.UnregisterProvider(KeyJASPI)
	assert.NotContains(t, rt.ChainKeys(), chain.KeyOpenID)
	assert.Nil(t, rt.current.Load().proxy.JASPI())
}

func TestRuntimeReconfigure(t *testing.T) {
	t.Parallel()

	rt := newRuntime(t)
	before := rt.Collaborator()

	next := testConfig(t)
	next.SSO.CookieName = "ShopToken"
	require.NoError(t, rt.Reconfigure(context.Background(), next))
	assert.NotSame(t, before, rt.Collaborator())
	assert.Equal(t, "ShopToken", rt.Config().SSO.CookieName)

	r := httptest.NewRequest(http.MethodGet, "https://shop.example.com/orders/1", nil)
	r.SetBasicAuth("alice", "secret")
	rec := httptest.NewRecorder()
	guarded(rt).ServeHTTP(rec, r)
	require.Equal(t, http.StatusOK, rec.Code)
	var names []string
	for _, c := range rec.Result().Cookies() {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, "ShopToken")

	bad := testConfig(t)
	bad.SSO.MaxChunks = 0
	err := rt.Reconfigure(context.Background(), bad)
	assert.True(t, wgerrors.IsConfiguration(err), "got %v", err)
	assert.Equal(t, "ShopToken", rt.Config().SSO.CookieName)

	assert.True(t, wgerrors.IsInvalidArgument(rt.Reconfigure(context.Background(), nil)))
}

func TestRuntimeOIDCHandlersWhenDisabled(t *testing.T) {
	t.Parallel()

	rt := newRuntime(t)
	assert.Empty(t, rt.OIDCCallbackPaths())

	rec := httptest.NewRecorder()
	rt.OIDCCallbackHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oidcclient/cb", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	rt.OIDCBackChannelLogoutHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/oidcclient/logout", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewRequiresMetadata(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), testConfig(t), Options{Registerer: prometheus.NewRegistry()})
	assert.True(t, wgerrors.IsInvalidArgument(err))
}

func TestAuthorizationConfigFile(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Authz.ConfigFile = "/does/not/exist.yaml"
	opts := testOptions(t)
	opts.Authorization = nil
	_, err := New(context.Background(), cfg, opts)
	require.Error(t, err)
}

func oauthConfig(t *testing.T) *config.WebAppSecurityConfig {
	t.Helper()
	cfg := testConfig(t)
	cfg.OAuth.Enabled = true
	cfg.OAuth.Issuer = "https://issuer.example.com"
	cfg.OAuth.JWKSURL = "https://issuer.example.com/jwks"
	require.NoError(t, cfg.Validate())
	return cfg
}

// Not parallel: it counts process goroutines.
func TestRuntimeReconfigureReleasesReplacedPipeline(t *testing.T) {
	rt, err := New(context.Background(), oauthConfig(t), testOptions(t))
	require.NoError(t, err)
	require.Contains(t, rt.ChainKeys(), chain.KeyOAuth)
	baseline := runtime.NumGoroutine()

	for range 20 {
		before := rt.current.Load()
		require.NoError(t, rt.Reconfigure(context.Background(), oauthConfig(t)))
		assert.Nil(t, before.closers)
	}
	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= baseline
	}, 5*time.Second, 20*time.Millisecond, "replaced pipelines kept their JWKS workers")

	require.NoError(t, rt.Close())
	assert.Nil(t, rt.current.Load().closers)
}

func writeRolesFile(t *testing.T, group string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "authz.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: "1.0"
type: roles
roles:
  shop:
    user:
      groups: [`+group+`]
`), 0o600))
	return path
}

func TestRuntimeReconfigureSwapsAuthorizationWithPipeline(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Authz.ConfigFile = writeRolesFile(t, "buyers")
	opts := testOptions(t)
	opts.Authorization = nil
	rt, err := New(context.Background(), cfg, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	status := func() int {
		r := httptest.NewRequest(http.MethodGet, "https://shop.example.com/orders/1", nil)
		r.SetBasicAuth("alice", "secret")
		rec := httptest.NewRecorder()
		guarded(rt).ServeHTTP(rec, r)
		return rec.Code
	}
	require.Equal(t, http.StatusOK, status())

	// The pipeline build fails after the new role file loaded.
	bad := testConfig(t)
	bad.Authz.ConfigFile = writeRolesFile(t, "sellers")
	bad.OAuth.Enabled = true
	bad.OAuth.IntrospectionURL = "://not-a-url"
	before := rt.Collaborator()
	require.Error(t, rt.Reconfigure(context.Background(), bad))
	assert.Same(t, before, rt.Collaborator())
	assert.Equal(t, http.StatusOK, status())

	next := testConfig(t)
	next.Authz.ConfigFile = bad.Authz.ConfigFile
	require.NoError(t, rt.Reconfigure(context.Background(), next))
	assert.Equal(t, http.StatusForbidden, status())
}
