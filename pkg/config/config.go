// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config contains the web application security configuration and the
// logic required to load, validate and publish it.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stacklok/toolhive-core/env"

	"github.com/stacklok/webguard/pkg/audit"
	wgerrors "github.com/stacklok/webguard/pkg/errors"
)

// Defaults.
const (
	DefaultRealm             = "defaultRealm"
	DefaultHTTPSPort         = 443
	DefaultSSOCookieName     = "LtpaToken2"
	DefaultJWTCookieName     = "JWT"
	DefaultChunkSize         = 3900
	DefaultMaxChunks         = 99
	DefaultTokenExpiry       = 2 * time.Hour
	DefaultPostParamCookie   = "WASPostParam"
	DefaultPostParamMaxSize  = DefaultChunkSize
	DefaultReqURLCookie      = "WASReqURL"
	DefaultCookieCacheSize   = 1024
	DefaultReplayCleanup     = time.Minute
	DefaultRedisKeyPrefix    = "webguard:"
	DefaultLogoutRedirectURL = "/"
)

// SigningKeyEnvVar overrides sso.signing_key and jwt_sso.signing_key.
const SigningKeyEnvVar = "WEBGUARD_SSO_SIGNING_KEY"

// WebAppSecurityConfig is the process-wide web security configuration. It is
// replaced wholesale on change and never mutated once published.
type WebAppSecurityConfig struct {
	Realm       string            `yaml:"realm"`
	HTTPSPort   int               `yaml:"https_port"`
	SSO         SSOConfig         `yaml:"sso"`
	JWTSSO      JWTSSOConfig      `yaml:"jwt_sso"`
	Failover    FailoverConfig    `yaml:"failover"`
	PostParams  PostParamsConfig  `yaml:"post_params"`
	Login       LoginConfig       `yaml:"login"`
	TAI         TAIConfig         `yaml:"tai"`
	SPNEGO      SPNEGOConfig      `yaml:"spnego"`
	OAuth       OAuthConfig       `yaml:"oauth"`
	OIDC        OIDCConfig        `yaml:"oidc"`
	Replay      ReplayConfig      `yaml:"replay"`
	Audit       *audit.Config     `yaml:"audit,omitempty"`
	Authz       AuthzConfig       `yaml:"authz"`
	CookieCache CookieCacheConfig `yaml:"cookie_cache"`
}

// SSOConfig controls the SSO cookie.
type SSOConfig struct {
	Enabled                 bool          `yaml:"enabled"`
	CookieName              string        `yaml:"cookie_name"`
	UseOnlyCustomCookieName bool          `yaml:"use_only_custom_cookie_name"`
	RequiresSSL             bool          `yaml:"requires_ssl"`
	HTTPOnly                bool          `yaml:"http_only"`
	SameSite                string        `yaml:"same_site"`
	Domains                 []string      `yaml:"domains,omitempty"`
	UseDomainFromURL        bool          `yaml:"use_domain_from_url"`
	TokenExpiry             time.Duration `yaml:"token_expiry"`
	SigningKey              string        `yaml:"signing_key,omitempty"`
	TrackLoggedOutTokens    bool          `yaml:"track_logged_out_tokens"`
	ChunkSize               int           `yaml:"chunk_size"`
	MaxChunks               int           `yaml:"max_chunks"`
}

// JWTSSOConfig controls the JWT SSO cookie issued next to the SSO cookie.
type JWTSSOConfig struct {
	Enabled     bool          `yaml:"enabled"`
	CookieName  string        `yaml:"cookie_name"`
	Issuer      string        `yaml:"issuer"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
	SigningKey  string        `yaml:"signing_key,omitempty"`
}

// FailoverConfig controls failover from a failed CLIENT_CERT authentication.
type FailoverConfig struct {
	AllowAppDefined bool `yaml:"allow_app_defined"`
	AllowFormLogin  bool `yaml:"allow_form_login"`
	AllowBasicAuth  bool `yaml:"allow_basic_auth"`
}

// Enabled reports whether any failover target is allowed.
func (f *FailoverConfig) Enabled() bool {
	return f.AllowAppDefined || f.AllowFormLogin || f.AllowBasicAuth
}

// PostParamStorage selects where POST parameters are kept across a login redirect.
type PostParamStorage string

const (
	// PostParamStorageCookie keeps them in a cookie.
	PostParamStorageCookie PostParamStorage = "cookie"
	// PostParamStorageSession keeps them in the HTTP session.
	PostParamStorageSession PostParamStorage = "session"
	// PostParamStorageNone does not keep them.
	PostParamStorageNone PostParamStorage = "none"
)

// PostParamsConfig controls POST parameter preservation.
type PostParamsConfig struct {
	Storage    PostParamStorage `yaml:"storage"`
	CookieName string           `yaml:"cookie_name"`
	MaxSize    int              `yaml:"max_size"`
}

// LoginConfig controls the form login and logout endpoints.
type LoginConfig struct {
	ReqURLCookieName  string `yaml:"req_url_cookie_name"`
	LogoutRedirectURL string `yaml:"logout_redirect_url"`
}

// TAIConfig controls trust association interceptors.
type TAIConfig struct {
	Enabled                  bool             `yaml:"enabled"`
	InvokeForUnprotectedURIs bool             `yaml:"invoke_for_unprotected_uris"`
	Interceptors             []TAIInterceptor `yaml:"interceptors,omitempty"`
}

// TAIInterceptor configures one header-based interceptor.
type TAIInterceptor struct {
	Name         string `yaml:"name"`
	UserHeader   string `yaml:"user_header"`
	GroupsHeader string `yaml:"groups_header,omitempty"`
	// Target is a CEL expression over request.path, request.method,
	// request.host, request.remote_addr and request.headers.
	Target    string `yaml:"target,omitempty"`
	BeforeSSO bool   `yaml:"before_sso"`
	Realm     string `yaml:"realm,omitempty"`
}

// SPNEGOConfig controls the SPNEGO stage.
type SPNEGOConfig struct {
	Enabled          bool   `yaml:"enabled"`
	InvokeAfterSSO   bool   `yaml:"invoke_after_sso"`
	TrimRealm        bool   `yaml:"trim_realm"`
	DisableFailover  bool   `yaml:"disable_failover"`
	KerberosRealm    string `yaml:"kerberos_realm,omitempty"`
	GSSAPIProvider   string `yaml:"gssapi_provider,omitempty"`
	ServicePrincipal string `yaml:"service_principal,omitempty"`
}

// OAuthConfig controls bearer token validation.
type OAuthConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Issuer    string        `yaml:"issuer"`
	Audience  string        `yaml:"audience"`
	JWKSURL   string        `yaml:"jwks_url"`
	Realm     string        `yaml:"realm,omitempty"`
	ClockSkew time.Duration `yaml:"clock_skew"`
	// IntrospectionURL switches to RFC 7662 introspection of opaque tokens.
	IntrospectionURL string `yaml:"introspection_url,omitempty"`
	ClientID         string `yaml:"client_id,omitempty"`
	ClientSecret     string `yaml:"client_secret,omitempty"`
	// UserIdentifier and GroupIdentifier name the claims holding the user
	// name and groups. Dotted paths reach into nested claims.
	UserIdentifier  string `yaml:"user_identifier,omitempty"`
	GroupIdentifier string `yaml:"group_identifier,omitempty"`
}

// OIDCConfig configures the OpenID Connect relying-party clients.
type OIDCConfig struct {
	Enabled bool         `yaml:"enabled"`
	Clients []OIDCClient `yaml:"clients,omitempty"`
}

// OIDCClient configures one OpenID Connect client.
type OIDCClient struct {
	ID           string   `yaml:"id"`
	Issuer       string   `yaml:"issuer"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret,omitempty"`
	RedirectURL  string   `yaml:"redirect_url"`
	Scopes       []string `yaml:"scopes,omitempty"`
	BeforeSSO    bool     `yaml:"before_sso"`
	// PathPrefix limits the client to request paths with this prefix.
	PathPrefix      string `yaml:"path_prefix,omitempty"`
	UserIdentifier  string `yaml:"user_identifier,omitempty"`
	GroupIdentifier string `yaml:"group_identifier,omitempty"`
}

// ReplayBackend selects the replay cache implementation.
type ReplayBackend string

const (
	// ReplayBackendMemory keeps entries in process memory.
	ReplayBackendMemory ReplayBackend = "memory"
	// ReplayBackendRedis keeps entries in Redis.
	ReplayBackendRedis ReplayBackend = "redis"
	// ReplayBackendSQLite keeps entries in a SQLite database.
	ReplayBackendSQLite ReplayBackend = "sqlite"
)

// ReplayConfig configures the replay caches.
type ReplayConfig struct {
	Backend         ReplayBackend `yaml:"backend"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	Redis           RedisConfig   `yaml:"redis"`
	SQLitePath      string        `yaml:"sqlite_path,omitempty"`
}

// RedisConfig configures the Redis replay backend.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Username  string `yaml:"username,omitempty"`
	Password  string `yaml:"password,omitempty"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// AuthzConfig selects the authorization service.
type AuthzConfig struct {
	// ConfigFile points to an authorization service configuration
	// (type "roles" or "cedarv1").
	ConfigFile string `yaml:"config_file,omitempty"`
}

// CookieCacheConfig bounds the token to cookie value cache.
type CookieCacheConfig struct {
	MaxEntries int `yaml:"max_entries"`
}

// DefaultConfig returns a configuration with SSO enabled and everything else
// at its default.
func DefaultConfig() *WebAppSecurityConfig {
	return &WebAppSecurityConfig{
		Realm:     DefaultRealm,
		HTTPSPort: DefaultHTTPSPort,
		SSO: SSOConfig{
			Enabled:              true,
			CookieName:           DefaultSSOCookieName,
			HTTPOnly:             true,
			SameSite:             "Disabled",
			TokenExpiry:          DefaultTokenExpiry,
			TrackLoggedOutTokens: true,
			ChunkSize:            DefaultChunkSize,
			MaxChunks:            DefaultMaxChunks,
		},
		JWTSSO: JWTSSOConfig{
			CookieName:  DefaultJWTCookieName,
			Issuer:      "webguard-jwtsso",
			TokenExpiry: DefaultTokenExpiry,
		},
		PostParams: PostParamsConfig{
			Storage:    PostParamStorageCookie,
			CookieName: DefaultPostParamCookie,
			MaxSize:    DefaultPostParamMaxSize,
		},
		Login: LoginConfig{
			ReqURLCookieName:  DefaultReqURLCookie,
			LogoutRedirectURL: DefaultLogoutRedirectURL,
		},
		Replay: ReplayConfig{
			Backend:         ReplayBackendMemory,
			CleanupInterval: DefaultReplayCleanup,
			Redis:           RedisConfig{KeyPrefix: DefaultRedisKeyPrefix},
		},
		CookieCache: CookieCacheConfig{MaxEntries: DefaultCookieCacheSize},
	}
}

// LoadFromFile reads a YAML configuration file on top of DefaultConfig.
func LoadFromFile(path string) (*WebAppSecurityConfig, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close() //nolint:errcheck
	return LoadFromReader(f)
}

// LoadFromReader decodes YAML on top of DefaultConfig and validates the result.
func LoadFromReader(r io.Reader) (*WebAppSecurityConfig, error) {
	return LoadFromReaderWithEnv(r, &env.OSReader{})
}

// LoadFromReaderWithEnv is LoadFromReader with an injectable environment.
func LoadFromReaderWithEnv(r io.Reader, envReader env.Reader) (*WebAppSecurityConfig, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, wgerrors.NewConfigurationError("failed to decode config", err)
	}
	cfg.ApplyEnv(envReader)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv applies environment overrides.
func (c *WebAppSecurityConfig) ApplyEnv(envReader env.Reader) {
	if key := envReader.Getenv(SigningKeyEnvVar); key != "" {
		c.SSO.SigningKey = key
		if c.JWTSSO.SigningKey == "" {
			c.JWTSSO.SigningKey = key
		}
	}
}

// Validate checks the configuration and fills derived defaults.
func (c *WebAppSecurityConfig) Validate() error {
	if c.Realm == "" {
		c.Realm = DefaultRealm
	}
	if c.HTTPSPort <= 0 || c.HTTPSPort > 65535 {
		return wgerrors.NewConfigurationError(fmt.Sprintf("invalid https_port %d", c.HTTPSPort), nil)
	}

	if c.SSO.CookieName == "" {
		c.SSO.CookieName = DefaultSSOCookieName
	}
	switch c.SSO.SameSite {
	case "", "Disabled", "Lax", "Strict":
	case "None":
		c.SSO.RequiresSSL = true
	default:
		return wgerrors.NewConfigurationError(fmt.Sprintf("invalid sso.same_site %q", c.SSO.SameSite), nil)
	}
	if c.SSO.ChunkSize <= 0 {
		return wgerrors.NewConfigurationError("sso.chunk_size must be positive", nil)
	}
	if c.SSO.MaxChunks < 1 || c.SSO.MaxChunks > DefaultMaxChunks {
		return wgerrors.NewConfigurationError(
			fmt.Sprintf("sso.max_chunks must be between 1 and %d", DefaultMaxChunks), nil)
	}
	if c.SSO.TokenExpiry <= 0 {
		c.SSO.TokenExpiry = DefaultTokenExpiry
	}

	if c.JWTSSO.CookieName == "" {
		c.JWTSSO.CookieName = DefaultJWTCookieName
	}
	if c.JWTSSO.TokenExpiry <= 0 {
		c.JWTSSO.TokenExpiry = DefaultTokenExpiry
	}
	if c.JWTSSO.Enabled && c.JWTSSO.CookieName == c.SSO.CookieName {
		return wgerrors.NewConfigurationError("jwt_sso.cookie_name must differ from sso.cookie_name", nil)
	}

	switch c.PostParams.Storage {
	case "":
		c.PostParams.Storage = PostParamStorageCookie
	case PostParamStorageCookie, PostParamStorageSession, PostParamStorageNone:
	default:
		return wgerrors.NewConfigurationError(
			fmt.Sprintf("invalid post_params.storage %q", c.PostParams.Storage), nil)
	}
	if c.PostParams.CookieName == "" {
		c.PostParams.CookieName = DefaultPostParamCookie
	}
	if c.PostParams.MaxSize <= 0 {
		c.PostParams.MaxSize = DefaultPostParamMaxSize
	}

	if c.Login.ReqURLCookieName == "" {
		c.Login.ReqURLCookieName = DefaultReqURLCookie
	}
	if c.Login.LogoutRedirectURL == "" {
		c.Login.LogoutRedirectURL = DefaultLogoutRedirectURL
	}

	if err := c.validateProviders(); err != nil {
		return err
	}

	switch c.Replay.Backend {
	case "":
		c.Replay.Backend = ReplayBackendMemory
	case ReplayBackendMemory:
	case ReplayBackendRedis:
		if c.Replay.Redis.Addr == "" {
			return wgerrors.NewConfigurationError("replay.redis.addr is required for the redis backend", nil)
		}
	case ReplayBackendSQLite:
		if c.Replay.SQLitePath == "" {
			return wgerrors.NewConfigurationError("replay.sqlite_path is required for the sqlite backend", nil)
		}
	default:
		return wgerrors.NewConfigurationError(fmt.Sprintf("invalid replay.backend %q", c.Replay.Backend), nil)
	}
	if c.Replay.CleanupInterval <= 0 {
		c.Replay.CleanupInterval = DefaultReplayCleanup
	}
	if c.Replay.Redis.KeyPrefix == "" {
		c.Replay.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}

	if c.CookieCache.MaxEntries <= 0 {
		c.CookieCache.MaxEntries = DefaultCookieCacheSize
	}
	return nil
}

func (c *WebAppSecurityConfig) validateProviders() error {
	if c.TAI.Enabled {
		seen := map[string]bool{}
		for _, ic := range c.TAI.Interceptors {
			if ic.Name == "" || ic.UserHeader == "" {
				return wgerrors.NewConfigurationError("tai interceptors need a name and a user_header", nil)
			}
			if seen[ic.Name] {
				return wgerrors.NewConfigurationError(fmt.Sprintf("duplicate tai interceptor %q", ic.Name), nil)
			}
			seen[ic.Name] = true
		}
	}

	if c.OAuth.Enabled && c.OAuth.IntrospectionURL == "" && (c.OAuth.Issuer == "" || c.OAuth.JWKSURL == "") {
		return wgerrors.NewConfigurationError("oauth requires issuer and jwks_url, or introspection_url", nil)
	}

	if c.OIDC.Enabled {
		ids := map[string]bool{}
		for _, cl := range c.OIDC.Clients {
			if cl.ID == "" || cl.Issuer == "" || cl.ClientID == "" || cl.RedirectURL == "" {
				return wgerrors.NewConfigurationError("oidc clients need id, issuer, client_id and redirect_url", nil)
			}
			if ids[cl.ID] {
				return wgerrors.NewConfigurationError(fmt.Sprintf("duplicate oidc client %q", cl.ID), nil)
			}
			ids[cl.ID] = true
		}
	}
	return nil
}

// Clone returns a deep enough copy for callers that want to derive a new
// configuration from a published one.
func (c *WebAppSecurityConfig) Clone() *WebAppSecurityConfig {
	out := *c
	out.SSO.Domains = append([]string(nil), c.SSO.Domains...)
	out.TAI.Interceptors = append([]TAIInterceptor(nil), c.TAI.Interceptors...)
	out.OIDC.Clients = append([]OIDCClient(nil), c.OIDC.Clients...)
	if c.Audit != nil {
		a := *c.Audit
		out.Audit = &a
	}
	return &out
}
