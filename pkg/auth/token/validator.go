// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package token issues and validates the signed tokens used by the pipeline:
// the SSO tokens carried in cookies and the bearer access tokens checked
// against a remote JWKS or an introspection endpoint.
package token

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"golang.org/x/sync/singleflight"

	wgerrors "github.com/stacklok/webguard/pkg/errors"
)

// Token rejection reasons. A rejected token is a failed login; an
// unreachable key source is a KindInfrastructure error instead.
var (
	ErrNoToken         = errors.New("no token provided")
	ErrInvalidToken    = errors.New("invalid token")
	ErrTokenExpired    = errors.New("token expired")
	ErrInvalidIssuer   = errors.New("invalid issuer")
	ErrInvalidAudience = errors.New("invalid audience")
	ErrMissingJWKSURL  = errors.New("missing JWKS URL")
)

// signingMethods lists the asymmetric algorithms accepted on bearer tokens.
var signingMethods = []string{"RS256", "RS384", "RS512", "ES256", "ES384", "PS256"}

const (
	jwksRegisterTimeout = 5 * time.Second
	jwksShutdownTimeout = 5 * time.Second
)

// ValidatorConfig configures a Validator.
type ValidatorConfig struct {
	Issuer string
	// Audience is the required aud entry. Empty skips the check.
	Audience  string
	JWKSURL   string
	ClockSkew time.Duration
	// HTTPClient fetches the JWKS. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Validator checks bearer JWTs against the keys published at a JWKS URL.
// The key set is registered with the refreshing cache on first use, and a
// failed registration is retried by the next request.
type Validator struct {
	cfg    ValidatorConfig
	keys   *jwk.Cache
	now    func() time.Time
	ready  atomic.Bool
	closed atomic.Bool
	group  singleflight.Group
}

// NewValidator returns a Validator. No request is made until the first
// token arrives, so an issuer that is down at startup does not block it.
func NewValidator(ctx context.Context, cfg ValidatorConfig) (*Validator, error) {
	if cfg.JWKSURL == "" {
		return nil, wgerrors.NewConfigurationError("bearer token validation", ErrMissingJWKSURL)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	keys, err := jwk.NewCache(ctx, httprc.NewClient(httprc.WithHTTPClient(client)))
	if err != nil {
		return nil, wgerrors.NewInternalError("failed to create JWKS cache", err)
	}
	return &Validator{cfg: cfg, keys: keys, now: time.Now}, nil
}

// JWKSURL returns the key set location.
func (v *Validator) JWKSURL() string { return v.cfg.JWKSURL }

// Close stops the JWKS refresh workers.
func (v *Validator) Close() error {
	v.closed.Store(true)
	ctx, cancel := context.WithTimeout(context.Background(), jwksShutdownTimeout)
	defer cancel()
	if err := v.keys.Shutdown(ctx); err != nil {
		return wgerrors.NewInternalError("failed to stop JWKS cache", err)
	}
	return nil
}

func (v *Validator) register(ctx context.Context) error {
	if v.ready.Load() {
		return nil
	}
	_, err, _ := v.group.Do("register", func() (any, error) {
		if v.ready.Load() {
			return nil, nil
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), jwksRegisterTimeout)
		defer cancel()
		if err := v.keys.Register(rctx, v.cfg.JWKSURL); err != nil {
			return nil, err
		}
		v.ready.Store(true)
		return nil, nil
	})
	if err != nil {
		return wgerrors.NewInfrastructureError("JWKS unavailable", err)
	}
	return nil
}

// verificationKey finds the public key for tok. Tokens without a kid are
// accepted only when the set holds a single key.
func (v *Validator) verificationKey(ctx context.Context, tok *jwt.Token) (any, error) {
	if v.closed.Load() {
		return nil, wgerrors.NewInfrastructureError("JWKS cache closed", nil)
	}
	if err := v.register(ctx); err != nil {
		return nil, err
	}
	lctx, cancel := context.WithTimeout(ctx, jwksRegisterTimeout)
	defer cancel()
	set, err := v.keys.Lookup(lctx, v.cfg.JWKSURL)
	if err != nil {
		return nil, wgerrors.NewInfrastructureError("JWKS lookup failed", err)
	}

	var key jwk.Key
	kid, _ := tok.Header["kid"].(string)
	switch {
	case kid != "":
		k, ok := set.LookupKeyID(kid)
		if !ok {
			return nil, fmt.Errorf("no key %q in JWKS", kid)
		}
		key = k
	case set.Len() == 1:
		key, _ = set.Key(0)
	default:
		return nil, errors.New("token has no kid and JWKS holds several keys")
	}

	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		return nil, fmt.Errorf("unusable JWKS key: %w", err)
	}
	return raw, nil
}

// ValidateToken verifies raw and returns its claims. Expiry is mandatory.
func (v *Validator) ValidateToken(ctx context.Context, raw string) (jwt.MapClaims, error) {
	if raw == "" {
		return nil, ErrNoToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(signingMethods),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.cfg.ClockSkew),
		jwt.WithTimeFunc(v.now),
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.Audience))
	}

	claims := jwt.MapClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return v.verificationKey(ctx, t)
	}, opts...)
	if err != nil {
		return nil, classify(err)
	}
	if !tok.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// classify maps parser errors onto the package errors. Key source failures
// pass through unchanged so callers can fail closed.
func classify(err error) error {
	var typed *wgerrors.Error
	switch {
	case errors.As(err, &typed) && typed.Kind == wgerrors.KindInfrastructure:
		return typed
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return fmt.Errorf("%w: %v", ErrInvalidIssuer, err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return fmt.Errorf("%w: %v", ErrInvalidAudience, err)
	default:
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
}
