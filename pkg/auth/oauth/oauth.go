// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package oauth authenticates requests carrying an OAuth bearer access token.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stacklok/webguard/pkg/auth"
	"github.com/stacklok/webguard/pkg/auth/token"
	"github.com/stacklok/webguard/pkg/config"
	wgerrors "github.com/stacklok/webguard/pkg/errors"
	"github.com/stacklok/webguard/pkg/logger"
)

//go:generate mockgen -destination=mocks/mock_validator.go -package=mocks -source=oauth.go TokenValidator

// ProviderName is the chain key of the OAuth provider.
const ProviderName = "oauth"

// TokenValidator validates a raw access token.
type TokenValidator interface {
	ValidateToken(ctx context.Context, raw string) (jwt.MapClaims, error)
}

// Provider is the access token stage of the chain.
type Provider struct {
	validator TokenValidator
	realm     string
	claims    auth.ClaimMapping
}

var _ auth.ChainProvider = (*Provider)(nil)

// NewProvider returns a Provider. realm names the protection space in
// challenges and defaults to the request realm.
func NewProvider(validator TokenValidator, realm string, opts ...Option) *Provider {
	p := &Provider{validator: validator, realm: realm}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Option configures a Provider.
type Option func(*Provider)

// WithClaimMapping selects the claims holding the user name and groups.
func WithClaimMapping(m auth.ClaimMapping) Option {
	return func(p *Provider) { p.claims = m }
}

// NewFromConfig builds a Provider backed by token introspection when an
// introspection URL is set, and by the issuer JWKS otherwise.
func NewFromConfig(ctx context.Context, cfg config.OAuthConfig) (*Provider, error) {
	mapping := WithClaimMapping(auth.ClaimMapping{Subject: cfg.UserIdentifier, Groups: cfg.GroupIdentifier})
	if cfg.IntrospectionURL != "" {
		in, err := token.NewIntrospector(token.IntrospectorConfig{
			URL:          cfg.IntrospectionURL,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Issuer:       cfg.Issuer,
			Audience:     cfg.Audience,
			ClockSkew:    cfg.ClockSkew,
		})
		if err != nil {
			return nil, err
		}
		return NewProvider(in, cfg.Realm, mapping), nil
	}
	v, err := token.NewValidator(ctx, token.ValidatorConfig{
		Issuer:    cfg.Issuer,
		Audience:  cfg.Audience,
		JWKSURL:   cfg.JWKSURL,
		ClockSkew: cfg.ClockSkew,
	})
	if err != nil {
		return nil, err
	}
	return NewProvider(v, cfg.Realm, mapping), nil
}

// Close releases the validator when it holds background resources.
func (p *Provider) Close() error {
	if c, ok := p.validator.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Name implements auth.ChainProvider.
func (*Provider) Name() string { return ProviderName }

// Handles implements auth.ChainProvider.
func (*Provider) Handles(stage auth.Stage) bool { return stage == auth.StageAccessToken }

// BearerToken returns the bearer token in the Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	scheme, value, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

// Challenge builds an RFC 6750 WWW-Authenticate header.
func Challenge(realm, errCode, description string) http.Header {
	v := fmt.Sprintf("Bearer realm=%q", realm)
	if errCode != "" {
		v += fmt.Sprintf(", error=%q", errCode)
	}
	if description != "" {
		v += fmt.Sprintf(", error_description=%q", description)
	}
	h := http.Header{}
	h.Set("WWW-Authenticate", v)
	return h
}

// AuthenticateStage implements auth.ChainProvider. Requests without a bearer
// token continue; an invalid token fails with 401, which the chain turns into
// an OAuth challenge. Access tokens never produce SSO cookies.
func (p *Provider) AuthenticateStage(
	ctx context.Context, req *auth.WebRequest, _ auth.Stage,
) (*auth.AuthenticationResult, error) {
	raw, ok := BearerToken(req.Request)
	if !ok {
		return auth.Continue("no bearer token"), nil
	}
	realm := p.realm
	if realm == "" {
		realm = req.Realm()
	}

	claims, err := p.validator.ValidateToken(ctx, raw)
	if wgerrors.IsInfrastructure(err) {
		return nil, err
	}
	if err != nil {
		description := "invalid token"
		if errors.Is(err, token.ErrTokenExpired) {
			description = "token expired"
		}
		logger.Debugw("bearer token rejected", "error", err)
		result := auth.FailureWithStatus(description, http.StatusUnauthorized)
		result.Realm = realm
		result.Headers = Challenge(realm, "invalid_token", description)
		result.Audit.CredentialType = auth.AuthTypeOAuth
		return result, nil
	}

	id, err := auth.ClaimsToIdentity(claims, raw, realm, p.claims)
	if err != nil {
		result := auth.FailureWithStatus(err.Error(), http.StatusUnauthorized)
		result.Realm = realm
		result.Headers = Challenge(realm, "invalid_token", "token has no subject")
		result.Audit.CredentialType = auth.AuthTypeOAuth
		return result, nil
	}
	id.AuthMethod = auth.AuthTypeOAuth
	id.DisableSSOCookie = true

	result := auth.Success(id)
	result.Realm = realm
	result.Audit.CredentialType = auth.AuthTypeOAuth
	result.Audit.CredentialValue = id.Subject
	return result, nil
}
