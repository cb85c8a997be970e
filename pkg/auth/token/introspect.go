// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	wgerrors "github.com/stacklok/webguard/pkg/errors"
	"github.com/stacklok/webguard/pkg/versions"
)

// maxIntrospectionResponse bounds the introspection response body.
const maxIntrospectionResponse = 64 * 1024

// IntrospectorConfig configures RFC 7662 token introspection.
type IntrospectorConfig struct {
	// URL is the introspection endpoint.
	URL string
	// ClientID and ClientSecret authenticate the resource server with HTTP
	// basic authentication. Both empty sends no credentials.
	ClientID     string
	ClientSecret string
	// Issuer and Audience are checked when the response carries iss and aud.
	Issuer   string
	Audience string
	// ClockSkew is the leeway applied to exp.
	ClockSkew time.Duration
	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Introspector validates opaque access tokens by asking the authorization
// server about them.
type Introspector struct {
	cfg    IntrospectorConfig
	client *http.Client
	now    func() time.Time
}

// NewIntrospector returns an Introspector for cfg.
func NewIntrospector(cfg IntrospectorConfig) (*Introspector, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, wgerrors.NewConfigurationError(fmt.Sprintf("invalid introspection url %q", cfg.URL), err)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &Introspector{cfg: cfg, client: client, now: time.Now}, nil
}

type introspectionResponse struct {
	Active   bool     `json:"active"`
	Exp      *float64 `json:"exp,omitempty"`
	Sub      string   `json:"sub,omitempty"`
	Aud      any      `json:"aud,omitempty"`
	Scope    string   `json:"scope,omitempty"`
	Iss      string   `json:"iss,omitempty"`
	Username string   `json:"username,omitempty"`
	Groups   []string `json:"groups,omitempty"`
}

// ValidateToken implements the bearer token validator contract. An inactive
// token is ErrInvalidToken; an unreachable or failing endpoint is an
// infrastructure error.
func (i *Introspector) ValidateToken(ctx context.Context, raw string) (jwt.MapClaims, error) {
	if raw == "" {
		return nil, ErrNoToken
	}

	form := url.Values{}
	form.Set("token", raw)
	form.Set("token_type_hint", "access_token")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.cfg.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, wgerrors.NewInternalError("failed to create introspection request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", versions.UserAgent())
	if i.cfg.ClientID != "" || i.cfg.ClientSecret != "" {
		req.SetBasicAuth(url.QueryEscape(i.cfg.ClientID), url.QueryEscape(i.cfg.ClientSecret))
	}

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, wgerrors.NewInfrastructureError("introspection request failed", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxIntrospectionResponse))
	if err != nil {
		return nil, wgerrors.NewInfrastructureError("failed to read introspection response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, wgerrors.NewInfrastructureError(
			fmt.Sprintf("introspection endpoint answered %d", resp.StatusCode), nil)
	}

	var ir introspectionResponse
	if err := json.Unmarshal(body, &ir); err != nil {
		return nil, wgerrors.NewInfrastructureError("failed to decode introspection response", err)
	}
	return i.claims(ir)
}

func (i *Introspector) claims(ir introspectionResponse) (jwt.MapClaims, error) {
	if !ir.Active {
		return nil, fmt.Errorf("%w: token is not active", ErrInvalidToken)
	}
	claims := jwt.MapClaims{}
	if ir.Exp != nil {
		exp := time.Unix(int64(*ir.Exp), 0)
		if i.now().After(exp.Add(i.cfg.ClockSkew)) {
			return nil, ErrTokenExpired
		}
		claims["exp"] = *ir.Exp
	}
	if ir.Iss != "" {
		if i.cfg.Issuer != "" && ir.Iss != i.cfg.Issuer {
			return nil, fmt.Errorf("%w: %s", ErrInvalidIssuer, ir.Iss)
		}
		claims["iss"] = ir.Iss
	}
	if ir.Aud != nil {
		aud := audiences(ir.Aud)
		if i.cfg.Audience != "" && !slices.Contains(aud, i.cfg.Audience) {
			return nil, ErrInvalidAudience
		}
		claims["aud"] = aud
	}
	sub := strings.TrimSpace(ir.Sub)
	if sub == "" {
		sub = strings.TrimSpace(ir.Username)
	}
	if sub != "" {
		claims["sub"] = sub
	}
	if ir.Scope != "" {
		claims["scope"] = strings.TrimSpace(ir.Scope)
	}
	if len(ir.Groups) > 0 {
		groups := make([]any, len(ir.Groups))
		for n, g := range ir.Groups {
			groups[n] = g
		}
		claims["groups"] = groups
	}
	return claims, nil
}

func audiences(v any) []string {
	switch a := v.(type) {
	case string:
		return []string{a}
	case []any:
		out := make([]string, 0, len(a))
		for _, s := range a {
			if str, ok := s.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
