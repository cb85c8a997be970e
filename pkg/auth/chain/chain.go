// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package chain runs the registered authentication providers in their fixed
// stage order.
package chain

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"

	"github.com/stacklok/webguard/pkg/auth"
	wgerrors "github.com/stacklok/webguard/pkg/errors"
	"github.com/stacklok/webguard/pkg/logger"
)

// Registry keys of the chain providers.
const (
	KeyTAI    = "tai"
	KeyOAuth  = "oauth"
	KeySPNEGO = "spnego"
	KeyOIDC   = "oidcclient"
	KeySSO    = "sso"
	KeyOpenID = "openid"
)

// keyOrder is the order providers are asked within one stage.
var keyOrder = []string{KeyTAI, KeyOAuth, KeySPNEGO, KeyOIDC, KeySSO, KeyOpenID}

// Chain is a registry of providers keyed by stable names.
type Chain struct {
	mu        sync.RWMutex
	providers map[string]auth.ChainProvider
}

// New returns an empty chain.
func New() *Chain {
	return &Chain{providers: make(map[string]auth.ChainProvider)}
}

// RegisterProvider installs p under key, replacing any earlier provider.
func (c *Chain) RegisterProvider(key string, p auth.ChainProvider) error {
	if !slices.Contains(keyOrder, key) {
		return wgerrors.NewInvalidArgumentError(fmt.Sprintf("unknown provider key %q", key), nil)
	}
	if p == nil {
		return wgerrors.NewInvalidArgumentError("nil provider", nil)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[key] = p
	logger.Debugw("registered chain provider", "key", key, "provider", p.Name())
	return nil
}

// UnregisterProvider removes the provider under key.
func (c *Chain) UnregisterProvider(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.providers, key)
}

// Provider returns the provider under key.
func (c *Chain) Provider(key string) (auth.ChainProvider, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.providers[key]
	return p, ok
}

// Keys returns the registered keys in chain order.
func (c *Chain) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for _, k := range keyOrder {
		if _, ok := c.providers[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

func (c *Chain) snapshot() []auth.ChainProvider {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]auth.ChainProvider, 0, len(c.providers))
	for _, k := range keyOrder {
		if p, ok := c.providers[k]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Authenticate walks the stages and returns the first result that is not
// CONTINUE, or CONTINUE when every provider passed. The returned result is
// never nil when err is nil.
func (c *Chain) Authenticate(ctx context.Context, req *auth.WebRequest) (*auth.AuthenticationResult, error) {
	providers := c.snapshot()
	for _, stage := range auth.Stages {
		if stage.AfterSSO() {
			req.CallAfterSSO = true
		}
		for _, p := range providers {
			if !p.Handles(stage) {
				continue
			}
			result, err := p.AuthenticateStage(ctx, req, stage)
			if err != nil {
				logger.Warnw("chain provider failed", "provider", p.Name(), "stage", stage.String(), "error", err)
				return nil, err
			}
			if result == nil {
				return nil, wgerrors.NewInternalError(
					fmt.Sprintf("provider %s returned no result at %s", p.Name(), stage), nil)
			}
			if result.Terminal() {
				logger.Debugw("chain stage decided", "provider", p.Name(), "stage", stage.String(),
					"status", result.Status.String())
				if result.Audit.Provider == "" {
					result.Audit.Provider = p.Name()
				}
				return translate(stage, result), nil
			}
		}
	}
	return auth.Continue("no provider authenticated the request"), nil
}

// translate maps provider results onto what the decision engine answers.
func translate(stage auth.Stage, r *auth.AuthenticationResult) *auth.AuthenticationResult {
	var out *auth.AuthenticationResult
	switch {
	case r.Status == auth.StatusRedirectToProvider:
		out = auth.Redirect(r.RedirectURL)
	case r.Status == auth.StatusFailure && r.StatusCode == http.StatusUnauthorized &&
		(stage == auth.StageTAIBeforeSSO || stage == auth.StageTAIAfterSSO):
		out = auth.TAIChallenge(http.StatusUnauthorized, r.Headers)
	case r.Status == auth.StatusFailure && r.StatusCode == http.StatusUnauthorized &&
		stage == auth.StageAccessToken:
		out = auth.OAuthChallenge(r.Reason, r.Headers)
	default:
		return r
	}
	out.Realm = r.Realm
	out.Reason = r.Reason
	if out.Headers == nil {
		out.Headers = r.Headers
	}
	out.Audit = r.Audit
	for _, ck := range r.Cookies() {
		out.AddCookie(ck)
	}
	return out
}
