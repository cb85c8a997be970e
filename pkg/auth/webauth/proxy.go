// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package webauth selects how a request is authenticated: a JASPI provider,
// the provider chain, or the module's login method with client-certificate
// failover.
package webauth

import (
	"context"
	"fmt"
	"sync"

	"github.com/stacklok/webguard/pkg/auth"
	"github.com/stacklok/webguard/pkg/auth/jaspi"
	"github.com/stacklok/webguard/pkg/constraints"
	"github.com/stacklok/webguard/pkg/logger"
	"github.com/stacklok/webguard/pkg/postparams"
)

// Authenticators are the parts a Proxy dispatches to. Any may be nil.
type Authenticators struct {
	Chain      auth.Authenticator
	Form       auth.Authenticator
	Basic      auth.Authenticator
	ClientCert auth.Authenticator
	PostParams *postparams.Saver
}

// Proxy authenticates requests.
type Proxy struct {
	a Authenticators

	mu    sync.RWMutex
	jaspi *jaspi.Bridge
}

// New returns a Proxy over a.
func New(a Authenticators) *Proxy {
	return &Proxy{a: a}
}

// SetJASPI installs the JASPI bridge. A nil bridge removes it.
func (p *Proxy) SetJASPI(b *jaspi.Bridge) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jaspi = b
}

// JASPI returns the installed bridge, or nil.
func (p *Proxy) JASPI() *jaspi.Bridge {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.jaspi
}

// Authenticate returns the authentication result for req. Errors are
// infrastructure or tamper faults; an unknown login method is a FAILURE.
func (p *Proxy) Authenticate(ctx context.Context, req *auth.WebRequest) (*auth.AuthenticationResult, error) {
	if b := p.JASPI(); b.IsProcessingRequest(ctx, req) {
		return b.Authenticate(ctx, req)
	}

	var rejected *auth.AuthenticationResult
	if p.a.Chain != nil {
		result, err := p.a.Chain.Authenticate(ctx, req)
		if err != nil {
			return nil, err
		}
		if result.Terminal() && !p.toLoginForm(req, result) {
			return p.afterSuccess(req, result)
		}
		if result.Terminal() {
			rejected = result
		}
	}

	result, err := p.byMethod(ctx, req)
	if err != nil {
		return nil, err
	}
	if rejected != nil {
		carryCookies(result, rejected)
	}
	return p.afterSuccess(req, result)
}

// toLoginForm reports whether a rejected credential on a FORM module is
// handled as no credential, so the client is sent to the login page.
func (p *Proxy) toLoginForm(req *auth.WebRequest, result *auth.AuthenticationResult) bool {
	return result.Status == auth.StatusFailure && result.CredentialRejected &&
		p.a.Form != nil && req.LoginMethod() == constraints.AuthMethodForm
}

// carryCookies copies the cookies of from that to does not set already.
func carryCookies(to, from *auth.AuthenticationResult) {
	set := map[string]bool{}
	for _, c := range to.Cookies() {
		set[c.Name] = true
	}
	for _, c := range from.Cookies() {
		if !set[c.Name] {
			to.AddCookie(c)
		}
	}
}

func (p *Proxy) byMethod(ctx context.Context, req *auth.WebRequest) (*auth.AuthenticationResult, error) {
	method := req.LoginMethod()
	switch method {
	case constraints.AuthMethodForm:
		return p.run(ctx, req, p.a.Form, method)
	case constraints.AuthMethodBasic:
		return p.run(ctx, req, p.a.Basic, method)
	case constraints.AuthMethodClientCert:
		result, err := p.run(ctx, req, p.a.ClientCert, method)
		if err != nil || result.Status == auth.StatusSuccess {
			return result, err
		}
		return p.failover(ctx, req, result)
	default:
		logger.Errorw("unknown login method", "app", req.AppName, "method", string(method))
		result := auth.Failure(fmt.Sprintf("unknown login method %q", method))
		result.Realm = req.Realm()
		return result, nil
	}
}

func (*Proxy) run(
	ctx context.Context, req *auth.WebRequest, a auth.Authenticator, method constraints.AuthMethod,
) (*auth.AuthenticationResult, error) {
	if a == nil {
		logger.Errorw("login method has no authenticator", "app", req.AppName, "method", string(method))
		result := auth.Failure(fmt.Sprintf("login method %s is not available", method))
		result.Realm = req.Realm()
		return result, nil
	}
	return a.Authenticate(ctx, req)
}

// FailoverTarget returns the method a failed CLIENT_CERT authentication
// fails over to, or "" when failover is off. The application-defined method
// wins over FORM and BASIC; with both of those allowed FORM is used when the
// module has a login page.
func FailoverTarget(req *auth.WebRequest) constraints.AuthMethod {
	if req.DisableClientCertFailover || req.Config == nil || !req.Config.Failover.Enabled() {
		return ""
	}
	f := req.Config.Failover
	if f.AllowAppDefined && req.LoginConfig != nil && req.LoginConfig.FailoverAuthMethod != "" {
		switch m := req.LoginConfig.FailoverAuthMethod.Normalize(); m {
		case constraints.AuthMethodForm, constraints.AuthMethodBasic:
			return m
		}
	}
	hasPage := req.LoginConfig != nil && req.LoginConfig.FormLoginPage != ""
	switch {
	case f.AllowFormLogin && f.AllowBasicAuth:
		if hasPage {
			return constraints.AuthMethodForm
		}
		return constraints.AuthMethodBasic
	case f.AllowFormLogin:
		return constraints.AuthMethodForm
	case f.AllowBasicAuth:
		return constraints.AuthMethodBasic
	}
	return ""
}

func (p *Proxy) failover(
	ctx context.Context, req *auth.WebRequest, certResult *auth.AuthenticationResult,
) (*auth.AuthenticationResult, error) {
	target := FailoverTarget(req)
	if target == "" {
		return certResult, nil
	}
	if _, done := req.Property(auth.PropertyFailoverFrom); done {
		return certResult, nil
	}
	req.SetProperty(auth.PropertyFailoverFrom, auth.AuthTypeClientCert)
	logger.Debugw("client certificate failover", "app", req.AppName, "target", string(target),
		"reason", certResult.Reason)

	a := p.a.Basic
	if target == constraints.AuthMethodForm {
		a = p.a.Form
	}
	result, err := p.run(ctx, req, a, target)
	if err != nil {
		return nil, err
	}
	result.Audit.OriginalAuthType = auth.AuthTypeClientCert
	result.Audit.FailoverAuthType = string(target)
	return result, nil
}

// afterSuccess restores saved POST parameters when a FORM module
// authenticated successfully.
func (p *Proxy) afterSuccess(req *auth.WebRequest, result *auth.AuthenticationResult) (*auth.AuthenticationResult, error) {
	if result.Status != auth.StatusSuccess || p.a.PostParams == nil ||
		req.LoginMethod() != constraints.AuthMethodForm || req.Response == nil {
		return result, nil
	}
	restored, ok, err := p.a.PostParams.Restore(req.Response, req.Request)
	if err != nil {
		return nil, err
	}
	if ok {
		req.Request = restored
	}
	return result, nil
}
