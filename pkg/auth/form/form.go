// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package form implements form login: the login redirect, the
// j_security_check login endpoint and the logout endpoint.
package form

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/stacklok/webguard/pkg/auth"
	"github.com/stacklok/webguard/pkg/auth/sso"
	"github.com/stacklok/webguard/pkg/logger"
	"github.com/stacklok/webguard/pkg/postparams"
)

// Fixed endpoints.
const (
	LoginPath  = "/j_security_check"
	LogoutPath = "/ibm_security_logout"

	UsernameParam   = "j_username"
	PasswordParam   = "j_password"
	LogoutExitParam = "logoutExitPage"
)

// Authenticator redirects unauthenticated requests to the form login page.
// A valid SSO cookie, read under an optionally overridden name, short-cuts
// the redirect.
type Authenticator struct {
	sso            *sso.Authenticator
	saver          *postparams.Saver
	cookieOverride string
}

var _ auth.Authenticator = (*Authenticator)(nil)

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithSSOCookieName reads the SSO cookie under name instead of the resolved
// SSO cookie name.
func WithSSOCookieName(name string) Option {
	return func(a *Authenticator) { a.cookieOverride = name }
}

// New returns an Authenticator. Either argument may be nil.
func New(ssoAuth *sso.Authenticator, saver *postparams.Saver, opts ...Option) *Authenticator {
	a := &Authenticator{sso: ssoAuth, saver: saver}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Authenticate implements auth.Authenticator.
func (a *Authenticator) Authenticate(ctx context.Context, req *auth.WebRequest) (*auth.AuthenticationResult, error) {
	var carry []*http.Cookie
	if a.sso != nil {
		result, err := a.sso.AuthenticateWithCookieName(ctx, req, a.cookieOverride)
		if err != nil {
			return nil, err
		}
		if result.Status == auth.StatusSuccess {
			return result, nil
		}
		carry = result.Cookies()
	}

	page := ""
	if req.LoginConfig != nil {
		page = req.LoginConfig.FormLoginPage
	}
	if page == "" {
		logger.Errorw("form login configured without a login page", "app", req.AppName, "module", req.ModuleName)
		return auth.Failure("form login page is not configured"), nil
	}

	r := req.Request
	if a.saver != nil && r.Method == http.MethodPost {
		if _, err := a.saver.Save(req.Response, r); err != nil {
			logger.Warnw("failed to save POST parameters", "uri", r.URL.Path, "error", err)
		}
	}

	result := auth.Redirect(page)
	result.Realm = req.Realm()
	result.Audit.CredentialType = auth.AuthTypeForm
	for _, c := range carry {
		result.AddCookie(c)
	}
	result.AddCookie(&http.Cookie{
		Name:     req.Config.Login.ReqURLCookieName,
		Value:    url.QueryEscape(r.URL.RequestURI()),
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
	})
	return result, nil
}

// IsLocalRedirect reports whether target is a same-origin path, which is the
// only kind of redirect the login and logout endpoints follow.
func IsLocalRedirect(target string) bool {
	if target == "" || !strings.HasPrefix(target, "/") ||
		strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return false
	}
	u, err := url.Parse(target)
	return err == nil && u.Scheme == "" && u.Host == ""
}
