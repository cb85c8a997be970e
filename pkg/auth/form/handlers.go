// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package form

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/stacklok/webguard/pkg/audit"
	"github.com/stacklok/webguard/pkg/auth"
	"github.com/stacklok/webguard/pkg/auth/sso"
	"github.com/stacklok/webguard/pkg/config"
	"github.com/stacklok/webguard/pkg/logger"
	"github.com/stacklok/webguard/pkg/replay"
	"github.com/stacklok/webguard/pkg/session"
)

// Handlers serves the login and logout endpoints.
type Handlers struct {
	Registry auth.UserRegistry
	SSO      *sso.Manager
	// Config returns the configuration snapshot for one request.
	Config func() *config.WebAppSecurityConfig
	// ErrorPage receives failed logins. Defaults to the login referrer.
	ErrorPage string

	Sessions     *session.Manager
	HTTPSessions *replay.HTTPSessions
	Audit        audit.Sink
}

func (h *Handlers) sink() audit.Sink {
	if h.Audit == nil {
		return audit.NopSink{}
	}
	return h.Audit
}

// Login handles POST /j_security_check.
func (h *Handlers) Login() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		cfg := h.Config()
		ctx := r.Context()
		user := r.PostFormValue(UsernameParam)
		password := r.PostFormValue(PasswordParam)
		entry := audit.Entry{
			Type:     audit.EventTypeLogin,
			Realm:    cfg.Realm,
			User:     user,
			AuthType: auth.AuthTypeForm,
		}.WithRequest(r)

		id, err := h.Registry.Authenticate(ctx, user, password)
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidCredentials) {
				logger.Errorw("user registry unavailable during form login", "error", err)
			}
			entry.Outcome = audit.OutcomeFailure
			entry.StatusCode = http.StatusFound
			entry.Reason = err.Error()
			h.sink().Record(ctx, entry)
			http.Redirect(w, r, h.errorPage(r), http.StatusFound)
			return
		}
		id.AuthMethod = auth.AuthTypeForm

		cookies, err := h.SSO.Issue(id, r)
		if err != nil {
			logger.Errorw("failed to issue SSO cookie", "user", id.Subject, "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		for _, c := range cookies {
			http.SetCookie(w, c)
		}
		h.bindSession(w, r, id)

		target := "/"
		if c, err := r.Cookie(cfg.Login.ReqURLCookieName); err == nil {
			if v, err := url.QueryUnescape(c.Value); err == nil && IsLocalRedirect(v) {
				target = v
			}
		}
		http.SetCookie(w, &http.Cookie{Name: cfg.Login.ReqURLCookieName, Path: "/", MaxAge: -1})

		entry.Outcome = audit.OutcomeSuccess
		entry.StatusCode = http.StatusFound
		entry.Realm = id.Realm
		h.sink().Record(ctx, entry)
		http.Redirect(w, r, target, http.StatusFound)
	})
}

func (h *Handlers) errorPage(r *http.Request) string {
	if h.ErrorPage != "" {
		return h.ErrorPage
	}
	if ref, err := url.Parse(r.Referer()); err == nil && ref.Host == r.Host && IsLocalRedirect(ref.Path) {
		return ref.Path + "?error=true"
	}
	return "/?error=true"
}

func (h *Handlers) bindSession(w http.ResponseWriter, r *http.Request, id *auth.Identity) {
	if h.Sessions == nil {
		return
	}
	sess := h.Sessions.GetOrCreate(w, r)
	if h.HTTPSessions == nil {
		return
	}
	expires := id.ExpiresAt
	if expires.IsZero() {
		expires = time.Now().Add(h.Config().SSO.TokenExpiry)
	}
	if err := h.HTTPSessions.Bind(r.Context(), sess.ID(), id.Subject, expires); err != nil {
		logger.Warnw("failed to bind session", "error", err)
	}
}

// Logout handles /ibm_security_logout. Every SSO token on the request is
// recorded as logged out before the clearing cookies are written.
func (h *Handlers) Logout() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg := h.Config()
		ctx := r.Context()
		entry := audit.Entry{Type: audit.EventTypeLogout, Realm: cfg.Realm}.WithRequest(r)
		if raw, ok, _ := h.SSO.TokenFromCookies(r); ok {
			if id, err := h.SSO.Tokens().Validate(raw); err == nil {
				entry.User = id.Subject
				entry.Realm = id.Realm
			}
		}

		cookies, err := h.SSO.Logout(ctx, r)
		if err != nil {
			logger.Errorw("logout failed", "error", err)
			entry.Outcome = audit.OutcomeError
			entry.StatusCode = http.StatusInternalServerError
			h.sink().Record(ctx, entry)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		for _, c := range cookies {
			http.SetCookie(w, c)
		}

		if c, err := r.Cookie(session.CookieName); err == nil {
			if h.HTTPSessions != nil {
				until := time.Now().Add(cfg.SSO.TokenExpiry)
				if err := h.HTTPSessions.Remove(ctx, c.Value, until); err != nil {
					logger.Warnw("failed to remove session binding", "error", err)
				}
			}
			if h.Sessions != nil {
				h.Sessions.Invalidate(c.Value)
			}
		}

		target := cfg.Login.LogoutRedirectURL
		if exit := r.FormValue(LogoutExitParam); IsLocalRedirect(exit) {
			target = exit
		}
		entry.Outcome = audit.OutcomeRedirect
		entry.StatusCode = http.StatusFound
		h.sink().Record(ctx, entry)
		http.Redirect(w, r, target, http.StatusFound)
	})
}
