// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oidc

import (
	"net/http"

	"github.com/stacklok/webguard/pkg/auth"
	"github.com/stacklok/webguard/pkg/logger"
)

// CallbackHandler completes authorization code flows on the client redirect
// paths when they are served outside the guarded routes.
func (p *Provider) CallbackHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := p.clientFor(r.URL.Path)
		if c == nil || r.URL.Query().Get("state") == "" {
			http.NotFound(w, r)
			return
		}
		result, err := p.callback(r.Context(), c, r)
		if err != nil {
			logger.Errorw("oidc callback failed", "client", c.cfg.ID, "error", err)
			http.Error(w, "authentication provider unavailable", http.StatusBadGateway)
			return
		}
		for _, ck := range result.Cookies() {
			http.SetCookie(w, ck)
		}
		switch result.Status {
		case auth.StatusRedirect:
			http.Redirect(w, r, result.RedirectURL, http.StatusFound)
		case auth.StatusSuccess:
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, http.StatusText(result.StatusCode), result.StatusCode)
		}
	})
}

// BackChannelLogoutHandler accepts OpenID Connect back-channel logout
// tokens and marks the named session as ended.
func (p *Provider) BackChannelLogoutHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		raw := r.PostFormValue("logout_token")
		if raw == "" {
			http.Error(w, "missing logout_token", http.StatusBadRequest)
			return
		}
		if p.sessions == nil {
			http.Error(w, "session tracking disabled", http.StatusNotImplemented)
			return
		}

		for _, c := range p.clients {
			rp, err := p.relyingParty(r.Context(), c)
			if err != nil {
				logger.Warnw("skipping oidc client for logout", "client", c.cfg.ID, "error", err)
				continue
			}
			tok, err := rp.verifier.Verify(r.Context(), raw)
			if err != nil {
				continue
			}
			var claims struct {
				SessionID string         `json:"sid"`
				Nonce     string         `json:"nonce"`
				Events    map[string]any `json:"events"`
			}
			if err := tok.Claims(&claims); err != nil {
				break
			}
			if _, ok := claims.Events[backChannelLogoutEvent]; !ok || claims.Nonce != "" || claims.SessionID == "" {
				logger.Warnw("rejecting malformed logout token", "client", c.cfg.ID)
				break
			}
			if err := p.sessions.Invalidate(r.Context(), tok.Issuer, claims.SessionID,
				p.now().Add(p.sessionTTL)); err != nil {
				logger.Errorw("failed to record oidc logout", "client", c.cfg.ID, "error", err)
				http.Error(w, "failed to record logout", http.StatusInternalServerError)
				return
			}
			logger.Infow("oidc back-channel logout", "client", c.cfg.ID, "subject", tok.Subject)
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Error(w, "invalid logout_token", http.StatusBadRequest)
	})
}
