// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package cookie

import (
	"net"
	"net/http"
	"strings"

	"github.com/stacklok/webguard/pkg/config"
)

// Helper builds SSO cookies with the attributes of one SSO configuration.
type Helper struct {
	cfg   config.SSOConfig
	codec *Codec
}

// NewHelper returns a Helper for cfg.
func NewHelper(cfg config.SSOConfig, codec *Codec) *Helper {
	return &Helper{cfg: cfg, codec: codec}
}

// Codec returns the chunk codec.
func (h *Helper) Codec() *Codec { return h.codec }

// NewCookie returns a cookie with the configured attributes. maxAge follows
// http.Cookie semantics.
func (h *Helper) NewCookie(name, value string, r *http.Request, maxAge int) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   h.Domain(r),
		MaxAge:   maxAge,
		Secure:   h.cfg.RequiresSSL,
		HttpOnly: h.cfg.HTTPOnly,
	}
	switch h.cfg.SameSite {
	case "Lax":
		c.SameSite = http.SameSiteLaxMode
	case "Strict":
		c.SameSite = http.SameSiteStrictMode
	case "None":
		c.SameSite = http.SameSiteNoneMode
		c.Secure = true
	}
	return c
}

// Domain returns the cookie domain for r: the allow-listed domain the host
// belongs to, else the domain derived from the host when that is enabled.
// IP literals and localhost never get a domain.
func (h *Helper) Domain(r *http.Request) string {
	if r == nil {
		return ""
	}
	host := r.Host
	if hp, _, err := net.SplitHostPort(host); err == nil {
		host = hp
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "" || host == "localhost" || net.ParseIP(strings.Trim(host, "[]")) != nil {
		return ""
	}

	for _, d := range h.cfg.Domains {
		d = strings.ToLower(strings.TrimPrefix(d, "."))
		if host == d || strings.HasSuffix(host, "."+d) {
			return d
		}
	}
	if !h.cfg.UseDomainFromURL {
		return ""
	}
	if labels := strings.Split(host, "."); len(labels) > 2 {
		return strings.Join(labels[1:], ".")
	}
	if strings.Contains(host, ".") {
		return host
	}
	return ""
}

// SSOCookies splits value into the cookie chunk set for name. Chunks present
// on the request beyond the new set are expired.
func (h *Helper) SSOCookies(name, value string, r *http.Request) ([]*http.Cookie, error) {
	chunks, err := h.codec.Split(value)
	if err != nil {
		return nil, err
	}
	out := make([]*http.Cookie, 0, len(chunks))
	for i, part := range chunks {
		out = append(out, h.NewCookie(ChunkName(name, i), part, r, 0))
	}
	if r != nil {
		for i := len(chunks); i < h.codec.MaxChunks(); i++ {
			if _, err := r.Cookie(ChunkName(name, i)); err == nil {
				out = append(out, h.Expire(ChunkName(name, i), r))
			}
		}
	}
	return out, nil
}

// Expire returns a cookie deleting name.
func (h *Helper) Expire(name string, r *http.Request) *http.Cookie {
	return h.NewCookie(name, "", r, -1)
}

// ExpireAll returns cookies deleting name and every chunk up to the ceiling,
// whether or not the request carries them.
func (h *Helper) ExpireAll(name string, r *http.Request) []*http.Cookie {
	names := h.codec.ChunkNames(name)
	out := make([]*http.Cookie, 0, len(names))
	for _, n := range names {
		out = append(out, h.Expire(n, r))
	}
	return out
}

// ResolveSSOCookieName returns the SSO cookie name in use for r: the
// configured name when the request carries it or only that name is allowed,
// else the default name.
func (h *Helper) ResolveSSOCookieName(r *http.Request) string {
	name := h.cfg.CookieName
	if name == "" || name == config.DefaultSSOCookieName {
		return config.DefaultSSOCookieName
	}
	if r != nil {
		if _, err := r.Cookie(name); err == nil {
			return name
		}
	}
	if h.cfg.UseOnlyCustomCookieName {
		return name
	}
	return config.DefaultSSOCookieName
}
