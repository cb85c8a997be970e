// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var rejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "webguard",
	Subsystem: "replay",
	Name:      "rejections_total",
	Help:      "Credentials rejected because a replay cache listed them.",
}, []string{"family"})

const (
	prefixLoggedOut    = "lot:"
	prefixOIDCSession  = "oidc:"
	prefixHTTPSession  = "sess:"
	prefixEndedSession = "sess-end:"
	invalidatedMarker  = "invalidated"
)

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// LoggedOutTokens lists SSO tokens that were logged out and must not be
// accepted again while still structurally valid. Tokens are stored hashed.
type LoggedOutTokens struct {
	cache Cache
}

// NewLoggedOutTokens returns the logged-out token family over cache.
func NewLoggedOutTokens(cache Cache) *LoggedOutTokens {
	return &LoggedOutTokens{cache: cache}
}

// Add lists token for user until expiresAt.
func (l *LoggedOutTokens) Add(ctx context.Context, token, user string, expiresAt time.Time) error {
	return l.cache.Put(ctx, prefixLoggedOut+hashToken(token), user, expiresAt)
}

// Contains reports whether token was logged out.
func (l *LoggedOutTokens) Contains(ctx context.Context, token string) (bool, error) {
	_, ok, err := l.cache.Get(ctx, prefixLoggedOut+hashToken(token))
	if err != nil {
		return false, err
	}
	if ok {
		rejections.WithLabelValues("logged_out_token").Inc()
	}
	return ok, nil
}

// OIDCSessions lists OpenID Connect sessions invalidated by the provider.
type OIDCSessions struct {
	cache Cache
}

// NewOIDCSessions returns the OIDC session family over cache.
func NewOIDCSessions(cache Cache) *OIDCSessions {
	return &OIDCSessions{cache: cache}
}

// Invalidate marks the session sid of issuer invalid until expiresAt.
func (o *OIDCSessions) Invalidate(ctx context.Context, issuer, sid string, expiresAt time.Time) error {
	return o.cache.Put(ctx, prefixOIDCSession+issuer+"|"+sid, invalidatedMarker, expiresAt)
}

// IsInvalidated reports whether the session sid of issuer was invalidated.
func (o *OIDCSessions) IsInvalidated(ctx context.Context, issuer, sid string) (bool, error) {
	if sid == "" {
		return false, nil
	}
	_, ok, err := o.cache.Get(ctx, prefixOIDCSession+issuer+"|"+sid)
	if err != nil {
		return false, err
	}
	if ok {
		rejections.WithLabelValues("oidc_session").Inc()
	}
	return ok, nil
}

// HTTPSessions binds HTTP session ids to the subject that owns them.
type HTTPSessions struct {
	cache Cache
}

// NewHTTPSessions returns the HTTP session family over cache.
func NewHTTPSessions(cache Cache) *HTTPSessions {
	return &HTTPSessions{cache: cache}
}

// Bind records that sessionID belongs to subject until expiresAt.
func (h *HTTPSessions) Bind(ctx context.Context, sessionID, subject string, expiresAt time.Time) error {
	return h.cache.Put(ctx, prefixHTTPSession+sessionID, subject, expiresAt)
}

// Subject returns the subject bound to sessionID.
func (h *HTTPSessions) Subject(ctx context.Context, sessionID string) (string, bool, error) {
	return h.cache.Get(ctx, prefixHTTPSession+sessionID)
}

// Remove drops the binding of sessionID and lists the id as ended until
// expiresAt.
func (h *HTTPSessions) Remove(ctx context.Context, sessionID string, expiresAt time.Time) error {
	if err := h.cache.Put(ctx, prefixEndedSession+sessionID, invalidatedMarker, expiresAt); err != nil {
		return err
	}
	return h.cache.Delete(ctx, prefixHTTPSession+sessionID)
}

// Check reports whether subject may present sessionID. It is false for an
// ended session and for a session bound to another subject. Unknown
// sessions pass.
func (h *HTTPSessions) Check(ctx context.Context, sessionID, subject string) (bool, error) {
	if sessionID == "" {
		return true, nil
	}
	_, ended, err := h.cache.Get(ctx, prefixEndedSession+sessionID)
	if err != nil {
		return false, err
	}
	if ended {
		rejections.WithLabelValues("http_session").Inc()
		return false, nil
	}
	bound, ok, err := h.Subject(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if ok && bound != subject {
		rejections.WithLabelValues("http_session").Inc()
		return false, nil
	}
	return true, nil
}
