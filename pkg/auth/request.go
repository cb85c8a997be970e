// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"crypto/x509"
	"net/http"

	"github.com/stacklok/webguard/pkg/config"
	"github.com/stacklok/webguard/pkg/constraints"
	"github.com/stacklok/webguard/pkg/reply"
)

// Well-known WebRequest properties.
const (
	// PropertyRegisterSession asks a JASPI provider to register the
	// authenticated session.
	PropertyRegisterSession = "javax.servlet.http.registerSession"
	// PropertyFailoverFrom holds the auth method a failover started from.
	PropertyFailoverFrom = "webguard.failover.from"
	// PropertyJASPIProvider names the JASPI provider that handled the request.
	PropertyJASPIProvider = "webguard.jaspi.provider"
)

// WebRequest is the per-request state shared by the pipeline stages. It is
// created once per decision and never shared between goroutines.
type WebRequest struct {
	Request  *http.Request
	Response *reply.Writer

	AppName    string
	ModuleName string
	// URI is the request path relative to the module.
	URI string

	Match       constraints.MatchResponse
	LoginConfig *constraints.LoginConfiguration
	// Config is the configuration snapshot taken when the decision started.
	Config *config.WebAppSecurityConfig

	UnprotectedURI            bool
	DisableClientCertFailover bool
	CallAfterSSO              bool
	// RequestAuthenticate is set for programmatic authentication, where the
	// caller wants an identity even for unprotected resources.
	RequestAuthenticate bool

	props map[string]any
}

// NewWebRequest returns a WebRequest for r.
func NewWebRequest(w *reply.Writer, r *http.Request, cfg *config.WebAppSecurityConfig) *WebRequest {
	return &WebRequest{
		Request:  r,
		Response: w,
		URI:      r.URL.Path,
		Config:   cfg,
	}
}

// SetProperty stores a value for later stages.
func (w *WebRequest) SetProperty(key string, value any) {
	if w.props == nil {
		w.props = map[string]any{}
	}
	w.props[key] = value
}

// Property returns a value stored with SetProperty.
func (w *WebRequest) Property(key string) (any, bool) {
	v, ok := w.props[key]
	return v, ok
}

// Secure reports whether the request arrived over TLS.
func (w *WebRequest) Secure() bool {
	return w.Request.TLS != nil
}

// PeerCertificates returns the verified client certificate chain, if any.
func (w *WebRequest) PeerCertificates() []*x509.Certificate {
	if w.Request.TLS == nil {
		return nil
	}
	return w.Request.TLS.PeerCertificates
}

// LoginMethod returns the module's declared authentication method.
func (w *WebRequest) LoginMethod() constraints.AuthMethod {
	return w.LoginConfig.Method()
}

// Realm returns the module realm, falling back to the configured realm.
func (w *WebRequest) Realm() string {
	if w.LoginConfig != nil && w.LoginConfig.Realm != "" {
		return w.LoginConfig.Realm
	}
	if w.Config != nil {
		return w.Config.Realm
	}
	return config.DefaultRealm
}
