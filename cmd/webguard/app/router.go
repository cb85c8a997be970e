// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stacklok/webguard/pkg/auth"
	"github.com/stacklok/webguard/pkg/collaborator"
	"github.com/stacklok/webguard/pkg/logger"
	"github.com/stacklok/webguard/pkg/security"
)

// Fixed endpoints.
const (
	LoginPath             = "/j_security_check"
	LogoutPath            = "/ibm_security_logout"
	BackChannelLogoutPath = "/oidcclient/backchannel_logout"
	MetricsPath           = "/metrics"
	HealthPath            = "/health"
)

const middlewareTimeout = 60 * time.Second

// routerOptions describe the guarded application.
type routerOptions struct {
	App      string
	Module   string
	Gatherer prometheus.Gatherer
	// Target serves permitted requests. Defaults to whoamiHandler.
	Target http.Handler
}

func newRouter(rt *security.Runtime, opts routerOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(middlewareTimeout),
	)

	r.Get(HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	if opts.Gatherer != nil {
		r.Handle(MetricsPath, promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Post(LoginPath, rt.LoginHandler().ServeHTTP)
	r.Handle(LogoutPath, rt.LogoutHandler())
	r.Post(BackChannelLogoutPath, rt.OIDCBackChannelLogoutHandler().ServeHTTP)
	for _, path := range rt.OIDCCallbackPaths() {
		r.Get(path, rt.OIDCCallbackHandler().ServeHTTP)
	}

	target := opts.Target
	if target == nil {
		target = http.HandlerFunc(whoamiHandler)
	}
	guard := rt.Middleware(collaborator.StaticResource(opts.App, opts.Module))
	r.With(guard).Handle("/*", target)
	return r
}

type whoami struct {
	Subject  string   `json:"subject,omitempty"`
	Realm    string   `json:"realm,omitempty"`
	AccessID string   `json:"access_id,omitempty"`
	Groups   []string `json:"groups,omitempty"`
	Method   string   `json:"auth_method,omitempty"`
}

// whoamiHandler reports the identity the request runs as.
func whoamiHandler(w http.ResponseWriter, r *http.Request) {
	var body whoami
	if id, ok := auth.IdentityFromContext(r.Context()); ok && id != nil {
		body = whoami{
			Subject:  id.Subject,
			Realm:    id.Realm,
			AccessID: id.AccessID,
			Groups:   id.Groups,
			Method:   id.AuthMethod,
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warnw("failed to write response", "error", err)
	}
}
