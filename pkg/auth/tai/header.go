// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package tai

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	celgo "github.com/google/cel-go/cel"
	"github.com/stacklok/toolhive-core/cel"

	"github.com/stacklok/webguard/pkg/auth"
	"github.com/stacklok/webguard/pkg/config"
	wgerrors "github.com/stacklok/webguard/pkg/errors"
)

// HeaderInterceptor trusts an identity asserted in a request header, for
// example by an authenticating reverse proxy.
type HeaderInterceptor struct {
	cfg    config.TAIInterceptor
	target *cel.CompiledExpression
}

var _ Interceptor = (*HeaderInterceptor)(nil)

func newRequestEngine() *cel.Engine {
	return cel.NewEngine(
		celgo.Variable("request", celgo.MapType(celgo.StringType, celgo.DynType)),
	)
}

// NewHeaderInterceptor compiles cfg.Target. Without a target the interceptor
// handles every request that carries the user header.
func NewHeaderInterceptor(cfg config.TAIInterceptor) (*HeaderInterceptor, error) {
	h := &HeaderInterceptor{cfg: cfg}
	if cfg.Target != "" {
		expr, err := newRequestEngine().Compile(cfg.Target)
		if err != nil {
			return nil, wgerrors.NewConfigurationError(
				fmt.Sprintf("interceptor %s: invalid target expression", cfg.Name), err)
		}
		h.target = expr
	}
	return h, nil
}

// Name implements Interceptor.
func (h *HeaderInterceptor) Name() string { return h.cfg.Name }

// BeforeSSO implements Interceptor.
func (h *HeaderInterceptor) BeforeSSO() bool { return h.cfg.BeforeSSO }

// IsTarget implements Interceptor.
func (h *HeaderInterceptor) IsTarget(r *http.Request) (bool, error) {
	if h.target == nil {
		return r.Header.Get(h.cfg.UserHeader) != "", nil
	}
	return h.target.EvaluateBool(map[string]any{"request": requestVars(r)})
}

func requestVars(r *http.Request) map[string]any {
	headers := make(map[string]any, len(r.Header))
	for k, vs := range r.Header {
		if len(vs) > 0 {
			headers[strings.ToLower(k)] = vs[0]
		}
	}
	return map[string]any{
		"path":        r.URL.Path,
		"method":      r.Method,
		"host":        r.Host,
		"remote_addr": r.RemoteAddr,
		"headers":     headers,
	}
}

// Negotiate implements Interceptor. A targeted request without the user
// header is answered with a 401 failure.
func (h *HeaderInterceptor) Negotiate(_ context.Context, req *auth.WebRequest) (*auth.AuthenticationResult, error) {
	user := strings.TrimSpace(req.Request.Header.Get(h.cfg.UserHeader))
	if user == "" {
		return auth.FailureWithStatus(fmt.Sprintf("missing %s header", h.cfg.UserHeader), http.StatusUnauthorized), nil
	}
	realm := h.cfg.Realm
	if realm == "" {
		realm = req.Realm()
	}
	id := auth.NewIdentity(user, realm)
	if h.cfg.GroupsHeader != "" {
		for _, g := range strings.Split(req.Request.Header.Get(h.cfg.GroupsHeader), ",") {
			if g = strings.TrimSpace(g); g != "" {
				id.Groups = append(id.Groups, g)
			}
		}
	}
	result := auth.Success(id)
	result.Realm = realm
	result.Audit.CredentialValue = user
	return result, nil
}
