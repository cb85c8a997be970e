// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package spnego authenticates requests carrying a Negotiate token.
package spnego

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/stacklok/webguard/pkg/auth"
	"github.com/stacklok/webguard/pkg/config"
	"github.com/stacklok/webguard/pkg/logger"
)

//go:generate mockgen -destination=mocks/mock_negotiator.go -package=mocks -source=spnego.go Negotiator

// ProviderName is the chain key of the SPNEGO provider.
const ProviderName = "spnego"

// Negotiator accepts one SPNEGO token.
type Negotiator interface {
	// Accept returns the initiator principal and the token to send back,
	// which may be empty.
	Accept(ctx context.Context, token []byte) (principal string, out []byte, err error)
}

// Provider is the SPNEGO chain provider.
type Provider struct {
	cfg        config.SPNEGOConfig
	negotiator Negotiator
}

var _ auth.ChainProvider = (*Provider)(nil)

// NewProvider returns a Provider.
func NewProvider(cfg config.SPNEGOConfig, negotiator Negotiator) *Provider {
	return &Provider{cfg: cfg, negotiator: negotiator}
}

// Name implements auth.ChainProvider.
func (*Provider) Name() string { return ProviderName }

// Handles implements auth.ChainProvider.
func (p *Provider) Handles(stage auth.Stage) bool {
	if p.cfg.InvokeAfterSSO {
		return stage == auth.StageSPNEGOAfterSSO
	}
	return stage == auth.StageSPNEGOBeforeSSO
}

func negotiateHeader(token []byte) http.Header {
	v := "Negotiate"
	if len(token) > 0 {
		v += " " + base64.StdEncoding.EncodeToString(token)
	}
	h := http.Header{}
	h.Set("WWW-Authenticate", v)
	return h
}

// AuthenticateStage implements auth.ChainProvider. Without a usable token
// the provider challenges when failover is disabled and otherwise lets the
// application's login method take over.
func (p *Provider) AuthenticateStage(
	ctx context.Context, req *auth.WebRequest, _ auth.Stage,
) (*auth.AuthenticationResult, error) {
	scheme, value, _ := strings.Cut(req.Request.Header.Get("Authorization"), " ")
	if !strings.EqualFold(scheme, "Negotiate") || strings.TrimSpace(value) == "" {
		return p.noToken(req, "no Negotiate token"), nil
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(value))
	if err != nil {
		return p.noToken(req, "malformed Negotiate token"), nil
	}
	principal, out, err := p.negotiator.Accept(ctx, raw)
	if err != nil {
		logger.Debugw("SPNEGO token rejected", "error", err)
		return p.noToken(req, "Negotiate token rejected"), nil
	}

	user, realm := splitPrincipal(principal)
	if p.cfg.KerberosRealm != "" && !strings.EqualFold(realm, p.cfg.KerberosRealm) {
		result := auth.Failure("principal from an untrusted Kerberos realm")
		result.Audit.CredentialType = auth.AuthTypeSPNEGO
		result.Audit.CredentialValue = principal
		return result, nil
	}
	subject := principal
	if p.cfg.TrimRealm {
		subject = user
	}

	id := auth.NewIdentity(subject, req.Realm())
	id.AuthMethod = auth.AuthTypeSPNEGO
	id.Claims = map[string]any{"principal": principal}
	result := auth.Success(id)
	result.Realm = id.Realm
	result.Audit.CredentialType = auth.AuthTypeSPNEGO
	result.Audit.CredentialValue = principal
	if len(out) > 0 {
		result.Headers = negotiateHeader(out)
	}
	return result, nil
}

func (p *Provider) noToken(req *auth.WebRequest, reason string) *auth.AuthenticationResult {
	if p.cfg.DisableFailover {
		result := auth.Send401(req.Realm(), negotiateHeader(nil))
		result.Reason = reason
		result.Audit.CredentialType = auth.AuthTypeSPNEGO
		return result
	}
	return auth.Continue(reason)
}

func splitPrincipal(principal string) (user, realm string) {
	if i := strings.LastIndex(principal, "@"); i >= 0 {
		return principal[:i], principal[i+1:]
	}
	return principal, ""
}
