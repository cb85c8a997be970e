// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package cert authenticates requests with the TLS client certificate chain.
package cert

import (
	"context"
	"errors"

	"github.com/stacklok/webguard/pkg/auth"
	wgerrors "github.com/stacklok/webguard/pkg/errors"
)

// Authenticator maps the peer certificate chain to a registry identity.
type Authenticator struct {
	registry auth.UserRegistry
}

var _ auth.Authenticator = (*Authenticator)(nil)

// New returns an Authenticator backed by registry.
func New(registry auth.UserRegistry) *Authenticator {
	return &Authenticator{registry: registry}
}

// Authenticate implements auth.Authenticator.
func (a *Authenticator) Authenticate(ctx context.Context, req *auth.WebRequest) (*auth.AuthenticationResult, error) {
	chain := req.PeerCertificates()
	if len(chain) == 0 {
		result := auth.Failure("no client certificate")
		result.Audit.CredentialType = auth.AuthTypeClientCert
		return result, nil
	}
	if a.registry == nil {
		return nil, wgerrors.NewInfrastructureError("no user registry configured", nil)
	}

	dn := chain[0].Subject.String()
	id, err := a.registry.MapCertificate(ctx, chain)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		result := auth.Failure("client certificate is not mapped to a user")
		result.Audit.CredentialType = auth.AuthTypeClientCert
		result.Audit.CredentialValue = dn
		return result, nil
	}
	if err != nil {
		return nil, wgerrors.NewInfrastructureError("user registry unavailable", err)
	}

	id.AuthMethod = auth.AuthTypeClientCert
	result := auth.Success(id)
	result.Realm = req.Realm()
	result.Audit.CredentialType = auth.AuthTypeClientCert
	result.Audit.CredentialValue = dn
	return result, nil
}
