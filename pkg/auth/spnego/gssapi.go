// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package spnego

import (
	"context"
	"fmt"

	"github.com/golang-auth/go-gssapi/v3"

	wgerrors "github.com/stacklok/webguard/pkg/errors"
)

// GSSAPINegotiator accepts tokens with a registered GSSAPI provider.
type GSSAPINegotiator struct {
	provider   gssapi.Provider
	credential gssapi.Credential
}

var _ Negotiator = (*GSSAPINegotiator)(nil)

// NewGSSAPINegotiator instantiates the named GSSAPI provider. When
// servicePrincipal is set, an acceptor credential for that host-based
// service is acquired; otherwise the default acceptor credential is used.
func NewGSSAPINegotiator(providerName, servicePrincipal string) (*GSSAPINegotiator, error) {
	provider, err := gssapi.NewProvider(providerName)
	if err != nil {
		return nil, wgerrors.NewConfigurationError(fmt.Sprintf("GSSAPI provider %q is not available", providerName), err)
	}
	n := &GSSAPINegotiator{provider: provider}
	if servicePrincipal == "" {
		return n, nil
	}

	name, err := provider.ImportName(servicePrincipal, gssapi.GSS_NT_HOSTBASED_SERVICE)
	if err != nil {
		return nil, wgerrors.NewConfigurationError(fmt.Sprintf("invalid service principal %q", servicePrincipal), err)
	}
	cred, err := provider.AcquireCredential(name, nil, gssapi.CredUsageAcceptOnly, nil)
	if err != nil {
		return nil, wgerrors.NewInfrastructureError("failed to acquire acceptor credential", err)
	}
	n.credential = cred
	return n, nil
}

// Accept implements Negotiator. One round trip is supported per request.
func (n *GSSAPINegotiator) Accept(_ context.Context, token []byte) (string, []byte, error) {
	var opts []gssapi.AcceptSecContextOption
	if n.credential != nil {
		opts = append(opts, gssapi.WithAcceptorCredential(n.credential))
	}
	secCtx, err := n.provider.AcceptSecContext(opts...)
	if err != nil {
		return "", nil, err
	}
	defer secCtx.Delete() //nolint:errcheck

	out, info, err := secCtx.Continue(token)
	if err != nil {
		return "", nil, err
	}
	if info.InitiatorName == nil {
		return "", nil, fmt.Errorf("security context has no initiator name")
	}
	principal, _, err := info.InitiatorName.Display()
	if err != nil {
		return "", nil, fmt.Errorf("failed to display initiator name: %w", err)
	}
	return principal, out, nil
}
