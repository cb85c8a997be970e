// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package jaspi bridges pluggable message-authentication providers that may
// own the whole authenticate and secure-response lifecycle of a request.
package jaspi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/stacklok/webguard/pkg/auth"
	wgerrors "github.com/stacklok/webguard/pkg/errors"
	"github.com/stacklok/webguard/pkg/logger"
)

//go:generate mockgen -destination=mocks/mock_provider.go -package=mocks -source=jaspi.go Provider

// ProviderName is the chain registry key of the bridge.
const ProviderName = "jaspi"

// Provider is a pluggable authentication provider. ValidateRequest may
// write the response directly, in which case it returns a RETURN result
// with StatusCode set to the status it wrote.
type Provider interface {
	Name() string
	IsProcessingRequest(ctx context.Context, req *auth.WebRequest) bool
	ValidateRequest(ctx context.Context, req *auth.WebRequest) (*auth.AuthenticationResult, error)
	SecureResponse(ctx context.Context, req *auth.WebRequest) error
}

// Bridge adapts a Provider to the authentication pipeline.
type Bridge struct {
	provider Provider
}

// NewBridge returns a bridge for p.
func NewBridge(p Provider) *Bridge {
	return &Bridge{provider: p}
}

// IsProcessingRequest reports whether the provider claims req.
func (b *Bridge) IsProcessingRequest(ctx context.Context, req *auth.WebRequest) bool {
	return b != nil && b.provider != nil && b.provider.IsProcessingRequest(ctx, req)
}

// Authenticate runs the provider for req. A RETURN result whose status is
// unset or 200 becomes 401: the request goes no further, so it was not
// served successfully. Without the registerSession property a successful
// identity does not get SSO cookies; the collaborator sets the property
// when the caller asked for a registered session.
func (b *Bridge) Authenticate(ctx context.Context, req *auth.WebRequest) (*auth.AuthenticationResult, error) {
	name := b.provider.Name()
	result, err := b.provider.ValidateRequest(ctx, req)
	if err != nil {
		return nil, wgerrors.NewInfrastructureError(fmt.Sprintf("jaspi provider %s failed", name), err)
	}
	if result == nil {
		return nil, wgerrors.NewInternalError(fmt.Sprintf("jaspi provider %s returned no result", name), nil)
	}
	req.SetProperty(auth.PropertyJASPIProvider, name)
	result.Audit.Provider = name
	if result.Audit.CredentialType == "" {
		result.Audit.CredentialType = auth.AuthTypeJASPI
	}

	switch result.Status {
	case auth.StatusSuccess:
		if result.Identity == nil {
			return nil, wgerrors.NewInternalError(
				fmt.Sprintf("jaspi provider %s reported success without an identity", name), nil)
		}
		if result.Identity.AuthMethod == "" {
			result.Identity.AuthMethod = auth.AuthTypeJASPI
		}
		if v, _ := req.Property(auth.PropertyRegisterSession); v != true {
			result.Identity.DisableSSOCookie = true
		}
		if result.Audit.CredentialValue == "" {
			result.Audit.CredentialValue = result.Identity.Subject
		}
	case auth.StatusReturn:
		if result.StatusCode == 0 || result.StatusCode == http.StatusOK {
			logger.Warnw("jaspi provider returned without a failure status", "provider", name,
				"status", result.StatusCode)
			result.StatusCode = http.StatusUnauthorized
		}
	case auth.StatusContinue:
		// Providers own the request once they claim it.
		result = auth.FailureWithStatus("jaspi provider did not decide", http.StatusUnauthorized)
		result.Audit.Provider = name
		result.Audit.CredentialType = auth.AuthTypeJASPI
	}
	return result, nil
}

// SecureResponse lets the provider post-process the response.
func (b *Bridge) SecureResponse(ctx context.Context, req *auth.WebRequest) error {
	if err := b.provider.SecureResponse(ctx, req); err != nil {
		return wgerrors.NewInfrastructureError(
			fmt.Sprintf("jaspi provider %s failed to secure response", b.provider.Name()), err)
	}
	return nil
}
