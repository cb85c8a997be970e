// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package basic authenticates requests with HTTP Basic credentials.
package basic

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/stacklok/webguard/pkg/auth"
	wgerrors "github.com/stacklok/webguard/pkg/errors"
	"github.com/stacklok/webguard/pkg/logger"
)

// Authenticator validates the Authorization header against a user registry.
type Authenticator struct {
	registry auth.UserRegistry
}

var _ auth.Authenticator = (*Authenticator)(nil)

// New returns an Authenticator backed by registry.
func New(registry auth.UserRegistry) *Authenticator {
	return &Authenticator{registry: registry}
}

// Challenge returns the WWW-Authenticate header for realm.
func Challenge(realm string) http.Header {
	h := http.Header{}
	h.Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", realm))
	return h
}

// Authenticate implements auth.Authenticator. Missing or wrong credentials
// produce SEND_401 with the realm; a registry that cannot answer is an
// infrastructure error.
func (a *Authenticator) Authenticate(ctx context.Context, req *auth.WebRequest) (*auth.AuthenticationResult, error) {
	realm := req.Realm()
	user, password, ok := req.Request.BasicAuth()
	if !ok {
		return auth.Send401(realm, Challenge(realm)), nil
	}
	if a.registry == nil {
		return nil, wgerrors.NewInfrastructureError("no user registry configured", nil)
	}

	id, err := a.registry.Authenticate(ctx, user, password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		logger.Debugw("basic authentication failed", "user", user, "realm", realm)
		result := auth.Send401(realm, Challenge(realm))
		result.Audit.CredentialType = auth.AuthTypeBasic
		result.Audit.CredentialValue = user
		return result, nil
	}
	if err != nil {
		return nil, wgerrors.NewInfrastructureError("user registry unavailable", err)
	}

	id.AuthMethod = auth.AuthTypeBasic
	result := auth.Success(id)
	result.Realm = realm
	result.Audit.CredentialType = auth.AuthTypeBasic
	result.Audit.CredentialValue = user
	return result, nil
}
