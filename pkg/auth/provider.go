// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"crypto/x509"
	"errors"
)

//go:generate mockgen -destination=mocks/mock_provider.go -package=mocks -source=provider.go ChainProvider Authenticator UserRegistry

// Stage is a position in the provider chain.
type Stage int

// Stages in the order the chain runs them.
const (
	StageTAIBeforeSSO Stage = iota
	StageAccessToken
	StageSPNEGOBeforeSSO
	StageOIDCBeforeSSO
	StageSSO
	StageSPNEGOAfterSSO
	StageTAIAfterSSO
	StageOIDCAfterSSO
)

// Stages lists every stage in chain order.
var Stages = []Stage{
	StageTAIBeforeSSO,
	StageAccessToken,
	StageSPNEGOBeforeSSO,
	StageOIDCBeforeSSO,
	StageSSO,
	StageSPNEGOAfterSSO,
	StageTAIAfterSSO,
	StageOIDCAfterSSO,
}

func (s Stage) String() string {
	switch s {
	case StageTAIBeforeSSO:
		return "tai-before-sso"
	case StageAccessToken:
		return "access-token"
	case StageSPNEGOBeforeSSO:
		return "spnego-before-sso"
	case StageOIDCBeforeSSO:
		return "oidc-before-sso"
	case StageSSO:
		return "sso"
	case StageSPNEGOAfterSSO:
		return "spnego-after-sso"
	case StageTAIAfterSSO:
		return "tai-after-sso"
	case StageOIDCAfterSSO:
		return "oidc-after-sso"
	default:
		return "unknown"
	}
}

// AfterSSO reports whether the stage runs after SSO cookie validation.
func (s Stage) AfterSSO() bool {
	return s > StageSSO
}

// ChainProvider is a provider that takes part in one or more chain stages.
// AuthenticateStage never returns a nil result together with a nil error;
// errors are reserved for infrastructure faults.
type ChainProvider interface {
	Name() string
	Handles(stage Stage) bool
	AuthenticateStage(ctx context.Context, req *WebRequest, stage Stage) (*AuthenticationResult, error)
}

// Authenticator authenticates a request with one method.
type Authenticator interface {
	Authenticate(ctx context.Context, req *WebRequest) (*AuthenticationResult, error)
}

// ErrInvalidCredentials is returned by a UserRegistry when the credentials
// are wrong. Any other error means the registry could not answer.
var ErrInvalidCredentials = errors.New("invalid credentials")

// UserRegistry validates credentials against a user store.
type UserRegistry interface {
	Authenticate(ctx context.Context, user, password string) (*Identity, error)
	MapCertificate(ctx context.Context, chain []*x509.Certificate) (*Identity, error)
}
