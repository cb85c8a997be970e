// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package tai runs trust association interceptors: providers that assert an
// identity established by something in front of the server.
package tai

import (
	"context"
	"fmt"
	"net/http"

	"github.com/stacklok/webguard/pkg/auth"
	"github.com/stacklok/webguard/pkg/config"
	wgerrors "github.com/stacklok/webguard/pkg/errors"
	"github.com/stacklok/webguard/pkg/logger"
)

//go:generate mockgen -destination=mocks/mock_interceptor.go -package=mocks -source=tai.go Interceptor

// ProviderName is the chain key of the TAI provider.
const ProviderName = "tai"

// Interceptor is one trust association interceptor.
type Interceptor interface {
	Name() string
	// BeforeSSO places the interceptor ahead of SSO cookie validation.
	BeforeSSO() bool
	// IsTarget reports whether the interceptor handles r.
	IsTarget(r *http.Request) (bool, error)
	// Negotiate establishes trust for a targeted request.
	Negotiate(ctx context.Context, req *auth.WebRequest) (*auth.AuthenticationResult, error)
}

// Provider evaluates interceptors in registration order.
type Provider struct {
	interceptors      []Interceptor
	invokeUnprotected bool
}

var _ auth.ChainProvider = (*Provider)(nil)

// NewProvider returns a Provider over interceptors.
func NewProvider(invokeUnprotected bool, interceptors ...Interceptor) *Provider {
	return &Provider{interceptors: interceptors, invokeUnprotected: invokeUnprotected}
}

// NewFromConfig builds header interceptors from cfg.
func NewFromConfig(cfg config.TAIConfig) (*Provider, error) {
	ics := make([]Interceptor, 0, len(cfg.Interceptors))
	for _, c := range cfg.Interceptors {
		ic, err := NewHeaderInterceptor(c)
		if err != nil {
			return nil, err
		}
		ics = append(ics, ic)
	}
	return NewProvider(cfg.InvokeForUnprotectedURIs, ics...), nil
}

// Name implements auth.ChainProvider.
func (*Provider) Name() string { return ProviderName }

// Handles implements auth.ChainProvider.
func (p *Provider) Handles(stage auth.Stage) bool {
	if stage != auth.StageTAIBeforeSSO && stage != auth.StageTAIAfterSSO {
		return false
	}
	for _, ic := range p.interceptors {
		if ic.BeforeSSO() == (stage == auth.StageTAIBeforeSSO) {
			return true
		}
	}
	return false
}

// AuthenticateStage implements auth.ChainProvider. The first interceptor
// that targets the request and returns something other than CONTINUE wins.
func (p *Provider) AuthenticateStage(
	ctx context.Context, req *auth.WebRequest, stage auth.Stage,
) (*auth.AuthenticationResult, error) {
	before := stage == auth.StageTAIBeforeSSO
	return p.run(ctx, req, func(ic Interceptor) bool { return ic.BeforeSSO() == before })
}

// InvokeUnprotected runs every interceptor for a request to an unprotected
// resource when that is enabled. Only a SUCCESS is meaningful to callers.
func (p *Provider) InvokeUnprotected(ctx context.Context, req *auth.WebRequest) (*auth.AuthenticationResult, error) {
	if !p.invokeUnprotected {
		return auth.Continue("tai is not invoked for unprotected resources"), nil
	}
	return p.run(ctx, req, func(Interceptor) bool { return true })
}

func (p *Provider) run(
	ctx context.Context, req *auth.WebRequest, include func(Interceptor) bool,
) (*auth.AuthenticationResult, error) {
	for _, ic := range p.interceptors {
		if !include(ic) {
			continue
		}
		target, err := ic.IsTarget(req.Request)
		if err != nil {
			return nil, wgerrors.NewInfrastructureError(fmt.Sprintf("interceptor %s failed", ic.Name()), err)
		}
		if !target {
			continue
		}
		result, err := ic.Negotiate(ctx, req)
		if err != nil {
			return nil, wgerrors.NewInfrastructureError(fmt.Sprintf("interceptor %s failed", ic.Name()), err)
		}
		if !result.Terminal() {
			continue
		}
		if result.Status == auth.StatusSuccess && result.Identity == nil {
			logger.Errorw("interceptor reported success without an identity", "interceptor", ic.Name())
			result = auth.Failure(fmt.Sprintf("interceptor %s established no identity", ic.Name()))
		}
		result.Audit.Provider = ic.Name()
		if result.Status == auth.StatusSuccess {
			result.Identity.AuthMethod = auth.AuthTypeTAI
			result.Audit.CredentialType = auth.AuthTypeTAI
			logger.Debugw("interceptor established trust", "interceptor", ic.Name(), "user", result.Identity.Subject)
		}
		return result, nil
	}
	return auth.Continue("no interceptor targeted the request"), nil
}
