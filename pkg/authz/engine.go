// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package authz decides whether an identity holds the roles a resource
// requires. It fails closed: without a working service nothing is granted.
package authz

import (
	"context"
	"slices"
	"sync"

	"github.com/stacklok/webguard/pkg/auth"
	"github.com/stacklok/webguard/pkg/authz/authorizers"
	"github.com/stacklok/webguard/pkg/logger"
	"github.com/stacklok/webguard/pkg/telemetry"
)

// AnyAuthenticatedRole is the role name held by every authenticated caller.
const AnyAuthenticatedRole = "**"

// Service is the role authorization service.
type Service = authorizers.Service

// Engine guards a replaceable Service.
type Engine struct {
	mu      sync.RWMutex
	svc     Service
	metrics *telemetry.Metrics
}

// NewEngine returns an engine over svc, which may be nil.
func NewEngine(svc Service, metrics *telemetry.Metrics) *Engine {
	return &Engine{svc: svc, metrics: metrics}
}

// NewFromFile loads a service configuration file and returns an engine
// over the service it describes.
func NewFromFile(path string, metrics *telemetry.Metrics) (*Engine, error) {
	svc, err := authorizers.LoadService(path)
	if err != nil {
		return nil, err
	}
	return NewEngine(svc, metrics), nil
}

// SetService replaces the service. A nil service denies everything.
func (e *Engine) SetService(svc Service) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.svc = svc
}

func (e *Engine) service() Service {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.svc
}

// Authorize reports whether id holds one of roles in app. It is false when
// the service is missing or fails.
func (e *Engine) Authorize(ctx context.Context, app string, roles []string, id *auth.Identity) bool {
	granted := e.authorize(ctx, app, roles, id)
	e.metrics.ObserveAuthorization(granted)
	return granted
}

func (e *Engine) authorize(ctx context.Context, app string, roles []string, id *auth.Identity) bool {
	svc := e.service()
	if svc == nil {
		logger.Warnw("no authorization service, denying", "app", app)
		return false
	}
	if id == nil || id.Subject == "" {
		return false
	}
	if slices.Contains(roles, AnyAuthenticatedRole) {
		return true
	}
	ok, err := svc.IsAuthorized(ctx, app, roles, id)
	if err != nil {
		logger.Errorw("authorization service failed, denying", "app", app, "user", id.Subject, "error", err)
		return false
	}
	return ok
}

// IsEveryoneGranted reports whether one of roles in app is granted to all
// callers. It is false when the service is missing or fails.
func (e *Engine) IsEveryoneGranted(ctx context.Context, app string, roles []string) bool {
	svc := e.service()
	if svc == nil || len(roles) == 0 {
		return false
	}
	ok, err := svc.IsEveryoneGranted(ctx, app, roles)
	if err != nil {
		logger.Errorw("authorization service failed, denying", "app", app, "error", err)
		return false
	}
	return ok
}
