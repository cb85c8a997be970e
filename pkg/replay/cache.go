// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package replay keeps the key/value entries that must outlive a single
// request: logged-out SSO tokens, invalidated OIDC sessions and HTTP session
// bindings. Entries expire with the credential they describe.
package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/stacklok/webguard/pkg/config"
	wgerrors "github.com/stacklok/webguard/pkg/errors"
)

//go:generate mockgen -destination=mocks/mock_cache.go -package=mocks -source=cache.go Cache

// Cache is a key/value store with per-entry expiry. Implementations are safe
// for concurrent use. Concurrent Puts of one key are last-write-wins.
type Cache interface {
	// Put stores value under key until expiresAt. An expiry in the past is
	// a no-op.
	Put(ctx context.Context, key, value string, expiresAt time.Time) error
	// Get returns the value of a live entry.
	Get(ctx context.Context, key string) (string, bool, error)
	// Delete removes key.
	Delete(ctx context.Context, key string) error
	// Close releases the backend.
	Close() error
}

// NewFromConfig builds the backend selected by cfg.
func NewFromConfig(ctx context.Context, cfg config.ReplayConfig) (Cache, error) {
	switch cfg.Backend {
	case config.ReplayBackendMemory, "":
		return NewMemoryCache(WithCleanupInterval(cfg.CleanupInterval)), nil
	case config.ReplayBackendRedis:
		c, err := NewRedisCache(ctx, cfg.Redis)
		if err != nil {
			return nil, wgerrors.NewInfrastructureError("failed to connect replay cache to redis", err)
		}
		return c, nil
	case config.ReplayBackendSQLite:
		c, err := NewSQLiteCache(ctx, cfg.SQLitePath, cfg.CleanupInterval)
		if err != nil {
			return nil, wgerrors.NewInfrastructureError("failed to open replay cache database", err)
		}
		return c, nil
	default:
		return nil, wgerrors.NewConfigurationError(fmt.Sprintf("unknown replay backend %q", cfg.Backend), nil)
	}
}
