// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"sync/atomic"

	wgerrors "github.com/stacklok/webguard/pkg/errors"
)

// Holder publishes the current configuration. Each request takes one
// Snapshot and reads only from it, so a concurrent Replace never produces a
// half-old, half-new view.
type Holder struct {
	current atomic.Pointer[WebAppSecurityConfig]
}

// NewHolder validates cfg and returns a Holder publishing it.
func NewHolder(cfg *WebAppSecurityConfig) (*Holder, error) {
	h := &Holder{}
	if err := h.Replace(cfg); err != nil {
		return nil, err
	}
	return h, nil
}

// Snapshot returns the published configuration. Callers must not modify it.
func (h *Holder) Snapshot() *WebAppSecurityConfig {
	return h.current.Load()
}

// Replace validates a copy of cfg and publishes it.
func (h *Holder) Replace(cfg *WebAppSecurityConfig) error {
	if cfg == nil {
		return wgerrors.NewInvalidArgumentError("config must not be nil", nil)
	}
	next := cfg.Clone()
	if err := next.Validate(); err != nil {
		return err
	}
	h.current.Store(next)
	return nil
}
