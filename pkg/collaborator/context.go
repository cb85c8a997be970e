// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package collaborator

import (
	"sync"

	"github.com/stacklok/webguard/pkg/auth"
)

// SecurityContext is the identity state of one request. Received is the
// caller as authenticated; Invoked is the identity the resource runs as.
type SecurityContext struct {
	Received *auth.Identity
	Invoked  *auth.Identity

	prior   *auth.Identity
	token   auth.SyncToken
	release sync.Once
}

func newSecurityContext(prior *auth.Identity) *SecurityContext {
	return &SecurityContext{Received: prior, Invoked: prior, prior: prior}
}

// Prior returns the identity that was active before the request.
func (s *SecurityContext) Prior() *auth.Identity {
	return s.prior
}

func (s *SecurityContext) set(id *auth.Identity) {
	s.Received = id
	s.Invoked = id
}

// restore puts back the identity that was active before the request.
func (s *SecurityContext) restore() {
	s.set(s.prior)
}

// Release releases the sync token. It is safe to call more than once.
func (s *SecurityContext) Release() {
	if s == nil {
		return
	}
	s.release.Do(func() {
		if s.token != nil {
			s.token.Release()
		}
	})
}
