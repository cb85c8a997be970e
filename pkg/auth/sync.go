// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import "context"

//go:generate mockgen -destination=mocks/mock_sync.go -package=mocks -source=sync.go SyncToken IdentitySyncer

// SyncToken is held while the caller's identity is bound to something
// outside the request, such as an OS thread identity. Release is called
// exactly once.
type SyncToken interface {
	Release()
}

// IdentitySyncer binds an authenticated identity for the duration of the
// target resource.
type IdentitySyncer interface {
	Sync(ctx context.Context, id *Identity) (SyncToken, error)
}
