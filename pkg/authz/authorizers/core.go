// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authorizers

import (
	"context"

	"github.com/stacklok/webguard/pkg/auth"
)

//go:generate mockgen -destination=mocks/mock_service.go -package=mocks -source=core.go Service

// Special subjects a role can be granted to.
const (
	// SubjectEveryone grants a role to every caller, authenticated or not.
	SubjectEveryone = "EVERYONE"
	// SubjectAllAuthenticated grants a role to every authenticated caller.
	SubjectAllAuthenticated = "ALL_AUTHENTICATED_USERS"
)

// Service decides whether callers hold the roles a resource requires.
// Holding any one of the roles is enough.
type Service interface {
	// IsAuthorized reports whether id holds one of roles in app.
	IsAuthorized(ctx context.Context, app string, roles []string, id *auth.Identity) (bool, error)

	// IsEveryoneGranted reports whether one of roles in app is granted to
	// every caller, so the resource needs no authentication.
	IsEveryoneGranted(ctx context.Context, app string, roles []string) (bool, error)
}
