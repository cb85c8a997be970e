// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authz

// Blank imports register the service factories with the authorizers
// registry. Add new service types here.

import (
	_ "github.com/stacklok/webguard/pkg/authz/authorizers/cedar"
	_ "github.com/stacklok/webguard/pkg/authz/authorizers/roles"
)
