// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default claim names read by ClaimsToIdentity.
const (
	DefaultSubjectClaim = "sub"
	DefaultGroupsClaim  = "groups"
)

// ErrNoSubject is returned when the subject claim is absent or not a string.
var ErrNoSubject = errors.New("token has no subject claim")

// ClaimMapping names the token claims that carry the caller's user name and
// groups. A claim name may be a dotted path into nested objects, such as
// "realm_access.roles". Empty fields use the defaults.
type ClaimMapping struct {
	Subject string
	Groups  string
}

func (m ClaimMapping) subject() string {
	if m.Subject == "" {
		return DefaultSubjectClaim
	}
	return m.Subject
}

func (m ClaimMapping) groups() string {
	if m.Groups == "" {
		return DefaultGroupsClaim
	}
	return m.Groups
}

// ClaimsToIdentity builds a bearer Identity in realm from verified claims.
// The groups claim may be a list or a space separated string; entries that
// are not strings are skipped.
func ClaimsToIdentity(claims jwt.MapClaims, token, realm string, m ClaimMapping) (*Identity, error) {
	sub, _ := lookupClaim(claims, m.subject()).(string)
	if sub == "" {
		if m.Subject == "" {
			return nil, ErrNoSubject
		}
		return nil, fmt.Errorf("%w: %s", ErrNoSubject, m.Subject)
	}

	id := NewIdentity(sub, realm)
	id.Claims = claims
	id.Token = token
	id.TokenType = "Bearer"
	if name, ok := claims["name"].(string); ok && name != "" {
		id.Name = name
	}
	if email, ok := claims["email"].(string); ok {
		id.Email = email
	}

	switch g := lookupClaim(claims, m.groups()).(type) {
	case []any:
		for _, v := range g {
			if s, ok := v.(string); ok && s != "" {
				id.Groups = append(id.Groups, s)
			}
		}
	case []string:
		id.Groups = append(id.Groups, g...)
	case string:
		id.Groups = strings.Fields(g)
	}

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.ExpiresAt = exp.UTC().Truncate(time.Second)
	}
	return id, nil
}

// lookupClaim resolves a dotted claim path. A literal key containing dots
// wins over the nested interpretation.
func lookupClaim(claims map[string]any, path string) any {
	if v, ok := claims[path]; ok {
		return v
	}
	head, rest, nested := strings.Cut(path, ".")
	if !nested {
		return nil
	}
	inner, ok := claims[head].(map[string]any)
	if !ok {
		return nil
	}
	return lookupClaim(inner, rest)
}
