// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package auth holds the types shared by every stage of the web
// authentication pipeline: the authenticated Identity, the per-request
// WebRequest, the AuthenticationResult each provider produces and the
// provider interfaces.
package auth

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Identity represents an authenticated principal.
type Identity struct {
	// Subject is the unique identifier for the principal.
	Subject string

	// Name is the human-readable name.
	Name string

	// Email is the email address, if known.
	Email string

	// Realm is the user registry realm the principal belongs to.
	Realm string

	// AccessID is the realm-qualified identifier used for authorization,
	// for example "user:defaultRealm/alice".
	AccessID string

	// Groups are the groups this identity belongs to.
	Groups []string

	// Claims contains additional claims from the credential.
	Claims map[string]any

	// Token is the original credential (SSO token, bearer token).
	// This is redacted in String() and MarshalJSON() to prevent leakage.
	Token string

	// TokenType is the type of token (e.g., "Bearer", "SSO").
	TokenType string

	// AuthMethod records how the principal was authenticated.
	AuthMethod string

	// ExpiresAt is when the credential stops being valid. Zero means the
	// configured SSO token expiry applies.
	ExpiresAt time.Time

	// DisableSSOCookie suppresses SSO cookie issuance for this identity.
	DisableSSOCookie bool

	// Metadata stores additional identity information.
	Metadata map[string]string
}

// NewIdentity returns an identity for subject in realm with its access id set.
func NewIdentity(subject, realm string) *Identity {
	return &Identity{
		Subject:  subject,
		Name:     subject,
		Realm:    realm,
		AccessID: AccessID(realm, subject),
	}
}

// AccessID builds the realm-qualified user access id.
func AccessID(realm, subject string) string {
	return "user:" + realm + "/" + subject
}

// InGroup reports whether the identity belongs to group.
func (i *Identity) InGroup(group string) bool {
	return i != nil && slices.Contains(i.Groups, group)
}

// Clone returns a copy that shares no slices or maps with i.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	out := *i
	out.Groups = slices.Clone(i.Groups)
	if i.Claims != nil {
		out.Claims = make(map[string]any, len(i.Claims))
		for k, v := range i.Claims {
			out.Claims[k] = v
		}
	}
	if i.Metadata != nil {
		out.Metadata = make(map[string]string, len(i.Metadata))
		for k, v := range i.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// String returns a string representation of the Identity with sensitive fields redacted.
// This prevents accidental token leakage when the Identity is logged or printed.
func (i *Identity) String() string {
	if i == nil {
		return "<nil>"
	}

	return fmt.Sprintf("Identity{Subject:%q, Realm:%q}", i.Subject, i.Realm)
}

// MarshalJSON implements json.Marshaler to redact sensitive fields during JSON serialization.
// This prevents accidental token leakage in structured logs or audit logs.
func (i *Identity) MarshalJSON() ([]byte, error) {
	if i == nil {
		return []byte("null"), nil
	}

	type SafeIdentity struct {
		Subject    string            `json:"subject"`
		Name       string            `json:"name"`
		Email      string            `json:"email"`
		Realm      string            `json:"realm"`
		AccessID   string            `json:"accessId"`
		Groups     []string          `json:"groups"`
		Claims     map[string]any    `json:"claims"`
		Token      string            `json:"token"`
		TokenType  string            `json:"tokenType"`
		AuthMethod string            `json:"authMethod"`
		Metadata   map[string]string `json:"metadata"`
	}

	token := i.Token
	if token != "" {
		token = "REDACTED"
	}

	return json.Marshal(&SafeIdentity{
		Subject:    i.Subject,
		Name:       i.Name,
		Email:      i.Email,
		Realm:      i.Realm,
		AccessID:   i.AccessID,
		Groups:     i.Groups,
		Claims:     i.Claims,
		Token:      token,
		TokenType:  i.TokenType,
		AuthMethod: i.AuthMethod,
		Metadata:   i.Metadata,
	})
}
