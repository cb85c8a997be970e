// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package constraints holds the static security metadata of a web module:
// security constraints, the login configuration, and the URL matching that
// turns a request into its required roles.
package constraints

import (
	"slices"
	"strings"
)

// AuthMethod is the login-config authentication method of a module.
type AuthMethod string

const (
	// AuthMethodBasic authenticates with the Authorization header.
	AuthMethodBasic AuthMethod = "BASIC"
	// AuthMethodForm authenticates through a login page.
	AuthMethodForm AuthMethod = "FORM"
	// AuthMethodClientCert authenticates with the TLS peer certificate.
	AuthMethodClientCert AuthMethod = "CLIENT_CERT"
)

// Normalize returns the canonical form of m. An empty method means BASIC.
func (m AuthMethod) Normalize() AuthMethod {
	switch strings.ToUpper(strings.TrimSpace(string(m))) {
	case "", "BASIC":
		return AuthMethodBasic
	case "FORM":
		return AuthMethodForm
	case "CLIENT_CERT", "CLIENT-CERT":
		return AuthMethodClientCert
	default:
		return m
	}
}

// TransportGuarantee is the user-data-constraint of a security constraint.
type TransportGuarantee string

const (
	// TransportNone allows plain HTTP.
	TransportNone TransportGuarantee = "NONE"
	// TransportIntegral requires a secure transport.
	TransportIntegral TransportGuarantee = "INTEGRAL"
	// TransportConfidential requires a secure transport.
	TransportConfidential TransportGuarantee = "CONFIDENTIAL"
)

func (t TransportGuarantee) requiresSSL() bool {
	switch TransportGuarantee(strings.ToUpper(string(t))) {
	case TransportIntegral, TransportConfidential:
		return true
	default:
		return false
	}
}

// Special role names.
const (
	// RoleAllDeclared expands to every role declared by the module.
	RoleAllDeclared = "*"
	// RoleAnyAuthenticated is satisfied by any authenticated user.
	RoleAnyAuthenticated = "**"
)

// WebResourceCollection names URL patterns and the HTTP methods they cover.
// Methods and OmissionMethods are mutually exclusive; when both are empty
// every method is covered.
type WebResourceCollection struct {
	Name            string   `json:"name,omitempty"`
	URLPatterns     []string `json:"urlPatterns"`
	Methods         []string `json:"methods,omitempty"`
	OmissionMethods []string `json:"omissionMethods,omitempty"`
}

func (c *WebResourceCollection) covers(method string) bool {
	if len(c.Methods) > 0 {
		return slices.Contains(c.Methods, method)
	}
	if len(c.OmissionMethods) > 0 {
		return !slices.Contains(c.OmissionMethods, method)
	}
	return true
}

// SecurityConstraint binds resource collections to an auth constraint and a
// transport guarantee. Excluded is an auth constraint with no roles: nobody may
// access the resources. A constraint that is neither excluded nor lists roles
// has no auth constraint at all.
type SecurityConstraint struct {
	Name               string                  `json:"name,omitempty"`
	Collections        []WebResourceCollection `json:"collections"`
	Roles              []string                `json:"roles,omitempty"`
	Excluded           bool                    `json:"excluded,omitempty"`
	TransportGuarantee TransportGuarantee      `json:"transportGuarantee,omitempty"`
}

func (s *SecurityConstraint) unchecked() bool {
	return !s.Excluded && len(s.Roles) == 0
}

// LoginConfiguration is the login-config of a module.
type LoginConfiguration struct {
	AuthMethod    AuthMethod `json:"authMethod,omitempty"`
	Realm         string     `json:"realm,omitempty"`
	FormLoginPage string     `json:"formLoginPage,omitempty"`
	FormErrorPage string     `json:"formErrorPage,omitempty"`
	// FailoverAuthMethod is the application-defined method used when
	// CLIENT_CERT authentication fails.
	FailoverAuthMethod AuthMethod `json:"failoverAuthMethod,omitempty"`
}

// Method returns the normalized auth method.
func (l *LoginConfiguration) Method() AuthMethod {
	if l == nil {
		return AuthMethodBasic
	}
	return l.AuthMethod.Normalize()
}

// MatchResponse is the outcome of matching one request against a Collection.
type MatchResponse struct {
	Roles           []string
	SSLRequired     bool
	AccessPrecluded bool
	AccessUncovered bool
	Pattern         string
}

// Unprotected reports whether no role is required.
func (m *MatchResponse) Unprotected() bool {
	return !m.AccessPrecluded && len(m.Roles) == 0
}
