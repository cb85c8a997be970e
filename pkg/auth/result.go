// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"net/http"
	"slices"
)

// Status is the outcome of one authentication attempt.
type Status int

// Statuses. Every status except StatusContinue ends the provider chain.
const (
	StatusUnknown Status = iota
	StatusSuccess
	StatusFailure
	StatusSend401
	StatusRedirect
	StatusTAIChallenge
	StatusContinue
	StatusRedirectToProvider
	StatusReturn
	StatusOAuthChallenge
)

var statusNames = map[Status]string{
	StatusUnknown:            "UNKNOWN",
	StatusSuccess:            "SUCCESS",
	StatusFailure:            "FAILURE",
	StatusSend401:            "SEND_401",
	StatusRedirect:           "REDIRECT",
	StatusTAIChallenge:       "TAI_CHALLENGE",
	StatusContinue:           "CONTINUE",
	StatusRedirectToProvider: "REDIRECT_TO_PROVIDER",
	StatusReturn:             "RETURN",
	StatusOAuthChallenge:     "OAUTH_CHALLENGE",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}

// Authentication types recorded in audit events.
const (
	AuthTypeBasic      = "BASIC"
	AuthTypeForm       = "FORM"
	AuthTypeClientCert = "CLIENT_CERT"
	AuthTypeSSO        = "SSO"
	AuthTypeJWTSSO     = "JWT_SSO"
	AuthTypeTAI        = "TAI"
	AuthTypeSPNEGO     = "SPNEGO"
	AuthTypeOAuth      = "OAUTH"
	AuthTypeOIDC       = "OIDC"
	AuthTypeOpenID     = "OPENID"
	AuthTypeJASPI      = "JASPI"
)

// AuditData is the audit metadata attached to a result. Unlike the rest of
// the result it may be filled in after construction.
type AuditData struct {
	CredentialType   string
	CredentialValue  string
	Outcome          string
	OriginalAuthType string
	FailoverAuthType string
	Provider         string
}

// AuthenticationResult is what a provider returns. Identity is non-nil iff
// Status is StatusSuccess. Which of Realm, Reason and RedirectURL is set
// depends on Status.
type AuthenticationResult struct {
	Status      Status
	Identity    *Identity
	Realm       string
	Reason      string
	RedirectURL string
	// StatusCode is the HTTP status the provider asks for, 0 when it has no
	// opinion.
	StatusCode int
	// Headers are added to the reply, for example a WWW-Authenticate challenge.
	Headers http.Header
	Audit   AuditData
	// CredentialRejected marks a FAILURE for a credential that is no longer
	// accepted, such as a logged out SSO token. The login method of the
	// module decides how the client is asked to sign in again.
	CredentialRejected bool

	cookies []*http.Cookie
}

// Success returns a SUCCESS result for id.
func Success(id *Identity) *AuthenticationResult {
	return &AuthenticationResult{Status: StatusSuccess, Identity: id, StatusCode: http.StatusOK}
}

// Failure returns a FAILURE result.
func Failure(reason string) *AuthenticationResult {
	return &AuthenticationResult{Status: StatusFailure, Reason: reason, StatusCode: http.StatusForbidden}
}

// FailureWithStatus returns a FAILURE result asking for the given HTTP status.
func FailureWithStatus(reason string, statusCode int) *AuthenticationResult {
	return &AuthenticationResult{Status: StatusFailure, Reason: reason, StatusCode: statusCode}
}

// Continue returns a CONTINUE result.
func Continue(reason string) *AuthenticationResult {
	return &AuthenticationResult{Status: StatusContinue, Reason: reason}
}

// Send401 returns a SEND_401 result challenging for realm.
func Send401(realm string, headers http.Header) *AuthenticationResult {
	return &AuthenticationResult{
		Status:     StatusSend401,
		Realm:      realm,
		StatusCode: http.StatusUnauthorized,
		Headers:    headers,
	}
}

// Redirect returns a REDIRECT result.
func Redirect(url string) *AuthenticationResult {
	return &AuthenticationResult{Status: StatusRedirect, RedirectURL: url, StatusCode: http.StatusFound}
}

// RedirectToProvider returns a REDIRECT_TO_PROVIDER result.
func RedirectToProvider(url string) *AuthenticationResult {
	return &AuthenticationResult{Status: StatusRedirectToProvider, RedirectURL: url, StatusCode: http.StatusFound}
}

// TAIChallenge returns a TAI_CHALLENGE result.
func TAIChallenge(statusCode int, headers http.Header) *AuthenticationResult {
	return &AuthenticationResult{Status: StatusTAIChallenge, StatusCode: statusCode, Headers: headers}
}

// OAuthChallenge returns an OAUTH_CHALLENGE result.
func OAuthChallenge(reason string, headers http.Header) *AuthenticationResult {
	return &AuthenticationResult{
		Status:     StatusOAuthChallenge,
		Reason:     reason,
		StatusCode: http.StatusUnauthorized,
		Headers:    headers,
	}
}

// Return returns a RETURN result: the provider owns the response.
func Return(statusCode int) *AuthenticationResult {
	return &AuthenticationResult{Status: StatusReturn, StatusCode: statusCode}
}

// AddCookie appends a cookie to send with the reply.
func (r *AuthenticationResult) AddCookie(c *http.Cookie) {
	if c != nil {
		r.cookies = append(r.cookies, c)
	}
}

// Cookies returns a copy of the cookies to send with the reply.
func (r *AuthenticationResult) Cookies() []*http.Cookie {
	return slices.Clone(r.cookies)
}

// Terminal reports whether the result ends the provider chain.
func (r *AuthenticationResult) Terminal() bool {
	return r != nil && r.Status != StatusContinue
}
