// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package reply defines the verdicts produced by the decision engine and how
// each one is written to the HTTP response.
package reply

import (
	"fmt"
	"net/http"
	"strings"
)

// Kind identifies a WebReply variant.
type Kind string

const (
	// KindPermit lets the request through to the target resource.
	KindPermit Kind = "permit"
	// KindDeny rejects the request with 403.
	KindDeny Kind = "deny"
	// KindRedirect sends the client elsewhere with 302.
	KindRedirect Kind = "redirect"
	// KindChallenge asks the client for credentials, normally with 401.
	KindChallenge Kind = "challenge"
	// KindReturn means a provider already owns the response.
	KindReturn Kind = "return"
)

// WebReply is the single verdict of one decision pass.
type WebReply interface {
	Kind() Kind
	StatusCode() int
	Message() string
	Header() http.Header
	Cookies() []*http.Cookie
	AddCookie(c *http.Cookie)

	// WriteResponse writes the verdict at most once. It never writes to a
	// response that is already committed.
	WriteResponse(w *Writer) error
}

type base struct {
	status  int
	message string
	header  http.Header
	cookies []*http.Cookie
	written bool
}

func newBase(status int, message string) base {
	return base{status: status, message: message, header: http.Header{}}
}

func (b *base) StatusCode() int     { return b.status }
func (b *base) Message() string     { return b.message }
func (b *base) Header() http.Header { return b.header }

func (b *base) Cookies() []*http.Cookie {
	out := make([]*http.Cookie, len(b.cookies))
	copy(out, b.cookies)
	return out
}

func (b *base) AddCookie(c *http.Cookie) {
	if c != nil {
		b.cookies = append(b.cookies, c)
	}
}

// prepare copies headers and cookies onto w. It returns false when nothing
// more may be written.
func (b *base) prepare(w *Writer) bool {
	if b.written || w.Committed() {
		b.written = true
		return false
	}
	b.written = true
	for k, vs := range b.header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	for _, c := range b.cookies {
		http.SetCookie(w, c)
	}
	return true
}

func (b *base) writeBody(w *Writer) error {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(b.status)
	if b.message == "" {
		return nil
	}
	_, err := fmt.Fprintln(w, b.message)
	return err
}

// Permit lets the request proceed. Writing it only attaches headers and cookies.
type Permit struct{ base }

// NewPermit returns a Permit reply.
func NewPermit() *Permit {
	return &Permit{base: newBase(http.StatusOK, "")}
}

// Kind implements WebReply.
func (*Permit) Kind() Kind { return KindPermit }

// WriteResponse implements WebReply.
func (p *Permit) WriteResponse(w *Writer) error {
	p.prepare(w)
	return nil
}

// Deny rejects the request.
type Deny struct{ base }

// NewDeny returns a 403 Deny reply.
func NewDeny(message string) *Deny {
	return &Deny{base: newBase(http.StatusForbidden, message)}
}

// Kind implements WebReply.
func (*Deny) Kind() Kind { return KindDeny }

// WriteResponse implements WebReply.
func (d *Deny) WriteResponse(w *Writer) error {
	if !d.prepare(w) {
		return nil
	}
	return d.writeBody(w)
}

// Redirect sends the client to URL.
type Redirect struct {
	base
	URL string
}

// NewRedirect returns a 302 Redirect reply.
func NewRedirect(url string, cookies ...*http.Cookie) *Redirect {
	r := &Redirect{base: newBase(http.StatusFound, ""), URL: url}
	for _, c := range cookies {
		r.AddCookie(c)
	}
	return r
}

// Kind implements WebReply.
func (*Redirect) Kind() Kind { return KindRedirect }

// WriteResponse implements WebReply.
func (r *Redirect) WriteResponse(w *Writer) error {
	if !r.prepare(w) {
		return nil
	}
	w.Header().Set("Location", r.URL)
	w.WriteHeader(r.status)
	return nil
}

// Challenge asks the client to authenticate.
type Challenge struct {
	base
	Scheme string
}

// NewChallenge returns a challenge with an explicit status and headers.
func NewChallenge(status int, message string, header http.Header) *Challenge {
	c := &Challenge{base: newBase(status, message)}
	for k, vs := range header {
		for _, v := range vs {
			c.header.Add(k, v)
		}
	}
	if v := c.header.Get("WWW-Authenticate"); v != "" {
		c.Scheme, _, _ = strings.Cut(v, " ")
	}
	return c
}

// NewBasicChallenge returns a 401 with a Basic realm.
func NewBasicChallenge(realm string) *Challenge {
	c := &Challenge{base: newBase(http.StatusUnauthorized, "Unauthorized"), Scheme: "Basic"}
	c.header.Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", realm))
	return c
}

// NewNegotiateChallenge returns a 401 asking for SPNEGO. token may be empty.
func NewNegotiateChallenge(token string) *Challenge {
	c := &Challenge{base: newBase(http.StatusUnauthorized, "Unauthorized"), Scheme: "Negotiate"}
	v := "Negotiate"
	if token != "" {
		v += " " + token
	}
	c.header.Set("WWW-Authenticate", v)
	return c
}

// NewBearerChallenge returns a 401 per RFC 6750.
func NewBearerChallenge(realm, errCode, description string) *Challenge {
	c := &Challenge{base: newBase(http.StatusUnauthorized, "Unauthorized"), Scheme: "Bearer"}
	parts := []string{fmt.Sprintf("realm=%q", realm)}
	if errCode != "" {
		parts = append(parts, fmt.Sprintf("error=%q", errCode))
	}
	if description != "" {
		parts = append(parts, fmt.Sprintf("error_description=%q", description))
	}
	c.header.Set("WWW-Authenticate", "Bearer "+strings.Join(parts, ", "))
	return c
}

// Kind implements WebReply.
func (*Challenge) Kind() Kind { return KindChallenge }

// WriteResponse implements WebReply.
func (c *Challenge) WriteResponse(w *Writer) error {
	if !c.prepare(w) {
		return nil
	}
	return c.writeBody(w)
}

// Return signals that a provider took over the response. The target resource
// must not run.
type Return struct{ base }

// NewReturn returns a Return reply carrying the provider's status.
func NewReturn(status int) *Return {
	return &Return{base: newBase(status, "")}
}

// Kind implements WebReply.
func (*Return) Kind() Kind { return KindReturn }

// WriteResponse sends the status line if the provider did not.
func (r *Return) WriteResponse(w *Writer) error {
	if !r.prepare(w) {
		return nil
	}
	w.WriteHeader(r.status)
	return nil
}
