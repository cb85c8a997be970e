// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package collaborator turns a request and the module's security metadata
// into one verdict. The checks run in a fixed order: precluded access,
// transport security, login flow URIs, unprotected resources,
// authentication and finally authorization.
package collaborator

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/stacklok/webguard/pkg/audit"
	"github.com/stacklok/webguard/pkg/auth"
	"github.com/stacklok/webguard/pkg/auth/jaspi"
	"github.com/stacklok/webguard/pkg/config"
	"github.com/stacklok/webguard/pkg/constraints"
	wgerrors "github.com/stacklok/webguard/pkg/errors"
	"github.com/stacklok/webguard/pkg/logger"
	"github.com/stacklok/webguard/pkg/reply"
	"github.com/stacklok/webguard/pkg/telemetry"
)

// SecurityCheckURI is the form login endpoint.
const SecurityCheckURI = "/j_security_check"

// Authenticator authenticates protected requests. *webauth.Proxy is the
// production implementation.
type Authenticator interface {
	Authenticate(ctx context.Context, req *auth.WebRequest) (*auth.AuthenticationResult, error)
	JASPI() *jaspi.Bridge
}

// Authorizer decides role membership. It must fail closed.
type Authorizer interface {
	Authorize(ctx context.Context, app string, roles []string, id *auth.Identity) bool
	IsEveryoneGranted(ctx context.Context, app string, roles []string) bool
}

// UnprotectedInvoker runs trust association interceptors for requests to
// unprotected resources.
type UnprotectedInvoker interface {
	InvokeUnprotected(ctx context.Context, req *auth.WebRequest) (*auth.AuthenticationResult, error)
}

// CookieIssuer issues SSO cookies for an identity.
type CookieIssuer interface {
	Issue(id *auth.Identity, r *http.Request) ([]*http.Cookie, error)
}

// Resource identifies the module a request is for.
type Resource struct {
	App    string
	Module string
	// URI overrides the request path, for dispatchers that strip a context root.
	URI string
	// RegisterSession asks a JASPI provider to establish an SSO session.
	RegisterSession bool
	// DisableClientCertFailover turns off CLIENT_CERT failover for this request.
	DisableClientCertFailover bool
}

// Decision is the outcome of Decide.
type Decision struct {
	Reply    reply.WebReply
	Request  *auth.WebRequest
	Security *SecurityContext

	ctx context.Context
}

// Context returns ctx carrying the invoked identity, for the target resource.
func (d *Decision) Context() context.Context {
	return auth.WithIdentity(d.ctx, d.Security.Invoked)
}

// Deps are the collaborators of the decision engine. Metadata, Authenticate
// and Authorize are required.
type Deps struct {
	Config       *config.Holder
	Metadata     constraints.Provider
	Authenticate Authenticator
	Authorize    Authorizer
	TAI          UnprotectedInvoker
	SSO          CookieIssuer
	Syncer       auth.IdentitySyncer
	Audit        audit.Sink
	Metrics      *telemetry.Metrics
}

// Collaborator is the decision engine.
type Collaborator struct {
	d Deps
}

// New returns a Collaborator.
func New(d Deps) (*Collaborator, error) {
	switch {
	case d.Config == nil:
		return nil, wgerrors.NewInvalidArgumentError("config holder is required", nil)
	case d.Metadata == nil:
		return nil, wgerrors.NewInvalidArgumentError("metadata provider is required", nil)
	case d.Authenticate == nil:
		return nil, wgerrors.NewInvalidArgumentError("authenticator is required", nil)
	case d.Authorize == nil:
		return nil, wgerrors.NewInvalidArgumentError("authorizer is required", nil)
	}
	if d.Audit == nil {
		d.Audit = audit.NopSink{}
	}
	return &Collaborator{d: d}, nil
}

// Decide runs the pipeline for one request. Authentication and
// authorization failures are replies; an error is a tamper, internal or
// response fault the caller answers with 500. PostInvoke must be called
// for every non-nil Decision.
func (c *Collaborator) Decide(
	ctx context.Context, w *reply.Writer, r *http.Request, res Resource,
) (d *Decision, err error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "webguard.decide",
		attribute.String("app", res.App),
		attribute.String("module", res.Module),
		attribute.String("http.method", r.Method),
	)
	ctx = logger.WithAttrs(ctx, "app", res.App, "module", res.Module, "method", r.Method, "uri", r.URL.Path)
	defer func() {
		if d != nil {
			span.SetAttributes(attribute.String("reply", string(d.Reply.Kind())),
				attribute.Int("http.status_code", d.Reply.StatusCode()))
			c.d.Metrics.ObserveDecision(string(d.Reply.Kind()), d.Reply.StatusCode(), time.Since(start))
		}
		telemetry.EndSpan(span, err)
	}()

	prior, _ := auth.IdentityFromContext(ctx)
	req := auth.NewWebRequest(w, r, c.d.Config.Snapshot())
	req.AppName = res.App
	req.ModuleName = res.Module
	if res.URI != "" {
		req.URI = res.URI
	}
	req.DisableClientCertFailover = res.DisableClientCertFailover
	if res.RegisterSession {
		req.SetProperty(auth.PropertyRegisterSession, true)
	}
	d = &Decision{Request: req, Security: newSecurityContext(prior), ctx: ctx}

	if failure := c.loadMetadata(ctx, req); failure != nil {
		d.Reply = failure
		return d, nil
	}

	if rep := c.beforeAuthentication(ctx, req); rep != nil {
		d.Reply = rep
		return d, nil
	}

	if c.unprotected(ctx, req) {
		if err := c.permitUnprotected(ctx, d); err != nil {
			return nil, err
		}
		return d, nil
	}

	if err := c.authenticateAndAuthorize(ctx, d); err != nil {
		d.Security.Release()
		return nil, err
	}
	return d, nil
}

func (c *Collaborator) loadMetadata(ctx context.Context, req *auth.WebRequest) reply.WebReply {
	coll, err := c.d.Metadata.ConstraintCollection(ctx, req.AppName, req.ModuleName)
	if err == nil {
		req.LoginConfig, err = c.d.Metadata.LoginConfiguration(ctx, req.AppName, req.ModuleName)
	}
	if err != nil {
		logger.FromContext(ctx).Warn("security metadata unavailable, denying", "error", err)
		return reply.NewDeny("security configuration for this module is not available")
	}
	if coll != nil {
		req.Match = coll.Match(req.URI, req.Request.Method)
	}
	return nil
}

// beforeAuthentication runs the checks that never need credentials.
func (c *Collaborator) beforeAuthentication(ctx context.Context, req *auth.WebRequest) reply.WebReply {
	if req.Match.AccessPrecluded {
		logger.FromContext(ctx).Debug("access precluded", "uncovered", req.Match.AccessUncovered)
		rep := reply.NewDeny("access to the requested resource is not allowed")
		c.record(ctx, req, audit.EventTypeAuthorization, nil, rep, "access precluded")
		return rep
	}

	if req.Match.SSLRequired && !req.Secure() {
		rep := reply.NewRedirect(httpsURL(req.Request, req.Config.HTTPSPort))
		if req.Config.TAI.Enabled || c.d.Authenticate.JASPI() != nil {
			c.record(ctx, req, audit.EventTypeAuthentication, nil, rep, "secure transport required")
		}
		return rep
	}

	if c.specialURI(req) {
		req.UnprotectedURI = true
		return reply.NewPermit()
	}
	return nil
}

func (*Collaborator) specialURI(req *auth.WebRequest) bool {
	if req.Request.Method == http.MethodPost && strings.HasSuffix(req.URI, SecurityCheckURI) {
		return true
	}
	if req.LoginConfig == nil || req.LoginMethod() != constraints.AuthMethodForm {
		return false
	}
	return samePath(req.URI, req.LoginConfig.FormLoginPage) || samePath(req.URI, req.LoginConfig.FormErrorPage)
}

func samePath(uri, page string) bool {
	if page == "" {
		return false
	}
	path, _, _ := strings.Cut(page, "?")
	return uri == path
}

// unprotected reports whether the resource needs no authentication: no
// role is required, or one of the required roles is granted to everyone.
func (c *Collaborator) unprotected(ctx context.Context, req *auth.WebRequest) bool {
	if req.Match.Unprotected() {
		return true
	}
	return c.d.Authorize.IsEveryoneGranted(ctx, req.AppName, req.Match.Roles)
}

func (c *Collaborator) permitUnprotected(ctx context.Context, d *Decision) error {
	req := d.Request
	req.UnprotectedURI = true
	permit := reply.NewPermit()
	d.Reply = permit

	if c.d.TAI == nil || !req.Config.TAI.Enabled {
		return nil
	}
	result, err := c.d.TAI.InvokeUnprotected(ctx, req)
	if err != nil {
		logger.FromContext(ctx).Warn("trust association failed on an unprotected resource, continuing unauthenticated",
			"uri", req.URI, "error", err)
		return nil
	}
	if result == nil || result.Status != auth.StatusSuccess {
		return nil
	}
	for _, ck := range result.Cookies() {
		permit.AddCookie(ck)
	}
	d.Security.set(result.Identity)
	c.record(ctx, req, audit.EventTypeAuthentication, result, permit, "")
	return c.sync(ctx, d)
}

func (c *Collaborator) authenticateAndAuthorize(ctx context.Context, d *Decision) error {
	req := d.Request
	result, err := c.d.Authenticate.Authenticate(ctx, req)
	if err != nil {
		if wgerrors.IsInfrastructure(err) {
			logger.FromContext(ctx).Error("authentication infrastructure failure, denying", "error", err)
			d.Reply = reply.NewDeny("authentication is not available")
			c.record(ctx, req, audit.EventTypeAuthentication, nil, d.Reply, err.Error())
			return nil
		}
		return err
	}
	if result == nil {
		return wgerrors.NewInternalError("authentication produced no result", nil)
	}

	if result.Status != auth.StatusSuccess {
		d.Reply = c.replyFor(req, result)
		c.d.Metrics.ObserveAuthentication(authType(req, result), audit.OutcomeForStatus(d.Reply.StatusCode()))
		c.record(ctx, req, audit.EventTypeAuthentication, result, d.Reply, result.Reason)
		return nil
	}

	id := result.Identity
	d.Security.set(id)
	c.d.Metrics.ObserveAuthentication(authType(req, result), audit.OutcomeSuccess)
	c.record(ctx, req, audit.EventTypeAuthentication, result, reply.NewPermit(), "")

	roles := req.Match.Roles
	if !c.d.Authorize.Authorize(ctx, req.AppName, roles, id) {
		d.Security.restore()
		deny := reply.NewDeny(fmt.Sprintf("user %s is not authorized to access %s", id.Subject, req.URI))
		d.Reply = deny
		c.record(ctx, req, audit.EventTypeAuthorization, result, deny, "")
		return nil
	}

	permit := reply.NewPermit()
	for _, ck := range result.Cookies() {
		permit.AddCookie(ck)
	}
	c.issueSSOCookies(req, id, permit)
	d.Reply = permit
	c.record(ctx, req, audit.EventTypeAuthorization, result, permit, "")
	return c.sync(ctx, d)
}

// issueSSOCookies adds SSO cookies for identities that did not arrive on one.
func (c *Collaborator) issueSSOCookies(req *auth.WebRequest, id *auth.Identity, rep reply.WebReply) {
	if c.d.SSO == nil || id.DisableSSOCookie {
		return
	}
	if id.AuthMethod == auth.AuthTypeSSO || id.AuthMethod == auth.AuthTypeJWTSSO {
		return
	}
	cookies, err := c.d.SSO.Issue(id, req.Request)
	if err != nil {
		logger.Errorw("failed to issue SSO cookies", "user", id.Subject, "error", err)
		return
	}
	for _, ck := range cookies {
		rep.AddCookie(ck)
	}
}

func (c *Collaborator) sync(ctx context.Context, d *Decision) error {
	if c.d.Syncer == nil || d.Security.Invoked == nil {
		return nil
	}
	token, err := c.d.Syncer.Sync(ctx, d.Security.Invoked)
	if err != nil {
		return wgerrors.NewInfrastructureError("failed to bind identity", err)
	}
	d.Security.token = token
	return nil
}

// replyFor maps a non-success authentication result to a reply.
func (*Collaborator) replyFor(req *auth.WebRequest, result *auth.AuthenticationResult) reply.WebReply {
	realm := result.Realm
	if realm == "" {
		realm = req.Realm()
	}

	var rep reply.WebReply
	switch result.Status {
	case auth.StatusReturn:
		status := result.StatusCode
		if status == 0 || status == http.StatusOK {
			status = http.StatusUnauthorized
		}
		// The provider owns the response; nothing of ours is attached.
		return reply.NewReturn(status)
	case auth.StatusRedirect, auth.StatusRedirectToProvider:
		rep = reply.NewRedirect(result.RedirectURL)
	case auth.StatusSend401:
		rep = challenge(realm, result.Headers)
	case auth.StatusTAIChallenge:
		status := result.StatusCode
		if status == 0 {
			status = http.StatusUnauthorized
		}
		rep = reply.NewChallenge(status, result.Reason, result.Headers)
	case auth.StatusOAuthChallenge:
		if result.Headers.Get("WWW-Authenticate") != "" {
			rep = reply.NewChallenge(http.StatusUnauthorized, "Unauthorized", result.Headers)
		} else {
			rep = reply.NewBearerChallenge(realm, "invalid_token", result.Reason)
		}
	case auth.StatusFailure:
		if result.StatusCode == http.StatusUnauthorized {
			rep = signInAgain(req, realm, result)
		} else {
			rep = reply.NewDeny(failureMessage(result))
		}
	default:
		logger.Errorw("authentication ended without a decision, denying", "app", req.AppName,
			"status", result.Status.String())
		rep = reply.NewDeny("authentication did not complete")
	}
	for _, ck := range result.Cookies() {
		rep.AddCookie(ck)
	}
	return rep
}

// signInAgain answers a 401 FAILURE the way the module's login method asks
// for credentials.
func signInAgain(req *auth.WebRequest, realm string, result *auth.AuthenticationResult) reply.WebReply {
	if result.Headers.Get("WWW-Authenticate") != "" {
		return challenge(realm, result.Headers)
	}
	switch req.LoginMethod() {
	case constraints.AuthMethodForm:
		if req.LoginConfig != nil && req.LoginConfig.FormLoginPage != "" {
			return reply.NewRedirect(req.LoginConfig.FormLoginPage)
		}
		return reply.NewDeny(failureMessage(result))
	case constraints.AuthMethodClientCert:
		return reply.NewDeny(failureMessage(result))
	default:
		return reply.NewBasicChallenge(realm)
	}
}

func challenge(realm string, header http.Header) reply.WebReply {
	if header.Get("WWW-Authenticate") != "" {
		return reply.NewChallenge(http.StatusUnauthorized, "Unauthorized", header)
	}
	return reply.NewBasicChallenge(realm)
}

func failureMessage(result *auth.AuthenticationResult) string {
	if result.Reason != "" {
		return "authentication failed: " + result.Reason
	}
	return "authentication failed"
}

func authType(req *auth.WebRequest, result *auth.AuthenticationResult) string {
	switch {
	case result != nil && result.Identity != nil && result.Identity.AuthMethod != "":
		return result.Identity.AuthMethod
	case result != nil && result.Audit.CredentialType != "":
		return result.Audit.CredentialType
	default:
		return string(req.LoginMethod())
	}
}

func (c *Collaborator) record(
	ctx context.Context, req *auth.WebRequest, eventType string,
	result *auth.AuthenticationResult, rep reply.WebReply, reason string,
) {
	e := audit.Entry{
		Type:       eventType,
		Outcome:    audit.OutcomeForStatus(rep.StatusCode()),
		Realm:      req.Realm(),
		App:        req.AppName,
		URI:        req.URI,
		StatusCode: rep.StatusCode(),
		Roles:      req.Match.Roles,
		AuthType:   authType(req, result),
		Reason:     reason,
	}.WithRequest(req.Request)
	if result != nil {
		e.OriginalAuthType = result.Audit.OriginalAuthType
		e.FailoverAuthType = result.Audit.FailoverAuthType
		e.Provider = result.Audit.Provider
		if result.Identity != nil {
			e.User = result.Identity.Subject
			if result.Identity.Realm != "" {
				e.Realm = result.Identity.Realm
			}
		}
	}
	c.d.Audit.Record(ctx, e)
}

// PostInvoke finishes a request after the target resource ran: a JASPI
// provider that handled the request secures the response, then the sync
// token is released.
func (c *Collaborator) PostInvoke(ctx context.Context, d *Decision) {
	if d == nil {
		return
	}
	defer d.Security.Release()

	if _, handled := d.Request.Property(auth.PropertyJASPIProvider); !handled {
		return
	}
	if d.Reply.Kind() != reply.KindPermit {
		return
	}
	if b := c.d.Authenticate.JASPI(); b != nil {
		if err := b.SecureResponse(ctx, d.Request); err != nil {
			logger.FromContext(d.ctx).Error("jaspi secure response failed", "error", err)
		}
	}
}

// httpsURL returns the secure equivalent of the request URL.
func httpsURL(r *http.Request, port int) string {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port > 0 && port != 443 {
		host = net.JoinHostPort(strings.Trim(host, "[]"), strconv.Itoa(port))
	}
	return "https://" + host + r.URL.RequestURI()
}
