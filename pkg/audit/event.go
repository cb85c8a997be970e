// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	EventTypeAuthentication = "authentication"
	EventTypeAuthorization  = "authorization"
	EventTypeLogin          = "form_login"
	EventTypeLogout         = "logout"
)

var validEventTypes = map[string]bool{
	EventTypeAuthentication: true,
	EventTypeAuthorization:  true,
	EventTypeLogin:          true,
	EventTypeLogout:         true,
}

// Outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeDenied   = "denied"
	OutcomeRedirect = "redirect"
	OutcomeError    = "error"
)

// Source types.
const (
	SourceTypeNetwork = "network"
	SourceTypeLocal   = "local"
)

// Subject and target keys.
const (
	SubjectKeyUser  = "user"
	SubjectKeyRealm = "realm"

	TargetKeyURI    = "uri"
	TargetKeyMethod = "method"
	TargetKeyApp    = "app"
	TargetKeyRoles  = "roles"

	ExtraKeyStatusCode       = "status_code"
	ExtraKeyAuthType         = "auth_type"
	ExtraKeyOriginalAuthType = "original_auth_type"
	ExtraKeyFailoverAuthType = "failover_auth_type"
	ExtraKeyProvider         = "provider"
	ExtraKeyReason           = "reason"
	SourceExtraKeyUserAgent  = "user_agent"
)

// AuditEvent is one audit record in the format written to the audit log.
//
//nolint:revive // AuditEvent mirrors the audit log schema name
type AuditEvent struct {
	Metadata  EventMetadata     `json:"metadata"`
	Type      string            `json:"type"`
	LoggedAt  time.Time         `json:"loggedAt"`
	Source    EventSource       `json:"source"`
	Outcome   string            `json:"outcome"`
	Subjects  map[string]string `json:"subjects"`
	Component string            `json:"component"`
	Target    map[string]string `json:"target,omitempty"`
}

// EventMetadata contains metadata about the audit event.
type EventMetadata struct {
	AuditID string         `json:"auditId"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// EventSource represents the source of an audit event.
type EventSource struct {
	Type  string         `json:"type"`
	Value string         `json:"value"`
	Extra map[string]any `json:"extra,omitempty"`
}

// NewAuditEvent returns a new AuditEvent with a fresh AuditID and logging time.
func NewAuditEvent(
	eventType string,
	source EventSource,
	outcome string,
	subjects map[string]string,
	component string,
) *AuditEvent {
	return &AuditEvent{
		Metadata:  EventMetadata{AuditID: uuid.New().String()},
		Type:      eventType,
		LoggedAt:  time.Now().UTC(),
		Source:    source,
		Outcome:   outcome,
		Subjects:  subjects,
		Component: component,
	}
}

// WithTarget sets the target of the event.
func (e *AuditEvent) WithTarget(target map[string]string) *AuditEvent {
	e.Target = target
	return e
}

// LogTo logs the audit event to logger at level.
func (e *AuditEvent) LogTo(ctx context.Context, logger *slog.Logger, level slog.Level) {
	attrs := []slog.Attr{
		slog.String("audit_id", e.Metadata.AuditID),
		slog.String("type", e.Type),
		slog.Time("logged_at", e.LoggedAt),
		slog.String("outcome", e.Outcome),
		slog.String("component", e.Component),
		slog.Group("source",
			slog.String("type", e.Source.Type),
			slog.String("value", e.Source.Value),
			slog.Any("extra", e.Source.Extra),
		),
		slog.Any("subjects", e.Subjects),
	}
	if e.Target != nil {
		attrs = append(attrs, slog.Any("target", e.Target))
	}
	if e.Metadata.Extra != nil {
		attrs = append(attrs, slog.Group("metadata", slog.Any("extra", e.Metadata.Extra)))
	}
	logger.LogAttrs(ctx, level, "audit_event", attrs...)
}
