// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package errors defines the typed errors raised by the web security pipeline.
//
// Ordinary authentication and authorization outcomes are never errors; they
// travel as values. An *Error marks a condition the pipeline cannot decide
// on by itself, and its Kind tells the caller how to answer: infrastructure
// failures deny, everything else is a server error.
package errors

import (
	"errors"
	"fmt"
	"log/slog"
)

// Kind classifies an Error.
type Kind string

// Error kinds.
const (
	// KindInvalidArgument marks a caller mistake in an API call.
	KindInvalidArgument Kind = "invalid_argument"
	// KindConfiguration marks inconsistent deployment metadata or settings.
	KindConfiguration Kind = "configuration"
	// KindTamper marks stored request state that failed an integrity check.
	KindTamper Kind = "tamper"
	// KindInfrastructure marks an unavailable collaborator such as a
	// registry, a token endpoint or the replay cache.
	KindInfrastructure Kind = "infrastructure"
	// KindResponseCommitted marks a write after the response was committed.
	KindResponseCommitted Kind = "response_committed"
	// KindInternal marks a broken invariant.
	KindInternal Kind = "internal"
)

// Error is a classified pipeline error.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error of the same kind with no message, so a bare
// &Error{Kind: k} works as a sentinel with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Message == "" && t.Cause == nil && t.Kind == e.Kind
}

// LogValue groups the error fields in structured logs.
func (e *Error) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("kind", string(e.Kind)), slog.String("message", e.Message)}
	if e.Cause != nil {
		attrs = append(attrs, slog.String("cause", e.Cause.Error()))
	}
	return slog.GroupValue(attrs...)
}

func newError(k Kind, message string, cause error) *Error {
	return &Error{Kind: k, Message: message, Cause: cause}
}

// NewInvalidArgumentError returns a KindInvalidArgument error.
func NewInvalidArgumentError(message string, cause error) *Error {
	return newError(KindInvalidArgument, message, cause)
}

// NewConfigurationError returns a KindConfiguration error.
func NewConfigurationError(message string, cause error) *Error {
	return newError(KindConfiguration, message, cause)
}

// NewTamperError returns a KindTamper error.
func NewTamperError(message string, cause error) *Error {
	return newError(KindTamper, message, cause)
}

// NewInfrastructureError returns a KindInfrastructure error.
func NewInfrastructureError(message string, cause error) *Error {
	return newError(KindInfrastructure, message, cause)
}

// NewResponseCommittedError returns a KindResponseCommitted error.
func NewResponseCommittedError(message string, cause error) *Error {
	return newError(KindResponseCommitted, message, cause)
}

// NewInternalError returns a KindInternal error.
func NewInternalError(message string, cause error) *Error {
	return newError(KindInternal, message, cause)
}

// KindOf returns the kind of the outermost *Error in err's chain, or ""
// when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// hasKind reports whether any *Error in err's chain has kind k, including
// typed causes nested under an outer *Error.
func hasKind(err error, k Kind) bool {
	return errors.Is(err, &Error{Kind: k})
}

// IsInvalidArgument reports whether err carries KindInvalidArgument.
func IsInvalidArgument(err error) bool { return hasKind(err, KindInvalidArgument) }

// IsConfiguration reports whether err carries KindConfiguration.
func IsConfiguration(err error) bool { return hasKind(err, KindConfiguration) }

// IsTamper reports whether err carries KindTamper.
func IsTamper(err error) bool { return hasKind(err, KindTamper) }

// IsInfrastructure reports whether err carries KindInfrastructure.
func IsInfrastructure(err error) bool { return hasKind(err, KindInfrastructure) }

// IsResponseCommitted reports whether err carries KindResponseCommitted.
func IsResponseCommitted(err error) bool { return hasKind(err, KindResponseCommitted) }

// IsInternal reports whether err carries KindInternal.
func IsInternal(err error) bool { return hasKind(err, KindInternal) }
