// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/stacklok/webguard/pkg/logger"
)

// LevelAudit is a custom audit log level - between Info and Warn
const LevelAudit = slog.Level(2)

// dropWarnInterval spaces the warnings logged while the queue overflows.
const dropWarnInterval = 10 * time.Second

var droppedEvents = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "webguard",
	Subsystem: "audit",
	Name:      "events_dropped_total",
	Help:      "Audit events dropped because the queue was full.",
})

// NewAuditLogger creates a new structured audit logger that writes to the specified writer.
func NewAuditLogger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: LevelAudit}))
}

// Entry is what the pipeline reports for one authentication or authorization
// attempt.
type Entry struct {
	Type             string
	Outcome          string
	Realm            string
	User             string
	App              string
	URI              string
	Method           string
	StatusCode       int
	Roles            []string
	AuthType         string
	OriginalAuthType string
	FailoverAuthType string
	Provider         string
	Reason           string
	SourceIP         string
	UserAgent        string
}

// WithRequest fills the request derived fields of e.
func (e Entry) WithRequest(r *http.Request) Entry {
	if r == nil {
		return e
	}
	if e.URI == "" {
		e.URI = r.URL.Path
	}
	if e.Method == "" {
		e.Method = r.Method
	}
	e.SourceIP = ClientIP(r)
	e.UserAgent = r.Header.Get("User-Agent")
	return e
}

//go:generate mockgen -destination=mocks/mock_sink.go -package=mocks -source=auditor.go Sink

// Sink receives audit entries. Record must never block or fail the caller.
type Sink interface {
	Record(ctx context.Context, e Entry)
}

// NopSink discards every entry.
type NopSink struct{}

// Record implements Sink.
func (NopSink) Record(context.Context, Entry) {}

// Auditor is an asynchronous Sink writing JSON audit events. When its queue
// is full new entries are dropped and counted.
type Auditor struct {
	config      *Config
	auditLogger *slog.Logger
	queue       chan Entry
	closer      io.Closer
	dropWarn    *rate.Limiter

	closeOnce sync.Once
	done      chan struct{}
}

// NewAuditor creates an Auditor and starts its writer goroutine.
func NewAuditor(config *Config) (*Auditor, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	w, err := config.GetLogWriter()
	if err != nil {
		return nil, fmt.Errorf("failed to create log writer: %w", err)
	}
	a := newAuditor(config, w)
	if c, ok := w.(io.Closer); ok && w != os.Stdout {
		a.closer = c
	}
	return a, nil
}

func newAuditor(config *Config, w io.Writer) *Auditor {
	size := config.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	a := &Auditor{
		config:      config,
		auditLogger: NewAuditLogger(w),
		queue:       make(chan Entry, size),
		dropWarn:    rate.NewLimiter(rate.Every(dropWarnInterval), 1),
		done:        make(chan struct{}),
	}
	go a.run()
	return a
}

// Record implements Sink.
func (a *Auditor) Record(_ context.Context, e Entry) {
	if !a.config.ShouldAuditEvent(e.Type) {
		return
	}
	defer func() {
		// send on closed queue after Close
		if r := recover(); r != nil {
			droppedEvents.Inc()
		}
	}()
	select {
	case a.queue <- e:
	default:
		droppedEvents.Inc()
		if a.dropWarn.Allow() {
			logger.Warnw("audit queue full, dropping events", "type", e.Type, "capacity", cap(a.queue))
		}
	}
}

// Close flushes queued events and stops the writer.
func (a *Auditor) Close() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.queue)
		<-a.done
		if a.closer != nil {
			err = a.closer.Close()
		}
	})
	return err
}

func (a *Auditor) run() {
	defer close(a.done)
	for e := range a.queue {
		a.write(e)
	}
}

func (a *Auditor) write(e Entry) {
	source := EventSource{Type: SourceTypeNetwork, Value: e.SourceIP, Extra: map[string]any{}}
	if e.UserAgent != "" {
		source.Extra[SourceExtraKeyUserAgent] = e.UserAgent
	}

	user := e.User
	if user == "" {
		user = "anonymous"
	}
	subjects := map[string]string{SubjectKeyUser: user}
	if e.Realm != "" {
		subjects[SubjectKeyRealm] = e.Realm
	}

	event := NewAuditEvent(e.Type, source, e.Outcome, subjects, a.config.Component)
	target := map[string]string{TargetKeyURI: e.URI, TargetKeyMethod: e.Method}
	if e.App != "" {
		target[TargetKeyApp] = e.App
	}
	if len(e.Roles) > 0 {
		target[TargetKeyRoles] = strings.Join(e.Roles, ",")
	}
	event.WithTarget(target)

	extra := map[string]any{ExtraKeyStatusCode: e.StatusCode}
	for k, v := range map[string]string{
		ExtraKeyAuthType:         e.AuthType,
		ExtraKeyOriginalAuthType: e.OriginalAuthType,
		ExtraKeyFailoverAuthType: e.FailoverAuthType,
		ExtraKeyProvider:         e.Provider,
		ExtraKeyReason:           e.Reason,
	} {
		if v != "" {
			extra[k] = v
		}
	}
	event.Metadata.Extra = extra

	event.LogTo(context.Background(), a.auditLogger, LevelAudit)
}

// ClientIP extracts the client IP address from the request.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// OutcomeForStatus maps an HTTP status to an audit outcome.
func OutcomeForStatus(status int) string {
	switch {
	case status >= 200 && status < 300:
		return OutcomeSuccess
	case status >= 300 && status < 400:
		return OutcomeRedirect
	case status == http.StatusForbidden:
		return OutcomeDenied
	case status >= 500:
		return OutcomeError
	default:
		return OutcomeFailure + "_" + strconv.Itoa(status)
	}
}
