// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package collaborator

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/stacklok/webguard/pkg/logger"
	"github.com/stacklok/webguard/pkg/reply"
)

// ResourceResolver maps a request to the module that serves it.
type ResourceResolver func(r *http.Request) Resource

// StaticResource resolves every request to one module.
func StaticResource(app, module string) ResourceResolver {
	return func(*http.Request) Resource {
		return Resource{App: app, Module: module}
	}
}

// Middleware guards next with the decision engine. next only runs on a
// permit, with the invoked identity in its request context.
func (c *Collaborator) Middleware(resolve ResourceResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			w := reply.NewWriter(rw)
			ctx := r.Context()

			d, err := c.Decide(ctx, w, r, resolve(r))
			if err != nil {
				internalError(w, r, err)
				return
			}
			defer c.PostInvoke(ctx, d)

			if err := d.Reply.WriteResponse(w); err != nil {
				logger.Warnw("failed to write reply", "uri", r.URL.Path, "error", err)
			}
			if d.Reply.Kind() != reply.KindPermit {
				return
			}
			next.ServeHTTP(w, d.Request.Request.WithContext(d.Context()))
		})
	}
}

// internalError answers 500 with a correlation id that is also logged.
func internalError(w *reply.Writer, r *http.Request, err error) {
	id := uuid.NewString()
	logger.FromContext(r.Context()).Error("security decision failed", "correlation_id", id,
		"request_id", middleware.GetReqID(r.Context()), "method", r.Method, "uri", r.URL.Path, "error", err)
	if w.Committed() {
		return
	}
	w.Header().Set("X-Correlation-ID", id)
	http.Error(w, "internal server error, correlation id "+id, http.StatusInternalServerError)
}
