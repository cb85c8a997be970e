// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package collaborator

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/webguard/pkg/auth"
	"github.com/stacklok/webguard/pkg/auth/jaspi"
	jmocks "github.com/stacklok/webguard/pkg/auth/jaspi/mocks"
	wgerrors "github.com/stacklok/webguard/pkg/errors"
)

func serve(f *fixture, next http.Handler, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.c.Middleware(StaticResource(testApp, testModule))(next).ServeHTTP(rec, r)
	return rec
}

func TestMiddlewarePermitRunsHandler(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	f := newFixture(t, ctrl, func(d *Deps) { d.Syncer = nil })
	f.chain.EXPECT().Authenticate(gomock.Any(), gomock.Any()).Return(auth.Success(buyer()), nil)

	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.IdentityFromContext(r.Context())
		require.True(t, ok)
		seen = id.Subject
		fmt.Fprint(w, "order 1")
	})

	rec := serve(f, next, httptest.NewRequest(http.MethodGet, "https://shop.example.com/orders/1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "order 1", rec.Body.String())
	assert.Equal(t, "alice", seen)
}

func TestMiddlewareRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		result     *auth.AuthenticationResult
		err        error
		wantStatus int
		check      func(t *testing.T, rec *httptest.ResponseRecorder)
	}{
		{
			name:       "challenge",
			result:     auth.Send401("shopRealm", nil),
			wantStatus: http.StatusUnauthorized,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				t.Helper()
				assert.Equal(t, `Basic realm="shopRealm"`, rec.Header().Get("WWW-Authenticate"))
			},
		},
		{
			name:       "redirect",
			result:     auth.Redirect("/login.html"),
			wantStatus: http.StatusFound,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				t.Helper()
				assert.Equal(t, "/login.html", rec.Header().Get("Location"))
			},
		},
		{
			name:       "tamper",
			err:        wgerrors.NewTamperError("post parameters do not match", nil),
			wantStatus: http.StatusInternalServerError,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				t.Helper()
				id := rec.Header().Get("X-Correlation-ID")
				require.NotEmpty(t, id)
				assert.Contains(t, rec.Body.String(), id)
				assert.NotContains(t, rec.Body.String(), "post parameters")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			f := newFixture(t, ctrl, nil)
			f.chain.EXPECT().Authenticate(gomock.Any(), gomock.Any()).Return(tt.result, tt.err)
			next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Error("protected handler must not run")
			})

			rec := serve(f, next, httptest.NewRequest(http.MethodGet, "https://shop.example.com/orders/1", nil))
			assert.Equal(t, tt.wantStatus, rec.Code)
			tt.check(t, rec)
		})
	}
}

func TestMiddlewareJASPIReturnLeavesResponseAlone(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	f := newFixture(t, ctrl, nil)
	provider := jmocks.NewMockProvider(ctrl)
	provider.EXPECT().Name().Return("acme").AnyTimes()
	provider.EXPECT().IsProcessingRequest(gomock.Any(), gomock.Any()).Return(true)
	provider.EXPECT().ValidateRequest(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req *auth.WebRequest) (*auth.AuthenticationResult, error) {
			req.Response.Header().Set("WWW-Authenticate", "Acme")
			req.Response.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(req.Response, "acme says no")
			return auth.Return(http.StatusOK), nil
		})
	provider.EXPECT().SecureResponse(gomock.Any(), gomock.Any()).Times(0)
	f.proxy.SetJASPI(jaspi.NewBridge(provider))

	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("protected handler must not run")
	})
	rec := serve(f, next, httptest.NewRequest(http.MethodGet, "https://shop.example.com/orders/1", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "acme says no", rec.Body.String())
	assert.Equal(t, "Acme", rec.Header().Get("WWW-Authenticate"))
}
