// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package jaspi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/webguard/pkg/auth"
	"github.com/stacklok/webguard/pkg/auth/jaspi/mocks"
	"github.com/stacklok/webguard/pkg/config"
	wgerrors "github.com/stacklok/webguard/pkg/errors"
	"github.com/stacklok/webguard/pkg/reply"
)

func newRequest() *auth.WebRequest {
	return auth.NewWebRequest(reply.NewWriter(httptest.NewRecorder()),
		httptest.NewRequest(http.MethodGet, "/app", nil), config.DefaultConfig())
}

func TestBridgeAuthenticate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		register       bool
		result         *auth.AuthenticationResult
		providerErr    error
		wantStatus     auth.Status
		wantCode       int
		wantDisableSSO bool
		wantErr        func(error) bool
	}{
		{
			name:           "success without session registration",
			result:         auth.Success(auth.NewIdentity("alice", "r")),
			wantStatus:     auth.StatusSuccess,
			wantCode:       http.StatusOK,
			wantDisableSSO: true,
		},
		{
			name:       "success with session registration",
			register:   true,
			result:     auth.Success(auth.NewIdentity("alice", "r")),
			wantStatus: auth.StatusSuccess,
			wantCode:   http.StatusOK,
		},
		{
			name:       "return with 200 becomes 401",
			result:     auth.Return(http.StatusOK),
			wantStatus: auth.StatusReturn,
			wantCode:   http.StatusUnauthorized,
		},
		{
			name:       "return without status becomes 401",
			result:     auth.Return(0),
			wantStatus: auth.StatusReturn,
			wantCode:   http.StatusUnauthorized,
		},
		{
			name:       "return keeps provider status",
			result:     auth.Return(http.StatusForbidden),
			wantStatus: auth.StatusReturn,
			wantCode:   http.StatusForbidden,
		},
		{
			name:       "continue is a failure",
			result:     auth.Continue("unsure"),
			wantStatus: auth.StatusFailure,
			wantCode:   http.StatusUnauthorized,
		},
		{
			name:        "provider error",
			providerErr: errors.New("boom"),
			wantErr:     wgerrors.IsInfrastructure,
		},
		{
			name:    "nil result",
			wantErr: wgerrors.IsInternal,
		},
		{
			name:    "success without identity",
			result:  &auth.AuthenticationResult{Status: auth.StatusSuccess},
			wantErr: wgerrors.IsInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			provider := mocks.NewMockProvider(ctrl)
			provider.EXPECT().Name().Return("acme").AnyTimes()
			req := newRequest()
			if tt.register {
				req.SetProperty(auth.PropertyRegisterSession, true)
			}
			provider.EXPECT().ValidateRequest(gomock.Any(), req).Return(tt.result, tt.providerErr)

			result, err := NewBridge(provider).Authenticate(context.Background(), req)
			if tt.wantErr != nil {
				assert.True(t, tt.wantErr(err), "unexpected error %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, result.Status)
			assert.Equal(t, tt.wantCode, result.StatusCode)
			assert.Equal(t, "acme", result.Audit.Provider)
			assert.Equal(t, auth.AuthTypeJASPI, result.Audit.CredentialType)
			if result.Identity != nil {
				assert.Equal(t, tt.wantDisableSSO, result.Identity.DisableSSOCookie)
				assert.Equal(t, auth.AuthTypeJASPI, result.Identity.AuthMethod)
			}
		})
	}
}

func TestBridgeProcessingAndSecureResponse(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	provider := mocks.NewMockProvider(ctrl)
	provider.EXPECT().Name().Return("acme").AnyTimes()
	req := newRequest()
	ctx := context.Background()

	var nilBridge *Bridge
	assert.False(t, nilBridge.IsProcessingRequest(ctx, req))

	bridge := NewBridge(provider)
	provider.EXPECT().IsProcessingRequest(ctx, req).Return(true)
	assert.True(t, bridge.IsProcessingRequest(ctx, req))

	provider.EXPECT().SecureResponse(ctx, req).Return(nil)
	require.NoError(t, bridge.SecureResponse(ctx, req))

	provider.EXPECT().SecureResponse(ctx, req).Return(errors.New("io"))
	assert.True(t, wgerrors.IsInfrastructure(bridge.SecureResponse(ctx, req)))
}
