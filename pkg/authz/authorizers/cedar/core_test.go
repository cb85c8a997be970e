// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package cedar

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/webguard/pkg/auth"
)

const testPolicies = `
permit(principal in Group::"admins", action == Action::"hasRole", resource == Role::"admin");
`

func TestServiceDecisions(t *testing.T) {
	t.Parallel()

	svc, err := NewService(ConfigOptions{Policies: []string{
		`permit(principal in Group::"admins", action == Action::"hasRole", resource == Role::"admin");`,
		`permit(principal == User::"user:corp/alice", action == Action::"hasRole", resource == Role::"auditor");`,
		`permit(principal, action == Action::"hasRole", resource == Role::"public");`,
		`permit(principal, action == Action::"hasRole", resource == Role::"member") when { context.authenticated };`,
		`forbid(principal, action, resource == Role::"admin") when { context.app == "vault" };`,
	}})
	require.NoError(t, err)

	admin := auth.NewIdentity("bob", "corp")
	admin.Groups = []string{"admins"}
	alice := auth.NewIdentity("alice", "corp")
	ctx := context.Background()

	tests := []struct {
		name  string
		app   string
		roles []string
		id    *auth.Identity
		want  bool
	}{
		{name: "group grants role", app: "shop", roles: []string{"admin"}, id: admin, want: true},
		{name: "forbid wins", app: "vault", roles: []string{"admin"}, id: admin, want: false},
		{name: "user grants role", app: "shop", roles: []string{"auditor"}, id: alice, want: true},
		{name: "other user", app: "shop", roles: []string{"auditor"}, id: admin, want: false},
		{name: "authenticated only", app: "shop", roles: []string{"member"}, id: alice, want: true},
		{name: "any of roles", app: "shop", roles: []string{"admin", "auditor"}, id: alice, want: true},
		{name: "no identity", app: "shop", roles: []string{"public"}, id: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := svc.IsAuthorized(ctx, tt.app, tt.roles, tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	everyone, err := svc.IsEveryoneGranted(ctx, "shop", []string{"public"})
	require.NoError(t, err)
	assert.True(t, everyone)

	everyone, err = svc.IsEveryoneGranted(ctx, "shop", []string{"member"})
	require.NoError(t, err)
	assert.False(t, everyone, "anonymous callers are not authenticated")
}

func TestFactoryAndUpdates(t *testing.T) {
	t.Parallel()

	f := &Factory{}
	assert.Error(t, f.ValidateConfig(json.RawMessage(`{"version":"1.0","type":"cedarv1"}`)))
	assert.ErrorIs(t, f.ValidateConfig(json.RawMessage(`{"version":"1.0","type":"cedarv1","cedar":{"policies":[]}}`)),
		ErrNoPolicies)

	raw, err := json.Marshal(Config{Version: "1.0", Type: ConfigType, Options: &ConfigOptions{Policies: []string{testPolicies}}})
	require.NoError(t, err)
	svc, err := f.CreateService(raw)
	require.NoError(t, err)
	require.IsType(t, &Service{}, svc)

	s := svc.(*Service)
	assert.ErrorIs(t, s.UpdatePolicies(nil), ErrNoPolicies)
	assert.Error(t, s.UpdatePolicies([]string{"permit("}))
	assert.Error(t, s.UpdateEntities("{"))

	_, err = NewService(ConfigOptions{Policies: []string{"not cedar"}})
	assert.Error(t, err)
}
