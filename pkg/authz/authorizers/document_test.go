// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authorizers_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/webguard/pkg/auth"
	"github.com/stacklok/webguard/pkg/authz/authorizers"
	_ "github.com/stacklok/webguard/pkg/authz/authorizers/cedar"
	_ "github.com/stacklok/webguard/pkg/authz/authorizers/roles"
	wgerrors "github.com/stacklok/webguard/pkg/errors"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		doc      string
		wantType string
		wantErr  string
	}{
		{
			name:     "yaml roles",
			doc:      "version: \"1.0\"\ntype: roles\nroles:\n  shop:\n    user: {groups: [buyers]}\n",
			wantType: "roles",
		},
		{
			name:     "json roles",
			doc:      `{"version":"1.0","type":"roles","roles":{"shop":{"user":{"users":["alice"]}}}}`,
			wantType: "roles",
		},
		{name: "no version", doc: "type: roles\n", wantErr: "needs a version"},
		{name: "no type", doc: "version: \"1.0\"\n", wantErr: "needs a type"},
		{name: "unknown type", doc: "version: \"1.0\"\ntype: opa\n", wantErr: "known types: cedarv1, roles"},
		{name: "factory rejects", doc: "version: \"1.0\"\ntype: roles\n", wantErr: "invalid roles configuration"},
		{name: "not yaml", doc: "version: [", wantErr: "malformed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			doc, err := authorizers.Parse([]byte(tt.doc))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.True(t, wgerrors.IsConfiguration(err))
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, doc.Type)
			assert.Equal(t, "1.0", doc.Version)
		})
	}
}

func TestLoadService(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "authz")
	require.NoError(t, os.WriteFile(path, []byte(`
version: "1.0"
type: roles
roles:
  "*":
    auditor:
      special: [ALL_AUTHENTICATED_USERS]
`), 0o600))

	svc, err := authorizers.LoadService(path)
	require.NoError(t, err)
	ok, err := svc.IsAuthorized(context.Background(), "any-app", []string{"auditor"}, auth.NewIdentity("alice", "r"))
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = authorizers.LoadService(filepath.Join(t.TempDir(), "missing"))
	assert.True(t, wgerrors.IsConfiguration(err))
	assert.True(t, authorizers.IsRegistered("cedarv1"))
	assert.False(t, authorizers.IsRegistered("opa"))
}
