// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/webguard/pkg/auth"
	wgerrors "github.com/stacklok/webguard/pkg/errors"
)

var testKey = []byte(strings.Repeat("k", MinKeyLength))

func TestServiceIssueValidate(t *testing.T) {
	t.Parallel()

	svc, err := NewService(testKey, "webguard", time.Hour)
	require.NoError(t, err)

	id := auth.NewIdentity("alice", "shopRealm")
	id.Groups = []string{"buyers"}
	id.AuthMethod = auth.AuthTypeForm
	id.Metadata = map[string]string{"oidc_sid": "s-1"}

	raw, expires, err := svc.Issue(id)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	got, err := svc.Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Subject)
	assert.Equal(t, "shopRealm", got.Realm)
	assert.Equal(t, "user:shopRealm/alice", got.AccessID)
	assert.Equal(t, []string{"buyers"}, got.Groups)
	assert.Equal(t, auth.AuthTypeForm, got.AuthMethod)
	assert.Equal(t, "s-1", got.Metadata["oidc_sid"])
	assert.Equal(t, raw, got.Token)
	assert.Equal(t, expires.Unix(), got.ExpiresAt.Unix())

	raw2, _, err := svc.Issue(id)
	require.NoError(t, err)
	assert.NotEqual(t, raw, raw2, "every token carries its own id")
}

func TestServiceTokenNeverOutlivesCredential(t *testing.T) {
	t.Parallel()

	svc, err := NewService(testKey, "webguard", time.Hour)
	require.NoError(t, err)

	id := auth.NewIdentity("alice", "r")
	id.ExpiresAt = time.Now().Add(10 * time.Minute)

	_, expires, err := svc.Issue(id)
	require.NoError(t, err)
	assert.WithinDuration(t, id.ExpiresAt, expires, time.Second)
}

func TestServiceValidateRejects(t *testing.T) {
	t.Parallel()

	svc, err := NewService(testKey, "webguard", time.Hour)
	require.NoError(t, err)
	raw, _, err := svc.Issue(auth.NewIdentity("alice", "r"))
	require.NoError(t, err)

	other, err := NewService([]byte(strings.Repeat("o", MinKeyLength)), "webguard", time.Hour)
	require.NoError(t, err)
	otherIssuer, err := NewService(testKey, "someone-else", time.Hour)
	require.NoError(t, err)
	later := svc.WithClock(func() time.Time { return time.Now().Add(2 * time.Hour) })

	_, err = other.Validate(raw)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong key")

	_, err = otherIssuer.Validate(raw)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong issuer")

	_, err = later.Validate(raw)
	assert.ErrorIs(t, err, ErrTokenExpired)

	_, err = svc.Validate("")
	assert.ErrorIs(t, err, ErrNoToken)

	_, err = svc.Validate(raw[:len(raw)-2] + "xx")
	assert.ErrorIs(t, err, ErrInvalidToken, "tampered signature")
}

func TestNewServiceKeys(t *testing.T) {
	t.Parallel()

	_, err := NewService([]byte("short"), "i", time.Hour)
	assert.True(t, wgerrors.IsConfiguration(err))

	_, err = NewService(testKey, "i", 0)
	assert.True(t, wgerrors.IsConfiguration(err))

	a, err := NewService(nil, "i", time.Hour)
	require.NoError(t, err)
	b, err := NewService(nil, "i", time.Hour)
	require.NoError(t, err)

	raw, _, err := a.Issue(auth.NewIdentity("alice", "r"))
	require.NoError(t, err)
	_, err = b.Validate(raw)
	assert.Error(t, err, "random keys differ")

	_, _, err = a.Issue(&auth.Identity{})
	assert.True(t, wgerrors.IsInvalidArgument(err))
}
