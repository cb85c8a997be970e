// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/toolhive-core/env/mocks"
	"github.com/stacklok/toolhive-core/logging"
)

func TestUnstructuredLogsCheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		envValue string
		expected bool
	}{
		{"unset", "", true},
		{"true", "true", true},
		{"false", "false", false},
		{"garbage", "not-a-bool", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)

			mockEnv := mocks.NewMockReader(ctrl)
			mockEnv.EXPECT().Getenv(UnstructuredLogsEnvVar).Return(tt.envValue)

			assert.Equal(t, tt.expected, unstructuredLogsWithEnv(mockEnv))
		})
	}
}

func captureForTest(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := singleton.Load()
	singleton.Store(logging.New(logging.WithOutput(&buf), logging.WithLevel(slog.LevelDebug)))
	t.Cleanup(func() { singleton.Store(prev) })
	return &buf
}

func TestLevels(t *testing.T) { //nolint:paralleltest // mutates singleton
	tests := []struct {
		name  string
		logFn func()
		want  string
	}{
		{"debug", func() { Debugw("chain consulted", "provider", "sso") }, "chain consulted"},
		{"info", func() { Infow("configuration reloaded") }, "configuration reloaded"},
		{"warn", func() { Warnw("metadata unavailable", "app", "shop") }, "metadata unavailable"},
		{"error", func() { Errorw("decision failed", "correlation_id", "x") }, "decision failed"},
	}

	for _, tc := range tests { //nolint:paralleltest // mutates singleton
		t.Run(tc.name, func(t *testing.T) {
			buf := captureForTest(t)
			tc.logFn()
			assert.Contains(t, buf.String(), tc.want)
		})
	}
}

func TestContextAttrs(t *testing.T) { //nolint:paralleltest // mutates singleton
	buf := captureForTest(t)

	FromContext(context.Background()).Info("no attrs")
	assert.Contains(t, buf.String(), "no attrs")
	buf.Reset()

	ctx := WithAttrs(context.Background(), "app", "shop")
	ctx = WithAttrs(ctx, "module", "web")
	FromContext(ctx).Warn("denied")
	out := buf.String()
	assert.Contains(t, out, "denied")
	assert.Contains(t, out, "shop")
	assert.Contains(t, out, "web")
}

func TestNamedAndGet(t *testing.T) { //nolint:paralleltest // mutates singleton
	buf := captureForTest(t)

	Named("collaborator").Info("decision made")
	require.NotNil(t, Get())
	Get().Info("direct")

	assert.Contains(t, buf.String(), "collaborator")
	assert.Contains(t, buf.String(), "direct")
}

func TestInitializeWithEnv(t *testing.T) { //nolint:paralleltest // mutates singleton
	for _, value := range []string{"", "true", "false"} { //nolint:paralleltest // mutates singleton
		t.Run("unstructured="+value, func(t *testing.T) {
			prev := singleton.Load()
			t.Cleanup(func() { singleton.Store(prev) })

			ctrl := gomock.NewController(t)
			mockEnv := mocks.NewMockReader(ctrl)
			mockEnv.EXPECT().Getenv(UnstructuredLogsEnvVar).Return(value)

			InitializeWithEnv(mockEnv)
			require.NotNil(t, singleton.Load())
			assert.NotSame(t, prev, singleton.Load())
		})
	}
}
