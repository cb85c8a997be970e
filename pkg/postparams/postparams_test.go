// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package postparams

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/webguard/pkg/config"
	"github.com/stacklok/webguard/pkg/cookie"
	wgerrors "github.com/stacklok/webguard/pkg/errors"
	"github.com/stacklok/webguard/pkg/session"
)

func newSaver(t *testing.T, storage config.PostParamStorage, maxSize int) (*Saver, *session.Manager) {
	t.Helper()
	mgr := session.NewManager(time.Hour)
	t.Cleanup(mgr.Stop)
	cfg := config.PostParamsConfig{Storage: storage, CookieName: config.DefaultPostParamCookie, MaxSize: maxSize}
	return NewSaver(cfg, cookie.NewCodec(config.DefaultChunkSize, config.DefaultMaxChunks, 16), mgr), mgr
}

func postRequest(target string, form url.Values) *http.Request {
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func carryCookies(from *httptest.ResponseRecorder, to *http.Request) {
	for _, c := range from.Result().Cookies() {
		to.AddCookie(c)
	}
}

func TestSaveRestoreCookie(t *testing.T) {
	t.Parallel()

	saver, _ := newSaver(t, config.PostParamStorageCookie, config.DefaultPostParamMaxSize)
	form := url.Values{"item": {"42", "43"}, "qty": {"1 & 2"}}

	rec := httptest.NewRecorder()
	saved, err := saver.Save(rec, postRequest("/shop/checkout?step=2", form))
	require.NoError(t, err)
	require.True(t, saved)

	get := httptest.NewRequest(http.MethodGet, "/shop/checkout?step=2", nil)
	carryCookies(rec, get)

	rec2 := httptest.NewRecorder()
	restored, ok, err := saver.Restore(rec2, get)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, http.MethodPost, restored.Method)
	assert.Equal(t, "application/x-www-form-urlencoded", restored.Header.Get("Content-Type"))

	body, err := io.ReadAll(restored.Body)
	require.NoError(t, err)
	got, err := url.ParseQuery(string(body))
	require.NoError(t, err)
	assert.Equal(t, form, got)

	cleared := rec2.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.Equal(t, config.DefaultPostParamCookie, cleared[0].Name)
	assert.Equal(t, -1, cleared[0].MaxAge)
}

func TestRestoreURIMismatchIsTamper(t *testing.T) {
	t.Parallel()

	saver, _ := newSaver(t, config.PostParamStorageCookie, config.DefaultPostParamMaxSize)
	rec := httptest.NewRecorder()
	_, err := saver.Save(rec, postRequest("/shop/checkout", url.Values{"a": {"b"}}))
	require.NoError(t, err)

	get := httptest.NewRequest(http.MethodGet, "/bank/transfer", nil)
	carryCookies(rec, get)

	restored, ok, err := saver.Restore(httptest.NewRecorder(), get)
	require.Error(t, err)
	assert.True(t, wgerrors.IsTamper(err))
	assert.False(t, ok)
	assert.Same(t, get, restored)
}

func TestRestoreCorruptPayload(t *testing.T) {
	t.Parallel()

	saver, _ := newSaver(t, config.PostParamStorageCookie, config.DefaultPostParamMaxSize)
	get := httptest.NewRequest(http.MethodGet, "/x", nil)
	get.AddCookie(&http.Cookie{Name: config.DefaultPostParamCookie, Value: "!!!.@@"})

	_, _, err := saver.Restore(httptest.NewRecorder(), get)
	assert.True(t, wgerrors.IsTamper(err))
}

func TestSaveSkips(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		storage config.PostParamStorage
		maxSize int
		req     *http.Request
	}{
		{"get request", config.PostParamStorageCookie, 1024, httptest.NewRequest(http.MethodGet, "/x", nil)},
		{"storage none", config.PostParamStorageNone, 1024, postRequest("/x", url.Values{"a": {"b"}})},
		{"too large", config.PostParamStorageCookie, 16, postRequest("/x", url.Values{"a": {strings.Repeat("b", 64)}})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			saver, _ := newSaver(t, tt.storage, tt.maxSize)
			rec := httptest.NewRecorder()
			saved, err := saver.Save(rec, tt.req)
			require.NoError(t, err)
			assert.False(t, saved)
			assert.Empty(t, rec.Result().Cookies())
		})
	}
}

func TestSaveRestoreSession(t *testing.T) {
	t.Parallel()

	saver, mgr := newSaver(t, config.PostParamStorageSession, config.DefaultPostParamMaxSize)
	rec := httptest.NewRecorder()
	saved, err := saver.Save(rec, postRequest("/shop/checkout", url.Values{"a": {"b"}}))
	require.NoError(t, err)
	require.True(t, saved)
	assert.Equal(t, 1, mgr.Len())

	get := httptest.NewRequest(http.MethodGet, "/shop/checkout", nil)
	carryCookies(rec, get)

	restored, ok, err := saver.Restore(httptest.NewRecorder(), get)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, restored.ParseForm())
	assert.Equal(t, "b", restored.PostForm.Get("a"))

	_, ok, err = saver.Restore(httptest.NewRecorder(), get)
	require.NoError(t, err)
	assert.False(t, ok, "a saved entry is restored once")
}

func TestSaveDefaultCapFitsOneCookie(t *testing.T) {
	t.Parallel()

	saver, _ := newSaver(t, config.PostParamStorageCookie, config.DefaultPostParamMaxSize)

	rec := httptest.NewRecorder()
	saved, err := saver.Save(rec, postRequest("/shop/checkout", url.Values{"note": {strings.Repeat("n", 2000)}}))
	require.NoError(t, err)
	require.True(t, saved)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.LessOrEqual(t, len(cookies[0].Value), config.DefaultChunkSize)

	rec = httptest.NewRecorder()
	saved, err = saver.Save(rec, postRequest("/shop/checkout", url.Values{"note": {strings.Repeat("n", 8000)}}))
	require.NoError(t, err)
	assert.False(t, saved, "payloads a browser would drop are not saved")
	assert.Empty(t, rec.Result().Cookies())
}
