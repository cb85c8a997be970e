// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package postparams keeps the body of a POST request that was redirected to
// a login page, and replays it when the client comes back.
package postparams

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/stacklok/webguard/pkg/config"
	"github.com/stacklok/webguard/pkg/cookie"
	wgerrors "github.com/stacklok/webguard/pkg/errors"
	"github.com/stacklok/webguard/pkg/logger"
	"github.com/stacklok/webguard/pkg/session"
)

const sessionAttr = "webguard.postparams"

// Saver saves and restores POST parameters.
type Saver struct {
	cfg      config.PostParamsConfig
	codec    *cookie.Codec
	sessions *session.Manager
}

// NewSaver returns a Saver. sessions may be nil unless cfg selects session
// storage.
func NewSaver(cfg config.PostParamsConfig, codec *cookie.Codec, sessions *session.Manager) *Saver {
	return &Saver{cfg: cfg, codec: codec, sessions: sessions}
}

// Encode serializes uri and form as base64(uri).base64(name=value)...
func (s *Saver) Encode(uri string, form url.Values) string {
	names := make([]string, 0, len(form))
	for name := range form {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := []string{s.codec.Encode([]byte(uri))}
	for _, name := range names {
		for _, v := range form[name] {
			parts = append(parts, s.codec.Encode([]byte(url.QueryEscape(name)+"="+url.QueryEscape(v))))
		}
	}
	return strings.Join(parts, ".")
}

// Decode reverses Encode.
func (s *Saver) Decode(payload string) (string, url.Values, error) {
	parts := strings.Split(payload, ".")
	rawURI, err := s.codec.Decode(parts[0])
	if err != nil {
		return "", nil, fmt.Errorf("invalid saved uri: %w", err)
	}
	form := url.Values{}
	for _, p := range parts[1:] {
		raw, err := s.codec.Decode(p)
		if err != nil {
			return "", nil, fmt.Errorf("invalid saved parameter: %w", err)
		}
		kv, err := url.ParseQuery(string(raw))
		if err != nil {
			return "", nil, fmt.Errorf("invalid saved parameter: %w", err)
		}
		for k, vs := range kv {
			form[k] = append(form[k], vs...)
		}
	}
	return string(rawURI), form, nil
}

// Save stores the parameters of a POST request. It reports whether anything
// was stored; oversized payloads are logged and skipped.
func (s *Saver) Save(w http.ResponseWriter, r *http.Request) (bool, error) {
	if r.Method != http.MethodPost || s.cfg.Storage == config.PostParamStorageNone {
		return false, nil
	}
	if err := r.ParseForm(); err != nil {
		return false, wgerrors.NewInvalidArgumentError("failed to parse POST body", err)
	}

	payload := s.Encode(r.URL.RequestURI(), r.PostForm)
	if len(payload) > s.cfg.MaxSize {
		logger.Warnw("POST parameters too large to save",
			"uri", r.URL.Path, "size", len(payload), "max_size", s.cfg.MaxSize)
		return false, nil
	}

	switch s.cfg.Storage {
	case config.PostParamStorageSession:
		if s.sessions == nil {
			return false, wgerrors.NewConfigurationError("session storage selected without a session manager", nil)
		}
		s.sessions.GetOrCreate(w, r).Set(sessionAttr, payload)
	default:
		http.SetCookie(w, &http.Cookie{
			Name:     s.cfg.CookieName,
			Value:    payload,
			Path:     "/",
			HttpOnly: true,
			Secure:   r.TLS != nil,
		})
	}
	return true, nil
}

func (s *Saver) load(r *http.Request) (string, *session.Session, bool) {
	if s.cfg.Storage == config.PostParamStorageSession {
		if s.sessions == nil {
			return "", nil, false
		}
		sess, ok := s.sessions.FromRequest(r)
		if !ok {
			return "", nil, false
		}
		v, ok := sess.Get(sessionAttr)
		if !ok {
			return "", nil, false
		}
		payload, _ := v.(string)
		return payload, sess, payload != ""
	}
	c, err := r.Cookie(s.cfg.CookieName)
	if err != nil || c.Value == "" {
		return "", nil, false
	}
	return c.Value, nil, true
}

func (s *Saver) clear(w http.ResponseWriter, sess *session.Session) {
	if sess != nil {
		sess.Delete(sessionAttr)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: s.cfg.CookieName, Value: "", Path: "/", MaxAge: -1})
}

// Restore turns a GET for the saved URI back into the saved POST. It returns
// r unchanged when nothing is saved. A saved URI that differs from the
// request URI is a tamper error; the saved entry is dropped either way.
func (s *Saver) Restore(w http.ResponseWriter, r *http.Request) (*http.Request, bool, error) {
	if r.Method != http.MethodGet || s.cfg.Storage == config.PostParamStorageNone {
		return r, false, nil
	}
	payload, sess, ok := s.load(r)
	if !ok {
		return r, false, nil
	}
	s.clear(w, sess)

	uri, form, err := s.Decode(payload)
	if err != nil {
		return r, false, wgerrors.NewTamperError("saved POST parameters are corrupt", err)
	}
	if uri != r.URL.RequestURI() {
		return r, false, wgerrors.NewTamperError(
			fmt.Sprintf("saved POST parameters belong to %q, not %q", uri, r.URL.RequestURI()), nil)
	}

	body := form.Encode()
	restored := r.Clone(r.Context())
	restored.Method = http.MethodPost
	restored.Body = io.NopCloser(strings.NewReader(body))
	restored.ContentLength = int64(len(body))
	restored.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	restored.Form = nil
	restored.PostForm = nil
	return restored, true, nil
}
