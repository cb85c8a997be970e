// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package session provides an in-memory HTTP session store with TTL cleanup.
package session

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CookieName is the session id cookie.
const CookieName = "JSESSIONID"

// Session is one HTTP session.
type Session struct {
	id        string
	createdAt time.Time

	mu        sync.RWMutex
	updatedAt time.Time
	attrs     map[string]any
}

func newSession(id string) *Session {
	now := time.Now()
	return &Session{id: id, createdAt: now, updatedAt: now, attrs: map[string]any{}}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// UpdatedAt returns when the session was last used.
func (s *Session) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Touch marks the session as used now.
func (s *Session) Touch() {
	s.mu.Lock()
	s.updatedAt = time.Now()
	s.mu.Unlock()
}

// Get returns an attribute.
func (s *Session) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.attrs[key]
	return v, ok
}

// Set stores an attribute.
func (s *Session) Set(key string, value any) {
	s.mu.Lock()
	s.attrs[key] = value
	s.mu.Unlock()
}

// Delete removes an attribute.
func (s *Session) Delete(key string) {
	s.mu.Lock()
	delete(s.attrs, key)
	s.mu.Unlock()
}

// Manager holds sessions with TTL cleanup.
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	ttl      time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewManager creates a session manager with TTL and starts cleanup worker.
func NewManager(ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	m := &Manager{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		stopCh:   make(chan struct{}),
	}
	go m.cleanupRoutine()
	return m
}

func (m *Manager) cleanupRoutine() {
	ticker := time.NewTicker(m.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.CleanupExpired()
		case <-m.stopCh:
			return
		}
	}
}

// Get retrieves a live session by id and touches it.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok || time.Since(s.UpdatedAt()) > m.ttl {
		return nil, false
	}
	s.Touch()
	return s, true
}

// FromRequest returns the session named by the request cookie.
func (m *Manager) FromRequest(r *http.Request) (*Session, bool) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return nil, false
	}
	return m.Get(c.Value)
}

// GetOrCreate returns the request's session, creating one and setting its
// cookie on w when there is none.
func (m *Manager) GetOrCreate(w http.ResponseWriter, r *http.Request) *Session {
	if s, ok := m.FromRequest(r); ok {
		return s
	}
	s := newSession(uuid.NewString())
	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    s.id,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
	})
	return s
}

// Invalidate removes a session by id.
func (m *Manager) Invalidate(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Len returns the number of sessions held.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CleanupExpired removes sessions that have not been updated within the TTL.
func (m *Manager) CleanupExpired() {
	cutoff := time.Now().Add(-m.ttl)
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.UpdatedAt().Before(cutoff) {
			delete(m.sessions, id)
		}
	}
}

// Stop stops the cleanup worker.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}
