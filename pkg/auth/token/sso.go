// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/stacklok/webguard/pkg/auth"
	wgerrors "github.com/stacklok/webguard/pkg/errors"
)

// MinKeyLength is the minimum length of a configured signing key.
const MinKeyLength = 32

// Claims are the claims of an SSO token.
type Claims struct {
	jwt.RegisteredClaims
	Realm      string   `json:"realm,omitempty"`
	AccessID   string   `json:"access_id,omitempty"`
	Name       string   `json:"name,omitempty"`
	Email      string   `json:"email,omitempty"`
	Groups     []string `json:"groups,omitempty"`
	AuthMethod string   `json:"auth_method,omitempty"`
	// Metadata carries provider session attributes, such as the OpenID
	// Connect session id the token was derived from.
	Metadata map[string]string `json:"md,omitempty"`
}

// Service issues and validates HS256 SSO tokens.
type Service struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewService returns a Service signing with key. An empty key is replaced by
// a random one, which means tokens do not survive a restart.
func NewService(key []byte, issuer string, ttl time.Duration) (*Service, error) {
	if len(key) == 0 {
		key = make([]byte, MinKeyLength)
		if _, err := rand.Read(key); err != nil {
			return nil, wgerrors.NewInternalError("failed to generate signing key", err)
		}
	}
	if len(key) < MinKeyLength {
		return nil, wgerrors.NewConfigurationError(
			fmt.Sprintf("signing key must be at least %d bytes", MinKeyLength), nil)
	}
	if ttl <= 0 {
		return nil, wgerrors.NewConfigurationError("token expiry must be positive", nil)
	}
	return &Service{key: key, issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// WithClock returns a copy of s reading time from now.
func (s *Service) WithClock(now func() time.Time) *Service {
	cp := *s
	cp.now = now
	return &cp
}

// TTL returns the token lifetime.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Issue signs a token for id. The token never outlives id.ExpiresAt.
func (s *Service) Issue(id *auth.Identity) (string, time.Time, error) {
	if id == nil || id.Subject == "" {
		return "", time.Time{}, wgerrors.NewInvalidArgumentError("identity without subject", nil)
	}
	now := s.now()
	expires := now.Add(s.ttl)
	if !id.ExpiresAt.IsZero() && id.ExpiresAt.Before(expires) {
		expires = id.ExpiresAt
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   id.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Realm:      id.Realm,
		AccessID:   id.AccessID,
		Name:       id.Name,
		Email:      id.Email,
		Groups:     id.Groups,
		AuthMethod: id.AuthMethod,
		Metadata:   id.Metadata,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", time.Time{}, wgerrors.NewInternalError("failed to sign token", err)
	}
	return signed, expires.Truncate(time.Second), nil
}

// Validate checks raw and returns the identity it carries.
func (s *Service) Validate(raw string) (*auth.Identity, error) {
	if raw == "" {
		return nil, ErrNoToken
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	id := auth.NewIdentity(claims.Subject, claims.Realm)
	if claims.AccessID != "" {
		id.AccessID = claims.AccessID
	}
	if claims.Name != "" {
		id.Name = claims.Name
	}
	id.Email = claims.Email
	id.Groups = claims.Groups
	id.AuthMethod = claims.AuthMethod
	id.Metadata = claims.Metadata
	id.Token = raw
	id.TokenType = "SSO"
	id.ExpiresAt = claims.ExpiresAt.Time
	return id, nil
}
