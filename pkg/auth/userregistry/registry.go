// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package userregistry provides a file-backed user registry.
package userregistry

import (
	"context"
	"crypto/x509"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/stacklok/webguard/pkg/auth"
	wgerrors "github.com/stacklok/webguard/pkg/errors"
)

// File is the on-disk format.
//
//	realm: shopRealm
//	users:
//	  - name: alice
//	    password_hash: $2a$10$...
//	    groups: [buyers]
//	    certificate_cn: alice.example.com
type File struct {
	Realm string `yaml:"realm"`
	Users []User `yaml:"users"`
}

// User is one registry entry.
type User struct {
	Name          string   `yaml:"name"`
	DisplayName   string   `yaml:"display_name,omitempty"`
	Email         string   `yaml:"email,omitempty"`
	PasswordHash  string   `yaml:"password_hash"`
	Groups        []string `yaml:"groups,omitempty"`
	CertificateCN string   `yaml:"certificate_cn,omitempty"`
}

// Registry is an immutable user registry.
type Registry struct {
	realm  string
	users  map[string]User
	certCN map[string]string
}

var _ auth.UserRegistry = (*Registry)(nil)

// New returns a registry for f.
func New(f File) (*Registry, error) {
	r := &Registry{
		realm:  f.Realm,
		users:  make(map[string]User, len(f.Users)),
		certCN: map[string]string{},
	}
	for _, u := range f.Users {
		if u.Name == "" {
			return nil, wgerrors.NewConfigurationError("user without name", nil)
		}
		if _, dup := r.users[u.Name]; dup {
			return nil, wgerrors.NewConfigurationError(fmt.Sprintf("duplicate user %q", u.Name), nil)
		}
		if u.PasswordHash != "" {
			if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
				return nil, wgerrors.NewConfigurationError(fmt.Sprintf("user %q has an invalid bcrypt hash", u.Name), err)
			}
		}
		r.users[u.Name] = u
		if u.CertificateCN != "" {
			r.certCN[u.CertificateCN] = u.Name
		}
	}
	return r, nil
}

// Load reads a registry from r.
func Load(r io.Reader) (*Registry, error) {
	var f File
	if err := yaml.NewDecoder(r).Decode(&f); err != nil && err != io.EOF {
		return nil, wgerrors.NewConfigurationError("failed to decode user registry", err)
	}
	return New(f)
}

// LoadFile reads a registry from path.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open user registry: %w", err)
	}
	defer f.Close() //nolint:errcheck
	return Load(f)
}

// Realm returns the registry realm.
func (r *Registry) Realm() string { return r.realm }

// Authenticate implements auth.UserRegistry.
func (r *Registry) Authenticate(_ context.Context, user, password string) (*auth.Identity, error) {
	u, ok := r.users[user]
	if !ok || u.PasswordHash == "" {
		return nil, auth.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, auth.ErrInvalidCredentials
	}
	return r.identity(u), nil
}

// MapCertificate implements auth.UserRegistry. The leaf certificate's common
// name selects the user.
func (r *Registry) MapCertificate(_ context.Context, chain []*x509.Certificate) (*auth.Identity, error) {
	if len(chain) == 0 || chain[0] == nil {
		return nil, auth.ErrInvalidCredentials
	}
	cn := strings.TrimSpace(chain[0].Subject.CommonName)
	name, ok := r.certCN[cn]
	if !ok {
		return nil, auth.ErrInvalidCredentials
	}
	return r.identity(r.users[name]), nil
}

func (r *Registry) identity(u User) *auth.Identity {
	id := auth.NewIdentity(u.Name, r.realm)
	if u.DisplayName != "" {
		id.Name = u.DisplayName
	}
	id.Email = u.Email
	id.Groups = append([]string(nil), u.Groups...)
	return id
}
