// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package roles maps application roles to users, groups and special
// subjects.
package roles

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/stacklok/webguard/pkg/auth"
	"github.com/stacklok/webguard/pkg/authz/authorizers"
)

// ConfigType is the configuration type of the role mapping service.
const ConfigType = "roles"

// AnyApp is the application key whose bindings apply to every application.
const AnyApp = "*"

func init() {
	authorizers.Register(ConfigType, &Factory{})
}

// Binding lists who holds one role.
type Binding struct {
	Users     []string `json:"users,omitempty"`
	Groups    []string `json:"groups,omitempty"`
	AccessIDs []string `json:"access_ids,omitempty"`
	// Special holds EVERYONE or ALL_AUTHENTICATED_USERS.
	Special []string `json:"special,omitempty"`
}

// Config is the full configuration document.
type Config struct {
	Version string `json:"version"`
	Type    string `json:"type"`
	// Roles maps application name to role name to binding.
	Roles map[string]map[string]Binding `json:"roles"`
}

// Factory builds RoleMappingService values.
type Factory struct{}

func parse(raw json.RawMessage) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if len(cfg.Roles) == 0 {
		return nil, fmt.Errorf("at least one role binding is required")
	}
	for app, bindings := range cfg.Roles {
		for role, b := range bindings {
			for _, s := range b.Special {
				if s != authorizers.SubjectEveryone && s != authorizers.SubjectAllAuthenticated {
					return nil, fmt.Errorf("app %s role %s: unknown special subject %q", app, role, s)
				}
			}
		}
	}
	return &cfg, nil
}

// ValidateConfig implements authorizers.Factory.
func (*Factory) ValidateConfig(raw json.RawMessage) error {
	_, err := parse(raw)
	return err
}

// CreateService implements authorizers.Factory.
func (*Factory) CreateService(raw json.RawMessage) (authorizers.Service, error) {
	cfg, err := parse(raw)
	if err != nil {
		return nil, err
	}
	return NewService(cfg.Roles), nil
}

// RoleMappingService answers from static role bindings.
type RoleMappingService struct {
	bindings map[string]map[string]Binding
}

// NewService returns a service over bindings keyed by application, then role.
func NewService(bindings map[string]map[string]Binding) *RoleMappingService {
	return &RoleMappingService{bindings: bindings}
}

func (s *RoleMappingService) lookup(app, role string) []Binding {
	var out []Binding
	for _, a := range []string{app, AnyApp} {
		if b, ok := s.bindings[a][role]; ok {
			out = append(out, b)
		}
	}
	return out
}

// IsAuthorized implements authorizers.Service.
func (s *RoleMappingService) IsAuthorized(_ context.Context, app string, roles []string, id *auth.Identity) (bool, error) {
	if id == nil {
		return false, nil
	}
	for _, role := range roles {
		for _, b := range s.lookup(app, role) {
			if slices.Contains(b.Special, authorizers.SubjectEveryone) ||
				slices.Contains(b.Special, authorizers.SubjectAllAuthenticated) ||
				slices.Contains(b.Users, id.Subject) ||
				slices.Contains(b.AccessIDs, id.AccessID) ||
				slices.ContainsFunc(b.Groups, id.InGroup) {
				return true, nil
			}
		}
	}
	return false, nil
}

// IsEveryoneGranted implements authorizers.Service.
func (s *RoleMappingService) IsEveryoneGranted(_ context.Context, app string, roles []string) (bool, error) {
	for _, role := range roles {
		for _, b := range s.lookup(app, role) {
			if slices.Contains(b.Special, authorizers.SubjectEveryone) {
				return true, nil
			}
		}
	}
	return false, nil
}
