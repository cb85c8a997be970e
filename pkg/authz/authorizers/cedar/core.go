// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package cedar decides role membership with Cedar policies.
//
// Each check asks whether the principal may perform Action::"hasRole" on
// Role::"<role>". Authenticated callers are User::"<access id>" entities
// whose parents are their Group::"<group>" entities; unauthenticated
// callers are Anonymous::"anonymous". The request context carries app,
// realm and authenticated.
package cedar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"

	cedar "github.com/cedar-policy/cedar-go"

	"github.com/stacklok/webguard/pkg/auth"
	"github.com/stacklok/webguard/pkg/authz/authorizers"
	"github.com/stacklok/webguard/pkg/logger"
)

// ConfigType is the configuration type identifier for Cedar authorization.
const ConfigType = "cedarv1"

// Entity types and ids used in requests.
const (
	TypeUser      = "User"
	TypeGroup     = "Group"
	TypeRole      = "Role"
	TypeAction    = "Action"
	TypeAnonymous = "Anonymous"

	ActionHasRole = "hasRole"
	anonymousID   = "anonymous"
)

func init() {
	authorizers.Register(ConfigType, &Factory{})
}

// Config is the full configuration document.
type Config struct {
	Version string         `json:"version"`
	Type    string         `json:"type"`
	Options *ConfigOptions `json:"cedar"`
}

// ConfigOptions are the Cedar-specific options.
type ConfigOptions struct {
	// Policies is a list of Cedar policy strings.
	Policies []string `json:"policies" yaml:"policies"`

	// EntitiesJSON is the JSON string representing Cedar entities.
	EntitiesJSON string `json:"entities_json" yaml:"entities_json"`
}

// Factory implements authorizers.Factory for Cedar.
type Factory struct{}

func parse(raw json.RawMessage) (*ConfigOptions, error) {
	var config Config
	if err := json.Unmarshal(raw, &config); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if config.Options == nil {
		return nil, fmt.Errorf("cedar configuration is required (missing 'cedar' field)")
	}
	if len(config.Options.Policies) == 0 {
		return nil, ErrNoPolicies
	}
	return config.Options, nil
}

// ValidateConfig implements authorizers.Factory.
func (*Factory) ValidateConfig(raw json.RawMessage) error {
	_, err := parse(raw)
	return err
}

// CreateService implements authorizers.Factory.
func (*Factory) CreateService(raw json.RawMessage) (authorizers.Service, error) {
	opts, err := parse(raw)
	if err != nil {
		return nil, err
	}
	return NewService(*opts)
}

// Common errors for Cedar authorization.
var (
	ErrNoPolicies = errors.New("no policies loaded")
)

// Service evaluates Cedar policies.
type Service struct {
	mu        sync.RWMutex
	policySet *cedar.PolicySet
	entities  cedar.EntityMap
}

// NewService parses the policies and entities in options.
func NewService(options ConfigOptions) (*Service, error) {
	s := &Service{entities: cedar.EntityMap{}}
	if err := s.UpdatePolicies(options.Policies); err != nil {
		return nil, err
	}
	if options.EntitiesJSON != "" {
		if err := s.UpdateEntities(options.EntitiesJSON); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// UpdatePolicies replaces the policy set.
func (s *Service) UpdatePolicies(policies []string) error {
	if len(policies) == 0 {
		return ErrNoPolicies
	}
	ps := cedar.NewPolicySet()
	for i, text := range policies {
		var policy cedar.Policy
		if err := policy.UnmarshalCedar([]byte(text)); err != nil {
			return fmt.Errorf("failed to parse policy %d: %w", i, err)
		}
		ps.Add(cedar.PolicyID(fmt.Sprintf("policy%d", i)), &policy)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policySet = ps
	return nil
}

// UpdateEntities replaces the static entities.
func (s *Service) UpdateEntities(entitiesJSON string) error {
	var entities cedar.EntityMap
	if err := json.Unmarshal([]byte(entitiesJSON), &entities); err != nil {
		return fmt.Errorf("failed to parse entities JSON: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities = entities
	return nil
}

func principalFor(id *auth.Identity) (cedar.EntityUID, cedar.EntityMap) {
	if id == nil {
		uid := cedar.NewEntityUID(TypeAnonymous, cedar.String(anonymousID))
		return uid, cedar.EntityMap{uid: {
			UID:        uid,
			Parents:    cedar.NewEntityUIDSet(),
			Attributes: cedar.NewRecord(cedar.RecordMap{}),
		}}
	}

	uid := cedar.NewEntityUID(TypeUser, cedar.String(id.AccessID))
	entities := cedar.EntityMap{}
	parents := make([]cedar.EntityUID, 0, len(id.Groups))
	for _, g := range id.Groups {
		guid := cedar.NewEntityUID(TypeGroup, cedar.String(g))
		parents = append(parents, guid)
		entities[guid] = cedar.Entity{
			UID:        guid,
			Parents:    cedar.NewEntityUIDSet(),
			Attributes: cedar.NewRecord(cedar.RecordMap{}),
		}
	}
	entities[uid] = cedar.Entity{
		UID:     uid,
		Parents: cedar.NewEntityUIDSet(parents...),
		Attributes: cedar.NewRecord(cedar.RecordMap{
			"subject": cedar.String(id.Subject),
			"realm":   cedar.String(id.Realm),
			"email":   cedar.String(id.Email),
		}),
	}
	return uid, entities
}

func (s *Service) check(app string, roles []string, id *auth.Identity) (bool, error) {
	principal, requestEntities := principalFor(id)
	realm := ""
	if id != nil {
		realm = id.Realm
	}
	authenticated := cedar.False
	if id != nil {
		authenticated = cedar.True
	}
	reqContext := cedar.NewRecord(cedar.RecordMap{
		"app":           cedar.String(app),
		"realm":         cedar.String(realm),
		"authenticated": authenticated,
	})

	s.mu.RLock()
	defer s.mu.RUnlock()
	entities := maps.Clone(s.entities)
	if entities == nil {
		entities = cedar.EntityMap{}
	}
	maps.Copy(entities, requestEntities)

	for _, role := range roles {
		req := cedar.Request{
			Principal: principal,
			Action:    cedar.NewEntityUID(TypeAction, cedar.String(ActionHasRole)),
			Resource:  cedar.NewEntityUID(TypeRole, cedar.String(role)),
			Context:   reqContext,
		}
		decision, diagnostic := cedar.Authorize(s.policySet, entities, req)
		if len(diagnostic.Errors) > 0 {
			return false, fmt.Errorf("authorization error: %v", diagnostic.Errors)
		}
		logger.Debugw("cedar decision", "principal", principal.String(), "role", role, "allow", decision == cedar.Allow)
		if decision == cedar.Allow {
			return true, nil
		}
	}
	return false, nil
}

// IsAuthorized implements authorizers.Service.
func (s *Service) IsAuthorized(_ context.Context, app string, roles []string, id *auth.Identity) (bool, error) {
	if id == nil {
		return false, nil
	}
	return s.check(app, roles, id)
}

// IsEveryoneGranted implements authorizers.Service. A role is granted to
// everyone when the anonymous principal holds it.
func (s *Service) IsEveryoneGranted(_ context.Context, app string, roles []string) (bool, error) {
	return s.check(app, roles, nil)
}
