// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package constraints

import (
	"context"
	"fmt"
	"maps"
	"os"
	"sync"
	"sync/atomic"

	"sigs.k8s.io/yaml"

	wgerrors "github.com/stacklok/webguard/pkg/errors"
)

//go:generate mockgen -destination=mocks/mock_provider.go -package=mocks -source=provider.go Provider

// Provider supplies module security metadata. Implementations must be free of
// side effects and cheap enough to call on every request.
type Provider interface {
	ConstraintCollection(ctx context.Context, app, module string) (*Collection, error)
	LoginConfiguration(ctx context.Context, app, module string) (*LoginConfiguration, error)
}

// ModuleMetadata is everything the pipeline needs to know about one module.
type ModuleMetadata struct {
	Collection *Collection
	Login      LoginConfiguration
}

type moduleKey struct {
	app    string
	module string
}

// Registry is a Provider backed by an atomically published module table.
// Writers build a complete table and swap it in, so readers never observe a
// partially started module.
type Registry struct {
	writeMu sync.Mutex
	modules atomic.Pointer[map[moduleKey]*ModuleMetadata]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	r := &Registry{}
	empty := map[moduleKey]*ModuleMetadata{}
	r.modules.Store(&empty)
	return r
}

// Publish makes meta visible for app/module, replacing any previous version.
func (r *Registry) Publish(app, module string, meta *ModuleMetadata) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	next := maps.Clone(*r.modules.Load())
	next[moduleKey{app, module}] = meta
	r.modules.Store(&next)
}

// Remove unpublishes app/module.
func (r *Registry) Remove(app, module string) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	next := maps.Clone(*r.modules.Load())
	delete(next, moduleKey{app, module})
	r.modules.Store(&next)
}

// Module returns the published metadata of app/module.
func (r *Registry) Module(app, module string) (*ModuleMetadata, error) {
	meta, ok := (*r.modules.Load())[moduleKey{app, module}]
	if !ok {
		return nil, wgerrors.NewConfigurationError(
			fmt.Sprintf("no security metadata for module %s/%s", app, module), nil)
	}
	return meta, nil
}

// ConstraintCollection implements Provider.
func (r *Registry) ConstraintCollection(_ context.Context, app, module string) (*Collection, error) {
	meta, err := r.Module(app, module)
	if err != nil {
		return nil, err
	}
	return meta.Collection, nil
}

// LoginConfiguration implements Provider.
func (r *Registry) LoginConfiguration(_ context.Context, app, module string) (*LoginConfiguration, error) {
	meta, err := r.Module(app, module)
	if err != nil {
		return nil, err
	}
	login := meta.Login
	return &login, nil
}

// ModuleSpec is the on-disk form of one module's metadata.
type ModuleSpec struct {
	App                      string               `json:"app"`
	Module                   string               `json:"module"`
	DenyUncoveredHTTPMethods bool                 `json:"denyUncoveredHttpMethods,omitempty"`
	Roles                    []string             `json:"roles,omitempty"`
	Constraints              []SecurityConstraint `json:"constraints,omitempty"`
	Login                    LoginConfiguration   `json:"login,omitempty"`
}

// File is the metadata file format.
type File struct {
	Modules []ModuleSpec `json:"modules"`
}

// Build converts spec into published metadata.
func (s *ModuleSpec) Build() (*ModuleMetadata, error) {
	if s.App == "" {
		return nil, wgerrors.NewConfigurationError("module spec is missing app", nil)
	}
	if s.Module == "" {
		s.Module = s.App
	}
	col, err := NewCollection(s.Constraints, s.Roles, s.DenyUncoveredHTTPMethods)
	if err != nil {
		return nil, err
	}
	login := s.Login
	login.AuthMethod = login.AuthMethod.Normalize()
	switch login.AuthMethod {
	case AuthMethodBasic, AuthMethodForm, AuthMethodClientCert:
	default:
		return nil, wgerrors.NewConfigurationError(
			fmt.Sprintf("module %s: unknown auth method %q", s.App, login.AuthMethod), nil)
	}
	return &ModuleMetadata{Collection: col, Login: login}, nil
}

// LoadFile reads a YAML metadata file and publishes every module into r.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path) // #nosec G304 - path is operator supplied
	if err != nil {
		return fmt.Errorf("failed to read metadata file: %w", err)
	}
	return r.Load(data)
}

// Load parses YAML (or JSON) metadata and publishes every module into r.
// Nothing is published if any module is invalid.
func (r *Registry) Load(data []byte) error {
	var f File
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return wgerrors.NewConfigurationError("failed to parse metadata", err)
	}

	built := make(map[moduleKey]*ModuleMetadata, len(f.Modules))
	for i := range f.Modules {
		meta, err := f.Modules[i].Build()
		if err != nil {
			return err
		}
		built[moduleKey{f.Modules[i].App, f.Modules[i].Module}] = meta
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	next := maps.Clone(*r.modules.Load())
	maps.Copy(next, built)
	r.modules.Store(&next)
	return nil
}
