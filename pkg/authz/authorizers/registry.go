// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authorizers

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	wgerrors "github.com/stacklok/webguard/pkg/errors"
)

// Factory builds a Service from the JSON form of its configuration
// document. Service packages register one from init.
type Factory interface {
	ValidateConfig(raw json.RawMessage) error
	CreateService(raw json.RawMessage) (Service, error)
}

// factories is written only by init functions, so reads need no lock.
var factories = map[string]Factory{}

// Register installs f under configType. It must be called from init and
// panics on a duplicate type.
func Register(configType string, f Factory) {
	if _, dup := factories[configType]; dup {
		panic(fmt.Sprintf("authorization factory %q registered twice", configType))
	}
	factories[configType] = f
}

// IsRegistered reports whether configType has a factory.
func IsRegistered(configType string) bool {
	_, ok := factories[configType]
	return ok
}

func lookup(configType string) (Factory, error) {
	if f, ok := factories[configType]; ok {
		return f, nil
	}
	known := slices.Sorted(maps.Keys(factories))
	return nil, wgerrors.NewConfigurationError(fmt.Sprintf(
		"unknown authorization type %q, known types: %s", configType, strings.Join(known, ", ")), nil)
}
