// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package authorizers defines the role authorization Service and builds
// one from a typed configuration document.
package authorizers

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"sigs.k8s.io/yaml"

	wgerrors "github.com/stacklok/webguard/pkg/errors"
)

// Document is an authorization configuration. Version and Type form the
// header; the factory for Type parses the rest.
//
//	version: "1.0"
//	type: roles
//	roles:
//	  shop:
//	    user: {groups: [buyers]}
type Document struct {
	Version string
	Type    string

	raw     json.RawMessage
	factory Factory
}

// LoadConfig reads a YAML or JSON document from path.
func LoadConfig(path string) (*Document, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 - operator supplied path
	if err != nil {
		return nil, wgerrors.NewConfigurationError("failed to read authorization configuration", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, wgerrors.NewConfigurationError(fmt.Sprintf("authorization configuration %s", path), err)
	}
	return doc, nil
}

// LoadService reads the document at path and builds its Service.
func LoadService(path string) (Service, error) {
	doc, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return doc.CreateService()
}

// Parse decodes a YAML or JSON document and validates it with its factory.
func Parse(data []byte) (*Document, error) {
	raw, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, wgerrors.NewConfigurationError("malformed authorization configuration", err)
	}
	var header struct {
		Version string `json:"version"`
		Type    string `json:"type"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, wgerrors.NewConfigurationError("malformed authorization configuration", err)
	}
	switch {
	case header.Version == "":
		return nil, wgerrors.NewConfigurationError("authorization configuration needs a version", nil)
	case header.Type == "":
		return nil, wgerrors.NewConfigurationError("authorization configuration needs a type", nil)
	}

	f, err := lookup(header.Type)
	if err != nil {
		return nil, err
	}
	if err := f.ValidateConfig(raw); err != nil {
		return nil, wgerrors.NewConfigurationError(fmt.Sprintf("invalid %s configuration", header.Type), err)
	}
	return &Document{Version: header.Version, Type: header.Type, raw: raw, factory: f}, nil
}

// CreateService builds the Service the document describes.
func (d *Document) CreateService() (Service, error) {
	svc, err := d.factory.CreateService(d.raw)
	if err != nil {
		return nil, wgerrors.NewConfigurationError(fmt.Sprintf("failed to build %s authorization", d.Type), err)
	}
	return svc, nil
}
