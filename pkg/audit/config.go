// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package audit records authentication and authorization outcomes as
// structured audit events.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
)

// DefaultBufferSize is the number of events queued before new ones are dropped.
const DefaultBufferSize = 1024

// Config represents the audit logging configuration.
type Config struct {
	// Disabled turns auditing off entirely.
	Disabled bool `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	// Component is the component name to use in audit events
	Component string `json:"component,omitempty" yaml:"component,omitempty"`
	// EventTypes specifies which event types to audit. If empty, all events are audited.
	EventTypes []string `json:"event_types,omitempty" yaml:"event_types,omitempty"`
	// ExcludeEventTypes specifies which event types to exclude from auditing.
	// This takes precedence over EventTypes.
	ExcludeEventTypes []string `json:"exclude_event_types,omitempty" yaml:"exclude_event_types,omitempty"`
	// LogFile specifies the file path for audit logs. If empty, logs to stdout.
	LogFile string `json:"log_file,omitempty" yaml:"log_file,omitempty"`
	// BufferSize bounds the queue between the request path and the writer.
	BufferSize int `json:"buffer_size,omitempty" yaml:"buffer_size,omitempty"`
}

// DefaultConfig returns a default audit configuration.
func DefaultConfig() *Config {
	return &Config{
		Component:  "webguard",
		BufferSize: DefaultBufferSize,
	}
}

// LoadFromReader loads audit configuration from JSON.
func LoadFromReader(r io.Reader) (*Config, error) {
	var config Config
	if err := json.NewDecoder(r).Decode(&config); err != nil {
		return nil, fmt.Errorf("failed to decode audit config: %w", err)
	}
	return &config, nil
}

// GetLogWriter creates and returns the appropriate io.Writer based on the configuration.
func (c *Config) GetLogWriter() (io.Writer, error) {
	if c == nil || c.LogFile == "" {
		return os.Stdout, nil
	}

	file, err := os.OpenFile(filepath.Clean(c.LogFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file %s: %w", c.LogFile, err)
	}
	return file, nil
}

// ShouldAuditEvent determines whether an event should be audited based on the configuration.
func (c *Config) ShouldAuditEvent(eventType string) bool {
	if c == nil {
		return true
	}
	if c.Disabled || slices.Contains(c.ExcludeEventTypes, eventType) {
		return false
	}
	if len(c.EventTypes) > 0 {
		return slices.Contains(c.EventTypes, eventType)
	}
	return true
}

// Validate validates the audit configuration.
func (c *Config) Validate() error {
	if c.BufferSize < 0 {
		return fmt.Errorf("buffer_size cannot be negative")
	}
	for _, et := range c.EventTypes {
		if !validEventTypes[et] {
			return fmt.Errorf("unknown event type: %s", et)
		}
	}
	for _, et := range c.ExcludeEventTypes {
		if !validEventTypes[et] {
			return fmt.Errorf("unknown exclude event type: %s", et)
		}
	}
	return nil
}
