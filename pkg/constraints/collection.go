// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package constraints

import (
	"fmt"
	"slices"
	"strings"

	wgerrors "github.com/stacklok/webguard/pkg/errors"
)

type patternKind int

const (
	patternExact patternKind = iota
	patternPrefix
	patternExtension
	patternDefault
)

type binding struct {
	constraint *SecurityConstraint
	collection *WebResourceCollection
}

// Collection is the immutable, module-scoped set of security constraints.
// It is built once and safe for concurrent use.
type Collection struct {
	constraints   []SecurityConstraint
	declaredRoles []string
	denyUncovered bool
	byPattern     map[string][]binding
}

// NewCollection validates constraints and indexes them by URL pattern.
// declaredRoles are the roles the module declares, used to expand "*".
func NewCollection(constraints []SecurityConstraint, declaredRoles []string, denyUncoveredMethods bool) (*Collection, error) {
	c := &Collection{
		constraints:   slices.Clone(constraints),
		declaredRoles: slices.Clone(declaredRoles),
		denyUncovered: denyUncoveredMethods,
		byPattern:     make(map[string][]binding),
	}

	for i := range c.constraints {
		sc := &c.constraints[i]
		sc.Collections = slices.Clone(sc.Collections)
		sc.Roles = slices.Clone(sc.Roles)
		if sc.Excluded && len(sc.Roles) > 0 {
			return nil, wgerrors.NewConfigurationError(
				fmt.Sprintf("constraint %q is excluded but lists roles", sc.Name), nil)
		}
		for j := range sc.Collections {
			wrc := &sc.Collections[j]
			if len(wrc.Methods) > 0 && len(wrc.OmissionMethods) > 0 {
				return nil, wgerrors.NewConfigurationError(
					fmt.Sprintf("collection %q lists both methods and omission methods", wrc.Name), nil)
			}
			if len(wrc.URLPatterns) == 0 {
				return nil, wgerrors.NewConfigurationError(
					fmt.Sprintf("collection %q has no url patterns", wrc.Name), nil)
			}
			for _, p := range wrc.URLPatterns {
				if err := validatePattern(p); err != nil {
					return nil, err
				}
				c.byPattern[p] = append(c.byPattern[p], binding{constraint: sc, collection: wrc})
			}
		}
	}
	return c, nil
}

// DenyUncoveredMethods reports whether uncovered HTTP methods are denied.
func (c *Collection) DenyUncoveredMethods() bool {
	return c.denyUncovered
}

// Constraints returns a copy of the constraints in the collection.
func (c *Collection) Constraints() []SecurityConstraint {
	return slices.Clone(c.constraints)
}

// Match returns the required roles and flags for uri and method. Only the
// constraints bound to the best matching URL pattern take part.
func (c *Collection) Match(uri, method string) MatchResponse {
	if c == nil {
		return MatchResponse{}
	}
	if uri == "" {
		uri = "/"
	}

	pattern, ok := c.bestPattern(uri)
	if !ok {
		return MatchResponse{}
	}

	var applicable []*SecurityConstraint
	for _, b := range c.byPattern[pattern] {
		if b.collection.covers(method) && !slices.Contains(applicable, b.constraint) {
			applicable = append(applicable, b.constraint)
		}
	}

	resp := MatchResponse{Pattern: pattern}
	if len(applicable) == 0 {
		resp.AccessUncovered = true
		resp.AccessPrecluded = c.denyUncovered
		return resp
	}

	unchecked := false
	resp.SSLRequired = true
	for _, sc := range applicable {
		if sc.Excluded {
			resp.AccessPrecluded = true
		}
		if sc.unchecked() {
			unchecked = true
		}
		if !sc.TransportGuarantee.requiresSSL() {
			resp.SSLRequired = false
		}
	}
	if resp.AccessPrecluded {
		resp.Roles = nil
		return resp
	}
	if unchecked {
		return resp
	}

	for _, sc := range applicable {
		for _, role := range sc.Roles {
			if role == RoleAllDeclared && len(c.declaredRoles) > 0 {
				for _, r := range c.declaredRoles {
					if !slices.Contains(resp.Roles, r) {
						resp.Roles = append(resp.Roles, r)
					}
				}
				continue
			}
			if !slices.Contains(resp.Roles, role) {
				resp.Roles = append(resp.Roles, role)
			}
		}
	}
	return resp
}

// bestPattern applies the servlet mapping precedence: exact, longest path
// prefix, extension, default.
func (c *Collection) bestPattern(uri string) (string, bool) {
	best := ""
	bestLen := -1
	found := map[patternKind]bool{}
	var ext, def string

	for p := range c.byPattern {
		switch kindOf(p) {
		case patternExact:
			if p == uri || (p == "" && uri == "/") {
				return p, true
			}
		case patternPrefix:
			prefix := strings.TrimSuffix(p, "/*")
			if uri == prefix || strings.HasPrefix(uri, prefix+"/") || prefix == "" {
				if len(prefix) > bestLen {
					best, bestLen = p, len(prefix)
				}
			}
		case patternExtension:
			if strings.HasSuffix(lastSegment(uri), p[1:]) && len(p) > len(ext) {
				found[patternExtension] = true
				ext = p
			}
		case patternDefault:
			found[patternDefault] = true
			def = p
		}
	}

	switch {
	case bestLen >= 0:
		return best, true
	case found[patternExtension]:
		return ext, true
	case found[patternDefault]:
		return def, true
	default:
		return "", false
	}
}

func kindOf(p string) patternKind {
	switch {
	case p == "/":
		return patternDefault
	case strings.HasSuffix(p, "/*"):
		return patternPrefix
	case strings.HasPrefix(p, "*."):
		return patternExtension
	default:
		return patternExact
	}
}

func lastSegment(uri string) string {
	if i := strings.LastIndex(uri, "/"); i >= 0 {
		return uri[i+1:]
	}
	return uri
}

func validatePattern(p string) error {
	switch {
	case p == "", p == "/":
		return nil
	case strings.HasPrefix(p, "*."):
		if strings.Contains(p[2:], "/") || len(p) == 2 {
			return wgerrors.NewConfigurationError(fmt.Sprintf("invalid extension pattern %q", p), nil)
		}
		return nil
	case strings.HasPrefix(p, "/"):
		if strings.Contains(strings.TrimSuffix(p, "/*"), "*") {
			return wgerrors.NewConfigurationError(fmt.Sprintf("invalid url pattern %q", p), nil)
		}
		return nil
	default:
		return wgerrors.NewConfigurationError(fmt.Sprintf("url pattern %q must start with / or *.", p), nil)
	}
}
