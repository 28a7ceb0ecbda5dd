// Package scope implements the scope-set algebra shared by grant handlers:
// parsing the space-delimited wire format, subset checks, and narrowing.
package scope

import (
	"strings"
)

const OpenID = "openid"

// Parse splits a space-delimited scope string, dropping empty entries and
// duplicates while preserving first-seen order.
func Parse(raw string) []string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(fields))
	scopes := make([]string, 0, len(fields))
	for _, field := range fields {
		if _, ok := seen[field]; ok {
			continue
		}
		seen[field] = struct{}{}
		scopes = append(scopes, field)
	}
	return scopes
}

func Join(scopes []string) string {
	return strings.Join(scopes, " ")
}

func Has(scopes []string, id string) bool {
	for _, scope := range scopes {
		if scope == id {
			return true
		}
	}
	return false
}

// Subset reports whether every requested scope is present in allowed.
func Subset(requested []string, allowed []string) bool {
	if len(requested) == 0 {
		return true
	}

	set := make(map[string]struct{}, len(allowed))
	for _, scope := range allowed {
		set[scope] = struct{}{}
	}

	for _, scope := range requested {
		if _, ok := set[scope]; !ok {
			return false
		}
	}
	return true
}

// Narrow resolves the effective scope set for a refresh or re-issuance:
// an empty request keeps the original grant, a subset narrows to it, and
// anything outside the original grant is rejected.
func Narrow(requested []string, granted []string) ([]string, bool) {
	if len(requested) == 0 {
		return cloneScopes(granted), true
	}
	if !Subset(requested, granted) {
		return nil, false
	}
	return cloneScopes(requested), true
}

func cloneScopes(scopes []string) []string {
	if scopes == nil {
		return nil
	}
	cloned := make([]string, len(scopes))
	copy(cloned, scopes)
	return cloned
}
