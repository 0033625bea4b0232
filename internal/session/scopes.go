package session

import "strings"

// ScopeSet holds the capability strings granted to a credential. The core
// stores and matches scopes; it never interprets or enumerates the vocabulary,
// which belongs to downstream services.
type ScopeSet []string

// NewScopeSet normalizes raw scope strings: trimmed, deduplicated, order
// preserved. Empty entries are dropped.
func NewScopeSet(scopes []string) ScopeSet {
	if len(scopes) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(scopes))
	var out ScopeSet
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Contains reports whether the set grants the single required scope, either
// exactly or through a trailing-asterisk wildcard ("mcp:*" grants "mcp:invoke").
func (s ScopeSet) Contains(required string) bool {
	for _, granted := range s {
		if granted == required {
			return true
		}
		if prefix, ok := strings.CutSuffix(granted, "*"); ok && strings.HasPrefix(required, prefix) {
			return true
		}
	}
	return false
}

// Satisfies reports whether every required scope is granted.
func (s ScopeSet) Satisfies(required ...string) bool {
	for _, r := range required {
		if !s.Contains(r) {
			return false
		}
	}
	return true
}
