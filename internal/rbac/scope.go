package rbac

import (
	"fmt"
	"sort"
	"strings"
)

// Scope is a "<namespace>:<role-name>" string carried in tokens.
type Scope string

// NewScope joins a namespace and a role name.
func NewScope(ns Namespace, name string) Scope {
	return Scope(string(ns) + ":" + name)
}

// ParseScope splits a scope string and validates its namespace.
func ParseScope(s string) (Namespace, string, error) {
	ns, name, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || name == "" {
		return "", "", fmt.Errorf("malformed scope %q", s)
	}
	n, err := ParseNamespace(ns)
	if err != nil {
		return "", "", err
	}
	return n, name, nil
}

// Namespace returns the namespace part of the scope, or "" if malformed.
func (s Scope) Namespace() Namespace {
	ns, _, err := ParseScope(string(s))
	if err != nil {
		return ""
	}
	return ns
}

// ScopeSet is an unordered set of scopes.
type ScopeSet map[Scope]struct{}

// NewScopeSet builds a set from plain strings, ignoring blanks.
func NewScopeSet(scopes ...string) ScopeSet {
	set := make(ScopeSet, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		set[Scope(s)] = struct{}{}
	}
	return set
}

func (s ScopeSet) Add(scope Scope) { s[scope] = struct{}{} }

func (s ScopeSet) Has(scope Scope) bool {
	_, ok := s[scope]
	return ok
}

// Union returns a new set holding the scopes of s and other.
func (s ScopeSet) Union(other ScopeSet) ScopeSet {
	out := make(ScopeSet, len(s)+len(other))
	for k := range s {
		out[k] = struct{}{}
	}
	for k := range other {
		out[k] = struct{}{}
	}
	return out
}

// Filter returns the scopes that belong to ns.
func (s ScopeSet) Filter(ns Namespace) ScopeSet {
	out := make(ScopeSet)
	for k := range s {
		if k.Namespace() == ns {
			out[k] = struct{}{}
		}
	}
	return out
}

// Sorted returns the scopes as a sorted string slice, the form stored in tokens.
func (s ScopeSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, string(k))
	}
	sort.Strings(out)
	return out
}
