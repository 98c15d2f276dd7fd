// Package rbac holds the role catalog and resolves a role into the flattened
// list of scopes embedded in access tokens. Roles form two independent
// parent-pointer forests, one per namespace. A role grants its own scope plus
// the scope of every role below it.
package rbac

import (
	"errors"
	"fmt"
	"strings"
)

// Namespace partitions the role forest and the scope strings.
type Namespace string

const (
	NamespaceGlobal Namespace = "global"
	NamespaceEvent  Namespace = "event"
)

// ErrUnknownRole is returned when a role name or id is not in the catalog.
var ErrUnknownRole = errors.New("invalid role")

// ErrUnknownNamespace is returned for a namespace tag other than global/event.
var ErrUnknownNamespace = errors.New("unknown role namespace")

// ParseNamespace normalizes a namespace tag.
func ParseNamespace(s string) (Namespace, error) {
	switch Namespace(strings.ToLower(strings.TrimSpace(s))) {
	case NamespaceGlobal:
		return NamespaceGlobal, nil
	case NamespaceEvent:
		return NamespaceEvent, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownNamespace, s)
}

// Role is one row of the roles table. Parent holds the parent's name within
// the same namespace; an empty Parent marks a root.
type Role struct {
	ID          int64
	Namespace   Namespace
	Name        string
	Parent      string
	IsDefault   bool
	IsAdmin     bool
	Description string
	Access      string
}

// Scope returns the "<namespace>:<name>" scope granted by the role.
func (r Role) Scope() Scope { return NewScope(r.Namespace, r.Name) }
