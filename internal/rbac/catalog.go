package rbac

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidCatalog wraps every structural problem found while building a Catalog.
var ErrInvalidCatalog = errors.New("invalid role catalog")

type roleKey struct {
	ns   Namespace
	name string
}

// Catalog is the immutable, validated set of roles loaded at start-up. It is
// safe for concurrent use because nothing mutates it after NewCatalog returns.
type Catalog struct {
	roles    []Role
	byKey    map[roleKey]int
	byID     map[int64]int
	children map[roleKey][]int
}

// NewCatalog indexes and validates roles. The forest must be acyclic, every
// parent must exist in the same namespace and each namespace needs exactly one
// default role and at least one admin role.
func NewCatalog(roles []Role) (*Catalog, error) {
	c := &Catalog{
		roles:    make([]Role, len(roles)),
		byKey:    make(map[roleKey]int, len(roles)),
		byID:     make(map[int64]int, len(roles)),
		children: make(map[roleKey][]int),
	}
	copy(c.roles, roles)

	for i, r := range c.roles {
		if r.Namespace != NamespaceGlobal && r.Namespace != NamespaceEvent {
			return nil, fmt.Errorf("%w: role %q has namespace %q", ErrInvalidCatalog, r.Name, r.Namespace)
		}
		if strings.TrimSpace(r.Name) == "" {
			return nil, fmt.Errorf("%w: role %d has no name", ErrInvalidCatalog, r.ID)
		}
		k := roleKey{r.Namespace, r.Name}
		if _, dup := c.byKey[k]; dup {
			return nil, fmt.Errorf("%w: duplicate role %s", ErrInvalidCatalog, r.Scope())
		}
		if _, dup := c.byID[r.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate role id %d", ErrInvalidCatalog, r.ID)
		}
		c.byKey[k] = i
		c.byID[r.ID] = i
	}
	for i, r := range c.roles {
		if r.Parent == "" {
			continue
		}
		pk := roleKey{r.Namespace, r.Parent}
		if _, ok := c.byKey[pk]; !ok {
			return nil, fmt.Errorf("%w: role %s references unknown parent %q", ErrInvalidCatalog, r.Scope(), r.Parent)
		}
		c.children[pk] = append(c.children[pk], i)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the forest for cycles and every namespace for its default
// and admin roles. NewCatalog calls it; it is exported for tooling that wants
// to check a seed file without starting the server.
func (c *Catalog) Validate() error {
	// Each role has a single parent, so a chain longer than the catalog means a cycle.
	for _, r := range c.roles {
		cur := r
		for steps := 0; cur.Parent != ""; steps++ {
			if steps >= len(c.roles) {
				return fmt.Errorf("%w: cycle through role %s", ErrInvalidCatalog, r.Scope())
			}
			cur = c.roles[c.byKey[roleKey{cur.Namespace, cur.Parent}]]
		}
	}
	for _, ns := range []Namespace{NamespaceGlobal, NamespaceEvent} {
		defaults, admins := 0, 0
		for _, r := range c.roles {
			if r.Namespace != ns {
				continue
			}
			if r.IsDefault {
				defaults++
			}
			if r.IsAdmin {
				admins++
			}
		}
		if defaults != 1 {
			return fmt.Errorf("%w: namespace %s needs exactly one default role, found %d", ErrInvalidCatalog, ns, defaults)
		}
		if admins == 0 {
			return fmt.Errorf("%w: namespace %s has no admin role", ErrInvalidCatalog, ns)
		}
	}
	return nil
}

// ResolveScopes returns the scope of the referenced role and of every role
// below it in the same namespace. ref is a role name or a decimal role id.
func (c *Catalog) ResolveScopes(ref string, ns Namespace) (ScopeSet, error) {
	seed, err := c.lookup(ref, ns)
	if err != nil {
		return nil, err
	}
	out := make(ScopeSet)
	stack := []int{c.byKey[roleKey{seed.Namespace, seed.Name}]}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		r := c.roles[i]
		out.Add(r.Scope())
		stack = append(stack, c.children[roleKey{r.Namespace, r.Name}]...)
	}
	return out, nil
}

func (c *Catalog) lookup(ref string, ns Namespace) (Role, error) {
	ref = strings.TrimSpace(ref)
	if r, ok := c.ByName(ns, ref); ok {
		return r, nil
	}
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		if r, ok := c.ByID(id); ok && r.Namespace == ns {
			return r, nil
		}
	}
	return Role{}, fmt.Errorf("%w: %s:%s", ErrUnknownRole, ns, ref)
}

// ByName finds a role inside a namespace.
func (c *Catalog) ByName(ns Namespace, name string) (Role, bool) {
	i, ok := c.byKey[roleKey{ns, name}]
	if !ok {
		return Role{}, false
	}
	return c.roles[i], true
}

// ByID finds a role by its primary key.
func (c *Catalog) ByID(id int64) (Role, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Role{}, false
	}
	return c.roles[i], true
}

// Default returns the role assigned when nothing else is specified.
func (c *Catalog) Default(ns Namespace) Role {
	for _, r := range c.roles {
		if r.Namespace == ns && r.IsDefault {
			return r
		}
	}
	return Role{}
}

// Admin returns the first admin role of the namespace.
func (c *Catalog) Admin(ns Namespace) Role {
	for _, r := range c.roles {
		if r.Namespace == ns && r.IsAdmin {
			return r
		}
	}
	return Role{}
}

// Roles lists the roles of a namespace in catalog order.
func (c *Catalog) Roles(ns Namespace) []Role {
	var out []Role
	for _, r := range c.roles {
		if r.Namespace == ns {
			out = append(out, r)
		}
	}
	return out
}

// All returns a copy of every role.
func (c *Catalog) All() []Role {
	out := make([]Role, len(c.roles))
	copy(out, c.roles)
	return out
}

// Scopes returns every scope the catalog can grant, sorted.
func (c *Catalog) Scopes() []string {
	set := make(ScopeSet, len(c.roles))
	for _, r := range c.roles {
		set.Add(r.Scope())
	}
	return set.Sorted()
}

// Known reports whether scope names a role of the catalog.
func (c *Catalog) Known(scope Scope) bool {
	ns, name, err := ParseScope(string(scope))
	if err != nil {
		return false
	}
	_, ok := c.ByName(ns, name)
	return ok
}

// MustKnow panics when a route is wired with a scope outside the catalog.
// It runs once while routes are registered.
func (c *Catalog) MustKnow(scopes ...string) []string {
	for _, s := range scopes {
		if !c.Known(Scope(s)) {
			panic(fmt.Sprintf("rbac: scope %q is not in the role catalog", s))
		}
	}
	return scopes
}
