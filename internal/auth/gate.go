package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/iliyamo/eventapp/internal/rbac"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInsufficientScope  = errors.New("insufficient scope")
)

// PublicMessage is the only text clients see for any gate failure.
const PublicMessage = "could not validate credentials"

// FailureKind tells a rejected token apart from a token that lacks a scope.
type FailureKind int

const (
	InvalidCredentials FailureKind = iota
	InsufficientScope
)

// CredentialsError is returned by Gate.Authorize. Reason is for logs only.
type CredentialsError struct {
	Kind      FailureKind
	Reason    string
	Requested []string
}

func (e *CredentialsError) Error() string {
	return PublicMessage + ": " + e.Reason
}

// Unwrap lets errors.Is match ErrInvalidCredentials or ErrInsufficientScope.
func (e *CredentialsError) Unwrap() error {
	if e.Kind == InsufficientScope {
		return ErrInsufficientScope
	}
	return ErrInvalidCredentials
}

// Status is the HTTP status for the failure.
func (e *CredentialsError) Status() int {
	if e.Kind == InsufficientScope {
		return http.StatusForbidden
	}
	return http.StatusUnauthorized
}

// Challenge is the WWW-Authenticate value, echoing the scopes the route asked for.
func (e *CredentialsError) Challenge() string {
	if len(e.Requested) == 0 {
		return "Bearer"
	}
	return `Bearer scope="` + strings.Join(e.Requested, " ") + `"`
}

// Identity is what a successful Authorize hands to the handler.
type Identity struct {
	Email   string
	Scopes  rbac.ScopeSet
	EventID *int64
}

// HasScope reports whether the identity carries scope.
func (i Identity) HasScope(scope string) bool { return i.Scopes.Has(rbac.Scope(scope)) }

// Gate checks bearer tokens against required scopes. The base scope is
// implicitly required by every call, so any authenticated route needs at
// least the default global role.
type Gate struct {
	tokens    *TokenService
	baseScope rbac.Scope
}

func NewGate(tokens *TokenService, baseScope string) *Gate {
	return &Gate{tokens: tokens, baseScope: rbac.Scope(baseScope)}
}

// BaseScope returns the scope every authorized token must carry.
func (g *Gate) BaseScope() string { return string(g.baseScope) }

// Authorize verifies raw and requires every scope in required plus the base scope.
func (g *Gate) Authorize(raw string, required []string) (Identity, error) {
	requested := append([]string(nil), required...)
	fail := func(kind FailureKind, reason string) (Identity, error) {
		return Identity{}, &CredentialsError{Kind: kind, Reason: reason, Requested: requested}
	}

	if strings.TrimSpace(raw) == "" {
		return fail(InvalidCredentials, "missing bearer token")
	}
	claims, err := g.tokens.Verify(raw)
	if err != nil {
		return fail(InvalidCredentials, err.Error())
	}

	held := rbac.NewScopeSet(claims.Scopes...)
	effective := rbac.NewScopeSet(required...)
	effective.Add(g.baseScope)
	for _, s := range effective.Sorted() {
		if !held.Has(rbac.Scope(s)) {
			return fail(InsufficientScope, "missing scope "+s)
		}
	}
	return Identity{Email: claims.Subject, Scopes: held, EventID: claims.EventID}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
