// Package auth issues and verifies bearer tokens and decides whether a token
// carries the scopes a route asks for.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/iliyamo/eventapp/internal/rbac"
)

var (
	// ErrInvalidToken covers malformed tokens, bad signatures, unexpected
	// algorithms and foreign issuers.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired also matches ErrInvalidToken with errors.Is.
	ErrTokenExpired = fmt.Errorf("%w: token has expired", ErrInvalidToken)
	// ErrSubjectMissing is returned for a correctly signed token without "sub".
	ErrSubjectMissing = errors.New("token has no subject")
	// ErrNoEventBinding means the caller holds no role in the requested event.
	ErrNoEventBinding = errors.New("user is not bound to the event")
)

// Claims is the payload of an access token.
type Claims struct {
	Scopes  []string `json:"scopes"`
	EventID *int64   `json:"event_id,omitempty"`
	jwt.RegisteredClaims
}

// AccessToken is a signed token together with its expiry.
type AccessToken struct {
	Token string
	Exp   time.Time
}

// BindingLookup returns the event role name held by email in eventID. ok is
// false when there is no binding.
type BindingLookup interface {
	EventRole(ctx context.Context, email string, eventID int64) (role string, ok bool, err error)
}

// Option configures a TokenService.
type Option func(*TokenService)

// WithClock replaces time.Now, used by tests to issue tokens in the past.
func WithClock(now func() time.Time) Option {
	return func(s *TokenService) { s.now = now }
}

// TokenService signs HS256 access tokens with one shared secret.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewTokenService builds a service. ttl is the default lifetime used when Issue
// is called with ttl <= 0.
func NewTokenService(secret string, ttl time.Duration, issuer string, opts ...Option) *TokenService {
	s := &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
		issuer: issuer,
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Issue signs a token for subject with the given scopes.
func (s *TokenService) Issue(subject string, scopes []string, ttl time.Duration) (AccessToken, error) {
	return s.issue(subject, scopes, nil, ttl)
}

// IssueForEvent signs a token carrying an event_id claim.
func (s *TokenService) IssueForEvent(subject string, scopes []string, eventID int64, ttl time.Duration) (AccessToken, error) {
	return s.issue(subject, scopes, &eventID, ttl)
}

func (s *TokenService) issue(subject string, scopes []string, eventID *int64, ttl time.Duration) (AccessToken, error) {
	if strings.TrimSpace(subject) == "" {
		return AccessToken{}, ErrSubjectMissing
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	now := s.now().UTC()
	exp := now.Add(ttl)
	claims := Claims{
		Scopes:  rbac.NewScopeSet(scopes...).Sorted(),
		EventID: eventID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(s.secret)
	if err != nil {
		return AccessToken{}, fmt.Errorf("sign token: %w", err)
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// Verify checks signature, algorithm, issuer and expiry and returns the claims.
func (s *TokenService) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrSubjectMissing
	}
	return claims, nil
}

// StepUp exchanges a verified global token for one bound to eventID. The new
// token keeps the caller's global scopes and adds the resolved scopes of
// their event role. Event scopes from an earlier step-up are dropped.
func (s *TokenService) StepUp(ctx context.Context, claims *Claims, eventID int64, bindings BindingLookup, catalog *rbac.Catalog) (AccessToken, error) {
	role, ok, err := bindings.EventRole(ctx, claims.Subject, eventID)
	if err != nil {
		return AccessToken{}, fmt.Errorf("lookup event role: %w", err)
	}
	if !ok {
		return AccessToken{}, ErrNoEventBinding
	}
	eventScopes, err := catalog.ResolveScopes(role, rbac.NamespaceEvent)
	if err != nil {
		return AccessToken{}, err
	}
	global := rbac.NewScopeSet(claims.Scopes...).Filter(rbac.NamespaceGlobal)
	return s.IssueForEvent(claims.Subject, global.Union(eventScopes).Sorted(), eventID, 0)
}
