package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/eventapp/internal/rbac"
)

const testSecret = "test-secret"

func testCatalog(t *testing.T) *rbac.Catalog {
	t.Helper()
	c, err := rbac.NewCatalog([]rbac.Role{
		{ID: 1, Namespace: rbac.NamespaceGlobal, Name: "admin", IsAdmin: true},
		{ID: 2, Namespace: rbac.NamespaceGlobal, Name: "user", Parent: "admin", IsDefault: true},
		{ID: 3, Namespace: rbac.NamespaceEvent, Name: "admin", IsAdmin: true},
		{ID: 4, Namespace: rbac.NamespaceEvent, Name: "staff", Parent: "admin"},
		{ID: 5, Namespace: rbac.NamespaceEvent, Name: "member", Parent: "staff", IsDefault: true},
	})
	require.NoError(t, err)
	return c
}

func TestIssueVerify_RoundTrip(t *testing.T) {
	svc := NewTokenService(testSecret, 30*time.Minute, "eventapp")

	tok, err := svc.Issue("ana@example.com", []string{"global:user", "global:admin", "global:user"}, 0)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), tok.Exp, 5*time.Second)

	claims, err := svc.Verify(tok.Token)
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", claims.Subject)
	assert.Equal(t, []string{"global:admin", "global:user"}, claims.Scopes)
	assert.Nil(t, claims.EventID)
	assert.NotEmpty(t, claims.ID)
}

func TestVerify_Expired(t *testing.T) {
	past := func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old := NewTokenService(testSecret, time.Minute, "eventapp", WithClock(past))
	tok, err := old.Issue("ana@example.com", []string{"global:user"}, 0)
	require.NoError(t, err)

	svc := NewTokenService(testSecret, time.Minute, "eventapp")
	_, err = svc.Verify(tok.Token)
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_Invalid(t *testing.T) {
	svc := NewTokenService(testSecret, time.Minute, "eventapp")
	tok, err := svc.Issue("ana@example.com", nil, 0)
	require.NoError(t, err)

	other := NewTokenService("another-secret", time.Minute, "eventapp")
	_, err = other.Verify(tok.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.False(t, errors.Is(err, ErrTokenExpired))

	foreign := NewTokenService(testSecret, time.Minute, "someone-else")
	_, err = foreign.Verify(tok.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.Verify("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_RejectsOtherAlgorithms(t *testing.T) {
	svc := NewTokenService(testSecret, time.Minute, "eventapp")
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "ana@example.com",
		Issuer:    "eventapp",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = svc.Verify(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_MissingSubject(t *testing.T) {
	svc := NewTokenService(testSecret, time.Minute, "eventapp")
	claims := Claims{Scopes: []string{"global:user"}, RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    "eventapp",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = svc.Verify(raw)
	assert.ErrorIs(t, err, ErrSubjectMissing)

	_, err = svc.Issue("  ", nil, 0)
	assert.ErrorIs(t, err, ErrSubjectMissing)
}

type fakeBindings map[int64]string

func (f fakeBindings) EventRole(_ context.Context, _ string, eventID int64) (string, bool, error) {
	r, ok := f[eventID]
	return r, ok, nil
}

func TestStepUp(t *testing.T) {
	svc := NewTokenService(testSecret, time.Minute, "eventapp")
	cat := testCatalog(t)

	tok, err := svc.IssueForEvent("ana@example.com", []string{"global:user", "event:admin"}, 1, 0)
	require.NoError(t, err)
	claims, err := svc.Verify(tok.Token)
	require.NoError(t, err)

	stepped, err := svc.StepUp(context.Background(), claims, 7, fakeBindings{7: "staff"}, cat)
	require.NoError(t, err)

	got, err := svc.Verify(stepped.Token)
	require.NoError(t, err)
	require.NotNil(t, got.EventID)
	assert.Equal(t, int64(7), *got.EventID)
	assert.Equal(t, []string{"event:member", "event:staff", "global:user"}, got.Scopes)

	_, err = svc.StepUp(context.Background(), claims, 8, fakeBindings{7: "staff"}, cat)
	assert.ErrorIs(t, err, ErrNoEventBinding)

	_, err = svc.StepUp(context.Background(), claims, 7, fakeBindings{7: "owner"}, cat)
	assert.ErrorIs(t, err, rbac.ErrUnknownRole)
}
