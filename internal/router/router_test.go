package router

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/eventapp/internal/auth"
	"github.com/iliyamo/eventapp/internal/handler"
	"github.com/iliyamo/eventapp/internal/rbac"
)

func pass(next echo.HandlerFunc) echo.HandlerFunc { return next }

func catalog(t *testing.T, roles ...rbac.Role) *rbac.Catalog {
	t.Helper()
	base := []rbac.Role{
		{ID: 1, Namespace: rbac.NamespaceGlobal, Name: "admin", IsAdmin: true},
		{ID: 2, Namespace: rbac.NamespaceGlobal, Name: "user", Parent: "admin", IsDefault: true},
		{ID: 3, Namespace: rbac.NamespaceEvent, Name: "admin", IsAdmin: true},
	}
	c, err := rbac.NewCatalog(append(base, roles...))
	require.NoError(t, err)
	return c
}

func TestRegisterEvents_RejectsUnknownScope(t *testing.T) {
	// no staff role
	c := catalog(t, rbac.Role{ID: 5, Namespace: rbac.NamespaceEvent, Name: "member", Parent: "admin", IsDefault: true})
	gate := auth.NewGate(auth.NewTokenService("s", time.Minute, "eventapp"), "global:user")

	assert.Panics(t, func() {
		RegisterEvents(echo.New(), &handler.EventHandler{}, gate, c, pass)
	})
}

func TestRegisterAll(t *testing.T) {
	c := catalog(t,
		rbac.Role{ID: 4, Namespace: rbac.NamespaceEvent, Name: "staff", Parent: "admin"},
		rbac.Role{ID: 5, Namespace: rbac.NamespaceEvent, Name: "member", Parent: "staff", IsDefault: true},
	)
	gate := auth.NewGate(auth.NewTokenService("s", time.Minute, "eventapp"), "global:user")
	reg := prometheus.NewRegistry()

	e := echo.New()
	RegisterRoutes(e, "https://example.com", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	RegisterRoles(e, &handler.RoleHandler{Catalog: c}, pass)
	RegisterUsers(e, &handler.UserHandler{Catalog: c}, gate, c, pass)
	RegisterEvents(e, &handler.EventHandler{Catalog: c}, gate, c, pass)

	paths := map[string]bool{}
	for _, r := range e.Routes() {
		paths[r.Method+" "+r.Path] = true
	}
	for _, want := range []string{
		"GET /metrics",
		"GET /v1/roles",
		"POST /v1/users/login",
		"PUT /v1/users/role",
		"POST /v1/events/:id/token",
		"PUT /v1/events/:id/members",
		"POST /v1/events/:id/participants",
	} {
		assert.True(t, paths[want], want)
	}

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/events/1", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
