package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/eventapp/internal/auth"
	"github.com/iliyamo/eventapp/internal/handler"
	"github.com/iliyamo/eventapp/internal/middleware"
	"github.com/iliyamo/eventapp/internal/rbac"
)

// RegisterUsers registers the /v1/users endpoints. Register and login are
// public and rate limited per client address; everything else needs at
// least the base scope and is rate limited per user.
func RegisterUsers(e *echo.Echo, h *handler.UserHandler, gate *auth.Gate, catalog *rbac.Catalog, limit echo.MiddlewareFunc) {
	g := e.Group("/v1/users")

	g.POST("/register", h.Register, limit)
	g.POST("/login", h.Login, limit)

	base := middleware.RequireScopes(gate)
	g.GET("/me", h.Me, base, limit)
	g.PUT("/me/names", h.UpdateNames, base, limit)
	g.PUT("/me/email", h.UpdateEmail, base, limit)
	g.PUT("/me/password", h.UpdatePassword, base, limit)
	g.PUT("/me/picture", h.UploadPicture, base, limit)
	g.DELETE("/me/picture", h.DeletePicture, base, limit)
	g.DELETE("/me", h.DeleteMe, base, limit)

	admin := middleware.RequireScopes(gate, catalog.MustKnow(string(catalog.Admin(rbac.NamespaceGlobal).Scope()))...)
	g.PUT("/role", h.UpdateRole, admin, limit)
}
