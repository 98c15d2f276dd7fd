package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/eventapp/internal/auth"
	"github.com/iliyamo/eventapp/internal/handler"
	"github.com/iliyamo/eventapp/internal/middleware"
	"github.com/iliyamo/eventapp/internal/rbac"
)

// Event route scopes. Registration panics if the catalog lacks one of them.
const (
	scopeEventAdmin  = "event:admin"
	scopeEventStaff  = "event:staff"
	scopeEventMember = "event:member"
)

// RegisterEvents registers the /v1/events endpoints. Creating, listing and
// the step-up exchange work with a global token; everything under /:id
// needs a token bound to that event.
func RegisterEvents(e *echo.Echo, h *handler.EventHandler, gate *auth.Gate, catalog *rbac.Catalog, limit echo.MiddlewareFunc) {
	g := e.Group("/v1/events")

	base := middleware.RequireScopes(gate)
	g.POST("", h.Create, base, limit)
	g.GET("", h.List, base, limit)
	g.POST("/:id/token", h.Token, base, limit)

	need := func(scope string) echo.MiddlewareFunc {
		return middleware.RequireEventScopes(gate, "id", catalog.MustKnow(scope)...)
	}
	g.GET("/:id", h.Get, need(scopeEventMember), limit)
	g.PUT("/:id", h.Update, need(scopeEventAdmin), limit)
	g.DELETE("/:id", h.Delete, need(scopeEventAdmin), limit)

	g.GET("/:id/members", h.Members, need(scopeEventStaff), limit)
	g.PUT("/:id/members", h.AssignRole, need(scopeEventAdmin), limit)

	g.GET("/:id/participants", h.Participants, need(scopeEventMember), limit)
	g.POST("/:id/participants", h.AddParticipant, need(scopeEventStaff), limit)
}
