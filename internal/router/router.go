// Package router registers the HTTP routes of the API and the middleware
// each of them runs.
package router

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/eventapp/internal/handler"
)

// RegisterRoutes registers routes that do not require authentication:
// the root redirect, the health check and the prometheus endpoint.
func RegisterRoutes(e *echo.Echo, websiteURL string, metrics http.Handler) {
	e.GET("/", handler.Redirect(websiteURL))
	e.GET("/healthz", handler.Health)
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}
}

// RegisterRoles exposes the read-only role catalog. The answer is the same
// for every caller, so it goes through the response cache.
func RegisterRoles(e *echo.Echo, h *handler.RoleHandler, cache echo.MiddlewareFunc) {
	e.GET("/v1/roles", h.List, cache)
}
