package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/eventapp/internal/auth"
	"github.com/iliyamo/eventapp/internal/middleware"
	"github.com/iliyamo/eventapp/internal/rbac"
	"github.com/iliyamo/eventapp/internal/repository"
	"github.com/iliyamo/eventapp/internal/tenant"
)

// Client-facing messages.
const (
	msgUserExists     = "A user with this email already exists."
	msgUserNotFound   = "No user found with this email."
	msgEventNotFound  = "No event found with this ID."
	msgEventCreate    = "Could not create the event."
	msgEventForbidden = "This user is not authorized to perform this action on this event."
	msgInvalidRole    = "Invalid role."
	msgInvalidCreds   = "invalid credentials"
)

// respondError maps domain errors to HTTP answers. Anything unknown is logged
// and reported as fallback with a 500.
func respondError(c echo.Context, err error, fallback string) error {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": msgInvalidCreds})
	case errors.Is(err, auth.ErrNoEventBinding):
		return c.JSON(http.StatusForbidden, echo.Map{"error": msgEventForbidden})
	case errors.Is(err, repository.ErrUserNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": msgUserNotFound})
	case errors.Is(err, repository.ErrEventNotFound), errors.Is(err, tenant.ErrUnknownTenant):
		return c.JSON(http.StatusNotFound, echo.Map{"error": msgEventNotFound})
	case errors.Is(err, repository.ErrEmailExists):
		return c.JSON(http.StatusConflict, echo.Map{"error": msgUserExists})
	case errors.Is(err, repository.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "already exists"})
	case errors.Is(err, repository.ErrRoleNotAssignable):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "role not assignable: every namespace needs an administrator"})
	case errors.Is(err, rbac.ErrUnknownRole):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": msgInvalidRole})
	}
	middleware.Logger(c).Error().Err(err).Msg(fallback)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": fallback})
}
