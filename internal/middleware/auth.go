package middleware

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/eventapp/internal/auth"
)

const identityKey = "identity"

// IdentityFrom returns the identity stored by RequireScopes or
// RequireEventScopes. ok is false on routes without either middleware.
func IdentityFrom(c echo.Context) (auth.Identity, bool) {
	id, ok := c.Get(identityKey).(auth.Identity)
	return id, ok
}

// RequireScopes returns an Echo middleware that validates the bearer token and
// requires every listed scope plus the gate's base scope. Every failure gets
// the same JSON body; only the status and the WWW-Authenticate challenge
// differ between a bad token (401) and a missing scope (403).
func RequireScopes(gate *auth.Gate, scopes ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := auth.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			id, err := gate.Authorize(raw, scopes)
			if err != nil {
				return deny(c, err, scopes)
			}
			c.Set(identityKey, id)
			return next(c)
		}
	}
}

// RequireEventScopes is RequireScopes for routes under /events/:param. The
// token must have been issued for that event (its event_id claim equals the
// path value); a token for another event is rejected like a missing scope.
func RequireEventScopes(gate *auth.Gate, param string, scopes ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := auth.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			id, err := gate.Authorize(raw, scopes)
			if err != nil {
				return deny(c, err, scopes)
			}
			eventID, perr := strconv.ParseInt(c.Param(param), 10, 64)
			if perr != nil || id.EventID == nil || *id.EventID != eventID {
				return deny(c, &auth.CredentialsError{
					Kind:      auth.InsufficientScope,
					Reason:    "token is not bound to event " + c.Param(param),
					Requested: scopes,
				}, scopes)
			}
			c.Set(identityKey, id)
			return next(c)
		}
	}
}

func deny(c echo.Context, err error, scopes []string) error {
	var ce *auth.CredentialsError
	if !errors.As(err, &ce) {
		ce = &auth.CredentialsError{Kind: auth.InvalidCredentials, Reason: err.Error(), Requested: scopes}
	}
	logFrom(c).Debug().Str("reason", ce.Reason).Int("status", ce.Status()).Msg("request denied")
	c.Response().Header().Set(echo.HeaderWWWAuthenticate, ce.Challenge())
	status := ce.Status()
	if status != http.StatusForbidden {
		status = http.StatusUnauthorized
	}
	return c.JSON(status, echo.Map{"error": auth.PublicMessage})
}
