package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const loggerKey = "logger"

// RequestLogger logs one line per request and stores a request-scoped logger
// carrying the request id in the context. It must run after echo's RequestID
// middleware so the id is already on the response.
func RequestLogger(base zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid := c.Response().Header().Get(echo.HeaderXRequestID)

			l := base.With().Str("request_id", rid).Logger()
			c.Set(loggerKey, l)

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			var ev *zerolog.Event
			switch {
			case status >= 500:
				ev = l.Error().Err(err)
			case status >= 400:
				ev = l.Warn()
			default:
				ev = l.Info()
			}
			ev.Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("route", c.Path()).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Str("ip", c.RealIP()).
				Msg("request")
			return nil
		}
	}
}

func logFrom(c echo.Context) *zerolog.Logger {
	if l, ok := c.Get(loggerKey).(zerolog.Logger); ok {
		return &l
	}
	nop := zerolog.Nop()
	return &nop
}

// Logger returns the request-scoped logger set by RequestLogger, or a no-op
// logger when none is installed.
func Logger(c echo.Context) *zerolog.Logger { return logFrom(c) }
