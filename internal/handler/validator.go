package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/eventapp/internal/auth"
)

// Validator plugs go-playground/validator into echo. Besides the built-in
// tags it knows "password", the account password policy.
type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		return auth.ValidPassword(fl.Field().String())
	})
	return &Validator{v: v}
}

func (cv *Validator) Validate(i interface{}) error { return cv.v.Struct(i) }

// bindValid binds the request into dst and validates it. On failure the
// error response has already been written and ok is false.
func bindValid(c echo.Context, dst interface{}) (ok bool, err error) {
	if err := c.Bind(dst); err != nil {
		return false, c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if err := c.Validate(dst); err != nil {
		return false, c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "validation failed", "fields": fieldErrors(err)})
	}
	return true, nil
}

// fieldErrors flattens validator errors into field -> failed tag.
func fieldErrors(err error) map[string]string {
	out := map[string]string{}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		out["_"] = err.Error()
		return out
	}
	for _, fe := range ves {
		out[strings.ToLower(fe.Field())] = fe.Tag()
	}
	return out
}
