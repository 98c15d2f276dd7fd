package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/eventapp/internal/rbac"
)

type roleResp struct {
	ID          int64  `json:"id"`
	Namespace   string `json:"namespace"`
	Name        string `json:"name"`
	Scope       string `json:"scope"`
	Parent      string `json:"parent,omitempty"`
	IsDefault   bool   `json:"is_default"`
	IsAdmin     bool   `json:"is_admin"`
	Description string `json:"description,omitempty"`
	Access      string `json:"access,omitempty"`
	// Grants are the scopes a holder of this role ends up with.
	Grants []string `json:"grants"`
}

// RoleHandler serves the read-only role catalog.
type RoleHandler struct {
	Catalog *rbac.Catalog
}

// List returns every role of the catalog with its resolved scopes.
func (h *RoleHandler) List(c echo.Context) error {
	roles := h.Catalog.All()
	out := make([]roleResp, 0, len(roles))
	for _, r := range roles {
		grants, err := h.Catalog.ResolveScopes(r.Name, r.Namespace)
		if err != nil {
			return respondError(c, err, "resolve roles failed")
		}
		out = append(out, roleResp{
			ID:          r.ID,
			Namespace:   string(r.Namespace),
			Name:        r.Name,
			Scope:       string(r.Scope()),
			Parent:      r.Parent,
			IsDefault:   r.IsDefault,
			IsAdmin:     r.IsAdmin,
			Description: r.Description,
			Access:      r.Access,
			Grants:      grants.Sorted(),
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": out})
}
