package catalog

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/moazmaksod/LabFlow-sub000/internal/platform/auth"
	"github.com/moazmaksod/LabFlow-sub000/pkg/pagination"
)

type Handler struct {
	repo Repository
}

func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/catalog", auth.RequireRole(
		auth.RoleReceptionist, auth.RoleTechnician, auth.RoleManager, auth.RolePhysician))
	g.GET("/tests", h.ListTests)
	g.GET("/tests/:code", h.GetTest)
}

func (h *Handler) ListTests(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.repo.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetTest(c echo.Context) error {
	t, err := h.repo.GetByCode(c.Request().Context(), c.Param("code"))
	if errors.Is(err, ErrTestNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "catalog test not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, t)
}
