package auditevent

import (
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
	g := api.Group("/audit-events", auth.RequireRole(auth.RoleManager))
	g.GET("", h.ListAuditEvents)
}

// ListAuditEvents serves GET /audit-events?entity=order/ORD-...
func (h *Handler) ListAuditEvents(c echo.Context) error {
	ref := c.QueryParam("entity")
	if ref == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "entity query parameter is required")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.repo.ListByEntity(c.Request().Context(), ref, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
