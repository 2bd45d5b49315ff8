package lab

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/moazmaksod/LabFlow-sub000/internal/platform/auth"
	"github.com/moazmaksod/LabFlow-sub000/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/orders", h.CreateOrder, auth.RequireRole(CreateOrderRoles...))
	api.GET("/orders/:orderId", h.GetOrder, auth.RequireRole(ReadOrderRoles...))
	api.POST("/orders/:orderId/cancel", h.CancelOrder, auth.RequireRole(CancelRoles...))
	api.POST("/orders/:orderId/samples/:index/accession", h.AccessionSample, auth.RequireRole(AccessionRoles...))
	api.POST("/orders/:orderId/samples/:index/reject", h.RejectSample, auth.RequireRole(RejectRoles...))
	api.POST("/orders/:orderId/payments", h.RecordPayment, auth.RequireRole(PaymentRoles...))
	api.GET("/orders/:orderId/balance", h.GetBalance, auth.RequireRole(PaymentRoles...))
	api.POST("/orders/:orderId/eligibility", h.TriggerEligibilityCheck, auth.RequireRole(EligibilityRoles...))
	api.POST("/samples/:accession/results", h.VerifyResults, auth.RequireRole(VerifyRoles...))
	api.GET("/worklist", h.Worklist, auth.RequireRole(WorklistRoles...))
}

// httpError maps the error taxonomy onto HTTP status codes.
func httpError(err error) error {
	var e *Error
	if !errors.As(err, &e) {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	switch e.Kind {
	case KindNotFound:
		return echo.NewHTTPError(http.StatusNotFound, e.Message)
	case KindValidation:
		return echo.NewHTTPError(http.StatusBadRequest, map[string]interface{}{
			"message": e.Message,
			"fields":  e.Fields,
		})
	case KindForbidden:
		return echo.NewHTTPError(http.StatusForbidden, e.Message)
	case KindConflict:
		return echo.NewHTTPError(http.StatusConflict, e.Message)
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
}

func sampleIndex(c echo.Context) (int, error) {
	idx, err := strconv.Atoi(c.Param("index"))
	if err != nil || idx < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "sample index must be a non-negative integer")
	}
	return idx, nil
}

func (h *Handler) CreateOrder(c echo.Context) error {
	var in CreateOrderInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	o, err := h.svc.CreateOrder(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	c.Response().Header().Set("Location", "/api/v1/orders/"+o.OrderID)
	return c.JSON(http.StatusCreated, o)
}

func (h *Handler) GetOrder(c echo.Context) error {
	o, err := h.svc.GetOrder(c.Request().Context(), c.Param("orderId"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) CancelOrder(c echo.Context) error {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	o, err := h.svc.CancelOrder(c.Request().Context(), c.Param("orderId"), body.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) AccessionSample(c echo.Context) error {
	idx, err := sampleIndex(c)
	if err != nil {
		return err
	}
	res, err := h.svc.AccessionSample(c.Request().Context(), c.Param("orderId"), idx)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) RejectSample(c echo.Context) error {
	idx, err := sampleIndex(c)
	if err != nil {
		return err
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	o, err := h.svc.RejectSample(c.Request().Context(), c.Param("orderId"), idx, strings.TrimSpace(body.Reason))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) VerifyResults(c echo.Context) error {
	var body struct {
		Results []ResultEntry `json:"results"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.VerifyResults(c.Request().Context(), VerifyResultsInput{
		AccessionNumber: c.Param("accession"),
		Results:         body.Results,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) RecordPayment(c echo.Context) error {
	var in RecordPaymentInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	o, err := h.svc.RecordPayment(c.Request().Context(), c.Param("orderId"), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, o)
}

func (h *Handler) GetBalance(c echo.Context) error {
	b, err := h.svc.GetBalance(c.Request().Context(), c.Param("orderId"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) TriggerEligibilityCheck(c echo.Context) error {
	req, err := h.svc.TriggerEligibilityCheck(c.Request().Context(), c.Param("orderId"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, req)
}

// Worklist serves GET /worklist?status=InLab&status=Testing&limit=&offset=.
// Comma-separated status lists are accepted too.
func (h *Handler) Worklist(c echo.Context) error {
	var statuses []SampleStatus
	for _, v := range c.QueryParams()["status"] {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				statuses = append(statuses, SampleStatus(s))
			}
		}
	}
	pg := pagination.FromContext(c)
	page, err := h.svc.Worklist(c.Request().Context(), WorklistQuery{
		Statuses: statuses,
		Limit:    pg.Limit,
		Offset:   pg.Offset,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(page.Rows, page.Total, page.Limit, page.Offset))
}
