package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/moazmaksod/LabFlow-sub000/internal/platform/metrics"
)

// Metrics observes request latency by method, route template and status.
func Metrics(m *metrics.Registry) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := responseStatus(c, err)
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.HTTPRequestDuration.
				WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// responseStatus is the status echo will write for err once the middleware
// chain unwinds.
func responseStatus(c echo.Context, err error) int {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code
	case err != nil && !c.Response().Committed:
		return http.StatusInternalServerError
	}
	return c.Response().Status
}
